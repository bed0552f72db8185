// Command bunsen is the engine-level CLI surface: init, ingest,
// list-runs, get-logs, show-cursor, repair.
package main

import (
	"context"
	"os"

	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/logging/gologger"
)

// GetApplication returns the bunsen CLI application, wired the way the
// teacher's cros/cmd/* binaries wire a *cli.Application around
// maruel/subcommands.
func GetApplication() *cli.Application {
	return &cli.Application{
		Name: "bunsen",

		Context: func(ctx context.Context) context.Context {
			return gologger.StdConfig.Use(ctx)
		},

		Commands: []*subcommands.Command{
			cmdInit(),
			cmdIngest(),
			cmdListRuns(),
			cmdGetLogs(),
			cmdShowCursor(),
			cmdRepair(),
		},
	}
}

func main() {
	app := GetApplication()
	os.Exit(subcommands.Run(app, nil))
}
