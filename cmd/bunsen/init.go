package main

import (
	"fmt"
	"os"

	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/logging"

	"github.com/serhei/bunsen/internal/repo"
)

type initRun struct {
	subcommands.CommandRunBase
}

func cmdInit() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "init <dir>",
		ShortDesc: "create a new bunsen repository",
		LongDesc:  "Creates a bare object store, empty config, and cache/ placeholder at <dir>.",
		CommandRun: func() subcommands.CommandRun {
			return &initRun{}
		},
	}
}

func (c *initRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: bunsen init <dir>")
		return 2
	}
	if _, err := repo.Init(ctx, args[0]); err != nil {
		logging.Errorf(ctx, "init failed: %s", err)
		return exitCode(err)
	}
	return 0
}
