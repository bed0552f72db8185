package main

import (
	"fmt"
	"os"

	"github.com/maruel/subcommands"
	"github.com/kylelemons/godebug/pretty"

	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/logging"

	"github.com/serhei/bunsen/internal/cursor"
	"github.com/serhei/bunsen/internal/query"
	"github.com/serhei/bunsen/internal/repo"
)

type showCursorRun struct {
	subcommands.CommandRunBase
	rootFlag
	verbose bool
}

func cmdShowCursor() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "show-cursor <cursor>",
		ShortDesc: "resolve and print a cursor's referenced text",
		LongDesc:  "Parses a cursor in its full (branch:commit:path:start-end) form and prints the line range it resolves to.",
		CommandRun: func() subcommands.CommandRun {
			c := &showCursorRun{}
			c.registerRootFlag(&c.Flags)
			c.Flags.BoolVar(&c.verbose, "v", false, "Also print the parsed cursor fields")
			return c
		},
	}
}

func (c *showCursorRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: bunsen show-cursor <cursor>")
		return 2
	}

	cur, err := cursor.Parse(args[0])
	if err != nil {
		logging.Errorf(ctx, "parsing cursor: %s", err)
		return exitCode(err)
	}
	if c.verbose {
		fmt.Fprintln(os.Stderr, pretty.Sprint(cur))
	}

	r, err := repo.Open(ctx, c.rootFlag.resolve())
	if err != nil {
		logging.Errorf(ctx, "opening repository: %s", err)
		return exitCode(err)
	}

	res, err := query.New(r).ResolveCursor(cur)
	if err != nil {
		logging.Errorf(ctx, "resolving cursor: %s", err)
		return exitCode(err)
	}
	if res.Truncated {
		logging.Warningf(ctx, "cursor range was clamped to the file's actual extent")
	}
	fmt.Println(res.Text)
	return 0
}
