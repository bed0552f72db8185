package main

import (
	"fmt"
	"io"
	"os"

	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/logging"

	"github.com/serhei/bunsen/internal/query"
	"github.com/serhei/bunsen/internal/repo"
)

type getLogsRun struct {
	subcommands.CommandRunBase
	rootFlag
	project string
}

func cmdGetLogs() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "get-logs <bunsen_commit_id> [<path>]",
		ShortDesc: "stream a stored log file, or list a bundle's files",
		LongDesc:  "Streams <path> from the testlogs commit named by <bunsen_commit_id>, or lists the bundle's tree if <path> is omitted.",
		CommandRun: func() subcommands.CommandRun {
			c := &getLogsRun{}
			c.registerRootFlag(&c.Flags)
			c.Flags.StringVar(&c.project, "project", "", "Project the testrun was ingested under; used to read its full record when <path> is omitted")
			return c
		},
	}
}

func (c *getLogsRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(os.Stderr, "usage: bunsen get-logs <bunsen_commit_id> [<path>]")
		return 2
	}

	r, err := repo.Open(ctx, c.rootFlag.resolve())
	if err != nil {
		logging.Errorf(ctx, "opening repository: %s", err)
		return exitCode(err)
	}
	q := query.New(r)

	if len(args) == 1 {
		t, err := q.GetTestrun(c.project, args[0])
		if err != nil {
			logging.Errorf(ctx, "resolving %s: %s", args[0], err)
			return exitCode(err)
		}
		entries, err := r.Store.ReadTree(hashOf(t.BunsenCommitID))
		if err != nil {
			logging.Errorf(ctx, "reading tree: %s", err)
			return exitCode(err)
		}
		for _, e := range entries {
			fmt.Println(e.Name)
		}
		return 0
	}

	reader, err := q.OpenLog(args[0], args[1])
	if err != nil {
		logging.Errorf(ctx, "opening log: %s", err)
		return exitCode(err)
	}
	if _, err := io.Copy(os.Stdout, reader); err != nil {
		logging.Errorf(ctx, "streaming log: %s", err)
		return 1
	}
	return 0
}
