package main

import (
	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/logging"

	"github.com/serhei/bunsen/internal/repair"
	"github.com/serhei/bunsen/internal/repo"
)

type repairRun struct {
	subcommands.CommandRunBase
	rootFlag
}

func cmdRepair() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "repair",
		ShortDesc: "heal incomplete ingests left by a crash",
		LongDesc:  "Scans every testlogs commit and restores any missing FullTestrunFile or IndexFile entry.",
		CommandRun: func() subcommands.CommandRun {
			c := &repairRun{}
			c.registerRootFlag(&c.Flags)
			return c
		},
	}
}

func (c *repairRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)

	r, err := repo.Open(ctx, c.rootFlag.resolve())
	if err != nil {
		logging.Errorf(ctx, "opening repository: %s", err)
		return exitCode(err)
	}

	report, err := repair.Run(ctx, r)
	if err != nil {
		logging.Errorf(ctx, "repair failed: %s", err)
		return exitCode(err)
	}

	logging.Infof(ctx, "repair: scanned %d commits, restored %d full testrun files, %d index entries",
		report.ScannedCommits, report.RestoredFullTestruns, report.RestoredIndexEntries)
	return 0
}
