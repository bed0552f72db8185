package main

import (
	"fmt"
	"os"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/logging"

	"github.com/serhei/bunsen/internal/model"
	"github.com/serhei/bunsen/internal/query"
	"github.com/serhei/bunsen/internal/repo"
)

type listRunsRun struct {
	subcommands.CommandRunBase
	rootFlag
	project string
	month   string
}

func cmdListRuns() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "list-runs [--project=<p>] [--month=<YYYY-MM>]",
		ShortDesc: "list testrun summaries",
		LongDesc:  "Lists testrun summaries for one project, or every project if --project is omitted.",
		CommandRun: func() subcommands.CommandRun {
			c := &listRunsRun{}
			c.registerRootFlag(&c.Flags)
			c.Flags.StringVar(&c.project, "project", "", "Restrict to one project")
			c.Flags.StringVar(&c.month, "month", "", "Restrict to one YYYY-MM")
			return c
		},
	}
}

func (c *listRunsRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)

	r, err := repo.Open(ctx, c.rootFlag.resolve())
	if err != nil {
		logging.Errorf(ctx, "opening repository: %s", err)
		return exitCode(err)
	}
	q := query.New(r)

	projects := []string{c.project}
	if c.project == "" {
		projects, err = q.ListProjects()
		if err != nil {
			logging.Errorf(ctx, "listing projects: %s", err)
			return exitCode(err)
		}
	}

	for _, p := range projects {
		summaries, err := q.ListTestruns(p, c.month)
		if err != nil {
			logging.Errorf(ctx, "listing testruns for %s: %s", p, err)
			return exitCode(err)
		}
		for _, s := range summaries {
			printSummaryLine(p, s)
		}
	}
	return 0
}

func printSummaryLine(project string, s model.Summary) {
	when := s.Timestamp
	if when != "" {
		if t, err := time.Parse(time.RFC3339, when); err == nil {
			when = humanize.Time(t)
		}
	}
	obsolete := ""
	if s.Obsolete {
		obsolete = " [obsolete]"
	}
	fmt.Fprintf(os.Stdout, "%s\t%s\t%s\t%s%s\n", project, s.BunsenCommitID, s.YearMonth, when, obsolete)
}
