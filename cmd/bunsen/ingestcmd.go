package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/logging"

	"github.com/serhei/bunsen/internal/ingest"
	"github.com/serhei/bunsen/internal/plugin"
	"github.com/serhei/bunsen/internal/repo"
)

type ingestRun struct {
	subcommands.CommandRunBase
	rootFlag
	project string
	extra   string
}

func cmdIngest() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "ingest --project=<p> [--extra=<label>] <tar>",
		ShortDesc: "ingest a bundle of test logs",
		LongDesc:  "Parses and stores a tar bundle of test logs, printing the resulting bunsen_commit_id.",
		CommandRun: func() subcommands.CommandRun {
			c := &ingestRun{}
			c.registerRootFlag(&c.Flags)
			c.Flags.StringVar(&c.project, "project", "", "Project name")
			c.Flags.StringVar(&c.extra, "extra", "", "Override the testruns-branch extra label")
			return c
		},
	}
}

func (c *ingestRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)
	if c.project == "" || len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: bunsen ingest --project=<p> [--extra=<label>] <tar>")
		return 2
	}

	f, err := os.Open(args[0])
	if err != nil {
		logging.Errorf(ctx, "opening bundle: %s", err)
		return 2
	}
	defer f.Close()

	files, err := ingest.LoadTar(f, strings.HasSuffix(args[0], ".gz") || strings.HasSuffix(args[0], ".tgz"))
	if err != nil {
		logging.Errorf(ctx, "reading bundle: %s", err)
		return 2
	}

	r, err := repo.Open(ctx, c.rootFlag.resolve())
	if err != nil {
		logging.Errorf(ctx, "opening repository: %s", err)
		return exitCode(err)
	}

	registry := plugin.NewRegistry()
	registry.Register("raw", plugin.Raw)
	scriptRoots, _ := filepath.Glob(filepath.Join(r.Dir, "scripts*"))
	for _, root := range scriptRoots {
		if err := registry.Scan(root); err != nil {
			logging.Errorf(ctx, "scanning %s: %s", root, err)
			return exitCode(err)
		}
	}
	moduleName := r.Config.BunsenUpload.CommitModule
	if moduleName == "" {
		moduleName = "raw"
	}
	parser, err := registry.Resolve(moduleName)
	if err != nil {
		logging.Errorf(ctx, "resolving commit_module %s: %s", moduleName, err)
		return exitCode(err)
	}

	testrun, parsedFiles, err := parser.Parse(files)
	if err != nil {
		logging.Errorf(ctx, "parse rejected: %s", err)
		return exitCode(err)
	}

	engine := ingest.NewEngine(r, nil)
	result, err := engine.Ingest(ctx, ingest.Bundle{
		Project:    c.project,
		Files:      parsedFiles,
		Testrun:    testrun,
		ExtraLabel: c.extra,
	})
	if err != nil {
		logging.Errorf(ctx, "ingest failed: %s", err)
		return exitCode(err)
	}

	fmt.Println(result.BunsenCommitID)
	return 0
}
