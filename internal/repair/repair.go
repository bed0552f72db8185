// Package repair implements the crash-recovery maintenance call: it
// scans every testlogs commit and restores any FullTestrunFile or
// IndexFile entry left missing by a process that crashed between the
// three ordered writes of an ingest.
package repair

import (
	"context"
	"encoding/json"
	"strings"

	"gopkg.in/src-d/go-git.v4/plumbing"

	"go.chromium.org/luci/common/logging"

	"github.com/serhei/bunsen/internal/bunsenerr"
	"github.com/serhei/bunsen/internal/index"
	"github.com/serhei/bunsen/internal/model"
	"github.com/serhei/bunsen/internal/repo"
)

// Report summarizes what Run fixed.
type Report struct {
	ScannedCommits        int
	RestoredFullTestruns  int
	RestoredIndexEntries  int
}

// Run scans every `<project>/testlogs-YYYY-MM` branch and heals any
// incomplete ingest, under the repository's write lock.
func Run(ctx context.Context, r *repo.Repository) (Report, error) {
	var report Report
	err := r.WithWriteLock(ctx, false, func() error {
		rep, err := runLocked(ctx, r)
		report = rep
		return err
	})
	return report, err
}

func runLocked(ctx context.Context, r *repo.Repository) (Report, error) {
	var report Report

	branches, err := r.Store.ListBranches()
	if err != nil {
		return report, err
	}

	for _, branch := range branches {
		project, _, ok := parseTestlogsBranch(branch)
		if !ok {
			continue
		}

		tip, err := r.Store.ResolveRef(branch)
		if err != nil {
			return report, err
		}

		chain, err := r.Store.WalkChain(tip)
		if err != nil {
			return report, err
		}

		for _, commitID := range chain {
			report.ScannedCommits++

			summary, err := readSummaryFromCommit(r, commitID)
			if err != nil {
				logging.Warningf(ctx, "repair: skipping unreadable commit %s on %s: %s", commitID, branch, err)
				continue
			}

			existing, err := index.ReadFullTestrun(r.Store, summary.BunsenTestrunsBranch, project, summary.BunsenCommitID)
			if err != nil && !bunsenerr.Is(err, bunsenerr.NotFound) {
				return report, err
			}
			if existing == nil {
				t := model.Testrun{Summary: summary}
				if err := index.WriteFullTestrun(ctx, r.Store, summary.BunsenTestrunsBranch, project, t); err != nil {
					return report, err
				}
				report.RestoredFullTestruns++
				logging.Infof(ctx, "repair: restored full testrun file for %s", summary.BunsenCommitID)
			}

			present, err := summaryPresent(r, project, summary.YearMonth, summary.BunsenCommitID)
			if err != nil {
				return report, err
			}
			if !present {
				if err := index.AppendOrReplaceSummary(ctx, r.Store, project, summary.YearMonth, summary); err != nil {
					return report, err
				}
				report.RestoredIndexEntries++
				logging.Infof(ctx, "repair: restored index entry for %s", summary.BunsenCommitID)
			}
		}
	}

	return report, nil
}

func summaryPresent(r *repo.Repository, project, yearMonth, bunsenCommitID string) (bool, error) {
	summaries, err := index.ReadSummaries(r.Store, project, yearMonth)
	if err != nil {
		return false, err
	}
	for _, s := range summaries {
		if s.BunsenCommitID == bunsenCommitID {
			return true, nil
		}
	}
	return false, nil
}

func parseTestlogsBranch(branch string) (project, yearMonth string, ok bool) {
	const marker = "/testlogs-"
	i := strings.Index(branch, marker)
	if i < 0 {
		return "", "", false
	}
	return branch[:i], branch[i+len(marker):], true
}

func readSummaryFromCommit(r *repo.Repository, commitID plumbing.Hash) (model.Summary, error) {
	msg, err := r.Store.CommitMessage(commitID)
	if err != nil {
		return model.Summary{}, err
	}
	var s model.Summary
	if err := json.Unmarshal([]byte(msg), &s); err != nil {
		return model.Summary{}, bunsenerr.Wrap(err, bunsenerr.ValidationFailed, "parsing commit message as summary")
	}
	// The message is written before the commit id exists, so it carries an
	// empty bunsen_commit_id; the id is the commit's own.
	s.BunsenCommitID = commitID.String()
	return s, nil
}
