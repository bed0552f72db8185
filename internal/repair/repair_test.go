package repair

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"gopkg.in/src-d/go-git.v4/plumbing"

	"github.com/serhei/bunsen/internal/index"
	"github.com/serhei/bunsen/internal/ingest"
	"github.com/serhei/bunsen/internal/model"
	"github.com/serhei/bunsen/internal/repo"
)

func seedIngestedRepo(t *testing.T) (*repo.Repository, ingest.Result) {
	t.Helper()
	r, err := repo.Init(context.Background(), t.TempDir())
	So(err, ShouldBeNil)
	r.Config.BunsenUpload.Manifest = []string{"*"}

	e := ingest.NewEngine(r, nil)
	result, err := e.Ingest(context.Background(), ingest.Bundle{
		Project: "myproj",
		Files:   map[string][]byte{"gdb.log": []byte("log body")},
		Testrun: model.Testrun{
			Summary:   model.Summary{Timestamp: "2024-03-05T10:00:00Z"},
			Testcases: []model.Testcase{{Name: "gdb.exp", Outcome: model.Pass}},
		},
	})
	So(err, ShouldBeNil)
	return r, result
}

func TestRunIsANoOpOnAFullyConsistentRepo(t *testing.T) {
	Convey("Given a repository that was ingested into normally", t, func() {
		r, result := seedIngestedRepo(t)

		report, err := Run(context.Background(), r)

		Convey("repair scans the one commit and restores nothing", func() {
			So(err, ShouldBeNil)
			So(report.ScannedCommits, ShouldEqual, 1)
			So(report.RestoredFullTestruns, ShouldEqual, 0)
			So(report.RestoredIndexEntries, ShouldEqual, 0)
		})

		_ = result
	})
}

func TestRunReconstructsAMissingIndexEntry(t *testing.T) {
	Convey("Given a repository whose index branch lost its summary entry", t, func() {
		r, result := seedIngestedRepo(t)

		branch := "myproj/testlogs-2024-03"
		tip, err := r.Store.ResolveRef(branch)
		So(err, ShouldBeNil)
		So(tip, ShouldNotEqual, plumbing.ZeroHash)

		// Simulate a crash between the testlogs commit and the IndexFile
		// write by resetting the index branch back to its initial,
		// summary-less state.
		initialIndexTip, err := r.Store.ResolveRef(repo.IndexBranch)
		So(err, ShouldBeNil)
		chain, err := r.Store.WalkChain(initialIndexTip)
		So(err, ShouldBeNil)
		root := chain[len(chain)-1]
		So(r.Store.UpdateRef(repo.IndexBranch, initialIndexTip, root), ShouldBeNil)

		summaries, err := index.ReadSummaries(r.Store, "myproj", "2024-03")
		So(err, ShouldBeNil)
		So(len(summaries), ShouldEqual, 0)

		report, err := Run(context.Background(), r)

		Convey("repair restores exactly one index entry, matching the original commit id", func() {
			So(err, ShouldBeNil)
			So(report.RestoredIndexEntries, ShouldEqual, 1)

			restored, err := index.ReadSummaries(r.Store, "myproj", "2024-03")
			So(err, ShouldBeNil)
			So(len(restored), ShouldEqual, 1)
			So(restored[0].BunsenCommitID, ShouldEqual, result.BunsenCommitID)
		})
	})
}
