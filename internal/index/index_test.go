package index

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/serhei/bunsen/internal/bunsenerr"
	"github.com/serhei/bunsen/internal/model"
	"github.com/serhei/bunsen/internal/repo"
	"github.com/serhei/bunsen/internal/store"
)

func TestAppendOrReplaceSummary(t *testing.T) {
	Convey("Given an empty index branch", t, func() {
		st, err := store.Init(t.TempDir())
		So(err, ShouldBeNil)
		ctx := context.Background()

		s1 := model.Summary{BunsenCommitID: "aaa111", YearMonth: "2024-01"}

		Convey("appending a first summary creates the index file with one entry", func() {
			err := AppendOrReplaceSummary(ctx, st, "myproj", "2024-01", s1)
			So(err, ShouldBeNil)

			summaries, err := ReadSummaries(st, "myproj", "2024-01")
			So(err, ShouldBeNil)
			So(len(summaries), ShouldEqual, 1)
			So(summaries[0].BunsenCommitID, ShouldEqual, "aaa111")
		})

		Convey("appending a second distinct summary preserves the first", func() {
			So(AppendOrReplaceSummary(ctx, st, "myproj", "2024-01", s1), ShouldBeNil)
			s2 := model.Summary{BunsenCommitID: "bbb222", YearMonth: "2024-01"}
			So(AppendOrReplaceSummary(ctx, st, "myproj", "2024-01", s2), ShouldBeNil)

			summaries, err := ReadSummaries(st, "myproj", "2024-01")
			So(err, ShouldBeNil)
			So(len(summaries), ShouldEqual, 2)
		})

		Convey("re-appending the same BunsenCommitID replaces the entry in place", func() {
			So(AppendOrReplaceSummary(ctx, st, "myproj", "2024-01", s1), ShouldBeNil)
			updated := model.Summary{BunsenCommitID: "aaa111", YearMonth: "2024-01", Obsolete: true}
			So(AppendOrReplaceSummary(ctx, st, "myproj", "2024-01", updated), ShouldBeNil)

			summaries, err := ReadSummaries(st, "myproj", "2024-01")
			So(err, ShouldBeNil)
			So(len(summaries), ShouldEqual, 1)
			So(summaries[0].Obsolete, ShouldBeTrue)
		})
	})
}

func TestReadSummariesMissingFile(t *testing.T) {
	Convey("Given a repository with no index entries for a project", t, func() {
		st, err := store.Init(t.TempDir())
		So(err, ShouldBeNil)

		summaries, err := ReadSummaries(st, "nosuchproj", "2024-01")

		Convey("ReadSummaries returns nil, nil rather than an error", func() {
			So(err, ShouldBeNil)
			So(summaries, ShouldBeNil)
		})
	})
}

func TestFullTestrunWriteAndRead(t *testing.T) {
	Convey("Given a fresh testruns branch", t, func() {
		st, err := store.Init(t.TempDir())
		So(err, ShouldBeNil)
		ctx := context.Background()
		branch := "myproj/testruns-2024-01"

		tr := model.Testrun{
			Summary: model.Summary{
				BunsenCommitID: "ccc333",
				BunsenVersion:  "bunsen/2.0",
			},
			Testcases: []model.Testcase{{Name: "foo.exp", Outcome: model.Pass}},
		}

		Convey("WriteFullTestrun then ReadFullTestrun round-trips the record", func() {
			So(WriteFullTestrun(ctx, st, branch, "myproj", tr), ShouldBeNil)

			got, err := ReadFullTestrun(st, branch, "myproj", "ccc333")
			So(err, ShouldBeNil)
			So(got.BunsenCommitID, ShouldEqual, "ccc333")
			So(len(got.Testcases), ShouldEqual, 1)
			So(got.Testcases[0].Name, ShouldEqual, "foo.exp")
		})

		Convey("a later write for a different id does not disturb the first", func() {
			So(WriteFullTestrun(ctx, st, branch, "myproj", tr), ShouldBeNil)

			tr2 := tr
			tr2.BunsenCommitID = "ddd444"
			So(WriteFullTestrun(ctx, st, branch, "myproj", tr2), ShouldBeNil)

			got1, err := ReadFullTestrun(st, branch, "myproj", "ccc333")
			So(err, ShouldBeNil)
			So(got1.BunsenCommitID, ShouldEqual, "ccc333")

			got2, err := ReadFullTestrun(st, branch, "myproj", "ddd444")
			So(err, ShouldBeNil)
			So(got2.BunsenCommitID, ShouldEqual, "ddd444")
		})
	})
}

func TestReadFullTestrunNoBranch(t *testing.T) {
	Convey("Given a store with no testruns branch at all", t, func() {
		st, err := store.Init(t.TempDir())
		So(err, ShouldBeNil)

		_, err = ReadFullTestrun(st, "myproj/testruns-2024-01", "myproj", "none")

		Convey("ReadFullTestrun reports NotFound", func() {
			So(err, ShouldNotBeNil)
			So(bunsenerr.Is(err, bunsenerr.NotFound), ShouldBeTrue)
		})
	})
}

func TestIndexFileNameUsesRepoLayout(t *testing.T) {
	Convey("IndexFileName matches the repo package's naming convention", t, func() {
		So(repo.IndexFileName("myproj", "2024-01"), ShouldEqual, "myproj-2024-01.json")
	})
}
