package store

import (
	"testing"
	"time"

	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/filemode"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/serhei/bunsen/internal/bunsenerr"
)

func TestBlobTreeCommitRoundTrip(t *testing.T) {
	Convey("Given a fresh bare store", t, func() {
		s, err := Init(t.TempDir())
		So(err, ShouldBeNil)

		Convey("a blob written and a tree built from it round-trip through ReadTree/ReadPath", func() {
			blobID, err := s.PutBlob([]byte("hello log\n"))
			So(err, ShouldBeNil)

			treeID, err := s.PutTree([]Entry{{Name: "a.log", Mode: filemode.Regular, ID: blobID}})
			So(err, ShouldBeNil)

			commitID, err := s.MakeCommit(treeID, nil, time.Unix(0, 0).UTC(), "first\n")
			So(err, ShouldBeNil)

			entries, err := s.ReadTree(commitID)
			So(err, ShouldBeNil)
			So(len(entries), ShouldEqual, 1)
			So(entries[0].Name, ShouldEqual, "a.log")

			data, err := s.ReadPath(commitID, "a.log")
			So(err, ShouldBeNil)
			So(string(data), ShouldEqual, "hello log\n")
		})
	})
}

func TestMakeCommitIsDeterministic(t *testing.T) {
	Convey("Given identical tree, parents, identity, and timestamp", t, func() {
		s, err := Init(t.TempDir())
		So(err, ShouldBeNil)

		blobID, err := s.PutBlob([]byte("same content"))
		So(err, ShouldBeNil)
		treeID, err := s.PutTree([]Entry{{Name: "x", Mode: filemode.Regular, ID: blobID}})
		So(err, ShouldBeNil)

		when := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

		Convey("MakeCommit returns the same commit id across calls", func() {
			idA, err := s.MakeCommit(treeID, nil, when, "msg\n")
			So(err, ShouldBeNil)
			idB, err := s.MakeCommit(treeID, nil, when, "msg\n")
			So(err, ShouldBeNil)
			So(idA, ShouldEqual, idB)
		})

		Convey("a different message yields a different commit id", func() {
			idA, err := s.MakeCommit(treeID, nil, when, "msg one\n")
			So(err, ShouldBeNil)
			idB, err := s.MakeCommit(treeID, nil, when, "msg two\n")
			So(err, ShouldBeNil)
			So(idA, ShouldNotEqual, idB)
		})
	})
}

func TestUpdateRefCompareAndSet(t *testing.T) {
	Convey("Given a store with one commit on a branch", t, func() {
		s, err := Init(t.TempDir())
		So(err, ShouldBeNil)

		blobID, err := s.PutBlob([]byte("v1"))
		So(err, ShouldBeNil)
		treeID, err := s.PutTree([]Entry{{Name: "f", Mode: filemode.Regular, ID: blobID}})
		So(err, ShouldBeNil)
		commitID, err := s.MakeCommit(treeID, nil, time.Unix(0, 0).UTC(), "first\n")
		So(err, ShouldBeNil)

		So(s.UpdateRef("main", plumbing.ZeroHash, commitID), ShouldBeNil)

		Convey("updating against the correct old id succeeds", func() {
			blobID2, _ := s.PutBlob([]byte("v2"))
			treeID2, _ := s.PutTree([]Entry{{Name: "f", Mode: filemode.Regular, ID: blobID2}})
			commitID2, _ := s.MakeCommit(treeID2, []plumbing.Hash{commitID}, time.Unix(1, 0).UTC(), "second\n")

			err := s.UpdateRef("main", commitID, commitID2)
			So(err, ShouldBeNil)

			tip, err := s.ResolveRef("main")
			So(err, ShouldBeNil)
			So(tip, ShouldEqual, commitID2)
		})

		Convey("updating against a stale old id fails with RefConflict", func() {
			blobID2, _ := s.PutBlob([]byte("v3"))
			treeID2, _ := s.PutTree([]Entry{{Name: "f", Mode: filemode.Regular, ID: blobID2}})
			commitID2, _ := s.MakeCommit(treeID2, []plumbing.Hash{commitID}, time.Unix(2, 0).UTC(), "third\n")

			err := s.UpdateRef("main", plumbing.ZeroHash, commitID2)
			So(err, ShouldNotBeNil)
			So(bunsenerr.Is(err, bunsenerr.RefConflict), ShouldBeTrue)
		})
	})
}

func TestFindCommitByTreeWalksChain(t *testing.T) {
	Convey("Given a three-commit chain where the middle commit's tree matches", t, func() {
		s, err := Init(t.TempDir())
		So(err, ShouldBeNil)

		blobA, _ := s.PutBlob([]byte("a"))
		blobB, _ := s.PutBlob([]byte("b"))
		blobC, _ := s.PutBlob([]byte("c"))
		treeA, _ := s.PutTree([]Entry{{Name: "f", Mode: filemode.Regular, ID: blobA}})
		treeB, _ := s.PutTree([]Entry{{Name: "f", Mode: filemode.Regular, ID: blobB}})
		treeC, _ := s.PutTree([]Entry{{Name: "f", Mode: filemode.Regular, ID: blobC}})

		c1, _ := s.MakeCommit(treeA, nil, time.Unix(0, 0).UTC(), "c1\n")
		c2, _ := s.MakeCommit(treeB, []plumbing.Hash{c1}, time.Unix(1, 0).UTC(), "c2\n")
		c3, _ := s.MakeCommit(treeC, []plumbing.Hash{c2}, time.Unix(2, 0).UTC(), "c3\n")

		Convey("FindCommitByTree locates the commit whose tree matches treeB", func() {
			found, ok, err := s.FindCommitByTree(c3, treeB)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(found, ShouldEqual, c2)
		})

		Convey("FindCommitByTree reports no match for a tree never committed", func() {
			blobD, _ := s.PutBlob([]byte("d"))
			treeD, _ := s.PutTree([]Entry{{Name: "f", Mode: filemode.Regular, ID: blobD}})
			_, ok, err := s.FindCommitByTree(c3, treeD)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})
	})
}

func TestWalkChain(t *testing.T) {
	Convey("Given a linear three-commit chain", t, func() {
		s, err := Init(t.TempDir())
		So(err, ShouldBeNil)

		blobID, _ := s.PutBlob([]byte("x"))
		treeID, _ := s.PutTree([]Entry{{Name: "f", Mode: filemode.Regular, ID: blobID}})

		c1, _ := s.MakeCommit(treeID, nil, time.Unix(0, 0).UTC(), "c1\n")
		c2, _ := s.MakeCommit(treeID, []plumbing.Hash{c1}, time.Unix(1, 0).UTC(), "c2\n")
		c3, _ := s.MakeCommit(treeID, []plumbing.Hash{c2}, time.Unix(2, 0).UTC(), "c3\n")

		Convey("WalkChain returns all three commits, tip first", func() {
			chain, err := s.WalkChain(c3)
			So(err, ShouldBeNil)
			So(chain, ShouldResemble, []plumbing.Hash{c3, c2, c1})
		})
	})
}

func TestOpenExistingStore(t *testing.T) {
	Convey("Given a store initialized and then reopened from disk", t, func() {
		dir := t.TempDir()
		s1, err := Init(dir)
		So(err, ShouldBeNil)

		blobID, _ := s1.PutBlob([]byte("persisted"))
		treeID, _ := s1.PutTree([]Entry{{Name: "f", Mode: filemode.Regular, ID: blobID}})
		commitID, _ := s1.MakeCommit(treeID, nil, time.Unix(0, 0).UTC(), "m\n")
		So(s1.UpdateRef("main", plumbing.ZeroHash, commitID), ShouldBeNil)

		s2, err := Open(dir)
		So(err, ShouldBeNil)

		Convey("the reopened store sees the same ref and content", func() {
			tip, err := s2.ResolveRef("main")
			So(err, ShouldBeNil)
			So(tip, ShouldEqual, commitID)
			So(s2.CommitExists(commitID), ShouldBeTrue)
		})
	})
}
