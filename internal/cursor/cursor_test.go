package cursor

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestParseFullForm(t *testing.T) {
	Convey("Given a full-form cursor string", t, func() {
		c, err := Parse("proj/testlogs-2024-01:abc123:gdb.log:10-20")

		Convey("it parses into the expected fields", func() {
			So(err, ShouldBeNil)
			So(c.Branch, ShouldEqual, "proj/testlogs-2024-01")
			So(c.CommitID, ShouldEqual, "abc123")
			So(c.Path, ShouldEqual, "gdb.log")
			So(c.Start, ShouldEqual, 10)
			So(c.End, ShouldEqual, 20)
		})

		Convey("and it round-trips through String", func() {
			So(c.String(), ShouldEqual, "proj/testlogs-2024-01:abc123:gdb.log:10-20")
		})
	})
}

func TestParseAbbreviatedForm(t *testing.T) {
	Convey("Given an abbreviated cursor string", t, func() {
		c, err := Parse("gdb.log:10-20")

		Convey("Branch and CommitID are left empty", func() {
			So(err, ShouldBeNil)
			So(c.Branch, ShouldEqual, "")
			So(c.CommitID, ShouldEqual, "")
			So(c.Path, ShouldEqual, "gdb.log")
			So(c.Start, ShouldEqual, 10)
			So(c.End, ShouldEqual, 20)
		})

		Convey("and String renders the abbreviated form back", func() {
			So(c.String(), ShouldEqual, "gdb.log:10-20")
		})
	})
}

func TestParseMalformed(t *testing.T) {
	cases := []string{
		"",
		"gdb.log",
		"gdb.log:not-a-range",
		"gdb.log:20-10",
		"gdb.log:0-5",
		"a:b:c",
	}
	Convey("Given malformed cursor strings", t, func() {
		for _, s := range cases {
			_, err := Parse(s)
			Convey("Parse rejects "+s, func() {
				So(err, ShouldNotBeNil)
			})
		}
	})
}

func TestResolveWithinRange(t *testing.T) {
	Convey("Given a 5-line blob and a cursor naming lines 2-4", t, func() {
		blob := []byte("one\ntwo\nthree\nfour\nfive\n")
		c := Cursor{Path: "f", Start: 2, End: 4}

		res := Resolve(c, blob)

		Convey("Resolve returns exactly those lines, untruncated", func() {
			So(res.Truncated, ShouldBeFalse)
			So(res.Text, ShouldEqual, "two\nthree\nfour")
		})
	})
}

func TestResolveClampsOutOfRangeEnd(t *testing.T) {
	Convey("Given a cursor whose End exceeds the blob's line count", t, func() {
		blob := []byte("one\ntwo\n")
		c := Cursor{Path: "f", Start: 1, End: 100}

		res := Resolve(c, blob)

		Convey("Resolve clamps to the file's actual extent and sets Truncated", func() {
			So(res.Truncated, ShouldBeTrue)
			So(res.Text, ShouldEqual, "one\ntwo")
		})
	})
}

func TestResolveClampsOutOfRangeStart(t *testing.T) {
	Convey("Given a cursor whose Start is before line 1", t, func() {
		blob := []byte("one\ntwo\nthree\n")
		c := Cursor{Path: "f", Start: -3, End: 2}

		res := Resolve(c, blob)

		Convey("Resolve clamps Start to 1 and sets Truncated", func() {
			So(res.Truncated, ShouldBeTrue)
			So(res.Text, ShouldEqual, "one\ntwo")
		})
	})
}

func TestResolveEntirelyOutOfRange(t *testing.T) {
	Convey("Given a cursor whose Start is past the end of the blob", t, func() {
		blob := []byte("one\ntwo\n")
		c := Cursor{Path: "f", Start: 50, End: 60}

		res := Resolve(c, blob)

		Convey("Resolve returns empty text, marked Truncated", func() {
			So(res.Truncated, ShouldBeTrue)
			So(res.Text, ShouldEqual, "")
		})
	})
}
