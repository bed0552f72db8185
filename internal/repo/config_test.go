package repo

import (
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestConfigSaveLoadRoundTrip(t *testing.T) {
	Convey("Given a config with every section populated", t, func() {
		path := filepath.Join(t.TempDir(), "config")
		cfg := &Config{
			Core: CoreSection{Project: "gdb"},
			Projects: map[string]ProjectSection{
				"gdb": {SourceRepo: "git://example.org/gdb", GitwebURL: "https://example.org/gitweb"},
			},
			BunsenUpload: UploadSection{
				Manifest:         []string{"*.sum", "*.log"},
				CommitModule:     "gdb",
				ExtraLabelFields: []string{"arch", "board"},
			},
		}
		So(cfg.Save(path), ShouldBeNil)

		loaded, err := LoadConfig(path)

		Convey("LoadConfig reproduces every field", func() {
			So(err, ShouldBeNil)
			So(loaded.Core.Project, ShouldEqual, "gdb")
			So(loaded.Projects["gdb"].SourceRepo, ShouldEqual, "git://example.org/gdb")
			So(loaded.Projects["gdb"].GitwebURL, ShouldEqual, "https://example.org/gitweb")
			So(loaded.BunsenUpload.Manifest, ShouldResemble, []string{"*.sum", "*.log"})
			So(loaded.BunsenUpload.CommitModule, ShouldEqual, "gdb")
			So(loaded.BunsenUpload.ExtraLabelFields, ShouldResemble, []string{"arch", "board"})
		})
	})
}

func TestLoadConfigMissingFile(t *testing.T) {
	Convey("Loading a config that does not exist fails", t, func() {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "config"))
		So(err, ShouldNotBeNil)
	})
}

func TestSplitAndJoinCSV(t *testing.T) {
	Convey("splitCSV and joinCSV are inverses for non-empty fields", t, func() {
		So(splitCSV(""), ShouldBeNil)
		So(splitCSV("a,b,c"), ShouldResemble, []string{"a", "b", "c"})
		So(joinCSV([]string{"a", "b", "c"}), ShouldEqual, "a,b,c")
		So(joinCSV(nil), ShouldEqual, "")
	})
}
