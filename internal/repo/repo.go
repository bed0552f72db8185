// Package repo implements Bunsen's on-disk repository lifecycle: layout,
// config, the single-writer lock, and the persisted layout-version guard.
package repo

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/filemode"

	"github.com/serhei/bunsen/internal/bunsenerr"
	"github.com/serhei/bunsen/internal/model"
	"github.com/serhei/bunsen/internal/store"
)

var zeroHash = plumbing.ZeroHash

const regularFileMode = filemode.Regular

// CurrentFormatVersion is the layout version this engine writes and the
// highest version it will mutate.
const CurrentFormatVersion = 1

// IndexBranch is the single branch holding per-project-month IndexFiles.
const IndexBranch = "index"

const formatFilePath = "_bunsen_format"

var projectNameRE = regexp.MustCompile(`^[A-Za-z0-9_.+-]+$`)

// ValidProjectName reports whether name satisfies the project naming rule.
func ValidProjectName(name string) bool {
	return name != "" && projectNameRE.MatchString(name)
}

// Repository is an opened bunsen repository: its bare object store plus
// decoded configuration.
type Repository struct {
	Dir    string
	Config *Config
	Store  *store.Store
}

// Init creates a fresh repository at dir: a bare object store, an empty
// config, a cache/ placeholder, and the initial commit on `index`, whose
// tree holds only _bunsen_format.
func Init(ctx context.Context, dir string) (*Repository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, bunsenerr.Wrap(err, bunsenerr.StoreIO, "creating repo directory")
	}
	if err := os.MkdirAll(filepath.Join(dir, "cache"), 0o755); err != nil {
		return nil, bunsenerr.Wrap(err, bunsenerr.StoreIO, "creating cache directory")
	}

	cfgPath := filepath.Join(dir, "config")
	cfg := &Config{Projects: map[string]ProjectSection{}}
	if err := cfg.Save(cfgPath); err != nil {
		return nil, err
	}

	st, err := store.Init(filepath.Join(dir, "bunsen.git"))
	if err != nil {
		return nil, err
	}

	formatBlob, err := model.CanonicalMarshal(map[string]interface{}{"version": CurrentFormatVersion})
	if err != nil {
		return nil, bunsenerr.Wrap(err, bunsenerr.ValidationFailed, "encoding _bunsen_format")
	}
	blobID, err := st.PutBlob(formatBlob)
	if err != nil {
		return nil, err
	}
	treeID, err := st.PutTree([]store.Entry{{Name: formatFilePath, Mode: regularFileMode, ID: blobID}})
	if err != nil {
		return nil, err
	}
	commitID, err := st.MakeCommit(treeID, nil, time.Unix(0, 0).UTC(), "initialize bunsen repository\n")
	if err != nil {
		return nil, err
	}
	if err := st.UpdateRef(IndexBranch, zeroHash, commitID); err != nil {
		return nil, err
	}

	return &Repository{Dir: dir, Config: cfg, Store: st}, nil
}

// Open opens an existing repository, validating its layout version.
func Open(ctx context.Context, dir string) (*Repository, error) {
	cfg, err := LoadConfig(filepath.Join(dir, "config"))
	if err != nil {
		return nil, err
	}
	st, err := store.Open(filepath.Join(dir, "bunsen.git"))
	if err != nil {
		return nil, err
	}
	r := &Repository{Dir: dir, Config: cfg, Store: st}
	if err := r.checkFormatVersion(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repository) checkFormatVersion() error {
	tip, err := r.Store.ResolveRef(IndexBranch)
	if err != nil {
		return err
	}
	if tip == zeroHash {
		return nil
	}
	data, err := r.Store.ReadPath(tip, formatFilePath)
	if err != nil {
		if bunsenerr.Is(err, bunsenerr.NotFound) {
			return nil // pre-versioning repository; treat as version 1.
		}
		return err
	}
	var parsed struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return bunsenerr.Wrap(err, bunsenerr.ValidationFailed, "parsing _bunsen_format")
	}
	if parsed.Version > CurrentFormatVersion {
		return bunsenerr.New(bunsenerr.BadConfig, "repository layout version is newer than this engine supports")
	}
	return nil
}

// WithWriteLock serializes a mutating call (ingest, repair, migration)
// across processes.
func (r *Repository) WithWriteLock(ctx context.Context, nonBlocking bool, fn func() error) error {
	return WithWriteLock(ctx, r.Dir, 0, nonBlocking, fn)
}

// TestlogsBranch and the helpers below give the well-known branch and
// file names of the repository layout.
func TestlogsBranch(project, yearMonth string) string {
	return project + "/testlogs-" + yearMonth
}

func TestrunsBranch(project, yearMonth, extraLabel string) string {
	if extraLabel == "" {
		return project + "/testruns-" + yearMonth
	}
	return project + "/testruns-" + yearMonth + "-" + extraLabel
}

func IndexFileName(project, yearMonth string) string {
	return project + "-" + yearMonth + ".json"
}

func TestrunFileName(project, bunsenCommitID string) string {
	return project + "-" + bunsenCommitID + ".json"
}
