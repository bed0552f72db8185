// Package ingest implements the ingest engine: given a bundle of files
// and a parsed testrun, it computes bunsen_commit_id, dispatches the
// four dedup cases, and drives the store/index writes under the
// repository's write lock.
package ingest

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar"

	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/filemode"

	"go.chromium.org/luci/common/logging"

	"github.com/serhei/bunsen/internal/bunsenerr"
	"github.com/serhei/bunsen/internal/index"
	"github.com/serhei/bunsen/internal/model"
	"github.com/serhei/bunsen/internal/repo"
	"github.com/serhei/bunsen/internal/store"
)

// EngineVersion is stamped into bunsen_version on every ingest.
const EngineVersion = "bunsen/2.0"

// sourceTimestampTimeout bounds the optional source-repo lookup.
const sourceTimestampTimeout = 5 * time.Second

// SourceTimestampLookup resolves a source-project commit to its author
// date, used only for timestamp fallback. This is an external
// "source-project Git checkout" collaborator out of this engine's scope;
// the engine only defines the narrow interface it needs from it.
type SourceTimestampLookup interface {
	AuthorDate(ctx context.Context, sourceRepo, commitID string) (time.Time, error)
}

// Bundle is the input to Ingest.
type Bundle struct {
	Project    string
	Files      map[string][]byte
	Testrun    model.Testrun
	ExtraLabel string // optional override supplied by the caller (the CLI's --extra flag)
}

// Case identifies which of the four dedup cases fired.
type Case int

const (
	CaseNewLogsNewRun Case = iota + 1
	CaseDupLogsNewRun
	CaseUpdatedRun
	CaseNoOp
)

// Result is returned by Ingest.
type Result struct {
	BunsenCommitID string
	Case           Case
}

// Engine drives ingest for one repository.
type Engine struct {
	Repo           *repo.Repository
	SourceLookup   SourceTimestampLookup // may be nil
	now            func() time.Time
}

// NewEngine constructs an Engine. SourceLookup may be nil if no source
// repo is configured.
func NewEngine(r *repo.Repository, lookup SourceTimestampLookup) *Engine {
	return &Engine{Repo: r, SourceLookup: lookup, now: time.Now}
}

// Ingest stores b's logs and testrun under the repository's write lock,
// deduplicating against whatever the branches already contain.
func (e *Engine) Ingest(ctx context.Context, b Bundle) (Result, error) {
	var result Result
	err := e.Repo.WithWriteLock(ctx, false, func() error {
		r, err := e.ingestLocked(ctx, b)
		result = r
		return err
	})
	return result, err
}

func (e *Engine) ingestLocked(ctx context.Context, b Bundle) (Result, error) {
	if !repo.ValidProjectName(b.Project) {
		return Result{}, bunsenerr.New(bunsenerr.BadConfig, "invalid project name "+b.Project)
	}

	filtered, err := e.filterManifest(b.Project, b.Files)
	if err != nil {
		return Result{}, err
	}

	t := b.Testrun
	t.BunsenVersion = EngineVersion
	if t.Timestamp == "" {
		t.Timestamp = e.resolveTimestamp(ctx, b.Project, t).Format(time.RFC3339)
	}
	t.YearMonth = model.YearMonth(t.Timestamp)

	extraLabel := b.ExtraLabel
	if extraLabel == "" {
		extraLabel = e.deriveExtraLabel(t)
	}

	t.BunsenTestlogsBranch = repo.TestlogsBranch(b.Project, t.YearMonth)
	t.BunsenTestrunsBranch = repo.TestrunsBranch(b.Project, t.YearMonth, extraLabel)

	if err := t.Validate(); err != nil {
		return Result{}, err
	}

	st := e.Repo.Store

	entries, err := buildTreeEntries(st, filtered)
	if err != nil {
		return Result{}, err
	}
	treeID, err := st.PutTree(entries)
	if err != nil {
		return Result{}, err
	}

	tip, err := st.ResolveRef(t.BunsenTestlogsBranch)
	if err != nil {
		return Result{}, err
	}

	existingID, found, err := st.FindCommitByTree(tip, treeID)
	if err != nil {
		return Result{}, err
	}

	if !found {
		// Case 1: genuinely new logs content.
		message, err := commitMessage(t.Summary)
		if err != nil {
			return Result{}, err
		}
		var parents []plumbing.Hash
		if tip != plumbing.ZeroHash {
			parents = []plumbing.Hash{tip}
		}
		commitID, err := st.MakeCommit(treeID, parents, model.NormalizedTimestamp(t.Timestamp), message)
		if err != nil {
			return Result{}, err
		}
		if err := st.UpdateRef(t.BunsenTestlogsBranch, tip, commitID); err != nil {
			return Result{}, err
		}
		t.BunsenCommitID = commitID.String()

		if err := e.writeViews(ctx, b.Project, t); err != nil {
			return Result{}, err
		}
		return Result{BunsenCommitID: t.BunsenCommitID, Case: CaseNewLogsNewRun}, nil
	}

	t.BunsenCommitID = existingID.String()

	existingRun, err := index.ReadFullTestrun(st, t.BunsenTestrunsBranch, b.Project, t.BunsenCommitID)
	if err != nil && !bunsenerr.Is(err, bunsenerr.NotFound) {
		return Result{}, err
	}

	switch {
	case existingRun == nil:
		// Case 2: logs already stored, but this run hasn't been recorded.
		if err := e.writeViews(ctx, b.Project, t); err != nil {
			return Result{}, err
		}
		return Result{BunsenCommitID: t.BunsenCommitID, Case: CaseDupLogsNewRun}, nil

	case summariesEqual(existingRun.Summary, t.Summary) && testcasesEqual(existingRun.Testcases, t.Testcases):
		// Case 4: fully idempotent replay.
		logging.Infof(ctx, "ingest %s: no-op, bundle already recorded as %s", b.Project, t.BunsenCommitID)
		return Result{BunsenCommitID: t.BunsenCommitID, Case: CaseNoOp}, nil

	default:
		// Case 3: logs unchanged, but the recorded testrun JSON differs.
		if err := e.writeViews(ctx, b.Project, t); err != nil {
			return Result{}, err
		}
		return Result{BunsenCommitID: t.BunsenCommitID, Case: CaseUpdatedRun}, nil
	}
}

// writeViews orders the FullTestrunFile write before the IndexFile write,
// so a crash between the two always leaves the IndexFile the one to
// reconstruct, never the other way around.
func (e *Engine) writeViews(ctx context.Context, project string, t model.Testrun) error {
	st := e.Repo.Store
	if err := index.WriteFullTestrun(ctx, st, t.BunsenTestrunsBranch, project, t); err != nil {
		return err
	}
	if err := index.AppendOrReplaceSummary(ctx, st, project, t.YearMonth, t.Summary); err != nil {
		return err
	}
	return nil
}

func (e *Engine) filterManifest(project string, files map[string][]byte) (map[string][]byte, error) {
	patterns := e.Repo.Config.BunsenUpload.Manifest
	if len(patterns) == 0 {
		return nil, bunsenerr.New(bunsenerr.BadConfig, "no [bunsen-upload] manifest configured")
	}
	out := map[string][]byte{}
	for name, data := range files {
		matched := false
		for _, pat := range patterns {
			if ok, _ := doublestar.Match(pat, name); ok {
				matched = true
				break
			}
		}
		if matched {
			out[name] = data
		}
	}
	if len(out) == 0 {
		return nil, bunsenerr.New(bunsenerr.BadConfig, "no submitted files matched the manifest")
	}
	return out, nil
}

func (e *Engine) resolveTimestamp(ctx context.Context, project string, t model.Testrun) time.Time {
	if t.SourceCommitID != "" && e.SourceLookup != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, sourceTimestampTimeout)
		defer cancel()
		sourceRepo := e.Repo.Config.Projects[project].SourceRepo
		when, err := e.SourceLookup.AuthorDate(lookupCtx, sourceRepo, t.SourceCommitID)
		if err == nil {
			return when
		}
		logging.Warningf(ctx, "source-repo timestamp lookup failed, falling back to wall clock: %s", err)
	}
	return e.now().UTC()
}

// deriveExtraLabel joins the configured extra_label_fields'
// configuration-field values with "-".
func (e *Engine) deriveExtraLabel(t model.Testrun) string {
	fields := e.Repo.Config.BunsenUpload.ExtraLabelFields
	if len(fields) == 0 {
		return ""
	}
	var parts []string
	for _, f := range fields {
		if v, ok := t.Extra[f]; ok {
			if s, ok := v.(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, "-")
}

func buildTreeEntries(st *store.Store, files map[string][]byte) ([]store.Entry, error) {
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)

	entries := make([]store.Entry, 0, len(names))
	for _, n := range names {
		id, err := st.PutBlob(files[n])
		if err != nil {
			return nil, err
		}
		entries = append(entries, store.Entry{Name: n, Mode: filemode.Regular, ID: id})
	}
	return entries, nil
}

func commitMessage(s model.Summary) (string, error) {
	canonical, err := model.CanonicalMarshal(summaryToMap(s))
	if err != nil {
		return "", err
	}
	return string(canonical) + "\n", nil
}

func summaryToMap(s model.Summary) map[string]interface{} {
	raw, _ := s.MarshalJSON()
	var m map[string]interface{}
	_ = json.Unmarshal(raw, &m)
	return m
}

func summariesEqual(a, b model.Summary) bool {
	am, _ := a.MarshalJSON()
	bm, _ := b.MarshalJSON()
	return string(am) == string(bm)
}

func testcasesEqual(a, b []model.Testcase) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
