// Package query implements the read-only query surface: project/month/
// testrun enumeration, bunsen_commit_id prefix resolution, log streaming,
// and cursor resolution. Readers never take the write lock; it's enough
// that a single call re-reads consistently if the branch tip it's working
// from advances mid-call, which the helpers below achieve by resolving
// the ref once per logical read.
package query

import (
	"bytes"
	"io"
	"sort"
	"strings"

	"gopkg.in/src-d/go-git.v4/plumbing"

	"github.com/serhei/bunsen/internal/bunsenerr"
	"github.com/serhei/bunsen/internal/cursor"
	"github.com/serhei/bunsen/internal/index"
	"github.com/serhei/bunsen/internal/model"
	"github.com/serhei/bunsen/internal/repo"
)

const minPrefixLen = 4

// Surface answers read queries against a repository.
type Surface struct {
	Repo *repo.Repository
}

// New wraps r as a query Surface.
func New(r *repo.Repository) *Surface {
	return &Surface{Repo: r}
}

// ListProjects derives the project set from index-file names on the index
// branch tip, unioned with testlogs branch-name prefixes.
func (q *Surface) ListProjects() ([]string, error) {
	seen := map[string]bool{}

	tip, err := q.Repo.Store.ResolveRef(repo.IndexBranch)
	if err != nil {
		return nil, err
	}
	if tip != plumbing.ZeroHash {
		entries, err := q.Repo.Store.ReadTree(tip)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if proj, ok := projectFromIndexFileName(e.Name); ok {
				seen[proj] = true
			}
		}
	}

	branches, err := q.Repo.Store.ListBranches()
	if err != nil {
		return nil, err
	}
	for _, b := range branches {
		if i := strings.Index(b, "/testlogs-"); i > 0 {
			seen[b[:i]] = true
		}
	}

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func projectFromIndexFileName(name string) (string, bool) {
	if !strings.HasSuffix(name, ".json") {
		return "", false
	}
	base := strings.TrimSuffix(name, ".json")
	// Strip the trailing "-YYYY-MM" month component.
	i := len(base) - len("-YYYY-MM")
	if i <= 0 || base[i] != '-' {
		return "", false
	}
	return base[:i], true
}

// ListMonths returns the YYYY-MM values with an index file for project, in
// descending order.
func (q *Surface) ListMonths(project string) ([]string, error) {
	tip, err := q.Repo.Store.ResolveRef(repo.IndexBranch)
	if err != nil {
		return nil, err
	}
	if tip == plumbing.ZeroHash {
		return nil, nil
	}
	entries, err := q.Repo.Store.ReadTree(tip)
	if err != nil {
		return nil, err
	}
	prefix := project + "-"
	var months []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name, prefix) && strings.HasSuffix(e.Name, ".json") {
			months = append(months, strings.TrimSuffix(strings.TrimPrefix(e.Name, prefix), ".json"))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(months)))
	return months, nil
}

// ListTestruns returns the summaries for project, optionally restricted to
// one month. Obsolete-marked entries are still returned;
// filtering them out is an analysis-layer concern.
func (q *Surface) ListTestruns(project, yearMonth string) ([]model.Summary, error) {
	var months []string
	if yearMonth != "" {
		months = []string{yearMonth}
	} else {
		var err error
		months, err = q.ListMonths(project)
		if err != nil {
			return nil, err
		}
	}

	var out []model.Summary
	for _, ym := range months {
		summaries, err := index.ReadSummaries(q.Repo.Store, project, ym)
		if err != nil {
			return nil, err
		}
		out = append(out, summaries...)
	}
	return out, nil
}

// resolvePrefix finds every summary across every project/month whose
// BunsenCommitID starts with prefix.
func (q *Surface) resolvePrefix(prefix string) ([]model.Summary, error) {
	if len(prefix) < minPrefixLen {
		return nil, bunsenerr.New(bunsenerr.ValidationFailed, "bunsen_commit_id prefix must be at least 4 hex characters")
	}
	projects, err := q.ListProjects()
	if err != nil {
		return nil, err
	}

	var matches []model.Summary
	for _, p := range projects {
		months, err := q.ListMonths(p)
		if err != nil {
			return nil, err
		}
		for _, ym := range months {
			summaries, err := index.ReadSummaries(q.Repo.Store, p, ym)
			if err != nil {
				return nil, err
			}
			for _, s := range summaries {
				if strings.HasPrefix(s.BunsenCommitID, prefix) {
					matches = append(matches, s)
				}
			}
		}
	}
	return matches, nil
}

// GetTestrun resolves idOrPrefix (a full id or a unique prefix) and returns
// the FullTestrunFile recorded for it.
func (q *Surface) GetTestrun(project, idOrPrefix string) (*model.Testrun, error) {
	matches, err := q.resolvePrefix(idOrPrefix)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, bunsenerr.New(bunsenerr.NotFound, "no testrun matches "+idOrPrefix)
	case 1:
		s := matches[0]
		return index.ReadFullTestrun(q.Repo.Store, s.BunsenTestrunsBranch, project, s.BunsenCommitID)
	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.BunsenCommitID
		}
		return nil, bunsenerr.New(bunsenerr.AmbiguousId, "prefix "+idOrPrefix+" matches multiple ids: "+strings.Join(ids, ", "))
	}
}

// OpenLog streams the bytes of path from the testlogs commit named by
// bunsenCommitID.
func (q *Surface) OpenLog(bunsenCommitID, path string) (io.Reader, error) {
	id := plumbing.NewHash(bunsenCommitID)
	if !q.Repo.Store.CommitExists(id) {
		return nil, bunsenerr.New(bunsenerr.NotFound, "no testlogs commit "+bunsenCommitID)
	}
	data, err := q.Repo.Store.ReadPath(id, path)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

// ResolveCursor resolves c against the store.
func (q *Surface) ResolveCursor(c cursor.Cursor) (cursor.Resolution, error) {
	if c.CommitID == "" {
		return cursor.Resolution{}, bunsenerr.New(bunsenerr.ValidationFailed, "cursor has no commit id to resolve against")
	}
	id := plumbing.NewHash(c.CommitID)
	blob, err := q.Repo.Store.ReadPath(id, c.Path)
	if err != nil {
		return cursor.Resolution{}, err
	}
	return cursor.Resolve(c, blob), nil
}
