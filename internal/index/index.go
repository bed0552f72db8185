// Package index implements the IndexFile and FullTestrunFile maintenance
// protocols: read-current, merge-in-memory, write-new-blob,
// rebuild-tree-from-siblings, commit-on-old-tip, CAS-advance,
// retry-on-conflict.
package index

import (
	"context"
	"encoding/json"
	"sort"

	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/filemode"

	"go.chromium.org/luci/common/logging"

	"github.com/serhei/bunsen/internal/bunsenerr"
	"github.com/serhei/bunsen/internal/model"
	"github.com/serhei/bunsen/internal/repo"
	"github.com/serhei/bunsen/internal/store"
)

// MaxRetries bounds the CAS retry loop.
const MaxRetries = 20

// Maintainer drives updates to a single branch whose tree is a flat set of
// named JSON files, retrying on ref conflicts until its change lands.
type Maintainer struct {
	Store  *store.Store
	Branch string
}

// UpdateFile reads the current blob at name (nil if absent), passes it to
// mutate, and atomically commits the result on top of Branch's current
// tip, preserving every other file already on the branch. It retries
// (read, mutate, commit, CAS) until the update lands or MaxRetries is
// exceeded; every mutate is commutative by id, so retries converge.
func (m *Maintainer) UpdateFile(ctx context.Context, name string, message string, mutate func(current []byte) ([]byte, error)) error {
	for attempt := 0; attempt < MaxRetries; attempt++ {
		tip, err := m.Store.ResolveRef(m.Branch)
		if err != nil {
			return err
		}

		var entries []store.Entry
		if tip != plumbing.ZeroHash {
			entries, err = m.Store.ReadTree(tip)
			if err != nil {
				return err
			}
		}

		var current []byte
		if tip != plumbing.ZeroHash {
			current, err = m.Store.ReadPath(tip, name)
			if err != nil && !bunsenerr.Is(err, bunsenerr.NotFound) {
				return err
			}
		}

		next, err := mutate(current)
		if err != nil {
			return err
		}

		blobID, err := m.Store.PutBlob(next)
		if err != nil {
			return err
		}

		newEntries := replaceEntry(entries, name, blobID)
		treeID, err := m.Store.PutTree(newEntries)
		if err != nil {
			return err
		}

		var parents []plumbing.Hash
		if tip != plumbing.ZeroHash {
			parents = []plumbing.Hash{tip}
		}
		commitID, err := m.Store.MakeCommit(treeID, parents, model.NormalizedTimestamp(""), message)
		if err != nil {
			return err
		}

		if err := m.Store.UpdateRef(m.Branch, tip, commitID); err != nil {
			if bunsenerr.Is(err, bunsenerr.RefConflict) {
				logging.Warningf(ctx, "ref %s changed concurrently, retrying update of %s (attempt %d)", m.Branch, name, attempt+1)
				continue
			}
			return err
		}
		return nil
	}
	return bunsenerr.New(bunsenerr.RefConflict, "exhausted retries updating "+name+" on "+m.Branch)
}

func replaceEntry(entries []store.Entry, name string, blobID plumbing.Hash) []store.Entry {
	out := make([]store.Entry, 0, len(entries)+1)
	found := false
	for _, e := range entries {
		if e.Name == name {
			out = append(out, store.Entry{Name: name, Mode: filemode.Regular, ID: blobID})
			found = true
			continue
		}
		out = append(out, e)
	}
	if !found {
		out = append(out, store.Entry{Name: name, Mode: filemode.Regular, ID: blobID})
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	}
	return out
}

// AppendOrReplaceSummary updates <project>-YYYY-MM.json on the index
// branch: it appends s if no entry with s.BunsenCommitID exists, else
// replaces that entry in place: append-only unless an update replaces an
// existing entry.
func AppendOrReplaceSummary(ctx context.Context, st *store.Store, project, yearMonth string, s model.Summary) error {
	m := &Maintainer{Store: st, Branch: repo.IndexBranch}
	fileName := repo.IndexFileName(project, yearMonth)
	message := "update " + fileName + " for " + s.BunsenCommitID

	return m.UpdateFile(ctx, fileName, message, func(current []byte) ([]byte, error) {
		var summaries []model.Summary
		if len(current) > 0 {
			if err := json.Unmarshal(current, &summaries); err != nil {
				return nil, bunsenerr.Wrap(err, bunsenerr.ValidationFailed, "parsing "+fileName)
			}
		}

		replaced := false
		for i, existing := range summaries {
			if existing.BunsenCommitID == s.BunsenCommitID {
				summaries[i] = s
				replaced = true
				break
			}
		}
		if !replaced {
			summaries = append(summaries, s)
		}

		return marshalSummaryArray(summaries)
	})
}

func marshalSummaryArray(summaries []model.Summary) ([]byte, error) {
	items := make([]json.RawMessage, len(summaries))
	for i, s := range summaries {
		raw, err := json.Marshal(s)
		if err != nil {
			return nil, bunsenerr.Wrap(err, bunsenerr.ValidationFailed, "encoding summary")
		}
		items[i] = raw
	}
	return json.Marshal(items)
}

// ReadSummaries reads and decodes <project>-YYYY-MM.json from the index
// branch's current tip. Returns nil, nil if the file does not exist.
func ReadSummaries(st *store.Store, project, yearMonth string) ([]model.Summary, error) {
	tip, err := st.ResolveRef(repo.IndexBranch)
	if err != nil {
		return nil, err
	}
	if tip == plumbing.ZeroHash {
		return nil, nil
	}
	data, err := st.ReadPath(tip, repo.IndexFileName(project, yearMonth))
	if err != nil {
		if bunsenerr.Is(err, bunsenerr.NotFound) {
			return nil, nil
		}
		return nil, err
	}
	var summaries []model.Summary
	if err := json.Unmarshal(data, &summaries); err != nil {
		return nil, bunsenerr.Wrap(err, bunsenerr.ValidationFailed, "parsing index file")
	}
	return summaries, nil
}

// WriteFullTestrun replaces <project>-<bunsen_commit_id>.json on branch:
// the FullTestrunFile protocol keeps one file per id, latest write wins.
func WriteFullTestrun(ctx context.Context, st *store.Store, branch, project string, t model.Testrun) error {
	m := &Maintainer{Store: st, Branch: branch}
	fileName := repo.TestrunFileName(project, t.BunsenCommitID)
	message := "update " + fileName

	return m.UpdateFile(ctx, fileName, message, func(current []byte) ([]byte, error) {
		return json.Marshal(t)
	})
}

// ReadFullTestrun reads <project>-<bunsen_commit_id>.json from branch's
// current tip.
func ReadFullTestrun(st *store.Store, branch, project, bunsenCommitID string) (*model.Testrun, error) {
	tip, err := st.ResolveRef(branch)
	if err != nil {
		return nil, err
	}
	if tip == plumbing.ZeroHash {
		return nil, bunsenerr.New(bunsenerr.NotFound, "no testruns branch "+branch)
	}
	data, err := st.ReadPath(tip, repo.TestrunFileName(project, bunsenCommitID))
	if err != nil {
		return nil, err
	}
	var t model.Testrun
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, bunsenerr.Wrap(err, bunsenerr.ValidationFailed, "parsing full testrun file")
	}
	return &t, nil
}
