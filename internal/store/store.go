// Package store adapts Bunsen's content-addressed revision store onto a
// bare gopkg.in/src-d/go-git.v4 repository. It is the only package that
// talks to the object store directly; everything above it deals in
// blob/tree/commit ids and branch names.
package store

import (
	"io"
	"time"

	git "gopkg.in/src-d/go-git.v4"
	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/filemode"
	"gopkg.in/src-d/go-git.v4/plumbing/object"
	"gopkg.in/src-d/go-git.v4/plumbing/storer"

	"github.com/serhei/bunsen/internal/bunsenerr"
)

// Identity is the fixed author/committer bunsen stamps onto every
// testlogs commit: deterministic id derivation requires a fixed,
// non-wall-clock identity.
var Identity = object.Signature{
	Name:  "bunsen",
	Email: "bunsen@local",
}

// Entry is one named item of a tree to be built by PutTree: either a blob
// (regular file) or a nested tree.
type Entry struct {
	Name string
	Mode filemode.FileMode
	ID   plumbing.Hash
}

// Store wraps a bare go-git repository as the content-addressed backing
// store for all three branch families (testlogs, testruns, index).
type Store struct {
	repo *git.Repository
}

// Init creates a new bare repository at dir.
func Init(dir string) (*Store, error) {
	repo, err := git.PlainInit(dir, true)
	if err != nil {
		return nil, bunsenerr.Wrap(err, bunsenerr.StoreIO, "initializing bare store at "+dir)
	}
	return &Store{repo: repo}, nil
}

// Open opens an existing bare repository at dir.
func Open(dir string) (*Store, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return nil, bunsenerr.Wrap(err, bunsenerr.StoreIO, "opening bare store at "+dir)
	}
	return &Store{repo: repo}, nil
}

// PutBlob writes content-addressed blob bytes and returns its id.
func (s *Store) PutBlob(data []byte) (plumbing.Hash, error) {
	obj := s.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, bunsenerr.Wrap(err, bunsenerr.StoreIO, "opening blob writer")
	}
	if _, err := w.Write(data); err != nil {
		return plumbing.ZeroHash, bunsenerr.Wrap(err, bunsenerr.StoreIO, "writing blob")
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, bunsenerr.Wrap(err, bunsenerr.StoreIO, "closing blob writer")
	}
	id, err := s.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, bunsenerr.Wrap(err, bunsenerr.StoreIO, "storing blob")
	}
	return id, nil
}

// PutTree builds a tree object from entries (already sorted by caller) and
// returns its id.
func (s *Store) PutTree(entries []Entry) (plumbing.Hash, error) {
	tree := object.Tree{}
	for _, e := range entries {
		tree.Entries = append(tree.Entries, object.TreeEntry{
			Name: e.Name,
			Mode: e.Mode,
			Hash: e.ID,
		})
	}
	obj := s.repo.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, bunsenerr.Wrap(err, bunsenerr.StoreIO, "encoding tree")
	}
	id, err := s.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, bunsenerr.Wrap(err, bunsenerr.StoreIO, "storing tree")
	}
	return id, nil
}

// MakeCommit creates a commit object deterministically from its inputs:
// given identical tree, parents, identity and timestamp, the returned id
// is identical across calls, which is what lets ingest dedup on
// bunsen_commit_id.
func (s *Store) MakeCommit(tree plumbing.Hash, parents []plumbing.Hash, when time.Time, message string) (plumbing.Hash, error) {
	sig := Identity
	sig.When = when
	commit := object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      message,
		TreeHash:     tree,
		ParentHashes: parents,
	}
	obj := s.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return plumbing.ZeroHash, bunsenerr.Wrap(err, bunsenerr.StoreIO, "encoding commit")
	}
	id, err := s.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, bunsenerr.Wrap(err, bunsenerr.StoreIO, "storing commit")
	}
	return id, nil
}

// ResolveRef returns the commit id the branch points at, or plumbing.ZeroHash
// if the branch does not exist.
func (s *Store) ResolveRef(branch string) (plumbing.Hash, error) {
	ref, err := s.repo.Storer.Reference(plumbing.NewBranchReferenceName(branch))
	if err == plumbing.ErrReferenceNotFound {
		return plumbing.ZeroHash, nil
	}
	if err != nil {
		return plumbing.ZeroHash, bunsenerr.Wrap(err, bunsenerr.StoreIO, "resolving ref "+branch)
	}
	return ref.Hash(), nil
}

// UpdateRef performs the compare-and-set fast-forward required by every
// mutation path here: it only succeeds if the branch still points at
// oldID (plumbing.ZeroHash meaning "branch must not yet exist").
func (s *Store) UpdateRef(branch string, oldID, newID plumbing.Hash) error {
	name := plumbing.NewBranchReferenceName(branch)
	newRef := plumbing.NewHashReference(name, newID)

	var oldRef *plumbing.Reference
	if oldID != plumbing.ZeroHash {
		oldRef = plumbing.NewHashReference(name, oldID)
	} else {
		// CheckAndSetReference does no check for a nil old ref, so the
		// "must not yet exist" case is checked here.
		_, err := s.repo.Storer.Reference(name)
		if err == nil {
			return bunsenerr.New(bunsenerr.RefConflict, "ref "+branch+" changed concurrently")
		}
		if err != plumbing.ErrReferenceNotFound {
			return bunsenerr.Wrap(err, bunsenerr.StoreIO, "resolving ref "+branch)
		}
	}

	err := s.repo.Storer.CheckAndSetReference(newRef, oldRef)
	if err == storer.ErrReferenceHasChanged {
		return bunsenerr.New(bunsenerr.RefConflict, "ref "+branch+" changed concurrently")
	}
	if err != nil {
		return bunsenerr.Wrap(err, bunsenerr.StoreIO, "updating ref "+branch)
	}
	return nil
}

// ReadPath returns the bytes of path as it exists in commitID's tree.
func (s *Store) ReadPath(commitID plumbing.Hash, path string) ([]byte, error) {
	commit, err := s.repo.CommitObject(commitID)
	if err != nil {
		return nil, bunsenerr.Wrap(err, bunsenerr.StoreIO, "loading commit "+commitID.String())
	}
	f, err := commit.File(path)
	if err != nil {
		return nil, bunsenerr.New(bunsenerr.NotFound, "no such path "+path+" in "+commitID.String())
	}
	r, err := f.Reader()
	if err != nil {
		return nil, bunsenerr.Wrap(err, bunsenerr.StoreIO, "opening blob reader")
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, bunsenerr.Wrap(err, bunsenerr.StoreIO, "reading blob")
	}
	return data, nil
}

// ReadTree lists the top-level entries of commitID's tree.
func (s *Store) ReadTree(commitID plumbing.Hash) ([]Entry, error) {
	commit, err := s.repo.CommitObject(commitID)
	if err != nil {
		return nil, bunsenerr.Wrap(err, bunsenerr.StoreIO, "loading commit "+commitID.String())
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, bunsenerr.Wrap(err, bunsenerr.StoreIO, "loading tree")
	}
	var out []Entry
	for _, e := range tree.Entries {
		out = append(out, Entry{Name: e.Name, Mode: e.Mode, ID: e.Hash})
	}
	return out, nil
}

// CommitExists reports whether id is present and reachable as a commit.
func (s *Store) CommitExists(id plumbing.Hash) bool {
	_, err := s.repo.CommitObject(id)
	return err == nil
}

// CommitMessage returns the raw message of commit id.
func (s *Store) CommitMessage(id plumbing.Hash) (string, error) {
	commit, err := s.repo.CommitObject(id)
	if err != nil {
		return "", bunsenerr.Wrap(err, bunsenerr.StoreIO, "loading commit "+id.String())
	}
	return commit.Message, nil
}

// WalkChain returns every commit id from tip back to the chain's root,
// following first-parent links. Testlogs branches are append-only chains
// with one parent per commit, so first-parent is the whole history.
func (s *Store) WalkChain(tip plumbing.Hash) ([]plumbing.Hash, error) {
	var out []plumbing.Hash
	cur := tip
	for cur != plumbing.ZeroHash {
		out = append(out, cur)
		commit, err := s.repo.CommitObject(cur)
		if err != nil {
			return nil, bunsenerr.Wrap(err, bunsenerr.StoreIO, "walking chain")
		}
		if len(commit.ParentHashes) == 0 {
			break
		}
		cur = commit.ParentHashes[0]
	}
	return out, nil
}

// FindCommitByTree walks the single-parent chain starting at start looking
// for a commit whose tree equals treeID, stopping at the first match. The
// testlogs branches this is used on are append-only linear chains, so a
// parent walk is sufficient without a full graph traversal.
func (s *Store) FindCommitByTree(start plumbing.Hash, treeID plumbing.Hash) (plumbing.Hash, bool, error) {
	cur := start
	for cur != plumbing.ZeroHash {
		commit, err := s.repo.CommitObject(cur)
		if err != nil {
			return plumbing.ZeroHash, false, bunsenerr.Wrap(err, bunsenerr.StoreIO, "walking testlogs chain")
		}
		if commit.TreeHash == treeID {
			return cur, true, nil
		}
		if len(commit.ParentHashes) == 0 {
			break
		}
		cur = commit.ParentHashes[0]
	}
	return plumbing.ZeroHash, false, nil
}

// ListBranches returns every branch reference currently in the store.
func (s *Store) ListBranches() ([]string, error) {
	refs, err := s.repo.Storer.IterReferences()
	if err != nil {
		return nil, bunsenerr.Wrap(err, bunsenerr.StoreIO, "iterating refs")
	}
	var out []string
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if ref.Name().IsBranch() {
			out = append(out, ref.Name().Short())
		}
		return nil
	})
	if err != nil {
		return nil, bunsenerr.Wrap(err, bunsenerr.StoreIO, "iterating refs")
	}
	return out, nil
}
