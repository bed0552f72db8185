// Package plugin implements the per-project parser/ingester registry: a
// capability-set abstraction discovered by directory scan at
// repository-open time, the same dispatch shape used by a Gerrit
// ClientFactory (appengine/rubber-stamper/internal/gerrit) -- a named
// capability resolved from a registry rather than a compiled-in switch
// statement.
package plugin

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/serhei/bunsen/internal/bunsenerr"
	"github.com/serhei/bunsen/internal/model"
)

// Parser is the contract a per-project commit_module plug-in must
// satisfy: parse the submitted files into a testrun record, optionally
// renaming or dropping files along the way.
type Parser interface {
	// Parse inspects fileMap (name -> bytes) and returns the testrun it
	// derives plus the (possibly modified) set of files to store.
	Parse(fileMap map[string][]byte) (model.Testrun, map[string][]byte, error)
}

// ParserFunc adapts a plain function to the Parser interface.
type ParserFunc func(fileMap map[string][]byte) (model.Testrun, map[string][]byte, error)

func (f ParserFunc) Parse(fileMap map[string][]byte) (model.Testrun, map[string][]byte, error) {
	return f(fileMap)
}

// Registry resolves commit_module names to Parsers, discovered from one or
// more scripts*/ directories.
type Registry struct {
	builtins map[string]Parser
	scanned  map[string][]string // name -> candidate script paths (for AmbiguousScript)
}

// NewRegistry creates an empty registry. Callers add built-in parsers with
// Register and then scan project-local script directories with Scan.
func NewRegistry() *Registry {
	return &Registry{
		builtins: map[string]Parser{},
		scanned:  map[string][]string{},
	}
}

// Register adds a built-in (compiled-in) Parser under name.
func (r *Registry) Register(name string, p Parser) {
	r.builtins[name] = p
}

// Scan walks scriptsDir (a project-local "scripts*/" root) recording
// candidate plug-in names derived from file base names, without loading or
// executing anything: out-of-process script plug-ins are resolved by name
// only, left to an external dispatcher.
func (r *Registry) Scan(scriptsDir string) error {
	entries, err := os.ReadDir(scriptsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return bunsenerr.Wrap(err, bunsenerr.StoreIO, "scanning "+scriptsDir)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		full := filepath.Join(scriptsDir, e.Name())
		r.scanned[name] = append(r.scanned[name], full)
	}
	return nil
}

// Resolve looks up name among built-ins first, then scanned scripts.
// Ambiguous scanned names (the same base name found under more than one
// scripts*/ root) fail AmbiguousScript.
func (r *Registry) Resolve(name string) (Parser, error) {
	if p, ok := r.builtins[name]; ok {
		return p, nil
	}
	paths, ok := r.scanned[name]
	if !ok {
		return nil, bunsenerr.New(bunsenerr.BadConfig, "no commit_module plug-in named "+name)
	}
	if len(paths) > 1 {
		return nil, bunsenerr.New(bunsenerr.AmbiguousScript, "plug-in name "+name+" matches multiple scripts: "+strings.Join(paths, ", "))
	}
	return nil, bunsenerr.New(bunsenerr.BadConfig, "plug-in "+name+" found at "+paths[0]+" but out-of-process script execution is not implemented by this engine")
}
