package plugin

import (
	"encoding/json"

	"github.com/serhei/bunsen/internal/bunsenerr"
	"github.com/serhei/bunsen/internal/model"
)

// RawTestrunFile is the sidecar file name the "raw" built-in parser looks
// for: a pre-parsed testrun JSON shipped alongside the logs themselves.
// This is the minimal built-in commit_module; per-project log parsers are
// an external, pluggable collaborator, and real projects wire in a
// project-specific Parser instead.
const RawTestrunFile = "bunsen_testrun.json"

// Raw is the built-in Parser used when no project-specific commit_module
// is configured: it expects the bundle to already contain a testrun
// record as RawTestrunFile, and passes every other file through
// unmodified.
var Raw Parser = ParserFunc(func(fileMap map[string][]byte) (model.Testrun, map[string][]byte, error) {
	raw, ok := fileMap[RawTestrunFile]
	if !ok {
		return model.Testrun{}, nil, bunsenerr.New(bunsenerr.ParseRejected, "bundle has no "+RawTestrunFile+" and no commit_module is configured")
	}

	var t model.Testrun
	if err := json.Unmarshal(raw, &t); err != nil {
		return model.Testrun{}, nil, bunsenerr.Wrap(err, bunsenerr.ParseRejected, "parsing "+RawTestrunFile)
	}

	out := make(map[string][]byte, len(fileMap)-1)
	for name, data := range fileMap {
		if name == RawTestrunFile {
			continue
		}
		out[name] = data
	}
	return t, out, nil
})
