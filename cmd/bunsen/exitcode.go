package main

import "github.com/serhei/bunsen/internal/bunsenerr"

// exitCode maps an error's bunsenerr.Kind to a CLI exit code. A nil error
// is success; an untagged error is the generic failure code.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	switch bunsenerr.KindOf(err) {
	case bunsenerr.BadConfig, bunsenerr.ValidationFailed, bunsenerr.ParseRejected:
		return 2
	case bunsenerr.RefConflict:
		return 3
	case bunsenerr.AmbiguousId, bunsenerr.AmbiguousScript:
		return 4
	default:
		return 1
	}
}
