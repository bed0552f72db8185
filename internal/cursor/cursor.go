// Package cursor implements stable references into stored log blobs: a
// cursor names (blob identity, line range) rather than holding the bytes
// themselves, so analyses can refer to slices of a log without re-reading
// the whole file ahead of time.
package cursor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/serhei/bunsen/internal/bunsenerr"
)

// Cursor is a reference to a line range within a log file stored in a
// testlogs commit. Branch and CommitID are optional: when empty, the
// cursor is in "abbreviated" textual form and must be resolved relative
// to a caller-supplied context.
type Cursor struct {
	Branch   string
	CommitID string
	Path     string
	Start    int // 1-indexed, inclusive
	End      int // 1-indexed, inclusive
}

// String renders the cursor's textual form: full form when Branch and
// CommitID are set, abbreviated form otherwise.
func (c Cursor) String() string {
	lines := fmt.Sprintf("%s:%d-%d", c.Path, c.Start, c.End)
	if c.Branch == "" && c.CommitID == "" {
		return lines
	}
	return fmt.Sprintf("%s:%s:%s", c.Branch, c.CommitID, lines)
}

// Parse parses a cursor's textual form. Abbreviated cursors (no
// branch:commit prefix) leave Branch and CommitID empty.
func Parse(s string) (Cursor, error) {
	parts := strings.Split(s, ":")
	switch len(parts) {
	case 2:
		start, end, err := parseRange(parts[1])
		if err != nil {
			return Cursor{}, err
		}
		return Cursor{Path: parts[0], Start: start, End: end}, nil
	case 4:
		start, end, err := parseRange(parts[3])
		if err != nil {
			return Cursor{}, err
		}
		return Cursor{Branch: parts[0], CommitID: parts[1], Path: parts[2], Start: start, End: end}, nil
	default:
		return Cursor{}, bunsenerr.New(bunsenerr.ValidationFailed, "malformed cursor "+s)
	}
}

func parseRange(s string) (start, end int, err error) {
	lo, hi, ok := strings.Cut(s, "-")
	if !ok {
		return 0, 0, bunsenerr.New(bunsenerr.ValidationFailed, "malformed cursor line range "+s)
	}
	start, err = strconv.Atoi(lo)
	if err != nil {
		return 0, 0, bunsenerr.Wrap(err, bunsenerr.ValidationFailed, "malformed cursor start line")
	}
	end, err = strconv.Atoi(hi)
	if err != nil {
		return 0, 0, bunsenerr.Wrap(err, bunsenerr.ValidationFailed, "malformed cursor end line")
	}
	if start <= 0 || end < start {
		return 0, 0, bunsenerr.New(bunsenerr.ValidationFailed, "invalid cursor line range "+s)
	}
	return start, end, nil
}

// Resolution is the result of resolving a Cursor against stored blob bytes.
type Resolution struct {
	Text      string
	Truncated bool
}

// Resolve slices blob (the full content of the file a Cursor names) to the
// cursor's line range. Lines are split on '\n'; a trailing empty line from
// a final newline is dropped, matching common log-file conventions.
// Out-of-range requests clamp to the file and set Truncated.
func Resolve(c Cursor, blob []byte) Resolution {
	text := string(blob)
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	truncated := false
	start := c.Start
	end := c.End
	if start < 1 {
		start = 1
		truncated = true
	}
	if end > len(lines) {
		end = len(lines)
		truncated = true
	}
	if start > len(lines) || end < start {
		return Resolution{Text: "", Truncated: true}
	}

	return Resolution{
		Text:      strings.Join(lines[start-1:end], "\n"),
		Truncated: truncated,
	}
}
