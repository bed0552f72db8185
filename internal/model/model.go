// Package model defines the canonical testrun/testcase records and their
// canonical JSON encoding.
package model

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"github.com/serhei/bunsen/internal/bunsenerr"
)

// Outcome is one of the enumerated testcase outcomes.
type Outcome string

const (
	Pass         Outcome = "PASS"
	Fail         Outcome = "FAIL"
	XFail        Outcome = "XFAIL"
	XPass        Outcome = "XPASS"
	KFail        Outcome = "KFAIL"
	KPass        Outcome = "KPASS"
	Untested     Outcome = "UNTESTED"
	Unresolved   Outcome = "UNRESOLVED"
	Unsupported  Outcome = "UNSUPPORTED"
	Error        Outcome = "ERROR"
)

var validOutcomes = map[Outcome]bool{
	Pass: true, Fail: true, XFail: true, XPass: true,
	KFail: true, KPass: true, Untested: true, Unresolved: true,
	Unsupported: true, Error: true,
}

// reservedFields are the Summary/Testrun keys with dedicated struct fields;
// everything else round-trips through Extra as a "configuration field".
var reservedFields = map[string]bool{
	"bunsen_version":             true,
	"bunsen_commit_id":           true,
	"bunsen_testlogs_branch":     true,
	"bunsen_testruns_branch":     true,
	"timestamp":                  true,
	"year_month":                 true,
	"version":                    true,
	"source_commit_id":           true,
	"source_branch":              true,
	"arch":                       true,
	"osver":                      true,
	"origin_host":                true,
	"pass_count":                 true,
	"fail_count":                 true,
	"related_testruns_branches":  true,
	"problems":                   true,
	"obsolete":                   true,
	"testcases":                  true,
}

// Summary is the subset of testrun fields stored in IndexFiles and in the
// commit message on the testlogs branch.
type Summary struct {
	BunsenVersion           string                 `json:"bunsen_version"`
	BunsenCommitID          string                 `json:"bunsen_commit_id"`
	BunsenTestlogsBranch    string                 `json:"bunsen_testlogs_branch"`
	BunsenTestrunsBranch    string                 `json:"bunsen_testruns_branch"`
	Timestamp               string                 `json:"timestamp,omitempty"`
	YearMonth               string                 `json:"year_month,omitempty"`
	Version                 string                 `json:"version,omitempty"`
	SourceCommitID          string                 `json:"source_commit_id,omitempty"`
	SourceBranch            string                 `json:"source_branch,omitempty"`
	Arch                    string                 `json:"arch,omitempty"`
	Osver                   string                 `json:"osver,omitempty"`
	OriginHost              string                 `json:"origin_host,omitempty"`
	PassCount               *int                   `json:"pass_count,omitempty"`
	FailCount               *int                   `json:"fail_count,omitempty"`
	RelatedTestrunsBranches []string               `json:"related_testruns_branches,omitempty"`
	Problems                []string               `json:"problems,omitempty"`
	Obsolete                bool                   `json:"obsolete,omitempty"`
	Extra                   map[string]interface{} `json:"-"`
}

// Testcase is one element of a full testrun's testcases array.
type Testcase struct {
	Name      string  `json:"name"`
	Outcome   Outcome `json:"outcome"`
	Subtest   string  `json:"subtest,omitempty"`
	OriginLog string  `json:"origin_log,omitempty"`
	OriginSum string  `json:"origin_sum,omitempty"`
}

// Testrun is the full record: a Summary plus the optional testcases array.
//
// Testrun defines its own MarshalJSON/UnmarshalJSON rather than relying on
// the methods promoted from the embedded Summary: those promoted methods
// only know about Summary's fields, so letting them stand would silently
// drop Testcases on every encode and decode.
type Testrun struct {
	Summary
	Testcases []Testcase `json:"testcases,omitempty"`
}

// Validate checks the required-field invariants of a testrun record that
// the parser/caller is responsible for filling in: ingest may proceed
// with these missing only if Problems is non-empty. BunsenCommitID is
// deliberately not checked here -- it is only assigned once the logs
// commit has been built, after Validate runs.
func (t *Testrun) Validate() error {
	missing := t.BunsenVersion == "" ||
		t.BunsenTestlogsBranch == "" || t.BunsenTestrunsBranch == ""
	if missing && len(t.Problems) == 0 {
		return bunsenerr.New(bunsenerr.ParseRejected,
			"testrun is missing required fields and carries no problems")
	}
	for _, tc := range t.Testcases {
		if tc.Name == "" {
			return bunsenerr.New(bunsenerr.ValidationFailed, "testcase missing name")
		}
		if !validOutcomes[tc.Outcome] {
			return bunsenerr.New(bunsenerr.ValidationFailed, "unknown testcase outcome "+string(tc.Outcome))
		}
	}
	return nil
}

// MarshalJSON implements the "extra configuration fields" merge: Extra's
// keys are merged alongside the named fields before the whole object is
// canonicalized (key-sorted, no insignificant whitespace).
func (s Summary) MarshalJSON() ([]byte, error) {
	type alias Summary
	named, err := json.Marshal(alias(s))
	if err != nil {
		return nil, err
	}
	var merged map[string]interface{}
	if err := json.Unmarshal(named, &merged); err != nil {
		return nil, err
	}
	for k, v := range s.Extra {
		if !reservedFields[k] {
			merged[k] = v
		}
	}
	return CanonicalMarshal(merged)
}

// UnmarshalJSON splits named fields from configuration fields into Extra.
func (s *Summary) UnmarshalJSON(data []byte) error {
	type alias Summary
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*s = Summary(a)

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	extra := map[string]interface{}{}
	for k, v := range raw {
		if !reservedFields[k] {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		s.Extra = extra
	}
	return nil
}

// MarshalJSON merges the Summary encoding with the testcases array, so
// the full record -- not just its Summary portion -- round-trips.
func (t Testrun) MarshalJSON() ([]byte, error) {
	summaryJSON, err := t.Summary.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var merged map[string]interface{}
	if err := json.Unmarshal(summaryJSON, &merged); err != nil {
		return nil, err
	}
	if len(t.Testcases) > 0 {
		merged["testcases"] = t.Testcases
	}
	return CanonicalMarshal(merged)
}

// UnmarshalJSON splits data into the Summary portion (including its own
// Extra handling) and the testcases array.
func (t *Testrun) UnmarshalJSON(data []byte) error {
	if err := t.Summary.UnmarshalJSON(data); err != nil {
		return err
	}
	var aux struct {
		Testcases []Testcase `json:"testcases"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	t.Testcases = aux.Testcases
	return nil
}

// CanonicalMarshal renders v (a JSON-compatible value, typically a
// map[string]interface{}) with keys sorted lexicographically at every
// level and no insignificant whitespace.
func CanonicalMarshal(v interface{}) ([]byte, error) {
	norm, err := canonicalize(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm); err != nil {
		return nil, err
	}
	// encoder.Encode always appends a trailing newline; strip it so callers
	// control message framing (the testlogs commit message appends its own).
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// canonicalize walks a decoded-JSON value and rewrites maps into an
// order established by sorted keys, implemented via orderedMap so the
// stdlib encoder emits them in that order.
func canonicalize(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		om := make(orderedMap, 0, len(keys))
		for _, k := range keys {
			cv, err := canonicalize(t[k])
			if err != nil {
				return nil, err
			}
			om = append(om, orderedEntry{k, cv})
		}
		return om, nil
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			cv, err := canonicalize(e)
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return out, nil
	default:
		return v, nil
	}
}

type orderedEntry struct {
	key   string
	value interface{}
}

type orderedMap []orderedEntry

// MarshalJSON emits entries in the slice's existing order (already
// lexicographically sorted by canonicalize), matching the intent of
// Go 1.12+'s encoding/json which sorts map keys by default -- orderedMap
// exists to also cover nested maps produced outside encoding/json's own
// marshal path (e.g. hand-assembled merges in Summary.MarshalJSON).
func (m orderedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(e.key)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(e.value)
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// NormalizedTimestamp rounds t to seconds for use in the commit preamble.
// The zero Timestamp value normalizes to the Unix epoch.
func NormalizedTimestamp(ts string) time.Time {
	if ts == "" {
		return time.Unix(0, 0).UTC()
	}
	parsed, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Unix(0, 0).UTC()
	}
	return parsed.Truncate(time.Second).UTC()
}

// YearMonth derives the YYYY-MM branch-name component from an ISO-8601
// timestamp.
func YearMonth(ts string) string {
	return NormalizedTimestamp(ts).Format("2006-01")
}
