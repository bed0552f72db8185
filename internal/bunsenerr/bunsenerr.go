// Package bunsenerr defines the stable error kinds surfaced by the Bunsen
// engine as tags on top of go.chromium.org/luci/common/errors, so callers
// can test for a kind without string-matching messages.
package bunsenerr

import (
	"go.chromium.org/luci/common/errors"
)

// Kind is one of the stable error categories the engine reports.
type Kind string

const (
	StoreIO         Kind = "StoreIO"
	RefConflict     Kind = "RefConflict"
	ParseRejected   Kind = "ParseRejected"
	ValidationFailed Kind = "ValidationFailed"
	AmbiguousId     Kind = "AmbiguousId"
	AmbiguousScript Kind = "AmbiguousScript"
	NotFound        Kind = "NotFound"
	LockHeld        Kind = "LockHeld"
	BadConfig       Kind = "BadConfig"
)

// kindTag carries a Kind value on an annotated error.
var kindTag = errors.NewTagKey("bunsen kind")

// Tag returns an errors.TagValue that attaches k to an error.
func Tag(k Kind) errors.TagValue {
	return kindTag.With(k)
}

// Wrap annotates err with kind k and a human message, in the style of the
// teacher's errors.Annotate(...).Err() call sites.
func Wrap(err error, k Kind, reason string) error {
	if err == nil {
		return nil
	}
	return errors.Annotate(err, reason).Tag(Tag(k)).Err()
}

// New creates a fresh error tagged with kind k.
func New(k Kind, reason string) error {
	return errors.New(reason, Tag(k))
}

// Is reports whether err (or something it wraps) carries kind k.
func Is(err error, k Kind) bool {
	v, ok := kindTag.In(err)
	return ok && v.(Kind) == k
}

// KindOf returns the tagged kind of err, or "" if untagged.
func KindOf(err error) Kind {
	if v, ok := kindTag.In(err); ok {
		return v.(Kind)
	}
	return ""
}
