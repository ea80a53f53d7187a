package sync

import (
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// nameCollator orders record names the way a user-facing list should:
// case-insensitive, locale-aware, digits compared numerically so "item 2"
// sorts before "item 10".
var nameCollator = collate.New(language.Und,
	collate.IgnoreCase, collate.Numeric)

// ByName orders records by display name, breaking ties on local id so the
// order is stable across reads.
func ByName(a, b *Record) bool {
	if c := nameCollator.CompareString(a.Name, b.Name); c != 0 {
		return c < 0
	}

	return a.LocalID < b.LocalID
}

// ByUpdated orders records most recently modified first.
func ByUpdated(a, b *Record) bool {
	if a.UpdatedAt != b.UpdatedAt {
		return a.UpdatedAt > b.UpdatedAt
	}

	return a.LocalID < b.LocalID
}

// NotDone is the default list filter: records still open.
func NotDone(rec *Record) bool {
	return !rec.Done
}
