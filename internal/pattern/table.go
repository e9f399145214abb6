// Package pattern builds the ordered substitution table derived from a target
// identity and the source identities it replaces.
package pattern

import (
	"strings"

	"github.com/aliaswap/aliaswap/internal/config"
)

// Identity is an ordered triple of name fields.
type Identity struct {
	Field1 string
	Field2 string
	Field3 string
}

func (id Identity) fields() [3]string {
	return [3]string{id.Field1, id.Field2, id.Field3}
}

func (id Identity) complete() bool {
	return id.Field1 != "" && id.Field2 != "" && id.Field3 != ""
}

func (id Identity) phrase() string {
	return strings.Join([]string{id.Field1, id.Field2, id.Field3}, " ")
}

// FromConfig converts a configured identity.
func FromConfig(id config.Identity) Identity {
	return Identity{Field1: id.Field1, Field2: id.Field2, Field3: id.Field3}
}

// Entry pairs a phrase to search for with its replacement.
type Entry struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// Table is an ordered list of entries. Earlier entries take priority.
type Table struct {
	entries []Entry
}

// Build pairs target against every source identity. For each source the
// full three-field phrase comes first when both sides have all fields, followed
// by one entry per field set on both sides.
func Build(target Identity, sources []Identity) Table {
	var entries []Entry
	targetFields := target.fields()
	for _, src := range sources {
		if target.complete() && src.complete() {
			entries = append(entries, Entry{Old: src.phrase(), New: target.phrase()})
		}
		srcFields := src.fields()
		for i := range srcFields {
			if targetFields[i] == "" || srcFields[i] == "" {
				continue
			}
			entries = append(entries, Entry{Old: srcFields[i], New: targetFields[i]})
		}
	}
	return Table{entries: entries}
}

// BuildFromConfig builds the table for the configured target and sources.
func BuildFromConfig(cfg *config.Config) Table {
	if cfg == nil {
		return Table{}
	}
	sources := make([]Identity, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		sources = append(sources, FromConfig(src))
	}
	return Build(FromConfig(cfg.Target), sources)
}

// NewTable wraps explicit entries. Entries with an empty Old phrase are dropped.
func NewTable(entries ...Entry) Table {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Old == "" {
			continue
		}
		out = append(out, e)
	}
	return Table{entries: out}
}

// Reversed swaps Old and New of every entry, keeping the order.
func (t Table) Reversed() Table {
	if len(t.entries) == 0 {
		return Table{}
	}
	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		out[i] = Entry{Old: e.New, New: e.Old}
	}
	return Table{entries: out}
}

// Len returns the number of entries.
func (t Table) Len() int {
	return len(t.entries)
}

// Empty reports whether the table has no entries.
func (t Table) Empty() bool {
	return len(t.entries) == 0
}

// Entries returns a copy of the entries in priority order.
func (t Table) Entries() []Entry {
	return append([]Entry(nil), t.entries...)
}

// Old returns the search phrases in priority order.
func (t Table) Old() []string {
	out := make([]string, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Old
	}
	return out
}

// New returns the replacements, parallel to Old.
func (t Table) New() []string {
	out := make([]string, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.New
	}
	return out
}
