// Package revert remembers what rewritten text looked like before a forward
// pass so it can be restored exactly.
package revert

import "github.com/aliaswap/aliaswap/internal/tree"

type leafEntry struct {
	produced string
	original string
}

// Cache maps produced text back to original text.
//
// Entries are indexed twice. The leaf index is consulted first and keeps two
// leaves that rewrote to the same text from sharing one original. The text
// index holds at most one entry per produced string (the most recent one) and
// covers leaves whose identity changed since they were rewritten.
//
// A Cache is not safe for concurrent use; the session serialises access.
type Cache struct {
	byText map[string]string
	byLeaf map[tree.NodeID]leafEntry

	titleSet      bool
	titleProduced string
	titleOriginal string
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{
		byText: make(map[string]string),
		byLeaf: make(map[tree.NodeID]leafEntry),
	}
}

// Store records that leaf now holds produced, which was rewritten from original.
func (c *Cache) Store(leaf tree.NodeID, produced, original string) {
	c.byText[produced] = original
	if leaf != 0 {
		c.byLeaf[leaf] = leafEntry{produced: produced, original: original}
	}
}

// Lookup returns the original for the leaf's current content.
func (c *Cache) Lookup(leaf tree.NodeID, current string) (string, bool) {
	if e, ok := c.byLeaf[leaf]; ok && e.produced == current {
		return e.original, true
	}
	original, ok := c.byText[current]
	return original, ok
}

// Forget drops the leaf index entry once the leaf has been restored.
func (c *Cache) Forget(leaf tree.NodeID) {
	delete(c.byLeaf, leaf)
}

// StoreTitle records the title rewrite separately from leaf content.
func (c *Cache) StoreTitle(produced, original string) {
	c.titleSet = true
	c.titleProduced = produced
	c.titleOriginal = original
}

// LookupTitle returns the original title when current is what the last
// forward pass produced.
func (c *Cache) LookupTitle(current string) (string, bool) {
	if !c.titleSet || current != c.titleProduced {
		return "", false
	}
	return c.titleOriginal, true
}

// Len returns the number of distinct produced strings.
func (c *Cache) Len() int {
	return len(c.byText)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.byText = make(map[string]string)
	c.byLeaf = make(map[tree.NodeID]leafEntry)
	c.titleSet = false
	c.titleProduced = ""
	c.titleOriginal = ""
}
