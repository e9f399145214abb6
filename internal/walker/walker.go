// Package walker applies a scan pass to every text leaf under a node.
package walker

import (
	"github.com/aliaswap/aliaswap/internal/pattern"
	"github.com/aliaswap/aliaswap/internal/revert"
	"github.com/aliaswap/aliaswap/internal/scan"
	"github.com/aliaswap/aliaswap/internal/tree"
)

// Host is the document the walker reads and rewrites.
type Host interface {
	Root() tree.NodeID
	Leaves(id tree.NodeID) []tree.NodeID
	Text(id tree.NodeID) (string, bool)
	SetText(id tree.NodeID, text string) bool
	Mark(id tree.NodeID) tree.Mark
	SetMark(id tree.NodeID, mark tree.Mark) bool
	Title() string
	SetTitle(title string)
}

// Pass carries everything one walk needs. For revert passes Table must be
// the reversed table; it is only consulted for the title when the cache has
// no record of it.
type Pass struct {
	Table   pattern.Table
	Options scan.Options
	Cache   *revert.Cache
}

// Stats summarises a walk.
type Stats struct {
	Visited      int  `json:"visited"`
	Rewritten    int  `json:"rewritten"`
	Reverted     int  `json:"reverted"`
	Skipped      int  `json:"skipped"`
	Misses       int  `json:"misses"`
	Replacements int  `json:"replacements"`
	TitleChanged bool `json:"titleChanged,omitempty"`
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Visited += other.Visited
	s.Rewritten += other.Rewritten
	s.Reverted += other.Reverted
	s.Skipped += other.Skipped
	s.Misses += other.Misses
	s.Replacements += other.Replacements
	s.TitleChanged = s.TitleChanged || other.TitleChanged
}

// Walk visits the text leaves under root in document order. Leaves that
// disappear mid-walk are ignored.
func Walk(host Host, root tree.NodeID, pass Pass) Stats {
	var stats Stats
	if pass.Cache == nil {
		pass.Cache = revert.New()
	}
	for _, leaf := range host.Leaves(root) {
		text, ok := host.Text(leaf)
		if !ok {
			continue
		}
		stats.Visited++
		if pass.Options.Mode == scan.Revert {
			revertLeaf(host, leaf, text, pass, &stats)
			continue
		}
		forwardLeaf(host, leaf, text, pass, &stats)
	}
	return stats
}

func forwardLeaf(host Host, leaf tree.NodeID, text string, pass Pass, stats *Stats) {
	if host.Mark(leaf) == tree.Replaced {
		stats.Skipped++
		return
	}
	res := scan.Apply(text, pass.Table, pass.Options)
	if !res.Changed() {
		return
	}
	if !host.SetText(leaf, res.Text) {
		return
	}
	pass.Cache.Store(leaf, res.Text, text)
	host.SetMark(leaf, tree.Replaced)
	stats.Rewritten++
	stats.Replacements += res.Replacements
}

// revertLeaf restores from the cache only. A rewritten leaf whose content no
// longer matches anything recorded is left as is and counted as a miss.
func revertLeaf(host Host, leaf tree.NodeID, text string, pass Pass, stats *Stats) {
	original, ok := pass.Cache.Lookup(leaf, text)
	if !ok {
		if host.Mark(leaf) == tree.Replaced {
			stats.Misses++
			host.SetMark(leaf, tree.Untouched)
		}
		return
	}
	if original != text && !host.SetText(leaf, original) {
		return
	}
	host.SetMark(leaf, tree.Untouched)
	pass.Cache.Forget(leaf)
	stats.Reverted++
}

// FullPass walks the whole body and runs the title through the scanner once.
// The title is never highlighted. A forward pass memoises the title even when
// it is left unchanged, so the revert pass only rescans titles it has no
// record of.
func FullPass(host Host, pass Pass) Stats {
	if pass.Cache == nil {
		pass.Cache = revert.New()
	}
	stats := Walk(host, host.Root(), pass)
	title := host.Title()
	if title == "" {
		return stats
	}
	opts := pass.Options
	opts.Title = true
	if opts.Mode == scan.Revert {
		if original, ok := pass.Cache.LookupTitle(title); ok {
			if original != title {
				host.SetTitle(original)
				stats.TitleChanged = true
			}
			return stats
		}
	}
	res := scan.Apply(title, pass.Table, opts)
	if opts.Mode == scan.Forward {
		pass.Cache.StoreTitle(res.Text, title)
	}
	if !res.Changed() {
		return stats
	}
	host.SetTitle(res.Text)
	stats.TitleChanged = true
	stats.Replacements += res.Replacements
	return stats
}
