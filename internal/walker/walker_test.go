package walker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aliaswap/aliaswap/internal/pattern"
	"github.com/aliaswap/aliaswap/internal/revert"
	"github.com/aliaswap/aliaswap/internal/scan"
	"github.com/aliaswap/aliaswap/internal/tree"
)

func starkTable() pattern.Table {
	return pattern.Build(
		pattern.Identity{Field1: "Arya", Field3: "Stark"},
		[]pattern.Identity{{Field1: "Jon", Field3: "Snow"}, {Field1: "Ned"}},
	)
}

func newDoc(t *testing.T, title string, leaves ...string) (*tree.Document, []tree.NodeID) {
	t.Helper()
	doc := tree.NewDocument(title)
	specs := make([]tree.Spec, len(leaves))
	for i, text := range leaves {
		specs[i] = tree.Element("p", tree.Text(text))
	}
	if _, err := doc.Insert(doc.Root(), specs...); err != nil {
		t.Fatalf("insert: %v", err)
	}
	return doc, doc.Leaves(doc.Root())
}

func texts(doc *tree.Document, ids []tree.NodeID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i], _ = doc.Text(id)
	}
	return out
}

func forwardPass(cache *revert.Cache, highlight bool) Pass {
	return Pass{Table: starkTable(), Options: scan.Options{Mode: scan.Forward, Highlight: highlight}, Cache: cache}
}

func revertPass(cache *revert.Cache, highlight bool) Pass {
	return Pass{Table: starkTable().Reversed(), Options: scan.Options{Mode: scan.Revert, Highlight: highlight}, Cache: cache}
}

func TestWalkForwardRewritesAndMarks(t *testing.T) {
	doc, leaves := newDoc(t, "", "Jon Snow rides", "nothing here", "ned waits")
	cache := revert.New()

	stats := Walk(doc, doc.Root(), forwardPass(cache, false))

	require.Equal(t, []string{"Arya Stark rides", "nothing here", "Arya waits"}, texts(doc, leaves))
	require.Equal(t, Stats{Visited: 3, Rewritten: 2, Replacements: 3}, stats)
	require.Equal(t, tree.Replaced, doc.Mark(leaves[0]))
	require.Equal(t, tree.Untouched, doc.Mark(leaves[1]))
	require.Equal(t, 2, cache.Len())
}

func TestWalkForwardIsIdempotent(t *testing.T) {
	doc, leaves := newDoc(t, "", "Jon")
	cache := revert.New()
	Walk(doc, doc.Root(), forwardPass(cache, true))
	first := texts(doc, leaves)

	stats := Walk(doc, doc.Root(), forwardPass(cache, true))
	require.Equal(t, first, texts(doc, leaves))
	require.Equal(t, 1, stats.Skipped)
	require.Zero(t, stats.Rewritten)
}

func TestWalkRoundTrip(t *testing.T) {
	for _, highlight := range []bool{false, true} {
		doc, leaves := newDoc(t, "", "Jon Snow rides", "Ned and Jon", "plain")
		original := texts(doc, leaves)
		cache := revert.New()

		Walk(doc, doc.Root(), forwardPass(cache, highlight))
		stats := Walk(doc, doc.Root(), revertPass(cache, highlight))

		require.Equal(t, original, texts(doc, leaves), "highlight=%v", highlight)
		require.Equal(t, 2, stats.Reverted)
		require.Zero(t, stats.Misses)
		for _, leaf := range leaves {
			require.Equal(t, tree.Untouched, doc.Mark(leaf))
		}
	}
}

func TestWalkRevertKeepsPerLeafOriginals(t *testing.T) {
	doc, leaves := newDoc(t, "", "Jon", "Ned")
	cache := revert.New()
	Walk(doc, doc.Root(), forwardPass(cache, false))
	require.Equal(t, []string{"Arya", "Arya"}, texts(doc, leaves))

	Walk(doc, doc.Root(), revertPass(cache, false))
	require.Equal(t, []string{"Jon", "Ned"}, texts(doc, leaves))
}

func TestWalkRevertMissLeavesContent(t *testing.T) {
	doc, leaves := newDoc(t, "", "Jon")
	cache := revert.New()
	Walk(doc, doc.Root(), forwardPass(cache, false))
	doc.SetText(leaves[0], "edited by hand")

	stats := Walk(doc, doc.Root(), revertPass(cache, false))
	require.Equal(t, 1, stats.Misses)
	require.Equal(t, []string{"edited by hand"}, texts(doc, leaves))
	require.Equal(t, tree.Untouched, doc.Mark(leaves[0]))
}

func TestWalkSubtreeOnly(t *testing.T) {
	doc, leaves := newDoc(t, "", "Jon", "Jon")
	parent, _ := doc.Parent(leaves[1])
	stats := Walk(doc, parent, forwardPass(revert.New(), false))
	require.Equal(t, 1, stats.Visited)
	require.Equal(t, []string{"Jon", "Arya"}, texts(doc, leaves))
}

func TestFullPassTitleNeverHighlighted(t *testing.T) {
	doc, _ := newDoc(t, "Jon Snow", "Jon")
	cache := revert.New()

	stats := FullPass(doc, forwardPass(cache, true))
	require.True(t, stats.TitleChanged)
	require.Equal(t, "Arya Stark", doc.Title())

	FullPass(doc, revertPass(cache, true))
	require.Equal(t, "Jon Snow", doc.Title())
}

func TestFullPassTitleRevertWithoutMemoScans(t *testing.T) {
	doc := tree.NewDocument("Arya rides")
	FullPass(doc, revertPass(revert.New(), false))
	require.Equal(t, "Jon rides", doc.Title())
}

func TestFullPassRevertKeepsUnchangedTitle(t *testing.T) {
	doc, _ := newDoc(t, "Arya Smith profile", "Jon rides")
	cache := revert.New()

	stats := FullPass(doc, forwardPass(cache, false))
	require.False(t, stats.TitleChanged)
	require.Equal(t, "Arya Smith profile", doc.Title())

	stats = FullPass(doc, revertPass(cache, false))
	require.False(t, stats.TitleChanged)
	require.Equal(t, "Arya Smith profile", doc.Title())
}

func TestFullPassWithoutCache(t *testing.T) {
	doc, leaves := newDoc(t, "Jon Snow", "Jon rides")

	stats := FullPass(doc, Pass{Table: starkTable(), Options: scan.Options{Mode: scan.Forward}})
	require.True(t, stats.TitleChanged)
	require.Equal(t, 1, stats.Rewritten)
	require.Equal(t, "Arya Stark", doc.Title())
	require.Equal(t, []string{"Arya rides"}, texts(doc, leaves))
}

func TestWalkRevertFallbackReachesUntouchedLeaves(t *testing.T) {
	doc, leaves := newDoc(t, "", "Jon rides", "Arya rides")
	cache := revert.New()

	Walk(doc, doc.Root(), forwardPass(cache, false))
	require.Equal(t, tree.Untouched, doc.Mark(leaves[1]))

	stats := Walk(doc, doc.Root(), revertPass(cache, false))
	require.Equal(t, 2, stats.Reverted)
	require.Equal(t, []string{"Jon rides", "Jon rides"}, texts(doc, leaves))
}
