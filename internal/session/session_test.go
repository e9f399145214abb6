package session

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/aliaswap/aliaswap/internal/config"
	"github.com/aliaswap/aliaswap/internal/metrics"
	"github.com/aliaswap/aliaswap/internal/pattern"
	"github.com/aliaswap/aliaswap/internal/tree"
	"github.com/aliaswap/aliaswap/internal/util"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func aryaSettings() Settings {
	return Settings{
		Enabled:      true,
		Target:       pattern.Identity{Field1: "Arya", Field3: "Stark"},
		Sources:      []pattern.Identity{{Field1: "Jon", Field3: "Snow"}},
		HistoryLimit: 16,
	}
}

func newDoc(t *testing.T) (*tree.Document, []tree.NodeID) {
	t.Helper()
	doc := tree.NewDocument("Jon Snow")
	_, err := doc.Insert(doc.Root(),
		tree.Element("p", tree.Text("Jon rides north")),
		tree.Element("p", tree.Text("Snow falls"), tree.Element("b", tree.Text("quiet"))),
	)
	if err != nil {
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

func kinds(records []PassRecord) []PassKind {
	out := make([]PassKind, len(records))
	for i, r := range records {
		out[i] = r.Kind
	}
	return out
}

func TestStartStopRoundTrip(t *testing.T) {
	doc, leaves := newDoc(t)
	original := texts(doc, leaves)
	s := New(doc, nil, nil)

	require.NoError(t, s.Start(aryaSettings()))
	require.Equal(t, Running, s.State())
	require.Equal(t, []string{"Arya rides north", "Stark falls", "quiet"}, texts(doc, leaves))
	require.Equal(t, "Arya Stark", doc.Title())
	status := s.Status()
	require.NotEmpty(t, status.Session)
	require.Equal(t, "running", status.State)
	require.Len(t, status.Patterns, 2)

	s.Stop()
	require.Equal(t, Stopped, s.State())
	require.Equal(t, original, texts(doc, leaves))
	require.Equal(t, "Jon Snow", doc.Title())
	for _, leaf := range leaves {
		require.Equal(t, tree.Untouched, doc.Mark(leaf))
	}
	require.Equal(t, []PassKind{PassInitial, PassRevert}, kinds(s.History()))
	require.Zero(t, s.Status().Cached)

	s.Stop()
}

func TestStartDisabledLeavesDocument(t *testing.T) {
	doc, leaves := newDoc(t)
	original := texts(doc, leaves)
	s := New(doc, nil, nil)

	settings := aryaSettings()
	settings.Enabled = false
	require.NoError(t, s.Start(settings))
	require.Equal(t, Stopped, s.State())
	require.Equal(t, original, texts(doc, leaves))
	require.Empty(t, s.History())
}

func TestRestartRevertsBeforeApplying(t *testing.T) {
	doc, leaves := newDoc(t)
	s := New(doc, nil, nil)
	require.NoError(t, s.Start(aryaSettings()))
	first := s.Status().Session

	sansa := aryaSettings()
	sansa.Target = pattern.Identity{Field1: "Sansa"}
	require.NoError(t, s.Start(sansa))
	defer s.Stop()

	require.NotEqual(t, first, s.Status().Session)
	require.Equal(t, []string{"Sansa rides north", "Snow falls", "quiet"}, texts(doc, leaves))
	require.Equal(t, "Sansa Snow", doc.Title())
	require.Equal(t, []PassKind{PassInitial, PassRevert, PassInitial}, kinds(s.History()))
}

func TestInsertedSubtreeIsRewritten(t *testing.T) {
	doc, _ := newDoc(t)
	s := New(doc, nil, nil)
	require.NoError(t, s.Start(aryaSettings()))

	ids, err := doc.Insert(doc.Root(), tree.Element("div", tree.Text("Jon returns"), tree.Text("Snow melts")))
	require.NoError(t, err)
	added := doc.Leaves(ids[0])

	require.Eventually(t, func() bool {
		got := texts(doc, added)
		return got[0] == "Arya returns" && got[1] == "Stark melts"
	}, time.Second, 5*time.Millisecond)

	s.Stop()
	require.Equal(t, []string{"Jon returns", "Snow melts"}, texts(doc, added))
}

// lateInsertHost adds a leaf right after the first full listing, while the
// initial pass is still walking.
type lateInsertHost struct {
	*tree.Document
	once  sync.Once
	added []tree.NodeID
}

func (h *lateInsertHost) Leaves(id tree.NodeID) []tree.NodeID {
	leaves := h.Document.Leaves(id)
	h.once.Do(func() {
		ids, err := h.Document.Insert(h.Root(), tree.Text("Jon arrived late"))
		if err == nil {
			h.added = ids
		}
	})
	return leaves
}

func TestInsertDuringInitialPassIsRewritten(t *testing.T) {
	doc, leaves := newDoc(t)
	host := &lateInsertHost{Document: doc}
	s := New(host, nil, nil)
	require.NoError(t, s.Start(aryaSettings()))
	require.Len(t, host.added, 1)
	require.Equal(t, "Arya rides north", texts(doc, leaves)[0])

	require.Eventually(t, func() bool {
		return texts(doc, host.added)[0] == "Arya arrived late"
	}, time.Second, 5*time.Millisecond)

	s.Stop()
	require.Equal(t, "Jon arrived late", texts(doc, host.added)[0])
}

func TestReinsertedRewrittenLeafIsNotReprocessed(t *testing.T) {
	doc := tree.NewDocument("")
	ids, err := doc.Insert(doc.Root(), tree.Element("p", tree.Text("Jon")), tree.Element("div"))
	require.NoError(t, err)
	leaf := doc.Leaves(ids[0])[0]

	settings := Settings{
		Enabled: true,
		Target:  pattern.Identity{Field1: "Jon Snow"},
		Sources: []pattern.Identity{{Field1: "Jon"}},
	}
	settings.HistoryLimit = 16
	s := New(doc, nil, nil)
	require.NoError(t, s.Start(settings))
	defer s.Stop()
	text, _ := doc.Text(leaf)
	require.Equal(t, "Jon Snow", text)

	require.NoError(t, doc.Move(ids[0], ids[1]))
	require.Eventually(t, func() bool {
		for _, r := range s.History() {
			if r.Kind == PassIncremental && r.Stats.Skipped == 1 {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	text, _ = doc.Text(leaf)
	require.Equal(t, "Jon Snow", text)
}

func TestHighlightRoundTrip(t *testing.T) {
	doc, leaves := newDoc(t)
	original := texts(doc, leaves)
	s := New(doc, nil, nil)
	settings := aryaSettings()
	settings.Highlight = true
	require.NoError(t, s.Start(settings))

	require.Equal(t, `<mark replaced="">Arya</mark> rides north`, texts(doc, leaves)[0])
	require.Equal(t, "Arya Stark", doc.Title())

	s.Stop()
	require.Equal(t, original, texts(doc, leaves))
}

func TestEnableReusesLastSettings(t *testing.T) {
	doc, leaves := newDoc(t)
	s := New(doc, nil, nil)
	require.NoError(t, s.Start(aryaSettings()))
	s.Stop()

	require.NoError(t, s.Enable())
	defer s.Stop()
	require.Equal(t, Running, s.State())
	require.Equal(t, "Arya rides north", texts(doc, leaves)[0])
}

func TestHistoryLimitZeroKeepsNothing(t *testing.T) {
	doc, _ := newDoc(t)
	s := New(doc, nil, nil)
	settings := aryaSettings()
	settings.HistoryLimit = 0
	require.NoError(t, s.Start(settings))
	s.Stop()
	require.Empty(t, s.History())
}

func TestMetricsAndTrace(t *testing.T) {
	doc, _ := newDoc(t)
	var buf bytes.Buffer
	logger := util.NewLoggerWithWriter(util.LevelTrace, &buf)
	collector := metrics.NewCollector(true)
	s := New(doc, logger, collector)

	require.NoError(t, s.Start(aryaSettings()))
	s.Stop()

	snap := collector.Snapshot()
	require.Equal(t, uint64(2), snap.Totals.Passes)
	require.Equal(t, uint64(2), snap.Totals.Rewritten)
	require.Equal(t, uint64(2), snap.Totals.Reverted)
	out := buf.String()
	require.True(t, strings.Contains(out, "[TRACE] session.started"), out)
	require.True(t, strings.Contains(out, `"kind":"initial"`), out)
	require.True(t, strings.Contains(out, "document restored"), out)
}

func TestSettingsFromConfig(t *testing.T) {
	cfg, err := config.Parse([]byte(`
highlight: true
target: {field1: Arya, field3: Stark}
sources:
  - {field1: Jon, field3: Snow}
marker: {tag: span, attribute: data-swap}
historyLimit: 4
`))
	require.NoError(t, err)
	settings := SettingsFromConfig(cfg)
	require.True(t, settings.Enabled)
	require.True(t, settings.Highlight)
	require.Equal(t, pattern.Identity{Field1: "Arya", Field3: "Stark"}, settings.Target)
	require.Equal(t, []pattern.Identity{{Field1: "Jon", Field3: "Snow"}}, settings.Sources)
	require.Equal(t, "span", settings.Marker.Tag)
	require.Equal(t, 4, settings.HistoryLimit)
	require.Equal(t, Settings{}, SettingsFromConfig(nil))
}
