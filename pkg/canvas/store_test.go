package canvas

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(StoreOptions{
		Path:       filepath.Join(t.TempDir(), "canvas_store.json"),
		AutoAttach: true,
	})
	require.NoError(t, err)
	return s
}

func TestCreateAndGetCanvas(t *testing.T) {
	s := newTestStore(t)

	c := s.CreateCanvas("Test", "a canvas", map[string]any{"origin": "test"})
	require.NotEmpty(t, c.ID)
	assert.Equal(t, "Test", c.Title)
	assert.Equal(t, c.CreatedAt, c.UpdatedAt)
	assert.Empty(t, c.Nodes)
	assert.Empty(t, c.Edges)
	assert.Empty(t, c.Events)

	got := s.GetCanvas(c.ID)
	require.NotNil(t, got)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, "test", got.Metadata["origin"])

	assert.Nil(t, s.GetCanvas("missing"))
}

func TestGetCanvasReturnsCopy(t *testing.T) {
	s := newTestStore(t)
	c := s.CreateCanvas("Test", "", nil)

	got := s.GetCanvas(c.ID)
	got.Title = "mutated"
	got.Metadata["x"] = 1

	again := s.GetCanvas(c.ID)
	assert.Equal(t, "Test", again.Title)
	assert.NotContains(t, again.Metadata, "x")
}

func TestListCanvasesOrderAndClamp(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		s.CreateCanvas(fmt.Sprintf("c%d", i), "", nil)
	}

	res := s.ListCanvases(3)
	assert.Equal(t, 3, res.Count)
	require.Len(t, res.Items, 3)
	for i := 1; i < len(res.Items); i++ {
		assert.GreaterOrEqual(t, res.Items[i-1].UpdatedAt, res.Items[i].UpdatedAt)
	}

	// Limit below 1 clamps to 1.
	res = s.ListCanvases(0)
	assert.Equal(t, 1, res.Count)
}

func TestAttachSession(t *testing.T) {
	s := newTestStore(t)
	c1 := s.CreateCanvas("one", "", nil)
	c2 := s.CreateCanvas("two", "", nil)

	res, err := s.AttachSession(c1.ID, "s1")
	require.NoError(t, err)
	assert.Equal(t, c1.ID, res.CanvasID)
	assert.Empty(t, res.PreviousCanvasID)

	// Re-attach elsewhere reports the previous canvas.
	res, err = s.AttachSession(c2.ID, "s1")
	require.NoError(t, err)
	assert.Equal(t, c1.ID, res.PreviousCanvasID)
	assert.Equal(t, c2.ID, s.GetCanvasIDForSession("s1"))

	// Idempotent on the session list.
	before := s.GetCanvas(c2.ID)
	_, err = s.AttachSession(c2.ID, "s1")
	require.NoError(t, err)
	after := s.GetCanvas(c2.ID)
	assert.Equal(t, before.SessionIDs, after.SessionIDs)
	assert.GreaterOrEqual(t, after.UpdatedAt, before.UpdatedAt)

	_, err = s.AttachSession("missing", "s1")
	assert.ErrorIs(t, err, ErrCanvasNotFound)
}

func TestUpsertNodeMerge(t *testing.T) {
	s := newTestStore(t)
	c := s.CreateCanvas("Test", "", nil)

	n, err := s.UpsertNode(c.ID, "agent:research", "agent", "research", "idle",
		&Position{X: 1, Y: 2}, map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, "idle", n.Status)

	// Merge: metadata shallow-merged, empty fields keep prior values.
	n, err = s.UpsertNode(c.ID, "agent:research", "", "", "running",
		nil, map[string]any{"b": 2})
	require.NoError(t, err)
	assert.Equal(t, "agent", n.Type)
	assert.Equal(t, "research", n.Title)
	assert.Equal(t, "running", n.Status)
	require.NotNil(t, n.Position)
	assert.Equal(t, 1.0, n.Position.X)
	assert.Contains(t, n.Metadata, "a")
	assert.Contains(t, n.Metadata, "b")
}

func TestAddEdgeDedup(t *testing.T) {
	s := newTestStore(t)
	c := s.CreateCanvas("Test", "", nil)

	e1, err := s.AddEdge(c.ID, "agent:a", "agent:b", "delegates", "", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultEdgeKind, e1.Kind)

	e2, err := s.AddEdge(c.ID, "agent:a", "agent:b", "delegates", "flow", nil)
	require.NoError(t, err)
	assert.Equal(t, e1.ID, e2.ID)

	got := s.GetCanvas(c.ID)
	assert.Len(t, got.Edges, 1)

	// Different label is a distinct edge.
	e3, err := s.AddEdge(c.ID, "agent:a", "agent:b", "other", "flow", nil)
	require.NoError(t, err)
	assert.NotEqual(t, e1.ID, e3.ID)
	assert.Len(t, s.GetCanvas(c.ID).Edges, 2)
}

func TestEventOrderingAndIDs(t *testing.T) {
	s := newTestStore(t)
	c := s.CreateCanvas("Test", "", nil)

	for i := 0; i < 20; i++ {
		_, err := s.AddEvent(c.ID, EventInput{Type: "tick", Message: fmt.Sprintf("%d", i)})
		require.NoError(t, err)
	}

	got := s.GetCanvas(c.ID)
	seen := make(map[string]bool)
	for i, ev := range got.Events {
		assert.False(t, seen[ev.ID], "duplicate event id %s", ev.ID)
		seen[ev.ID] = true
		if i > 0 {
			assert.GreaterOrEqual(t, ev.CreatedAt, got.Events[i-1].CreatedAt)
		}
	}
}

func TestEventRingBuffer(t *testing.T) {
	s := newTestStore(t)
	c := s.CreateCanvas("Test", "", nil)

	total := MaxEvents + 50
	for i := 0; i < total; i++ {
		_, err := s.AddEvent(c.ID, EventInput{Type: "tick", Message: fmt.Sprintf("%d", i)})
		require.NoError(t, err)
	}

	got := s.GetCanvas(c.ID)
	require.Len(t, got.Events, MaxEvents)
	assert.Equal(t, "50", got.Events[0].Message)
	assert.Equal(t, fmt.Sprintf("%d", total-1), got.Events[len(got.Events)-1].Message)
}

func TestEventMessageTruncation(t *testing.T) {
	s := newTestStore(t)
	c := s.CreateCanvas("Test", "", nil)

	long := make([]byte, MaxMessageLen+500)
	for i := range long {
		long[i] = 'x'
	}
	ev, err := s.AddEvent(c.ID, EventInput{Type: "tick", Message: string(long)})
	require.NoError(t, err)
	assert.Len(t, ev.Message, MaxMessageLen)
}

func TestRecordAgentEventAutoAttach(t *testing.T) {
	s := newTestStore(t)
	c := s.CreateCanvas("primary", "", nil)

	res := s.RecordAgentEvent("s-new", "research", "running", "working", nil)
	require.NotNil(t, res)
	assert.Equal(t, c.ID, res.CanvasID)
	assert.Equal(t, "agent_run", res.Event.Type)
	assert.Equal(t, c.ID, s.GetCanvasIDForSession("s-new"))

	got := s.GetCanvas(c.ID)
	require.Contains(t, got.Nodes, "agent:research")
	assert.Equal(t, "running", got.Nodes["agent:research"].Status)
}

func TestRecordAgentEventNoCanvas(t *testing.T) {
	s := newTestStore(t)
	assert.Nil(t, s.RecordAgentEvent("s1", "research", "running", "", nil))
}

func TestRecordAgentEventAutoAttachDisabled(t *testing.T) {
	s, err := NewStore(StoreOptions{
		Path:       filepath.Join(t.TempDir(), "canvas_store.json"),
		AutoAttach: false,
	})
	require.NoError(t, err)

	s.CreateCanvas("primary", "", nil)
	assert.Nil(t, s.RecordAgentEvent("s1", "research", "running", "", nil))
}

func TestViewPurity(t *testing.T) {
	s := newTestStore(t)
	c := s.CreateCanvas("Test", "", nil)
	_, err := s.UpsertNode(c.ID, "agent:a", "agent", "a", "running", nil, nil)
	require.NoError(t, err)
	_, err = s.AddEvent(c.ID, EventInput{Type: "tick", Status: "error", Message: "boom"})
	require.NoError(t, err)

	before := s.GetCanvas(c.ID)
	view := s.GetCanvasView(c.ID, ViewFilters{OnlyErrors: true})
	require.NotNil(t, view)
	view.Nodes["injected"] = &Node{ID: "injected"}

	after := s.GetCanvas(c.ID)
	assert.Equal(t, before, after)
}

func TestFilteredViewOnlyErrors(t *testing.T) {
	s := newTestStore(t)
	c := s.CreateCanvas("Test", "", nil)
	_, err := s.AttachSession(c.ID, "s1")
	require.NoError(t, err)
	_, err = s.AttachSession(c.ID, "s2")
	require.NoError(t, err)

	require.NotNil(t, s.RecordAgentEvent("s1", "executor", "completed", "done", nil))
	require.NotNil(t, s.RecordAgentEvent("s2", "research", "error", "it failed", nil))

	view := s.GetCanvasView(c.ID, ViewFilters{OnlyErrors: true})
	require.NotNil(t, view)
	require.Len(t, view.Events, 1)
	assert.Equal(t, "research", view.Events[0].Agent)
	require.Len(t, view.Nodes, 1)
	assert.Contains(t, view.Nodes, "agent:research")
	assert.Empty(t, view.Edges)
	assert.Equal(t, 1, view.ViewCounts["events"])
}

func TestViewSessionAndAgentFilters(t *testing.T) {
	s := newTestStore(t)
	c := s.CreateCanvas("Test", "", nil)
	_, err := s.AttachSession(c.ID, "s1")
	require.NoError(t, err)

	require.NotNil(t, s.RecordAgentEvent("s1", "executor", "completed", "ok", nil))
	require.NotNil(t, s.RecordAgentEvent("s2", "research", "completed", "ok", nil))

	view := s.GetCanvasView(c.ID, ViewFilters{SessionID: "s1"})
	require.NotNil(t, view)
	require.Len(t, view.Events, 1)
	assert.Equal(t, "executor", view.Events[0].Agent)
	assert.Contains(t, view.Nodes, "agent:executor")
	assert.NotContains(t, view.Nodes, "agent:research")

	view = s.GetCanvasView(c.ID, ViewFilters{Agent: "research"})
	require.Len(t, view.Events, 1)
	assert.Equal(t, "research", view.Events[0].Agent)
}

func TestViewEventLimitAndOrder(t *testing.T) {
	s := newTestStore(t)
	c := s.CreateCanvas("Test", "", nil)
	for i := 0; i < 10; i++ {
		_, err := s.AddEvent(c.ID, EventInput{Type: "tick", Message: fmt.Sprintf("%d", i)})
		require.NoError(t, err)
	}

	view := s.GetCanvasView(c.ID, ViewFilters{EventLimit: 3})
	require.Len(t, view.Events, 3)
	// Newest first.
	assert.Equal(t, "9", view.Events[0].Message)
	for i := 1; i < len(view.Events); i++ {
		assert.LessOrEqual(t, view.Events[i].CreatedAt, view.Events[i-1].CreatedAt)
	}
}

func TestPersistenceReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canvas_store.json")
	s1, err := NewStore(StoreOptions{Path: path, AutoAttach: true})
	require.NoError(t, err)

	c := s1.CreateCanvas("Test", "desc", nil)
	_, err = s1.AttachSession(c.ID, "s1")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := s1.AddEvent(c.ID, EventInput{Type: "tick", SessionID: "s1"})
		require.NoError(t, err)
	}

	s2, err := NewStore(StoreOptions{Path: path, AutoAttach: true})
	require.NoError(t, err)

	assert.Equal(t, s1.GetCanvas(c.ID), s2.GetCanvas(c.ID))
	assert.Equal(t, s1.SessionMappings(), s2.SessionMappings())
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canvas_store.json")
	s1, err := NewStore(StoreOptions{Path: path})
	require.NoError(t, err)
	c := s1.CreateCanvas("Test", "", nil)
	_, err = s1.AddEvent(c.ID, EventInput{Type: "tick", Payload: map[string]any{"n": 1.5}})
	require.NoError(t, err)

	first, err := os.ReadFile(path)
	require.NoError(t, err)

	// Reconstruct from file and trigger a save without changes.
	s2, err := NewStore(StoreOptions{Path: path})
	require.NoError(t, err)
	_ = s2.GetCanvas(c.ID)

	second, err := os.ReadFile(path)
	require.NoError(t, err)

	var a, b any
	require.NoError(t, json.Unmarshal(first, &a))
	require.NoError(t, json.Unmarshal(second, &b))
	assert.Equal(t, a, b)
}

func TestCorruptFileRecovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canvas_store.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	s, err := NewStore(StoreOptions{Path: path})
	require.NoError(t, err)
	assert.Equal(t, 0, s.ListCanvases(200).Count)

	// Store remains usable after recovery.
	c := s.CreateCanvas("fresh", "", nil)
	assert.NotNil(t, s.GetCanvas(c.ID))
}

func TestExternalWriterRefresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canvas_store.json")
	s1, err := NewStore(StoreOptions{Path: path})
	require.NoError(t, err)
	c := s1.CreateCanvas("Test", "", nil)

	// A second store instance acts as the out-of-process writer.
	s2, err := NewStore(StoreOptions{Path: path})
	require.NoError(t, err)
	_, err = s2.AddEvent(c.ID, EventInput{Type: "external"})
	require.NoError(t, err)

	got := s1.GetCanvas(c.ID)
	require.NotNil(t, got)
	require.Len(t, got.Events, 1)
	assert.Equal(t, "external", got.Events[0].Type)
}

func TestLegacyMigration(t *testing.T) {
	dir := t.TempDir()
	legacy := filepath.Join(dir, "old.json")
	target := filepath.Join(dir, "canvas_store.json")

	seed, err := NewStore(StoreOptions{Path: legacy})
	require.NoError(t, err)
	c := seed.CreateCanvas("legacy", "", nil)
	_, err = seed.AddEvent(c.ID, EventInput{Type: "tick"})
	require.NoError(t, err)

	s, err := NewStore(StoreOptions{
		Path:        target,
		LegacyPaths: []string{legacy, filepath.Join(dir, "absent.json")},
	})
	require.NoError(t, err)

	got := s.GetCanvas(c.ID)
	require.NotNil(t, got)
	assert.Equal(t, "legacy", got.Title)
}

func TestPrimaryCanvasID(t *testing.T) {
	s := newTestStore(t)
	assert.Empty(t, s.PrimaryCanvasID())

	c1 := s.CreateCanvas("one", "", nil)
	c2 := s.CreateCanvas("two", "", nil)

	// Touch c1 so it becomes the most recently updated.
	_, err := s.AddEvent(c1.ID, EventInput{Type: "tick"})
	require.NoError(t, err)

	id := s.PrimaryCanvasID()
	if id != c1.ID {
		// Timestamps can collide at microsecond resolution; the tie
		// break is by id.
		assert.Contains(t, []string{c1.ID, c2.ID}, id)
	}
}
