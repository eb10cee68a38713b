package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastFanOut(t *testing.T) {
	b := NewBroadcaster()
	s1 := b.Subscribe()
	s2 := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Broadcast("tool_start", map[string]any{"tool": "search"})

	for _, sub := range []*Subscriber{s1, s2} {
		select {
		case frame := <-sub.Frames():
			assert.Equal(t, "tool_start", frame.Event)
			var payload map[string]any
			require.NoError(t, json.Unmarshal(frame.Data, &payload))
			assert.Equal(t, "search", payload["tool"])
			assert.Equal(t, "tool_start", payload["type"])
			assert.NotEmpty(t, payload["timestamp"])
		default:
			t.Fatal("expected a frame on the subscriber queue")
		}
	}
}

func TestSlowSubscriberEvicted(t *testing.T) {
	b := NewBroadcaster()
	slow := b.Subscribe()
	_ = slow

	for i := 0; i <= QueueCapacity; i++ {
		b.Broadcast("tick", nil)
	}

	// The queue overflowed on the last broadcast, so the subscriber
	// was dropped.
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestUnsubscribe(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe()
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	// Broadcasting after unsubscribe must not panic.
	b.Broadcast("tick", nil)
}

func TestAgentStatusSnapshot(t *testing.T) {
	b := NewBroadcaster()
	b.SetAgentStatus("executor", "thinking")
	b.SetAgentStatus("research", "idle")

	snap := b.AgentStatuses()
	assert.Equal(t, "thinking", snap["executor"])

	// The snapshot is a copy.
	snap["executor"] = "mutated"
	assert.Equal(t, "thinking", b.AgentStatuses()["executor"])
}

// sseRecorder is a thread-safe ResponseWriter for streaming handlers.
type sseRecorder struct {
	mu     sync.Mutex
	header http.Header
	body   strings.Builder
}

func newSSERecorder() *sseRecorder {
	return &sseRecorder{header: make(http.Header)}
}

func (r *sseRecorder) Header() http.Header { return r.header }
func (r *sseRecorder) WriteHeader(int)     {}
func (r *sseRecorder) Flush()              {}

func (r *sseRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body.Write(p)
}

func (r *sseRecorder) Body() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body.String()
}

func TestServeHTTPInitAndEvents(t *testing.T) {
	b := NewBroadcaster()
	b.SetAgentStatus("executor", "idle")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/events/stream", nil).WithContext(ctx)
	rec := newSSERecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.ServeHTTP(rec, req)
	}()

	// Wait for the subscription before broadcasting.
	require.Eventually(t, func() bool { return b.SubscriberCount() == 1 },
		time.Second, 5*time.Millisecond)

	b.Broadcast("chat_reply", map[string]any{"agent": "executor"})

	require.Eventually(t, func() bool {
		return strings.Contains(rec.Body(), "event: chat_reply")
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	body := rec.Body()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(body, "event: init\n"), "stream must open with init")

	scanner := bufio.NewScanner(strings.NewReader(body))
	var initData string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") && initData == "" {
			initData = strings.TrimPrefix(line, "data: ")
		}
	}
	var init map[string]any
	require.NoError(t, json.Unmarshal([]byte(initData), &init))
	statuses := init["agent_status"].(map[string]any)
	assert.Equal(t, "idle", statuses["executor"])
}

func TestPingOnlyWhenIdle(t *testing.T) {
	b := NewBroadcaster()
	b.pingInterval = 80 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/events/stream", nil).WithContext(ctx)
	rec := newSSERecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.ServeHTTP(rec, req)
	}()

	require.Eventually(t, func() bool { return b.SubscriberCount() == 1 },
		time.Second, 5*time.Millisecond)

	// Steady traffic faster than the ping interval keeps resetting the
	// idle timer, so no ping fires during this window.
	for i := 0; i < 6; i++ {
		b.Broadcast("tick", nil)
		time.Sleep(30 * time.Millisecond)
	}
	assert.NotContains(t, rec.Body(), "event: ping")

	// Once traffic stops, the idle timer runs out and a ping arrives.
	require.Eventually(t, func() bool {
		return strings.Contains(rec.Body(), "event: ping")
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
