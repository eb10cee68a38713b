package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	// None of these may panic.
	m.RecordToolExecution(ctx, "echo", time.Second, nil)
	m.RecordDelegation(ctx, "research", true)
	m.RecordChatTurn(ctx, "executor", time.Second, errors.New("x"))
	m.SubscriberDelta(ctx, 1)
}

func TestGlobalMetricsRoundTrip(t *testing.T) {
	t.Cleanup(func() { SetGlobalMetrics(nil) })

	assert.Nil(t, GetGlobalMetrics())

	m := &Metrics{}
	SetGlobalMetrics(m)
	assert.Same(t, m, GetGlobalMetrics())
}

func TestInitMetricsAndRecord(t *testing.T) {
	m, err := InitMetrics()
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordToolExecution(ctx, "echo", 50*time.Millisecond, nil)
	m.RecordToolExecution(ctx, "echo", 10*time.Millisecond, errors.New("boom"))
	m.RecordDelegation(ctx, "research", false)
	m.RecordChatTurn(ctx, "executor", time.Second, nil)
	m.SubscriberDelta(ctx, 1)
	m.SubscriberDelta(ctx, -1)
}

func TestDisabledTracerIsNoop(t *testing.T) {
	tp, err := InitGlobalTracer(context.Background(), TracerConfig{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, tp)
	assert.NoError(t, Shutdown(context.Background(), tp))
}
