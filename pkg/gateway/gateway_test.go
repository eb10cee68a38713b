package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timus-ai/timus/pkg/policy"
	"github.com/timus-ai/timus/pkg/stream"
	"github.com/timus-ai/timus/pkg/tool"
)

func newTestTools(t *testing.T) *tool.Registry {
	t.Helper()
	r := tool.NewRegistry()
	require.NoError(t, r.Register(&tool.Tool{
		Name:        "echo",
		Description: "Echo the input",
		Parameters: []tool.Parameter{
			{Name: "text", Type: tool.TypeString, Required: true},
			{Name: "repeat", Type: tool.TypeInteger, Default: 1},
		},
		Handler: func(_ context.Context, params map[string]any) (any, error) {
			return map[string]any{"text": params["text"], "repeat": params["repeat"]}, nil
		},
	}))
	require.NoError(t, r.Register(&tool.Tool{
		Name:        "fail",
		Description: "Always fails",
		Handler: func(_ context.Context, _ map[string]any) (any, error) {
			return nil, errors.New("kaputt")
		},
	}))
	require.NoError(t, r.Register(&tool.Tool{
		Name:        "nan",
		Description: "Returns a non-finite number",
		Handler: func(_ context.Context, _ map[string]any) (any, error) {
			return map[string]any{"value": math.NaN(), "inf": math.Inf(1)}, nil
		},
	}))
	require.NoError(t, r.Register(&tool.Tool{
		Name:        "rpc.ping",
		Description: "Reserved method",
		Handler: func(_ context.Context, _ map[string]any) (any, error) {
			return "pong", nil
		},
	}))
	return r
}

func call(t *testing.T, g *Gateway, body string) (*httptest.ResponseRecorder, *Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, &resp
}

func TestDispatchSuccess(t *testing.T) {
	g := New(Options{Tools: newTestTools(t)})

	rec, resp := call(t, g, `{"jsonrpc":"2.0","method":"echo","params":{"text":"hi"},"id":1}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, resp.Error)

	result := resp.Result.(map[string]any)
	assert.Equal(t, "hi", result["text"])
	// Declared default applied before dispatch.
	assert.Equal(t, float64(1), result["repeat"])
}

func TestValidationErrors(t *testing.T) {
	g := New(Options{Tools: newTestTools(t)})

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantHTTP int
	}{
		{
			name:     "missing required parameter",
			body:     `{"jsonrpc":"2.0","method":"echo","params":{},"id":1}`,
			wantCode: CodeInvalidParams,
			wantHTTP: http.StatusBadRequest,
		},
		{
			name:     "wrong parameter type",
			body:     `{"jsonrpc":"2.0","method":"echo","params":{"text":7},"id":1}`,
			wantCode: CodeInvalidParams,
			wantHTTP: http.StatusBadRequest,
		},
		{
			name:     "undeclared parameter",
			body:     `{"jsonrpc":"2.0","method":"echo","params":{"text":"x","nope":1},"id":1}`,
			wantCode: CodeInvalidParams,
			wantHTTP: http.StatusBadRequest,
		},
		{
			name:     "unknown method",
			body:     `{"jsonrpc":"2.0","method":"missing","params":{},"id":1}`,
			wantCode: CodeMethodNotFound,
			wantHTTP: http.StatusOK,
		},
		{
			name:     "parse error",
			body:     `{not json`,
			wantCode: CodeParseError,
			wantHTTP: http.StatusBadRequest,
		},
		{
			name:     "missing method",
			body:     `{"jsonrpc":"2.0","id":1}`,
			wantCode: CodeInvalidRequest,
			wantHTTP: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := call(t, g, tt.body)
			assert.Equal(t, tt.wantHTTP, rec.Code)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestPolicyDenialShortCircuits(t *testing.T) {
	b := stream.NewBroadcaster()
	sub := b.Subscribe()
	g := New(Options{
		Tools:       newTestTools(t),
		Policy:      policy.NewRuleGate(policy.DenyMethods("echo disabled", "echo")),
		Broadcaster: b,
	})

	rec, resp := call(t, g, `{"jsonrpc":"2.0","method":"echo","params":{"text":"hi"},"id":1}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)
	assert.Equal(t, "echo disabled", resp.Error.Message)

	// No tool_start was broadcast.
	select {
	case frame := <-sub.Frames():
		t.Fatalf("unexpected broadcast %s", frame.Event)
	default:
	}
}

func TestHandlerErrorBecomesGenericError(t *testing.T) {
	g := New(Options{Tools: newTestTools(t)})

	rec, resp := call(t, g, `{"jsonrpc":"2.0","method":"fail","params":{},"id":1}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInternalError, resp.Error.Code)
	assert.Equal(t, "kaputt", resp.Error.Message)
}

func TestToolLifecycleBroadcast(t *testing.T) {
	b := stream.NewBroadcaster()
	sub := b.Subscribe()
	g := New(Options{Tools: newTestTools(t), Broadcaster: b})

	_, resp := call(t, g, `{"jsonrpc":"2.0","method":"echo","params":{"text":"hi"},"id":1}`)
	require.Nil(t, resp.Error)

	start := <-sub.Frames()
	done := <-sub.Frames()
	assert.Equal(t, "tool_start", start.Event)
	assert.Equal(t, "tool_done", done.Event)

	var startPayload, donePayload map[string]any
	require.NoError(t, json.Unmarshal(start.Data, &startPayload))
	require.NoError(t, json.Unmarshal(done.Data, &donePayload))
	assert.Equal(t, "echo", startPayload["tool"])
	assert.NotEmpty(t, startPayload["tool_id"])
	assert.Equal(t, startPayload["tool_id"], donePayload["tool_id"])
}

func TestReservedPrefixNotBroadcast(t *testing.T) {
	b := stream.NewBroadcaster()
	sub := b.Subscribe()
	g := New(Options{Tools: newTestTools(t), Broadcaster: b})

	_, resp := call(t, g, `{"jsonrpc":"2.0","method":"rpc.ping","params":{},"id":1}`)
	require.Nil(t, resp.Error)
	assert.Equal(t, "pong", resp.Result)

	select {
	case frame := <-sub.Frames():
		t.Fatalf("reserved method must not broadcast, got %s", frame.Event)
	default:
	}
}

func TestNonFiniteNumbersSanitized(t *testing.T) {
	g := New(Options{Tools: newTestTools(t)})

	rec, resp := call(t, g, `{"jsonrpc":"2.0","method":"nan","params":{},"id":1}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, resp.Error)

	result := resp.Result.(map[string]any)
	assert.Equal(t, "NaN", result["value"])
	assert.Equal(t, "Infinity", result["inf"])
}

func TestRepairFallback(t *testing.T) {
	tools := tool.NewRegistry()
	require.NoError(t, tools.Register(&tool.Tool{
		Name:        "weird",
		Description: "Returns an unserializable value",
		Handler: func(_ context.Context, _ map[string]any) (any, error) {
			return map[string]any{"ch": make(chan int)}, nil
		},
	}))

	// Without repair the call fails.
	g := New(Options{Tools: tools})
	_, resp := call(t, g, `{"jsonrpc":"2.0","method":"weird","params":{},"id":1}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInternalError, resp.Error.Code)

	// With repair the result is rewritten.
	g = New(Options{Tools: tools, Repair: func(raw string) (string, error) {
		return `{"repaired":true}`, nil
	}})
	_, resp = call(t, g, `{"jsonrpc":"2.0","method":"weird","params":{},"id":1}`)
	require.Nil(t, resp.Error)
	assert.Equal(t, map[string]any{"repaired": true}, resp.Result)
}

func TestSanitizeResultNested(t *testing.T) {
	in := map[string]any{
		"list": []any{math.Inf(-1), 2.5, map[string]any{"n": math.NaN()}},
	}
	out := SanitizeResult(in).(map[string]any)
	list := out["list"].([]any)
	assert.Equal(t, "-Infinity", list[0])
	assert.Equal(t, 2.5, list[1])
	assert.Equal(t, "NaN", list[2].(map[string]any)["n"])
}
