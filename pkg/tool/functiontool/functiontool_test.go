package functiontool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timus-ai/timus/pkg/tool"
)

type searchArgs struct {
	Query string `json:"query" jsonschema:"required,description=Search query"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Max results,default=10"`
}

func TestNewDerivesParameters(t *testing.T) {
	tl, err := New(
		Config{Name: "search", Description: "Search documents", Capabilities: []string{"search"}},
		func(_ context.Context, args searchArgs) (any, error) {
			return map[string]any{"query": args.Query, "limit": args.Limit}, nil
		},
	)
	require.NoError(t, err)
	assert.Equal(t, "search", tl.Name)
	assert.Equal(t, tool.CategoryCore, tl.Category)

	byName := make(map[string]tool.Parameter)
	for _, p := range tl.Parameters {
		byName[p.Name] = p
	}
	require.Contains(t, byName, "query")
	require.Contains(t, byName, "limit")
	assert.Equal(t, tool.TypeString, byName["query"].Type)
	assert.True(t, byName["query"].Required)
	assert.Equal(t, tool.TypeInteger, byName["limit"].Type)
	assert.False(t, byName["limit"].Required)
	assert.Equal(t, "Search query", byName["query"].Description)
}

func TestHandlerDecodesTypedArgs(t *testing.T) {
	tl, err := New(
		Config{Name: "search", Description: "Search documents"},
		func(_ context.Context, args searchArgs) (any, error) {
			return args.Query, nil
		},
	)
	require.NoError(t, err)

	result, err := tl.Handler(context.Background(), map[string]any{
		"query": "hello",
		"limit": float64(3),
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", result)
}

func TestHandlerRejectsBadArgs(t *testing.T) {
	tl, err := New(
		Config{Name: "search", Description: "Search documents"},
		func(_ context.Context, args searchArgs) (any, error) { return nil, nil },
	)
	require.NoError(t, err)

	_, err = tl.Handler(context.Background(), map[string]any{"limit": "not a number"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid arguments")
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Description: "x"}, func(_ context.Context, _ searchArgs) (any, error) { return nil, nil })
	assert.Error(t, err)

	_, err = New(Config{Name: "x"}, func(_ context.Context, _ searchArgs) (any, error) { return nil, nil })
	assert.Error(t, err)

	_, err = New[searchArgs](Config{Name: "x", Description: "y"}, nil)
	assert.Error(t, err)
}

func TestRegistryAcceptsFunctionTool(t *testing.T) {
	tl, err := New(
		Config{Name: "search", Description: "Search documents"},
		func(_ context.Context, args searchArgs) (any, error) { return args, nil },
	)
	require.NoError(t, err)

	r := tool.NewRegistry()
	require.NoError(t, r.Register(tl))
	assert.NoError(t, r.ValidateCall("search", map[string]any{"query": "x"}))
}
