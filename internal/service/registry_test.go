package service

import (
	"context"
	"testing"

	"github.com/GriffinCanCode/AgentOS/webfetch/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockProvider struct {
	id       string
	category types.Category
	gotCtx   *types.Context
}

func (m *mockProvider) Definition() types.Service {
	return types.Service{
		ID:           m.id,
		Name:         "Mock " + m.id,
		Description:  "Retrieves documents for testing",
		Category:     m.category,
		Capabilities: []string{"robots_txt", "caching"},
		Tools: []types.Tool{
			{ID: m.id + ".get", Name: "Get", Returns: "object"},
		},
	}
}

func (m *mockProvider) Execute(ctx context.Context, toolID string, params map[string]interface{}, appCtx *types.Context) (*types.Result, error) {
	m.gotCtx = appCtx
	return &types.Result{
		Success: true,
		Data:    map[string]interface{}{"tool": toolID},
	}, nil
}

func TestRegisterAndList(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&mockProvider{id: "zeta", category: types.CategoryWeb}))
	require.NoError(t, r.Register(&mockProvider{id: "alpha", category: types.CategoryWeb}))
	require.Error(t, r.Register(&mockProvider{}))

	_, ok := r.Get("zeta")
	assert.True(t, ok)

	services := r.List(nil)
	require.Len(t, services, 2)
	assert.Equal(t, "alpha", services[0].ID)
	assert.Equal(t, "zeta", services[1].ID)

	other := types.Category("other")
	assert.Empty(t, r.List(&other))
}

func TestDiscover(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&mockProvider{id: "web", category: types.CategoryWeb}))

	results := r.Discover("fetch a web page and respect robots txt", 5)
	require.Len(t, results, 1)
	assert.Equal(t, "web", results[0].ID)

	assert.Empty(t, r.Discover("unrelated", 5))
}

func TestExecute(t *testing.T) {
	r := NewRegistry()
	p := &mockProvider{id: "web", category: types.CategoryWeb}
	require.NoError(t, r.Register(p))

	appCtx := &types.Context{RequestID: "req_1"}
	result, err := r.Execute(context.Background(), "web.get", nil, appCtx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "web.get", result.Data["tool"])
	assert.Same(t, appCtx, p.gotCtx)

	result, err = r.Execute(context.Background(), "nodot", nil, nil)
	assert.Error(t, err)
	assert.False(t, result.Success)

	result, err = r.Execute(context.Background(), "missing.get", nil, nil)
	assert.EqualError(t, err, "service not found: missing")
	assert.Equal(t, "service not found: missing", *result.Error)
}

func TestStats(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&mockProvider{id: "a", category: types.CategoryWeb}))
	require.NoError(t, r.Register(&mockProvider{id: "b", category: types.CategoryWeb}))

	stats := r.Stats()
	assert.Equal(t, 2, stats["total_services"])
	assert.Equal(t, 2, stats["total_tools"])
	assert.Equal(t, map[string]int{"web": 2}, stats["categories"])
}
