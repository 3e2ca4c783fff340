package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/born-ml/graphnet/internal/graph"
	"github.com/born-ml/graphnet/internal/observability"
)

func testGraph(t *testing.T, hidden int, seed int64) *graph.Graph {
	t.Helper()
	b := graph.NewBuilder()
	in, err := b.AddInput("in", 3)
	require.NoError(t, err)
	h, err := b.AddLayer(graph.LayerSpec{Name: "h", Nodes: hidden, Previous: []graph.LayerID{in}, Activation: graph.Tanh})
	require.NoError(t, err)
	out, err := b.AddLayer(graph.LayerSpec{Name: "out", Nodes: 2, Previous: []graph.LayerID{h, in}, Activation: graph.Softmax})
	require.NoError(t, err)
	g, err := b.Build(out)
	require.NoError(t, err)
	g.InitialiseSeed(seed)
	return g
}

func openTest(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	r, err := Open(filepath.Join(t.TempDir(), "registry.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRegistry_PutGet(t *testing.T) {
	ctx := context.Background()
	r := openTest(t)
	g := testGraph(t, 4, 1)

	entry, err := r.Put(ctx, "classifier", g)
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, 3, entry.Layers)
	assert.Equal(t, g.WeightCount(), entry.Weights)
	assert.Len(t, entry.Checksum, 64)

	loaded, err := r.Get(ctx, "classifier")
	require.NoError(t, err)

	in := []float64{0.2, -1, 3}
	want, err := g.GetResults(in)
	require.NoError(t, err)
	got, err := loaded.GetResults(in)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRegistry_PutReplacesByName(t *testing.T) {
	ctx := context.Background()
	r := openTest(t)

	first, err := r.Put(ctx, "net", testGraph(t, 2, 1))
	require.NoError(t, err)
	second, err := r.Put(ctx, "net", testGraph(t, 5, 2))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	entries, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, second.ID, entries[0].ID)

	g, err := r.Get(ctx, "net")
	require.NoError(t, err)
	h, ok := g.LayerByName("h")
	require.True(t, ok)
	assert.Equal(t, 5, h.Len())
}

func TestRegistry_ListOrdered(t *testing.T) {
	ctx := context.Background()
	r := openTest(t)
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	for _, name := range []string{"zeta", "alpha", "mid"} {
		_, err := r.Put(ctx, name, testGraph(t, 3, 1))
		require.NoError(t, err)
	}

	entries, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "alpha", entries[0].Name)
	assert.Equal(t, "mid", entries[1].Name)
	assert.Equal(t, "zeta", entries[2].Name)
	assert.True(t, fixed.Equal(entries[0].CreatedAt))
}

func TestRegistry_Delete(t *testing.T) {
	ctx := context.Background()
	r := openTest(t)

	_, err := r.Put(ctx, "gone", testGraph(t, 2, 1))
	require.NoError(t, err)
	require.NoError(t, r.Delete(ctx, "gone"))

	_, err = r.Get(ctx, "gone")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, r.Delete(ctx, "gone"), ErrNotFound)
}

func TestRegistry_InvalidInput(t *testing.T) {
	ctx := context.Background()
	r := openTest(t)

	for _, name := range []string{"", " padded", "tab\tname", string(make([]byte, MaxNameLen+1))} {
		_, err := r.Put(ctx, name, testGraph(t, 2, 1))
		assert.ErrorIs(t, err, ErrInvalidName, "%q", name)
	}

	_, err := r.Put(ctx, "nil", nil)
	require.Error(t, err)
	entries, err := r.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRegistry_PersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "persist.db")

	r, err := Open(path)
	require.NoError(t, err)
	_, err = r.Put(ctx, "kept", testGraph(t, 3, 4))
	require.NoError(t, err)
	require.NoError(t, r.Close())

	r, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	g, err := r.Get(ctx, "kept")
	require.NoError(t, err)
	assert.Equal(t, 3, g.Len())
}

func TestRegistry_Metrics(t *testing.T) {
	ctx := context.Background()
	metrics := observability.NewCollector()
	r := openTest(t, WithMetrics(metrics))

	_, err := r.Put(ctx, "m", testGraph(t, 2, 1))
	require.NoError(t, err)
	_, err = r.Get(ctx, "missing")
	require.Error(t, err)

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RegistryOperations.WithLabelValues("put", observability.StatusOK)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RegistryOperations.WithLabelValues("get", observability.StatusError)), 0)
}
