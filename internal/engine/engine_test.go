package engine

import (
	"context"
	"math/rand"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/born-ml/graphnet/internal/graph"
	"github.com/born-ml/graphnet/internal/observability"
	"github.com/born-ml/graphnet/internal/parallel"
)

// wordNetwork is a small word2vec-shaped network: vocabulary in, embedding
// hidden layer, softmax over the vocabulary out.
func wordNetwork(t *testing.T) (*graph.Graph, graph.LayerID) {
	t.Helper()
	b := graph.NewBuilder()
	in, err := b.AddInput("vocab", 12)
	require.NoError(t, err)
	emb, err := b.AddLayer(graph.LayerSpec{Name: "embedding", Nodes: 5, Previous: []graph.LayerID{in}})
	require.NoError(t, err)
	out, err := b.AddLayer(graph.LayerSpec{Name: "context", Nodes: 12, Previous: []graph.LayerID{emb}, Activation: graph.Softmax})
	require.NoError(t, err)
	g, err := b.Build(out)
	require.NoError(t, err)
	g.InitialiseSeed(17)
	return g, emb
}

func randomRows(n, width int, seed int64) [][]float64 {
	//nolint:gosec // Deterministic test source.
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, width)
		for j := range rows[i] {
			rows[i][j] = rng.NormFloat64()
		}
	}
	return rows
}

func TestEvaluateBatch_MatchesSequential(t *testing.T) {
	g, _ := wordNetwork(t)
	rows := randomRows(101, 12, 1)

	for _, cfg := range []parallel.Config{{Enabled: false}, parallel.WithWorkers(4)} {
		e, err := New(g, WithParallel(cfg), WithLogger(zaptest.NewLogger(t)))
		require.NoError(t, err)

		got, err := e.EvaluateBatch(context.Background(), rows)
		require.NoError(t, err)
		require.Len(t, got, len(rows))
		for i, row := range rows {
			want, err := g.GetResults(row)
			require.NoError(t, err)
			assert.Equal(t, want, got[i], "row %d", i)
		}
	}
}

func TestEvaluateBatch_ReportsFirstBadRow(t *testing.T) {
	g, _ := wordNetwork(t)
	rows := randomRows(40, 12, 2)
	rows[7] = []float64{1, 2}

	e, err := New(g, WithWorkers(4))
	require.NoError(t, err)
	got, err := e.EvaluateBatch(context.Background(), rows)
	assert.Nil(t, got)
	require.ErrorIs(t, err, graph.ErrInputLength)
	assert.Contains(t, err.Error(), "row 7")
}

func TestEvaluateBatch_Cancelled(t *testing.T) {
	g, _ := wordNetwork(t)
	e, err := New(g)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.EvaluateBatch(ctx, randomRows(10, 12, 3))
	assert.ErrorIs(t, err, context.Canceled)

	_, err = e.Lookup(ctx, 0, 0, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEvaluateBatchFor_MultipleInputs(t *testing.T) {
	b := graph.NewBuilder()
	a, _ := b.AddInput("a", 2)
	c, _ := b.AddInput("c", 3)
	out, _ := b.AddLayer(graph.LayerSpec{Nodes: 2, Previous: []graph.LayerID{a, c}, Activation: graph.Sigmoid})
	g, err := b.Build(out)
	require.NoError(t, err)
	g.InitialiseSeed(5)

	rows := []map[graph.LayerID][]float64{
		{a: {1, 0}, c: {0, 1, 0}},
		{a: {0.5, 0.5}, c: {-1, 0, 2}},
	}
	e, err := New(g)
	require.NoError(t, err)
	got, err := e.EvaluateBatchFor(context.Background(), rows)
	require.NoError(t, err)
	for i, row := range rows {
		want, err := g.GetResultsFor(row)
		require.NoError(t, err)
		assert.Equal(t, want, got[i])
	}

	_, err = e.EvaluateBatch(context.Background(), [][]float64{{1, 0}})
	assert.ErrorIs(t, err, graph.ErrAmbiguousInput)
	_, err = e.Embeddings(context.Background(), 1)
	assert.ErrorIs(t, err, graph.ErrAmbiguousInput)
}

func TestEmbeddings_HiddenLayerRows(t *testing.T) {
	g, emb := wordNetwork(t)
	view, err := g.WithOutput(emb)
	require.NoError(t, err)

	e, err := New(view, WithWorkers(3))
	require.NoError(t, err)
	matrix, err := e.Embeddings(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, matrix, 12)

	for i, row := range matrix {
		require.Len(t, row, 5)
		oneHot := make([]float64, 12)
		oneHot[i] = 1
		want, err := view.GetResults(oneHot)
		require.NoError(t, err)
		assert.Equal(t, want, row, "token %d", i)
	}
}

func TestLookup(t *testing.T) {
	g, _ := wordNetwork(t)
	e, err := New(g)
	require.NoError(t, err)

	v, err := e.Lookup(context.Background(), 3, 4, 1)
	require.NoError(t, err)
	oneHot := make([]float64, 12)
	oneHot[3] = 1
	want, err := g.GetResults(oneHot)
	require.NoError(t, err)
	assert.Equal(t, want[4], v)

	_, err = e.Lookup(context.Background(), 12, 0, 1)
	assert.ErrorIs(t, err, graph.ErrIndexOutOfRange)
}

func TestEngine_Metrics(t *testing.T) {
	g, _ := wordNetwork(t)
	metrics := observability.NewCollector()
	e, err := New(g, WithMetrics(metrics))
	require.NoError(t, err)

	_, err = e.EvaluateBatch(context.Background(), randomRows(6, 12, 4))
	require.NoError(t, err)
	_, err = e.EvaluateBatch(context.Background(), [][]float64{{1}})
	require.Error(t, err)
	_, err = e.Lookup(context.Background(), 0, 0, 1)
	require.NoError(t, err)
	matrix, err := e.Embeddings(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, matrix, 12)

	// One per vocabulary row, not one per computed output node.
	assert.InDelta(t, 12, testutil.ToFloat64(metrics.Evaluations.WithLabelValues(observability.ModeEmbedding)), 0)
	assert.InDelta(t, 7, testutil.ToFloat64(metrics.Evaluations.WithLabelValues(observability.ModeBatch)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.EvaluationErrors.WithLabelValues(observability.ModeBatch)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Evaluations.WithLabelValues(observability.ModeLookup)), 0)
}

func TestNew_RejectsInvalidGraph(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	g, _ := wordNetwork(t)
	w, ok := g.Output().Node(0).BiasWeight(g.Output().Previous()[0])
	require.True(t, ok)
	w.Adjust(1e308)
	w.Adjust(1e308)
	_, err = New(g)
	assert.ErrorIs(t, err, graph.ErrMalformedGraph)
}
