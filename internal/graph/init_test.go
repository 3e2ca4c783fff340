package graph

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

// allWeights collects every connection and bias weight reachable from the output.
func allWeights(t *testing.T, g *Graph) []*Weight {
	t.Helper()
	ids, err := g.Reachable(g.OutputID())
	require.NoError(t, err)
	var ws []*Weight
	for _, id := range ids {
		l, err := g.Layer(id)
		require.NoError(t, err)
		for _, n := range l.Nodes() {
			for _, ref := range n.Connections() {
				w, _ := n.Weight(ref)
				ws = append(ws, w)
			}
			for _, prev := range n.BiasLayers() {
				w, _ := n.BiasWeight(prev)
				ws = append(ws, w)
			}
		}
	}
	return ws
}

func TestInitialise_TouchesEveryReachableWeight(t *testing.T) {
	for _, init := range []InitialisationType{GlorotUniform, HeEtAl, RandomUniform, RandomGaussian, ScaledUniform} {
		t.Run(init.String(), func(t *testing.T) {
			b := NewBuilder()
			in, _ := b.AddInput("in", 4)
			h1, _ := b.AddLayer(LayerSpec{Nodes: 3, Previous: []LayerID{in}, Initialisation: init})
			h2, _ := b.AddLayer(LayerSpec{Nodes: 2, Previous: []LayerID{in}, Initialisation: init})
			out, _ := b.AddLayer(LayerSpec{Nodes: 2, Previous: []LayerID{h1, h2}, Initialisation: init})
			g, err := b.Build(out)
			require.NoError(t, err)

			const stale = 1234.5
			weights := allWeights(t, g)
			require.Len(t, weights, g.WeightCount())
			for _, w := range weights {
				w.Adjust(stale)
			}

			g.InitialiseSeed(99)

			for _, w := range weights {
				v := w.Value()
				assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "non-finite weight %v", v)
				assert.NotEqual(t, stale, v)
				assert.Less(t, math.Abs(v), 100.0)
			}
		})
	}
}

func TestInitialise_SkipsNilNode(t *testing.T) {
	b := NewBuilder()
	in, _ := b.AddInput("in", 3)
	h, _ := b.AddLayer(LayerSpec{Nodes: 3, Previous: []LayerID{in}})
	out, _ := b.AddLayer(LayerSpec{Nodes: 2, Previous: []LayerID{h, in}})
	g, err := b.Build(out)
	require.NoError(t, err)

	const stale = 1234.5
	weights := allWeights(t, g)
	for _, w := range weights {
		w.Adjust(stale)
	}

	missing := g.layers[h].nodes[1]
	var skipped []*Weight
	for _, ref := range missing.Connections() {
		w, _ := missing.Weight(ref)
		skipped = append(skipped, w)
	}
	for _, prev := range missing.BiasLayers() {
		w, _ := missing.BiasWeight(prev)
		skipped = append(skipped, w)
	}
	g.layers[h].nodes[1] = nil

	require.NotPanics(t, func() { g.InitialiseSeed(3) })

	redrawn := 0
	for _, w := range weights {
		if containsWeight(skipped, w) {
			assert.Equal(t, stale, w.Value())
			continue
		}
		assert.NotEqual(t, stale, w.Value())
		redrawn++
	}
	assert.Equal(t, len(weights)-len(skipped), redrawn)
}

func containsWeight(ws []*Weight, w *Weight) bool {
	for _, x := range ws {
		if x == w {
			return true
		}
	}
	return false
}

func TestInitialise_SameSeedSameWeights(t *testing.T) {
	a := randomNetwork(t, Linear, 5)
	b := randomNetwork(t, Linear, 5)
	c := randomNetwork(t, Linear, 6)

	wa, wb, wc := allWeights(t, a), allWeights(t, b), allWeights(t, c)
	require.Equal(t, len(wa), len(wb))
	differs := false
	for i := range wa {
		assert.Equal(t, wa[i].Value(), wb[i].Value())
		if wa[i].Value() != wc[i].Value() {
			differs = true
		}
	}
	assert.True(t, differs, "different seeds should re-randomise")
}

func TestInitialiseFrom_LeavesOtherBranchesAlone(t *testing.T) {
	g, ids := diamondNetwork(t)
	a, b := ids[1], ids[2]

	bLayer, err := g.Layer(b)
	require.NoError(t, err)
	before, _ := bLayer.Node(0).Weight(NodeRef{Layer: 0, Node: 0})
	beforeValue := before.Value()

	//nolint:gosec // Deterministic test source.
	require.NoError(t, g.InitialiseFrom(a, rand.New(rand.NewSource(1))))

	after, _ := bLayer.Node(0).Weight(NodeRef{Layer: 0, Node: 0})
	assert.Equal(t, beforeValue, after.Value())

	aLayer, err := g.Layer(a)
	require.NoError(t, err)
	w, _ := aLayer.Node(0).Weight(NodeRef{Layer: 0, Node: 0})
	assert.NotEqual(t, 1.0, w.Value())

	//nolint:gosec // Deterministic test source.
	assert.ErrorIs(t, g.InitialiseFrom(17, rand.New(rand.NewSource(1))), ErrUnknownLayer)
}

func TestInitialise_UsesLayerFanInAndFanOut(t *testing.T) {
	b := NewBuilder()
	in, _ := b.AddInput("in", 30)
	out, _ := b.AddLayer(LayerSpec{Nodes: 10, Previous: []LayerID{in}, Initialisation: GlorotUniform})
	g, err := b.Build(out)
	require.NoError(t, err)
	g.InitialiseSeed(3)

	// Every node has fan-in 30, the layer has 10 nodes.
	bound := math.Sqrt(6.0 / 40.0)
	for _, w := range allWeights(t, g) {
		assert.LessOrEqual(t, math.Abs(w.Value()), bound)
	}
}

func TestInitialisationFuncs_Distribution(t *testing.T) {
	tests := []struct {
		init     InitialisationType
		fanIn    int
		fanOut   int
		wantMean float64
		wantStd  float64
	}{
		{GlorotUniform, 100, 50, 0, math.Sqrt(6.0/150.0) / math.Sqrt(3)},
		{HeEtAl, 200, 10, 0, math.Sqrt(2.0 / 200.0)},
		{RandomUniform, 1, 1, 0, 1 / math.Sqrt(3)},
		{RandomGaussian, 1, 1, 0, 1},
		{ScaledUniform, 64, 1, 0, (1.0 / 8.0) / math.Sqrt(3)},
	}

	for _, tt := range tests {
		t.Run(tt.init.String(), func(t *testing.T) {
			//nolint:gosec // Deterministic test source.
			rng := rand.New(rand.NewSource(42))
			fn := tt.init.Func()
			samples := make([]float64, 20000)
			for i := range samples {
				samples[i] = fn(rng, tt.fanIn, tt.fanOut)
			}
			mean, std := stat.MeanStdDev(samples, nil)
			assert.InDelta(t, tt.wantMean, mean, 0.05*tt.wantStd+0.01)
			assert.InEpsilon(t, tt.wantStd, std, 0.05)
		})
	}
}

func TestInitialisationFuncs_ZeroFanIn(t *testing.T) {
	//nolint:gosec // Deterministic test source.
	rng := rand.New(rand.NewSource(1))
	for _, init := range []InitialisationType{GlorotUniform, HeEtAl, ScaledUniform} {
		v := init.Func()(rng, 0, 0)
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "%s", init)
	}
}

func TestParseInitialisation(t *testing.T) {
	for i := range initialisationNames {
		it := InitialisationType(i)
		parsed, err := ParseInitialisation(it.String())
		require.NoError(t, err)
		assert.Equal(t, it, parsed)
	}
	parsed, err := ParseInitialisation("")
	require.NoError(t, err)
	assert.Equal(t, GlorotUniform, parsed)

	_, err = ParseInitialisation("orthogonal")
	assert.ErrorIs(t, err, ErrInvalidLayer)
	assert.Equal(t, "initialisation(200)", InitialisationType(200).String())
}
