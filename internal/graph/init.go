package graph

import (
	"fmt"
	"math"
	"math/rand"
)

// InitialisationType selects how a layer's weights are drawn.
//
// Values are persisted, so existing constants must never be renumbered.
type InitialisationType uint8

// Initialisation functions.
const (
	GlorotUniform InitialisationType = iota
	HeEtAl
	RandomUniform
	RandomGaussian
	ScaledUniform
)

var initialisationNames = [...]string{
	GlorotUniform:  "glorot_uniform",
	HeEtAl:         "he_et_al",
	RandomUniform:  "random_uniform",
	RandomGaussian: "random_gaussian",
	ScaledUniform:  "scaled_uniform",
}

// InitialisationFunc draws a weight for a node with fanIn feeding nodes in a
// layer of fanOut nodes.
type InitialisationFunc func(rng *rand.Rand, fanIn, fanOut int) float64

// String implements fmt.Stringer.
func (t InitialisationType) String() string {
	if t.Valid() {
		return initialisationNames[t]
	}
	return fmt.Sprintf("initialisation(%d)", uint8(t))
}

// Valid reports whether t is a known initialisation.
func (t InitialisationType) Valid() bool {
	return int(t) < len(initialisationNames)
}

// ParseInitialisation resolves an initialisation by name. The empty string is GlorotUniform.
func ParseInitialisation(s string) (InitialisationType, error) {
	if s == "" {
		return GlorotUniform, nil
	}
	for i, name := range initialisationNames {
		if name == s {
			return InitialisationType(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown initialisation %q", ErrInvalidLayer, s)
}

// Func resolves the initialisation function for t.
// Unknown values fall back to GlorotUniform.
func (t InitialisationType) Func() InitialisationFunc {
	switch t {
	case HeEtAl:
		return heEtAl
	case RandomUniform:
		return randomUniform
	case RandomGaussian:
		return randomGaussian
	case ScaledUniform:
		return scaledUniform
	default:
		return glorotUniform
	}
}

// glorotUniform draws from U(-sqrt(6/(fanIn+fanOut)), sqrt(6/(fanIn+fanOut))).
func glorotUniform(rng *rand.Rand, fanIn, fanOut int) float64 {
	bound := math.Sqrt(6.0 / float64(atLeastOne(fanIn+fanOut)))
	return (rng.Float64()*2.0 - 1.0) * bound
}

// heEtAl draws from N(0, 2/fanIn).
func heEtAl(rng *rand.Rand, fanIn, _ int) float64 {
	return rng.NormFloat64() * math.Sqrt(2.0/float64(atLeastOne(fanIn)))
}

func randomUniform(rng *rand.Rand, _, _ int) float64 {
	return rng.Float64()*2.0 - 1.0
}

func randomGaussian(rng *rand.Rand, _, _ int) float64 {
	return rng.NormFloat64()
}

// scaledUniform draws from U(-1/sqrt(fanIn), 1/sqrt(fanIn)).
func scaledUniform(rng *rand.Rand, fanIn, _ int) float64 {
	bound := 1 / math.Sqrt(float64(atLeastOne(fanIn)))
	return (rng.Float64()*2.0 - 1.0) * bound
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// Initialise assigns fresh weights to every layer reachable from the output layer.
func (g *Graph) Initialise(rng *rand.Rand) {
	g.initialise(g.output, rng, make(map[LayerID]bool, len(g.layers)))
}

// InitialiseSeed is Initialise with a source seeded by seed.
func (g *Graph) InitialiseSeed(seed int64) {
	//nolint:gosec // Weight initialisation is not security-critical.
	g.Initialise(rand.New(rand.NewSource(seed)))
}

// InitialiseFrom assigns fresh weights to every layer reachable from id.
func (g *Graph) InitialiseFrom(id LayerID, rng *rand.Rand) error {
	if _, err := g.Layer(id); err != nil {
		return err
	}
	g.initialise(id, rng, make(map[LayerID]bool, len(g.layers)))
	return nil
}

// initialise visits layers depth-first from id toward the inputs. Each layer
// uses its own node count and each node its own fan-in; nothing is carried
// between sibling layers. A layer shared by several consumers is visited once.
func (g *Graph) initialise(id LayerID, rng *rand.Rand, visited map[LayerID]bool) {
	if visited[id] {
		return
	}
	visited[id] = true

	layer := g.layers[id]
	fn := layer.initialisation.Func()
	fanOut := len(layer.nodes)
	for _, node := range layer.nodes {
		if node == nil {
			continue
		}
		fanIn := node.FanIn()
		for _, prev := range layer.previous {
			for k := range g.layers[prev].nodes {
				if w, ok := node.weights[NodeRef{Layer: prev, Node: k}]; ok {
					w.reset()
					w.Adjust(fn(rng, fanIn, fanOut))
				}
			}
		}
		for _, prev := range layer.previous {
			if w, ok := node.biasWeights[prev]; ok {
				w.reset()
				w.Adjust(fn(rng, fanIn, fanOut))
			}
		}
	}

	for _, prev := range layer.previous {
		g.initialise(prev, rng, visited)
	}
}
