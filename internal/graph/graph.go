// Package graph implements a neural-network computation graph.
//
// A Graph is an arena of layers addressed by LayerID. Every layer lists the
// layers feeding into it; predecessors always precede their consumers in the
// arena, so arena order is a topological order and the structure is a DAG by
// construction. Layers may feed several consumers (fan-out) and consume
// several predecessors (fan-in), so the graph is not limited to a linear stack.
//
// Each node holds one weight per predecessor node and one bias weight per
// predecessor layer. Outputs are computed by an Evaluator, which owns its
// own value buffers; weights are read-only during evaluation, so distinct
// evaluators over the same graph can run concurrently.
//
// Basic usage:
//
//	b := graph.NewBuilder()
//	in, _ := b.AddInput("in", 2)
//	hidden, _ := b.AddLayer(graph.LayerSpec{Name: "hidden", Nodes: 3, Previous: []graph.LayerID{in}, Activation: graph.Sigmoid})
//	out, _ := b.AddLayer(graph.LayerSpec{Name: "out", Nodes: 1, Previous: []graph.LayerID{hidden}})
//	g, _ := b.Build(out)
//	g.InitialiseSeed(42)
//	results, err := g.GetResults([]float64{1, 0})
package graph

import (
	"fmt"
	"math"
)

// Graph is a DAG of layers with one designated output layer.
type Graph struct {
	layers []*Layer
	output LayerID
}

// Len returns the number of layers in the arena, reachable or not.
func (g *Graph) Len() int { return len(g.layers) }

// Layer returns the layer with the given id.
func (g *Graph) Layer(id LayerID) (*Layer, error) {
	if id < 0 || int(id) >= len(g.layers) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownLayer, id)
	}
	return g.layers[id], nil
}

// LayerByName returns the first layer with the given name.
func (g *Graph) LayerByName(name string) (*Layer, bool) {
	for _, l := range g.layers {
		if l.name == name {
			return l, true
		}
	}
	return nil, false
}

// Layers returns all layers in arena (topological) order.
func (g *Graph) Layers() []*Layer {
	out := make([]*Layer, len(g.layers))
	copy(out, g.layers)
	return out
}

// Output returns the designated output layer.
func (g *Graph) Output() *Layer { return g.layers[g.output] }

// OutputID returns the id of the designated output layer.
func (g *Graph) OutputID() LayerID { return g.output }

// WithOutput returns a view of g that shares its layers and weights but
// designates id as the output layer.
func (g *Graph) WithOutput(id LayerID) (*Graph, error) {
	if _, err := g.Layer(id); err != nil {
		return nil, err
	}
	return &Graph{layers: g.layers, output: id}, nil
}

// Reachable returns the ids of every layer reachable from id through
// predecessor edges, id included, in ascending (topological) order.
func (g *Graph) Reachable(id LayerID) ([]LayerID, error) {
	if _, err := g.Layer(id); err != nil {
		return nil, err
	}
	seen := make([]bool, len(g.layers))
	g.mark(id, seen)
	ids := make([]LayerID, 0, len(g.layers))
	for i, ok := range seen {
		if ok {
			ids = append(ids, LayerID(i))
		}
	}
	return ids, nil
}

func (g *Graph) mark(id LayerID, seen []bool) {
	if seen[id] {
		return
	}
	seen[id] = true
	for _, prev := range g.layers[id].previous {
		g.mark(prev, seen)
	}
}

// InputLayers returns the input layers reachable from id in ascending order.
func (g *Graph) InputLayers(id LayerID) ([]LayerID, error) {
	ids, err := g.Reachable(id)
	if err != nil {
		return nil, err
	}
	inputs := ids[:0]
	for _, rid := range ids {
		if g.layers[rid].IsInput() {
			inputs = append(inputs, rid)
		}
	}
	return inputs, nil
}

// WeightCount returns the number of connection and bias weights reachable
// from the output layer.
func (g *Graph) WeightCount() int {
	ids, _ := g.Reachable(g.output)
	total := 0
	for _, id := range ids {
		for _, n := range g.layers[id].nodes {
			if n != nil {
				total += len(n.weights) + len(n.biasWeights)
			}
		}
	}
	return total
}

// Validate checks the structural invariants of the whole arena: predecessors
// precede their consumers, every node holds exactly one weight per
// predecessor node and one bias per predecessor layer, and all weights are finite.
func (g *Graph) Validate() error {
	if len(g.layers) == 0 {
		return fmt.Errorf("%w: no layers", ErrMalformedGraph)
	}
	if g.output < 0 || int(g.output) >= len(g.layers) {
		return fmt.Errorf("%w: output layer %d", ErrUnknownLayer, g.output)
	}
	for i, l := range g.layers {
		if err := g.validateLayer(LayerID(i), l); err != nil {
			return err
		}
	}
	return nil
}

//nolint:gocognit // Invariant checks are clearer kept together.
func (g *Graph) validateLayer(id LayerID, l *Layer) error {
	if l == nil || l.id != id {
		return fmt.Errorf("%w: layer %d is not at its arena position", ErrMalformedGraph, id)
	}
	if len(l.nodes) == 0 {
		return fmt.Errorf("%w: layer %d has no nodes", ErrMalformedGraph, id)
	}
	if !l.activation.Valid() || !l.initialisation.Valid() {
		return fmt.Errorf("%w: layer %d has unknown function selectors", ErrMalformedGraph, id)
	}

	fanIn := 0
	seen := make(map[LayerID]bool, len(l.previous))
	for _, prev := range l.previous {
		if prev < 0 || prev >= id {
			return fmt.Errorf("%w: layer %d has predecessor %d that does not precede it", ErrMalformedGraph, id, prev)
		}
		if seen[prev] {
			return fmt.Errorf("%w: layer %d lists predecessor %d twice", ErrMalformedGraph, id, prev)
		}
		seen[prev] = true
		fanIn += len(g.layers[prev].nodes)
	}

	for i, n := range l.nodes {
		if n == nil {
			return fmt.Errorf("%w: layer %d node %d is nil", ErrMalformedGraph, id, i)
		}
		if len(n.weights) != fanIn || len(n.biasWeights) != len(l.previous) {
			return fmt.Errorf("%w: layer %d node %d has %d weights and %d biases, want %d and %d",
				ErrMalformedGraph, id, i, len(n.weights), len(n.biasWeights), fanIn, len(l.previous))
		}
		for _, prev := range l.previous {
			for k := range g.layers[prev].nodes {
				w, ok := n.weights[NodeRef{Layer: prev, Node: k}]
				if !ok || w == nil {
					return fmt.Errorf("%w: layer %d node %d has no weight from %d:%d", ErrMalformedGraph, id, i, prev, k)
				}
				if math.IsNaN(w.value) || math.IsInf(w.value, 0) {
					return fmt.Errorf("%w: layer %d node %d weight from %d:%d is not finite", ErrMalformedGraph, id, i, prev, k)
				}
			}
			b, ok := n.biasWeights[prev]
			if !ok || b == nil {
				return fmt.Errorf("%w: layer %d node %d has no bias for layer %d", ErrMalformedGraph, id, i, prev)
			}
			if math.IsNaN(b.value) || math.IsInf(b.value, 0) {
				return fmt.Errorf("%w: layer %d node %d bias for layer %d is not finite", ErrMalformedGraph, id, i, prev)
			}
		}
	}
	return nil
}
