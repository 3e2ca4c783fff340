package graph

import "fmt"

// LayerSpec describes a layer to add to a Builder.
type LayerSpec struct {
	Name           string
	Nodes          int
	Previous       []LayerID // Empty for an input layer.
	Activation     ActivationType
	Initialisation InitialisationType
}

// Builder assembles a Graph bottom-up: a layer can only name layers that
// were added before it, which keeps the arena topologically ordered.
//
// Every node is connected to every node of its predecessor layers, with one
// bias weight per predecessor layer. All weights start at zero.
type Builder struct {
	layers []*Layer
	built  bool
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddInput adds a layer with no predecessors.
func (b *Builder) AddInput(name string, nodes int) (LayerID, error) {
	return b.AddLayer(LayerSpec{Name: name, Nodes: nodes})
}

// AddLayer adds a layer fed by ls.Previous and returns its id.
func (b *Builder) AddLayer(ls LayerSpec) (LayerID, error) {
	if b.built {
		return 0, ErrBuilderUsed
	}
	if ls.Nodes <= 0 {
		return 0, fmt.Errorf("%w: layer %q needs at least one node, got %d", ErrInvalidLayer, ls.Name, ls.Nodes)
	}
	if !ls.Activation.Valid() {
		return 0, fmt.Errorf("%w: layer %q: %s", ErrInvalidLayer, ls.Name, ls.Activation)
	}
	if !ls.Initialisation.Valid() {
		return 0, fmt.Errorf("%w: layer %q: %s", ErrInvalidLayer, ls.Name, ls.Initialisation)
	}

	seen := make(map[LayerID]bool, len(ls.Previous))
	for _, prev := range ls.Previous {
		if prev < 0 || int(prev) >= len(b.layers) {
			return 0, fmt.Errorf("%w: layer %q names predecessor %d", ErrUnknownLayer, ls.Name, prev)
		}
		if seen[prev] {
			return 0, fmt.Errorf("%w: layer %q lists predecessor %d twice", ErrInvalidLayer, ls.Name, prev)
		}
		seen[prev] = true
	}

	id := LayerID(len(b.layers))
	layer := &Layer{
		id:             id,
		name:           ls.Name,
		nodes:          make([]*Node, ls.Nodes),
		previous:       append([]LayerID(nil), ls.Previous...),
		activation:     ls.Activation,
		initialisation: ls.Initialisation,
	}
	for i := range layer.nodes {
		node := newNode()
		for _, prev := range layer.previous {
			for k := range b.layers[prev].nodes {
				node.weights[NodeRef{Layer: prev, Node: k}] = &Weight{}
			}
			node.biasWeights[prev] = &Weight{}
		}
		layer.nodes[i] = node
	}

	b.layers = append(b.layers, layer)
	return id, nil
}

// Build finalises the graph with output as its designated output layer.
// The builder cannot be used afterwards.
func (b *Builder) Build(output LayerID) (*Graph, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}
	if output < 0 || int(output) >= len(b.layers) {
		return nil, fmt.Errorf("%w: output layer %d", ErrUnknownLayer, output)
	}
	b.built = true
	return &Graph{layers: b.layers, output: output}, nil
}
