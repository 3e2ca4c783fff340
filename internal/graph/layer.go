package graph

// Layer is an ordered group of nodes plus the layers feeding into it.
//
// Node order is significant: it defines output vector positions and the
// indices accepted by GetResult. Layers are created by a Builder and never
// change shape afterwards.
type Layer struct {
	id             LayerID
	name           string
	nodes          []*Node
	previous       []LayerID
	activation     ActivationType
	initialisation InitialisationType
}

// ID returns the layer's position in its graph's arena.
func (l *Layer) ID() LayerID { return l.id }

// Name returns the optional layer name.
func (l *Layer) Name() string { return l.name }

// Len returns the number of nodes.
func (l *Layer) Len() int { return len(l.nodes) }

// Node returns the node at position i, or nil when i is out of range.
func (l *Layer) Node(i int) *Node {
	if i < 0 || i >= len(l.nodes) {
		return nil
	}
	return l.nodes[i]
}

// Nodes returns the layer's nodes in order. The slice is a copy; the nodes are not.
func (l *Layer) Nodes() []*Node {
	out := make([]*Node, len(l.nodes))
	copy(out, l.nodes)
	return out
}

// Previous returns the predecessor layer ids in declared order.
func (l *Layer) Previous() []LayerID {
	out := make([]LayerID, len(l.previous))
	copy(out, l.previous)
	return out
}

// IsInput reports whether the layer has no predecessors.
func (l *Layer) IsInput() bool { return len(l.previous) == 0 }

// Activation returns the layer's activation function selector.
func (l *Layer) Activation() ActivationType { return l.activation }

// Initialisation returns the layer's initialisation function selector.
func (l *Layer) Initialisation() InitialisationType { return l.initialisation }
