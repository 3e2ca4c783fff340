package graph

// Clone returns a structurally identical copy of every layer reachable from
// the output layer. The copy shares no Node or Weight with g: weight values
// are copied, so adjusting a weight on one side never shows on the other.
// Layers that are not reachable from the output are dropped and the
// remaining ids are renumbered in post-order, inputs first.
func (g *Graph) Clone() *Graph {
	c, _ := g.CloneFrom(g.output)
	return c
}

// CloneFrom is Clone rooted at layer id, which becomes the clone's output layer.
func (g *Graph) CloneFrom(id LayerID) (*Graph, error) {
	if _, err := g.Layer(id); err != nil {
		return nil, err
	}
	c := &cloner{
		src:   g,
		remap: make(map[LayerID]LayerID, len(g.layers)),
	}
	out := c.clone(id)
	return &Graph{layers: c.layers, output: out}, nil
}

type cloner struct {
	src    *Graph
	layers []*Layer
	remap  map[LayerID]LayerID // Original id to clone id.
}

// clone copies predecessors before their consumer so every clone id is
// smaller than its consumers'. A shared layer is copied once and reused.
func (c *cloner) clone(id LayerID) LayerID {
	if cid, ok := c.remap[id]; ok {
		return cid
	}

	orig := c.src.layers[id]
	previous := make([]LayerID, len(orig.previous))
	for j, prev := range orig.previous {
		previous[j] = c.clone(prev)
	}

	cid := LayerID(len(c.layers))
	layer := &Layer{
		id:             cid,
		name:           orig.name,
		nodes:          make([]*Node, len(orig.nodes)),
		previous:       previous,
		activation:     orig.activation,
		initialisation: orig.initialisation,
	}
	for i, on := range orig.nodes {
		node := newNode()
		if on != nil {
			for j, prev := range orig.previous {
				for k := range c.src.layers[prev].nodes {
					if w, ok := on.weights[NodeRef{Layer: prev, Node: k}]; ok {
						node.weights[NodeRef{Layer: previous[j], Node: k}] = NewWeight(w.value)
					}
				}
				if b, ok := on.biasWeights[prev]; ok {
					node.biasWeights[previous[j]] = NewWeight(b.value)
				}
			}
		}
		layer.nodes[i] = node
	}

	c.layers = append(c.layers, layer)
	c.remap[id] = cid
	return cid
}
