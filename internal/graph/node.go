package graph

import (
	"fmt"
	"sort"
)

// LayerID addresses a layer inside a graph's arena.
type LayerID int

// NodeRef addresses a node by its layer and position inside that layer.
type NodeRef struct {
	Layer LayerID
	Node  int
}

// String implements fmt.Stringer.
func (r NodeRef) String() string {
	return fmt.Sprintf("%d:%d", r.Layer, r.Node)
}

// Node is the atomic computation unit of a layer.
//
// weights holds one entry per node of every predecessor layer and
// biasWeights one entry per predecessor layer. Nodes of input layers have
// both maps empty. The node's output is not stored here; see Evaluator.
type Node struct {
	weights     map[NodeRef]*Weight
	biasWeights map[LayerID]*Weight
}

func newNode() *Node {
	return &Node{
		weights:     make(map[NodeRef]*Weight),
		biasWeights: make(map[LayerID]*Weight),
	}
}

// Weight returns the weight of the connection from the given predecessor node.
func (n *Node) Weight(from NodeRef) (*Weight, bool) {
	w, ok := n.weights[from]
	return w, ok
}

// BiasWeight returns the bias weight associated with the given predecessor layer.
func (n *Node) BiasWeight(from LayerID) (*Weight, bool) {
	w, ok := n.biasWeights[from]
	return w, ok
}

// FanIn returns the number of nodes feeding into n.
func (n *Node) FanIn() int {
	return len(n.weights)
}

// Connections returns the predecessor nodes of n ordered by layer, then node.
func (n *Node) Connections() []NodeRef {
	refs := make([]NodeRef, 0, len(n.weights))
	for ref := range n.weights {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Layer != refs[j].Layer {
			return refs[i].Layer < refs[j].Layer
		}
		return refs[i].Node < refs[j].Node
	})
	return refs
}

// BiasLayers returns the predecessor layers n holds a bias weight for, in ascending order.
func (n *Node) BiasLayers() []LayerID {
	ids := make([]LayerID, 0, len(n.biasWeights))
	for id := range n.biasWeights {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
