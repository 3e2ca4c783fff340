// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package graph provides the public API for building, evaluating and
// persisting layered neural network graphs.
//
// A graph is a directed acyclic network of layers. Each layer holds nodes
// fully connected to the nodes of its predecessor layers, with one weight per
// connection and one bias weight per predecessor layer:
//   - Builder: assembles layers bottom-up, so graphs are acyclic by construction
//   - Evaluator: forward passes with reusable buffers (GetResults, GetResult)
//   - Clone / CloneFrom: deep copies rooted at any layer
//   - Save / Load / DeepCopy: the .gnet binary format
//
// Example:
//
//	b := graph.NewBuilder()
//	in, _ := b.AddInput("in", 4)
//	h, _ := b.AddLayer(graph.LayerSpec{Nodes: 8, Previous: []graph.LayerID{in}, Activation: graph.Tanh})
//	out, _ := b.AddLayer(graph.LayerSpec{Nodes: 2, Previous: []graph.LayerID{h}, Activation: graph.Softmax})
//	g, _ := b.Build(out)
//	g.InitialiseSeed(1)
//	probs, _ := g.GetResults([]float64{1, 0, 0, 1})
package graph

import (
	"io"

	"github.com/born-ml/graphnet/internal/graph"
	"github.com/born-ml/graphnet/internal/serialization"
)

// Core types.
type (
	Graph              = graph.Graph
	Layer              = graph.Layer
	Node               = graph.Node
	Weight             = graph.Weight
	Builder            = graph.Builder
	LayerSpec          = graph.LayerSpec
	LayerID            = graph.LayerID
	NodeRef            = graph.NodeRef
	Evaluator          = graph.Evaluator
	ActivationType     = graph.ActivationType
	InitialisationType = graph.InitialisationType
	InitialisationFunc = graph.InitialisationFunc
)

// Activation functions.
const (
	Linear    = graph.Linear
	Sigmoid   = graph.Sigmoid
	Tanh      = graph.Tanh
	ReLU      = graph.ReLU
	LeakyReLU = graph.LeakyReLU
	Softmax   = graph.Softmax
)

// Initialisation functions.
const (
	GlorotUniform  = graph.GlorotUniform
	HeEtAl         = graph.HeEtAl
	RandomUniform  = graph.RandomUniform
	RandomGaussian = graph.RandomGaussian
	ScaledUniform  = graph.ScaledUniform
)

// Errors.
var (
	ErrInputLength     = graph.ErrInputLength
	ErrIndexOutOfRange = graph.ErrIndexOutOfRange
	ErrMissingInput    = graph.ErrMissingInput
	ErrAmbiguousInput  = graph.ErrAmbiguousInput
	ErrNotInputLayer   = graph.ErrNotInputLayer
	ErrUnknownLayer    = graph.ErrUnknownLayer
	ErrInvalidLayer    = graph.ErrInvalidLayer
	ErrMalformedGraph  = graph.ErrMalformedGraph
	ErrBuilderUsed     = graph.ErrBuilderUsed

	ErrChecksumMismatch = serialization.ErrChecksumMismatch
	ErrTruncated        = serialization.ErrTruncated
)

// NewBuilder returns an empty graph builder.
func NewBuilder() *Builder {
	return graph.NewBuilder()
}

// NewWeight returns a weight holding v.
func NewWeight(v float64) *Weight {
	return graph.NewWeight(v)
}

// ParseActivation resolves an activation by name.
func ParseActivation(s string) (ActivationType, error) {
	return graph.ParseActivation(s)
}

// ParseInitialisation resolves an initialisation by name.
func ParseInitialisation(s string) (InitialisationType, error) {
	return graph.ParseInitialisation(s)
}

// Save writes the part of g reachable from its output layer to path.
func Save(g *Graph, path string) error {
	return serialization.Save(g, path)
}

// Load reads a graph written by Save.
func Load(path string) (*Graph, error) {
	return serialization.Load(path)
}

// Encode writes g in .gnet format to w.
func Encode(w io.Writer, g *Graph) error {
	return serialization.Encode(w, g, nil)
}

// Decode reads a .gnet encoded graph from r.
func Decode(r io.Reader) (*Graph, error) {
	return serialization.Decode(r)
}

// DeepCopy returns an independent copy of g made through the .gnet encoding.
func DeepCopy(g *Graph) (*Graph, error) {
	return serialization.DeepCopy(g)
}
