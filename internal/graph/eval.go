package graph

import "fmt"

// Evaluator computes node outputs for a graph.
//
// It owns one value buffer per layer, reused across calls, so the last
// computed outputs stay readable through Output and LayerOutputs until the
// next call. An Evaluator must not be shared between goroutines; create one
// per goroutine instead. Weights are only read, so any number of evaluators
// may run over the same graph as long as nothing adjusts weights meanwhile.
type Evaluator struct {
	g       *Graph
	outputs [][]float64
	plans   map[LayerID]*plan
}

// plan is the evaluation order for one target layer.
type plan struct {
	order  []LayerID // Reachable layers, topological.
	inputs []LayerID // Reachable input layers, ascending.
}

// oneHot marks an input layer whose only non-zero value is at index.
type oneHot struct {
	layer LayerID
	index int
	value float64
}

// NewEvaluator returns an evaluator targeting g's output layer.
func (g *Graph) NewEvaluator() *Evaluator {
	outputs := make([][]float64, len(g.layers))
	for i, l := range g.layers {
		outputs[i] = make([]float64, len(l.nodes))
	}
	return &Evaluator{
		g:       g,
		outputs: outputs,
		plans:   make(map[LayerID]*plan),
	}
}

// GetResults evaluates the graph for a single input vector and returns the
// output layer's values in node order. Exactly one input layer must be
// reachable from the output layer.
func (e *Evaluator) GetResults(inputs []float64) ([]float64, error) {
	p, err := e.plan(e.g.output)
	if err != nil {
		return nil, err
	}
	if len(p.inputs) != 1 {
		return nil, fmt.Errorf("%w: %d reachable input layers", ErrAmbiguousInput, len(p.inputs))
	}
	return e.GetResultsFor(map[LayerID][]float64{p.inputs[0]: inputs})
}

// GetResultsFor evaluates the graph with one input vector per input layer
// and returns the output layer's values in node order. Every input layer
// reachable from the output must be seeded; seeded input layers that are not
// reachable are ignored.
func (e *Evaluator) GetResultsFor(inputs map[LayerID][]float64) ([]float64, error) {
	target := e.g.output
	p, err := e.plan(target)
	if err != nil {
		return nil, err
	}

	for id := range inputs {
		l, err := e.g.Layer(id)
		if err != nil {
			return nil, err
		}
		if !l.IsInput() {
			return nil, fmt.Errorf("%w: layer %d", ErrNotInputLayer, id)
		}
	}
	for _, id := range p.inputs {
		values, ok := inputs[id]
		if !ok {
			return nil, fmt.Errorf("%w: layer %d", ErrMissingInput, id)
		}
		if len(values) != len(e.outputs[id]) {
			return nil, fmt.Errorf("%w: layer %d has %d nodes, got %d values",
				ErrInputLength, id, len(e.outputs[id]), len(values))
		}
		copy(e.outputs[id], values)
	}

	for _, id := range p.order {
		if e.g.layers[id].IsInput() {
			continue
		}
		if err := e.computeLayer(id, nil); err != nil {
			return nil, err
		}
	}

	out := make([]float64, len(e.outputs[target]))
	copy(out, e.outputs[target])
	return out, nil
}

// GetResult computes a single output node for a one-hot input: the input
// node at inputIndex is set to inputValue and every other input is zero.
// Layers fed directly by the input layer read only the hot connection, and
// only the requested output node is computed (Softmax layers excepted, since
// they normalise over the whole layer). The result equals GetResults on the
// equivalent one-hot vector.
func (e *Evaluator) GetResult(inputIndex, outputIndex int, inputValue float64) (float64, error) {
	target := e.g.output
	p, err := e.plan(target)
	if err != nil {
		return 0, err
	}
	if len(p.inputs) != 1 {
		return 0, fmt.Errorf("%w: %d reachable input layers", ErrAmbiguousInput, len(p.inputs))
	}

	in := p.inputs[0]
	inValues := e.outputs[in]
	if inputIndex < 0 || inputIndex >= len(inValues) {
		return 0, fmt.Errorf("%w: input index %d, input layer has %d nodes", ErrIndexOutOfRange, inputIndex, len(inValues))
	}
	tl := e.g.layers[target]
	if outputIndex < 0 || outputIndex >= len(tl.nodes) {
		return 0, fmt.Errorf("%w: output index %d, output layer has %d nodes", ErrIndexOutOfRange, outputIndex, len(tl.nodes))
	}

	for i := range inValues {
		inValues[i] = 0
	}
	inValues[inputIndex] = inputValue
	if target == in {
		return inValues[outputIndex], nil
	}

	hot := &oneHot{layer: in, index: inputIndex, value: inputValue}
	for _, id := range p.order {
		if id == target || e.g.layers[id].IsInput() {
			continue
		}
		if err := e.computeLayer(id, hot); err != nil {
			return 0, err
		}
	}

	if !tl.activation.Elementwise() {
		if err := e.computeLayer(target, hot); err != nil {
			return 0, err
		}
		return e.outputs[target][outputIndex], nil
	}

	sum, err := e.preActivation(tl, outputIndex, hot)
	if err != nil {
		return 0, err
	}
	v := tl.activation.Activate(sum)
	e.outputs[target][outputIndex] = v
	return v, nil
}

// Output returns the last value computed for ref.
func (e *Evaluator) Output(ref NodeRef) (float64, error) {
	if ref.Layer < 0 || int(ref.Layer) >= len(e.outputs) {
		return 0, fmt.Errorf("%w: %d", ErrUnknownLayer, ref.Layer)
	}
	values := e.outputs[ref.Layer]
	if ref.Node < 0 || ref.Node >= len(values) {
		return 0, fmt.Errorf("%w: node %s", ErrIndexOutOfRange, ref)
	}
	return values[ref.Node], nil
}

// LayerOutputs returns a copy of the last values computed for layer id.
func (e *Evaluator) LayerOutputs(id LayerID) ([]float64, error) {
	if id < 0 || int(id) >= len(e.outputs) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownLayer, id)
	}
	out := make([]float64, len(e.outputs[id]))
	copy(out, e.outputs[id])
	return out, nil
}

func (e *Evaluator) plan(target LayerID) (*plan, error) {
	if p, ok := e.plans[target]; ok {
		return p, nil
	}
	order, err := e.g.Reachable(target)
	if err != nil {
		return nil, err
	}
	p := &plan{order: order}
	for _, id := range order {
		if e.g.layers[id].IsInput() {
			p.inputs = append(p.inputs, id)
		}
	}
	e.plans[target] = p
	return p, nil
}

// computeLayer fills the buffer of layer id from its predecessors' buffers.
func (e *Evaluator) computeLayer(id LayerID, hot *oneHot) error {
	l := e.g.layers[id]
	out := e.outputs[id]
	for i := range l.nodes {
		sum, err := e.preActivation(l, i, hot)
		if err != nil {
			return err
		}
		out[i] = sum
	}
	l.activation.apply(out, out)
	return nil
}

// preActivation sums every weighted predecessor output of node i, then the
// bias weight of every predecessor layer.
func (e *Evaluator) preActivation(l *Layer, i int, hot *oneHot) (float64, error) {
	node := l.nodes[i]
	sum := 0.0
	for _, prev := range l.previous {
		if hot != nil && prev == hot.layer {
			w, ok := node.weights[NodeRef{Layer: prev, Node: hot.index}]
			if !ok {
				return 0, e.missingWeight(l.id, i, NodeRef{Layer: prev, Node: hot.index})
			}
			sum += hot.value * w.value
			continue
		}
		for k, v := range e.outputs[prev] {
			w, ok := node.weights[NodeRef{Layer: prev, Node: k}]
			if !ok {
				return 0, e.missingWeight(l.id, i, NodeRef{Layer: prev, Node: k})
			}
			sum += v * w.value
		}
	}
	for _, prev := range l.previous {
		b, ok := node.biasWeights[prev]
		if !ok {
			return 0, fmt.Errorf("%w: layer %d node %d has no bias for layer %d", ErrMalformedGraph, l.id, i, prev)
		}
		sum += b.value
	}
	return sum, nil
}

func (e *Evaluator) missingWeight(id LayerID, i int, from NodeRef) error {
	return fmt.Errorf("%w: layer %d node %d has no weight from %s", ErrMalformedGraph, id, i, from)
}

// GetResults evaluates g with a fresh evaluator. See Evaluator.GetResults.
func (g *Graph) GetResults(inputs []float64) ([]float64, error) {
	return g.NewEvaluator().GetResults(inputs)
}

// GetResultsFor evaluates g with a fresh evaluator. See Evaluator.GetResultsFor.
func (g *Graph) GetResultsFor(inputs map[LayerID][]float64) ([]float64, error) {
	return g.NewEvaluator().GetResultsFor(inputs)
}

// GetResult evaluates one output node of g with a fresh evaluator. See Evaluator.GetResult.
func (g *Graph) GetResult(inputIndex, outputIndex int, inputValue float64) (float64, error) {
	return g.NewEvaluator().GetResult(inputIndex, outputIndex, inputValue)
}
