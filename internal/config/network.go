package config

import (
	"fmt"

	"github.com/born-ml/graphnet/internal/graph"
)

// NetworkConfig describes a topology by layer name.
//
//	network:
//	  seed: 7
//	  output: out
//	  layers:
//	    - {name: in, nodes: 4}
//	    - {name: hidden, nodes: 8, previous: [in], activation: tanh}
//	    - {name: out, nodes: 2, previous: [hidden, in], activation: softmax}
type NetworkConfig struct {
	Seed   int64         `yaml:"seed"`
	Output string        `yaml:"output" validate:"required"`
	Layers []LayerConfig `yaml:"layers" validate:"required,min=1,dive"`
}

// LayerConfig is one entry of the topology table. A layer without
// predecessors is an input layer.
type LayerConfig struct {
	Name           string   `yaml:"name" validate:"required"`
	Nodes          int      `yaml:"nodes" validate:"gte=1"`
	Previous       []string `yaml:"previous" validate:"dive,required"`
	Activation     string   `yaml:"activation"`
	Initialisation string   `yaml:"initialisation"`
}

// Build constructs the graph and initialises it with the configured seed.
// Layers may only name layers listed before them.
func (n *NetworkConfig) Build() (*graph.Graph, error) {
	b := graph.NewBuilder()
	ids := make(map[string]graph.LayerID, len(n.Layers))

	for _, lc := range n.Layers {
		if _, dup := ids[lc.Name]; dup {
			return nil, fmt.Errorf("%w: layer %q defined twice", ErrInvalidConfig, lc.Name)
		}
		act, err := graph.ParseActivation(lc.Activation)
		if err != nil {
			return nil, fmt.Errorf("%w: layer %q: %w", ErrInvalidConfig, lc.Name, err)
		}
		initType, err := graph.ParseInitialisation(lc.Initialisation)
		if err != nil {
			return nil, fmt.Errorf("%w: layer %q: %w", ErrInvalidConfig, lc.Name, err)
		}

		prev := make([]graph.LayerID, 0, len(lc.Previous))
		for _, p := range lc.Previous {
			id, ok := ids[p]
			if !ok {
				return nil, fmt.Errorf("%w: layer %q uses %q, which is not defined before it", ErrInvalidConfig, lc.Name, p)
			}
			prev = append(prev, id)
		}

		id, err := b.AddLayer(graph.LayerSpec{
			Name:           lc.Name,
			Nodes:          lc.Nodes,
			Previous:       prev,
			Activation:     act,
			Initialisation: initType,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: layer %q: %w", ErrInvalidConfig, lc.Name, err)
		}
		ids[lc.Name] = id
	}

	out, ok := ids[n.Output]
	if !ok {
		return nil, fmt.Errorf("%w: output layer %q is not defined", ErrInvalidConfig, n.Output)
	}
	g, err := b.Build(out)
	if err != nil {
		return nil, err
	}
	g.InitialiseSeed(n.Seed)
	return g, nil
}
