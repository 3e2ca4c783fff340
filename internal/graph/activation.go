package graph

import (
	"fmt"
	"math"
)

// ActivationType selects the activation function of a layer.
//
// Values are persisted, so existing constants must never be renumbered.
type ActivationType uint8

// Activation functions.
const (
	Linear ActivationType = iota
	Sigmoid
	Tanh
	ReLU
	LeakyReLU
	Softmax
)

// leakySlope is the LeakyReLU slope for non-positive inputs.
const leakySlope = 0.01

var activationNames = [...]string{
	Linear:    "linear",
	Sigmoid:   "sigmoid",
	Tanh:      "tanh",
	ReLU:      "relu",
	LeakyReLU: "leaky_relu",
	Softmax:   "softmax",
}

// String implements fmt.Stringer.
func (a ActivationType) String() string {
	if a.Valid() {
		return activationNames[a]
	}
	return fmt.Sprintf("activation(%d)", uint8(a))
}

// Valid reports whether a is a known activation.
func (a ActivationType) Valid() bool {
	return int(a) < len(activationNames)
}

// ParseActivation resolves an activation by name. The empty string is Linear.
func ParseActivation(s string) (ActivationType, error) {
	if s == "" {
		return Linear, nil
	}
	for i, name := range activationNames {
		if name == s {
			return ActivationType(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown activation %q", ErrInvalidLayer, s)
}

// Elementwise reports whether each output depends only on its own pre-activation.
// Softmax is the only layer-wide activation.
func (a ActivationType) Elementwise() bool {
	return a != Softmax
}

// Activate applies an elementwise activation to x.
// For Softmax it returns x unchanged; use apply for whole layers.
func (a ActivationType) Activate(x float64) float64 {
	switch a {
	case Sigmoid:
		return 1 / (1 + math.Exp(-x))
	case Tanh:
		return math.Tanh(x)
	case ReLU:
		if x > 0 {
			return x
		}
		return 0
	case LeakyReLU:
		if x > 0 {
			return x
		}
		return leakySlope * x
	default:
		return x
	}
}

// Derivative returns the derivative of the activation expressed in terms of
// its output y, which is what a training collaborator reads back after a
// forward pass. For Softmax this is the diagonal term y(1-y).
func (a ActivationType) Derivative(y float64) float64 {
	switch a {
	case Sigmoid, Softmax:
		return y * (1 - y)
	case Tanh:
		return 1 - y*y
	case ReLU:
		if y > 0 {
			return 1
		}
		return 0
	case LeakyReLU:
		if y > 0 {
			return 1
		}
		return leakySlope
	default:
		return 1
	}
}

// apply writes activation(pre) into out. pre and out may alias.
func (a ActivationType) apply(pre, out []float64) {
	if a != Softmax {
		for i, x := range pre {
			out[i] = a.Activate(x)
		}
		return
	}

	if len(pre) == 0 {
		return
	}
	// Shift by the max for numerical stability.
	maxVal := pre[0]
	for _, x := range pre[1:] {
		if x > maxVal {
			maxVal = x
		}
	}
	sum := 0.0
	for i, x := range pre {
		out[i] = math.Exp(x - maxVal)
		sum += out[i]
	}
	for i := range out[:len(pre)] {
		out[i] /= sum
	}
}
