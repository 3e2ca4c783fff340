package graph

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func TestActivation_Activate(t *testing.T) {
	tests := []struct {
		act  ActivationType
		x    float64
		want float64
	}{
		{Linear, -3.5, -3.5},
		{Sigmoid, 0, 0.5},
		{Sigmoid, 2, 1 / (1 + math.Exp(-2))},
		{Tanh, 0.5, math.Tanh(0.5)},
		{ReLU, -1, 0},
		{ReLU, 2, 2},
		{LeakyReLU, -2, -0.02},
		{LeakyReLU, 3, 3},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, tt.act.Activate(tt.x), 1e-15, "%s(%v)", tt.act, tt.x)
	}
}

func TestActivation_Derivative(t *testing.T) {
	const h = 1e-6
	for _, act := range []ActivationType{Linear, Sigmoid, Tanh, ReLU, LeakyReLU} {
		for _, x := range []float64{-1.3, -0.4, 0.7, 2.1} {
			numeric := (act.Activate(x+h) - act.Activate(x-h)) / (2 * h)
			assert.InDelta(t, numeric, act.Derivative(act.Activate(x)), 1e-6, "%s at %v", act, x)
		}
	}
	assert.InDelta(t, 0.21, Softmax.Derivative(0.3), 1e-15)
}

func TestActivation_SoftmaxLayer(t *testing.T) {
	pre := []float64{1, 2, 3, 1000}
	out := make([]float64, len(pre))
	Softmax.apply(pre, out)

	assert.InDelta(t, 1, floats.Sum(out), 1e-12)
	assert.True(t, floats.Equal(out, []float64{0, 0, 0, 1}) || out[3] > 0.999999)

	small := []float64{1, 2, 3}
	Softmax.apply(small, small)
	want := []float64{math.Exp(-2), math.Exp(-1), 1}
	floats.Scale(1/floats.Sum(want), want)
	assert.True(t, floats.EqualApprox(small, want, 1e-12), "got %v want %v", small, want)
}

func TestParseActivation(t *testing.T) {
	for i := range activationNames {
		act := ActivationType(i)
		parsed, err := ParseActivation(act.String())
		require.NoError(t, err)
		assert.Equal(t, act, parsed)
	}
	parsed, err := ParseActivation("")
	require.NoError(t, err)
	assert.Equal(t, Linear, parsed)

	_, err = ParseActivation("swish")
	assert.ErrorIs(t, err, ErrInvalidLayer)
	assert.False(t, ActivationType(42).Valid())
	assert.True(t, Softmax.Valid())
	assert.False(t, Softmax.Elementwise())
}
