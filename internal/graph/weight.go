package graph

// Weight is the strength of a single connection.
//
// Adjust is the only exported mutation and it always accumulates:
// training collaborators pass signed deltas. Initialisation zeroes the
// weight first and then adjusts it by the drawn value, so a freshly
// initialised weight holds exactly that value.
type Weight struct {
	value float64
}

// NewWeight returns a weight holding v.
func NewWeight(v float64) *Weight {
	return &Weight{value: v}
}

// Value returns the current weight value.
func (w *Weight) Value() float64 {
	return w.value
}

// Adjust adds delta to the weight.
func (w *Weight) Adjust(delta float64) {
	w.value += delta
}

// reset zeroes the weight ahead of initialisation.
func (w *Weight) reset() {
	w.value = 0
}
