package graph

import "errors"

// Contract violations. These are programmer errors: callers should treat them as
// fatal for the operation and never retry.
var (
	ErrInputLength     = errors.New("input length does not match input layer size")
	ErrIndexOutOfRange = errors.New("node index out of range")
	ErrMissingInput    = errors.New("no input supplied for reachable input layer")
	ErrAmbiguousInput  = errors.New("single input vector requires exactly one reachable input layer")
	ErrNotInputLayer   = errors.New("layer has predecessors and cannot be seeded with inputs")
	ErrUnknownLayer    = errors.New("unknown layer")
	ErrInvalidLayer    = errors.New("invalid layer definition")
	ErrMalformedGraph  = errors.New("malformed graph")
	ErrBuilderUsed     = errors.New("builder already built")
)
