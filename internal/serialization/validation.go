package serialization

import (
	"fmt"
	"sort"
	"strings"

	"github.com/born-ml/graphnet/internal/graph"
)

// Validation limits for security and resource protection.
const (
	MaxHeaderSize    = 100 * 1024 * 1024 // 100MB - maximum header size
	MaxDataSize      = 16 << 30          // 16GB - maximum weight data size
	MaxLayerCount    = 100_000           // Maximum number of layers in a file
	MaxNodesPerLayer = 1 << 24           // Maximum nodes in one layer
	MaxTensorCount   = 2 * MaxLayerCount // Two tensors per layer at most
	MaxTensorNameLen = 4096              // Maximum tensor name length
)

// ValidationLevel controls the strictness of validation.
//
// Topology and tensor shape checks always run, since a graph cannot be built
// safely without them. The level only governs the additional name and offset checks.
type ValidationLevel int

const (
	// ValidationStrict performs all validation checks (default, recommended for production).
	ValidationStrict ValidationLevel = iota
	// ValidationNormal skips the offset overlap checks.
	ValidationNormal
	// ValidationNone skips name and offset checks (use only with trusted input).
	ValidationNone
)

// ValidateTensorOffsets checks for overlapping tensor offsets and out-of-bounds access.
func ValidateTensorOffsets(tensors []TensorMeta, dataSize int64) error {
	if len(tensors) > MaxTensorCount {
		return &ValidationError{
			Type:    "too_many_tensors",
			Details: fmt.Sprintf("got %d, max %d", len(tensors), MaxTensorCount),
		}
	}

	// Sort tensors by offset for efficient overlap detection.
	sorted := make([]TensorMeta, len(tensors))
	copy(sorted, tensors)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Offset < sorted[j].Offset
	})

	for i, t := range sorted {
		if t.Offset < 0 || t.Size < 0 {
			return &ValidationError{
				Type:    "negative_offset",
				Tensor:  t.Name,
				Details: fmt.Sprintf("offset=%d, size=%d (negative values not allowed)", t.Offset, t.Size),
			}
		}

		if t.Offset+t.Size > dataSize {
			return &ValidationError{
				Type:    "out_of_bounds",
				Tensor:  t.Name,
				Details: fmt.Sprintf("offset %d + size %d > data_size %d", t.Offset, t.Size, dataSize),
			}
		}

		if i < len(sorted)-1 {
			next := sorted[i+1]
			if t.Offset+t.Size > next.Offset {
				return &ValidationError{
					Type:    "offset_overlap",
					Tensor:  t.Name,
					Tensor2: next.Name,
					Details: fmt.Sprintf("regions [%d-%d] and [%d-%d] overlap",
						t.Offset, t.Offset+t.Size, next.Offset, next.Offset+next.Size),
				}
			}
		}
	}

	return nil
}

// ValidateTensorName checks tensor names for path traversal attacks and malicious patterns.
func ValidateTensorName(name string) error {
	if len(name) > MaxTensorNameLen {
		return &ValidationError{
			Type:    "name_too_long",
			Tensor:  name,
			Details: fmt.Sprintf("length %d > max %d", len(name), MaxTensorNameLen),
		}
	}
	if strings.Contains(name, "..") {
		return &ValidationError{
			Type:    "invalid_name",
			Tensor:  name,
			Details: "contains '..' (path traversal attempt)",
		}
	}
	if strings.Contains(name, "/") || strings.Contains(name, "\\") {
		return &ValidationError{
			Type:    "invalid_name",
			Tensor:  name,
			Details: "contains path separator (/ or \\)",
		}
	}
	if strings.Contains(name, "\x00") {
		return &ValidationError{
			Type:    "invalid_name",
			Tensor:  name,
			Details: "contains null byte",
		}
	}
	return nil
}

// ValidateTopology checks the layer table: ids in order, predecessors that
// precede their consumer (which rules out cycles), known selectors and an
// output layer that exists.
func ValidateTopology(h *Header) error {
	if len(h.Layers) == 0 {
		return &ValidationError{Type: "empty_topology", Details: "no layers"}
	}
	if len(h.Layers) > MaxLayerCount {
		return &ValidationError{
			Type:    "too_many_layers",
			Details: fmt.Sprintf("got %d, max %d", len(h.Layers), MaxLayerCount),
		}
	}

	for i, l := range h.Layers {
		name := fmt.Sprintf("layer.%d", i)
		if l.ID != i {
			return &ValidationError{Type: "layer_order", Tensor: name, Details: fmt.Sprintf("has id %d", l.ID)}
		}
		if l.Nodes <= 0 || l.Nodes > MaxNodesPerLayer {
			return &ValidationError{
				Type:    "invalid_node_count",
				Tensor:  name,
				Details: fmt.Sprintf("%d nodes, want 1..%d", l.Nodes, MaxNodesPerLayer),
			}
		}
		if !graph.ActivationType(l.Activation).Valid() {
			return &ValidationError{Type: "unknown_activation", Tensor: name, Details: fmt.Sprintf("value %d", l.Activation)}
		}
		if !graph.InitialisationType(l.Initialisation).Valid() {
			return &ValidationError{Type: "unknown_initialisation", Tensor: name, Details: fmt.Sprintf("value %d", l.Initialisation)}
		}

		seen := make(map[int]bool, len(l.Previous))
		for _, p := range l.Previous {
			if p < 0 || p >= i {
				return &ValidationError{
					Type:    "forward_reference",
					Tensor:  name,
					Details: fmt.Sprintf("predecessor %d does not precede layer %d", p, i),
				}
			}
			if seen[p] {
				return &ValidationError{Type: "duplicate_predecessor", Tensor: name, Details: fmt.Sprintf("predecessor %d", p)}
			}
			seen[p] = true
		}
	}

	if h.Output < 0 || h.Output >= len(h.Layers) {
		return &ValidationError{
			Type:    "invalid_output",
			Details: fmt.Sprintf("output %d, have %d layers", h.Output, len(h.Layers)),
		}
	}
	return nil
}

// ValidateTensorShapes checks that the tensor table matches the topology
// exactly: every non-input layer owns one weight and one bias tensor of the
// expected shape and size, and nothing else is present.
func ValidateTensorShapes(h *Header) error {
	byName := make(map[string]TensorMeta, len(h.Tensors))
	for _, t := range h.Tensors {
		if _, dup := byName[t.Name]; dup {
			return &ValidationError{Type: "duplicate_tensor", Tensor: t.Name, Details: "listed twice"}
		}
		byName[t.Name] = t
	}

	expected := 0
	for _, l := range h.Layers {
		if len(l.Previous) == 0 {
			continue
		}
		fanIn := 0
		for _, p := range l.Previous {
			fanIn += h.Layers[p].Nodes
		}
		if err := checkTensor(byName, WeightTensorName(l.ID), l.Nodes, fanIn); err != nil {
			return err
		}
		if err := checkTensor(byName, BiasTensorName(l.ID), l.Nodes, len(l.Previous)); err != nil {
			return err
		}
		expected += 2
	}

	if len(byName) != expected {
		for name := range byName {
			if !isExpectedTensor(h, name) {
				return &ValidationError{Type: "unexpected_tensor", Tensor: name, Details: "does not belong to any layer"}
			}
		}
	}
	return nil
}

func checkTensor(byName map[string]TensorMeta, name string, rows, cols int) error {
	t, ok := byName[name]
	if !ok {
		return &ValidationError{Type: "missing_tensor", Tensor: name, Details: "required by topology"}
	}
	if t.DType != DTypeFloat64 {
		return &ValidationError{Type: "invalid_dtype", Tensor: name, Details: fmt.Sprintf("got %q, want %q", t.DType, DTypeFloat64)}
	}
	if len(t.Shape) != 2 || t.Shape[0] != rows || t.Shape[1] != cols {
		return &ValidationError{Type: "shape_mismatch", Tensor: name, Details: fmt.Sprintf("got %v, want [%d %d]", t.Shape, rows, cols)}
	}
	if cols > 0 && int64(rows) > MaxDataSize/Float64Size/int64(cols) {
		return &ValidationError{Type: "tensor_too_large", Tensor: name, Details: fmt.Sprintf("[%d %d] exceeds %d bytes", rows, cols, int64(MaxDataSize))}
	}
	if want := int64(rows) * int64(cols) * Float64Size; t.Size != want {
		return &ValidationError{Type: "size_mismatch", Tensor: name, Details: fmt.Sprintf("got %d bytes, want %d", t.Size, want)}
	}
	return nil
}

func isExpectedTensor(h *Header, name string) bool {
	for _, l := range h.Layers {
		if len(l.Previous) > 0 && (name == WeightTensorName(l.ID) || name == BiasTensorName(l.ID)) {
			return true
		}
	}
	return false
}

// ValidateDataSize checks that the tensors account for exactly dataSize bytes.
// Shapes must already be validated, so the sum cannot overflow.
func ValidateDataSize(tensors []TensorMeta, dataSize int64) error {
	var total int64
	for _, t := range tensors {
		total += t.Size
	}
	if total != dataSize {
		return &ValidationError{
			Type:    "data_size_mismatch",
			Details: fmt.Sprintf("tensors hold %d bytes, data section declares %d", total, dataSize),
		}
	}
	return nil
}

// ValidateHeader performs comprehensive header validation.
//
// It runs before any weight data is read, so a header that declares more
// data than its tensors need is rejected without allocating it.
func ValidateHeader(h *Header, dataSize int64, level ValidationLevel) error {
	if err := ValidateTopology(h); err != nil {
		return err
	}
	if err := ValidateTensorShapes(h); err != nil {
		return err
	}
	if err := ValidateDataSize(h.Tensors, dataSize); err != nil {
		return err
	}
	if level == ValidationNone {
		return nil
	}

	for _, t := range h.Tensors {
		if err := ValidateTensorName(t.Name); err != nil {
			return err
		}
	}

	if level == ValidationStrict {
		if err := ValidateTensorOffsets(h.Tensors, dataSize); err != nil {
			return err
		}
	}

	return nil
}
