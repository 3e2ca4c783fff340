package serialization

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/born-ml/graphnet/internal/graph"
)

// ReaderOptions configures decoding.
type ReaderOptions struct {
	SkipChecksumValidation bool            // Skip checksum validation (faster but less safe)
	ValidationLevel        ValidationLevel // Validation strictness level
}

// DefaultReaderOptions returns strict options with checksum validation.
func DefaultReaderOptions() ReaderOptions {
	return ReaderOptions{ValidationLevel: ValidationStrict}
}

// preamble is the decoded fixed header plus the JSON header.
type preamble struct {
	flags    uint32
	dataSize int64
	checksum [32]byte
	header   Header
}

// readPreamble reads everything up to the start of the weight data.
func readPreamble(r io.Reader) (*preamble, error) {
	fixed := make([]byte, FixedHeaderSize)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return nil, truncated("fixed header", err)
	}

	if string(fixed[0:4]) != MagicBytes {
		return nil, fmt.Errorf("%w: expected %q, got %q", ErrInvalidMagic, MagicBytes, fixed[0:4])
	}
	if version := binary.LittleEndian.Uint32(fixed[4:8]); version != FormatVersion {
		return nil, fmt.Errorf("%w: %d (supported: %d)", ErrUnsupportedVersion, version, FormatVersion)
	}

	p := &preamble{flags: binary.LittleEndian.Uint32(fixed[8:12])}
	headerSize := binary.LittleEndian.Uint64(fixed[0x10:0x18])
	dataSize := binary.LittleEndian.Uint64(fixed[0x18:0x20])
	copy(p.checksum[:], fixed[ChecksumOffset:ChecksumOffset+ChecksumSize])

	if headerSize == 0 || headerSize > MaxHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrHeaderTooLarge, headerSize, MaxHeaderSize)
	}
	if dataSize > MaxDataSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrDataTooLarge, dataSize, int64(MaxDataSize))
	}
	p.dataSize = int64(dataSize)

	headerJSON := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, truncated("header", err)
	}
	if err := json.Unmarshal(headerJSON, &p.header); err != nil {
		return nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}
	if p.header.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: header declares %d", ErrUnsupportedVersion, p.header.FormatVersion)
	}

	//nolint:gosec // G115: headerSize is bounded by MaxHeaderSize
	if pad := padding(int64(FixedHeaderSize) + int64(headerSize)); pad > 0 {
		if _, err := io.CopyN(io.Discard, r, pad); err != nil {
			return nil, truncated("padding", err)
		}
	}
	return p, nil
}

func truncated(section string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: reading %s", ErrTruncated, section)
	}
	return fmt.Errorf("failed to read %s: %w", section, err)
}

// ReadHeader reads and validates the header of a .gnet stream without
// decoding the weights.
func ReadHeader(r io.Reader) (*Header, error) {
	p, err := readPreamble(r)
	if err != nil {
		return nil, err
	}
	if err := ValidateHeader(&p.header, p.dataSize, ValidationStrict); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &p.header, nil
}

// Decode reads a graph from r with default options.
func Decode(r io.Reader) (*graph.Graph, error) {
	g, _, err := DecodeWithOptions(r, DefaultReaderOptions())
	return g, err
}

// DecodeWithOptions reads a graph and its header from r.
//
// A graph is returned only when the whole stream decodes and the rebuilt
// graph passes validation.
func DecodeWithOptions(r io.Reader, opts ReaderOptions) (*graph.Graph, *Header, error) {
	p, err := readPreamble(r)
	if err != nil {
		return nil, nil, err
	}

	if err := ValidateHeader(&p.header, p.dataSize, opts.ValidationLevel); err != nil {
		return nil, nil, fmt.Errorf("validation failed: %w", err)
	}

	// The buffer grows with what the stream actually holds, not with the
	// size the header claims.
	data, err := io.ReadAll(io.LimitReader(r, p.dataSize))
	if err != nil {
		return nil, nil, truncated("weight data", err)
	}
	if int64(len(data)) != p.dataSize {
		return nil, nil, fmt.Errorf("%w: weight data has %d of %d bytes", ErrTruncated, len(data), p.dataSize)
	}

	if !opts.SkipChecksumValidation {
		if err := ValidateChecksum(ComputeChecksum(data), p.checksum); err != nil {
			return nil, nil, err
		}
	}

	g, err := rebuild(&p.header, data)
	if err != nil {
		return nil, nil, err
	}
	return g, &p.header, nil
}

// rebuild constructs the graph described by a validated header.
func rebuild(h *Header, data []byte) (*graph.Graph, error) {
	b := graph.NewBuilder()
	for _, meta := range h.Layers {
		prev := make([]graph.LayerID, len(meta.Previous))
		for i, p := range meta.Previous {
			prev[i] = graph.LayerID(p)
		}
		id, err := b.AddLayer(graph.LayerSpec{
			Name:           meta.Name,
			Nodes:          meta.Nodes,
			Previous:       prev,
			Activation:     graph.ActivationType(meta.Activation),
			Initialisation: graph.InitialisationType(meta.Initialisation),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to rebuild layer %d: %w", meta.ID, err)
		}
		if int(id) != meta.ID {
			return nil, &ValidationError{Type: "layer_order", Tensor: fmt.Sprintf("layer.%d", meta.ID), Details: fmt.Sprintf("rebuilt as %d", id)}
		}
	}

	g, err := b.Build(graph.LayerID(h.Output))
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild graph: %w", err)
	}

	tensors := make(map[string]TensorMeta, len(h.Tensors))
	for _, t := range h.Tensors {
		tensors[t.Name] = t
	}

	for _, l := range g.Layers() {
		if l.IsInput() {
			continue
		}
		weights, err := tensorReader(data, tensors[WeightTensorName(int(l.ID()))])
		if err != nil {
			return nil, err
		}
		biases, err := tensorReader(data, tensors[BiasTensorName(int(l.ID()))])
		if err != nil {
			return nil, err
		}

		for _, n := range l.Nodes() {
			for _, p := range l.Previous() {
				prev, err := g.Layer(p)
				if err != nil {
					return nil, err
				}
				for k := 0; k < prev.Len(); k++ {
					w, _ := n.Weight(graph.NodeRef{Layer: p, Node: k})
					v, err := weights.next()
					if err != nil {
						return nil, err
					}
					w.Adjust(v)
				}
			}
			for _, p := range l.Previous() {
				w, _ := n.BiasWeight(p)
				v, err := biases.next()
				if err != nil {
					return nil, err
				}
				w.Adjust(v)
			}
		}
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("decoded graph is invalid: %w", err)
	}
	return g, nil
}

// floatReader walks the float64 values of one tensor.
type floatReader struct {
	name string
	buf  []byte
}

func tensorReader(data []byte, t TensorMeta) (*floatReader, error) {
	if t.Offset < 0 || t.Size < 0 || t.Offset+t.Size > int64(len(data)) {
		return nil, fmt.Errorf("%w: %s [%d+%d] in %d bytes", ErrOutOfBounds, t.Name, t.Offset, t.Size, len(data))
	}
	return &floatReader{name: t.Name, buf: data[t.Offset : t.Offset+t.Size]}, nil
}

func (f *floatReader) next() (float64, error) {
	if len(f.buf) < Float64Size {
		return 0, fmt.Errorf("%w: tensor %s", ErrTruncated, f.name)
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(f.buf[:Float64Size]))
	f.buf = f.buf[Float64Size:]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ValidationError{Type: "non_finite_weight", Tensor: f.name, Details: fmt.Sprintf("value %v", v)}
	}
	return v, nil
}

// Unmarshal decodes a graph from an in-memory .gnet encoding.
func Unmarshal(data []byte) (*graph.Graph, error) {
	return Decode(bytes.NewReader(data))
}

// Load reads a graph from a .gnet file with default options.
func Load(path string) (*graph.Graph, error) {
	g, _, err := LoadWithOptions(path, DefaultReaderOptions())
	return g, err
}

// LoadWithOptions reads a graph and its header from a .gnet file.
func LoadWithOptions(path string, opts ReaderOptions) (*graph.Graph, *Header, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	g, h, err := DecodeWithOptions(bufio.NewReader(file), opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return g, h, nil
}

// DeepCopy returns an independent copy of g by round-tripping it through the
// .gnet encoding. Only the part of g reachable from its output is copied.
func DeepCopy(g *graph.Graph) (*graph.Graph, error) {
	data, err := Marshal(g, nil)
	if err != nil {
		return nil, fmt.Errorf("deep copy: %w", err)
	}
	c, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("deep copy: %w", err)
	}
	return c, nil
}
