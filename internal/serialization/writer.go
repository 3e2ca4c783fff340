package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/born-ml/graphnet/internal/graph"
)

// Encode writes the graph reachable from g's output layer to w in .gnet format.
//
// The graph is validated first and compacted, so layers that do not feed the
// output are not written and ids are renumbered from zero.
func Encode(w io.Writer, g *graph.Graph, metadata map[string]string) error {
	if g == nil {
		return errors.New("cannot encode nil graph")
	}
	if err := g.Validate(); err != nil {
		return fmt.Errorf("invalid graph: %w", err)
	}

	compact := g.Clone()
	header, data, err := buildPayload(compact, metadata)
	if err != nil {
		return err
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	fixed := make([]byte, FixedHeaderSize)
	copy(fixed[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(fixed[4:8], uint32(FormatVersion))
	flags := uint32(0)
	if len(header.Metadata) > 0 {
		flags |= FlagHasMetadata
	}
	binary.LittleEndian.PutUint32(fixed[8:12], flags)
	binary.LittleEndian.PutUint64(fixed[0x10:0x18], uint64(len(headerJSON)))
	binary.LittleEndian.PutUint64(fixed[0x18:0x20], uint64(len(data)))
	checksum := ComputeChecksum(data)
	copy(fixed[ChecksumOffset:ChecksumOffset+ChecksumSize], checksum[:])

	if _, err := w.Write(fixed); err != nil {
		return fmt.Errorf("failed to write fixed header: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if pad := padding(int64(FixedHeaderSize + len(headerJSON))); pad > 0 {
		if _, err := w.Write(make([]byte, pad)); err != nil {
			return fmt.Errorf("failed to write padding: %w", err)
		}
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write weight data: %w", err)
	}
	return nil
}

// buildPayload lays out the topology table and the weight tensors of a compacted graph.
func buildPayload(g *graph.Graph, metadata map[string]string) (Header, []byte, error) {
	header := Header{
		FormatVersion:   FormatVersion,
		GraphnetVersion: graphnetVersion,
		CreatedAt:       time.Now().UTC(),
		Output:          int(g.OutputID()),
		Layers:          make([]LayerMeta, 0, g.Len()),
		Metadata:        make(map[string]string, len(metadata)),
	}
	for k, v := range metadata {
		header.Metadata[k] = v
	}

	var data bytes.Buffer
	var offset int64
	for _, l := range g.Layers() {
		meta := LayerMeta{
			ID:             int(l.ID()),
			Name:           l.Name(),
			Nodes:          l.Len(),
			Previous:       make([]int, 0, len(l.Previous())),
			Activation:     uint8(l.Activation()),
			Initialisation: uint8(l.Initialisation()),
		}
		for _, p := range l.Previous() {
			meta.Previous = append(meta.Previous, int(p))
		}
		header.Layers = append(header.Layers, meta)
		if l.IsInput() {
			continue
		}

		weights, err := layerWeights(g, l)
		if err != nil {
			return Header{}, nil, err
		}
		biases, err := layerBiases(l)
		if err != nil {
			return Header{}, nil, err
		}

		fanIn := len(weights) / l.Len()
		for _, tensor := range []struct {
			name   string
			cols   int
			values []float64
		}{
			{WeightTensorName(meta.ID), fanIn, weights},
			{BiasTensorName(meta.ID), len(meta.Previous), biases},
		} {
			size := int64(len(tensor.values)) * Float64Size
			header.Tensors = append(header.Tensors, TensorMeta{
				Name:   tensor.name,
				DType:  DTypeFloat64,
				Shape:  []int{l.Len(), tensor.cols},
				Offset: offset,
				Size:   size,
			})
			writeFloats(&data, tensor.values)
			offset += size
		}
	}

	return header, data.Bytes(), nil
}

// layerWeights flattens the connection weights of l node-major, then by
// predecessor layer in declared order, then by predecessor node.
func layerWeights(g *graph.Graph, l *graph.Layer) ([]float64, error) {
	var values []float64
	for i, n := range l.Nodes() {
		for _, p := range l.Previous() {
			prev, err := g.Layer(p)
			if err != nil {
				return nil, err
			}
			for k := 0; k < prev.Len(); k++ {
				w, ok := n.Weight(graph.NodeRef{Layer: p, Node: k})
				if !ok {
					return nil, fmt.Errorf("%w: layer %d node %d has no weight from %d:%d",
						graph.ErrMalformedGraph, l.ID(), i, p, k)
				}
				values = append(values, w.Value())
			}
		}
	}
	return values, nil
}

func layerBiases(l *graph.Layer) ([]float64, error) {
	values := make([]float64, 0, l.Len()*len(l.Previous()))
	for i, n := range l.Nodes() {
		for _, p := range l.Previous() {
			w, ok := n.BiasWeight(p)
			if !ok {
				return nil, fmt.Errorf("%w: layer %d node %d has no bias for layer %d",
					graph.ErrMalformedGraph, l.ID(), i, p)
			}
			values = append(values, w.Value())
		}
	}
	return values, nil
}

func writeFloats(buf *bytes.Buffer, values []float64) {
	var b [Float64Size]byte
	for _, v := range values {
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
		buf.Write(b[:])
	}
}

// Marshal returns the .gnet encoding of g.
func Marshal(g *graph.Graph, metadata map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, g, metadata); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes g to path in .gnet format. An existing file at path is only
// replaced once the new encoding has been written in full.
func Save(g *graph.Graph, path string) error {
	return SaveWithMetadata(g, path, nil)
}

// SaveWithMetadata writes g to path with custom metadata attached to the header.
//
// The graph is encoded into a temporary file next to path, which is renamed
// over path on success and removed on failure.
func SaveWithMetadata(g *graph.Graph, path string, metadata map[string]string) (err error) {
	data, err := Marshal(g, metadata)
	if err != nil {
		return err
	}

	file, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	tmp := file.Name()
	defer func() {
		if err != nil {
			_ = file.Close()
			_ = os.Remove(tmp)
		}
	}()

	if err := file.Chmod(0o644); err != nil {
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
