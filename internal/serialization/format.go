package serialization

import (
	"fmt"
	"time"
)

// Format constants.
const (
	MagicBytes       = "GNET"
	FormatVersion    = 1    // v1: topology table, float64 weights, SHA-256 checksum
	HeaderAlignment  = 64   // Align weight data to 64 bytes
	FixedHeaderSize  = 64   // Fixed header size (0x40 bytes)
	ChecksumSize     = 32   // SHA-256 checksum size (32 bytes)
	ChecksumOffset   = 0x20 // Checksum offset in the fixed header
	Float64Size      = 8
	DTypeFloat64     = "float64"
	graphnetVersion  = "0.1.0"
	weightTensorKind = "weight"
	biasTensorKind   = "bias"
)

// Flags for the .gnet format.
const (
	FlagHasMetadata uint32 = 1 << 0 // bit 0: custom metadata included
)

// Header represents the JSON header in a .gnet file.
type Header struct {
	FormatVersion   int               `json:"format_version"`   // Version of the .gnet format
	GraphnetVersion string            `json:"graphnet_version"` // Version of graphnet that created this file
	CreatedAt       time.Time         `json:"created_at"`       // When the file was created
	Output          int               `json:"output"`           // Id of the output layer
	Layers          []LayerMeta       `json:"layers"`           // Topology table, in id order
	Tensors         []TensorMeta      `json:"tensors"`          // Tensor metadata
	Metadata        map[string]string `json:"metadata"`         // Custom metadata
}

// LayerMeta describes one layer of the topology table.
type LayerMeta struct {
	ID             int    `json:"id"`
	Name           string `json:"name,omitempty"`
	Nodes          int    `json:"nodes"`
	Previous       []int  `json:"previous"`
	Activation     uint8  `json:"activation"`
	Initialisation uint8  `json:"initialisation"`
}

// TensorMeta describes a tensor in the .gnet file.
type TensorMeta struct {
	Name   string `json:"name"`   // Tensor name (e.g., "layer.2.weight")
	DType  string `json:"dtype"`  // Always "float64" in v1
	Shape  []int  `json:"shape"`  // [nodes, fanIn] or [nodes, predecessors]
	Offset int64  `json:"offset"` // Offset in the data section (bytes from start of weight data)
	Size   int64  `json:"size"`   // Size in bytes
}

// WeightTensorName returns the name of the connection weight tensor of layer id.
func WeightTensorName(id int) string {
	return fmt.Sprintf("layer.%d.%s", id, weightTensorKind)
}

// BiasTensorName returns the name of the bias weight tensor of layer id.
func BiasTensorName(id int) string {
	return fmt.Sprintf("layer.%d.%s", id, biasTensorKind)
}

// padding returns the number of zero bytes that follow a header ending at pos.
func padding(pos int64) int64 {
	return (HeaderAlignment - (pos % HeaderAlignment)) % HeaderAlignment
}
