// Package serialization provides the native .gnet format for saving and loading graphnet networks.
//
// The .gnet format stores the whole graph reachable from the output layer as one unit:
//
//	Format Structure:
//	  [0x00: Magic "GNET" (4 bytes)]
//	  [0x04: Version (uint32 LE)]
//	  [0x08: Flags (uint32 LE)]
//	  [0x0C: Reserved (4 bytes)]
//	  [0x10: Header Size (uint64 LE)]
//	  [0x18: Data Size (uint64 LE)]
//	  [0x20: SHA-256 of the data section (32 bytes)]
//	  [0x40: Header: JSON topology table and tensor table]
//	  [Padding to a 64-byte boundary]
//	  [Data: float64 LE weights]
//
// The topology table lists every layer with its node count, predecessor ids and
// activation/initialisation selectors (by enum value). Each non-input layer owns two
// tensors: "layer.<id>.weight" with shape [nodes, fanIn] and "layer.<id>.bias" with
// shape [nodes, predecessors]. Weights are stored node-major, then by predecessor layer
// in declared order, then by predecessor node.
//
// Example usage:
//
//	// Save a network
//	if err := serialization.Save(g, "model.gnet"); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Load it back
//	g, err := serialization.Load("model.gnet")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Decoding never returns a partially built graph: any truncation, checksum mismatch or
// inconsistency between the topology and tensor tables fails the whole load.
package serialization
