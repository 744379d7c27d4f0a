// Package serialization saves and loads network snapshots in the native
// .cnvn checkpoint format, and exports weights as SafeTensors.
//
// The .cnvn format stores the layer graph next to its weights:
//
//	Format Structure:
//	  [64 bytes: fixed header]
//	    0x00 magic "CNVN"
//	    0x04 version (uint32 LE)
//	    0x08 flags (uint32 LE)
//	    0x10 JSON header size (uint64 LE)
//	    0x18 data size (uint64 LE)
//	    0x20 SHA-256 of the data section (32 bytes)
//	  [JSON header: input shape, layer descriptors, tensor table]
//	  [zero padding to a 64-byte boundary]
//	  [Tensor data: little-endian float32, in tensor table order]
//
// Each layer descriptor names its kind and construction parameters, so a
// reader rebuilds the network through nn.Restore without knowing the
// architecture in advance.
//
// Example usage:
//
//	// Save
//	err := serialization.SaveNetwork("model.cnvn", net, serialization.WriteOptions{})
//
//	// Load
//	ckpt, err := serialization.Load("model.cnvn", serialization.ReaderOptions{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	net, err := ckpt.Network(ops)
package serialization
