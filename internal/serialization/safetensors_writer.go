package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/born-ml/convnet/internal/nn"
)

// SafeTensorHeader represents a tensor in the SafeTensors header.
type SafeTensorHeader struct {
	DType       string   `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// WriteSafeTensors exports the parameters of snaps in SafeTensors format,
// the weight exchange format of HuggingFace tooling.
//
// Format:
// [8 bytes: header_size (uint64 LE)]
// [header_size bytes: JSON header]
// [tensor data: raw bytes]
//
// Tensors are named like the .cnvn tensor table ("layer.1.conv.weights")
// and written in alphabetical order by name. The layer graph itself is not
// exported.
func WriteSafeTensors(w io.Writer, snaps []nn.LayerSnapshot, metadata map[string]string) error {
	type entry struct {
		shape  []int
		values []float32
	}
	entries := make(map[string]entry)
	for i, s := range snaps {
		wShape, bShape := parameterShapes(s)
		if s.Weights != nil {
			entries[tensorName(i, s.Kind, "weights")] = entry{wShape, s.Weights}
		}
		if s.Bias != nil {
			entries[tensorName(i, s.Kind, "bias")] = entry{bShape, s.Bias}
		}
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]any)
	if len(metadata) > 0 {
		header["__metadata__"] = metadata
	}
	var offset int64
	for _, name := range names {
		e := entries[name]
		shape := make([]int64, len(e.shape))
		for i, d := range e.shape {
			shape[i] = int64(d)
		}
		size := int64(len(e.values) * 4)
		header[name] = SafeTensorHeader{
			DType:       "F32",
			Shape:       shape,
			DataOffsets: [2]int64{offset, offset + size},
		}
		offset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return fmt.Errorf("failed to write header size: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, name := range names {
		if _, err := w.Write(appendFloats(nil, entries[name].values)); err != nil {
			return fmt.Errorf("failed to write tensor %s: %w", name, err)
		}
	}
	return nil
}

// ExportSafeTensors writes the parameters of net to a SafeTensors file.
func ExportSafeTensors(path string, net *nn.Network, metadata map[string]string) error {
	snaps, err := net.Snapshot()
	if err != nil {
		return err
	}
	//nolint:gosec // G304: File path comes from user input, which is expected for model saving
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := WriteSafeTensors(file, snaps, metadata); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}
