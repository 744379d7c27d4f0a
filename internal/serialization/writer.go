package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/born-ml/convnet/internal/nn"
	"github.com/born-ml/convnet/internal/tensor"
)

// WriteOptions carries the optional parts of a .cnvn file.
type WriteOptions struct {
	Metadata   map[string]string
	Checkpoint *CheckpointMeta
	CreatedAt  time.Time // default: now
}

// tensorName returns the table name of a layer parameter.
func tensorName(layer int, kind nn.Kind, param string) string {
	return fmt.Sprintf("layer.%d.%s.%s", layer, kind, param)
}

// Write encodes a network input shape and its layer snapshots.
func Write(w io.Writer, input tensor.Shape, snaps []nn.LayerSnapshot, opts WriteOptions) error {
	created := opts.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	header := Header{
		FormatVersion: FormatVersion,
		CreatedAt:     created,
		InputShape:    shapeMeta(input),
		Layers:        make([]LayerMeta, 0, len(snaps)),
		Metadata:      opts.Metadata,
		Checkpoint:    opts.Checkpoint,
	}

	var (
		data   []byte
		offset int64
	)
	add := func(name string, shape []int, values []float32) {
		size := int64(len(values) * 4)
		header.Tensors = append(header.Tensors, TensorMeta{
			Name:   name,
			DType:  DTypeFloat32,
			Shape:  shape,
			Offset: offset,
			Size:   size,
		})
		data = appendFloats(data, values)
		offset += size
	}

	for i, s := range snaps {
		meta := LayerMeta{
			Kind:        s.Kind.String(),
			Config:      configMeta(s.Kind, s.Config),
			InputShape:  shapeMeta(s.InputShape),
			OutputShape: shapeMeta(s.OutputShape),
		}
		wShape, bShape := parameterShapes(s)
		if s.Weights != nil {
			meta.Weights = tensorName(i, s.Kind, "weights")
			add(meta.Weights, wShape, s.Weights)
		}
		if s.Bias != nil {
			meta.Bias = tensorName(i, s.Kind, "bias")
			add(meta.Bias, bShape, s.Bias)
		}
		header.Layers = append(header.Layers, meta)
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	fixed := make([]byte, FixedHeaderSize)
	copy(fixed[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(fixed[4:8], FormatVersion)
	flags := uint32(0)
	if header.Checkpoint != nil {
		flags |= FlagHasCheckpoint
	}
	if len(header.Metadata) > 0 {
		flags |= FlagHasMetadata
	}
	binary.LittleEndian.PutUint32(fixed[8:12], flags)
	binary.LittleEndian.PutUint64(fixed[16:24], uint64(len(headerJSON)))
	binary.LittleEndian.PutUint64(fixed[24:32], uint64(len(data)))
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
		return fmt.Errorf("failed to write tensor data: %w", err)
	}
	return nil
}

// Save writes a .cnvn file at path.
func Save(path string, input tensor.Shape, snaps []nn.LayerSnapshot, opts WriteOptions) error {
	//nolint:gosec // G304: File path comes from user input, which is expected for model saving
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := Write(file, input, snaps, opts); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

// SaveNetwork snapshots net and writes it to path.
func SaveNetwork(path string, net *nn.Network, opts WriteOptions) error {
	snaps, err := net.Snapshot()
	if err != nil {
		return err
	}
	return Save(path, net.InputShape(), snaps, opts)
}

// padding returns the zero bytes needed after pos to reach HeaderAlignment.
func padding(pos int64) int64 {
	return (HeaderAlignment - pos%HeaderAlignment) % HeaderAlignment
}

func appendFloats(dst []byte, values []float32) []byte {
	for _, v := range values {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
	}
	return dst
}

func decodeFloats(src []byte) []float32 {
	out := make([]float32, len(src)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
	return out
}
