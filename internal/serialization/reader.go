package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/born-ml/convnet/internal/nn"
	"github.com/born-ml/convnet/internal/tensor"
)

// ReaderOptions configures decoding.
type ReaderOptions struct {
	SkipChecksumValidation bool            // skip checksum validation (faster but less safe)
	ValidationLevel        ValidationLevel // default: ValidationStrict
}

// Checkpoint is a decoded .cnvn file.
type Checkpoint struct {
	Header     Header
	InputShape tensor.Shape
	Layers     []nn.LayerSnapshot
}

// Network rebuilds the network on ops.
func (c *Checkpoint) Network(ops tensor.Ops) (*nn.Network, error) {
	return nn.Restore(ops, c.InputShape, c.Layers)
}

// Read decodes a .cnvn stream.
func Read(r io.Reader, opts ReaderOptions) (*Checkpoint, error) {
	fixed := make([]byte, FixedHeaderSize)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return nil, fmt.Errorf("failed to read fixed header: %w", err)
	}
	if string(fixed[0:4]) != MagicBytes {
		return nil, ErrInvalidMagic
	}
	if v := binary.LittleEndian.Uint32(fixed[4:8]); v != FormatVersion {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrUnsupportedVersion, v, FormatVersion)
	}
	headerSize := binary.LittleEndian.Uint64(fixed[16:24])
	dataSize := binary.LittleEndian.Uint64(fixed[24:32])
	var stored [32]byte
	copy(stored[:], fixed[ChecksumOffset:ChecksumOffset+ChecksumSize])

	if headerSize > MaxHeaderSize {
		return nil, ErrHeaderTooLarge
	}
	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	var header Header
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	//nolint:gosec // G115: headerSize is bounded by MaxHeaderSize
	if pad := padding(int64(FixedHeaderSize) + int64(headerSize)); pad > 0 {
		if _, err := io.CopyN(io.Discard, r, pad); err != nil {
			return nil, fmt.Errorf("failed to skip padding: %w", err)
		}
	}
	var data bytes.Buffer
	//nolint:gosec // G115: a data size beyond int64 fails the copy below
	if _, err := io.CopyN(&data, r, int64(dataSize)); err != nil {
		return nil, fmt.Errorf("failed to read tensor data: %w", err)
	}
	if !opts.SkipChecksumValidation {
		if err := ValidateChecksum(ComputeChecksum(data.Bytes()), stored); err != nil {
			return nil, err
		}
	}
	if err := ValidateHeader(&header, int64(data.Len()), opts.ValidationLevel); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return decode(header, data.Bytes())
}

// Load reads a .cnvn file.
func Load(path string, opts ReaderOptions) (*Checkpoint, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()
	return Read(file, opts)
}

func decode(h Header, data []byte) (*Checkpoint, error) {
	tensors := make(map[string]TensorMeta, len(h.Tensors))
	for _, t := range h.Tensors {
		tensors[t.Name] = t
	}
	values := func(name string) ([]float32, error) {
		if name == "" {
			return nil, nil
		}
		t, ok := tensors[name]
		if !ok {
			return nil, &ValidationError{Type: "unknown_tensor", Tensor: name, Details: "not in tensor table"}
		}
		if t.Offset < 0 || t.Size < 0 || t.Offset+t.Size > int64(len(data)) {
			return nil, &ValidationError{Type: "out_of_bounds", Tensor: name, Details: "outside data section"}
		}
		return decodeFloats(data[t.Offset : t.Offset+t.Size]), nil
	}

	c := &Checkpoint{
		Header:     h,
		InputShape: shapeFromMeta(h.InputShape),
		Layers:     make([]nn.LayerSnapshot, 0, len(h.Layers)),
	}
	for i, l := range h.Layers {
		kind, err := nn.ParseKind(l.Kind)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		cfg, err := configFromMeta(l.Config)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		s := nn.LayerSnapshot{
			Kind:        kind,
			Config:      cfg,
			InputShape:  shapeFromMeta(l.InputShape),
			OutputShape: shapeFromMeta(l.OutputShape),
		}
		if s.Weights, err = values(l.Weights); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		if s.Bias, err = values(l.Bias); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		c.Layers = append(c.Layers, s)
	}
	return c, nil
}
