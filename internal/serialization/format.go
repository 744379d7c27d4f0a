package serialization

import (
	"time"

	"github.com/born-ml/convnet/internal/nn"
	"github.com/born-ml/convnet/internal/tensor"
)

// Format constants.
const (
	MagicBytes      = "CNVN"
	FormatVersion   = 1
	FixedHeaderSize = 64   // fixed header size (0x40 bytes)
	HeaderAlignment = 64   // tensor data starts on a 64-byte boundary
	ChecksumSize    = 32   // SHA-256 checksum size
	ChecksumOffset  = 0x20 // checksum offset in the fixed header
	DTypeFloat32    = "float32"
)

// Flags for the .cnvn format.
const (
	FlagHasCheckpoint uint32 = 1 << 0 // bit 0: training state included
	FlagHasMetadata   uint32 = 1 << 1 // bit 1: custom metadata included
)

// Header is the JSON header of a .cnvn file.
type Header struct {
	FormatVersion int               `json:"format_version"`
	CreatedAt     time.Time         `json:"created_at"`
	InputShape    [4]int            `json:"input_shape"` // network input (batch, channels, height, width)
	Layers        []LayerMeta       `json:"layers"`      // forward order
	Tensors       []TensorMeta      `json:"tensors"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Checkpoint    *CheckpointMeta   `json:"checkpoint,omitempty"`
}

// LayerMeta describes one layer. Weights and Bias name entries of the
// tensor table; they are empty for layers without parameters.
type LayerMeta struct {
	Kind        string     `json:"kind"`
	Config      ConfigMeta `json:"config"`
	InputShape  [4]int     `json:"input_shape"`
	OutputShape [4]int     `json:"output_shape"`
	Weights     string     `json:"weights,omitempty"`
	Bias        string     `json:"bias,omitempty"`
}

// ConfigMeta mirrors nn.Config with names that survive a format change.
type ConfigMeta struct {
	Filters    int    `json:"filters,omitempty"`
	KernelH    int    `json:"kernel_h,omitempty"`
	KernelW    int    `json:"kernel_w,omitempty"`
	Kernel     int    `json:"kernel,omitempty"`
	Stride     int    `json:"stride,omitempty"`
	Units      int    `json:"units,omitempty"`
	Bias       bool   `json:"bias,omitempty"`
	Activation string `json:"activation,omitempty"`
	Padding    [4]int `json:"padding,omitempty"` // top, bottom, left, right
}

// CheckpointMeta records training progress when the file is a checkpoint.
type CheckpointMeta struct {
	Epoch     int     `json:"epoch"`
	Iteration int     `json:"iteration"` // optimizer corrections applied
	Loss      float64 `json:"loss"`
	Optimizer string  `json:"optimizer"`
}

// TensorMeta describes a tensor in the data section.
type TensorMeta struct {
	Name   string `json:"name"` // e.g. "layer.1.conv.weights"
	DType  string `json:"dtype"`
	Shape  []int  `json:"shape"`
	Offset int64  `json:"offset"` // bytes from the start of the data section
	Size   int64  `json:"size"`   // bytes
}

func shapeMeta(s tensor.Shape) [4]int {
	return [4]int{s.Batch, s.Channels, s.Height, s.Width}
}

func shapeFromMeta(m [4]int) tensor.Shape {
	return tensor.NewShape(m[0], m[1], m[2], m[3])
}

func configMeta(kind nn.Kind, c nn.Config) ConfigMeta {
	m := ConfigMeta{
		Filters: c.Filters,
		KernelH: c.KernelH,
		KernelW: c.KernelW,
		Kernel:  c.Kernel,
		Stride:  c.Stride,
		Units:   c.Units,
		Bias:    c.Bias,
		Padding: [4]int{c.Padding.Top, c.Padding.Bottom, c.Padding.Left, c.Padding.Right},
	}
	if kind == nn.KindActivation {
		m.Activation = c.Activation.String()
	}
	return m
}

func configFromMeta(m ConfigMeta) (nn.Config, error) {
	c := nn.Config{
		Filters: m.Filters,
		KernelH: m.KernelH,
		KernelW: m.KernelW,
		Kernel:  m.Kernel,
		Stride:  m.Stride,
		Units:   m.Units,
		Bias:    m.Bias,
		Padding: tensor.Padding{Top: m.Padding[0], Bottom: m.Padding[1], Left: m.Padding[2], Right: m.Padding[3]},
	}
	if m.Activation != "" {
		a, err := tensor.ParseActivation(m.Activation)
		if err != nil {
			return nn.Config{}, err
		}
		c.Activation = a
	}
	return c, nil
}

// parameterShapes returns the natural shapes of a layer's weights and bias:
// (F, C, kh, kw) and (F) for convolutions, (in, units) and (units) for
// fully connected layers.
func parameterShapes(s nn.LayerSnapshot) (weights, bias []int) {
	switch s.Kind {
	case nn.KindConv:
		c := s.Config
		return []int{c.Filters, s.InputShape.Channels, c.KernelH, c.KernelW}, []int{c.Filters}
	case nn.KindFC:
		return []int{s.InputShape.PerBatch(), s.Config.Units}, []int{s.Config.Units}
	default:
		return []int{len(s.Weights)}, []int{len(s.Bias)}
	}
}
