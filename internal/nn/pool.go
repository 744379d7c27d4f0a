package nn

import (
	"fmt"

	"github.com/born-ml/convnet/internal/tensor"
)

// MaxPool is a 2D max pooling layer over square windows.
//
// Input shape:  [batch, channels, height, width]
// Output shape: [batch, channels, out_h, out_w]
//
// Where:
//
//	out_h = (height - kernel) / stride + 1
//	out_w = (width - kernel) / stride + 1
//
// Forward records the flat source offset of every window maximum in an
// index tensor shaped like the output; Backward routes each gradient to
// that offset and leaves every other input position at zero.
//
// Example:
//
//	pool, err := nn.NewMaxPool(2, 2)
//	// [32, 6, 24, 24] -> [32, 6, 12, 12]
type MaxPool struct {
	base
	index *tensor.Tensor
}

// NewMaxPool creates an uninitialized max pooling layer.
func NewMaxPool(kernel, stride int) (*MaxPool, error) {
	if kernel <= 0 || stride <= 0 {
		return nil, fmt.Errorf("maxpool: %w: kernel %d stride %d", tensor.ErrInvalidArgument, kernel, stride)
	}
	return &MaxPool{base: base{kind: KindPool, cfg: Config{Kernel: kernel, Stride: stride}}}, nil
}

// Initialize computes the pooled shape and allocates the index and the
// input gradient.
func (m *MaxPool) Initialize(ops tensor.Ops, input tensor.Shape) error {
	if err := m.begin(ops, input); err != nil {
		return err
	}
	out, err := tensor.MaxPoolShape(input, m.cfg.Kernel, m.cfg.Stride)
	if err != nil {
		return err
	}
	m.index = tensor.New(ops)
	m.finish(out, true, false)
	if m.inputGradient, err = tensor.Zeros(ops, input); err != nil {
		return fmt.Errorf("maxpool: %w", err)
	}
	return nil
}

// Index returns the argmax offsets of the last Forward call.
func (m *MaxPool) Index() *tensor.Tensor { return m.index }

// Forward pools x.
func (m *MaxPool) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := m.enter(x); err != nil {
		return nil, err
	}
	if err := m.ops.MaxPool(x, m.cfg.Kernel, m.cfg.Stride, m.output, m.index); err != nil {
		return nil, err
	}
	return m.output, nil
}

// Backward scatters dy through the recorded argmax offsets.
func (m *MaxPool) Backward(dy *tensor.Tensor) (*tensor.Tensor, error) {
	if err := m.enterBackward(dy); err != nil {
		return nil, err
	}
	if m.first() {
		return nil, nil
	}
	if err := m.ops.MaxPoolDx(dy, m.index, m.inputGradient); err != nil {
		return nil, err
	}
	return m.inputGradient, nil
}
