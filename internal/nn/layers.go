package nn

import (
	"fmt"

	"github.com/born-ml/convnet/internal/tensor"
)

// Activation applies an elementwise nonlinearity.
//
// Output shape equals input shape.
//
// Example:
//
//	relu, err := nn.NewActivation(tensor.ReLU)
type Activation struct {
	base
}

// NewActivation creates an uninitialized activation layer.
func NewActivation(kind tensor.ActivationKind) (*Activation, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("activation: %w: %v", tensor.ErrInvalidArgument, kind)
	}
	return &Activation{base: base{kind: KindActivation, cfg: Config{Activation: kind}}}, nil
}

// Initialize allocates the output and input gradient buffers.
func (a *Activation) Initialize(ops tensor.Ops, input tensor.Shape) error {
	if err := a.begin(ops, input); err != nil {
		return err
	}
	a.finish(input, true, true)
	return nil
}

// Forward computes f(x).
func (a *Activation) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := a.enter(x); err != nil {
		return nil, err
	}
	if err := a.ops.Activation(a.cfg.Activation, x, a.output); err != nil {
		return nil, err
	}
	return a.output, nil
}

// Backward computes f'(x) * dy.
func (a *Activation) Backward(dy *tensor.Tensor) (*tensor.Tensor, error) {
	if err := a.enterBackward(dy); err != nil {
		return nil, err
	}
	if a.first() {
		return nil, nil
	}
	if err := a.ops.ActivationDx(a.cfg.Activation, a.input, a.output, dy, a.inputGradient); err != nil {
		return nil, err
	}
	return a.inputGradient, nil
}

// Softmax normalizes every batch row into a probability distribution.
//
// The row maximum is subtracted before exponentiation, so large logits do
// not overflow. Backward applies the full Jacobian-vector product, which
// makes the layer usable with any loss.
type Softmax struct {
	base
	rowMax *tensor.Tensor
}

// NewSoftmax creates an uninitialized softmax layer.
func NewSoftmax() *Softmax {
	return &Softmax{base: base{kind: KindSoftmax}}
}

// Initialize allocates the output, the row maximum scratch and the input
// gradient.
func (s *Softmax) Initialize(ops tensor.Ops, input tensor.Shape) error {
	if err := s.begin(ops, input); err != nil {
		return err
	}
	s.rowMax = tensor.New(ops)
	s.finish(input, true, true)
	return nil
}

// Forward computes softmax(x) per row.
func (s *Softmax) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := s.enter(x); err != nil {
		return nil, err
	}
	if err := s.ops.Softmax(x, s.rowMax, s.output); err != nil {
		return nil, err
	}
	return s.output, nil
}

// Backward computes J(y)ᵀ · dy per row.
func (s *Softmax) Backward(dy *tensor.Tensor) (*tensor.Tensor, error) {
	if err := s.enterBackward(dy); err != nil {
		return nil, err
	}
	if s.first() {
		return nil, nil
	}
	if err := s.ops.SoftmaxDx(s.output, dy, s.inputGradient); err != nil {
		return nil, err
	}
	return s.inputGradient, nil
}

// Pad surrounds every feature map with zeros.
//
// Input shape:  [batch, channels, height, width]
// Output shape: [batch, channels, top+height+bottom, left+width+right]
//
// Backward crops the gradient back to the input extent.
type Pad struct {
	base
}

// NewPad creates an uninitialized padding layer.
func NewPad(pad tensor.Padding) (*Pad, error) {
	if err := pad.Validate(); err != nil {
		return nil, fmt.Errorf("pad: %w", err)
	}
	return &Pad{base: base{kind: KindPad, cfg: Config{Padding: pad}}}, nil
}

// Initialize computes the padded shape and allocates the buffers.
func (p *Pad) Initialize(ops tensor.Ops, input tensor.Shape) error {
	if err := p.begin(ops, input); err != nil {
		return err
	}
	out, err := tensor.PadShape(input, p.cfg.Padding, 1)
	if err != nil {
		return err
	}
	p.finish(out, true, true)
	return nil
}

// Forward pads x.
func (p *Pad) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := p.enter(x); err != nil {
		return nil, err
	}
	if err := p.ops.Pad(x, p.cfg.Padding, 1, p.output); err != nil {
		return nil, err
	}
	return p.output, nil
}

// Backward crops dy.
func (p *Pad) Backward(dy *tensor.Tensor) (*tensor.Tensor, error) {
	if err := p.enterBackward(dy); err != nil {
		return nil, err
	}
	if p.first() {
		return nil, nil
	}
	if err := p.ops.Crop(dy, p.cfg.Padding, p.inputGradient); err != nil {
		return nil, err
	}
	return p.inputGradient, nil
}

// Flatten reshapes every batch item into one row, (B, 1, 1, C*H*W).
// Forward and Backward return views; no data is copied.
type Flatten struct {
	base
}

// NewFlatten creates an uninitialized flatten layer.
func NewFlatten() *Flatten {
	return &Flatten{base: base{kind: KindFlatten}}
}

// Initialize records the flattened shape.
func (f *Flatten) Initialize(ops tensor.Ops, input tensor.Shape) error {
	if err := f.begin(ops, input); err != nil {
		return err
	}
	f.finish(tensor.NewShape(input.Batch, 1, 1, input.PerBatch()), false, false)
	return nil
}

// Forward returns x viewed as rows.
func (f *Flatten) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := f.enter(x); err != nil {
		return nil, err
	}
	out, err := tensor.Flatten(x)
	if err != nil {
		return nil, err
	}
	f.output = out
	return out, nil
}

// Backward returns dy viewed under the input shape.
func (f *Flatten) Backward(dy *tensor.Tensor) (*tensor.Tensor, error) {
	if err := f.enterBackward(dy); err != nil {
		return nil, err
	}
	if f.first() {
		return nil, nil
	}
	dx, err := tensor.FlattenDx(dy, f.inShape)
	if err != nil {
		return nil, err
	}
	f.inputGradient = dx
	return dx, nil
}
