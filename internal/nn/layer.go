// Package nn implements the layer graph of the convnet engine.
//
// This package provides:
//   - Layer interface: a node of a singly chained graph, one per operation
//   - Convolution, MaxPool, FullyConnected: the feature layers
//   - Activation, Softmax, Pad, Flatten: shape and nonlinearity layers
//   - Parameter: a weight tensor paired with its accumulated gradient
//   - Network: the ordered chain, with snapshot and restore
//
// Every layer owns its buffers. They are allocated once by Initialize and
// reused by every Forward/Backward call, so a training step allocates
// nothing after the first iteration.
package nn

import (
	"fmt"

	"github.com/born-ml/convnet/internal/tensor"
)

// Kind tags a layer variant.
type Kind int

// Layer variants.
const (
	KindConv Kind = iota
	KindPool
	KindFC
	KindActivation
	KindSoftmax
	KindPad
	KindFlatten
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindConv:
		return "conv"
	case KindPool:
		return "pool"
	case KindFC:
		return "fc"
	case KindActivation:
		return "activation"
	case KindSoftmax:
		return "softmax"
	case KindPad:
		return "pad"
	case KindFlatten:
		return "flatten"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind returns the kind named by s, as produced by Kind.String.
func ParseKind(s string) (Kind, error) {
	for k := KindConv; k <= KindFlatten; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("nn: %w: unknown layer kind %q", tensor.ErrInvalidArgument, s)
}

// Config carries the hyperparameters of every layer kind. Each kind reads
// only its own fields:
//
//	KindConv:       Filters, KernelH, KernelW, Stride, Bias
//	KindPool:       Kernel, Stride
//	KindFC:         Units, Bias
//	KindActivation: Activation
//	KindPad:        Padding
type Config struct {
	Filters    int
	KernelH    int
	KernelW    int
	Kernel     int
	Stride     int
	Units      int
	Bias       bool
	Activation tensor.ActivationKind
	Padding    tensor.Padding
}

// Layer is one node of a Network.
//
// Lifecycle: a layer starts uninitialized; Initialize fixes its input
// shape, computes its output shape and allocates its buffers. Layers are
// not re-initialized.
//
// Forward stores x and returns the layer's output tensor, which is the same
// tensor on every call. Backward stores dy, accumulates parameter gradients
// and returns the gradient with respect to the input; the first layer of a
// chain returns nil because nothing upstream consumes it.
type Layer interface {
	// Kind returns the variant tag.
	Kind() Kind

	// Config returns the construction parameters.
	Config() Config

	// Initialize binds the layer to ops and allocates its buffers for input.
	Initialize(ops tensor.Ops, input tensor.Shape) error

	// Initialized reports whether Initialize has succeeded.
	Initialized() bool

	// InputShape returns the shape Forward accepts.
	InputShape() tensor.Shape

	// OutputShape returns the shape Forward produces.
	OutputShape() tensor.Shape

	// Forward computes the layer output for x.
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)

	// Backward propagates dy, the gradient of the loss with respect to the output.
	Backward(dy *tensor.Tensor) (*tensor.Tensor, error)

	// Parameters returns the trainable parameters (nil for stateless layers).
	Parameters() []*Parameter

	// Prev returns the upstream layer, nil for the first layer.
	Prev() Layer

	// Next returns the downstream layer, nil for the last layer.
	Next() Layer

	link(prev, next Layer)
}

// base holds the state every layer shares.
type base struct {
	kind Kind
	cfg  Config

	ops         tensor.Ops
	initialized bool
	inShape     tensor.Shape
	outShape    tensor.Shape

	prev, next Layer

	input          *tensor.Tensor
	output         *tensor.Tensor
	outputGradient *tensor.Tensor
	inputGradient  *tensor.Tensor
}

func (b *base) Kind() Kind                { return b.kind }
func (b *base) Config() Config            { return b.cfg }
func (b *base) Initialized() bool         { return b.initialized }
func (b *base) InputShape() tensor.Shape  { return b.inShape }
func (b *base) OutputShape() tensor.Shape { return b.outShape }
func (b *base) Prev() Layer               { return b.prev }
func (b *base) Next() Layer               { return b.next }
func (b *base) Parameters() []*Parameter  { return nil }

func (b *base) link(prev, next Layer) {
	if prev != nil {
		b.prev = prev
	}
	if next != nil {
		b.next = next
	}
}

// Input returns the tensor passed to the last Forward call.
func (b *base) Input() *tensor.Tensor { return b.input }

// Output returns the output buffer.
func (b *base) Output() *tensor.Tensor { return b.output }

// OutputGradient returns the dy passed to the last Backward call.
func (b *base) OutputGradient() *tensor.Tensor { return b.outputGradient }

// InputGradient returns the gradient buffer Backward writes.
func (b *base) InputGradient() *tensor.Tensor { return b.inputGradient }

// begin validates and records the shapes of a layer being initialized.
func (b *base) begin(ops tensor.Ops, input tensor.Shape) error {
	if b.initialized {
		return fmt.Errorf("%s: %w: already initialized", b.kind, tensor.ErrInvalidArgument)
	}
	if ops == nil {
		return fmt.Errorf("%s: %w: nil ops", b.kind, tensor.ErrInvalidArgument)
	}
	if err := input.Validate(); err != nil {
		return fmt.Errorf("%s: %w", b.kind, err)
	}
	b.ops = ops
	b.inShape = input
	return nil
}

// finish records the output shape and allocates the output buffer when
// the layer computes into one.
func (b *base) finish(out tensor.Shape, ownOutput, ownInputGradient bool) {
	b.outShape = out
	if ownOutput {
		b.output = tensor.New(b.ops)
	}
	if ownInputGradient {
		b.inputGradient = tensor.New(b.ops)
	}
	b.initialized = true
}

// enter validates x for Forward.
func (b *base) enter(x *tensor.Tensor) error {
	if !b.initialized {
		return fmt.Errorf("%s forward: %w", b.kind, tensor.ErrModelNotInitialized)
	}
	if x == nil {
		return fmt.Errorf("%s forward: %w: nil input", b.kind, tensor.ErrInvalidArgument)
	}
	if !x.Shape().Equal(b.inShape) {
		return fmt.Errorf("%s forward: %w: input %v, want %v", b.kind, tensor.ErrShapeMismatch, x.Shape(), b.inShape)
	}
	b.input = x
	return nil
}

// enterBackward validates dy for Backward.
func (b *base) enterBackward(dy *tensor.Tensor) error {
	if !b.initialized {
		return fmt.Errorf("%s backward: %w", b.kind, tensor.ErrModelNotInitialized)
	}
	if dy == nil {
		return fmt.Errorf("%s backward: %w: nil gradient", b.kind, tensor.ErrInvalidArgument)
	}
	if !dy.Shape().Equal(b.outShape) {
		return fmt.Errorf("%s backward: %w: gradient %v, want %v", b.kind, tensor.ErrShapeMismatch, dy.Shape(), b.outShape)
	}
	b.outputGradient = dy
	return nil
}

// first reports whether no layer consumes this layer's input gradient.
func (b *base) first() bool {
	return b.prev == nil
}

// NewLayer builds an uninitialized layer of kind from cfg, using the
// default initializer for parameterized kinds.
func NewLayer(kind Kind, cfg Config) (Layer, error) {
	var (
		l   Layer
		err error
	)
	switch kind {
	case KindConv:
		var c *Convolution
		c, err = NewConvolution(cfg.Filters, cfg.KernelH, cfg.KernelW, cfg.Stride, cfg.Bias, nil)
		l = c
	case KindPool:
		var m *MaxPool
		m, err = NewMaxPool(cfg.Kernel, cfg.Stride)
		l = m
	case KindFC:
		var f *FullyConnected
		f, err = NewFullyConnected(cfg.Units, cfg.Bias, nil)
		l = f
	case KindActivation:
		var a *Activation
		a, err = NewActivation(cfg.Activation)
		l = a
	case KindSoftmax:
		l = NewSoftmax()
	case KindPad:
		var p *Pad
		p, err = NewPad(cfg.Padding)
		l = p
	case KindFlatten:
		l = NewFlatten()
	default:
		return nil, fmt.Errorf("nn: %w: unknown layer kind %d", tensor.ErrInvalidArgument, int(kind))
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}
