package nn

import (
	"fmt"

	"github.com/born-ml/convnet/internal/tensor"
)

// Network is an ordered chain of layers bound to one backend.
//
// AddLayer wires each new layer to the output shape of the previous one and
// initializes it, so every layer of a Network is initialized as soon as it
// is added.
//
// Example:
//
//	net, err := nn.NewNetwork(ops, tensor.NewShape(32, 1, 28, 28))
//	conv, _ := nn.NewConvolution(6, 5, 5, 1, true, nil)
//	err = net.AddLayer(conv)
//	...
//	out, err := net.Forward(x)
type Network struct {
	ops     tensor.Ops
	inShape tensor.Shape
	layers  []Layer
}

// NewNetwork creates an empty network accepting inputs of inputShape.
func NewNetwork(ops tensor.Ops, inputShape tensor.Shape) (*Network, error) {
	if ops == nil {
		return nil, fmt.Errorf("network: %w: nil ops", tensor.ErrInvalidArgument)
	}
	if err := inputShape.Validate(); err != nil {
		return nil, fmt.Errorf("network: %w", err)
	}
	return &Network{ops: ops, inShape: inputShape}, nil
}

// Ops returns the backend every layer runs on.
func (n *Network) Ops() tensor.Ops { return n.ops }

// InputShape returns the shape Forward accepts.
func (n *Network) InputShape() tensor.Shape { return n.inShape }

// OutputShape returns the output shape of the last layer, or the input
// shape of an empty network.
func (n *Network) OutputShape() tensor.Shape {
	if len(n.layers) == 0 {
		return n.inShape
	}
	return n.layers[len(n.layers)-1].OutputShape()
}

// Layers returns the layers in forward order.
func (n *Network) Layers() []Layer {
	return n.layers
}

// AddLayer appends l, initializing it for the current output shape. A layer
// that is already initialized must accept exactly that shape.
func (n *Network) AddLayer(l Layer) error {
	if l == nil {
		return fmt.Errorf("network: %w: nil layer", tensor.ErrInvalidArgument)
	}
	in := n.OutputShape()
	if l.Initialized() {
		if !l.InputShape().Equal(in) {
			return fmt.Errorf("network: %w: %s layer takes %v, previous output is %v",
				tensor.ErrShapeMismatch, l.Kind(), l.InputShape(), in)
		}
	} else if err := l.Initialize(n.ops, in); err != nil {
		return fmt.Errorf("network: layer %d: %w", len(n.layers), err)
	}
	if err := l.OutputShape().Validate(); err != nil {
		return fmt.Errorf("network: layer %d output: %w", len(n.layers), err)
	}
	if len(n.layers) > 0 {
		last := n.layers[len(n.layers)-1]
		last.link(nil, l)
		l.link(last, nil)
	}
	n.layers = append(n.layers, l)
	return nil
}

// Forward runs x through every layer and returns the last output. The
// returned tensor is owned by the last layer and overwritten by the next
// call.
func (n *Network) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := n.ready(); err != nil {
		return nil, fmt.Errorf("network forward: %w", err)
	}
	if x == nil {
		return nil, fmt.Errorf("network forward: %w: nil input", tensor.ErrInvalidArgument)
	}
	if !x.Shape().Equal(n.inShape) {
		return nil, fmt.Errorf("network forward: %w: input %v, want %v", tensor.ErrShapeMismatch, x.Shape(), n.inShape)
	}
	out := x
	for i, l := range n.layers {
		var err error
		if out, err = l.Forward(out); err != nil {
			return nil, fmt.Errorf("network forward: layer %d: %w", i, err)
		}
	}
	return out, nil
}

// Backward propagates dy, the loss gradient with respect to the network
// output, from the last layer to the first. Parameter gradients accumulate.
func (n *Network) Backward(dy *tensor.Tensor) error {
	if err := n.ready(); err != nil {
		return fmt.Errorf("network backward: %w", err)
	}
	grad := dy
	for i := len(n.layers) - 1; i >= 0; i-- {
		var err error
		if grad, err = n.layers[i].Backward(grad); err != nil {
			return fmt.Errorf("network backward: layer %d: %w", i, err)
		}
	}
	return nil
}

// Parameters returns the trainable parameters of all layers in forward order.
func (n *Network) Parameters() []*Parameter {
	var params []*Parameter
	for _, l := range n.layers {
		params = append(params, l.Parameters()...)
	}
	return params
}

// ZeroGradients clears every accumulated gradient.
func (n *Network) ZeroGradients() error {
	for _, p := range n.Parameters() {
		if err := p.ZeroGradient(); err != nil {
			return err
		}
	}
	return nil
}

func (n *Network) ready() error {
	if len(n.layers) == 0 {
		return fmt.Errorf("%w: no layers", tensor.ErrModelNotInitialized)
	}
	for i, l := range n.layers {
		if !l.Initialized() {
			return fmt.Errorf("%w: layer %d (%s)", tensor.ErrModelNotInitialized, i, l.Kind())
		}
	}
	return nil
}

// LayerSnapshot describes one layer of a network: its kind, construction
// parameters, shapes and flattened weights. Weights and Bias are nil for
// layers that do not have them.
type LayerSnapshot struct {
	Kind        Kind
	Config      Config
	InputShape  tensor.Shape
	OutputShape tensor.Shape
	Weights     []float32
	Bias        []float32
}

// Snapshot copies the layer descriptors and weights, in forward order.
func (n *Network) Snapshot() ([]LayerSnapshot, error) {
	if err := n.ops.Synchronize(); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	snaps := make([]LayerSnapshot, 0, len(n.layers))
	for i, l := range n.layers {
		s := LayerSnapshot{
			Kind:        l.Kind(),
			Config:      l.Config(),
			InputShape:  l.InputShape(),
			OutputShape: l.OutputShape(),
		}
		params := l.Parameters()
		if len(params) > 0 {
			w, err := params[0].Weights().Data()
			if err != nil {
				return nil, fmt.Errorf("snapshot: layer %d: %w", i, err)
			}
			s.Weights = w
		}
		if len(params) > 1 {
			b, err := params[1].Weights().Data()
			if err != nil {
				return nil, fmt.Errorf("snapshot: layer %d: %w", i, err)
			}
			s.Bias = b
		}
		snaps = append(snaps, s)
	}
	return snaps, nil
}

// Restore rebuilds a network from snapshots on ops. Each layer is created
// with NewLayer, initialized for the running output shape and loaded with
// the recorded weights; a recorded shape that disagrees is an error.
func Restore(ops tensor.Ops, inputShape tensor.Shape, snaps []LayerSnapshot) (*Network, error) {
	n, err := NewNetwork(ops, inputShape)
	if err != nil {
		return nil, err
	}
	for i, s := range snaps {
		l, err := NewLayer(s.Kind, s.Config)
		if err != nil {
			return nil, fmt.Errorf("restore: layer %d: %w", i, err)
		}
		if err := n.AddLayer(l); err != nil {
			return nil, fmt.Errorf("restore: %w", err)
		}
		if !l.InputShape().Equal(s.InputShape) || !l.OutputShape().Equal(s.OutputShape) {
			return nil, fmt.Errorf("restore: layer %d: %w: %v -> %v, recorded %v -> %v", i, tensor.ErrShapeMismatch,
				l.InputShape(), l.OutputShape(), s.InputShape, s.OutputShape)
		}
		params := l.Parameters()
		if err := load(params, 0, s.Weights); err != nil {
			return nil, fmt.Errorf("restore: layer %d weights: %w", i, err)
		}
		if err := load(params, 1, s.Bias); err != nil {
			return nil, fmt.Errorf("restore: layer %d bias: %w", i, err)
		}
	}
	return n, nil
}

func load(params []*Parameter, i int, data []float32) error {
	if i >= len(params) {
		if data != nil {
			return fmt.Errorf("%w: layer has no such parameter", tensor.ErrShapeMismatch)
		}
		return nil
	}
	if data == nil {
		return fmt.Errorf("%w: missing %s", tensor.ErrShapeMismatch, params[i].Name())
	}
	return params[i].Weights().SetData(data)
}
