package nn

import (
	"fmt"

	"github.com/born-ml/convnet/internal/tensor"
)

// FullyConnected is a dense layer: output = flatten(x) · W + b.
//
// Input shape:   any [batch, ...]; each batch item is flattened to in = C*H*W
// Weights shape: [1, 1, in, units]
// Bias shape:    [1, 1, 1, units]
// Output shape:  [batch, 1, 1, units]
//
// Example:
//
//	fc, err := nn.NewFullyConnected(10, true, nn.XavierUniform(rng))
//	// [32, 16, 4, 4] -> [32, 1, 1, 10]
type FullyConnected struct {
	base
	init Initializer

	weights *Parameter
	bias    *Parameter

	product    *tensor.Tensor // x · W before bias
	xT         *tensor.Tensor // [1, 1, in, batch]
	dwStep     *tensor.Tensor
	weightsT   *tensor.Tensor // [1, 1, units, in]
	dxFlat     *tensor.Tensor // [batch, 1, 1, in]
	flatShape  tensor.Shape
	rowsShape  tensor.Shape // input as one [batch, in] matrix
	dyRowShape tensor.Shape // dy as one [batch, units] matrix
}

// NewFullyConnected creates an uninitialized dense layer. A nil init
// selects Xavier uniform.
func NewFullyConnected(units int, bias bool, init Initializer) (*FullyConnected, error) {
	if units <= 0 {
		return nil, fmt.Errorf("fully connected: %w: %d units", tensor.ErrInvalidArgument, units)
	}
	return &FullyConnected{
		base: base{kind: KindFC, cfg: Config{Units: units, Bias: bias}},
		init: init,
	}, nil
}

// Initialize allocates weights and buffers for input and runs the
// initializer with fan_in = C*H*W and fan_out = units.
func (f *FullyConnected) Initialize(ops tensor.Ops, input tensor.Shape) error {
	if err := f.begin(ops, input); err != nil {
		return err
	}
	in, units := input.PerBatch(), f.cfg.Units
	var err error
	if f.weights, err = newParameter(ops, "fc.weights", tensor.NewShape(1, 1, in, units)); err != nil {
		return err
	}
	if f.cfg.Bias {
		if f.bias, err = newParameter(ops, "fc.bias", tensor.NewShape(1, 1, 1, units)); err != nil {
			return err
		}
	}
	init := f.init
	if init == nil {
		init = defaultInitializer(in, units)
	}
	if err := init(f.weights.weights, in, units); err != nil {
		return fmt.Errorf("fully connected: %w", err)
	}

	f.flatShape = tensor.NewShape(input.Batch, 1, 1, in)
	f.rowsShape = tensor.NewShape(1, 1, input.Batch, in)
	f.dyRowShape = tensor.NewShape(1, 1, input.Batch, units)
	f.product = tensor.New(ops)
	f.xT = tensor.New(ops)
	f.dwStep = tensor.New(ops)
	f.weightsT = tensor.New(ops)
	if f.dxFlat, err = tensor.Zeros(ops, f.flatShape); err != nil {
		return fmt.Errorf("fully connected: %w", err)
	}
	f.finish(tensor.NewShape(input.Batch, 1, 1, units), true, false)
	if f.inputGradient, err = f.dxFlat.View(input); err != nil {
		return fmt.Errorf("fully connected: %w", err)
	}
	return nil
}

// Weights returns the weight parameter.
func (f *FullyConnected) Weights() *Parameter { return f.weights }

// Bias returns the bias parameter, nil when the layer has none.
func (f *FullyConnected) Bias() *Parameter { return f.bias }

// Parameters returns the weights followed by the bias, if any.
func (f *FullyConnected) Parameters() []*Parameter {
	if f.weights == nil {
		return nil
	}
	if f.bias == nil {
		return []*Parameter{f.weights}
	}
	return []*Parameter{f.weights, f.bias}
}

// Forward computes flatten(x) · W (+ b).
func (f *FullyConnected) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := f.enter(x); err != nil {
		return nil, err
	}
	flat, err := x.View(f.flatShape)
	if err != nil {
		return nil, fmt.Errorf("fully connected: %w", err)
	}
	if f.bias == nil {
		if err := f.ops.Dot2D(flat, f.weights.weights, f.output); err != nil {
			return nil, err
		}
		return f.output, nil
	}
	if err := f.ops.Dot2D(flat, f.weights.weights, f.product); err != nil {
		return nil, err
	}
	if err := f.ops.AddBias(f.product, f.bias.weights, f.output); err != nil {
		return nil, err
	}
	return f.output, nil
}

// Backward accumulates dW = xᵀ · dy over the batch (and db = Σ dy) and,
// unless this is the first layer, returns dx = dy · Wᵀ in the input shape.
func (f *FullyConnected) Backward(dy *tensor.Tensor) (*tensor.Tensor, error) {
	if err := f.enterBackward(dy); err != nil {
		return nil, err
	}
	xRows, err := f.input.View(f.rowsShape)
	if err != nil {
		return nil, fmt.Errorf("fully connected: %w", err)
	}
	dyRows, err := dy.View(f.dyRowShape)
	if err != nil {
		return nil, fmt.Errorf("fully connected: %w", err)
	}
	if err := f.ops.Transpose(xRows, f.xT); err != nil {
		return nil, err
	}
	if err := f.ops.Dot2D(f.xT, dyRows, f.dwStep); err != nil {
		return nil, err
	}
	if err := f.weights.gradient.Accumulate(f.dwStep); err != nil {
		return nil, err
	}
	if f.bias != nil {
		if err := f.ops.BiasDx(dy, f.bias.gradient); err != nil {
			return nil, err
		}
	}
	if f.first() {
		return nil, nil
	}
	if err := f.ops.Transpose(f.weights.weights, f.weightsT); err != nil {
		return nil, err
	}
	if err := f.ops.Dot2D(dy, f.weightsT, f.dxFlat); err != nil {
		return nil, err
	}
	return f.inputGradient, nil
}
