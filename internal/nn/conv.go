package nn

import (
	"fmt"

	"github.com/born-ml/convnet/internal/tensor"
)

// Convolution is a 2D convolution layer without implicit padding.
//
// Input shape:   [batch, channels, height, width]
// Weights shape: [filters, channels, kernel_h, kernel_w]
// Bias shape:    [1, 1, 1, filters] (one value per output channel)
// Output shape:  [batch, filters, out_h, out_w]
//
// Where:
//
//	out_h = (height - kernel_h) / stride + 1
//	out_w = (width - kernel_w) / stride + 1
//
// Zero padding is a separate Pad layer placed before the convolution.
//
// Example:
//
//	// 6 filters of 5x5, stride 1, with bias
//	conv, err := nn.NewConvolution(6, 5, 5, 1, true, nil)
//	if err != nil {
//	    return err
//	}
//	err = net.AddLayer(conv) // [32, 1, 28, 28] -> [32, 6, 24, 24]
type Convolution struct {
	base
	init Initializer

	weights *Parameter
	bias    *Parameter

	scratch *tensor.ConvScratch
	product *tensor.Tensor // convolution before bias
	dwStep  *tensor.Tensor // this call's filter gradient
}

// NewConvolution creates an uninitialized convolution layer. A nil init
// selects Xavier uniform.
func NewConvolution(filters, kernelH, kernelW, stride int, bias bool, init Initializer) (*Convolution, error) {
	if filters <= 0 {
		return nil, fmt.Errorf("convolution: %w: %d filters", tensor.ErrInvalidArgument, filters)
	}
	if kernelH <= 0 || kernelW <= 0 {
		return nil, fmt.Errorf("convolution: %w: kernel %dx%d", tensor.ErrInvalidArgument, kernelH, kernelW)
	}
	if stride <= 0 {
		return nil, fmt.Errorf("convolution: %w: stride %d", tensor.ErrInvalidArgument, stride)
	}
	return &Convolution{
		base: base{kind: KindConv, cfg: Config{
			Filters: filters, KernelH: kernelH, KernelW: kernelW, Stride: stride, Bias: bias,
		}},
		init: init,
	}, nil
}

// Initialize allocates weights, gradients and scratch buffers for input,
// then runs the initializer on the weights.
//
// Initialization:
//   - fan_in = channels * kernel_h * kernel_w
//   - fan_out = filters * kernel_h * kernel_w
//   - Bias: zeros
func (c *Convolution) Initialize(ops tensor.Ops, input tensor.Shape) error {
	if err := c.begin(ops, input); err != nil {
		return err
	}
	cfg := c.cfg
	out, err := tensor.ConvOutputShape(input, cfg.Filters, cfg.KernelH, cfg.KernelW, cfg.Stride)
	if err != nil {
		return err
	}
	fs := tensor.NewShape(cfg.Filters, input.Channels, cfg.KernelH, cfg.KernelW)
	if c.weights, err = newParameter(ops, "conv.weights", fs); err != nil {
		return err
	}
	if cfg.Bias {
		if c.bias, err = newParameter(ops, "conv.bias", tensor.NewShape(1, 1, 1, cfg.Filters)); err != nil {
			return err
		}
	}

	fanIn := input.Channels * cfg.KernelH * cfg.KernelW
	fanOut := cfg.Filters * cfg.KernelH * cfg.KernelW
	init := c.init
	if init == nil {
		init = defaultInitializer(fanIn, fanOut)
	}
	if err := init(c.weights.weights, fanIn, fanOut); err != nil {
		return fmt.Errorf("convolution: %w", err)
	}

	c.scratch = tensor.NewConvScratch(ops)
	c.product = tensor.New(ops)
	c.dwStep = tensor.New(ops)
	c.finish(out, true, true)
	return nil
}

// Weights returns the filter parameter.
func (c *Convolution) Weights() *Parameter { return c.weights }

// Bias returns the bias parameter, nil when the layer has none.
func (c *Convolution) Bias() *Parameter { return c.bias }

// Parameters returns the filters followed by the bias, if any.
func (c *Convolution) Parameters() []*Parameter {
	if c.weights == nil {
		return nil
	}
	if c.bias == nil {
		return []*Parameter{c.weights}
	}
	return []*Parameter{c.weights, c.bias}
}

// Forward computes filters ⊛ x (+ bias).
func (c *Convolution) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := c.enter(x); err != nil {
		return nil, err
	}
	if c.bias == nil {
		if err := tensor.ConvForward(x, c.weights.weights, c.cfg.Stride, c.scratch, c.output); err != nil {
			return nil, err
		}
		return c.output, nil
	}
	if err := tensor.ConvForward(x, c.weights.weights, c.cfg.Stride, c.scratch, c.product); err != nil {
		return nil, err
	}
	if err := c.ops.AddBias(c.product, c.bias.weights, c.output); err != nil {
		return nil, err
	}
	return c.output, nil
}

// Backward accumulates the filter and bias gradients and, unless this is
// the first layer, returns the input gradient.
func (c *Convolution) Backward(dy *tensor.Tensor) (*tensor.Tensor, error) {
	if err := c.enterBackward(dy); err != nil {
		return nil, err
	}
	if err := tensor.ConvDw(dy, c.weights.weights.Shape(), c.scratch, c.dwStep); err != nil {
		return nil, err
	}
	if err := c.weights.gradient.Accumulate(c.dwStep); err != nil {
		return nil, err
	}
	if c.bias != nil {
		if err := c.ops.BiasDx(dy, c.bias.gradient); err != nil {
			return nil, err
		}
	}
	if c.first() {
		return nil, nil
	}
	if err := tensor.ConvDx(dy, c.weights.weights, c.cfg.Stride, c.inShape, c.scratch, c.inputGradient); err != nil {
		return nil, err
	}
	return c.inputGradient, nil
}
