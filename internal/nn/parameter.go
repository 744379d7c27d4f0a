package nn

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/born-ml/convnet/internal/tensor"
)

// Parameter is a trainable tensor and the gradient accumulated for it.
//
// Gradients accumulate across Backward calls until the optimizer resets
// them, so several micro-batches can contribute to one correction.
//
// Example:
//
//	for _, p := range net.Parameters() {
//	    fmt.Println(p.Name(), p.Weights().Shape())
//	}
type Parameter struct {
	name     string
	weights  *tensor.Tensor
	gradient *tensor.Tensor
}

func newParameter(ops tensor.Ops, name string, shape tensor.Shape) (*Parameter, error) {
	w, err := tensor.Zeros(ops, shape)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	g, err := tensor.Zeros(ops, shape)
	if err != nil {
		return nil, fmt.Errorf("%s gradient: %w", name, err)
	}
	return &Parameter{name: name, weights: w, gradient: g}, nil
}

// Name returns the parameter name (e.g. "conv.weights").
func (p *Parameter) Name() string {
	return p.name
}

// Weights returns the parameter tensor.
func (p *Parameter) Weights() *tensor.Tensor {
	return p.weights
}

// Gradient returns the accumulated gradient, shaped like Weights.
func (p *Parameter) Gradient() *tensor.Tensor {
	return p.gradient
}

// ZeroGradient clears the accumulated gradient.
func (p *Parameter) ZeroGradient() error {
	return p.gradient.Zero()
}

// Initializer fills weights in place. It is invoked exactly once per
// parameterized layer, during Initialize.
type Initializer func(weights *tensor.Tensor, fanIn, fanOut int) error

// XavierUniform returns the Xavier (Glorot) uniform initializer:
//
//	U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
//
// rng is owned by the initializer; pass a seeded source for reproducible
// weights.
func XavierUniform(rng *rand.Rand) Initializer {
	return func(weights *tensor.Tensor, fanIn, fanOut int) error {
		if fanIn+fanOut <= 0 {
			return fmt.Errorf("xavier: %w: fan in %d, fan out %d", tensor.ErrInvalidArgument, fanIn, fanOut)
		}
		bound := math.Sqrt(6.0 / float64(fanIn+fanOut))
		data := make([]float32, weights.Size())
		for i := range data {
			data[i] = float32((rng.Float64()*2.0 - 1.0) * bound)
		}
		return weights.SetData(data)
	}
}

// defaultInitializer seeds Xavier from the layer fan so that layers built
// without an initializer are reproducible.
func defaultInitializer(fanIn, fanOut int) Initializer {
	return XavierUniform(rand.New(rand.NewPCG(uint64(fanIn), uint64(fanOut))))
}
