package nn

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"

	"github.com/born-ml/convnet/internal/backend/cpu"
	"github.com/born-ml/convnet/internal/backend/device"
	"github.com/born-ml/convnet/internal/backend/device/emulator"
	"github.com/born-ml/convnet/internal/tensor"
)

func randomTensor(t *testing.T, ops tensor.Ops, rng *rand.Rand, shape tensor.Shape) *tensor.Tensor {
	t.Helper()
	data := make([]float32, shape.Size())
	for i := range data {
		data[i] = float32(rng.Float64()*2 - 1)
	}
	x, err := tensor.FromSlice(ops, shape, data)
	require.NoError(t, err)
	return x
}

func values(t *testing.T, x *tensor.Tensor) []float32 {
	t.Helper()
	data, err := x.Data()
	require.NoError(t, err)
	return data
}

// gradientCase checks Backward against central differences of
// L = Σ dy ⊙ Forward(x), for the input and for every parameter.
type gradientCase struct {
	layer Layer
	input tensor.Shape
	ops   tensor.Ops // default: cpu
}

func checkGradients(t *testing.T, c gradientCase) {
	t.Helper()
	ops := c.ops
	if ops == nil {
		ops = cpu.New()
	}
	rng := rand.New(rand.NewPCG(11, 13))

	l := c.layer
	require.NoError(t, l.Initialize(ops, c.input))
	// A predecessor makes Backward produce the input gradient.
	l.link(NewFlatten(), nil)

	x := randomTensor(t, ops, rng, c.input)
	dy := values(t, randomTensor(t, ops, rng, l.OutputShape()))
	dyT, err := tensor.FromSlice(ops, l.OutputShape(), dy)
	require.NoError(t, err)

	objective := func() float64 {
		out, err := l.Forward(x)
		require.NoError(t, err)
		var sum float64
		for i, v := range values(t, out) {
			sum += float64(v) * float64(dy[i])
		}
		return sum
	}

	for _, p := range l.Parameters() {
		require.NoError(t, p.ZeroGradient())
	}
	_, err = l.Forward(x)
	require.NoError(t, err)
	dx, err := l.Backward(dyT)
	require.NoError(t, err)
	require.NotNil(t, dx)
	require.True(t, dx.Shape().Equal(c.input))

	numeric := func(target *tensor.Tensor) []float64 {
		base := values(t, target)
		f := func(v []float64) float64 {
			data := make([]float32, len(v))
			for i := range v {
				data[i] = float32(v[i])
			}
			require.NoError(t, target.SetData(data))
			return objective()
		}
		x0 := make([]float64, len(base))
		for i, v := range base {
			x0[i] = float64(v)
		}
		grad := fd.Gradient(nil, f, x0, &fd.Settings{Formula: fd.Central, Step: 1e-2})
		require.NoError(t, target.SetData(base))
		return grad
	}

	assertClose := func(name string, want []float64, got []float32) {
		require.Len(t, got, len(want), name)
		for i := range want {
			assert.InDelta(t, want[i], float64(got[i]), 1e-2, "%s[%d]", name, i)
		}
	}

	assertClose("dx", numeric(x), values(t, dx))
	for _, p := range l.Parameters() {
		assertClose(p.Name(), numeric(p.Weights()), values(t, p.Gradient()))
	}
}

func TestConvolution_Gradients(t *testing.T) {
	for _, stride := range []int{1, 2} {
		conv, err := NewConvolution(3, 3, 2, stride, true, nil)
		require.NoError(t, err)
		checkGradients(t, gradientCase{layer: conv, input: tensor.NewShape(2, 2, 7, 6)})
	}
}

// An 8x7 input under a 3x2 kernel leaves rows and columns the last window
// never reaches: (8-3)%2 = (7-2)%2 = 1 and (8-3)%3 = (7-2)%3 = 2.
func TestConvolution_GradientsStrideRemainder(t *testing.T) {
	backends := map[string]func(t *testing.T) tensor.Ops{
		"cpu": func(*testing.T) tensor.Ops { return cpu.New() },
		"emulator": func(t *testing.T) tensor.Ops {
			b := device.New(emulator.New())
			t.Cleanup(func() { _ = b.Close() })
			return b
		},
	}
	for name, newOps := range backends {
		for _, stride := range []int{2, 3} {
			t.Run(fmt.Sprintf("%s/stride%d", name, stride), func(t *testing.T) {
				conv, err := NewConvolution(3, 3, 2, stride, true, nil)
				require.NoError(t, err)
				checkGradients(t, gradientCase{layer: conv, input: tensor.NewShape(2, 2, 8, 7), ops: newOps(t)})
			})
		}
	}
}

func TestFullyConnected_Gradients(t *testing.T) {
	fc, err := NewFullyConnected(4, true, nil)
	require.NoError(t, err)
	checkGradients(t, gradientCase{layer: fc, input: tensor.NewShape(3, 2, 2, 3)})
}

func TestPad_Gradients(t *testing.T) {
	pad, err := NewPad(tensor.Padding{Top: 1, Bottom: 2, Left: 0, Right: 1})
	require.NoError(t, err)
	checkGradients(t, gradientCase{layer: pad, input: tensor.NewShape(2, 2, 3, 3)})
}

func TestActivation_Gradients(t *testing.T) {
	for _, kind := range []tensor.ActivationKind{tensor.Sigmoid, tensor.Tanh} {
		t.Run(kind.String(), func(t *testing.T) {
			a, err := NewActivation(kind)
			require.NoError(t, err)
			checkGradients(t, gradientCase{layer: a, input: tensor.NewShape(2, 1, 2, 3)})
		})
	}
}

func TestSoftmax_Gradients(t *testing.T) {
	checkGradients(t, gradientCase{layer: NewSoftmax(), input: tensor.NewShape(2, 1, 1, 5)})
}

func TestSoftmax_RowsSumToOne(t *testing.T) {
	ops := cpu.New()
	s := NewSoftmax()
	shape := tensor.NewShape(2, 1, 1, 4)
	require.NoError(t, s.Initialize(ops, shape))

	x, err := tensor.FromSlice(ops, shape, []float32{1000, 1001, 1002, 1003, -50, 0, 50, 3})
	require.NoError(t, err)
	y, err := s.Forward(x)
	require.NoError(t, err)

	for b := 0; b < 2; b++ {
		var sum float64
		for j := 0; j < 4; j++ {
			v := y.At4(b, 0, 0, j)
			require.False(t, math.IsNaN(float64(v)))
			sum += float64(v)
		}
		assert.InDelta(t, 1.0, sum, 1e-3)
	}
}

func TestMaxPool_ForwardBackward(t *testing.T) {
	ops := cpu.New()
	pool, err := NewMaxPool(2, 2)
	require.NoError(t, err)
	shape := tensor.NewShape(1, 1, 4, 4)
	require.NoError(t, pool.Initialize(ops, shape))
	assert.Equal(t, tensor.NewShape(1, 1, 2, 2), pool.OutputShape())
	pool.link(NewFlatten(), nil)

	x, err := tensor.FromSlice(ops, shape, []float32{
		1, 2, 0, 0,
		3, 4, 0, 9,
		5, 0, 1, 1,
		0, 0, 1, 2,
	})
	require.NoError(t, err)
	y, err := pool.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 9, 5, 2}, values(t, y))

	dy, err := tensor.FromSlice(ops, pool.OutputShape(), []float32{10, 20, 30, 40})
	require.NoError(t, err)
	dx, err := pool.Backward(dy)
	require.NoError(t, err)
	assert.Equal(t, []float32{
		0, 0, 0, 0,
		0, 10, 0, 20,
		30, 0, 0, 0,
		0, 0, 0, 40,
	}, values(t, dx))
}

func TestFlatten_RoundTrip(t *testing.T) {
	ops := cpu.New()
	f := NewFlatten()
	shape := tensor.NewShape(2, 3, 2, 2)
	require.NoError(t, f.Initialize(ops, shape))
	f.link(NewSoftmax(), nil)
	assert.Equal(t, tensor.NewShape(2, 1, 1, 12), f.OutputShape())

	x := randomTensor(t, ops, rand.New(rand.NewPCG(1, 2)), shape)
	y, err := f.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, f.OutputShape(), y.Shape())

	dx, err := f.Backward(y)
	require.NoError(t, err)
	assert.Equal(t, shape, dx.Shape())
	assert.Equal(t, values(t, x), values(t, dx))
}

func TestLayer_FirstReturnsNilGradient(t *testing.T) {
	ops := cpu.New()
	fc, err := NewFullyConnected(2, true, nil)
	require.NoError(t, err)
	shape := tensor.NewShape(2, 1, 1, 3)
	require.NoError(t, fc.Initialize(ops, shape))

	x := randomTensor(t, ops, rand.New(rand.NewPCG(3, 4)), shape)
	_, err = fc.Forward(x)
	require.NoError(t, err)
	dy, err := tensor.Zeros(ops, fc.OutputShape())
	require.NoError(t, err)
	require.NoError(t, dy.Fill(1))

	dx, err := fc.Backward(dy)
	require.NoError(t, err)
	assert.Nil(t, dx)
	// Bias gradient is the batch sum of dy.
	assert.Equal(t, []float32{2, 2}, values(t, fc.Bias().Gradient()))
}

func TestLayer_GradientsAccumulate(t *testing.T) {
	ops := cpu.New()
	fc, err := NewFullyConnected(2, true, nil)
	require.NoError(t, err)
	shape := tensor.NewShape(1, 1, 1, 2)
	require.NoError(t, fc.Initialize(ops, shape))

	x, err := tensor.FromSlice(ops, shape, []float32{1, 2})
	require.NoError(t, err)
	dy, err := tensor.FromSlice(ops, fc.OutputShape(), []float32{1, 1})
	require.NoError(t, err)
	for range 3 {
		_, err = fc.Forward(x)
		require.NoError(t, err)
		_, err = fc.Backward(dy)
		require.NoError(t, err)
	}
	assert.Equal(t, []float32{3, 3, 6, 6}, values(t, fc.Weights().Gradient()))

	require.NoError(t, fc.Weights().ZeroGradient())
	assert.Equal(t, []float32{0, 0, 0, 0}, values(t, fc.Weights().Gradient()))
}

func TestLayer_Errors(t *testing.T) {
	ops := cpu.New()
	shape := tensor.NewShape(1, 1, 4, 4)

	t.Run("constructors", func(t *testing.T) {
		_, err := NewConvolution(0, 3, 3, 1, false, nil)
		assert.True(t, errors.Is(err, tensor.ErrInvalidArgument))
		_, err = NewMaxPool(2, 0)
		assert.True(t, errors.Is(err, tensor.ErrInvalidArgument))
		_, err = NewFullyConnected(-1, false, nil)
		assert.True(t, errors.Is(err, tensor.ErrInvalidArgument))
		_, err = NewActivation(tensor.ActivationKind(42))
		assert.True(t, errors.Is(err, tensor.ErrInvalidArgument))
		_, err = NewPad(tensor.Padding{Top: -1})
		assert.True(t, errors.Is(err, tensor.ErrInvalidArgument))
	})

	t.Run("uninitialized", func(t *testing.T) {
		a, err := NewActivation(tensor.ReLU)
		require.NoError(t, err)
		x, err := tensor.Zeros(ops, shape)
		require.NoError(t, err)
		_, err = a.Forward(x)
		assert.True(t, errors.Is(err, tensor.ErrModelNotInitialized))
		_, err = a.Backward(x)
		assert.True(t, errors.Is(err, tensor.ErrModelNotInitialized))
	})

	t.Run("wrong input", func(t *testing.T) {
		a, err := NewActivation(tensor.ReLU)
		require.NoError(t, err)
		require.NoError(t, a.Initialize(ops, shape))
		x, err := tensor.Zeros(ops, tensor.NewShape(1, 1, 2, 8))
		require.NoError(t, err)
		_, err = a.Forward(x)
		assert.True(t, errors.Is(err, tensor.ErrShapeMismatch))
	})

	t.Run("reinitialize", func(t *testing.T) {
		s := NewSoftmax()
		require.NoError(t, s.Initialize(ops, shape))
		assert.Error(t, s.Initialize(ops, shape))
	})

	t.Run("kernel too large", func(t *testing.T) {
		conv, err := NewConvolution(1, 5, 5, 1, false, nil)
		require.NoError(t, err)
		assert.True(t, errors.Is(conv.Initialize(ops, shape), tensor.ErrShapeMismatch))
	})
}

func TestNewLayer(t *testing.T) {
	tests := []struct {
		kind Kind
		cfg  Config
	}{
		{KindConv, Config{Filters: 2, KernelH: 3, KernelW: 3, Stride: 1, Bias: true}},
		{KindPool, Config{Kernel: 2, Stride: 2}},
		{KindFC, Config{Units: 3}},
		{KindActivation, Config{Activation: tensor.LeakyReLU}},
		{KindSoftmax, Config{}},
		{KindPad, Config{Padding: tensor.Uniform(1)}},
		{KindFlatten, Config{}},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			l, err := NewLayer(tt.kind, tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, l.Kind())
			assert.Equal(t, tt.cfg, l.Config())
			assert.False(t, l.Initialized())
		})
	}

	l, err := NewLayer(KindConv, Config{})
	assert.Nil(t, l)
	assert.True(t, errors.Is(err, tensor.ErrInvalidArgument))

	l, err = NewLayer(Kind(99), Config{})
	assert.Nil(t, l)
	assert.True(t, errors.Is(err, tensor.ErrInvalidArgument))
}

func TestXavierUniform_Bounds(t *testing.T) {
	ops := cpu.New()
	w, err := tensor.Zeros(ops, tensor.NewShape(1, 1, 20, 30))
	require.NoError(t, err)
	require.NoError(t, XavierUniform(rand.New(rand.NewPCG(5, 6)))(w, 20, 30))

	bound := math.Sqrt(6.0 / 50.0)
	var nonZero int
	for _, v := range values(t, w) {
		assert.LessOrEqual(t, math.Abs(float64(v)), bound)
		if v != 0 {
			nonZero++
		}
	}
	assert.Greater(t, nonZero, 500)
}
