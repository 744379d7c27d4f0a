package nn

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/convnet/internal/backend/cpu"
	"github.com/born-ml/convnet/internal/tensor"
)

// lenet builds a small conv -> pool -> fc -> softmax classifier.
func lenet(t *testing.T, ops tensor.Ops, input tensor.Shape) *Network {
	t.Helper()
	net, err := NewNetwork(ops, input)
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(7, 8))
	pad, err := NewPad(tensor.Uniform(1))
	require.NoError(t, err)
	conv, err := NewConvolution(4, 3, 3, 1, true, XavierUniform(rng))
	require.NoError(t, err)
	relu, err := NewActivation(tensor.ReLU)
	require.NoError(t, err)
	pool, err := NewMaxPool(2, 2)
	require.NoError(t, err)
	fc, err := NewFullyConnected(3, true, XavierUniform(rng))
	require.NoError(t, err)

	for _, l := range []Layer{pad, conv, relu, pool, NewFlatten(), fc, NewSoftmax()} {
		require.NoError(t, net.AddLayer(l))
	}
	return net
}

func TestNetwork_RejectsOversizedShapes(t *testing.T) {
	ops := cpu.New()
	_, err := NewNetwork(ops, tensor.NewShape(1, 65536, 65536, 65536))
	assert.True(t, errors.Is(err, tensor.ErrInvalidArgument))

	net, err := NewNetwork(ops, tensor.NewShape(1, 1, 2, 2))
	require.NoError(t, err)
	pad, err := NewPad(tensor.Uniform(1 << 20))
	require.NoError(t, err)
	err = net.AddLayer(pad)
	assert.True(t, errors.Is(err, tensor.ErrInvalidArgument), "got %v", err)
	assert.Empty(t, net.Layers())
}

func TestNetwork_Shapes(t *testing.T) {
	ops := cpu.New()
	net := lenet(t, ops, tensor.NewShape(2, 1, 6, 6))

	want := []tensor.Shape{
		tensor.NewShape(2, 1, 8, 8),
		tensor.NewShape(2, 4, 6, 6),
		tensor.NewShape(2, 4, 6, 6),
		tensor.NewShape(2, 4, 3, 3),
		tensor.NewShape(2, 1, 1, 36),
		tensor.NewShape(2, 1, 1, 3),
		tensor.NewShape(2, 1, 1, 3),
	}
	layers := net.Layers()
	require.Len(t, layers, len(want))
	for i, l := range layers {
		assert.True(t, l.Initialized())
		assert.Equal(t, want[i], l.OutputShape(), "layer %d", i)
		if i > 0 {
			assert.Equal(t, layers[i-1], l.Prev())
			assert.Equal(t, layers[i-1].OutputShape(), l.InputShape())
		}
	}
	assert.Nil(t, layers[0].Prev())
	assert.Nil(t, layers[len(layers)-1].Next())
	assert.Equal(t, tensor.NewShape(2, 1, 1, 3), net.OutputShape())

	// conv weights + bias, fc weights + bias
	assert.Len(t, net.Parameters(), 4)
}

func TestNetwork_ForwardBackward(t *testing.T) {
	ops := cpu.New()
	input := tensor.NewShape(2, 1, 6, 6)
	net := lenet(t, ops, input)

	x := randomTensor(t, ops, rand.New(rand.NewPCG(1, 1)), input)
	y, err := net.Forward(x)
	require.NoError(t, err)
	for b := 0; b < 2; b++ {
		var sum float32
		for j := 0; j < 3; j++ {
			sum += y.At4(b, 0, 0, j)
		}
		assert.InDelta(t, 1.0, sum, 1e-4)
	}

	dy, err := tensor.FromSlice(ops, net.OutputShape(), []float32{1, 0, 0, 0, 1, 0})
	require.NoError(t, err)
	require.NoError(t, net.Backward(dy))

	var nonZero int
	for _, p := range net.Parameters() {
		for _, v := range values(t, p.Gradient()) {
			if v != 0 {
				nonZero++
			}
		}
	}
	assert.Positive(t, nonZero)

	require.NoError(t, net.ZeroGradients())
	for _, p := range net.Parameters() {
		for _, v := range values(t, p.Gradient()) {
			assert.Zero(t, v)
		}
	}
}

func TestNetwork_Errors(t *testing.T) {
	ops := cpu.New()
	input := tensor.NewShape(1, 1, 4, 4)

	_, err := NewNetwork(nil, input)
	assert.True(t, errors.Is(err, tensor.ErrInvalidArgument))
	_, err = NewNetwork(ops, tensor.Shape{})
	assert.True(t, errors.Is(err, tensor.ErrInvalidArgument))

	net, err := NewNetwork(ops, input)
	require.NoError(t, err)
	x, err := tensor.Zeros(ops, input)
	require.NoError(t, err)

	_, err = net.Forward(x)
	assert.True(t, errors.Is(err, tensor.ErrModelNotInitialized))
	assert.True(t, errors.Is(net.Backward(x), tensor.ErrModelNotInitialized))

	require.NoError(t, net.AddLayer(NewFlatten()))
	wrong, err := tensor.Zeros(ops, tensor.NewShape(2, 1, 4, 4))
	require.NoError(t, err)
	_, err = net.Forward(wrong)
	assert.True(t, errors.Is(err, tensor.ErrShapeMismatch))

	// An initialized layer must accept the running output shape.
	fc, err := NewFullyConnected(2, false, nil)
	require.NoError(t, err)
	require.NoError(t, fc.Initialize(ops, tensor.NewShape(1, 1, 1, 5)))
	assert.True(t, errors.Is(net.AddLayer(fc), tensor.ErrShapeMismatch))
	assert.True(t, errors.Is(net.AddLayer(nil), tensor.ErrInvalidArgument))

	// A layer that cannot be initialized is not appended.
	conv, err := NewConvolution(1, 9, 9, 1, false, nil)
	require.NoError(t, err)
	assert.True(t, errors.Is(net.AddLayer(conv), tensor.ErrShapeMismatch))
	assert.Len(t, net.Layers(), 1)
}

func TestNetwork_SnapshotRestore(t *testing.T) {
	ops := cpu.New()
	input := tensor.NewShape(2, 1, 6, 6)
	net := lenet(t, ops, input)

	x := randomTensor(t, ops, rand.New(rand.NewPCG(2, 2)), input)
	y, err := net.Forward(x)
	require.NoError(t, err)
	want := values(t, y)

	snaps, err := net.Snapshot()
	require.NoError(t, err)
	require.Len(t, snaps, 7)
	assert.Equal(t, KindConv, snaps[1].Kind)
	assert.Len(t, snaps[1].Weights, 4*1*3*3)
	assert.Len(t, snaps[1].Bias, 4)
	assert.Nil(t, snaps[2].Weights)
	assert.Equal(t, KindFC, snaps[5].Kind)
	assert.Len(t, snaps[5].Weights, 36*3)

	restored, err := Restore(ops, input, snaps)
	require.NoError(t, err)
	got, err := restored.Forward(x)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, values(t, got), 1e-6)

	t.Run("wrong input shape", func(t *testing.T) {
		_, err := Restore(ops, tensor.NewShape(2, 1, 8, 8), snaps)
		assert.True(t, errors.Is(err, tensor.ErrShapeMismatch))
	})

	t.Run("truncated weights", func(t *testing.T) {
		bad := append([]LayerSnapshot(nil), snaps...)
		bad[1].Weights = bad[1].Weights[:3]
		_, err := Restore(ops, input, bad)
		assert.True(t, errors.Is(err, tensor.ErrShapeMismatch))
	})

	t.Run("missing bias", func(t *testing.T) {
		bad := append([]LayerSnapshot(nil), snaps...)
		bad[5].Bias = nil
		_, err := Restore(ops, input, bad)
		assert.True(t, errors.Is(err, tensor.ErrShapeMismatch))
	})
}
