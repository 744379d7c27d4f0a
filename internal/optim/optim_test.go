package optim_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/convnet/internal/backend/cpu"
	"github.com/born-ml/convnet/internal/optim"
	"github.com/born-ml/convnet/internal/tensor"
)

// param returns weights and gradients of one row each.
func param(t *testing.T, w, g []float32) (*tensor.Tensor, *tensor.Tensor) {
	t.Helper()
	ops := cpu.New()
	shape := tensor.NewShape(1, 1, 1, len(w))
	weights, err := tensor.FromSlice(ops, shape, w)
	require.NoError(t, err)
	grads, err := tensor.FromSlice(ops, shape, g)
	require.NoError(t, err)
	return weights, grads
}

func data(t *testing.T, x *tensor.Tensor) []float32 {
	t.Helper()
	d, err := x.Data()
	require.NoError(t, err)
	return d
}

func TestGradientDescent_Step(t *testing.T) {
	opt := optim.NewGradientDescent(optim.GradientDescentConfig{LearningRate: 0.1})
	w, g := param(t, []float32{2, -1}, []float32{1, -4})
	state, err := opt.NewState(w)
	require.NoError(t, err)
	assert.Empty(t, opt.StateNames())

	require.NoError(t, opt.Correct(w, g, state, false, 1))
	assert.InDeltaSlice(t, []float32{1.9, -0.6}, data(t, w), 1e-6)
	// Gradients are kept when not reset.
	assert.Equal(t, []float32{1, -4}, data(t, g))
}

func TestAdaGrad_Step(t *testing.T) {
	opt := optim.NewAdaGrad(optim.AdaGradConfig{LearningRate: 0.5})
	w, g := param(t, []float32{1, 1}, []float32{2, -3})
	state, err := opt.NewState(w)
	require.NoError(t, err)

	require.NoError(t, opt.Correct(w, g, state, true, 1))
	// hist = g², w -= lr * g / |g|
	assert.InDeltaSlice(t, []float32{0.5, 1.5}, data(t, w), 1e-5)
	assert.Equal(t, []float32{4, 9}, data(t, state.(*optim.AdaGradState).GradientHistory))
	assert.Equal(t, []float32{0, 0}, data(t, g))
}

func TestAdaDelta_Step(t *testing.T) {
	opt := optim.NewAdaDelta(optim.AdaDeltaConfig{LearningRate: 0.1})
	w, g := param(t, []float32{0}, []float32{2})
	state, err := opt.NewState(w)
	require.NoError(t, err)

	require.NoError(t, opt.Correct(w, g, state, false, 1))
	// esq = (1-0.4) * 4 = 2.4
	esq := data(t, state.(*optim.AdaDeltaState).EsQ)
	assert.InDelta(t, 2.4, esq[0], 1e-6)
	want := -0.1 / math.Sqrt(2.4+1e-8) * 2
	assert.InDelta(t, want, data(t, w)[0], 1e-5)
}

func TestAdam_FirstStepMovesByLearningRate(t *testing.T) {
	opt := optim.NewAdam(optim.AdamConfig{LearningRate: 0.01})
	w, g := param(t, []float32{1, 1, 1}, []float32{0.5, -2, 0})
	state, err := opt.NewState(w)
	require.NoError(t, err)
	assert.Equal(t, []string{"s", "d"}, opt.StateNames())

	require.NoError(t, opt.Correct(w, g, state, false, 1))
	// Bias correction makes the first step lr * sign(g).
	assert.InDeltaSlice(t, []float32{0.99, 1.01, 1}, data(t, w), 1e-5)

	s := state.(*optim.AdamState)
	assert.InDeltaSlice(t, []float32{0.05, -0.2, 0}, data(t, s.S), 1e-6)
	assert.InDeltaSlice(t, []float32{0.00025, 0.004, 0}, data(t, s.D), 1e-6)

	err = opt.Correct(w, g, state, false, 0)
	assert.True(t, errors.Is(err, tensor.ErrInvalidArgument))
}

func TestRProp_Steps(t *testing.T) {
	opt := optim.NewRProp(optim.RPropConfig{})
	w, g := param(t, []float32{0, 0}, []float32{1, -1})
	state, err := opt.NewState(w)
	require.NoError(t, err)
	s := state.(*optim.RPropState)
	assert.InDeltaSlice(t, []float32{0.01, 0.01}, data(t, s.StepSize), 1e-9)

	// No history: plain signed step.
	require.NoError(t, opt.Correct(w, g, state, false, 1))
	assert.InDeltaSlice(t, []float32{-0.01, 0.01}, data(t, w), 1e-7)

	// Same sign for the first weight, flipped for the second.
	require.NoError(t, g.SetData([]float32{3, 1}))
	require.NoError(t, opt.Correct(w, g, state, false, 2))
	assert.InDeltaSlice(t, []float32{0.012, 0.005}, data(t, s.StepSize), 1e-7)
	assert.InDeltaSlice(t, []float32{-0.022, 0.01}, data(t, w), 1e-7)
	assert.Equal(t, []float32{3, 0}, data(t, s.PreviousGradient))
}

func TestRProp_StepBounds(t *testing.T) {
	opt := optim.NewRProp(optim.RPropConfig{InitialStep: 40, MinStep: 1e-6})
	w, g := param(t, []float32{0}, []float32{1})
	state, err := opt.NewState(w)
	require.NoError(t, err)
	s := state.(*optim.RPropState)

	for i := range 3 {
		require.NoError(t, opt.Correct(w, g, state, false, i+1))
	}
	assert.InDelta(t, 50, data(t, s.StepSize)[0], 1e-4)

	require.NoError(t, s.StepSize.Fill(1e-6))
	require.NoError(t, g.SetData([]float32{-1}))
	require.NoError(t, opt.Correct(w, g, state, false, 4))
	assert.InDelta(t, 1e-6, data(t, s.StepSize)[0], 1e-9)
}

func TestOptimizer_WrongState(t *testing.T) {
	w, g := param(t, []float32{1}, []float32{1})
	adam := optim.NewAdam(optim.AdamConfig{})
	state, err := optim.NewAdaGrad(optim.AdaGradConfig{}).NewState(w)
	require.NoError(t, err)

	err = adam.Correct(w, g, state, false, 1)
	assert.True(t, errors.Is(err, tensor.ErrInvalidArgument))

	_, err = adam.NewState(tensor.New(cpu.New()))
	assert.True(t, errors.Is(err, tensor.ErrInvalidArgument))
}

func TestOptimizer_NilState(t *testing.T) {
	cases := []struct {
		opt   optim.Optimizer
		state optim.State
	}{
		{optim.NewGradientDescent(optim.GradientDescentConfig{}), (*optim.GradientDescentState)(nil)},
		{optim.NewAdaGrad(optim.AdaGradConfig{}), (*optim.AdaGradState)(nil)},
		{optim.NewAdaDelta(optim.AdaDeltaConfig{}), (*optim.AdaDeltaState)(nil)},
		{optim.NewAdam(optim.AdamConfig{}), (*optim.AdamState)(nil)},
		{optim.NewRProp(optim.RPropConfig{}), (*optim.RPropState)(nil)},
	}
	for _, c := range cases {
		t.Run(c.opt.Name(), func(t *testing.T) {
			w, g := param(t, []float32{1}, []float32{1})
			err := c.opt.Correct(w, g, c.state, false, 1)
			assert.True(t, errors.Is(err, tensor.ErrInvalidArgument), "got %v", err)
			assert.Equal(t, []float32{1}, data(t, w))

			err = c.opt.Correct(w, g, nil, false, 1)
			assert.True(t, errors.Is(err, tensor.ErrInvalidArgument), "got %v", err)
		})
	}
}

func TestOptimizer_Names(t *testing.T) {
	opts := []optim.Optimizer{
		optim.NewGradientDescent(optim.GradientDescentConfig{}),
		optim.NewAdaGrad(optim.AdaGradConfig{}),
		optim.NewAdaDelta(optim.AdaDeltaConfig{}),
		optim.NewAdam(optim.AdamConfig{}),
		optim.NewRProp(optim.RPropConfig{}),
	}
	names := make(map[string]bool)
	for _, o := range opts {
		names[o.Name()] = true
		w, _ := param(t, []float32{1, 2}, []float32{0, 0})
		_, err := o.NewState(w)
		require.NoError(t, err, o.Name())
	}
	assert.Len(t, names, len(opts))
}
