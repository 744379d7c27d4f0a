package train_test

import (
	"bytes"
	"errors"
	"log/slog"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/convnet/internal/backend/cpu"
	"github.com/born-ml/convnet/internal/backend/device"
	"github.com/born-ml/convnet/internal/backend/device/emulator"
	"github.com/born-ml/convnet/internal/nn"
	"github.com/born-ml/convnet/internal/optim"
	"github.com/born-ml/convnet/internal/tensor"
	"github.com/born-ml/convnet/internal/train"
)

const (
	batch   = 4
	batches = 4
)

// separable builds two classes around (1, 0) and (0, 1), one-hot targets.
func separable(t *testing.T, ops tensor.Ops) *train.SliceDataset {
	t.Helper()
	rng := rand.New(rand.NewPCG(21, 22))
	noise := func() float32 { return float32(rng.Float64()*0.4 - 0.2) }

	var inputs, targets [][]float32
	for range batches {
		var x, y []float32
		for r := range batch {
			if r%2 == 0 {
				x = append(x, 1+noise(), noise())
				y = append(y, 1, 0)
			} else {
				x = append(x, noise(), 1+noise())
				y = append(y, 0, 1)
			}
		}
		inputs = append(inputs, x)
		targets = append(targets, y)
	}
	shape := tensor.NewShape(batch, 1, 1, 2)
	ds, err := train.FromSlices(ops, shape, shape, inputs, targets)
	require.NoError(t, err)
	return ds
}

// classifier is fully connected -> softmax.
func classifier(t *testing.T, ops tensor.Ops) *nn.Network {
	t.Helper()
	net, err := nn.NewNetwork(ops, tensor.NewShape(batch, 1, 1, 2))
	require.NoError(t, err)
	fc, err := nn.NewFullyConnected(2, true, nn.XavierUniform(rand.New(rand.NewPCG(1, 2))))
	require.NoError(t, err)
	require.NoError(t, net.AddLayer(fc))
	require.NoError(t, net.AddLayer(nn.NewSoftmax()))
	return net
}

func TestTrainer_LossDecreases(t *testing.T) {
	backends := map[string]func() tensor.Ops{
		"cpu": func() tensor.Ops { return cpu.New() },
		"device": func() tensor.Ops {
			b := device.New(emulator.New())
			t.Cleanup(func() { _ = b.Close() })
			return b
		},
	}
	for name, newOps := range backends {
		t.Run(name, func(t *testing.T) {
			ops := newOps()
			ds := separable(t, ops)
			var logs bytes.Buffer
			tr, err := train.New(classifier(t, ops), optim.NewGradientDescent(optim.GradientDescentConfig{LearningRate: 0.1}), train.Config{
				Epochs: 20,
				Loss:   tensor.CrossEntropy,
				Logger: slog.New(slog.NewTextHandler(&logs, nil)),
			})
			require.NoError(t, err)

			losses, err := tr.Train(ds)
			require.NoError(t, err)
			require.Len(t, losses, 20)
			assert.Less(t, losses[len(losses)-1], losses[0])
			assert.Equal(t, 20*batches, tr.Iteration())
			assert.Contains(t, logs.String(), "epoch complete")

			_, accuracy, err := tr.Evaluate(ds)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, accuracy, 0.9)
		})
	}
}

func TestTrainer_Optimizers(t *testing.T) {
	opts := []optim.Optimizer{
		optim.NewAdaGrad(optim.AdaGradConfig{LearningRate: 0.1}),
		optim.NewAdaDelta(optim.AdaDeltaConfig{LearningRate: 0.01}),
		optim.NewAdam(optim.AdamConfig{LearningRate: 0.05}),
		optim.NewRProp(optim.RPropConfig{}),
	}
	for _, opt := range opts {
		t.Run(opt.Name(), func(t *testing.T) {
			ops := cpu.New()
			ds := separable(t, ops)
			tr, err := train.New(classifier(t, ops), opt, train.Config{Epochs: 15, Loss: tensor.CrossEntropy})
			require.NoError(t, err)
			losses, err := tr.Train(ds)
			require.NoError(t, err)
			assert.Less(t, losses[len(losses)-1], losses[0])
		})
	}
}

func TestTrainer_BatchSizeAccumulates(t *testing.T) {
	ops := cpu.New()
	ds := separable(t, ops)
	net := classifier(t, ops)
	tr, err := train.New(net, optim.NewGradientDescent(optim.GradientDescentConfig{}), train.Config{
		BatchSize: 3,
		Loss:      tensor.MSE,
	})
	require.NoError(t, err)

	for i := range 2 {
		x, y, err := ds.Example(i)
		require.NoError(t, err)
		_, err = tr.Step(x, y)
		require.NoError(t, err)
	}
	assert.Equal(t, 0, tr.Iteration())
	grad, err := net.Parameters()[0].Gradient().Data()
	require.NoError(t, err)
	assert.NotEqual(t, make([]float32, len(grad)), grad)

	x, y, err := ds.Example(2)
	require.NoError(t, err)
	_, err = tr.Step(x, y)
	require.NoError(t, err)
	assert.Equal(t, 1, tr.Iteration())
	grad, err = net.Parameters()[0].Gradient().Data()
	require.NoError(t, err)
	assert.Equal(t, make([]float32, len(grad)), grad)

	// Nothing pending: Flush is a no-op.
	require.NoError(t, tr.Flush())
	assert.Equal(t, 1, tr.Iteration())
}

func TestTrainer_Errors(t *testing.T) {
	ops := cpu.New()
	empty, err := nn.NewNetwork(ops, tensor.NewShape(batch, 1, 1, 2))
	require.NoError(t, err)
	gd := optim.NewGradientDescent(optim.GradientDescentConfig{})

	_, err = train.New(empty, gd, train.Config{})
	assert.True(t, errors.Is(err, tensor.ErrModelNotInitialized))

	_, err = train.New(classifier(t, ops), gd, train.Config{Loss: tensor.LossKind(7)})
	assert.True(t, errors.Is(err, tensor.ErrInvalidArgument))

	tr, err := train.New(classifier(t, ops), gd, train.Config{})
	require.NoError(t, err)
	_, err = tr.Train(&train.SliceDataset{})
	assert.True(t, errors.Is(err, tensor.ErrInvalidArgument))

	x, err := tensor.Zeros(ops, tensor.NewShape(batch, 1, 1, 2))
	require.NoError(t, err)
	wrong, err := tensor.Zeros(ops, tensor.NewShape(batch, 1, 1, 3))
	require.NoError(t, err)
	_, err = tr.Step(x, wrong)
	assert.True(t, errors.Is(err, tensor.ErrShapeMismatch))
	_, err = tr.Step(wrong, x)
	assert.True(t, errors.Is(err, tensor.ErrShapeMismatch))

	_, err = train.FromSlices(ops, tensor.NewShape(1, 1, 1, 2), tensor.NewShape(1, 1, 1, 2),
		[][]float32{{1, 2}}, nil)
	assert.True(t, errors.Is(err, tensor.ErrInvalidArgument))
}

func TestTrainer_ShuffleIsDeterministic(t *testing.T) {
	run := func() []float64 {
		ops := cpu.New()
		tr, err := train.New(classifier(t, ops), optim.NewGradientDescent(optim.GradientDescentConfig{LearningRate: 0.1}),
			train.Config{Epochs: 3, Shuffle: true, Seed: 9, Loss: tensor.CrossEntropy})
		require.NoError(t, err)
		losses, err := tr.Train(separable(t, ops))
		require.NoError(t, err)
		return losses
	}
	assert.Equal(t, run(), run())
}
