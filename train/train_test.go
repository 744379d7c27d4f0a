package train_test

import (
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/convnet/backend/cpu"
	"github.com/born-ml/convnet/backend/device"
	"github.com/born-ml/convnet/nn"
	"github.com/born-ml/convnet/optim"
	"github.com/born-ml/convnet/serialization"
	"github.com/born-ml/convnet/tensor"
	"github.com/born-ml/convnet/train"
)

// stripes builds 4x4 images with a bright row (class 0) or column (class 1).
func stripes(t *testing.T, ops tensor.Ops, batches, batch int) *train.SliceDataset {
	t.Helper()
	rng := rand.New(rand.NewPCG(11, 13))
	inputs := make([][]float32, batches)
	targets := make([][]float32, batches)
	for b := range batches {
		x := make([]float32, batch*16)
		y := make([]float32, batch*2)
		for r := range batch {
			class := (b + r) % 2
			at := rng.IntN(4)
			for k := range 4 {
				if class == 0 {
					x[r*16+at*4+k] = 1
				} else {
					x[r*16+k*4+at] = 1
				}
			}
			y[r*2+class] = 1
		}
		inputs[b], targets[b] = x, y
	}
	ds, err := train.FromSlices(ops, tensor.NewShape(batch, 1, 4, 4), tensor.NewShape(batch, 1, 1, 2), inputs, targets)
	require.NoError(t, err)
	return ds
}

func classifier(t *testing.T, ops tensor.Ops, batch int) *nn.Network {
	t.Helper()
	net, err := nn.NewNetwork(ops, tensor.NewShape(batch, 1, 4, 4))
	require.NoError(t, err)
	rng := rand.New(rand.NewPCG(1, 2))
	conv, err := nn.NewConvolution(4, 2, 2, 1, true, nn.XavierUniform(rng))
	require.NoError(t, err)
	act, err := nn.NewActivation(tensor.Tanh)
	require.NoError(t, err)
	fc, err := nn.NewFullyConnected(2, true, nn.XavierUniform(rng))
	require.NoError(t, err)
	for _, l := range []nn.Layer{conv, act, nn.NewFlatten(), fc, nn.NewSoftmax()} {
		require.NoError(t, net.AddLayer(l))
	}
	return net
}

func TestPublicAPI_TrainSaveLoad(t *testing.T) {
	ops := device.NewEmulated()
	defer func() { _ = ops.Close() }()

	ds := stripes(t, ops, 8, 4)
	net := classifier(t, ops, 4)
	tr, err := train.New(net, optim.NewAdam(optim.AdamConfig{LearningRate: 0.05}), train.Config{
		Epochs: 30,
		Loss:   tensor.CrossEntropy,
	})
	require.NoError(t, err)

	losses, err := tr.Train(ds)
	require.NoError(t, err)
	require.Len(t, losses, 30)
	assert.Less(t, losses[len(losses)-1], losses[0])

	path := filepath.Join(t.TempDir(), "stripes.cnvn")
	require.NoError(t, serialization.SaveNetwork(path, net, serialization.WriteOptions{}))
	ckpt, err := serialization.Load(path, serialization.ReaderOptions{})
	require.NoError(t, err)

	// Reload on the host and compare predictions.
	host := cpu.New()
	restored, err := ckpt.Network(host)
	require.NoError(t, err)

	x, _, err := ds.Example(0)
	require.NoError(t, err)
	data, err := x.Data()
	require.NoError(t, err)
	hostX, err := tensor.FromSlice(host, x.Shape(), data)
	require.NoError(t, err)

	want, err := net.Forward(x)
	require.NoError(t, err)
	wantData, err := want.Data()
	require.NoError(t, err)
	got, err := restored.Forward(hostX)
	require.NoError(t, err)
	gotData, err := got.Data()
	require.NoError(t, err)
	assert.InDeltaSlice(t, wantData, gotData, 1e-4)
}
