package device_test

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/convnet/internal/backend/cpu"
	"github.com/born-ml/convnet/internal/backend/device"
	"github.com/born-ml/convnet/internal/backend/device/emulator"
	"github.com/born-ml/convnet/internal/tensor"
)

func newDevice(t *testing.T) *device.Backend {
	t.Helper()
	b := device.New(emulator.New())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// fixture creates deterministic tensors on any backend.
type fixture struct {
	t   *testing.T
	ops tensor.Ops
	rng *rand.Rand
}

func (f *fixture) random(shape tensor.Shape) *tensor.Tensor {
	data := make([]float32, shape.Size())
	for i := range data {
		data[i] = f.rng.Float32()*2 - 1
	}
	return f.from(shape, data)
}

func (f *fixture) positive(shape tensor.Shape) *tensor.Tensor {
	data := make([]float32, shape.Size())
	for i := range data {
		data[i] = f.rng.Float32()*0.9 + 0.05
	}
	return f.from(shape, data)
}

func (f *fixture) from(shape tensor.Shape, data []float32) *tensor.Tensor {
	x, err := tensor.FromSlice(f.ops, shape, data)
	require.NoError(f.t, err)
	return x
}

func (f *fixture) zeros(shape tensor.Shape) *tensor.Tensor {
	x, err := tensor.Zeros(f.ops, shape)
	require.NoError(f.t, err)
	return x
}

func (f *fixture) fresh() *tensor.Tensor {
	return tensor.New(f.ops)
}

// parityCase runs an operation and returns the tensors whose contents must
// agree across backends.
type parityCase struct {
	name string
	run  func(f *fixture) ([]*tensor.Tensor, error)
}

var (
	img  = tensor.NewShape(2, 3, 5, 4)
	rows = tensor.NewShape(3, 1, 1, 5)
)

func parityCases() []parityCase {
	cases := []parityCase{
		{"Fill", func(f *fixture) ([]*tensor.Tensor, error) {
			x := f.random(img)
			return []*tensor.Tensor{x}, f.ops.Fill(x, 0.25)
		}},
		{"CopyAddAccumulate", func(f *fixture) ([]*tensor.Tensor, error) {
			a, b := f.random(img), f.random(img)
			c, sum, acc := f.fresh(), f.fresh(), f.fresh()
			if err := f.ops.Copy(c, a); err != nil {
				return nil, err
			}
			if err := f.ops.Add(a, b, sum); err != nil {
				return nil, err
			}
			if err := f.ops.Accumulate(acc, a); err != nil {
				return nil, err
			}
			return []*tensor.Tensor{c, sum, acc}, f.ops.Accumulate(acc, b)
		}},
		{"Dot2D", func(f *fixture) ([]*tensor.Tensor, error) {
			a, b := f.random(tensor.NewShape(2, 1, 4, 6)), f.random(tensor.NewShape(2, 1, 6, 3))
			shared := f.random(tensor.NewShape(1, 1, 6, 5))
			r1, r2 := f.fresh(), f.fresh()
			if err := f.ops.Dot2D(a, b, r1); err != nil {
				return nil, err
			}
			return []*tensor.Tensor{r1, r2}, f.ops.Dot2D(a, shared, r2)
		}},
		{"Transpose", func(f *fixture) ([]*tensor.Tensor, error) {
			r := f.fresh()
			return []*tensor.Tensor{r}, f.ops.Transpose(f.random(tensor.NewShape(2, 1, 3, 7)), r)
		}},
		{"MaxSum", func(f *fixture) ([]*tensor.Tensor, error) {
			x := f.random(img)
			m, s := f.fresh(), f.fresh()
			if err := f.ops.Max(x, m); err != nil {
				return nil, err
			}
			return []*tensor.Tensor{m, s}, f.ops.Sum(x, s)
		}},
		{"PadCrop", func(f *fixture) ([]*tensor.Tensor, error) {
			x := f.random(img)
			pad := tensor.Padding{Top: 1, Bottom: 2, Left: 0, Right: 3}
			p, d, c := f.fresh(), f.fresh(), f.fresh()
			if err := f.ops.Pad(x, pad, 1, p); err != nil {
				return nil, err
			}
			if err := f.ops.Pad(x, pad, 2, d); err != nil {
				return nil, err
			}
			return []*tensor.Tensor{p, d, c}, f.ops.Crop(p, pad, c)
		}},
		{"Im2ColFolds", func(f *fixture) ([]*tensor.Tensor, error) {
			x := f.random(img)
			cols, chRows, back := f.fresh(), f.fresh(), f.fresh()
			if err := f.ops.Im2Col(x, 3, 2, 2, cols); err != nil {
				return nil, err
			}
			if err := f.ops.ChannelRows(x, chRows); err != nil {
				return nil, err
			}
			return []*tensor.Tensor{cols, chRows, back}, f.ops.Col2Im(chRows, img, back)
		}},
		{"Rotate180", func(f *fixture) ([]*tensor.Tensor, error) {
			r := f.fresh()
			return []*tensor.Tensor{r}, f.ops.Rotate180(f.random(tensor.NewShape(4, 3, 3, 2)), r)
		}},
		{"MaxPool", func(f *fixture) ([]*tensor.Tensor, error) {
			x := f.random(img)
			y, index := f.fresh(), f.fresh()
			if err := f.ops.MaxPool(x, 2, 1, y, index); err != nil {
				return nil, err
			}
			dx := f.zeros(img)
			if err := f.ops.MaxPoolDx(f.random(y.Shape()), index, dx); err != nil {
				return nil, err
			}
			return []*tensor.Tensor{y, index, dx}, nil
		}},
		{"Softmax", func(f *fixture) ([]*tensor.Tensor, error) {
			x := f.random(rows)
			rowMax, y, dx := f.fresh(), f.fresh(), f.fresh()
			if err := f.ops.Softmax(x, rowMax, y); err != nil {
				return nil, err
			}
			return []*tensor.Tensor{rowMax, y, dx}, f.ops.SoftmaxDx(y, f.random(rows), dx)
		}},
		{"Losses", func(f *fixture) ([]*tensor.Tensor, error) {
			out, target := f.positive(rows), f.positive(rows)
			var res []*tensor.Tensor
			for _, kind := range []tensor.LossKind{tensor.CrossEntropy, tensor.MSE} {
				l, dx := f.fresh(), f.fresh()
				if err := f.ops.Loss(kind, out, target, l); err != nil {
					return nil, err
				}
				if err := f.ops.LossDx(kind, out, target, dx); err != nil {
					return nil, err
				}
				res = append(res, l, dx)
			}
			return res, nil
		}},
		{"Bias", func(f *fixture) ([]*tensor.Tensor, error) {
			x := f.random(img)
			perChannel := f.random(tensor.NewShape(1, 1, 1, img.Channels))
			perFeature := f.random(tensor.NewShape(1, 1, 1, img.PerBatch()))
			y1, y2 := f.fresh(), f.fresh()
			if err := f.ops.AddBias(x, perChannel, y1); err != nil {
				return nil, err
			}
			if err := f.ops.AddBias(x, perFeature, y2); err != nil {
				return nil, err
			}
			db := f.zeros(perChannel.Shape())
			return []*tensor.Tensor{y1, y2, db}, f.ops.BiasDx(x, db)
		}},
		{"Convolution", func(f *fixture) ([]*tensor.Tensor, error) {
			x, w := f.random(tensor.NewShape(2, 3, 7, 6)), f.random(tensor.NewShape(4, 3, 3, 2))
			s := tensor.NewConvScratch(f.ops)
			y, dx, dw := f.fresh(), f.fresh(), f.fresh()
			if err := tensor.ConvForward(x, w, 2, s, y); err != nil {
				return nil, err
			}
			dy := f.random(y.Shape())
			if err := tensor.ConvDx(dy, w, 2, x.Shape(), s, dx); err != nil {
				return nil, err
			}
			return []*tensor.Tensor{y, dx, dw}, tensor.ConvDw(dy, w.Shape(), s, dw)
		}},
	}

	for _, kind := range []tensor.ActivationKind{tensor.ReLU, tensor.LeakyReLU, tensor.Sigmoid, tensor.Tanh} {
		cases = append(cases, parityCase{"Activation/" + kind.String(), func(f *fixture) ([]*tensor.Tensor, error) {
			x := f.random(img)
			y, dx := f.fresh(), f.fresh()
			if err := f.ops.Activation(kind, x, y); err != nil {
				return nil, err
			}
			return []*tensor.Tensor{y, dx}, f.ops.ActivationDx(kind, x, y, f.random(img), dx)
		}})
	}

	updates := []tensor.Update{
		{Kind: tensor.GradientDescentUpdate, LearningRate: 0.1},
		{Kind: tensor.AdaGradUpdate, LearningRate: 0.1, Epsilon: 1e-8},
		{Kind: tensor.AdaDeltaUpdate, LearningRate: 0.1, Decay1: 0.4, Epsilon: 1e-8},
		{Kind: tensor.AdamUpdate, LearningRate: 0.01, Decay1: 0.9, Decay2: 0.999, Epsilon: 1e-8},
		{Kind: tensor.RPropUpdate, Growth: 1.2, Shrink: 0.5, MaxStep: 50, MinStep: 1e-6},
	}
	for _, u := range updates {
		cases = append(cases, parityCase{"Update/" + device.UpdateKernel(u.Kind), func(f *fixture) ([]*tensor.Tensor, error) {
			shape := tensor.NewShape(1, 1, 4, 5)
			w := f.random(shape)
			aux := make([]*tensor.Tensor, u.Kind.AuxCount())
			for i := range aux {
				aux[i] = f.zeros(shape)
			}
			if u.Kind == tensor.RPropUpdate {
				if err := f.ops.Fill(aux[1], 0.01); err != nil {
					return nil, err
				}
			}
			for step := 1; step <= 3; step++ {
				u.Iteration = step
				if err := f.ops.Update(u, w, f.random(shape), aux...); err != nil {
					return nil, err
				}
			}
			return append([]*tensor.Tensor{w}, aux...), nil
		}})
	}
	return cases
}

func TestBackend_MatchesHost(t *testing.T) {
	for _, tc := range parityCases() {
		t.Run(tc.name, func(t *testing.T) {
			host := &fixture{t: t, ops: cpu.New(), rng: rand.New(rand.NewPCG(11, 13))}
			dev := &fixture{t: t, ops: newDevice(t), rng: rand.New(rand.NewPCG(11, 13))}

			want, err := tc.run(host)
			require.NoError(t, err)
			got, err := tc.run(dev)
			require.NoError(t, err)
			require.NoError(t, dev.ops.Synchronize())
			require.Len(t, got, len(want))

			for i := range want {
				require.Equal(t, want[i].Shape(), got[i].Shape(), "result %d", i)
				wd, err := want[i].Data()
				require.NoError(t, err)
				gd, err := got[i].Data()
				require.NoError(t, err)
				for j := range wd {
					assert.InDelta(t, wd[j], gd[j], 1e-4, "result %d index %d", i, j)
				}
			}
		})
	}
}

func TestBackend_StorageRoundTrip(t *testing.T) {
	b := newDevice(t)
	x, err := tensor.FromSlice(b, tensor.NewShape(1, 2, 2, 2), []float32{1, 2, 3, 4, 5, 6, 7, 8})
	require.NoError(t, err)
	assert.Equal(t, tensor.Accelerator, x.Storage().Device())

	x.Set4(0, 1, 0, 1, 42)
	assert.Equal(t, float32(42), x.At(5))
	assert.Equal(t, float32(42), x.At3(1, 0, 1))

	view, err := x.View(tensor.NewShape(1, 1, 1, 8))
	require.NoError(t, err)
	require.NoError(t, view.Fill(3))
	data, err := x.Data()
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 3, 3, 3, 3, 3, 3, 3}, data)

	require.NoError(t, x.Reshape(tensor.NewShape(2, 1, 2, 2)))
	assert.ErrorIs(t, x.Reshape(tensor.NewShape(1, 1, 1, 9)), tensor.ErrShapeMismatch)
	assert.ErrorIs(t, x.SetData([]float32{1}), tensor.ErrShapeMismatch)
}

func TestBackend_MaxPoolDxIndexOutsidePlane(t *testing.T) {
	b := newDevice(t)
	dy, err := tensor.FromSlice(b, tensor.NewShape(1, 2, 1, 1), []float32{1, 1})
	require.NoError(t, err)
	index, err := tensor.FromSlice(b, dy.Shape(), []float32{0, 1})
	require.NoError(t, err)
	dx, err := tensor.Zeros(b, tensor.NewShape(1, 2, 2, 2))
	require.NoError(t, err)

	require.NoError(t, b.MaxPoolDx(dy, index, dx))
	assert.ErrorIs(t, b.Synchronize(), device.ErrKernelFault)
}

func TestBackend_RejectsHostOperands(t *testing.T) {
	b := newDevice(t)
	host, err := tensor.Zeros(cpu.New(), tensor.NewShape(1, 1, 2, 2))
	require.NoError(t, err)
	dev, err := tensor.Zeros(b, tensor.NewShape(1, 1, 2, 2))
	require.NoError(t, err)

	assert.ErrorIs(t, b.Add(dev, host, tensor.New(b)), tensor.ErrUnsupportedStorage)
	assert.ErrorIs(t, cpu.New().Add(host, dev, tensor.New(cpu.New())), tensor.ErrUnsupportedStorage)
}

func TestBackend_RejectsOtherStream(t *testing.T) {
	a, b := newDevice(t), newDevice(t)
	x, err := tensor.Zeros(a, tensor.NewShape(1, 1, 1, 2))
	require.NoError(t, err)
	y, err := tensor.Zeros(b, tensor.NewShape(1, 1, 1, 2))
	require.NoError(t, err)
	assert.ErrorIs(t, a.Add(x, y, tensor.New(a)), tensor.ErrUnsupportedStorage)
}

func TestBackend_Name(t *testing.T) {
	b := newDevice(t)
	assert.Equal(t, "Device (emulator)", b.Name())
	assert.Equal(t, tensor.Accelerator, b.Device())
}
