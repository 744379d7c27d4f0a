package cpu

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/convnet/internal/tensor"
)

// refConv is a direct cross-correlation without padding.
func refConv(x []float32, xs tensor.Shape, w []float32, ws tensor.Shape, stride int) ([]float32, tensor.Shape) {
	out, _ := tensor.ConvOutputShape(xs, ws.Batch, ws.Height, ws.Width, stride)
	y := make([]float32, out.Size())
	for b := 0; b < out.Batch; b++ {
		for f := 0; f < out.Channels; f++ {
			for oy := 0; oy < out.Height; oy++ {
				for ox := 0; ox < out.Width; ox++ {
					var acc float32
					for c := 0; c < xs.Channels; c++ {
						for i := 0; i < ws.Height; i++ {
							for j := 0; j < ws.Width; j++ {
								acc += x[xs.Index4(b, c, oy*stride+i, ox*stride+j)] * w[ws.Index4(f, c, i, j)]
							}
						}
					}
					y[out.Index4(b, f, oy, ox)] = acc
				}
			}
		}
	}
	return y, out
}

// refConvGrads returns dx and dw of sum(dy ⊙ conv(x, w)).
func refConvGrads(x []float32, xs tensor.Shape, w []float32, ws tensor.Shape, dy []float32, ds tensor.Shape, stride int) (dx, dw []float32) {
	dx = make([]float32, xs.Size())
	dw = make([]float32, ws.Size())
	for b := 0; b < ds.Batch; b++ {
		for f := 0; f < ds.Channels; f++ {
			for oy := 0; oy < ds.Height; oy++ {
				for ox := 0; ox < ds.Width; ox++ {
					g := dy[ds.Index4(b, f, oy, ox)]
					for c := 0; c < xs.Channels; c++ {
						for i := 0; i < ws.Height; i++ {
							for j := 0; j < ws.Width; j++ {
								xi := xs.Index4(b, c, oy*stride+i, ox*stride+j)
								wi := ws.Index4(f, c, i, j)
								dx[xi] += g * w[wi]
								dw[wi] += g * x[xi]
							}
						}
					}
				}
			}
		}
	}
	return dx, dw
}

func TestCPUBackend_Im2Col(t *testing.T) {
	backend := New()
	x := newTensor(t, backend, tensor.NewShape(1, 1, 3, 3), []float32{1, 2, 3, 4, 5, 6, 7, 8, 9})
	cols := tensor.New(backend)

	require.NoError(t, backend.Im2Col(x, 2, 2, 1, cols))
	assert.Equal(t, tensor.NewShape(1, 1, 4, 4), cols.Shape())
	assert.Equal(t, []float32{
		1, 2, 4, 5,
		2, 3, 5, 6,
		4, 5, 7, 8,
		5, 6, 8, 9,
	}, dataOf(t, cols))
}

func TestCPUBackend_PadCrop(t *testing.T) {
	backend := New()
	x := newTensor(t, backend, tensor.NewShape(1, 1, 2, 2), []float32{1, 2, 3, 4})

	padded := tensor.New(backend)
	require.NoError(t, backend.Pad(x, tensor.Uniform(1), 1, padded))
	assert.Equal(t, []float32{
		0, 0, 0, 0,
		0, 1, 2, 0,
		0, 3, 4, 0,
		0, 0, 0, 0,
	}, dataOf(t, padded))

	cropped := tensor.New(backend)
	require.NoError(t, backend.Crop(padded, tensor.Uniform(1), cropped))
	assert.Equal(t, []float32{1, 2, 3, 4}, dataOf(t, cropped))

	dilated := tensor.New(backend)
	require.NoError(t, backend.Pad(x, tensor.Padding{}, 2, dilated))
	assert.Equal(t, []float32{
		1, 0, 2,
		0, 0, 0,
		3, 0, 4,
	}, dataOf(t, dilated))

	err := backend.Crop(x, tensor.Uniform(1), tensor.New(backend))
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestConv_BasicForward(t *testing.T) {
	backend := New()
	x := newTensor(t, backend, tensor.NewShape(1, 1, 3, 3), []float32{1, 2, 3, 4, 5, 6, 7, 8, 9})
	w := newTensor(t, backend, tensor.NewShape(1, 1, 2, 2), []float32{1, 0, 0, 1})

	y := tensor.New(backend)
	require.NoError(t, tensor.ConvForward(x, w, 1, tensor.NewConvScratch(backend), y))
	assert.Equal(t, tensor.NewShape(1, 1, 2, 2), y.Shape())
	// Diagonal sums of each 2x2 window.
	assert.Equal(t, []float32{6, 8, 12, 14}, dataOf(t, y))
}

func TestConv_MatchesDirectCorrelation(t *testing.T) {
	cases := []struct {
		name   string
		input  tensor.Shape
		filter tensor.Shape
		stride int
	}{
		{"TwoChannels", tensor.NewShape(1, 2, 3, 3), tensor.NewShape(3, 2, 2, 2), 1},
		{"Batched", tensor.NewShape(3, 2, 5, 4), tensor.NewShape(2, 2, 3, 2), 1},
		{"Strided", tensor.NewShape(2, 3, 7, 7), tensor.NewShape(4, 3, 3, 3), 2},
		{"StrideSkipsEdge", tensor.NewShape(2, 1, 6, 5), tensor.NewShape(2, 1, 3, 2), 2},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			backend := New()
			rng := rand.New(rand.NewPCG(uint64(i), 7))
			xd, wd := randomData(rng, tc.input.Size()), randomData(rng, tc.filter.Size())
			x := newTensor(t, backend, tc.input, xd)
			w := newTensor(t, backend, tc.filter, wd)
			scratch := tensor.NewConvScratch(backend)

			y := tensor.New(backend)
			require.NoError(t, tensor.ConvForward(x, w, tc.stride, scratch, y))
			want, outShape := refConv(xd, tc.input, wd, tc.filter, tc.stride)
			require.Equal(t, outShape, y.Shape())
			assertClose(t, want, dataOf(t, y), 1e-4)

			dyd := randomData(rng, outShape.Size())
			dy := newTensor(t, backend, outShape, dyd)
			wantDx, wantDw := refConvGrads(xd, tc.input, wd, tc.filter, dyd, outShape, tc.stride)

			dx := tensor.New(backend)
			require.NoError(t, tensor.ConvDx(dy, w, tc.stride, tc.input, scratch, dx))
			assert.Equal(t, tc.input, dx.Shape())
			assertClose(t, wantDx, dataOf(t, dx), 1e-4)

			dw := tensor.New(backend)
			require.NoError(t, tensor.ConvDw(dy, tc.filter, scratch, dw))
			assert.Equal(t, tc.filter, dw.Shape())
			assertClose(t, wantDw, dataOf(t, dw), 1e-4)

			// A second pass reuses every scratch buffer and overwrites dw.
			require.NoError(t, tensor.ConvDw(dy, tc.filter, scratch, dw))
			assertClose(t, wantDw, dataOf(t, dw), 1e-4)
		})
	}
}

func TestConv_ChannelMismatch(t *testing.T) {
	backend := New()
	x := newTensor(t, backend, tensor.NewShape(1, 2, 3, 3), make([]float32, 18))
	w := newTensor(t, backend, tensor.NewShape(1, 3, 2, 2), make([]float32, 12))
	err := tensor.ConvForward(x, w, 1, tensor.NewConvScratch(backend), tensor.New(backend))
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestCPUBackend_Rotate180(t *testing.T) {
	backend := New()
	// Two filters over one channel.
	w := newTensor(t, backend, tensor.NewShape(2, 1, 2, 2), []float32{1, 2, 3, 4, 5, 6, 7, 8})
	rot := tensor.New(backend)
	require.NoError(t, backend.Rotate180(w, rot))
	assert.Equal(t, tensor.NewShape(1, 2, 2, 2), rot.Shape())
	assert.Equal(t, []float32{4, 3, 2, 1, 8, 7, 6, 5}, dataOf(t, rot))
}

func TestCPUBackend_ChannelRowsCol2Im(t *testing.T) {
	backend := New()
	rng := rand.New(rand.NewPCG(9, 9))
	shape := tensor.NewShape(3, 2, 2, 3)
	data := randomData(rng, shape.Size())
	x := newTensor(t, backend, shape, data)

	rows := tensor.New(backend)
	require.NoError(t, backend.ChannelRows(x, rows))
	assert.Equal(t, tensor.NewShape(1, 1, 2, 18), rows.Shape())
	assert.Equal(t, x.At4(2, 1, 0, 1), rows.At2(1, 2*6+1))

	back := tensor.New(backend)
	require.NoError(t, backend.Col2Im(rows, shape, back))
	assert.Equal(t, data, dataOf(t, back))
}

func TestCPUBackend_MaxPool(t *testing.T) {
	backend := New()
	x := newTensor(t, backend, tensor.NewShape(1, 1, 4, 4), []float32{
		1, 3, 2, 4,
		5, 6, 7, 8,
		9, 2, 1, 0,
		3, 4, 5, 6,
	})
	y, index := tensor.New(backend), tensor.New(backend)
	require.NoError(t, backend.MaxPool(x, 2, 2, y, index))
	assert.Equal(t, tensor.NewShape(1, 1, 2, 2), y.Shape())
	assert.Equal(t, []float32{6, 8, 9, 6}, dataOf(t, y))
	assert.Equal(t, []float32{5, 7, 8, 15}, dataOf(t, index))

	dy := newTensor(t, backend, y.Shape(), []float32{1, 2, 3, 4})
	dx, err := tensor.Zeros(backend, x.Shape())
	require.NoError(t, err)
	require.NoError(t, dx.Fill(9))
	require.NoError(t, backend.MaxPoolDx(dy, index, dx))
	assert.Equal(t, []float32{
		0, 0, 0, 0,
		0, 1, 0, 2,
		3, 0, 0, 0,
		0, 0, 0, 4,
	}, dataOf(t, dx))

	t.Run("OverlappingWindowsAccumulate", func(t *testing.T) {
		sq := newTensor(t, backend, tensor.NewShape(1, 1, 3, 3), []float32{
			0, 0, 0,
			0, 5, 0,
			0, 0, 0,
		})
		y2, index2 := tensor.New(backend), tensor.New(backend)
		require.NoError(t, backend.MaxPool(sq, 2, 1, y2, index2))
		assert.Equal(t, []float32{4, 4, 4, 4}, dataOf(t, index2))

		dy := newTensor(t, backend, y2.Shape(), []float32{1, 1, 1, 1})
		dx, err := tensor.Zeros(backend, sq.Shape())
		require.NoError(t, err)
		require.NoError(t, backend.MaxPoolDx(dy, index2, dx))
		assert.Equal(t, float32(4), dx.At(4))
	})

	t.Run("IndexOutsidePlane", func(t *testing.T) {
		shape := tensor.NewShape(1, 2, 2, 2)
		dy := newTensor(t, backend, tensor.NewShape(1, 2, 1, 1), []float32{1, 1})
		for _, bad := range [][]float32{{0, 1}, {0, 100}, {-1, 4}} {
			index := newTensor(t, backend, dy.Shape(), bad)
			dx, err := tensor.Zeros(backend, shape)
			require.NoError(t, err)
			assert.ErrorIs(t, backend.MaxPoolDx(dy, index, dx), tensor.ErrInvalidArgument, "index %v", bad)
		}
		index := newTensor(t, backend, dy.Shape(), []float32{3, 4})
		dx, err := tensor.Zeros(backend, shape)
		require.NoError(t, err)
		require.NoError(t, backend.MaxPoolDx(dy, index, dx))
		assert.Equal(t, []float32{0, 0, 0, 1, 1, 0, 0, 0}, dataOf(t, dx))
	})

	t.Run("KernelLargerThanInput", func(t *testing.T) {
		err := backend.MaxPool(x, 5, 1, tensor.New(backend), tensor.New(backend))
		assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
	})
}

func TestCPUBackend_Bias(t *testing.T) {
	backend := New()
	x := newTensor(t, backend, tensor.NewShape(1, 2, 1, 2), []float32{1, 2, 3, 4})

	t.Run("PerChannel", func(t *testing.T) {
		bias := newTensor(t, backend, tensor.NewShape(1, 1, 1, 2), []float32{10, 20})
		y := tensor.New(backend)
		require.NoError(t, backend.AddBias(x, bias, y))
		assert.Equal(t, []float32{11, 12, 23, 24}, dataOf(t, y))
	})

	t.Run("PerFeature", func(t *testing.T) {
		bias := newTensor(t, backend, tensor.NewShape(1, 1, 1, 4), []float32{1, 1, 2, 2})
		y := tensor.New(backend)
		require.NoError(t, backend.AddBias(x, bias, y))
		assert.Equal(t, []float32{2, 3, 5, 6}, dataOf(t, y))
	})

	t.Run("GradientAccumulates", func(t *testing.T) {
		dy := newTensor(t, backend, x.Shape(), []float32{1, 1, 1, 1})
		db, err := tensor.Zeros(backend, tensor.NewShape(1, 1, 1, 2))
		require.NoError(t, err)
		require.NoError(t, backend.BiasDx(dy, db))
		require.NoError(t, backend.BiasDx(dy, db))
		assert.Equal(t, []float32{4, 4}, dataOf(t, db))
	})

	t.Run("WrongSize", func(t *testing.T) {
		bias := newTensor(t, backend, tensor.NewShape(1, 1, 1, 3), []float32{1, 2, 3})
		err := backend.AddBias(x, bias, tensor.New(backend))
		assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
	})
}
