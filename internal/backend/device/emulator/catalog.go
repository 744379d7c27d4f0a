package emulator

import (
	"fmt"

	"github.com/born-ml/convnet/internal/backend/device"
	"github.com/born-ml/convnet/internal/kernels"
	"github.com/born-ml/convnet/internal/parallel"
	"github.com/born-ml/convnet/internal/tensor"
)

// kernelSpec declares a kernel's argument layout and its body.
// Arguments are buffers, then int32 scalars, then float32 scalars.
type kernelSpec struct {
	buffers, ints, floats int
	run                   func(a *args)
}

// args are decoded launch arguments.
type args struct {
	b        [][]float32
	i        []int
	f        []float32
	parallel parallel.Config
}

// geometry reads four consecutive ints starting at i as B, C, H, W.
func (a *args) geometry(i int) kernels.Geometry {
	return kernels.Geometry{B: a.i[i], C: a.i[i+1], H: a.i[i+2], W: a.i[i+3]}
}

// perBatch runs f over batch ranges, one item per call.
func (a *args) perBatch(batch int, f func(b0, b1 int)) {
	parallel.For(batch, func(b int) { f(b, b+1) }, a.parallel)
}

func decode(kernel string, spec kernelSpec, raw []any) (*args, error) {
	want := spec.buffers + spec.ints + spec.floats
	if len(raw) != want {
		return nil, fmt.Errorf("emulator: %s: %d arguments, want %d", kernel, len(raw), want)
	}
	a := &args{
		b: make([][]float32, spec.buffers),
		i: make([]int, spec.ints),
		f: make([]float32, spec.floats),
	}
	for k, v := range raw {
		switch {
		case k < spec.buffers:
			buf, ok := v.(*buffer)
			if !ok || buf == nil {
				return nil, fmt.Errorf("emulator: %s: argument %d is %T, want buffer", kernel, k, v)
			}
			a.b[k] = buf.data
		case k < spec.buffers+spec.ints:
			n, ok := v.(int32)
			if !ok {
				return nil, fmt.Errorf("emulator: %s: argument %d is %T, want int32", kernel, k, v)
			}
			a.i[k-spec.buffers] = int(n)
		default:
			x, ok := v.(float32)
			if !ok {
				return nil, fmt.Errorf("emulator: %s: argument %d is %T, want float32", kernel, k, v)
			}
			a.f[k-spec.buffers-spec.ints] = x
		}
	}
	return a, nil
}

var catalog = map[string]kernelSpec{
	device.KernelFill: {1, 1, 1, func(a *args) {
		kernels.Fill(a.b[0][:a.i[0]], a.f[0])
	}},
	device.KernelCopy: {2, 1, 0, func(a *args) {
		n := a.i[0]
		kernels.Copy(a.b[0][:n], a.b[1][:n])
	}},
	device.KernelAdd: {3, 1, 0, func(a *args) {
		n := a.i[0]
		kernels.Add(a.b[0][:n], a.b[1][:n], a.b[2][:n])
	}},
	device.KernelAccumulate: {2, 1, 0, func(a *args) {
		n := a.i[0]
		kernels.Accumulate(a.b[0][:n], a.b[1][:n])
	}},
	device.KernelDot2D: {3, 5, 0, func(a *args) {
		batch, m, k, n, batched := a.i[0], a.i[1], a.i[2], a.i[3], a.i[4]
		a.perBatch(batch, func(b0, _ int) {
			off := 0
			if batched != 0 {
				off = b0 * k * n
			}
			kernels.Dot2D(a.b[0][b0*m*n:(b0+1)*m*n], a.b[1][b0*m*k:(b0+1)*m*k], a.b[2][off:off+k*n], m, k, n)
		})
	}},
	device.KernelTranspose: {2, 3, 0, func(a *args) {
		batch, rows, cols := a.i[0], a.i[1], a.i[2]
		plane := rows * cols
		a.perBatch(batch, func(b0, _ int) {
			kernels.Transpose(a.b[0][b0*plane:(b0+1)*plane], a.b[1][b0*plane:(b0+1)*plane], rows, cols)
		})
	}},
	device.KernelMaxRows: {2, 2, 0, func(a *args) {
		kernels.MaxRows(a.b[0], a.b[1], a.i[0], a.i[1])
	}},
	device.KernelSumRows: {2, 2, 0, func(a *args) {
		kernels.SumRows(a.b[0], a.b[1], a.i[0], a.i[1])
	}},
	device.KernelPad: {2, 9, 0, func(a *args) {
		g := a.geometry(0)
		top, left, dilation, outH, outW := a.i[4], a.i[5], a.i[6], a.i[7], a.i[8]
		per := g.C * outH * outW
		a.perBatch(g.B, func(b0, b1 int) {
			kernels.Fill(a.b[0][b0*per:b1*per], 0)
			kernels.Pad(a.b[0], a.b[1], g, top, left, dilation, outH, outW, b0, b1)
		})
	}},
	device.KernelCrop: {2, 8, 0, func(a *args) {
		g := a.geometry(0)
		a.perBatch(g.B, func(b0, b1 int) {
			kernels.Crop(a.b[0], a.b[1], g, a.i[4], a.i[5], a.i[6], a.i[7], b0, b1)
		})
	}},
	device.KernelIm2Col: {2, 9, 0, func(a *args) {
		g := a.geometry(0)
		a.perBatch(g.B, func(b0, b1 int) {
			kernels.Im2Col(a.b[0], a.b[1], g, a.i[4], a.i[5], a.i[6], a.i[7], a.i[8], b0, b1)
		})
	}},
	device.KernelCol2Im: {2, 4, 0, func(a *args) {
		g := a.geometry(0)
		a.perBatch(g.B, func(b0, b1 int) {
			kernels.Col2Im(a.b[0], a.b[1], g, b0, b1)
		})
	}},
	device.KernelChannelRows: {2, 4, 0, func(a *args) {
		g := a.geometry(0)
		a.perBatch(g.B, func(b0, b1 int) {
			kernels.ChannelRows(a.b[0], a.b[1], g, b0, b1)
		})
	}},
	device.KernelRotate180: {2, 4, 0, func(a *args) {
		kernels.Rotate180(a.b[0], a.b[1], a.i[0], a.i[1], a.i[2], a.i[3])
	}},
	device.KernelMaxPoolForward: {3, 8, 0, func(a *args) {
		g := a.geometry(0)
		a.perBatch(g.B, func(b0, b1 int) {
			kernels.MaxPool(a.b[0], a.b[1], a.b[2], g, a.i[4], a.i[5], a.i[6], a.i[7], b0, b1)
		})
	}},
	device.KernelMaxPoolBackward: {3, 3, 0, func(a *args) {
		planes, inPlane, outPlane := a.i[0], a.i[1], a.i[2]
		index := a.b[2][:planes*outPlane]
		if at := kernels.PoolIndexOutOfRange(index, inPlane, outPlane); at >= 0 {
			panic(fmt.Sprintf("index[%d] = %v is outside its plane", at, index[at]))
		}
		kernels.Fill(a.b[0][:planes*inPlane], 0)
		kernels.MaxPoolDx(a.b[0], a.b[1][:planes*outPlane], index)
	}},
	device.KernelSoftmaxForward: {3, 2, 0, func(a *args) {
		kernels.Softmax(a.b[0], a.b[1], a.b[2], a.i[0], a.i[1])
	}},
	device.KernelSoftmaxBackward: {3, 2, 0, func(a *args) {
		kernels.SoftmaxDx(a.b[0], a.b[1], a.b[2], a.i[0], a.i[1])
	}},
	device.KernelCrossEntropy: {3, 2, 1, func(a *args) {
		kernels.CrossEntropy(a.b[0], a.b[1], a.b[2], a.i[0], a.i[1], a.f[0])
	}},
	device.KernelCrossEntropyBackward: {3, 1, 0, func(a *args) {
		n := a.i[0]
		kernels.CrossEntropyDx(a.b[0][:n], a.b[1][:n], a.b[2][:n])
	}},
	device.KernelMSE: {3, 2, 0, func(a *args) {
		kernels.MSE(a.b[0], a.b[1], a.b[2], a.i[0], a.i[1])
	}},
	device.KernelMSEBackward: {3, 2, 0, func(a *args) {
		n := a.i[0]
		kernels.MSEDx(a.b[0][:n], a.b[1][:n], a.b[2][:n], a.i[1])
	}},
	device.KernelAddBias: {3, 3, 0, func(a *args) {
		n := a.i[0]
		kernels.AddBias(a.b[0][:n], a.b[1][:n], a.b[2][:a.i[2]], a.i[1])
	}},
	device.KernelBiasBackward: {2, 3, 0, func(a *args) {
		kernels.BiasDx(a.b[0][:a.i[2]], a.b[1][:a.i[0]], a.i[1])
	}},
	device.KernelGradientDescent: {2, 1, 1, func(a *args) {
		n := a.i[0]
		kernels.GradientDescent(a.b[0][:n], a.b[1][:n], a.f[0])
	}},
	device.KernelAdaGrad: {3, 1, 2, func(a *args) {
		n := a.i[0]
		kernels.AdaGrad(a.b[0][:n], a.b[1][:n], a.b[2][:n], a.f[0], a.f[1])
	}},
	device.KernelAdaDelta: {3, 1, 3, func(a *args) {
		n := a.i[0]
		kernels.AdaDelta(a.b[0][:n], a.b[1][:n], a.b[2][:n], a.f[0], a.f[1], a.f[2])
	}},
	device.KernelAdam: {4, 1, 6, func(a *args) {
		n := a.i[0]
		kernels.Adam(a.b[0][:n], a.b[1][:n], a.b[2][:n], a.b[3][:n], a.f[0], a.f[1], a.f[2], a.f[3], a.f[4], a.f[5])
	}},
	device.KernelRProp: {4, 1, 4, func(a *args) {
		n := a.i[0]
		kernels.RProp(a.b[0][:n], a.b[1][:n], a.b[2][:n], a.b[3][:n], a.f[0], a.f[1], a.f[2], a.f[3])
	}},
}

func init() {
	for _, kind := range []tensor.ActivationKind{tensor.ReLU, tensor.LeakyReLU, tensor.Sigmoid, tensor.Tanh} {
		catalog[device.ActivationKernel(kind)] = kernelSpec{2, 1, 0, func(a *args) {
			n := a.i[0]
			kernels.Activation(kind, a.b[0][:n], a.b[1][:n])
		}}
		catalog[device.ActivationDxKernel(kind)] = kernelSpec{4, 1, 0, func(a *args) {
			n := a.i[0]
			kernels.ActivationDx(kind, a.b[0][:n], a.b[1][:n], a.b[2][:n], a.b[3][:n])
		}}
	}
}
