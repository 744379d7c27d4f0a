package cpu

import (
	"fmt"

	"github.com/born-ml/convnet/internal/kernels"
	"github.com/born-ml/convnet/internal/tensor"
)

func geometry(s tensor.Shape) kernels.Geometry {
	return kernels.Geometry{B: s.Batch, C: s.Channels, H: s.Height, W: s.Width}
}

// Pad writes x into result with every pixel spaced by dilation and zero
// margins given by pad.
func (cpu *CPUBackend) Pad(x *tensor.Tensor, pad tensor.Padding, dilation int, result *tensor.Tensor) error {
	if err := cpu.check("pad", []*tensor.Tensor{x}, result); err != nil {
		return err
	}
	xs := x.Shape()
	out, err := tensor.PadShape(xs, pad, dilation)
	if err != nil {
		return err
	}
	if err := tensor.PrepareResult("pad", result, out); err != nil {
		return err
	}
	r, err := raw("pad", result, x)
	if err != nil {
		return err
	}
	per := out.PerBatch()
	cpu.perBatch(xs.Batch, func(b0, b1 int) {
		kernels.Fill(r[0][b0*per:b1*per], 0)
		kernels.Pad(r[0], r[1], geometry(xs), pad.Top, pad.Left, dilation, out.Height, out.Width, b0, b1)
	})
	return nil
}

// Crop removes the margins added by Pad (dilation 1).
func (cpu *CPUBackend) Crop(dy *tensor.Tensor, pad tensor.Padding, result *tensor.Tensor) error {
	if err := cpu.check("crop", []*tensor.Tensor{dy}, result); err != nil {
		return err
	}
	ds := dy.Shape()
	out, err := tensor.CropShape(ds, pad)
	if err != nil {
		return err
	}
	if err := tensor.PrepareResult("crop", result, out); err != nil {
		return err
	}
	r, err := raw("crop", result, dy)
	if err != nil {
		return err
	}
	cpu.perBatch(ds.Batch, func(b0, b1 int) {
		kernels.Crop(r[0], r[1], geometry(out), pad.Top, pad.Left, ds.Height, ds.Width, b0, b1)
	})
	return nil
}

// Im2Col unfolds every kernelH × kernelW window of x into one column of
// result (1, 1, C*kh*kw, B*oh*ow).
func (cpu *CPUBackend) Im2Col(x *tensor.Tensor, kernelH, kernelW, stride int, result *tensor.Tensor) error {
	if err := cpu.check("im2col", []*tensor.Tensor{x}, result); err != nil {
		return err
	}
	xs := x.Shape()
	out, err := tensor.Im2ColShape(xs, kernelH, kernelW, stride)
	if err != nil {
		return err
	}
	if err := tensor.PrepareResult("im2col", result, out); err != nil {
		return err
	}
	r, err := raw("im2col", result, x)
	if err != nil {
		return err
	}
	oh := tensor.WindowOutput(xs.Height, kernelH, stride)
	ow := tensor.WindowOutput(xs.Width, kernelW, stride)
	cpu.perBatch(xs.Batch, func(b0, b1 int) {
		kernels.Im2Col(r[0], r[1], geometry(xs), kernelH, kernelW, stride, oh, ow, b0, b1)
	})
	return nil
}

// Col2Im folds a (1, 1, C, B*H*W) matrix into an NCHW tensor of shape.
func (cpu *CPUBackend) Col2Im(cols *tensor.Tensor, shape tensor.Shape, result *tensor.Tensor) error {
	if err := cpu.check("col2im", []*tensor.Tensor{cols}, result); err != nil {
		return err
	}
	out, err := tensor.Col2ImShape(cols.Shape(), shape)
	if err != nil {
		return err
	}
	if err := tensor.PrepareResult("col2im", result, out); err != nil {
		return err
	}
	r, err := raw("col2im", result, cols)
	if err != nil {
		return err
	}
	cpu.perBatch(shape.Batch, func(b0, b1 int) {
		kernels.Col2Im(r[0], r[1], geometry(shape), b0, b1)
	})
	return nil
}

// ChannelRows lays x out as one row per channel: (1, 1, C, B*H*W).
func (cpu *CPUBackend) ChannelRows(x, result *tensor.Tensor) error {
	if err := cpu.check("channel rows", []*tensor.Tensor{x}, result); err != nil {
		return err
	}
	xs := x.Shape()
	if err := tensor.PrepareResult("channel rows", result, tensor.ChannelRowsShape(xs)); err != nil {
		return err
	}
	r, err := raw("channel rows", result, x)
	if err != nil {
		return err
	}
	cpu.perBatch(xs.Batch, func(b0, b1 int) {
		kernels.ChannelRows(r[0], r[1], geometry(xs), b0, b1)
	})
	return nil
}

// Rotate180 rotates every kernel by 180° and swaps the filter and channel
// axes: (F, C, kh, kw) -> (C, F, kh, kw).
func (cpu *CPUBackend) Rotate180(filters, result *tensor.Tensor) error {
	if err := cpu.check("rotate180", []*tensor.Tensor{filters}, result); err != nil {
		return err
	}
	fs := filters.Shape()
	if err := tensor.PrepareResult("rotate180", result, tensor.Rotate180Shape(fs)); err != nil {
		return err
	}
	r, err := raw("rotate180", result, filters)
	if err != nil {
		return err
	}
	kernels.Rotate180(r[0], r[1], fs.Batch, fs.Channels, fs.Height, fs.Width)
	return nil
}

// MaxPool writes each window maximum into result and its flat source offset
// into index. Both take the pooled shape.
func (cpu *CPUBackend) MaxPool(x *tensor.Tensor, kernel, stride int, result, index *tensor.Tensor) error {
	if err := cpu.check("maxpool", []*tensor.Tensor{x}, result, index); err != nil {
		return err
	}
	xs := x.Shape()
	out, err := tensor.MaxPoolShape(xs, kernel, stride)
	if err != nil {
		return err
	}
	if err := tensor.PrepareResult("maxpool", result, out); err != nil {
		return err
	}
	if err := tensor.PrepareResult("maxpool index", index, out); err != nil {
		return err
	}
	r, err := raw("maxpool", result, index, x)
	if err != nil {
		return err
	}
	cpu.perBatch(xs.Batch, func(b0, b1 int) {
		kernels.MaxPool(r[0], r[1], r[2], geometry(xs), kernel, stride, out.Height, out.Width, b0, b1)
	})
	return nil
}

// MaxPoolDx zeroes result, then scatters dy[i] into result[index[i]].
// result must already be allocated with the pooling input shape, and every
// index must fall inside its own plane of result.
func (cpu *CPUBackend) MaxPoolDx(dy, index, result *tensor.Tensor) error {
	if err := cpu.check("maxpool dx", []*tensor.Tensor{dy, index, result}); err != nil {
		return err
	}
	if err := tensor.SameShape("maxpool dx", dy, index); err != nil {
		return err
	}
	if dy.Shape().Batch != result.Shape().Batch || dy.Shape().Channels != result.Shape().Channels {
		return fmt.Errorf("maxpool dx: %w: dy %v for input %v", tensor.ErrShapeMismatch, dy.Shape(), result.Shape())
	}
	r, err := raw("maxpool dx", result, dy, index)
	if err != nil {
		return err
	}
	if at := kernels.PoolIndexOutOfRange(r[2], result.Shape().Plane(), dy.Shape().Plane()); at >= 0 {
		return fmt.Errorf("maxpool dx: %w: index[%d] = %v is outside input %v", tensor.ErrInvalidArgument, at, r[2][at], result.Shape())
	}
	kernels.Fill(r[0], 0)
	kernels.MaxPoolDx(r[0], r[1], r[2])
	return nil
}

// AddBias writes x + bias into result. bias holds one value per channel or
// one per feature (C*H*W).
func (cpu *CPUBackend) AddBias(x, bias, result *tensor.Tensor) error {
	if err := cpu.check("add bias", []*tensor.Tensor{x, bias}, result); err != nil {
		return err
	}
	inner, err := tensor.BiasInner(x.Shape(), bias.Size())
	if err != nil {
		return err
	}
	if err := tensor.PrepareResult("add bias", result, x.Shape()); err != nil {
		return err
	}
	r, err := raw("add bias", result, x, bias)
	if err != nil {
		return err
	}
	kernels.AddBias(r[0], r[1], r[2], inner)
	return nil
}

// BiasDx accumulates the bias gradient of dy into biasGradient.
func (cpu *CPUBackend) BiasDx(dy, biasGradient *tensor.Tensor) error {
	if err := cpu.check("bias dx", []*tensor.Tensor{dy, biasGradient}); err != nil {
		return err
	}
	inner, err := tensor.BiasInner(dy.Shape(), biasGradient.Size())
	if err != nil {
		return err
	}
	r, err := raw("bias dx", biasGradient, dy)
	if err != nil {
		return err
	}
	kernels.BiasDx(r[0], r[1], inner)
	return nil
}
