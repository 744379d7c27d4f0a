package device

import (
	"fmt"

	"github.com/born-ml/convnet/internal/tensor"
)

func geometry(s tensor.Shape) []any {
	return []any{i32(s.Batch), i32(s.Channels), i32(s.Height), i32(s.Width)}
}

// Pad writes x into result with every pixel spaced by dilation and zero
// margins given by pad.
func (b *Backend) Pad(x *tensor.Tensor, pad tensor.Padding, dilation int, result *tensor.Tensor) error {
	if err := b.check("pad", []*tensor.Tensor{x}, result); err != nil {
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
	bufs, err := b.buffers("pad", result, x)
	if err != nil {
		return err
	}
	args := append(geometry(xs), i32(pad.Top), i32(pad.Left), i32(dilation), i32(out.Height), i32(out.Width))
	return b.launch("pad", KernelPad, out.Size(), bufs, args...)
}

// Crop removes the margins added by Pad.
func (b *Backend) Crop(dy *tensor.Tensor, pad tensor.Padding, result *tensor.Tensor) error {
	if err := b.check("crop", []*tensor.Tensor{dy}, result); err != nil {
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
	bufs, err := b.buffers("crop", result, dy)
	if err != nil {
		return err
	}
	args := append(geometry(out), i32(pad.Top), i32(pad.Left), i32(ds.Height), i32(ds.Width))
	return b.launch("crop", KernelCrop, out.Size(), bufs, args...)
}

// Im2Col unfolds every kernelH × kernelW window of x into one column of result.
func (b *Backend) Im2Col(x *tensor.Tensor, kernelH, kernelW, stride int, result *tensor.Tensor) error {
	if err := b.check("im2col", []*tensor.Tensor{x}, result); err != nil {
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
	bufs, err := b.buffers("im2col", result, x)
	if err != nil {
		return err
	}
	oh := tensor.WindowOutput(xs.Height, kernelH, stride)
	ow := tensor.WindowOutput(xs.Width, kernelW, stride)
	args := append(geometry(xs), i32(kernelH), i32(kernelW), i32(stride), i32(oh), i32(ow))
	return b.launch("im2col", KernelIm2Col, out.Size(), bufs, args...)
}

// Col2Im folds a (1, 1, C, B*H*W) matrix into an NCHW tensor of shape.
func (b *Backend) Col2Im(cols *tensor.Tensor, shape tensor.Shape, result *tensor.Tensor) error {
	if err := b.check("col2im", []*tensor.Tensor{cols}, result); err != nil {
		return err
	}
	out, err := tensor.Col2ImShape(cols.Shape(), shape)
	if err != nil {
		return err
	}
	if err := tensor.PrepareResult("col2im", result, out); err != nil {
		return err
	}
	bufs, err := b.buffers("col2im", result, cols)
	if err != nil {
		return err
	}
	return b.launch("col2im", KernelCol2Im, out.Size(), bufs, geometry(out)...)
}

// ChannelRows lays x out as one row per channel.
func (b *Backend) ChannelRows(x, result *tensor.Tensor) error {
	if err := b.check("channel rows", []*tensor.Tensor{x}, result); err != nil {
		return err
	}
	xs := x.Shape()
	if err := tensor.PrepareResult("channel rows", result, tensor.ChannelRowsShape(xs)); err != nil {
		return err
	}
	bufs, err := b.buffers("channel rows", result, x)
	if err != nil {
		return err
	}
	return b.launch("channel rows", KernelChannelRows, xs.Size(), bufs, geometry(xs)...)
}

// Rotate180 rotates every kernel by 180° and swaps the filter and channel axes.
func (b *Backend) Rotate180(filters, result *tensor.Tensor) error {
	if err := b.check("rotate180", []*tensor.Tensor{filters}, result); err != nil {
		return err
	}
	fs := filters.Shape()
	if err := tensor.PrepareResult("rotate180", result, tensor.Rotate180Shape(fs)); err != nil {
		return err
	}
	bufs, err := b.buffers("rotate180", result, filters)
	if err != nil {
		return err
	}
	return b.launch("rotate180", KernelRotate180, fs.Size(), bufs, geometry(fs)...)
}

// MaxPool writes each window maximum into result and its flat source offset
// into index.
func (b *Backend) MaxPool(x *tensor.Tensor, kernel, stride int, result, index *tensor.Tensor) error {
	if err := b.check("maxpool", []*tensor.Tensor{x}, result, index); err != nil {
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
	bufs, err := b.buffers("maxpool", result, index, x)
	if err != nil {
		return err
	}
	args := append(geometry(xs), i32(kernel), i32(stride), i32(out.Height), i32(out.Width))
	return b.launch("maxpool", KernelMaxPoolForward, out.Size(), bufs, args...)
}

// MaxPoolDx overwrites result with the gradient routed through index.
// result must already be allocated with the pooling input shape. One thread
// owns each (batch, channel) plane, so overlapping windows never race. An
// index outside its plane is a kernel fault on the emulator; the WebGPU
// kernel drops it.
func (b *Backend) MaxPoolDx(dy, index, result *tensor.Tensor) error {
	if err := b.check("maxpool dx", []*tensor.Tensor{dy, index, result}); err != nil {
		return err
	}
	if err := tensor.SameShape("maxpool dx", dy, index); err != nil {
		return err
	}
	ds, rs := dy.Shape(), result.Shape()
	if ds.Batch != rs.Batch || ds.Channels != rs.Channels {
		return fmt.Errorf("maxpool dx: %w: dy %v for input %v", tensor.ErrShapeMismatch, ds, rs)
	}
	bufs, err := b.buffers("maxpool dx", result, dy, index)
	if err != nil {
		return err
	}
	planes := rs.Batch * rs.Channels
	return b.launch("maxpool dx", KernelMaxPoolBackward, planes, bufs, i32(planes), i32(rs.Plane()), i32(ds.Plane()))
}

// AddBias writes x + bias into result.
func (b *Backend) AddBias(x, bias, result *tensor.Tensor) error {
	if err := b.check("add bias", []*tensor.Tensor{x, bias}, result); err != nil {
		return err
	}
	inner, err := tensor.BiasInner(x.Shape(), bias.Size())
	if err != nil {
		return err
	}
	if err := tensor.PrepareResult("add bias", result, x.Shape()); err != nil {
		return err
	}
	bufs, err := b.buffers("add bias", result, x, bias)
	if err != nil {
		return err
	}
	n := x.Size()
	return b.launch("add bias", KernelAddBias, n, bufs, i32(n), i32(inner), i32(bias.Size()))
}

// BiasDx accumulates the bias gradient of dy into biasGradient.
func (b *Backend) BiasDx(dy, biasGradient *tensor.Tensor) error {
	if err := b.check("bias dx", []*tensor.Tensor{dy, biasGradient}); err != nil {
		return err
	}
	inner, err := tensor.BiasInner(dy.Shape(), biasGradient.Size())
	if err != nil {
		return err
	}
	bufs, err := b.buffers("bias dx", biasGradient, dy)
	if err != nil {
		return err
	}
	l := biasGradient.Size()
	return b.launch("bias dx", KernelBiasBackward, l, bufs, i32(dy.Size()), i32(inner), i32(l))
}
