package device

import (
	"github.com/born-ml/convnet/internal/kernels"
	"github.com/born-ml/convnet/internal/tensor"
)

// Fill sets every element of t to value.
func (b *Backend) Fill(t *tensor.Tensor, value float32) error {
	if err := b.check("fill", []*tensor.Tensor{t}); err != nil {
		return err
	}
	bufs, err := b.buffers("fill", t)
	if err != nil {
		return err
	}
	n := t.Size()
	return b.launch("fill", KernelFill, n, bufs, i32(n), value)
}

// Copy copies src into dst, allocating dst with src's shape if needed.
func (b *Backend) Copy(dst, src *tensor.Tensor) error {
	if err := b.check("copy", []*tensor.Tensor{src}, dst); err != nil {
		return err
	}
	if err := tensor.PrepareResult("copy", dst, src.Shape()); err != nil {
		return err
	}
	bufs, err := b.buffers("copy", dst, src)
	if err != nil {
		return err
	}
	n := src.Size()
	return b.launch("copy", KernelCopy, n, bufs, i32(n))
}

// Add writes a + b into result.
func (b *Backend) Add(x, y, result *tensor.Tensor) error {
	if err := b.check("add", []*tensor.Tensor{x, y}, result); err != nil {
		return err
	}
	if err := tensor.SameShape("add", x, y); err != nil {
		return err
	}
	if err := tensor.PrepareResult("add", result, x.Shape()); err != nil {
		return err
	}
	bufs, err := b.buffers("add", result, x, y)
	if err != nil {
		return err
	}
	n := x.Size()
	return b.launch("add", KernelAdd, n, bufs, i32(n))
}

// Accumulate adds src into dst. An unallocated dst starts from zero.
func (b *Backend) Accumulate(dst, src *tensor.Tensor) error {
	if err := b.check("accumulate", []*tensor.Tensor{src}, dst); err != nil {
		return err
	}
	if err := tensor.PrepareResult("accumulate", dst, src.Shape()); err != nil {
		return err
	}
	bufs, err := b.buffers("accumulate", dst, src)
	if err != nil {
		return err
	}
	n := src.Size()
	return b.launch("accumulate", KernelAccumulate, n, bufs, i32(n))
}

// Dot2D performs a per-batch matrix multiplication; b is broadcast when it
// has a single batch item.
func (b *Backend) Dot2D(x, y, result *tensor.Tensor) error {
	if err := b.check("dot2d", []*tensor.Tensor{x, y}, result); err != nil {
		return err
	}
	xs, ys := x.Shape(), y.Shape()
	out, err := tensor.Dot2DShape(xs, ys)
	if err != nil {
		return err
	}
	if err := tensor.PrepareResult("dot2d", result, out); err != nil {
		return err
	}
	bufs, err := b.buffers("dot2d", result, x, y)
	if err != nil {
		return err
	}
	batched := int32(0)
	if ys.Batch > 1 {
		batched = 1
	}
	return b.launch("dot2d", KernelDot2D, out.Size(), bufs,
		i32(xs.Batch), i32(xs.Height), i32(xs.Width), i32(ys.Width), batched)
}

// Transpose writes the per-batch transpose of a into result.
func (b *Backend) Transpose(a, result *tensor.Tensor) error {
	if err := b.check("transpose", []*tensor.Tensor{a}, result); err != nil {
		return err
	}
	as := a.Shape()
	out, err := tensor.TransposeShape(as)
	if err != nil {
		return err
	}
	if err := tensor.PrepareResult("transpose", result, out); err != nil {
		return err
	}
	bufs, err := b.buffers("transpose", result, a)
	if err != nil {
		return err
	}
	return b.launch("transpose", KernelTranspose, as.Size(), bufs, i32(as.Batch), i32(as.Height), i32(as.Width))
}

// Max writes the maximum of each batch row into result (B, 1, 1, 1).
func (b *Backend) Max(a, result *tensor.Tensor) error {
	return b.reduceRows("max", KernelMaxRows, a, result)
}

// Sum writes the sum of each batch row into result (B, 1, 1, 1).
func (b *Backend) Sum(a, result *tensor.Tensor) error {
	return b.reduceRows("sum", KernelSumRows, a, result)
}

func (b *Backend) reduceRows(op, kernel string, a, result *tensor.Tensor) error {
	if err := b.check(op, []*tensor.Tensor{a}, result); err != nil {
		return err
	}
	s := a.Shape()
	if err := tensor.PrepareResult(op, result, tensor.RowShape(s)); err != nil {
		return err
	}
	bufs, err := b.buffers(op, result, a)
	if err != nil {
		return err
	}
	return b.launch(op, kernel, s.Batch, bufs, i32(s.Batch), i32(s.PerBatch()))
}

// Update applies one optimizer rule to weights in place.
func (b *Backend) Update(u tensor.Update, weights, gradients *tensor.Tensor, aux ...*tensor.Tensor) error {
	operands := append([]*tensor.Tensor{weights, gradients}, aux...)
	if err := tensor.CheckUpdate(u, len(aux)); err != nil {
		return err
	}
	if err := b.check("update", operands); err != nil {
		return err
	}
	if err := tensor.SameShape("update", operands...); err != nil {
		return err
	}
	bufs, err := b.buffers("update", operands...)
	if err != nil {
		return err
	}
	n := weights.Size()
	kernel := UpdateKernel(u.Kind)
	switch u.Kind {
	case tensor.GradientDescentUpdate:
		return b.launch("update", kernel, n, bufs, i32(n), u.LearningRate)
	case tensor.AdaGradUpdate:
		return b.launch("update", kernel, n, bufs, i32(n), u.LearningRate, u.Epsilon)
	case tensor.AdaDeltaUpdate:
		return b.launch("update", kernel, n, bufs, i32(n), u.LearningRate, u.Decay1, u.Epsilon)
	case tensor.AdamUpdate:
		c1, c2 := kernels.BiasCorrection(u)
		return b.launch("update", kernel, n, bufs, i32(n), u.LearningRate, u.Decay1, u.Decay2, u.Epsilon, c1, c2)
	default:
		return b.launch("update", kernel, n, bufs, i32(n), u.Growth, u.Shrink, u.MaxStep, u.MinStep)
	}
}
