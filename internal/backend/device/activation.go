package device

import (
	"fmt"

	"github.com/born-ml/convnet/internal/tensor"
)

// Activation applies kind elementwise to x.
func (b *Backend) Activation(kind tensor.ActivationKind, x, result *tensor.Tensor) error {
	if !kind.Valid() {
		return fmt.Errorf("activation: %w: %v", tensor.ErrInvalidArgument, kind)
	}
	op := kind.String()
	if err := b.check(op, []*tensor.Tensor{x}, result); err != nil {
		return err
	}
	if err := tensor.PrepareResult(op, result, x.Shape()); err != nil {
		return err
	}
	bufs, err := b.buffers(op, result, x)
	if err != nil {
		return err
	}
	n := x.Size()
	return b.launch(op, ActivationKernel(kind), n, bufs, i32(n))
}

// ActivationDx writes f'(x) * dy into result. y is the forward output.
func (b *Backend) ActivationDx(kind tensor.ActivationKind, x, y, dy, result *tensor.Tensor) error {
	if !kind.Valid() {
		return fmt.Errorf("activation dx: %w: %v", tensor.ErrInvalidArgument, kind)
	}
	op := kind.String() + " dx"
	if err := b.check(op, []*tensor.Tensor{x, y, dy}, result); err != nil {
		return err
	}
	if err := tensor.SameShape(op, x, y, dy); err != nil {
		return err
	}
	if err := tensor.PrepareResult(op, result, x.Shape()); err != nil {
		return err
	}
	bufs, err := b.buffers(op, result, x, y, dy)
	if err != nil {
		return err
	}
	n := x.Size()
	return b.launch(op, ActivationDxKernel(kind), n, bufs, i32(n))
}

// Softmax normalizes every batch row of x: a max_rows launch into rowMax
// followed by softmax_forward.
func (b *Backend) Softmax(x, rowMax, result *tensor.Tensor) error {
	if err := b.check("softmax", []*tensor.Tensor{x}, rowMax, result); err != nil {
		return err
	}
	if err := b.Max(x, rowMax); err != nil {
		return fmt.Errorf("softmax: %w", err)
	}
	s := x.Shape()
	if err := tensor.PrepareResult("softmax", result, s); err != nil {
		return err
	}
	bufs, err := b.buffers("softmax", result, x, rowMax)
	if err != nil {
		return err
	}
	return b.launch("softmax", KernelSoftmaxForward, s.Batch, bufs, i32(s.Batch), i32(s.PerBatch()))
}

// SoftmaxDx multiplies dy by the softmax Jacobian of every row of y.
func (b *Backend) SoftmaxDx(y, dy, result *tensor.Tensor) error {
	if err := b.check("softmax dx", []*tensor.Tensor{y, dy}, result); err != nil {
		return err
	}
	if err := tensor.SameShape("softmax dx", y, dy); err != nil {
		return err
	}
	s := y.Shape()
	if err := tensor.PrepareResult("softmax dx", result, s); err != nil {
		return err
	}
	bufs, err := b.buffers("softmax dx", result, y, dy)
	if err != nil {
		return err
	}
	return b.launch("softmax dx", KernelSoftmaxBackward, s.Size(), bufs, i32(s.Batch), i32(s.PerBatch()))
}

// Loss writes the per-row loss of output against target into result (B, 1, 1, 1).
func (b *Backend) Loss(kind tensor.LossKind, output, target, result *tensor.Tensor) error {
	if !kind.Valid() {
		return fmt.Errorf("loss: %w: %v", tensor.ErrInvalidArgument, kind)
	}
	op := kind.String()
	if err := b.check(op, []*tensor.Tensor{output, target}, result); err != nil {
		return err
	}
	if err := tensor.SameShape(op, output, target); err != nil {
		return err
	}
	s := output.Shape()
	if err := tensor.PrepareResult(op, result, tensor.RowShape(s)); err != nil {
		return err
	}
	bufs, err := b.buffers(op, result, output, target)
	if err != nil {
		return err
	}
	rows, cols := i32(s.Batch), i32(s.PerBatch())
	if kind == tensor.CrossEntropy {
		return b.launch(op, KernelCrossEntropy, s.Batch, bufs, rows, cols, float32(tensor.CrossEntropyEpsilon))
	}
	return b.launch(op, KernelMSE, s.Batch, bufs, rows, cols)
}

// LossDx writes the derivative of the loss with respect to output.
func (b *Backend) LossDx(kind tensor.LossKind, output, target, result *tensor.Tensor) error {
	if !kind.Valid() {
		return fmt.Errorf("loss dx: %w: %v", tensor.ErrInvalidArgument, kind)
	}
	op := kind.String() + " dx"
	if err := b.check(op, []*tensor.Tensor{output, target}, result); err != nil {
		return err
	}
	if err := tensor.SameShape(op, output, target); err != nil {
		return err
	}
	s := output.Shape()
	if err := tensor.PrepareResult(op, result, s); err != nil {
		return err
	}
	bufs, err := b.buffers(op, result, output, target)
	if err != nil {
		return err
	}
	n := s.Size()
	if kind == tensor.CrossEntropy {
		return b.launch(op, KernelCrossEntropyBackward, n, bufs, i32(n))
	}
	return b.launch(op, KernelMSEBackward, n, bufs, i32(n), i32(s.PerBatch()))
}
