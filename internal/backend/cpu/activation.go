package cpu

import (
	"fmt"

	"github.com/born-ml/convnet/internal/kernels"
	"github.com/born-ml/convnet/internal/tensor"
)

// Activation applies kind elementwise to x.
func (cpu *CPUBackend) Activation(kind tensor.ActivationKind, x, result *tensor.Tensor) error {
	if !kind.Valid() {
		return fmt.Errorf("activation: %w: %v", tensor.ErrInvalidArgument, kind)
	}
	if err := cpu.check(kind.String(), []*tensor.Tensor{x}, result); err != nil {
		return err
	}
	if err := tensor.PrepareResult(kind.String(), result, x.Shape()); err != nil {
		return err
	}
	r, err := raw(kind.String(), result, x)
	if err != nil {
		return err
	}
	cpu.elementwise(len(r[0]), func(lo, hi int) {
		kernels.Activation(kind, r[0][lo:hi], r[1][lo:hi])
	})
	return nil
}

// ActivationDx writes f'(x) * dy into result. y is the forward output.
func (cpu *CPUBackend) ActivationDx(kind tensor.ActivationKind, x, y, dy, result *tensor.Tensor) error {
	op := kind.String() + " dx"
	if !kind.Valid() {
		return fmt.Errorf("activation dx: %w: %v", tensor.ErrInvalidArgument, kind)
	}
	if err := cpu.check(op, []*tensor.Tensor{x, y, dy}, result); err != nil {
		return err
	}
	if err := tensor.SameShape(op, x, y, dy); err != nil {
		return err
	}
	if err := tensor.PrepareResult(op, result, x.Shape()); err != nil {
		return err
	}
	r, err := raw(op, result, x, y, dy)
	if err != nil {
		return err
	}
	cpu.elementwise(len(r[0]), func(lo, hi int) {
		kernels.ActivationDx(kind, r[0][lo:hi], r[1][lo:hi], r[2][lo:hi], r[3][lo:hi])
	})
	return nil
}

// Softmax normalizes every batch row of x. rowMax receives the per-row
// maximum used for numerical stability.
func (cpu *CPUBackend) Softmax(x, rowMax, result *tensor.Tensor) error {
	if err := cpu.check("softmax", []*tensor.Tensor{x}, rowMax, result); err != nil {
		return err
	}
	if err := cpu.Max(x, rowMax); err != nil {
		return fmt.Errorf("softmax: %w", err)
	}
	s := x.Shape()
	if err := tensor.PrepareResult("softmax", result, s); err != nil {
		return err
	}
	r, err := raw("softmax", result, x, rowMax)
	if err != nil {
		return err
	}
	cols := s.PerBatch()
	cpu.perBatch(s.Batch, func(b0, b1 int) {
		kernels.Softmax(r[0][b0*cols:b1*cols], r[1][b0*cols:b1*cols], r[2][b0:b1], b1-b0, cols)
	})
	return nil
}

// SoftmaxDx multiplies dy by the softmax Jacobian of every row of y.
func (cpu *CPUBackend) SoftmaxDx(y, dy, result *tensor.Tensor) error {
	if err := cpu.check("softmax dx", []*tensor.Tensor{y, dy}, result); err != nil {
		return err
	}
	if err := tensor.SameShape("softmax dx", y, dy); err != nil {
		return err
	}
	s := y.Shape()
	if err := tensor.PrepareResult("softmax dx", result, s); err != nil {
		return err
	}
	r, err := raw("softmax dx", result, y, dy)
	if err != nil {
		return err
	}
	cols := s.PerBatch()
	cpu.perBatch(s.Batch, func(b0, b1 int) {
		kernels.SoftmaxDx(r[0][b0*cols:b1*cols], r[1][b0*cols:b1*cols], r[2][b0*cols:b1*cols], b1-b0, cols)
	})
	return nil
}

// Loss writes the per-row loss of output against target into result (B, 1, 1, 1).
func (cpu *CPUBackend) Loss(kind tensor.LossKind, output, target, result *tensor.Tensor) error {
	if !kind.Valid() {
		return fmt.Errorf("loss: %w: %v", tensor.ErrInvalidArgument, kind)
	}
	op := kind.String()
	if err := cpu.check(op, []*tensor.Tensor{output, target}, result); err != nil {
		return err
	}
	if err := tensor.SameShape(op, output, target); err != nil {
		return err
	}
	s := output.Shape()
	if err := tensor.PrepareResult(op, result, tensor.RowShape(s)); err != nil {
		return err
	}
	r, err := raw(op, result, output, target)
	if err != nil {
		return err
	}
	rows, cols := s.Batch, s.PerBatch()
	switch kind {
	case tensor.CrossEntropy:
		kernels.CrossEntropy(r[0], r[1], r[2], rows, cols, tensor.CrossEntropyEpsilon)
	case tensor.MSE:
		kernels.MSE(r[0], r[1], r[2], rows, cols)
	}
	return nil
}

// LossDx writes the derivative of the loss with respect to output.
func (cpu *CPUBackend) LossDx(kind tensor.LossKind, output, target, result *tensor.Tensor) error {
	if !kind.Valid() {
		return fmt.Errorf("loss dx: %w: %v", tensor.ErrInvalidArgument, kind)
	}
	op := kind.String() + " dx"
	if err := cpu.check(op, []*tensor.Tensor{output, target}, result); err != nil {
		return err
	}
	if err := tensor.SameShape(op, output, target); err != nil {
		return err
	}
	s := output.Shape()
	if err := tensor.PrepareResult(op, result, s); err != nil {
		return err
	}
	r, err := raw(op, result, output, target)
	if err != nil {
		return err
	}
	switch kind {
	case tensor.CrossEntropy:
		kernels.CrossEntropyDx(r[0], r[1], r[2])
	case tensor.MSE:
		kernels.MSEDx(r[0], r[1], r[2], s.PerBatch())
	}
	return nil
}
