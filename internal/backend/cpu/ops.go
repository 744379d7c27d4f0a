package cpu

import (
	"github.com/born-ml/convnet/internal/kernels"
	"github.com/born-ml/convnet/internal/tensor"
)

// Fill sets every element of t to value.
func (cpu *CPUBackend) Fill(t *tensor.Tensor, value float32) error {
	if err := cpu.check("fill", []*tensor.Tensor{t}); err != nil {
		return err
	}
	r, err := raw("fill", t)
	if err != nil {
		return err
	}
	cpu.elementwise(len(r[0]), func(lo, hi int) {
		kernels.Fill(r[0][lo:hi], value)
	})
	return nil
}

// Copy copies src into dst, allocating dst with src's shape if needed.
func (cpu *CPUBackend) Copy(dst, src *tensor.Tensor) error {
	if err := cpu.check("copy", []*tensor.Tensor{src}, dst); err != nil {
		return err
	}
	if err := tensor.PrepareResult("copy", dst, src.Shape()); err != nil {
		return err
	}
	r, err := raw("copy", dst, src)
	if err != nil {
		return err
	}
	kernels.Copy(r[0], r[1])
	return nil
}

// Add writes a + b into result.
func (cpu *CPUBackend) Add(a, b, result *tensor.Tensor) error {
	if err := cpu.check("add", []*tensor.Tensor{a, b}, result); err != nil {
		return err
	}
	if err := tensor.SameShape("add", a, b); err != nil {
		return err
	}
	if err := tensor.PrepareResult("add", result, a.Shape()); err != nil {
		return err
	}
	r, err := raw("add", result, a, b)
	if err != nil {
		return err
	}
	cpu.elementwise(len(r[0]), func(lo, hi int) {
		kernels.Add(r[0][lo:hi], r[1][lo:hi], r[2][lo:hi])
	})
	return nil
}

// Accumulate adds src into dst. An unallocated dst starts from zero.
func (cpu *CPUBackend) Accumulate(dst, src *tensor.Tensor) error {
	if err := cpu.check("accumulate", []*tensor.Tensor{src}, dst); err != nil {
		return err
	}
	if err := tensor.PrepareResult("accumulate", dst, src.Shape()); err != nil {
		return err
	}
	r, err := raw("accumulate", dst, src)
	if err != nil {
		return err
	}
	cpu.elementwise(len(r[0]), func(lo, hi int) {
		kernels.Accumulate(r[0][lo:hi], r[1][lo:hi])
	})
	return nil
}

// Max writes the maximum of each batch row into result (B, 1, 1, 1).
func (cpu *CPUBackend) Max(a, result *tensor.Tensor) error {
	return cpu.reduceRows("max", a, result, kernels.MaxRows)
}

// Sum writes the sum of each batch row into result (B, 1, 1, 1).
func (cpu *CPUBackend) Sum(a, result *tensor.Tensor) error {
	return cpu.reduceRows("sum", a, result, kernels.SumRows)
}

func (cpu *CPUBackend) reduceRows(op string, a, result *tensor.Tensor, reduce func(dst, src []float32, rows, cols int)) error {
	if err := cpu.check(op, []*tensor.Tensor{a}, result); err != nil {
		return err
	}
	s := a.Shape()
	if err := tensor.PrepareResult(op, result, tensor.RowShape(s)); err != nil {
		return err
	}
	r, err := raw(op, result, a)
	if err != nil {
		return err
	}
	cols := s.PerBatch()
	cpu.perBatch(s.Batch, func(b0, b1 int) {
		reduce(r[0][b0:b1], r[1][b0*cols:b1*cols], b1-b0, cols)
	})
	return nil
}
