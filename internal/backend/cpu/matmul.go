package cpu

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/born-ml/convnet/internal/kernels"
	"github.com/born-ml/convnet/internal/tensor"
)

// Dot2D performs a per-batch matrix multiplication.
//
// Each batch item of a is an (H × W) matrix; b is either one matrix shared by
// every batch item or one per item. Result shape: (a.B, 1, a.H, b.W).
// Uses gonum's SGEMM.
func (cpu *CPUBackend) Dot2D(a, b, result *tensor.Tensor) error {
	if err := cpu.check("dot2d", []*tensor.Tensor{a, b}, result); err != nil {
		return err
	}
	as, bs := a.Shape(), b.Shape()
	out, err := tensor.Dot2DShape(as, bs)
	if err != nil {
		return err
	}
	if err := tensor.PrepareResult("dot2d", result, out); err != nil {
		return err
	}
	r, err := raw("dot2d", result, a, b)
	if err != nil {
		return err
	}

	m, k, n := as.Height, as.Width, bs.Width
	cpu.perBatch(as.Batch, func(b0, _ int) {
		bOff := 0
		if bs.Batch > 1 {
			bOff = b0 * k * n
		}
		matmulFloat32(
			r[0][b0*m*n:(b0+1)*m*n],
			r[1][b0*m*k:(b0+1)*m*k],
			r[2][bOff:bOff+k*n],
			m, k, n,
		)
	})
	return nil
}

// matmulFloat32 computes C = A·B for row-major matrices with SGEMM.
func matmulFloat32(c, a, b []float32, m, k, n int) {
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		blas32.General{Rows: m, Cols: k, Stride: k, Data: a},
		blas32.General{Rows: k, Cols: n, Stride: n, Data: b},
		0,
		blas32.General{Rows: m, Cols: n, Stride: n, Data: c},
	)
}

// Transpose writes the per-batch transpose of a into result (B, 1, W, H).
func (cpu *CPUBackend) Transpose(a, result *tensor.Tensor) error {
	if err := cpu.check("transpose", []*tensor.Tensor{a}, result); err != nil {
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
	r, err := raw("transpose", result, a)
	if err != nil {
		return err
	}
	plane := as.Plane()
	cpu.perBatch(as.Batch, func(b0, _ int) {
		kernels.Transpose(r[0][b0*plane:(b0+1)*plane], r[1][b0*plane:(b0+1)*plane], as.Height, as.Width)
	})
	return nil
}
