package cpu

import (
	"github.com/born-ml/convnet/internal/kernels"
	"github.com/born-ml/convnet/internal/tensor"
)

// Update applies one optimizer rule to weights in place, reading gradients
// and reading/writing the rule's auxiliary state tensors.
func (cpu *CPUBackend) Update(u tensor.Update, weights, gradients *tensor.Tensor, aux ...*tensor.Tensor) error {
	operands := append([]*tensor.Tensor{weights, gradients}, aux...)
	if err := tensor.CheckUpdate(u, len(aux)); err != nil {
		return err
	}
	if err := cpu.check("update", operands); err != nil {
		return err
	}
	if err := tensor.SameShape("update", operands...); err != nil {
		return err
	}
	r, err := raw("update", operands...)
	if err != nil {
		return err
	}
	cpu.elementwise(len(r[0]), func(lo, hi int) {
		state := make([][]float32, len(aux))
		for i := range aux {
			state[i] = r[2+i][lo:hi]
		}
		kernels.ApplyUpdate(u, r[0][lo:hi], r[1][lo:hi], state)
	})
	return nil
}
