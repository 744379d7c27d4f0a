// Package cpu implements the host backend: straight loops over Go slices,
// parallel over the batch axis, with dense products through gonum BLAS.
package cpu

import (
	"fmt"

	"github.com/born-ml/convnet/internal/parallel"
	"github.com/born-ml/convnet/internal/tensor"
)

// CPUBackend implements tensor.Ops on host memory.
type CPUBackend struct {
	parallel parallel.Config
}

// Compile-time check that CPUBackend implements tensor.Ops.
var _ tensor.Ops = (*CPUBackend)(nil)

// New creates a CPU backend with the default parallel configuration.
func New() *CPUBackend {
	return NewWithConfig(parallel.DefaultConfig())
}

// NewWithConfig creates a CPU backend with an explicit parallel configuration.
func NewWithConfig(cfg parallel.Config) *CPUBackend {
	return &CPUBackend{parallel: cfg}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Device returns tensor.Host.
func (cpu *CPUBackend) Device() tensor.Device {
	return tensor.Host
}

// NewStorage returns an unallocated host storage.
func (cpu *CPUBackend) NewStorage() tensor.Storage {
	return NewStorage()
}

// Synchronize is a no-op: host operations complete before returning.
func (cpu *CPUBackend) Synchronize() error {
	return nil
}

// raw returns the backing slices of allocated host tensors.
func raw(op string, ts ...*tensor.Tensor) ([][]float32, error) {
	out := make([][]float32, len(ts))
	for i, t := range ts {
		hs, ok := t.Storage().(*HostStorage)
		if !ok {
			return nil, fmt.Errorf("%s: %w: operand %d has storage %T", op, tensor.ErrUnsupportedStorage, i, t.Storage())
		}
		out[i] = hs.data
	}
	return out, nil
}

// check runs the common prologue of every operation: operands must be
// non-nil host tensors and inputs must be allocated. Results are allocated
// afterwards with tensor.PrepareResult once their shape is inferred.
func (cpu *CPUBackend) check(op string, inputs []*tensor.Tensor, results ...*tensor.Tensor) error {
	if err := tensor.CheckOperands(cpu, op, inputs...); err != nil {
		return err
	}
	if err := tensor.CheckOperands(cpu, op, results...); err != nil {
		return err
	}
	return tensor.CheckAllocated(op, inputs...)
}

// elementwise splits [0, n) across workers.
func (cpu *CPUBackend) elementwise(n int, f func(lo, hi int)) {
	parallel.ForRange(n, f, cpu.parallel)
}

// perBatch runs f once per batch item.
func (cpu *CPUBackend) perBatch(batch int, f func(b0, b1 int)) {
	parallel.For(batch, func(b int) { f(b, b+1) }, cpu.parallel)
}
