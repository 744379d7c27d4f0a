package device

import (
	"fmt"

	"github.com/born-ml/convnet/internal/tensor"
)

// Backend implements tensor.Ops by launching catalog kernels on a Launcher.
//
// Every operation validates its operands on the host, allocates its result
// if absent, then enqueues one or more kernels and returns without waiting.
// Errors raised by a kernel while it runs surface from Synchronize or from
// the next Data call.
type Backend struct {
	launcher Launcher
}

// Compile-time check that Backend implements tensor.Ops.
var _ tensor.Ops = (*Backend)(nil)

// New creates a device backend on launcher.
func New(launcher Launcher) *Backend {
	return &Backend{launcher: launcher}
}

// Launcher returns the underlying stream.
func (b *Backend) Launcher() Launcher {
	return b.launcher
}

// Name returns the backend name.
func (b *Backend) Name() string {
	return "Device (" + b.launcher.Name() + ")"
}

// Device returns tensor.Accelerator.
func (b *Backend) Device() tensor.Device {
	return tensor.Accelerator
}

// NewStorage returns an unallocated device storage.
func (b *Backend) NewStorage() tensor.Storage {
	return NewStorage(b.launcher)
}

// Synchronize waits for every enqueued kernel.
func (b *Backend) Synchronize() error {
	return b.launcher.Synchronize()
}

// Close drains the stream and releases the device.
func (b *Backend) Close() error {
	return b.launcher.Close()
}

// check runs the common prologue of every operation: operands must be
// non-nil device tensors and inputs must be allocated.
func (b *Backend) check(op string, inputs []*tensor.Tensor, results ...*tensor.Tensor) error {
	if err := tensor.CheckOperands(b, op, inputs...); err != nil {
		return err
	}
	if err := tensor.CheckOperands(b, op, results...); err != nil {
		return err
	}
	return tensor.CheckAllocated(op, inputs...)
}

// buffers returns the device buffers of allocated tensors.
func (b *Backend) buffers(op string, ts ...*tensor.Tensor) ([]any, error) {
	out := make([]any, len(ts))
	for i, t := range ts {
		s, ok := t.Storage().(*Storage)
		if !ok || s.launcher != b.launcher {
			return nil, fmt.Errorf("%s: %w: operand %d has storage %T", op, tensor.ErrUnsupportedStorage, i, t.Storage())
		}
		out[i] = s.buf
	}
	return out, nil
}

// launch enqueues kernel over threads threads with buffers followed by scalars.
func (b *Backend) launch(op, kernel string, threads int, bufs []any, scalars ...any) error {
	grid, block := LaunchDims(threads)
	args := append(bufs, scalars...)
	if err := b.launcher.Launch(kernel, grid, block, 0, args...); err != nil {
		return fmt.Errorf("%s: %s: %w", op, kernel, err)
	}
	return nil
}

func i32(v int) int32 {
	return int32(v) //nolint:gosec // G115: shapes are bounded by tensor.MaxElements
}
