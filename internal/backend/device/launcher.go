// Package device implements tensor.Ops as named kernel launches on one
// ordered stream. The stream itself is a Launcher: a WebGPU device, or the
// in-process emulator used by tests and GPU-less machines.
package device

import "errors"

// Launch errors.
var (
	// ErrUnknownKernel reports a Launch of a name missing from the catalog.
	ErrUnknownKernel = errors.New("unknown kernel")

	// ErrKernelFault reports a kernel that failed while running on the stream.
	ErrKernelFault = errors.New("kernel fault")

	// ErrClosed reports use of a launcher after Close.
	ErrClosed = errors.New("launcher closed")
)

// Dim is a 3-D launch extent.
type Dim struct {
	X, Y, Z int
}

// Buffer is an opaque handle to device memory holding float32 elements.
type Buffer interface {
	// Len returns the element count.
	Len() int
}

// Launcher is one ordered device stream.
//
// Launch and Upload enqueue work and may return before it runs; operations
// run in submission order. Download and Synchronize wait for every earlier
// operation. A kernel failure is sticky: it is returned by the next
// Synchronize or Download, and later work is dropped.
//
// Kernel arguments are Buffers followed by scalars of type int32 or float32,
// in the order documented by the kernel catalog.
//
// A buffer lives until Free or Close. Storage never reallocates or frees its
// buffer, so the tensors of a network form an arena that is released when
// the launcher is closed.
type Launcher interface {
	// Name returns a human-readable device name.
	Name() string

	// Alloc returns a zero-filled buffer of n elements.
	Alloc(n int) (Buffer, error)

	// Free releases a buffer once the stream no longer uses it.
	Free(b Buffer)

	// Upload copies src into dst starting at element offset.
	Upload(dst Buffer, offset int, src []float32) error

	// Download copies len(dst) elements of src starting at offset into dst.
	Download(dst []float32, src Buffer, offset int) error

	// Launch enqueues a catalog kernel.
	Launch(kernel string, grid, block Dim, sharedMem int, args ...any) error

	// Synchronize blocks until every enqueued operation has completed.
	Synchronize() error

	// Close drains the stream and releases the device.
	Close() error
}

// BlockSize is the number of threads per block for every kernel.
const BlockSize = 256

// MaxGridX is the largest grid extent along x; larger grids fold into y.
const MaxGridX = 65535

// LaunchDims returns the grid and block that cover n threads.
func LaunchDims(n int) (grid, block Dim) {
	blocks := max((n+BlockSize-1)/BlockSize, 1)
	grid = Dim{X: blocks, Y: 1, Z: 1}
	if blocks > MaxGridX {
		grid.X = MaxGridX
		grid.Y = (blocks + MaxGridX - 1) / MaxGridX
	}
	return grid, Dim{X: BlockSize, Y: 1, Z: 1}
}
