package tensor

// Device identifies the backend that owns a storage buffer.
type Device int

// Supported devices.
const (
	// Host is main memory driven by the CPU backend.
	Host Device = iota
	// Accelerator is device memory driven through kernel launches.
	Accelerator
)

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case Host:
		return "Host"
	case Accelerator:
		return "Accelerator"
	default:
		return "Unknown"
	}
}

// Storage owns the raw float32 buffer behind a Tensor.
//
// A Storage is either unallocated (no buffer, zero shape) or allocated with
// exactly Shape().Size() elements. Allocation is idempotent: the engine calls
// Allocate on every result buffer and relies on it being a no-op after the
// first call.
//
// Get and Set take flat offsets and are not bounds-checked beyond what the Go
// runtime enforces.
type Storage interface {
	// Device returns the backend owning this buffer.
	Device() Device

	// Allocated reports whether a buffer is present.
	Allocated() bool

	// Shape returns the current shape (zero when unallocated).
	Shape() Shape

	// Allocate creates a zero-filled buffer for shape if none exists yet.
	Allocate(shape Shape) error

	// Reshape reinterprets the buffer under a shape of the same size, in place.
	Reshape(shape Shape) error

	// View returns a second Storage aliasing the same buffer under shape.
	View(shape Shape) (Storage, error)

	// SetData overwrites the whole buffer. len(data) must equal Shape().Size().
	SetData(data []float32) error

	// Data returns a host copy of the buffer contents.
	Data() ([]float32, error)

	// Get reads one element at a flat offset.
	Get(offset int) float32

	// Set writes one element at a flat offset.
	Set(offset int, value float32)
}
