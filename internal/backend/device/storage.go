package device

import (
	"fmt"

	"github.com/born-ml/convnet/internal/tensor"
)

// Storage is a tensor.Storage backed by a device buffer.
//
// Get and Set are synchronous single-element transfers and panic if the
// stream has failed; use Data and SetData for bulk access.
type Storage struct {
	launcher Launcher
	buf      Buffer
	shape    tensor.Shape
}

// NewStorage returns an unallocated storage on launcher.
func NewStorage(launcher Launcher) *Storage {
	return &Storage{launcher: launcher}
}

// Device returns tensor.Accelerator.
func (s *Storage) Device() tensor.Device {
	return tensor.Accelerator
}

// Allocated reports whether a buffer is present.
func (s *Storage) Allocated() bool {
	return s.buf != nil
}

// Shape returns the current shape.
func (s *Storage) Shape() tensor.Shape {
	return s.shape
}

// Buffer returns the device buffer, nil when unallocated.
func (s *Storage) Buffer() Buffer {
	return s.buf
}

// Allocate reserves a zeroed device buffer for shape unless one exists.
func (s *Storage) Allocate(shape tensor.Shape) error {
	if s.buf != nil {
		return nil
	}
	if err := shape.Validate(); err != nil {
		return fmt.Errorf("allocate: %w", err)
	}
	buf, err := s.launcher.Alloc(shape.Size())
	if err != nil {
		return fmt.Errorf("allocate %v: %w", shape, err)
	}
	s.buf = buf
	s.shape = shape
	return nil
}

// Reshape reinterprets the buffer under a same-size shape.
func (s *Storage) Reshape(shape tensor.Shape) error {
	if s.buf == nil {
		return fmt.Errorf("reshape: %w: storage is not allocated", tensor.ErrInvalidArgument)
	}
	if shape.Size() != s.shape.Size() {
		return fmt.Errorf("reshape: %w: %v -> %v", tensor.ErrShapeMismatch, s.shape, shape)
	}
	if err := shape.Validate(); err != nil {
		return fmt.Errorf("reshape: %w", err)
	}
	s.shape = shape
	return nil
}

// View returns a storage sharing the device buffer under shape.
func (s *Storage) View(shape tensor.Shape) (tensor.Storage, error) {
	if s.buf == nil {
		return nil, fmt.Errorf("view: %w: storage is not allocated", tensor.ErrInvalidArgument)
	}
	if shape.Size() != s.shape.Size() {
		return nil, fmt.Errorf("view: %w: %v -> %v", tensor.ErrShapeMismatch, s.shape, shape)
	}
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("view: %w", err)
	}
	return &Storage{launcher: s.launcher, buf: s.buf, shape: shape}, nil
}

// SetData uploads data into the buffer.
func (s *Storage) SetData(data []float32) error {
	if s.buf == nil {
		return fmt.Errorf("set data: %w: storage is not allocated", tensor.ErrInvalidArgument)
	}
	if len(data) != s.shape.Size() {
		return fmt.Errorf("set data: %w: %d values for %v", tensor.ErrShapeMismatch, len(data), s.shape)
	}
	return s.launcher.Upload(s.buf, 0, data)
}

// Data waits for the stream and copies the buffer to the host.
func (s *Storage) Data() ([]float32, error) {
	if s.buf == nil {
		return nil, fmt.Errorf("data: %w: storage is not allocated", tensor.ErrInvalidArgument)
	}
	out := make([]float32, s.shape.Size())
	if err := s.launcher.Download(out, s.buf, 0); err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}
	return out, nil
}

// Get reads the element at offset.
func (s *Storage) Get(offset int) float32 {
	var v [1]float32
	if err := s.launcher.Download(v[:], s.buf, offset); err != nil {
		panic(fmt.Sprintf("device: get %d: %v", offset, err))
	}
	return v[0]
}

// Set writes the element at offset.
func (s *Storage) Set(offset int, value float32) {
	if err := s.launcher.Upload(s.buf, offset, []float32{value}); err != nil {
		panic(fmt.Sprintf("device: set %d: %v", offset, err))
	}
}
