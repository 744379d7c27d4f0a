package cpu

import (
	"fmt"

	"github.com/born-ml/convnet/internal/tensor"
)

// HostStorage is a tensor.Storage backed by a Go slice.
type HostStorage struct {
	shape tensor.Shape
	data  []float32
}

// NewStorage returns an unallocated host storage.
func NewStorage() *HostStorage {
	return &HostStorage{}
}

// Device returns tensor.Host.
func (s *HostStorage) Device() tensor.Device {
	return tensor.Host
}

// Allocated reports whether the slice exists.
func (s *HostStorage) Allocated() bool {
	return s.data != nil
}

// Shape returns the current shape.
func (s *HostStorage) Shape() tensor.Shape {
	return s.shape
}

// Allocate creates a zeroed slice for shape unless one exists.
func (s *HostStorage) Allocate(shape tensor.Shape) error {
	if s.data != nil {
		return nil
	}
	if err := shape.Validate(); err != nil {
		return fmt.Errorf("allocate: %w", err)
	}
	s.data = make([]float32, shape.Size())
	s.shape = shape
	return nil
}

// Reshape reinterprets the slice under a same-size shape.
func (s *HostStorage) Reshape(shape tensor.Shape) error {
	if s.data == nil {
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

// View returns a storage sharing the slice under shape.
func (s *HostStorage) View(shape tensor.Shape) (tensor.Storage, error) {
	if s.data == nil {
		return nil, fmt.Errorf("view: %w: storage is not allocated", tensor.ErrInvalidArgument)
	}
	if shape.Size() != s.shape.Size() {
		return nil, fmt.Errorf("view: %w: %v -> %v", tensor.ErrShapeMismatch, s.shape, shape)
	}
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("view: %w", err)
	}
	return &HostStorage{shape: shape, data: s.data}, nil
}

// SetData copies data into the slice.
func (s *HostStorage) SetData(data []float32) error {
	if s.data == nil {
		return fmt.Errorf("set data: %w: storage is not allocated", tensor.ErrInvalidArgument)
	}
	if len(data) != len(s.data) {
		return fmt.Errorf("set data: %w: %d values for %v", tensor.ErrShapeMismatch, len(data), s.shape)
	}
	copy(s.data, data)
	return nil
}

// Data returns a copy of the contents.
func (s *HostStorage) Data() ([]float32, error) {
	if s.data == nil {
		return nil, fmt.Errorf("data: %w: storage is not allocated", tensor.ErrInvalidArgument)
	}
	out := make([]float32, len(s.data))
	copy(out, s.data)
	return out, nil
}

// Raw returns the backing slice without copying.
//
// WARNING: writes through the returned slice modify the tensor.
func (s *HostStorage) Raw() []float32 {
	return s.data
}

// Get reads the element at offset.
func (s *HostStorage) Get(offset int) float32 {
	return s.data[offset]
}

// Set writes the element at offset.
func (s *HostStorage) Set(offset int, value float32) {
	s.data[offset] = value
}
