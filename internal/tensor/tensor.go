// Package tensor provides the 4-axis tensor, its storage contract, the
// operation vocabulary shared by all backends, and the error taxonomy.
package tensor

import "fmt"

// Tensor is a typed view over one Storage plus the backend that operates on it.
//
// A Tensor does not hold a shape of its own: Shape() is the storage's shape.
// Tensors are created once per buffer role (layer output, weight gradient, ...)
// and reused across iterations; results allocate lazily on first use.
type Tensor struct {
	storage Storage
	ops     Ops
}

// New creates an unallocated tensor owned by ops.
func New(ops Ops) *Tensor {
	return &Tensor{storage: ops.NewStorage(), ops: ops}
}

// Zeros creates an allocated, zero-filled tensor.
func Zeros(ops Ops, shape Shape) (*Tensor, error) {
	t := New(ops)
	if err := t.Allocate(shape); err != nil {
		return nil, err
	}
	return t, nil
}

// FromSlice creates an allocated tensor holding a copy of data.
func FromSlice(ops Ops, shape Shape, data []float32) (*Tensor, error) {
	t, err := Zeros(ops, shape)
	if err != nil {
		return nil, err
	}
	if err := t.SetData(data); err != nil {
		return nil, err
	}
	return t, nil
}

// Wrap binds an existing storage to ops.
func Wrap(ops Ops, storage Storage) *Tensor {
	return &Tensor{storage: storage, ops: ops}
}

// Ops returns the backend this tensor belongs to.
func (t *Tensor) Ops() Ops {
	return t.ops
}

// Storage returns the underlying storage.
func (t *Tensor) Storage() Storage {
	return t.storage
}

// Shape returns the storage shape (zero when unallocated).
func (t *Tensor) Shape() Shape {
	return t.storage.Shape()
}

// Size returns the number of elements.
func (t *Tensor) Size() int {
	return t.storage.Shape().Size()
}

// Allocated reports whether the storage holds a buffer.
func (t *Tensor) Allocated() bool {
	return t.storage.Allocated()
}

// Allocate allocates the storage for shape if it is not allocated yet.
func (t *Tensor) Allocate(shape Shape) error {
	return t.storage.Allocate(shape)
}

// Reshape reinterprets the buffer under a same-size shape, in place.
func (t *Tensor) Reshape(shape Shape) error {
	return t.storage.Reshape(shape)
}

// View returns a tensor sharing this tensor's buffer under a same-size shape.
func (t *Tensor) View(shape Shape) (*Tensor, error) {
	s, err := t.storage.View(shape)
	if err != nil {
		return nil, err
	}
	return &Tensor{storage: s, ops: t.ops}, nil
}

// SetData overwrites the buffer with data.
func (t *Tensor) SetData(data []float32) error {
	return t.storage.SetData(data)
}

// Data returns a host copy of the contents.
func (t *Tensor) Data() ([]float32, error) {
	return t.storage.Data()
}

// At returns the element at flat index i.
func (t *Tensor) At(i int) float32 {
	return t.storage.Get(i)
}

// At2 returns the element at (i, j) of the trailing matrix.
func (t *Tensor) At2(i, j int) float32 {
	return t.storage.Get(t.Shape().Index2(i, j))
}

// At3 returns the element at (c, i, j).
func (t *Tensor) At3(c, i, j int) float32 {
	return t.storage.Get(t.Shape().Index3(c, i, j))
}

// At4 returns the element at (b, c, i, j).
func (t *Tensor) At4(b, c, i, j int) float32 {
	return t.storage.Get(t.Shape().Index4(b, c, i, j))
}

// Set writes the element at flat index i.
func (t *Tensor) Set(i int, v float32) {
	t.storage.Set(i, v)
}

// Set2 writes the element at (i, j).
func (t *Tensor) Set2(i, j int, v float32) {
	t.storage.Set(t.Shape().Index2(i, j), v)
}

// Set3 writes the element at (c, i, j).
func (t *Tensor) Set3(c, i, j int, v float32) {
	t.storage.Set(t.Shape().Index3(c, i, j), v)
}

// Set4 writes the element at (b, c, i, j).
func (t *Tensor) Set4(b, c, i, j int, v float32) {
	t.storage.Set(t.Shape().Index4(b, c, i, j), v)
}

// String returns a short description.
func (t *Tensor) String() string {
	if !t.Allocated() {
		return fmt.Sprintf("Tensor[unallocated] on %s", t.ops.Name())
	}
	return fmt.Sprintf("Tensor[%v] on %s", t.Shape(), t.ops.Name())
}

// Operation methods. Each delegates to the owning backend.

// Fill sets every element to v.
func (t *Tensor) Fill(v float32) error { return t.ops.Fill(t, v) }

// Zero sets every element to 0.
func (t *Tensor) Zero() error { return t.ops.Fill(t, 0) }

// CopyFrom copies src into t.
func (t *Tensor) CopyFrom(src *Tensor) error { return t.ops.Copy(t, src) }

// Add writes t + other into result.
func (t *Tensor) Add(other, result *Tensor) error { return t.ops.Add(t, other, result) }

// Accumulate adds src into t.
func (t *Tensor) Accumulate(src *Tensor) error { return t.ops.Accumulate(t, src) }

// Dot2D writes the per-batch matrix product t·other into result.
func (t *Tensor) Dot2D(other, result *Tensor) error { return t.ops.Dot2D(t, other, result) }

// Transpose writes the per-batch matrix transpose of t into result.
func (t *Tensor) Transpose(result *Tensor) error { return t.ops.Transpose(t, result) }

// Max writes each batch row's maximum into result.
func (t *Tensor) Max(result *Tensor) error { return t.ops.Max(t, result) }

// Sum writes each batch row's sum into result.
func (t *Tensor) Sum(result *Tensor) error { return t.ops.Sum(t, result) }

// Pad writes a zero-padded copy of t into result.
func (t *Tensor) Pad(pad Padding, result *Tensor) error { return t.ops.Pad(t, pad, 1, result) }

// Im2Col unfolds receptive fields of t into result columns.
func (t *Tensor) Im2Col(kernelH, kernelW, stride int, result *Tensor) error {
	return t.ops.Im2Col(t, kernelH, kernelW, stride, result)
}

// Col2Im folds columns of t back into an NCHW tensor of the given shape.
func (t *Tensor) Col2Im(shape Shape, result *Tensor) error { return t.ops.Col2Im(t, shape, result) }

// MaxPool pools t into result and records argmax offsets into index.
func (t *Tensor) MaxPool(kernel, stride int, result, index *Tensor) error {
	return t.ops.MaxPool(t, kernel, stride, result, index)
}

// Softmax writes the per-row softmax of t into result, using rowMax as scratch.
func (t *Tensor) Softmax(rowMax, result *Tensor) error { return t.ops.Softmax(t, rowMax, result) }

// Flatten returns a view of t shaped (B, 1, 1, size/B).
func (t *Tensor) Flatten() (*Tensor, error) { return Flatten(t) }

// Flatten returns a view of x shaped (B, 1, 1, C*H*W). No data is copied.
func Flatten(x *Tensor) (*Tensor, error) {
	if x == nil {
		return nil, fmt.Errorf("flatten: %w: nil tensor", ErrInvalidArgument)
	}
	s := x.Shape()
	return x.View(NewShape(s.Batch, 1, 1, s.PerBatch()))
}

// FlattenDx returns a view of dy under the pre-flatten shape. No data is copied.
func FlattenDx(dy *Tensor, shape Shape) (*Tensor, error) {
	if dy == nil {
		return nil, fmt.Errorf("flatten dx: %w: nil tensor", ErrInvalidArgument)
	}
	return dy.View(shape)
}
