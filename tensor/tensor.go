// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public API of the convnet tensor engine.
//
// Every tensor is a 4-axis float32 array in NCHW order (batch, channels,
// height, width) bound to the backend (Ops) that owns its storage:
//   - Tensor: shape, storage and element accessors
//   - Ops: the backend contract (CPU or device)
//   - Shape, Padding, ActivationKind, LossKind, Update: operation parameters
//
// Operations never allocate silently on a mismatched result: a result tensor
// without storage is allocated to the inferred shape, an allocated one must
// already have it.
//
// Example:
//
//	ops := cpu.New()
//	a, _ := tensor.FromSlice(ops, tensor.NewShape(1, 1, 2, 3), []float32{1, 2, 3, 4, 5, 6})
//	b, _ := tensor.FromSlice(ops, tensor.NewShape(1, 1, 3, 1), []float32{1, 0, 1})
//	c := tensor.New(ops)
//	_ = a.Dot2D(b, c) // c is (1, 1, 2, 1) = [4, 10]
package tensor

import (
	"github.com/born-ml/convnet/internal/tensor"
)

// Tensor is a 4-axis float32 array bound to a backend.
type Tensor = tensor.Tensor

// Shape is the (batch, channels, height, width) extent of a tensor.
type Shape = tensor.Shape

// Ops is the contract every backend implements.
type Ops = tensor.Ops

// Storage owns the raw buffer behind a Tensor.
type Storage = tensor.Storage

// Device identifies the backend that owns a storage buffer.
type Device = tensor.Device

// Device constants.
const (
	Host        Device = tensor.Host
	Accelerator Device = tensor.Accelerator
)

// Padding is the number of zero rows/columns added on each side of a feature map.
type Padding = tensor.Padding

// ActivationKind selects an elementwise nonlinearity.
type ActivationKind = tensor.ActivationKind

// Activation constants.
const (
	ReLU      ActivationKind = tensor.ReLU
	LeakyReLU ActivationKind = tensor.LeakyReLU
	Sigmoid   ActivationKind = tensor.Sigmoid
	Tanh      ActivationKind = tensor.Tanh
)

// LossKind selects a per-row loss function.
type LossKind = tensor.LossKind

// Loss constants.
const (
	CrossEntropy LossKind = tensor.CrossEntropy
	MSE          LossKind = tensor.MSE
)

// Update carries the hyperparameters of one optimizer correction.
type Update = tensor.Update

// UpdateKind selects an optimizer rule.
type UpdateKind = tensor.UpdateKind

// Errors returned by tensor operations.
var (
	ErrShapeMismatch       = tensor.ErrShapeMismatch
	ErrUnsupportedStorage  = tensor.ErrUnsupportedStorage
	ErrModelNotInitialized = tensor.ErrModelNotInitialized
	ErrInvalidArgument     = tensor.ErrInvalidArgument
)

// NewShape returns the shape (batch, channels, height, width).
func NewShape(batch, channels, height, width int) Shape {
	return tensor.NewShape(batch, channels, height, width)
}

// New returns an unallocated tensor on ops.
func New(ops Ops) *Tensor {
	return tensor.New(ops)
}

// Zeros returns a zero-filled tensor of the given shape.
func Zeros(ops Ops, shape Shape) (*Tensor, error) {
	return tensor.Zeros(ops, shape)
}

// FromSlice returns a tensor holding a copy of data.
//
// Example:
//
//	x, err := tensor.FromSlice(ops, tensor.NewShape(2, 1, 1, 2), []float32{1, 2, 3, 4})
func FromSlice(ops Ops, shape Shape, data []float32) (*Tensor, error) {
	return tensor.FromSlice(ops, shape, data)
}

// UniformPadding returns a padding of n on every side.
func UniformPadding(n int) Padding {
	return tensor.Uniform(n)
}

// ParseActivation returns the activation named by s ("relu", "tanh", ...).
func ParseActivation(s string) (ActivationKind, error) {
	return tensor.ParseActivation(s)
}

// ParseLoss returns the loss named by s ("cross_entropy" or "mse").
func ParseLoss(s string) (LossKind, error) {
	return tensor.ParseLoss(s)
}
