// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the pure Go host backend.
//
// Operations run synchronously on host memory. Large loops are split across
// goroutines and matrix products use gonum's float32 BLAS.
//
//	ops := cpu.New()
//	net, err := nn.NewNetwork(ops, tensor.NewShape(8, 1, 28, 28))
package cpu

import (
	internalcpu "github.com/born-ml/convnet/internal/backend/cpu"
	"github.com/born-ml/convnet/internal/parallel"
	"github.com/born-ml/convnet/tensor"
)

// Backend represents the CPU backend implementation.
type Backend = internalcpu.CPUBackend

// Config controls how loops are split across goroutines.
type Config = parallel.Config

// Compile-time check that Backend implements tensor.Ops.
var _ tensor.Ops = (*Backend)(nil)

// New creates a new CPU backend.
func New() *Backend {
	return internalcpu.New()
}

// NewWithConfig creates a CPU backend with explicit parallelism settings.
func NewWithConfig(cfg Config) *Backend {
	return internalcpu.NewWithConfig(cfg)
}
