// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package device provides the accelerator backend.
//
// The backend turns every tensor operation into named kernel launches on one
// ordered device stream (a Launcher). Launches are asynchronous: errors raised
// while a kernel runs surface from Synchronize or the next Data call.
//
// Two launchers ship with the module: the WebGPU launcher (see package
// backend/webgpu) and an in-process emulator that runs the same kernel
// catalog on goroutines.
//
// Example:
//
//	ops := device.NewEmulated()
//	defer ops.Close()
//	net, err := nn.NewNetwork(ops, tensor.NewShape(8, 1, 28, 28))
package device

import (
	internaldevice "github.com/born-ml/convnet/internal/backend/device"
	"github.com/born-ml/convnet/internal/backend/device/emulator"
	"github.com/born-ml/convnet/tensor"
)

// Backend implements tensor.Ops on a Launcher.
type Backend = internaldevice.Backend

// Launcher is one ordered device stream.
type Launcher = internaldevice.Launcher

// Buffer is an opaque handle to device memory.
type Buffer = internaldevice.Buffer

// Dim is a 3-D launch extent.
type Dim = internaldevice.Dim

// EmulatorConfig controls the emulated device.
type EmulatorConfig = emulator.Config

// Launch errors.
var (
	ErrUnknownKernel = internaldevice.ErrUnknownKernel
	ErrKernelFault   = internaldevice.ErrKernelFault
	ErrClosed        = internaldevice.ErrClosed
)

// Compile-time check that Backend implements tensor.Ops.
var _ tensor.Ops = (*Backend)(nil)

// New creates a device backend on launcher.
func New(launcher Launcher) *Backend {
	return internaldevice.New(launcher)
}

// NewEmulated creates a device backend on the in-process emulator.
func NewEmulated() *Backend {
	return internaldevice.New(emulator.New())
}

// NewEmulatedWithConfig creates a device backend on an emulator configured by cfg.
func NewEmulatedWithConfig(cfg EmulatorConfig) *Backend {
	return internaldevice.New(emulator.NewWithConfig(cfg))
}

// Kernels lists the names in the kernel catalog every Launcher must serve.
func Kernels() []string {
	return internaldevice.Catalog()
}
