//go:build windows

// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu provides the WebGPU device stream.
//
// The launcher compiles the kernel catalog to WGSL compute shaders and runs
// them on the default high-performance adapter through go-webgpu.
//
// Example:
//
//	gpu, err := webgpu.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ops := device.New(gpu)
//	defer ops.Close()
package webgpu

import (
	"github.com/born-ml/convnet/backend/device"
	internalwebgpu "github.com/born-ml/convnet/internal/backend/webgpu"
)

// Launcher runs catalog kernels on one WebGPU queue.
type Launcher = internalwebgpu.Launcher

// Compile-time check that Launcher implements device.Launcher.
var _ device.Launcher = (*Launcher)(nil)

// New opens the default adapter.
// Returns an error if WebGPU is not available.
func New() (*Launcher, error) {
	return internalwebgpu.New()
}
