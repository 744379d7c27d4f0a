//go:build windows

package main

import (
	"github.com/born-ml/convnet/internal/backend/device"
	"github.com/born-ml/convnet/internal/backend/webgpu"
)

// openWebGPU opens the default WebGPU adapter as a device stream.
func openWebGPU() (device.Launcher, error) {
	l, err := webgpu.New()
	if err != nil {
		return nil, err
	}
	return l, nil
}
