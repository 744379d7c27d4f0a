//go:build !windows

package main

import (
	"errors"

	"github.com/born-ml/convnet/internal/backend/device"
)

func openWebGPU() (device.Launcher, error) {
	return nil, errors.New("webgpu backend is only built on windows")
}
