// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package serialization saves and loads networks in the .cnvn format and
// exports their weights as SafeTensors.
//
// Example:
//
//	err := serialization.SaveNetwork("model.cnvn", net, serialization.WriteOptions{})
//	...
//	ckpt, err := serialization.Load("model.cnvn", serialization.ReaderOptions{})
//	net, err := ckpt.Network(cpu.New())
package serialization

import (
	"github.com/born-ml/convnet/internal/serialization"
	"github.com/born-ml/convnet/nn"
)

// Checkpoint is a decoded .cnvn file.
type Checkpoint = serialization.Checkpoint

// Header is the JSON header of a .cnvn file.
type Header = serialization.Header

// CheckpointMeta records training progress.
type CheckpointMeta = serialization.CheckpointMeta

// WriteOptions carries the optional parts of a .cnvn file.
type WriteOptions = serialization.WriteOptions

// ReaderOptions configures decoding.
type ReaderOptions = serialization.ReaderOptions

// ValidationLevel selects how strictly headers are checked on load.
type ValidationLevel = serialization.ValidationLevel

// Validation levels.
const (
	ValidationStrict = serialization.ValidationStrict
	ValidationNormal = serialization.ValidationNormal
	ValidationNone   = serialization.ValidationNone
)

// Decoding errors.
var (
	ErrChecksumMismatch   = serialization.ErrChecksumMismatch
	ErrHeaderTooLarge     = serialization.ErrHeaderTooLarge
	ErrInvalidMagic       = serialization.ErrInvalidMagic
	ErrUnsupportedVersion = serialization.ErrUnsupportedVersion
)

// SaveNetwork writes net to a .cnvn file.
func SaveNetwork(path string, net *nn.Network, opts WriteOptions) error {
	return serialization.SaveNetwork(path, net, opts)
}

// Load reads a .cnvn file.
func Load(path string, opts ReaderOptions) (*Checkpoint, error) {
	return serialization.Load(path, opts)
}

// ExportSafeTensors writes the parameters of net to a SafeTensors file.
func ExportSafeTensors(path string, net *nn.Network, metadata map[string]string) error {
	return serialization.ExportSafeTensors(path, net, metadata)
}
