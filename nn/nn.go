// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the layers and the Network that chains them.
//
// # Layers
//
// The layer set is closed: Convolution, MaxPool, FullyConnected,
// Activation, Softmax, Pad and Flatten. Each layer owns its output and
// gradient buffers; Forward returns the same output tensor on every call.
//
// # Basic Usage
//
//	ops := cpu.New()
//	net, _ := nn.NewNetwork(ops, tensor.NewShape(8, 1, 28, 28))
//
//	conv, _ := nn.NewConvolution(6, 5, 5, 1, true, nil)
//	relu, _ := nn.NewActivation(tensor.ReLU)
//	pool, _ := nn.NewMaxPool(2, 2)
//	fc, _ := nn.NewFullyConnected(10, true, nil)
//	for _, l := range []nn.Layer{conv, relu, pool, nn.NewFlatten(), fc, nn.NewSoftmax()} {
//	    if err := net.AddLayer(l); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
//	out, err := net.Forward(x)
//
// Gradients accumulate across Backward calls until an optimizer consumes
// them (see package optim) or ZeroGradients is called.
package nn

import (
	"math/rand/v2"

	"github.com/born-ml/convnet/internal/nn"
	"github.com/born-ml/convnet/tensor"
)

// Layer is one node of a Network.
type Layer = nn.Layer

// Kind tags the layer variant.
type Kind = nn.Kind

// Layer kinds.
const (
	KindConv       Kind = nn.KindConv
	KindPool       Kind = nn.KindPool
	KindFC         Kind = nn.KindFC
	KindActivation Kind = nn.KindActivation
	KindSoftmax    Kind = nn.KindSoftmax
	KindPad        Kind = nn.KindPad
	KindFlatten    Kind = nn.KindFlatten
)

// Config holds the construction parameters of any layer kind.
type Config = nn.Config

// Network is an ordered chain of layers bound to one backend.
type Network = nn.Network

// LayerSnapshot is a host copy of one layer's configuration and parameters.
type LayerSnapshot = nn.LayerSnapshot

// Parameter is a trainable weight tensor with its accumulated gradient.
type Parameter = nn.Parameter

// Initializer fills a freshly allocated weight tensor.
type Initializer = nn.Initializer

// Concrete layers.
type (
	Convolution    = nn.Convolution
	MaxPool        = nn.MaxPool
	FullyConnected = nn.FullyConnected
	Activation     = nn.Activation
	Softmax        = nn.Softmax
	Pad            = nn.Pad
	Flatten        = nn.Flatten
)

// NewNetwork creates an empty network accepting inputShape.
func NewNetwork(ops tensor.Ops, inputShape tensor.Shape) (*Network, error) {
	return nn.NewNetwork(ops, inputShape)
}

// Restore rebuilds a network from snapshots taken by Network.Snapshot.
func Restore(ops tensor.Ops, inputShape tensor.Shape, snaps []LayerSnapshot) (*Network, error) {
	return nn.Restore(ops, inputShape, snaps)
}

// NewLayer creates a layer of the given kind from cfg.
func NewLayer(kind Kind, cfg Config) (Layer, error) {
	return nn.NewLayer(kind, cfg)
}

// ParseKind returns the kind named by s ("conv", "pool", ...).
func ParseKind(s string) (Kind, error) {
	return nn.ParseKind(s)
}

// NewConvolution creates a convolution with filters kernels of kernelH x kernelW.
// A nil init selects Xavier uniform initialization.
//
// Example:
//
//	conv, err := nn.NewConvolution(32, 3, 3, 1, true, nil)
func NewConvolution(filters, kernelH, kernelW, stride int, bias bool, init Initializer) (*Convolution, error) {
	return nn.NewConvolution(filters, kernelH, kernelW, stride, bias, init)
}

// NewMaxPool creates a max-pooling layer with a square window.
func NewMaxPool(kernel, stride int) (*MaxPool, error) {
	return nn.NewMaxPool(kernel, stride)
}

// NewFullyConnected creates a dense layer with the given number of units.
//
// Example:
//
//	fc, err := nn.NewFullyConnected(10, true, nil)
func NewFullyConnected(units int, bias bool, init Initializer) (*FullyConnected, error) {
	return nn.NewFullyConnected(units, bias, init)
}

// NewActivation creates an elementwise activation layer.
func NewActivation(kind tensor.ActivationKind) (*Activation, error) {
	return nn.NewActivation(kind)
}

// NewSoftmax creates a row-wise softmax layer.
func NewSoftmax() *Softmax {
	return nn.NewSoftmax()
}

// NewPad creates a zero-padding layer.
func NewPad(pad tensor.Padding) (*Pad, error) {
	return nn.NewPad(pad)
}

// NewFlatten creates a layer that views (B, C, H, W) as (B, 1, 1, C*H*W).
func NewFlatten() *Flatten {
	return nn.NewFlatten()
}

// XavierUniform returns an initializer drawing from U(-a, a) with
// a = sqrt(6 / (fanIn + fanOut)).
func XavierUniform(rng *rand.Rand) Initializer {
	return nn.XavierUniform(rng)
}
