// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package train drives a Network with an optimizer over a dataset.
//
// A Step runs forward, loss and backward for one batch. Every
// Config.BatchSize steps the trainer corrects all parameters and clears
// their gradients.
//
//	ds, _ := train.FromSlices(ops, inShape, targetShape, inputs, targets)
//	tr, _ := train.New(net, optim.NewAdam(optim.AdamConfig{}), train.Config{
//	    Epochs: 10,
//	    Loss:   tensor.CrossEntropy,
//	})
//	losses, err := tr.Train(ds)
package train

import (
	"github.com/born-ml/convnet/internal/train"
	"github.com/born-ml/convnet/nn"
	"github.com/born-ml/convnet/optim"
	"github.com/born-ml/convnet/tensor"
)

// Config controls a training run.
type Config = train.Config

// Trainer runs steps and corrections for one network.
type Trainer = train.Trainer

// Dataset is an indexed collection of (input, target) batches.
type Dataset = train.Dataset

// SliceDataset is a Dataset backed by preallocated tensors.
type SliceDataset = train.SliceDataset

// New creates a trainer for net.
func New(net *nn.Network, opt optim.Optimizer, cfg Config) (*Trainer, error) {
	return train.New(net, opt, cfg)
}

// FromSlices uploads host batches into tensors on ops.
func FromSlices(ops tensor.Ops, inputShape, targetShape tensor.Shape, inputs, targets [][]float32) (*SliceDataset, error) {
	return train.FromSlices(ops, inputShape, targetShape, inputs, targets)
}
