// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides optimization algorithms for training networks.
//
// # Overview
//
// This package contains:
//   - GradientDescent: w -= lr * g
//   - AdaGrad and AdaDelta: per-weight adaptive learning rates
//   - Adam: Adaptive Moment Estimation with bias correction
//   - RProp: sign-based per-weight step sizes
//
// Corrections run on the weights' backend, so device networks are trained
// without host round trips.
//
// # Basic Usage
//
//	opt := optim.NewAdam(optim.AdamConfig{LearningRate: 0.001})
//	trainer, err := train.New(net, opt, train.Config{Epochs: 10})
package optim

import (
	"github.com/born-ml/convnet/internal/optim"
)

// Optimizer corrects one weight tensor at a time.
type Optimizer = optim.Optimizer

// State is the per-parameter auxiliary data of one rule.
type State = optim.State

// Per-rule states.
type (
	GradientDescentState = optim.GradientDescentState
	AdaGradState         = optim.AdaGradState
	AdaDeltaState        = optim.AdaDeltaState
	AdamState            = optim.AdamState
	RPropState           = optim.RPropState
)

// GradientDescent applies w -= lr * g.
type GradientDescent = optim.GradientDescent

// GradientDescentConfig contains configuration for GradientDescent.
type GradientDescentConfig = optim.GradientDescentConfig

// NewGradientDescent creates a gradient descent optimizer.
func NewGradientDescent(cfg GradientDescentConfig) *GradientDescent {
	return optim.NewGradientDescent(cfg)
}

// AdaGrad divides each step by the root of the summed squared gradients.
type AdaGrad = optim.AdaGrad

// AdaGradConfig contains configuration for AdaGrad.
type AdaGradConfig = optim.AdaGradConfig

// NewAdaGrad creates an AdaGrad optimizer.
func NewAdaGrad(cfg AdaGradConfig) *AdaGrad {
	return optim.NewAdaGrad(cfg)
}

// AdaDelta divides each step by the root of a decaying squared-gradient average.
type AdaDelta = optim.AdaDelta

// AdaDeltaConfig contains configuration for AdaDelta.
type AdaDeltaConfig = optim.AdaDeltaConfig

// NewAdaDelta creates an AdaDelta optimizer.
func NewAdaDelta(cfg AdaDeltaConfig) *AdaDelta {
	return optim.NewAdaDelta(cfg)
}

// Adam represents the Adam optimizer.
type Adam = optim.Adam

// AdamConfig contains configuration for Adam.
type AdamConfig = optim.AdamConfig

// NewAdam creates a new Adam optimizer.
//
// Example:
//
//	opt := optim.NewAdam(optim.AdamConfig{
//	    LearningRate: 0.001,
//	    Alpha:        0.9,
//	    Beta:         0.999,
//	})
func NewAdam(cfg AdamConfig) *Adam {
	return optim.NewAdam(cfg)
}

// RProp adapts a step size per weight from gradient signs.
type RProp = optim.RProp

// RPropConfig contains configuration for RProp.
type RPropConfig = optim.RPropConfig

// NewRProp creates an RProp optimizer.
func NewRProp(cfg RPropConfig) *RProp {
	return optim.NewRProp(cfg)
}
