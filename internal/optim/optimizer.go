// Package optim implements first-order optimizers that correct weight
// tensors in place from accumulated gradients.
//
// This package provides:
//   - Optimizer interface: Name, per-weight state allocation and Correct
//   - GradientDescent: w -= lr * g
//   - AdaGrad, AdaDelta: per-weight adaptive learning rates
//   - Adam: bias-corrected first and second moments
//   - RProp: sign-based per-weight step sizes
//
// Each rule keeps its auxiliary tensors in a fixed-field state struct, one
// per parameter, allocated on the parameter's backend by NewState. Correct
// runs on that backend through tensor.Ops.Update, so a device network is
// trained without copying weights to the host.
//
// Example usage:
//
//	opt := optim.NewAdam(optim.AdamConfig{LearningRate: 0.001})
//	state, err := opt.NewState(param.Weights())
//	...
//	// after backward passes have accumulated gradients
//	err = opt.Correct(param.Weights(), param.Gradient(), state, true, iteration)
package optim

import (
	"fmt"

	"github.com/born-ml/convnet/internal/tensor"
)

// Default hyperparameters.
const (
	DefaultEpsilon      = 1e-8
	DefaultAdaDeltaRate = 0.4
	DefaultAdamAlpha    = 0.9
	DefaultAdamBeta     = 0.999
	DefaultRPropStep    = 0.01
	DefaultRPropGrowth  = 1.2
	DefaultRPropMaxStep = 50
	DefaultRPropShrink  = 0.5
	DefaultRPropMinStep = 1e-6
)

// Optimizer corrects one weight tensor at a time.
//
// The trainer allocates one State per parameter before the first
// correction and calls Correct for each parameter once per batch. Correct
// calls for distinct parameters may run concurrently.
type Optimizer interface {
	// Name returns the rule name (e.g. "adam").
	Name() string

	// StateNames lists the auxiliary tensors of the state, in order.
	StateNames() []string

	// NewState allocates zeroed (or rule-initialized) auxiliary tensors
	// shaped like weights, on the weights' backend.
	NewState(weights *tensor.Tensor) (State, error)

	// Correct applies one step to weights from gradients and state. When
	// resetGradients is set the gradients are zeroed afterwards. iteration
	// counts corrections from 1.
	Correct(weights, gradients *tensor.Tensor, state State, resetGradients bool, iteration int) error
}

// State is the per-parameter auxiliary data of one rule. The concrete
// types are GradientDescentState, AdaGradState, AdaDeltaState, AdamState
// and RPropState.
type State interface {
	tensors() []*tensor.Tensor
}

// GradientDescentState is empty: plain gradient descent keeps no history.
type GradientDescentState struct{}

func (*GradientDescentState) tensors() []*tensor.Tensor { return nil }

// AdaGradState holds the running sum of squared gradients.
type AdaGradState struct {
	GradientHistory *tensor.Tensor
}

func (s *AdaGradState) tensors() []*tensor.Tensor { return []*tensor.Tensor{s.GradientHistory} }

// AdaDeltaState holds the decaying average of squared gradients, E[g²].
type AdaDeltaState struct {
	EsQ *tensor.Tensor
}

func (s *AdaDeltaState) tensors() []*tensor.Tensor { return []*tensor.Tensor{s.EsQ} }

// AdamState holds the first (S) and second (D) moment estimates.
type AdamState struct {
	S *tensor.Tensor
	D *tensor.Tensor
}

func (s *AdamState) tensors() []*tensor.Tensor { return []*tensor.Tensor{s.S, s.D} }

// RPropState holds the last applied gradient and the per-weight step size.
type RPropState struct {
	PreviousGradient *tensor.Tensor
	StepSize         *tensor.Tensor
}

func (s *RPropState) tensors() []*tensor.Tensor { return []*tensor.Tensor{s.PreviousGradient, s.StepSize} }

// zerosLike allocates n zeroed tensors shaped like weights.
func zerosLike(weights *tensor.Tensor, n int) ([]*tensor.Tensor, error) {
	if weights == nil || !weights.Allocated() {
		return nil, fmt.Errorf("new state: %w: weights are not allocated", tensor.ErrInvalidArgument)
	}
	out := make([]*tensor.Tensor, n)
	for i := range out {
		t, err := tensor.Zeros(weights.Ops(), weights.Shape())
		if err != nil {
			return nil, fmt.Errorf("new state: %w", err)
		}
		out[i] = t
	}
	return out, nil
}

// apply runs u on the weights' backend and optionally resets gradients.
func apply(u tensor.Update, weights, gradients *tensor.Tensor, state State, resetGradients bool) error {
	if weights == nil || gradients == nil {
		return fmt.Errorf("correct: %w: nil operand", tensor.ErrInvalidArgument)
	}
	if err := weights.Ops().Update(u, weights, gradients, state.tensors()...); err != nil {
		return fmt.Errorf("correct: %w", err)
	}
	if resetGradients {
		if err := gradients.Zero(); err != nil {
			return fmt.Errorf("correct: reset gradients: %w", err)
		}
	}
	return nil
}

func wrongState(name string, state State) error {
	return fmt.Errorf("%s: %w: state %T", name, tensor.ErrInvalidArgument, state)
}
