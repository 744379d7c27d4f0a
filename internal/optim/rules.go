package optim

import (
	"github.com/born-ml/convnet/internal/tensor"
)

// GradientDescentConfig configures plain gradient descent.
type GradientDescentConfig struct {
	LearningRate float32 // default: 0.01
}

// GradientDescent applies w -= lr * g.
type GradientDescent struct {
	lr float32
}

// NewGradientDescent creates a gradient descent optimizer.
func NewGradientDescent(cfg GradientDescentConfig) *GradientDescent {
	if cfg.LearningRate == 0 {
		cfg.LearningRate = 0.01
	}
	return &GradientDescent{lr: cfg.LearningRate}
}

// Name returns "gradient_descent".
func (o *GradientDescent) Name() string { return "gradient_descent" }

// StateNames returns nil.
func (o *GradientDescent) StateNames() []string { return nil }

// NewState returns an empty state.
func (o *GradientDescent) NewState(weights *tensor.Tensor) (State, error) {
	if _, err := zerosLike(weights, 0); err != nil {
		return nil, err
	}
	return &GradientDescentState{}, nil
}

// Correct applies one gradient descent step.
func (o *GradientDescent) Correct(weights, gradients *tensor.Tensor, state State, resetGradients bool, _ int) error {
	s, ok := state.(*GradientDescentState)
	if !ok || s == nil {
		return wrongState(o.Name(), state)
	}
	u := tensor.Update{Kind: tensor.GradientDescentUpdate, LearningRate: o.lr}
	return apply(u, weights, gradients, s, resetGradients)
}

// AdaGradConfig configures AdaGrad.
type AdaGradConfig struct {
	LearningRate float32 // default: 0.01
	Epsilon      float32 // default: 1e-8
}

// AdaGrad scales each weight's step by the inverse root of its summed
// squared gradients:
//
//	hist += g²
//	w    -= lr / sqrt(hist + eps) * g
type AdaGrad struct {
	lr, eps float32
}

// NewAdaGrad creates an AdaGrad optimizer.
func NewAdaGrad(cfg AdaGradConfig) *AdaGrad {
	if cfg.LearningRate == 0 {
		cfg.LearningRate = 0.01
	}
	if cfg.Epsilon == 0 {
		cfg.Epsilon = DefaultEpsilon
	}
	return &AdaGrad{lr: cfg.LearningRate, eps: cfg.Epsilon}
}

// Name returns "adagrad".
func (o *AdaGrad) Name() string { return "adagrad" }

// StateNames returns the history tensor name.
func (o *AdaGrad) StateNames() []string { return []string{"gradient_history"} }

// NewState allocates a zeroed gradient history.
func (o *AdaGrad) NewState(weights *tensor.Tensor) (State, error) {
	t, err := zerosLike(weights, 1)
	if err != nil {
		return nil, err
	}
	return &AdaGradState{GradientHistory: t[0]}, nil
}

// Correct applies one AdaGrad step.
func (o *AdaGrad) Correct(weights, gradients *tensor.Tensor, state State, resetGradients bool, _ int) error {
	s, ok := state.(*AdaGradState)
	if !ok || s == nil {
		return wrongState(o.Name(), state)
	}
	u := tensor.Update{Kind: tensor.AdaGradUpdate, LearningRate: o.lr, Epsilon: o.eps}
	return apply(u, weights, gradients, s, resetGradients)
}

// AdaDeltaConfig configures AdaDelta.
type AdaDeltaConfig struct {
	LearningRate float32 // default: 0.001
	Gamma        float32 // decay of E[g²], default: 0.4
	Epsilon      float32 // default: 1e-8
}

// AdaDelta replaces AdaGrad's growing sum with a decaying average:
//
//	esq = γ * esq + (1-γ) * g²
//	w  -= lr / sqrt(esq + eps) * g
type AdaDelta struct {
	lr, gamma, eps float32
}

// NewAdaDelta creates an AdaDelta optimizer.
func NewAdaDelta(cfg AdaDeltaConfig) *AdaDelta {
	if cfg.LearningRate == 0 {
		cfg.LearningRate = 0.001
	}
	if cfg.Gamma == 0 {
		cfg.Gamma = DefaultAdaDeltaRate
	}
	if cfg.Epsilon == 0 {
		cfg.Epsilon = DefaultEpsilon
	}
	return &AdaDelta{lr: cfg.LearningRate, gamma: cfg.Gamma, eps: cfg.Epsilon}
}

// Name returns "adadelta".
func (o *AdaDelta) Name() string { return "adadelta" }

// StateNames returns the average tensor name.
func (o *AdaDelta) StateNames() []string { return []string{"esq"} }

// NewState allocates a zeroed E[g²].
func (o *AdaDelta) NewState(weights *tensor.Tensor) (State, error) {
	t, err := zerosLike(weights, 1)
	if err != nil {
		return nil, err
	}
	return &AdaDeltaState{EsQ: t[0]}, nil
}

// Correct applies one AdaDelta step.
func (o *AdaDelta) Correct(weights, gradients *tensor.Tensor, state State, resetGradients bool, _ int) error {
	s, ok := state.(*AdaDeltaState)
	if !ok || s == nil {
		return wrongState(o.Name(), state)
	}
	u := tensor.Update{Kind: tensor.AdaDeltaUpdate, LearningRate: o.lr, Decay1: o.gamma, Epsilon: o.eps}
	return apply(u, weights, gradients, s, resetGradients)
}

// AdamConfig configures Adam.
type AdamConfig struct {
	LearningRate float32 // default: 0.001
	Alpha        float32 // first moment decay, default: 0.9
	Beta         float32 // second moment decay, default: 0.999
	Epsilon      float32 // default: 1e-8
}

// Adam implements Adaptive Moment Estimation.
//
// Update rule, with t the iteration:
//
//	s = α * s + (1-α) * g
//	d = β * d + (1-β) * g²
//	w -= lr / sqrt(d / (1-β^t) + eps) * s / (1-α^t)
//
// Reference: "Adam: A Method for Stochastic Optimization" (Kingma & Ba, 2014)
type Adam struct {
	lr, alpha, beta, eps float32
}

// NewAdam creates an Adam optimizer.
func NewAdam(cfg AdamConfig) *Adam {
	if cfg.LearningRate == 0 {
		cfg.LearningRate = 0.001
	}
	if cfg.Alpha == 0 {
		cfg.Alpha = DefaultAdamAlpha
	}
	if cfg.Beta == 0 {
		cfg.Beta = DefaultAdamBeta
	}
	if cfg.Epsilon == 0 {
		cfg.Epsilon = DefaultEpsilon
	}
	return &Adam{lr: cfg.LearningRate, alpha: cfg.Alpha, beta: cfg.Beta, eps: cfg.Epsilon}
}

// Name returns "adam".
func (o *Adam) Name() string { return "adam" }

// StateNames returns the moment tensor names.
func (o *Adam) StateNames() []string { return []string{"s", "d"} }

// NewState allocates zeroed moments.
func (o *Adam) NewState(weights *tensor.Tensor) (State, error) {
	t, err := zerosLike(weights, 2)
	if err != nil {
		return nil, err
	}
	return &AdamState{S: t[0], D: t[1]}, nil
}

// Correct applies one Adam step. iteration must be at least 1.
func (o *Adam) Correct(weights, gradients *tensor.Tensor, state State, resetGradients bool, iteration int) error {
	s, ok := state.(*AdamState)
	if !ok || s == nil {
		return wrongState(o.Name(), state)
	}
	u := tensor.Update{
		Kind:         tensor.AdamUpdate,
		LearningRate: o.lr,
		Decay1:       o.alpha,
		Decay2:       o.beta,
		Epsilon:      o.eps,
		Iteration:    iteration,
	}
	return apply(u, weights, gradients, s, resetGradients)
}

// RPropConfig configures RProp.
type RPropConfig struct {
	InitialStep float32 // default: 0.01
	Growth      float32 // default: 1.2
	MaxStep     float32 // default: 50
	Shrink      float32 // default: 0.5
	MinStep     float32 // default: 1e-6
}

// RProp adapts a step size per weight from the sign of consecutive
// gradients and ignores their magnitude (the iRprop- variant):
//
//   - same sign: step = min(step * growth, max); w -= sign(g) * step
//   - sign flip: step = max(step * shrink, min); w is unchanged and the
//     stored gradient is cleared
//   - otherwise: w -= sign(g) * step
type RProp struct {
	initial, growth, maxStep, shrink, minStep float32
}

// NewRProp creates an RProp optimizer.
func NewRProp(cfg RPropConfig) *RProp {
	if cfg.InitialStep == 0 {
		cfg.InitialStep = DefaultRPropStep
	}
	if cfg.Growth == 0 {
		cfg.Growth = DefaultRPropGrowth
	}
	if cfg.MaxStep == 0 {
		cfg.MaxStep = DefaultRPropMaxStep
	}
	if cfg.Shrink == 0 {
		cfg.Shrink = DefaultRPropShrink
	}
	if cfg.MinStep == 0 {
		cfg.MinStep = DefaultRPropMinStep
	}
	return &RProp{
		initial: cfg.InitialStep,
		growth:  cfg.Growth,
		maxStep: cfg.MaxStep,
		shrink:  cfg.Shrink,
		minStep: cfg.MinStep,
	}
}

// Name returns "rprop".
func (o *RProp) Name() string { return "rprop" }

// StateNames returns the state tensor names.
func (o *RProp) StateNames() []string { return []string{"previous_gradient", "step_size"} }

// NewState allocates a zeroed previous gradient and fills every step size
// with the initial step.
func (o *RProp) NewState(weights *tensor.Tensor) (State, error) {
	t, err := zerosLike(weights, 2)
	if err != nil {
		return nil, err
	}
	if err := t[1].Fill(o.initial); err != nil {
		return nil, err
	}
	return &RPropState{PreviousGradient: t[0], StepSize: t[1]}, nil
}

// Correct applies one RProp step.
func (o *RProp) Correct(weights, gradients *tensor.Tensor, state State, resetGradients bool, _ int) error {
	s, ok := state.(*RPropState)
	if !ok || s == nil {
		return wrongState(o.Name(), state)
	}
	u := tensor.Update{
		Kind:    tensor.RPropUpdate,
		Growth:  o.growth,
		Shrink:  o.shrink,
		MaxStep: o.maxStep,
		MinStep: o.minStep,
	}
	return apply(u, weights, gradients, s, resetGradients)
}
