package kernels

import (
	"math"

	"github.com/born-ml/convnet/internal/tensor"
)

func sqrt32(v float32) float32 {
	return float32(math.Sqrt(float64(v)))
}

// GradientDescent applies w -= lr * g.
func GradientDescent(w, g []float32, lr float32) {
	for i, gv := range g {
		w[i] -= lr * gv
	}
}

// AdaGrad applies hist += g²; w -= lr/√(hist+eps) * g.
func AdaGrad(w, g, hist []float32, lr, eps float32) {
	for i, gv := range g {
		hist[i] += gv * gv
		w[i] -= lr / sqrt32(hist[i]+eps) * gv
	}
}

// AdaDelta applies esq = γ*esq + (1-γ)*g²; w -= lr/√(esq+eps) * g.
func AdaDelta(w, g, esq []float32, lr, gamma, eps float32) {
	for i, gv := range g {
		esq[i] = gamma*esq[i] + (1-gamma)*gv*gv
		w[i] -= lr / sqrt32(esq[i]+eps) * gv
	}
}

// Adam applies the bias-corrected moment update. c1 = 1-α^t and c2 = 1-β^t
// are computed once per step by the caller.
func Adam(w, g, s, d []float32, lr, alpha, beta, eps, c1, c2 float32) {
	for i, gv := range g {
		s[i] = alpha*s[i] + (1-alpha)*gv
		d[i] = beta*d[i] + (1-beta)*gv*gv
		sHat := s[i] / c1
		dHat := d[i] / c2
		w[i] -= lr / sqrt32(dHat+eps) * sHat
	}
}

// RProp adapts a per-weight step size from the sign of g*prev only.
// On agreement the step grows (capped at maxStep); on a sign flip it shrinks
// (floored at minStep) and the weight is left alone for this step.
func RProp(w, g, prev, step []float32, growth, shrink, maxStep, minStep float32) {
	for i, gv := range g {
		p := gv * prev[i]
		switch {
		case p > 0:
			step[i] = min(step[i]*growth, maxStep)
			w[i] -= sign(gv) * step[i]
			prev[i] = gv
		case p < 0:
			step[i] = max(step[i]*shrink, minStep)
			prev[i] = 0
		default:
			w[i] -= sign(gv) * step[i]
			prev[i] = gv
		}
	}
}

func sign(v float32) float32 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// ApplyUpdate dispatches an optimizer rule over host slices.
func ApplyUpdate(u tensor.Update, w, g []float32, aux [][]float32) {
	switch u.Kind {
	case tensor.GradientDescentUpdate:
		GradientDescent(w, g, u.LearningRate)
	case tensor.AdaGradUpdate:
		AdaGrad(w, g, aux[0], u.LearningRate, u.Epsilon)
	case tensor.AdaDeltaUpdate:
		AdaDelta(w, g, aux[0], u.LearningRate, u.Decay1, u.Epsilon)
	case tensor.AdamUpdate:
		c1, c2 := BiasCorrection(u)
		Adam(w, g, aux[0], aux[1], u.LearningRate, u.Decay1, u.Decay2, u.Epsilon, c1, c2)
	case tensor.RPropUpdate:
		RProp(w, g, aux[0], aux[1], u.Growth, u.Shrink, u.MaxStep, u.MinStep)
	}
}

// BiasCorrection returns 1-α^t and 1-β^t for an Adam step.
func BiasCorrection(u tensor.Update) (c1, c2 float32) {
	t := float64(u.Iteration)
	c1 = float32(1 - math.Pow(float64(u.Decay1), t))
	c2 = float32(1 - math.Pow(float64(u.Decay2), t))
	return c1, c2
}
