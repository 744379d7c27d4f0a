package kernels

import (
	"math"

	"github.com/born-ml/convnet/internal/tensor"
)

// Activation applies kind elementwise: dst[i] = f(src[i]).
func Activation(kind tensor.ActivationKind, dst, src []float32) {
	switch kind {
	case tensor.ReLU:
		for i, v := range src {
			if v > 0 {
				dst[i] = v
			} else {
				dst[i] = 0
			}
		}
	case tensor.LeakyReLU:
		for i, v := range src {
			if v > 0 {
				dst[i] = v
			} else {
				dst[i] = tensor.LeakySlope * v
			}
		}
	case tensor.Sigmoid:
		for i, v := range src {
			dst[i] = float32(1 / (1 + math.Exp(-float64(v))))
		}
	case tensor.Tanh:
		for i, v := range src {
			dst[i] = float32(math.Tanh(float64(v)))
		}
	}
}

// ActivationDx writes dst[i] = f'(x[i]) * dy[i], using the forward output y
// where the derivative is cheaper in terms of it.
func ActivationDx(kind tensor.ActivationKind, dst, x, y, dy []float32) {
	switch kind {
	case tensor.ReLU:
		for i, v := range x {
			if v > 0 {
				dst[i] = dy[i]
			} else {
				dst[i] = 0
			}
		}
	case tensor.LeakyReLU:
		for i, v := range x {
			if v > 0 {
				dst[i] = dy[i]
			} else {
				dst[i] = tensor.LeakySlope * dy[i]
			}
		}
	case tensor.Sigmoid:
		for i, s := range y {
			dst[i] = s * (1 - s) * dy[i]
		}
	case tensor.Tanh:
		for i, t := range y {
			dst[i] = (1 - t*t) * dy[i]
		}
	}
}

// Softmax normalizes every row of src after subtracting rowMax[r], which the
// caller computes with MaxRows.
func Softmax(dst, src, rowMax []float32, rows, cols int) {
	for r := 0; r < rows; r++ {
		s := src[r*cols : (r+1)*cols]
		d := dst[r*cols : (r+1)*cols]
		m := float64(rowMax[r])
		var sum float64
		for i, v := range s {
			e := math.Exp(float64(v) - m)
			d[i] = float32(e)
			sum += e
		}
		inv := 1 / sum
		for i := range d {
			d[i] = float32(float64(d[i]) * inv)
		}
	}
}

// SoftmaxDx computes the full Jacobian-vector product of softmax per row:
// dx_i = Σ_j dy_j * (y_i(1-y_i) if i == j else -y_i*y_j).
func SoftmaxDx(dst, y, dy []float32, rows, cols int) {
	for r := 0; r < rows; r++ {
		yr := y[r*cols : (r+1)*cols]
		gr := dy[r*cols : (r+1)*cols]
		d := dst[r*cols : (r+1)*cols]
		for i, yi := range yr {
			var acc float32
			for j, yj := range yr {
				if i == j {
					acc += gr[j] * yi * (1 - yi)
				} else {
					acc -= gr[j] * yi * yj
				}
			}
			d[i] = acc
		}
	}
}

// CrossEntropy writes -Σ t*log(o+eps) of each row into dst.
func CrossEntropy(dst, out, target []float32, rows, cols int, eps float32) {
	for r := 0; r < rows; r++ {
		var loss float64
		for i := r * cols; i < (r+1)*cols; i++ {
			if target[i] != 0 {
				loss -= float64(target[i]) * math.Log(float64(out[i]+eps))
			}
		}
		dst[r] = float32(loss)
	}
}

// CrossEntropyDx writes -t/o. The denominator is not guarded.
func CrossEntropyDx(dst, out, target []float32) {
	for i, o := range out {
		dst[i] = -target[i] / o
	}
}

// MSE writes the mean of (o-t)² of each row into dst.
func MSE(dst, out, target []float32, rows, cols int) {
	for r := 0; r < rows; r++ {
		var sum float32
		for i := r * cols; i < (r+1)*cols; i++ {
			d := out[i] - target[i]
			sum += d * d
		}
		dst[r] = sum / float32(cols)
	}
}

// MSEDx writes 2(o-t)/cols.
func MSEDx(dst, out, target []float32, cols int) {
	scale := 2 / float32(cols)
	for i, o := range out {
		dst[i] = scale * (o - target[i])
	}
}
