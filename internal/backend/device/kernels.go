package device

import "github.com/born-ml/convnet/internal/tensor"

// Kernel catalog. Buffers come first, then int32 and float32 scalars, in the
// order listed. Geometry arguments B, C, H, W describe the NCHW input unless
// noted otherwise.
const (
	// fill(dst; n, value)
	KernelFill = "fill"
	// copy(dst, src; n)
	KernelCopy = "copy"
	// add(dst, a, b; n)
	KernelAdd = "add"
	// accumulate(dst, src; n)
	KernelAccumulate = "accumulate"
	// dot2d(c, a, b; batch, m, k, n, bBatched)
	KernelDot2D = "dot2d"
	// transpose(dst, src; batch, rows, cols)
	KernelTranspose = "transpose"
	// max_rows(dst, src; rows, cols)
	KernelMaxRows = "max_rows"
	// sum_rows(dst, src; rows, cols)
	KernelSumRows = "sum_rows"
	// pad(dst, src; B, C, H, W, top, left, dilation, outH, outW) writes every dst element.
	KernelPad = "pad"
	// crop(dst, src; B, C, H, W, top, left, inH, inW) with B..W the cropped geometry.
	KernelCrop = "crop"
	// img2Col(dst, src; B, C, H, W, kh, kw, stride, oh, ow)
	KernelIm2Col = "img2Col"
	// col2Img(dst, src; B, C, H, W) with B..W the folded geometry.
	KernelCol2Im = "col2Img"
	// channel_rows(dst, src; B, C, H, W)
	KernelChannelRows = "channel_rows"
	// rotate180(dst, src; F, C, kh, kw)
	KernelRotate180 = "rotate180"
	// max_pool_forward(dst, index, src; B, C, H, W, k, stride, oh, ow)
	KernelMaxPoolForward = "max_pool_forward"
	// max_pool_backward(dst, dy, index; planes, inPlane, outPlane) overwrites dst.
	KernelMaxPoolBackward = "max_pool_backward"
	// softmax_forward(dst, src, rowMax; rows, cols)
	KernelSoftmaxForward = "softmax_forward"
	// softmax_backward(dst, y, dy; rows, cols)
	KernelSoftmaxBackward = "softmax_backward"
	// cross_entropy(dst, out, target; rows, cols, eps)
	KernelCrossEntropy = "cross_entropy"
	// cross_entropy_backward(dst, out, target; n)
	KernelCrossEntropyBackward = "cross_entropy_backward"
	// mse(dst, out, target; rows, cols)
	KernelMSE = "mse"
	// mse_backward(dst, out, target; n, cols)
	KernelMSEBackward = "mse_backward"
	// add_bias(dst, src, bias; n, inner, biasLen)
	KernelAddBias = "add_bias"
	// bias_backward(db, dy; n, inner, biasLen) accumulates into db.
	KernelBiasBackward = "bias_backward"
	// gradient_descent(w, g; n, lr)
	KernelGradientDescent = "gradient_descent"
	// adagrad(w, g, hist; n, lr, eps)
	KernelAdaGrad = "adagrad"
	// adadelta(w, g, esq; n, lr, gamma, eps)
	KernelAdaDelta = "adadelta"
	// adam(w, g, s, d; n, lr, alpha, beta, eps, c1, c2)
	KernelAdam = "adam"
	// rprop(w, g, prev, step; n, growth, shrink, maxStep, minStep)
	KernelRProp = "rprop"
)

// ActivationKernel returns the forward kernel of kind:
// {relu,leaky_relu,sigmoid,tanh}_forward(dst, src; n).
func ActivationKernel(kind tensor.ActivationKind) string {
	return kind.String() + "_forward"
}

// ActivationDxKernel returns the backward kernel of kind:
// {relu,leaky_relu,sigmoid,tanh}_backward(dst, x, y, dy; n).
func ActivationDxKernel(kind tensor.ActivationKind) string {
	return kind.String() + "_backward"
}

// UpdateKernel returns the optimizer kernel of kind.
func UpdateKernel(kind tensor.UpdateKind) string {
	switch kind {
	case tensor.GradientDescentUpdate:
		return KernelGradientDescent
	case tensor.AdaGradUpdate:
		return KernelAdaGrad
	case tensor.AdaDeltaUpdate:
		return KernelAdaDelta
	case tensor.AdamUpdate:
		return KernelAdam
	case tensor.RPropUpdate:
		return KernelRProp
	default:
		return ""
	}
}

// Catalog lists every kernel name a Launcher must implement.
func Catalog() []string {
	names := []string{
		KernelFill, KernelCopy, KernelAdd, KernelAccumulate, KernelDot2D, KernelTranspose,
		KernelMaxRows, KernelSumRows, KernelPad, KernelCrop, KernelIm2Col, KernelCol2Im,
		KernelChannelRows, KernelRotate180, KernelMaxPoolForward, KernelMaxPoolBackward,
		KernelSoftmaxForward, KernelSoftmaxBackward, KernelCrossEntropy, KernelCrossEntropyBackward,
		KernelMSE, KernelMSEBackward, KernelAddBias, KernelBiasBackward,
		KernelGradientDescent, KernelAdaGrad, KernelAdaDelta, KernelAdam, KernelRProp,
	}
	for _, k := range []tensor.ActivationKind{tensor.ReLU, tensor.LeakyReLU, tensor.Sigmoid, tensor.Tanh} {
		names = append(names, ActivationKernel(k), ActivationDxKernel(k))
	}
	return names
}
