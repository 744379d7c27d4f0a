package tensor

import "fmt"

// Ops is the operation vocabulary every backend implements.
//
// The backend boundary sits at the operation level: each method validates its
// operands, allocates the result storage if it is absent (sized by the
// operation's shape rule), and writes the result in place. Calling an
// operation twice with the same operands reuses the same result buffer.
//
// Implementations:
//   - cpu.CPUBackend: loops over host memory, parallel over the batch axis
//   - device.Backend: named kernel launches on one ordered device stream
type Ops interface {
	// Name returns a human-readable backend name.
	Name() string

	// Device returns the device whose storages this backend accepts.
	Device() Device

	// NewStorage returns an unallocated storage owned by this backend.
	NewStorage() Storage

	// Synchronize blocks until every queued operation has completed.
	Synchronize() error

	// Elementwise
	Fill(t *Tensor, value float32) error
	Copy(dst, src *Tensor) error
	Add(a, b, result *Tensor) error
	Accumulate(dst, src *Tensor) error

	// Matrix
	Dot2D(a, b, result *Tensor) error
	Transpose(a, result *Tensor) error

	// Per-batch-row reductions, result shape (B, 1, 1, 1)
	Max(a, result *Tensor) error
	Sum(a, result *Tensor) error

	// Spatial rearrangement
	Pad(x *Tensor, pad Padding, dilation int, result *Tensor) error
	Crop(dy *Tensor, pad Padding, result *Tensor) error
	Im2Col(x *Tensor, kernelH, kernelW, stride int, result *Tensor) error
	Col2Im(cols *Tensor, shape Shape, result *Tensor) error
	ChannelRows(x, result *Tensor) error
	Rotate180(filters, result *Tensor) error

	// Pooling
	MaxPool(x *Tensor, kernel, stride int, result, index *Tensor) error
	MaxPoolDx(dy, index, result *Tensor) error

	// Activations and classification head
	Activation(kind ActivationKind, x, result *Tensor) error
	ActivationDx(kind ActivationKind, x, y, dy, result *Tensor) error
	Softmax(x, rowMax, result *Tensor) error
	SoftmaxDx(y, dy, result *Tensor) error
	Loss(kind LossKind, output, target, result *Tensor) error
	LossDx(kind LossKind, output, target, result *Tensor) error

	// Bias
	AddBias(x, bias, result *Tensor) error
	BiasDx(dy, biasGradient *Tensor) error

	// Update applies one optimizer rule to weights in place.
	Update(u Update, weights, gradients *Tensor, aux ...*Tensor) error
}

// ActivationKind selects an elementwise nonlinearity.
type ActivationKind int

// Supported activations.
const (
	ReLU ActivationKind = iota
	LeakyReLU
	Sigmoid
	Tanh
)

// LeakySlope is the negative-side slope of LeakyReLU.
const LeakySlope = 0.01

// String returns the activation name.
func (k ActivationKind) String() string {
	switch k {
	case ReLU:
		return "relu"
	case LeakyReLU:
		return "leaky_relu"
	case Sigmoid:
		return "sigmoid"
	case Tanh:
		return "tanh"
	default:
		return fmt.Sprintf("activation(%d)", int(k))
	}
}

// Valid reports whether k is a known activation.
func (k ActivationKind) Valid() bool {
	return k >= ReLU && k <= Tanh
}

// ParseActivation returns the activation named by s, as produced by String.
func ParseActivation(s string) (ActivationKind, error) {
	for k := ReLU; k <= Tanh; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown activation %q", ErrInvalidArgument, s)
}

// LossKind selects a per-row loss function.
type LossKind int

// Supported losses.
const (
	// CrossEntropy is -Σ t*log(o+ε). Its derivative -t/o does not guard the
	// denominator; pair it with a softmax output.
	CrossEntropy LossKind = iota
	// MSE is the row mean of (o-t)².
	MSE
)

// CrossEntropyEpsilon guards log(0) in the cross-entropy forward pass.
const CrossEntropyEpsilon = 1e-7

// String returns the loss name.
func (k LossKind) String() string {
	switch k {
	case CrossEntropy:
		return "cross_entropy"
	case MSE:
		return "mse"
	default:
		return fmt.Sprintf("loss(%d)", int(k))
	}
}

// Valid reports whether k is a known loss.
func (k LossKind) Valid() bool {
	return k == CrossEntropy || k == MSE
}

// ParseLoss returns the loss named by s, as produced by String.
func ParseLoss(s string) (LossKind, error) {
	for _, k := range []LossKind{CrossEntropy, MSE} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown loss %q", ErrInvalidArgument, s)
}

// Padding is the number of zero rows/columns added on each side of a feature map.
type Padding struct {
	Top, Bottom, Left, Right int
}

// Uniform returns a padding of n on every side.
func Uniform(n int) Padding {
	return Padding{Top: n, Bottom: n, Left: n, Right: n}
}

// Validate checks that no side is negative.
func (p Padding) Validate() error {
	if p.Top < 0 || p.Bottom < 0 || p.Left < 0 || p.Right < 0 {
		return fmt.Errorf("%w: negative padding %+v", ErrInvalidArgument, p)
	}
	return nil
}

// UpdateKind selects an optimizer rule.
type UpdateKind int

// Supported optimizer rules.
const (
	GradientDescentUpdate UpdateKind = iota
	AdaGradUpdate
	AdaDeltaUpdate
	AdamUpdate
	RPropUpdate
)

// AuxCount returns the number of auxiliary tensors the rule reads and writes.
func (k UpdateKind) AuxCount() int {
	switch k {
	case GradientDescentUpdate:
		return 0
	case AdaGradUpdate, AdaDeltaUpdate:
		return 1
	case AdamUpdate, RPropUpdate:
		return 2
	default:
		return -1
	}
}

// Update carries the hyperparameters of one correction step.
//
// Decay1 and Decay2 are rule specific: AdaDelta uses Decay1 as γ, Adam uses
// them as α and β. RProp reads Growth/Shrink/MaxStep/MinStep.
type Update struct {
	Kind         UpdateKind
	LearningRate float32
	Epsilon      float32
	Decay1       float32
	Decay2       float32
	Iteration    int

	Growth  float32
	Shrink  float32
	MaxStep float32
	MinStep float32
}
