package tensor

import "fmt"

// Operand validation and shape inference shared by all backends, so that
// both backends accept and reject exactly the same calls.

// CheckOperands verifies that every operand is non-nil and stored on the
// device served by ops.
func CheckOperands(ops Ops, op string, operands ...*Tensor) error {
	for i, t := range operands {
		if t == nil || t.storage == nil {
			return fmt.Errorf("%s: %w: operand %d is nil", op, ErrInvalidArgument, i)
		}
		if t.storage.Device() != ops.Device() {
			return fmt.Errorf("%s: %w: operand %d is on %s, backend %s serves %s",
				op, ErrUnsupportedStorage, i, t.storage.Device(), ops.Name(), ops.Device())
		}
	}
	return nil
}

// CheckAllocated verifies that every input operand holds a buffer.
func CheckAllocated(op string, operands ...*Tensor) error {
	for i, t := range operands {
		if !t.Allocated() {
			return fmt.Errorf("%s: %w: operand %d is not allocated", op, ErrInvalidArgument, i)
		}
	}
	return nil
}

// PrepareResult allocates result for shape if it is absent, otherwise checks
// that its shape matches.
func PrepareResult(op string, result *Tensor, shape Shape) error {
	if !result.Allocated() {
		if err := result.Allocate(shape); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	}
	if !result.Shape().Equal(shape) {
		return fmt.Errorf("%s: %w: result is %v, want %v", op, ErrShapeMismatch, result.Shape(), shape)
	}
	return nil
}

// SameShape checks that every operand has the shape of the first one.
func SameShape(op string, operands ...*Tensor) error {
	if len(operands) == 0 {
		return nil
	}
	want := operands[0].Shape()
	for i, t := range operands[1:] {
		if !t.Shape().Equal(want) {
			return fmt.Errorf("%s: %w: operand %d is %v, want %v", op, ErrShapeMismatch, i+1, t.Shape(), want)
		}
	}
	return nil
}

// Dot2DShape returns the result shape of a per-batch matrix product.
// Both operands must have a single channel; b is broadcast when it has one batch item.
func Dot2DShape(a, b Shape) (Shape, error) {
	if a.Channels != 1 || b.Channels != 1 {
		return Shape{}, fmt.Errorf("dot2d: %w: operands must have one channel, got %v and %v", ErrShapeMismatch, a, b)
	}
	if a.Width != b.Height {
		return Shape{}, fmt.Errorf("dot2d: %w: inner dimensions %v · %v", ErrShapeMismatch, a, b)
	}
	if b.Batch != 1 && b.Batch != a.Batch {
		return Shape{}, fmt.Errorf("dot2d: %w: batch %d cannot pair with %d", ErrShapeMismatch, b.Batch, a.Batch)
	}
	return NewShape(a.Batch, 1, a.Height, b.Width), nil
}

// TransposeShape returns the per-batch transpose shape.
func TransposeShape(a Shape) (Shape, error) {
	if a.Channels != 1 {
		return Shape{}, fmt.Errorf("transpose: %w: operand must have one channel, got %v", ErrShapeMismatch, a)
	}
	return NewShape(a.Batch, 1, a.Width, a.Height), nil
}

// RowShape returns the shape of a per-batch-row reduction.
func RowShape(a Shape) Shape {
	return NewShape(a.Batch, 1, 1, 1)
}

// PadShape returns the shape of x after dilation and zero padding.
func PadShape(x Shape, pad Padding, dilation int) (Shape, error) {
	if err := pad.Validate(); err != nil {
		return Shape{}, fmt.Errorf("pad: %w", err)
	}
	if dilation < 1 {
		return Shape{}, fmt.Errorf("pad: %w: dilation %d", ErrInvalidArgument, dilation)
	}
	h := (x.Height-1)*dilation + 1 + pad.Top + pad.Bottom
	w := (x.Width-1)*dilation + 1 + pad.Left + pad.Right
	return NewShape(x.Batch, x.Channels, h, w), nil
}

// CropShape returns the shape of dy with the padding removed.
func CropShape(dy Shape, pad Padding) (Shape, error) {
	if err := pad.Validate(); err != nil {
		return Shape{}, fmt.Errorf("crop: %w", err)
	}
	s := NewShape(dy.Batch, dy.Channels, dy.Height-pad.Top-pad.Bottom, dy.Width-pad.Left-pad.Right)
	if s.Height < 1 || s.Width < 1 {
		return Shape{}, fmt.Errorf("crop: %w: padding %+v exceeds %v", ErrShapeMismatch, pad, dy)
	}
	return s, nil
}

// WindowOutput returns the number of window positions along one axis.
func WindowOutput(size, kernel, stride int) int {
	return (size-kernel)/stride + 1
}

func checkWindow(op string, x Shape, kernelH, kernelW, stride int) error {
	if kernelH < 1 || kernelW < 1 || stride < 1 {
		return fmt.Errorf("%s: %w: kernel %dx%d stride %d", op, ErrInvalidArgument, kernelH, kernelW, stride)
	}
	if kernelH > x.Height || kernelW > x.Width {
		return fmt.Errorf("%s: %w: kernel %dx%d larger than input %v", op, ErrShapeMismatch, kernelH, kernelW, x)
	}
	return nil
}

// Im2ColShape returns the column matrix shape (1, 1, C*kh*kw, B*oh*ow).
func Im2ColShape(x Shape, kernelH, kernelW, stride int) (Shape, error) {
	if err := checkWindow("im2col", x, kernelH, kernelW, stride); err != nil {
		return Shape{}, err
	}
	oh := WindowOutput(x.Height, kernelH, stride)
	ow := WindowOutput(x.Width, kernelW, stride)
	return NewShape(1, 1, x.Channels*kernelH*kernelW, x.Batch*oh*ow), nil
}

// Col2ImShape checks that cols can be folded into shape.
func Col2ImShape(cols, shape Shape) (Shape, error) {
	want := ChannelRowsShape(shape)
	if !cols.Equal(want) {
		return Shape{}, fmt.Errorf("col2im: %w: columns %v cannot fold into %v (want %v)", ErrShapeMismatch, cols, shape, want)
	}
	return shape, nil
}

// ChannelRowsShape returns (1, 1, C, B*H*W): one row per channel.
func ChannelRowsShape(x Shape) Shape {
	return NewShape(1, 1, x.Channels, x.Batch*x.Plane())
}

// Rotate180Shape swaps the filter and channel axes.
func Rotate180Shape(filters Shape) Shape {
	return NewShape(filters.Channels, filters.Batch, filters.Height, filters.Width)
}

// MaxPoolIndexLimit is the largest pooling input the argmax index can
// address: indices are stored as float32, exact up to 2^24.
const MaxPoolIndexLimit = 1 << 24

// MaxPoolShape returns the pooled shape.
func MaxPoolShape(x Shape, kernel, stride int) (Shape, error) {
	if err := checkWindow("maxpool", x, kernel, kernel, stride); err != nil {
		return Shape{}, err
	}
	if x.Size() > MaxPoolIndexLimit {
		return Shape{}, fmt.Errorf("maxpool: %w: input %v exceeds %d indexable elements", ErrInvalidArgument, x, MaxPoolIndexLimit)
	}
	return NewShape(x.Batch, x.Channels, WindowOutput(x.Height, kernel, stride), WindowOutput(x.Width, kernel, stride)), nil
}

// ConvOutputShape returns (B, filters, (H-kh)/s+1, (W-kw)/s+1).
func ConvOutputShape(x Shape, filters, kernelH, kernelW, stride int) (Shape, error) {
	if err := checkWindow("convolution", x, kernelH, kernelW, stride); err != nil {
		return Shape{}, err
	}
	if filters < 1 {
		return Shape{}, fmt.Errorf("convolution: %w: %d filters", ErrInvalidArgument, filters)
	}
	return NewShape(x.Batch, filters, WindowOutput(x.Height, kernelH, stride), WindowOutput(x.Width, kernelW, stride)), nil
}

// BiasInner returns the number of consecutive elements sharing one bias
// value: H*W when bias is per channel, 1 when bias is per feature (C*H*W).
func BiasInner(x Shape, biasSize int) (int, error) {
	switch biasSize {
	case x.PerBatch():
		return 1, nil
	case x.Channels:
		return x.Plane(), nil
	default:
		return 0, fmt.Errorf("bias: %w: %d values for %v", ErrShapeMismatch, biasSize, x)
	}
}

// CheckUpdate validates an optimizer step before any operand is touched.
func CheckUpdate(u Update, auxCount int) error {
	want := u.Kind.AuxCount()
	if want < 0 {
		return fmt.Errorf("update: %w: unknown rule %d", ErrInvalidArgument, int(u.Kind))
	}
	if auxCount != want {
		return fmt.Errorf("update: %w: rule %d takes %d state tensors, got %d", ErrInvalidArgument, int(u.Kind), want, auxCount)
	}
	if u.Kind == AdamUpdate && u.Iteration < 1 {
		return fmt.Errorf("update: %w: adam iteration %d, must start at 1", ErrInvalidArgument, u.Iteration)
	}
	return nil
}
