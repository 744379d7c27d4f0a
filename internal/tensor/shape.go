package tensor

import (
	"fmt"
	"math"
)

// MaxElements bounds the element count of any shape. Kernel arguments are
// 32-bit, so every offset into a tensor must fit in an int32.
const MaxElements = math.MaxInt32

// Shape describes a 4-axis tensor in NCHW order.
//
// Shapes are values: two shapes are equal when all four dimensions match.
type Shape struct {
	Batch    int
	Channels int
	Height   int
	Width    int
}

// NewShape creates a shape from its four dimensions.
func NewShape(batch, channels, height, width int) Shape {
	return Shape{Batch: batch, Channels: channels, Height: height, Width: width}
}

// Size returns the total number of elements.
func (s Shape) Size() int {
	return s.Batch * s.Channels * s.Height * s.Width
}

// Validate checks that every dimension is at least 1 and that the element
// count does not exceed MaxElements.
func (s Shape) Validate() error {
	if s.Batch < 1 || s.Channels < 1 || s.Height < 1 || s.Width < 1 {
		return fmt.Errorf("%w: invalid shape %v (all dimensions must be >= 1)", ErrInvalidArgument, s)
	}
	size := 1
	for _, d := range [4]int{s.Batch, s.Channels, s.Height, s.Width} {
		if d > MaxElements/size {
			return fmt.Errorf("%w: shape %v exceeds %d elements", ErrInvalidArgument, s, MaxElements)
		}
		size *= d
	}
	return nil
}

// Equal reports whether two shapes are structurally equal.
func (s Shape) Equal(other Shape) bool {
	return s == other
}

// IsZero reports whether the shape is the zero value (an unallocated storage).
func (s Shape) IsZero() bool {
	return s == Shape{}
}

// PerBatch returns the number of elements in one batch item (C*H*W).
func (s Shape) PerBatch() int {
	return s.Channels * s.Height * s.Width
}

// Plane returns the number of elements in one feature map (H*W).
func (s Shape) Plane() int {
	return s.Height * s.Width
}

// Index2 returns the flat offset of (i, j) in the trailing height × width matrix.
func (s Shape) Index2(i, j int) int {
	return i*s.Width + j
}

// Index3 returns the flat offset of (c, i, j) within the first batch item.
func (s Shape) Index3(c, i, j int) int {
	return c*s.Height*s.Width + i*s.Width + j
}

// Index4 returns the flat offset of (b, c, i, j).
func (s Shape) Index4(b, c, i, j int) int {
	return b*s.Channels*s.Height*s.Width + s.Index3(c, i, j)
}

// String formats the shape as BxCxHxW.
func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%dx%d", s.Batch, s.Channels, s.Height, s.Width)
}
