package tensor

import "fmt"

// ConvScratch holds the intermediate buffers of one convolution. It is
// created once per convolution layer and reused by every forward/backward
// call; each buffer allocates on first use.
type ConvScratch struct {
	// Columns is the im2col of the last forward input, reused by ConvDw.
	Columns *Tensor
	// Product is filters · Columns before folding, (1, 1, F, B*oh*ow).
	Product *Tensor

	PaddedDy  *Tensor
	DyColumns *Tensor
	Rotated   *Tensor
	DxProduct *Tensor

	DyRows  *Tensor
	DyRowsT *Tensor
	DwT     *Tensor

	filters2D viewCache
	rotated2D viewCache
	dw2D      viewCache
}

// NewConvScratch creates unallocated scratch buffers on ops.
func NewConvScratch(ops Ops) *ConvScratch {
	return &ConvScratch{
		Columns:   New(ops),
		Product:   New(ops),
		PaddedDy:  New(ops),
		DyColumns: New(ops),
		Rotated:   New(ops),
		DxProduct: New(ops),
		DyRows:    New(ops),
		DyRowsT:   New(ops),
		DwT:       New(ops),
	}
}

// viewCache keeps one 2-D view of a tensor so repeated calls do not
// rebuild it.
type viewCache struct {
	src  *Tensor
	view *Tensor
}

func (c *viewCache) get(src *Tensor, shape Shape) (*Tensor, error) {
	if c.src == src && c.view != nil && c.view.Shape().Equal(shape) {
		return c.view, nil
	}
	v, err := src.View(shape)
	if err != nil {
		return nil, err
	}
	c.src, c.view = src, v
	return v, nil
}

// filterMatrix is (1, 1, F, C*kh*kw).
func filterMatrix(filters Shape) Shape {
	return NewShape(1, 1, filters.Batch, filters.PerBatch())
}

// ConvForward computes result = filters ⊛ x without implicit padding:
// im2col, one dense product, then a fold into (B, F, oh, ow).
//
// filters is (F, C, kh, kw).
func ConvForward(x, filters *Tensor, stride int, s *ConvScratch, result *Tensor) error {
	ops := x.Ops()
	if err := CheckOperands(ops, "convolution", x, filters, result); err != nil {
		return err
	}
	if err := CheckAllocated("convolution", x, filters); err != nil {
		return err
	}
	xs, fs := x.Shape(), filters.Shape()
	if fs.Channels != xs.Channels {
		return fmt.Errorf("convolution: %w: filters %v for input %v", ErrShapeMismatch, fs, xs)
	}
	out, err := ConvOutputShape(xs, fs.Batch, fs.Height, fs.Width, stride)
	if err != nil {
		return err
	}
	if err := PrepareResult("convolution", result, out); err != nil {
		return err
	}
	if err := ops.Im2Col(x, fs.Height, fs.Width, stride, s.Columns); err != nil {
		return err
	}
	f2d, err := s.filters2D.get(filters, filterMatrix(fs))
	if err != nil {
		return fmt.Errorf("convolution: %w", err)
	}
	if err := ops.Dot2D(f2d, s.Columns, s.Product); err != nil {
		return err
	}
	return ops.Col2Im(s.Product, out, result)
}

// ConvDx computes the input gradient of a convolution.
//
// dy is dilated by the stride and padded by kernel-1 on each side (plus the
// rows/columns the forward stride skipped), unfolded with stride 1, and
// multiplied by the 180°-rotated, channel-swapped filters. For stride 1 the
// padding equals inputWidth - dyWidth.
func ConvDx(dy, filters *Tensor, stride int, input Shape, s *ConvScratch, dx *Tensor) error {
	ops := dy.Ops()
	if err := CheckOperands(ops, "convolution dx", dy, filters, dx); err != nil {
		return err
	}
	if err := CheckAllocated("convolution dx", dy, filters); err != nil {
		return err
	}
	fs := filters.Shape()
	want, err := ConvOutputShape(input, fs.Batch, fs.Height, fs.Width, stride)
	if err != nil {
		return err
	}
	if !dy.Shape().Equal(want) {
		return fmt.Errorf("convolution dx: %w: dy %v, want %v", ErrShapeMismatch, dy.Shape(), want)
	}
	if err := PrepareResult("convolution dx", dx, input); err != nil {
		return err
	}
	rh := (input.Height - fs.Height) % stride
	rw := (input.Width - fs.Width) % stride
	pad := Padding{
		Top:    fs.Height - 1,
		Bottom: fs.Height - 1 + rh,
		Left:   fs.Width - 1,
		Right:  fs.Width - 1 + rw,
	}
	if err := ops.Pad(dy, pad, stride, s.PaddedDy); err != nil {
		return err
	}
	if err := ops.Im2Col(s.PaddedDy, fs.Height, fs.Width, 1, s.DyColumns); err != nil {
		return err
	}
	if err := ops.Rotate180(filters, s.Rotated); err != nil {
		return err
	}
	rot2d, err := s.rotated2D.get(s.Rotated, filterMatrix(s.Rotated.Shape()))
	if err != nil {
		return fmt.Errorf("convolution dx: %w", err)
	}
	if err := ops.Dot2D(rot2d, s.DyColumns, s.DxProduct); err != nil {
		return err
	}
	return ops.Col2Im(s.DxProduct, input, dx)
}

// ConvDw computes the filter gradient of a convolution from dy and the
// columns recorded by the last ConvForward. dw is overwritten, not
// accumulated; it takes the filter shape.
func ConvDw(dy *Tensor, filterShape Shape, s *ConvScratch, dw *Tensor) error {
	ops := dy.Ops()
	if err := CheckOperands(ops, "convolution dw", dy, dw); err != nil {
		return err
	}
	if err := CheckAllocated("convolution dw", dy, s.Columns); err != nil {
		return err
	}
	if dy.Shape().Channels != filterShape.Batch {
		return fmt.Errorf("convolution dw: %w: dy %v for filters %v", ErrShapeMismatch, dy.Shape(), filterShape)
	}
	if err := PrepareResult("convolution dw", dw, filterShape); err != nil {
		return err
	}
	if err := ops.ChannelRows(dy, s.DyRows); err != nil {
		return err
	}
	if err := ops.Transpose(s.DyRows, s.DyRowsT); err != nil {
		return err
	}
	if err := ops.Dot2D(s.Columns, s.DyRowsT, s.DwT); err != nil {
		return err
	}
	dw2d, err := s.dw2D.get(dw, filterMatrix(filterShape))
	if err != nil {
		return fmt.Errorf("convolution dw: %w", err)
	}
	return ops.Transpose(s.DwT, dw2d)
}
