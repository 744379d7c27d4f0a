// Package kernels holds the reference bodies of the kernel catalog as plain
// loops over host slices.
//
// The host backend runs them directly (splitting work over the batch axis),
// and the device emulator runs them for each launched kernel, so both
// backends share one numerical definition. Spatial kernels take a batch
// range [b0, b1) so callers can partition work; elementwise kernels operate
// on whatever sub-slices they are given.
package kernels

// Geometry is an NCHW extent.
type Geometry struct {
	B, C, H, W int
}

// PerBatch returns C*H*W.
func (g Geometry) PerBatch() int {
	return g.C * g.H * g.W
}

// Plane returns H*W.
func (g Geometry) Plane() int {
	return g.H * g.W
}

// Fill sets every element of dst to v.
func Fill(dst []float32, v float32) {
	for i := range dst {
		dst[i] = v
	}
}

// Copy copies src into dst.
func Copy(dst, src []float32) {
	copy(dst, src)
}

// Add writes a + b into dst.
func Add(dst, a, b []float32) {
	for i := range dst {
		dst[i] = a[i] + b[i]
	}
}

// Accumulate adds src into dst.
func Accumulate(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// Dot2D computes c = a·b for row-major a (m×k) and b (k×n).
func Dot2D(c, a, b []float32, m, k, n int) {
	for i := 0; i < m; i++ {
		row := c[i*n : (i+1)*n]
		for j := range row {
			row[j] = 0
		}
		for p := 0; p < k; p++ {
			av := a[i*k+p]
			if av == 0 {
				continue
			}
			brow := b[p*n : (p+1)*n]
			for j, bv := range brow {
				row[j] += av * bv
			}
		}
	}
}

// Transpose writes the transpose of a rows×cols matrix into dst (cols×rows).
func Transpose(dst, src []float32, rows, cols int) {
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dst[j*rows+i] = src[i*cols+j]
		}
	}
}

// MaxRows writes the maximum of each row of src into dst.
func MaxRows(dst, src []float32, rows, cols int) {
	for r := 0; r < rows; r++ {
		row := src[r*cols : (r+1)*cols]
		m := row[0]
		for _, v := range row[1:] {
			if v > m {
				m = v
			}
		}
		dst[r] = m
	}
}

// SumRows writes the sum of each row of src into dst.
func SumRows(dst, src []float32, rows, cols int) {
	for r := 0; r < rows; r++ {
		var s float32
		for _, v := range src[r*cols : (r+1)*cols] {
			s += v
		}
		dst[r] = s
	}
}
