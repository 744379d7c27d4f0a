package kernels

// Pad writes src (geometry g) into dst with every source pixel spaced by
// dilation and the top/left margins applied. dst has geometry
// (g.B, g.C, outH, outW) and must be zeroed by the caller for the batch range.
func Pad(dst, src []float32, g Geometry, top, left, dilation, outH, outW, b0, b1 int) {
	outPlane := outH * outW
	for b := b0; b < b1; b++ {
		for c := 0; c < g.C; c++ {
			sBase := (b*g.C + c) * g.Plane()
			dBase := (b*g.C + c) * outPlane
			for i := 0; i < g.H; i++ {
				row := dBase + (top+i*dilation)*outW + left
				for j := 0; j < g.W; j++ {
					dst[row+j*dilation] = src[sBase+i*g.W+j]
				}
			}
		}
	}
}

// Crop copies the interior of src (inH × inW maps) starting at (top, left)
// into dst with geometry g.
func Crop(dst, src []float32, g Geometry, top, left, inH, inW, b0, b1 int) {
	inPlane := inH * inW
	for b := b0; b < b1; b++ {
		for c := 0; c < g.C; c++ {
			sBase := (b*g.C+c)*inPlane + top*inW + left
			dBase := (b*g.C + c) * g.Plane()
			for i := 0; i < g.H; i++ {
				copy(dst[dBase+i*g.W:dBase+(i+1)*g.W], src[sBase+i*inW:sBase+i*inW+g.W])
			}
		}
	}
}

// Im2Col unfolds every kh×kw window (stride s) of src into one column of dst.
//
// dst is (C*kh*kw) rows × (B*oh*ow) columns; row c*kh*kw + i*kw + j holds
// channel c at window offset (i, j), column b*oh*ow + y*ow + x holds the
// window at output position (y, x) of batch item b.
func Im2Col(dst, src []float32, g Geometry, kh, kw, stride, oh, ow, b0, b1 int) {
	cols := g.B * oh * ow
	for b := b0; b < b1; b++ {
		for c := 0; c < g.C; c++ {
			sBase := (b*g.C + c) * g.Plane()
			for i := 0; i < kh; i++ {
				for j := 0; j < kw; j++ {
					row := (c*kh+i)*kw + j
					dRow := dst[row*cols+b*oh*ow : row*cols+(b+1)*oh*ow]
					for y := 0; y < oh; y++ {
						sRow := sBase + (y*stride+i)*g.W + j
						for x := 0; x < ow; x++ {
							dRow[y*ow+x] = src[sRow+x*stride]
						}
					}
				}
			}
		}
	}
}

// Col2Im folds a C × (B*H*W) matrix into NCHW: dst[b, c, p] = src[c, b*H*W + p].
func Col2Im(dst, src []float32, g Geometry, b0, b1 int) {
	plane := g.Plane()
	cols := g.B * plane
	for b := b0; b < b1; b++ {
		for c := 0; c < g.C; c++ {
			copy(dst[(b*g.C+c)*plane:(b*g.C+c+1)*plane], src[c*cols+b*plane:c*cols+(b+1)*plane])
		}
	}
}

// ChannelRows is the inverse of Col2Im: dst[c, b*H*W + p] = src[b, c, p].
func ChannelRows(dst, src []float32, g Geometry, b0, b1 int) {
	plane := g.Plane()
	cols := g.B * plane
	for b := b0; b < b1; b++ {
		for c := 0; c < g.C; c++ {
			copy(dst[c*cols+b*plane:c*cols+(b+1)*plane], src[(b*g.C+c)*plane:(b*g.C+c+1)*plane])
		}
	}
}

// Rotate180 writes dst[c, f, i, j] = src[f, c, kh-1-i, kw-1-j] for filters
// src of shape (F, C, kh, kw).
func Rotate180(dst, src []float32, f, c, kh, kw int) {
	k := kh * kw
	for fi := 0; fi < f; fi++ {
		for ci := 0; ci < c; ci++ {
			s := src[(fi*c+ci)*k : (fi*c+ci+1)*k]
			d := dst[(ci*f+fi)*k : (ci*f+fi+1)*k]
			for i := 0; i < kh; i++ {
				for j := 0; j < kw; j++ {
					d[i*kw+j] = s[(kh-1-i)*kw+(kw-1-j)]
				}
			}
		}
	}
}

// MaxPool writes each window maximum of src into dst and its flat source
// offset (across the whole tensor) into index. Ties keep the first maximum
// in row-major window order.
func MaxPool(dst, index, src []float32, g Geometry, k, stride, oh, ow, b0, b1 int) {
	for b := b0; b < b1; b++ {
		for c := 0; c < g.C; c++ {
			sBase := (b*g.C + c) * g.Plane()
			dBase := (b*g.C + c) * oh * ow
			for y := 0; y < oh; y++ {
				for x := 0; x < ow; x++ {
					best := sBase + y*stride*g.W + x*stride
					for i := 0; i < k; i++ {
						for j := 0; j < k; j++ {
							at := sBase + (y*stride+i)*g.W + x*stride + j
							if src[at] > src[best] {
								best = at
							}
						}
					}
					dst[dBase+y*ow+x] = src[best]
					index[dBase+y*ow+x] = float32(best)
				}
			}
		}
	}
}

// MaxPoolDx scatters dy[i] into dst[index[i]]. dst must be zeroed first;
// overlapping windows that chose the same source accumulate.
func MaxPoolDx(dst, dy, index []float32) {
	for i, g := range dy {
		dst[int(index[i])] += g
	}
}

// PoolIndexOutOfRange returns the first position of index that does not
// point into its own (batch, channel) plane of the pooling input, or -1.
// index holds outPlane entries per plane; the input has inPlane.
func PoolIndexOutOfRange(index []float32, inPlane, outPlane int) int {
	for i, v := range index {
		lo := (i / outPlane) * inPlane
		if !(v >= float32(lo) && v < float32(lo+inPlane)) {
			return i
		}
	}
	return -1
}

// AddBias writes src + bias into dst, where bias[l] applies to the inner
// consecutive elements of every l-th block: dst[i] = src[i] + bias[(i/inner)%len(bias)].
func AddBias(dst, src, bias []float32, inner int) {
	l := len(bias)
	for i := range dst {
		dst[i] = src[i] + bias[(i/inner)%l]
	}
}

// BiasDx accumulates the bias gradient: db[l] += Σ dy over the elements bias l touched.
func BiasDx(db, dy []float32, inner int) {
	l := len(db)
	for i, g := range dy {
		db[(i/inner)%l] += g
	}
}
