//go:build windows

package webgpu

import (
	"fmt"
	"strings"

	"github.com/born-ml/convnet/internal/backend/device"
	"github.com/born-ml/convnet/internal/tensor"
)

// workgroupSize is the number of threads per workgroup for every shader.
const workgroupSize = device.BlockSize

// kernelShader is one catalog kernel in WGSL.
//
// Buffers bind in argument order at bindings 0..len(buffers)-1; the scalars
// follow in a uniform Params struct (ints first, then floats) at the next
// binding. The body sees the flat thread index i and must bounds-check it.
// Every binding must be referenced by the body: pipelines use automatic
// layouts, which drop unused bindings.
type kernelShader struct {
	buffers []string
	ints    []string
	floats  []string
	body    string
}

// source assembles the full WGSL module.
func (k kernelShader) source() string {
	var sb strings.Builder
	for i, name := range k.buffers {
		fmt.Fprintf(&sb, "@group(0) @binding(%d) var<storage, read_write> %s: array<f32>;\n", i, name)
	}
	sb.WriteString("\nstruct Params {\n")
	for _, name := range k.ints {
		fmt.Fprintf(&sb, "    %s: i32,\n", name)
	}
	for _, name := range k.floats {
		fmt.Fprintf(&sb, "    %s: f32,\n", name)
	}
	sb.WriteString("}\n")
	fmt.Fprintf(&sb, "@group(0) @binding(%d) var<uniform> p: Params;\n\n", len(k.buffers))
	fmt.Fprintf(&sb, "@compute @workgroup_size(%d)\n", workgroupSize)
	sb.WriteString("fn main(@builtin(global_invocation_id) gid: vec3<u32>, @builtin(num_workgroups) nwg: vec3<u32>) {\n")
	fmt.Fprintf(&sb, "    let i = i32(gid.x + gid.y * nwg.x * %du);\n", workgroupSize)
	sb.WriteString(k.body)
	sb.WriteString("}\n")
	return sb.String()
}

// paramsSize is the uniform size in bytes, rounded up to 16.
func (k kernelShader) paramsSize() uint64 {
	n := uint64(4 * (len(k.ints) + len(k.floats)))
	return (n + 15) &^ 15
}

// elementwise builds a kernel over n elements.
func elementwise(buffers []string, floats []string, expr string) kernelShader {
	return kernelShader{
		buffers: buffers,
		ints:    []string{"n"},
		floats:  floats,
		body:    "    if (i >= p.n) { return; }\n" + expr,
	}
}

var shaders = map[string]kernelShader{
	device.KernelFill: elementwise([]string{"dst"}, []string{"value"}, `
    dst[i] = p.value;
`),
	device.KernelCopy: elementwise([]string{"dst", "src"}, nil, `
    dst[i] = src[i];
`),
	device.KernelAdd: elementwise([]string{"dst", "a", "b"}, nil, `
    dst[i] = a[i] + b[i];
`),
	device.KernelAccumulate: elementwise([]string{"dst", "src"}, nil, `
    dst[i] = dst[i] + src[i];
`),

	device.KernelDot2D: {
		buffers: []string{"c", "a", "b"},
		ints:    []string{"batch", "m", "k", "n", "batched"},
		body: `
    let plane = p.m * p.n;
    if (i >= p.batch * plane) { return; }
    let bi = i / plane;
    let row = (i % plane) / p.n;
    let col = i % p.n;
    let aOff = bi * p.m * p.k + row * p.k;
    var bOff = 0;
    if (p.batched != 0) { bOff = bi * p.k * p.n; }
    var acc = 0.0;
    for (var q = 0; q < p.k; q = q + 1) {
        acc = acc + a[aOff + q] * b[bOff + q * p.n + col];
    }
    c[i] = acc;
`,
	},
	device.KernelTranspose: {
		buffers: []string{"dst", "src"},
		ints:    []string{"batch", "rows", "cols"},
		body: `
    let plane = p.rows * p.cols;
    if (i >= p.batch * plane) { return; }
    let bi = i / plane;
    let r = (i % plane) / p.cols;
    let c = i % p.cols;
    dst[bi * plane + c * p.rows + r] = src[i];
`,
	},
	device.KernelMaxRows: {
		buffers: []string{"dst", "src"},
		ints:    []string{"rows", "cols"},
		body: `
    if (i >= p.rows) { return; }
    let base = i * p.cols;
    var m = src[base];
    for (var j = 1; j < p.cols; j = j + 1) {
        m = max(m, src[base + j]);
    }
    dst[i] = m;
`,
	},
	device.KernelSumRows: {
		buffers: []string{"dst", "src"},
		ints:    []string{"rows", "cols"},
		body: `
    if (i >= p.rows) { return; }
    let base = i * p.cols;
    var s = 0.0;
    for (var j = 0; j < p.cols; j = j + 1) {
        s = s + src[base + j];
    }
    dst[i] = s;
`,
	},

	device.KernelPad: {
		buffers: []string{"dst", "src"},
		ints:    []string{"B", "C", "H", "W", "top", "left", "dilation", "outH", "outW"},
		body: `
    let outPlane = p.outH * p.outW;
    if (i >= p.B * p.C * outPlane) { return; }
    let bc = i / outPlane;
    let y = (i % outPlane) / p.outW - p.top;
    let x = i % p.outW - p.left;
    var v = 0.0;
    if (y >= 0 && x >= 0 && y % p.dilation == 0 && x % p.dilation == 0) {
        let sy = y / p.dilation;
        let sx = x / p.dilation;
        if (sy < p.H && sx < p.W) {
            v = src[(bc * p.H + sy) * p.W + sx];
        }
    }
    dst[i] = v;
`,
	},
	device.KernelCrop: {
		buffers: []string{"dst", "src"},
		ints:    []string{"B", "C", "H", "W", "top", "left", "inH", "inW"},
		body: `
    let plane = p.H * p.W;
    if (i >= p.B * p.C * plane) { return; }
    let bc = i / plane;
    let y = (i % plane) / p.W;
    let x = i % p.W;
    dst[i] = src[(bc * p.inH + p.top + y) * p.inW + p.left + x];
`,
	},
	device.KernelIm2Col: {
		buffers: []string{"dst", "src"},
		ints:    []string{"B", "C", "H", "W", "kh", "kw", "stride", "oh", "ow"},
		body: `
    let window = p.kh * p.kw;
    let outPlane = p.oh * p.ow;
    let cols = p.B * outPlane;
    if (i >= p.C * window * cols) { return; }
    let row = i / cols;
    let col = i % cols;
    let c = row / window;
    let ki = (row % window) / p.kw;
    let kj = row % p.kw;
    let b = col / outPlane;
    let y = (col % outPlane) / p.ow;
    let x = col % p.ow;
    dst[i] = src[((b * p.C + c) * p.H + y * p.stride + ki) * p.W + x * p.stride + kj];
`,
	},
	device.KernelCol2Im: {
		buffers: []string{"dst", "src"},
		ints:    []string{"B", "C", "H", "W"},
		body: `
    let plane = p.H * p.W;
    if (i >= p.B * p.C * plane) { return; }
    let b = i / (p.C * plane);
    let c = (i / plane) % p.C;
    dst[i] = src[c * p.B * plane + b * plane + i % plane];
`,
	},
	device.KernelChannelRows: {
		buffers: []string{"dst", "src"},
		ints:    []string{"B", "C", "H", "W"},
		body: `
    let plane = p.H * p.W;
    if (i >= p.B * p.C * plane) { return; }
    let b = i / (p.C * plane);
    let c = (i / plane) % p.C;
    dst[c * p.B * plane + b * plane + i % plane] = src[i];
`,
	},
	device.KernelRotate180: {
		buffers: []string{"dst", "src"},
		ints:    []string{"F", "C", "kh", "kw"},
		body: `
    let window = p.kh * p.kw;
    if (i >= p.F * p.C * window) { return; }
    let f = i / (p.C * window);
    let c = (i / window) % p.C;
    let ki = (i % window) / p.kw;
    let kj = i % p.kw;
    dst[(c * p.F + f) * window + (p.kh - 1 - ki) * p.kw + (p.kw - 1 - kj)] = src[i];
`,
	},

	device.KernelMaxPoolForward: {
		buffers: []string{"dst", "index", "src"},
		ints:    []string{"B", "C", "H", "W", "k", "stride", "oh", "ow"},
		body: `
    let outPlane = p.oh * p.ow;
    if (i >= p.B * p.C * outPlane) { return; }
    let base = (i / outPlane) * p.H * p.W;
    let y = (i % outPlane) / p.ow * p.stride;
    let x = i % p.ow * p.stride;
    var best = base + y * p.W + x;
    for (var r = 0; r < p.k; r = r + 1) {
        for (var s = 0; s < p.k; s = s + 1) {
            let at = base + (y + r) * p.W + x + s;
            if (src[at] > src[best]) { best = at; }
        }
    }
    dst[i] = src[best];
    index[i] = f32(best);
`,
	},
	device.KernelMaxPoolBackward: {
		buffers: []string{"dst", "dy", "index"},
		ints:    []string{"planes", "inPlane", "outPlane"},
		body: `
    if (i >= p.planes) { return; }
    let base = i * p.inPlane;
    for (var j = 0; j < p.inPlane; j = j + 1) {
        dst[base + j] = 0.0;
    }
    let off = i * p.outPlane;
    for (var j = 0; j < p.outPlane; j = j + 1) {
        let at = i32(index[off + j]);
        if (at >= base && at < base + p.inPlane) {
            dst[at] = dst[at] + dy[off + j];
        }
    }
`,
	},

	device.KernelSoftmaxForward: {
		buffers: []string{"dst", "src", "rowMax"},
		ints:    []string{"rows", "cols"},
		body: `
    if (i >= p.rows) { return; }
    let base = i * p.cols;
    let m = rowMax[i];
    var sum = 0.0;
    for (var j = 0; j < p.cols; j = j + 1) {
        let e = exp(src[base + j] - m);
        dst[base + j] = e;
        sum = sum + e;
    }
    for (var j = 0; j < p.cols; j = j + 1) {
        dst[base + j] = dst[base + j] / sum;
    }
`,
	},
	device.KernelSoftmaxBackward: {
		buffers: []string{"dst", "y", "dy"},
		ints:    []string{"rows", "cols"},
		body: `
    if (i >= p.rows * p.cols) { return; }
    let base = (i / p.cols) * p.cols;
    var dot = 0.0;
    for (var j = 0; j < p.cols; j = j + 1) {
        dot = dot + dy[base + j] * y[base + j];
    }
    dst[i] = y[i] * (dy[i] - dot);
`,
	},
	device.KernelCrossEntropy: {
		buffers: []string{"dst", "pred", "truth"},
		ints:    []string{"rows", "cols"},
		floats:  []string{"eps"},
		body: `
    if (i >= p.rows) { return; }
    let base = i * p.cols;
    var loss = 0.0;
    for (var j = 0; j < p.cols; j = j + 1) {
        let t = truth[base + j];
        if (t != 0.0) {
            loss = loss - t * log(pred[base + j] + p.eps);
        }
    }
    dst[i] = loss;
`,
	},
	device.KernelCrossEntropyBackward: elementwise([]string{"dst", "pred", "truth"}, nil, `
    dst[i] = -truth[i] / pred[i];
`),
	device.KernelMSE: {
		buffers: []string{"dst", "pred", "truth"},
		ints:    []string{"rows", "cols"},
		body: `
    if (i >= p.rows) { return; }
    let base = i * p.cols;
    var sum = 0.0;
    for (var j = 0; j < p.cols; j = j + 1) {
        let d = pred[base + j] - truth[base + j];
        sum = sum + d * d;
    }
    dst[i] = sum / f32(p.cols);
`,
	},
	device.KernelMSEBackward: {
		buffers: []string{"dst", "pred", "truth"},
		ints:    []string{"n", "cols"},
		body: `
    if (i >= p.n) { return; }
    dst[i] = 2.0 / f32(p.cols) * (pred[i] - truth[i]);
`,
	},

	device.KernelAddBias: {
		buffers: []string{"dst", "src", "bias"},
		ints:    []string{"n", "inner", "biasLen"},
		body: `
    if (i >= p.n) { return; }
    dst[i] = src[i] + bias[(i / p.inner) % p.biasLen];
`,
	},
	device.KernelBiasBackward: {
		buffers: []string{"db", "dy"},
		ints:    []string{"n", "inner", "biasLen"},
		body: `
    if (i >= p.biasLen) { return; }
    let blocks = p.n / p.inner;
    var acc = 0.0;
    for (var blk = i; blk < blocks; blk = blk + p.biasLen) {
        let base = blk * p.inner;
        for (var e = 0; e < p.inner; e = e + 1) {
            acc = acc + dy[base + e];
        }
    }
    db[i] = db[i] + acc;
`,
	},

	device.KernelGradientDescent: elementwise([]string{"w", "g"}, []string{"lr"}, `
    w[i] = w[i] - p.lr * g[i];
`),
	device.KernelAdaGrad: elementwise([]string{"w", "g", "hist"}, []string{"lr", "eps"}, `
    let gv = g[i];
    hist[i] = hist[i] + gv * gv;
    w[i] = w[i] - p.lr / sqrt(hist[i] + p.eps) * gv;
`),
	device.KernelAdaDelta: elementwise([]string{"w", "g", "esq"}, []string{"lr", "gamma", "eps"}, `
    let gv = g[i];
    esq[i] = p.gamma * esq[i] + (1.0 - p.gamma) * gv * gv;
    w[i] = w[i] - p.lr / sqrt(esq[i] + p.eps) * gv;
`),
	device.KernelAdam: elementwise([]string{"w", "g", "s", "d"}, []string{"lr", "alpha", "beta", "eps", "c1", "c2"}, `
    let gv = g[i];
    s[i] = p.alpha * s[i] + (1.0 - p.alpha) * gv;
    d[i] = p.beta * d[i] + (1.0 - p.beta) * gv * gv;
    let sHat = s[i] / p.c1;
    let dHat = d[i] / p.c2;
    w[i] = w[i] - p.lr / sqrt(dHat + p.eps) * sHat;
`),
	device.KernelRProp: elementwise([]string{"w", "g", "prev", "steps"}, []string{"growth", "shrink", "maxStep", "minStep"}, `
    let gv = g[i];
    let agree = gv * prev[i];
    if (agree > 0.0) {
        steps[i] = min(steps[i] * p.growth, p.maxStep);
        w[i] = w[i] - sign(gv) * steps[i];
        prev[i] = gv;
    } else if (agree < 0.0) {
        steps[i] = max(steps[i] * p.shrink, p.minStep);
        prev[i] = 0.0;
    } else {
        w[i] = w[i] - sign(gv) * steps[i];
        prev[i] = gv;
    }
`),
}

func init() {
	slope := fmt.Sprintf("%g", tensor.LeakySlope)
	forward := map[tensor.ActivationKind]string{
		tensor.ReLU:      "    dst[i] = max(src[i], 0.0);\n",
		tensor.LeakyReLU: "    let v = src[i];\n    dst[i] = select(" + slope + " * v, v, v > 0.0);\n",
		tensor.Sigmoid:   "    dst[i] = 1.0 / (1.0 + exp(-src[i]));\n",
		tensor.Tanh:      "    dst[i] = tanh(src[i]);\n",
	}
	// y is unused by the ReLU derivatives and x by the others; the phony
	// reads keep those bindings in the automatic layout.
	backward := map[tensor.ActivationKind]string{
		tensor.ReLU:      "    _ = y[i];\n    dst[i] = select(0.0, dy[i], x[i] > 0.0);\n",
		tensor.LeakyReLU: "    _ = y[i];\n    dst[i] = select(" + slope + " * dy[i], dy[i], x[i] > 0.0);\n",
		tensor.Sigmoid:   "    _ = x[i];\n    let s = y[i];\n    dst[i] = s * (1.0 - s) * dy[i];\n",
		tensor.Tanh:      "    _ = x[i];\n    let t = y[i];\n    dst[i] = (1.0 - t * t) * dy[i];\n",
	}
	for kind, body := range forward {
		shaders[device.ActivationKernel(kind)] = elementwise([]string{"dst", "src"}, nil, body)
	}
	for kind, body := range backward {
		shaders[device.ActivationDxKernel(kind)] = elementwise([]string{"dst", "x", "y", "dy"}, nil, body)
	}
}
