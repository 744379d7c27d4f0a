//go:build windows

package webgpu

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/convnet/internal/backend/cpu"
	"github.com/born-ml/convnet/internal/backend/device"
	"github.com/born-ml/convnet/internal/tensor"
)

func TestShaders_CoverCatalog(t *testing.T) {
	for _, name := range device.Catalog() {
		ks, ok := shaders[name]
		if !assert.True(t, ok, "kernel %q has no shader", name) {
			continue
		}
		src := ks.source()
		for i, b := range ks.buffers {
			assert.Contains(t, src, "var<storage, read_write> "+b+":", "%s binding %d", name, i)
			assert.True(t, strings.Contains(ks.body, b+"["), "%s never reads binding %q", name, b)
		}
		assert.Zero(t, ks.paramsSize()%16, name)
		assert.Positive(t, ks.paramsSize(), name)
	}
}

func TestEncodeArgs(t *testing.T) {
	ks := shaders[device.KernelFill]
	buf := &buffer{n: 4}

	_, _, err := encodeArgs(device.KernelFill, ks, []any{buf, int32(4), float32(1)})
	assert.Error(t, err, "a buffer without a GPU handle is rejected")

	_, _, err = encodeArgs(device.KernelFill, ks, []any{int32(4), float32(1)})
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, smallClass, classify(1024))
	assert.Equal(t, mediumClass, classify(smallThreshold))
	assert.Equal(t, largeClass, classify(mediumThreshold))
}

func TestIsAvailable(t *testing.T) {
	t.Logf("WebGPU available: %v", IsAvailable())
}

func TestLauncher_MatchesHost(t *testing.T) {
	if !IsAvailable() {
		t.Skip("WebGPU not available on this system")
	}
	l, err := New()
	require.NoError(t, err)
	gpu := device.New(l)
	defer gpu.Close()
	t.Logf("Using %s", gpu.Name())

	host := cpu.New()
	xs := tensor.NewShape(2, 2, 4, 4)
	data := make([]float32, xs.Size())
	for i := range data {
		data[i] = float32(i%7) - 3
	}
	fs := tensor.NewShape(3, 2, 2, 2)
	filters := make([]float32, fs.Size())
	for i := range filters {
		filters[i] = float32(i%5)*0.25 - 0.5
	}

	run := func(ops tensor.Ops) (y, pooled, act []float32) {
		x, err := tensor.FromSlice(ops, xs, data)
		require.NoError(t, err)
		w, err := tensor.FromSlice(ops, fs, filters)
		require.NoError(t, err)

		out := tensor.New(ops)
		require.NoError(t, tensor.ConvForward(x, w, 1, tensor.NewConvScratch(ops), out))
		p, idx := tensor.New(ops), tensor.New(ops)
		require.NoError(t, ops.MaxPool(out, 2, 1, p, idx))
		a := tensor.New(ops)
		require.NoError(t, ops.Activation(tensor.Sigmoid, p, a))

		y, err = out.Data()
		require.NoError(t, err)
		pooled, err = p.Data()
		require.NoError(t, err)
		act, err = a.Data()
		require.NoError(t, err)
		return y, pooled, act
	}

	wantY, wantP, wantA := run(host)
	gotY, gotP, gotA := run(gpu)
	assert.InDeltaSlice(t, wantY, gotY, 1e-4)
	assert.InDeltaSlice(t, wantP, gotP, 1e-4)
	assert.InDeltaSlice(t, wantA, gotA, 1e-4)

	stats := l.MemoryStats()
	assert.Positive(t, stats.ActiveBuffers)
}

func TestLauncher_AliasedOperands(t *testing.T) {
	if !IsAvailable() {
		t.Skip("WebGPU not available on this system")
	}
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	buf, err := l.Alloc(3)
	require.NoError(t, err)
	require.NoError(t, l.Upload(buf, 0, []float32{1, 2, 3}))
	grid, block := device.LaunchDims(3)
	require.NoError(t, l.Launch(device.KernelAccumulate, grid, block, 0, buf, buf, int32(3)))

	out := make([]float32, 3)
	require.NoError(t, l.Download(out, buf, 0))
	assert.Equal(t, []float32{2, 4, 6}, out)
}
