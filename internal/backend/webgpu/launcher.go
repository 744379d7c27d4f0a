//go:build windows

// Package webgpu implements device.Launcher on a WebGPU device.
// Uses go-webgpu (github.com/go-webgpu/webgpu) for zero-CGO WebGPU bindings.
package webgpu

import (
	"fmt"
	"sync"

	"github.com/born-ml/convnet/internal/backend/device"
	"github.com/go-webgpu/webgpu/wgpu"
)

// Launcher runs catalog kernels as WGSL compute shaders on one WebGPU queue.
//
// Launches and uploads are encoded into command buffers that accumulate
// until a Download, Synchronize or the batch limit submits them. Native
// failures surface from the bindings as panics; they are recovered and
// become the launcher's sticky error.
type Launcher struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	adapterInfo *wgpu.AdapterInfo

	// Shader and pipeline cache, keyed by kernel name.
	shaders   map[string]*wgpu.ShaderModule
	pipelines map[string]*wgpu.ComputePipeline

	bufferPool *BufferPool

	mu       sync.Mutex
	pending  []*wgpu.CommandBuffer
	retired  []func() // released once submitted work completes
	maxBatch int
	fence    *wgpu.Buffer
	err      error
	closed   bool

	memoryStats struct {
		allocatedBytes uint64
		peakBytes      uint64
		activeBuffers  int64
	}
}

// Compile-time check that Launcher implements device.Launcher.
var _ device.Launcher = (*Launcher)(nil)

// New opens the default high-performance adapter.
// Returns an error if WebGPU is not available or initialization fails.
func New() (launcher *Launcher, err error) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			launcher = nil
			err = fmt.Errorf("webgpu: native library not available: %v", r)
		}
	}()

	instance := wgpu.CreateInstance(nil)
	adapter, adapterErr := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if adapterErr != nil {
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request adapter: %w", adapterErr)
	}

	adapterInfo := adapter.GetInfo()

	dev, deviceErr := adapter.RequestDevice(nil)
	if deviceErr != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request device: %w", deviceErr)
	}

	queue := dev.GetQueue()
	if queue == nil {
		dev.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to get queue")
	}

	l := &Launcher{
		instance:    instance,
		adapter:     adapter,
		device:      dev,
		queue:       queue,
		adapterInfo: &adapterInfo,
		shaders:     make(map[string]*wgpu.ShaderModule),
		pipelines:   make(map[string]*wgpu.ComputePipeline),
		bufferPool:  NewBufferPool(dev),
		maxBatch:    64,
	}
	l.fence = dev.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  4,
	})
	return l, nil
}

// Name returns the adapter name.
func (l *Launcher) Name() string {
	if l.adapterInfo != nil && l.adapterInfo.Device != "" {
		return fmt.Sprintf("WebGPU %s", l.adapterInfo.Device)
	}
	return "WebGPU"
}

// AdapterInfo returns information about the GPU adapter.
func (l *Launcher) AdapterInfo() *wgpu.AdapterInfo {
	return l.adapterInfo
}

// SetMaxBatchSize sets how many command buffers accumulate before an
// automatic submit. Zero disables the limit.
func (l *Launcher) SetMaxBatchSize(size int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maxBatch = size
}

// Close submits pending work, waits for it and releases every resource.
func (l *Launcher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	err := l.synchronizeLocked()
	l.closed = true

	l.bufferPool.Clear()
	for _, p := range l.pipelines {
		p.Release()
	}
	l.pipelines = nil
	for _, s := range l.shaders {
		s.Release()
	}
	l.shaders = nil
	l.fence.Release()
	l.queue.Release()
	l.device.Release()
	l.adapter.Release()
	l.instance.Release()
	return err
}

// IsAvailable checks if WebGPU is available on this system.
func IsAvailable() (available bool) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()

	instance := wgpu.CreateInstance(nil)
	defer instance.Release()

	adapter, err := instance.RequestAdapter(nil)
	if err != nil {
		return false
	}
	adapter.Release()

	return true
}

// ListAdapters returns information about the default adapter.
func ListAdapters() (adapters []*wgpu.AdapterInfo, err error) {
	defer func() {
		if r := recover(); r != nil {
			adapters = nil
			err = fmt.Errorf("webgpu: native library not available: %v", r)
		}
	}()

	instance := wgpu.CreateInstance(nil)
	defer instance.Release()

	// WebGPU has no adapter enumeration; report the default one.
	adapter, adapterErr := instance.RequestAdapter(nil)
	if adapterErr != nil {
		return nil, fmt.Errorf("webgpu: no adapters available: %w", adapterErr)
	}
	defer adapter.Release()

	info := adapter.GetInfo()
	return []*wgpu.AdapterInfo{&info}, nil
}

// MemoryStats represents GPU memory usage.
type MemoryStats struct {
	// AllocatedBytes is the size of the buffers currently held by tensors.
	AllocatedBytes uint64
	// PeakBytes is the largest AllocatedBytes seen.
	PeakBytes uint64
	// ActiveBuffers is the number of buffers currently held by tensors.
	ActiveBuffers int64
	// Pool is the buffer pool usage.
	Pool PoolStats
}

// MemoryStats returns current memory usage.
func (l *Launcher) MemoryStats() MemoryStats {
	l.mu.Lock()
	s := MemoryStats{
		AllocatedBytes: l.memoryStats.allocatedBytes,
		PeakBytes:      l.memoryStats.peakBytes,
		ActiveBuffers:  l.memoryStats.activeBuffers,
	}
	l.mu.Unlock()
	s.Pool = l.bufferPool.Stats()
	return s
}

// trackAlloc must hold mu.
func (l *Launcher) trackAlloc(size uint64) {
	l.memoryStats.allocatedBytes += size
	l.memoryStats.activeBuffers++
	if l.memoryStats.allocatedBytes > l.memoryStats.peakBytes {
		l.memoryStats.peakBytes = l.memoryStats.allocatedBytes
	}
}

// trackFree must hold mu.
func (l *Launcher) trackFree(size uint64) {
	if l.memoryStats.allocatedBytes >= size {
		l.memoryStats.allocatedBytes -= size
	}
	l.memoryStats.activeBuffers--
}
