//go:build windows

package webgpu

import (
	"sync"

	"github.com/go-webgpu/webgpu/wgpu"
)

// sizeClass buckets pooled buffers by capacity.
type sizeClass int

const (
	smallClass  sizeClass = iota // < 4KB
	mediumClass                  // 4KB-1MB
	largeClass                   // >= 1MB
	numClasses
)

const (
	smallThreshold  = 4 * 1024
	mediumThreshold = 1024 * 1024
	maxPoolSize     = 100 // Max idle buffers per class
)

func classify(size uint64) sizeClass {
	switch {
	case size < smallThreshold:
		return smallClass
	case size < mediumThreshold:
		return mediumClass
	default:
		return largeClass
	}
}

type pooledBuffer struct {
	buffer *wgpu.Buffer
	size   uint64
	usage  wgpu.BufferUsage
}

// PoolStats counts pool traffic.
type PoolStats struct {
	Allocated uint64
	Released  uint64
	Hits      uint64
	Misses    uint64
	Idle      int
}

// BufferPool recycles storage buffers between tensors. Convolution scratch
// and layer outputs are allocated once per shape, so most acquisitions after
// the first iteration are hits.
type BufferPool struct {
	device *wgpu.Device

	mu    sync.Mutex
	idle  [numClasses][]pooledBuffer
	stats PoolStats
}

// NewBufferPool creates an empty pool on device.
func NewBufferPool(device *wgpu.Device) *BufferPool {
	return &BufferPool{device: device}
}

// Acquire returns an idle buffer of at least size bytes with usage, or
// creates one.
func (p *BufferPool) Acquire(size uint64, usage wgpu.BufferUsage) *wgpu.Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if b, ok := p.take(size, usage); ok {
		p.stats.Hits++
		return b
	}
	p.stats.Misses++
	p.stats.Allocated++
	return p.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: usage,
		Size:  size,
	})
}

// take must hold mu.
func (p *BufferPool) take(size uint64, usage wgpu.BufferUsage) (*wgpu.Buffer, bool) {
	c := classify(size)
	for i, pb := range p.idle[c] {
		if pb.size >= size && pb.usage&usage == usage {
			p.idle[c] = append(p.idle[c][:i], p.idle[c][i+1:]...)
			return pb.buffer, true
		}
	}
	return nil, false
}

// Release returns a buffer to the pool, or destroys it when its class is full.
func (p *BufferPool) Release(buffer *wgpu.Buffer, size uint64, usage wgpu.BufferUsage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Released++
	c := classify(size)
	if len(p.idle[c]) >= maxPoolSize {
		buffer.Release()
		return
	}
	p.idle[c] = append(p.idle[c], pooledBuffer{buffer: buffer, size: size, usage: usage})
}

// Clear destroys every idle buffer.
func (p *BufferPool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for c := range p.idle {
		for _, pb := range p.idle[c] {
			pb.buffer.Release()
		}
		p.idle[c] = nil
	}
}

// Stats returns a snapshot of pool usage.
func (p *BufferPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	for c := range p.idle {
		s.Idle += len(p.idle[c])
	}
	return s
}
