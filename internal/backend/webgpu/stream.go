//go:build windows

package webgpu

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"

	"github.com/born-ml/convnet/internal/backend/device"
	"github.com/go-webgpu/webgpu/wgpu"
)

// storageUsage is the usage of every tensor buffer.
const storageUsage = wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst

// buffer is a pooled storage buffer holding n float32 elements.
type buffer struct {
	buf  *wgpu.Buffer
	n    int
	size uint64 // pooled capacity in bytes
}

func (b *buffer) Len() int {
	return b.n
}

func (b *buffer) bytes() uint64 {
	return uint64(b.n) * 4
}

// Alloc acquires a buffer from the pool and zero-fills it on the stream.
func (l *Launcher) Alloc(n int) (device.Buffer, error) {
	if n < 1 {
		return nil, fmt.Errorf("webgpu: alloc %d elements", n)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, device.ErrClosed
	}
	size := uint64(n) * 4
	buf := &buffer{buf: l.bufferPool.Acquire(size, storageUsage), n: n, size: size}
	l.trackAlloc(size)
	grid, block := device.LaunchDims(n)
	if err := l.launchLocked(device.KernelFill, grid, block, []any{buf, int32(n), float32(0)}); err != nil {
		return nil, err
	}
	return buf, nil
}

// Free returns the buffer to the pool. Work already encoded keeps its
// reference; later acquisitions are ordered after it on the queue.
func (l *Launcher) Free(b device.Buffer) {
	buf, ok := b.(*buffer)
	if !ok || buf.buf == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.bufferPool.Release(buf.buf, buf.size, storageUsage)
	l.trackFree(buf.size)
	buf.buf = nil
}

// Upload stages src in a mapped buffer and encodes a copy into dst.
func (l *Launcher) Upload(dst device.Buffer, offset int, src []float32) (err error) {
	buf, err := resolve(dst)
	if err != nil {
		return err
	}
	if offset < 0 || offset+len(src) > buf.n {
		return fmt.Errorf("webgpu: upload of %d elements at %d overflows buffer of %d", len(src), offset, buf.n)
	}
	if len(src) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return device.ErrClosed
	}
	defer l.recoverLocked("upload", &err)

	size := uint64(len(src)) * 4
	//nolint:gosec // float32 slice reinterpreted as bytes for the mapped copy
	staging := l.createBuffer(unsafe.Slice((*byte)(unsafe.Pointer(&src[0])), size), wgpu.BufferUsageCopySrc)
	encoder := l.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(staging, 0, buf.buf, uint64(offset)*4, size)
	l.queueCommand(encoder.Finish(nil))
	l.retired = append(l.retired, staging.Release)
	return nil
}

// Download submits pending work and reads len(dst) elements at offset.
func (l *Launcher) Download(dst []float32, src device.Buffer, offset int) (err error) {
	buf, err := resolve(src)
	if err != nil {
		return err
	}
	if offset < 0 || offset+len(dst) > buf.n {
		return fmt.Errorf("webgpu: download of %d elements at %d overflows buffer of %d", len(dst), offset, buf.n)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return device.ErrClosed
	}
	if l.err != nil {
		return l.err
	}
	if len(dst) == 0 {
		return nil
	}
	defer l.recoverLocked("download", &err)

	l.flushLocked()
	if err := l.readBuffer(dst, buf.buf, uint64(offset)*4); err != nil {
		return err
	}
	l.releaseRetired()
	return nil
}

// Launch encodes one compute pass for kernel.
func (l *Launcher) Launch(kernel string, grid, block device.Dim, _ int, args ...any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return device.ErrClosed
	}
	return l.launchLocked(kernel, grid, block, args)
}

// Synchronize submits pending work and waits for the queue to drain.
func (l *Launcher) Synchronize() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return device.ErrClosed
	}
	return l.synchronizeLocked()
}

func (l *Launcher) synchronizeLocked() (err error) {
	if l.err != nil {
		return l.err
	}
	defer l.recoverLocked("synchronize", &err)
	l.flushLocked()
	// A readback completes only after every earlier submission.
	var fence [1]float32
	if err := l.readBuffer(fence[:], l.fence, 0); err != nil {
		return err
	}
	l.releaseRetired()
	return nil
}

func (l *Launcher) launchLocked(kernel string, grid, block device.Dim, args []any) (err error) {
	ks, ok := shaders[kernel]
	if !ok {
		return fmt.Errorf("%w: %q", device.ErrUnknownKernel, kernel)
	}
	if block.X != workgroupSize || grid.X < 1 || grid.Y < 1 {
		return fmt.Errorf("webgpu: %s: launch grid %+v block %+v", kernel, grid, block)
	}
	bufs, params, err := encodeArgs(kernel, ks, args)
	if err != nil {
		return err
	}
	if l.err != nil {
		// The stream has failed; later work is dropped.
		return nil
	}
	defer l.recoverLocked(kernel, &err)

	pipeline := l.pipeline(kernel, ks)
	encoder := l.device.CreateCommandEncoder(nil)

	// Writable storage bindings may not alias within one dispatch: repeated
	// operands read from a copy.
	bound := make([]*wgpu.Buffer, len(bufs))
	for i, b := range bufs {
		bound[i] = b.buf
		for _, prev := range bufs[:i] {
			if prev.buf == b.buf {
				tmp := l.bufferPool.Acquire(b.bytes(), storageUsage)
				encoder.CopyBufferToBuffer(b.buf, 0, tmp, 0, b.bytes())
				bound[i] = tmp
				size := b.bytes()
				l.retired = append(l.retired, func() { l.bufferPool.Release(tmp, size, storageUsage) })
				break
			}
		}
	}

	uniform := l.createUniformBuffer(params)
	entries := make([]wgpu.BindGroupEntry, 0, len(bufs)+1)
	for i, b := range bufs {
		entries = append(entries, wgpu.BufferBindingEntry(uint32(i), bound[i], 0, b.bytes()))
	}
	entries = append(entries, wgpu.BufferBindingEntry(uint32(len(bufs)), uniform, 0, ks.paramsSize()))
	bindGroup := l.device.CreateBindGroupSimple(pipeline.GetBindGroupLayout(0), entries)

	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	//nolint:gosec // G115: grid extents are bounded by device.MaxGridX
	pass.DispatchWorkgroups(uint32(grid.X), uint32(grid.Y), 1)
	pass.End()
	l.queueCommand(encoder.Finish(nil))
	l.retired = append(l.retired, bindGroup.Release, uniform.Release)
	return nil
}

// encodeArgs splits launch arguments into buffers and the packed uniform.
func encodeArgs(kernel string, ks kernelShader, args []any) ([]*buffer, []byte, error) {
	want := len(ks.buffers) + len(ks.ints) + len(ks.floats)
	if len(args) != want {
		return nil, nil, fmt.Errorf("webgpu: %s: %d arguments, want %d", kernel, len(args), want)
	}
	bufs := make([]*buffer, len(ks.buffers))
	params := make([]byte, ks.paramsSize())
	for k, v := range args {
		switch {
		case k < len(ks.buffers):
			b, ok := v.(*buffer)
			if !ok || b == nil || b.buf == nil {
				return nil, nil, fmt.Errorf("webgpu: %s: argument %d is %T, want buffer", kernel, k, v)
			}
			bufs[k] = b
		case k < len(ks.buffers)+len(ks.ints):
			n, ok := v.(int32)
			if !ok {
				return nil, nil, fmt.Errorf("webgpu: %s: argument %d is %T, want int32", kernel, k, v)
			}
			off := 4 * (k - len(ks.buffers))
			//nolint:gosec // G115: two's complement reinterpretation for an i32 uniform
			binary.LittleEndian.PutUint32(params[off:], uint32(n))
		default:
			x, ok := v.(float32)
			if !ok {
				return nil, nil, fmt.Errorf("webgpu: %s: argument %d is %T, want float32", kernel, k, v)
			}
			off := 4 * (k - len(ks.buffers))
			binary.LittleEndian.PutUint32(params[off:], math.Float32bits(x))
		}
	}
	return bufs, params, nil
}

// pipeline returns the cached pipeline for kernel, compiling it on first use.
// Must hold mu.
func (l *Launcher) pipeline(kernel string, ks kernelShader) *wgpu.ComputePipeline {
	if p, ok := l.pipelines[kernel]; ok {
		return p
	}
	shader, ok := l.shaders[kernel]
	if !ok {
		shader = l.device.CreateShaderModuleWGSL(ks.source())
		l.shaders[kernel] = shader
	}
	// Automatic layout (nil).
	p := l.device.CreateComputePipelineSimple(nil, shader, "main")
	l.pipelines[kernel] = p
	return p
}

// queueCommand appends a command buffer, submitting the batch when it is full.
// Must hold mu.
func (l *Launcher) queueCommand(cmd *wgpu.CommandBuffer) {
	l.pending = append(l.pending, cmd)
	if l.maxBatch > 0 && len(l.pending) >= l.maxBatch {
		l.flushLocked()
	}
}

// flushLocked submits every pending command buffer.
func (l *Launcher) flushLocked() {
	if len(l.pending) == 0 {
		return
	}
	l.queue.Submit(l.pending...)
	l.pending = l.pending[:0]
}

// releaseRetired frees per-launch resources after the queue drained.
func (l *Launcher) releaseRetired() {
	for _, release := range l.retired {
		release()
	}
	l.retired = l.retired[:0]
}

// recoverLocked turns a native panic into the sticky error.
func (l *Launcher) recoverLocked(op string, err *error) {
	if r := recover(); r != nil {
		l.pending = l.pending[:0]
		l.err = fmt.Errorf("%w: %s: %v", device.ErrKernelFault, op, r)
		*err = l.err
	}
}

// createBuffer creates a GPU buffer holding data.
func (l *Launcher) createBuffer(data []byte, usage wgpu.BufferUsage) *wgpu.Buffer {
	size := uint64(len(data))
	b := l.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            usage,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	mapped := b.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	copy(unsafe.Slice((*byte)(mapped), size), data)
	b.Unmap()
	return b
}

// createUniformBuffer creates a uniform buffer; data is already 16-byte aligned.
func (l *Launcher) createUniformBuffer(data []byte) *wgpu.Buffer {
	size := uint64(len(data))
	b := l.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	mapped := b.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	copy(unsafe.Slice((*byte)(mapped), size), data)
	b.Unmap()
	return b
}

// readBuffer copies len(dst) elements of src at byteOffset through a
// staging buffer, since storage buffers can't be mapped directly.
func (l *Launcher) readBuffer(dst []float32, src *wgpu.Buffer, byteOffset uint64) error {
	size := uint64(len(dst)) * 4
	staging := l.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer staging.Release()

	encoder := l.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(src, byteOffset, staging, 0, size)
	l.queue.Submit(encoder.Finish(nil))

	if err := staging.MapAsync(l.device, wgpu.MapModeRead, 0, size); err != nil {
		return fmt.Errorf("webgpu: failed to map staging buffer: %w", err)
	}
	mapped := staging.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	copy(dst, unsafe.Slice((*float32)(mapped), len(dst)))
	staging.Unmap()
	return nil
}

func resolve(b device.Buffer) (*buffer, error) {
	buf, ok := b.(*buffer)
	if !ok || buf == nil || buf.buf == nil {
		return nil, fmt.Errorf("webgpu: foreign or freed buffer %T", b)
	}
	return buf, nil
}
