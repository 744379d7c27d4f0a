// Package emulator provides an in-process device.Launcher.
//
// Launches are queued on one worker goroutine and run in submission order
// with the reference kernel bodies of the kernels package, so the device
// backend can be exercised without a GPU. Work is asynchronous the way a
// device stream is: Launch returns before the kernel runs, and a kernel
// failure is reported by the next Synchronize or Download.
package emulator

import (
	"fmt"
	"sync"

	"github.com/born-ml/convnet/internal/backend/device"
	"github.com/born-ml/convnet/internal/parallel"
)

// buffer is emulated device memory.
type buffer struct {
	data []float32
}

func (b *buffer) Len() int {
	return len(b.data)
}

// Config controls the emulated device.
type Config struct {
	// QueueDepth is the number of operations that may be pending before
	// Launch blocks. Zero selects 1024.
	QueueDepth int

	// Parallel splits batch-indexed kernels across goroutines, standing in
	// for concurrent thread blocks.
	Parallel parallel.Config
}

// task is one stream operation. Barriers run even after a failure.
type task struct {
	run     func() error
	barrier bool
}

// Launcher is the emulated device stream.
type Launcher struct {
	cfg   Config
	queue chan task
	done  chan struct{}

	closeMu sync.RWMutex
	closed  bool

	mu       sync.Mutex
	err      error // first kernel failure; sticky
	launches uint64
}

// Compile-time check that Launcher implements device.Launcher.
var _ device.Launcher = (*Launcher)(nil)

// New starts an emulated device with the default configuration.
func New() *Launcher {
	return NewWithConfig(Config{Parallel: parallel.DefaultConfig()})
}

// NewWithConfig starts an emulated device.
func NewWithConfig(cfg Config) *Launcher {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 1024
	}
	l := &Launcher{
		cfg:   cfg,
		queue: make(chan task, cfg.QueueDepth),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

// run is the stream worker.
func (l *Launcher) run() {
	defer close(l.done)
	for t := range l.queue {
		l.mu.Lock()
		failed := l.err != nil
		l.mu.Unlock()
		if failed && !t.barrier {
			continue
		}
		if err := t.run(); err != nil {
			l.mu.Lock()
			if l.err == nil {
				l.err = err
			}
			l.mu.Unlock()
		}
	}
}

// enqueue submits t to the stream, blocking while the queue is full.
func (l *Launcher) enqueue(t task) error {
	l.closeMu.RLock()
	defer l.closeMu.RUnlock()
	if l.closed {
		return device.ErrClosed
	}
	l.queue <- t
	return nil
}

// Name returns "emulator".
func (l *Launcher) Name() string {
	return "emulator"
}

// Launches returns the number of kernels submitted so far.
func (l *Launcher) Launches() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

// Alloc returns a zeroed buffer of n elements.
func (l *Launcher) Alloc(n int) (device.Buffer, error) {
	if n < 0 {
		return nil, fmt.Errorf("emulator: alloc %d elements", n)
	}
	l.closeMu.RLock()
	closed := l.closed
	l.closeMu.RUnlock()
	if closed {
		return nil, device.ErrClosed
	}
	return &buffer{data: make([]float32, n)}, nil
}

// Free drops the buffer once earlier work is done with it.
func (l *Launcher) Free(b device.Buffer) {
	buf, ok := b.(*buffer)
	if !ok {
		return
	}
	_ = l.enqueue(task{barrier: true, run: func() error {
		buf.data = nil
		return nil
	}})
}

// Upload copies src into dst at offset after every earlier operation.
func (l *Launcher) Upload(dst device.Buffer, offset int, src []float32) error {
	buf, err := l.resolve(dst)
	if err != nil {
		return err
	}
	if offset < 0 || offset+len(src) > len(buf.data) {
		return fmt.Errorf("emulator: upload of %d elements at %d overflows buffer of %d", len(src), offset, len(buf.data))
	}
	data := make([]float32, len(src))
	copy(data, src)
	return l.enqueue(task{run: func() error {
		copy(buf.data[offset:], data)
		return nil
	}})
}

// Download waits for the stream and copies len(dst) elements from src at offset.
func (l *Launcher) Download(dst []float32, src device.Buffer, offset int) error {
	buf, err := l.resolve(src)
	if err != nil {
		return err
	}
	if offset < 0 || offset+len(dst) > len(buf.data) {
		return fmt.Errorf("emulator: download of %d elements at %d overflows buffer of %d", len(dst), offset, len(buf.data))
	}
	if err := l.Synchronize(); err != nil {
		return err
	}
	copy(dst, buf.data[offset:])
	return nil
}

// Launch decodes args on the caller and queues the kernel body.
func (l *Launcher) Launch(kernel string, grid, block device.Dim, sharedMem int, args ...any) error {
	spec, ok := catalog[kernel]
	if !ok {
		return fmt.Errorf("%w: %q", device.ErrUnknownKernel, kernel)
	}
	if grid.X < 1 || block.X < 1 {
		return fmt.Errorf("emulator: %s: empty launch grid %+v block %+v", kernel, grid, block)
	}
	a, err := decode(kernel, spec, args)
	if err != nil {
		return err
	}
	a.parallel = l.cfg.Parallel
	l.mu.Lock()
	l.launches++
	l.mu.Unlock()
	return l.enqueue(task{run: func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %s: %v", device.ErrKernelFault, kernel, r)
			}
		}()
		spec.run(a)
		return nil
	}})
}

// Synchronize waits for every queued operation and returns the sticky error.
func (l *Launcher) Synchronize() error {
	barrier := make(chan struct{})
	if err := l.enqueue(task{barrier: true, run: func() error {
		close(barrier)
		return nil
	}}); err != nil {
		return err
	}
	<-barrier
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close drains the stream and stops the worker. It returns the sticky error.
func (l *Launcher) Close() error {
	l.closeMu.Lock()
	if l.closed {
		l.closeMu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.closeMu.Unlock()
	<-l.done
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *Launcher) resolve(b device.Buffer) (*buffer, error) {
	buf, ok := b.(*buffer)
	if !ok || buf == nil {
		return nil, fmt.Errorf("emulator: foreign buffer %T", b)
	}
	return buf, nil
}
