package device

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/arrayjit/arrayjit/graph"
	"github.com/arrayjit/arrayjit/internal/workerspool"
)

// cpuDevice runs kernels on a host thread-pool worker set.
// Memory is ordinary Go heap memory; Buffer.Ptr is an opaque handle into
// a local registry rather than a real pointer, since Go does not allow
// holding raw pointers to GC-managed memory outside unsafe boundaries.
type cpuDevice struct {
	ordinal int
	pool    *workerspool.Pool

	mu      sync.Mutex
	buffers map[uintptr][]byte
	nextId  atomic.Uint64

	wg sync.WaitGroup
}

// NewCPU constructs the host device for ordinal (one Go process has
// exactly one CPU device, ordinal 0, but the signature matches GPU's
// multi-device shape for symmetry).
func NewCPU(ordinal int) (Device, error) {
	return &cpuDevice{
		ordinal: ordinal,
		pool:    workerspool.New(),
		buffers: make(map[uintptr][]byte),
	}, nil
}

func init() {
	Register(graph.CPU, NewCPU)
}

func (d *cpuDevice) Backend() graph.Backend { return graph.CPU }
func (d *cpuDevice) Ordinal() int           { return d.ordinal }

func (d *cpuDevice) Malloc(size int, kind MemKind) (Buffer, error) {
	if size < 0 {
		return Buffer{}, errors.Errorf("device: negative allocation size %d", size)
	}
	id := uintptr(d.nextId.Add(1))
	d.mu.Lock()
	d.buffers[id] = make([]byte, size)
	d.mu.Unlock()
	return Buffer{Ptr: id, Size: size, Kind: kind}, nil
}

func (d *cpuDevice) Free(buf Buffer) {
	d.mu.Lock()
	delete(d.buffers, buf.Ptr)
	d.mu.Unlock()
}

func (d *cpuDevice) bytes(buf Buffer) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[buf.Ptr]
	if !ok {
		panic(errors.Errorf("device: unknown CPU buffer handle %d", buf.Ptr))
	}
	return b
}

func (d *cpuDevice) MemsetAsync(ctx context.Context, buf Buffer, pattern byte) error {
	b := d.bytes(buf)
	d.wg.Add(1)
	d.pool.WaitToStart(func() {
		defer d.wg.Done()
		for i := range b {
			b[i] = pattern
		}
	})
	return nil
}

func (d *cpuDevice) Memcpy(ctx context.Context, dst, src Buffer, size int) error {
	copy(d.bytes(dst), d.bytes(src)[:size])
	return nil
}

func (d *cpuDevice) MemcpyAsync(ctx context.Context, dst, src Buffer, size int) error {
	d.wg.Add(1)
	d.pool.WaitToStart(func() {
		defer d.wg.Done()
		copy(d.bytes(dst), d.bytes(src)[:size])
	})
	return nil
}

// CPUExecutor runs one compiled-kernel work unit: the CPU
// counterpart of the GPU driver's block launch, invoking the JIT
// function represented by bytecode over [blockBegin,blockEnd) of the
// group. The concrete JIT engine is an out-of-scope collaborator;
// register one with RegisterCPUExecutor before launching CPU kernels.
type CPUExecutor interface {
	Execute(bytecode []byte, blockBegin, blockEnd, totalSize int, paramAddrs []uintptr) error
}

var cpuExecutor CPUExecutor

// RegisterCPUExecutor installs the JIT engine cpuDevice.LaunchKernel
// delegates to.
func RegisterCPUExecutor(e CPUExecutor) { cpuExecutor = e }

func (d *cpuDevice) LaunchKernel(ctx context.Context, bytecode []byte, blocks, blockSize int, paramAddrs []uintptr) error {
	if cpuExecutor == nil {
		return errors.New("device: no CPU executor registered (RegisterCPUExecutor was never called)")
	}
	totalSize := blocks * blockSize
	var firstErr atomic.Pointer[error]
	d.pool.Parallel(blocks, func(i int) {
		begin := i * blockSize
		end := begin + blockSize
		if end > totalSize {
			end = totalSize
		}
		if err := cpuExecutor.Execute(bytecode, begin, end, totalSize, paramAddrs); err != nil {
			firstErr.CompareAndSwap(nil, &err)
		}
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if p := firstErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Submit tries to dispatch task to an already-available worker without
// blocking the caller (StartIfAvailable); only when the pool is
// saturated does it fall back to the blocking WaitToStart. This mirrors
// §4.H's CPU host-callback behavior: run inline/immediately when a
// worker is free, otherwise queue.
func (d *cpuDevice) Submit(task func()) {
	d.wg.Add(1)
	wrapped := func() {
		defer d.wg.Done()
		task()
	}
	if !d.pool.StartIfAvailable(wrapped) {
		d.pool.WaitToStart(wrapped)
	}
}

func (d *cpuDevice) Synchronize(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
