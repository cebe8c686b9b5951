// Package device implements the two execution targets a kernel can be
// launched on: a CPU device backed by a host thread-pool
// worker set, and a GPU device backed by a driver stream/event model.
//
// Register/New provide a small plugin registry so a device backend
// picks itself by backend kind and device ordinal.
package device

import (
	"context"
	"unsafe"

	"github.com/gomlx/exceptions"

	"github.com/arrayjit/arrayjit/dtypes"
	"github.com/arrayjit/arrayjit/graph"
	"github.com/arrayjit/arrayjit/primitives"
)

// MemKind selects the allocator a Malloc call draws from.
type MemKind uint8

const (
	Host MemKind = iota
	HostAsync
	HostPinned
	Managed
	ManagedReadMostly
	DeviceLocal
)

// Buffer is an opaque device allocation. Devices hand these out from
// Malloc and never interpret the Ptr field themselves; it is device
// and MemKind specific.
type Buffer struct {
	Ptr  uintptr
	Size int
	Kind MemKind
}

// Device is the execution target a kernel.Launch binds a compiled
// Assembly to.
type Device interface {
	// Backend reports whether this device is CPU or GPU.
	Backend() graph.Backend

	// Ordinal is the device index within its backend's device list.
	Ordinal() int

	Malloc(size int, kind MemKind) (Buffer, error)
	Free(buf Buffer)

	// MemsetAsync fills buf with a repeated byte pattern without
	// blocking the caller.
	MemsetAsync(ctx context.Context, buf Buffer, pattern byte) error

	// Memcpy transfers data between two buffers of the same device, or
	// between host and device; blocks until the driver reports completion.
	Memcpy(ctx context.Context, dst, src Buffer, size int) error

	// MemcpyAsync is the non-blocking counterpart of Memcpy.
	MemcpyAsync(ctx context.Context, dst, src Buffer, size int) error

	// Submit enqueues task for execution on this device and returns
	// immediately; task runs on a worker goroutine (CPU) or the
	// device's default stream (GPU).
	Submit(task func())

	// LaunchKernel runs compiled bytecode over a grid of blocks,
	// binding paramAddrs as the kernel's parameter buffer.
	// On GPU blocks maps to the launch grid; on CPU it is the number of
	// work units submitted to the worker pool, each covering blockSize
	// lanes of the group.
	LaunchKernel(ctx context.Context, bytecode []byte, blocks, blockSize int, paramAddrs []uintptr) error

	// Synchronize blocks until every previously submitted task and
	// every in-flight async operation has completed.
	Synchronize(ctx context.Context) error

	// Reduce folds the first n elements of buf (interpreted as dtype)
	// using op, writing the scalar result into result. CPU splits the
	// fold into worker-pool-parallel blocks and recursively reduces the
	// partials; GPU dispatches the driver's two-pass block/partial-buffer
	// kernel path for n above one thread block.
	Reduce(ctx context.Context, buf Buffer, dtype dtypes.DType, n int, op primitives.ReduceOp, result Buffer) error

	// PrefixSum writes the exclusive or inclusive running sum of buf's
	// first n elements into out (which may alias buf). CPU runs the
	// two-phase block decomposition in parallel; GPU picks between the
	// single-block and decoupled-look-back kernel paths by n.
	PrefixSum(ctx context.Context, buf, out Buffer, dtype dtypes.DType, n int, inclusive bool) error

	// Compress densely copies the elements of buf (interpreted as dtype)
	// whose corresponding byte in mask is non-zero into out, and reports
	// the count written.
	Compress(ctx context.Context, buf, mask, out Buffer, dtype dtypes.DType, n int) (int, error)

	// Mkperm buckets n uint32 keys in buckets into numBuckets buckets,
	// writing a stably-grouped permutation to perm and the
	// (bucket_id, start, run_length, 0) offsets table to offsets.
	Mkperm(ctx context.Context, buckets, perm, offsets Buffer, numBuckets, n int) error

	// BlockCopy replicates each of the first n elements of src (dtype)
	// k times into dst. k=1 degenerates to an elementwise copy.
	BlockCopy(ctx context.Context, src, dst Buffer, dtype dtypes.DType, n, k int) error

	// BlockSum reduces src's first n elements (dtype) in contiguous
	// groups of k, writing one partial sum per group to dst.
	BlockSum(ctx context.Context, src, dst Buffer, dtype dtypes.DType, n, k int) error

	// ReduceExpanded folds exp contiguous size-length stripes of buf
	// (dtype) into the first stripe in place using op.
	ReduceExpanded(ctx context.Context, buf Buffer, dtype dtypes.DType, size, exp int, op primitives.ReduceOp) error

	// ReadPointer reads size bytes from an externally-owned address not
	// tracked by this device's own buffer registry: a direct host read on
	// CPU, a synchronous device-to-host copy on GPU. The host-function
	// batch writer (package hostfunc) uses this to resolve pointer-valued
	// aggregate/poke entries.
	ReadPointer(ctx context.Context, ptr uintptr, size int) ([]byte, error)

	// WriteHost copies data into dst's backing memory starting at offset:
	// a direct slice copy on CPU, a host-to-device upload on GPU. This is
	// the targeted partial write MemsetAsync/Memcpy cannot express,
	// backing the host-function batch writer and FillAsync.
	WriteHost(ctx context.Context, dst Buffer, offset int, data []byte) error
}

// FillAsync writes value, repeated across buf's first n elements of
// type T, without blocking the caller -- the typed convenience
// MemsetAsync's single-repeated-byte pattern cannot express for any T
// wider than one byte. It is a package-level generic helper rather than
// a Device method because Go interface methods cannot carry type
// parameters; it is built entirely on WriteHost, so it works uniformly
// across every registered Device.
func FillAsync[T dtypes.Number](ctx context.Context, dev Device, buf Buffer, n int, value T) error {
	sz := int(unsafe.Sizeof(value))
	pattern := unsafe.Slice((*byte)(unsafe.Pointer(&value)), sz)
	data := make([]byte, n*sz)
	for i := 0; i < n; i++ {
		copy(data[i*sz:], pattern)
	}
	return dev.WriteHost(ctx, buf, 0, data)
}

// Constructor builds a Device for the numbered ordinal within its backend.
type Constructor func(ordinal int) (Device, error)

var registered = map[graph.Backend]Constructor{}

// Register associates a Constructor with a backend kind. Concrete
// devices call this from an init() function.
func Register(backend graph.Backend, ctor Constructor) {
	registered[backend] = ctor
}

// New constructs the Device for backend at ordinal.
//
// It panics (internal invariant: a requested backend has no registered
// implementation) rather than returning an error.
func New(backend graph.Backend, ordinal int) Device {
	ctor, ok := registered[backend]
	if !ok {
		exceptions.Panicf("arrayjit: no device implementation registered for backend %s", backend)
	}
	d, err := ctor(ordinal)
	if err != nil {
		exceptions.Panicf("arrayjit: failed to construct %s device %d: %v", backend, ordinal, err)
	}
	return d
}
