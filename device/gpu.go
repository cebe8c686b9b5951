package device

import (
	"context"

	"github.com/pkg/errors"

	"github.com/arrayjit/arrayjit/dtypes"
	"github.com/arrayjit/arrayjit/graph"
	"github.com/arrayjit/arrayjit/internal/xsync"
	"github.com/arrayjit/arrayjit/primitives"
)

// Driver is the low-level binding a concrete GPU backend plugs in: a
// context/stream/event model.
//
// arrayjit ships no cgo CUDA binding itself -- wiring one in is a
// separate plugin package that calls RegisterDriver from its init(),
// gated by a build tag the way a platform-specific backend registers
// itself only when built for that platform.
type Driver interface {
	NumDevices() int
	Alloc(ordinal, size int) (addr uintptr, err error)
	Free(ordinal int, addr uintptr)
	Memset(ordinal int, addr uintptr, size int, pattern byte, stream int) error
	Memcpy(ordinal int, dstAddr, srcAddr uintptr, size int, stream int) error
	NewStream(ordinal int) (streamId int, err error)
	RecordEvent(ordinal, streamId int) (eventId int, err error)
	SyncEvent(ordinal, eventId int) error
	SyncStream(ordinal, streamId int) error

	// Launch runs compiled PTX bytecode as a grid of blocks on streamId,
	// binding paramAddrs as the kernel's parameter buffer.
	Launch(ordinal, streamId int, bytecode []byte, blocks, blockSize int, paramAddrs []uintptr) error

	// Reduce folds n elements at addr (dtype) using op into the scalar
	// at resultAddr: one launch when n fits a single thread block
	// (<=1024 elements), otherwise two launches through a per-block
	// partial buffer the driver manages internally, reduced again to the
	// final scalar.
	Reduce(ordinal int, addr uintptr, dtype dtypes.DType, n int, op primitives.ReduceOp, resultAddr uintptr, stream int) error

	// PrefixSum writes the exclusive or inclusive running sum of n
	// elements at addr into outAddr: a single-block shared-memory
	// up-sweep/down-sweep below primitives.GPUSmallThreshold, otherwise a
	// decoupled-look-back scan over an internally managed scratch buffer
	// of per-block partials (its 32-element padding preface zeroed by an
	// initializer launch first).
	PrefixSum(ordinal int, addr, outAddr uintptr, dtype dtypes.DType, n int, inclusive bool, stream int) error

	// Compress copies the elements at addr (dtype) whose corresponding
	// byte at maskAddr is non-zero into outAddr, densely, writing the
	// count to countAddr: shared-memory compaction below
	// primitives.GPUSmallThreshold, decoupled look-back above it,
	// trailing padding zeroed either way.
	Compress(ordinal int, addr, maskAddr, outAddr, countAddr uintptr, dtype dtypes.DType, n int, stream int) error

	// Mkperm buckets n uint32 keys at bucketsAddr into numBuckets
	// buckets through the four-phase algorithm: per-block histogram
	// (tiny/small/large shared-memory-atomic variant chosen by bucket
	// count vs. available shared memory), transpose/exclusive-scan/
	// transpose-back of the histogram, block-prefix-sum-plus-global-
	// atomic collection of non-empty bucket offsets into offsetsAddr,
	// and a final re-scan writing each element's destination index into
	// permAddr.
	Mkperm(ordinal int, bucketsAddr, permAddr, offsetsAddr uintptr, numBuckets, n int, stream int) error

	// BlockCopy replicates each of n elements at srcAddr (dtype) k times
	// into dstAddr.
	BlockCopy(ordinal int, srcAddr, dstAddr uintptr, dtype dtypes.DType, n, k int, stream int) error

	// BlockSum reduces n elements at srcAddr (dtype) in contiguous
	// groups of k, writing one partial sum per group to dstAddr.
	BlockSum(ordinal int, srcAddr, dstAddr uintptr, dtype dtypes.DType, n, k int, stream int) error

	// ReduceExpanded folds exp contiguous size-length stripes at addr
	// (dtype) into the first stripe in place using op, with a
	// primitives.ExpandBlockSize inner block.
	ReduceExpanded(ordinal int, addr uintptr, dtype dtypes.DType, size, exp int, op primitives.ReduceOp, stream int) error

	// UploadHost copies data into device memory at addr+offset.
	UploadHost(ordinal int, addr uintptr, offset int, data []byte, stream int) error

	// ReadHost synchronously copies size bytes from device memory at
	// addr back to the host.
	ReadHost(ordinal int, addr uintptr, size int, stream int) ([]byte, error)
}

var activeDriver Driver

// RegisterDriver installs the Driver a GPU backend plugin provides.
// Must be called before the first device.New(graph.GPU, ...) call.
func RegisterDriver(d Driver) {
	activeDriver = d
	Register(graph.GPU, NewGPU)
}

// maxInFlightCallbacks bounds how many Submit-spawned goroutines may be
// simultaneously waiting on a stream event at once: unlike the CPU
// device, whose Submit is bounded by its worker pool, a naive GPU
// Submit would spawn one unbounded goroutine per call.
const maxInFlightCallbacks = 64

// gpuDevice runs kernels on a GPU context/stream.
type gpuDevice struct {
	ordinal   int
	driver    Driver
	streamId  int
	latch     *xsync.Latch
	callbacks *xsync.Semaphore
}

// NewGPU constructs the GPU device for ordinal, using whichever Driver
// was installed via RegisterDriver.
func NewGPU(ordinal int) (Device, error) {
	if activeDriver == nil {
		return nil, errors.New("device: no GPU driver registered (RegisterDriver was never called)")
	}
	if ordinal < 0 || ordinal >= activeDriver.NumDevices() {
		return nil, errors.Errorf("device: GPU ordinal %d out of range [0,%d)", ordinal, activeDriver.NumDevices())
	}
	streamId, err := activeDriver.NewStream(ordinal)
	if err != nil {
		return nil, errors.Wrap(err, "device: failed to create GPU stream")
	}
	return &gpuDevice{
		ordinal:   ordinal,
		driver:    activeDriver,
		streamId:  streamId,
		latch:     xsync.NewLatch(),
		callbacks: xsync.NewSemaphore(maxInFlightCallbacks),
	}, nil
}

func (d *gpuDevice) Backend() graph.Backend { return graph.GPU }
func (d *gpuDevice) Ordinal() int           { return d.ordinal }

func (d *gpuDevice) Malloc(size int, kind MemKind) (Buffer, error) {
	addr, err := d.driver.Alloc(d.ordinal, size)
	if err != nil {
		return Buffer{}, errors.Wrap(err, "device: GPU allocation failed")
	}
	return Buffer{Ptr: addr, Size: size, Kind: kind}, nil
}

func (d *gpuDevice) Free(buf Buffer) {
	d.driver.Free(d.ordinal, buf.Ptr)
}

func (d *gpuDevice) MemsetAsync(ctx context.Context, buf Buffer, pattern byte) error {
	return d.driver.Memset(d.ordinal, buf.Ptr, buf.Size, pattern, d.streamId)
}

func (d *gpuDevice) Memcpy(ctx context.Context, dst, src Buffer, size int) error {
	if err := d.driver.Memcpy(d.ordinal, dst.Ptr, src.Ptr, size, d.streamId); err != nil {
		return err
	}
	return d.Synchronize(ctx)
}

func (d *gpuDevice) MemcpyAsync(ctx context.Context, dst, src Buffer, size int) error {
	return d.driver.Memcpy(d.ordinal, dst.Ptr, src.Ptr, size, d.streamId)
}

// Submit enqueues task to run once the stream reaches this point: it
// records an event on the stream and a goroutine runs task after
// SyncEvent reports that event complete. The number of goroutines
// simultaneously waiting on an event is capped by callbacks, the GPU
// counterpart of the CPU device's worker-pool bound.
func (d *gpuDevice) Submit(task func()) {
	eventId, err := d.driver.RecordEvent(d.ordinal, d.streamId)
	if err != nil {
		task()
		return
	}
	d.callbacks.Acquire()
	go func() {
		defer d.callbacks.Release()
		_ = d.driver.SyncEvent(d.ordinal, eventId)
		task()
	}()
}

func (d *gpuDevice) LaunchKernel(ctx context.Context, bytecode []byte, blocks, blockSize int, paramAddrs []uintptr) error {
	if err := d.driver.Launch(d.ordinal, d.streamId, bytecode, blocks, blockSize, paramAddrs); err != nil {
		return err
	}
	return d.Synchronize(ctx)
}

func (d *gpuDevice) Reduce(ctx context.Context, buf Buffer, dtype dtypes.DType, n int, op primitives.ReduceOp, result Buffer) error {
	if err := d.driver.Reduce(d.ordinal, buf.Ptr, dtype, n, op, result.Ptr, d.streamId); err != nil {
		return err
	}
	return d.Synchronize(ctx)
}

func (d *gpuDevice) PrefixSum(ctx context.Context, buf, out Buffer, dtype dtypes.DType, n int, inclusive bool) error {
	if err := d.driver.PrefixSum(d.ordinal, buf.Ptr, out.Ptr, dtype, n, inclusive, d.streamId); err != nil {
		return err
	}
	return d.Synchronize(ctx)
}

func (d *gpuDevice) Compress(ctx context.Context, buf, mask, out Buffer, dtype dtypes.DType, n int) (int, error) {
	countBuf, err := d.Malloc(4, DeviceLocal)
	if err != nil {
		return 0, err
	}
	defer d.Free(countBuf)
	if err := d.driver.Compress(d.ordinal, buf.Ptr, mask.Ptr, out.Ptr, countBuf.Ptr, dtype, n, d.streamId); err != nil {
		return 0, err
	}
	if err := d.Synchronize(ctx); err != nil {
		return 0, err
	}
	countBytes, err := d.driver.ReadHost(d.ordinal, countBuf.Ptr, 4, d.streamId)
	if err != nil {
		return 0, err
	}
	return int(uint32(countBytes[0]) | uint32(countBytes[1])<<8 | uint32(countBytes[2])<<16 | uint32(countBytes[3])<<24), nil
}

func (d *gpuDevice) Mkperm(ctx context.Context, buckets, perm, offsets Buffer, numBuckets, n int) error {
	if err := d.driver.Mkperm(d.ordinal, buckets.Ptr, perm.Ptr, offsets.Ptr, numBuckets, n, d.streamId); err != nil {
		return err
	}
	return d.Synchronize(ctx)
}

func (d *gpuDevice) BlockCopy(ctx context.Context, src, dst Buffer, dtype dtypes.DType, n, k int) error {
	if err := d.driver.BlockCopy(d.ordinal, src.Ptr, dst.Ptr, dtype, n, k, d.streamId); err != nil {
		return err
	}
	return d.Synchronize(ctx)
}

func (d *gpuDevice) BlockSum(ctx context.Context, src, dst Buffer, dtype dtypes.DType, n, k int) error {
	if err := d.driver.BlockSum(d.ordinal, src.Ptr, dst.Ptr, dtype, n, k, d.streamId); err != nil {
		return err
	}
	return d.Synchronize(ctx)
}

func (d *gpuDevice) ReduceExpanded(ctx context.Context, buf Buffer, dtype dtypes.DType, size, exp int, op primitives.ReduceOp) error {
	if err := d.driver.ReduceExpanded(d.ordinal, buf.Ptr, dtype, size, exp, op, d.streamId); err != nil {
		return err
	}
	return d.Synchronize(ctx)
}

func (d *gpuDevice) ReadPointer(ctx context.Context, ptr uintptr, size int) ([]byte, error) {
	return d.driver.ReadHost(d.ordinal, ptr, size, d.streamId)
}

func (d *gpuDevice) WriteHost(ctx context.Context, dst Buffer, offset int, data []byte) error {
	if err := d.driver.UploadHost(d.ordinal, dst.Ptr, offset, data, d.streamId); err != nil {
		return err
	}
	return d.Synchronize(ctx)
}

func (d *gpuDevice) Synchronize(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- d.driver.SyncStream(d.ordinal, d.streamId) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
