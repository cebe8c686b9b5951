package kernel

import (
	"context"

	"github.com/pkg/errors"

	"github.com/arrayjit/arrayjit/device"
	"github.com/arrayjit/arrayjit/graph"
)

// poolBlockSize is the default CPU work-unit granularity:
// one GPU-style "block" covers this many lanes of the group.
const poolBlockSize = 16384

// Launcher binds a cached Entry to device buffers and runs it.
type Launcher struct {
	cache *Cache
}

// NewLauncher returns a Launcher drawing kernels from cache.
func NewLauncher(cache *Cache) *Launcher {
	return &Launcher{cache: cache}
}

// Args binds one Launch call's runtime parameter values, indexed the
// same way as assemble.Param.Slot.
type Args struct {
	Size int
	Ptrs []device.Buffer
}

func addrs(bufs []device.Buffer) []uintptr {
	out := make([]uintptr, len(bufs))
	for i, b := range bufs {
		out[i] = b.Ptr
	}
	return out
}

// Launch runs e on dev over size lanes, blocking until the device
// reports completion.
//
// On GPU, the launch grid is one block count derived from size and the
// kernel's preferred block size, with one retry after a synchronous
// flush if the driver reports an out-of-memory error. On CPU, work is
// split into ceil(size/blockSize) units submitted to the device's
// worker pool.
func (l *Launcher) Launch(ctx context.Context, dev device.Device, e *Entry, args Args) error {
	if e.Assembly.Backend != dev.Backend() {
		return errors.Errorf("kernel: entry %s is for backend %s, device is %s", e.Key, e.Assembly.Backend, dev.Backend())
	}
	l.cache.recordLaunch()
	if l.cache.history != nil {
		l.cache.history.Record(e.Key, args.Size)
	}

	blockSize := e.PreferredBlockSize
	if blockSize <= 0 {
		blockSize = defaultBlockSize(dev.Backend())
	}
	blocks := (args.Size + blockSize - 1) / blockSize
	if blocks == 0 {
		blocks = 1
	}
	paramAddrs := addrs(args.Ptrs)

	err := dev.LaunchKernel(ctx, e.Bytecode, blocks, blockSize, paramAddrs)
	if dev.Backend() == graph.GPU && isOOM(err) {
		if syncErr := dev.Synchronize(ctx); syncErr != nil {
			return syncErr
		}
		err = dev.LaunchKernel(ctx, e.Bytecode, blocks, blockSize, paramAddrs)
	}
	return err
}

func defaultBlockSize(backend graph.Backend) int {
	if backend == graph.GPU {
		return 256
	}
	return poolBlockSize
}

// isOOM reports whether err represents a device-side out-of-memory
// condition.
func isOOM(err error) bool {
	return errors.Is(err, ErrOutOfMemory)
}

// ErrOutOfMemory is returned by a device.Driver when a launch fails due
// to insufficient device memory.
var ErrOutOfMemory = errors.New("kernel: device out of memory")
