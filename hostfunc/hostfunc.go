// Package hostfunc implements host-side callbacks that run once a
// device's previously submitted work completes (Enqueue), and the batched
// parameter-buffer writes (Entry, Batch, Apply) delivered through them.
// A side-effect variable's Extra.Callback is not delivered here:
// graph.Cleanup calls it directly.
package hostfunc

import (
	"context"

	"github.com/pkg/errors"

	"github.com/arrayjit/arrayjit/device"
)

// Enqueue schedules fn to run once every operation already submitted to
// dev has completed. On GPU this rides the driver's host-callback event
// (device.gpuDevice.Submit already implements the record-event-then-
// wait handshake); on CPU it is an ordinary pool task. hostfunc adds no
// mechanism of its own here -- it exists to give the batching logic
// below a named home distinct from device.Device's general-purpose
// Submit.
func Enqueue(dev device.Device, fn func()) {
	dev.Submit(fn)
}

// Entry is one write in an aggregated batch-write: Size's sign encodes
// whether Data is an inline literal payload (Size >= 0, len(Data) ==
// Size) or a pointer to externally-owned memory of |Size| bytes
// (Size < 0, Ptr valid).
type Entry struct {
	Offset int
	Size   int
	Data   []byte
	Ptr    uintptr
}

// Literal returns an Entry that copies data verbatim into the
// destination buffer at offset.
func Literal(offset int, data []byte) Entry {
	return Entry{Offset: offset, Size: len(data), Data: data}
}

// Pointer returns an Entry that copies size bytes from an
// externally-owned address into the destination buffer at offset.
func Pointer(offset int, ptr uintptr, size int) Entry {
	return Entry{Offset: offset, Size: -size, Ptr: ptr}
}

func (e Entry) isPointer() bool { return e.Size < 0 }
func (e Entry) byteSize() int {
	if e.isPointer() {
		return -e.Size
	}
	return e.Size
}

// Batch aggregates several positionally-addressed writes into the
// parameter buffer a single host callback assembles, instead of one
// enqueue_host_func call per write.
type Batch struct {
	Entries []Entry
}

// Add appends an inline-literal write.
func (b *Batch) Add(offset int, data []byte) {
	b.Entries = append(b.Entries, Literal(offset, data))
}

// AddPointer appends an out-of-line write.
func (b *Batch) AddPointer(offset int, ptr uintptr, size int) {
	b.Entries = append(b.Entries, Pointer(offset, ptr, size))
}

// PointerReader fetches size bytes from an externally-owned address, a
// collaborator supplied by the device layer since only it knows how to
// dereference a raw address for its backend (host memory directly on
// CPU, a synchronous device-to-host copy on GPU).
type PointerReader interface {
	ReadPointer(ctx context.Context, ptr uintptr, size int) ([]byte, error)
}

// Apply writes every entry in b into dst at its recorded offset, in
// order, reading pointer entries through reader.
func Apply(ctx context.Context, dst []byte, b Batch, reader PointerReader) error {
	for _, e := range b.Entries {
		if e.Offset < 0 || e.Offset+e.byteSize() > len(dst) {
			return errors.Errorf("hostfunc: entry at offset %d size %d overruns destination of length %d", e.Offset, e.byteSize(), len(dst))
		}
		if !e.isPointer() {
			copy(dst[e.Offset:e.Offset+e.byteSize()], e.Data)
			continue
		}
		data, err := reader.ReadPointer(ctx, e.Ptr, e.byteSize())
		if err != nil {
			return errors.Wrapf(err, "hostfunc: reading pointer entry at offset %d", e.Offset)
		}
		copy(dst[e.Offset:e.Offset+e.byteSize()], data)
	}
	return nil
}
