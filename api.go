package arrayjit

import (
	"context"

	"github.com/pkg/errors"

	"github.com/arrayjit/arrayjit/device"
	"github.com/arrayjit/arrayjit/dtypes"
	"github.com/arrayjit/arrayjit/graph"
	"github.com/arrayjit/arrayjit/hostfunc"
	"github.com/arrayjit/arrayjit/loop"
	"github.com/arrayjit/arrayjit/primitives"
)

// Malloc allocates size bytes on backend's device.
func (m *Manager) Malloc(backend graph.Backend, size int, kind device.MemKind) (device.Buffer, error) {
	return m.deviceFor(backend).Malloc(size, kind)
}

// Free releases a buffer returned by Malloc.
func (m *Manager) Free(backend graph.Backend, buf device.Buffer) {
	m.deviceFor(backend).Free(buf)
}

// Data registers an already-materialized buffer as a trace-graph
// variable, under the global lock, and returns its id.
func (m *Manager) Data(backend graph.Backend, dtype dtypes.DType, size int, data any) graph.Id {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.NewData(backend, dtype, size, data).Id()
}

// Literal registers an immediate constant as a trace-graph variable and
// returns its id.
func (m *Manager) Literal(backend graph.Backend, dtype dtypes.DType, size int, bits uint64) graph.Id {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.NewLiteral(backend, dtype, size, bits).Id()
}

// Eval flushes a ThreadState's accumulated roots and side effects: it
// builds the schedule, assembles and launches one kernel per group,
// runs post-evaluation cleanup, and resets the ThreadState for the next
// recording pass.
//
// buffersOf resolves the id of a variable a kernel reads as an input to
// the device buffer its parameter slot should bind to (output buffers are
// allocated by the Manager, and a literal pointer's address is taken from
// the literal itself); supplying this mapping is left to the
// caller because only it knows how trace-graph ids correspond to the
// buffers it allocated via Malloc or Data.
func (m *Manager) Eval(ctx context.Context, ts *ThreadState, buffersOf func(graph.Id) device.Buffer) error {
	if ts.Flags.Has(Recording) {
		return errors.New("arrayjit: Eval called while a loop body is being recorded on this ThreadState")
	}

	// Recording is never active here (the guard above already rejected
	// that case), so every pending side-effect producer is merged into
	// the root set: it must be scheduled for its write to ever happen.
	roots := make([]graph.Id, 0, len(ts.Roots())+len(ts.SideEffects()))
	roots = append(roots, ts.Roots()...)
	roots = append(roots, ts.SideEffects()...)

	m.mu.Lock()
	schedule, groups, err := m.store.BuildSchedule(roots)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	if err := m.assembleAndRun(ctx, schedule, groups, buffersOf); err != nil {
		return err
	}

	m.mu.Lock()
	backendOf := make(map[graph.Id]graph.Backend, len(schedule))
	for _, sv := range schedule {
		if v := m.store.Get(sv.Id); v != nil {
			backendOf[sv.Id] = v.Backend
		}
	}
	result := m.store.Cleanup(schedule, ts.SideEffects())
	m.mu.Unlock()
	m.releaseFreedOutputBuffers(result.Freed, backendOf)

	ts.Reset()
	return nil
}

// releaseFreedOutputBuffers frees the device-side allocations backing
// any output variable Cleanup just dropped from the store, keyed off the
// backend each id was scheduled against (captured before Cleanup freed
// the variable, since its record is gone afterward).
func (m *Manager) releaseFreedOutputBuffers(freed []graph.Id, backendOf map[graph.Id]graph.Backend) {
	for _, id := range freed {
		backend, ok := backendOf[id]
		if !ok {
			continue
		}
		m.freeOutputBuffer(m.deviceFor(backend), id)
	}
}

// Reduce folds the first n elements of buf (dtype) on backend using op,
// writing the scalar result into result.
func (m *Manager) Reduce(ctx context.Context, backend graph.Backend, buf device.Buffer, dtype dtypes.DType, n int, op primitives.ReduceOp, result device.Buffer) error {
	return m.deviceFor(backend).Reduce(ctx, buf, dtype, n, op, result)
}

// PrefixSum writes the exclusive or inclusive running sum of buf's
// first n elements (dtype) on backend into out.
func (m *Manager) PrefixSum(ctx context.Context, backend graph.Backend, buf, out device.Buffer, dtype dtypes.DType, n int, inclusive bool) error {
	return m.deviceFor(backend).PrefixSum(ctx, buf, out, dtype, n, inclusive)
}

// Compress densely copies the elements of buf (dtype) on backend whose
// corresponding byte in mask is non-zero into out, and reports the
// count written.
func (m *Manager) Compress(ctx context.Context, backend graph.Backend, buf, mask, out device.Buffer, dtype dtypes.DType, n int) (int, error) {
	return m.deviceFor(backend).Compress(ctx, buf, mask, out, dtype, n)
}

// Mkperm buckets n uint32 keys in buckets on backend into numBuckets
// buckets, writing the permutation to perm and the offsets table to
// offsets.
func (m *Manager) Mkperm(ctx context.Context, backend graph.Backend, buckets, perm, offsets device.Buffer, numBuckets, n int) error {
	return m.deviceFor(backend).Mkperm(ctx, buckets, perm, offsets, numBuckets, n)
}

// BlockCopy replicates each of src's first n elements (dtype) on
// backend k times into dst.
func (m *Manager) BlockCopy(ctx context.Context, backend graph.Backend, src, dst device.Buffer, dtype dtypes.DType, n, k int) error {
	return m.deviceFor(backend).BlockCopy(ctx, src, dst, dtype, n, k)
}

// BlockSum reduces src's first n elements (dtype) on backend in
// contiguous groups of k, writing one partial sum per group to dst.
func (m *Manager) BlockSum(ctx context.Context, backend graph.Backend, src, dst device.Buffer, dtype dtypes.DType, n, k int) error {
	return m.deviceFor(backend).BlockSum(ctx, src, dst, dtype, n, k)
}

// ReduceExpanded folds exp contiguous size-length stripes of buf
// (dtype) on backend into the first stripe in place using op.
func (m *Manager) ReduceExpanded(ctx context.Context, backend graph.Backend, buf device.Buffer, dtype dtypes.DType, size, exp int, op primitives.ReduceOp) error {
	return m.deviceFor(backend).ReduceExpanded(ctx, buf, dtype, size, exp, op)
}

// managerPointerReader resolves hostfunc's pointer-valued entries
// through whichever device owns the destination buffer.
type managerPointerReader struct {
	dev device.Device
}

func (r managerPointerReader) ReadPointer(ctx context.Context, ptr uintptr, size int) ([]byte, error) {
	return r.dev.ReadPointer(ctx, ptr, size)
}

// Aggregate schedules batch's writes into dst's backing memory as a
// single host callback once every operation already submitted to
// dst's device has completed, merging what would otherwise be one
// enqueue_host_func per write. Each entry is pushed straight to its own
// offset in dst rather than staged through an intermediate full-buffer
// copy (hostfunc.Apply's role when the destination is already a plain
// byte slice), so bytes outside the batch's entries are left untouched.
func (m *Manager) Aggregate(ctx context.Context, backend graph.Backend, dst device.Buffer, batch hostfunc.Batch) error {
	dev := m.deviceFor(backend)
	reader := managerPointerReader{dev: dev}
	done := make(chan error, 1)
	hostfunc.Enqueue(dev, func() {
		for _, e := range batch.Entries {
			data := e.Data
			if e.Size < 0 {
				read, err := reader.ReadPointer(ctx, e.Ptr, -e.Size)
				if err != nil {
					done <- errors.Wrapf(err, "arrayjit: aggregate: reading pointer entry at offset %d", e.Offset)
					return
				}
				data = read
			}
			if err := dev.WriteHost(ctx, dst, e.Offset, data); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Poke schedules a single write into dst's backing memory, the
// singular counterpart of Aggregate for a caller with exactly one
// write rather than a batch.
func (m *Manager) Poke(ctx context.Context, backend graph.Backend, dst device.Buffer, entry hostfunc.Entry) error {
	return m.Aggregate(ctx, backend, dst, hostfunc.Batch{Entries: []hostfunc.Entry{entry}})
}

// NewLoop starts a recorded-loop builder over this Manager's store.
// The caller is responsible for calling Abort instead of Close if
// recording fails partway through.
func (m *Manager) NewLoop() *loop.Builder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return loop.New(m.store)
}

// NewWavefrontLoop starts the mask-based fallback loop strategy over
// initial.
func (m *Manager) NewWavefrontLoop(initial []graph.Id) *loop.WavefrontBuilder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return loop.NewWavefront(m.store, initial)
}
