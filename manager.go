// Package arrayjit is the public entry point: it ties the trace graph
// (package graph), kernel assembly (package assemble), compiled-kernel
// caching and launching (package kernel), and the CPU/GPU execution
// targets (package device) into the Schedule/Eval surface user code
// calls.
//
// Manager is a single mutex-guarded owner of the node store and the
// device list: one per process, holding every backend's kernel cache.
package arrayjit

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/arrayjit/arrayjit/assemble"
	"github.com/arrayjit/arrayjit/device"
	"github.com/arrayjit/arrayjit/dtypes"
	"github.com/arrayjit/arrayjit/graph"
	"github.com/arrayjit/arrayjit/kernel"
)

// Manager owns one trace graph and the compiled-kernel caches for every
// backend in use. All graph mutation happens under its mutex;
// this is the global lock the graph and loop packages' doc comments
// refer to.
type Manager struct {
	mu sync.Mutex

	store *graph.Store

	devices map[graph.Backend]device.Device
	caches  map[graph.Backend]*kernel.Cache

	compiler kernel.Compiler
	disk     *kernel.DiskStore
	history  *kernel.History

	buffersMu sync.Mutex
	buffers   map[graph.Id]device.Buffer
}

// Config configures a new Manager. Compiler must be supplied by the
// caller; compiling assembled source into backend bytecode is outside
// this module's scope.
type Config struct {
	Compiler     kernel.Compiler
	DiskCacheDir string // empty disables on-disk persistence
	HistorySize  int    // 0 disables the launch-history ring buffer
}

// NewManager returns a Manager with an empty trace graph.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		store:    graph.NewStore(),
		devices:  make(map[graph.Backend]device.Device),
		caches:   make(map[graph.Backend]*kernel.Cache),
		compiler: cfg.Compiler,
		buffers:  make(map[graph.Id]device.Buffer),
	}
	if cfg.DiskCacheDir != "" {
		m.disk = kernel.NewDiskStore(cfg.DiskCacheDir)
	}
	if cfg.HistorySize > 0 {
		m.history = kernel.NewHistory(cfg.HistorySize)
	}
	return m
}

// Store returns the underlying node store. Callers must hold no other
// reference to it across goroutines without external synchronization;
// Manager's own methods already serialize through mu.
func (m *Manager) Store() *graph.Store { return m.store }

func (m *Manager) deviceFor(backend graph.Backend) device.Device {
	d, ok := m.devices[backend]
	if !ok {
		d = device.New(backend, 0)
		m.devices[backend] = d
	}
	return d
}

func (m *Manager) cacheFor(backend graph.Backend) *kernel.Cache {
	c, ok := m.caches[backend]
	if !ok {
		c = kernel.NewCache(m.compiler, m.disk, m.history)
		m.caches[backend] = c
	}
	return c
}

// Schedule builds a flattened, grouped schedule over roots without
// executing anything. Exposed directly for callers that
// want to inspect or cache the schedule shape before running Eval.
func (m *Manager) Schedule(roots []graph.Id) ([]graph.ScheduledVariable, []graph.ScheduledGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.BuildSchedule(roots)
}

// assembleAndRun compiles and launches every group in the schedule, in
// order, on the backend each group's variables were created for.
func (m *Manager) assembleAndRun(ctx context.Context, schedule []graph.ScheduledVariable, groups []graph.ScheduledGroup, buffersOf func(graph.Id) device.Buffer) error {
	for _, group := range groups {
		backend := m.store.Get(schedule[group.Begin].Id).Backend
		asm, err := assemble.Assemble(m.store, schedule, group, backend)
		if err != nil {
			return err
		}
		if klog.V(3).Enabled() {
			klog.Infof("arrayjit: assembled kernel %s:\n%s", asm.Name, asm.Source)
		}

		cache := m.cacheFor(backend)
		key := kernel.Key{Hash: asm.Hash, Device: 0, Backend: backend}
		entry, err := cache.GetOrCompile(key, asm)
		if err != nil {
			return err
		}

		dev := m.deviceFor(backend)
		// ptrs is indexed by Param.Slot, not by append order: a group with
		// any register-only temporary or inline literal leaves gaps in the
		// schedule order that Params (which now only lists slot-occupying
		// roles) no longer walks contiguously. The leading ReservedSlots
		// entries the kernel text's ld.param/st.param indices assume are
		// never themselves bound to a buffer -- the backend fills those
		// implicitly -- so they are left as the zero Buffer.
		maxSlot := assemble.ReservedSlots(backend) - 1
		for _, p := range asm.Params {
			if p.Slot > maxSlot {
				maxSlot = p.Slot
			}
		}
		ptrs := make([]device.Buffer, maxSlot+1)
		for _, p := range asm.Params {
			switch p.Role {
			case assemble.RoleOutput:
				buf, err := m.outputBuffer(dev, p.Id)
				if err != nil {
					return err
				}
				ptrs[p.Slot] = buf
			case assemble.RoleLiteralPointer:
				m.mu.Lock()
				v := m.store.Get(p.Id)
				m.mu.Unlock()
				if v == nil {
					return errors.Errorf("arrayjit: literal-pointer variable %d missing from store", p.Id)
				}
				ptrs[p.Slot] = device.Buffer{Ptr: uintptr(v.Literal)}
			default:
				ptrs[p.Slot] = buffersOf(p.Id)
			}
		}
		launcher := kernel.NewLauncher(cache)
		if err := launcher.Launch(ctx, dev, entry, kernel.Args{Size: group.Length, Ptrs: ptrs}); err != nil {
			return err
		}
	}
	return nil
}

// outputBuffer returns the device buffer backing a newly materialized
// output variable, allocating it on first use and reusing the same
// allocation for as long as the variable stays live in the store: a
// scheduled-output id is never something the caller already holds a
// buffer for, so asking buffersOf for it would be circular.
//
// The allocation is type-sized plus up to 4 bytes of trailing padding
// for element types narrower than 4 bytes, so a kernel that gathers a
// trailing partial word never reads past the buffer.
func (m *Manager) outputBuffer(dev device.Device, id graph.Id) (device.Buffer, error) {
	m.buffersMu.Lock()
	defer m.buffersMu.Unlock()
	if buf, ok := m.buffers[id]; ok {
		return buf, nil
	}
	v := m.store.Get(id)
	if v == nil {
		return device.Buffer{}, errors.Errorf("arrayjit: output variable %d missing from store", id)
	}
	size := v.DType.Size()*v.Size + outputPadding(v.DType)
	buf, err := dev.Malloc(size, device.DeviceLocal)
	if err != nil {
		return device.Buffer{}, err
	}
	m.buffers[id] = buf
	return buf, nil
}

// outputPadding returns the extra trailing bytes an output allocation
// for dtype needs so a 4-byte gather can never run past the buffer's
// last element; wide element types need none.
func outputPadding(dtype dtypes.DType) int {
	sz := dtype.Size()
	if sz >= 4 {
		return 0
	}
	return 4 - sz
}

// freeOutputBuffer releases a previously allocated output buffer, if
// any, and forgets it. Called once a variable's id is confirmed fully
// freed from the store so the allocation does not outlive its graph
// node.
func (m *Manager) freeOutputBuffer(dev device.Device, id graph.Id) {
	m.buffersMu.Lock()
	buf, ok := m.buffers[id]
	if ok {
		delete(m.buffers, id)
	}
	m.buffersMu.Unlock()
	if ok {
		dev.Free(buf)
	}
}
