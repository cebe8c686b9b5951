// Package kernel owns compiled kernel lifetime: a process-wide cache
// keyed by (source hash, device, flags), the launcher that binds a
// cached kernel to device buffers, an optional disk-backed store, and a
// bounded launch-history ring buffer.
//
// A Cache entry plays the role of one compiled executable for a single
// fused-group kernel, with its own compile-on-miss path.
package kernel

import (
	"fmt"

	"k8s.io/klog/v2"

	"github.com/arrayjit/arrayjit/assemble"
	"github.com/arrayjit/arrayjit/graph"
	"github.com/arrayjit/arrayjit/internal/xsync"
)

// Flags is a compile-time bitfield folded into the cache key alongside
// the kernel's content hash: two kernels with identical source
// text but different flags must not collide.
type Flags uint32

const (
	FlagDebug Flags = 1 << iota
	FlagFastMath
	FlagPrintIR
)

// Key identifies one cache entry.
type Key struct {
	Hash    [16]byte
	Device  int
	Backend graph.Backend
	Flags   Flags
}

func (k Key) String() string {
	return fmt.Sprintf("%x/dev%d/%s/f%x", k.Hash, k.Device, k.Backend, uint32(k.Flags))
}

// Compiler turns assembled source text into backend-loadable bytecode.
// The concrete implementation (PTX via nvrtc/ptxas, or LLVM IR via the
// CPU JIT) is an out-of-scope collaborator; Cache only orchestrates
// when it is invoked.
type Compiler interface {
	Compile(asm *assemble.Assembly) (bytecode []byte, preferredBlockSize int, err error)
}

// Entry is one compiled, cached kernel.
type Entry struct {
	Key                Key
	Assembly           *assemble.Assembly
	Bytecode           []byte
	PreferredBlockSize int
}

// Cache is the process-wide compiled-kernel cache.
type Cache struct {
	compiler Compiler
	store    *xsync.SyncMap[Key, *Entry]
	disk     *DiskStore
	history  *History

	hits, softMisses, hardMisses, launches int64
}

// NewCache returns an empty Cache. disk may be nil to disable on-disk
// persistence; history may be nil to disable the launch-history ring
// buffer.
func NewCache(compiler Compiler, disk *DiskStore, history *History) *Cache {
	return &Cache{
		compiler: compiler,
		store:    &xsync.SyncMap[Key, *Entry]{},
		disk:     disk,
		history:  history,
	}
}

// GetOrCompile returns the cached Entry for key, compiling asm on a
// cache miss: first checking the disk store (a "soft miss", cheaper
// than recompiling), then invoking the compiler (a "hard miss").
func (c *Cache) GetOrCompile(key Key, asm *assemble.Assembly) (*Entry, error) {
	if e, ok := c.store.Load(key); ok {
		c.hits++
		return e, nil
	}

	if c.disk != nil {
		if e, err := c.disk.Load(key, asm); err == nil && e != nil {
			c.softMisses++
			c.store.Store(key, e)
			return e, nil
		}
	}

	c.hardMisses++
	klog.V(2).Infof("arrayjit: compiling kernel %s (%d bytes of source)", key, len(asm.Source))
	bytecode, blockSize, err := c.compiler.Compile(asm)
	if err != nil {
		return nil, fmt.Errorf("kernel: compilation of %s failed: %w", key, err)
	}
	e := &Entry{Key: key, Assembly: asm, Bytecode: bytecode, PreferredBlockSize: blockSize}
	c.store.Store(key, e)
	if c.disk != nil {
		if err := c.disk.Save(key, e); err != nil {
			klog.Warningf("arrayjit: failed to persist kernel %s to disk cache: %v", key, err)
		}
	}
	return e, nil
}

// Stats reports cumulative hit/miss/launch counters, for diagnostics.
func (c *Cache) Stats() (hits, softMisses, hardMisses, launches int64) {
	return c.hits, c.softMisses, c.hardMisses, c.launches
}

func (c *Cache) recordLaunch() { c.launches++ }
