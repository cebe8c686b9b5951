package kernel_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrayjit/arrayjit/graph"
	"github.com/arrayjit/arrayjit/kernel"
)

func TestDiskStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := kernel.NewDiskStore(dir)
	asm := buildAssembly(t)
	key := kernel.Key{Hash: asm.Hash, Device: 0, Backend: graph.CPU}
	e := &kernel.Entry{Key: key, Assembly: asm, Bytecode: []byte{1, 2, 3, 4, 5}, PreferredBlockSize: 512}

	require.NoError(t, store.Save(key, e))

	loaded, err := store.Load(key, asm)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, e.Bytecode, loaded.Bytecode)
	assert.Equal(t, e.PreferredBlockSize, loaded.PreferredBlockSize)
}

func TestDiskStoreLoadMissingReturnsNil(t *testing.T) {
	store := kernel.NewDiskStore(t.TempDir())
	asm := buildAssembly(t)
	key := kernel.Key{Hash: asm.Hash, Device: 0, Backend: graph.CPU}

	loaded, err := store.Load(key, asm)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestDiskStoreDetectsStaleSource(t *testing.T) {
	dir := t.TempDir()
	store := kernel.NewDiskStore(dir)
	asm := buildAssembly(t)
	key := kernel.Key{Hash: asm.Hash, Device: 0, Backend: graph.CPU}
	e := &kernel.Entry{Key: key, Assembly: asm, Bytecode: []byte{1, 2, 3}, PreferredBlockSize: 512}
	require.NoError(t, store.Save(key, e))

	other := buildAssembly(t)
	other.Source = other.Source + "\n; tampered"
	_, err := store.Load(key, other)
	assert.Error(t, err)
}
