package kernel

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/arrayjit/arrayjit/assemble"
	"github.com/arrayjit/arrayjit/graph"
)

// DiskStore persists compiled kernels across process restarts:
// one file per cache entry, named by its content hash, holding the
// source text followed by a fixed header and the compiled bytecode.
//
// No third-party package in the dependency pack offers an on-disk
// key/value or content-addressed store suited to this exact format,
// and the header layout needs to be a fixed, explicit byte shape rather
// than left to a library's own framing -- hence the standard-library
// file and encoding/binary/hash/crc32 use here.
type DiskStore struct {
	dir string
}

// NewDiskStore returns a DiskStore rooted at dir, which must already exist.
func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{dir: dir}
}

type diskHeader struct {
	Hash               [16]byte
	Backend            uint8
	BytecodeSize       uint32
	PreferredBlockSize uint32
	CRC                uint32
}

const diskHeaderSize = 16 + 1 + 4 + 4 + 4

func (s *DiskStore) path(key Key) string {
	return filepath.Join(s.dir, fmt.Sprintf("%x.akc", key.Hash))
}

// Save writes e to disk under its content hash.
func (s *DiskStore) Save(key Key, e *Entry) error {
	var buf bytes.Buffer
	buf.WriteString(e.Assembly.Source)

	hdr := diskHeader{
		Hash:               key.Hash,
		Backend:            uint8(e.Assembly.Backend),
		BytecodeSize:       uint32(len(e.Bytecode)),
		PreferredBlockSize: uint32(e.PreferredBlockSize),
	}
	hdr.CRC = crc32.ChecksumIEEE(e.Bytecode)

	if err := binary.Write(&buf, binary.LittleEndian, hdr.Hash); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.LittleEndian, hdr.Backend); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.LittleEndian, hdr.BytecodeSize); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.LittleEndian, hdr.PreferredBlockSize); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.LittleEndian, hdr.CRC); err != nil {
		return err
	}
	buf.Write(e.Bytecode)

	return os.WriteFile(s.path(key), buf.Bytes(), 0o644)
}

// Load reads back the entry for key, verifying its CRC and that the
// stored source text matches asm's (a defensive check against a stale
// cache file surviving a kernel-text-affecting code change without its
// hash changing, which should not happen but is cheap to catch here).
func (s *DiskStore) Load(key Key, asm *assemble.Assembly) (*Entry, error) {
	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	sourceLen := len(asm.Source)
	if len(raw) < sourceLen+diskHeaderSize {
		return nil, errors.Errorf("kernel: disk cache file for %s is truncated", key)
	}
	source := string(raw[:sourceLen])
	header := raw[sourceLen:]

	var hdr diskHeader
	r := bytes.NewReader(header)
	if err := binary.Read(r, binary.LittleEndian, &hdr.Hash); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr.Backend); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr.BytecodeSize); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr.PreferredBlockSize); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr.CRC); err != nil {
		return nil, err
	}
	bytecode := make([]byte, hdr.BytecodeSize)
	if _, err := r.Read(bytecode); err != nil {
		return nil, err
	}

	if hdr.Hash != key.Hash {
		return nil, errors.Errorf("kernel: disk cache file for %s has mismatched hash header", key)
	}
	if crc32.ChecksumIEEE(bytecode) != hdr.CRC {
		return nil, errors.Errorf("kernel: disk cache file for %s failed CRC check", key)
	}
	if source != asm.Source {
		return nil, errors.Errorf("kernel: disk cache file for %s has stale source text", key)
	}

	return &Entry{
		Key:                key,
		Assembly:           asm,
		Bytecode:           bytecode,
		PreferredBlockSize: int(hdr.PreferredBlockSize),
	}, nil
}

// CachedKernelInfo summarizes one on-disk cache file without requiring
// the original Assembly that produced it, for introspection tools.
type CachedKernelInfo struct {
	Hash               [16]byte
	Backend            graph.Backend
	SourceSize         int
	BytecodeSize       int
	PreferredBlockSize int
	Path               string
}

// List enumerates every cache file under the store's directory,
// reading just their headers.
func (s *DiskStore) List() ([]CachedKernelInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var out []CachedKernelInfo
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".akc") {
			continue
		}
		path := filepath.Join(s.dir, de.Name())
		info, err := readCachedKernelInfo(path)
		if err != nil {
			return nil, errors.Wrapf(err, "kernel: reading %s", path)
		}
		out = append(out, info)
	}
	return out, nil
}

func readCachedKernelInfo(path string) (CachedKernelInfo, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return CachedKernelInfo{}, err
	}
	// The header starts with the content hash the file is named after,
	// so its position gives the length of the source text before it.
	hash, err := hex.DecodeString(strings.TrimSuffix(filepath.Base(path), ".akc"))
	if err != nil {
		return CachedKernelInfo{}, err
	}
	sourceLen := bytes.Index(raw, hash)
	if sourceLen < 0 || len(raw)-sourceLen < diskHeaderSize {
		return CachedKernelInfo{}, errors.New("file is truncated")
	}

	var hdr diskHeader
	r := bytes.NewReader(raw[sourceLen:])
	if err := binary.Read(r, binary.LittleEndian, &hdr.Hash); err != nil {
		return CachedKernelInfo{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr.Backend); err != nil {
		return CachedKernelInfo{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr.BytecodeSize); err != nil {
		return CachedKernelInfo{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr.PreferredBlockSize); err != nil {
		return CachedKernelInfo{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr.CRC); err != nil {
		return CachedKernelInfo{}, err
	}

	return CachedKernelInfo{
		Hash:               hdr.Hash,
		Backend:            graph.Backend(hdr.Backend),
		SourceSize:         sourceLen,
		BytecodeSize:       int(hdr.BytecodeSize),
		PreferredBlockSize: int(hdr.PreferredBlockSize),
		Path:               path,
	}, nil
}

// String renders a CachedKernelInfo's hash as hex, matching the file
// name convention the store uses on disk.
func (i CachedKernelInfo) String() string {
	return hex.EncodeToString(i.Hash[:])
}
