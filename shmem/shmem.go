// Package shmem implements the shared-memory region allocator spec.md §4.9
// and §6 describe: real file-backed mmap regions, named deterministically
// enough to find and clean up after a crash, carved up by a bump
// allocator with a size-classed free list behind it. Grounded on
// original_source/src/lib/shmem/shmem_file.h's ShMemFile naming
// (`shmemfile_alloc`, `shmemfile_map`, `shmemfile_goodSizeNBytes`).
package shmem

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/segmentio/ksuid"
	"golang.org/x/sys/unix"
)

// PageSize is the allocator's alignment granularity. GoodSize rounds
// every request up to a multiple of it, mirroring
// shmemfile_goodSizeNBytes's page-rounding contract.
const PageSize = 4096

// GoodSize rounds requested up to the next page-aligned power of two
// (PageSize, 2*PageSize, 4*PageSize, ...).
func GoodSize(requested int) int {
	size := PageSize
	for size < requested {
		size *= 2
	}
	return size
}

// Region is one mmap-backed shared-memory segment, named
// "<prefix>-<pid>-<nonce>" per spec.md §6, where nonce is a ksuid so that
// names are unique across concurrent engine runs without coordination.
// A bump allocator hands out sub-ranges; Free returns freed ranges to a
// size-classed free list before falling back to the bump pointer.
type Region struct {
	mu       sync.Mutex
	name     string
	dir      string
	f        *os.File
	data     []byte
	bump     int
	freeList map[int][]int // size class -> list of offsets
}

// Name returns the region's "<prefix>-<pid>-<nonce>" filename.
func Name(prefix string, pid int32) string {
	return fmt.Sprintf("%s-%d-%s", prefix, pid, ksuid.New().String())
}

// Create allocates a new backing file of nbytes (rounded via GoodSize) in
// dir, named via Name, and maps it with golang.org/x/sys/unix.Mmap.
func Create(dir, prefix string, pid int32, nbytes int) (*Region, error) {
	size := GoodSize(nbytes)
	name := Name(prefix, pid)
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, errors.Wrapf(err, "shmem: creating backing file %s", path)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, errors.Wrapf(err, "shmem: sizing backing file %s", path)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, errors.Wrapf(err, "shmem: mmap %s", path)
	}

	return &Region{
		name:     name,
		dir:      dir,
		f:        f,
		data:     data,
		freeList: make(map[int][]int),
	}, nil
}

// Name reports the region's backing filename.
func (r *Region) Name() string { return r.name }

// Size reports the mapped region's total byte length.
func (r *Region) Size() int { return len(r.data) }

// Block is a live allocation: the usable slice plus the offset Free needs
// to return it to the right size class. Returning the offset explicitly
// (rather than recovering it from the slice header) keeps the allocator
// free of unsafe pointer arithmetic.
type Block struct {
	Data   []byte
	offset int
	class  int
}

// Alloc returns a Block of nbytes (rounded to a size class) backed by the
// mapped region: a free-list entry of the right class if one exists,
// otherwise a fresh slice from the bump pointer. Returns an error if the
// region has no room left.
func (r *Region) Alloc(nbytes int) (Block, error) {
	class := goodClass(nbytes)
	r.mu.Lock()
	defer r.mu.Unlock()

	if offsets := r.freeList[class]; len(offsets) > 0 {
		off := offsets[len(offsets)-1]
		r.freeList[class] = offsets[:len(offsets)-1]
		return Block{Data: r.data[off : off+class], offset: off, class: class}, nil
	}

	if r.bump+class > len(r.data) {
		return Block{}, errors.New("shmem: region exhausted")
	}
	off := r.bump
	r.bump += class
	return Block{Data: r.data[off : off+class], offset: off, class: class}, nil
}

// Free returns blk to the free list for its size class.
func (r *Region) Free(blk Block) {
	r.mu.Lock()
	r.freeList[blk.class] = append(r.freeList[blk.class], blk.offset)
	r.mu.Unlock()
}

// Close unmaps and removes the backing file.
func (r *Region) Close() error {
	if err := unix.Munmap(r.data); err != nil {
		return errors.Wrap(err, "shmem: munmap")
	}
	path := filepath.Join(r.dir, r.name)
	if err := r.f.Close(); err != nil {
		return errors.Wrap(err, "shmem: closing backing file")
	}
	return os.Remove(path)
}

// goodClass buckets a request into the next power-of-two size class,
// bounded below by 64 bytes, so that Free/Alloc reuse slots of matching
// capacity rather than fragmenting the bump arena.
func goodClass(nbytes int) int {
	class := 64
	for class < nbytes {
		class *= 2
	}
	return class
}

// CleanupStaleRegions removes every file under dir whose name starts with
// prefix, a crash-safe startup pass that reclaims shared-memory regions
// leaked by a previous run that never reached an orderly shutdown
// (spec.md §4.9, SPEC_FULL §5.8).
func CleanupStaleRegions(dir, prefix string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "shmem: reading %s", dir)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && hasPrefix(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "shmem: removing stale region %s", name)
		}
	}
	return nil
}

func hasPrefix(name, prefix string) bool {
	return len(name) >= len(prefix) && name[:len(prefix)] == prefix
}
