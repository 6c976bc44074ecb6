//go:build unix

package sys

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Mmap maps the first size bytes of f read-only. Handles without a file
// descriptor (test doubles) are read into memory instead. The mapping stays
// valid after f is closed and must be released with Munmap.
func Mmap(f FileHandle, size int64) ([]byte, error) {
	if size <= 0 {
		return nil, nil
	}
	if int64(int(size)) != size {
		return nil, fmt.Errorf("file of %d bytes is too large to map", size)
	}
	fd, ok := f.(interface{ Fd() uintptr })
	if !ok {
		return readAll(f, size)
	}
	data, err := unix.Mmap(int(fd.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", f.Name(), err)
	}
	return data, nil
}

// Munmap releases a mapping returned by Mmap. It is a no-op for in-memory
// copies.
func Munmap(data []byte, mapped bool) error {
	if !mapped || len(data) == 0 {
		return nil
	}
	return unix.Munmap(data)
}

// MadviseRandom tells the kernel that data will be accessed randomly, which
// disables read-ahead for the mapping.
func MadviseRandom(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Madvise(data, unix.MADV_RANDOM)
}

// IsMapped reports whether Mmap would map f rather than copy it.
func IsMapped(f FileHandle) bool {
	_, ok := f.(interface{ Fd() uintptr })
	return ok
}
