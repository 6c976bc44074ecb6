//go:build !unix

package sys

// Mmap reads the first size bytes of f into memory on platforms without
// mmap support in this package.
func Mmap(f FileHandle, size int64) ([]byte, error) {
	if size <= 0 {
		return nil, nil
	}
	return readAll(f, size)
}

func Munmap(data []byte, mapped bool) error { return nil }

func MadviseRandom(data []byte) error { return nil }

func IsMapped(f FileHandle) bool { return false }
