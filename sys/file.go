package sys

import (
	"io"
	"os"
	"sync/atomic"
)

var debugMode atomic.Bool

// FileHandle is the subset of *os.File used by writers, readers and the
// sorter. Tests substitute their own implementations through the handler
// variables below.
type FileHandle interface {
	io.ReadWriteCloser
	io.ReaderAt
	io.Seeker

	Stat() (os.FileInfo, error)
	Sync() error
	Name() string
}

type CreateHandler func(name string) (FileHandle, error)
type OpenHandler func(name string) (FileHandle, error)
type CreateTempHandler func(dir, pattern string) (FileHandle, error)
type RemoveHandler func(name string) error
type RenameHandler func(oldpath, newpath string) error

// SetDebugMode makes every handle opened afterwards log its lifetime and
// appear in OpenHandles until it is closed.
func SetDebugMode(mode bool) {
	debugMode.Store(mode)
}

func wrap(f *os.File, err error) (FileHandle, error) {
	if err != nil {
		return nil, err
	}
	if debugMode.Load() {
		return newDebugFile(f), nil
	}
	return f, nil
}

var Create CreateHandler = func(name string) (FileHandle, error) {
	return wrap(os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644))
}

var Open OpenHandler = func(name string) (FileHandle, error) {
	return wrap(os.Open(name))
}

var CreateTemp CreateTempHandler = func(dir, pattern string) (FileHandle, error) {
	return wrap(os.CreateTemp(dir, pattern))
}

// Remove deletes name. A file that is already gone is not an error.
var Remove RemoveHandler = func(name string) error {
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

var Rename RenameHandler = func(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}
