package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Get when a key is not present.
	ErrNotFound = errors.New("nexustable: not found")
	// ErrClosed is returned by operations on a closed reader, writer or sorter.
	ErrClosed = errors.New("nexustable: closed")
	// ErrOutOfOrder is matched by every *OrderingError.
	ErrOutOfOrder = errors.New("nexustable: key out of order")

	ErrBadMagic           = errors.New("nexustable: bad magic number")
	ErrBadVersion         = errors.New("nexustable: unsupported format version")
	ErrTruncated          = errors.New("nexustable: truncated data")
	ErrCorrupted          = errors.New("nexustable: corrupted data")
	ErrUnknownCompression = errors.New("nexustable: unknown compression type")
)

// FormatError reports data that is not a valid instance of the file format.
// Err is one of ErrBadMagic, ErrBadVersion, ErrTruncated, ErrCorrupted or
// ErrUnknownCompression, optionally wrapped with detail.
type FormatError struct {
	Path   string
	Offset int64
	Err    error
}

func (e *FormatError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("format error at offset %d: %v", e.Offset, e.Err)
	}
	return fmt.Sprintf("format error in %s at offset %d: %v", e.Path, e.Offset, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// ChecksumError reports a block whose stored checksum does not match its
// contents. It is only produced when checksum verification is enabled.
type ChecksumError struct {
	Path     string
	Offset   int64
	Expected uint64
	Actual   uint64
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch in %s block at offset %d: expected %016x, got %016x", e.Path, e.Offset, e.Expected, e.Actual)
}

// IOError wraps a failure of the underlying file or sink.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// OrderingError is returned when a key is not strictly greater than the
// previously added key. Nothing is written for the rejected call.
type OrderingError struct {
	Key      []byte
	Previous []byte
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("key %q is not greater than previous key %q", e.Key, e.Previous)
}

func (e *OrderingError) Is(target error) bool { return target == ErrOutOfOrder }

// OpenError reports a source that could not be opened. Err is a *FormatError
// or an *IOError.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// IsFormatError checks if an error is a FormatError.
func IsFormatError(err error) bool {
	var formatError *FormatError
	return errors.As(err, &formatError)
}

// IsChecksumError checks if an error is a ChecksumError.
func IsChecksumError(err error) bool {
	var checksumError *ChecksumError
	return errors.As(err, &checksumError)
}

func IsIOError(err error) bool {
	var ioError *IOError
	return errors.As(err, &ioError)
}

func IsOrderingError(err error) bool {
	var orderingError *OrderingError
	return errors.As(err, &orderingError)
}

func IsOpenError(err error) bool {
	var openError *OpenError
	return errors.As(err, &openError)
}
