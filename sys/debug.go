package sys

import (
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
)

var _ FileHandle = (*DebugFile)(nil)
var nextID atomic.Uint64

var listFD sync.Map // id -> file name

// DebugFile wraps an *os.File and tracks it in OpenHandles until Close.
type DebugFile struct {
	*os.File
	id     uint64
	logger *slog.Logger
}

func newDebugFile(f *os.File) *DebugFile {
	id := nextID.Add(1)
	logger := slog.Default().With("component", "DebugFile", "id", id, "file_name", f.Name())
	logger.Debug("Opening file")
	listFD.Store(id, f.Name())
	return &DebugFile{File: f, id: id, logger: logger}
}

func (df *DebugFile) Close() error {
	df.logger.Debug("Closing file")
	listFD.Delete(df.id)
	return df.File.Close()
}

// OpenHandles lists the names of debug-tracked handles that are still open.
func OpenHandles() []string {
	var names []string
	listFD.Range(func(_, value any) bool {
		names = append(names, value.(string))
		return true
	})
	sort.Strings(names)
	return names
}
