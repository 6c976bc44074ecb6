package fileset

import (
	"bufio"
	"io"
	"path/filepath"
	"strings"

	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/sys"
)

// readListing loads the listing file at path.
func readListing(path string) ([]string, error) {
	f, err := sys.Open(path)
	if err != nil {
		return nil, &core.OpenError{Path: path, Err: &core.IOError{Op: "open", Path: path, Err: err}}
	}
	defer f.Close()

	paths, err := parseListing(f, filepath.Dir(path))
	if err != nil {
		return nil, &core.OpenError{Path: path, Err: &core.IOError{Op: "read", Path: path, Err: err}}
	}
	return paths, nil
}

// parseListing returns the table paths named in a listing, one per line, in
// order of first appearance. Blank lines and lines starting with '#' are
// skipped. Relative paths are joined to dir.
func parseListing(r io.Reader, dir string) ([]string, error) {
	var paths []string
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !filepath.IsAbs(line) {
			line = filepath.Join(dir, line)
		}
		line = filepath.Clean(line)
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		paths = append(paths, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return paths, nil
}
