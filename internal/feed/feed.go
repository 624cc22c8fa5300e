// Package feed enumerates the references the ingest command feeds into a
// pipeline.
package feed

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cognicore/larder/pkg/larder/internalerr"
)

// ReadURLList reads one reference per line from path. Blank lines and lines
// starting with '#' are skipped, and repeated references are kept once in
// order of first appearance.
func ReadURLList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open url list %s: %w", path, err)
	}
	defer f.Close()

	seen := make(map[string]struct{})
	var refs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		refs = append(refs, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read url list %s: %w", path, err)
	}

	if len(refs) == 0 {
		return nil, fmt.Errorf("no urls found in %s: %w", path, internalerr.ErrInvalidInput)
	}
	return refs, nil
}

// WalkJSON returns every *.json file below dir, sorted.
func WalkJSON(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".json") {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("no json files found in %s: %w", dir, internalerr.ErrInvalidInput)
	}
	sort.Strings(paths)
	return paths, nil
}
