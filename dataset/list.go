// Package dataset provides the sample pools a cascade is trained on.
//
// Positives are read from a list file where every line holds an image path followed by the
// pixel coordinates of the landmarks. Negatives are random square regions of background
// images that contain no face; the pool is refilled by hard negative mining after every cart.
package dataset

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// entry is one non-empty line of a list file.
type entry struct {
	line   int
	path   string
	fields []string
}

// readList parses a list file. Empty lines and lines starting with # are skipped,
// relative image paths are resolved against the directory of the list file.
func readList(list string) ([]entry, error) {
	f, err := os.Open(list)
	if err != nil {
		return nil, fmt.Errorf("unable to open the list file: %w", err)
	}
	defer f.Close()

	var (
		entries []entry
		dir     = filepath.Dir(list)
		scanner = bufio.NewScanner(f)
		n       int
	)
	for scanner.Scan() {
		n++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		path := fields[0]
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		entries = append(entries, entry{line: n, path: path, fields: fields[1:]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", list, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%s lists no image", list)
	}
	return entries, nil
}
