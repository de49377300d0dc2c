// Package scanner finds dataset images and interprets the "N_name" folder
// convention used by training datasets.
package scanner

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// SupportedExtensions contains the set of image file extensions we process.
var SupportedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
	".tiff": true,
	".tif":  true,
}

// ErrNoImages is returned by Scan when a directory holds no image files.
var ErrNoImages = errors.New("no image files found")

// Result holds the output of scanning a directory.
type Result struct {
	ImagePaths   []string
	SkippedCount int
}

// Batch is the set of images directly inside one directory.
type Batch struct {
	Dir    string
	Images []string
}

// IsImage reports whether the file name has a supported image extension.
func IsImage(name string) bool {
	return SupportedExtensions[strings.ToLower(filepath.Ext(name))]
}

// Scan lists the given directory (non-recursive) and returns image file paths
// in name order and a count of skipped non-image files.
func Scan(dir string) (*Result, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot access directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot read directory: %w", err)
	}

	result := &Result{}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if IsImage(entry.Name()) {
			result.ImagePaths = append(result.ImagePaths, filepath.Join(dir, entry.Name()))
		} else {
			result.SkippedCount++
		}
	}

	if len(result.ImagePaths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoImages, dir)
	}

	return result, nil
}

// Walk visits root and every directory below it, returning one batch per
// directory that contains images. Hidden directories are not entered.
func Walk(root string) ([]Batch, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("cannot access directory: %w", err)
	}

	var batches []Batch
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		res, err := Scan(path)
		if errors.Is(err, ErrNoImages) {
			return nil
		}
		if err != nil {
			return err
		}
		batches = append(batches, Batch{Dir: path, Images: res.ImagePaths})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return batches, nil
}

// ParseFolder splits a dataset folder name of the form "N_name" into its
// repeat count and label. Underscores in the label become spaces.
func ParseFolder(name string) (repeats int, label string, ok bool) {
	prefix, rest, found := strings.Cut(name, "_")
	if !found || prefix == "" {
		return 0, "", false
	}
	for _, r := range prefix {
		if r < '0' || r > '9' {
			return 0, "", false
		}
	}
	n, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, "", false
	}
	return n, strings.TrimSpace(strings.ReplaceAll(rest, "_", " ")), true
}

// Subfolders returns the immediate, non-hidden subdirectories of dir in
// name order.
func Subfolders(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot read directory: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}
