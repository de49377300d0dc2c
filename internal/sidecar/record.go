// Package sidecar reads and rewrites the caption files that sit next to
// dataset images, and models their content as typed tag records.
package sidecar

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bagtoad/tagsort/internal/scanner"
	"github.com/bagtoad/tagsort/internal/tagfilter"
	"github.com/bagtoad/tagsort/internal/vocab"
)

// Facet is one of the three views a tag record is clustered under.
type Facet int

const (
	Costume Facet = iota
	Appearance
	Scene
)

// Facets lists every facet in clustering order.
var Facets = []Facet{Costume, Appearance, Scene}

func (f Facet) String() string {
	switch f {
	case Costume:
		return "costume"
	case Appearance:
		return "appearance"
	case Scene:
		return "scene"
	}
	return fmt.Sprintf("Facet(%d)", int(f))
}

// Prefix is prepended to cluster names of this facet.
func (f Facet) Prefix() string {
	return f.String() + "_"
}

// ParseFacet accepts "costume", "appearance" or "scene".
func ParseFacet(s string) (Facet, error) {
	for _, f := range Facets {
		if strings.EqualFold(strings.TrimSpace(s), f.String()) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown facet %q", s)
}

// Assignment is the cluster an image ended up in for one facet. Name is
// empty for clusters beyond the lettered ones.
type Assignment struct {
	Name   string
	Prompt string
}

// Record is the tag state of one captioned image.
type Record struct {
	ImagePath string
	// Tags is the raw tag part of the caption's first line.
	Tags       string
	Costume    string
	Appearance string
	Scene      string
	Clusters   [3]Assignment
}

// NewRecord builds a record from an image path and the first caption line.
// Costume and appearance strings repeat the facet-relevant tags twice more
// so they dominate the TF-IDF weights.
func NewRecord(imagePath, firstLine string) Record {
	tags := ParseTags(firstLine)
	return Record{
		ImagePath:  imagePath,
		Tags:       tags,
		Costume:    tagfilter.Repeat(tags, vocab.NotSceneTags, 2),
		Appearance: tagfilter.Repeat(tags, vocab.AppearanceTags, 2),
		Scene:      tags,
	}
}

// ParseTags extracts the tag list from a caption line: everything after
// "|||" when present, otherwise everything after the leading segment.
func ParseTags(line string) string {
	line = strings.TrimSpace(line)
	if _, after, ok := strings.Cut(line, "|||"); ok {
		return strings.TrimSpace(after)
	}
	if _, after, ok := strings.Cut(line, tagfilter.Separator); ok {
		return after
	}
	return line
}

// TagsFor returns the tag string clustered under facet f.
func (r *Record) TagsFor(f Facet) string {
	switch f {
	case Costume:
		return r.Costume
	case Appearance:
		return r.Appearance
	}
	return r.Scene
}

// Cluster returns the assignment for facet f.
func (r *Record) Cluster(f Facet) Assignment {
	return r.Clusters[f]
}

// SetCluster records the assignment for facet f.
func (r *Record) SetCluster(f Facet, a Assignment) {
	r.Clusters[f] = a
}

// Named reports whether the record landed in a lettered cluster of facet f.
func (r *Record) Named(f Facet) bool {
	return r.Clusters[f].Name != ""
}

// Has reports whether the raw tag string contains s anywhere, including
// inside a longer tag ("doors" matches "outdoors").
func (r *Record) Has(s string) bool {
	return strings.Contains(r.Tags, s)
}

// ReadRecords pairs every image in dir with its .txt sidecar and parses
// the first line of each. Images without a sidecar are ignored. Records
// are in image name order; when two images share a base name the first wins.
func ReadRecords(dir string) ([]Record, error) {
	res, err := scanner.Scan(dir)
	if errors.Is(err, scanner.ErrNoImages) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var records []Record
	for _, img := range res.ImagePaths {
		txt := Path(img)
		if seen[txt] {
			continue
		}
		seen[txt] = true
		line, err := firstLine(txt)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, NewRecord(img, line))
	}
	return records, nil
}

func firstLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 64*1024), 1024*1024)
	if s.Scan() {
		return strings.TrimSpace(s.Text()), nil
	}
	if err := s.Err(); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return "", nil
}

// Path returns the sidecar caption path for an image.
func Path(image string) string {
	return strings.TrimSuffix(image, filepath.Ext(image)) + ".txt"
}
