package sidecar

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bagtoad/tagsort/internal/tagfilter"
	"github.com/bagtoad/tagsort/internal/vocab"
)

// Marker separates the fixed caption head from the selected labels.
const Marker = "___"

// InsertClusterText rewrites the first three caption lines of rec so each
// starts with the facet's cluster name followed by the record's tags that
// belong to its costume prompt or to keep. Those tags and any color tags
// are removed from the first line's tag list. Blank lines are dropped.
func InsertClusterText(rec *Record, mode Facet, keep vocab.Set) error {
	path := Path(rec.ImagePath)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	lines := strings.Split(strings.TrimRight(string(data), "\r\n"), "\n")

	prompt := vocab.NewSet(tagfilter.Split(rec.Cluster(Costume).Prompt)...)
	var cluster, caption []string
	if name := rec.Cluster(mode).Name; name != "" {
		cluster = append(cluster, name)
	}
	used := make(map[string]bool)
	for _, tag := range tagfilter.Split(rec.Tags) {
		if tagfilter.ContainsColor(tag) || used[tag] {
			continue
		}
		used[tag] = true
		if prompt.Has(tag) || keep.Has(tag) {
			cluster = append(cluster, tag)
		} else {
			caption = append(caption, tag)
		}
	}
	clusterText := ""
	if len(cluster) > 0 {
		clusterText = tagfilter.Join(cluster) + tagfilter.Separator
	}
	newCaption := tagfilter.Join(caption)

	for i := 0; i < len(lines) && i < 3; i++ {
		line := strings.TrimSpace(lines[i])
		if i == 0 && newCaption != "" && rec.Tags != "" {
			line = strings.ReplaceAll(line, rec.Tags, newCaption)
		}
		if head, rest, ok := strings.Cut(line, tagfilter.Separator); ok {
			lines[i] = head + tagfilter.Separator + clusterText + rest
		} else {
			lines[i] = line + " " + clusterText
		}
	}
	return WriteCaption(path, lines)
}

// WriteCaption writes caption lines to path, trimming each line and
// dropping blank ones.
func WriteCaption(path string, lines []string) error {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	if err := os.WriteFile(path, []byte(strings.Join(out, "\n")), 0644); err != nil {
		return fmt.Errorf("write caption %s: %w", path, err)
	}
	return nil
}

// Modified returns the sidecar's modification time, or false when it does
// not exist.
func Modified(path string) (time.Time, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// AnnotateAccuracy inserts tag in front of every Marker in the caption at
// path. An empty tag leaves the file untouched.
func AnnotateAccuracy(path, tag string) error {
	if tag == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	content := strings.ReplaceAll(string(data), Marker, tag+tagfilter.Separator+Marker)
	return os.WriteFile(path, []byte(content), 0644)
}

// DropTags removes every tag in drop from each .txt caption directly inside
// dir. Tags are split on commas and trimmed; blank tags are removed too.
func DropTags(dir string, drop vocab.Set) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("cannot read directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".txt") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		lines := strings.Split(string(data), "\n")
		for i, line := range lines {
			var kept []string
			for _, tag := range strings.Split(line, ",") {
				if tag = strings.TrimSpace(tag); tag != "" && !drop.Has(tag) {
					kept = append(kept, tag)
				}
			}
			lines[i] = tagfilter.Join(kept)
		}
		if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0644); err != nil {
			return fmt.Errorf("write caption %s: %w", path, err)
		}
	}
	return nil
}
