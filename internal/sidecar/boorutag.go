package sidecar

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/traditionalchinese"

	"github.com/bagtoad/tagsort/internal/tagfilter"
)

// BooruTag is the metadata a booru downloader stores next to an image.
type BooruTag struct {
	Characters []string
	Artist     string
	Tags       []string
}

var parenthetical = regexp.MustCompile(`\(.*?\)`)

// CleanName strips parenthesized qualifiers, backslash escapes and
// underscores from a character tag: `hatsune_miku_\(append\)` becomes
// "hatsune miku".
func CleanName(tag string) string {
	tag = parenthetical.ReplaceAllString(tag, "")
	tag = strings.ReplaceAll(tag, `\`, "")
	tag = strings.ReplaceAll(tag, "_", " ")
	return strings.TrimSpace(tag)
}

// BooruTagPath returns the .boorutag file belonging to image, or "" when
// there is none.
func BooruTagPath(image string) string {
	base := strings.TrimSuffix(image, extOf(image))
	for _, ext := range []string{".jpg.boorutag", ".png.boorutag"} {
		if _, err := os.Stat(base + ext); err == nil {
			return base + ext
		}
	}
	return ""
}

// ReadBooruTag parses the cp950-encoded .boorutag file of image. Line 1
// lists character names, line 7 the artist and line 19 the booru tags.
// It returns nil without error when the image has no such file.
func ReadBooruTag(image string) (*BooruTag, error) {
	path := BooruTagPath(image)
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text, err := traditionalchinese.Big5.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return parseBooruTag(string(text)), nil
}

func parseBooruTag(text string) *BooruTag {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	bt := &BooruTag{}
	if len(lines) == 0 {
		return bt
	}
	first := parenthetical.ReplaceAllString(lines[0], "")
	for _, name := range strings.Split(first, ",") {
		if name = CleanName(name); name != "" {
			bt.Characters = append(bt.Characters, name)
		}
	}
	if len(lines) >= 19 {
		bt.Artist = strings.TrimSpace(lines[6])
		bt.Tags = tagfilter.DropOverlap(tagfilter.Split(strings.TrimSpace(lines[18])))
	}
	return bt
}

func extOf(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 || strings.ContainsAny(path[i:], `/\`) {
		return ""
	}
	return path[i:]
}
