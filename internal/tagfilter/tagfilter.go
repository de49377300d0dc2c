// Package tagfilter classifies and reshapes comma-separated tag strings.
package tagfilter

import (
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/bagtoad/tagsort/internal/vocab"
)

// Separator joins tags inside a caption.
const Separator = ", "

// Split breaks a tag string on the ", " delimiter. Tags themselves may
// contain spaces. An empty string yields no tags.
func Split(tags string) []string {
	if tags == "" {
		return nil
	}
	return strings.Split(tags, Separator)
}

// Join is the inverse of Split.
func Join(tags []string) string {
	return strings.Join(tags, Separator)
}

// Filter moves every tag whose underscore form fully matches one of the
// patterns out of tags and into kept. The map is modified in place; what
// remains is the droppable, descriptive part. Kept tags use spaces instead
// of underscores and are sorted alphabetically; display is their joined form.
func Filter[V any](tags map[string]V, patterns []*regexp.Regexp) (kept []string, display string) {
	seen := make(map[string]bool)
	for key := range tags {
		underscored := strings.ReplaceAll(key, " ", "_")
		for _, re := range patterns {
			if !fullMatch(re, underscored) {
				continue
			}
			spaced := strings.ReplaceAll(key, "_", " ")
			if !seen[spaced] {
				seen[spaced] = true
				kept = append(kept, spaced)
			}
			delete(tags, key)
			break
		}
	}
	sort.Strings(kept)
	display = strings.TrimSuffix(Join(kept), Separator)
	return kept, display
}

// anchored caches whole-string versions of filter patterns by source.
var anchored sync.Map

// fullMatch reports whether re matches all of s. Alternations are tried
// as a whole, so "red|red_eyes" matches "red_eyes".
func fullMatch(re *regexp.Regexp, s string) bool {
	src := re.String()
	v, ok := anchored.Load(src)
	if !ok {
		v, _ = anchored.LoadOrStore(src, regexp.MustCompile(`^(?:`+src+`)$`))
	}
	return v.(*regexp.Regexp).MatchString(s)
}

// Difference returns the tags of the string that are not in ref, without
// duplicates, in order of first occurrence.
func Difference(tags string, ref vocab.Set) string {
	var out []string
	seen := make(map[string]bool)
	for _, t := range Split(tags) {
		if ref.Has(t) || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return Join(out)
}

// Intersect returns the tags of the string that are in ref, without
// duplicates, in order of first occurrence.
func Intersect(tags string, ref vocab.Set) string {
	return Join(intersect(Split(tags), ref))
}

func intersect(tags []string, ref vocab.Set) []string {
	var out []string
	seen := make(map[string]bool)
	for _, t := range tags {
		if !ref.Has(t) || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// Repeat appends the tags shared with ref n more times so that they weigh
// more once the string is vectorized.
func Repeat(tags string, ref vocab.Set, n int) string {
	list := Split(tags)
	shared := intersect(list, ref)
	out := slices.Clone(list)
	for range n {
		out = append(out, shared...)
	}
	return Join(out)
}

var peopleTags = map[string]bool{
	"1girl": true, "1boy": true, "multiple girls": true, "multiple boys": true,
	"multiple_girls": true, "multiple_boys": true,
}

// MergePeople folds the head-count tags (1girl, multiple boys, ...) into a
// single "a and b" tag. The result is sorted.
func MergePeople(tags []string) []string {
	var people, rest []string
	for _, t := range tags {
		if peopleTags[t] {
			people = append(people, strings.ReplaceAll(t, "_", " "))
		} else {
			rest = append(rest, t)
		}
	}
	if len(people) == 0 {
		return tags
	}
	sort.Strings(people)
	rest = append(rest, strings.Join(people, " and "))
	sort.Strings(rest)
	return rest
}

// DropOverlap removes tags whose words appear as a contiguous run inside
// another, longer tag ("long hair" is dropped when "very long hair" is
// present). Underscores and spaces are equivalent. Order is preserved.
func DropOverlap(tags []string) []string {
	words := make([][]string, len(tags))
	for i, t := range tags {
		words[i] = strings.Fields(strings.ToLower(strings.ReplaceAll(t, "_", " ")))
	}
	var out []string
	for i, t := range tags {
		covered := false
		for j := range tags {
			if i == j || len(words[j]) <= len(words[i]) {
				continue
			}
			if containsRun(words[j], words[i]) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, t)
		}
	}
	return out
}

func containsRun(haystack, needle []string) bool {
	if len(needle) == 0 {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if slices.Equal(haystack[i:i+len(needle)], needle) {
			return true
		}
	}
	return false
}

// ContainsColor reports whether the tag mentions a color word.
func ContainsColor(tag string) bool {
	for _, c := range vocab.ColorWords {
		if strings.Contains(tag, c) {
			return true
		}
	}
	return false
}

// IsNSFW reports whether any explicit pattern occurs in the tag string.
func IsNSFW(tags string) bool {
	for _, re := range vocab.NSFWPatterns {
		if re.MatchString(tags) {
			return true
		}
	}
	return false
}
