package tagfilter

import (
	"regexp"
	"slices"
	"testing"

	"github.com/bagtoad/tagsort/internal/vocab"
)

func TestFilterKeepsStructuralTags(t *testing.T) {
	tags := map[string]float32{"1girl": 0.99, "simple_background": 0.8, "red_eyes": 0.6}
	kept, display := Filter(tags, []*regexp.Regexp{regexp.MustCompile(`^.*background$`)})

	if len(kept) != 1 || kept[0] != "simple background" {
		t.Errorf("expected kept [simple background], got %v", kept)
	}
	if display != "simple background" {
		t.Errorf("unexpected display %q", display)
	}
	if len(tags) != 2 {
		t.Fatalf("expected 2 remaining tags, got %v", tags)
	}
	for _, want := range []string{"1girl", "red_eyes"} {
		if _, ok := tags[want]; !ok {
			t.Errorf("remainder should contain %q", want)
		}
	}
}

func TestFilterWholeTagMatch(t *testing.T) {
	tags := map[string]float32{"monochrome_lineart": 1, "monochrome": 1}
	kept, _ := Filter(tags, []*regexp.Regexp{regexp.MustCompile(`monochrome`)})

	if len(kept) != 1 || kept[0] != "monochrome" {
		t.Errorf("substring matches must not count, got %v", kept)
	}
	if _, ok := tags["monochrome_lineart"]; !ok {
		t.Error("monochrome_lineart should remain")
	}
}

func TestFilterAlternationMatchesWholeTag(t *testing.T) {
	tests := []struct {
		pattern string
		tags    []string
		want    []string
	}{
		{`red|red_eyes`, []string{"red_eyes", "1girl"}, []string{"red eyes"}},
		{`red|red_eyes`, []string{"red", "red_hair"}, []string{"red"}},
		{`^(hat|hat_ribbon)$`, []string{"hat ribbon", "hat"}, []string{"hat", "hat ribbon"}},
		{`.*hair|long_hair_ornament`, []string{"long_hair_ornament", "hair"}, []string{"hair", "long hair ornament"}},
	}
	for _, tt := range tests {
		tags := make(map[string]int)
		for _, tag := range tt.tags {
			tags[tag] = 1
		}
		kept, _ := Filter(tags, []*regexp.Regexp{regexp.MustCompile(tt.pattern)})
		if !slices.Equal(kept, tt.want) {
			t.Errorf("Filter(%v, %q) kept %v, want %v", tt.tags, tt.pattern, kept, tt.want)
		}
		if len(tags) != len(tt.tags)-len(tt.want) {
			t.Errorf("Filter(%v, %q) left %v", tt.tags, tt.pattern, tags)
		}
	}
}

func TestFilterSortsDisplay(t *testing.T) {
	tags := map[string]int{"white_background": 1, "english_text": 1, "solo": 1}
	kept, display := Filter(tags, vocab.ClusterKeepPatterns)

	if !slices.Equal(kept, []string{"english text", "white background"}) {
		t.Errorf("unexpected kept %v", kept)
	}
	if display != "english text, white background" {
		t.Errorf("unexpected display %q", display)
	}
}

func TestFilterNoMatches(t *testing.T) {
	tags := map[string]float32{"(((": 1, "": 1}
	kept, display := Filter(tags, vocab.ClusterKeepPatterns)
	if kept != nil || display != "" {
		t.Errorf("expected nothing kept, got %v %q", kept, display)
	}
	if len(tags) != 2 {
		t.Errorf("unmatched tags must stay, got %v", tags)
	}
}

func TestDifferenceSetAlgebra(t *testing.T) {
	input := "solo, red hair, smile, red hair, outdoors"
	ref := vocab.NewSet("red hair", "hat")

	dropped := Difference(input, ref)
	if dropped != "solo, smile, outdoors" {
		t.Errorf("unexpected difference %q", dropped)
	}

	kept := Intersect(input, ref)
	union := vocab.NewSet(Split(kept)...).Union(vocab.NewSet(Split(dropped)...))
	original := vocab.NewSet(Split(input)...)
	if len(union) != len(original) {
		t.Fatalf("kept ∪ dropped should equal the input set: %v vs %v", union, original)
	}
	for tag := range original {
		if !union.Has(tag) {
			t.Errorf("missing %q", tag)
		}
	}
}

func TestRepeat(t *testing.T) {
	got := Repeat("solo, blue eyes, skirt", vocab.NewSet("blue eyes", "hat"), 2)
	want := "solo, blue eyes, skirt, blue eyes, blue eyes"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestMergePeople(t *testing.T) {
	got := MergePeople([]string{"simple background", "1girl", "1boy"})
	want := []string{"1boy and 1girl", "simple background"}
	if !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	unchanged := []string{"a", "b"}
	if got := MergePeople(unchanged); !slices.Equal(got, unchanged) {
		t.Errorf("expected no change, got %v", got)
	}
}

func TestDropOverlap(t *testing.T) {
	got := DropOverlap([]string{"long_hair", "very long hair", "hair", "smile", "long"})
	want := []string{"very long hair", "smile"}
	if !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestContainsColor(t *testing.T) {
	if !ContainsColor("blue skirt") {
		t.Error("blue skirt has a color")
	}
	if ContainsColor("pleated skirt") {
		t.Error("pleated skirt has no color")
	}
}

func TestIsNSFW(t *testing.T) {
	if !IsNSFW("solo, Completely Nude") {
		t.Error("nude should be flagged regardless of case")
	}
	if IsNSFW("solo, smile") {
		t.Error("smile should not be flagged")
	}
}

func TestSplitEmpty(t *testing.T) {
	if Split("") != nil {
		t.Error("empty string should split to nil")
	}
}
