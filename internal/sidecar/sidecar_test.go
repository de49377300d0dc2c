package sidecar

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"golang.org/x/text/encoding/traditionalchinese"

	"github.com/bagtoad/tagsort/internal/vocab"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func read(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestParseTags(t *testing.T) {
	tests := []struct {
		line, want string
	}{
		{"miku, rating:general, ||| solo, smile", "solo, smile"},
		{"miku, solo, smile", "solo, smile"},
		{"solo", "solo"},
		{"  |||  ", ""},
	}
	for _, tt := range tests {
		if got := ParseTags(tt.line); got != tt.want {
			t.Errorf("ParseTags(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestNewRecordFacets(t *testing.T) {
	rec := NewRecord("/data/001.png", "miku, |||solo, skirt, long hair, outdoors")

	if rec.Tags != "solo, skirt, long hair, outdoors" {
		t.Errorf("unexpected tags %q", rec.Tags)
	}
	wantCostume := "solo, skirt, long hair, outdoors, skirt, long hair, skirt, long hair"
	if rec.Costume != wantCostume {
		t.Errorf("costume = %q, want %q", rec.Costume, wantCostume)
	}
	wantAppearance := "solo, skirt, long hair, outdoors, long hair, long hair"
	if rec.Appearance != wantAppearance {
		t.Errorf("appearance = %q, want %q", rec.Appearance, wantAppearance)
	}
	if rec.TagsFor(Scene) != rec.Tags {
		t.Errorf("scene should use the raw tags, got %q", rec.TagsFor(Scene))
	}
	if !rec.Has("doors") {
		t.Error("substring lookup should match outdoors")
	}

	rec.SetCluster(Appearance, Assignment{Name: "appearance_b", Prompt: "long hair"})
	if !rec.Named(Appearance) || rec.Named(Costume) {
		t.Errorf("unexpected assignments %+v", rec.Clusters)
	}
	if rec.Cluster(Appearance).Prompt != "long hair" {
		t.Errorf("unexpected prompt %q", rec.Cluster(Appearance).Prompt)
	}
}

func TestFacet(t *testing.T) {
	if Costume.Prefix() != "costume_" || Scene.String() != "scene" {
		t.Errorf("unexpected facet names %q %q", Costume.Prefix(), Scene)
	}
	f, err := ParseFacet("Appearance")
	if err != nil || f != Appearance {
		t.Errorf("ParseFacet = %v, %v", f, err)
	}
	if _, err := ParseFacet("pose"); err == nil {
		t.Error("expected error for unknown facet")
	}
}

func TestReadRecords(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "001.jpg"), "img")
	write(t, filepath.Join(dir, "001.txt"), "miku, |||solo, smile\nsecond line")
	write(t, filepath.Join(dir, "002.png"), "img")
	write(t, filepath.Join(dir, "003.webp"), "img")
	write(t, filepath.Join(dir, "003.txt"), "rin, 2girls, hug")
	write(t, filepath.Join(dir, "notes.md"), "ignore me")

	records, err := ReadRecords(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if filepath.Base(records[0].ImagePath) != "001.jpg" || records[0].Tags != "solo, smile" {
		t.Errorf("unexpected first record %+v", records[0])
	}
	if filepath.Base(records[1].ImagePath) != "003.webp" || records[1].Tags != "2girls, hug" {
		t.Errorf("unexpected second record %+v", records[1])
	}

	empty, err := ReadRecords(t.TempDir())
	if err != nil || empty != nil {
		t.Errorf("empty directory should yield no records, got %v, %v", empty, err)
	}
}

func TestInsertClusterText(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "001.png")
	caption := strings.Join([]string{
		"a character miku in this image, rating:general, |||solo, red hair, school uniform, holding cup, smile",
		"x, y",
		"z",
		"",
		"tail",
	}, "\n")
	write(t, Path(img), caption)

	rec := NewRecord(img, strings.SplitN(caption, "\n", 2)[0])
	rec.SetCluster(Costume, Assignment{Name: "costume_a", Prompt: "school uniform, solo"})

	if err := InsertClusterText(&rec, Costume, vocab.NewSet("holding cup")); err != nil {
		t.Fatal(err)
	}

	want := strings.Join([]string{
		"a character miku in this image, costume_a, solo, school uniform, holding cup, rating:general, |||smile",
		"x, costume_a, solo, school uniform, holding cup, y",
		"z costume_a, solo, school uniform, holding cup,",
		"tail",
	}, "\n")
	if got := read(t, Path(img)); got != want {
		t.Errorf("unexpected caption:\n%s\nwant:\n%s", got, want)
	}
}

func TestInsertClusterTextUnnamedMode(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "001.png")
	write(t, Path(img), "miku, |||solo, smile")

	rec := NewRecord(img, "miku, |||solo, smile")
	rec.SetCluster(Costume, Assignment{Name: "costume_a", Prompt: "solo"})

	if err := InsertClusterText(&rec, Scene, vocab.NewSet()); err != nil {
		t.Fatal(err)
	}
	if got := read(t, Path(img)); got != "miku, solo, |||smile" {
		t.Errorf("unexpected caption %q", got)
	}
}

func TestAnnotateAccuracy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "001.txt")
	write(t, path, "miku, ___solo\nmiku, ___smile")

	if err := AnnotateAccuracy(path, "low accuracy"); err != nil {
		t.Fatal(err)
	}
	want := "miku, low accuracy, ___solo\nmiku, low accuracy, ___smile"
	if got := read(t, path); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	if err := AnnotateAccuracy(path, ""); err != nil {
		t.Fatal(err)
	}
	if got := read(t, path); got != want {
		t.Error("empty tag should not change the file")
	}
}

func TestDropTags(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "001.txt"), "miku, ___long hair, smile, twintails\nmiku,  ,twintails")
	write(t, filepath.Join(dir, "001.png"), "long hair")

	if err := DropTags(dir, vocab.NewSet("long hair", "twintails")); err != nil {
		t.Fatal(err)
	}
	want := "miku, ___long hair, smile\nmiku"
	if got := read(t, filepath.Join(dir, "001.txt")); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	if got := read(t, filepath.Join(dir, "001.png")); got != "long hair" {
		t.Error("non-caption files must not be touched")
	}
}

func TestWriteCaptionAndModified(t *testing.T) {
	path := filepath.Join(t.TempDir(), "001.txt")
	if _, ok := Modified(path); ok {
		t.Error("missing file should report not modified")
	}
	if err := WriteCaption(path, []string{" a, b ", "", "c"}); err != nil {
		t.Fatal(err)
	}
	if got := read(t, path); got != "a, b\nc" {
		t.Errorf("unexpected content %q", got)
	}
	mod, ok := Modified(path)
	if !ok || time.Since(mod) > time.Minute {
		t.Errorf("expected a fresh modification time, got %v %v", mod, ok)
	}
}

func TestReadBooruTag(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "001.jpg")

	if bt, err := ReadBooruTag(img); bt != nil || err != nil {
		t.Errorf("expected nothing for a missing file, got %v %v", bt, err)
	}

	lines := make([]string, 19)
	lines[0] = `hatsune_miku_\(append\), 初音未來`
	lines[6] = "artist_x"
	lines[18] = "long hair, very long hair, smile"
	encoded, err := traditionalchinese.Big5.NewEncoder().String(strings.Join(lines, "\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	write(t, filepath.Join(dir, "001.jpg.boorutag"), encoded)

	bt, err := ReadBooruTag(img)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(bt.Characters, []string{"hatsune miku", "初音未來"}) {
		t.Errorf("unexpected characters %q", bt.Characters)
	}
	if bt.Artist != "artist_x" {
		t.Errorf("unexpected artist %q", bt.Artist)
	}
	if !slices.Equal(bt.Tags, []string{"very long hair", "smile"}) {
		t.Errorf("unexpected tags %v", bt.Tags)
	}
}

func TestCleanName(t *testing.T) {
	if got := CleanName(`kaname_madoka_\(magical_girl\) `); got != "kaname madoka" {
		t.Errorf("unexpected %q", got)
	}
}
