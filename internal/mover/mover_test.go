package mover

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bagtoad/tagsort/internal/sidecar"
)

// setupFolder creates dir/3_miku with images a..e, captions for each and
// an .npz for a. a, b and c are in costume_a; d is in costume_b; e has no
// named cluster.
func setupFolder(t *testing.T) (string, []sidecar.Record) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "3_miku")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	clusters := map[string]string{"a": "costume_a", "b": "costume_a", "c": "costume_a", "d": "costume_b", "e": ""}
	var records []sidecar.Record
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		img := filepath.Join(dir, name+".png")
		for _, p := range []string{img, filepath.Join(dir, name+".txt")} {
			if err := os.WriteFile(p, []byte(name), 0644); err != nil {
				t.Fatal(err)
			}
		}
		rec := sidecar.Record{ImagePath: img}
		rec.SetCluster(sidecar.Costume, sidecar.Assignment{Name: clusters[name]})
		records = append(records, rec)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.npz"), []byte("latent"), 0644); err != nil {
		t.Fatal(err)
	}
	return dir, records
}

func TestNewPlan(t *testing.T) {
	dir, records := setupFolder(t)
	p := NewPlan(dir, "miku", records, sidecar.Costume, 3)

	if len(p.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(p.Groups))
	}
	if p.Groups[0].Name != "costume_a" || p.Groups[0].Copies != 1 {
		t.Errorf("unexpected first group %+v", p.Groups[0])
	}
	if p.Groups[1].Name != "costume_b" || p.Groups[1].Copies != 3 {
		t.Errorf("unexpected second group %+v", p.Groups[1])
	}
	// ceil(5*3 / (3*2)) = 3
	if p.ExtraRepeats != 3 {
		t.Errorf("expected 3 extra repeats, got %d", p.ExtraRepeats)
	}
	if got := filepath.Base(p.ExtraDir()); got != "3_miku extra hard link" {
		t.Errorf("unexpected extra folder %q", got)
	}
}

func TestNewPlanWithoutClusters(t *testing.T) {
	p := NewPlan("/x/1_a", "a", []sidecar.Record{{ImagePath: "/x/1_a/a.png"}}, sidecar.Scene, 1)
	if len(p.Groups) != 0 || p.ExtraRepeats != 1 {
		t.Errorf("unexpected plan %+v", p)
	}
}

func TestGroupSkip(t *testing.T) {
	if (Group{Copies: 15}).Skip() {
		t.Error("15 copies should still be balanced")
	}
	if !(Group{Copies: 16}).Skip() {
		t.Error("16 copies should be skipped")
	}
}

func TestCopyClusters(t *testing.T) {
	dir, records := setupFolder(t)
	p := NewPlan(dir, "miku", records, sidecar.Costume, 3)

	results, err := CopyClusters(p, false)
	if err != nil {
		t.Fatal(err)
	}
	// costume_a: 1 copy of 3 images, 3 captions and a.npz; costume_b: 3 copies of d.png and d.txt
	if len(results) != 7+6 {
		t.Errorf("expected 13 results, got %d", len(results))
	}
	extra := p.ExtraDir()
	for _, name := range []string{"0_a.png", "0_a.txt", "0_a.npz", "0_d.png", "1_d.png", "2_d.txt"} {
		if _, err := os.Stat(filepath.Join(extra, name)); err != nil {
			t.Errorf("expected %s in extra folder", name)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "a.png")); err != nil {
		t.Error("originals must stay in place")
	}

	// Existing targets are skipped on a second run.
	again, err := CopyClusters(p, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Errorf("expected no new files, got %d", len(again))
	}
}

func TestCopyClustersDryRun(t *testing.T) {
	dir, records := setupFolder(t)
	p := NewPlan(dir, "miku", records, sidecar.Costume, 3)

	results, err := CopyClusters(p, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Error("dry run should still report planned copies")
	}
	if _, err := os.Stat(p.ExtraDir()); !os.IsNotExist(err) {
		t.Error("dry run must not create the extra folder")
	}
}

func TestMoveClusters(t *testing.T) {
	dir, records := setupFolder(t)
	p := NewPlan(dir, "miku", records, sidecar.Costume, 3)

	moves, err := MoveClusters(p, true, false)
	if err != nil {
		t.Fatal(err)
	}

	for _, m := range moves {
		if _, err := os.Stat(m.DestPath); err != nil {
			t.Errorf("destination file missing: %s", m.DestPath)
		}
		if _, err := os.Stat(m.SourcePath); !os.IsNotExist(err) {
			t.Errorf("source file should no longer exist: %s", m.SourcePath)
		}
	}
	for _, rel := range []string{"1_costume_a/a.png", "1_costume_a/a.npz", "1_costume_a/c.txt", "3_costume_b/d.png", "1_/e.png", "1_/e.txt"} {
		if _, err := os.Stat(filepath.Join(dir, rel)); err != nil {
			t.Errorf("expected %s", rel)
		}
	}
}

func TestMoveClustersKeepsRest(t *testing.T) {
	dir, records := setupFolder(t)
	p := NewPlan(dir, "miku", records, sidecar.Costume, 3)

	if _, err := MoveClusters(p, false, false); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "e.png")); err != nil {
		t.Error("unclustered files stay at the top level")
	}
	if _, err := os.Stat(filepath.Join(dir, "1_")); !os.IsNotExist(err) {
		t.Error("1_ folder should not be created")
	}
}

func TestMoveClustersDryRun(t *testing.T) {
	dir, records := setupFolder(t)
	p := NewPlan(dir, "miku", records, sidecar.Costume, 3)

	moves, err := MoveClusters(p, true, true)
	if err != nil {
		t.Fatal(err)
	}
	// 4 clustered images with captions, a.npz, then e.png and e.txt
	if len(moves) != 8+1+2 {
		t.Errorf("expected 11 move results, got %d", len(moves))
	}
	if _, err := os.Stat(filepath.Join(dir, "a.png")); err != nil {
		t.Error("file should not have been moved in dry run")
	}
}

func TestResolveConflict(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "test.jpg")
	if got := resolveConflict(path, false); got != path {
		t.Errorf("expected %s, got %s", path, got)
	}

	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	expected := filepath.Join(dir, "test_1.jpg")
	if got := resolveConflict(path, false); got != expected {
		t.Errorf("expected %s, got %s", expected, got)
	}

	if err := os.WriteFile(expected, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	expected2 := filepath.Join(dir, "test_2.jpg")
	if got := resolveConflict(path, false); got != expected2 {
		t.Errorf("expected %s, got %s", expected2, got)
	}
}

func TestLinkOrCopy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.png")
	if err := os.WriteFile(src, []byte("pixels"), 0644); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(dir, "dst.png")
	if _, err := linkOrCopy(src, dst); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "pixels" {
		t.Errorf("unexpected content %q, %v", data, err)
	}
}
