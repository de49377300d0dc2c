// Package mover reorganizes a dataset folder by cluster: balancing copies
// of small clusters into an extra folder and moving members into per-cluster
// subfolders.
package mover

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"k8s.io/klog/v2"

	"github.com/bagtoad/tagsort/internal/sidecar"
)

// MaxCopies is the largest balancing factor applied to a cluster; smaller
// clusters are left alone.
const MaxCopies = 15

// companions are the files that travel with an image.
var companions = []string{".txt", ".npz"}

// Group is one cluster of images inside the folder.
type Group struct {
	Name   string
	Images []string
	// Copies is how many times the group must be repeated to match the
	// largest cluster.
	Copies int
}

// Skip reports whether the group is too small to balance.
func (g Group) Skip() bool {
	return g.Copies > MaxCopies
}

// Plan describes how a dataset folder will be reorganized.
type Plan struct {
	Dir          string
	Label        string
	Groups       []Group
	ExtraRepeats int
}

// MoveResult records what happened to a single file.
type MoveResult struct {
	SourcePath string
	DestPath   string
	Cluster    string
	Copied     bool
}

// NewPlan groups records by their cluster name for the given facet, in order
// of first appearance. repeats is the folder's "N_" repeat count.
func NewPlan(dir, label string, records []sidecar.Record, mode sidecar.Facet, repeats int) *Plan {
	p := &Plan{Dir: dir, Label: label, ExtraRepeats: 1}
	index := make(map[string]int)
	for _, r := range records {
		name := r.Cluster(mode).Name
		if name == "" {
			continue
		}
		i, ok := index[name]
		if !ok {
			i = len(p.Groups)
			index[name] = i
			p.Groups = append(p.Groups, Group{Name: name})
		}
		p.Groups[i].Images = append(p.Groups[i].Images, r.ImagePath)
	}
	if len(p.Groups) == 0 {
		return p
	}

	largest := 0
	for _, g := range p.Groups {
		largest = max(largest, len(g.Images))
	}
	for i := range p.Groups {
		p.Groups[i].Copies = largest / len(p.Groups[i].Images)
	}
	total := float64(len(records) * repeats)
	p.ExtraRepeats = max(1, int(math.Ceil(total/float64(largest*len(p.Groups)))))
	return p
}

// ExtraDir is the sibling folder receiving balancing copies.
func (p *Plan) ExtraDir() string {
	return filepath.Join(filepath.Dir(p.Dir), fmt.Sprintf("%d_%s extra hard link", p.ExtraRepeats, p.Label))
}

// CopyClusters places Copies hard links (or copies, where linking fails) of
// every member of each group into ExtraDir as "{i}_{name}". Existing targets
// are left untouched.
func CopyClusters(p *Plan, dryRun bool) ([]MoveResult, error) {
	extra := p.ExtraDir()
	var results []MoveResult
	for _, g := range p.Groups {
		if g.Skip() {
			klog.V(1).Infof("not balancing %s: %d copies needed", g.Name, g.Copies)
			continue
		}
		if !dryRun {
			if err := os.MkdirAll(extra, 0755); err != nil {
				return nil, fmt.Errorf("cannot create folder %q: %w", extra, err)
			}
		}
		for i := range g.Copies {
			for _, img := range g.Images {
				for _, src := range withCompanions(img) {
					dst := filepath.Join(extra, fmt.Sprintf("%d_%s", i, filepath.Base(src)))
					if dryRun {
						results = append(results, MoveResult{SourcePath: src, DestPath: dst, Cluster: g.Name})
						continue
					}
					if _, err := os.Stat(dst); err == nil {
						klog.V(1).Infof("%s already exists", dst)
						continue
					}
					copied, err := linkOrCopy(src, dst)
					if err != nil {
						return nil, err
					}
					results = append(results, MoveResult{SourcePath: src, DestPath: dst, Cluster: g.Name, Copied: copied})
				}
			}
		}
	}
	return results, nil
}

// MoveClusters moves the members of each group into "{copies}_{name}"
// inside the folder. With collectRest, every other file left at the top
// level moves into "1_".
func MoveClusters(p *Plan, collectRest, dryRun bool) ([]MoveResult, error) {
	var results []MoveResult
	moved := make(map[string]bool)
	for _, g := range p.Groups {
		if g.Skip() {
			continue
		}
		dir := filepath.Join(p.Dir, fmt.Sprintf("%d_%s", g.Copies, g.Name))
		if !dryRun {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("cannot create cluster folder %q: %w", dir, err)
			}
		}
		for _, img := range g.Images {
			dest := resolveConflict(filepath.Join(dir, filepath.Base(img)), dryRun)
			stem := strings.TrimSuffix(dest, filepath.Ext(dest))
			for _, src := range withCompanions(img) {
				target := dest
				if src != img {
					target = stem + filepath.Ext(src)
				}
				if err := move(src, target, dryRun); err != nil {
					return nil, err
				}
				moved[src] = true
				results = append(results, MoveResult{SourcePath: src, DestPath: target, Cluster: g.Name})
			}
		}
	}
	if !collectRest {
		return results, nil
	}

	entries, err := os.ReadDir(p.Dir)
	if err != nil {
		return nil, fmt.Errorf("cannot read directory: %w", err)
	}
	rest := filepath.Join(p.Dir, "1_")
	for _, e := range entries {
		src := filepath.Join(p.Dir, e.Name())
		if e.IsDir() || moved[src] {
			continue
		}
		if !dryRun {
			if err := os.MkdirAll(rest, 0755); err != nil {
				return nil, fmt.Errorf("cannot create folder %q: %w", rest, err)
			}
		}
		dest := resolveConflict(filepath.Join(rest, e.Name()), dryRun)
		if err := move(src, dest, dryRun); err != nil {
			return nil, err
		}
		results = append(results, MoveResult{SourcePath: src, DestPath: dest})
	}
	return results, nil
}

// withCompanions returns img followed by its existing sidecar files.
func withCompanions(img string) []string {
	out := []string{img}
	stem := strings.TrimSuffix(img, filepath.Ext(img))
	for _, ext := range companions {
		if _, err := os.Stat(stem + ext); err == nil {
			out = append(out, stem+ext)
		}
	}
	return out
}

func move(src, dst string, dryRun bool) error {
	if dryRun {
		return nil
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("cannot move %s to %s: %w", src, dst, err)
	}
	return nil
}

// linkOrCopy hard-links src to dst, copying the bytes when the link fails.
// It reports whether a copy was made.
func linkOrCopy(src, dst string) (bool, error) {
	err := os.Link(src, dst)
	if err == nil {
		return false, nil
	}
	klog.V(1).Infof("hard link %s -> %s failed (%v), copying", src, dst, err)

	in, err := os.Open(src)
	if err != nil {
		return true, err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return true, err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return true, fmt.Errorf("cannot copy %s: %w", src, err)
	}
	return true, out.Close()
}

// resolveConflict appends a numeric suffix if a file already exists at destPath.
func resolveConflict(destPath string, dryRun bool) string {
	if dryRun {
		return destPath
	}

	if _, err := os.Stat(destPath); os.IsNotExist(err) {
		return destPath
	}

	ext := filepath.Ext(destPath)
	base := strings.TrimSuffix(destPath, ext)

	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", base, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
