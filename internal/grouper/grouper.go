// Package grouper drives the cluster pipeline over the "N_name" subfolders
// of a dataset: it clusters each folder's captions by costume, appearance
// and scene, writes the cluster names back into the captions and
// reorganizes the files.
package grouper

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/bagtoad/tagsort/internal/cluster"
	"github.com/bagtoad/tagsort/internal/mover"
	"github.com/bagtoad/tagsort/internal/report"
	"github.com/bagtoad/tagsort/internal/scanner"
	"github.com/bagtoad/tagsort/internal/sidecar"
	"github.com/bagtoad/tagsort/internal/vocab"
)

// MinRecords is the smallest folder worth clustering.
const MinRecords = 3

// Options configure a cluster run.
type Options struct {
	Algorithm cluster.Algorithm
	Eps       float64
	Seed      uint64
	// Mode is the facet whose cluster names drive file reorganization and
	// caption rewriting.
	Mode   sidecar.Facet
	DryRun bool
	Move   bool
	Copy   bool
}

// FolderResult is what happened to one subfolder.
type FolderResult struct {
	Dir     string
	Records []sidecar.Record
	Moves   []mover.MoveResult
	Skipped string
}

// Grouper runs the cluster pipeline.
type Grouper struct {
	engine *cluster.Engine
	opts   Options
	runID  string
}

// New returns a grouper.
func New(opts Options) *Grouper {
	engine := cluster.NewEngine(opts.Algorithm, opts.Seed)
	if opts.Eps > 0 {
		engine.Eps = opts.Eps
	}
	return &Grouper{engine: engine, opts: opts, runID: uuid.NewString()}
}

// RunID identifies this grouper's run in logs and reports.
func (g *Grouper) RunID() string {
	return g.runID
}

// Run processes every immediate subfolder of root and appends one markdown
// section per clustered folder to md, after a header. md may be nil.
func (g *Grouper) Run(ctx context.Context, root string, md io.Writer) ([]FolderResult, error) {
	dirs, err := scanner.Subfolders(root)
	if err != nil {
		return nil, err
	}
	if md != nil {
		if err := report.WriteHeader(md, g.runID); err != nil {
			return nil, fmt.Errorf("write report: %w", err)
		}
	}

	var results []FolderResult
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := g.ProcessFolder(dir, md)
		if err != nil {
			klog.Warningf("skipping %s: %v", dir, err)
			continue
		}
		if res.Skipped != "" {
			klog.Infof("skipping %s: %s", dir, res.Skipped)
		}
		results = append(results, *res)
	}
	return results, nil
}

// ProcessFolder clusters one "N_name" folder.
func (g *Grouper) ProcessFolder(dir string, md io.Writer) (*FolderResult, error) {
	res := &FolderResult{Dir: dir}
	name := filepath.Base(dir)
	repeats, label, ok := scanner.ParseFolder(name)
	if !ok || strings.Contains(name, " extra ") {
		res.Skipped = "folder name does not match N_name"
		return res, nil
	}

	records, err := sidecar.ReadRecords(dir)
	if err != nil {
		return nil, err
	}
	if len(records) < MinRecords {
		res.Skipped = fmt.Sprintf("only %d captioned images", len(records))
		return res, nil
	}
	klog.Infof("clustering %s (%d images)", name, len(records))

	g.Assign(records)
	res.Records = records

	if !g.opts.DryRun {
		for i := range records {
			if err := sidecar.InsertClusterText(&records[i], g.opts.Mode, vocab.KeepTags); err != nil {
				klog.Warningf("cannot rewrite caption of %s: %v", records[i].ImagePath, err)
			}
		}
	}

	plan := mover.NewPlan(dir, label, records, g.opts.Mode, repeats)
	if g.opts.Copy {
		moves, err := mover.CopyClusters(plan, g.opts.DryRun)
		if err != nil {
			return nil, err
		}
		res.Moves = append(res.Moves, moves...)
	}
	if g.opts.Move {
		moves, err := mover.MoveClusters(plan, !g.opts.Copy, g.opts.DryRun)
		if err != nil {
			return nil, err
		}
		res.Moves = append(res.Moves, moves...)
	}

	if md != nil {
		if err := report.WriteMarkdown(md, dir, records); err != nil {
			return nil, fmt.Errorf("write report: %w", err)
		}
	}
	return res, nil
}

// Assign clusters the records facet by facet. Solo images that are not
// completely nude are grouped by costume; the remaining solo images with an
// indoor/outdoor tag by appearance; everything still unnamed by scene.
func (g *Grouper) Assign(records []sidecar.Record) {
	members := map[sidecar.Facet]func(r *sidecar.Record) bool{
		sidecar.Costume: func(r *sidecar.Record) bool {
			return r.Has("solo") && !r.Has("completely nude")
		},
		sidecar.Appearance: func(r *sidecar.Record) bool {
			return r.Has("doors") && r.Has("solo") && !r.Named(sidecar.Costume)
		},
		sidecar.Scene: func(r *sidecar.Record) bool {
			return !r.Named(sidecar.Costume) && !r.Named(sidecar.Appearance)
		},
	}
	for _, f := range sidecar.Facets {
		var idx []int
		for i := range records {
			if members[f](&records[i]) {
				idx = append(idx, i)
			}
		}
		if err := g.clusterFacet(records, idx, f); err != nil {
			klog.Warningf("%s clustering failed: %v", f, err)
		}
	}
}

func (g *Grouper) clusterFacet(records []sidecar.Record, idx []int, f sidecar.Facet) error {
	if len(idx) < 2 {
		klog.V(1).Infof("%s: %d images, nothing to cluster", f, len(idx))
		return nil
	}
	docs := make([]string, len(idx))
	for j, i := range idx {
		docs[j] = records[i].TagsFor(f)
	}
	res, err := g.engine.Run(docs, f.Prefix())
	if err != nil {
		return err
	}
	for j, i := range idx {
		if c := res.ClusterOf(j); c != nil {
			records[i].SetCluster(f, sidecar.Assignment{Name: c.Name, Prompt: c.Prompt})
		}
	}
	klog.V(1).Infof("%s: %d images in %d clusters", f, len(idx), len(res.Clusters))
	return nil
}
