// Package report generates summaries of caption and cluster runs.
package report

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/bagtoad/tagsort/internal/captioner"
	"github.com/bagtoad/tagsort/internal/mover"
	"github.com/bagtoad/tagsort/internal/sidecar"
	"github.com/bagtoad/tagsort/internal/tagfilter"
)

// Print writes a caption run summary to the given writer.
func Print(w io.Writer, sum *captioner.Summary) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Summary ===")
	fmt.Fprintf(w, "Run:                 %s\n", sum.RunID)
	fmt.Fprintf(w, "Images found:        %d\n", len(sum.Results))
	fmt.Fprintf(w, "Images captioned:    %d\n", sum.Processed)
	fmt.Fprintf(w, "Images skipped:      %d\n", sum.Skipped)
	if sum.Failed > 0 {
		fmt.Fprintf(w, "Images failed:       %d\n", sum.Failed)
	}
	fmt.Fprintf(w, "Labels embedded:     %d\n", sum.Cache.Size)
	fmt.Fprintf(w, "Cache hit rate:      %.1f%%\n", sum.Cache.HitRate()*100)
	fmt.Fprintln(w)
}

// PrintMoves lists reorganized files grouped by cluster.
func PrintMoves(w io.Writer, moves []mover.MoveResult, dryRun bool) {
	if len(moves) == 0 {
		fmt.Fprintln(w, "\nNo files to move.")
		return
	}

	groups := make(map[string][]mover.MoveResult)
	for _, m := range moves {
		groups[m.Cluster] = append(groups[m.Cluster], m)
	}
	names := make([]string, 0, len(groups))
	for k := range groups {
		names = append(names, k)
	}
	sort.Strings(names)

	verb := "Moved"
	if dryRun {
		verb = "Would move"
	}

	fmt.Fprintln(w)
	for _, name := range names {
		items := groups[name]
		label := name
		if label == "" {
			label = "(unclustered)"
		}
		fmt.Fprintf(w, "  %s/ (%d files)\n", label, len(items))
		for _, m := range items {
			v := verb
			if m.Copied {
				v = "Copied"
			}
			fmt.Fprintf(w, "    %s %s → %s\n", v, filepath.Base(m.SourcePath), m.DestPath)
		}
	}
	fmt.Fprintln(w)
}

// WriteHeader starts a cluster results document.
func WriteHeader(w io.Writer, runID string) error {
	_, err := fmt.Fprintf(w, "# Cluster results\n\nRun: %s\n\n", runID)
	return err
}

type clusterStat struct {
	prompt string
	count  int
	nsfw   int
}

// WriteMarkdown appends the cluster results of one subfolder: every named
// cluster across the three facets, in name order, with its prompt and
// member count. Clusters with explicit members say how many.
func WriteMarkdown(w io.Writer, subfolder string, records []sidecar.Record) error {
	clusters := make(map[string]*clusterStat)
	for _, f := range sidecar.Facets {
		for i := range records {
			a := records[i].Cluster(f)
			if a.Name == "" {
				continue
			}
			s, ok := clusters[a.Name]
			if !ok {
				s = &clusterStat{prompt: a.Prompt}
				clusters[a.Name] = s
			}
			s.count++
			if tagfilter.IsNSFW(records[i].Tags) {
				s.nsfw++
			}
		}
	}
	names := make([]string, 0, len(clusters))
	for k := range clusters {
		names = append(names, k)
	}
	sort.Strings(names)

	if _, err := fmt.Fprintf(w, "# Cluster results - %s\nImages: %d\n", subfolder, len(records)); err != nil {
		return err
	}
	for _, name := range names {
		s := clusters[name]
		if _, err := fmt.Fprintf(w, "## %s\n%s, %s\nImages: %d\n", name, name, s.prompt, s.count); err != nil {
			return err
		}
		if s.nsfw > 0 {
			if _, err := fmt.Fprintf(w, "NSFW: %d\n", s.nsfw); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}
