// Package selector picks the subset of candidate labels whose combined text
// embedding best matches an image embedding.
package selector

import (
	"math"
	"sort"
	"strings"
)

// Candidate is a label with its unit-normalized text embedding.
type Candidate struct {
	Label  string
	Vector []float32
}

// Options tunes the greedy search.
type Options struct {
	// UseMean averages and renormalizes the selected embeddings instead of
	// summing them. Sums favor longer subsets, means favor precise ones.
	UseMean bool
	// Thresholds are fractions of the total score improvement at which a
	// checkpoint subset is captured.
	Thresholds []float64
}

// DefaultThresholds yields short, medium and long captions.
var DefaultThresholds = []float64{0.1, 0.4, 0.9}

// Step records one accepted label.
type Step struct {
	Label       string
	Score       float64
	Improvement float64
}

// Result is the outcome of a greedy selection.
type Result struct {
	Labels      []string
	Score       float64
	Steps       []Step
	Checkpoints []string
	Cosine      float64
}

// Empty reports whether no label was selected; Score is then -Inf.
func (r Result) Empty() bool {
	return len(r.Labels) == 0
}

// Select grows a label subset one candidate at a time, each round adding
// the label that maximizes the dot product between the image and the
// aggregated subset embedding, and stops as soon as no candidate strictly
// improves the running best. Duplicate labels are dropped, keeping the first.
// On ties the candidate that comes first in pool order wins.
func Select(image []float32, pool []Candidate, opts Options) Result {
	remaining := dedupe(pool)
	res := Result{Score: math.Inf(-1), Cosine: math.Inf(-1)}
	if len(remaining) == 0 {
		res.Checkpoints = make([]string, len(opts.Thresholds))
		return res
	}

	dim := len(image)
	sum := make([]float64, dim)
	scratch := make([]float64, dim)
	best := math.Inf(-1)

	for len(remaining) > 0 {
		bestIdx := -1
		roundBest := math.Inf(-1)
		for i, c := range remaining {
			for d := range dim {
				scratch[d] = sum[d] + float64(at(c.Vector, d))
			}
			var score float64
			if opts.UseMean {
				score = cosine(image, scratch)
			} else {
				score = dot64(image, scratch)
			}
			if score > roundBest {
				roundBest = score
				bestIdx = i
			}
		}
		if bestIdx < 0 || !(roundBest > best) {
			break
		}

		best = roundBest
		chosen := remaining[bestIdx]
		for d := range dim {
			sum[d] += float64(at(chosen.Vector, d))
		}
		res.Labels = append(res.Labels, chosen.Label)
		res.Steps = append(res.Steps, Step{Label: chosen.Label, Score: best})
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	res.Score = best
	res.Cosine = cosine(image, sum)
	fillImprovements(res.Steps)
	res.Checkpoints = checkpoints(res.Steps, opts.Thresholds)
	return res
}

// fillImprovements sets each step's share of the total improvement between
// the first and the last accepted score. A single-step (or flat) trace
// counts every step as complete.
func fillImprovements(steps []Step) {
	if len(steps) == 0 {
		return
	}
	first := steps[0].Score
	total := steps[len(steps)-1].Score - first
	for i := range steps {
		if total == 0 {
			steps[i].Improvement = 1
			continue
		}
		steps[i].Improvement = (steps[i].Score - first) / total
	}
}

func checkpoints(steps []Step, thresholds []float64) []string {
	out := make([]string, len(thresholds))
	for ti, th := range thresholds {
		for si, s := range steps {
			if s.Improvement >= th {
				labels := make([]string, si+1)
				for j := 0; j <= si; j++ {
					labels[j] = steps[j].Label
				}
				out[ti] = strings.Join(labels, ", ")
				break
			}
		}
	}
	return out
}

// Rank returns up to k labels ordered by their individual similarity to the
// image. Equal scores keep pool order.
func Rank(image []float32, pool []Candidate, k int) []string {
	type scored struct {
		label string
		score float64
	}
	all := make([]scored, 0, len(pool))
	for _, c := range dedupe(pool) {
		all = append(all, scored{c.Label, Dot(image, c.Vector)})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })
	if k > len(all) {
		k = len(all)
	}
	out := make([]string, 0, k)
	for _, s := range all[:k] {
		out = append(out, s.label)
	}
	return out
}

// Dot is the inner product of two vectors, truncated to the shorter one.
func Dot(a, b []float32) float64 {
	n := min(len(a), len(b))
	var s float64
	for i := range n {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// Normalize returns a unit-length copy of v; a zero vector is copied as is.
func Normalize(v []float32) []float32 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	n := math.Sqrt(s)
	for i, x := range v {
		if n == 0 {
			out[i] = x
		} else {
			out[i] = float32(float64(x) / n)
		}
	}
	return out
}

func dedupe(pool []Candidate) []Candidate {
	seen := make(map[string]bool, len(pool))
	out := make([]Candidate, 0, len(pool))
	for _, c := range pool {
		if c.Label == "" || seen[c.Label] {
			continue
		}
		seen[c.Label] = true
		out = append(out, c)
	}
	return out
}

func at(v []float32, i int) float32 {
	if i < len(v) {
		return v[i]
	}
	return 0
}

func dot64(a []float32, b []float64) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * b[i]
	}
	return s
}

// cosine scores a against the unit-length direction of b. The renormalized
// mean of a set of vectors points the same way as their sum.
func cosine(a []float32, b []float64) float64 {
	var nb float64
	for _, x := range b {
		nb += x * x
	}
	if nb == 0 {
		return 0
	}
	return dot64(a, b) / math.Sqrt(nb)
}
