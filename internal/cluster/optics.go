package cluster

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// optics orders the rows by cosine reachability and extracts DBSCAN-style
// clusters at eps. Points that are neither reachable nor core at eps are
// labelled Noise.
func optics(x *mat.Dense, minSamples int, eps float64) []int {
	n, _ := x.Dims()
	minSamples = max(1, min(minSamples, n))
	dist := cosineDistances(x)

	core := make([]float64, n)
	sorted := make([]float64, n)
	for i := range n {
		copy(sorted, dist[i])
		sort.Float64s(sorted)
		core[i] = sorted[minSamples-1]
	}

	reach := make([]float64, n)
	for i := range reach {
		reach[i] = math.Inf(1)
	}
	processed := make([]bool, n)
	order := make([]int, 0, n)
	for range n {
		p := -1
		for i := range n {
			if !processed[i] && (p < 0 || reach[i] < reach[p]) {
				p = i
			}
		}
		processed[p] = true
		order = append(order, p)
		for q := range n {
			if processed[q] {
				continue
			}
			if r := math.Max(core[p], dist[p][q]); r < reach[q] {
				reach[q] = r
			}
		}
	}

	labels := make([]int, n)
	current := Noise
	for _, p := range order {
		if reach[p] > eps {
			if core[p] <= eps {
				current++
				labels[p] = current
			} else {
				labels[p] = Noise
			}
			continue
		}
		labels[p] = current
	}
	return labels
}
