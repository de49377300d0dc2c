package cluster

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	kmeansRestarts = 8
	kmeansMaxIter  = 300
)

// kmeans runs Lloyd's algorithm from several k-means++ seedings and keeps
// the labelling with the lowest inertia.
func kmeans(x *mat.Dense, k int, rng *rand.Rand) []int {
	var best []int
	bestInertia := math.Inf(1)
	for range kmeansRestarts {
		labels, inertia := lloyd(x, seedPlusPlus(x, k, rng))
		if inertia < bestInertia {
			bestInertia = inertia
			best = labels
		}
	}
	return best
}

func seedPlusPlus(x *mat.Dense, k int, rng *rand.Rand) [][]float64 {
	n, _ := x.Dims()
	centers := make([][]float64, 0, k)
	centers = append(centers, cloneRow(x, rng.IntN(n)))

	dist := make([]float64, n)
	for i := range n {
		dist[i] = floats.Distance(x.RawRowView(i), centers[0], 2)
		dist[i] *= dist[i]
	}
	for len(centers) < k {
		total := floats.Sum(dist)
		next := rng.IntN(n)
		if total > 0 {
			target := rng.Float64() * total
			for i, d := range dist {
				target -= d
				if target <= 0 && d > 0 {
					next = i
					break
				}
			}
		}
		c := cloneRow(x, next)
		centers = append(centers, c)
		for i := range n {
			d := floats.Distance(x.RawRowView(i), c, 2)
			dist[i] = math.Min(dist[i], d*d)
		}
	}
	return centers
}

func lloyd(x *mat.Dense, centers [][]float64) ([]int, float64) {
	n, dim := x.Dims()
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}

	var inertia float64
	for range kmeansMaxIter {
		changed := false
		inertia = 0
		for i := range n {
			row := x.RawRowView(i)
			bestC, bestD := 0, math.Inf(1)
			for c, center := range centers {
				d := floats.Distance(row, center, 2)
				if d < bestD {
					bestC, bestD = c, d
				}
			}
			inertia += bestD * bestD
			if labels[i] != bestC {
				labels[i] = bestC
				changed = true
			}
		}
		if !changed {
			break
		}

		counts := make([]int, len(centers))
		sums := make([][]float64, len(centers))
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, l := range labels {
			floats.Add(sums[l], x.RawRowView(i))
			counts[l]++
		}
		// Empty clusters keep their previous center.
		for c := range centers {
			if counts[c] > 0 {
				floats.ScaleTo(centers[c], 1/float64(counts[c]), sums[c])
			}
		}
	}
	return labels, inertia
}

func cloneRow(x *mat.Dense, i int) []float64 {
	return append([]float64(nil), x.RawRowView(i)...)
}
