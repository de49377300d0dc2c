package cluster

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

type merge struct {
	a, b int
	dist float64
}

// agglomerative builds an average-linkage dendrogram over cosine distances
// with the nearest-neighbor-chain algorithm and cuts it at k clusters.
func agglomerative(x *mat.Dense, k int) []int {
	n, _ := x.Dims()
	dist := cosineDistances(x)

	size := make([]int, n)
	active := make([]bool, n)
	for i := range n {
		size[i] = 1
		active[i] = true
	}

	merges := make([]merge, 0, n-1)
	chain := make([]int, 0, n)
	for remaining := n; remaining > 1; remaining-- {
		if len(chain) == 0 {
			for i := range n {
				if active[i] {
					chain = append(chain, i)
					break
				}
			}
		}

		var a, b int
		for {
			a = chain[len(chain)-1]
			b = -1
			best := math.Inf(1)
			if len(chain) > 1 {
				b = chain[len(chain)-2]
				best = dist[a][b]
			}
			for j := range n {
				if active[j] && j != a && dist[a][j] < best {
					b, best = j, dist[a][j]
				}
			}
			if len(chain) > 1 && b == chain[len(chain)-2] {
				break
			}
			chain = append(chain, b)
		}
		chain = chain[:len(chain)-2]

		// The merged cluster lives on at index a.
		merges = append(merges, merge{a: a, b: b, dist: dist[a][b]})
		for j := range n {
			if !active[j] || j == a || j == b {
				continue
			}
			d := (float64(size[a])*dist[a][j] + float64(size[b])*dist[b][j]) / float64(size[a]+size[b])
			dist[a][j], dist[j][a] = d, d
		}
		size[a] += size[b]
		active[b] = false
	}

	sort.SliceStable(merges, func(i, j int) bool { return merges[i].dist < merges[j].dist })
	uf := newUnionFind(n)
	for _, m := range merges[:n-k] {
		uf.union(m.a, m.b)
	}
	labels := make([]int, n)
	for i := range labels {
		labels[i] = uf.find(i)
	}
	return labels
}

// cosineDistances returns 1 - cosine similarity for every pair of rows.
// Pairs involving a zero row are at distance 1.
func cosineDistances(x *mat.Dense) [][]float64 {
	n, _ := x.Dims()
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := range n {
		for j := i + 1; j < n; j++ {
			d := math.Max(0, 1-cosineSimilarity(x, i, j))
			dist[i][j], dist[j][i] = d, d
		}
	}
	return dist
}

type unionFind []int

func newUnionFind(n int) unionFind {
	uf := make(unionFind, n)
	for i := range uf {
		uf[i] = i
	}
	return uf
}

func (uf unionFind) find(i int) int {
	for uf[i] != i {
		uf[i] = uf[uf[i]]
		i = uf[i]
	}
	return i
}

func (uf unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra != rb {
		uf[rb] = ra
	}
}
