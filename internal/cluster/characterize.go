package cluster

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// PromptSize is the maximum number of tags in a cluster prompt.
const PromptSize = 10

// shiftColumns subtracts each column's minimum so every value is
// non-negative, as chi-squared scoring requires.
func shiftColumns(x *mat.Dense) *mat.Dense {
	n, f := x.Dims()
	out := mat.DenseCopyOf(x)
	col := make([]float64, n)
	for j := range f {
		mat.Col(col, j, out)
		lo := floats.Min(col)
		if lo == 0 {
			continue
		}
		floats.AddConst(-lo, col)
		out.SetCol(j, col)
	}
	return out
}

// chi2 scores each column of x against a binary membership vector, summing
// (observed - expected)^2 / expected over the member and non-member classes.
// Columns with no mass score -Inf.
func chi2(x *mat.Dense, member []bool) []float64 {
	n, f := x.Dims()
	observed := [2][]float64{make([]float64, f), make([]float64, f)}
	var count [2]float64
	for i := range n {
		cls := 0
		if member[i] {
			cls = 1
		}
		count[cls]++
		floats.Add(observed[cls], x.RawRowView(i))
	}

	scores := make([]float64, f)
	for j := range f {
		total := observed[0][j] + observed[1][j]
		var s float64
		for cls := range 2 {
			expected := count[cls] / float64(n) * total
			d := observed[cls][j] - expected
			s += d * d / expected
		}
		if math.IsNaN(s) {
			s = math.Inf(-1)
		}
		scores[j] = s
	}
	return scores
}

// topColumns returns the k best-scoring column indices in column order.
// Among equal scores the later column is preferred.
func topColumns(scores []float64, k int) []int {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] < scores[idx[b]] })
	top := append([]int(nil), idx[len(idx)-k:]...)
	sort.Ints(top)
	return top
}

// characterize picks the tags that best distinguish cluster c from the
// rest of the batch and orders them by their mean weight inside c.
func characterize(shifted *mat.Dense, vocab []string, labels []int, c int) []string {
	n, f := shifted.Dims()
	member := make([]bool, n)
	size := 0
	for i, l := range labels {
		if l == c {
			member[i] = true
			size++
		}
	}
	if size == 0 || f == 0 {
		return nil
	}

	var cols []int
	if size == n {
		cols = make([]int, f)
		for j := range cols {
			cols[j] = j
		}
	} else {
		cols = topColumns(chi2(shifted, member), min(PromptSize, f))
	}

	means := make([]float64, len(cols))
	for i := range n {
		if !member[i] {
			continue
		}
		row := shifted.RawRowView(i)
		for ci, j := range cols {
			means[ci] += row[j]
		}
	}
	floats.Scale(1/float64(size), means)

	order := make([]int, len(cols))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return means[order[a]] > means[order[b]] })

	tags := make([]string, 0, PromptSize)
	for _, o := range order[:min(PromptSize, len(order))] {
		tags = append(tags, vocab[cols[o]])
	}
	return tags
}
