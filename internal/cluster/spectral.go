package cluster

import (
	"errors"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// spectral embeds the rows into the top-k eigenvectors of the symmetric
// normalized cosine affinity matrix and runs k-means in that space.
func spectral(x *mat.Dense, k int, rng *rand.Rand) ([]int, error) {
	n, _ := x.Dims()

	affinity := mat.NewSymDense(n, nil)
	for i := range n {
		for j := i; j < n; j++ {
			affinity.SetSym(i, j, math.Max(0, cosineSimilarity(x, i, j)))
		}
	}

	invSqrt := make([]float64, n)
	for i := range n {
		var deg float64
		for j := range n {
			deg += affinity.At(i, j)
		}
		if deg > 0 {
			invSqrt[i] = 1 / math.Sqrt(deg)
		}
	}
	lap := mat.NewSymDense(n, nil)
	for i := range n {
		for j := i; j < n; j++ {
			lap.SetSym(i, j, affinity.At(i, j)*invSqrt[i]*invSqrt[j])
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(lap, true); !ok {
		return nil, errors.New("spectral: eigendecomposition did not converge")
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// Eigenvalues come back ascending; the last k columns span the embedding.
	embedding := mat.NewDense(n, k, nil)
	for i := range n {
		row := embedding.RawRowView(i)
		for c := range k {
			row[c] = vecs.At(i, n-k+c)
		}
		if norm := floats.Norm(row, 2); norm > 0 {
			floats.Scale(1/norm, row)
		}
	}
	return kmeans(embedding, k, rng), nil
}

// cosineSimilarity compares rows i and j of x; a zero row is dissimilar to
// everything.
func cosineSimilarity(x *mat.Dense, i, j int) float64 {
	a, b := x.RawRowView(i), x.RawRowView(j)
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}
