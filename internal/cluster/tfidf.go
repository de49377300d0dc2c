package cluster

import (
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Matrix is a TF-IDF document-term matrix. Rows are documents, columns are
// the sorted vocabulary.
type Matrix struct {
	Vocab []string
	X     *mat.Dense
}

// Tokenize splits a tag string on ", " and lowercases each tag. Whitespace
// inside a tag is preserved; empty tags are dropped.
func Tokenize(doc string) []string {
	parts := strings.Split(strings.ToLower(doc), ", ")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Vectorize builds a TF-IDF matrix with raw term counts, smoothed inverse
// document frequency ln((1+n)/(1+df))+1 and L2-normalized rows.
func Vectorize(docs []string) (*Matrix, error) {
	tokens := make([][]string, len(docs))
	df := make(map[string]int)
	for i, d := range docs {
		tokens[i] = Tokenize(d)
		seen := make(map[string]bool, len(tokens[i]))
		for _, t := range tokens[i] {
			if !seen[t] {
				seen[t] = true
				df[t]++
			}
		}
	}
	if len(df) == 0 || len(docs) == 0 {
		return nil, ErrNoFeatures
	}

	vocab := make([]string, 0, len(df))
	for t := range df {
		vocab = append(vocab, t)
	}
	sort.Strings(vocab)
	col := make(map[string]int, len(vocab))
	for j, t := range vocab {
		col[t] = j
	}

	n := float64(len(docs))
	idf := make([]float64, len(vocab))
	for j, t := range vocab {
		idf[j] = math.Log((1+n)/(1+float64(df[t]))) + 1
	}

	x := mat.NewDense(len(docs), len(vocab), nil)
	for i, toks := range tokens {
		row := x.RawRowView(i)
		for _, t := range toks {
			row[col[t]]++
		}
		floats.Mul(row, idf)
		if norm := floats.Norm(row, 2); norm > 0 {
			floats.Scale(1/norm, row)
		}
	}
	return &Matrix{Vocab: vocab, X: x}, nil
}

// Rows returns the number of documents.
func (m *Matrix) Rows() int {
	r, _ := m.X.Dims()
	return r
}
