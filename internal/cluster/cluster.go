// Package cluster groups tag strings by TF-IDF similarity and derives a
// short representative prompt for every group.
package cluster

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"

	"k8s.io/klog/v2"
)

// Noise is the label of rows that belong to no cluster.
const Noise = -1

// MaxClusters caps the number of clusters requested for large batches.
const MaxClusters = 300

// Named is how many clusters receive a lettered name.
const Named = 26

var (
	ErrTooFewDocuments  = errors.New("cluster: need at least 2 documents")
	ErrNoFeatures       = errors.New("cluster: no tags to vectorize")
	ErrUnknownAlgorithm = errors.New("cluster: unknown algorithm")
)

// Algorithm selects the clustering method.
type Algorithm int

const (
	Agglomerative Algorithm = iota
	KMeans
	Spectral
	OPTICS
)

var algorithmNames = map[Algorithm]string{
	Agglomerative: "agglomerative",
	KMeans:        "kmeans",
	Spectral:      "spectral",
	OPTICS:        "optics",
}

func (a Algorithm) String() string {
	if s, ok := algorithmNames[a]; ok {
		return s
	}
	return fmt.Sprintf("Algorithm(%d)", int(a))
}

// ParseAlgorithm accepts the lowercase algorithm names, plus "k-means".
func ParseAlgorithm(s string) (Algorithm, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "k-means" {
		return KMeans, nil
	}
	for a, name := range algorithmNames {
		if name == s {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
}

// ClusterCount is the number of clusters requested for n documents.
func ClusterCount(n int) int {
	return min(MaxClusters, int(math.Ceil(float64(n)/5))+1)
}

// Cluster is one group of documents.
type Cluster struct {
	ID      int
	Name    string // empty past the first Named clusters
	Tags    []string
	Prompt  string
	Size    int
	Members []int
}

// Result is the outcome of one engine run. Labels holds the compact cluster
// id per document, or Noise. Clusters are ordered by descending size.
type Result struct {
	Labels   []int
	Clusters []Cluster
	Vocab    []string
}

// ClusterOf returns the cluster a document belongs to, or nil for noise.
func (r *Result) ClusterOf(doc int) *Cluster {
	if doc < 0 || doc >= len(r.Labels) || r.Labels[doc] == Noise {
		return nil
	}
	for i := range r.Clusters {
		if r.Clusters[i].ID == r.Labels[doc] {
			return &r.Clusters[i]
		}
	}
	return nil
}

// Engine clusters batches of tag strings.
type Engine struct {
	Algorithm Algorithm
	// Eps is the OPTICS extraction radius in cosine distance.
	Eps  float64
	Seed uint64
}

// NewEngine returns an engine with the default OPTICS radius.
func NewEngine(alg Algorithm, seed uint64) *Engine {
	return &Engine{Algorithm: alg, Eps: 0.5, Seed: seed}
}

// Run vectorizes docs, clusters them into ClusterCount(len(docs)) groups and
// names the groups with prefix followed by a letter.
func (e *Engine) Run(docs []string, prefix string) (*Result, error) {
	return e.RunK(docs, ClusterCount(len(docs)), prefix)
}

// RunK is Run with an explicit cluster count, clamped to the batch size.
func (e *Engine) RunK(docs []string, k int, prefix string) (*Result, error) {
	if len(docs) < 2 {
		return nil, ErrTooFewDocuments
	}
	m, err := Vectorize(docs)
	if err != nil {
		return nil, err
	}
	n := m.Rows()
	k = max(1, min(k, n))

	rng := rand.New(rand.NewPCG(e.Seed, e.Seed^0x9e3779b97f4a7c15))
	var raw []int
	switch e.Algorithm {
	case KMeans:
		raw = kmeans(m.X, k, rng)
	case Spectral:
		raw, err = spectral(m.X, k, rng)
		if err != nil {
			return nil, err
		}
	case Agglomerative:
		raw = agglomerative(m.X, k)
	case OPTICS:
		raw = optics(m.X, k, e.Eps)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownAlgorithm, e.Algorithm)
	}
	labels := relabel(raw)
	klog.V(2).Infof("%s: %s produced %d clusters from %d documents (k=%d)",
		prefix, e.Algorithm, countClusters(labels), n, k)

	shifted := shiftColumns(m.X)
	clusters := make([]Cluster, 0, countClusters(labels))
	for id := range countClusters(labels) {
		c := Cluster{ID: id}
		for i, l := range labels {
			if l == id {
				c.Members = append(c.Members, i)
			}
		}
		c.Size = len(c.Members)
		c.Tags = characterize(shifted, m.Vocab, labels, id)
		c.Prompt = strings.Join(c.Tags, ", ")
		clusters = append(clusters, c)
	}
	Name(clusters, prefix)

	return &Result{Labels: labels, Clusters: clusters, Vocab: m.Vocab}, nil
}

// Name sorts clusters by descending size, ties by id, and names the first
// Named of them prefix+"a", prefix+"b", and so on.
func Name(clusters []Cluster, prefix string) {
	sort.SliceStable(clusters, func(i, j int) bool {
		if clusters[i].Size != clusters[j].Size {
			return clusters[i].Size > clusters[j].Size
		}
		return clusters[i].ID < clusters[j].ID
	})
	for i := range clusters {
		clusters[i].Name = ""
		if i < Named {
			clusters[i].Name = prefix + string(rune('a'+i))
		}
	}
}

// relabel maps arbitrary cluster labels to 0..k-1 in order of first
// appearance. Noise is kept.
func relabel(raw []int) []int {
	ids := make(map[int]int)
	out := make([]int, len(raw))
	for i, l := range raw {
		if l == Noise {
			out[i] = Noise
			continue
		}
		id, ok := ids[l]
		if !ok {
			id = len(ids)
			ids[l] = id
		}
		out[i] = id
	}
	return out
}

func countClusters(labels []int) int {
	top := -1
	for _, l := range labels {
		top = max(top, l)
	}
	return top + 1
}
