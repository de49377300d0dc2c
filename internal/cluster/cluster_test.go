package cluster

import (
	"errors"
	"math"
	"slices"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func schoolBatch() []string {
	docs := make([]string, 0, 10)
	for range 8 {
		docs = append(docs, "1girl, school uniform, classroom")
	}
	return append(docs, "swimsuit, beach", "armor, sword")
}

func TestClusterCount(t *testing.T) {
	tests := []struct {
		n, want int
	}{
		{1, 2},
		{5, 2},
		{6, 3},
		{10, 3},
		{1494, 300},
		{100000, 300},
	}
	for _, tt := range tests {
		if got := ClusterCount(tt.n); got != tt.want {
			t.Errorf("ClusterCount(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestVectorize(t *testing.T) {
	m, err := Vectorize([]string{"A, b", "a", "a, , a"})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(m.Vocab, []string{"a", "b"}) {
		t.Fatalf("unexpected vocab %v", m.Vocab)
	}

	idfB := math.Log(4.0/2.0) + 1
	norm := math.Sqrt(1 + idfB*idfB)
	if got := m.X.At(0, 0); math.Abs(got-1/norm) > 1e-12 {
		t.Errorf("row 0 col a = %f, want %f", got, 1/norm)
	}
	if got := m.X.At(0, 1); math.Abs(got-idfB/norm) > 1e-12 {
		t.Errorf("row 0 col b = %f, want %f", got, idfB/norm)
	}
	if got := m.X.At(2, 0); got != 1 {
		t.Errorf("repeated tag should normalize to 1, got %f", got)
	}
}

func TestVectorizeKeepsInnerSpaces(t *testing.T) {
	m, err := Vectorize([]string{"long hair, school uniform"})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(m.Vocab, []string{"long hair", "school uniform"}) {
		t.Errorf("tags must not split on spaces, got %v", m.Vocab)
	}
}

func TestRunDegenerate(t *testing.T) {
	e := NewEngine(KMeans, 1)
	if _, err := e.Run([]string{"solo"}, "scene_"); !errors.Is(err, ErrTooFewDocuments) {
		t.Errorf("expected ErrTooFewDocuments, got %v", err)
	}
	if _, err := e.Run([]string{"", ""}, "scene_"); !errors.Is(err, ErrNoFeatures) {
		t.Errorf("expected ErrNoFeatures, got %v", err)
	}
	bad := &Engine{Algorithm: Algorithm(42)}
	if _, err := bad.Run(schoolBatch(), "scene_"); !errors.Is(err, ErrUnknownAlgorithm) {
		t.Errorf("expected ErrUnknownAlgorithm, got %v", err)
	}
}

func TestRunGroupsSharedTag(t *testing.T) {
	for _, alg := range []Algorithm{KMeans, Spectral, Agglomerative} {
		t.Run(alg.String(), func(t *testing.T) {
			res, err := NewEngine(alg, 7).Run(schoolBatch(), "costume_")
			if err != nil {
				t.Fatal(err)
			}
			first := res.Labels[0]
			for i := 1; i < 8; i++ {
				if res.Labels[i] != first {
					t.Fatalf("school uniform documents split: %v", res.Labels)
				}
			}
			c := res.ClusterOf(0)
			if c == nil {
				t.Fatal("expected a cluster for document 0")
			}
			if c.Size < 8 {
				t.Errorf("expected at least 8 members, got %d", c.Size)
			}
			if c.Name != "costume_a" {
				t.Errorf("largest cluster should be costume_a, got %q", c.Name)
			}
			if !slices.Contains(c.Tags, "school uniform") {
				t.Errorf("prompt should mention school uniform, got %q", c.Prompt)
			}
			if len(c.Tags) > PromptSize {
				t.Errorf("prompt too long: %v", c.Tags)
			}
		})
	}
}

func TestRunAgglomerativeCutsAtK(t *testing.T) {
	res, err := NewEngine(Agglomerative, 1).Run(schoolBatch(), "scene_")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Clusters) != 3 {
		t.Fatalf("expected 3 clusters, got %d", len(res.Clusters))
	}
	want := []int{0, 0, 0, 0, 0, 0, 0, 0, 1, 2}
	if !slices.Equal(res.Labels, want) {
		t.Errorf("expected labels %v, got %v", want, res.Labels)
	}
	names := []string{res.Clusters[0].Name, res.Clusters[1].Name, res.Clusters[2].Name}
	if !slices.Equal(names, []string{"scene_a", "scene_b", "scene_c"}) {
		t.Errorf("unexpected names %v", names)
	}
	if res.Clusters[1].ID != 1 {
		t.Errorf("equal-size clusters should keep id order, got %+v", res.Clusters[1])
	}
}

func TestRunOPTICSMarksNoise(t *testing.T) {
	res, err := NewEngine(OPTICS, 1).Run(schoolBatch(), "appearance_")
	if err != nil {
		t.Fatal(err)
	}
	want := []int{0, 0, 0, 0, 0, 0, 0, 0, Noise, Noise}
	if !slices.Equal(res.Labels, want) {
		t.Errorf("expected labels %v, got %v", want, res.Labels)
	}
	if len(res.Clusters) != 1 || res.Clusters[0].Name != "appearance_a" {
		t.Errorf("expected one named cluster, got %+v", res.Clusters)
	}
	if res.ClusterOf(9) != nil {
		t.Error("noise should have no cluster")
	}
}

func TestRunKClampsToBatch(t *testing.T) {
	res, err := NewEngine(KMeans, 3).RunK([]string{"a", "b", "c"}, 50, "x_")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Clusters) > 3 {
		t.Errorf("cluster count must not exceed document count, got %d", len(res.Clusters))
	}
}

func TestKMeansDeterministic(t *testing.T) {
	docs := []string{
		"red hair, smile", "red hair, frown", "blue hair, smile",
		"blue hair, frown", "red hair, hat", "blue hair, hat", "hat",
	}
	a, err := NewEngine(KMeans, 99).Run(docs, "c_")
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewEngine(KMeans, 99).Run(docs, "c_")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(a.Labels, b.Labels) {
		t.Errorf("same seed should give same labels: %v vs %v", a.Labels, b.Labels)
	}
}

func TestName(t *testing.T) {
	clusters := []Cluster{{ID: 0, Size: 2}, {ID: 1, Size: 5}, {ID: 2, Size: 5}}
	Name(clusters, "costume_")
	got := []string{clusters[0].Name, clusters[1].Name, clusters[2].Name}
	if !slices.Equal(got, []string{"costume_a", "costume_b", "costume_c"}) {
		t.Errorf("unexpected names %v", got)
	}
	if clusters[0].ID != 1 || clusters[1].ID != 2 || clusters[2].ID != 0 {
		t.Errorf("unexpected order %+v", clusters)
	}

	many := make([]Cluster, 30)
	for i := range many {
		many[i] = Cluster{ID: i, Size: 1}
	}
	Name(many, "scene_")
	if many[25].Name != "scene_z" {
		t.Errorf("26th cluster should be scene_z, got %q", many[25].Name)
	}
	if many[26].Name != "" {
		t.Errorf("clusters past 26 should be unnamed, got %q", many[26].Name)
	}
}

func TestRelabel(t *testing.T) {
	got := relabel([]int{5, 5, Noise, 2, 5, 7})
	want := []int{0, 0, Noise, 1, 0, 2}
	if !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestTopColumns(t *testing.T) {
	scores := []float64{1, 3, 3, math.Inf(-1)}
	if got := topColumns(scores, 2); !slices.Equal(got, []int{1, 2}) {
		t.Errorf("expected [1 2], got %v", got)
	}
	if got := topColumns(scores, 1); !slices.Equal(got, []int{2}) {
		t.Errorf("ties should prefer the later column, got %v", got)
	}
}

func TestChi2(t *testing.T) {
	tests := []struct {
		name   string
		x      []float64
		cols   int
		member []bool
		want   []float64
	}{
		{
			name:   "two columns",
			x:      []float64{1, 0, 2, 1, 0, 3, 1, 1},
			cols:   2,
			member: []bool{true, true, false, false},
			want:   []float64{1, 1.8},
		},
		{
			name:   "independent column",
			x:      []float64{1, 1, 1, 1},
			cols:   1,
			member: []bool{true, false, true, false},
			want:   []float64{0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := mat.NewDense(len(tt.member), tt.cols, tt.x)
			got := chi2(x, tt.member)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d scores, got %v", len(tt.want), got)
			}
			for j := range got {
				if math.Abs(got[j]-tt.want[j]) > 1e-9 {
					t.Errorf("column %d: expected %v, got %v", j, tt.want[j], got[j])
				}
			}
		})
	}
}

func TestChi2EmptyColumn(t *testing.T) {
	x := mat.NewDense(2, 2, []float64{0, 1, 0, 2})
	got := chi2(x, []bool{true, false})
	if !math.IsInf(got[0], -1) {
		t.Errorf("a column without mass should score -Inf, got %v", got[0])
	}
}

func TestShiftColumns(t *testing.T) {
	x := mat.NewDense(3, 3, []float64{
		-1, 2, 0,
		3, 5, 0.5,
		0, 2, 1,
	})
	want := mat.NewDense(3, 3, []float64{
		0, 0, 0,
		4, 3, 0.5,
		1, 0, 1,
	})
	got := shiftColumns(x)
	if !mat.EqualApprox(got, want, 1e-12) {
		t.Errorf("expected\n%v\ngot\n%v", mat.Formatted(want), mat.Formatted(got))
	}
	if x.At(0, 0) != -1 {
		t.Error("shiftColumns must not modify its input")
	}
	n, f := got.Dims()
	for i := range n {
		for j := range f {
			if got.At(i, j) < 0 {
				t.Errorf("value at (%d,%d) is negative: %v", i, j, got.At(i, j))
			}
		}
	}
}

func TestCharacterizeWholeBatch(t *testing.T) {
	x := mat.NewDense(2, 3, []float64{
		1, 0, 3,
		3, 0.5, 2,
	})
	// Every row is a member, so all columns rank by mean: a=2, c=2.5, b=0.25.
	got := characterize(x, []string{"a", "b", "c"}, []int{0, 0}, 0)
	if want := []string{"c", "a", "b"}; !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestCharacterizePicksDistinguishingTags(t *testing.T) {
	x := mat.NewDense(4, 3, []float64{
		1, 0, 1,
		1, 0, 1,
		0, 1, 1,
		0, 1, 1,
	})
	got := characterize(x, []string{"hat", "sword", "solo"}, []int{0, 0, 1, 1}, 0)
	// The shared "solo" column has zero chi2 but still fills the prompt,
	// and member means order it after "hat".
	if want := []string{"hat", "solo"}; !slices.Equal(got[:2], want) {
		t.Errorf("expected prompt to start with %v, got %v", want, got)
	}
	if got := characterize(x, []string{"hat", "sword", "solo"}, []int{0, 0, 1, 1}, 2); got != nil {
		t.Errorf("an empty cluster has no prompt, got %v", got)
	}
}

func TestParseAlgorithm(t *testing.T) {
	for in, want := range map[string]Algorithm{
		"kmeans":        KMeans,
		"K-Means":       KMeans,
		"spectral":      Spectral,
		"Agglomerative": Agglomerative,
		" optics ":      OPTICS,
	} {
		got, err := ParseAlgorithm(in)
		if err != nil || got != want {
			t.Errorf("ParseAlgorithm(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseAlgorithm("dbscan"); !errors.Is(err, ErrUnknownAlgorithm) {
		t.Errorf("expected ErrUnknownAlgorithm, got %v", err)
	}
}
