// Package captioner writes multi-line training captions next to every image
// of a dataset, combining WD14 tags with CLIP-selected labels.
package captioner

import (
	"context"
	"errors"
	"fmt"
	"image"
	"maps"
	"math"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/bagtoad/tagsort/internal/embedcache"
	"github.com/bagtoad/tagsort/internal/model"
	"github.com/bagtoad/tagsort/internal/scanner"
	"github.com/bagtoad/tagsort/internal/selector"
	"github.com/bagtoad/tagsort/internal/sidecar"
	"github.com/bagtoad/tagsort/internal/tagfilter"
	"github.com/bagtoad/tagsort/internal/tagger"
	"github.com/bagtoad/tagsort/internal/vocab"
)

// ErrInferenceTimeout is returned when a model call exceeds InferTimeout.
var ErrInferenceTimeout = errors.New("inference timed out")

// Tagger predicts booru tags for an image.
type Tagger interface {
	Tag(ctx context.Context, img image.Image) (*tagger.Prediction, error)
}

// ImageEmbedder returns a unit-length image embedding.
type ImageEmbedder interface {
	EmbedImage(ctx context.Context, img image.Image) ([]float32, error)
}

// Options configure a caption run.
type Options struct {
	FolderName     bool
	NotChar        bool
	DropChartag    bool
	ContinueDays   int
	UseMean        bool
	Thresholds     []float64
	Adjectives     []string
	AdjectiveCount int
	MaxImageSide   int
	InferTimeout   time.Duration
	Seed           uint64
}

// Result is the outcome for one image.
type Result struct {
	Path    string
	Lines   []string
	Score   float64
	Skipped bool
	Failed  bool
}

// Summary describes a finished run.
type Summary struct {
	RunID     string
	Results   []Result
	Processed int
	Skipped   int
	Failed    int
	Cache     embedcache.Stats
}

// Captioner runs the caption pipeline.
type Captioner struct {
	tagger Tagger
	images ImageEmbedder
	texts  *embedcache.Cache
	opts   Options
	rng    *rand.Rand
	runID  string
	now    func() time.Time
}

// New returns a captioner. Label embeddings are looked up through texts,
// which should live for the whole run.
func New(t Tagger, images ImageEmbedder, texts *embedcache.Cache, opts Options) *Captioner {
	if opts.Thresholds == nil {
		opts.Thresholds = selector.DefaultThresholds
	}
	if opts.Adjectives == nil {
		opts.Adjectives = vocab.Adjectives
	}
	return &Captioner{
		tagger: t,
		images: images,
		texts:  texts,
		opts:   opts,
		rng:    rand.New(rand.NewPCG(opts.Seed, opts.Seed)),
		runID:  uuid.NewString(),
		now:    time.Now,
	}
}

// RunID identifies this captioner's run in logs and reports.
func (c *Captioner) RunID() string {
	return c.runID
}

// Run captions every image below root, one directory at a time. Per-image
// failures are logged and counted; only setup errors abort the run.
func (c *Captioner) Run(ctx context.Context, root string, progressFn func(dir string, current, total int)) (*Summary, error) {
	batches, err := scanner.Walk(root)
	if err != nil {
		return nil, err
	}
	if c.opts.AdjectiveCount > 0 {
		if err := c.texts.Warm(ctx, c.opts.Adjectives); err != nil {
			return nil, fmt.Errorf("embed adjectives: %w", err)
		}
	}

	sum := &Summary{RunID: c.runID}
	for _, b := range batches {
		counts := make(map[string]int)
		for i, path := range b.Images {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if progressFn != nil {
				progressFn(b.Dir, i+1, len(b.Images))
			}

			res := c.captionImage(ctx, b.Dir, path, counts)
			switch {
			case res.Skipped:
				sum.Skipped++
			case res.Failed:
				sum.Failed++
			default:
				sum.Processed++
			}
			sum.Results = append(sum.Results, res)
		}
		if c.opts.DropChartag {
			if err := dropFrequent(b.Dir, counts); err != nil {
				klog.Warningf("cannot drop character tags in %s: %v", b.Dir, err)
			}
		}
	}

	c.annotateAccuracy(sum.Results)
	sum.Cache = c.texts.Stats()
	return sum, nil
}

func (c *Captioner) captionImage(ctx context.Context, dir, path string, counts map[string]int) Result {
	res := Result{Path: path, Score: math.Inf(-1)}
	txt := sidecar.Path(path)
	if c.opts.ContinueDays > 0 {
		if mod, ok := sidecar.Modified(txt); ok && c.now().Sub(mod) < time.Duration(c.opts.ContinueDays)*24*time.Hour {
			klog.V(1).Infof("skipping %s: caption modified %s", path, mod.Format(time.DateTime))
			res.Skipped = true
			return res
		}
	}

	lines, sel, err := c.Caption(ctx, dir, path)
	if err != nil {
		klog.Warningf("skipping %s: %v", path, err)
		res.Failed = true
		return res
	}
	if err := sidecar.WriteCaption(txt, lines); err != nil {
		klog.Warningf("skipping %s: %v", path, err)
		res.Failed = true
		return res
	}

	for _, l := range tagfilter.Split(tagfilter.Intersect(tagfilter.Join(sel.Labels), vocab.CharacterFeatureTags)) {
		counts[l]++
	}
	res.Lines = lines
	if !sel.Empty() {
		res.Score = sel.Cosine
	}
	return res
}

// Caption computes the caption lines for one image without writing them.
func (c *Captioner) Caption(ctx context.Context, dir, path string) ([]string, selector.Result, error) {
	img, err := model.LoadImage(path, c.opts.MaxImageSide)
	if err != nil {
		return nil, selector.Result{}, err
	}
	pred, err := infer(ctx, c.opts.InferTimeout, func(ctx context.Context) (*tagger.Prediction, error) {
		return c.tagger.Tag(ctx, img)
	})
	if err != nil {
		return nil, selector.Result{}, fmt.Errorf("tagging: %w", err)
	}
	imageVec, err := infer(ctx, c.opts.InferTimeout, func(ctx context.Context) ([]float32, error) {
		return c.images.EmbedImage(ctx, img)
	})
	if err != nil {
		return nil, selector.Result{}, fmt.Errorf("image embedding: %w", err)
	}

	features := maps.Clone(pred.General)
	kept, _ := tagfilter.Filter(features, vocab.CaptionKeepPatterns)
	keepText := tagfilter.Join(tagfilter.MergePeople(kept))
	_, solo := features["solo"]

	booru, err := sidecar.ReadBooruTag(path)
	if err != nil {
		klog.V(1).Infof("ignoring boorutag of %s: %v", path, err)
		booru = nil
	}
	featureLabels := tagger.ByScore(features)
	var booruNames, booruTags []string
	if booru != nil {
		booruNames = booru.Characters
		have := vocab.NewSet(featureLabels...)
		booruTags = tagfilter.Split(tagfilter.Difference(tagfilter.Join(booru.Tags), have))
	}

	special := specialText(specialInput{
		dir:        dir,
		solo:       solo,
		booruNames: booruNames,
		predicted:  tagger.ByScore(pred.Characters),
	}, c.opts, c.rng)
	if keepText != "" {
		special += tagfilter.Separator + keepText
	}
	if r := pred.TopRating(); r != "" {
		special += tagfilter.Separator + RatingText(r)
	}

	labels := slices.Concat(featureLabels, booruTags)
	adjectives, err := c.topAdjectives(ctx, imageVec)
	if err != nil {
		return nil, selector.Result{}, err
	}
	labels = append(labels, adjectives...)

	pool, err := c.candidates(ctx, labels)
	if err != nil {
		return nil, selector.Result{}, err
	}
	sel := selector.Select(imageVec, pool, selector.Options{UseMean: c.opts.UseMean, Thresholds: c.opts.Thresholds})
	klog.V(2).Infof("%s: %d candidates, %d selected, cosine %.4f", path, len(pool), len(sel.Labels), sel.Cosine)

	cp := func(i int) string {
		if i < len(sel.Checkpoints) {
			return sel.Checkpoints[i]
		}
		return ""
	}
	head := special + tagfilter.Separator + sidecar.Marker
	lines := []string{
		head + cp(2),
		head + cp(1),
		head + cp(1),
		head + cp(0),
		head + cp(0),
	}
	for i := range lines {
		lines[i] = strings.ToLower(lines[i])
	}
	return lines, sel, nil
}

func (c *Captioner) topAdjectives(ctx context.Context, imageVec []float32) ([]string, error) {
	if c.opts.AdjectiveCount <= 0 {
		return nil, nil
	}
	pool, err := c.candidates(ctx, c.opts.Adjectives)
	if err != nil {
		return nil, err
	}
	return selector.Rank(imageVec, pool, c.opts.AdjectiveCount), nil
}

func (c *Captioner) candidates(ctx context.Context, labels []string) ([]selector.Candidate, error) {
	pool := make([]selector.Candidate, 0, len(labels))
	for _, l := range labels {
		if strings.TrimSpace(l) == "" {
			continue
		}
		vec, err := infer(ctx, c.opts.InferTimeout, func(ctx context.Context) ([]float32, error) {
			return c.texts.Get(ctx, l)
		})
		if err != nil {
			return nil, fmt.Errorf("text embedding: %w", err)
		}
		pool = append(pool, selector.Candidate{Label: l, Vector: vec})
	}
	return pool, nil
}

// annotateAccuracy tags the captions that scored poorly relative to the
// rest of the run. Images without a score are left alone.
func (c *Captioner) annotateAccuracy(results []Result) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, r := range results {
		if r.Skipped || r.Failed || math.IsInf(r.Score, -1) {
			continue
		}
		lo = min(lo, r.Score)
		hi = max(hi, r.Score)
	}
	if math.IsInf(hi, -1) {
		return
	}
	for _, r := range results {
		if r.Skipped || r.Failed || math.IsInf(r.Score, -1) {
			continue
		}
		rel := 1.0
		if hi > lo {
			rel = (r.Score - lo) / (hi - lo)
		}
		if tag := AccuracyTag(rel); tag != "" {
			if err := sidecar.AnnotateAccuracy(sidecar.Path(r.Path), tag); err != nil {
				klog.Warningf("cannot annotate %s: %v", r.Path, err)
			}
		}
	}
}

// dropFrequent removes character feature tags seen in more than a third
// of the most frequent one's count from every caption in dir.
func dropFrequent(dir string, counts map[string]int) error {
	most := 0
	for _, n := range counts {
		most = max(most, n)
	}
	if most == 0 {
		return nil
	}
	drop := vocab.NewSet()
	for tag, n := range counts {
		if float64(n) > float64(most)/3 {
			drop[tag] = struct{}{}
		}
	}
	klog.V(1).Infof("dropping %d character tags in %s", len(drop), dir)
	return sidecar.DropTags(dir, drop)
}

// infer runs fn under timeout. A zero timeout only follows ctx.
func infer[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, ErrInferenceTimeout
		}
		return zero, ctx.Err()
	}
}
