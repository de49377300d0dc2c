// Package tagger runs the WD14 anime image taggers published on Hugging
// Face and turns their scores into rating, general and character tags.
package tagger

import (
	"context"
	"encoding/csv"
	"fmt"
	"image"
	"image/color"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/gomlx/go-huggingface/hub"
	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/image/draw"
	"k8s.io/klog/v2"

	"github.com/bagtoad/tagsort/internal/tagfilter"
)

// Repo is a Hugging Face repository holding a tagger model.
type Repo string

const (
	ConvNextV3   Repo = "SmilingWolf/wd-convnext-tagger-v3"
	SwinV2V3     Repo = "SmilingWolf/wd-swinv2-tagger-v3"
	ViTV3        Repo = "SmilingWolf/wd-vit-tagger-v3"
	ViTLargeV3   Repo = "SmilingWolf/wd-vit-large-tagger-v3"
	EVA02LargeV3 Repo = "SmilingWolf/wd-eva02-large-tagger-v3"
	ConvNextV2   Repo = "SmilingWolf/wd-v1-4-convnext-tagger-v2"
)

// DefaultRepo is the tagger used when none is configured.
const DefaultRepo = ConvNextV3

// Categories in selected_tags.csv.
const (
	categoryGeneral   = "0"
	categoryCharacter = "4"
	categoryRating    = "9"
)

// Options control which scores become tags.
type Options struct {
	GeneralThreshold   float32
	CharacterThreshold float32
	GeneralMCut        bool
	CharacterMCut      bool
	// DropOverlap removes general tags contained in a longer general tag.
	DropOverlap bool
}

// DefaultOptions are the thresholds the caption pipeline uses.
var DefaultOptions = Options{
	GeneralThreshold:   0.2682,
	CharacterThreshold: 0.7,
	DropOverlap:        true,
}

// Prediction holds per-tag scores. Keys use the underscore form found in
// the tag list ("long_hair").
type Prediction struct {
	Rating     map[string]float32
	General    map[string]float32
	Characters map[string]float32
}

// TopRating returns the highest scoring rating, or "" if none was scored.
// Ties go to the alphabetically first rating.
func (p *Prediction) TopRating() string {
	best, bestScore := "", float32(-1)
	for _, name := range sortedKeys(p.Rating) {
		if s := p.Rating[name]; s > bestScore {
			best, bestScore = name, s
		}
	}
	return best
}

// GeneralText renders the general tags by descending score with spaces
// instead of underscores.
func (p *Prediction) GeneralText() string {
	return tagfilter.Join(ByScore(p.General))
}

// ByScore returns the keys of scores ordered by descending score, ties by
// name, with underscores replaced by spaces.
func ByScore(scores map[string]float32) []string {
	names := sortedKeys(scores)
	sort.SliceStable(names, func(i, j int) bool { return scores[names[i]] > scores[names[j]] })
	for i, n := range names {
		names[i] = strings.ReplaceAll(n, "_", " ")
	}
	return names
}

type tagInfo struct {
	name     string
	category string
}

// Tagger is a loaded WD14 model.
type Tagger struct {
	session *ort.DynamicAdvancedSession
	size    int
	classes int
	tags    []tagInfo
	opts    Options
}

// New downloads (or reuses from the Hugging Face cache) the model and tag
// list of repo and opens an inference session. The ONNX Runtime environment
// must already be initialized.
func New(repo Repo, opts Options) (*Tagger, error) {
	paths, err := hub.New(string(repo)).DownloadFiles("model.onnx", "selected_tags.csv")
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", repo, err)
	}
	return Open(paths[0], paths[1], opts)
}

// Open loads a tagger from local model and tag list files.
func Open(modelPath, tagsPath string, opts Options) (*Tagger, error) {
	tags, err := readTags(tagsPath)
	if err != nil {
		return nil, fmt.Errorf("read tag list: %w", err)
	}
	session, size, classes, err := openModel(modelPath)
	if err != nil {
		return nil, fmt.Errorf("open tagger model: %w", err)
	}
	if classes != len(tags) {
		session.Destroy()
		return nil, fmt.Errorf("model has %d outputs but tag list has %d entries", classes, len(tags))
	}
	klog.V(1).Infof("tagger %s: %dx%d input, %d tags", modelPath, size, size, classes)
	return &Tagger{session: session, size: size, classes: classes, tags: tags, opts: opts}, nil
}

// Destroy releases the inference session.
func (t *Tagger) Destroy() error {
	return t.session.Destroy()
}

// Tag scores one image.
func (t *Tagger) Tag(ctx context.Context, img image.Image) (*Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	input, err := ort.NewTensor(ort.NewShape(1, int64(t.size), int64(t.size), 3), preprocess(img, t.size))
	if err != nil {
		return nil, fmt.Errorf("cannot create input tensor: %w", err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(t.classes)))
	if err != nil {
		return nil, fmt.Errorf("cannot create output tensor: %w", err)
	}
	defer output.Destroy()

	if err := t.session.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return nil, fmt.Errorf("tagger inference failed: %w", err)
	}
	return postprocess(output.GetData(), t.tags, t.opts), nil
}

func openModel(modelPath string) (*ort.DynamicAdvancedSession, int, int, error) {
	inputInfo, outputInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, 0, 0, err
	}
	if len(inputInfo) == 0 || len(outputInfo) == 0 ||
		len(inputInfo[0].Dimensions) < 2 || len(outputInfo[0].Dimensions) < 2 {
		return nil, 0, 0, fmt.Errorf("unexpected model signature")
	}

	opts, err := sessionOptions()
	if err != nil {
		return nil, 0, 0, err
	}
	defer opts.Destroy()

	s, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{inputInfo[0].Name}, []string{outputInfo[0].Name}, opts)
	if err != nil {
		return nil, 0, 0, err
	}
	return s, int(inputInfo[0].Dimensions[1]), int(outputInfo[0].Dimensions[1]), nil
}

// sessionOptions enables CUDA when the loaded runtime supports it.
func sessionOptions() (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	cudaOpts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return opts, nil
	}
	defer cudaOpts.Destroy()
	if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		klog.V(2).Infof("CUDA unavailable, using CPU: %v", err)
	}
	return opts, nil
}

func readTags(path string) ([]tagInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseTags(csv.NewReader(f))
}

// parseTags reads the tag_id,name,category,count table, skipping its header.
func parseTags(r *csv.Reader) ([]tagInfo, error) {
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("tag list is empty")
	}
	tags := make([]tagInfo, 0, len(records)-1)
	for i, rec := range records[1:] {
		if len(rec) < 3 {
			return nil, fmt.Errorf("tag list row %d has %d columns", i+2, len(rec))
		}
		tags = append(tags, tagInfo{name: rec[1], category: rec[2]})
	}
	return tags, nil
}

// preprocess pads img onto a white square, resizes it bicubically to size
// and returns BGR values in 0..255, NHWC.
func preprocess(img image.Image, size int) []float32 {
	bicubic := &draw.Kernel{
		Support: 2,
		At: func(t float64) float64 {
			if t < 0 {
				t = -t
			}
			if t < 1 {
				return (1.5*t-2.5)*t*t + 1
			}
			if t < 2 {
				return ((-0.5*t+2.5)*t-4)*t + 2
			}
			return 0
		},
	}

	b := img.Bounds()
	side := max(b.Dx(), b.Dy())
	canvas := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{color.White}, image.Point{}, draw.Src)
	offX := (side - b.Dx()) / 2
	offY := (side - b.Dy()) / 2
	draw.Draw(canvas, image.Rect(offX, offY, offX+b.Dx(), offY+b.Dy()), img, b.Min, draw.Over)

	resized := image.NewRGBA(image.Rect(0, 0, size, size))
	bicubic.Scale(resized, resized.Bounds(), canvas, canvas.Bounds(), draw.Src, nil)

	out := make([]float32, 0, size*size*3)
	for y := range size {
		for x := range size {
			c := resized.RGBAAt(x, y)
			out = append(out, float32(c.B), float32(c.G), float32(c.R))
		}
	}
	return out
}

func postprocess(scores []float32, tags []tagInfo, opts Options) *Prediction {
	p := &Prediction{
		Rating:     make(map[string]float32),
		General:    make(map[string]float32),
		Characters: make(map[string]float32),
	}
	var general, character []float32
	for i, s := range scores {
		if i >= len(tags) {
			break
		}
		switch tags[i].category {
		case categoryRating:
			p.Rating[tags[i].name] = s
		case categoryGeneral:
			general = append(general, s)
		case categoryCharacter:
			character = append(character, s)
		}
	}

	gt, ct := opts.GeneralThreshold, opts.CharacterThreshold
	if opts.GeneralMCut {
		gt = mcutThreshold(general)
	}
	if opts.CharacterMCut {
		ct = max(0.15, mcutThreshold(character))
	}
	for i, s := range scores {
		if i >= len(tags) {
			break
		}
		switch tags[i].category {
		case categoryGeneral:
			if s >= gt {
				p.General[tags[i].name] = s
			}
		case categoryCharacter:
			if s >= ct {
				p.Characters[tags[i].name] = s
			}
		}
	}

	if opts.DropOverlap {
		names := sortedKeys(p.General)
		keep := tagfilter.DropOverlap(names)
		for _, n := range names {
			if !slices.Contains(keep, n) {
				delete(p.General, n)
			}
		}
	}
	return p
}

// mcutThreshold places the threshold in the largest gap between
// consecutive sorted scores.
func mcutThreshold(scores []float32) float32 {
	if len(scores) < 2 {
		return 0
	}
	sorted := slices.Clone(scores)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })

	idx := 0
	maxDiff := sorted[0] - sorted[1]
	for i := 1; i < len(sorted)-1; i++ {
		if d := sorted[i] - sorted[i+1]; d > maxDiff {
			maxDiff, idx = d, i
		}
	}
	return (sorted[idx] + sorted[idx+1]) / 2
}

func sortedKeys(m map[string]float32) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
