package model

import (
	"context"
	"fmt"
	"image"
	"math"
	"slices"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/bagtoad/tagsort/internal/onnxlib"
)

const (
	textOutput   = "text_embeds"
	visionInput  = "pixel_values"
	visionOutput = "image_embeds"
)

// CLIPSession holds loaded CLIP text and vision towers ready for inference.
type CLIPSession struct {
	text       *ort.DynamicAdvancedSession
	textInputs []string
	vision     *ort.DynamicAdvancedSession
	dim        int
	tokenizer  *Tokenizer
}

// NewCLIPSession creates the text and vision inference sessions from the
// files in store. The ONNX Runtime environment is initialized on first use,
// loading the library at libPath (or the embedded/platform default).
func NewCLIPSession(store *Store, libPath string) (*CLIPSession, error) {
	if err := onnxlib.Init(libPath); err != nil {
		return nil, err
	}

	textPath, err := store.Path("text_model.onnx")
	if err != nil {
		return nil, err
	}
	visionPath, err := store.Path("vision_model.onnx")
	if err != nil {
		return nil, err
	}

	// The text graph may or may not take an attention mask.
	inputInfo, outputInfo, err := ort.GetInputOutputInfo(textPath)
	if err != nil {
		return nil, fmt.Errorf("cannot inspect text model: %w", err)
	}
	var textInputs []string
	for _, in := range inputInfo {
		if in.Name == "input_ids" || in.Name == "attention_mask" {
			textInputs = append(textInputs, in.Name)
		}
	}
	if !slices.Contains(textInputs, "input_ids") {
		return nil, fmt.Errorf("text model has no input_ids input")
	}
	dim := 0
	for _, out := range outputInfo {
		if out.Name == textOutput && len(out.Dimensions) == 2 {
			dim = int(out.Dimensions[1])
		}
	}
	if dim <= 0 {
		return nil, fmt.Errorf("text model has no %s output", textOutput)
	}

	text, err := ort.NewDynamicAdvancedSession(textPath, textInputs, []string{textOutput}, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot create text session: %w", err)
	}
	vision, err := ort.NewDynamicAdvancedSession(visionPath, []string{visionInput}, []string{visionOutput}, nil)
	if err != nil {
		text.Destroy()
		return nil, fmt.Errorf("cannot create vision session: %w", err)
	}

	tokenizer, err := TokenizerFromStore(store)
	if err != nil {
		text.Destroy()
		vision.Destroy()
		return nil, fmt.Errorf("cannot load tokenizer: %w", err)
	}

	return &CLIPSession{
		text:       text,
		textInputs: textInputs,
		vision:     vision,
		dim:        dim,
		tokenizer:  tokenizer,
	}, nil
}

// Tokenizer exposes the session's tokenizer.
func (c *CLIPSession) Tokenizer() *Tokenizer {
	return c.tokenizer
}

// EmbedImage returns the unit-length embedding of img.
func (c *CLIPSession) EmbedImage(ctx context.Context, img image.Image) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pixelValues := PreprocessImage(img)

	pixelTensor, err := ort.NewTensor(ort.NewShape(1, 3, int64(clipImageSize), int64(clipImageSize)), pixelValues)
	if err != nil {
		return nil, fmt.Errorf("cannot create pixel_values tensor: %w", err)
	}
	defer pixelTensor.Destroy()

	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(c.dim)))
	if err != nil {
		return nil, fmt.Errorf("cannot create output tensor: %w", err)
	}
	defer out.Destroy()

	if err := c.vision.Run([]ort.Value{pixelTensor}, []ort.Value{out}); err != nil {
		return nil, fmt.Errorf("vision inference failed: %w", err)
	}
	return normalize(slices.Clone(out.GetData())), nil
}

// EmbedTexts returns one unit-length embedding per text. Texts longer than
// the context window are truncated at a phrase boundary.
func (c *CLIPSession) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fitted := make([]string, len(texts))
	for i, t := range texts {
		fitted[i] = c.tokenizer.TruncateToFit(t)
	}
	ids, mask := c.tokenizer.EncodeBatch(fitted)
	n := int64(len(texts))

	idsTensor, err := ort.NewTensor(ort.NewShape(n, int64(contextLen)), ids)
	if err != nil {
		return nil, fmt.Errorf("cannot create input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()

	inputs := []ort.Value{idsTensor}
	if slices.Contains(c.textInputs, "attention_mask") {
		maskTensor, err := ort.NewTensor(ort.NewShape(n, int64(contextLen)), mask)
		if err != nil {
			return nil, fmt.Errorf("cannot create attention_mask tensor: %w", err)
		}
		defer maskTensor.Destroy()
		inputs = make([]ort.Value, len(c.textInputs))
		for i, name := range c.textInputs {
			if name == "input_ids" {
				inputs[i] = idsTensor
			} else {
				inputs[i] = maskTensor
			}
		}
	}

	out, err := ort.NewEmptyTensor[float32](ort.NewShape(n, int64(c.dim)))
	if err != nil {
		return nil, fmt.Errorf("cannot create output tensor: %w", err)
	}
	defer out.Destroy()

	if err := c.text.Run(inputs, []ort.Value{out}); err != nil {
		return nil, fmt.Errorf("text inference failed: %w", err)
	}

	data := out.GetData()
	result := make([][]float32, len(texts))
	for i := range result {
		result[i] = normalize(slices.Clone(data[i*c.dim : (i+1)*c.dim]))
	}
	return result, nil
}

// Embed returns the unit-length embedding of a single text.
func (c *CLIPSession) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Destroy releases resources held by the CLIP session. The ONNX Runtime
// environment itself is torn down by onnxlib.Destroy.
func (c *CLIPSession) Destroy() {
	if c.text != nil {
		c.text.Destroy()
	}
	if c.vision != nil {
		c.vision.Destroy()
	}
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}
