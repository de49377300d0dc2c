package model

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const clipImageSize = 224

// CLIP normalization constants
var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// LoadImage decodes an image file, flattens any transparency onto white and
// shrinks it so its longest side is at most maxSide. A maxSide of 0 keeps
// the original size.
func LoadImage(path string, maxSide int) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open image: %w", err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("cannot decode image: %w", err)
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("image %s is empty", path)
	}
	if maxSide > 0 && max(w, h) > maxSide {
		if w > h {
			w, h = maxSide, max(1, maxSide*h/w)
		} else {
			w, h = max(1, maxSide*w/h), maxSide
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{color.White}, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst, nil
}

// PreprocessImage returns a float32 tensor in [1, 3, 224, 224] CHW format,
// normalized for CLIP.
func PreprocessImage(img image.Image) []float32 {
	img = centerCrop(img)

	resized := image.NewRGBA(image.Rect(0, 0, clipImageSize, clipImageSize))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, img.Bounds(), draw.Src, nil)

	return imageToTensor(resized)
}

// centerCrop crops the image to a square from the center.
func centerCrop(img image.Image) image.Image {
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	if w == h {
		return img
	}

	var cropRect image.Rectangle
	if w > h {
		offset := (w - h) / 2
		cropRect = image.Rect(bounds.Min.X+offset, bounds.Min.Y, bounds.Min.X+offset+h, bounds.Max.Y)
	} else {
		offset := (h - w) / 2
		cropRect = image.Rect(bounds.Min.X, bounds.Min.Y+offset, bounds.Max.X, bounds.Min.Y+offset+w)
	}

	cropped := image.NewRGBA(image.Rect(0, 0, cropRect.Dx(), cropRect.Dy()))
	draw.Draw(cropped, cropped.Bounds(), img, cropRect.Min, draw.Src)
	return cropped
}

// imageToTensor converts an image to a CHW float32 tensor normalized with
// CLIP mean and std.
func imageToTensor(img image.Image) []float32 {
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	tensor := make([]float32, 3*h*w)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			// Convert from uint16 [0, 65535] to float32 [0, 1], then normalize
			rf := float32(r) / 65535.0
			gf := float32(g) / 65535.0
			bf := float32(b) / 65535.0

			idx := y*w + x
			tensor[0*h*w+idx] = (rf - clipMean[0]) / clipStd[0]
			tensor[1*h*w+idx] = (gf - clipMean[1]) / clipStd[1]
			tensor[2*h*w+idx] = (bf - clipMean[2]) / clipStd[2]
		}
	}

	return tensor
}
