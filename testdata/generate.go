// This program generates a small dataset for integration testing: one
// "N_name" folder of synthetic images, a booru metadata sidecar and a
// non-image file.
//
//go:build ignore

package main

import (
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
)

func main() {
	dir := filepath.Join("testdata", "3_miku")
	os.MkdirAll(dir, 0755)

	// A blue sky with green ground, outdoors
	generateSkyGround(filepath.Join(dir, "landscape.jpg"))

	// A warm orange/red gradient
	generateSunset(filepath.Join(dir, "sunset.png"))

	// Solid colors
	generateSolidColor(filepath.Join(dir, "red_object.jpg"), color.RGBA{220, 30, 30, 255})
	generateSolidColor(filepath.Join(dir, "dark_scene.png"), color.RGBA{15, 15, 30, 255})

	// A green gradient
	generateNature(filepath.Join(dir, "nature.jpg"))

	// A white page with dark "text" lines
	generateDocument(filepath.Join(dir, "document.png"))

	// A half transparent image, flattened onto white when loaded
	generateTransparent(filepath.Join(dir, "transparent.png"))

	// Booru metadata for one image
	os.WriteFile(filepath.Join(dir, "landscape.jpg.boorutag"), []byte("hatsune_miku\n"), 0644)

	// A non-image file for skip testing
	os.WriteFile(filepath.Join(dir, "readme.md"), []byte("not an image"), 0644)
}

func generateSkyGround(path string) {
	img := image.NewRGBA(image.Rect(0, 0, 224, 224))
	for y := 0; y < 224; y++ {
		for x := 0; x < 224; x++ {
			if y < 112 {
				// Sky blue gradient
				b := uint8(180 + y/3)
				img.Set(x, y, color.RGBA{100, 150, b, 255})
			} else {
				// Green ground
				g := uint8(100 + (224-y)/3)
				img.Set(x, y, color.RGBA{50, g, 30, 255})
			}
		}
	}
	saveJPEG(path, img)
}

func generateSunset(path string) {
	img := image.NewRGBA(image.Rect(0, 0, 224, 224))
	for y := 0; y < 224; y++ {
		for x := 0; x < 224; x++ {
			r := uint8(255 - y/3)
			g := uint8(100 + int(80*math.Sin(float64(y)/30)))
			b := uint8(50 + y/4)
			img.Set(x, y, color.RGBA{r, g, b, 255})
		}
	}
	savePNG(path, img)
}

func generateSolidColor(path string, c color.RGBA) {
	img := image.NewRGBA(image.Rect(0, 0, 224, 224))
	for y := 0; y < 224; y++ {
		for x := 0; x < 224; x++ {
			img.Set(x, y, c)
		}
	}
	if filepath.Ext(path) == ".png" {
		savePNG(path, img)
	} else {
		saveJPEG(path, img)
	}
}

func generateNature(path string) {
	img := image.NewRGBA(image.Rect(0, 0, 224, 224))
	for y := 0; y < 224; y++ {
		for x := 0; x < 224; x++ {
			g := uint8(80 + int(80*math.Sin(float64(x)/20)*math.Cos(float64(y)/25)))
			r := uint8(40 + int(30*math.Sin(float64(y)/30)))
			img.Set(x, y, color.RGBA{r, g, 20, 255})
		}
	}
	saveJPEG(path, img)
}

func generateDocument(path string) {
	img := image.NewRGBA(image.Rect(0, 0, 224, 224))
	// White background
	for y := 0; y < 224; y++ {
		for x := 0; x < 224; x++ {
			img.Set(x, y, color.RGBA{245, 245, 245, 255})
		}
	}
	// Dark horizontal lines simulating text
	for line := 0; line < 12; line++ {
		y := 20 + line*16
		lineWidth := 140 + (line%3)*20
		for x := 20; x < 20+lineWidth && x < 210; x++ {
			for dy := 0; dy < 3; dy++ {
				if y+dy < 224 {
					img.Set(x, y+dy, color.RGBA{40, 40, 40, 255})
				}
			}
		}
	}
	savePNG(path, img)
}

func generateTransparent(path string) {
	img := image.NewNRGBA(image.Rect(0, 0, 224, 224))
	for y := 0; y < 224; y++ {
		for x := 0; x < 224; x++ {
			a := uint8(0)
			if x > 56 && x < 168 {
				a = 255
			}
			img.Set(x, y, color.NRGBA{30, 120, 200, a})
		}
	}
	savePNG(path, img)
}

func saveJPEG(path string, img image.Image) {
	f, _ := os.Create(path)
	defer f.Close()
	jpeg.Encode(f, img, &jpeg.Options{Quality: 90})
}

func savePNG(path string, img image.Image) {
	f, _ := os.Create(path)
	defer f.Close()
	png.Encode(f, img)
}
