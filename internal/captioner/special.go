package captioner

import (
	"math/rand/v2"
	"path/filepath"
	"strings"

	"github.com/bagtoad/tagsort/internal/scanner"
	"github.com/bagtoad/tagsort/internal/sidecar"
)

var ratingNames = map[string]string{
	"general":      "safety",
	"sensitive":    "naughty",
	"questionable": "revealing",
	"explicit":     "porn",
}

// RatingText maps a WD14 rating to the word used in captions. Unknown
// ratings pass through unchanged.
func RatingText(rating string) string {
	if r, ok := ratingNames[rating]; ok {
		return r
	}
	return rating
}

// nameSet keeps character names in insertion order and refuses a two-word
// name whose reverse ("miku hatsune" for "hatsune miku") is already present.
type nameSet struct {
	names []string
	seen  map[string]bool
}

func (s *nameSet) add(name string) {
	if name == "" {
		return
	}
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	if s.seen[name] {
		return
	}
	if parts := strings.Fields(name); len(parts) == 2 && s.seen[parts[1]+" "+parts[0]] {
		return
	}
	s.seen[name] = true
	s.names = append(s.names, name)
}

// specialInput is what the caption head is built from.
type specialInput struct {
	dir        string
	solo       bool
	booruNames []string
	predicted  []string
}

// specialText builds the sentence naming the characters of an image. With
// FolderName the folder label ("3_hatsune_miku") names the character, or
// with NotChar the concept the folder is about.
func specialText(in specialInput, opts Options, rng *rand.Rand) string {
	var names nameSet
	folderTag, concept := "", ""
	if opts.FolderName || opts.NotChar {
		if _, label, ok := scanner.ParseFolder(filepath.Base(in.dir)); ok && label != "" {
			if opts.NotChar {
				concept = label + " is main concept of image, "
			} else {
				folderTag = label
				names.add(label)
			}
		}
	}
	for _, n := range in.booruNames {
		names.add(sidecar.CleanName(n))
	}
	for _, n := range in.predicted {
		names.add(sidecar.CleanName(n))
	}

	chars := names.names
	rng.Shuffle(len(chars), func(i, j int) { chars[i], chars[j] = chars[j], chars[i] })

	switch {
	case folderTag != "" && in.solo:
		return folderTag + " is the character in the image"
	case folderTag == "" && len(chars) > 0 && in.solo:
		return concept + strings.Join(chars, " ") + " is the character in the image"
	case len(chars) > 0 && len(chars) <= 3:
		return concept + "the characters in this image are " + strings.Join(chars, " and ")
	default:
		return concept + folderTag + " and lots of characters in this image"
	}
}

// AccuracyTag grades a caption by where its score falls between the worst
// (0) and best (1) caption of the run.
func AccuracyTag(relative float64) string {
	switch {
	case relative >= 0.4:
		return ""
	case relative >= 0.1:
		return "low accuracy"
	default:
		return "mess"
	}
}
