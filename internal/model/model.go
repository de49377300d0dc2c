// Package model handles CLIP ONNX model downloading, loading, and inference.
// The text and vision towers are separate ONNX graphs so label embeddings
// can be computed once and reused across images.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"
)

const hfBaseURL = "https://huggingface.co/Xenova/clip-vit-base-patch32/resolve/main"

// ModelFile describes a file to download.
type ModelFile struct {
	Name   string
	URL    string
	SHA256 string // expected hash (empty = skip verification)
}

// RequiredFiles defines all files needed for CLIP embedding.
var RequiredFiles = []ModelFile{
	{
		Name: "text_model.onnx",
		URL:  hfBaseURL + "/onnx/text_model.onnx",
	},
	{
		Name: "vision_model.onnx",
		URL:  hfBaseURL + "/onnx/vision_model.onnx",
	},
	{
		Name: "vocab.json",
		URL:  hfBaseURL + "/vocab.json",
	},
	{
		Name: "merges.txt",
		URL:  hfBaseURL + "/merges.txt",
	},
}

// Store is a directory holding downloaded model files.
type Store struct {
	Dir string
}

// DefaultDir returns ~/.tagsort/models.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".tagsort", "models"), nil
}

// NewStore returns a store rooted at dir, or at DefaultDir when dir is empty.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		d, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	return &Store{Dir: dir}, nil
}

// Ensure checks that all required files exist, downloading any that are missing.
func (s *Store) Ensure(progressFn func(filename string, downloaded, total int64)) error {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return fmt.Errorf("cannot create models directory: %w", err)
	}

	for _, m := range RequiredFiles {
		path := filepath.Join(s.Dir, m.Name)
		if _, err := os.Stat(path); err == nil {
			continue // already downloaded
		}

		klog.V(1).Infof("downloading %s", m.URL)
		if err := downloadFile(path, m.URL, m.SHA256, func(downloaded, total int64) {
			if progressFn != nil {
				progressFn(m.Name, downloaded, total)
			}
		}); err != nil {
			os.Remove(path) // clean up partial download
			return fmt.Errorf("failed to download %s: %w", m.Name, err)
		}
	}
	return nil
}

// Path returns the full path to a named file in the store.
func (s *Store) Path(name string) (string, error) {
	path := filepath.Join(s.Dir, name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("file not found: %s (run tagsort to download)", name)
	}
	return path, nil
}

func downloadFile(destPath, url, expectedHash string, progressFn func(downloaded, total int64)) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	tmpPath := destPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("cannot create file: %w", err)
	}
	defer func() {
		f.Close()
		os.Remove(tmpPath)
	}()

	hasher := sha256.New()
	counter := &progressWriter{total: resp.ContentLength, fn: progressFn}
	if _, err := io.Copy(io.MultiWriter(f, hasher, counter), resp.Body); err != nil {
		return fmt.Errorf("download error: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("cannot flush file: %w", err)
	}

	if expectedHash != "" {
		actualHash := hex.EncodeToString(hasher.Sum(nil))
		if actualHash != expectedHash {
			return fmt.Errorf("SHA256 mismatch: expected %s, got %s", expectedHash, actualHash)
		}
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("cannot finalize download: %w", err)
	}
	return nil
}

type progressWriter struct {
	done, total int64
	fn          func(downloaded, total int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.done += int64(len(b))
	if p.fn != nil {
		p.fn(p.done, p.total)
	}
	return len(b), nil
}
