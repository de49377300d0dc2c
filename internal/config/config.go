// Package config loads tagsort settings from ~/.tagsort/config.yaml, the
// environment (TAGSORT_*, optionally from a .env file) and command-line
// flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/bagtoad/tagsort/internal/cluster"
	"github.com/bagtoad/tagsort/internal/sidecar"
	"github.com/bagtoad/tagsort/internal/tagger"
)

// EnvPrefix prefixes every environment variable read by tagsort.
const EnvPrefix = "TAGSORT"

type Config struct {
	ONNXLibrary string
	ModelsDir   string
	TaggerRepo  string

	GeneralThreshold   float64
	CharacterThreshold float64
	MaxImageSide       int
	InferTimeout       time.Duration
	UseNorm            bool
	Checkpoints        []float64
	AdjectiveCount     int
	Adjectives         []string
	FolderName         bool
	NotChar            bool
	DropChartag        bool
	ContinueDays       int

	ClusterAlgorithm string
	OpticsEps        float64
	Seed             uint64
	DryRun           bool
	MoveCluster      bool
	CopyCluster      bool
	DirMode          string
}

var defaults = map[string]any{
	"onnx_library":        "",
	"models_dir":          "",
	"tagger_repo":         string(tagger.DefaultRepo),
	"general_threshold":   0.2682,
	"character_threshold": 0.7,
	"max_image_side":      640,
	"infer_timeout":       60 * time.Second,
	"use_norm":            false,
	"checkpoints":         []string{"0.1", "0.4", "0.9"},
	"adjective_count":     3,
	"adjectives":          []string{},
	"folder_name":         false,
	"not_char":            false,
	"drop_chartag":        false,
	"continue_days":       0,
	"cluster_algorithm":   cluster.Agglomerative.String(),
	"optics_eps":          0.5,
	"seed":                1,
	"dry_run":             false,
	"move_cluster":        false,
	"copy_cluster":        false,
	"dir_mode":            sidecar.Costume.String(),
}

// Dir returns ~/.tagsort.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".tagsort"), nil
}

// Load reads the configuration. flags may be nil; flag names use dashes
// where config keys use underscores ("--dry-run" sets dry_run).
func Load(flags *pflag.FlagSet) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir, err := Dir(); err == nil {
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			if _, known := defaults[key]; !known {
				return
			}
			if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return nil, bindErr
		}
	}

	checkpoints, err := parseFloats(v.GetStringSlice("checkpoints"))
	if err != nil {
		return nil, fmt.Errorf("checkpoints: %w", err)
	}

	c := &Config{
		ONNXLibrary:        v.GetString("onnx_library"),
		ModelsDir:          v.GetString("models_dir"),
		TaggerRepo:         v.GetString("tagger_repo"),
		GeneralThreshold:   v.GetFloat64("general_threshold"),
		CharacterThreshold: v.GetFloat64("character_threshold"),
		MaxImageSide:       v.GetInt("max_image_side"),
		InferTimeout:       v.GetDuration("infer_timeout"),
		UseNorm:            v.GetBool("use_norm"),
		Checkpoints:        checkpoints,
		AdjectiveCount:     v.GetInt("adjective_count"),
		Adjectives:         nonEmpty(v.GetStringSlice("adjectives")),
		FolderName:         v.GetBool("folder_name"),
		NotChar:            v.GetBool("not_char"),
		DropChartag:        v.GetBool("drop_chartag"),
		ContinueDays:       v.GetInt("continue_days"),
		ClusterAlgorithm:   v.GetString("cluster_algorithm"),
		OpticsEps:          v.GetFloat64("optics_eps"),
		Seed:               v.GetUint64("seed"),
		DryRun:             v.GetBool("dry_run"),
		MoveCluster:        v.GetBool("move_cluster"),
		CopyCluster:        v.GetBool("copy_cluster"),
		DirMode:            v.GetString("dir_mode"),
	}
	if c.NotChar {
		c.FolderName = true
	}
	return c, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if c.TaggerRepo == "" {
		return fmt.Errorf("tagger_repo is required")
	}
	for name, t := range map[string]float64{
		"general_threshold":   c.GeneralThreshold,
		"character_threshold": c.CharacterThreshold,
	} {
		if t < 0 || t > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %v", name, t)
		}
	}
	for _, t := range c.Checkpoints {
		if t < 0 || t > 1 {
			return fmt.Errorf("checkpoints must be between 0 and 1, got %v", t)
		}
	}
	if c.MaxImageSide < 0 || c.ContinueDays < 0 || c.AdjectiveCount < 0 {
		return fmt.Errorf("max_image_side, continue_days and adjective_count cannot be negative")
	}
	if c.InferTimeout < 0 {
		return fmt.Errorf("infer_timeout cannot be negative")
	}
	if c.OpticsEps <= 0 {
		return fmt.Errorf("optics_eps must be positive, got %v", c.OpticsEps)
	}
	if _, err := c.Algorithm(); err != nil {
		return err
	}
	if _, err := c.Facet(); err != nil {
		return err
	}
	return nil
}

// Algorithm parses ClusterAlgorithm.
func (c *Config) Algorithm() (cluster.Algorithm, error) {
	return cluster.ParseAlgorithm(c.ClusterAlgorithm)
}

// Facet parses DirMode.
func (c *Config) Facet() (sidecar.Facet, error) {
	return sidecar.ParseFacet(c.DirMode)
}

// parseFloats accepts values from YAML lists, comma separated environment
// variables and pflag's "[a,b]" rendering.
func parseFloats(values []string) ([]float64, error) {
	var out []float64
	for _, v := range values {
		for _, f := range strings.FieldsFunc(v, func(r rune) bool {
			return r == ',' || r == ' ' || r == '[' || r == ']'
		}) {
			x, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, err
			}
			out = append(out, x)
		}
	}
	return out, nil
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
