package main

import (
	"context"
	goflag "flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"github.com/bagtoad/tagsort/internal/captioner"
	"github.com/bagtoad/tagsort/internal/config"
	"github.com/bagtoad/tagsort/internal/embedcache"
	"github.com/bagtoad/tagsort/internal/grouper"
	"github.com/bagtoad/tagsort/internal/model"
	"github.com/bagtoad/tagsort/internal/onnxlib"
	"github.com/bagtoad/tagsort/internal/report"
	"github.com/bagtoad/tagsort/internal/tagger"
	"github.com/bagtoad/tagsort/internal/vocab"
)

func main() {
	klog.InitFlags(nil)
	defer klog.Flush()

	rootCmd := &cobra.Command{
		Use:   "tagsort",
		Short: "Caption and cluster anime training images with local tagger and CLIP models",
		Long: `tagsort writes training captions for anime image datasets and groups
captioned images into costume, appearance and scene clusters.

Settings come from ~/.tagsort/config.yaml, TAGSORT_* environment variables
(optionally in a .env file) and flags, flags winning.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().AddGoFlagSet(goflag.CommandLine)
	rootCmd.PersistentFlags().Uint64("seed", 1, "Seed for shuffling and clustering")
	rootCmd.PersistentFlags().Bool("dry-run", false, "Show what would be done without changing files")

	rootCmd.AddCommand(newCaptionCmd(), newClusterCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		klog.Flush()
		os.Exit(1)
	}
}

func newCaptionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "caption <directory>",
		Short: "Write a five-line caption next to every image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			return runCaption(cmd.Context(), args[0], cfg)
		},
	}
	f := cmd.Flags()
	f.String("onnx-library", "", "Path to the ONNX Runtime shared library")
	f.String("models-dir", "", "Directory holding the CLIP model (default ~/.tagsort/models)")
	f.String("tagger-repo", string(tagger.DefaultRepo), "Hugging Face repository of the WD14 tagger")
	f.Float64("general-threshold", 0.2682, "Minimum score for general tags")
	f.Float64("character-threshold", 0.7, "Minimum score for character tags")
	f.Int("max-image-side", 640, "Downscale images whose longest side exceeds this (0 keeps the original size)")
	f.Duration("infer-timeout", time.Minute, "Give up on a single model call after this long")
	f.Bool("use-norm", false, "Average selected label embeddings instead of summing them")
	f.Float64Slice("checkpoints", nil, "Score fractions at which caption subsets are captured (default 0.1,0.4,0.9)")
	f.Int("adjective-count", 3, "Number of adjectives ranked against each image")
	f.StringSlice("adjectives", nil, "Adjectives to rank (overrides ~/.tagsort/adjectives.txt)")
	f.Bool("folder-name", false, "Use the folder name as the character name")
	f.Bool("not-char", false, "Treat the folder name as a concept rather than a character")
	f.Bool("drop-chartag", false, "Remove character feature tags shared by many images in a folder")
	f.Int("continue-days", 0, "Skip images captioned within this many days")
	return cmd
}

func newClusterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cluster <directory>",
		Short: "Cluster captioned images in every N_name subfolder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			return runCluster(cmd.Context(), args[0], cfg)
		},
	}
	f := cmd.Flags()
	f.String("cluster-algorithm", "agglomerative", "One of agglomerative, kmeans, spectral, optics")
	f.Float64("optics-eps", 0.5, "Reachability cut for optics")
	f.String("dir-mode", "costume", "Facet that drives caption rewriting and folders: costume, appearance or scene")
	f.Bool("move-cluster", false, "Move images into per-cluster folders")
	f.Bool("copy-cluster", false, "Hard link images into an extra repeats folder")
	return cmd
}

func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(flags)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("cannot access directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}

func runCaption(ctx context.Context, dir string, cfg *config.Config) error {
	if err := checkDir(dir); err != nil {
		return err
	}

	adjectives, err := vocab.ResolveAdjectives(cfg.Adjectives)
	if err != nil {
		return fmt.Errorf("cannot resolve adjectives: %w", err)
	}

	fmt.Println("Checking CLIP model...")
	store, err := model.NewStore(cfg.ModelsDir)
	if err != nil {
		return err
	}
	err = store.Ensure(func(filename string, downloaded, total int64) {
		if total > 0 {
			pct := float64(downloaded) / float64(total) * 100
			fmt.Printf("\rDownloading %s... %.0f%%", filename, pct)
		} else {
			fmt.Printf("\rDownloading %s... %d bytes", filename, downloaded)
		}
	})
	if err != nil {
		return fmt.Errorf("model setup failed: %w", err)
	}

	fmt.Println("Loading CLIP model...")
	defer onnxlib.Destroy()
	clip, err := model.NewCLIPSession(store, cfg.ONNXLibrary)
	if err != nil {
		return fmt.Errorf("cannot load CLIP model: %w", err)
	}
	defer clip.Destroy()

	fmt.Printf("Loading tagger %s...\n", cfg.TaggerRepo)
	tg, err := tagger.New(tagger.Repo(cfg.TaggerRepo), tagger.Options{
		GeneralThreshold:   float32(cfg.GeneralThreshold),
		CharacterThreshold: float32(cfg.CharacterThreshold),
		DropOverlap:        true,
	})
	if err != nil {
		return fmt.Errorf("cannot load tagger: %w", err)
	}
	defer tg.Destroy()

	c := captioner.New(tg, clip, embedcache.New(clip), captioner.Options{
		FolderName:     cfg.FolderName,
		NotChar:        cfg.NotChar,
		DropChartag:    cfg.DropChartag,
		ContinueDays:   cfg.ContinueDays,
		UseMean:        cfg.UseNorm,
		Thresholds:     cfg.Checkpoints,
		Adjectives:     adjectives,
		AdjectiveCount: cfg.AdjectiveCount,
		MaxImageSide:   cfg.MaxImageSide,
		InferTimeout:   cfg.InferTimeout,
		Seed:           cfg.Seed,
	})
	klog.Infof("caption run %s over %s", c.RunID(), dir)

	fmt.Println("Captioning images...")
	lastDir := ""
	sum, err := c.Run(ctx, dir, func(d string, current, total int) {
		if d != lastDir {
			if lastDir != "" {
				fmt.Println()
			}
			fmt.Printf("%s\n", d)
			lastDir = d
		}
		fmt.Printf("\rProcessing image %d/%d...", current, total)
	})
	fmt.Println() // newline after progress
	if err != nil {
		return err
	}

	report.Print(os.Stdout, sum)
	return nil
}

func runCluster(ctx context.Context, dir string, cfg *config.Config) error {
	if err := checkDir(dir); err != nil {
		return err
	}
	algo, err := cfg.Algorithm()
	if err != nil {
		return err
	}
	mode, err := cfg.Facet()
	if err != nil {
		return err
	}

	g := grouper.New(grouper.Options{
		Algorithm: algo,
		Eps:       cfg.OpticsEps,
		Seed:      cfg.Seed,
		Mode:      mode,
		DryRun:    cfg.DryRun,
		Move:      cfg.MoveCluster,
		Copy:      cfg.CopyCluster,
	})
	klog.Infof("cluster run %s over %s using %s", g.RunID(), dir, algo)

	mdPath := filepath.Join(dir, "cluster_results.md")
	md, err := os.Create(mdPath)
	if err != nil {
		return fmt.Errorf("cannot create report: %w", err)
	}
	defer md.Close()

	if cfg.DryRun {
		fmt.Println("Dry run mode - no files will be changed")
	}
	results, err := g.Run(ctx, dir, md)
	if err != nil {
		return err
	}

	for _, res := range results {
		if res.Skipped != "" {
			continue
		}
		fmt.Printf("\n%s (%d images)\n", res.Dir, len(res.Records))
		report.PrintMoves(os.Stdout, res.Moves, cfg.DryRun)
	}
	fmt.Printf("\nCluster report written to %s\n", mdPath)
	return md.Close()
}
