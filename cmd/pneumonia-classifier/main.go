package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pneumonia-classifier/internal/config"
	"pneumonia-classifier/internal/explain"
	"pneumonia-classifier/internal/logging"
	"pneumonia-classifier/internal/model"
	"pneumonia-classifier/internal/trainer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	config    string
	logLevel  string
	logFormat string
}

func rootCommand() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "pneumonia-classifier",
		Short:         "Train and explain a chest X-ray pneumonia classifier",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.config, "config", "", "Path to YAML config (defaults and PNEU_ env vars apply without one)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "Log format: text or json")

	root.AddCommand(trainCommand(&g), explainCommand(&g), summaryCommand(&g))
	return root
}

// loadConfig reads the config and sets up logging from it, letting the global
// flags win.
func loadConfig(g *globalFlags, o config.Overrides) (*config.Config, error) {
	cfg, err := config.Load(g.config)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyOverrides(o)
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	if err := logging.Setup(os.Stderr, cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func trainCommand(g *globalFlags) *cobra.Command {
	var o config.Overrides
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Load the data, train the head, evaluate and write the run artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g, o)
			if err != nil {
				return err
			}
			res, err := trainer.Run(cmd.Context(), cfg)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return fmt.Errorf("training interrupted: %w", err)
				}
				return fmt.Errorf("training failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "model:     %s\nsummary:   %s\nthreshold: %.4f (fallback=%t)\n\n%s",
				res.ModelPath, res.SummaryPath, res.Threshold, res.ThresholdFallback, res.Confusion.Report())
			if res.OverlayPath != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "\noverlay:   %s\n", res.OverlayPath)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.DataFormat, "data-format", "", "Data layout: folders or webdataset")
	f.StringVar(&o.TrainDir, "train-dir", "", "Override training directory")
	f.StringVar(&o.ValDir, "val-dir", "", "Override validation directory")
	f.StringVar(&o.TestDir, "test-dir", "", "Override test directory")
	f.IntVar(&o.Epochs, "epochs", 0, "Maximum number of epochs")
	f.IntVar(&o.BatchSize, "batch-size", 0, "Batch size")
	f.IntVar(&o.NumWorkers, "num-workers", 0, "Number of decode and feature workers")
	f.Int64Var(&o.Seed, "seed", 0, "PRNG seed for model init, shuffling and augmentation")
	f.IntVar(&o.LogEvery, "log-every", 0, "Log throughput every N batches")
	f.StringVar(&o.BackboneWeights, "backbone-weights", "", "Pretrained backbone weights (JSON)")
	f.StringVar(&o.ExplainImage, "explain-image", "", "Image to explain after training")
	f.StringVar(&o.ExplainOutput, "explain-output", "", "Where to write the Grad-CAM overlay")
	f.StringVar(&o.OutputDir, "output-dir", "", "Directory for the model, plots and summary")
	return cmd
}

func explainCommand(g *globalFlags) *cobra.Command {
	var (
		modelPath string
		imagePath string
		output    string
		layer     string
		class     int
		alpha     float64
		colormap  string
	)
	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Write a Grad-CAM overlay for one image using a saved model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g, config.Overrides{})
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("class") {
				class = cfg.Explain.Class
			}
			if !cmd.Flags().Changed("alpha") {
				alpha = cfg.Explain.Alpha
			}
			if colormap == "" {
				colormap = cfg.Explain.Colormap
			}
			clf, err := model.Load(modelPath, cfg.Train.LearningRate)
			if err != nil {
				return err
			}
			res, err := explain.ExplainFile(clf, imagePath, output, explain.Options{
				Layer:    layer,
				Class:    class,
				Alpha:    alpha,
				Colormap: colormap,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: p(%s)=%.4f predicted=%s overlay=%s degenerate=%t\n",
				imagePath, clf.Labels[1], res.Probability, res.Predicted, res.Output, res.Heatmap.Degenerate)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&modelPath, "model", "", "Saved model checkpoint")
	f.StringVar(&imagePath, "image", "", "Image to explain")
	f.StringVar(&output, "output", "", "Overlay path (.png or .jpg)")
	f.StringVar(&layer, "layer", "", "Backbone layer to explain (default: last conv layer)")
	f.IntVar(&class, "class", model.RawOutput, "Class to explain: 0, 1 or -1 for the raw output")
	f.Float64Var(&alpha, "alpha", 0.4, "Heatmap opacity in [0,1]")
	f.StringVar(&colormap, "colormap", "", "Colormap: jet, kindlmann or rainbow")
	for _, name := range []string{"model", "image", "output"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func summaryCommand(g *globalFlags) *cobra.Command {
	var modelPath string
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the layers and parameter counts of a saved model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := loadConfig(g, config.Overrides{}); err != nil {
				return err
			}
			clf, err := model.Load(modelPath, 0)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "labels: %v  image size: %d  threshold: %.4f\n\n%s",
				clf.Labels, clf.ImageSize, clf.Threshold, clf.FormatSummary())
			return nil
		},
	}
	cmd.Flags().StringVar(&modelPath, "model", "", "Saved model checkpoint")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}
