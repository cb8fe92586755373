package trainer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"pneumonia-classifier/internal/augment"
	"pneumonia-classifier/internal/config"
	"pneumonia-classifier/internal/dataset"
	"pneumonia-classifier/internal/explain"
	"pneumonia-classifier/internal/imaging"
	"pneumonia-classifier/internal/logging"
	"pneumonia-classifier/internal/metrics"
	"pneumonia-classifier/internal/model"
	"pneumonia-classifier/internal/report"
)

// ModelFile is the checkpoint name inside the output directory.
const ModelFile = "model.json"

// Result is everything a pipeline run produced.
type Result struct {
	Model             *model.Classifier
	History           *metrics.History
	Confusion         metrics.ConfusionMatrix
	Threshold         float64
	ThresholdFallback bool
	TestLoss          float64
	TestAccuracy      float64
	AUC               float64
	ModelPath         string
	SummaryPath       string
	// OverlayPath is empty when no explain image was configured.
	OverlayPath string
}

// Run executes the whole workload: load, split, train, evaluate, report and
// explain.
func Run(ctx context.Context, cfg *config.Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.ValidateData(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	started := time.Now()
	summary := report.NewSummary(started, cfg.Labels)
	logging.Info("starting run", logging.Training, "run_id", summary.RunID, "output", cfg.Output.Dir)

	parts, skipped, err := loadPartitions(ctx, cfg)
	if err != nil {
		return nil, err
	}
	summary.Dataset = report.DatasetSummary{
		SplitMode:   cfg.Split.Mode,
		Train:       len(parts.Train),
		Val:         len(parts.Val),
		Test:        len(parts.Test),
		Skipped:     skipped,
		ClassCounts: classCounts(parts.Train, cfg.Labels),
	}

	gen := augment.New(augment.Config{
		ZoomRange:                   cfg.Augment.ZoomRange,
		HorizontalFlip:              cfg.Augment.HorizontalFlip,
		WidthShiftRange:             cfg.Augment.WidthShiftRange,
		FeaturewiseCenter:           cfg.Augment.FeaturewiseCenter,
		FeaturewiseStdNormalization: cfg.Augment.FeaturewiseStdNormalization,
	})
	gen.Fit(parts.Train)
	for _, s := range append(append([]dataset.Sample(nil), parts.Val...), parts.Test...) {
		if err := gen.Standardize(s.Image); err != nil {
			return nil, err
		}
	}

	clf, err := buildModel(cfg)
	if err != nil {
		return nil, err
	}
	clf.Input = gen.Standardization()

	valX, err := clf.Features(ctx, dataset.Tensors(parts.Val))
	if err != nil {
		return nil, fmt.Errorf("validation features: %w", err)
	}
	history, err := Fit(ctx, clf, gen, parts.Train, Validation{Features: valX, Labels: dataset.Labels(parts.Val)}, FitConfig{
		BatchSize:          cfg.Train.BatchSize,
		Epochs:             cfg.Train.Epochs,
		Patience:           cfg.Train.Patience,
		RestoreBestWeights: cfg.Train.RestoreBestWeights,
		Seed:               cfg.Train.Seed,
		LogEvery:           cfg.Train.LogEvery,
	})
	if err != nil {
		return nil, err
	}
	summary.SetHistory(history)

	res := &Result{Model: clf, History: history}
	if err := evaluate(ctx, cfg, clf, gen, parts, res, summary); err != nil {
		return nil, err
	}

	res.ModelPath = filepath.Join(cfg.Output.Dir, ModelFile)
	if err := clf.Save(res.ModelPath); err != nil {
		return nil, err
	}
	summary.Artifacts["model"] = res.ModelPath

	plots, err := report.HistoryPlots(history, cfg.Output.Dir)
	if err != nil {
		return nil, err
	}
	for pt, path := range plots {
		summary.Artifacts[string(pt)] = path
	}
	cmPath := report.Path(cfg.Output.Dir, report.ConfusionMatrix)
	if err := report.ConfusionPlot(res.Confusion, cmPath); err != nil {
		return nil, err
	}
	summary.Artifacts[string(report.ConfusionMatrix)] = cmPath

	if cfg.Explain.Image != "" {
		out, err := explain.ExplainFile(clf, cfg.Explain.Image, cfg.Explain.Output, explain.Options{
			Layer:    cfg.Explain.Layer,
			Class:    cfg.Explain.Class,
			Alpha:    cfg.Explain.Alpha,
			Colormap: cfg.Explain.Colormap,
		})
		if err != nil {
			return nil, fmt.Errorf("explain %s: %w", cfg.Explain.Image, err)
		}
		res.OverlayPath = out.Output
		summary.Artifacts["overlay"] = out.Output
	}

	summary.FinishedAt = time.Now().UTC()
	res.SummaryPath = filepath.Join(cfg.Output.Dir, report.SummaryFile)
	if err := summary.Write(res.SummaryPath); err != nil {
		return nil, err
	}
	logging.Info("run finished", logging.Training,
		"run_id", summary.RunID,
		"epochs", history.Len(),
		"test_accuracy", res.TestAccuracy,
		"threshold", res.Threshold,
		"elapsed", time.Since(started))
	return res, nil
}

func loadPartitions(ctx context.Context, cfg *config.Config) (dataset.Partitions, int, error) {
	loader := dataset.Loader{Labels: cfg.Labels, Size: cfg.ImageSize, Workers: cfg.NumWorkers}
	var stats dataset.LoadStats
	load := func(dir string) ([]dataset.Sample, error) {
		if dir == "" {
			return nil, nil
		}
		samples, s, err := loader.LoadFormat(ctx, cfg.Data.Format, dir)
		if err != nil {
			return nil, err
		}
		stats.Add(s)
		return samples, nil
	}

	train, err := load(cfg.Data.TrainDir)
	if err != nil {
		return dataset.Partitions{}, 0, err
	}
	val, err := load(cfg.Data.ValDir)
	if err != nil {
		return dataset.Partitions{}, 0, err
	}
	test, err := load(cfg.Data.TestDir)
	if err != nil {
		return dataset.Partitions{}, 0, err
	}
	if stats.Skipped > 0 {
		logging.Warn("some images could not be decoded", logging.Dataset,
			"skipped", stats.Skipped, "skip_rate", stats.SkipRate())
	}

	var parts dataset.Partitions
	if cfg.Split.Mode == config.SplitPreserve {
		parts = dataset.Partitions{Train: train, Val: val, Test: test}
		for _, p := range [][]dataset.Sample{parts.Train, parts.Val, parts.Test} {
			dataset.Normalize(p)
		}
	} else {
		pooled := dataset.Pool(test, train, val)
		dataset.Normalize(pooled)
		parts, err = dataset.Resplit(pooled, cfg.Split.TestFraction, cfg.Split.ValFraction, cfg.Split.Seed)
		if err != nil {
			return dataset.Partitions{}, 0, err
		}
	}
	if len(parts.Train) == 0 || len(parts.Val) == 0 || len(parts.Test) == 0 {
		return dataset.Partitions{}, 0, fmt.Errorf("empty partition: train=%d val=%d test=%d", len(parts.Train), len(parts.Val), len(parts.Test))
	}
	logging.Info("split data", logging.Dataset,
		"mode", cfg.Split.Mode,
		"train", len(parts.Train),
		"val", len(parts.Val),
		"test", len(parts.Test),
		"train_per_label", dataset.ClassCounts(parts.Train, len(cfg.Labels)))
	return parts, stats.Skipped, nil
}

func buildModel(cfg *config.Config) (*model.Classifier, error) {
	var backbone *model.Backbone
	if cfg.Model.BackboneWeights != "" {
		b, err := model.LoadBackbone(cfg.Model.BackboneWeights)
		if err != nil {
			return nil, err
		}
		backbone = b
		logging.Info("loaded backbone weights", logging.Model, "path", cfg.Model.BackboneWeights, "layers", len(b.Layers))
	} else {
		logging.Warn("no backbone weights configured, using seeded random features", logging.Model, "seed", cfg.Model.Seed)
	}
	clf, err := model.New(model.Config{
		Labels:           cfg.Labels,
		ImageSize:        cfg.ImageSize,
		Backbone:         backbone,
		BackboneChannels: cfg.Model.BackboneChannels,
		Hidden:           cfg.Model.HeadHidden,
		InputDropout:     cfg.Model.InputDropout,
		OutputDropout:    cfg.Model.OutputDropout,
		LearningRate:     cfg.Train.LearningRate,
		Seed:             cfg.Model.Seed,
		Workers:          cfg.NumWorkers,
	})
	if err != nil {
		return nil, err
	}
	trainable, frozen := clf.ParamCounts()
	logging.Info("built model", logging.Model, "trainable_params", trainable, "non_trainable_params", frozen)
	logging.Debug("model summary\n"+clf.FormatSummary(), logging.Model)
	return clf, nil
}

// evaluate scores the test set, picks the threshold on training predictions
// and fills res and the summary.
func evaluate(ctx context.Context, cfg *config.Config, clf *model.Classifier, gen *augment.Generator, parts dataset.Partitions, res *Result, summary *report.Summary) error {
	testX, err := clf.Features(ctx, dataset.Tensors(parts.Test))
	if err != nil {
		return fmt.Errorf("test features: %w", err)
	}
	testLabels := dataset.Labels(parts.Test)
	testRes := clf.EvaluateFeatures(testX, testLabels)
	res.TestLoss, res.TestAccuracy = testRes.Loss, testRes.Accuracy
	logging.Info("test evaluation", logging.Evaluate, "loss", testRes.Loss, "accuracy", testRes.Accuracy)

	trainInputs := make([]imaging.Tensor, len(parts.Train))
	for i, s := range parts.Train {
		trainInputs[i] = s.Image.Clone()
		if err := gen.Standardize(trainInputs[i]); err != nil {
			return err
		}
	}
	trainProbs, err := clf.Predict(ctx, trainInputs)
	if err != nil {
		return fmt.Errorf("train predictions: %w", err)
	}
	trainLabels := dataset.Labels(parts.Train)

	res.Threshold = cfg.Evaluate.FallbackThreshold
	pr, err := metrics.PrecisionRecallCurve(trainLabels, trainProbs.RawMatrix().Data)
	if err == nil {
		res.Threshold, err = metrics.SelectThreshold(pr, cfg.Evaluate.MinPrecision)
	}
	if err != nil {
		if !errors.Is(err, metrics.ErrNoQualifyingThreshold) && !errors.Is(err, metrics.ErrSingleClass) {
			return err
		}
		res.Threshold = cfg.Evaluate.FallbackThreshold
		res.ThresholdFallback = true
		logging.Warn("using fallback threshold", logging.Evaluate,
			"threshold", res.Threshold, "min_precision", cfg.Evaluate.MinPrecision, "reason", err)
	} else {
		path := report.Path(cfg.Output.Dir, report.PrecisionRecall)
		if err := report.PRPlot(pr, res.Threshold, path); err != nil {
			return err
		}
		summary.Artifacts[string(report.PrecisionRecall)] = path
	}
	clf.Threshold = res.Threshold
	logging.Info("selected threshold", logging.Evaluate, "threshold", res.Threshold, "fallback", res.ThresholdFallback)

	testProbs := clf.PredictFeatures(testX).RawMatrix().Data
	res.Confusion, err = metrics.NewConfusionMatrix(cfg.Labels, testLabels, metrics.Binarize(testProbs, res.Threshold))
	if err != nil {
		return err
	}
	logging.Info("confusion matrix\n"+res.Confusion.Report(), logging.Evaluate)

	res.AUC = math.NaN()
	roc, err := metrics.ROC(testLabels, testProbs)
	switch {
	case err == nil:
		res.AUC = metrics.AUC(roc.FPR, roc.TPR)
		path := report.Path(cfg.Output.Dir, report.ROCCurve)
		if err := report.ROCPlot(roc, res.AUC, path); err != nil {
			return err
		}
		summary.Artifacts[string(report.ROCCurve)] = path
	case errors.Is(err, metrics.ErrSingleClass):
		logging.Warn("test set holds one class, skipping ROC", logging.Evaluate)
	default:
		return err
	}

	summary.Evaluation = report.EvaluationSummary{
		TestLoss:          res.TestLoss,
		TestAccuracy:      res.TestAccuracy,
		Threshold:         res.Threshold,
		ThresholdFallback: res.ThresholdFallback,
		MinPrecision:      cfg.Evaluate.MinPrecision,
		AUC:               res.AUC,
		ConfusionMatrix:   res.Confusion.Counts,
		Accuracy:          res.Confusion.Accuracy(),
	}
	return nil
}

func classCounts(samples []dataset.Sample, labels []string) map[string]int {
	counts := dataset.ClassCounts(samples, len(labels))
	out := make(map[string]int, len(labels))
	for i, l := range labels {
		out[l] = counts[i]
	}
	return out
}
