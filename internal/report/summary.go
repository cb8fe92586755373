package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"pneumonia-classifier/internal/metrics"
)

// SummaryFile is the run summary's name inside the output directory.
const SummaryFile = "summary.yaml"

// Summary is the machine-readable record of one pipeline run.
type Summary struct {
	RunID      string            `yaml:"run_id"`
	StartedAt  time.Time         `yaml:"started_at"`
	FinishedAt time.Time         `yaml:"finished_at"`
	Labels     []string          `yaml:"labels"`
	Dataset    DatasetSummary    `yaml:"dataset"`
	Training   TrainingSummary   `yaml:"training"`
	Evaluation EvaluationSummary `yaml:"evaluation"`
	Artifacts  map[string]string `yaml:"artifacts,omitempty"`
}

type DatasetSummary struct {
	SplitMode string `yaml:"split_mode"`
	Train     int    `yaml:"train"`
	Val       int    `yaml:"val"`
	Test      int    `yaml:"test"`
	Skipped   int    `yaml:"skipped"`
	// ClassCounts maps label to the number of training samples.
	ClassCounts map[string]int `yaml:"class_counts"`
}

type TrainingSummary struct {
	EpochsRun    int                    `yaml:"epochs_run"`
	EarlyStopped bool                   `yaml:"early_stopped"`
	BestEpoch    int                    `yaml:"best_epoch"`
	Restored     bool                   `yaml:"restored_best_weights"`
	History      []metrics.EpochMetrics `yaml:"history"`
}

type EvaluationSummary struct {
	TestLoss          float64 `yaml:"test_loss"`
	TestAccuracy      float64 `yaml:"test_accuracy"`
	Threshold         float64 `yaml:"threshold"`
	ThresholdFallback bool    `yaml:"threshold_fallback"`
	MinPrecision      float64 `yaml:"min_precision"`
	AUC               float64 `yaml:"auc"`
	// ConfusionMatrix rows are true labels, columns predicted labels.
	ConfusionMatrix [][]int `yaml:"confusion_matrix"`
	Accuracy        float64 `yaml:"accuracy"`
}

// NewSummary starts a summary with a fresh run id.
func NewSummary(started time.Time, labels []string) *Summary {
	return &Summary{
		RunID:     uuid.New().String(),
		StartedAt: started.UTC(),
		Labels:    append([]string(nil), labels...),
		Artifacts: make(map[string]string),
	}
}

// SetHistory copies the training record.
func (s *Summary) SetHistory(h *metrics.History) {
	s.Training = TrainingSummary{
		EpochsRun:    h.Len(),
		EarlyStopped: h.EarlyStopped,
		BestEpoch:    h.BestEpoch,
		Restored:     h.Restored,
		History:      append([]metrics.EpochMetrics(nil), h.Epochs...),
	}
}

// Write encodes the summary as YAML at path.
func (s *Summary) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("report: create summary dir: %w", err)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("report: encode summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("report: write summary: %w", err)
	}
	return nil
}

// ReadSummary decodes a summary written by Write.
func ReadSummary(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("report: read summary: %w", err)
	}
	var s Summary
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("report: decode summary %s: %w", path, err)
	}
	return &s, nil
}
