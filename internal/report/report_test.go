package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"pneumonia-classifier/internal/metrics"
)

func history() *metrics.History {
	h := &metrics.History{BestEpoch: 2, EarlyStopped: true, Restored: true}
	h.Append(metrics.EpochMetrics{Epoch: 1, Loss: 0.7, Accuracy: 0.5, ValLoss: 0.69, ValAccuracy: 0.55, Duration: time.Second})
	h.Append(metrics.EpochMetrics{Epoch: 2, Loss: 0.5, Accuracy: 0.7, ValLoss: 0.6, ValAccuracy: 0.65, Duration: time.Second})
	h.Append(metrics.EpochMetrics{Epoch: 3, Loss: 0.4, Accuracy: 0.8, ValLoss: 0.62, ValAccuracy: 0.6, Duration: time.Second})
	return h
}

func requireNonEmptyFile(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Positive(t, info.Size())
}

func TestHistoryPlots(t *testing.T) {
	dir := t.TempDir()
	paths, err := HistoryPlots(history(), dir)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	require.Equal(t, Path(dir, LossCurves), paths[LossCurves])
	for _, p := range paths {
		requireNonEmptyFile(t, p)
	}

	_, err = HistoryPlots(&metrics.History{}, dir)
	require.Error(t, err)
}

func TestEvaluationPlots(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "not", "yet", "created")
	labels := []int{0, 0, 1, 1, 1, 0}
	scores := []float64{0.1, 0.4, 0.35, 0.8, 0.9, 0.2}

	cm, err := metrics.NewConfusionMatrix([]string{"PNEUMONIA", "NORMAL"}, labels, metrics.Binarize(scores, 0.35))
	require.NoError(t, err)
	require.NoError(t, ConfusionPlot(cm, Path(dir, ConfusionMatrix)))
	requireNonEmptyFile(t, Path(dir, ConfusionMatrix))

	roc, err := metrics.ROC(labels, scores)
	require.NoError(t, err)
	require.NoError(t, ROCPlot(roc, metrics.AUC(roc.FPR, roc.TPR), Path(dir, ROCCurve)))
	requireNonEmptyFile(t, Path(dir, ROCCurve))

	pr, err := metrics.PrecisionRecallCurve(labels, scores)
	require.NoError(t, err)
	require.NoError(t, PRPlot(pr, 0.35, Path(dir, PrecisionRecall)))
	requireNonEmptyFile(t, Path(dir, PrecisionRecall))
}

func TestConfusionPlotUniformCounts(t *testing.T) {
	cm, err := metrics.NewConfusionMatrix([]string{"a", "b"}, []int{0, 1}, []int{1, 0})
	require.NoError(t, err)
	cm.Counts = [][]int{{1, 1}, {1, 1}}
	path := filepath.Join(t.TempDir(), "cm.png")
	require.NoError(t, ConfusionPlot(cm, path))
	requireNonEmptyFile(t, path)
}

func TestSummaryRoundTrip(t *testing.T) {
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewSummary(started, []string{"PNEUMONIA", "NORMAL"})
	_, err := uuid.Parse(s.RunID)
	require.NoError(t, err)

	s.Dataset = DatasetSummary{SplitMode: "pooled", Train: 10, Val: 3, Test: 4, Skipped: 1, ClassCounts: map[string]int{"NORMAL": 4, "PNEUMONIA": 6}}
	s.SetHistory(history())
	s.Evaluation = EvaluationSummary{Threshold: 0.5, ThresholdFallback: true, ConfusionMatrix: [][]int{{2, 0}, {1, 1}}}
	s.Artifacts["model"] = "runs/model.json"

	path := filepath.Join(t.TempDir(), "run", SummaryFile)
	require.NoError(t, s.Write(path))

	got, err := ReadSummary(path)
	require.NoError(t, err)
	require.Equal(t, s.RunID, got.RunID)
	require.True(t, started.Equal(got.StartedAt))
	require.Equal(t, 3, got.Training.EpochsRun)
	require.True(t, got.Training.EarlyStopped)
	require.Equal(t, 2, got.Training.BestEpoch)
	require.Equal(t, time.Second, got.Training.History[0].Duration)
	require.True(t, got.Evaluation.ThresholdFallback)
	require.Equal(t, [][]int{{2, 0}, {1, 1}}, got.Evaluation.ConfusionMatrix)
	require.Equal(t, "runs/model.json", got.Artifacts["model"])
}
