package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupJSONIncludesSubsystem(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	buf := &bytes.Buffer{}
	require.NoError(t, Setup(buf, "debug", "json"))
	Info("loaded", Dataset, "count", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "loaded", rec["msg"])
	require.Equal(t, "dataset", rec["subsystem"])
	require.EqualValues(t, 3, rec["count"])
}

func TestSetupRejectsUnknownValues(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	require.Error(t, Setup(&bytes.Buffer{}, "loud", "text"))
	require.Error(t, Setup(&bytes.Buffer{}, "info", "xml"))
}

func TestWithNoopLoggerRestoresDefault(t *testing.T) {
	prev := slog.Default()
	err := WithNoopLogger(func() error {
		require.NotSame(t, prev, slog.Default())
		return nil
	})
	require.NoError(t, err)
	require.Same(t, prev, slog.Default())
}
