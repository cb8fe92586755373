package dataset

import (
	"archive/tar"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"pneumonia-classifier/internal/logging"
)

var testLabels = []string{"PNEUMONIA", "NORMAL"}

func pngBytes(t *testing.T, w, h int, shade uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: shade})
		}
	}
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestLoaderLabelsFollowDirectoryOrder(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 3; i++ {
		writeFile(t, filepath.Join(dir, "PNEUMONIA", "p"+strconv.Itoa(i)+".png"), pngBytes(t, 20, 12, 200))
	}
	for i := 0; i < 2; i++ {
		writeFile(t, filepath.Join(dir, "NORMAL", "n"+strconv.Itoa(i)+".png"), pngBytes(t, 9, 30, 20))
	}
	writeFile(t, filepath.Join(dir, "NORMAL", "corrupt.png"), []byte("garbage"))

	var (
		samples []Sample
		stats   LoadStats
	)
	err := logging.WithNoopLogger(func() error {
		var err error
		samples, stats, err = Loader{Labels: testLabels, Size: 8, Workers: 3}.Load(context.Background(), dir)
		return err
	})
	require.NoError(t, err)

	require.Len(t, samples, 5)
	require.Equal(t, 5, stats.Loaded)
	require.Equal(t, 1, stats.Skipped)
	require.Equal(t, []int{3, 2}, stats.PerLabel)
	require.InDelta(t, 1.0/6.0, stats.SkipRate(), 1e-9)

	for i, s := range samples {
		want := 0
		if i >= 3 {
			want = 1
		}
		require.Equal(t, want, s.Label, "sample %d (%s)", i, s.Path)
		require.Equal(t, 8, s.Image.H)
		require.Equal(t, 8, s.Image.W)
		require.Equal(t, 3, s.Image.C)
	}
	require.Equal(t, filepath.Join(dir, "PNEUMONIA", "p0.png"), samples[0].Path)
	require.InDelta(t, 200, samples[0].Image.At(4, 4, 0), 1)
}

func TestLoaderMissingLabelDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "PNEUMONIA", "p.png"), pngBytes(t, 4, 4, 1))

	_, _, err := Loader{Labels: testLabels, Size: 4}.Load(context.Background(), dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "NORMAL")
}

func TestLoaderHonoursCancellation(t *testing.T) {
	dir := t.TempDir()
	for _, label := range testLabels {
		writeFile(t, filepath.Join(dir, label, "x.png"), pngBytes(t, 4, 4, 1))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := Loader{Labels: testLabels, Size: 4}.Load(ctx, dir)
	require.ErrorIs(t, err, context.Canceled)
}

func TestLoadShards(t *testing.T) {
	dir := t.TempDir()
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	addTarEntry(t, tw, "000001.cls", []byte("1"))
	addTarEntry(t, tw, "000001.png", pngBytes(t, 10, 10, 90))
	addTarEntry(t, tw, "000002.png", pngBytes(t, 10, 10, 30))
	addTarEntry(t, tw, "000002.cls", []byte("0"))
	addTarEntry(t, tw, "000003.png", []byte("broken"))
	addTarEntry(t, tw, "000003.cls", []byte("0"))
	require.NoError(t, tw.Close())
	writeFile(t, filepath.Join(dir, "shard-000000.tar"), buf.Bytes())

	var (
		samples []Sample
		stats   LoadStats
	)
	err := logging.WithNoopLogger(func() error {
		var err error
		samples, stats, err = Loader{Labels: testLabels, Size: 6, Workers: 2}.LoadFormat(context.Background(), FormatWebDataset, dir)
		return err
	})
	require.NoError(t, err)
	require.Len(t, samples, 2)
	require.Equal(t, 1, stats.Skipped)
	require.Equal(t, "000001", samples[0].Path)
	require.Equal(t, 1, samples[0].Label)
	require.Equal(t, 0, samples[1].Label)
}

func TestReadShardRejectsOutOfRangeLabel(t *testing.T) {
	dir := t.TempDir()
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	addTarEntry(t, tw, "a.png", pngBytes(t, 2, 2, 1))
	addTarEntry(t, tw, "a.cls", []byte("7"))
	require.NoError(t, tw.Close())
	writeFile(t, filepath.Join(dir, "shard-000000.tar"), buf.Bytes())

	_, _, err := Loader{Labels: testLabels, Size: 2}.LoadShards(context.Background(), dir)
	require.Error(t, err)
}

func TestReadShardIncompleteRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard-000000.tar")
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	addTarEntry(t, tw, "lonely.png", []byte("img"))
	require.NoError(t, tw.Close())
	writeFile(t, path, buf.Bytes())

	err := ReadShard(context.Background(), path, 4, func(Record) error { return nil })
	require.Error(t, err)
	require.Contains(t, err.Error(), "incomplete")
}

func addTarEntry(t *testing.T, tw *tar.Writer, name string, data []byte) {
	t.Helper()
	hdr := &tar.Header{Name: name, Size: int64(len(data)), Mode: 0o644}
	require.NoError(t, tw.WriteHeader(hdr))
	_, err := tw.Write(data)
	require.NoError(t, err)
}
