package dataset

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"pneumonia-classifier/internal/imaging"
	"pneumonia-classifier/internal/logging"
)

// Source formats understood by the Loader.
const (
	FormatFolders    = "folders"
	FormatWebDataset = "webdataset"
)

// Loader turns a labeled directory into resized samples.
type Loader struct {
	// Labels fixes the class order; a label's index is its position here.
	Labels  []string
	Size    int
	Workers int
}

// LoadStats summarises one Load call.
type LoadStats struct {
	Loaded  int
	Skipped int
	// PerLabel counts loaded samples by label index.
	PerLabel []int
}

// SkipRate is the fraction of discovered images that failed to decode.
func (s LoadStats) SkipRate() float64 {
	total := s.Loaded + s.Skipped
	if total == 0 {
		return 0
	}
	return float64(s.Skipped) / float64(total)
}

// Add merges other into s.
func (s *LoadStats) Add(other LoadStats) {
	s.Loaded += other.Loaded
	s.Skipped += other.Skipped
	if len(s.PerLabel) < len(other.PerLabel) {
		grown := make([]int, len(other.PerLabel))
		copy(grown, s.PerLabel)
		s.PerLabel = grown
	}
	for i, n := range other.PerLabel {
		s.PerLabel[i] += n
	}
}

type job struct {
	path  string
	label int
}

// Load reads dir/<label>/* for every label. Images that fail to decode are
// logged and skipped; a missing label directory is an error. Output order is
// label order, then file name order.
func (l Loader) Load(ctx context.Context, dir string) ([]Sample, LoadStats, error) {
	stats := LoadStats{PerLabel: make([]int, len(l.Labels))}
	if l.Size <= 0 {
		return nil, stats, fmt.Errorf("loader: image size must be > 0 (got %d)", l.Size)
	}

	var jobs []job
	for idx, label := range l.Labels {
		classDir := filepath.Join(dir, label)
		info, err := os.Stat(classDir)
		if err != nil {
			return nil, stats, fmt.Errorf("label %s: %w", label, err)
		}
		if !info.IsDir() {
			return nil, stats, fmt.Errorf("label %s: %s is not a directory", label, classDir)
		}
		paths, err := DiscoverImages(classDir)
		if err != nil {
			return nil, stats, err
		}
		for _, p := range paths {
			jobs = append(jobs, job{path: p, label: idx})
		}
	}

	results := make([]*Sample, len(jobs))
	err := l.each(ctx, len(jobs), func(i int) {
		j := jobs[i]
		tensor, err := imaging.LoadTensor(j.path, l.Size)
		if err != nil {
			logging.Warn("skipping unreadable image", logging.Dataset, "path", j.path, "error", err)
			return
		}
		results[i] = &Sample{Path: j.path, Image: tensor, Label: j.label}
	})
	if err != nil {
		return nil, stats, err
	}

	samples := collect(results, &stats)
	logging.Info("loaded directory", logging.Dataset,
		"dir", dir, "loaded", stats.Loaded, "skipped", stats.Skipped, "per_label", stats.PerLabel)
	return samples, stats, nil
}

// LoadShards reads every WebDataset shard beneath root. Labels come from the
// .cls members and must index into l.Labels.
func (l Loader) LoadShards(ctx context.Context, root string) ([]Sample, LoadStats, error) {
	stats := LoadStats{PerLabel: make([]int, len(l.Labels))}
	if l.Size <= 0 {
		return nil, stats, fmt.Errorf("loader: image size must be > 0 (got %d)", l.Size)
	}
	shards, err := DiscoverShards(root)
	if err != nil {
		return nil, stats, err
	}
	if len(shards) == 0 {
		return nil, stats, fmt.Errorf("no shards discovered under %s", root)
	}

	var records []Record
	for _, shard := range shards {
		err := ReadShard(ctx, shard, 0, func(r Record) error {
			if r.Label < 0 || r.Label >= len(l.Labels) {
				return fmt.Errorf("%s: record %s has label %d outside [0,%d)", filepath.Base(shard), r.Key, r.Label, len(l.Labels))
			}
			records = append(records, r)
			return nil
		})
		if err != nil {
			return nil, stats, err
		}
	}

	results := make([]*Sample, len(records))
	err = l.each(ctx, len(records), func(i int) {
		r := records[i]
		img, _, err := image.Decode(bytes.NewReader(r.Payload))
		if err != nil {
			logging.Warn("skipping unreadable shard record", logging.Dataset, "key", r.Key, "error", err)
			return
		}
		tensor := imaging.FromImage(imaging.Resize(img, l.Size, l.Size))
		results[i] = &Sample{Path: r.Key, Image: tensor, Label: r.Label}
	})
	if err != nil {
		return nil, stats, err
	}

	samples := collect(results, &stats)
	logging.Info("loaded shards", logging.Dataset,
		"root", root, "shards", len(shards), "loaded", stats.Loaded, "skipped", stats.Skipped)
	return samples, stats, nil
}

// LoadFormat dispatches on the source format.
func (l Loader) LoadFormat(ctx context.Context, format, dir string) ([]Sample, LoadStats, error) {
	switch format {
	case "", FormatFolders:
		return l.Load(ctx, dir)
	case FormatWebDataset:
		return l.LoadShards(ctx, dir)
	default:
		return nil, LoadStats{}, fmt.Errorf("unknown data format %q", format)
	}
}

func (l Loader) each(ctx context.Context, n int, fn func(i int)) error {
	workers := l.Workers
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		if err := gctx.Err(); err != nil {
			break
		}
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fn(i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func collect(results []*Sample, stats *LoadStats) []Sample {
	samples := make([]Sample, 0, len(results))
	for _, s := range results {
		if s == nil {
			stats.Skipped++
			continue
		}
		samples = append(samples, *s)
		stats.Loaded++
		stats.PerLabel[s.Label]++
	}
	return samples
}
