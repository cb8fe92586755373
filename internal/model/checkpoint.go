package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	checkpointVersion = "1"
	checkpointKind    = "pneumonia-classifier"
)

// Checkpoint is the on-disk form of a Classifier.
type Checkpoint struct {
	Labels    []string        `json:"labels"`
	ImageSize int             `json:"image_size"`
	Threshold float64         `json:"threshold"`
	Input     Standardization `json:"input"`
	Head      HeadConfig      `json:"head"`
	Backbone  []ConvLayer     `json:"backbone"`
	Weights   []WeightTensor  `json:"weights"`
	Metadata  Metadata        `json:"metadata"`
}

// WeightTensor is one named head parameter.
type WeightTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float64 `json:"data"`
	Trainable bool      `json:"trainable"`
}

type Metadata struct {
	Version   string    `json:"version"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// BackboneFile holds pretrained backbone weights without a head.
type BackboneFile struct {
	Layers   []ConvLayer `json:"layers"`
	Metadata Metadata    `json:"metadata"`
}

// Checkpoint captures the full classifier state.
func (c *Classifier) Checkpoint() *Checkpoint {
	ckpt := &Checkpoint{
		Labels:    append([]string(nil), c.Labels...),
		ImageSize: c.ImageSize,
		Threshold: c.Threshold,
		Input:     c.Input,
		Head:      c.Head.Config(),
		Metadata:  newMetadata(),
	}
	for _, l := range c.Backbone.Layers {
		ckpt.Backbone = append(ckpt.Backbone, *l)
	}
	for _, p := range c.Head.Params() {
		r, cols := p.Value.Dims()
		ckpt.Weights = append(ckpt.Weights, WeightTensor{
			Name:      p.Name,
			Shape:     []int{r, cols},
			Data:      append([]float64(nil), p.Value.RawMatrix().Data...),
			Trainable: p.Trainable,
		})
	}
	return ckpt
}

// Save writes the classifier as JSON, creating parent directories.
func (c *Classifier) Save(path string) error {
	return writeJSON(path, c.Checkpoint())
}

// Load reads a classifier written by Save. The result is ready for inference;
// training it further uses a learning rate of lr and a fresh optimizer.
func Load(path string, lr float64) (*Classifier, error) {
	var ckpt Checkpoint
	if err := readJSON(path, &ckpt); err != nil {
		return nil, err
	}
	if ckpt.Metadata.Kind != checkpointKind {
		return nil, fmt.Errorf("model: %s is not a classifier checkpoint (kind %q)", path, ckpt.Metadata.Kind)
	}
	backbone, err := backboneFrom(ckpt.Backbone)
	if err != nil {
		return nil, fmt.Errorf("model: %s: %w", path, err)
	}
	if lr <= 0 {
		lr = 1e-4
	}
	c, err := New(Config{
		Labels:        ckpt.Labels,
		ImageSize:     ckpt.ImageSize,
		Backbone:      backbone,
		Hidden:        ckpt.Head.Hidden,
		InputDropout:  ckpt.Head.InputDropout,
		OutputDropout: ckpt.Head.OutputDropout,
		LearningRate:  lr,
	})
	if err != nil {
		return nil, fmt.Errorf("model: %s: %w", path, err)
	}
	snap := make(Snapshot, len(ckpt.Weights))
	for _, w := range ckpt.Weights {
		snap[w.Name] = w.Data
	}
	if err := c.Restore(snap); err != nil {
		return nil, fmt.Errorf("model: %s: %w", path, err)
	}
	c.Threshold = ckpt.Threshold
	c.Input = ckpt.Input
	return c, nil
}

// SaveBackbone writes only the backbone weights.
func SaveBackbone(path string, b *Backbone) error {
	file := BackboneFile{Metadata: newMetadata()}
	file.Metadata.Kind = checkpointKind + "/backbone"
	for _, l := range b.Layers {
		file.Layers = append(file.Layers, *l)
	}
	return writeJSON(path, file)
}

// LoadBackbone reads weights written by SaveBackbone.
func LoadBackbone(path string) (*Backbone, error) {
	var file BackboneFile
	if err := readJSON(path, &file); err != nil {
		return nil, err
	}
	b, err := backboneFrom(file.Layers)
	if err != nil {
		return nil, fmt.Errorf("model: %s: %w", path, err)
	}
	return b, nil
}

func backboneFrom(layers []ConvLayer) (*Backbone, error) {
	if len(layers) == 0 {
		return nil, errors.New("backbone has no layers")
	}
	b := &Backbone{}
	in := 3
	for i := range layers {
		l := layers[i]
		if l.In != in {
			return nil, fmt.Errorf("layer %s expects %d input channels, previous layer gives %d", l.Name, l.In, in)
		}
		if len(l.Weights) != l.Out*convKernel*convKernel*l.In || len(l.Bias) != l.Out {
			return nil, fmt.Errorf("layer %s has %d weights and %d biases for %d→%d channels", l.Name, len(l.Weights), len(l.Bias), l.In, l.Out)
		}
		b.Layers = append(b.Layers, &l)
		in = l.Out
	}
	return b, nil
}

func newMetadata() Metadata {
	return Metadata{Version: checkpointVersion, Kind: checkpointKind, CreatedAt: time.Now().UTC()}
}

func writeJSON(path string, v any) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	if err := json.NewEncoder(file).Encode(v); err != nil {
		file.Close()
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return file.Close()
}

func readJSON(path string, v any) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open checkpoint: %w", err)
	}
	defer file.Close()
	if err := json.NewDecoder(file).Decode(v); err != nil {
		return fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	return nil
}
