package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"pneumonia-classifier/internal/imaging"
)

// ErrUnknownLayer is returned when a layer name does not exist in the backbone.
var ErrUnknownLayer = errors.New("model: unknown layer")

const (
	convKernel = 3
	convStride = 2
	convPad    = 1
)

// ConvLayer is a 3×3, stride-2, same-padded convolution followed by ReLU.
// Weights are laid out [out][ky][kx][in].
type ConvLayer struct {
	Name    string    `json:"name"`
	In      int       `json:"in"`
	Out     int       `json:"out"`
	Weights []float64 `json:"weights"`
	Bias    []float64 `json:"bias"`
}

func newConvLayer(name string, in, out int, rng *rand.Rand) *ConvLayer {
	l := &ConvLayer{
		Name:    name,
		In:      in,
		Out:     out,
		Weights: make([]float64, out*convKernel*convKernel*in),
		Bias:    make([]float64, out),
	}
	// He-normal initialisation
	std := math.Sqrt(2.0 / float64(convKernel*convKernel*in))
	for i := range l.Weights {
		l.Weights[i] = rng.NormFloat64() * std
	}
	return l
}

// OutputSize is the spatial size produced from an input of size n.
func OutputSize(n int) int {
	return (n+2*convPad-convKernel)/convStride + 1
}

func (l *ConvLayer) weight(o, ky, kx, i int) float64 {
	return l.Weights[((o*convKernel+ky)*convKernel+kx)*l.In+i]
}

// Forward convolves x and applies ReLU.
func (l *ConvLayer) Forward(x imaging.Tensor) imaging.Tensor {
	oh, ow := OutputSize(x.H), OutputSize(x.W)
	out := imaging.NewTensor(oh, ow, l.Out)
	for oy := 0; oy < oh; oy++ {
		for ox := 0; ox < ow; ox++ {
			base := out.Index(oy, ox, 0)
			for o := 0; o < l.Out; o++ {
				sum := l.Bias[o]
				for ky := 0; ky < convKernel; ky++ {
					iy := oy*convStride + ky - convPad
					if iy < 0 || iy >= x.H {
						continue
					}
					for kx := 0; kx < convKernel; kx++ {
						ix := ox*convStride + kx - convPad
						if ix < 0 || ix >= x.W {
							continue
						}
						w := l.Weights[((o*convKernel+ky)*convKernel+kx)*l.In:]
						in := x.Data[x.Index(iy, ix, 0):]
						for i := 0; i < l.In; i++ {
							sum += w[i] * in[i]
						}
					}
				}
				if sum < 0 {
					sum = 0
				}
				out.Data[base+o] = sum
			}
		}
	}
	return out
}

// InputGradient maps dL/d(out) to dL/d(x). out must be the result of Forward(x).
// Weights are not updated.
func (l *ConvLayer) InputGradient(x, out, gradOut imaging.Tensor) imaging.Tensor {
	grad := imaging.NewTensor(x.H, x.W, x.C)
	for oy := 0; oy < out.H; oy++ {
		for ox := 0; ox < out.W; ox++ {
			for o := 0; o < l.Out; o++ {
				idx := out.Index(oy, ox, o)
				g := gradOut.Data[idx]
				if g == 0 || out.Data[idx] <= 0 {
					continue
				}
				for ky := 0; ky < convKernel; ky++ {
					iy := oy*convStride + ky - convPad
					if iy < 0 || iy >= x.H {
						continue
					}
					for kx := 0; kx < convKernel; kx++ {
						ix := ox*convStride + kx - convPad
						if ix < 0 || ix >= x.W {
							continue
						}
						base := grad.Index(iy, ix, 0)
						for i := 0; i < l.In; i++ {
							grad.Data[base+i] += l.weight(o, ky, kx, i) * g
						}
					}
				}
			}
		}
	}
	return grad
}

// Params is the number of weights and biases in the layer.
func (l *ConvLayer) Params() int {
	return len(l.Weights) + len(l.Bias)
}

// Backbone is the frozen convolutional feature extractor. No code path updates
// its weights after construction or loading.
type Backbone struct {
	Layers []*ConvLayer
}

// NewBackbone builds conv1..convN with the given output channels for 3-channel input.
func NewBackbone(channels []int, seed int64) (*Backbone, error) {
	if len(channels) == 0 {
		return nil, errors.New("model: backbone needs at least one layer")
	}
	rng := rand.New(rand.NewSource(seed))
	b := &Backbone{}
	in := 3
	for i, out := range channels {
		if out <= 0 {
			return nil, fmt.Errorf("model: layer %d has %d channels", i+1, out)
		}
		b.Layers = append(b.Layers, newConvLayer(fmt.Sprintf("conv%d", i+1), in, out, rng))
		in = out
	}
	return b, nil
}

// OutputChannels is the depth of the final feature map.
func (b *Backbone) OutputChannels() int {
	return b.Layers[len(b.Layers)-1].Out
}

// LastLayer names the final convolution, the default Grad-CAM target.
func (b *Backbone) LastLayer() string {
	return b.Layers[len(b.Layers)-1].Name
}

// LayerIndex resolves a layer name; an empty name means the last layer.
func (b *Backbone) LayerIndex(name string) (int, error) {
	if name == "" {
		return len(b.Layers) - 1, nil
	}
	for i, l := range b.Layers {
		if l.Name == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w %q", ErrUnknownLayer, name)
}

// Forward returns the final feature map.
func (b *Backbone) Forward(x imaging.Tensor) imaging.Tensor {
	for _, l := range b.Layers {
		x = l.Forward(x)
	}
	return x
}

// Activations returns the output of every layer, in order.
func (b *Backbone) Activations(x imaging.Tensor) []imaging.Tensor {
	acts := make([]imaging.Tensor, len(b.Layers))
	for i, l := range b.Layers {
		x = l.Forward(x)
		acts[i] = x
	}
	return acts
}

// GradientAt backpropagates gradFinal (dL/d final output) down to the output of
// layer idx. acts must come from Activations.
func (b *Backbone) GradientAt(acts []imaging.Tensor, idx int, gradFinal imaging.Tensor) imaging.Tensor {
	g := gradFinal
	for l := len(b.Layers) - 1; l > idx; l-- {
		g = b.Layers[l].InputGradient(acts[l-1], acts[l], g)
	}
	return g
}

// Params is the total number of frozen parameters.
func (b *Backbone) Params() int {
	n := 0
	for _, l := range b.Layers {
		n += l.Params()
	}
	return n
}

// GlobalAveragePool reduces an H×W×C map to its C channel means.
func GlobalAveragePool(x imaging.Tensor) []float64 {
	out := make([]float64, x.C)
	for i, v := range x.Data {
		out[i%x.C] += v
	}
	n := float64(x.H * x.W)
	for i := range out {
		out[i] /= n
	}
	return out
}
