package explain

import (
	"fmt"
	"image"
	"image/color"

	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"

	"pneumonia-classifier/internal/imaging"
)

// Colormap names accepted by NewColormap.
const (
	ColormapJet       = "jet"
	ColormapKindlmann = "kindlmann"
	ColormapRainbow   = "rainbow"
)

const colormapSize = 256

// Colormap maps a value in [0,1] to a colour.
type Colormap interface {
	Color(v float64) color.RGBA
}

// NewColormap returns the named colormap.
func NewColormap(name string) (Colormap, error) {
	switch name {
	case "", ColormapJet:
		return jet(colormapSize)
	case ColormapRainbow:
		return lookup(palette.Rainbow(colormapSize, palette.Blue, palette.Red, 1, 1, 1).Colors()), nil
	case ColormapKindlmann:
		cm := moreland.Kindlmann()
		cm.SetMax(1)
		cm.SetMin(0)
		return continuous{cm: cm}, nil
	default:
		return nil, fmt.Errorf("explain: unknown colormap %q", name)
	}
}

// lookup quantises values into a fixed palette.
type lookup []color.Color

func (l lookup) Color(v float64) color.RGBA {
	i := int(clamp01(v)*float64(len(l)-1) + 0.5)
	return color.RGBAModel.Convert(l[i]).(color.RGBA)
}

// jet knots: dark blue through cyan, yellow and red to dark red.
var jetKnots = [3]struct{ at, level []float64 }{
	{at: []float64{0, 0.35, 0.66, 0.89, 1}, level: []float64{0, 0, 1, 1, 0.5}},
	{at: []float64{0, 0.125, 0.375, 0.64, 0.91, 1}, level: []float64{0, 0, 1, 1, 0, 0}},
	{at: []float64{0, 0.11, 0.34, 0.65, 1}, level: []float64{0.5, 1, 1, 0, 0}},
}

func jet(n int) (lookup, error) {
	var channels [3]interp.PiecewiseLinear
	for i, k := range jetKnots {
		if err := channels[i].Fit(k.at, k.level); err != nil {
			return nil, fmt.Errorf("explain: jet colormap: %w", err)
		}
	}
	l := make(lookup, n)
	for i := range l {
		v := float64(i) / float64(n-1)
		var rgb [3]uint8
		for ch := range channels {
			rgb[ch] = uint8(clamp01(channels[ch].Predict(v))*255 + 0.5)
		}
		l[i] = color.RGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: 0xff}
	}
	return l, nil
}

type continuous struct {
	cm palette.ColorMap
}

func (c continuous) Color(v float64) color.RGBA {
	col, err := c.cm.At(clamp01(v))
	if err != nil {
		return color.RGBA{A: 0xff}
	}
	return color.RGBAModel.Convert(col).(color.RGBA)
}

// Colorize renders the heatmap at its own resolution.
func Colorize(h Heatmap, cm Colormap) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, h.W, h.H))
	for y := 0; y < h.H; y++ {
		for x := 0; x < h.W; x++ {
			img.SetRGBA(x, y, cm.Color(h.At(y, x)))
		}
	}
	return img
}

// Overlay upsamples the coloured heatmap bilinearly to src's size and blends
// it over src: out = alpha·heat + (1-alpha)·src.
func Overlay(src image.Image, h Heatmap, cm Colormap, alpha float64) (*image.RGBA, error) {
	if alpha < 0 || alpha > 1 {
		return nil, fmt.Errorf("explain: alpha must be in [0,1] (got %g)", alpha)
	}
	b := src.Bounds()
	heat := imaging.Resize(Colorize(h, cm), b.Dx(), b.Dy())
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			s := color.RGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
			c := heat.RGBAAt(x, y)
			out.SetRGBA(x, y, color.RGBA{
				R: blend(c.R, s.R, alpha),
				G: blend(c.G, s.G, alpha),
				B: blend(c.B, s.B, alpha),
				A: 0xff,
			})
		}
	}
	return out, nil
}

func blend(top, bottom uint8, alpha float64) uint8 {
	v := alpha*float64(top) + (1-alpha)*float64(bottom)
	return uint8(v + 0.5)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
