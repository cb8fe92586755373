package imaging

import (
	"fmt"
	"image"
	"image/color"
	"math"
)

// Tensor is a dense height×width×channels array stored row-major, channels last.
type Tensor struct {
	H, W, C int
	Data    []float64
}

// NewTensor allocates a zeroed tensor.
func NewTensor(h, w, c int) Tensor {
	return Tensor{H: h, W: w, C: c, Data: make([]float64, h*w*c)}
}

// Index returns the flat offset of (y, x, ch).
func (t Tensor) Index(y, x, ch int) int {
	return (y*t.W+x)*t.C + ch
}

func (t Tensor) At(y, x, ch int) float64 {
	return t.Data[t.Index(y, x, ch)]
}

func (t Tensor) Set(y, x, ch int, v float64) {
	t.Data[t.Index(y, x, ch)] = v
}

// Shape reports the dimensions as (H, W, C).
func (t Tensor) Shape() (int, int, int) {
	return t.H, t.W, t.C
}

func (t Tensor) String() string {
	return fmt.Sprintf("Tensor(%d×%d×%d)", t.H, t.W, t.C)
}

// Clone returns a deep copy.
func (t Tensor) Clone() Tensor {
	out := Tensor{H: t.H, W: t.W, C: t.C, Data: make([]float64, len(t.Data))}
	copy(out.Data, t.Data)
	return out
}

// Scale multiplies every element by f in place.
func (t Tensor) Scale(f float64) {
	for i := range t.Data {
		t.Data[i] *= f
	}
}

// FromImage converts img to a 3-channel RGB tensor with raw 0..255 intensities.
func FromImage(img image.Image) Tensor {
	b := img.Bounds()
	t := NewTensor(b.Dy(), b.Dx(), 3)
	for y := 0; y < t.H; y++ {
		for x := 0; x < t.W; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := t.Index(y, x, 0)
			t.Data[i] = float64(r >> 8)
			t.Data[i+1] = float64(g >> 8)
			t.Data[i+2] = float64(bl >> 8)
		}
	}
	return t
}

// ToImage renders a 3-channel tensor whose values are in [0, scale] as RGBA.
func (t Tensor) ToImage(scale float64) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, t.W, t.H))
	if scale <= 0 {
		scale = 1
	}
	for y := 0; y < t.H; y++ {
		for x := 0; x < t.W; x++ {
			var px [3]uint8
			for ch := 0; ch < 3 && ch < t.C; ch++ {
				px[ch] = clampByte(t.At(y, x, ch) / scale * 255)
			}
			if t.C == 1 {
				px[1], px[2] = px[0], px[0]
			}
			img.SetRGBA(x, y, color.RGBA{R: px[0], G: px[1], B: px[2], A: 255})
		}
	}
	return img
}

func clampByte(v float64) uint8 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(math.Round(v))
}
