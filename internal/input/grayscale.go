package input

import (
	"fmt"
	"image"
)

// Grayscale is an 8-bit grayscale pixel rectangle sampled from the screen.
// Pix is row-major, Width*Height bytes.
type Grayscale struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewGrayscale allocates a zeroed grayscale buffer.
func NewGrayscale(width, height int) *Grayscale {
	return &Grayscale{Width: width, Height: height, Pix: make([]uint8, width*height)}
}

// At returns the intensity at (x, y). Out-of-bounds reads return 0.
func (g *Grayscale) At(x, y int) uint8 {
	if x < 0 || x >= g.Width || y < 0 || y >= g.Height {
		return 0
	}
	return g.Pix[y*g.Width+x]
}

// Set writes the intensity at (x, y), ignoring out-of-bounds writes.
func (g *Grayscale) Set(x, y int, v uint8) {
	if x < 0 || x >= g.Width || y < 0 || y >= g.Height {
		return
	}
	g.Pix[y*g.Width+x] = v
}

// MeanAbsDiff returns the mean absolute per-pixel intensity difference
// between two captures. Captures of different dimensions cannot be
// compared.
func (g *Grayscale) MeanAbsDiff(other *Grayscale) (float64, error) {
	if other == nil {
		return 0, fmt.Errorf("cannot diff against nil capture")
	}
	if g.Width != other.Width || g.Height != other.Height {
		return 0, fmt.Errorf("capture size mismatch: %dx%d vs %dx%d", g.Width, g.Height, other.Width, other.Height)
	}
	if len(g.Pix) == 0 {
		return 0, nil
	}

	var sum float64
	for i := range g.Pix {
		d := int(g.Pix[i]) - int(other.Pix[i])
		if d < 0 {
			d = -d
		}
		sum += float64(d)
	}
	return sum / float64(len(g.Pix)), nil
}

// Image converts the capture to an image.Gray for encoding.
func (g *Grayscale) Image() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, g.Width, g.Height))
	copy(img.Pix, g.Pix)
	return img
}
