// Package geometry provides coordinate transforms between cropped capture
// space and absolute screen space.
package geometry

import (
	"errors"
	"fmt"
	"math"
)

// MinRegionSize is the smallest usable capture region edge, in pixels.
// Anything smaller yields captures too coarse for coordinate work.
const MinRegionSize = 100

// ErrUnknownRegionName indicates a named region outside the 3x3 grid.
var ErrUnknownRegionName = errors.New("unknown region name")

// Point is a screen coordinate in pixels, top-left origin.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Distance returns the Euclidean distance to other.
func (p Point) Distance(other Point) float64 {
	dx := float64(p.X - other.X)
	dy := float64(p.Y - other.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

// Delta returns the component-wise difference p - other.
func (p Point) Delta(other Point) Point {
	return Point{X: p.X - other.X, Y: p.Y - other.Y}
}

// Region is a rectangle in absolute screen coordinates.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Contains reports whether p falls inside the region.
func (r Region) Contains(p Point) bool {
	return p.X >= r.X && p.X < r.X+r.Width && p.Y >= r.Y && p.Y < r.Y+r.Height
}

// Clamp forces p into the region's inclusive pixel bounds
// [x, x+w-1] x [y, y+h-1].
func (r Region) Clamp(p Point) Point {
	out := p
	if out.X < r.X {
		out.X = r.X
	}
	if out.X > r.X+r.Width-1 {
		out.X = r.X + r.Width - 1
	}
	if out.Y < r.Y {
		out.Y = r.Y
	}
	if out.Y > r.Y+r.Height-1 {
		out.Y = r.Y + r.Height - 1
	}
	return out
}

// Transform maps between a cropped/zoomed capture's local pixel space and
// absolute screen space. One instance corresponds to one capture.
type Transform struct {
	Region Region
	// Zoom is the capture enlargement factor; >= 1 enlarges.
	Zoom float64
}

// NewTransform builds a transform for a capture of region at zoom.
// A zoom below 1 is treated as 1.
func NewTransform(region Region, zoom float64) Transform {
	if zoom < 1 {
		zoom = 1
	}
	return Transform{Region: region, Zoom: zoom}
}

// LocalToGlobal maps a pixel in the capture to absolute screen space.
func (t Transform) LocalToGlobal(lx, ly int) Point {
	return Point{
		X: t.Region.X + int(math.Round(float64(lx)/t.Zoom)),
		Y: t.Region.Y + int(math.Round(float64(ly)/t.Zoom)),
	}
}

// GlobalToLocal maps an absolute screen coordinate into capture space.
func (t Transform) GlobalToLocal(p Point) (int, int) {
	lx := int(math.Round(float64(p.X-t.Region.X) * t.Zoom))
	ly := int(math.Round(float64(p.Y-t.Region.Y) * t.Zoom))
	return lx, ly
}

// ValidateRegion normalizes a requested capture region: the origin is
// forced into [0, dim-1], the size is capped to the remaining space, and
// each axis keeps at least MinRegionSize, shifting the origin back from
// the screen edge when the remaining space is too small.
func ValidateRegion(r Region, screenWidth, screenHeight int) Region {
	out := r
	out.X, out.Width = validateAxis(out.X, out.Width, screenWidth)
	out.Y, out.Height = validateAxis(out.Y, out.Height, screenHeight)
	return out
}

func validateAxis(origin, size, screen int) (int, int) {
	origin = clampInt(origin, 0, screen-1)
	if size < MinRegionSize {
		size = MinRegionSize
	}
	if origin+size > screen {
		size = screen - origin
	}
	if size < MinRegionSize {
		size = MinRegionSize
		if size > screen {
			size = screen
		}
		origin = screen - size
	}
	return origin, size
}

// ClipTo trims the region to the screen without enforcing a minimum
// size. Clamp bounds stay as tight as the caller asked.
func (r Region) ClipTo(screenWidth, screenHeight int) Region {
	out := r
	out.X = clampInt(out.X, 0, screenWidth-1)
	out.Y = clampInt(out.Y, 0, screenHeight-1)
	if out.Width < 1 {
		out.Width = 1
	}
	if out.Height < 1 {
		out.Height = 1
	}
	if out.X+out.Width > screenWidth {
		out.Width = screenWidth - out.X
	}
	if out.Y+out.Height > screenHeight {
		out.Height = screenHeight - out.Y
	}
	return out
}

// segment3 partitions total into three near-equal runs. The first two
// boundaries come from rounding total/3 and 2*total/3; the final segment
// absorbs the rounding error so the sizes always sum to total.
func segment3(total int) (starts [3]int, sizes [3]int) {
	first := int(math.Round(float64(total) / 3))
	second := int(math.Round(2 * float64(total) / 3))
	starts = [3]int{0, first, second}
	sizes = [3]int{first, second - first, total - second}
	return starts, sizes
}

var rowNames = map[string]int{"top": 0, "middle": 1, "bottom": 2}
var colNames = map[string]int{"left": 0, "center": 1, "right": 2}

// NamedRegion resolves a 3x3 grid name like "top-left" or "middle-center"
// to its screen region.
func NamedRegion(name string, screenWidth, screenHeight int) (Region, error) {
	var row, col int = -1, -1
	for rn, ri := range rowNames {
		for cn, ci := range colNames {
			if name == rn+"-"+cn {
				row, col = ri, ci
			}
		}
	}
	if row < 0 || col < 0 {
		return Region{}, fmt.Errorf("%w: %q", ErrUnknownRegionName, name)
	}

	colStarts, colSizes := segment3(screenWidth)
	rowStarts, rowSizes := segment3(screenHeight)

	return Region{
		X:      colStarts[col],
		Y:      rowStarts[row],
		Width:  colSizes[col],
		Height: rowSizes[row],
	}, nil
}

// BucketKey returns the 200px grid bucket key for a coordinate, used to
// aggregate spatial accuracy statistics.
func BucketKey(p Point) string {
	bx := int(math.Floor(float64(p.X) / 200))
	by := int(math.Floor(float64(p.Y) / 200))
	return fmt.Sprintf("%d,%d", bx, by)
}

// BucketCenter returns the center point of a 200px bucket.
func BucketCenter(key string) (Point, bool) {
	var bx, by int
	if _, err := fmt.Sscanf(key, "%d,%d", &bx, &by); err != nil {
		return Point{}, false
	}
	return Point{X: bx*200 + 100, Y: by*200 + 100}, true
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
