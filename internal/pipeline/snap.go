package pipeline

import (
	"context"
	"math"

	"github.com/fyrsmithlabs/pointerd/internal/geometry"
	"github.com/fyrsmithlabs/pointerd/internal/input"
)

// snapRefine nudges a target onto a nearby high-contrast feature. It
// captures a grayscale ROI of radius Snap.Radius around p, scores every
// interior pixel by its 8-neighbor contrast minus a distance penalty, and
// moves the point only when the best candidate beats the original score
// by Snap.MinImprovement without shifting more than Snap.MaxShift per
// axis. A conservative snap to a nearby edge, never a long-range retarget.
func (s *Service) snapRefine(ctx context.Context, p geometry.Point) (geometry.Point, error) {
	radius := s.config.Snap.Radius
	if radius < 1 {
		radius = 1
	}
	if radius > 24 {
		radius = 24
	}

	roi, err := s.driver.CaptureGrayscale(ctx, geometry.Region{
		X:      p.X - radius,
		Y:      p.Y - radius,
		Width:  2*radius + 1,
		Height: 2*radius + 1,
	})
	if err != nil {
		return p, err
	}

	center := radius // the original point, in ROI coordinates
	originalScore := s.scorePixel(roi, center, center, center, center)

	bestX, bestY := center, center
	bestScore := originalScore
	for y := 1; y < roi.Height-1; y++ {
		for x := 1; x < roi.Width-1; x++ {
			score := s.scorePixel(roi, x, y, center, center)
			if score > bestScore {
				bestScore = score
				bestX, bestY = x, y
			}
		}
	}

	dx, dy := bestX-center, bestY-center
	if bestScore-originalScore < s.config.Snap.MinImprovement {
		return p, nil
	}
	if abs(dx) > s.config.Snap.MaxShift || abs(dy) > s.config.Snap.MaxShift {
		return p, nil
	}
	return geometry.Point{X: p.X + dx, Y: p.Y + dy}, nil
}

// scorePixel is the sum of 8-neighbor absolute intensity differences,
// discounted by the candidate's distance from the original point.
func (s *Service) scorePixel(roi *input.Grayscale, x, y, origX, origY int) float64 {
	center := int(roi.At(x, y))
	var contrast float64
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			d := center - int(roi.At(x+dx, y+dy))
			if d < 0 {
				d = -d
			}
			contrast += float64(d)
		}
	}

	ddx, ddy := float64(x-origX), float64(y-origY)
	distance := math.Sqrt(ddx*ddx + ddy*ddy)
	return contrast - s.config.Snap.DistancePenalty*distance
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
