// Package input defines the actuation surface pointerd drives: cursor
// movement, button state, and grayscale screen capture.
//
// The OS-level binding lives outside this repository; pointerd consumes
// any implementation of Driver. The package ships Serialize, which makes
// a driver safe for concurrent callers, and Sim, an in-memory virtual
// desktop used by tests and dry-run mode.
package input

import (
	"context"
	"sync"

	"github.com/fyrsmithlabs/pointerd/internal/geometry"
)

// Button identifies a pointer button.
type Button string

const (
	ButtonLeft   Button = "left"
	ButtonRight  Button = "right"
	ButtonMiddle Button = "middle"
)

// Driver is the low-level actuation surface. All implementations target a
// single shared virtual pointer, so calls must not be issued concurrently;
// wrap any driver in Serialize before sharing it.
type Driver interface {
	// MoveCursor moves the pointer to an absolute screen coordinate.
	MoveCursor(ctx context.Context, p geometry.Point) error

	// Click presses and releases a button at the current position.
	Click(ctx context.Context, button Button) error

	// PressButton holds a button down.
	PressButton(ctx context.Context, button Button) error

	// ReleaseButton releases a held button.
	ReleaseButton(ctx context.Context, button Button) error

	// CursorPosition reads the pointer's true position from the OS.
	CursorPosition(ctx context.Context) (geometry.Point, error)

	// CaptureGrayscale samples a screen rectangle as 8-bit grayscale.
	CaptureGrayscale(ctx context.Context, region geometry.Region) (*Grayscale, error)
}

// serialDriver serializes all actuation through one mutex. The virtual
// pointer and keyboard are process-wide shared state; interleaved
// move/click sequences from concurrent sessions corrupt each other.
type serialDriver struct {
	mu    sync.Mutex
	inner Driver
}

// Serialize wraps a driver so concurrent callers take turns. Wrapping an
// already-serialized driver returns it unchanged.
func Serialize(d Driver) Driver {
	if _, ok := d.(*serialDriver); ok {
		return d
	}
	return &serialDriver{inner: d}
}

func (s *serialDriver) MoveCursor(ctx context.Context, p geometry.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.MoveCursor(ctx, p)
}

func (s *serialDriver) Click(ctx context.Context, button Button) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Click(ctx, button)
}

func (s *serialDriver) PressButton(ctx context.Context, button Button) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.PressButton(ctx, button)
}

func (s *serialDriver) ReleaseButton(ctx context.Context, button Button) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.ReleaseButton(ctx, button)
}

func (s *serialDriver) CursorPosition(ctx context.Context) (geometry.Point, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.CursorPosition(ctx)
}

func (s *serialDriver) CaptureGrayscale(ctx context.Context, region geometry.Region) (*Grayscale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.CaptureGrayscale(ctx, region)
}
