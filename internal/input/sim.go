package input

import (
	"context"
	"sync"

	"github.com/fyrsmithlabs/pointerd/internal/geometry"
)

// Sim is an in-memory virtual desktop implementing Driver. Tests paint
// pixels onto its framebuffer and inspect the click history; dry-run mode
// uses it in place of a real OS binding.
//
// LandingOffset simulates systematic pointer drift: the cursor lands at
// the requested point plus the offset, the way a miscalibrated remote
// desktop would land clicks.
type Sim struct {
	mu sync.Mutex

	screen *Grayscale
	cursor geometry.Point

	// LandingOffset displaces every MoveCursor landing point.
	LandingOffset geometry.Point

	// OnClick, when set, runs after each click with the landing position.
	// Tests use it to mutate the framebuffer and simulate UI response.
	OnClick func(p geometry.Point, button Button)

	// Error injection, one per operation.
	MoveErr     error
	ClickErr    error
	PressErr    error
	ReleaseErr  error
	PositionErr error
	CaptureErr  error

	clicks   []SimClick
	pressed  map[Button]bool
	presses  []Button
	releases []Button
	moves    []geometry.Point
}

// SimClick records one executed click.
type SimClick struct {
	Position geometry.Point
	Button   Button
}

// NewSim creates a simulated desktop of the given dimensions with a
// uniform black framebuffer.
func NewSim(width, height int) *Sim {
	return &Sim{
		screen:  NewGrayscale(width, height),
		pressed: map[Button]bool{},
	}
}

// FillRect paints a rectangle of uniform intensity onto the framebuffer.
func (s *Sim) FillRect(r geometry.Region, v uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for y := r.Y; y < r.Y+r.Height; y++ {
		for x := r.X; x < r.X+r.Width; x++ {
			s.screen.Set(x, y, v)
		}
	}
}

// SetPixel paints one framebuffer pixel.
func (s *Sim) SetPixel(p geometry.Point, v uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.screen.Set(p.X, p.Y, v)
}

// Clicks returns a copy of the click history.
func (s *Sim) Clicks() []SimClick {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SimClick, len(s.clicks))
	copy(out, s.clicks)
	return out
}

// Presses returns the press history in order.
func (s *Sim) Presses() []Button {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Button, len(s.presses))
	copy(out, s.presses)
	return out
}

// Releases returns the release history in order.
func (s *Sim) Releases() []Button {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Button, len(s.releases))
	copy(out, s.releases)
	return out
}

// Moves returns a copy of the cursor movement history.
func (s *Sim) Moves() []geometry.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]geometry.Point, len(s.moves))
	copy(out, s.moves)
	return out
}

func (s *Sim) MoveCursor(_ context.Context, p geometry.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MoveErr != nil {
		return s.MoveErr
	}
	s.cursor = geometry.Point{X: p.X + s.LandingOffset.X, Y: p.Y + s.LandingOffset.Y}
	s.moves = append(s.moves, s.cursor)
	return nil
}

func (s *Sim) Click(_ context.Context, button Button) error {
	s.mu.Lock()
	if s.ClickErr != nil {
		s.mu.Unlock()
		return s.ClickErr
	}
	click := SimClick{Position: s.cursor, Button: button}
	s.clicks = append(s.clicks, click)
	onClick := s.OnClick
	s.mu.Unlock()

	if onClick != nil {
		onClick(click.Position, button)
	}
	return nil
}

func (s *Sim) PressButton(_ context.Context, button Button) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PressErr != nil {
		return s.PressErr
	}
	s.pressed[button] = true
	s.presses = append(s.presses, button)
	return nil
}

func (s *Sim) ReleaseButton(_ context.Context, button Button) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReleaseErr != nil {
		return s.ReleaseErr
	}
	s.pressed[button] = false
	s.releases = append(s.releases, button)
	return nil
}

func (s *Sim) CursorPosition(_ context.Context) (geometry.Point, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PositionErr != nil {
		return geometry.Point{}, s.PositionErr
	}
	return s.cursor, nil
}

func (s *Sim) CaptureGrayscale(_ context.Context, region geometry.Region) (*Grayscale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CaptureErr != nil {
		return nil, s.CaptureErr
	}

	out := NewGrayscale(region.Width, region.Height)
	for y := 0; y < region.Height; y++ {
		for x := 0; x < region.Width; x++ {
			out.Set(x, y, s.screen.At(region.X+x, region.Y+y))
		}
	}
	return out, nil
}
