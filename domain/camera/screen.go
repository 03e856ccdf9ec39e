package camera

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/vova616/screenshot"
)

// ScreenSource captures the desktop as a camera substitute for development
// and bench runs without line hardware. A zero Rect captures the full
// primary screen. Frames are RGBA.
type ScreenSource struct {
	id       string
	rect     image.Rectangle
	interval time.Duration

	mu        sync.Mutex
	connected bool
	streaming bool
	sequence  uint64
}

// NewScreenSource returns a desktop source. rect selects a capture
// sub-rectangle; pass the zero rectangle for the whole screen.
func NewScreenSource(id string, rect image.Rectangle) *ScreenSource {
	return &ScreenSource{id: id, rect: rect, interval: 33 * time.Millisecond}
}

func (s *ScreenSource) ID() string { return s.id }

// Connect probes the capture backend so a broken display setup fails here
// rather than mid-stream.
func (s *ScreenSource) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := screenshot.ScreenRect(); err != nil {
		return fmt.Errorf("probe screen: %w", err)
	}
	s.connected = true
	return nil
}

func (s *ScreenSource) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.streaming = false
	return nil
}

func (s *ScreenSource) StartAcquisition() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	s.streaming = true
	return nil
}

func (s *ScreenSource) StopAcquisition() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaming = false
	return nil
}

func (s *ScreenSource) PullFrame(timeout time.Duration) (Frame, error) {
	s.mu.Lock()
	if !s.streaming {
		s.mu.Unlock()
		return Frame{}, ErrNotStreaming
	}
	rect := s.rect
	interval := s.interval
	s.mu.Unlock()

	if interval > timeout {
		time.Sleep(timeout)
		return Frame{}, ErrFrameTimeout
	}
	time.Sleep(interval)

	var img *image.RGBA
	var err error
	if rect.Empty() {
		img, err = screenshot.CaptureScreen()
	} else {
		img, err = screenshot.CaptureRect(rect)
	}
	if err != nil {
		return Frame{}, fmt.Errorf("capture screen: %w", err)
	}
	if img == nil {
		return Frame{}, ErrFrameTimeout
	}

	s.mu.Lock()
	s.sequence++
	seq := s.sequence
	s.mu.Unlock()

	// Copy into a pooled buffer so the library's allocation is short-lived.
	b := img.Bounds()
	buf := acquireBuf(len(img.Pix))
	copy(buf, img.Pix)
	return Frame{
		Pix:        buf,
		Width:      b.Dx(),
		Height:     b.Dy(),
		Stride:     img.Stride,
		Format:     FormatRGBA,
		Sequence:   seq,
		CapturedAt: time.Now(),
	}, nil
}

// Parameter and friends: the desktop has no acquisition knobs.
func (s *ScreenSource) Parameter(name ParameterName) (float64, error) {
	return 0, ErrUnknownParameter
}

func (s *ScreenSource) SetParameter(name ParameterName, value float64) error {
	return ErrUnknownParameter
}

func (s *ScreenSource) ParameterRange(name ParameterName) (float64, float64, bool) {
	return 0, 0, false
}

var _ FrameSource = (*ScreenSource)(nil)
