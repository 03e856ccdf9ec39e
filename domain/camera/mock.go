package camera

import (
	"sync"
	"time"
)

// MockSource is a deterministic simulated camera. It produces a moving
// diagonal gradient with a counter block in the top-left corner, one frame
// per FrameInterval. The whole pipeline above FrameSource is exercised
// against it, both in tests and in hardware-less deployments.
//
// The exported fault fields inject failures for lifecycle tests: a connect
// error, a start error, and a hard pull error after N frames.
type MockSource struct {
	FrameInterval time.Duration
	ConnectErr    error
	StartErr      error
	PullErr       error
	PullErrAfter  uint64

	id            string
	width, height int

	mu        sync.Mutex
	connected bool
	streaming bool
	counter   uint64
	params    map[ParameterName]float64
}

type paramRange struct{ min, max float64 }

var mockRanges = map[ParameterName]paramRange{
	ParamExposure:   {20, 1000000},
	ParamGain:       {0, 24},
	ParamGamma:      {0, 4},
	ParamContrast:   {0, 100},
	ParamSaturation: {0, 100},
}

// NewMockSource returns a mock camera producing width x height Mono8 frames.
func NewMockSource(id string, width, height int) *MockSource {
	if width <= 0 {
		width = 640
	}
	if height <= 0 {
		height = 480
	}
	return &MockSource{
		FrameInterval: 10 * time.Millisecond,
		id:            id,
		width:         width,
		height:        height,
		params: map[ParameterName]float64{
			ParamExposure:   10000,
			ParamGain:       10,
			ParamGamma:      1,
			ParamContrast:   50,
			ParamSaturation: 50,
		},
	}
}

func (s *MockSource) ID() string { return s.id }

func (s *MockSource) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ConnectErr != nil {
		return s.ConnectErr
	}
	s.connected = true
	return nil
}

func (s *MockSource) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.streaming = false
	return nil
}

func (s *MockSource) StartAcquisition() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	if s.StartErr != nil {
		return s.StartErr
	}
	s.streaming = true
	return nil
}

func (s *MockSource) StopAcquisition() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaming = false
	return nil
}

func (s *MockSource) PullFrame(timeout time.Duration) (Frame, error) {
	s.mu.Lock()
	if !s.streaming {
		s.mu.Unlock()
		return Frame{}, ErrNotStreaming
	}
	if s.PullErr != nil && s.counter >= s.PullErrAfter {
		s.mu.Unlock()
		return Frame{}, s.PullErr
	}
	counter := s.counter
	s.counter++
	interval := s.FrameInterval
	s.mu.Unlock()

	if interval > timeout {
		time.Sleep(timeout)
		return Frame{}, ErrFrameTimeout
	}
	time.Sleep(interval)
	return s.synthesize(counter), nil
}

// synthesize builds the frame for one counter value. Identical counters
// always produce identical pixels.
func (s *MockSource) synthesize(counter uint64) Frame {
	w, h := s.width, s.height
	pix := acquireBuf(w * h)
	off := int(counter * 2)
	for y := 0; y < h; y++ {
		row := pix[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			row[x] = uint8((x + y + off) % 256)
		}
	}
	block := 24
	if block > w {
		block = w
	}
	if block > h {
		block = h
	}
	marker := uint8(counter * 8)
	for y := 0; y < block; y++ {
		for x := 0; x < block; x++ {
			pix[y*w+x] = marker
		}
	}
	return Frame{
		Pix:        pix,
		Width:      w,
		Height:     h,
		Stride:     w,
		Format:     FormatMono8,
		Sequence:   counter + 1,
		CapturedAt: time.Now(),
	}
}

func (s *MockSource) Parameter(name ParameterName) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.params[name]
	if !ok {
		return 0, ErrUnknownParameter
	}
	return v, nil
}

func (s *MockSource) SetParameter(name ParameterName, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.params[name]; !ok {
		return ErrUnknownParameter
	}
	s.params[name] = value
	return nil
}

func (s *MockSource) ParameterRange(name ParameterName) (float64, float64, bool) {
	r, ok := mockRanges[name]
	if !ok {
		return 0, 0, false
	}
	return r.min, r.max, true
}

func (s *MockSource) Release() error { return nil }

var _ FrameSource = (*MockSource)(nil)
var _ Releaser = (*MockSource)(nil)
