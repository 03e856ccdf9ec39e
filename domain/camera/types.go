package camera

import (
	"errors"
	"time"
)

// ConnectionState enumerates finite states of a camera session.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateConnected
	StateStreaming
	StateRunning
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateStreaming:
		return "streaming"
	case StateRunning:
		return "running"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ParameterName identifies a tunable acquisition parameter.
type ParameterName string

const (
	ParamExposure   ParameterName = "exposure"
	ParamGain       ParameterName = "gain"
	ParamGamma      ParameterName = "gamma"
	ParamContrast   ParameterName = "contrast"
	ParamSaturation ParameterName = "saturation"
)

var (
	// ErrFrameTimeout is returned by PullFrame when no frame arrived within
	// the timeout. The acquisition loop treats it as a normal continue.
	ErrFrameTimeout = errors.New("frame pull timeout")
	// ErrNotConnected is returned by operations that need an open device.
	ErrNotConnected = errors.New("camera not connected")
	// ErrNotStreaming is returned by PullFrame outside acquisition.
	ErrNotStreaming = errors.New("camera not streaming")
	// ErrVendorUnavailable is returned when the vendor SDK source is not
	// supported on this platform.
	ErrVendorUnavailable = errors.New("vendor camera support unavailable")
	// ErrUnknownParameter is returned for parameter names a source does not carry.
	ErrUnknownParameter = errors.New("unknown parameter")
)

// FrameSource wraps one physical (or simulated) camera. Implementations own
// all vendor SDK calls; everything above this interface is hardware-agnostic.
// Disconnect and StopAcquisition are idempotent and return nil when already
// done. Connect applies static device configuration exactly once, before any
// frame is pulled, and unwinds partial state on failure.
type FrameSource interface {
	ID() string
	Connect() error
	Disconnect() error
	StartAcquisition() error
	StopAcquisition() error
	// PullFrame blocks up to timeout for the next frame. ErrFrameTimeout
	// signals an empty interval, any other error a hard fault.
	PullFrame(timeout time.Duration) (Frame, error)
	Parameter(name ParameterName) (float64, error)
	SetParameter(name ParameterName, value float64) error
	// ParameterRange reports the valid (min,max) when the device exposes
	// one. ok=false means unbounded; setting must still work.
	ParameterRange(name ParameterName) (min, max float64, ok bool)
}

// Releaser is implemented by sources that hold SDK handles or buffers beyond
// the open device itself. The worker calls it last in the cleanup sequence.
type Releaser interface {
	Release() error
}

// FrameConsumer receives frames in capture order on the worker goroutine.
// The frame buffer may be recycled after the callback returns; consumers
// that retain the frame must Clone it.
type FrameConsumer func(Frame)

// StateListener is called on each successful session state transition.
type StateListener func(prev, next ConnectionState)

// StateSource exposes the current session state.
type StateSource interface{ Current() ConnectionState }

// WorkerControl is the lifecycle surface used by the application layer.
type WorkerControl interface {
	Start() error
	Stop()
	Wait(timeout time.Duration) bool
	Running() bool
	Stats() AcquisitionStats
}
