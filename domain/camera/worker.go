package camera

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

const workerStatsLogInterval = 5 * time.Second

// ParameterSetting is one static parameter applied after connect.
type ParameterSetting struct {
	Name  ParameterName
	Value float64
}

// WorkerOptions tune an acquisition worker.
type WorkerOptions struct {
	// PullTimeout bounds each PullFrame call and therefore the worker's
	// worst-case shutdown latency. Defaults to 100ms.
	PullTimeout time.Duration
	// Settings are applied to the source between Connect and
	// StartAcquisition, clamped into the reported range when one exists.
	Settings []ParameterSetting
}

// AcquisitionWorker owns one FrameSource and runs a dedicated goroutine that
// pulls frames and pushes them to the consumer callback in capture order.
// The two cameras get fully independent workers; stopping one never touches
// the other. Stop is advisory: the loop exits at the next iteration boundary
// and always runs the cleanup sequence stop acquisition, disconnect, release.
type AcquisitionWorker struct {
	source   FrameSource
	machine  *StateMachine
	consumer FrameConsumer
	logger   *slog.Logger
	opts     WorkerOptions

	running   atomic.Bool
	done      chan struct{}
	frames    atomic.Uint64
	timeouts  atomic.Uint64
	errCount  atomic.Uint64
	pullNanos atomic.Uint64
	lastFrame atomic.Int64 // unix nanos
	sequence  atomic.Uint64
}

// NewWorker constructs a worker around source. The consumer may be nil, in
// which case frames are counted and recycled without delivery.
func NewWorker(source FrameSource, consumer FrameConsumer, logger *slog.Logger, opts WorkerOptions) *AcquisitionWorker {
	if opts.PullTimeout <= 0 {
		opts.PullTimeout = 100 * time.Millisecond
	}
	w := &AcquisitionWorker{
		source:   source,
		machine:  NewStateMachine(logger),
		consumer: consumer,
		logger:   logger,
		opts:     opts,
	}
	return w
}

// Machine exposes the session state machine for status listeners.
func (w *AcquisitionWorker) Machine() *StateMachine { return w.machine }

// OnState registers a session state listener.
func (w *AcquisitionWorker) OnState(l StateListener) { w.machine.AddListener(l) }

// Running reports whether the acquisition goroutine is active.
func (w *AcquisitionWorker) Running() bool { return w.running.Load() }

// Start spawns the acquisition goroutine. It fails when already running; a
// session left in Error by a previous run is reset first.
func (w *AcquisitionWorker) Start() error {
	if !w.running.CompareAndSwap(false, true) {
		return fmt.Errorf("worker %s already running", w.source.ID())
	}
	if w.machine.Current() == StateError {
		w.machine.Reset()
	}
	w.done = make(chan struct{})
	go w.run()
	return nil
}

// Stop requests a cooperative shutdown. The loop observes the flag at its
// next iteration boundary; an in-flight PullFrame is not interrupted, so the
// caller should Wait for up to roughly one pull timeout.
func (w *AcquisitionWorker) Stop() { w.running.Store(false) }

// Wait blocks until the acquisition goroutine has exited or timeout elapsed.
// It reports whether the goroutine exited. A worker never started reports true.
func (w *AcquisitionWorker) Wait(timeout time.Duration) bool {
	if w.done == nil {
		return true
	}
	select {
	case <-w.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Stats returns loop counters for instrumentation.
func (w *AcquisitionWorker) Stats() AcquisitionStats {
	frames := w.frames.Load()
	total := w.pullNanos.Load()
	var avg time.Duration
	if frames > 0 && total > 0 {
		avg = time.Duration(total / frames)
	}
	var last time.Time
	if ns := w.lastFrame.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return AcquisitionStats{
		Frames:      frames,
		Timeouts:    w.timeouts.Load(),
		Errors:      w.errCount.Load(),
		AvgPull:     avg,
		LastFrameAt: last,
		Sequence:    w.sequence.Load(),
		State:       w.machine.Current(),
	}
}

func (w *AcquisitionWorker) run() {
	defer close(w.done)
	defer w.cleanup()

	w.machine.Transition(StateConnecting)
	if err := w.source.Connect(); err != nil {
		w.log().Error("connect", "camera", w.source.ID(), "error", err)
		w.machine.Transition(StateError)
		return
	}
	w.applySettings()
	w.machine.Transition(StateConnected)

	if err := w.source.StartAcquisition(); err != nil {
		w.log().Error("start acquisition", "camera", w.source.ID(), "error", err)
		w.machine.Transition(StateError)
		return
	}
	w.machine.Transition(StateStreaming)

	logTicker := time.NewTicker(workerStatsLogInterval)
	defer logTicker.Stop()

	for w.running.Load() {
		start := time.Now()
		frame, err := w.source.PullFrame(w.opts.PullTimeout)
		if err != nil {
			if errors.Is(err, ErrFrameTimeout) {
				w.timeouts.Add(1)
				continue
			}
			w.errCount.Add(1)
			w.log().Error("pull frame", "camera", w.source.ID(), "error", err)
			w.machine.Transition(StateError)
			return
		}
		w.pullNanos.Add(uint64(time.Since(start).Nanoseconds()))
		w.frames.Add(1)
		w.sequence.Store(frame.Sequence)
		w.lastFrame.Store(frame.CapturedAt.UnixNano())

		if w.consumer != nil {
			func() {
				defer recoverLog(w.logger, "frame consumer panic")
				w.consumer(frame)
			}()
		}
		RecycleFrame(frame)

		select {
		case <-logTicker.C:
			w.logStats()
		default:
		}
	}
}

// cleanup runs the teardown sequence exactly once per run, in order, logging
// and swallowing step errors so a failing stop never blocks the disconnect.
func (w *AcquisitionWorker) cleanup() {
	if err := w.source.StopAcquisition(); err != nil {
		w.log().Error("stop acquisition", "camera", w.source.ID(), "error", err)
	}
	if w.machine.Current() == StateStreaming {
		w.machine.Transition(StateConnected)
	}
	if err := w.source.Disconnect(); err != nil {
		w.log().Error("disconnect", "camera", w.source.ID(), "error", err)
	}
	if w.machine.Current() == StateConnected {
		w.machine.Transition(StateIdle)
	}
	if r, ok := w.source.(Releaser); ok {
		if err := r.Release(); err != nil {
			w.log().Error("release", "camera", w.source.ID(), "error", err)
		}
	}
	w.running.Store(false)
}

// applySettings pushes configured parameters to the device. Failures are
// logged and skipped; a camera with a stubborn gain knob still streams.
func (w *AcquisitionWorker) applySettings() {
	for _, s := range w.opts.Settings {
		value := s.Value
		if lo, hi, ok := w.source.ParameterRange(s.Name); ok {
			if value < lo {
				value = lo
			}
			if value > hi {
				value = hi
			}
			if value != s.Value {
				w.log().Warn("parameter clamped to device range",
					"camera", w.source.ID(), "param", string(s.Name),
					"requested", s.Value, "applied", value)
			}
		}
		if err := w.source.SetParameter(s.Name, value); err != nil {
			w.log().Warn("set parameter", "camera", w.source.ID(),
				"param", string(s.Name), "error", err)
		}
	}
}

func (w *AcquisitionWorker) logStats() {
	if w.logger == nil {
		return
	}
	stats := w.Stats()
	w.logger.Debug("acquisition.stats",
		"camera", w.source.ID(),
		"frames", stats.Frames,
		"timeouts", stats.Timeouts,
		"errors", stats.Errors,
		"avg_pull", stats.AvgPull,
		"state", stats.State.String(),
	)
}

func (w *AcquisitionWorker) log() *slog.Logger {
	if w.logger != nil {
		return w.logger
	}
	return slog.Default()
}

var _ WorkerControl = (*AcquisitionWorker)(nil)
