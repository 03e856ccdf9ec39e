package app

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soocke/ccd-inspect-go/domain/camera"
	"github.com/soocke/ccd-inspect-go/domain/decode"
	"github.com/soocke/ccd-inspect-go/domain/match"
	"github.com/soocke/ccd-inspect-go/domain/template"
)

// ResultSink receives the per-cycle verdict. A send error is logged and the
// inspection keeps running.
type ResultSink interface {
	SendOK(payload string) error
	SendFail(payload string) error
}

// CycleResult is one completed inspection cycle. Match and Decode are nil
// for the camera sides the current template disables.
type CycleResult struct {
	ID      string
	At      time.Time
	Match   *match.MatchResult
	Decode  *decode.PipelineResult
	OK      bool
	Payload string
}

// Inspector runs the per-camera evaluations on the delivering worker's
// goroutine and folds them into cycle verdicts. The code-reading camera
// closes a cycle when it is enabled; otherwise the pattern camera does.
type Inspector struct {
	logger   *slog.Logger
	slot     *template.CurrentSlot
	matcher  *match.Matcher
	pipeline *decode.Pipeline
	sink     ResultSink

	mu        sync.Mutex
	lastMatch *match.MatchResult
	lastCycle *CycleResult
}

func NewInspector(logger *slog.Logger, slot *template.CurrentSlot, matcher *match.Matcher, pipeline *decode.Pipeline, sink ResultSink) *Inspector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inspector{
		logger:   logger,
		slot:     slot,
		matcher:  matcher,
		pipeline: pipeline,
		sink:     sink,
	}
}

// OnCCD1Frame evaluates the pattern camera's frame against the current
// template. When the code camera is disabled the result also closes a
// cycle.
func (i *Inspector) OnCCD1Frame(frame camera.Frame) {
	tpl := i.slot.Load()
	if tpl == nil || !tpl.CCD1.Enabled {
		return
	}
	res := i.matcher.Evaluate(frame, tpl.CCD1)
	i.mu.Lock()
	i.lastMatch = &res
	i.mu.Unlock()
	if !tpl.CCD2.Enabled {
		i.completeCycle(tpl, &res, nil)
	}
}

// OnCCD2Frame decodes the code camera's frame and closes a cycle with the
// latest pattern result. With the pattern camera enabled but not yet
// evaluated, the cycle is skipped rather than reported as a false FAIL.
func (i *Inspector) OnCCD2Frame(frame camera.Frame) {
	tpl := i.slot.Load()
	if tpl == nil || !tpl.CCD2.Enabled {
		return
	}
	dres := i.pipeline.Run(frame, tpl.CCD2)
	var mres *match.MatchResult
	if tpl.CCD1.Enabled {
		i.mu.Lock()
		mres = i.lastMatch
		i.mu.Unlock()
		if mres == nil {
			i.logger.Debug("cycle skipped, pattern result pending")
			return
		}
	}
	i.completeCycle(tpl, mres, &dres)
}

func (i *Inspector) completeCycle(tpl *template.InspectionTemplate, mres *match.MatchResult, dres *decode.PipelineResult) {
	ok := true
	payload := ""
	if tpl.CCD1.Enabled {
		ok = mres != nil && mres.Success && mres.Passed
	}
	if tpl.CCD2.Enabled && dres != nil {
		ok = ok && dres.Success && dres.Decoded()
		payload = dres.PrimaryPayload()
	}
	cycle := &CycleResult{
		ID:      uuid.NewString(),
		At:      time.Now(),
		Match:   mres,
		Decode:  dres,
		OK:      ok,
		Payload: payload,
	}
	i.mu.Lock()
	i.lastCycle = cycle
	i.mu.Unlock()
	i.logger.Info("inspection cycle", "cycle", cycle.ID, "ok", ok, "payload", payload)
	i.report(cycle)
}

func (i *Inspector) report(cycle *CycleResult) {
	if i.sink == nil {
		return
	}
	var err error
	if cycle.OK {
		err = i.sink.SendOK(cycle.Payload)
	} else {
		err = i.sink.SendFail(cycle.Payload)
	}
	if err != nil {
		i.logger.Warn("cycle result not reported", "cycle", cycle.ID, "error", err)
	}
}

// LastCycle returns a copy of the most recent completed cycle, or nil
// before the first one.
func (i *Inspector) LastCycle() *CycleResult {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.lastCycle == nil {
		return nil
	}
	c := *i.lastCycle
	return &c
}

// LastMatch returns a copy of the most recent pattern evaluation.
func (i *Inspector) LastMatch() *match.MatchResult {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.lastMatch == nil {
		return nil
	}
	m := *i.lastMatch
	return &m
}
