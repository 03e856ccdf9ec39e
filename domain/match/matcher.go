// Package match scores a camera frame region against a stored reference
// pattern with normalized cross-correlation. The region position encodes the
// expected pattern location, so a single aligned comparison replaces a
// sliding search.
package match

import (
	"log/slog"

	"github.com/soocke/ccd-inspect-go/domain/camera"
	"github.com/soocke/ccd-inspect-go/domain/template"
)

// MatchResult is the outcome of one pattern evaluation. Success reports
// whether the evaluation itself ran; Passed reports whether the score
// cleared the configured threshold.
type MatchResult struct {
	Success bool
	Score   float64
	Passed  bool
	ROI     template.Region
	Reason  string
}

type Matcher struct {
	logger *slog.Logger
}

func NewMatcher(logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{logger: logger}
}

// Evaluate scores the configured region of frame against the reference
// image. Configuration problems surface as Success=false with a reason,
// never as a panic or an error return.
func (m *Matcher) Evaluate(frame camera.Frame, cfg template.CCD1Config) MatchResult {
	if cfg.ReferenceImagePath == "" {
		return MatchResult{Reason: "no reference image configured"}
	}
	if frame.Empty() {
		return MatchResult{Reason: "empty frame"}
	}
	roi, ok := template.ClampRegion(cfg.ROI, frame.Width, frame.Height)
	if !ok {
		return MatchResult{Reason: "region does not fit the frame"}
	}
	pc, err := refPrecompFor(cfg.ReferenceImagePath, roi.Width, roi.Height, m.logger)
	if err != nil {
		m.logger.Error("reference image unavailable", "path", cfg.ReferenceImagePath, "error", err)
		return MatchResult{ROI: roi, Reason: err.Error()}
	}
	win := camera.CropGray(frame.Mono(), roi.X, roi.Y, roi.Width, roi.Height)
	score := scoreNCC(win, pc)
	return MatchResult{
		Success: true,
		Score:   score,
		Passed:  score >= cfg.MatchThreshold,
		ROI:     roi,
	}
}
