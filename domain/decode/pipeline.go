package decode

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"

	"github.com/soocke/ccd-inspect-go/domain/camera"
	"github.com/soocke/ccd-inspect-go/domain/template"
)

// PipelineOptions configures a Pipeline. Zero-value fields fall back to the
// default backends and variant chain; an empty DebugDir disables attempt
// dumps.
type PipelineOptions struct {
	Decoders []Decoder
	Variants []Variant
	DebugDir string
}

type Pipeline struct {
	decoders []Decoder
	variants []Variant
	debugDir string
	logger   *slog.Logger
}

func NewPipeline(logger *slog.Logger, opts PipelineOptions) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Decoders == nil {
		opts.Decoders = DefaultDecoders()
	}
	if opts.Variants == nil {
		opts.Variants = DefaultVariants()
	}
	if opts.DebugDir != "" {
		if err := os.MkdirAll(opts.DebugDir, 0o755); err != nil {
			logger.Warn("debug image dir unavailable", "dir", opts.DebugDir, "error", err)
			opts.DebugDir = ""
		}
	}
	return &Pipeline{
		decoders: opts.Decoders,
		variants: opts.Variants,
		debugDir: opts.DebugDir,
		logger:   logger,
	}
}

// Run decodes every enabled region of the frame. Regions are processed in
// list order; within a region the preprocessing variants run in priority
// order and stop at the first one whose decode yields a payload.
func (p *Pipeline) Run(frame camera.Frame, cfg template.CCD2Config) PipelineResult {
	res := PipelineResult{Success: true, Payloads: map[string][]string{}}
	if frame.Empty() {
		p.logger.Error("decode skipped, frame has no pixels")
		res.Success = false
		return res
	}
	mono := frame.Mono()
	for _, region := range cfg.Regions {
		if !region.Enabled || !region.DecodeEnabled {
			continue
		}
		outcome := RegionOutcome{Region: region.Name}
		clamped, ok := template.ClampRegion(region, frame.Width, frame.Height)
		if !ok {
			res.Outcomes = append(res.Outcomes, outcome)
			continue
		}
		crop := camera.CropGray(mono, clamped.X, clamped.Y, clamped.Width, clamped.Height)
		outcome.Attempted = true
		for _, v := range p.variants {
			img := v.Apply(crop)
			outcome.Attempts++
			p.dump(region.Name, v.Name, outcome.Attempts, img)
			if payloads := p.decodeAll(img); len(payloads) > 0 {
				outcome.Payloads = payloads
				outcome.Variant = v.Name
				res.Payloads[region.Name] = payloads
				break
			}
		}
		if outcome.Variant != "" {
			p.logger.Debug("region decoded",
				"region", region.Name, "variant", outcome.Variant,
				"attempts", outcome.Attempts, "payloads", len(outcome.Payloads))
		} else {
			p.logger.Debug("region exhausted", "region", region.Name, "attempts", outcome.Attempts)
		}
		res.Outcomes = append(res.Outcomes, outcome)
	}
	return res
}

// decodeAll runs every backend over one preprocessed image and merges
// unique payloads in backend order.
func (p *Pipeline) decodeAll(img *image.Gray) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, d := range p.decoders {
		texts, err := d.Decode(img)
		if err != nil {
			p.logger.Warn("decoder fault", "decoder", d.Name(), "error", err)
			continue
		}
		for _, t := range texts {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

func (p *Pipeline) dump(region, variant string, attempt int, img *image.Gray) {
	if p.debugDir == "" {
		return
	}
	name := fmt.Sprintf("%s_%s_%s_attempt%d.png",
		time.Now().Format("20060102_150405.000"), region, variant, attempt)
	path := filepath.Join(p.debugDir, name)
	if err := imaging.Save(img, path); err != nil {
		p.logger.Warn("debug image not written", "path", path, "error", err)
	}
}
