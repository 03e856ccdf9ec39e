package app

import (
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/soocke/ccd-inspect-go/config"
	"github.com/soocke/ccd-inspect-go/domain/camera"
	"github.com/soocke/ccd-inspect-go/domain/decode"
	"github.com/soocke/ccd-inspect-go/domain/match"
	"github.com/soocke/ccd-inspect-go/domain/template"
	"github.com/soocke/ccd-inspect-go/report"
)

// Container assembles the template store, evaluators, reporter and the two
// camera workers.
type Container struct {
	Config    *config.Config
	Logger    *slog.Logger
	Store     *template.Store
	Slot      *template.CurrentSlot
	Matcher   *match.Matcher
	Pipeline  *decode.Pipeline
	Reporter  *report.Reporter
	Inspector *Inspector

	CCD1 *camera.AcquisitionWorker
	CCD2 *camera.AcquisitionWorker
}

// BuildContainer constructs all components. Side-effects limited to creating
// the template directory and loading the configured template; nothing is
// connected or started here.
func BuildContainer(cfg *config.Config, logger *slog.Logger) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger}

	store, err := template.NewStore(cfg.TemplateDir, logger)
	if err != nil {
		return nil, fmt.Errorf("template store: %w", err)
	}
	c.Store = store
	c.Slot = &template.CurrentSlot{}
	if cfg.CurrentTemplate != "" {
		if _, err := c.Slot.Activate(store, cfg.CurrentTemplate); err != nil {
			logger.Warn("configured template not loaded", "name", cfg.CurrentTemplate, "error", err)
		}
	}

	c.Matcher = match.NewMatcher(logger)

	debugDir := ""
	if cfg.Debug {
		debugDir = cfg.DebugImageDir
	}
	c.Pipeline = decode.NewPipeline(logger, decode.PipelineOptions{DebugDir: debugDir})

	var sink ResultSink
	if cfg.Report.Enabled {
		c.Reporter = report.NewReporter(cfg.Report.Addr,
			time.Duration(cfg.Report.RetrySeconds)*time.Second, logger)
		sink = c.Reporter
	}

	c.Inspector = NewInspector(logger, c.Slot, c.Matcher, c.Pipeline, sink)

	c.CCD1, err = buildWorker(cfg.CCD1, c.Inspector.OnCCD1Frame, logger)
	if err != nil {
		return nil, fmt.Errorf("ccd1: %w", err)
	}
	c.CCD2, err = buildWorker(cfg.CCD2, c.Inspector.OnCCD2Frame, logger)
	if err != nil {
		return nil, fmt.Errorf("ccd2: %w", err)
	}
	return c, nil
}

func buildWorker(cc config.CameraConfig, consumer camera.FrameConsumer, logger *slog.Logger) (*camera.AcquisitionWorker, error) {
	source, err := buildSource(cc)
	if err != nil {
		return nil, err
	}
	opts := camera.WorkerOptions{
		PullTimeout: time.Duration(cc.PullTimeoutMS) * time.Millisecond,
		Settings:    parameterSettings(cc),
	}
	return camera.NewWorker(source, consumer, logger, opts), nil
}

func buildSource(cc config.CameraConfig) (camera.FrameSource, error) {
	switch cc.Type {
	case "mock":
		return camera.NewMockSource(cc.ID, 0, 0), nil
	case "screen":
		rect := image.Rect(cc.ScreenX, cc.ScreenY, cc.ScreenX+cc.ScreenW, cc.ScreenY+cc.ScreenH)
		return camera.NewScreenSource(cc.ID, rect), nil
	case "mvs":
		return camera.NewMVSSource(cc.ID, cc.Index, cc.Serial)
	default:
		return nil, fmt.Errorf("unknown camera type %q", cc.Type)
	}
}

// parameterSettings converts the static config values into worker settings.
// Zero values mean "leave the device default" and are skipped.
func parameterSettings(cc config.CameraConfig) []camera.ParameterSetting {
	var out []camera.ParameterSetting
	add := func(name camera.ParameterName, v float64) {
		if v != 0 {
			out = append(out, camera.ParameterSetting{Name: name, Value: v})
		}
	}
	add(camera.ParamExposure, cc.Exposure)
	add(camera.ParamGain, cc.Gain)
	add(camera.ParamGamma, cc.Gamma)
	add(camera.ParamContrast, cc.Contrast)
	add(camera.ParamSaturation, cc.Saturation)
	return out
}
