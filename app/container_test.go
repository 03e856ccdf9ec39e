package app

import (
	"strings"
	"testing"

	"github.com/soocke/ccd-inspect-go/config"
	"github.com/soocke/ccd-inspect-go/domain/camera"
	"github.com/soocke/ccd-inspect-go/domain/template"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.TemplateDir = t.TempDir()
	return cfg
}

func TestBuildContainer_MockCameras(t *testing.T) {
	cfg := testConfig(t)
	c, err := BuildContainer(cfg, discardLogger())
	if err != nil {
		t.Fatalf("BuildContainer: %v", err)
	}
	if c.CCD1 == nil || c.CCD2 == nil {
		t.Fatalf("both workers must be built")
	}
	if c.Inspector == nil || c.Matcher == nil || c.Pipeline == nil || c.Store == nil {
		t.Fatalf("incomplete container: %+v", c)
	}
	if c.Reporter != nil {
		t.Fatalf("reporter must stay nil while reporting is disabled")
	}
}

func TestBuildContainer_UnknownCameraType(t *testing.T) {
	cfg := testConfig(t)
	cfg.CCD1.Type = "gige"
	_, err := BuildContainer(cfg, discardLogger())
	if err == nil {
		t.Fatalf("expected error for unknown camera type")
	}
	if !strings.Contains(err.Error(), "ccd1") || !strings.Contains(err.Error(), "gige") {
		t.Fatalf("error should name the camera and type, got %v", err)
	}
}

func TestBuildContainer_ActivatesConfiguredTemplate(t *testing.T) {
	cfg := testConfig(t)
	store, err := template.NewStore(cfg.TemplateDir, discardLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	tpl := &template.InspectionTemplate{Name: "panel-a"}
	if err := store.Save(tpl); err != nil {
		t.Fatalf("Save: %v", err)
	}
	cfg.CurrentTemplate = "panel-a"

	c, err := BuildContainer(cfg, discardLogger())
	if err != nil {
		t.Fatalf("BuildContainer: %v", err)
	}
	cur := c.Slot.Load()
	if cur == nil || cur.Name != "panel-a" {
		t.Fatalf("configured template not active, got %+v", cur)
	}
}

func TestBuildContainer_MissingTemplateContinues(t *testing.T) {
	cfg := testConfig(t)
	cfg.CurrentTemplate = "ghost"
	c, err := BuildContainer(cfg, discardLogger())
	if err != nil {
		t.Fatalf("a missing configured template must not abort startup: %v", err)
	}
	if c.Slot.Load() != nil {
		t.Fatalf("no template should be active")
	}
}

func TestBuildContainer_ReporterEnabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Report.Enabled = true
	cfg.Report.Addr = "127.0.0.1:9100"
	c, err := BuildContainer(cfg, discardLogger())
	if err != nil {
		t.Fatalf("BuildContainer: %v", err)
	}
	if c.Reporter == nil {
		t.Fatalf("reporter must be built when reporting is enabled")
	}
}

func TestParameterSettings_SkipsZeroValues(t *testing.T) {
	cc := config.CameraConfig{Exposure: 15000, Gamma: 0.8}
	got := parameterSettings(cc)
	want := []camera.ParameterSetting{
		{Name: camera.ParamExposure, Value: 15000},
		{Name: camera.ParamGamma, Value: 0.8},
	}
	if len(got) != len(want) {
		t.Fatalf("settings = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("settings[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
