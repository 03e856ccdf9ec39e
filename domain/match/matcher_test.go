package match

import (
	"image"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/soocke/ccd-inspect-go/domain/camera"
	"github.com/soocke/ccd-inspect-go/domain/template"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func grayFrame(w, h int, fill func(x, y int) uint8) camera.Frame {
	pix := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			pix[y*w+x] = fill(x, y)
		}
	}
	return camera.Frame{Pix: pix, Width: w, Height: h, Stride: w, Format: camera.FormatMono8}
}

func writeRef(t *testing.T, w, h int, fill func(x, y int) uint8) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Pix[y*img.Stride+x] = fill(x, y)
		}
	}
	path := filepath.Join(t.TempDir(), "ref.png")
	if err := imaging.Save(img, path); err != nil {
		t.Fatalf("save reference: %v", err)
	}
	return path
}

func gradient(x, y int) uint8 { return uint8((x*7 + y*3) % 256) }

func TestMatcher_PerfectMatch(t *testing.T) {
	m := NewMatcher(testLogger())
	ref := writeRef(t, 40, 30, gradient)
	frame := grayFrame(100, 100, func(x, y int) uint8 {
		if x >= 10 && x < 50 && y >= 20 && y < 50 {
			return gradient(x-10, y-20)
		}
		return 128
	})
	cfg := template.CCD1Config{
		Enabled:            true,
		ROI:                template.Region{X: 10, Y: 20, Width: 40, Height: 30},
		MatchThreshold:     0.95,
		ReferenceImagePath: ref,
	}
	res := m.Evaluate(frame, cfg)
	if !res.Success {
		t.Fatalf("evaluation failed: %s", res.Reason)
	}
	if res.Score < 0.999 {
		t.Errorf("score %v, want ~1 for identical content", res.Score)
	}
	if !res.Passed {
		t.Error("identical content must clear a 0.95 threshold")
	}
	again := m.Evaluate(frame, cfg)
	if again.Score != res.Score {
		t.Errorf("score changed between identical evaluations: %v vs %v", res.Score, again.Score)
	}
}

func TestMatcher_ThresholdBoundaryEquality(t *testing.T) {
	m := NewMatcher(testLogger())
	ref := writeRef(t, 20, 20, gradient)
	frame := grayFrame(20, 20, func(x, y int) uint8 { return gradient(x, y)/2 + 40 })
	cfg := template.CCD1Config{
		ROI:                template.Region{Width: 20, Height: 20},
		ReferenceImagePath: ref,
	}
	first := m.Evaluate(frame, cfg)
	if !first.Success {
		t.Fatalf("evaluation failed: %s", first.Reason)
	}
	cfg.MatchThreshold = first.Score
	if res := m.Evaluate(frame, cfg); !res.Passed {
		t.Errorf("score equal to threshold must pass (score %v)", res.Score)
	}
	cfg.MatchThreshold = first.Score + 1e-9
	if res := m.Evaluate(frame, cfg); res.Passed {
		t.Errorf("score below threshold must fail (score %v, threshold %v)", res.Score, cfg.MatchThreshold)
	}
}

func TestMatcher_InvertedPatternScoresNegative(t *testing.T) {
	m := NewMatcher(testLogger())
	ref := writeRef(t, 16, 16, gradient)
	frame := grayFrame(16, 16, func(x, y int) uint8 { return 255 - gradient(x, y) })
	res := m.Evaluate(frame, template.CCD1Config{
		ROI:                template.Region{Width: 16, Height: 16},
		MatchThreshold:     0.5,
		ReferenceImagePath: ref,
	})
	if !res.Success {
		t.Fatalf("evaluation failed: %s", res.Reason)
	}
	if res.Score > -0.999 {
		t.Errorf("score %v, want ~-1 for inverted content", res.Score)
	}
	if res.Passed {
		t.Error("inverted content must not pass")
	}
	if res.Score < -1 || res.Score > 1 {
		t.Errorf("score %v escapes [-1,1]", res.Score)
	}
}

func TestMatcher_ResizesMismatchedReference(t *testing.T) {
	m := NewMatcher(testLogger())
	ref := writeRef(t, 20, 20, func(x, y int) uint8 { return uint8(x * 12) })
	frame := grayFrame(40, 40, func(x, y int) uint8 { return uint8(x * 6) })
	res := m.Evaluate(frame, template.CCD1Config{
		ROI:                template.Region{Width: 40, Height: 40},
		MatchThreshold:     0.9,
		ReferenceImagePath: ref,
	})
	if !res.Success {
		t.Fatalf("evaluation failed: %s", res.Reason)
	}
	if res.Score < 0.99 {
		t.Errorf("score %v, want near 1 after nearest-neighbour upscale", res.Score)
	}
}

func TestMatcher_MissingReference(t *testing.T) {
	m := NewMatcher(testLogger())
	frame := grayFrame(20, 20, gradient)
	res := m.Evaluate(frame, template.CCD1Config{
		ROI:                template.Region{Width: 20, Height: 20},
		ReferenceImagePath: filepath.Join(t.TempDir(), "absent.png"),
	})
	if res.Success {
		t.Error("missing reference must not evaluate")
	}
	if res.Reason == "" {
		t.Error("missing reference needs a reason")
	}
}

func TestMatcher_NoReferenceConfigured(t *testing.T) {
	m := NewMatcher(testLogger())
	res := m.Evaluate(grayFrame(10, 10, gradient), template.CCD1Config{})
	if res.Success || res.Reason == "" {
		t.Errorf("unconfigured reference: %+v", res)
	}
}

func TestMatcher_EmptyFrame(t *testing.T) {
	m := NewMatcher(testLogger())
	ref := writeRef(t, 8, 8, gradient)
	res := m.Evaluate(camera.Frame{}, template.CCD1Config{
		ROI:                template.Region{Width: 8, Height: 8},
		ReferenceImagePath: ref,
	})
	if res.Success {
		t.Error("empty frame must not evaluate")
	}
}

func TestMatcher_ClampsOversizedROI(t *testing.T) {
	m := NewMatcher(testLogger())
	ref := writeRef(t, 50, 50, gradient)
	frame := grayFrame(50, 50, gradient)
	res := m.Evaluate(frame, template.CCD1Config{
		ROI:                template.Region{X: 0, Y: 0, Width: 100, Height: 100},
		MatchThreshold:     0.9,
		ReferenceImagePath: ref,
	})
	if !res.Success {
		t.Fatalf("evaluation failed: %s", res.Reason)
	}
	if res.ROI.Width != 50 || res.ROI.Height != 50 {
		t.Errorf("reported ROI %+v, want clamped to 50x50", res.ROI)
	}
	if res.Score < 0.999 {
		t.Errorf("score %v after clamp, want ~1", res.Score)
	}
}

func TestScoreNCC_FlatInputs(t *testing.T) {
	flat := func(v uint8) *image.Gray {
		g := image.NewGray(image.Rect(0, 0, 8, 8))
		for i := range g.Pix {
			g.Pix[i] = v
		}
		return g
	}
	if s := scoreNCC(flat(100), buildRefPrecomp(flat(100))); s != 1 {
		t.Errorf("two equal flat images score %v, want 1", s)
	}
	if s := scoreNCC(flat(100), buildRefPrecomp(flat(200))); s != 0 {
		t.Errorf("two unequal flat images score %v, want 0", s)
	}
	textured := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range textured.Pix {
		textured.Pix[i] = uint8(i * 3)
	}
	if s := scoreNCC(textured, buildRefPrecomp(flat(100))); s != 0 {
		t.Errorf("flat reference against textured window scores %v, want 0", s)
	}
}
