package decode

import (
	"errors"
	"image"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/soocke/ccd-inspect-go/domain/camera"
	"github.com/soocke/ccd-inspect-go/domain/template"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func monoFrame(w, h int, v uint8) camera.Frame {
	pix := make([]uint8, w*h)
	for i := range pix {
		pix[i] = v
	}
	return camera.Frame{Pix: pix, Width: w, Height: h, Stride: w, Format: camera.FormatMono8}
}

// stubDecoder reports its payloads when the probe pixel carries the marker
// value, or always when marker is zero.
type stubDecoder struct {
	name     string
	marker   uint8
	payloads []string
	fail     error
	calls    int
}

func (d *stubDecoder) Name() string { return d.name }

func (d *stubDecoder) Decode(img *image.Gray) ([]string, error) {
	d.calls++
	if d.fail != nil {
		return nil, d.fail
	}
	if d.marker != 0 && img.Pix[0] != d.marker {
		return nil, nil
	}
	return d.payloads, nil
}

// markVariant counts applications and stamps the probe pixel so a
// stubDecoder can recognize which variant produced the image.
func markVariant(name string, marker uint8, calls *int) Variant {
	return Variant{Name: name, Apply: func(g *image.Gray) *image.Gray {
		*calls++
		out := cloneGray(g)
		out.Pix[0] = marker
		return out
	}}
}

func region(name string, x, y, w, h int) template.Region {
	return template.Region{Name: name, X: x, Y: y, Width: w, Height: h, Enabled: true, DecodeEnabled: true}
}

func TestPipeline_ShortCircuitsOnFirstDecode(t *testing.T) {
	var callsA, callsB, callsC int
	dec := &stubDecoder{name: "stub", marker: 2, payloads: []string{"PAY-1"}}
	p := NewPipeline(discardLogger(), PipelineOptions{
		Decoders: []Decoder{dec},
		Variants: []Variant{
			markVariant("a", 1, &callsA),
			markVariant("b", 2, &callsB),
			markVariant("c", 3, &callsC),
		},
	})
	res := p.Run(monoFrame(16, 16, 10), template.CCD2Config{
		Enabled: true,
		Regions: []template.Region{region("R1", 0, 0, 8, 8)},
	})
	if !res.Success {
		t.Fatal("pipeline reported failure")
	}
	got := res.Payloads["R1"]
	if len(got) != 1 || got[0] != "PAY-1" {
		t.Fatalf("payloads = %v", got)
	}
	if callsA != 1 || callsB != 1 || callsC != 0 {
		t.Errorf("variant applications a=%d b=%d c=%d, want 1,1,0", callsA, callsB, callsC)
	}
	if len(res.Outcomes) != 1 {
		t.Fatalf("outcomes = %+v", res.Outcomes)
	}
	o := res.Outcomes[0]
	if o.Variant != "b" || o.Attempts != 2 || !o.Attempted {
		t.Errorf("outcome = %+v", o)
	}
}

func TestPipeline_SkipsDisabledRegions(t *testing.T) {
	dec := &stubDecoder{name: "stub", payloads: []string{"X"}}
	var calls int
	p := NewPipeline(discardLogger(), PipelineOptions{
		Decoders: []Decoder{dec},
		Variants: []Variant{markVariant("v", 1, &calls)},
	})
	off := region("R2", 8, 0, 8, 8)
	off.DecodeEnabled = false
	disabled := region("R3", 0, 8, 8, 8)
	disabled.Enabled = false
	res := p.Run(monoFrame(16, 16, 10), template.CCD2Config{
		Enabled: true,
		Regions: []template.Region{region("R1", 0, 0, 8, 8), off, disabled},
	})
	if len(res.Payloads) != 1 {
		t.Errorf("payloads = %v, want only R1", res.Payloads)
	}
	if _, ok := res.Payloads["R1"]; !ok {
		t.Error("R1 missing from payloads")
	}
	if len(res.Outcomes) != 1 || res.Outcomes[0].Region != "R1" {
		t.Errorf("outcomes = %+v, want only R1", res.Outcomes)
	}
}

func TestPipeline_ClampsRegionToFrame(t *testing.T) {
	var gotW, gotH int
	spy := Variant{Name: "spy", Apply: func(g *image.Gray) *image.Gray {
		gotW, gotH = g.Rect.Dx(), g.Rect.Dy()
		return cloneGray(g)
	}}
	dec := &stubDecoder{name: "stub", payloads: []string{"X"}}
	p := NewPipeline(discardLogger(), PipelineOptions{
		Decoders: []Decoder{dec},
		Variants: []Variant{spy},
	})
	res := p.Run(monoFrame(50, 50, 10), template.CCD2Config{
		Enabled: true,
		Regions: []template.Region{region("R1", 0, 0, 100, 100)},
	})
	if gotW != 50 || gotH != 50 {
		t.Errorf("cropped to %dx%d, want 50x50", gotW, gotH)
	}
	if !res.Outcomes[0].Attempted {
		t.Error("clamped region must still be attempted")
	}
}

func TestPipeline_ExhaustsAllVariants(t *testing.T) {
	dec := &stubDecoder{name: "stub"} // no payloads, every attempt misses
	var a, b, c int
	p := NewPipeline(discardLogger(), PipelineOptions{
		Decoders: []Decoder{dec},
		Variants: []Variant{
			markVariant("a", 1, &a),
			markVariant("b", 2, &b),
			markVariant("c", 3, &c),
		},
	})
	res := p.Run(monoFrame(16, 16, 10), template.CCD2Config{
		Enabled: true,
		Regions: []template.Region{region("R1", 0, 0, 8, 8)},
	})
	if !res.Success {
		t.Error("no code found must still be a successful run")
	}
	if len(res.Payloads) != 0 {
		t.Errorf("payloads = %v, want none", res.Payloads)
	}
	o := res.Outcomes[0]
	if o.Attempts != 3 || o.Variant != "" || len(o.Payloads) != 0 {
		t.Errorf("outcome = %+v", o)
	}
	if res.Decoded() {
		t.Error("Decoded() must be false with no payloads")
	}
}

func TestPipeline_MergesUniquePayloadsAcrossBackends(t *testing.T) {
	d1 := &stubDecoder{name: "one", payloads: []string{"A", "B"}}
	d2 := &stubDecoder{name: "two", payloads: []string{"B", "C"}}
	var calls int
	p := NewPipeline(discardLogger(), PipelineOptions{
		Decoders: []Decoder{d1, d2},
		Variants: []Variant{markVariant("v", 1, &calls)},
	})
	res := p.Run(monoFrame(16, 16, 10), template.CCD2Config{
		Enabled: true,
		Regions: []template.Region{region("R1", 0, 0, 8, 8)},
	})
	got := res.Payloads["R1"]
	want := []string{"A", "B", "C"}
	if len(got) != len(want) {
		t.Fatalf("payloads = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("payloads = %v, want %v", got, want)
		}
	}
}

func TestPipeline_DecoderFaultDoesNotAbort(t *testing.T) {
	broken := &stubDecoder{name: "broken", fail: errors.New("backend fault")}
	good := &stubDecoder{name: "good", payloads: []string{"OK-1"}}
	var calls int
	p := NewPipeline(discardLogger(), PipelineOptions{
		Decoders: []Decoder{broken, good},
		Variants: []Variant{markVariant("v", 1, &calls)},
	})
	res := p.Run(monoFrame(16, 16, 10), template.CCD2Config{
		Enabled: true,
		Regions: []template.Region{region("R1", 0, 0, 8, 8)},
	})
	if !res.Success {
		t.Error("single backend fault must not fail the run")
	}
	if got := res.Payloads["R1"]; len(got) != 1 || got[0] != "OK-1" {
		t.Errorf("payloads = %v", got)
	}
}

func TestPipeline_WritesDebugDumps(t *testing.T) {
	dir := t.TempDir()
	dec := &stubDecoder{name: "stub", payloads: []string{"X"}}
	var calls int
	p := NewPipeline(discardLogger(), PipelineOptions{
		Decoders: []Decoder{dec},
		Variants: []Variant{markVariant("v1", 1, &calls)},
		DebugDir: dir,
	})
	p.Run(monoFrame(16, 16, 10), template.CCD2Config{
		Enabled: true,
		Regions: []template.Region{region("R1", 0, 0, 8, 8)},
	})
	matches, err := filepath.Glob(filepath.Join(dir, "*_R1_v1_attempt1.png"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 1 {
		t.Errorf("dump files = %v, want exactly one", matches)
	}
}

func TestPipeline_EmptyFrame(t *testing.T) {
	p := NewPipeline(discardLogger(), PipelineOptions{
		Decoders: []Decoder{&stubDecoder{name: "stub"}},
		Variants: []Variant{{Name: "v", Apply: cloneGray}},
	})
	res := p.Run(camera.Frame{}, template.CCD2Config{
		Enabled: true,
		Regions: []template.Region{region("R1", 0, 0, 8, 8)},
	})
	if res.Success {
		t.Error("empty frame must fail the run")
	}
}
