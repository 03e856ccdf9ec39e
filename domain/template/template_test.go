package template

import (
	"testing"
)

func TestDecode_CurrentSchemaRoundTrip(t *testing.T) {
	in := &InspectionTemplate{
		Name:        "panel-a",
		Description: "front panel",
		CCD1: CCD1Config{
			Enabled:            true,
			ROI:                Region{Name: "roi", X: 10, Y: 20, Width: 100, Height: 80},
			MatchThreshold:     0.85,
			ReferenceImagePath: "panel-a_ref.png",
		},
		CCD2: CCD2Config{
			Enabled: true,
			Regions: []Region{
				{Name: "R1", X: 0, Y: 0, Width: 50, Height: 50, Enabled: true, DecodeEnabled: true},
				{Name: "R2", X: 60, Y: 0, Width: 50, Height: 50, Enabled: true},
			},
			ReferenceWidth:  640,
			ReferenceHeight: 480,
		},
		SchemaVersion: SchemaVersion,
	}
	data, err := in.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Name != in.Name || out.CCD1.MatchThreshold != 0.85 {
		t.Errorf("round trip lost fields: %+v", out)
	}
	if len(out.CCD2.Regions) != 2 || out.CCD2.Regions[0].Name != "R1" {
		t.Errorf("regions: %+v", out.CCD2.Regions)
	}
	if out.CCD2.Regions[1].DecodeEnabled {
		t.Error("R2 decode flag gained on round trip")
	}
}

func TestDecode_MigratesLegacyFlatRegions(t *testing.T) {
	legacy := []byte(`{
		"name": "old-line",
		"crop_regions": {"C1": [5, 5, 30, 30]},
		"barcode_regions": {"B1": [0, 0, 64, 64], "B2": [70, 0, 64, 64]},
		"schema_version": 1
	}`)
	out, err := Decode(legacy)
	if err != nil {
		t.Fatalf("decode legacy: %v", err)
	}
	if !out.CCD2.Enabled {
		t.Error("ccd2 should enable when migrated regions exist")
	}
	if len(out.CCD2.Regions) != 3 {
		t.Fatalf("migrated %d regions, want 3: %+v", len(out.CCD2.Regions), out.CCD2.Regions)
	}
	byName := map[string]Region{}
	for _, r := range out.CCD2.Regions {
		byName[r.Name] = r
	}
	b1 := byName["B1"]
	if !b1.Enabled || !b1.DecodeEnabled {
		t.Errorf("barcode region flags: %+v", b1)
	}
	if b1.X != 0 || b1.Y != 0 || b1.Width != 64 || b1.Height != 64 {
		t.Errorf("barcode region geometry: %+v", b1)
	}
	c1 := byName["C1"]
	if !c1.Enabled || c1.DecodeEnabled {
		t.Errorf("crop-only region must not decode: %+v", c1)
	}
	if out.SchemaVersion != SchemaVersion {
		t.Errorf("schema version %d after migration, want %d", out.SchemaVersion, SchemaVersion)
	}
}

func TestDecode_ScanBarcodeFalseDisablesDecode(t *testing.T) {
	legacy := []byte(`{
		"name": "crop-only-line",
		"barcode_regions": {"B1": [0, 0, 64, 64]},
		"scan_barcode": false
	}`)
	out, err := Decode(legacy)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	r, ok := out.Region("B1")
	if !ok {
		t.Fatal("B1 missing after migration")
	}
	if r.DecodeEnabled {
		t.Error("scan_barcode=false must disable decoding on migrated regions")
	}
}

func TestDecode_EmptyLegacyRecord(t *testing.T) {
	out, err := Decode([]byte(`{"name": "bare"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.CCD2.Enabled || len(out.CCD2.Regions) != 0 {
		t.Errorf("bare record should migrate to a disabled empty ccd2: %+v", out.CCD2)
	}
}

func TestClampRegion(t *testing.T) {
	cases := []struct {
		name       string
		r          Region
		fw, fh     int
		ok         bool
		x, y, w, h int
	}{
		{"inside", Region{X: 10, Y: 10, Width: 20, Height: 20}, 100, 100, true, 10, 10, 20, 20},
		{"oversized", Region{X: 0, Y: 0, Width: 100, Height: 100}, 50, 50, true, 0, 0, 50, 50},
		{"negative origin", Region{X: -5, Y: -7, Width: 20, Height: 20}, 100, 100, true, 0, 0, 20, 20},
		{"origin past edge", Region{X: 200, Y: 200, Width: 10, Height: 10}, 100, 100, true, 99, 99, 1, 1},
		{"zero size", Region{X: 10, Y: 10, Width: 0, Height: 0}, 100, 100, true, 10, 10, 1, 1},
		{"spans right edge", Region{X: 90, Y: 0, Width: 50, Height: 10}, 100, 100, true, 90, 0, 10, 10},
		{"empty frame", Region{X: 0, Y: 0, Width: 10, Height: 10}, 0, 100, false, 0, 0, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ClampRegion(tc.r, tc.fw, tc.fh)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if !ok {
				return
			}
			if got.X != tc.x || got.Y != tc.y || got.Width != tc.w || got.Height != tc.h {
				t.Errorf("clamped to (%d,%d,%d,%d), want (%d,%d,%d,%d)",
					got.X, got.Y, got.Width, got.Height, tc.x, tc.y, tc.w, tc.h)
			}
			if got.X < 0 || got.Y < 0 || got.X+got.Width > tc.fw || got.Y+got.Height > tc.fh {
				t.Errorf("clamped region (%d,%d,%d,%d) escapes %dx%d frame",
					got.X, got.Y, got.Width, got.Height, tc.fw, tc.fh)
			}
		})
	}
}

func TestNormalize_DropsDuplicateRegions(t *testing.T) {
	tpl := &InspectionTemplate{
		CCD2: CCD2Config{Regions: []Region{
			{Name: "R1", X: 1},
			{Name: "R2"},
			{Name: "R1", X: 99},
			{Name: ""},
		}},
		CCD1: CCD1Config{MatchThreshold: 1.5},
	}
	tpl.Normalize()
	if len(tpl.CCD2.Regions) != 2 {
		t.Fatalf("regions after normalize: %+v", tpl.CCD2.Regions)
	}
	if tpl.CCD2.Regions[0].X != 1 {
		t.Error("first duplicate must win")
	}
	if tpl.CCD1.MatchThreshold != 1 {
		t.Errorf("threshold %v, want clamped to 1", tpl.CCD1.MatchThreshold)
	}
}
