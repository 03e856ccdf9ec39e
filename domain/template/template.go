package template

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// SchemaVersion is stamped into records on save. Version 1 records carried
// flat crop/barcode region maps and are migrated on load.
const SchemaVersion = 2

// Region is a named sub-rectangle of a frame. Coordinates are clamped to
// frame bounds at inspection time, never validated at load time: a region
// that clamps empty is skipped, not rejected.
type Region struct {
	Name          string `json:"name"`
	X             int    `json:"x"`
	Y             int    `json:"y"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	Enabled       bool   `json:"enabled"`
	DecodeEnabled bool   `json:"decode_enabled"`
}

// CCD1Config is the positional pattern matching setup.
type CCD1Config struct {
	Enabled            bool    `json:"enabled"`
	ROI                Region  `json:"roi"`
	MatchThreshold     float64 `json:"match_threshold"`
	ReferenceImagePath string  `json:"reference_image_path"`
}

// CCD2Config is the region decode setup. Regions keep their list order; the
// pipeline inspects them first to last.
type CCD2Config struct {
	Enabled         bool     `json:"enabled"`
	Regions         []Region `json:"regions"`
	ReferenceWidth  int      `json:"reference_width"`
	ReferenceHeight int      `json:"reference_height"`
}

// InspectionTemplate is one named, persisted inspection configuration.
// Exactly one template is current per running session; edits build a new
// value and swap it in, never mutate a shared one.
type InspectionTemplate struct {
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	CCD1          CCD1Config `json:"ccd1"`
	CCD2          CCD2Config `json:"ccd2"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	SchemaVersion int        `json:"schema_version"`
}

// Clone returns a deep copy safe to edit while the original stays current.
func (t *InspectionTemplate) Clone() *InspectionTemplate {
	out := *t
	out.CCD2.Regions = make([]Region, len(t.CCD2.Regions))
	copy(out.CCD2.Regions, t.CCD2.Regions)
	return &out
}

// Region returns the named CCD2 region and whether it exists.
func (t *InspectionTemplate) Region(name string) (Region, bool) {
	for _, r := range t.CCD2.Regions {
		if r.Name == name {
			return r, true
		}
	}
	return Region{}, false
}

// Normalize drops duplicate region names (first wins) and clamps the match
// threshold into [0,1].
func (t *InspectionTemplate) Normalize() {
	seen := make(map[string]bool, len(t.CCD2.Regions))
	out := t.CCD2.Regions[:0]
	for _, r := range t.CCD2.Regions {
		if r.Name == "" || seen[r.Name] {
			continue
		}
		seen[r.Name] = true
		out = append(out, r)
	}
	t.CCD2.Regions = out
	if t.CCD1.MatchThreshold < 0 {
		t.CCD1.MatchThreshold = 0
	}
	if t.CCD1.MatchThreshold > 1 {
		t.CCD1.MatchThreshold = 1
	}
}

// ClampRegion fits r into a frameW x frameH frame. The clamped rectangle is
// never empty for a valid frame: x lands inside the frame and width/height
// shrink to the remaining span, with a 1px floor. ok is false when the frame
// itself has no area, in which case the region must be skipped.
func ClampRegion(r Region, frameW, frameH int) (Region, bool) {
	if frameW <= 0 || frameH <= 0 {
		return Region{Name: r.Name}, false
	}
	out := r
	if out.X < 0 {
		out.X = 0
	}
	if out.X > frameW-1 {
		out.X = frameW - 1
	}
	if out.Y < 0 {
		out.Y = 0
	}
	if out.Y > frameH-1 {
		out.Y = frameH - 1
	}
	if out.Width > frameW-out.X {
		out.Width = frameW - out.X
	}
	if out.Width < 1 {
		out.Width = 1
	}
	if out.Height > frameH-out.Y {
		out.Height = frameH - out.Y
	}
	if out.Height < 1 {
		out.Height = 1
	}
	return out, true
}

// record is the on-disk shape, including the legacy version 1 fields.
type record struct {
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	CCD1           *CCD1Config       `json:"ccd1,omitempty"`
	CCD2           *CCD2Config       `json:"ccd2,omitempty"`
	CropRegions    map[string][4]int `json:"crop_regions,omitempty"`
	BarcodeRegions map[string][4]int `json:"barcode_regions,omitempty"`
	ScanBarcode    *bool             `json:"scan_barcode,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	SchemaVersion  int               `json:"schema_version"`
}

// Decode parses a persisted record, migrating version 1 layouts: flat
// crop/barcode region maps fold into ccd2.regions, an absent scan_barcode
// flag means scanning stays on, and ccd2 is enabled when any region exists.
func Decode(data []byte) (*InspectionTemplate, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	t := &InspectionTemplate{
		Name:          rec.Name,
		Description:   rec.Description,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
		SchemaVersion: rec.SchemaVersion,
	}
	if rec.CCD1 != nil {
		t.CCD1 = *rec.CCD1
	}
	if rec.CCD2 != nil {
		t.CCD2 = *rec.CCD2
	} else {
		t.CCD2 = migrateFlatRegions(rec)
		if t.SchemaVersion < SchemaVersion {
			t.SchemaVersion = SchemaVersion
		}
	}
	t.Normalize()
	return t, nil
}

// Encode renders the current schema. Legacy fields are never written back.
func (t *InspectionTemplate) Encode() ([]byte, error) {
	rec := record{
		Name:          t.Name,
		Description:   t.Description,
		CCD1:          &t.CCD1,
		CCD2:          &t.CCD2,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
		SchemaVersion: t.SchemaVersion,
	}
	return json.MarshalIndent(&rec, "", "  ")
}

func migrateFlatRegions(rec record) CCD2Config {
	scan := true
	if rec.ScanBarcode != nil {
		scan = *rec.ScanBarcode
	}
	regions := make([]Region, 0, len(rec.BarcodeRegions)+len(rec.CropRegions))
	for _, name := range sortedKeys(rec.BarcodeRegions) {
		c := rec.BarcodeRegions[name]
		regions = append(regions, Region{
			Name: name, X: c[0], Y: c[1], Width: c[2], Height: c[3],
			Enabled: true, DecodeEnabled: scan,
		})
	}
	for _, name := range sortedKeys(rec.CropRegions) {
		if _, dup := rec.BarcodeRegions[name]; dup {
			continue
		}
		c := rec.CropRegions[name]
		regions = append(regions, Region{
			Name: name, X: c[0], Y: c[1], Width: c[2], Height: c[3],
			Enabled: true, DecodeEnabled: false,
		})
	}
	return CCD2Config{Enabled: len(regions) > 0, Regions: regions}
}

func sortedKeys(m map[string][4]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
