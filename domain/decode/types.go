// Package decode runs configured frame regions through a prioritized chain
// of preprocessing variants and barcode readers. Industrial marks are often
// low-contrast or dot-peened, so each region is retried with progressively
// more aggressive image cleanup until a reader produces a payload.
package decode

import "image"

// Decoder reads zero or more payloads out of a preprocessed grayscale
// region. A miss returns (nil, nil); an error means the backend itself
// faulted.
type Decoder interface {
	Name() string
	Decode(img *image.Gray) ([]string, error)
}

// RegionOutcome describes what happened to a single region during one run.
type RegionOutcome struct {
	Region    string
	Attempted bool
	Payloads  []string
	Variant   string
	Attempts  int
}

// PipelineResult aggregates one frame's worth of region outcomes. Success
// reports that the pipeline itself ran; an empty Payloads map is the normal
// "no code found" outcome, not a failure.
type PipelineResult struct {
	Success  bool
	Payloads map[string][]string
	Outcomes []RegionOutcome
}

// Decoded reports whether any region produced at least one payload.
func (r PipelineResult) Decoded() bool {
	for _, p := range r.Payloads {
		if len(p) > 0 {
			return true
		}
	}
	return false
}

// PrimaryPayload returns the first payload of the first region that
// decoded, in region list order.
func (r PipelineResult) PrimaryPayload() string {
	for _, o := range r.Outcomes {
		if len(o.Payloads) > 0 {
			return o.Payloads[0]
		}
	}
	return ""
}
