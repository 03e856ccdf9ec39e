//go:build !windows

package camera

// NewMVSSource is unavailable off Windows; the vendor runtime only ships
// there. Deployments on other platforms use the mock or screen source.
func NewMVSSource(id string, index int, serial string) (FrameSource, error) {
	return nil, ErrVendorUnavailable
}
