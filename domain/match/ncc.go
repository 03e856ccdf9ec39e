package match

import (
	"fmt"
	"image"
	"log/slog"
	"math"
	"os"
	"sync"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"
)

// refPrecomp caches grayscale pixels and summary statistics for a reference
// image scaled to a target window size.
type refPrecomp struct {
	gray  []float32
	W, H  int
	meanT float64
	stdT  float64
}

// refKey identifies a cached precomp. The mtime field invalidates entries
// when the file on disk is replaced between inspections.
type refKey struct {
	path  string
	mtime int64
	w, h  int
}

var (
	refCacheMu sync.RWMutex
	refCache   = map[refKey]*refPrecomp{}
)

// refPrecompFor returns a cached refPrecomp for the reference at path, scaled
// to w x h, or loads, converts and caches a new one.
func refPrecompFor(path string, w, h int, logger *slog.Logger) (*refPrecomp, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("window %dx%d has no area", w, h)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat reference: %w", err)
	}
	key := refKey{path: path, mtime: info.ModTime().UnixNano(), w: w, h: h}
	refCacheMu.RLock()
	pc := refCache[key]
	refCacheMu.RUnlock()
	if pc != nil {
		return pc, nil
	}
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open reference: %w", err)
	}
	gray := grayFromImage(img)
	gb := gray.Bounds()
	if gb.Dx() == 0 || gb.Dy() == 0 {
		return nil, fmt.Errorf("reference %s is empty", path)
	}
	if gb.Dx() != w || gb.Dy() != h {
		logger.Warn("reference resized to window",
			"path", path,
			"reference_width", gb.Dx(), "reference_height", gb.Dy(),
			"width", w, "height", h)
		gray = resizeGray(gray, w, h)
	}
	pc = buildRefPrecomp(gray)
	refCacheMu.Lock()
	// Double-check another goroutine didn't insert meanwhile; keep first to avoid duplicate slices.
	if existing := refCache[key]; existing == nil {
		refCache[key] = pc
	} else {
		pc = existing
	}
	refCacheMu.Unlock()
	return pc, nil
}

func buildRefPrecomp(g *image.Gray) *refPrecomp {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	gray := make([]float32, w*h)
	var sumT, sumT2 float64
	for y := 0; y < h; y++ {
		row := g.Pix[g.PixOffset(b.Min.X, b.Min.Y+y):]
		for x := 0; x < w; x++ {
			v := float64(row[x])
			gray[y*w+x] = float32(v)
			sumT += v
			sumT2 += v * v
		}
	}
	n := float64(w * h)
	meanT := sumT / n
	varT := (sumT2 - sumT*sumT/n) / n
	stdT := 0.0
	if varT > 0 {
		stdT = math.Sqrt(varT)
	}
	return &refPrecomp{gray: gray, W: w, H: h, meanT: meanT, stdT: stdT}
}

// grayFromImage converts an arbitrary decoded image to 8-bit grayscale using
// Rec. 709 luma weights.
func grayFromImage(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, bb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			luma := 0.2126*float64(r) + 0.7152*float64(g) + 0.0722*float64(bb)
			out.Pix[y*out.Stride+x] = uint8(luma / 257)
		}
	}
	return out
}

func resizeGray(src *image.Gray, w, h int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, w, h))
	xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}

// scoreNCC computes the normalized cross-correlation between a window and a
// reference precomp of identical dimensions, aligned at the origin. The
// result is clamped to [-1, 1]. Flat inputs are handled explicitly: two flat
// images score 1 when their means agree and 0 otherwise, a single flat input
// scores 0.
func scoreNCC(win *image.Gray, pc *refPrecomp) float64 {
	b := win.Bounds()
	w, h := b.Dx(), b.Dy()
	if w != pc.W || h != pc.H || w == 0 || h == 0 {
		return 0
	}
	n := float64(w * h)
	var sumF, sumF2, sumFT float64
	for y := 0; y < h; y++ {
		row := win.Pix[win.PixOffset(b.Min.X, b.Min.Y+y):]
		for x := 0; x < w; x++ {
			f := float64(row[x])
			sumF += f
			sumF2 += f * f
			sumFT += f * float64(pc.gray[y*w+x])
		}
	}
	meanF := sumF / n
	varF := (sumF2 - sumF*sumF/n) / n
	stdF := 0.0
	if varF > 0 {
		stdF = math.Sqrt(varF)
	}
	const eps = 1e-9
	if stdF <= eps && pc.stdT <= eps {
		if math.Abs(meanF-pc.meanT) <= eps {
			return 1
		}
		return 0
	}
	if stdF <= eps || pc.stdT <= eps {
		return 0
	}
	score := (sumFT - n*meanF*pc.meanT) / (n * stdF * pc.stdT)
	if score > 1 {
		score = 1
	} else if score < -1 {
		score = -1
	}
	return score
}
