package decode

import (
	"image"
	"math"
)

// Variant is one preprocessing recipe. Apply never mutates its input and
// always returns a fresh image of the same dimensions.
type Variant struct {
	Name  string
	Apply func(*image.Gray) *image.Gray
}

// DefaultVariants returns the preprocessing chain in priority order. The
// order encodes field tuning: the contrast-equalized adaptive binarization
// recipes resolve the most marks, the raw image catches clean prints, and
// the remaining recipes mop up unusual lighting and inverted marks.
func DefaultVariants() []Variant {
	return []Variant{
		{"testbase_full", func(g *image.Gray) *image.Gray {
			return morphClose3(adaptiveThreshold(medianBlur3(clahe(g, 2.0)), 31, 5))
		}},
		{"testbase_no_morph", func(g *image.Gray) *image.Gray {
			return adaptiveThreshold(medianBlur3(clahe(g, 2.0)), 31, 5)
		}},
		{"testbase_clahe", func(g *image.Gray) *image.Gray {
			return clahe(g, 2.0)
		}},
		{"original", func(g *image.Gray) *image.Gray {
			return cloneGray(g)
		}},
		{"clahe_denoise_binary", func(g *image.Gray) *image.Gray {
			return otsuThreshold(boxDenoise(clahe(g, 3.0)))
		}},
		{"invert_clahe_denoise_binary", func(g *image.Gray) *image.Gray {
			return otsuThreshold(boxDenoise(clahe(invert(g), 3.0)))
		}},
		{"clahe_binary", func(g *image.Gray) *image.Gray {
			return otsuThreshold(clahe(g, 3.0))
		}},
		{"denoise_clahe_binary", func(g *image.Gray) *image.Gray {
			return otsuThreshold(clahe(boxDenoise(g), 3.0))
		}},
		{"invert_only", func(g *image.Gray) *image.Gray {
			return invert(g)
		}},
		{"adaptive_thresh", func(g *image.Gray) *image.Gray {
			return adaptiveThreshold(g, 11, 2)
		}},
		{"otsu_thresh", func(g *image.Gray) *image.Gray {
			return otsuThreshold(g)
		}},
		{"clahe_only", func(g *image.Gray) *image.Gray {
			return clahe(g, 3.0)
		}},
	}
}

func cloneGray(src *image.Gray) *image.Gray {
	out := image.NewGray(src.Rect)
	copy(out.Pix, src.Pix)
	return out
}

func invert(src *image.Gray) *image.Gray {
	out := image.NewGray(src.Rect)
	for i, v := range src.Pix {
		out.Pix[i] = 255 - v
	}
	return out
}

const claheTiles = 8

// clahe performs contrast limited adaptive histogram equalization over an
// 8x8 tile grid. Each tile's histogram is clipped at clip times the uniform
// bin height, the excess is redistributed evenly, and per-pixel values are
// bilinearly interpolated between the four surrounding tile lookup tables.
func clahe(src *image.Gray, clip float64) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return out
	}
	tx, ty := claheTiles, claheTiles
	if tx > w {
		tx = w
	}
	if ty > h {
		ty = h
	}
	xb := tileBounds(w, tx)
	yb := tileBounds(h, ty)

	luts := make([][]uint8, tx*ty)
	for j := 0; j < ty; j++ {
		for i := 0; i < tx; i++ {
			luts[j*tx+i] = tileLUT(src, xb[i], yb[j], xb[i+1], yb[j+1], clip)
		}
	}

	xi0, xi1, xw := axisWeights(w, xb)
	yi0, yi1, yw := axisWeights(h, yb)

	for y := 0; y < h; y++ {
		wy := yw[y]
		top := yi0[y] * tx
		bot := yi1[y] * tx
		srcRow := src.Pix[y*src.Stride:]
		outRow := out.Pix[y*out.Stride:]
		for x := 0; x < w; x++ {
			v := srcRow[x]
			wx := xw[x]
			tl := float64(luts[top+xi0[x]][v])
			tr := float64(luts[top+xi1[x]][v])
			bl := float64(luts[bot+xi0[x]][v])
			br := float64(luts[bot+xi1[x]][v])
			val := (tl*(1-wx)+tr*wx)*(1-wy) + (bl*(1-wx)+br*wx)*wy
			outRow[x] = uint8(math.Round(val))
		}
	}
	return out
}

// tileBounds splits n pixels into tiles boundaries so every tile holds at
// least one pixel and the grid covers the axis exactly.
func tileBounds(n, tiles int) []int {
	b := make([]int, tiles+1)
	for i := 0; i <= tiles; i++ {
		b[i] = i * n / tiles
	}
	return b
}

// tileLUT builds the clipped equalization lookup table for one tile.
func tileLUT(src *image.Gray, x0, y0, x1, y1 int, clip float64) []uint8 {
	var hist [256]float64
	for y := y0; y < y1; y++ {
		row := src.Pix[y*src.Stride:]
		for x := x0; x < x1; x++ {
			hist[row[x]]++
		}
	}
	area := float64((x1 - x0) * (y1 - y0))
	limit := clip * area / 256
	if limit < 1 {
		limit = 1
	}
	var excess float64
	for i := range hist {
		if hist[i] > limit {
			excess += hist[i] - limit
			hist[i] = limit
		}
	}
	share := excess / 256
	lut := make([]uint8, 256)
	var cdf float64
	for i := range hist {
		cdf += hist[i] + share
		lut[i] = uint8(math.Round(255 * cdf / area))
	}
	return lut
}

// axisWeights precomputes, per coordinate, the two tile indices to blend
// and the weight of the second one. Coordinates outside the first and last
// tile centers clamp to the edge tile.
func axisWeights(n int, bounds []int) (i0, i1 []int, wt []float64) {
	tiles := len(bounds) - 1
	centers := make([]float64, tiles)
	for i := 0; i < tiles; i++ {
		centers[i] = (float64(bounds[i])+float64(bounds[i+1]))/2 - 0.5
	}
	i0 = make([]int, n)
	i1 = make([]int, n)
	wt = make([]float64, n)
	for p := 0; p < n; p++ {
		fp := float64(p)
		switch {
		case fp <= centers[0]:
			// leave zeroes
		case fp >= centers[tiles-1]:
			i0[p], i1[p] = tiles-1, tiles-1
		default:
			k := 0
			for centers[k+1] < fp {
				k++
			}
			i0[p], i1[p] = k, k+1
			wt[p] = (fp - centers[k]) / (centers[k+1] - centers[k])
		}
	}
	return i0, i1, wt
}

// neighborhood3 gathers the 3x3 neighborhood of (x, y) with edge pixels
// replicated.
func neighborhood3(src *image.Gray, x, y int, dst *[9]uint8) {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	i := 0
	for dy := -1; dy <= 1; dy++ {
		sy := y + dy
		if sy < 0 {
			sy = 0
		} else if sy >= h {
			sy = h - 1
		}
		row := src.Pix[sy*src.Stride:]
		for dx := -1; dx <= 1; dx++ {
			sx := x + dx
			if sx < 0 {
				sx = 0
			} else if sx >= w {
				sx = w - 1
			}
			dst[i] = row[sx]
			i++
		}
	}
}

func medianBlur3(src *image.Gray) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	var n [9]uint8
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			neighborhood3(src, x, y, &n)
			// insertion sort, median at index 4
			for i := 1; i < 9; i++ {
				v := n[i]
				j := i - 1
				for j >= 0 && n[j] > v {
					n[j+1] = n[j]
					j--
				}
				n[j+1] = v
			}
			out.Pix[y*out.Stride+x] = n[4]
		}
	}
	return out
}

// boxDenoise is a 3x3 mean filter, a cheap stand-in for heavier non-local
// denoising that behaves well on dot-peened marks.
func boxDenoise(src *image.Gray) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	var n [9]uint8
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			neighborhood3(src, x, y, &n)
			sum := 0
			for _, v := range n {
				sum += int(v)
			}
			out.Pix[y*out.Stride+x] = uint8((sum + 4) / 9)
		}
	}
	return out
}

// adaptiveThreshold binarizes against the local mean of a block x block
// window: pixels brighter than mean-c become white.
func adaptiveThreshold(src *image.Gray, block, c int) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return out
	}
	integral := make([]int64, (w+1)*(h+1))
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride:]
		var rowSum int64
		for x := 0; x < w; x++ {
			rowSum += int64(row[x])
			integral[(y+1)*(w+1)+x+1] = integral[y*(w+1)+x+1] + rowSum
		}
	}
	r := block / 2
	for y := 0; y < h; y++ {
		y0, y1 := y-r, y+r+1
		if y0 < 0 {
			y0 = 0
		}
		if y1 > h {
			y1 = h
		}
		srcRow := src.Pix[y*src.Stride:]
		outRow := out.Pix[y*out.Stride:]
		for x := 0; x < w; x++ {
			x0, x1 := x-r, x+r+1
			if x0 < 0 {
				x0 = 0
			}
			if x1 > w {
				x1 = w
			}
			sum := integral[y1*(w+1)+x1] - integral[y0*(w+1)+x1] -
				integral[y1*(w+1)+x0] + integral[y0*(w+1)+x0]
			area := int64((y1 - y0) * (x1 - x0))
			if int64(srcRow[x])*area > sum-int64(c)*area {
				outRow[x] = 255
			}
		}
	}
	return out
}

// otsuThreshold binarizes at the global threshold that maximizes
// between-class variance.
func otsuThreshold(src *image.Gray) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	total := w * h
	if total == 0 {
		return out
	}
	var hist [256]int
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride:]
		for x := 0; x < w; x++ {
			hist[row[x]]++
		}
	}
	var sumAll float64
	for i, c := range hist {
		sumAll += float64(i * c)
	}
	var sumB, wB float64
	var best float64
	thresh := 0
	for t := 0; t < 256; t++ {
		wB += float64(hist[t])
		if wB == 0 {
			continue
		}
		wF := float64(total) - wB
		if wF == 0 {
			break
		}
		sumB += float64(t * hist[t])
		mB := sumB / wB
		mF := (sumAll - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			thresh = t
		}
	}
	for y := 0; y < h; y++ {
		srcRow := src.Pix[y*src.Stride:]
		outRow := out.Pix[y*out.Stride:]
		for x := 0; x < w; x++ {
			if int(srcRow[x]) > thresh {
				outRow[x] = 255
			}
		}
	}
	return out
}

// morphClose3 closes dark pinholes in bright structures: a 3x3 dilation
// followed by a 3x3 erosion.
func morphClose3(src *image.Gray) *image.Gray {
	return erode3(dilate3(src))
}

func dilate3(src *image.Gray) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	var n [9]uint8
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			neighborhood3(src, x, y, &n)
			m := n[0]
			for _, v := range n[1:] {
				if v > m {
					m = v
				}
			}
			out.Pix[y*out.Stride+x] = m
		}
	}
	return out
}

func erode3(src *image.Gray) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	var n [9]uint8
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			neighborhood3(src, x, y, &n)
			m := n[0]
			for _, v := range n[1:] {
				if v < m {
					m = v
				}
			}
			out.Pix[y*out.Stride+x] = m
		}
	}
	return out
}
