package scorers

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/webp"
	"gonum.org/v1/gonum/stat"

	"guardian/internal/pipeline"
)

// hsvRange is an inclusive OpenCV-style HSV range (H 0-180, S and V 0-255)
type hsvRange struct {
	lo, hi [3]uint8
}

var fireRanges = []hsvRange{
	{lo: [3]uint8{0, 100, 100}, hi: [3]uint8{20, 255, 255}},   // red-orange
	{lo: [3]uint8{20, 100, 100}, hi: [3]uint8{30, 255, 255}},  // yellow
	{lo: [3]uint8{170, 100, 100}, hi: [3]uint8{180, 255, 255}}, // bright red
}

var smokeRanges = []hsvRange{
	{lo: [3]uint8{0, 0, 120}, hi: [3]uint8{180, 25, 180}}, // light gray
	{lo: [3]uint8{0, 0, 60}, hi: [3]uint8{180, 40, 140}},  // dark gray
	{lo: [3]uint8{0, 0, 140}, hi: [3]uint8{180, 20, 200}}, // thin smoke
}

const (
	morphKernel   = 5
	edgeMagnitude = 100.0
)

// workFrame is a decoded frame at working resolution
type workFrame struct {
	w, h  int
	scale float64 // working / original width
	hue   []uint8
	sat   []uint8
	val   []uint8
	gray  []uint8
}

// decodeFrame decodes a raw frame according to its declared format
func decodeFrame(f *pipeline.RawFrame) (image.Image, error) {
	if f == nil || len(f.Data) == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	r := bytes.NewReader(f.Data)
	var (
		img image.Image
		err error
	)
	switch strings.ToLower(f.Format) {
	case "jpeg", "jpg":
		img, err = jpeg.Decode(r)
	case "png":
		img, err = png.Decode(r)
	case "webp":
		img, err = webp.Decode(r)
	case "":
		img, _, err = image.Decode(r)
	default:
		return nil, fmt.Errorf("unsupported frame format %q", f.Format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s frame: %w", f.Format, err)
	}
	return img, nil
}

// newWorkFrame downscales img to at most width pixels wide and converts it
// to HSV and gray planes
func newWorkFrame(img image.Image, width int) *workFrame {
	src := img.Bounds()
	w, h := src.Dx(), src.Dy()
	scale := 1.0
	if width > 0 && w > width {
		scale = float64(width) / float64(w)
		w = width
		h = max(1, int(math.Round(float64(h)*scale)))
	}

	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	if scale == 1.0 {
		draw.Draw(rgba, rgba.Bounds(), img, src.Min, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(rgba, rgba.Bounds(), img, src, draw.Src, nil)
	}

	wf := &workFrame{
		w:     w,
		h:     h,
		scale: scale,
		hue:   make([]uint8, w*h),
		sat:   make([]uint8, w*h),
		val:   make([]uint8, w*h),
		gray:  make([]uint8, w*h),
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := y*rgba.Stride + x*4
			r, g, b := rgba.Pix[off], rgba.Pix[off+1], rgba.Pix[off+2]
			i := y*w + x
			wf.hue[i], wf.sat[i], wf.val[i] = rgbToHSV(r, g, b)
			wf.gray[i] = uint8((299*int(r) + 587*int(g) + 114*int(b)) / 1000)
		}
	}
	return wf
}

// rgbToHSV converts to OpenCV's 8-bit HSV encoding
func rgbToHSV(r, g, b uint8) (uint8, uint8, uint8) {
	rf, gf, bf := float64(r), float64(g), float64(b)
	v := math.Max(rf, math.Max(gf, bf))
	mn := math.Min(rf, math.Min(gf, bf))
	diff := v - mn

	s := 0.0
	if v > 0 {
		s = diff / v * 255
	}

	hue := 0.0
	if diff > 0 {
		switch v {
		case rf:
			hue = 60 * (gf - bf) / diff
		case gf:
			hue = 120 + 60*(bf-rf)/diff
		default:
			hue = 240 + 60*(rf-gf)/diff
		}
		if hue < 0 {
			hue += 360
		}
	}
	return uint8(math.Round(hue / 2)), uint8(math.Round(s)), uint8(v)
}

// mask marks pixels falling inside any of the ranges
func (wf *workFrame) mask(ranges []hsvRange) []bool {
	m := make([]bool, wf.w*wf.h)
	for i := range m {
		h, s, v := wf.hue[i], wf.sat[i], wf.val[i]
		for _, r := range ranges {
			if h >= r.lo[0] && h <= r.hi[0] && s >= r.lo[1] && s <= r.hi[1] && v >= r.lo[2] && v <= r.hi[2] {
				m[i] = true
				break
			}
		}
	}
	return m
}

// morph applies a square-kernel dilation (grow=true) or erosion. Pixels
// outside the image are ignored.
func morph(m []bool, w, h, k int, grow bool) []bool {
	r := k / 2
	tmp := make([]bool, len(m))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			tmp[y*w+x] = windowHit(m, y*w, x, w, r, 1, grow)
		}
	}
	out := make([]bool, len(m))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out[y*w+x] = windowHit(tmp, x, y, h, r, w, grow)
		}
	}
	return out
}

// windowHit scans a 1D window of radius r along a line starting at base
// with the given stride. Dilation reports any set pixel, erosion requires
// all pixels set.
func windowHit(m []bool, base, pos, n, r, stride int, grow bool) bool {
	for d := -r; d <= r; d++ {
		p := pos + d
		if p < 0 || p >= n {
			continue
		}
		set := m[base+p*stride]
		if grow && set {
			return true
		}
		if !grow && !set {
			return false
		}
	}
	return !grow
}

// closeOpen runs a morphological close followed by an open
func closeOpen(m []bool, w, h int) []bool {
	m = morph(m, w, h, morphKernel, true)
	m = morph(m, w, h, morphKernel, false)
	m = morph(m, w, h, morphKernel, false)
	return morph(m, w, h, morphKernel, true)
}

// component is one 8-connected blob of a mask
type component struct {
	area                   int
	minX, minY, maxX, maxY int
}

func (c component) rect() image.Rectangle {
	return image.Rect(c.minX, c.minY, c.maxX+1, c.maxY+1)
}

// components labels 8-connected blobs
func components(m []bool, w, h int) []component {
	seen := make([]bool, len(m))
	var out []component
	queue := make([]int, 0, 64)

	for start := range m {
		if !m[start] || seen[start] {
			continue
		}
		c := component{minX: w, minY: h, maxX: -1, maxY: -1}
		seen[start] = true
		queue = append(queue[:0], start)
		for len(queue) > 0 {
			i := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			x, y := i%w, i/w
			c.area++
			c.minX, c.maxX = min(c.minX, x), max(c.maxX, x)
			c.minY, c.maxY = min(c.minY, y), max(c.maxY, y)

			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					j := ny*w + nx
					if m[j] && !seen[j] {
						seen[j] = true
						queue = append(queue, j)
					}
				}
			}
		}
		out = append(out, c)
	}
	return out
}

// colorStats computes HSV means and population standard deviations over a
// rectangle of the working frame
func (wf *workFrame) colorStats(r image.Rectangle) pipeline.ColorStats {
	n := r.Dx() * r.Dy()
	hue := make([]float64, 0, n)
	sat := make([]float64, 0, n)
	val := make([]float64, 0, n)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			i := y*wf.w + x
			hue = append(hue, float64(wf.hue[i]))
			sat = append(sat, float64(wf.sat[i]))
			val = append(val, float64(wf.val[i]))
		}
	}
	satMean, satStd := stat.PopMeanStdDev(sat, nil)
	valMean, valStd := stat.PopMeanStdDev(val, nil)
	return pipeline.ColorStats{
		HueMean: stat.Mean(hue, nil),
		SatMean: satMean,
		ValMean: valMean,
		SatStd:  satStd,
		ValStd:  valStd,
	}
}

// edgeDensity returns the share of rectangle pixels whose Sobel gradient
// magnitude reaches edgeMagnitude
func (wf *workFrame) edgeDensity(r image.Rectangle) float64 {
	total := r.Dx() * r.Dy()
	if total == 0 {
		return 0
	}
	at := func(x, y int) float64 {
		x = min(max(x, r.Min.X), r.Max.X-1)
		y = min(max(y, r.Min.Y), r.Max.Y-1)
		return float64(wf.gray[y*wf.w+x])
	}

	edges := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			gx := at(x+1, y-1) + 2*at(x+1, y) + at(x+1, y+1) -
				at(x-1, y-1) - 2*at(x-1, y) - at(x-1, y+1)
			gy := at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1) -
				at(x-1, y-1) - 2*at(x, y-1) - at(x+1, y-1)
			if math.Hypot(gx, gy) >= edgeMagnitude {
				edges++
			}
		}
	}
	return float64(edges) / float64(total)
}

// segmented is a colour component found by self-segmentation, in working
// frame coordinates
type segmented struct {
	kind   pipeline.RegionKind
	rect   image.Rectangle
	fill   float64
	aspect float64
	color  pipeline.ColorStats
	edge   float64
}

// segment proposes fire and smoke candidates from the working frame.
// minArea is expressed in original-resolution pixels.
func (wf *workFrame) segment(minArea float64) []segmented {
	scaledMin := minArea * wf.scale * wf.scale
	var out []segmented

	for _, kind := range []pipeline.RegionKind{pipeline.RegionFire, pipeline.RegionSmoke} {
		ranges := fireRanges
		if kind == pipeline.RegionSmoke {
			ranges = smokeRanges
		}
		m := closeOpen(wf.mask(ranges), wf.w, wf.h)
		for _, c := range components(m, wf.w, wf.h) {
			if float64(c.area) <= scaledMin {
				continue
			}
			r := c.rect()
			fill := float64(c.area) / float64(r.Dx()*r.Dy())
			aspect := float64(r.Dx()) / float64(r.Dy())
			if kind == pipeline.RegionSmoke && (aspect < 0.3 || aspect > 3.0 || fill < 0.4) {
				continue
			}
			seg := segmented{kind: kind, rect: r, fill: fill, aspect: aspect, color: wf.colorStats(r)}
			if kind == pipeline.RegionSmoke {
				seg.edge = wf.edgeDensity(r)
			}
			out = append(out, seg)
		}
	}
	return out
}

// meanAbsDiff returns the mean absolute gray difference over a rectangle
func meanAbsDiff(a, b []uint8, w int, r image.Rectangle) float64 {
	n := r.Dx() * r.Dy()
	if n == 0 {
		return 0
	}
	sum := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			i := y*w + x
			d := int(a[i]) - int(b[i])
			if d < 0 {
				d = -d
			}
			sum += d
		}
	}
	return float64(sum) / float64(n)
}
