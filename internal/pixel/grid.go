// Package pixel provides plain-Go pixel planes extracted from decoded video
// frames. Keeping the analysis algorithms on these planes (rather than on
// OpenCV Mats) confines the gocv dependency to the decode and encode edges
// of the pipeline.
package pixel

import (
	"fmt"
	"image"
)

// Grid holds one decoded frame as separate color and luma planes.
// Values are in the 0..255 range; Luma is Rec.601 luma computed once
// at extraction time.
type Grid struct {
	W, H int

	R    []float64
	G    []float64
	B    []float64
	Luma []float64
}

// NewGrid allocates an all-black grid of the given dimensions.
func NewGrid(w, h int) (*Grid, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid grid dimensions: %dx%d", w, h)
	}
	n := w * h
	return &Grid{
		W:    w,
		H:    h,
		R:    make([]float64, n),
		G:    make([]float64, n),
		B:    make([]float64, n),
		Luma: make([]float64, n),
	}, nil
}

// SetRGB writes one pixel and updates its luma.
func (g *Grid) SetRGB(x, y int, r, gr, b float64) {
	if x < 0 || x >= g.W || y < 0 || y >= g.H {
		return
	}
	i := y*g.W + x
	g.R[i] = r
	g.G[i] = gr
	g.B[i] = b
	g.Luma[i] = luma(r, gr, b)
}

// LumaAt returns the luma of the pixel at (x, y), or 0 outside the grid.
func (g *Grid) LumaAt(x, y int) float64 {
	if x < 0 || x >= g.W || y < 0 || y >= g.H {
		return 0
	}
	return g.Luma[y*g.W+x]
}

// Bounds returns the grid extent as an image.Rectangle.
func (g *Grid) Bounds() image.Rectangle {
	return image.Rect(0, 0, g.W, g.H)
}

// Clamp restricts r to the grid extent.
func (g *Grid) Clamp(r image.Rectangle) image.Rectangle {
	return r.Intersect(g.Bounds())
}

// MeanRect returns the mean R, G, B and luma over the (clamped) rect.
// An empty intersection yields all zeros.
func (g *Grid) MeanRect(r image.Rectangle) (mr, mg, mb, ml float64) {
	r = g.Clamp(r)
	if r.Empty() {
		return 0, 0, 0, 0
	}
	var sr, sg, sb, sl float64
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := y * g.W
		for x := r.Min.X; x < r.Max.X; x++ {
			i := row + x
			sr += g.R[i]
			sg += g.G[i]
			sb += g.B[i]
			sl += g.Luma[i]
		}
	}
	n := float64(r.Dx() * r.Dy())
	return sr / n, sg / n, sb / n, sl / n
}

// MaxLuma returns the location and value of the brightest pixel inside the
// (clamped) rect. ok is false when the intersection is empty.
func (g *Grid) MaxLuma(r image.Rectangle) (pt image.Point, v float64, ok bool) {
	r = g.Clamp(r)
	if r.Empty() {
		return image.Point{}, 0, false
	}
	v = -1
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := y * g.W
		for x := r.Min.X; x < r.Max.X; x++ {
			if l := g.Luma[row+x]; l > v {
				v = l
				pt = image.Pt(x, y)
			}
		}
	}
	return pt, v, true
}

// Centroid returns the luma-weighted centroid of pixels at or above the
// threshold inside the (clamped) rect. ok is false when no pixel qualifies.
func (g *Grid) Centroid(r image.Rectangle, threshold float64) (cx, cy float64, ok bool) {
	r = g.Clamp(r)
	if r.Empty() {
		return 0, 0, false
	}
	var sx, sy, sw float64
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := y * g.W
		for x := r.Min.X; x < r.Max.X; x++ {
			l := g.Luma[row+x]
			if l < threshold {
				continue
			}
			sx += float64(x) * l
			sy += float64(y) * l
			sw += l
		}
	}
	if sw == 0 {
		return 0, 0, false
	}
	return sx / sw, sy / sw, true
}

func luma(r, g, b float64) float64 {
	return 0.299*r + 0.587*g + 0.114*b
}
