// Package calibration proposes the first-frame bounding boxes that seed the
// tracker. Detection is a brightness heuristic: luminance maxima above a
// percentile background threshold are clustered into blobs and matched
// against the image positions the surveyed reference points project to.
// A human confirms or corrects the proposal once; the confirmed mapping is
// immutable for the rest of the session.
package calibration

import (
	"image"
	"math"
	"sort"

	"github.com/flarelab/papiscan/internal/geometry"
	"github.com/flarelab/papiscan/internal/pixel"
	"github.com/flarelab/papiscan/internal/runway"
)

const (
	// DefaultBoxHalfSize is the half extent of a proposed box in pixels.
	DefaultBoxHalfSize = 12

	// maxAssignDistance caps, in pixels, how far a detected blob may sit
	// from a point's projection and still be assigned to it.
	maxAssignDistance = 120

	minBlobPixels = 2
	maxBlobPixels = 2500
)

// Candidate is one proposed box for one reference point, exposed to the
// confirmation UI.
type Candidate struct {
	PointID runway.PointID `json:"pointID"`
	CX      float64        `json:"cx"`
	CY      float64        `json:"cy"`
	HW      float64        `json:"hw"`
	HH      float64        `json:"hh"`

	// Confidence in [0, 1]; candidates that fell back to the raw projection
	// because no blob was found carry a low confidence and FromProjection.
	Confidence     float64 `json:"confidence"`
	FromProjection bool    `json:"fromProjection"`
}

// Locator proposes candidate boxes in the first synchronized frame.
type Locator struct {
	halfSize float64
}

// LocatorOption configures a Locator.
type LocatorOption func(*Locator)

// WithBoxHalfSize sets the half extent of proposed boxes.
func WithBoxHalfSize(px float64) LocatorOption {
	return func(l *Locator) {
		l.halfSize = px
	}
}

// NewLocator creates a Locator.
func NewLocator(options ...LocatorOption) *Locator {
	l := &Locator{halfSize: DefaultBoxHalfSize}
	for _, option := range options {
		option(l)
	}
	return l
}

// blob is a connected cluster of bright pixels.
type blob struct {
	cx, cy   float64
	peak     float64
	pixels   int
	assigned bool
}

// Propose detects bright blobs in the frame and assigns them to the expected
// reference points using their projected positions. Every expected point
// receives a candidate: points without a matching blob fall back to the
// projection itself, flagged low-confidence, so calibration can always be
// completed by the operator. Propose never fails.
func (l *Locator) Propose(g *pixel.Grid, expected []runway.PointID, projected map[runway.PointID]geometry.Projection) []Candidate {
	hist := NewLumaHistogram()
	hist.UpdateAll(g.Luma)
	bounds := hist.Bounds()

	blobs := findBlobs(g, bounds.Threshold)

	candidates := make([]Candidate, 0, len(expected))
	for _, id := range expected {
		proj, hasProj := projected[id]

		best := -1
		bestDist := math.MaxFloat64
		for i := range blobs {
			if blobs[i].assigned {
				continue
			}
			var d float64
			if hasProj {
				d = math.Hypot(blobs[i].cx-proj.X, blobs[i].cy-proj.Y)
			} else {
				d = maxAssignDistance - 1 // no projection: accept any blob
			}
			if d < bestDist && d <= maxAssignDistance {
				bestDist = d
				best = i
			}
		}

		if best >= 0 {
			b := &blobs[best]
			b.assigned = true
			candidates = append(candidates, Candidate{
				PointID:    id,
				CX:         b.cx,
				CY:         b.cy,
				HW:         l.halfSize,
				HH:         l.halfSize,
				Confidence: blobConfidence(bestDist, hasProj),
			})
			continue
		}

		// Best-effort placement: the projection, or the frame center when
		// telemetry could not project the point at all.
		c := Candidate{
			PointID:        id,
			HW:             l.halfSize,
			HH:             l.halfSize,
			Confidence:     0.1,
			FromProjection: true,
		}
		if hasProj {
			c.CX, c.CY = proj.X, proj.Y
		} else {
			c.CX, c.CY = float64(g.W)/2, float64(g.H)/2
			c.Confidence = 0
		}
		candidates = append(candidates, c)
	}

	return candidates
}

// SnapToBrightest re-centers a box on the luma-weighted centroid of the
// brightest cluster inside it, correcting minor placement imprecision after
// a human drags a box. The box size is preserved. When the box interior
// holds no signal the original box is returned unchanged.
func SnapToBrightest(g *pixel.Grid, cx, cy, hw, hh float64) (float64, float64) {
	r := image.Rect(int(cx-hw), int(cy-hh), int(cx+hw)+1, int(cy+hh)+1)

	_, peak, ok := g.MaxLuma(r)
	if !ok || peak <= 0 {
		return cx, cy
	}

	// Pixels within 60% of the local peak belong to the light's core.
	ncx, ncy, ok := g.Centroid(r, peak*0.6)
	if !ok {
		return cx, cy
	}
	return ncx, ncy
}

func blobConfidence(dist float64, hadProjection bool) float64 {
	if !hadProjection {
		return 0.5
	}
	c := 1 - dist/maxAssignDistance
	if c < 0.2 {
		c = 0.2
	}
	return c
}

// findBlobs clusters connected pixels above the threshold, 4-connectivity,
// and returns their luma-weighted centroids sorted by peak brightness.
func findBlobs(g *pixel.Grid, threshold float64) []blob {
	visited := make([]bool, g.W*g.H)
	var blobs []blob
	var stack []int

	for start := 0; start < len(g.Luma); start++ {
		if visited[start] || g.Luma[start] < threshold {
			continue
		}

		var sx, sy, sw, peak float64
		pixels := 0

		stack = append(stack[:0], start)
		visited[start] = true
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			l := g.Luma[i]
			x, y := i%g.W, i/g.W
			sx += float64(x) * l
			sy += float64(y) * l
			sw += l
			if l > peak {
				peak = l
			}
			pixels++

			for _, n := range [4]int{i - 1, i + 1, i - g.W, i + g.W} {
				if n < 0 || n >= len(g.Luma) || visited[n] {
					continue
				}
				// Prevent wrapping across row edges.
				if (n == i-1 && x == 0) || (n == i+1 && x == g.W-1) {
					continue
				}
				if g.Luma[n] >= threshold {
					visited[n] = true
					stack = append(stack, n)
				}
			}
		}

		if pixels < minBlobPixels || pixels > maxBlobPixels {
			continue
		}
		blobs = append(blobs, blob{
			cx:     sx / sw,
			cy:     sy / sw,
			peak:   peak,
			pixels: pixels,
		})
	}

	sort.Slice(blobs, func(i, j int) bool {
		return blobs[i].peak > blobs[j].peak
	})
	return blobs
}
