// Package tracking propagates the calibrated light boxes through the video.
//
// All reference lights move coherently in the image: at operational
// distances parallax between the units is negligible, so a single
// camera-motion estimate describes every light's displacement between two
// frames. The tracker therefore predicts each box with one shared
// translation derived from the telemetry delta, then corrects each light
// locally inside a small search window. The shared prior is what carries a
// light through transition frames in which its own signal is too weak to
// self-correct; independent per-light correlation tracking would lose it
// there.
package tracking

import (
	"sort"

	"github.com/flarelab/papiscan/internal/geometry"
	"github.com/flarelab/papiscan/internal/runway"
)

// Motion is the shared inter-frame image-space translation.
type Motion struct {
	DX, DY float64
	// Points is the number of reference points the estimate is based on.
	// Zero means no point anchored both frames and the estimate is identity.
	Points int
}

// EstimateMotion derives the shared translation from the projected positions
// of the reference points in the previous and current frame. Only points
// whose projection is stable in both frames anchor the estimate: a point far
// off the optical axis (a touch point abeam the camera, say) moves through
// the tangent mapping by hundreds of pixels per degree of yaw and would drag
// the prediction outside every search window. The per-axis median makes the
// estimate robust to a single remaining outlier.
func EstimateMotion(prev, cur map[runway.PointID]geometry.Projection) Motion {
	var dxs, dys []float64

	for id, p := range prev {
		c, ok := cur[id]
		if !ok || !p.Stable || !c.Stable {
			continue
		}
		dxs = append(dxs, c.X-p.X)
		dys = append(dys, c.Y-p.Y)
	}

	if len(dxs) == 0 {
		return Motion{}
	}
	return Motion{
		DX:     median(dxs),
		DY:     median(dys),
		Points: len(dxs),
	}
}

// median sorts v in place.
func median(v []float64) float64 {
	sort.Float64s(v)
	n := len(v)
	if n%2 == 1 {
		return v[n/2]
	}
	return (v[n/2-1] + v[n/2]) / 2
}
