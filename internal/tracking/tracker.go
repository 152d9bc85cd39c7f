package tracking

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/flarelab/papiscan/internal/calibration"
	"github.com/flarelab/papiscan/internal/papi"
	"github.com/flarelab/papiscan/internal/pixel"
	"github.com/flarelab/papiscan/internal/runway"
)

// ErrFrameOrder is returned when Advance is called with a frame index that
// does not increase. The tracker consumes its own previous output, so frames
// must be visited in strictly increasing order.
var ErrFrameOrder = errors.New("frames must be advanced in strictly increasing order")

// Config holds the tracker tuning. Values are configuration, not constants:
// the correct search radius depends on flight speed and frame rate.
type Config struct {
	// SearchRadius bounds, in pixels, how far the local correction may move
	// a box away from its telemetry-predicted position.
	SearchRadius int `yaml:"searchRadius"`

	// MinConfidence is the match quality below which the correction is
	// rejected and the box coasts on pure prediction.
	MinConfidence float64 `yaml:"minConfidence"`

	// ReseedAfter is the number of consecutive coasted frames after which a
	// snap-to-brightest attempt inside an enlarged window tries to re-anchor
	// the light. Zero disables re-seeding.
	ReseedAfter int `yaml:"reseedAfter"`
}

// DefaultConfig returns conservative tracker tuning.
func DefaultConfig() Config {
	return Config{
		SearchRadius:  18,
		MinConfidence: 0.25,
		ReseedAfter:   45,
	}
}

// Validate checks the tuning values.
func (c Config) Validate() error {
	if c.SearchRadius <= 0 {
		return fmt.Errorf("searchRadius must be positive")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("minConfidence %f out of range", c.MinConfidence)
	}
	if c.ReseedAfter < 0 {
		return fmt.Errorf("reseedAfter must not be negative")
	}
	return nil
}

// TrackedBox is one light's box in the current frame.
type TrackedBox struct {
	PointID       runway.PointID
	Box           papi.Box
	Confidence    float64
	LowConfidence bool // Position is prediction only (coasting)
	Coasted       int  // Consecutive frames without visual correction
}

type lightState struct {
	box     papi.Box
	coasted int
}

// Tracker carries per-light state across the frames of one session. It is
// not safe for concurrent use; a session owns exactly one tracker and
// advances it from a single goroutine.
type Tracker struct {
	cfg       Config
	lights    map[runway.PointID]*lightState
	order     []runway.PointID
	lastFrame int
}

// NewTracker seeds a tracker from a confirmed calibration mapping.
func NewTracker(cfg Config, m *calibration.Mapping) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tracker config: %w", err)
	}
	if !m.Confirmed {
		return nil, calibration.ErrNotConfirmed
	}

	t := &Tracker{
		cfg:       cfg,
		lights:    make(map[runway.PointID]*lightState, len(m.Boxes)),
		lastFrame: m.FrameIndex,
	}
	for id, box := range m.Boxes {
		t.lights[id] = &lightState{box: box}
		t.order = append(t.order, id)
	}
	sort.Slice(t.order, func(i, j int) bool { return t.order[i] < t.order[j] })
	return t, nil
}

// Advance produces this frame's box for every light. The boxes move by the
// shared motion prediction, then each is corrected by the brightest-peak
// match within the search window. A correction below MinConfidence is
// discarded: the box coasts on the prediction and the result is flagged
// low-confidence, because momentary invisibility (a light crossing the
// red/white transition can nearly vanish) is an expected state, not a lost
// track.
func (t *Tracker) Advance(frameIndex int, g *pixel.Grid, motion Motion) ([]TrackedBox, error) {
	if frameIndex <= t.lastFrame {
		return nil, fmt.Errorf("%w: frame %d after frame %d", ErrFrameOrder, frameIndex, t.lastFrame)
	}
	t.lastFrame = frameIndex

	out := make([]TrackedBox, 0, len(t.order))
	for _, id := range t.order {
		st := t.lights[id]
		predicted := st.box.Translate(motion.DX, motion.DY)

		cx, cy, conf := t.correct(g, predicted)
		if conf >= t.cfg.MinConfidence {
			predicted.CX, predicted.CY = cx, cy
			st.coasted = 0
		} else {
			st.coasted++
			if t.cfg.ReseedAfter > 0 && st.coasted >= t.cfg.ReseedAfter {
				predicted = t.reseed(g, predicted, &st.coasted)
			}
		}
		st.box = predicted

		out = append(out, TrackedBox{
			PointID:       id,
			Box:           predicted,
			Confidence:    conf,
			LowConfidence: st.coasted > 0,
			Coasted:       st.coasted,
		})
	}
	return out, nil
}

// correct slides a box-sized window over the search region around the
// predicted center and returns the position with the brightest interior,
// with a contrast-based confidence. This is brightness-peak matching rather
// than template correlation: a PAPI unit is a saturated point source and its
// template changes completely across the color transition, but it stays the
// locally brightest thing in the window whenever it is visible at all.
func (t *Tracker) correct(g *pixel.Grid, predicted papi.Box) (cx, cy, confidence float64) {
	r := t.cfg.SearchRadius
	window := image.Rect(
		int(predicted.CX)-r, int(predicted.CY)-r,
		int(predicted.CX)+r+1, int(predicted.CY)+r+1,
	)

	peak, peakVal, ok := g.MaxLuma(window)
	if !ok {
		return predicted.CX, predicted.CY, 0
	}

	_, _, _, windowMean := g.MeanRect(window)

	// Contrast of the peak over the window background, normalized so that a
	// saturated light on a dark background approaches 1.
	contrast := (peakVal - windowMean) / 255
	if contrast < 0 {
		contrast = 0
	}
	confidence = math.Min(contrast*2, 1)

	// Sub-pixel refinement around the peak.
	core := image.Rect(peak.X-2, peak.Y-2, peak.X+3, peak.Y+3)
	if fx, fy, ok := g.Centroid(core, peakVal*0.5); ok {
		return fx, fy, confidence
	}
	return float64(peak.X), float64(peak.Y), confidence
}

// reseed attempts to re-anchor a long-coasting light with a
// snap-to-brightest inside a window twice the search radius. The coast
// counter resets only when the snap actually moved the box, meaning there
// was signal to snap to.
func (t *Tracker) reseed(g *pixel.Grid, predicted papi.Box, coasted *int) papi.Box {
	r := float64(2 * t.cfg.SearchRadius)
	cx, cy := calibration.SnapToBrightest(g, predicted.CX, predicted.CY, r, r)
	if cx != predicted.CX || cy != predicted.CY {
		predicted.CX, predicted.CY = cx, cy
		*coasted = 0
	}
	return predicted
}

// Boxes returns the current box of every light, keyed by point.
func (t *Tracker) Boxes() map[runway.PointID]papi.Box {
	out := make(map[runway.PointID]papi.Box, len(t.lights))
	for id, st := range t.lights {
		out[id] = st.box
	}
	return out
}
