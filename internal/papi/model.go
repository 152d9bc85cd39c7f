// Package papi holds the domain model of a PAPI inspection: the measurement
// session, the per-frame light observations derived from the video, and the
// session lifecycle states.
package papi

import (
	"image"
	"time"

	"github.com/flarelab/papiscan/internal/runway"
	"github.com/flarelab/papiscan/internal/telemetry"
)

// Category is the photometric state assigned to a tracked light in a frame.
type Category string

const (
	CategoryNotVisible Category = "not_visible" // Below the detectability floor
	CategoryRed        Category = "red"         // Red channel dominates
	CategoryWhite      Category = "white"       // Balanced color above the brightness floor
	CategoryTransition Category = "transition"  // Between the red and white thresholds
)

// Box is an image-space bounding box stored as center and half extents.
// Sub-pixel centers are preserved because the tracker accumulates fractional
// motion across frames.
type Box struct {
	CX float64 `json:"cx"` // Center
	CY float64 `json:"cy"`
	HW float64 `json:"hw"` // Half width, half height
	HH float64 `json:"hh"`
}

// Rect returns the box as an integer rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(
		int(b.CX-b.HW), int(b.CY-b.HH),
		int(b.CX+b.HW)+1, int(b.CY+b.HH)+1,
	)
}

// Translate returns the box moved by (dx, dy).
func (b Box) Translate(dx, dy float64) Box {
	b.CX += dx
	b.CY += dy
	return b
}

// Observation is the core derived record: one tracked light in one frame.
// Geometry fields are nil when the frame had no usable telemetry.
type Observation struct {
	PointID    runway.PointID `json:"pointID"`
	FrameIndex int            `json:"frameIndex"`
	Timestamp  time.Time      `json:"timestamp"`

	Box           Box     `json:"box"`
	Confidence    float64 `json:"confidence"`    // Tracker match quality in [0, 1]
	LowConfidence bool    `json:"lowConfidence"` // Position derived from prediction only

	MeanR     float64  `json:"meanR"`
	MeanG     float64  `json:"meanG"`
	MeanB     float64  `json:"meanB"`
	Intensity float64  `json:"intensity"`
	Category  Category `json:"category"`

	ElevationAngle *float64 `json:"elevationAngle,omitempty"` // Degrees
	GroundDistance *float64 `json:"groundDistance,omitempty"` // Meters
	SlantDistance  *float64 `json:"slantDistance,omitempty"`  // Meters
}

// GetPointID implements the ObservationData constraint.
func (o Observation) GetPointID() runway.PointID { return o.PointID }

// GetFrameIndex implements the ObservationData constraint.
func (o Observation) GetFrameIndex() int { return o.FrameIndex }

// GetTimestamp implements the ObservationData constraint.
func (o Observation) GetTimestamp() time.Time { return o.Timestamp }

// ObservationWithTelemetry extends an observation with the drone state it
// was derived from.
type ObservationWithTelemetry struct {
	Observation `json:"observation"`
	Telemetry   *telemetry.Sample `json:"telemetry,omitempty"`
}

// Session describes one measurement session: one video, one runway, one
// calibration, one observation series.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	VideoPath string    `json:"videoPath"`
	Runway    string    `json:"runway"`
	State     State     `json:"state"`
	Error     string    `json:"error,omitempty"`  // Cause, when State == StateError
	Config    *string   `json:"config,omitempty"` // Engine configuration snapshot, JSON
}

// State is the session lifecycle state. Calibration is a first-class
// external input: a session parks in StatePreviewReady until a human has
// confirmed the first-frame mapping.
type State string

const (
	StatePending      State = "pending"
	StatePreviewReady State = "preview_ready"
	StateProcessing   State = "processing"
	StateCompleted    State = "completed"
	StateError        State = "error"
)

// Phase names the pipeline stage a processing session is in.
type Phase string

const (
	PhaseSynchronizing Phase = "synchronizing"
	PhaseCalibrating   Phase = "calibrating"
	PhaseTracking      Phase = "tracking"
	PhaseCompositing   Phase = "compositing"
	PhaseReporting     Phase = "reporting"
	PhaseDone          Phase = "done"
)

// Progress is a read-only snapshot of a session's processing state, updated
// atomically after each frame batch so pollers never observe a torn record.
type Progress struct {
	Version     uint64    `json:"version"` // Monotonic, bumps on every update
	Phase       Phase     `json:"phase"`
	FramesDone  int       `json:"framesDone"`
	FramesTotal int       `json:"framesTotal"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Percent returns completion as 0..100.
func (p Progress) Percent() float64 {
	if p.FramesTotal == 0 {
		return 0
	}
	return 100 * float64(p.FramesDone) / float64(p.FramesTotal)
}
