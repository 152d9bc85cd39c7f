package geometry

import (
	"math"

	"github.com/flarelab/papiscan/internal/runway"
	"github.com/flarelab/papiscan/internal/telemetry"
)

// Camera is a pinhole model of the drone's gimbal camera. It maps surveyed
// ground positions into image coordinates given the drone's telemetry,
// which seeds both the initial light search and the shared inter-frame
// motion prior used by the tracker.
type Camera struct {
	Width  int     // Image width in pixels
	Height int     // Image height in pixels
	HFOV   float64 // Horizontal field of view in degrees

	fx, fy float64 // Focal lengths in pixels
}

// NewCamera creates a camera model. The vertical focal length is derived
// from the horizontal one assuming square pixels.
func NewCamera(width, height int, hfovDeg float64) *Camera {
	f := float64(width) / 2 / math.Tan(hfovDeg*math.Pi/360)
	return &Camera{
		Width:  width,
		Height: height,
		HFOV:   hfovDeg,
		fx:     f,
		fy:     f,
	}
}

// maxStableAngle is the largest off-axis angle, in degrees, at which a
// projection still anchors the inter-frame motion estimate. Beyond it the
// tangent mapping amplifies small attitude changes into pixel offsets far
// larger than any real image motion.
const maxStableAngle = 45.0

// Projection is an image-space position of a reference point. Visible means
// the position lies inside the frame; Stable means the point is close enough
// to the optical axis for the position to be numerically trustworthy. A point
// behind the camera yields the zero Projection, which is neither.
type Projection struct {
	X, Y    float64
	Visible bool
	Stable  bool
}

// Project maps a reference point into the image for the given telemetry
// sample. The camera forward axis points along the heading, pitched by the
// gimbal pitch; gimbal roll rotates the image plane.
func (c *Camera) Project(s *telemetry.Sample, p *runway.ReferencePoint) Projection {
	ground := Haversine(s.Latitude, s.Longitude, p.Latitude, p.Longitude)
	bearing := Bearing(s.Latitude, s.Longitude, p.Latitude, p.Longitude)
	up := p.Elevation - s.Altitude

	// Angles of the point relative to the optical axis.
	relAz := angleDiff(bearing, s.Heading())
	elev := math.Atan2(up, ground) * 180 / math.Pi
	relEl := elev - s.GimbalPitch

	if math.Abs(relAz) >= 89 || math.Abs(relEl) >= 89 {
		return Projection{} // behind the camera, no image position exists
	}

	dx := c.fx * math.Tan(relAz*math.Pi/180)
	dy := -c.fy * math.Tan(relEl*math.Pi/180)

	// Roll rotates image offsets around the optical center.
	if s.GimbalRoll != 0 {
		r := -s.GimbalRoll * math.Pi / 180
		dx, dy = dx*math.Cos(r)-dy*math.Sin(r), dx*math.Sin(r)+dy*math.Cos(r)
	}

	x := float64(c.Width)/2 + dx
	y := float64(c.Height)/2 + dy

	return Projection{
		X:       x,
		Y:       y,
		Visible: x >= 0 && x < float64(c.Width) && y >= 0 && y < float64(c.Height),
		Stable:  math.Abs(relAz) <= maxStableAngle && math.Abs(relEl) <= maxStableAngle,
	}
}

// angleDiff returns a-b normalized to (-180, 180].
func angleDiff(a, b float64) float64 {
	d := math.Mod(a-b+540, 360) - 180
	return d
}
