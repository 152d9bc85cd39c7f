// Package geometry computes the deterministic trigonometry of an inspection
// flight: distances and viewing angles between the drone and the surveyed
// reference points, and the projection of those points into the camera image.
package geometry

import (
	"math"

	"github.com/flarelab/papiscan/internal/runway"
	"github.com/flarelab/papiscan/internal/telemetry"
)

// Earth radius in meters, spherical model. At PAPI observation distances
// (hundreds of meters to a few kilometers) the spherical error is well below
// the survey tolerance of the reference points.
const earthRadiusM = 6371000.0

// Observation is the geometric relation between the drone and one reference
// point at one instant.
type Observation struct {
	GroundDistance float64 // Horizontal distance in meters
	SlantDistance  float64 // Straight-line 3D distance in meters
	ElevationAngle float64 // Angle in degrees at the light, above local horizontal, to the drone
}

// Haversine returns the great-circle distance in meters between two
// latitude/longitude positions in degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Bearing returns the initial bearing in degrees (0..360, clockwise from
// true north) from position 1 to position 2.
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// Observe computes ground distance, slant distance and the elevation angle
// under which an observer at the reference point sees the drone. A drone
// directly above the point at height h yields ground 0, slant h and a 90
// degree elevation angle.
func Observe(s *telemetry.Sample, p *runway.ReferencePoint) Observation {
	ground := Haversine(s.Latitude, s.Longitude, p.Latitude, p.Longitude)
	dh := s.Altitude - p.Elevation

	return Observation{
		GroundDistance: ground,
		SlantDistance:  math.Hypot(ground, dh),
		ElevationAngle: math.Atan2(dh, ground) * 180 / math.Pi,
	}
}
