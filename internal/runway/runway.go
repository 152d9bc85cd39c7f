// Package runway models the surveyed ground truth an inspection flight is
// measured against: the PAPI light units and the runway touch point, with
// their geodetic coordinates. The data itself is owned by the surrounding
// airport data store; this package only loads and validates an exported
// reference-point file.
package runway

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Well-known reference point identifiers. A runway carries two to eight PAPI
// units (A..H, left to right as seen on approach) and one touch point.
const (
	TouchPoint PointID = "TOUCH_POINT"

	PapiA PointID = "PAPI_A"
	PapiB PointID = "PAPI_B"
	PapiC PointID = "PAPI_C"
	PapiD PointID = "PAPI_D"
	PapiE PointID = "PAPI_E"
	PapiF PointID = "PAPI_F"
	PapiG PointID = "PAPI_G"
	PapiH PointID = "PAPI_H"
)

// PointID identifies a surveyed reference point.
type PointID string

// IsPapi reports whether the point is a PAPI light unit (as opposed to the
// touch point, which is surveyed but never tracked as a light).
func (id PointID) IsPapi() bool {
	return strings.HasPrefix(string(id), "PAPI_")
}

// ReferencePoint is a fixed, surveyed ground position. Coordinates are
// WGS 84 degrees, elevation is meters above the ellipsoid. NominalAngle and
// AngleTolerance, when present, describe the unit's designed glide-path
// transition angle in degrees.
type ReferencePoint struct {
	ID             PointID  `yaml:"id"`
	Latitude       float64  `yaml:"latitude"`
	Longitude      float64  `yaml:"longitude"`
	Elevation      float64  `yaml:"elevation"`
	NominalAngle   *float64 `yaml:"nominalAngle,omitempty"`
	AngleTolerance *float64 `yaml:"angleTolerance,omitempty"`
}

// Runway groups the reference points of a single runway end. Immutable once
// a measurement session starts.
type Runway struct {
	Name   string           `yaml:"name"`
	Points []ReferencePoint `yaml:"points"`
}

var validIDs = map[PointID]struct{}{
	TouchPoint: {},
	PapiA:      {}, PapiB: {}, PapiC: {}, PapiD: {},
	PapiE: {}, PapiF: {}, PapiG: {}, PapiH: {},
}

// Load reads and validates a runway reference-point file.
func Load(path string) (*Runway, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading runway file: %w", err)
	}

	var r Runway
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing runway file: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid runway %q: %w", r.Name, err)
	}
	return &r, nil
}

// Validate checks identifiers, coordinate ranges and uniqueness.
func (r *Runway) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("runway name is required")
	}
	if len(r.Points) == 0 {
		return fmt.Errorf("no reference points")
	}

	seen := make(map[PointID]struct{}, len(r.Points))
	papiCount := 0
	for _, p := range r.Points {
		if _, ok := validIDs[p.ID]; !ok {
			return fmt.Errorf("unknown reference point id %q", p.ID)
		}
		if _, ok := seen[p.ID]; ok {
			return fmt.Errorf("duplicate reference point id %q", p.ID)
		}
		seen[p.ID] = struct{}{}

		if p.Latitude < -90 || p.Latitude > 90 {
			return fmt.Errorf("point %s: latitude %f out of range", p.ID, p.Latitude)
		}
		if p.Longitude < -180 || p.Longitude > 180 {
			return fmt.Errorf("point %s: longitude %f out of range", p.ID, p.Longitude)
		}
		if p.ID.IsPapi() {
			papiCount++
		}
	}
	if papiCount == 0 {
		return fmt.Errorf("runway has no PAPI units")
	}
	return nil
}

// Papis returns the PAPI light units in file order.
func (r *Runway) Papis() []ReferencePoint {
	var out []ReferencePoint
	for _, p := range r.Points {
		if p.ID.IsPapi() {
			out = append(out, p)
		}
	}
	return out
}

// Point returns the reference point with the given ID, or nil.
func (r *Runway) Point(id PointID) *ReferencePoint {
	for i := range r.Points {
		if r.Points[i].ID == id {
			return &r.Points[i]
		}
	}
	return nil
}
