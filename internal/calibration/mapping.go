package calibration

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/flarelab/papiscan/internal/papi"
	"github.com/flarelab/papiscan/internal/pixel"
	"github.com/flarelab/papiscan/internal/runway"
)

var (
	// ErrAlreadyConfirmed is returned when code attempts to modify a
	// confirmed mapping. The confirmed mapping seeds tracking and is never
	// silently overwritten.
	ErrAlreadyConfirmed = errors.New("calibration mapping is already confirmed")

	// ErrNotConfirmed is returned when tracking is started from an
	// unconfirmed mapping.
	ErrNotConfirmed = errors.New("calibration mapping is not confirmed")
)

// Mapping assigns each expected reference point an initial box in the first
// valid frame. It is created from the locator's candidates, corrected by a
// human, then confirmed exactly once.
type Mapping struct {
	FrameIndex int                          `json:"frameIndex"`
	Boxes      map[runway.PointID]papi.Box  `json:"boxes"`
	Confidence map[runway.PointID]float64   `json:"confidence"`
	Confirmed  bool                         `json:"confirmed"`
}

// FromCandidates builds an unconfirmed mapping from locator output.
func FromCandidates(frameIndex int, candidates []Candidate) *Mapping {
	m := &Mapping{
		FrameIndex: frameIndex,
		Boxes:      make(map[runway.PointID]papi.Box, len(candidates)),
		Confidence: make(map[runway.PointID]float64, len(candidates)),
	}
	for _, c := range candidates {
		m.Boxes[c.PointID] = papi.Box{CX: c.CX, CY: c.CY, HW: c.HW, HH: c.HH}
		m.Confidence[c.PointID] = c.Confidence
	}
	return m
}

// SetBox applies a human correction. Fails once the mapping is confirmed.
func (m *Mapping) SetBox(id runway.PointID, box papi.Box) error {
	if m.Confirmed {
		return ErrAlreadyConfirmed
	}
	m.Boxes[id] = box
	m.Confidence[id] = 1 // human-placed
	return nil
}

// Confirm freezes the mapping after re-centering each box on the locally
// brightest cluster, so that hand placement does not need to be pixel
// perfect. Returns ErrAlreadyConfirmed on a second call.
func (m *Mapping) Confirm(g *pixel.Grid) error {
	if m.Confirmed {
		return ErrAlreadyConfirmed
	}
	for id, box := range m.Boxes {
		box.CX, box.CY = SnapToBrightest(g, box.CX, box.CY, box.HW, box.HH)
		m.Boxes[id] = box
	}
	m.Confirmed = true
	return nil
}

// Validate checks that the mapping covers every expected point.
func (m *Mapping) Validate(expected []runway.PointID) error {
	for _, id := range expected {
		if _, ok := m.Boxes[id]; !ok {
			return fmt.Errorf("mapping has no box for %s", id)
		}
	}
	return nil
}

// Save writes the mapping as JSON. This file is the calibration interface:
// the confirmation UI reads it, lets the operator drag and resize boxes,
// and writes the corrected version back.
func (m *Mapping) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding calibration mapping: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing calibration mapping: %w", err)
	}
	return nil
}

// LoadMapping reads a mapping JSON file.
func LoadMapping(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading calibration mapping: %w", err)
	}
	var m Mapping
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing calibration mapping: %w", err)
	}
	if m.Boxes == nil {
		return nil, fmt.Errorf("calibration mapping has no boxes")
	}
	if m.Confidence == nil {
		m.Confidence = make(map[runway.PointID]float64)
	}
	return &m, nil
}
