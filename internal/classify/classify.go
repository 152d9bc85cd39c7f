// Package classify assigns the photometric category of a tracked light from
// the pixel content of its bounding box. Classification is frame-local: the
// same mean color and intensity always yield the same category, except for
// an explicit, configured hysteresis band that suppresses single-frame
// flicker around the red/white boundary.
package classify

import (
	"fmt"

	"github.com/flarelab/papiscan/internal/papi"
	"github.com/flarelab/papiscan/internal/runway"
)

// Config holds the classification thresholds. All values are deliberately
// configuration rather than constants: the reference material does not fix
// them and they are expected to be tuned against recorded footage.
type Config struct {
	// MinIntensity is the detectability floor on mean luma (0..255). Below
	// it the light is not_visible regardless of color.
	MinIntensity float64 `yaml:"minIntensity"`

	// RedRatio and WhiteRatio bound the redness ratio, defined as the mean
	// red channel over the mean of green and blue. At or above RedRatio the
	// light is red; at or below WhiteRatio it is white; between the two it
	// is in transition.
	RedRatio   float64 `yaml:"redRatio"`
	WhiteRatio float64 `yaml:"whiteRatio"`

	// Hysteresis widens the interval of the previously assigned category by
	// this ratio margin, so a monotonic red-to-white crossing produces one
	// contiguous transition run instead of flickering at the boundaries.
	Hysteresis float64 `yaml:"hysteresis"`
}

// DefaultConfig returns the thresholds used until a site-specific tuning
// exists.
func DefaultConfig() Config {
	return Config{
		MinIntensity: 40,
		RedRatio:     1.45,
		WhiteRatio:   1.15,
		Hysteresis:   0.05,
	}
}

// Validate checks the threshold ordering.
func (c Config) Validate() error {
	if c.MinIntensity < 0 || c.MinIntensity > 255 {
		return fmt.Errorf("minIntensity %f out of range", c.MinIntensity)
	}
	if c.WhiteRatio <= 0 || c.RedRatio <= c.WhiteRatio {
		return fmt.Errorf("require 0 < whiteRatio < redRatio, got white=%f red=%f", c.WhiteRatio, c.RedRatio)
	}
	if c.Hysteresis < 0 {
		return fmt.Errorf("hysteresis must not be negative")
	}
	return nil
}

// Classifier applies the thresholds, carrying per-light hysteresis state.
type Classifier struct {
	cfg  Config
	last map[runway.PointID]papi.Category
}

// New creates a Classifier.
func New(cfg Config) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid classifier config: %w", err)
	}
	return &Classifier{
		cfg:  cfg,
		last: make(map[runway.PointID]papi.Category),
	}, nil
}

// RednessRatio is the color measure the thresholds apply to.
func RednessRatio(r, g, b float64) float64 {
	denom := (g + b) / 2
	if denom < 1 {
		denom = 1 // a nearly black box should not read as saturated red
	}
	return r / denom
}

// Classify assigns a category from the box means. The point id selects the
// hysteresis state; Classify with a fresh Classifier (or a previously unseen
// point) is fully stateless.
func (c *Classifier) Classify(id runway.PointID, meanR, meanG, meanB, intensity float64) papi.Category {
	if intensity < c.cfg.MinIntensity {
		// Switched off, obscured or the box holds no signal. Does not touch
		// the hysteresis state: momentary invisibility is expected and must
		// not reset a transition run in progress.
		return papi.CategoryNotVisible
	}

	redAt, whiteAt := c.cfg.RedRatio, c.cfg.WhiteRatio
	switch c.last[id] {
	case papi.CategoryRed:
		redAt -= c.cfg.Hysteresis
	case papi.CategoryWhite:
		whiteAt += c.cfg.Hysteresis
	case papi.CategoryTransition:
		redAt += c.cfg.Hysteresis
		whiteAt -= c.cfg.Hysteresis
	}

	ratio := RednessRatio(meanR, meanG, meanB)

	var cat papi.Category
	switch {
	case ratio >= redAt:
		cat = papi.CategoryRed
	case ratio <= whiteAt:
		cat = papi.CategoryWhite
	default:
		cat = papi.CategoryTransition
	}

	c.last[id] = cat
	return cat
}

// Reset clears all hysteresis state.
func (c *Classifier) Reset() {
	clear(c.last)
}
