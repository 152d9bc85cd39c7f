package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flarelab/papiscan/internal/papi"
	"github.com/flarelab/papiscan/internal/runway"
)

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.RedRatio = bad.WhiteRatio // thresholds must be strictly ordered
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.MinIntensity = 300
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Hysteresis = -0.1
	assert.Error(t, bad.Validate())
}

func TestClassify_Determinism(t *testing.T) {
	inputs := []struct {
		r, g, b, intensity float64
	}{
		{220, 60, 50, 120},  // strongly red
		{210, 200, 190, 180}, // balanced white
		{200, 140, 130, 150}, // in between
		{20, 10, 10, 10},     // dark
	}

	run := func() []papi.Category {
		c, err := New(DefaultConfig())
		require.NoError(t, err)
		out := make([]papi.Category, len(inputs))
		for i, in := range inputs {
			out[i] = c.Classify(runway.PapiA, in.r, in.g, in.b, in.intensity)
		}
		return out
	}

	first := run()
	assert.Equal(t, first, run(), "identical inputs must classify identically")
	assert.Equal(t, papi.CategoryRed, first[0])
	assert.Equal(t, papi.CategoryWhite, first[1])
	assert.Equal(t, papi.CategoryTransition, first[2])
	assert.Equal(t, papi.CategoryNotVisible, first[3])
}

// A monotonic red-to-white sweep must pass through exactly one contiguous
// run of transition frames, with no flicker back into red or white.
func TestClassify_MonotonicSweep(t *testing.T) {
	c, err := New(DefaultConfig())
	require.NoError(t, err)

	const steps = 200
	var seen []papi.Category
	for i := 0; i <= steps; i++ {
		f := float64(i) / steps
		// Red channel stays saturated, green and blue climb: the redness
		// ratio falls monotonically from deep red to balanced white.
		g := 60 + f*180
		b := 50 + f*190
		seen = append(seen, c.Classify(runway.PapiB, 240, g, b, 150))
	}

	assert.Equal(t, papi.CategoryRed, seen[0])
	assert.Equal(t, papi.CategoryWhite, seen[len(seen)-1])

	// Categories must appear as exactly three contiguous runs.
	var runs []papi.Category
	for _, cat := range seen {
		if len(runs) == 0 || runs[len(runs)-1] != cat {
			runs = append(runs, cat)
		}
	}
	assert.Equal(t, []papi.Category{papi.CategoryRed, papi.CategoryTransition, papi.CategoryWhite}, runs)
}

// Jitter around the red/transition boundary must not flicker: once red is
// assigned, the ratio has to fall past the hysteresis margin to leave it.
func TestClassify_Hysteresis(t *testing.T) {
	cfg := DefaultConfig()
	c, err := New(cfg)
	require.NoError(t, err)

	// Mean ratio exactly at the red threshold, jittering within the band.
	atRatio := func(ratio float64) papi.Category {
		// r / ((g+b)/2) == ratio with g=b=100
		return c.Classify(runway.PapiC, ratio*100, 100, 100, 150)
	}

	require.Equal(t, papi.CategoryRed, atRatio(cfg.RedRatio+0.01))

	for i := 0; i < 10; i++ {
		jitter := cfg.Hysteresis * 0.8
		if i%2 == 0 {
			jitter = -jitter
		}
		assert.Equal(t, papi.CategoryRed, atRatio(cfg.RedRatio+jitter),
			"jitter inside the hysteresis band must keep the category")
	}

	// A real crossing leaves red.
	assert.Equal(t, papi.CategoryTransition, atRatio(cfg.RedRatio-2*cfg.Hysteresis))
}

// not_visible must not disturb the hysteresis state: a light dimming out
// mid-transition resumes as transition, not as a fresh classification.
func TestClassify_NotVisibleKeepsState(t *testing.T) {
	cfg := DefaultConfig()
	c, err := New(cfg)
	require.NoError(t, err)

	mid := (cfg.RedRatio + cfg.WhiteRatio) / 2
	require.Equal(t, papi.CategoryTransition, c.Classify(runway.PapiD, mid*100, 100, 100, 150))

	assert.Equal(t, papi.CategoryNotVisible, c.Classify(runway.PapiD, 0, 0, 0, 5))

	// Just above the widened red threshold: with transition state kept, the
	// hysteresis pulls this into the transition band.
	ratio := cfg.RedRatio + cfg.Hysteresis/2
	assert.Equal(t, papi.CategoryTransition, c.Classify(runway.PapiD, ratio*100, 100, 100, 150))
}

func TestClassify_PerLightState(t *testing.T) {
	cfg := DefaultConfig()
	c, err := New(cfg)
	require.NoError(t, err)

	require.Equal(t, papi.CategoryRed, c.Classify(runway.PapiA, 200, 100, 100, 150))

	// A fresh light at the boundary is unaffected by PAPI_A's state.
	boundary := cfg.RedRatio - cfg.Hysteresis/2
	assert.Equal(t, papi.CategoryTransition, c.Classify(runway.PapiB, boundary*100, 100, 100, 150))
}

func TestRednessRatio_DarkBox(t *testing.T) {
	// A nearly black box must not divide toward infinity.
	assert.Less(t, RednessRatio(2, 0, 0), 3.0)
}

func TestClassifier_Reset(t *testing.T) {
	cfg := DefaultConfig()
	c, err := New(cfg)
	require.NoError(t, err)

	require.Equal(t, papi.CategoryRed, c.Classify(runway.PapiA, 200, 100, 100, 150))
	c.Reset()

	// After reset the hysteresis no longer favours red.
	boundary := cfg.RedRatio - cfg.Hysteresis/2
	assert.Equal(t, papi.CategoryTransition, c.Classify(runway.PapiA, boundary*100, 100, 100, 150))
}
