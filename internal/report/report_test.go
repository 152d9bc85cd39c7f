package report

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flarelab/papiscan/internal/papi"
	"github.com/flarelab/papiscan/internal/runway"
)

var seriesStart = time.Date(2025, 6, 12, 10, 30, 0, 0, time.UTC)

func floatPtr(v float64) *float64 { return &v }

func observation(frame int, category papi.Category, elevation *float64) papi.Observation {
	return papi.Observation{
		PointID:        "PAPI_A",
		FrameIndex:     frame,
		Timestamp:      seriesStart.Add(time.Duration(frame) * 40 * time.Millisecond),
		MeanR:          180,
		MeanG:          120,
		MeanB:          90,
		Intensity:      130,
		Category:       category,
		ElevationAngle: elevation,
	}
}

func TestSummarize(t *testing.T) {
	obs := []papi.Observation{
		observation(0, papi.CategoryRed, floatPtr(2.5)),
		observation(1, papi.CategoryTransition, floatPtr(3.0)),
		observation(2, papi.CategoryTransition, floatPtr(3.2)),
		observation(3, papi.CategoryTransition, nil),
		observation(4, papi.CategoryWhite, floatPtr(3.6)),
	}

	s := Summarize(obs, 25)

	assert.Equal(t, 1, s.Counts[papi.CategoryRed])
	assert.Equal(t, 3, s.Counts[papi.CategoryTransition])
	assert.Equal(t, 1, s.Counts[papi.CategoryWhite])
	assert.Equal(t, 3, s.TransitionFrames)

	// Only the two transition frames with geometry contribute angles.
	assert.InDelta(t, 3.1, s.TransitionMeanDeg, 1e-9)
	assert.InDelta(t, 0.1414, s.TransitionStdDeg, 1e-3)

	assert.Equal(t, 120*time.Millisecond, s.TransitionDuration)
	assert.Equal(t, 200*time.Millisecond, s.ObservationDuration)
}

func TestSummarizeNoTransition(t *testing.T) {
	obs := []papi.Observation{
		observation(0, papi.CategoryRed, floatPtr(2.0)),
		observation(1, papi.CategoryRed, floatPtr(2.1)),
	}

	s := Summarize(obs, 25)
	assert.Zero(t, s.TransitionFrames)
	assert.Zero(t, s.TransitionMeanDeg)
	assert.Contains(t, s.Line(), "no transition observed")
}

func TestSummaryLine(t *testing.T) {
	obs := []papi.Observation{
		observation(0, papi.CategoryRed, nil),
		observation(1, papi.CategoryTransition, floatPtr(3.0)),
		observation(2, papi.CategoryWhite, nil),
	}

	line := Summarize(obs, 25).Line()
	assert.Contains(t, line, "transition at 3.00 deg")
	assert.Contains(t, line, "1 frames")
}

func TestFrameAxisGaps(t *testing.T) {
	obs := []papi.Observation{
		observation(10, papi.CategoryRed, floatPtr(2.0)),
		observation(11, papi.CategoryRed, floatPtr(2.1)),
		observation(14, papi.CategoryRed, floatPtr(2.4)),
	}

	axis := newFrameAxis(obs, 25)
	require.Equal(t, 10, axis.first)
	require.Equal(t, 14, axis.last)
	require.Len(t, axis.labels, 5)

	// Frames without observations keep their slot on the axis, with
	// timestamps synthesized from the frame rate so the axis stays in one
	// time domain.
	assert.Equal(t, "10:30:00.400", axis.labels[0])
	assert.Equal(t, "10:30:00.480", axis.labels[2])
	assert.Equal(t, "10:30:00.520", axis.labels[3])

	data := axis.seriesData(func(o *papi.Observation) *float64 { return o.ElevationAngle })
	require.Len(t, data, 5)
	assert.Equal(t, 2.0, data[0].Value)
	assert.Nil(t, data[2].Value)
	assert.Nil(t, data[3].Value)
	assert.Equal(t, 2.4, data[4].Value)
}

func TestFrameAxisUnknownRate(t *testing.T) {
	obs := []papi.Observation{
		observation(10, papi.CategoryRed, nil),
		observation(12, papi.CategoryRed, nil),
	}

	// Without a frame rate there is nothing to synthesize from.
	axis := newFrameAxis(obs, 0)
	assert.Equal(t, "frame 11", axis.labels[1])
}

func TestFrameAxisEmpty(t *testing.T) {
	axis := newFrameAxis(nil, 25)
	assert.Empty(t, axis.labels)
	assert.Empty(t, axis.seriesData(func(o *papi.Observation) *float64 { return nil }))
}

func TestRender(t *testing.T) {
	nominal := &runway.ReferencePoint{
		ID:             "PAPI_B",
		NominalAngle:   floatPtr(3.1),
		AngleTolerance: floatPtr(0.25),
	}

	seriesA := Series{
		PointID: "PAPI_B",
		Observations: []papi.Observation{
			observation(0, papi.CategoryRed, floatPtr(2.8)),
			observation(1, papi.CategoryTransition, floatPtr(3.1)),
			observation(3, papi.CategoryWhite, floatPtr(3.4)),
		},
		Nominal: nominal,
	}
	seriesB := Series{
		PointID: "PAPI_A",
		Observations: []papi.Observation{
			observation(0, papi.CategoryNotVisible, nil),
		},
	}

	var buf bytes.Buffer
	b := NewBuilder("PAPI inspection 16R", 25)
	require.NoError(t, b.Render(&buf, []Series{seriesA, seriesB}))

	html := buf.String()
	assert.Contains(t, html, "PAPI inspection 16R")
	assert.Contains(t, html, "color and intensity")
	assert.Contains(t, html, "viewing geometry")
	assert.Contains(t, html, "elevation angle")
	assert.Contains(t, html, "nominal 3.10 deg, tolerance 0.25 deg")

	// Stable ordering: PAPI_A charts before PAPI_B.
	assert.Less(t,
		strings.Index(html, "PAPI_A"),
		strings.Index(html, "PAPI_B"))
}

func TestWriteFile(t *testing.T) {
	path := t.TempDir() + "/report.html"
	b := NewBuilder("test", 25)

	series := []Series{{
		PointID:      "PAPI_A",
		Observations: []papi.Observation{observation(0, papi.CategoryRed, nil)},
	}}
	require.NoError(t, b.WriteFile(path, series))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}
