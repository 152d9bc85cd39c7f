package report

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/stat"

	"github.com/flarelab/papiscan/internal/papi"
)

// Summary aggregates one light's series into the figures an inspector
// actually signs off on: how long each state lasted and at which elevation
// angle the red/white transition was observed.
type Summary struct {
	Counts map[papi.Category]int

	// Observed transition band, from the elevation angles of all frames
	// classified as transition. NaN when the light never transitioned.
	TransitionMeanDeg   float64
	TransitionStdDeg    float64
	TransitionFrames    int
	TransitionDuration  time.Duration
	ObservationDuration time.Duration
}

// Summarize computes the summary of one light's observation series.
func Summarize(obs []papi.Observation, fps float64) Summary {
	s := Summary{Counts: make(map[papi.Category]int)}

	var angles []float64
	for i := range obs {
		o := &obs[i]
		s.Counts[o.Category]++
		if o.Category == papi.CategoryTransition && o.ElevationAngle != nil {
			angles = append(angles, *o.ElevationAngle)
		}
	}
	s.TransitionFrames = s.Counts[papi.CategoryTransition]

	if fps > 0 {
		frameDur := time.Duration(float64(time.Second) / fps)
		s.TransitionDuration = time.Duration(s.TransitionFrames) * frameDur
		s.ObservationDuration = time.Duration(len(obs)) * frameDur
	}

	if len(angles) > 0 {
		s.TransitionMeanDeg = stat.Mean(angles, nil)
		s.TransitionStdDeg = stat.StdDev(angles, nil)
	}
	return s
}

// Line returns a one-line human description of the summary for chart
// subtitles and logs.
func (s Summary) Line() string {
	total := int64(0)
	for _, n := range s.Counts {
		total += int64(n)
	}
	if s.TransitionFrames == 0 {
		return fmt.Sprintf("no transition observed in %s frames (%s)",
			humanize.Comma(total), s.ObservationDuration.Round(time.Second))
	}
	return fmt.Sprintf("transition at %.2f deg (sd %.2f) over %s frames (%s)",
		s.TransitionMeanDeg, s.TransitionStdDeg,
		humanize.Comma(int64(s.TransitionFrames)),
		s.TransitionDuration.Round(10*time.Millisecond))
}
