package telemetry

import (
	"errors"
	"fmt"
	"time"
)

// DefaultMaxSkew is the largest gap tolerated between a frame timestamp and
// the nearest telemetry sample before the frame is excluded from analysis.
const DefaultMaxSkew = 200 * time.Millisecond

// ErrInsufficientCoverage is returned when too few frames can be paired with
// telemetry for the session to be meaningful.
var ErrInsufficientCoverage = errors.New("telemetry does not cover enough of the video")

// FrameSample pairs one video frame with its interpolated telemetry. Frames
// whose skew to the nearest recorded sample exceeds the synchronizer's limit
// carry Synced=false and must produce no observations downstream.
type FrameSample struct {
	Index     int           // Frame index in the video
	Timestamp time.Time     // Frame wall-clock timestamp
	Sample    Sample        // Interpolated telemetry (undefined when !Synced)
	Skew      time.Duration // Distance to the nearest recorded sample
	Synced    bool
}

// Synchronizer aligns video frames with a telemetry track. The zero value is
// not usable; use NewSynchronizer.
type Synchronizer struct {
	maxSkew     time.Duration
	minCoverage float64
}

// SyncOption configures a Synchronizer.
type SyncOption func(*Synchronizer)

// WithMaxSkew sets the per-frame skew limit.
func WithMaxSkew(d time.Duration) SyncOption {
	return func(s *Synchronizer) {
		s.maxSkew = d
	}
}

// WithMinCoverage sets the fraction of frames that must synchronize for the
// session to proceed, in [0, 1].
func WithMinCoverage(f float64) SyncOption {
	return func(s *Synchronizer) {
		s.minCoverage = f
	}
}

// NewSynchronizer creates a Synchronizer with the default skew limit and a
// minimum coverage of half the video.
func NewSynchronizer(options ...SyncOption) *Synchronizer {
	s := &Synchronizer{
		maxSkew:     DefaultMaxSkew,
		minCoverage: 0.5,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Sync produces one FrameSample per frame. videoStart is the wall-clock time
// of frame 0; fps the video frame rate. The frame ordering established here
// is canonical for every later pipeline stage.
//
// Unsynchronized frames are not an error: they become gaps. Sync fails only
// when the synchronized fraction falls below the configured minimum, which
// indicates the telemetry log and the video do not belong together.
func (s *Synchronizer) Sync(track *Track, videoStart time.Time, frameCount int, fps float64) ([]FrameSample, error) {
	if frameCount <= 0 {
		return nil, fmt.Errorf("invalid frame count %d", frameCount)
	}
	if fps <= 0 {
		return nil, fmt.Errorf("invalid frame rate %f", fps)
	}

	frames := make([]FrameSample, frameCount)
	synced := 0
	frameDur := time.Duration(float64(time.Second) / fps)

	for i := 0; i < frameCount; i++ {
		ts := videoStart.Add(time.Duration(i) * frameDur)
		sample, skew := track.At(ts)

		frames[i] = FrameSample{
			Index:     i,
			Timestamp: ts,
			Skew:      skew,
		}
		if skew <= s.maxSkew {
			frames[i].Sample = sample
			frames[i].Synced = true
			synced++
		}
	}

	if coverage := float64(synced) / float64(frameCount); coverage < s.minCoverage {
		return nil, fmt.Errorf("%w: %d of %d frames within %s skew (%.0f%% coverage, need %.0f%%)",
			ErrInsufficientCoverage, synced, frameCount, s.maxSkew,
			coverage*100, s.minCoverage*100)
	}
	return frames, nil
}
