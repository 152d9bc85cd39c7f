package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/flarelab/papiscan/internal/calibration"
	"github.com/flarelab/papiscan/internal/classify"
	"github.com/flarelab/papiscan/internal/geometry"
	"github.com/flarelab/papiscan/internal/papi"
	"github.com/flarelab/papiscan/internal/pixel"
	"github.com/flarelab/papiscan/internal/runway"
	"github.com/flarelab/papiscan/internal/storage"
	"github.com/flarelab/papiscan/internal/telemetry"
	"github.com/flarelab/papiscan/internal/tracking"
	"github.com/flarelab/papiscan/internal/video"
)

const (
	maxBatchSize   = 100
	bufferCapacity = 512
)

// FrameSource is the engine's view of a video: metadata plus sequential
// frame decode. io.EOF ends the stream. Implemented by video.Source; tests
// substitute synthetic frames.
type FrameSource interface {
	Meta() video.Meta
	Next() (*video.Frame, error)
	Close() error
}

// ClipSink receives the per-frame crop instructions for the review clips.
// Implemented by the compositor; nil disables clip output.
type ClipSink interface {
	AddFrame(id runway.PointID, g *pixel.Grid, box papi.Box, frameIndex int, category papi.Category) error
	Close() error
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) func(*Engine) {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMaxBatchSize sets the maximum number of observations to store within
// a single database transaction.
func WithMaxBatchSize(size int) func(*Engine) {
	return func(e *Engine) {
		e.maxBatchSize = size
	}
}

// WithSessionTimeout bounds the wall-clock duration of one processing run.
// Zero means no limit beyond the caller's context.
func WithSessionTimeout(d time.Duration) func(*Engine) {
	return func(e *Engine) {
		e.timeout = d
	}
}

// WithClips attaches a clip sink fed with every observed frame. The sink is
// closed when the run finishes, whether it succeeds or fails, so an engine
// carrying a sink serves exactly one Run.
func WithClips(sink ClipSink) func(*Engine) {
	return func(e *Engine) {
		e.clips = sink
	}
}

// Engine runs measurement sessions: it synchronizes the telemetry track to
// the video, seeds the tracker from the confirmed calibration, walks the
// frames, and persists the derived observations. One engine serves any
// number of sessions concurrently; each Run call is one session.
type Engine struct {
	store  storage.Store
	logger *slog.Logger

	maxBatchSize int
	timeout      time.Duration
	clips        ClipSink
}

// NewEngine creates an Engine persisting to the given store.
func NewEngine(store storage.Store, logger *slog.Logger, options ...func(*Engine)) *Engine {
	e := Engine{
		store:        store,
		logger:       logger,
		maxBatchSize: maxBatchSize,
	}

	for _, option := range options {
		option(&e)
	}

	return &e
}

// RunInput bundles the prepared inputs of one processing run. All fields
// are required except VideoStart, which defaults to the first telemetry
// sample when zero.
type RunInput struct {
	Session *Session
	Source  FrameSource
	Track   *telemetry.Track
	Runway  *runway.Runway
	Camera  *geometry.Camera
	Mapping *calibration.Mapping

	// VideoStart is the wall-clock time of frame 0.
	VideoStart time.Time

	Sync     *telemetry.Synchronizer
	Tracking tracking.Config
	Classify classify.Config
}

// Run processes one session end to end. The session must be preview_ready
// with a confirmed calibration mapping; on success it transitions to
// completed, on failure to error with the cause persisted. Cancellation is
// cooperative and checked at frame boundaries, so a cancelled run leaves a
// consistent prefix of the observation series behind.
func (e *Engine) Run(ctx context.Context, in RunInput) error {
	sess := in.Session
	if err := sess.acquireRun(); err != nil {
		return err
	}
	defer sess.releaseRun()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	if err := e.transition(ctx, sess, papi.StateProcessing, ""); err != nil {
		return err
	}

	if err := e.process(ctx, in); err != nil {
		cause := err.Error()
		// The run context may be the reason for the failure; the failure
		// record must still reach storage.
		if terr := e.transition(context.WithoutCancel(ctx), sess, papi.StateError, cause); terr != nil {
			e.logger.Error("recording session failure", slog.String("error", terr.Error()))
		}
		return fmt.Errorf("processing session %s: %w", sess.ID(), err)
	}

	return e.transition(ctx, sess, papi.StateCompleted, "")
}

func (e *Engine) process(ctx context.Context, in RunInput) (err error) {
	sess := in.Session
	meta := in.Source.Meta()

	if e.clips != nil {
		// The sink owns open video writers; it must be closed on every exit
		// path, or a cancelled run leaves truncated clip files behind.
		defer func() {
			if cErr := e.clips.Close(); cErr != nil {
				err = errors.Join(err, fmt.Errorf("finishing clips: %w", cErr))
			}
		}()
	}

	videoStart := in.VideoStart
	if videoStart.IsZero() {
		videoStart, _ = in.Track.Span()
	}

	sess.publishProgress(papi.PhaseSynchronizing, 0, meta.FrameCount)

	frames, err := in.Sync.Sync(in.Track, videoStart, meta.FrameCount, meta.FPS)
	if err != nil {
		return fmt.Errorf("synchronizing telemetry: %w", err)
	}
	if err := e.store.StoreFrameSamples(ctx, sess.ID(), frames); err != nil {
		return fmt.Errorf("storing frame telemetry: %w", err)
	}

	sess.publishProgress(papi.PhaseCalibrating, 0, meta.FrameCount)

	tracker, err := tracking.NewTracker(in.Tracking, in.Mapping)
	if err != nil {
		return fmt.Errorf("seeding tracker: %w", err)
	}
	classifier, err := classify.New(in.Classify)
	if err != nil {
		return err
	}
	buffer, err := NewObservationBuffer(bufferCapacity, e.maxBatchSize)
	if err != nil {
		return err
	}

	run := frameRun{
		engine:     e,
		session:    sess,
		input:      in,
		frames:     frames,
		tracker:    tracker,
		classifier: classifier,
		buffer:     buffer,
	}
	if err := run.walk(ctx); err != nil {
		return err
	}

	sess.publishProgress(papi.PhaseDone, meta.FrameCount, meta.FrameCount)
	return nil
}

// transition applies a lifecycle change to both the in-memory session and
// the durable record. The in-memory transition is authoritative; a storage
// failure aborts the run.
func (e *Engine) transition(ctx context.Context, sess *Session, to papi.State, cause string) error {
	if err := sess.Transition(to, cause); err != nil {
		return err
	}
	if err := e.store.SetSessionState(ctx, sess.ID(), to, cause); err != nil {
		return fmt.Errorf("persisting state %s: %w", to, err)
	}

	e.logger.Info("session state",
		slog.String("session", sess.ID()),
		slog.String("state", string(to)))
	return nil
}

// frameRun holds the per-run mutable state of the frame loop.
type frameRun struct {
	engine     *Engine
	session    *Session
	input      RunInput
	frames     []telemetry.FrameSample
	tracker    *tracking.Tracker
	classifier *classify.Classifier
	buffer     *ObservationBuffer

	// lastProjections is the image position of every reference point in the
	// most recent synchronized frame, the base of the shared motion prior.
	lastProjections map[runway.PointID]geometry.Projection
}

// walk drives the frame loop: decode, predict and correct the boxes,
// measure, classify, buffer. Frames without telemetry are skipped whole;
// they reappear as gaps in the stored series, never as fabricated data.
func (r *frameRun) walk(ctx context.Context) error {
	in := r.input
	total := len(r.frames)

	r.session.publishProgress(papi.PhaseTracking, 0, total)

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("frame loop cancelled: %w", err)
		}

		frame, err := in.Source.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("decoding video: %w", err)
		}
		if frame.Index >= total {
			break
		}

		if err := r.handleFrame(ctx, frame); err != nil {
			return err
		}
		r.session.publishProgress(papi.PhaseTracking, frame.Index+1, total)
	}

	r.session.publishProgress(papi.PhaseCompositing, total, total)
	return r.flush(ctx, r.buffer.DrainAll())
}

func (r *frameRun) handleFrame(ctx context.Context, frame *video.Frame) error {
	fs := r.frames[frame.Index]
	if frame.Index < r.input.Mapping.FrameIndex {
		return nil
	}
	if !fs.Synced {
		// No telemetry, no observation. The tracker is not advanced either:
		// without a motion prior a correction could lock onto the wrong
		// light, and the shared prior from the next synchronized frame
		// covers the accumulated displacement.
		return nil
	}

	projections := r.project(&fs.Sample)

	if frame.Index == r.input.Mapping.FrameIndex {
		// The calibration frame itself: the confirmed boxes are the
		// observation, no tracking step needed.
		r.lastProjections = projections
		return r.emit(ctx, frame, fs, r.mappingBoxes())
	}

	motion := tracking.EstimateMotion(r.lastProjections, projections)
	r.lastProjections = projections

	boxes, err := r.tracker.Advance(frame.Index, frame.Grid, motion)
	if err != nil {
		return err
	}
	return r.emit(ctx, frame, fs, boxes)
}

// project maps every surveyed reference point into the image, including the
// non-light points: each one is another anchor for the motion estimate.
func (r *frameRun) project(s *telemetry.Sample) map[runway.PointID]geometry.Projection {
	out := make(map[runway.PointID]geometry.Projection, len(r.input.Runway.Points))
	for i := range r.input.Runway.Points {
		p := &r.input.Runway.Points[i]
		out[p.ID] = r.input.Camera.Project(s, p)
	}
	return out
}

// mappingBoxes presents the confirmed calibration as tracker output.
func (r *frameRun) mappingBoxes() []tracking.TrackedBox {
	m := r.input.Mapping
	out := make([]tracking.TrackedBox, 0, len(m.Boxes))
	for id, box := range m.Boxes {
		out = append(out, tracking.TrackedBox{
			PointID:    id,
			Box:        box,
			Confidence: m.Confidence[id],
		})
	}
	slices.SortFunc(out, func(a, b tracking.TrackedBox) int {
		switch {
		case a.PointID < b.PointID:
			return -1
		case a.PointID > b.PointID:
			return 1
		default:
			return 0
		}
	})
	return out
}

// measurement is the per-light pixel and geometry work that runs in
// parallel. Classification stays out of it: the classifier carries
// hysteresis state and runs in a single deterministic pass afterwards.
type measurement struct {
	meanR, meanG, meanB, intensity float64
	geo                            *geometry.Observation
}

func (r *frameRun) emit(ctx context.Context, frame *video.Frame, fs telemetry.FrameSample, boxes []tracking.TrackedBox) error {
	results := make([]measurement, len(boxes))

	var wg sync.WaitGroup
	for i := range boxes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			b := boxes[i]
			mr, mg, mb, luma := frame.Grid.MeanRect(b.Box.Rect())
			results[i] = measurement{meanR: mr, meanG: mg, meanB: mb, intensity: luma}

			if p := r.input.Runway.Point(b.PointID); p != nil {
				geo := geometry.Observe(&fs.Sample, p)
				results[i].geo = &geo
			}
		}(i)
	}
	wg.Wait()

	for i, b := range boxes {
		m := results[i]
		cat := r.classifier.Classify(b.PointID, m.meanR, m.meanG, m.meanB, m.intensity)

		obs := papi.Observation{
			PointID:       b.PointID,
			FrameIndex:    frame.Index,
			Timestamp:     fs.Timestamp,
			Box:           b.Box,
			Confidence:    b.Confidence,
			LowConfidence: b.LowConfidence,
			MeanR:         m.meanR,
			MeanG:         m.meanG,
			MeanB:         m.meanB,
			Intensity:     m.intensity,
			Category:      cat,
		}
		if m.geo != nil {
			obs.ElevationAngle = &m.geo.ElevationAngle
			obs.GroundDistance = &m.geo.GroundDistance
			obs.SlantDistance = &m.geo.SlantDistance
		}

		if err := r.buffer.Insert(&obs); err != nil {
			return err
		}

		if sink := r.engine.clips; sink != nil {
			if err := sink.AddFrame(b.PointID, frame.Grid, b.Box, frame.Index, cat); err != nil {
				return fmt.Errorf("compositing %s: %w", b.PointID, err)
			}
		}
	}

	if r.buffer.IsFull() {
		return r.flush(ctx, r.buffer.Flush())
	}
	return nil
}

func (r *frameRun) flush(ctx context.Context, obs []papi.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	for chunk := range slices.Chunk(obs, r.engine.maxBatchSize) {
		if err := r.engine.store.BatchInsertObservations(ctx, r.session.ID(), chunk); err != nil {
			return fmt.Errorf("storing observations: %w", err)
		}
	}
	return nil
}
