package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/flarelab/papiscan/internal/calibration"
	"github.com/flarelab/papiscan/internal/compositor"
	"github.com/flarelab/papiscan/internal/geometry"
	"github.com/flarelab/papiscan/internal/papi"
	"github.com/flarelab/papiscan/internal/pixel"
	"github.com/flarelab/papiscan/internal/report"
	"github.com/flarelab/papiscan/internal/runway"
	"github.com/flarelab/papiscan/internal/session"
	"github.com/flarelab/papiscan/internal/storage"
	"github.com/flarelab/papiscan/internal/telemetry"
	"github.com/flarelab/papiscan/internal/video"
)

// Run drives one papiscan invocation. Without a confirmed mapping file it
// proposes calibration candidates and parks the session in preview_ready;
// with one it processes the session and writes clips and the report. The
// two invocations bracket the human calibration step.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	rw, err := runway.Load(config.Runway.Path)
	if err != nil {
		return fmt.Errorf("loading runway: %w", err)
	}
	track, err := telemetry.LoadTrack(config.Telemetry.TrackPath)
	if err != nil {
		return fmt.Errorf("loading telemetry track: %w", err)
	}

	store := storage.NewSqliteStore(config.Output.Database)
	defer store.Close()

	src, err := video.Open(config.Video.Path, video.WithLogger(logger))
	if err != nil {
		return err
	}
	defer src.Close()

	env := environment{
		config: config,
		logger: logger,
		store:  store,
		runway: rw,
		track:  track,
		camera: geometry.NewCamera(src.Meta().Width, src.Meta().Height, config.Video.HFOVDeg),
		sync: telemetry.NewSynchronizer(
			telemetry.WithMaxSkew(config.Telemetry.MaxSkew()),
			telemetry.WithMinCoverage(config.Telemetry.MinCoverage),
		),
	}

	mapping, err := loadMappingFile(config.Calibration.MappingPath)
	if err != nil {
		return err
	}

	switch {
	case mapping == nil:
		return env.propose(ctx, src)

	case !mapping.Confirmed:
		logger.Info("calibration mapping awaits confirmation",
			slog.String("path", config.Calibration.MappingPath))
		logger.Info("review the proposed boxes, adjust where needed, set confirmed to true and rerun")
		return nil

	default:
		return env.analyse(ctx, src, mapping)
	}
}

// environment is the shared wiring of one invocation.
type environment struct {
	config *Config
	logger *slog.Logger
	store  storage.Store
	runway *runway.Runway
	track  *telemetry.Track
	camera *geometry.Camera
	sync   *telemetry.Synchronizer
}

// propose creates a session, locates the lights in the first usable frame
// and writes the candidate mapping for human review.
func (e *environment) propose(ctx context.Context, src *video.Source) error {
	meta := src.Meta()

	videoStart, err := e.videoStart()
	if err != nil {
		return err
	}
	frames, err := e.sync.Sync(e.track, videoStart, meta.FrameCount, meta.FPS)
	if err != nil {
		return fmt.Errorf("synchronizing telemetry: %w", err)
	}

	first := -1
	for _, fs := range frames {
		if fs.Synced {
			first = fs.Index
			break
		}
	}
	if first < 0 {
		return fmt.Errorf("no synchronized frame to calibrate on")
	}

	grid, err := decodeFrame(src, first)
	if err != nil {
		return err
	}

	papis := e.runway.Papis()
	expected := make([]runway.PointID, len(papis))
	projections := make(map[runway.PointID]geometry.Projection, len(papis))
	for i := range papis {
		expected[i] = papis[i].ID
		projections[papis[i].ID] = e.camera.Project(&frames[first].Sample, &papis[i])
	}

	var options []calibration.LocatorOption
	if e.config.Calibration.BoxHalfSize > 0 {
		options = append(options, calibration.WithBoxHalfSize(e.config.Calibration.BoxHalfSize))
	}
	candidates := calibration.NewLocator(options...).Propose(grid, expected, projections)

	mapping := calibration.FromCandidates(first, candidates)
	if err := mapping.Save(e.config.Calibration.MappingPath); err != nil {
		return fmt.Errorf("writing candidate mapping: %w", err)
	}

	sess := session.New()
	if err := e.createSessionRecord(ctx, sess); err != nil {
		return err
	}
	if err := sess.Transition(papi.StatePreviewReady, ""); err != nil {
		return err
	}
	if err := e.store.SetSessionState(ctx, sess.ID(), papi.StatePreviewReady, ""); err != nil {
		return err
	}

	for _, c := range candidates {
		e.logger.Info("calibration candidate",
			slog.String("point", string(c.PointID)),
			slog.Group("box",
				slog.Float64("cx", c.CX),
				slog.Float64("cy", c.CY)),
			slog.Float64("confidence", c.Confidence))
	}
	e.logger.Info("candidate mapping written",
		slog.String("session", sess.ID()),
		slog.String("path", e.config.Calibration.MappingPath),
		slog.Int("frame", first))
	e.logger.Info("review the boxes, set confirmed to true and rerun to process")
	return nil
}

// analyse runs the processing pipeline from a confirmed mapping.
func (e *environment) analyse(ctx context.Context, src *video.Source, fileMapping *calibration.Mapping) error {
	sess, err := e.resumeOrCreateSession(ctx)
	if err != nil {
		return err
	}

	mapping, err := e.ensureCalibration(ctx, sess.ID(), fileMapping)
	if err != nil {
		return err
	}

	options := []func(*session.Engine){
		session.WithLogger(e.logger),
	}
	if e.config.Session.MaxBatchSize > 0 {
		options = append(options, session.WithMaxBatchSize(e.config.Session.MaxBatchSize))
	}
	if e.config.Session.TimeoutMinutes > 0 {
		options = append(options, session.WithSessionTimeout(time.Duration(e.config.Session.TimeoutMinutes)*time.Minute))
	}
	if e.config.Output.ClipsDir != "" {
		clips, err := compositor.New(compositor.Config{
			OutputDir:  e.config.Output.ClipsDir,
			OutputSize: e.config.Output.ClipSize,
			FontPath:   e.config.Output.FontPath,
			FPS:        src.Meta().FPS,
		}, compositor.WithLogger(e.logger))
		if err != nil {
			return err
		}
		options = append(options, session.WithClips(clips))
	}

	videoStart, err := e.videoStart()
	if err != nil {
		return err
	}

	engine := session.NewEngine(e.store, e.logger, options...)
	err = engine.Run(ctx, session.RunInput{
		Session:    sess,
		Source:     src,
		Track:      e.track,
		Runway:     e.runway,
		Camera:     e.camera,
		Mapping:    mapping,
		VideoStart: videoStart,
		Sync:       e.sync,
		Tracking:   e.config.Tracking,
		Classify:   e.config.Classify,
	})
	if err != nil {
		return err
	}

	if e.config.Output.ReportPath != "" {
		if err := e.writeReport(ctx, sess.ID(), src.Meta().FPS); err != nil {
			return err
		}
	}

	e.logger.Info("session completed", slog.String("session", sess.ID()))
	return nil
}

// ensureCalibration reconciles the human-approved mapping file with the
// stored calibration. On first approval the boxes are snap-refined against
// the calibration frame and persisted; afterwards the stored mapping is
// authoritative.
func (e *environment) ensureCalibration(ctx context.Context, sessionID string, fileMapping *calibration.Mapping) (*calibration.Mapping, error) {
	stored, err := e.store.Calibration(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		return stored, nil
	}

	// First run after approval: re-center the human-placed boxes on their
	// local brightness peaks, then freeze.
	grid, err := calibrationGrid(e.config.Video.Path, fileMapping.FrameIndex, e.logger)
	if err != nil {
		return nil, err
	}

	refined := calibration.FromCandidates(fileMapping.FrameIndex, nil)
	for id, box := range fileMapping.Boxes {
		if err := refined.SetBox(id, box); err != nil {
			return nil, err
		}
	}

	papis := e.runway.Papis()
	expected := make([]runway.PointID, len(papis))
	for i := range papis {
		expected[i] = papis[i].ID
	}
	if err := refined.Validate(expected); err != nil {
		return nil, fmt.Errorf("approved mapping: %w", err)
	}
	if err := refined.Confirm(grid); err != nil {
		return nil, err
	}
	if err := e.store.StoreCalibration(ctx, sessionID, refined); err != nil {
		return nil, fmt.Errorf("storing calibration: %w", err)
	}
	if err := refined.Save(e.config.Calibration.MappingPath); err != nil {
		return nil, err
	}
	return refined, nil
}

// resumeOrCreateSession picks up the session the candidate pass created, or
// starts a fresh one when the database has none for this video.
func (e *environment) resumeOrCreateSession(ctx context.Context) (*session.Session, error) {
	sessions, err := e.store.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	for i := len(sessions) - 1; i >= 0; i-- {
		rec := sessions[i]
		if rec.VideoPath == e.config.Video.Path && rec.State == papi.StatePreviewReady {
			return session.Resume(rec), nil
		}
	}

	sess := session.New()
	if err := e.createSessionRecord(ctx, sess); err != nil {
		return nil, err
	}
	if err := sess.Transition(papi.StatePreviewReady, ""); err != nil {
		return nil, err
	}
	if err := e.store.SetSessionState(ctx, sess.ID(), papi.StatePreviewReady, ""); err != nil {
		return nil, err
	}
	return sess, nil
}

func (e *environment) createSessionRecord(ctx context.Context, sess *session.Session) error {
	snapshot, err := json.Marshal(e.config)
	if err != nil {
		return fmt.Errorf("serializing config snapshot: %w", err)
	}
	cfg := string(snapshot)

	rec := papi.Session{
		ID:        sess.ID(),
		CreatedAt: sess.CreatedAt(),
		VideoPath: e.config.Video.Path,
		Runway:    e.runway.Name,
		State:     papi.StatePending,
		Config:    &cfg,
	}
	if err := e.store.CreateSession(ctx, &rec); err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

func (e *environment) videoStart() (time.Time, error) {
	return e.config.Video.Start()
}

// writeReport reads the stored observation series back and renders the
// HTML report.
func (e *environment) writeReport(ctx context.Context, sessionID string, fps float64) error {
	var series []report.Series
	for _, p := range e.runway.Papis() {
		iter, err := e.store.ReadObservations(ctx, sessionID,
			storage.WithPoint[papi.Observation](p.ID))
		if err != nil {
			return err
		}

		var obs []papi.Observation
		for iter.Next(ctx) {
			obs = append(obs, iter.Current())
		}
		if err := iter.Error(); err != nil {
			iter.Close()
			return fmt.Errorf("reading observations for %s: %w", p.ID, err)
		}
		if err := iter.Close(); err != nil {
			return err
		}

		series = append(series, report.Series{
			PointID:      p.ID,
			Observations: obs,
			Nominal:      e.runway.Point(p.ID),
		})
	}

	builder := report.NewBuilder(fmt.Sprintf("PAPI inspection %s", e.runway.Name), fps)
	if err := builder.WriteFile(e.config.Output.ReportPath, series); err != nil {
		return err
	}

	e.logger.Info("report written", slog.String("path", e.config.Output.ReportPath))
	return nil
}

// loadMappingFile loads the mapping, with a missing file meaning no
// calibration pass has happened yet.
func loadMappingFile(path string) (*calibration.Mapping, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	return calibration.LoadMapping(path)
}

// decodeFrame reads a source forward to the given frame.
func decodeFrame(src *video.Source, index int) (*pixel.Grid, error) {
	for {
		frame, err := src.Next()
		if err != nil {
			return nil, fmt.Errorf("decoding frame %d: %w", index, err)
		}
		if frame.Index == index {
			return frame.Grid, nil
		}
	}
}

// calibrationGrid decodes the calibration frame from a separate decoder so
// the main source stays at the start of the video.
func calibrationGrid(path string, index int, logger *slog.Logger) (*pixel.Grid, error) {
	src, err := video.Open(path, video.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return decodeFrame(src, index)
}
