package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/flarelab/papiscan/internal/papi"
	"github.com/flarelab/papiscan/internal/report"
	"github.com/flarelab/papiscan/internal/runway"
	"github.com/flarelab/papiscan/internal/storage"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store := storage.NewSqliteStore(config.DBPath)
	defer store.Close()

	sess, err := store.Session(ctx, config.SessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("session '%s' not found", config.SessionID)
	}
	if sess.State != papi.StateCompleted {
		logger.Warn("session is not completed, the report covers a partial series",
			slog.String("state", string(sess.State)))
	}

	series, err := readSeries(ctx, store, config, logger)
	if err != nil {
		return err
	}
	if len(series) == 0 {
		return fmt.Errorf("session '%s' has no observations", config.SessionID)
	}

	builder := report.NewBuilder(fmt.Sprintf("PAPI inspection %s", sess.Runway), config.FPS)
	if err := builder.WriteFile(config.OutputFile, series); err != nil {
		return err
	}

	logger.Info("report written", slog.String("path", config.OutputFile))
	return nil
}

func readSeries(ctx context.Context, store storage.Store, config *Config, logger *slog.Logger) ([]report.Series, error) {
	type T = papi.Observation

	var opts []storage.ReaderOption[T]
	var filters []any
	if config.Point != nil {
		opts = append(opts, storage.WithPoint[T](*config.Point))
		filters = append(filters, slog.String("point", string(*config.Point)))
	}
	if config.MinTime != nil || config.MaxTime != nil {
		start, end := timeBounds(config)
		opts = append(opts, storage.WithTimeRange[T](start, end))
		filters = append(filters,
			slog.String("from", start.Format(time.DateTime)),
			slog.String("to", end.Format(time.DateTime)))
	}
	if config.Verbose && len(filters) > 0 {
		logger.Info("iterator configuration", filters...)
	}

	iter, err := store.ReadObservations(ctx, config.SessionID, opts...)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	byPoint := make(map[runway.PointID][]papi.Observation)
	for iter.Next(ctx) {
		obs := iter.Current()
		byPoint[obs.PointID] = append(byPoint[obs.PointID], obs)
	}
	if err = iter.Error(); err != nil {
		return nil, fmt.Errorf("reading observations: %w", err)
	}

	series := make([]report.Series, 0, len(byPoint))
	for id, obs := range byPoint {
		series = append(series, report.Series{PointID: id, Observations: obs})
	}
	return series, nil
}

// timeBounds widens a half-open CLI time filter into the reader's closed
// range.
func timeBounds(config *Config) (time.Time, time.Time) {
	start := time.Unix(0, 0).UTC()
	end := time.Now().UTC().Add(24 * time.Hour)
	if config.MinTime != nil {
		start = config.MinTime.UTC()
	}
	if config.MaxTime != nil {
		end = config.MaxTime.UTC()
	}
	return start, end
}
