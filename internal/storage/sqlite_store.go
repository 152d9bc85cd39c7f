package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/flarelab/papiscan/internal/calibration"
	"github.com/flarelab/papiscan/internal/papi"
	"github.com/flarelab/papiscan/internal/runway"
	"github.com/flarelab/papiscan/internal/telemetry"
)

// ErrCalibrationExists indicates an attempt to store a second calibration
// mapping for a session.
var ErrCalibrationExists = errors.New("session already has a calibration mapping")

// SqliteStore handles database operations
type SqliteStore struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewSqliteStore creates a new database connection and initializes the
// schema using the Sqlite database
func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{dbPath: dbPath}
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}

		if err = runSQLCommand(db, schemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	// The write connection must exist first so the schema is initialized.
	if _, err := s.getWriteDB(); err != nil {
		return nil, err
	}

	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

func (s *SqliteStore) CreateSession(ctx context.Context, sess *papi.Session) error {
	if sess.ID == "" {
		return fmt.Errorf("session ID is required")
	}

	db, err := s.getWriteDB()
	if err != nil {
		return err
	}

	var config any
	if sess.Config != nil {
		config = *sess.Config
	}

	state := sess.State
	if state == "" {
		state = papi.StatePending
	}

	if _, err = db.ExecContext(ctx, insertSessionSQL,
		sess.ID, sess.CreatedAt.UTC(), sess.VideoPath, sess.Runway, string(state), config); err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

func (s *SqliteStore) Session(ctx context.Context, id string) (*papi.Session, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, err
	}

	var data sessionData
	err = db.QueryRowContext(ctx, selectSessionSQL, id).Scan(
		&data.ID, &data.CreatedAt, &data.VideoPath, &data.Runway, &data.State, &data.Error, &data.Config)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}
	return sessionFromData(&data), nil
}

func (s *SqliteStore) Sessions(ctx context.Context) (sessions []*papi.Session, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, selectSessionsSQL)
	if err != nil {
		return nil, fmt.Errorf("loading sessions: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var data sessionData
		if err = rows.Scan(&data.ID, &data.CreatedAt, &data.VideoPath, &data.Runway, &data.State, &data.Error, &data.Config); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, sessionFromData(&data))
	}
	return sessions, rows.Err()
}

func (s *SqliteStore) SetSessionState(ctx context.Context, id string, state papi.State, cause string) error {
	db, err := s.getWriteDB()
	if err != nil {
		return err
	}

	var errCause sql.NullString
	if state == papi.StateError {
		errCause = sql.NullString{String: cause, Valid: true}
	}

	res, err := db.ExecContext(ctx, updateSessionStateSQL, string(state), errCause, id)
	if err != nil {
		return fmt.Errorf("updating session %s state: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("session %s does not exist", id)
	}
	return nil
}

func (s *SqliteStore) StoreFrameSamples(ctx context.Context, sessionID string, frames []telemetry.FrameSample) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning telemetry transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	stmt, err := tx.PrepareContext(ctx, insertTelemetrySQL)
	if err != nil {
		return fmt.Errorf("preparing telemetry insert: %w", err)
	}
	defer closeWithError(stmt, &err)

	for i := range frames {
		td := toTelemetryData(sessionID, &frames[i])
		if _, err = stmt.ExecContext(ctx,
			td.SessionID, td.FrameIndex, td.Timestamp,
			td.Latitude, td.Longitude, td.Altitude,
			td.GimbalPitch, td.GimbalRoll, td.GimbalYaw, td.DroneYaw,
			td.SkewMS, td.Synced); err != nil {
			return fmt.Errorf("inserting telemetry for frame %d: %w", td.FrameIndex, err)
		}
	}
	return tx.Commit()
}

func (s *SqliteStore) StoreCalibration(ctx context.Context, sessionID string, m *calibration.Mapping) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return err
	}

	existing, err := s.Calibration(ctx, sessionID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("session %s: %w", sessionID, ErrCalibrationExists)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning calibration transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	stmt, err := tx.PrepareContext(ctx, insertCalibrationSQL)
	if err != nil {
		return fmt.Errorf("preparing calibration insert: %w", err)
	}
	defer closeWithError(stmt, &err)

	for id, box := range m.Boxes {
		if _, err = stmt.ExecContext(ctx,
			sessionID, string(id), m.FrameIndex,
			box.CX, box.CY, box.HW, box.HH,
			m.Confidence[id], m.Confirmed); err != nil {
			return fmt.Errorf("inserting calibration for %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *SqliteStore) Calibration(ctx context.Context, sessionID string) (m *calibration.Mapping, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, selectCalibrationSQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading calibration: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var pointID string
		var frameIndex int
		var box papi.Box
		var confidence float64
		var confirmed bool
		if err = rows.Scan(&pointID, &frameIndex, &box.CX, &box.CY, &box.HW, &box.HH, &confidence, &confirmed); err != nil {
			return nil, fmt.Errorf("scanning calibration: %w", err)
		}

		if m == nil {
			m = &calibration.Mapping{
				FrameIndex: frameIndex,
				Boxes:      make(map[runway.PointID]papi.Box),
				Confidence: make(map[runway.PointID]float64),
				Confirmed:  confirmed,
			}
		}
		m.Boxes[runway.PointID(pointID)] = box
		m.Confidence[runway.PointID(pointID)] = confidence
	}
	return m, rows.Err()
}

func (s *SqliteStore) BatchInsertObservations(ctx context.Context, sessionID string, obs []papi.Observation) (err error) {
	if len(obs) == 0 {
		return nil
	}

	db, err := s.getWriteDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning observations transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	stmt, err := tx.PrepareContext(ctx, insertObservationSQL)
	if err != nil {
		return fmt.Errorf("preparing observation insert: %w", err)
	}
	defer closeWithError(stmt, &err)

	for i := range obs {
		od := toObservationData(sessionID, &obs[i])
		if _, err = stmt.ExecContext(ctx,
			od.SessionID, od.PointID, od.FrameIndex, od.Timestamp,
			od.CX, od.CY, od.HW, od.HH,
			od.Confidence, od.LowConfidence,
			od.MeanR, od.MeanG, od.MeanB, od.Intensity, od.Category,
			od.ElevationAngle, od.GroundDistance, od.SlantDistance); err != nil {
			return fmt.Errorf("inserting observation %s/frame %d: %w", od.PointID, od.FrameIndex, err)
		}
	}
	return tx.Commit()
}

func (s *SqliteStore) ReadObservations(ctx context.Context, sessionID string, opts ...ReaderOption[papi.Observation]) (ObservationReader[papi.Observation], error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, err
	}
	return newSqliteObservationReader[papi.Observation](ctx, db, sessionID, false, opts...)
}

func (s *SqliteStore) ReadObservationsWithTelemetry(ctx context.Context, sessionID string, opts ...ReaderOption[papi.ObservationWithTelemetry]) (ObservationReader[papi.ObservationWithTelemetry], error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, err
	}
	return newSqliteObservationReader[papi.ObservationWithTelemetry](ctx, db, sessionID, true, opts...)
}

func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.writeDB != nil {
			if err := s.writeDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing write connection: %w", err))
			}
		}
		if s.readDB != nil {
			if err := s.readDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing read connection: %w", err))
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

func sessionFromData(data *sessionData) *papi.Session {
	sess := &papi.Session{
		ID:        data.ID,
		CreatedAt: data.CreatedAt,
		VideoPath: data.VideoPath,
		Runway:    data.Runway,
		State:     papi.State(data.State),
	}
	if data.Error.Valid {
		sess.Error = data.Error.String
	}
	if data.Config.Valid {
		config := data.Config.String
		sess.Config = &config
	}
	return sess
}
