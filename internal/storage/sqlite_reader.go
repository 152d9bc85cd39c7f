package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/flarelab/papiscan/internal/papi"
	"github.com/flarelab/papiscan/internal/runway"
	"github.com/flarelab/papiscan/internal/telemetry"
)

// ObservationData is a constraint for types that can represent light
// observations, either bare or joined with the drone telemetry of their
// frame.
type ObservationData interface {
	papi.Observation | papi.ObservationWithTelemetry

	GetPointID() runway.PointID
	GetFrameIndex() int
	GetTimestamp() time.Time
}

// ObservationReader provides an iterator-based interface for reading a
// session's observation series with optional point, frame and time
// filtering. The type parameter T determines whether records carry
// telemetry.
type ObservationReader[T ObservationData] interface {
	// Next advances the iterator and returns true if there is another
	// observation to read, false when iteration is complete or an error
	// occurred.
	Next(context.Context) bool

	// Current returns the current observation in the iteration. If called
	// after Next() returns false, the behavior is undefined.
	Current() T

	// Error returns any error that occurred during iteration. If Next()
	// returns false, Error() should be checked to distinguish between end
	// of data and an error condition.
	Error() error

	// Close releases any resources associated with the reader. After Close
	// is called, the reader should not be used.
	Close() error
}

// ReaderOption configures an ObservationReader with filtering criteria.
type ReaderOption[T ObservationData] func(*SqliteObservationReader[T])

// WithPoint restricts the reader to a single reference point.
func WithPoint[T ObservationData](id runway.PointID) ReaderOption[T] {
	return func(r *SqliteObservationReader[T]) {
		r.pointID = &id
	}
}

// WithFrameRange restricts the reader to frames in [first, last].
func WithFrameRange[T ObservationData](first, last int) ReaderOption[T] {
	return func(r *SqliteObservationReader[T]) {
		r.firstFrame = &first
		r.lastFrame = &last
	}
}

// WithTimeRange restricts the reader to observations in [start, end].
func WithTimeRange[T ObservationData](start, end time.Time) ReaderOption[T] {
	return func(r *SqliteObservationReader[T]) {
		r.startTime = &start
		r.endTime = &end
	}
}

// SqliteObservationReader reads observations from the session database,
// ordered by point then frame index so that each light's series arrives in
// strictly increasing frame order.
type SqliteObservationReader[T ObservationData] struct {
	db               *sql.DB
	sessionID        string
	includeTelemetry bool

	pointID    *runway.PointID
	firstFrame *int
	lastFrame  *int
	startTime  *time.Time
	endTime    *time.Time

	rows    *sql.Rows
	current T
	err     error
}

func newSqliteObservationReader[T ObservationData](ctx context.Context, db *sql.DB, sessionID string, includeTelemetry bool, opts ...ReaderOption[T],
) (*SqliteObservationReader[T], error) {
	r := &SqliteObservationReader[T]{
		db:               db,
		sessionID:        sessionID,
		includeTelemetry: includeTelemetry,
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.initQuery(ctx); err != nil {
		return nil, fmt.Errorf("setting up observation query: %w", err)
	}
	return r, nil
}

func (r *SqliteObservationReader[T]) initQuery(ctx context.Context) error {
	table := "observations"
	columns := `point_id, frame_index, timestamp,
       cx, cy, hw, hh,
       confidence, low_confidence,
       mean_r, mean_g, mean_b, intensity, category,
       elevation_angle, ground_distance, slant_distance`

	if r.includeTelemetry {
		table = "v_observations_with_telemetry"
		columns += `,
       latitude, longitude, altitude,
       gimbal_pitch, gimbal_roll, gimbal_yaw, drone_yaw`
	}

	where := []string{"session_id = ?"}
	args := []any{r.sessionID}

	if r.pointID != nil {
		where = append(where, "point_id = ?")
		args = append(args, string(*r.pointID))
	}
	if r.firstFrame != nil && r.lastFrame != nil {
		where = append(where, "frame_index BETWEEN ? AND ?")
		args = append(args, *r.firstFrame, *r.lastFrame)
	}
	if r.startTime != nil && r.endTime != nil {
		where = append(where, "timestamp BETWEEN ? AND ?")
		args = append(args, r.startTime.UTC(), r.endTime.UTC())
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY point_id, frame_index`,
		columns, table, strings.Join(where, " AND "))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	r.rows = rows
	return nil
}

func (r *SqliteObservationReader[T]) Next(ctx context.Context) bool {
	if r.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		r.err = err
		return false
	}
	if !r.rows.Next() {
		return false
	}

	obs, tele, err := r.scan()
	if err != nil {
		r.err = err
		return false
	}

	switch cur := any(&r.current).(type) {
	case *papi.Observation:
		*cur = obs
	case *papi.ObservationWithTelemetry:
		*cur = papi.ObservationWithTelemetry{Observation: obs, Telemetry: tele}
	}
	return true
}

func (r *SqliteObservationReader[T]) scan() (papi.Observation, *telemetry.Sample, error) {
	var od observationData
	dest := []any{
		&od.PointID, &od.FrameIndex, &od.Timestamp,
		&od.CX, &od.CY, &od.HW, &od.HH,
		&od.Confidence, &od.LowConfidence,
		&od.MeanR, &od.MeanG, &od.MeanB, &od.Intensity, &od.Category,
		&od.ElevationAngle, &od.GroundDistance, &od.SlantDistance,
	}

	var td telemetryData
	if r.includeTelemetry {
		dest = append(dest,
			&td.Latitude, &td.Longitude, &td.Altitude,
			&td.GimbalPitch, &td.GimbalRoll, &td.GimbalYaw, &td.DroneYaw)
	}

	if err := r.rows.Scan(dest...); err != nil {
		return papi.Observation{}, nil, fmt.Errorf("scanning observation: %w", err)
	}

	obs := papi.Observation{
		PointID:    runway.PointID(od.PointID),
		FrameIndex: od.FrameIndex,
		Timestamp:  od.Timestamp,
		Box:        papi.Box{CX: od.CX, CY: od.CY, HW: od.HW, HH: od.HH},

		Confidence:    od.Confidence,
		LowConfidence: od.LowConfidence,

		MeanR:     od.MeanR,
		MeanG:     od.MeanG,
		MeanB:     od.MeanB,
		Intensity: od.Intensity,
		Category:  papi.Category(od.Category),

		ElevationAngle: fromNullFloat(od.ElevationAngle),
		GroundDistance: fromNullFloat(od.GroundDistance),
		SlantDistance:  fromNullFloat(od.SlantDistance),
	}

	if !r.includeTelemetry || !td.Latitude.Valid {
		return obs, nil, nil
	}

	sample := &telemetry.Sample{
		Timestamp:   od.Timestamp,
		Latitude:    td.Latitude.Float64,
		Longitude:   td.Longitude.Float64,
		Altitude:    td.Altitude.Float64,
		GimbalPitch: td.GimbalPitch.Float64,
		GimbalRoll:  td.GimbalRoll.Float64,
		GimbalYaw:   td.GimbalYaw.Float64,
	}
	if td.DroneYaw.Valid {
		yaw := td.DroneYaw.Float64
		sample.DroneYaw = &yaw
	}
	return obs, sample, nil
}

func (r *SqliteObservationReader[T]) Current() T {
	return r.current
}

func (r *SqliteObservationReader[T]) Error() error {
	if r.err != nil {
		return r.err
	}
	return r.rows.Err()
}

func (r *SqliteObservationReader[T]) Close() error {
	return r.rows.Close()
}
