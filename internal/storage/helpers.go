package storage

import (
	"database/sql"
	"errors"

	"github.com/flarelab/papiscan/internal/papi"
	"github.com/flarelab/papiscan/internal/telemetry"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

// rollbackWithError is deferred around a transaction; after a successful
// commit the rollback reports ErrTxDone, which is not a failure.
func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && !errors.Is(cErr, sql.ErrTxDone) && *err == nil {
		*err = cErr
	}
}

func toTelemetryData(sessionID string, f *telemetry.FrameSample) *telemetryData {
	td := &telemetryData{
		SessionID:  sessionID,
		FrameIndex: f.Index,
		Timestamp:  f.Timestamp.UTC(),
		SkewMS:     float64(f.Skew.Microseconds()) / 1000,
		Synced:     f.Synced,
	}
	if !f.Synced {
		return td
	}

	s := f.Sample
	td.Latitude = sql.NullFloat64{Float64: s.Latitude, Valid: true}
	td.Longitude = sql.NullFloat64{Float64: s.Longitude, Valid: true}
	td.Altitude = sql.NullFloat64{Float64: s.Altitude, Valid: true}
	td.GimbalPitch = sql.NullFloat64{Float64: s.GimbalPitch, Valid: true}
	td.GimbalRoll = sql.NullFloat64{Float64: s.GimbalRoll, Valid: true}
	td.GimbalYaw = sql.NullFloat64{Float64: s.GimbalYaw, Valid: true}
	if s.DroneYaw != nil {
		td.DroneYaw = sql.NullFloat64{Float64: *s.DroneYaw, Valid: true}
	}
	return td
}

func toObservationData(sessionID string, o *papi.Observation) *observationData {
	return &observationData{
		SessionID:      sessionID,
		PointID:        string(o.PointID),
		FrameIndex:     o.FrameIndex,
		Timestamp:      o.Timestamp.UTC(),
		CX:             o.Box.CX,
		CY:             o.Box.CY,
		HW:             o.Box.HW,
		HH:             o.Box.HH,
		Confidence:     o.Confidence,
		LowConfidence:  o.LowConfidence,
		MeanR:          o.MeanR,
		MeanG:          o.MeanG,
		MeanB:          o.MeanB,
		Intensity:      o.Intensity,
		Category:       string(o.Category),
		ElevationAngle: toNullFloat(o.ElevationAngle),
		GroundDistance: toNullFloat(o.GroundDistance),
		SlantDistance:  toNullFloat(o.SlantDistance),
	}
}

func toNullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func fromNullFloat(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}
