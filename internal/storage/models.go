package storage

import (
	"database/sql"
	"time"
)

type sessionData struct {
	ID        string
	CreatedAt time.Time
	VideoPath string
	Runway    string
	State     string
	Error     sql.NullString
	Config    sql.NullString
}

type telemetryData struct {
	SessionID   string
	FrameIndex  int
	Timestamp   time.Time
	Latitude    sql.NullFloat64
	Longitude   sql.NullFloat64
	Altitude    sql.NullFloat64
	GimbalPitch sql.NullFloat64
	GimbalRoll  sql.NullFloat64
	GimbalYaw   sql.NullFloat64
	DroneYaw    sql.NullFloat64
	SkewMS      float64
	Synced      bool
}

type observationData struct {
	ID             int64
	SessionID      string
	PointID        string
	FrameIndex     int
	Timestamp      time.Time
	CX             float64
	CY             float64
	HW             float64
	HH             float64
	Confidence     float64
	LowConfidence  bool
	MeanR          float64
	MeanG          float64
	MeanB          float64
	Intensity      float64
	Category       string
	ElevationAngle sql.NullFloat64
	GroundDistance sql.NullFloat64
	SlantDistance  sql.NullFloat64
}
