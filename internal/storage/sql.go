package storage

import (
	_ "embed"
)

const (
	insertSessionSQL = `
INSERT INTO sessions (id,
                      created_at,
                      video_path,
                      runway,
                      state,
                      config)
VALUES (?, ?, ?, ?, ?, ?)`

	selectSessionSQL = `
SELECT 
    id, 
    created_at, 
    video_path, 
    runway, 
    state, 
    error, 
    config 
FROM sessions 
WHERE 
    id = ?`

	selectSessionsSQL = `
SELECT 
    id, 
    created_at, 
    video_path, 
    runway, 
    state, 
    error, 
    config 
FROM sessions
ORDER BY created_at`

	updateSessionStateSQL = `
UPDATE sessions
SET state = ?,
    error = ?
WHERE id = ?`

	insertTelemetrySQL = `
INSERT INTO telemetry (session_id,
                       frame_index,
                       timestamp,
                       latitude,
                       longitude,
                       altitude,
                       gimbal_pitch,
                       gimbal_roll,
                       gimbal_yaw,
                       drone_yaw,
                       skew_ms,
                       synced)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertCalibrationSQL = `
INSERT INTO calibration (session_id,
                         point_id,
                         frame_index,
                         cx,
                         cy,
                         hw,
                         hh,
                         confidence,
                         confirmed)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectCalibrationSQL = `
SELECT 
    point_id, 
    frame_index, 
    cx, 
    cy, 
    hw, 
    hh, 
    confidence, 
    confirmed 
FROM calibration
WHERE 
    session_id = ?`

	insertObservationSQL = `
INSERT INTO observations (session_id,
                          point_id,
                          frame_index,
                          timestamp,
                          cx,
                          cy,
                          hw,
                          hh,
                          confidence,
                          low_confidence,
                          mean_r,
                          mean_g,
                          mean_b,
                          intensity,
                          category,
                          elevation_angle,
                          ground_distance,
                          slant_distance)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

//go:embed schema.sql
var schemaSQL string
