// Package telemetry models the drone's recorded flight track and aligns it
// with the frames of the recorded video.
package telemetry

import (
	"time"
)

// Sample is one timestamped position and camera orientation record from the
// drone's flight log. Samples arrive at the flight controller's own rate,
// independent of the video frame rate.
type Sample struct {
	Timestamp   time.Time // Timestamp of the telemetry measurement
	Latitude    float64   // GPS latitude in degrees
	Longitude   float64   // GPS longitude in degrees
	Altitude    float64   // Altitude in meters above the reference datum
	GimbalPitch float64   // Gimbal pitch in degrees, negative is down
	GimbalRoll  float64   // Gimbal roll in degrees
	GimbalYaw   float64   // Gimbal yaw (heading) in degrees, 0..360
	DroneYaw    *float64  // Airframe yaw in degrees, when the gimbal is not independently stabilized
}

// Heading returns the camera heading in degrees. When the gimbal is slaved
// to the airframe the drone yaw is added to the gimbal's relative yaw.
func (s *Sample) Heading() float64 {
	if s.DroneYaw != nil {
		return normalizeDeg(s.GimbalYaw + *s.DroneYaw)
	}
	return normalizeDeg(s.GimbalYaw)
}

func normalizeDeg(d float64) float64 {
	for d < 0 {
		d += 360
	}
	for d >= 360 {
		d -= 360
	}
	return d
}
