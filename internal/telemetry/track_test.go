package telemetry

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var trackStart = time.Date(2025, 6, 12, 10, 0, 0, 0, time.UTC)

func linearTrack(t *testing.T, n int, step time.Duration) *Track {
	t.Helper()

	samples := make([]Sample, n)
	for i := range samples {
		samples[i] = Sample{
			Timestamp:   trackStart.Add(time.Duration(i) * step),
			Latitude:    -33.95 + float64(i)*0.0001,
			Longitude:   151.18,
			Altitude:    50 + float64(i),
			GimbalPitch: -3,
			GimbalYaw:   90,
		}
	}
	track, err := NewTrack(samples)
	if err != nil {
		t.Fatalf("Failed to build track: %v", err)
	}
	return track
}

func TestTrack_AtInterpolates(t *testing.T) {
	track := linearTrack(t, 10, time.Second)

	sample, skew := track.At(trackStart.Add(2500 * time.Millisecond))
	if skew != 500*time.Millisecond {
		t.Errorf("Expected skew 500ms, got %s", skew)
	}
	if want := 52.5; math.Abs(sample.Altitude-want) > 1e-9 {
		t.Errorf("Expected altitude %f, got %f", want, sample.Altitude)
	}
	if want := -33.95 + 2.5*0.0001; math.Abs(sample.Latitude-want) > 1e-12 {
		t.Errorf("Expected latitude %f, got %f", want, sample.Latitude)
	}
}

func TestTrack_AtOutsideSpan(t *testing.T) {
	track := linearTrack(t, 5, time.Second)

	before, skew := track.At(trackStart.Add(-3 * time.Second))
	if before.Altitude != 50 {
		t.Errorf("Expected edge sample before the track, got altitude %f", before.Altitude)
	}
	if skew != 3*time.Second {
		t.Errorf("Expected 3s skew before the track, got %s", skew)
	}

	after, skew := track.At(trackStart.Add(10 * time.Second))
	if after.Altitude != 54 {
		t.Errorf("Expected edge sample after the track, got altitude %f", after.Altitude)
	}
	if skew != 6*time.Second {
		t.Errorf("Expected 6s skew after the track, got %s", skew)
	}
}

func TestTrack_AtExactSample(t *testing.T) {
	track := linearTrack(t, 5, time.Second)

	_, skew := track.At(trackStart.Add(2 * time.Second))
	if skew != 0 {
		t.Errorf("Expected zero skew on an exact sample, got %s", skew)
	}
}

func TestLerpAngle_Wrap(t *testing.T) {
	cases := []struct {
		a, b, f, want float64
	}{
		{350, 10, 0.5, 0},
		{10, 350, 0.5, 0},
		{90, 270, 0, 90},
		{0, 180, 0.5, 90},
		{359, 1, 0.25, 359.5},
	}
	for _, tc := range cases {
		got := lerpAngle(tc.a, tc.b, tc.f)
		if math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("lerpAngle(%f, %f, %f): expected %f, got %f", tc.a, tc.b, tc.f, tc.want, got)
		}
	}
}

func TestLoadTrack(t *testing.T) {
	csv := "timestamp,latitude,longitude,altitude,gimbal_pitch,gimbal_roll,gimbal_yaw,drone_yaw\n" +
		"2025-06-12T10:00:00Z,-33.95,151.18,50,-3,0,90,88\n" +
		"not-a-timestamp,0,0,0,0,0,0,0\n" +
		"2025-06-12T10:00:01Z,-33.9501,151.18,51,-3,0,91,\n"

	path := filepath.Join(t.TempDir(), "track.csv")
	if err := os.WriteFile(path, []byte(csv), 0o644); err != nil {
		t.Fatalf("Failed to write track file: %v", err)
	}

	track, err := LoadTrack(path)
	if err != nil {
		t.Fatalf("Failed to load track: %v", err)
	}
	if track.Len() != 2 {
		t.Fatalf("Expected 2 samples (corrupt row skipped), got %d", track.Len())
	}

	first := track.Samples()[0]
	if first.DroneYaw == nil || *first.DroneYaw != 88 {
		t.Error("Expected drone yaw 88 on the first sample")
	}
	second := track.Samples()[1]
	if second.DroneYaw != nil {
		t.Error("Expected no drone yaw on the second sample")
	}
}

func TestLoadTrack_MissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "track.csv")
	if err := os.WriteFile(path, []byte("timestamp,latitude\n"), 0o644); err != nil {
		t.Fatalf("Failed to write track file: %v", err)
	}
	if _, err := LoadTrack(path); err == nil {
		t.Error("Expected error for missing columns")
	}
}

func TestLoadTrack_Empty(t *testing.T) {
	csv := "timestamp,latitude,longitude,altitude,gimbal_pitch,gimbal_roll,gimbal_yaw\n"
	path := filepath.Join(t.TempDir(), "track.csv")
	if err := os.WriteFile(path, []byte(csv), 0o644); err != nil {
		t.Fatalf("Failed to write track file: %v", err)
	}
	if _, err := LoadTrack(path); !errors.Is(err, ErrEmptyTrack) {
		t.Errorf("Expected ErrEmptyTrack, got %v", err)
	}
}
