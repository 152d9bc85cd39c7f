package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/flarelab/papiscan/internal/calibration"
	"github.com/flarelab/papiscan/internal/papi"
	"github.com/flarelab/papiscan/internal/runway"
	"github.com/flarelab/papiscan/internal/telemetry"
)

func newTestStore(t *testing.T) *SqliteStore {
	t.Helper()

	store := NewSqliteStore(filepath.Join(t.TempDir(), "test.sqlite"))
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Failed to close store: %v", err)
		}
	})
	return store
}

func createTestSession(t *testing.T, store *SqliteStore, id string) {
	t.Helper()

	cfg := `{"video":{"path":"flight.mp4"}}`
	err := store.CreateSession(context.Background(), &papi.Session{
		ID:        id,
		CreatedAt: time.Date(2025, 6, 12, 10, 0, 0, 0, time.UTC),
		VideoPath: "flight.mp4",
		Runway:    "16R",
		State:     papi.StatePending,
		Config:    &cfg,
	})
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
}

func TestSqliteStore_SessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	createTestSession(t, store, "session-1")

	sess, err := store.Session(ctx, "session-1")
	if err != nil {
		t.Fatalf("Failed to load session: %v", err)
	}
	if sess == nil {
		t.Fatal("Expected session, got nil")
	}
	if sess.State != papi.StatePending || sess.Runway != "16R" {
		t.Errorf("Unexpected session data: %+v", sess)
	}
	if sess.Config == nil {
		t.Error("Expected config snapshot to round-trip")
	}

	if err := store.SetSessionState(ctx, "session-1", papi.StateProcessing, ""); err != nil {
		t.Fatalf("Failed to update state: %v", err)
	}
	if err := store.SetSessionState(ctx, "session-1", papi.StateError, "telemetry does not cover enough of the video"); err != nil {
		t.Fatalf("Failed to record error state: %v", err)
	}

	sess, err = store.Session(ctx, "session-1")
	if err != nil {
		t.Fatalf("Failed to reload session: %v", err)
	}
	if sess.State != papi.StateError {
		t.Errorf("Expected error state, got %s", sess.State)
	}
	if sess.Error == "" {
		t.Error("Expected the failure cause to be persisted")
	}

	// Leaving the error state clears the cause.
	if err := store.SetSessionState(ctx, "session-1", papi.StateCompleted, ""); err != nil {
		t.Fatalf("Failed to update state: %v", err)
	}
	sess, _ = store.Session(ctx, "session-1")
	if sess.Error != "" {
		t.Errorf("Expected cleared cause, got %q", sess.Error)
	}
}

func TestSqliteStore_SessionNotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Session(ctx, "missing")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if sess != nil {
		t.Error("Expected nil for a missing session")
	}

	if err := store.SetSessionState(ctx, "missing", papi.StateCompleted, ""); err == nil {
		t.Error("Expected error updating a missing session")
	}
}

func TestSqliteStore_Sessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	createTestSession(t, store, "session-1")
	createTestSession(t, store, "session-2")

	sessions, err := store.Sessions(ctx)
	if err != nil {
		t.Fatalf("Failed to list sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
}

func TestSqliteStore_FrameSamples(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	createTestSession(t, store, "session-1")

	base := time.Date(2025, 6, 12, 10, 0, 0, 0, time.UTC)
	yaw := 88.0
	frames := []telemetry.FrameSample{
		{
			Index:     0,
			Timestamp: base,
			Sample: telemetry.Sample{
				Timestamp: base, Latitude: -33.95, Longitude: 151.18, Altitude: 52,
				GimbalPitch: -3, GimbalYaw: 90, DroneYaw: &yaw,
			},
			Skew:   20 * time.Millisecond,
			Synced: true,
		},
		{
			Index:     1,
			Timestamp: base.Add(33 * time.Millisecond),
			Skew:      5 * time.Second,
			Synced:    false,
		},
	}

	if err := store.StoreFrameSamples(ctx, "session-1", frames); err != nil {
		t.Fatalf("Failed to store frame samples: %v", err)
	}
}

func TestSqliteStore_CalibrationWriteOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	createTestSession(t, store, "session-1")

	m := &calibration.Mapping{
		FrameIndex: 3,
		Boxes: map[runway.PointID]papi.Box{
			runway.PapiA: {CX: 100.5, CY: 200.25, HW: 12, HH: 12},
			runway.PapiB: {CX: 160, CY: 202, HW: 12, HH: 12},
		},
		Confidence: map[runway.PointID]float64{
			runway.PapiA: 0.9,
			runway.PapiB: 1,
		},
		Confirmed: true,
	}

	if err := store.StoreCalibration(ctx, "session-1", m); err != nil {
		t.Fatalf("Failed to store calibration: %v", err)
	}

	loaded, err := store.Calibration(ctx, "session-1")
	if err != nil {
		t.Fatalf("Failed to load calibration: %v", err)
	}
	if loaded == nil || !loaded.Confirmed || loaded.FrameIndex != 3 {
		t.Fatalf("Unexpected calibration: %+v", loaded)
	}
	if loaded.Boxes[runway.PapiA].CX != 100.5 {
		t.Errorf("Box lost precision: %+v", loaded.Boxes[runway.PapiA])
	}
	if loaded.Confidence[runway.PapiB] != 1 {
		t.Errorf("Confidence not preserved: %f", loaded.Confidence[runway.PapiB])
	}

	if err := store.StoreCalibration(ctx, "session-1", m); !errors.Is(err, ErrCalibrationExists) {
		t.Errorf("Expected ErrCalibrationExists on second store, got %v", err)
	}
}

func TestSqliteStore_CalibrationMissing(t *testing.T) {
	store := newTestStore(t)
	createTestSession(t, store, "session-1")

	m, err := store.Calibration(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if m != nil {
		t.Error("Expected nil calibration for a fresh session")
	}
}

func testObservations(base time.Time) []papi.Observation {
	elev := 2.95
	ground := 840.0
	slant := 841.1
	return []papi.Observation{
		{
			PointID: runway.PapiA, FrameIndex: 0, Timestamp: base,
			Box:   papi.Box{CX: 100, CY: 200, HW: 12, HH: 12},
			MeanR: 220, MeanG: 70, MeanB: 60, Intensity: 120,
			Confidence: 0.9, Category: papi.CategoryRed,
			ElevationAngle: &elev, GroundDistance: &ground, SlantDistance: &slant,
		},
		{
			PointID: runway.PapiA, FrameIndex: 1, Timestamp: base.Add(33 * time.Millisecond),
			Box:   papi.Box{CX: 103, CY: 201, HW: 12, HH: 12},
			MeanR: 210, MeanG: 150, MeanB: 140, Intensity: 130,
			Confidence: 0.2, LowConfidence: true, Category: papi.CategoryTransition,
			// geometry omitted: telemetry gap
		},
		{
			PointID: runway.PapiB, FrameIndex: 0, Timestamp: base,
			Box:   papi.Box{CX: 160, CY: 202, HW: 12, HH: 12},
			MeanR: 200, MeanG: 195, MeanB: 190, Intensity: 150,
			Confidence: 0.95, Category: papi.CategoryWhite,
			ElevationAngle: &elev, GroundDistance: &ground, SlantDistance: &slant,
		},
	}
}

func TestSqliteStore_ObservationsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	createTestSession(t, store, "session-1")

	base := time.Date(2025, 6, 12, 10, 0, 0, 0, time.UTC)
	if err := store.BatchInsertObservations(ctx, "session-1", testObservations(base)); err != nil {
		t.Fatalf("Failed to insert observations: %v", err)
	}

	iter, err := store.ReadObservations(ctx, "session-1")
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}
	defer iter.Close()

	var got []papi.Observation
	for iter.Next(ctx) {
		got = append(got, iter.Current())
	}
	if err := iter.Error(); err != nil {
		t.Fatalf("Reader failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 observations, got %d", len(got))
	}

	// Ordered by point, then frame.
	if got[0].PointID != runway.PapiA || got[0].FrameIndex != 0 ||
		got[1].PointID != runway.PapiA || got[1].FrameIndex != 1 ||
		got[2].PointID != runway.PapiB || got[2].FrameIndex != 0 {
		t.Errorf("Unexpected order: %v", got)
	}

	first := got[0]
	if first.Category != papi.CategoryRed || first.MeanR != 220 {
		t.Errorf("Photometry lost: %+v", first)
	}
	if first.ElevationAngle == nil || *first.ElevationAngle != 2.95 {
		t.Error("Expected geometry to round-trip")
	}

	second := got[1]
	if second.ElevationAngle != nil || second.GroundDistance != nil || second.SlantDistance != nil {
		t.Error("Expected nil geometry to stay nil")
	}
	if !second.LowConfidence {
		t.Error("Expected low-confidence flag to round-trip")
	}
}

func TestSqliteStore_ReaderFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	createTestSession(t, store, "session-1")

	base := time.Date(2025, 6, 12, 10, 0, 0, 0, time.UTC)
	if err := store.BatchInsertObservations(ctx, "session-1", testObservations(base)); err != nil {
		t.Fatalf("Failed to insert observations: %v", err)
	}

	t.Run("by point", func(t *testing.T) {
		iter, err := store.ReadObservations(ctx, "session-1", WithPoint[papi.Observation](runway.PapiB))
		if err != nil {
			t.Fatalf("Failed to create reader: %v", err)
		}
		defer iter.Close()

		count := 0
		for iter.Next(ctx) {
			if iter.Current().PointID != runway.PapiB {
				t.Errorf("Filter leaked %s", iter.Current().PointID)
			}
			count++
		}
		if count != 1 {
			t.Errorf("Expected 1 observation, got %d", count)
		}
	})

	t.Run("by frame range", func(t *testing.T) {
		iter, err := store.ReadObservations(ctx, "session-1", WithFrameRange[papi.Observation](1, 10))
		if err != nil {
			t.Fatalf("Failed to create reader: %v", err)
		}
		defer iter.Close()

		count := 0
		for iter.Next(ctx) {
			if iter.Current().FrameIndex < 1 {
				t.Errorf("Filter leaked frame %d", iter.Current().FrameIndex)
			}
			count++
		}
		if count != 1 {
			t.Errorf("Expected 1 observation, got %d", count)
		}
	})
}

func TestSqliteStore_ObservationsWithTelemetry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	createTestSession(t, store, "session-1")

	base := time.Date(2025, 6, 12, 10, 0, 0, 0, time.UTC)
	frames := []telemetry.FrameSample{
		{
			Index: 0, Timestamp: base,
			Sample: telemetry.Sample{Timestamp: base, Latitude: -33.95, Longitude: 151.18, Altitude: 52, GimbalPitch: -3, GimbalYaw: 90},
			Synced: true,
		},
	}
	if err := store.StoreFrameSamples(ctx, "session-1", frames); err != nil {
		t.Fatalf("Failed to store frame samples: %v", err)
	}
	if err := store.BatchInsertObservations(ctx, "session-1", testObservations(base)); err != nil {
		t.Fatalf("Failed to insert observations: %v", err)
	}

	iter, err := store.ReadObservationsWithTelemetry(ctx, "session-1")
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}
	defer iter.Close()

	var withTelemetry, withoutTelemetry int
	for iter.Next(ctx) {
		cur := iter.Current()
		if cur.Telemetry != nil {
			withTelemetry++
			if cur.Telemetry.Altitude != 52 {
				t.Errorf("Unexpected telemetry: %+v", cur.Telemetry)
			}
		} else {
			withoutTelemetry++
		}
	}
	if err := iter.Error(); err != nil {
		t.Fatalf("Reader failed: %v", err)
	}

	// Frame 0 has telemetry, frame 1 does not.
	if withTelemetry != 2 || withoutTelemetry != 1 {
		t.Errorf("Expected 2 joined and 1 bare observation, got %d and %d", withTelemetry, withoutTelemetry)
	}
}

func TestSqliteStore_CloseIdempotent(t *testing.T) {
	store := NewSqliteStore(filepath.Join(t.TempDir(), "test.sqlite"))
	createTestSession(t, store, "session-1")

	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Second close failed: %v", err)
	}
}
