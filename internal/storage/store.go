package storage

import (
	"context"

	_ "github.com/mattn/go-sqlite3"

	"github.com/flarelab/papiscan/internal/calibration"
	"github.com/flarelab/papiscan/internal/papi"
	"github.com/flarelab/papiscan/internal/telemetry"
)

// Store provides an interface for managing inspection data storage
// operations. It handles sessions, per-frame telemetry, the calibration
// mapping and the derived light observations in a thread-safe manner.
// All operations that write to the database should be considered atomic.
type Store interface {
	// CreateSession persists a new measurement session.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - s: Session metadata; the ID must be set by the caller
	//
	// Returns:
	//   - error: If session creation fails or context is cancelled
	CreateSession(ctx context.Context, s *papi.Session) error

	// Session retrieves a measurement session by its ID.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - id: Unique session identifier
	//
	// Returns:
	//   - session: Pointer to session data, nil if not found
	//   - error: If retrieval fails or context is cancelled
	Session(ctx context.Context, id string) (*papi.Session, error)

	// Sessions returns all measurement sessions stored in the database,
	// ordered by creation time in ascending order.
	Sessions(ctx context.Context) ([]*papi.Session, error)

	// SetSessionState records a session lifecycle transition. The cause is
	// persisted for StateError and cleared otherwise.
	SetSessionState(ctx context.Context, id string, state papi.State, cause string) error

	// StoreFrameSamples saves the frame-synchronized telemetry for a
	// session in a single transaction. Unsynchronized frames are stored
	// with their skew and synced=false so that gaps remain explainable.
	StoreFrameSamples(ctx context.Context, sessionID string, frames []telemetry.FrameSample) error

	// StoreCalibration saves the confirmed calibration mapping. A mapping
	// is written at most once per session; it seeds tracking and is never
	// silently overwritten.
	StoreCalibration(ctx context.Context, sessionID string, m *calibration.Mapping) error

	// Calibration retrieves a session's calibration mapping, or nil when
	// none has been stored yet.
	Calibration(ctx context.Context, sessionID string) (*calibration.Mapping, error)

	// BatchInsertObservations saves a batch of light observations in a
	// single transaction.
	BatchInsertObservations(ctx context.Context, sessionID string, obs []papi.Observation) error

	// ReadObservations returns an iterator over a session's observations,
	// ordered by point and frame index, with optional filtering.
	ReadObservations(ctx context.Context, sessionID string, opts ...ReaderOption[papi.Observation]) (ObservationReader[papi.Observation], error)

	// ReadObservationsWithTelemetry is ReadObservations with each record
	// joined to the drone state of its frame.
	ReadObservationsWithTelemetry(ctx context.Context, sessionID string, opts ...ReaderOption[papi.ObservationWithTelemetry]) (ObservationReader[papi.ObservationWithTelemetry], error)

	// Close releases all database connections and resources. After Close
	// is called, the store instance cannot be reused. It is safe to call
	// Close multiple times.
	Close() error
}
