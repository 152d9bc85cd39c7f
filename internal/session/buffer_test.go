package session

import (
	"testing"

	"github.com/flarelab/papiscan/internal/papi"
	"github.com/flarelab/papiscan/internal/runway"
)

func obs(frame int, id runway.PointID) *papi.Observation {
	return &papi.Observation{PointID: id, FrameIndex: frame}
}

func TestObservationBuffer_Ordering(t *testing.T) {
	ob, err := NewObservationBuffer(10, 5)
	if err != nil {
		t.Fatalf("Failed to create buffer: %v", err)
	}

	// Workers finish out of order within and across frames
	inserts := []*papi.Observation{
		obs(2, "PAPI_C"),
		obs(2, "PAPI_A"),
		obs(1, "PAPI_D"),
		obs(2, "PAPI_B"),
		obs(1, "PAPI_A"),
		obs(3, "PAPI_A"),
		obs(2, "PAPI_D"),
	}

	for i, o := range inserts {
		if err := ob.Insert(o); err != nil {
			t.Errorf("Failed to insert observation %d: %v", i, err)
		}
	}

	if size := ob.Size(); size != len(inserts) {
		t.Errorf("Expected buffer size %d, got %d", len(inserts), size)
	}

	results := ob.DrainAll()
	if len(results) != len(inserts) {
		t.Fatalf("Expected %d results, got %d", len(inserts), len(results))
	}

	expected := []struct {
		frame int
		id    runway.PointID
	}{
		{1, "PAPI_A"},
		{1, "PAPI_D"},
		{2, "PAPI_A"},
		{2, "PAPI_B"},
		{2, "PAPI_C"},
		{2, "PAPI_D"},
		{3, "PAPI_A"},
	}
	for i, want := range expected {
		got := results[i]
		if got.FrameIndex != want.frame || got.PointID != want.id {
			t.Errorf("Result %d: expected frame %d point %s, got frame %d point %s",
				i, want.frame, want.id, got.FrameIndex, got.PointID)
		}
	}

	if size := ob.Size(); size != 0 {
		t.Errorf("Expected empty buffer after drain, got size %d", size)
	}
}

func TestObservationBuffer_Flush(t *testing.T) {
	ob, err := NewObservationBuffer(6, 2)
	if err != nil {
		t.Fatalf("Failed to create buffer: %v", err)
	}

	for frame := 0; frame < 6; frame++ {
		if err := ob.Insert(obs(frame, "PAPI_A")); err != nil {
			t.Fatalf("Failed to insert: %v", err)
		}
	}

	if !ob.IsFull() {
		t.Error("Expected buffer to be full")
	}

	flushed := ob.Flush()
	if len(flushed) != 2 {
		t.Fatalf("Expected 2 flushed observations, got %d", len(flushed))
	}
	if flushed[0].FrameIndex != 0 || flushed[1].FrameIndex != 1 {
		t.Errorf("Expected oldest frames first, got %d and %d",
			flushed[0].FrameIndex, flushed[1].FrameIndex)
	}
	if size := ob.Size(); size != 4 {
		t.Errorf("Expected size 4 after flush, got %d", size)
	}
}

func TestObservationBuffer_InvalidParameters(t *testing.T) {
	cases := []struct {
		name                 string
		capacity, flushCount int
	}{
		{"zero capacity", 0, 1},
		{"zero flush", 10, 0},
		{"flush exceeds capacity", 10, 11},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewObservationBuffer(tc.capacity, tc.flushCount); err == nil {
				t.Errorf("Expected error for capacity=%d flush=%d", tc.capacity, tc.flushCount)
			}
		})
	}
}

func TestObservationBuffer_InsertNil(t *testing.T) {
	ob, err := NewObservationBuffer(4, 2)
	if err != nil {
		t.Fatalf("Failed to create buffer: %v", err)
	}
	if err := ob.Insert(nil); err == nil {
		t.Error("Expected error inserting nil observation")
	}
}

func TestObservationBuffer_EmptyDrain(t *testing.T) {
	ob, err := NewObservationBuffer(4, 2)
	if err != nil {
		t.Fatalf("Failed to create buffer: %v", err)
	}
	if results := ob.DrainAll(); results != nil {
		t.Errorf("Expected nil from empty drain, got %d results", len(results))
	}
	if results := ob.Flush(); results != nil {
		t.Errorf("Expected nil from empty flush, got %d results", len(results))
	}
}
