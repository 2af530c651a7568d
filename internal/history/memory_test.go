package history

import (
	"context"
	"testing"
	"time"

	"opensase/access-plane/internal/accessctx"
)

func TestMemoryUnknownUserGetsEmptyBaseline(t *testing.T) {
	m := NewMemory()
	h, err := m.History(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(h.KnownDevices) != 0 || len(h.KnownCountries) != 0 || h.LastLocation != nil {
		t.Fatalf("baseline = %+v, want empty", h)
	}
}

func TestMemoryRecordAccessFoldsIntoBaseline(t *testing.T) {
	m := NewMemory()
	at := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	geo := &accessctx.GeoLocation{Country: "DE", City: "Berlin", Latitude: 52.52, Longitude: 13.405}
	if err := m.RecordAccess(context.Background(), "alice", "dev-1", geo, at); err != nil {
		t.Fatalf("RecordAccess: %v", err)
	}

	h, err := m.History(context.Background(), "alice")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if !h.KnowsDevice("dev-1") {
		t.Error("device not folded into baseline")
	}
	if !h.KnowsCountry("DE") {
		t.Error("country not folded into baseline")
	}
	if h.LastLocation == nil || h.LastLocation.City != "Berlin" {
		t.Errorf("LastLocation = %+v", h.LastLocation)
	}
	if !h.LastAccess.Equal(at) {
		t.Errorf("LastAccess = %v, want %v", h.LastAccess, at)
	}
	if h.TypicalHours == nil || h.TypicalHours.Start != 8 || h.TypicalHours.End != 18 {
		t.Errorf("TypicalHours = %+v, want default 8-18", h.TypicalHours)
	}
}

func TestMemoryHistoryReturnsCopies(t *testing.T) {
	m := NewMemory()
	at := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	if err := m.RecordAccess(context.Background(), "alice", "dev-1", nil, at); err != nil {
		t.Fatalf("RecordAccess: %v", err)
	}
	h, _ := m.History(context.Background(), "alice")
	h.KnownDevices["dev-2"] = struct{}{}

	again, _ := m.History(context.Background(), "alice")
	if again.KnowsDevice("dev-2") {
		t.Error("mutating a returned baseline leaked into the store")
	}
}

func TestMemorySetTypicalHours(t *testing.T) {
	m := NewMemory()
	m.SetTypicalHours("alice", accessctx.HourWindow{Start: 22, End: 6})
	h, _ := m.History(context.Background(), "alice")
	if h.TypicalHours == nil || h.TypicalHours.Start != 22 {
		t.Errorf("TypicalHours = %+v, want 22-6", h.TypicalHours)
	}
}
