// Package statustest runs a conformance suite against any status.Store
// implementation. Backends call RunStoreTests from their own test files with
// a factory producing a fresh, empty store per subtest.
package statustest

import (
	"testing"
	"time"

	"github.com/wirebind/sessiond/status"
)

// RunStoreTests exercises the status.Store contract.
func RunStoreTests(t *testing.T, factory func(t *testing.T) status.Store) {
	t.Helper()

	t.Run("GetAbsentReturnsNil", func(t *testing.T) {
		s := factory(t)
		rec, err := s.GetStatus(t.Context(), "missing")
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		if rec != nil {
			t.Fatalf("expected nil record for absent tenant, got %+v", rec)
		}
	})

	t.Run("SetThenGet", func(t *testing.T) {
		s := factory(t)
		at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		if err := s.SetStatus(t.Context(), "t1", "connected", at); err != nil {
			t.Fatalf("SetStatus: %v", err)
		}
		rec, err := s.GetStatus(t.Context(), "t1")
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		if rec == nil {
			t.Fatal("expected a record")
		}
		if rec.Value != "connected" {
			t.Fatalf("value = %q, want %q", rec.Value, "connected")
		}
		if !rec.UpdatedAt.Equal(at) {
			t.Fatalf("updatedAt = %v, want %v", rec.UpdatedAt, at)
		}
	})

	t.Run("SetOverwrites", func(t *testing.T) {
		s := factory(t)
		first := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		second := first.Add(time.Hour)
		if err := s.SetStatus(t.Context(), "t1", "connected", first); err != nil {
			t.Fatalf("SetStatus: %v", err)
		}
		if err := s.SetStatus(t.Context(), "t1", "connected", second); err != nil {
			t.Fatalf("SetStatus overwrite: %v", err)
		}
		rec, err := s.GetStatus(t.Context(), "t1")
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		if rec == nil || !rec.UpdatedAt.Equal(second) {
			t.Fatalf("record not overwritten: %+v", rec)
		}
	})

	t.Run("ClearRemoves", func(t *testing.T) {
		s := factory(t)
		if err := s.SetStatus(t.Context(), "t1", "connected", time.Now()); err != nil {
			t.Fatalf("SetStatus: %v", err)
		}
		if err := s.ClearStatus(t.Context(), "t1"); err != nil {
			t.Fatalf("ClearStatus: %v", err)
		}
		rec, err := s.GetStatus(t.Context(), "t1")
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		if rec != nil {
			t.Fatalf("expected row removed, got %+v", rec)
		}
	})

	t.Run("ClearAbsentIsNoop", func(t *testing.T) {
		s := factory(t)
		if err := s.ClearStatus(t.Context(), "never-existed"); err != nil {
			t.Fatalf("ClearStatus on absent tenant: %v", err)
		}
	})

	t.Run("TenantsIsolated", func(t *testing.T) {
		s := factory(t)
		at := time.Now().UTC().Truncate(time.Millisecond)
		if err := s.SetStatus(t.Context(), "a", "connected", at); err != nil {
			t.Fatalf("SetStatus a: %v", err)
		}
		if err := s.SetStatus(t.Context(), "b", "connected", at); err != nil {
			t.Fatalf("SetStatus b: %v", err)
		}
		if err := s.ClearStatus(t.Context(), "a"); err != nil {
			t.Fatalf("ClearStatus a: %v", err)
		}
		rec, err := s.GetStatus(t.Context(), "b")
		if err != nil {
			t.Fatalf("GetStatus b: %v", err)
		}
		if rec == nil {
			t.Fatal("clearing tenant a must not remove tenant b")
		}
	})
}
