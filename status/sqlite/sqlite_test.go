package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/wirebind/sessiond/status"
	"github.com/wirebind/sessiond/status/statustest"
)

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	statustest.RunStoreTests(t, func(t *testing.T) status.Store {
		s, err := Open(filepath.Join(t.TempDir(), "clients.db"))
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
