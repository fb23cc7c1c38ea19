package testsupport

import (
	"testing"

	"conveyor/internal/jobs"
	"conveyor/internal/logging"
)

// MustOpenStore opens a job store against a fresh temp-dir config and
// registers cleanup.
func MustOpenStore(t *testing.T) *jobs.Store {
	t.Helper()

	store, err := jobs.Open(NewConfig(t), logging.NewNop())
	if err != nil {
		t.Fatalf("open job store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close job store: %v", err)
		}
	})
	return store
}
