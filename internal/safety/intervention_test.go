package safety

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestInterventionCreateRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "override", "human_intervention.json")
	h := NewIntervention(path, nil)

	if h.Present() {
		t.Fatal("fresh path should not be present")
	}
	if err := h.Create("wind damage"); err != nil {
		t.Fatal(err)
	}
	if !h.Present() {
		t.Fatal("file should exist after Create")
	}

	rec := h.Record()
	if rec.Reason != "wind damage" || rec.Tstamp.IsZero() {
		t.Errorf("record = %+v", rec)
	}

	if err := h.Remove(); err != nil {
		t.Fatal(err)
	}
	if h.Present() {
		t.Error("file should be gone after Remove")
	}
	// double remove is fine
	if err := h.Remove(); err != nil {
		t.Errorf("removing an absent file should not error: %v", err)
	}
}

func TestInterventionWatchFiresOnExternalTouch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "human_intervention.json")

	var fired atomic.Int64
	h := NewIntervention(path, func() { fired.Add(1) })

	stop := make(chan struct{})
	defer close(stop)
	if err := h.Watch(stop); err != nil {
		t.Fatal(err)
	}

	// An operator touching the file by hand, not through the API.
	if err := os.WriteFile(path, []byte(`{"reason":"manual"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for fired.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("watcher never fired for an external create")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
