package safety

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/obswx/safetyd/internal/log"
)

// InterventionRecord is the advisory body of the override file. The
// file's presence alone is authoritative.
type InterventionRecord struct {
	Tstamp time.Time `json:"tstamp"`
	Reason string    `json:"reason"`
}

// Intervention manages the operator-override file: creation, removal,
// and a directory watch that re-evaluates the bound sensors the moment
// the file appears or disappears, so a mid-tick override is reflected
// by the very next is_safe query.
type Intervention struct {
	path     string
	onChange func()
	watcher  *fsnotify.Watcher
}

// NewIntervention manages the override file at path. onChange, if
// non-nil, is invoked after every observed create or remove.
func NewIntervention(path string, onChange func()) *Intervention {
	return &Intervention{path: path, onChange: onChange}
}

// Path returns the override file path.
func (h *Intervention) Path() string { return h.path }

// Present reports whether the override file exists.
func (h *Intervention) Present() bool {
	_, err := os.Stat(h.path)
	return err == nil
}

// Record reads the advisory file body. Absent or malformed content is
// not an error to the safety logic; the zero record is returned.
func (h *Intervention) Record() InterventionRecord {
	var rec InterventionRecord
	data, err := os.ReadFile(h.path)
	if err != nil {
		return rec
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Warnf("malformed intervention file %s: %v", h.path, err)
	}
	return rec
}

// Create asserts the override with the given reason.
func (h *Intervention) Create(reason string) error {
	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return fmt.Errorf("creating intervention dir: %w", err)
	}
	data, err := json.MarshalIndent(InterventionRecord{
		Tstamp: time.Now().UTC(),
		Reason: reason,
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(h.path, data, 0o644); err != nil {
		return fmt.Errorf("writing intervention file: %w", err)
	}
	h.notify()
	return nil
}

// Remove clears the override. Removing an absent file is not an error.
func (h *Intervention) Remove() error {
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing intervention file: %w", err)
	}
	h.notify()
	return nil
}

// Watch observes the override file's directory until stop is closed.
// External creation or removal of the file (an operator touching it by
// hand) triggers the onChange callback just like the HTTP endpoints do.
func (h *Intervention) Watch(stop <-chan struct{}) error {
	dir := filepath.Dir(h.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating intervention dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting intervention watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	h.watcher = watcher

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-stop:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != h.path {
					continue
				}
				if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) != 0 {
					log.Infow("intervention file changed", "op", ev.Op.String(), "present", h.Present())
					h.notify()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warnf("intervention watcher: %v", err)
			}
		}
	}()
	return nil
}

func (h *Intervention) notify() {
	if h.onChange != nil {
		h.onChange()
	}
}
