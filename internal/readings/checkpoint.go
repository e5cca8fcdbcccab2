package readings

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

// checkpointFile returns the per-station checkpoint path inside dir.
func checkpointFile(dir, station string) string {
	return filepath.Join(dir, station+".readings.msgpack")
}

// SaveCheckpoint serializes the fifo contents for one station so that a
// restart does not begin with an empty history. The write goes through a
// temp file and rename so a crash never leaves a torn checkpoint.
func SaveCheckpoint(dir, station string, f *Fifo) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating checkpoint dir: %w", err)
	}

	data, err := msgpack.Marshal(f.Snapshot())
	if err != nil {
		return fmt.Errorf("encoding checkpoint for %s: %w", station, err)
	}

	path := checkpointFile(dir, station)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing checkpoint for %s: %w", station, err)
	}
	return os.Rename(tmp, path)
}

// LoadCheckpoint restores a previously saved history into the fifo.
// A missing checkpoint is not an error.
func LoadCheckpoint(dir, station string, f *Fifo) error {
	data, err := os.ReadFile(checkpointFile(dir, station))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading checkpoint for %s: %w", station, err)
	}

	var rs []Reading
	if err := msgpack.Unmarshal(data, &rs); err != nil {
		return fmt.Errorf("decoding checkpoint for %s: %w", station, err)
	}
	f.Restore(rs)
	return nil
}
