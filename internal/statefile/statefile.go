// Package statefile persists the daemon's current tunnel state to a
// KEY=value file for external tools (health checks, shutdown scripts) to
// read without talking to the daemon directly.
package statefile

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/malbeclabs/wg-ondemand/internal/wgerr"
)

const (
	// DefaultPath is where the state file is written when no other path
	// is given (the daemon's --state-file flag defaults to it).
	DefaultPath = "/run/wg-ondemand/state"

	fileMode = 0644
	dirMode  = 0755
)

// State is the set of fields written to the state file.
type State struct {
	TunnelState string
	SSID        string
	Timestamp   time.Time
}

// Write renders state as STATE/SSID/TIMESTAMP lines and writes it
// atomically: write to a temp file in the same directory, then rename, so a
// concurrent reader never observes a partially written file.
func Write(path string, state State) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("%w: creating state directory %s: %v", wgerr.ErrIO, dir, err)
	}

	data := []byte(fmt.Sprintf(
		"STATE=%s\nSSID=%s\nTIMESTAMP=%s\n",
		state.TunnelState, state.SSID, state.Timestamp.UTC().Format(time.RFC3339),
	))

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, fileMode); err != nil {
		return fmt.Errorf("%w: writing temp state file %s: %v", wgerr.ErrIO, tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("%w: renaming state file to %s: %v", wgerr.ErrIO, path, err)
	}
	return nil
}

// Remove deletes the state file. A missing file is not an error, since
// shutdown may run after a failed startup that never wrote one.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: removing state file %s: %v", wgerr.ErrIO, path, err)
	}
	return nil
}
