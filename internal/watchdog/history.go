package watchdog

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic("watchdog: CBOR encoder initialization failed: " + err.Error())
	}
}

// Restart is one abnormal child exit.
type Restart struct {
	At       time.Time `cbor:"1,keyasint"`
	Reason   string    `cbor:"2,keyasint"`
	ExitCode int       `cbor:"3,keyasint"`
}

// History is the restart log: an append-only file of CBOR records,
// pruned to the rolling window whenever it is opened.
type History struct {
	path   string
	window time.Duration

	mu      sync.Mutex
	entries []Restart
}

// OpenHistory loads the log at path, drops records older than window
// relative to now and rewrites the file with what is left. A missing file
// is an empty history.
func OpenHistory(path string, window time.Duration, now time.Time) (*History, error) {
	h := &History{path: path, window: window}

	entries, err := readRecords(path)
	if err != nil {
		return nil, err
	}
	cutoff := now.Add(-window)
	for _, entry := range entries {
		if entry.At.After(cutoff) {
			h.entries = append(h.entries, entry)
		}
	}
	if err := h.compact(); err != nil {
		return nil, err
	}
	return h, nil
}

// Append records a restart and syncs it to disk.
func (h *History) Append(entry Restart) error {
	data, err := encMode.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode restart record: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	file, err := os.OpenFile(h.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open restart history: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("append restart history: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("sync restart history: %w", err)
	}
	if err := file.Close(); err != nil {
		return err
	}
	h.entries = append(h.entries, entry)
	return nil
}

// Entries returns the records loaded or appended, oldest first.
func (h *History) Entries() []Restart {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Restart(nil), h.entries...)
}

// Times returns the restart timestamps, oldest first.
func (h *History) Times() []time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	times := make([]time.Time, len(h.entries))
	for i, entry := range h.entries {
		times[i] = entry.At
	}
	return times
}

// compact atomically replaces the file with the current entries.
func (h *History) compact() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	dir := filepath.Dir(h.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create history directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(h.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create history temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	writer := bufio.NewWriter(tmp)
	encoder := encMode.NewEncoder(writer)
	for _, entry := range h.entries {
		if err := encoder.Encode(entry); err != nil {
			cleanup()
			return fmt.Errorf("encode restart record: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, h.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace restart history: %w", err)
	}
	return nil
}

func readRecords(path string) ([]Restart, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open restart history: %w", err)
	}
	defer file.Close()

	var entries []Restart
	decoder := cbor.NewDecoder(bufio.NewReader(file))
	for {
		var entry Restart
		// EOF, a torn final write or a damaged record all end the log.
		if err := decoder.Decode(&entry); err != nil {
			return entries, nil
		}
		entries = append(entries, entry)
	}
}
