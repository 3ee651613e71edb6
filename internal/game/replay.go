package game

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const replayVersion = 1

// Replay is a game's log opened for step-by-step playback.
type Replay struct {
	GameID       string
	Entries      []LogEntry
	CurrentIndex int
	mu           sync.RWMutex
}

// NewReplay creates an empty replay.
func NewReplay(gameID string) *Replay {
	return &Replay{
		GameID:  gameID,
		Entries: make([]LogEntry, 0),
	}
}

// NewReplayFromLog builds a replay over a copy of entries.
func NewReplayFromLog(gameID string, entries []LogEntry) *Replay {
	r := NewReplay(gameID)
	r.Entries = append(r.Entries, entries...)
	return r
}

// Record appends an entry.
func (r *Replay) Record(entry LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Entries = append(r.Entries, entry)
}

// Start rewinds to the first entry.
func (r *Replay) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.CurrentIndex = 0
}

// Next returns the entry at the cursor and moves past it.
func (r *Replay) Next() (LogEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.CurrentIndex < len(r.Entries) {
		entry := r.Entries[r.CurrentIndex]
		r.CurrentIndex++
		return entry, true
	}
	return LogEntry{}, false
}

// Size returns the number of entries.
func (r *Replay) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.Entries)
}

// Turns returns the entries grouped by turn number.
func (r *Replay) Turns() map[int][]LogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[int][]LogEntry)
	for _, entry := range r.Entries {
		out[entry.Turn] = append(out[entry.Turn], entry)
	}
	return out
}

type replayMetadata struct {
	GameID     string    `json:"gameId"`
	Timestamp  time.Time `json:"timestamp"`
	Version    int       `json:"version"`
	EntryCount int       `json:"entryCount"`
}

// WriteTo writes the replay as a gzip stream of JSON values: a metadata
// header followed by one value per entry.
func (r *Replay) WriteTo(w io.Writer) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counter := &countingWriter{w: w}
	gz := gzip.NewWriter(counter)
	encoder := json.NewEncoder(gz)

	metadata := replayMetadata{
		GameID:     r.GameID,
		Timestamp:  time.Now().UTC(),
		Version:    replayVersion,
		EntryCount: len(r.Entries),
	}
	if err := encoder.Encode(&metadata); err != nil {
		return counter.n, fmt.Errorf("failed to encode metadata: %w", err)
	}
	for i, entry := range r.Entries {
		if err := encoder.Encode(entry); err != nil {
			return counter.n, fmt.Errorf("failed to encode entry %d: %w", i, err)
		}
	}
	if err := gz.Close(); err != nil {
		return counter.n, fmt.Errorf("failed to flush replay: %w", err)
	}
	return counter.n, nil
}

// ReadReplay decodes a stream produced by WriteTo.
func ReadReplay(rd io.Reader) (*Replay, error) {
	gz, err := gzip.NewReader(rd)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	decoder := json.NewDecoder(gz)
	var metadata replayMetadata
	if err := decoder.Decode(&metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if metadata.Version != replayVersion {
		return nil, fmt.Errorf("unsupported replay version: %d", metadata.Version)
	}

	replay := NewReplay(metadata.GameID)
	for i := 0; i < metadata.EntryCount; i++ {
		var entry LogEntry
		if err := decoder.Decode(&entry); err != nil {
			return nil, fmt.Errorf("failed to decode entry %d: %w", i, err)
		}
		replay.Entries = append(replay.Entries, entry)
	}
	return replay, nil
}

// SaveToFile writes the replay to <directory>/<gameID>.replay.
func (r *Replay) SaveToFile(directory string) error {
	if err := os.MkdirAll(directory, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	file, err := os.Create(replayPath(directory, r.GameID))
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := r.WriteTo(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// LoadReplayFromFile reads a replay written by SaveToFile.
func LoadReplayFromFile(directory, gameID string) (*Replay, error) {
	file, err := os.Open(replayPath(directory, gameID))
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return ReadReplay(file)
}

func replayPath(directory, gameID string) string {
	return filepath.Join(directory, fmt.Sprintf("%s.replay", gameID))
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
