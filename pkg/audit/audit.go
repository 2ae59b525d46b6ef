// Package audit maintains the append-only, hash-chained audit log. Each
// line's entry_hash covers the canonical form of the entry including the
// previous line's hash, so any edit breaks the chain from that point on.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/heartbeat-ops/heartbeat/pkg/canonicalize"
	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

// Entry is one audit log line.
type Entry struct {
	TsUTC     string         `json:"ts_utc"`
	RunID     string         `json:"run_id,omitempty"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	PrevHash  string         `json:"prev_hash"`
	EntryHash string         `json:"entry_hash"`
}

// Log appends chained entries to a JSONL file. Safe for concurrent use.
type Log struct {
	mu       sync.Mutex
	path     string
	lastHash string
	now      func() time.Time
}

// Open creates or resumes a log at path. Resuming re-reads the tail hash so
// the chain continues unbroken across process restarts.
func Open(path string) (*Log, error) {
	l := &Log{path: path, now: time.Now}
	entries, err := ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if n := len(entries); n > 0 {
		l.lastHash = entries[n-1].EntryHash
	}
	return l, nil
}

// WithClock overrides the wall clock, for tests.
func (l *Log) WithClock(now func() time.Time) *Log {
	l.now = now
	return l
}

// Append records one action and returns the written entry.
func (l *Log) Append(runID, action string, details map[string]any) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{
		TsUTC:    l.now().UTC().Format(time.RFC3339Nano),
		RunID:    runID,
		Action:   action,
		Details:  details,
		PrevHash: l.lastHash,
	}
	hash, err := hashEntry(entry)
	if err != nil {
		return Entry{}, err
	}
	entry.EntryHash = hash

	line, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, contracts.WrapError(contracts.KindTransientIO, "encode audit entry", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return Entry{}, contracts.WrapError(contracts.KindTransientIO, "open audit log", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return Entry{}, contracts.WrapError(contracts.KindTransientIO, "append audit log", err)
	}
	if err := f.Close(); err != nil {
		return Entry{}, contracts.WrapError(contracts.KindTransientIO, "close audit log", err)
	}

	l.lastHash = entry.EntryHash
	return entry, nil
}

// hashEntry computes SHA-256 over the canonical JSON of the entry with the
// entry_hash field empty.
func hashEntry(e Entry) (string, error) {
	e.EntryHash = ""
	data, err := canonicalize.JCS(struct {
		TsUTC    string         `json:"ts_utc"`
		RunID    string         `json:"run_id,omitempty"`
		Action   string         `json:"action"`
		Details  map[string]any `json:"details,omitempty"`
		PrevHash string         `json:"prev_hash"`
	}{e.TsUTC, e.RunID, e.Action, e.Details, e.PrevHash})
	if err != nil {
		return "", contracts.WrapError(contracts.KindTransientIO, "canonicalize audit entry", err)
	}
	return canonicalize.HashBytes(data), nil
}

// ReadFile parses a JSONL audit log.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, contracts.WrapError(contracts.KindParse, "parse audit entry", err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, contracts.WrapError(contracts.KindTransientIO, "scan audit log", err)
	}
	return entries, nil
}

// Verify walks the chain and returns the first broken index, or (true, -1)
// when every link holds.
func Verify(entries []Entry) (bool, int, error) {
	prev := ""
	for i, e := range entries {
		if e.PrevHash != prev {
			return false, i, fmt.Errorf("entry %d prev_hash mismatch", i)
		}
		hash, err := hashEntry(e)
		if err != nil {
			return false, i, err
		}
		if hash != e.EntryHash {
			return false, i, fmt.Errorf("entry %d hash mismatch", i)
		}
		prev = e.EntryHash
	}
	return true, -1, nil
}

// VerifyFile reads and verifies a log file.
func VerifyFile(path string) (bool, int, error) {
	entries, err := ReadFile(path)
	if err != nil {
		return false, 0, err
	}
	return Verify(entries)
}
