package ingest

import (
	"bufio"
	"context"
	"io"
	"os"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

// FileSource replays a JSONL event log, one event per line. Blank lines
// are skipped; a malformed line is a ParseError, not the end of the feed.
type FileSource struct {
	path      string
	validator *Validator
	file      *os.File
	scanner   *bufio.Scanner
}

// NewFileSource builds a replay source over a JSONL file.
func NewFileSource(path string, validator *Validator) *FileSource {
	return &FileSource{path: path, validator: validator}
}

func (s *FileSource) Connect(_ context.Context) error {
	f, err := os.Open(s.path)
	if err != nil {
		return contracts.WrapError(contracts.KindTransientIO, "open event log", err)
	}
	s.file = f
	s.scanner = bufio.NewScanner(f)
	s.scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return nil
}

func (s *FileSource) Read(ctx context.Context) (contracts.Event, error) {
	if s.scanner == nil {
		return contracts.Event{}, contracts.Errorf(contracts.KindTransientIO, "file source not connected")
	}
	for {
		select {
		case <-ctx.Done():
			return contracts.Event{}, contracts.WrapError(contracts.KindCancelled, "read event", ctx.Err())
		default:
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return contracts.Event{}, contracts.WrapError(contracts.KindTransientIO, "read event log", err)
			}
			return contracts.Event{}, io.EOF
		}
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		return parseEvent(line, s.validator)
	}
}

func (s *FileSource) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
