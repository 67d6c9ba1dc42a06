// Package sink writes output records to a JSON Lines file shared by all
// pipeline workers.
package sink

import (
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docscan-cli/internal/model"
)

// file is the subset of *os.File the sink needs.
type file interface {
	io.WriterAt
	Sync() error
	Truncate(size int64) error
	Close() error
}

// JSONL appends one record per line. Concurrent Append calls never
// interleave within a line, and the file only ever holds complete lines.
type JSONL struct {
	path string

	mu     sync.Mutex
	f      file
	offset int64
	lines  int
}

// Create truncates or creates the file at path.
func Create(path string) (*JSONL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "sink: create %s", path)
	}
	return &JSONL{path: path, f: f}, nil
}

// Path returns the output file path.
func (s *JSONL) Path() string { return s.path }

// Append writes rec as one line and syncs it to disk.
func (s *JSONL) Append(rec model.OutputRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrapf(err, "sink: encode record %s", rec.ID)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return eris.New("sink: closed")
	}

	n, err := s.f.WriteAt(line, s.offset)
	if err == nil && n < len(line) {
		err = io.ErrShortWrite
	}
	if err == nil {
		err = s.f.Sync()
	}
	if err != nil {
		// Roll back to the last complete line.
		if terr := s.f.Truncate(s.offset); terr != nil {
			return eris.Wrapf(err, "sink: write record %s (truncate failed: %v)", rec.ID, terr)
		}
		return eris.Wrapf(err, "sink: write record %s", rec.ID)
	}

	s.offset += int64(n)
	s.lines++
	return nil
}

// Lines returns the number of records written.
func (s *JSONL) Lines() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lines
}

// Close closes the file. Further appends fail.
func (s *JSONL) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return eris.Wrap(err, "sink: close")
}
