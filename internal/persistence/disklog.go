package persistence

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tradecapture/ingress/internal/model"
)

// FileDiskSink is the last-resort log: a rotating, append-only, hex-encoded
// record of raw bytes that could not be quarantined durably either. One
// file per UTC day under Dir.
type FileDiskSink struct {
	Dir string

	mu      sync.Mutex
	day     string
	file    *os.File
}

// NewFileDiskSink ensures dir exists and returns a sink rooted there.
func NewFileDiskSink(dir string) (*FileDiskSink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("persistence: create quarantine disk dir: %w", err)
	}
	return &FileDiskSink{Dir: dir}, nil
}

// Write appends one structured, hex-encoded record. Each line is
// self-contained tab-separated text: an RFC3339 timestamp, then
// offset=, reason= (quoted) and payload_hex= fields (not parsed by this
// package; it exists purely for forensic replay by an operator).
func (s *FileDiskSink) Write(_ context.Context, msg model.PendingMessage, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	day := now.Format("2006-01-02")
	if s.file == nil || day != s.day {
		if s.file != nil {
			_ = s.file.Close()
		}
		f, err := os.OpenFile(filepath.Join(s.Dir, "lost-"+day+".log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
		if err != nil {
			return fmt.Errorf("persistence: open disk fallback log: %w", err)
		}
		s.file = f
		s.day = day
	}

	line := fmt.Sprintf("%s\toffset=%d\treason=%q\tpayload_hex=%s\n",
		now.Format(time.RFC3339Nano), msg.Offset, reason, hex.EncodeToString(msg.Raw))
	_, err := s.file.WriteString(line)
	return err
}

// Close flushes and closes the currently open file, if any.
func (s *FileDiskSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
