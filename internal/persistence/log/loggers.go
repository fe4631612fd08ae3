// Package log writes the durable edit stream as compressed JSONL.
package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"worldsync.dev/internal/sim/arena"
)

// segmentLayout keys one output file per UTC hour; replay jobs fetch a
// bounded window by name alone.
const segmentLayout = "2006-01-02T15"

// SegmentedJSONL appends JSON lines to zstd-compressed files, starting a
// fresh file whenever the segment key rolls over.
type SegmentedJSONL struct {
	dir    string
	prefix string
	now    func() time.Time

	mu  sync.Mutex
	seg string
	f   *os.File
	zw  *zstd.Encoder
	buf *bufio.Writer
}

func NewSegmentedJSONL(dir, prefix string) *SegmentedJSONL {
	return &SegmentedJSONL{dir: dir, prefix: prefix, now: time.Now}
}

// Append marshals v and writes it as one line of the current segment.
func (s *SegmentedJSONL) Append(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seg := s.now().UTC().Format(segmentLayout); seg != s.seg {
		if err := s.openSegment(seg); err != nil {
			return err
		}
	}
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	if _, err := s.buf.Write(line); err != nil {
		return err
	}
	return s.buf.Flush()
}

func (s *SegmentedJSONL) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishSegment()
}

func (s *SegmentedJSONL) openSegment(seg string) error {
	if err := s.finishSegment(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(s.dir, s.prefix+"."+seg+".jsonl.zst")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	s.f, s.zw, s.buf, s.seg = f, zw, bufio.NewWriterSize(zw, 128*1024), seg
	return nil
}

// finishSegment flushes and closes the open segment; the encoder close is
// the error that matters, it writes the final zstd frame.
func (s *SegmentedJSONL) finishSegment() error {
	var err error
	if s.buf != nil {
		_ = s.buf.Flush()
	}
	if s.zw != nil {
		err = s.zw.Close()
	}
	if s.f != nil {
		_ = s.f.Close()
	}
	s.f, s.zw, s.buf = nil, nil, nil
	return err
}

// EditLogger writes one compressed JSONL entry per accepted edit.
type EditLogger struct{ w *SegmentedJSONL }

func NewEditLogger(dataDir string) *EditLogger {
	return &EditLogger{w: NewSegmentedJSONL(filepath.Join(dataDir, "edits"), "edits")}
}

func (l *EditLogger) WriteEdit(v arena.EditLogEntry) error { return l.w.Append(v) }
func (l *EditLogger) Close() error                         { return l.w.Close() }
