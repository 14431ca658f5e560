package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/danielpatrickdp/trustgate/internal/gate"
)

// ErrSinkClosed is returned when recording to a closed sink.
var ErrSinkClosed = errors.New("audit sink closed")

// #region jsonl-sink
// JSONLSink appends one JSON decision per line to a lineage file.
type JSONLSink struct {
	path string
	mu   sync.Mutex
	f    *os.File
}

// NewJSONLSink creates or opens path for appending, creating parent directories.
func NewJSONLSink(path string) (*JSONLSink, error) {
	if path == "" {
		return nil, os.ErrInvalid
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lineage dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lineage: %w", err)
	}
	return &JSONLSink{path: path, f: f}, nil
}

// Record appends d as a single line.
func (s *JSONLSink) Record(_ context.Context, d gate.EmitDecision) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrSinkClosed
	}
	if _, err := s.f.Write(data); err != nil {
		return fmt.Errorf("append lineage: %w", err)
	}
	return nil
}

// Path is the lineage file location.
func (s *JSONLSink) Path() string { return s.path }

// Close closes the underlying file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// #endregion jsonl-sink

// #region read-lineage
// ReadJSONL loads every decision from a lineage file. Malformed lines are
// reported with their line number.
func ReadJSONL(path string) ([]gate.EmitDecision, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open lineage: %w", err)
	}
	defer f.Close()

	var out []gate.EmitDecision
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var d gate.EmitDecision
		if err := json.Unmarshal(sc.Bytes(), &d); err != nil {
			return nil, fmt.Errorf("lineage line %d: %w", line, err)
		}
		out = append(out, d)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read lineage: %w", err)
	}
	return out, nil
}

// #endregion read-lineage
