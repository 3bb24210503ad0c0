package telemetry

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/Fang088/FF-KB-Robot/internal/errors"
)

// JSONLSink appends query events to a JSON-lines file, one event per line.
type JSONLSink struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewJSONLSink opens (or creates) the events file for appending.
func NewJSONLSink(path string) (*JSONLSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.StorageError("cannot create telemetry directory", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.StorageError("cannot open telemetry file", err)
	}
	return &JSONLSink{file: f, enc: json.NewEncoder(f)}, nil
}

// Append writes one event line.
func (s *JSONLSink) Append(event QueryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.StorageError("telemetry sink is closed", nil)
	}
	if err := s.enc.Encode(event); err != nil {
		return errors.StorageError("cannot write telemetry event", err)
	}
	return nil
}

// Close flushes and closes the file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// LoadEvents reads every event from a JSONL file. Lines that fail to parse
// are skipped so one corrupt line never hides the rest.
func LoadEvents(path string) ([]QueryEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.StorageError("cannot open telemetry file", err)
	}
	defer f.Close()

	var events []QueryEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var e QueryEvent
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return events, errors.StorageError("cannot read telemetry file", err)
	}
	return events, nil
}
