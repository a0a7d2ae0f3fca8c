// Package recorder keeps a rotating JSONL flight record of dispatched tool calls.
package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultMaxFiles = 3
	TraceDir        = "data/traces"
)

// Event represents a single record in the flight recorder.
type Event struct {
	Timestamp time.Time       `json:"ts"`
	Trace     string          `json:"trace"`
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// CallRecord is the payload logged for one tool call.
type CallRecord struct {
	Tool       string                 `json:"tool"`
	Args       map[string]interface{} `json:"args,omitempty"`
	Outcome    string                 `json:"outcome"`
	Code       []string               `json:"code,omitempty"`
	Repairs    map[string]string      `json:"repairs,omitempty"`
	Modal      []string               `json:"modal,omitempty"`
	Generation int                    `json:"generation,omitempty"`
	DurationMs int64                  `json:"duration_ms"`
	Error      string                 `json:"error,omitempty"`
}

// Recorder manages rotating trace files.
type Recorder struct {
	mu       sync.Mutex
	file     *os.File
	encoder  *json.Encoder
	basePath string
	maxFiles int
	trace    string
	path     string
}

// NewRecorder creates a recorder writing under basePath and keeping at most
// maxFiles traces. It ensures the directory exists.
func NewRecorder(basePath string, maxFiles int) (*Recorder, error) {
	if basePath == "" {
		basePath = TraceDir
	}
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{
		basePath: basePath,
		maxFiles: maxFiles,
	}, nil
}

// Start begins a new trace file and returns its id. Older files beyond the
// retention limit are removed first.
func (r *Recorder) Start(label string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
		r.encoder = nil
	}

	if err := r.rotate(); err != nil {
		return "", fmt.Errorf("rotate traces: %w", err)
	}

	trace := uuid.NewString()
	filename := fmt.Sprintf("trace_%s_%d.jsonl", label, time.Now().UnixMilli())
	path := filepath.Join(r.basePath, filename)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}

	r.file = f
	r.encoder = json.NewEncoder(f)
	r.trace = trace
	r.path = path
	return trace, nil
}

// Path returns the current trace file, empty before Start.
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Log writes an event to the current trace file. It is a no-op before Start.
func (r *Recorder) Log(eventType, sessionID string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.encoder == nil {
		return
	}

	raw, err := json.Marshal(data)
	if err != nil {
		raw, _ = json.Marshal(map[string]string{"marshal_error": err.Error()})
	}

	evt := Event{
		Timestamp: time.Now(),
		Trace:     r.trace,
		Type:      eventType,
		SessionID: sessionID,
		Data:      raw,
	}

	_ = r.encoder.Encode(evt)
}

// ReadEvents decodes a trace file.
func ReadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var evt Event
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			return events, fmt.Errorf("decode %s: %w", path, err)
		}
		events = append(events, evt)
	}
	return events, scanner.Err()
}

// rotate keeps only the newest maxFiles-1 traces to make room for a new one.
func (r *Recorder) rotate() error {
	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		return err
	}

	type trace struct {
		name string
		mod  time.Time
	}
	var traces []trace
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		traces = append(traces, trace{e.Name(), info.ModTime()})
	}

	// Newest first
	sort.Slice(traces, func(i, j int) bool {
		if !traces[i].mod.Equal(traces[j].mod) {
			return traces[i].mod.After(traces[j].mod)
		}
		return traces[i].name > traces[j].name
	})

	keep := r.maxFiles - 1
	for i := keep; i < len(traces); i++ {
		_ = os.Remove(filepath.Join(r.basePath, traces[i].name))
	}
	return nil
}

// Close finishes the current recording.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		r.encoder = nil
		return err
	}
	return nil
}
