package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cwbudde/markfit/internal/mpp"
)

// TraceEntry is one sampled iteration of a run.
// Each entry is serialized as a JSON line in trace.jsonl.
type TraceEntry struct {
	Iteration   int       `json:"iteration"`
	Kernel      string    `json:"kernel"`
	Temperature float64   `json:"temperature"`
	Accepted    bool      `json:"accepted"`
	Failed      bool      `json:"failed,omitempty"`
	Energy      float64   `json:"energy"`     // Chain energy after the step
	BestEnergy  float64   `json:"bestEnergy"` // Zero until a best exists
	Marks       int       `json:"marks"`
	Timestamp   time.Time `json:"timestamp"`

	// Best marks at this iteration (optional, nil to save space)
	Best []mpp.Mark `json:"best,omitempty"`
}

// TraceEntryFromStep samples a step. Best marks are only included when
// withMarks is set.
func TraceEntryFromStep(step mpp.Step, withMarks bool) TraceEntry {
	chain := step.Result()
	e := TraceEntry{
		Iteration:   step.Iteration,
		Kernel:      step.Kernel,
		Temperature: step.Temperature,
		Accepted:    step.Accepted,
		Failed:      step.Failed(),
		Energy:      chain.Energy().Total,
		Marks:       chain.Len(),
		Timestamp:   time.Now(),
	}
	if step.Best != nil {
		e.BestEnergy = step.Best.Energy().Total
		if withMarks {
			e.Best = step.Best.Marks()
		}
	}
	return e
}

func tracePath(baseDir, jobID string) string {
	return jobPath(baseDir, jobID, traceFile)
}

// TraceWriter writes trace entries to a JSONL file.
// It uses buffered I/O and is safe for concurrent use.
type TraceWriter struct {
	mu      sync.Mutex
	file    *os.File
	writer  *bufio.Writer
	path    string
	written int
}

// NewTraceWriter creates a trace writer at <baseDir>/jobs/<jobID>/trace.jsonl.
// With resume set, new entries are appended to an existing file.
func NewTraceWriter(baseDir, jobID string, resume bool) (*TraceWriter, error) {
	if err := checkJobID(jobID); err != nil {
		return nil, err
	}
	path := tracePath(baseDir, jobID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create job directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if resume {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	return &TraceWriter{
		file:   file,
		writer: bufio.NewWriterSize(file, 64*1024),
		path:   path,
	}, nil
}

// Write appends a trace entry to the buffer.
// The entry reaches the file on Flush() or Close().
func (tw *TraceWriter) Write(entry TraceEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal trace entry: %w", err)
	}
	data = append(data, '\n')

	tw.mu.Lock()
	defer tw.mu.Unlock()

	if _, err := tw.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write trace entry: %w", err)
	}
	tw.written++
	return nil
}

// Flush writes buffered entries and syncs the file
func (tw *TraceWriter) Flush() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush trace writer: %w", err)
	}
	if err := tw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync trace file: %w", err)
	}
	return nil
}

// Close flushes buffered data and closes the trace file.
func (tw *TraceWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		tw.file.Close()
		return fmt.Errorf("failed to flush on close: %w", err)
	}
	if err := tw.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	return nil
}

// Written returns how many entries were written through this writer
func (tw *TraceWriter) Written() int {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.written
}

// Path returns the filesystem path to the trace file.
func (tw *TraceWriter) Path() string {
	return tw.path
}

// TraceReader reads trace entries from a JSONL file.
type TraceReader struct {
	file    *os.File
	scanner *bufio.Scanner
}

// NewTraceReader opens the trace of a job
func NewTraceReader(baseDir, jobID string) (*TraceReader, error) {
	if err := checkJobID(jobID); err != nil {
		return nil, err
	}
	file, err := os.Open(tracePath(baseDir, jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{Kind: "trace", ID: jobID}
		}
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	scanner := bufio.NewScanner(file)
	// Lines carrying best marks can be long
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	return &TraceReader{file: file, scanner: scanner}, nil
}

// Read returns the next entry, or io.EOF when none are left.
func (tr *TraceReader) Read() (*TraceEntry, error) {
	if !tr.scanner.Scan() {
		if err := tr.scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to scan trace line: %w", err)
		}
		return nil, io.EOF
	}

	var entry TraceEntry
	if err := json.Unmarshal(tr.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trace entry: %w", err)
	}
	return &entry, nil
}

// ReadAll reads all remaining entries
func (tr *TraceReader) ReadAll() ([]TraceEntry, error) {
	var entries []TraceEntry
	for {
		entry, err := tr.Read()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
}

// Close closes the trace reader.
func (tr *TraceReader) Close() error {
	if err := tr.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	return nil
}

// ReadTrace loads the whole trace of a job
func ReadTrace(baseDir, jobID string) ([]TraceEntry, error) {
	tr, err := NewTraceReader(baseDir, jobID)
	if err != nil {
		return nil, err
	}
	defer tr.Close()
	return tr.ReadAll()
}
