package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
)

// WriterRecorder writes each transition as a JSON line prefixed with
// "AUDIT: " for easy filtering in mixed log streams.
type WriterRecorder struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewWriterRecorder creates a recorder writing to the given writer, or to
// os.Stdout when w is nil.
func NewWriterRecorder(w io.Writer) *WriterRecorder {
	if w == nil {
		w = os.Stdout
	}
	return &WriterRecorder{writer: w}
}

func (r *WriterRecorder) Record(_ context.Context, t Transition) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, err = r.writer.Write(append([]byte("AUDIT: "), append(b, '\n')...))
	return err
}

// MultiRecorder fans a transition out to several recorders. Every recorder
// sees the record; the first error is returned.
type MultiRecorder struct {
	recorders []Recorder
}

// NewMultiRecorder combines recorders. Nil entries are skipped.
func NewMultiRecorder(recorders ...Recorder) *MultiRecorder {
	m := &MultiRecorder{}
	for _, r := range recorders {
		if r != nil {
			m.recorders = append(m.recorders, r)
		}
	}
	return m
}

func (m *MultiRecorder) Record(ctx context.Context, t Transition) error {
	var first error
	for _, r := range m.recorders {
		if err := r.Record(ctx, t); err != nil && first == nil {
			first = err
		}
	}
	return first
}
