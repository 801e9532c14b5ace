package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer emits the JSONL event stream of one upload run.
type Writer interface {
	WriteJob(ctx context.Context, job *JobRecord) error
	WriteError(ctx context.Context, err *ErrorRecord) error
	WriteProgress(ctx context.Context, prog *ProgressRecord) error
	WriteSummary(ctx context.Context, sum *SummaryRecord) error
	Close() error
}

var _ Writer = (*JSONLWriter)(nil)

// JSONLWriter frames each payload in a Record envelope stamped with the run
// id and backend, one line per record. Safe for concurrent use; lines never
// interleave.
type JSONLWriter struct {
	mu      sync.Mutex
	out     io.Writer
	runID   string
	backend string
	closed  bool

	// now is swapped in tests.
	now func() time.Time
}

// NewJSONLWriter writes to w. Close does not close w.
func NewJSONLWriter(w io.Writer, runID, backend string) *JSONLWriter {
	return &JSONLWriter{
		out:     w,
		runID:   runID,
		backend: backend,
		now:     time.Now,
	}
}

func (jw *JSONLWriter) WriteJob(ctx context.Context, job *JobRecord) error {
	return jw.emit(ctx, TypeJob, job)
}

func (jw *JSONLWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return jw.emit(ctx, TypeError, err)
}

func (jw *JSONLWriter) WriteProgress(ctx context.Context, prog *ProgressRecord) error {
	return jw.emit(ctx, TypeProgress, prog)
}

func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return jw.emit(ctx, TypeSummary, sum)
}

// Close rejects further writes with ErrWriterClosed.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	jw.closed = true
	jw.mu.Unlock()
	return nil
}

func (jw *JSONLWriter) emit(ctx context.Context, recordType string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()
	if jw.closed {
		return ErrWriterClosed
	}

	line, err := json.Marshal(Record{
		Type:    recordType,
		TS:      jw.now().UTC(),
		RunID:   jw.runID,
		Backend: jw.backend,
		Data:    data,
	})
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeFull(jw.out, append(line, '\n')); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

// writeFull loops over short writes. A writer that accepts nothing and
// reports no error yields io.ErrShortWrite.
func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		switch {
		case err != nil:
			return err
		case n == 0:
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}
