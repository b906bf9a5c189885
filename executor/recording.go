package executor

import (
	"context"
	"sync"

	"github.com/syslogcore/engine/action"
	"github.com/syslogcore/engine/record"
)

// RecordingModule is an in-memory reference action.Module: it always
// reports OK and keeps every record it was asked to act on, for use in
// tests and the cmd/ demo without standing up a real output sink.
type RecordingModule struct {
	mu       sync.Mutex
	records  []string
	Begins   int
	Ends     int
	Resumes  int
	HUPCount int
}

// NewRecordingModule constructs an empty RecordingModule.
func NewRecordingModule() *RecordingModule { return &RecordingModule{} }

func (m *RecordingModule) BeginTransaction(ctx context.Context) (action.ModuleResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Begins++
	return action.ResultOK, nil
}

func (m *RecordingModule) DoAction(ctx context.Context, params []string, rec *record.Record) (action.ModuleResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec != nil {
		m.records = append(m.records, string(rec.Raw))
	}
	return action.ResultOK, nil
}

func (m *RecordingModule) EndTransaction(ctx context.Context) (action.ModuleResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Ends++
	return action.ResultOK, nil
}

func (m *RecordingModule) TryResume(ctx context.Context) (action.ModuleResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Resumes++
	return action.ResultOK, nil
}

func (m *RecordingModule) HUP(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HUPCount++
	return nil
}

// Records returns a copy of every message recorded so far, in order.
func (m *RecordingModule) Records() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.records))
	copy(out, m.records)
	return out
}
