package resilience

import (
	"sync"
	"time"
)

// Error classifications recorded in a FailureLog.
const (
	ErrorTypeTransient = "transient"
	ErrorTypePermanent = "permanent"
)

// Failure records one unit of work that produced no data.
type Failure struct {
	Source     string    `json:"source"`
	Identifier string    `json:"identifier"`
	Phase      string    `json:"phase"` // "listing" or "detail"
	Error      string    `json:"error"`
	ErrorType  string    `json:"error_type"`
	StatusCode int       `json:"status_code,omitempty"`
	FailedAt   time.Time `json:"failed_at"`
}

// ClassifyError categorizes an error as "transient" or "permanent".
// A transient error that reached the log has exhausted its retries.
func ClassifyError(err error) string {
	if IsTransient(err) {
		return ErrorTypeTransient
	}
	return ErrorTypePermanent
}

// FailureLog is a concurrency-safe record of absorbed failures, kept for
// operator visibility only.
type FailureLog struct {
	mu      sync.Mutex
	source  string
	entries []Failure
}

// NewFailureLog creates an empty log for the named source.
func NewFailureLog(source string) *FailureLog {
	return &FailureLog{source: source}
}

// Record appends a failure for identifier. Nil errors are ignored.
func (l *FailureLog) Record(phase, identifier string, err error) {
	if err == nil {
		return
	}
	f := Failure{
		Source:     l.source,
		Identifier: identifier,
		Phase:      phase,
		Error:      err.Error(),
		ErrorType:  ClassifyError(err),
		StatusCode: StatusCode(err),
		FailedAt:   time.Now().UTC(),
	}
	l.mu.Lock()
	l.entries = append(l.entries, f)
	l.mu.Unlock()
}

// Entries returns a copy of the recorded failures.
func (l *FailureLog) Entries() []Failure {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Failure, len(l.entries))
	copy(out, l.entries)
	return out
}

// Counts returns the number of failures per error type.
func (l *FailureLog) Counts() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	counts := make(map[string]int, 2)
	for _, f := range l.entries {
		counts[f.ErrorType]++
	}
	return counts
}
