package statistics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Statistics contains aggregate counters for the compression service.
type Statistics struct {
	RequestsReceived  int64
	RequestsRejected  int64
	RequestsSucceeded int64
	RequestsFailed    int64

	TargetsMet    int64
	TargetsMissed int64

	BytesIn       int64
	BytesOut      int64
	IterationsRun int64

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	Errors []StatError

	mutex sync.RWMutex
}

// StatError represents an error that occurred while serving a request.
type StatError struct {
	Input     string
	Operation string
	Error     string
	Timestamp time.Time
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime: time.Now(),
		Errors:    make([]StatError, 0),
	}
}

// IncrementRequestsReceived increases the count of received requests by 1.
func (s *Statistics) IncrementRequestsReceived() {
	atomic.AddInt64(&s.RequestsReceived, 1)
}

// IncrementRequestsRejected increases the count of rejected requests by 1.
func (s *Statistics) IncrementRequestsRejected() {
	atomic.AddInt64(&s.RequestsRejected, 1)
}

// IncrementRequestsSucceeded increases the count of successful requests by 1.
func (s *Statistics) IncrementRequestsSucceeded() {
	atomic.AddInt64(&s.RequestsSucceeded, 1)
}

// IncrementRequestsFailed increases the count of failed requests by 1.
func (s *Statistics) IncrementRequestsFailed() {
	atomic.AddInt64(&s.RequestsFailed, 1)
}

// IncrementTargetsMet increases the count of requests that reached the
// target size by 1.
func (s *Statistics) IncrementTargetsMet() {
	atomic.AddInt64(&s.TargetsMet, 1)
}

// IncrementTargetsMissed increases the count of requests that stopped on
// the scale floor above the target size by 1.
func (s *Statistics) IncrementTargetsMissed() {
	atomic.AddInt64(&s.TargetsMissed, 1)
}

// AddBytesIn adds the given number of uploaded bytes to the total.
func (s *Statistics) AddBytesIn(bytes int64) {
	atomic.AddInt64(&s.BytesIn, bytes)
}

// AddBytesOut adds the given number of returned bytes to the total.
func (s *Statistics) AddBytesOut(bytes int64) {
	atomic.AddInt64(&s.BytesOut, bytes)
}

// AddIterations adds the given number of loop iterations to the total.
func (s *Statistics) AddIterations(n int64) {
	atomic.AddInt64(&s.IterationsRun, n)
}

// AddError records an error that occurred while serving a request.
func (s *Statistics) AddError(input, operation, errorMsg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Errors = append(s.Errors, StatError{
		Input:     input,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

// Finalize calculates final statistics such as total duration.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)
}

// Snapshot returns the counters as a map for JSON responses.
func (s *Statistics) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"requests_received":  atomic.LoadInt64(&s.RequestsReceived),
		"requests_rejected":  atomic.LoadInt64(&s.RequestsRejected),
		"requests_succeeded": atomic.LoadInt64(&s.RequestsSucceeded),
		"requests_failed":    atomic.LoadInt64(&s.RequestsFailed),
		"targets_met":        atomic.LoadInt64(&s.TargetsMet),
		"targets_missed":     atomic.LoadInt64(&s.TargetsMissed),
		"bytes_in":           atomic.LoadInt64(&s.BytesIn),
		"bytes_out":          atomic.LoadInt64(&s.BytesOut),
		"iterations_run":     atomic.LoadInt64(&s.IterationsRun),
	}
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	return fmt.Sprintf(`TIFF Squeeze Statistics Summary:

Requests:
		Received: %d
		Rejected: %d
		Succeeded: %d
		Failed: %d

Targets:
		Met: %d
		Missed: %d

Throughput:
		Bytes In: %s
		Bytes Out: %s
		Iterations Run: %d`,
		atomic.LoadInt64(&s.RequestsReceived),
		atomic.LoadInt64(&s.RequestsRejected),
		atomic.LoadInt64(&s.RequestsSucceeded),
		atomic.LoadInt64(&s.RequestsFailed),
		atomic.LoadInt64(&s.TargetsMet),
		atomic.LoadInt64(&s.TargetsMissed),
		formatBytes(atomic.LoadInt64(&s.BytesIn)),
		formatBytes(atomic.LoadInt64(&s.BytesOut)),
		atomic.LoadInt64(&s.IterationsRun))
}

// GetErrorSummary returns a summary of errors that occurred while serving requests.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.Input,
			err.Error)
	}
	return result
}

// formatBytes returns a human-readable string for a byte count.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
