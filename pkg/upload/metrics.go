package upload

import "time"

// Metrics observes batch activity. It is optional: pass nil to disable
// collection.
//
// Example usage:
//
//	// With metrics enabled
//	m := metrics.NewUploadMetrics()
//	engine := upload.NewEngine(client, upload.WithMetrics(m))
//
//	// Without metrics
//	engine := upload.NewEngine(client)
type Metrics interface {
	// ObserveFile records a file reaching a terminal status.
	ObserveFile(status Status, reason Reason, bytes int64)

	// ObserveOperation records one repository or storage call.
	ObserveOperation(operation string, duration time.Duration, err error)

	// ObserveRetry records a retry at the given layer ("operation" or "pass").
	ObserveRetry(layer string)

	// ObserveLockWait records time spent blocked on a dataset lock.
	ObserveLockWait(duration time.Duration)

	// SetInFlight records the number of files transferring.
	SetInFlight(n int)

	// ObserveBatch records a finished batch.
	ObserveBatch(mode Mode, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) ObserveFile(Status, Reason, int64)             {}
func (noopMetrics) ObserveOperation(string, time.Duration, error) {}
func (noopMetrics) ObserveRetry(string)                           {}
func (noopMetrics) ObserveLockWait(time.Duration)                 {}
func (noopMetrics) SetInFlight(int)                               {}
func (noopMetrics) ObserveBatch(Mode, time.Duration)              {}
