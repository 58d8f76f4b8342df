package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncLookups increments the lookup counter by outcome.
	IncLookups(status string)

	// ObserveLookupDuration records the time from dispatch to delivery.
	ObserveLookupDuration(duration time.Duration)

	// IncFallbacks increments the fallback dispatch counter by kind.
	IncFallbacks(kind string)

	// IncDroppedReplies counts worker replies no lookup awaited.
	IncDroppedReplies(layer string)

	// SetQueriesInFlight sets the number of lookups awaiting replies.
	SetQueriesInFlight(count int)

	// SetWorkersReady sets the number of loaded workers.
	SetWorkersReady(count int)

	// ObserveWorkerLoad records how long a layer took to load.
	ObserveWorkerLoad(layer string, duration time.Duration)

	// IncStorageOperations increments storage operation counter.
	IncStorageOperations(operation string, success bool)

	// ObserveStorageDuration records storage operation duration.
	ObserveStorageDuration(operation string, duration time.Duration)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncLookups implements MetricsCollector.
func (n *NoOpMetrics) IncLookups(_ string) {}

// ObserveLookupDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveLookupDuration(_ time.Duration) {}

// IncFallbacks implements MetricsCollector.
func (n *NoOpMetrics) IncFallbacks(_ string) {}

// IncDroppedReplies implements MetricsCollector.
func (n *NoOpMetrics) IncDroppedReplies(_ string) {}

// SetQueriesInFlight implements MetricsCollector.
func (n *NoOpMetrics) SetQueriesInFlight(_ int) {}

// SetWorkersReady implements MetricsCollector.
func (n *NoOpMetrics) SetWorkersReady(_ int) {}

// ObserveWorkerLoad implements MetricsCollector.
func (n *NoOpMetrics) ObserveWorkerLoad(_ string, _ time.Duration) {}

// IncStorageOperations implements MetricsCollector.
func (n *NoOpMetrics) IncStorageOperations(_ string, _ bool) {}

// ObserveStorageDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveStorageDuration(_ string, _ time.Duration) {}
