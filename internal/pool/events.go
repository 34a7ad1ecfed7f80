package pool

// Event names published by the pool.
const (
	EventAdapterLoadStart  = "adapter_load_start"
	EventAdapterLoaded     = "adapter_loaded"
	EventAdapterLoadFailed = "adapter_load_failed"
	EventAdapterEvicted    = "adapter_evicted"
	EventWorkerFailed      = "worker_failed"
	EventWorkerRestarted   = "worker_restarted"
	EventHealthChanged     = "health_changed"
)

// Event represents a pool lifecycle event.
// Minimal and stable: name + adapter ID and optional fields via key/values.
type Event struct {
	Name      string
	AdapterID string
	Fields    map[string]any
}

// EventPublisher receives events from the pool. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
