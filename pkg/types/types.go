package types

// Adapter is a discoverable adapter tokenizer source on disk.
type Adapter struct {
	// Stable identifier for the adapter (descriptor file name without extension).
	ID string `json:"id"`
	// Load source handed to the tokenizer loader (absolute descriptor path).
	Source string `json:"source"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	Error string `json:"error"`
	// HTTP status code.
	Code int `json:"code"`
}

// AdapterStatus summarizes a cached adapter tokenizer for /status.
type AdapterStatus struct {
	// ID of the adapter this tokenizer serves.
	AdapterID string `json:"adapter_id"`
	// Load source the tokenizer was materialized from.
	Source string `json:"source"`
	// Tokenizer vocabulary name.
	Tokenizer string `json:"tokenizer"`
	// Adapter-specific input bound (0 = pool default applies).
	MaxInputLength int `json:"max_input_length"`
	// Last time this tokenizer served a request (unix milliseconds).
	LastUsed int64 `json:"last_used_unix_ms"`
	// Number of requests currently holding this tokenizer.
	InUse int `json:"in_use"`
}

// WorkerStatus summarizes one encode worker.
type WorkerStatus struct {
	// Worker slot index.
	ID int `json:"id"`
	// Lifecycle state (ready, unhealthy).
	State string `json:"state"`
	// Encode jobs completed by this worker incarnation.
	Jobs uint64 `json:"jobs"`
	// Times this slot has been restarted.
	Restarts int `json:"restarts"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Overall pool state (ready, degraded, stopped).
	State string `json:"state"`
	// Identifier of the always-resident base tokenizer.
	BaseTokenizer string `json:"base_tokenizer"`
	// Resident worker count and adapter cache capacity.
	PoolSize int `json:"pool_size"`
	// Default input bound (0 = unbounded).
	MaxInputLength int `json:"max_input_length"`
	// Cached adapter tokenizers, least recently used first.
	Adapters []AdapterStatus `json:"adapters"`
	// Encode workers (empty for the inline variant).
	Workers []WorkerStatus `json:"workers"`
	// Callers currently waiting for a worker.
	QueueLen int `json:"queue_len"`
	// Maximum waiting callers before dispatch is rejected.
	MaxQueueDepth int `json:"max_queue_depth"`
	// Adapter loads started.
	LoadsTotal uint64 `json:"loads_total"`
	// Adapter tokenizers evicted to stay within capacity.
	EvictionsTotal uint64 `json:"evictions_total"`
	// Worker restarts performed.
	RestartsTotal uint64 `json:"restarts_total"`
	// Uptime of the pool in seconds.
	UptimeSeconds int64 `json:"uptime_seconds"`
}
