package usagesig

// Metrics are the usage figures an instance reports.
type Metrics struct {
	ActiveSubscribers int   `json:"active_subscribers"`
	TotalSubscribers  int   `json:"total_subscribers"`
	APICalls24h       int64 `json:"api_calls_24h"`
	StorageBytes      int64 `json:"storage_bytes"`
	RadiusSessions    int64 `json:"radius_sessions"`
}

// Report is the body of POST /v1/tenants/{tenant_id}/usage. Timestamp is
// RFC 3339 and asserted by the instance.
type Report struct {
	TenantID       string  `json:"tenant_id"`
	Timestamp      string  `json:"timestamp"`
	IdempotencyKey string  `json:"idempotency_key"`
	Metrics        Metrics `json:"metrics"`
}
