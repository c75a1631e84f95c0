package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// QueueMetrics is returned by GET /v1/queue/metrics.
type QueueMetrics struct {
	SubmissionsAccepted float64 `json:"submissionsAccepted"`
	SubmissionsReview   float64 `json:"submissionsReview"`
	SubmissionsRejected float64 `json:"submissionsRejected"`
	Duplicates          float64 `json:"duplicates"`
	MatchesCommitted    float64 `json:"matchesCommitted"`
	MatchConflicts      float64 `json:"matchConflicts"`
	ItemsExpired        float64 `json:"itemsExpired"`
	RejectionRate       float64 `json:"rejectionRate"`
	HistoryCacheHitRate float64 `json:"historyCacheHitRate"`
	Period              string  `json:"period"`
}
