package model

// SessionCounters are the aggregate counts the coordinator maintains.
// Mutated only by the coordinator, persisted after every mutation and
// reloaded at startup unless explicitly skipped.
type SessionCounters struct {
	TotalSubmissions        int `yaml:"total_submissions"`
	TotalAcceptances        int `yaml:"total_acceptances"`
	TotalRejections         int `yaml:"total_rejections"`
	CleanupReviewsPerformed int `yaml:"cleanup_reviews_performed"`
	RemovalsProposed        int `yaml:"removals_proposed"`
	RemovalsExecuted        int `yaml:"removals_executed"`
}

// SystemStatus is a point-in-time snapshot of the coordinator.
type SystemStatus struct {
	IsRunning      bool            `yaml:"is_running"`
	Mode           Mode            `yaml:"mode"`
	QueueSize      int             `yaml:"queue_size"`
	Counters       SessionCounters `yaml:"counters"`
	AcceptanceRate float64         `yaml:"acceptance_rate"`
	StoreCount     int             `yaml:"store_count"`
}
