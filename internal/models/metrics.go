package models

import "time"

// SystemMetrics is a point-in-time summary of service instrumentation.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	StoreCallCount           uint64    `json:"store_call_count"`
	AverageStoreCallMs       float64   `json:"average_store_call_ms"`
	GenerationRuns           uint64    `json:"generation_runs"`
	SessionsPlaced           uint64    `json:"sessions_placed"`
	SessionsUnplaced         uint64    `json:"sessions_unplaced"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
