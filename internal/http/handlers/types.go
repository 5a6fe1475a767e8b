// Package handlers provides the delivery protocol HTTP handlers for
// mediaforge.
package handlers

import "github.com/mediaforge/mediaforge/internal/scheduler"

// StatusResponse is the minimal acknowledgement body.
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
}

// SubmitOutcome is the admission result for one submitted file.
type SubmitOutcome struct {
	Result scheduler.SubmitResult `json:"result"`
	ID     string                 `json:"id,omitempty"`
}

// SubmitResponse is the add-media response body.
type SubmitResponse struct {
	Status string        `json:"status"`
	Result SubmitOutcome `json:"result"`
}

// ErrorResponse is the add-media failure body.
type ErrorResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// HealthResponse is the health endpoint body.
type HealthResponse struct {
	Status        string            `json:"status"`
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	CPU           CPUInfo           `json:"cpu"`
	Memory        MemoryInfo        `json:"memory"`
	Checks        map[string]string `json:"checks"`
}

// CPUInfo carries load averages relative to the core count.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo carries system memory usage in MB.
type MemoryInfo struct {
	TotalMB     float64 `json:"total_mb"`
	UsedMB      float64 `json:"used_mb"`
	AvailableMB float64 `json:"available_mb"`
}
