package models

// ProcessingStatus is the externally observable state of a job.
type ProcessingStatus string

const (
	// StatusProcessing covers everything between admission and completion.
	StatusProcessing ProcessingStatus = "processing"
	// StatusCompleted means results are ready for pickup.
	StatusCompleted ProcessingStatus = "completed"
	// StatusError means the job failed terminally.
	StatusError ProcessingStatus = "error"
)

// ProcessingInfo is the per-job status entry served by the progress pull.
type ProcessingInfo struct {
	Status ProcessingStatus `json:"status"`
	// Progress is the completion percentage, 0..100.
	Progress float64 `json:"progress"`
	// Speed is the progress rate in percent per second.
	Speed float64 `json:"speed"`
	// Reason carries a human-readable failure description for error entries.
	Reason string `json:"reason,omitempty"`
}

// InfoMap maps a job id to its status entry.
type InfoMap map[string]ProcessingInfo
