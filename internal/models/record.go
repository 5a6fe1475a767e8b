package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// RecordState tracks which persisted set a record belongs to.
type RecordState string

const (
	// StateProcessing marks a record in the in-flight set.
	StateProcessing RecordState = "processing"
	// StateCompleted marks a record in the completed set.
	StateCompleted RecordState = "completed"
)

// Order is a customer's request to post-process one media file.
type Order struct {
	Category    string         `json:"category"`
	CustomerID  string         `json:"customer"`
	SourcePath  string         `json:"source_path"`
	DisplayName string         `json:"display_name"`
	Config      CustomerConfig `json:"config"`
}

// Record is an admitted order plus its processing outcome. It is created the
// instant a job is accepted into the queue, before any transcoding starts, so
// a crash mid-transcode is recoverable from the store alone.
type Record struct {
	// ID is the order fingerprint (hex sha256 of the source path).
	ID          string         `gorm:"primaryKey;size:64" json:"id"`
	CustomerID  string         `gorm:"index;size:128;not null" json:"customer"`
	Category    string         `gorm:"size:64;not null" json:"category"`
	SourcePath  string         `gorm:"size:1024;not null" json:"source_path"`
	DisplayName string         `gorm:"size:512" json:"display_name"`
	Config      CustomerConfig `gorm:"serializer:json" json:"config"`

	// State moves from processing to completed exactly once.
	State RecordState `gorm:"size:16;index;not null" json:"state"`

	// OutputDirectory and ResultFiles are set once the transcode pipeline
	// has been fully defined.
	OutputDirectory string     `gorm:"size:1024" json:"output_directory,omitempty"`
	ResultFiles     StringList `gorm:"serializer:json" json:"result_files,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Record.
func (Record) TableName() string {
	return "records"
}

// Order reconstructs the admitted order from the record.
func (r *Record) Order() Order {
	return Order{
		Category:    r.Category,
		CustomerID:  r.CustomerID,
		SourcePath:  r.SourcePath,
		DisplayName: r.DisplayName,
		Config:      r.Config,
	}
}

// StringList is a JSON-serialized list of file paths.
type StringList []string

// Fingerprint computes the deterministic job identity for a source path.
// Identical fingerprints are treated as the same job for deduplication.
func Fingerprint(sourcePath string) string {
	sum := sha256.Sum256([]byte(sourcePath))
	return hex.EncodeToString(sum[:])
}
