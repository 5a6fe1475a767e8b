// Package repository provides data access interfaces and GORM-backed
// implementations for mediaforge's persistent state.
package repository

import (
	"context"

	"github.com/mediaforge/mediaforge/internal/models"
)

// RecordRepository defines operations for processing record persistence.
//
// Records track every admitted piece of media from admission until its
// results are collected. They carry a state column (processing or
// completed) so a restart can tell unfinished work from deliverable work.
type RecordRepository interface {
	// CreateIfAbsent inserts a record unless one with the same ID already
	// exists. Returns true when the record was inserted, false when an
	// existing record was left untouched.
	CreateIfAbsent(ctx context.Context, record *models.Record) (bool, error)
	// GetByID retrieves a record by its fingerprint ID. Returns nil when
	// no record exists.
	GetByID(ctx context.Context, id string) (*models.Record, error)
	// ListInFlight retrieves all records still in the processing state,
	// oldest first.
	ListInFlight(ctx context.Context) ([]*models.Record, error)
	// ListCompleted retrieves all completed records, oldest first.
	ListCompleted(ctx context.Context) ([]*models.Record, error)
	// MarkCompleted atomically moves a record from processing to completed,
	// attaching the output directory and produced files.
	MarkCompleted(ctx context.Context, id string, outputDir string, files []string) error
	// FirstCompletedForCustomer retrieves the oldest completed record for
	// a customer. Returns nil when none is ready.
	FirstCompletedForCustomer(ctx context.Context, customerID string) (*models.Record, error)
	// Delete removes a record by ID.
	Delete(ctx context.Context, id string) error
}

// CustomerRepository defines operations for customer persistence.
type CustomerRepository interface {
	// Upsert creates or replaces a customer's configuration.
	Upsert(ctx context.Context, customer *models.Customer) error
	// GetByID retrieves a customer by ID. Returns nil when the customer
	// has not registered.
	GetByID(ctx context.Context, id string) (*models.Customer, error)
	// GetAll retrieves all registered customers.
	GetAll(ctx context.Context) ([]*models.Customer, error)
	// Delete removes a customer by ID.
	Delete(ctx context.Context, id string) error
}
