package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mediaforge/mediaforge/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// recordRepo implements RecordRepository using GORM.
type recordRepo struct {
	db *gorm.DB
}

// NewRecordRepository creates a new RecordRepository.
func NewRecordRepository(db *gorm.DB) *recordRepo {
	return &recordRepo{db: db}
}

// CreateIfAbsent admits a record unless the same fingerprint is already
// in flight. A conflicting completed row only means the previous run awaits
// collection; the fresh submission replaces it and the job runs again.
func (r *recordRepo) CreateIfAbsent(ctx context.Context, record *models.Record) (bool, error) {
	admitted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).Create(record)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			admitted = true
			return nil
		}

		// The guard on state makes concurrent resubmissions admit once.
		res = tx.Model(&models.Record{}).
			Where("id = ? AND state = ?", record.ID, models.StateCompleted).
			Select("customer_id", "category", "source_path", "display_name",
				"config", "state", "output_directory", "result_files", "updated_at").
			Updates(models.Record{
				CustomerID:  record.CustomerID,
				Category:    record.Category,
				SourcePath:  record.SourcePath,
				DisplayName: record.DisplayName,
				Config:      record.Config,
				State:       models.StateProcessing,
				UpdatedAt:   time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		admitted = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("creating record: %w", err)
	}
	return admitted, nil
}

// GetByID retrieves a record by ID.
func (r *recordRepo) GetByID(ctx context.Context, id string) (*models.Record, error) {
	var record models.Record
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting record by ID: %w", err)
	}
	return &record, nil
}

// ListInFlight retrieves all records still being processed, oldest first.
// Insertion order is what the drain loop resumes after a restart.
func (r *recordRepo) ListInFlight(ctx context.Context) ([]*models.Record, error) {
	var records []*models.Record
	if err := r.db.WithContext(ctx).
		Where("state = ?", models.StateProcessing).
		Order("created_at ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("listing in-flight records: %w", err)
	}
	return records, nil
}

// ListCompleted retrieves all completed records, oldest first.
func (r *recordRepo) ListCompleted(ctx context.Context) ([]*models.Record, error) {
	var records []*models.Record
	if err := r.db.WithContext(ctx).
		Where("state = ?", models.StateCompleted).
		Order("created_at ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("listing completed records: %w", err)
	}
	return records, nil
}

// MarkCompleted atomically moves a record from processing to completed.
// The state change, output directory and result files land in one update so
// a crash mid-move can never produce a half-completed record.
func (r *recordRepo) MarkCompleted(ctx context.Context, id string, outputDir string, files []string) error {
	// Struct form, not a map: the result_files column goes through the
	// model's JSON serializer.
	res := r.db.WithContext(ctx).
		Model(&models.Record{}).
		Where("id = ? AND state = ?", id, models.StateProcessing).
		Select("state", "output_directory", "result_files", "updated_at").
		Updates(models.Record{
			State:           models.StateCompleted,
			OutputDirectory: outputDir,
			ResultFiles:     models.StringList(files),
			UpdatedAt:       time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("marking record completed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("marking record completed: no processing record with id %s", id)
	}
	return nil
}

// FirstCompletedForCustomer retrieves the oldest completed record for a
// customer, or nil when nothing is ready for collection.
func (r *recordRepo) FirstCompletedForCustomer(ctx context.Context, customerID string) (*models.Record, error) {
	var record models.Record
	if err := r.db.WithContext(ctx).
		Where("customer_id = ? AND state = ?", customerID, models.StateCompleted).
		Order("created_at ASC").
		First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting first completed record: %w", err)
	}
	return &record, nil
}

// Delete removes a record by ID.
func (r *recordRepo) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Delete(&models.Record{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}
	return nil
}
