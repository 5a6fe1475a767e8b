package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/mediaforge/mediaforge/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// customerRepo implements CustomerRepository using GORM.
type customerRepo struct {
	db *gorm.DB
}

// NewCustomerRepository creates a new CustomerRepository.
func NewCustomerRepository(db *gorm.DB) *customerRepo {
	return &customerRepo{db: db}
}

// Upsert creates or replaces a customer's configuration. Re-registration
// overwrites the stored per-category config wholesale.
func (r *customerRepo) Upsert(ctx context.Context, customer *models.Customer) error {
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"config", "updated_at"}),
		}).
		Create(customer).Error; err != nil {
		return fmt.Errorf("upserting customer: %w", err)
	}
	return nil
}

// GetByID retrieves a customer by ID.
func (r *customerRepo) GetByID(ctx context.Context, id string) (*models.Customer, error) {
	var customer models.Customer
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&customer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting customer by ID: %w", err)
	}
	return &customer, nil
}

// GetAll retrieves all registered customers.
func (r *customerRepo) GetAll(ctx context.Context) ([]*models.Customer, error) {
	var customers []*models.Customer
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&customers).Error; err != nil {
		return nil, fmt.Errorf("getting all customers: %w", err)
	}
	return customers, nil
}

// Delete removes a customer by ID.
func (r *customerRepo) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Delete(&models.Customer{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("deleting customer: %w", err)
	}
	return nil
}
