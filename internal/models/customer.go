// Package models defines the persisted entities and wire types of the
// processing engine.
package models

import "time"

// SelectionMode controls how many catalog profiles a selection may yield.
type SelectionMode string

const (
	// SelectionAlways collects every enabled profile named by the selection.
	SelectionAlways SelectionMode = "always"
	// SelectionFirst stops at the first enabled profile named by the selection.
	SelectionFirst SelectionMode = "first"
)

// OutputSelection is a customer's chosen subset of the profile catalog.
type OutputSelection struct {
	Mode  SelectionMode `json:"mode" yaml:"mode"`
	Names []string      `json:"names" yaml:"names"`
}

// CustomerConfig is the per-category policy a customer supplies at
// registration time.
type CustomerConfig struct {
	Outputs OutputSelection `json:"outputs" yaml:"outputs"`
	Filters StreamFilters   `json:"filters" yaml:"filters"`
}

// CategoryConfigMap maps a category name to the customer's policy for it.
type CategoryConfigMap map[string]CustomerConfig

// Customer is a registered processing customer (one client node).
type Customer struct {
	ID        string            `gorm:"primaryKey;size:128" json:"id"`
	Config    CategoryConfigMap `gorm:"serializer:json" json:"config"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// TableName returns the database table name for Customer.
func (Customer) TableName() string {
	return "customers"
}

// ConfigFor returns the customer's policy for the given category.
// The second return is false when the customer never registered the category.
func (c *Customer) ConfigFor(category string) (CustomerConfig, bool) {
	cfg, ok := c.Config[category]
	return cfg, ok
}
