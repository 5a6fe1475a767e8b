package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"
	"github.com/mediaforge/mediaforge/internal/models"
	"github.com/mediaforge/mediaforge/internal/repository"
)

// RegisterHandler handles customer registration.
type RegisterHandler struct {
	customers repository.CustomerRepository
	logger    *slog.Logger
}

// NewRegisterHandler creates a new registration handler.
func NewRegisterHandler(customers repository.CustomerRepository, logger *slog.Logger) *RegisterHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RegisterHandler{customers: customers, logger: logger}
}

// RegisterInput is the registration request.
type RegisterInput struct {
	CustomerID string                   `path:"customerId" maxLength:"128" doc:"Customer identifier"`
	Body       models.CategoryConfigMap `doc:"Per-category processing policy"`
}

// RegisterOutput is the registration response.
type RegisterOutput struct {
	Body StatusResponse
}

// Register registers the route with the API.
func (h *RegisterHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "registerCustomer",
		Method:      "POST",
		Path:        "/register/{customerId}",
		Summary:     "Register customer",
		Description: "Creates or replaces the customer's per-category processing policy. Idempotent.",
		Tags:        []string{"Customers"},
	}, h.RegisterCustomer)
}

// RegisterCustomer upserts the customer configuration.
func (h *RegisterHandler) RegisterCustomer(ctx context.Context, input *RegisterInput) (*RegisterOutput, error) {
	customer := &models.Customer{
		ID:     input.CustomerID,
		Config: input.Body,
	}
	if err := h.customers.Upsert(ctx, customer); err != nil {
		h.logger.Error("customer upsert failed",
			slog.String("customer", input.CustomerID),
			slog.String("error", err.Error()),
		)
		return nil, huma.Error500InternalServerError(fmt.Sprintf("registering customer %s", input.CustomerID))
	}

	h.logger.Info("customer registered",
		slog.String("customer", input.CustomerID),
		slog.Int("categories", len(input.Body)),
	)
	return &RegisterOutput{Body: StatusResponse{Status: "ok"}}, nil
}
