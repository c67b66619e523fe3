package payout

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for payout persistence
type Repository interface {
	// Create creates a new payout
	Create(ctx context.Context, payout *Payout) error

	// GetByID retrieves a payout by ID
	GetByID(ctx context.Context, id uuid.UUID) (*Payout, error)

	// GetByIdempotencyKey retrieves a payout by idempotency key
	GetByIdempotencyKey(ctx context.Context, key string) (*Payout, error)

	// Update updates an existing payout
	Update(ctx context.Context, payout *Payout) error

	// List lists payouts with filters
	List(ctx context.Context, filter ListFilter) ([]*Payout, error)
}

// ListFilter defines filters for listing payouts
type ListFilter struct {
	Status   *Status
	Provider *Provider
	// UpdatedBefore keeps payouts last touched before the given time.
	UpdatedBefore *time.Time
	Limit         int
	Offset        int
	SortBy        string
	SortOrder     string
}
