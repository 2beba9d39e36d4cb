package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/briankimutai/dukalink-backend/pkg/db/models"
)

// Repository is the persistence surface for the order aggregate. All status
// mutations go through compare-and-set updates keyed on the order's version
// so concurrent reconciliation triggers cannot clobber each other.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, order *models.Order) (*models.Order, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	FindByTrackingID(ctx context.Context, trackingID string) (*models.Order, error)

	// UpdateCAS applies updates only when the stored version still matches
	// expectedVersion, bumping the version on success. Returns
	// ErrVersionConflict when another writer got there first.
	UpdateCAS(ctx context.Context, id uuid.UUID, expectedVersion int64, updates map[string]any) error

	Delete(ctx context.Context, id uuid.UUID) error
}
