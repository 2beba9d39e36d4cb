package orders

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/briankimutai/dukalink-backend/pkg/db"
	"github.com/briankimutai/dukalink-backend/pkg/db/models"
	"github.com/briankimutai/dukalink-backend/pkg/enums"
	pkgerrors "github.com/briankimutai/dukalink-backend/pkg/errors"
)

// Service defines order-level operations around the aggregate's lifecycle.
// Payment and fulfillment status changes live in their own engines; this
// service owns creation and the deletion guard.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Order, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type service struct {
	repo            Repository
	defaultCurrency string
}

// NewService builds an order service with the required dependencies.
func NewService(repo Repository, defaultCurrency string) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repository required")
	}
	if strings.TrimSpace(defaultCurrency) == "" {
		defaultCurrency = "KES"
	}
	return &service{repo: repo, defaultCurrency: defaultCurrency}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Order, error) {
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}

	currency := strings.TrimSpace(strings.ToUpper(input.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}

	now := time.Now().UTC()
	order := &models.Order{
		OrderNumber:         GenerateOrderNumber(),
		Items:               input.Items,
		ShippingDestination: input.Destination,
		TotalAmount:         input.TotalAmount,
		Currency:            currency,
		FulfillmentStatus:   initialFulfillmentStatus(input.Flow),
		PaymentStatus:       enums.PaymentStatusPending,
	}
	order.Timeline = order.Timeline.Append(order.FulfillmentStatus.String(), "Order created", now)

	created, err := s.repo.Create(ctx, order)
	if db.IsUniqueViolation(err, "order_number") {
		// Timestamp+random collisions are freak accidents; one fresh number
		// settles it.
		order.OrderNumber = GenerateOrderNumber()
		created, err = s.repo.Create(ctx, order)
	}
	if err != nil {
		if db.IsUniqueViolation(err, "order_number") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "order number collision")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}
	return created, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

// Delete removes an order permanently. A paid order is never deleted; it must
// be cancelled through the fulfillment state machine instead.
func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	order, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if order.PaymentStatus == enums.PaymentStatusPaid {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "paid orders cannot be deleted, cancel instead")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete order")
	}
	return nil
}

func validateCreateInput(input CreateInput) error {
	if len(input.Items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	for i, item := range input.Items {
		if strings.TrimSpace(item.Name) == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "item name required").
				WithDetails(map[string]any{"index": i})
		}
		if item.Quantity <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "item quantity must be positive").
				WithDetails(map[string]any{"index": i})
		}
		if item.UnitPrice.IsNegative() {
			return pkgerrors.New(pkgerrors.CodeValidation, "item unit price cannot be negative").
				WithDetails(map[string]any{"index": i})
		}
	}
	if input.TotalAmount.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "total amount cannot be negative")
	}
	dest := input.Destination
	if strings.TrimSpace(dest.FullName) == "" || strings.TrimSpace(dest.Phone) == "" ||
		strings.TrimSpace(dest.Email) == "" || strings.TrimSpace(dest.Address) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "shipping destination incomplete")
	}
	return nil
}

func initialFulfillmentStatus(flow CheckoutFlow) enums.FulfillmentStatus {
	switch flow {
	case CheckoutFlowSplitPayment:
		return enums.FulfillmentStatusPendingSplitPayment
	case CheckoutFlowBankTransfer:
		return enums.FulfillmentStatusPendingBankTransfer
	default:
		return enums.FulfillmentStatusPending
	}
}

// Summarize builds the response echo for mutation endpoints.
func Summarize(order *models.Order) OrderSummary {
	if order == nil {
		return OrderSummary{}
	}
	summary := OrderSummary{
		ID:                order.ID.String(),
		OrderNumber:       order.OrderNumber,
		FulfillmentStatus: order.FulfillmentStatus.String(),
		PaymentStatus:     order.PaymentStatus.String(),
	}
	if order.TrackingNumber != nil {
		summary.TrackingNumber = *order.TrackingNumber
	}
	return summary
}
