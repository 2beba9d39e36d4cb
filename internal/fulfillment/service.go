package fulfillment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/briankimutai/dukalink-backend/internal/notifications"
	"github.com/briankimutai/dukalink-backend/internal/orders"
	"github.com/briankimutai/dukalink-backend/pkg/db/models"
	"github.com/briankimutai/dukalink-backend/pkg/enums"
	pkgerrors "github.com/briankimutai/dukalink-backend/pkg/errors"
	"github.com/briankimutai/dukalink-backend/pkg/logger"
)

const casMaxAttempts = 3

// TransitionInput carries the optional caller-supplied fields of one action.
// TrackingNumber is only honored on ship.
type TransitionInput struct {
	Note           string
	TrackingNumber string
}

// UpdateStatusInput is the generic admin override. At least one status must
// be set; the terminal guard applies to the fulfillment change only.
type UpdateStatusInput struct {
	FulfillmentStatus *enums.FulfillmentStatus
	PaymentStatus     *enums.PaymentStatus
	Note              string
}

// Service drives the fulfillment lifecycle. Every transition consults the
// transition table, persists via compare-and-set, appends exactly one timeline
// entry, then notifies the customer best-effort.
type Service interface {
	Transition(ctx context.Context, orderID uuid.UUID, action Action, input TransitionInput) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, input UpdateStatusInput) (*models.Order, error)
}

type service struct {
	repo       orders.Repository
	dispatcher notifications.Dispatcher
	logg       *logger.Logger
}

// NewService wires the fulfillment state machine.
func NewService(repo orders.Repository, dispatcher notifications.Dispatcher, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repository required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	if dispatcher == nil {
		dispatcher = notifications.NoopDispatcher{}
	}
	return &service{repo: repo, dispatcher: dispatcher, logg: logg}, nil
}

func (s *service) Transition(ctx context.Context, orderID uuid.UUID, action Action, input TransitionInput) (*models.Order, error) {
	order, err := s.findByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	note := strings.TrimSpace(input.Note)
	if note == "" {
		note = defaultNote(action)
	}

	var target enums.FulfillmentStatus
	for attempt := 0; ; attempt++ {
		target, err = Apply(order, action)
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		timeline := order.Timeline.Append(target.String(), note, now)
		updates := map[string]any{
			"fulfillment_status": target,
			"timeline":           timeline,
		}
		var trackingNumber string
		if action == ActionShip {
			trackingNumber = s.resolveTrackingNumber(order, input.TrackingNumber)
			if trackingNumber != "" {
				updates["tracking_number"] = trackingNumber
			}
		}

		err = s.repo.UpdateCAS(ctx, order.ID, order.Version, updates)
		if err == nil {
			order.FulfillmentStatus = target
			order.Timeline = timeline
			if trackingNumber != "" {
				order.TrackingNumber = &trackingNumber
			}
			break
		}
		if !errors.Is(err, orders.ErrVersionConflict) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist fulfillment transition")
		}
		if attempt+1 >= casMaxAttempts {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "order was modified concurrently, retry")
		}
		fresh, loadErr := s.repo.FindByID(ctx, order.ID)
		if loadErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, loadErr, "reload order after version conflict")
		}
		*order = *fresh
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"action": string(action),
		"status": target.String(),
	}), "fulfillment transition applied")

	s.notifyStatusChange(ctx, order, target)
	return order, nil
}

func (s *service) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, input UpdateStatusInput) (*models.Order, error) {
	if input.FulfillmentStatus == nil && input.PaymentStatus == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one status is required")
	}
	if input.FulfillmentStatus != nil && !input.FulfillmentStatus.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid fulfillment status")
	}
	if input.PaymentStatus != nil && !input.PaymentStatus.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment status")
	}

	order, err := s.findByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	if input.FulfillmentStatus != nil && order.FulfillmentStatus.IsTerminal() &&
		*input.FulfillmentStatus != order.FulfillmentStatus {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			"order is in a terminal status, fulfillment cannot change")
	}

	note := strings.TrimSpace(input.Note)
	if note == "" {
		note = "Status updated manually"
	}

	now := time.Now().UTC()
	timelineStatus := order.FulfillmentStatus
	updates := map[string]any{}
	if input.FulfillmentStatus != nil {
		updates["fulfillment_status"] = *input.FulfillmentStatus
		timelineStatus = *input.FulfillmentStatus
	}
	if input.PaymentStatus != nil {
		updates["payment_status"] = *input.PaymentStatus
	}
	timeline := order.Timeline.Append(timelineStatus.String(), note, now)
	updates["timeline"] = timeline

	if err := s.repo.UpdateCAS(ctx, order.ID, order.Version, updates); err != nil {
		if errors.Is(err, orders.ErrVersionConflict) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "order was modified concurrently, retry")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist status update")
	}

	if input.FulfillmentStatus != nil {
		order.FulfillmentStatus = *input.FulfillmentStatus
	}
	if input.PaymentStatus != nil {
		order.PaymentStatus = *input.PaymentStatus
	}
	order.Timeline = timeline

	if input.FulfillmentStatus != nil {
		s.notifyStatusChange(ctx, order, order.FulfillmentStatus)
	}
	return order, nil
}

func (s *service) resolveTrackingNumber(order *models.Order, supplied string) string {
	supplied = strings.TrimSpace(supplied)
	if supplied != "" {
		return supplied
	}
	if order.TrackingNumber != nil && *order.TrackingNumber != "" {
		return ""
	}
	return orders.GenerateTrackingNumber()
}

func (s *service) notifyStatusChange(ctx context.Context, order *models.Order, status enums.FulfillmentStatus) {
	event := notifications.Event{
		Type:        enums.NotificationEventOrderStatus,
		OrderID:     order.ID.String(),
		OrderNumber: order.OrderNumber,
		Email:       order.ShippingDestination.Email,
		Phone:       order.ShippingDestination.Phone,
		Status:      status.String(),
		Message:     notifications.FulfillmentMessage(status),
		OccurredAt:  time.Now().UTC(),
	}
	if err := s.dispatcher.Notify(ctx, event); err != nil {
		s.logg.Error(ctx, "status notification dispatch failed", err)
	}
}

func (s *service) findByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
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
