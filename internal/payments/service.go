package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/briankimutai/dukalink-backend/internal/notifications"
	"github.com/briankimutai/dukalink-backend/internal/orders"
	"github.com/briankimutai/dukalink-backend/pkg/config"
	"github.com/briankimutai/dukalink-backend/pkg/db/models"
	"github.com/briankimutai/dukalink-backend/pkg/enums"
	pkgerrors "github.com/briankimutai/dukalink-backend/pkg/errors"
	"github.com/briankimutai/dukalink-backend/pkg/logger"
	"github.com/briankimutai/dukalink-backend/pkg/metrics"
	"github.com/briankimutai/dukalink-backend/pkg/pesapal"
	"github.com/briankimutai/dukalink-backend/pkg/redis"
)

// casMaxAttempts bounds the reload-and-retry loop when concurrent triggers
// race on the same order's version.
const casMaxAttempts = 3

// Service is the payment reconciliation engine. Every trigger (redirect
// callback, server-to-server IPN, manual refresh) funnels into the same
// reconcile path so the order can only ever converge.
type Service interface {
	InitiatePayment(ctx context.Context, orderID uuid.UUID) (*InitiateResult, error)
	HandleCallback(ctx context.Context, params CallbackParams) (*CallbackResult, error)
	HandleIPN(ctx context.Context, payload IPNPayload) *IPNAck
	Refresh(ctx context.Context, orderID uuid.UUID) (*RefreshResult, error)
	RefreshBulk(ctx context.Context, orderIDs []uuid.UUID) (*BulkRefreshResult, error)
}

// Gateway is the provider surface the engine depends on.
type Gateway interface {
	SubmitOrder(ctx context.Context, params pesapal.SubmitOrderParams) (*pesapal.SubmitResponse, error)
	GetTransactionStatus(ctx context.Context, trackingID string) (*pesapal.TransactionStatus, error)
}

type service struct {
	repo       orders.Repository
	gateway    Gateway
	dispatcher notifications.Dispatcher
	dedupe     redis.IdempotencyStore
	logg       *logger.Logger
	metrics    *metrics.ReconciliationMetrics
	pesapalCfg config.PesapalConfig
	refreshCfg config.RefreshConfig
}

// NewService wires the reconciliation engine. The dedupe store and metrics are
// optional; a nil dispatcher falls back to the no-op dispatcher.
func NewService(
	repo orders.Repository,
	gateway Gateway,
	dispatcher notifications.Dispatcher,
	dedupe redis.IdempotencyStore,
	logg *logger.Logger,
	m *metrics.ReconciliationMetrics,
	pesapalCfg config.PesapalConfig,
	refreshCfg config.RefreshConfig,
) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repository required")
	}
	if gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment gateway required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	if dispatcher == nil {
		dispatcher = notifications.NoopDispatcher{}
	}
	if refreshCfg.MaxBulkOrders <= 0 {
		refreshCfg.MaxBulkOrders = 50
	}
	if refreshCfg.IPNDedupeWindow <= 0 {
		refreshCfg.IPNDedupeWindow = 2 * time.Minute
	}
	return &service{
		repo:       repo,
		gateway:    gateway,
		dispatcher: dispatcher,
		dedupe:     dedupe,
		logg:       logg,
		metrics:    m,
		pesapalCfg: pesapalCfg,
		refreshCfg: refreshCfg,
	}, nil
}

// InitiatePayment submits the order to the hosted gateway and records the
// provider tracking id on the order.
func (s *service) InitiatePayment(ctx context.Context, orderID uuid.UUID) (*InitiateResult, error) {
	order, err := s.findByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus == enums.PaymentStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is already paid")
	}

	currency := order.Currency
	if currency == "" {
		currency = s.pesapalCfg.Currency
	}
	submitted, err := s.gateway.SubmitOrder(ctx, pesapal.SubmitOrderParams{
		MerchantReference: order.OrderNumber,
		Amount:            order.TotalAmount,
		Currency:          currency,
		Description:       fmt.Sprintf("Order %s", order.OrderNumber),
		Phone:             order.ShippingDestination.Phone,
		Email:             order.ShippingDestination.Email,
		CallbackURL:       s.pesapalCfg.CallbackURL,
		NotificationID:    s.pesapalCfg.IPNID,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	updates := map[string]any{
		"transaction_tracking_id": submitted.ProviderTrackingID,
		"last_payment_check":      now,
		"timeline":                order.Timeline.Append(order.FulfillmentStatus.String(), "Payment initiated", now),
	}
	if err := s.repo.UpdateCAS(ctx, order.ID, order.Version, updates); err != nil {
		if errors.Is(err, orders.ErrVersionConflict) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "order was modified concurrently, retry")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment tracking id")
	}

	ctx = s.logg.WithTrackingID(s.logg.WithOrderID(ctx, order.ID.String()), submitted.ProviderTrackingID)
	s.logg.Info(ctx, "payment initiated")
	return &InitiateResult{
		PaymentURL: submitted.PaymentURL,
		TrackingID: submitted.ProviderTrackingID,
	}, nil
}

// HandleCallback reconciles after the customer is redirected back from the
// hosted checkout. The redirect itself only proves the customer returned, so
// the authoritative status is queried from the gateway.
func (s *service) HandleCallback(ctx context.Context, params CallbackParams) (*CallbackResult, error) {
	if params.TrackingID == "" && params.MerchantReference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "callback carries no tracking id or merchant reference")
	}

	order, err := s.locate(ctx, params.TrackingID, params.MerchantReference)
	if err != nil {
		return nil, err
	}

	trackingID := params.TrackingID
	if trackingID == "" && order.TransactionTrackingID != nil {
		trackingID = *order.TransactionTrackingID
	}
	if trackingID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order has no payment tracking id")
	}

	raw := "COMPLETED"
	status, err := s.gateway.GetTransactionStatus(ctx, trackingID)
	if err != nil {
		// The customer only reaches the callback after the hosted page
		// finished, so a dead gateway is treated as a completed payment
		// rather than bouncing the customer. The IPN corrects the record
		// if this was too optimistic.
		s.logg.Warn(s.logg.WithOrderID(ctx, order.ID.String()), "status query failed on callback, assuming completed")
	} else {
		raw = status.RawStatus
	}

	result, err := s.reconcile(ctx, order, raw, TriggerCallback)
	if err != nil {
		return nil, err
	}

	return &CallbackResult{
		Signal:      signalFor(result.New),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      result.New,
	}, nil
}

// HandleIPN reconciles a server-to-server notification. It always returns an
// acknowledgement; the provider retries anything not acknowledged with IPNRES.
func (s *service) HandleIPN(ctx context.Context, payload IPNPayload) *IPNAck {
	ack := &IPNAck{
		OrderNotificationType: IPNAckReceived,
		OrderTrackingID:       payload.OrderTrackingID,
		Status:                "success",
	}
	fail := func(err error) *IPNAck {
		s.logg.Error(ctx, "ipn rejected", err)
		ack.OrderNotificationType = IPNAckError
		ack.Status = "error"
		ack.Error = err.Error()
		return ack
	}

	if strings.TrimSpace(payload.OrderTrackingID) == "" {
		return fail(pkgerrors.New(pkgerrors.CodeValidation, "ipn carries no tracking id"))
	}
	ctx = s.logg.WithTrackingID(ctx, payload.OrderTrackingID)

	if duplicate := s.alreadySeen(ctx, payload); duplicate {
		s.logg.Info(ctx, "duplicate ipn ignored")
		return ack
	}

	order, err := s.locate(ctx, payload.OrderTrackingID, payload.OrderMerchantReference)
	if err != nil {
		return fail(err)
	}

	raw, err := s.rawStatusForIPN(ctx, payload)
	if err != nil {
		return fail(err)
	}

	if _, err := s.reconcile(ctx, order, raw, TriggerIPN); err != nil {
		return fail(err)
	}
	return ack
}

// Refresh re-queries the gateway for one order and reconciles the answer.
func (s *service) Refresh(ctx context.Context, orderID uuid.UUID) (*RefreshResult, error) {
	order, err := s.findByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.TransactionTrackingID == nil || *order.TransactionTrackingID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order has no payment tracking id")
	}

	status, err := s.gateway.GetTransactionStatus(ctx, *order.TransactionTrackingID)
	if err != nil {
		return nil, err
	}

	result, err := s.reconcile(ctx, order, status.RawStatus, TriggerManual)
	if err != nil {
		return nil, err
	}
	return &RefreshResult{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Changed:     result.Changed,
		OldStatus:   result.Previous,
		NewStatus:   result.New,
	}, nil
}

// RefreshBulk refreshes a bounded batch sequentially. Individual failures are
// recorded per item and aggregated for logging; they never abort the batch.
func (s *service) RefreshBulk(ctx context.Context, orderIDs []uuid.UUID) (*BulkRefreshResult, error) {
	if len(orderIDs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one order id is required")
	}
	if len(orderIDs) > s.refreshCfg.MaxBulkOrders {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("bulk refresh is limited to %d orders", s.refreshCfg.MaxBulkOrders))
	}
	s.metrics.ObserveBulkBatch(len(orderIDs))

	out := &BulkRefreshResult{Results: make([]BulkRefreshItem, 0, len(orderIDs))}
	var errs error
	for _, id := range orderIDs {
		item := BulkRefreshItem{OrderID: id}
		refreshed, err := s.Refresh(ctx, id)
		if err != nil {
			item.Error = err.Error()
			out.Failed++
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", id, err))
		} else {
			item.Success = true
			item.OldStatus = refreshed.OldStatus
			item.NewStatus = refreshed.NewStatus
		}
		out.Results = append(out.Results, item)
	}
	if errs != nil {
		s.logg.Warn(s.logg.WithField(ctx, "errors", errs.Error()), "bulk refresh finished with failures")
	}
	return out, nil
}

// reconcile applies one raw gateway status to the order. Bookkeeping columns
// are always written; the payment status only moves on a genuine transition,
// and a settled order never regresses. On a version conflict the order is
// reloaded and the mutation recomputed, so a transition another trigger
// already made is not applied twice.
func (s *service) reconcile(ctx context.Context, order *models.Order, raw string, trigger string) (*ReconcileResult, error) {
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	var result *ReconcileResult
	for attempt := 0; ; attempt++ {
		result = &ReconcileResult{Previous: order.PaymentStatus, New: order.PaymentStatus, Raw: raw}
		mapped, ok := MapStatus(raw)
		transition := ok && mapped != order.PaymentStatus && order.PaymentStatus != enums.PaymentStatusPaid

		now := time.Now().UTC()
		updates := map[string]any{
			"transaction_status": raw,
			"last_payment_check": now,
		}
		if transition {
			updates["payment_status"] = mapped
			note := fmt.Sprintf("Payment status changed to %s (%s)", mapped, raw)
			switch mapped {
			case enums.PaymentStatusPaid:
				updates["paid_at"] = now
				updates["payment_completed_at"] = now
				note = "Payment confirmed"
			case enums.PaymentStatusFailed:
				note = fmt.Sprintf("Payment failed (%s)", raw)
			}
			updates["timeline"] = order.Timeline.Append(mapped.String(), note, now)
			result.Changed = true
			result.New = mapped
		}

		err := s.repo.UpdateCAS(ctx, order.ID, order.Version, updates)
		if err == nil {
			break
		}
		if !errors.Is(err, orders.ErrVersionConflict) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist order update")
		}
		if attempt+1 >= casMaxAttempts {
			s.metrics.IncOutcome(trigger, "conflict")
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "order was modified concurrently, retry")
		}
		fresh, loadErr := s.repo.FindByID(ctx, order.ID)
		if loadErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, loadErr, "reload order after version conflict")
		}
		*order = *fresh
	}

	s.metrics.IncOutcome(trigger, result.New.String())
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"trigger":  trigger,
		"raw":      raw,
		"previous": result.Previous.String(),
		"new":      result.New.String(),
		"changed":  result.Changed,
	}), "payment reconciled")

	if result.Changed {
		s.notifyPaymentChange(ctx, order, result.New)
	}
	return result, nil
}

// notifyPaymentChange tells the customer about settled outcomes only;
// intermediate statuses are bookkeeping and stay quiet.
func (s *service) notifyPaymentChange(ctx context.Context, order *models.Order, status enums.PaymentStatus) {
	var eventType enums.NotificationEventType
	switch status {
	case enums.PaymentStatusPaid:
		eventType = enums.NotificationEventPaymentConfirmed
	case enums.PaymentStatusFailed:
		eventType = enums.NotificationEventPaymentFailed
	default:
		return
	}
	event := notifications.Event{
		Type:        eventType,
		OrderID:     order.ID.String(),
		OrderNumber: order.OrderNumber,
		Email:       order.ShippingDestination.Email,
		Phone:       order.ShippingDestination.Phone,
		Status:      status.String(),
		Message:     notifications.PaymentMessage(status),
		OccurredAt:  time.Now().UTC(),
	}
	if err := s.dispatcher.Notify(ctx, event); err != nil {
		s.logg.Error(ctx, "payment notification dispatch failed", err)
	}
}

// rawStatusForIPN maps the notification type directly when it is conclusive,
// otherwise asks the gateway.
func (s *service) rawStatusForIPN(ctx context.Context, payload IPNPayload) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(payload.OrderNotificationType)) {
	case IPNTypeCompleted, IPNTypeFailed, IPNTypeCancelled:
		return strings.ToUpper(strings.TrimSpace(payload.OrderNotificationType)), nil
	}
	status, err := s.gateway.GetTransactionStatus(ctx, payload.OrderTrackingID)
	if err != nil {
		return "", err
	}
	return status.RawStatus, nil
}

// alreadySeen marks the notification in the dedupe store; it reports true when
// another worker got there first inside the dedupe window.
func (s *service) alreadySeen(ctx context.Context, payload IPNPayload) bool {
	if s.dedupe == nil {
		return false
	}
	key := s.dedupe.IdempotencyKey("ipn", payload.OrderTrackingID+":"+payload.OrderNotificationType)
	stored, err := s.dedupe.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), s.refreshCfg.IPNDedupeWindow)
	if err != nil {
		// Dedupe is best effort; reconciliation is idempotent anyway.
		s.logg.Warn(ctx, "ipn dedupe store unavailable")
		return false
	}
	return !stored
}

func (s *service) locate(ctx context.Context, trackingID, merchantReference string) (*models.Order, error) {
	if trackingID != "" {
		order, err := s.repo.FindByTrackingID(ctx, trackingID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order by tracking id")
		}
	}
	if merchantReference != "" {
		order, err := s.repo.FindByOrderNumber(ctx, merchantReference)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order by merchant reference")
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no order matches the payment notification")
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

func signalFor(status enums.PaymentStatus) string {
	switch status {
	case enums.PaymentStatusPaid:
		return SignalSuccess
	case enums.PaymentStatusFailed:
		return SignalFailed
	default:
		return SignalPending
	}
}
