package payments

import (
	"context"
	"io"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/briankimutai/dukalink-backend/internal/notifications"
	"github.com/briankimutai/dukalink-backend/internal/orders"
	"github.com/briankimutai/dukalink-backend/pkg/config"
	"github.com/briankimutai/dukalink-backend/pkg/db/models"
	"github.com/briankimutai/dukalink-backend/pkg/enums"
	pkgerrors "github.com/briankimutai/dukalink-backend/pkg/errors"
	"github.com/briankimutai/dukalink-backend/pkg/logger"
	"github.com/briankimutai/dukalink-backend/pkg/pesapal"
	"github.com/briankimutai/dukalink-backend/pkg/types"
)

type stubRepo struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*models.Order
}

func newStubRepo(seed ...*models.Order) *stubRepo {
	repo := &stubRepo{orders: map[uuid.UUID]*models.Order{}}
	for _, order := range seed {
		clone := *order
		repo.orders[order.ID] = &clone
	}
	return repo
}

func (r *stubRepo) WithTx(*gorm.DB) orders.Repository { return r }

func (r *stubRepo) Create(_ context.Context, order *models.Order) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	clone := *order
	r.orders[order.ID] = &clone
	return order, nil
}

func (r *stubRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *order
	return &clone, nil
}

func (r *stubRepo) FindByOrderNumber(_ context.Context, orderNumber string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, order := range r.orders {
		if order.OrderNumber == orderNumber {
			clone := *order
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubRepo) FindByTrackingID(_ context.Context, trackingID string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, order := range r.orders {
		if order.TransactionTrackingID != nil && *order.TransactionTrackingID == trackingID {
			clone := *order
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubRepo) UpdateCAS(_ context.Context, id uuid.UUID, expectedVersion int64, updates map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok || order.Version != expectedVersion {
		return orders.ErrVersionConflict
	}
	applyUpdates(order, updates)
	order.Version = expectedVersion + 1
	return nil
}

func (r *stubRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(r.orders, id)
	return nil
}

func applyUpdates(order *models.Order, updates map[string]any) {
	for key, value := range updates {
		switch key {
		case "payment_status":
			order.PaymentStatus = value.(enums.PaymentStatus)
		case "fulfillment_status":
			order.FulfillmentStatus = value.(enums.FulfillmentStatus)
		case "transaction_status":
			raw := value.(string)
			order.TransactionStatus = &raw
		case "transaction_tracking_id":
			id := value.(string)
			order.TransactionTrackingID = &id
		case "tracking_number":
			trk := value.(string)
			order.TrackingNumber = &trk
		case "last_payment_check":
			at := value.(time.Time)
			order.LastPaymentCheck = &at
		case "paid_at":
			at := value.(time.Time)
			order.PaidAt = &at
		case "payment_completed_at":
			at := value.(time.Time)
			order.PaymentCompletedAt = &at
		case "timeline":
			order.Timeline = value.(types.Timeline)
		}
	}
}

type stubGateway struct {
	mu          sync.Mutex
	statusResp  *pesapal.TransactionStatus
	statusErr   error
	submitResp  *pesapal.SubmitResponse
	submitErr   error
	statusCalls int
}

func (g *stubGateway) SubmitOrder(context.Context, pesapal.SubmitOrderParams) (*pesapal.SubmitResponse, error) {
	if g.submitErr != nil {
		return nil, g.submitErr
	}
	return g.submitResp, nil
}

func (g *stubGateway) GetTransactionStatus(context.Context, string) (*pesapal.TransactionStatus, error) {
	g.mu.Lock()
	g.statusCalls++
	g.mu.Unlock()
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	return g.statusResp, nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (d *recordingDispatcher) Notify(_ context.Context, event notifications.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

type stubDedupe struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (s *stubDedupe) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen == nil {
		s.seen = map[string]bool{}
	}
	if s.seen[key] {
		return false, nil
	}
	s.seen[key] = true
	return true, nil
}

func (s *stubDedupe) IdempotencyKey(scope, id string) string {
	return "dl:idempotency:" + scope + ":" + id
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Level: zerolog.ErrorLevel, Output: io.Discard})
}

func seedOrder(trackingID string) *models.Order {
	order := &models.Order{
		ID:                uuid.New(),
		OrderNumber:       "ORD-1700000000000-ABC123",
		Items:             types.OrderItems{{ProductRef: "p1", Name: "Widget", Quantity: 1, UnitPrice: decimal.NewFromInt(500)}},
		TotalAmount:       decimal.NewFromInt(500),
		Currency:          "KES",
		FulfillmentStatus: enums.FulfillmentStatusPending,
		PaymentStatus:     enums.PaymentStatusPending,
		ShippingDestination: types.ShippingDestination{
			FullName: "Jane Customer",
			Email:    "jane@example.com",
			Phone:    "+254700000001",
			Address:  "1 Market St",
		},
		Timeline: types.Timeline{{Status: "pending", Note: "Order created", ChangedAt: time.Now().UTC()}},
	}
	if trackingID != "" {
		order.TransactionTrackingID = &trackingID
	}
	return order
}

func newTestService(t *testing.T, repo *stubRepo, gateway *stubGateway, dispatcher notifications.Dispatcher) Service {
	t.Helper()
	svc, err := NewService(
		repo,
		gateway,
		dispatcher,
		&stubDedupe{},
		testLogger(),
		nil,
		config.PesapalConfig{Currency: "KES", CallbackURL: "https://shop.example.com/payments/callback", IPNID: "ipn-1"},
		config.RefreshConfig{MaxBulkOrders: 50, IPNDedupeWindow: 2 * time.Minute},
	)
	require.NoError(t, err)
	return svc
}

func TestRefreshIsIdempotent(t *testing.T) {
	order := seedOrder("trk-1")
	repo := newStubRepo(order)
	gateway := &stubGateway{statusResp: &pesapal.TransactionStatus{RawStatus: "COMPLETED"}}
	dispatcher := &recordingDispatcher{}
	svc := newTestService(t, repo, gateway, dispatcher)

	first, err := svc.Refresh(context.Background(), order.ID)
	require.NoError(t, err)
	assert.True(t, first.Changed)
	assert.Equal(t, enums.PaymentStatusPending, first.OldStatus)
	assert.Equal(t, enums.PaymentStatusPaid, first.NewStatus)

	second, err := svc.Refresh(context.Background(), order.ID)
	require.NoError(t, err)
	assert.False(t, second.Changed)
	assert.Equal(t, enums.PaymentStatusPaid, second.NewStatus)

	stored, err := repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPaid, stored.PaymentStatus)
	require.NotNil(t, stored.PaidAt)
	require.NotNil(t, stored.PaymentCompletedAt)
	assert.Nil(t, stored.TrackingNumber)

	// Second pass must not re-fire the confirmation.
	assert.Equal(t, 1, dispatcher.count())
	assert.Equal(t, enums.NotificationEventPaymentConfirmed, dispatcher.events[0].Type)
}

func TestRefreshBookkeepingOnUnknownStatus(t *testing.T) {
	order := seedOrder("trk-unknown")
	repo := newStubRepo(order)
	gateway := &stubGateway{statusResp: &pesapal.TransactionStatus{RawStatus: pesapal.StatusUnknown}}
	svc := newTestService(t, repo, gateway, &recordingDispatcher{})

	result, err := svc.Refresh(context.Background(), order.ID)
	require.NoError(t, err)
	assert.False(t, result.Changed)

	stored, err := repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, stored.PaymentStatus)
	require.NotNil(t, stored.TransactionStatus)
	assert.Equal(t, pesapal.StatusUnknown, *stored.TransactionStatus)
	assert.NotNil(t, stored.LastPaymentCheck)
}

func TestRefreshWithoutTrackingID(t *testing.T) {
	order := seedOrder("")
	repo := newStubRepo(order)
	svc := newTestService(t, repo, &stubGateway{}, &recordingDispatcher{})

	_, err := svc.Refresh(context.Background(), order.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	assert.Contains(t, err.Error(), "tracking id")
}

func TestHandleIPNCompleted(t *testing.T) {
	order := seedOrder("trk-ipn")
	timelineBefore := len(order.Timeline)
	repo := newStubRepo(order)
	gateway := &stubGateway{}
	dispatcher := &recordingDispatcher{}
	svc := newTestService(t, repo, gateway, dispatcher)

	ack := svc.HandleIPN(context.Background(), IPNPayload{
		OrderTrackingID:        "trk-ipn",
		OrderNotificationType:  "COMPLETED",
		OrderMerchantReference: order.OrderNumber,
	})

	assert.Equal(t, IPNAckReceived, ack.OrderNotificationType)
	assert.Equal(t, "success", ack.Status)
	assert.Equal(t, "trk-ipn", ack.OrderTrackingID)

	// Conclusive notification type skips the gateway round trip.
	assert.Equal(t, 0, gateway.statusCalls)

	stored, err := repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPaid, stored.PaymentStatus)
	require.NotNil(t, stored.PaidAt)
	assert.Nil(t, stored.TrackingNumber)
	assert.Len(t, stored.Timeline, timelineBefore+1)
}

func TestHandleIPNDuplicateIgnored(t *testing.T) {
	order := seedOrder("trk-dup")
	repo := newStubRepo(order)
	dispatcher := &recordingDispatcher{}
	svc := newTestService(t, repo, &stubGateway{}, dispatcher)

	payload := IPNPayload{OrderTrackingID: "trk-dup", OrderNotificationType: "COMPLETED"}
	first := svc.HandleIPN(context.Background(), payload)
	second := svc.HandleIPN(context.Background(), payload)

	assert.Equal(t, IPNAckReceived, first.OrderNotificationType)
	assert.Equal(t, IPNAckReceived, second.OrderNotificationType)
	assert.Equal(t, 1, dispatcher.count())
}

func TestHandleIPNUnknownOrder(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(t, repo, &stubGateway{}, &recordingDispatcher{})

	ack := svc.HandleIPN(context.Background(), IPNPayload{OrderTrackingID: "missing", OrderNotificationType: "COMPLETED"})
	assert.Equal(t, IPNAckError, ack.OrderNotificationType)
	assert.Equal(t, "error", ack.Status)
	assert.NotEmpty(t, ack.Error)
}

func TestHandleIPNUpdateRequeriesGateway(t *testing.T) {
	order := seedOrder("trk-upd")
	repo := newStubRepo(order)
	gateway := &stubGateway{statusResp: &pesapal.TransactionStatus{RawStatus: "Transaction Pending"}}
	svc := newTestService(t, repo, gateway, &recordingDispatcher{})

	ack := svc.HandleIPN(context.Background(), IPNPayload{OrderTrackingID: "trk-upd", OrderNotificationType: "UPDATE"})
	assert.Equal(t, IPNAckReceived, ack.OrderNotificationType)
	assert.Equal(t, 1, gateway.statusCalls)

	stored, err := repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, stored.PaymentStatus)
}

func TestHandleCallbackSuccess(t *testing.T) {
	order := seedOrder("trk-cb")
	repo := newStubRepo(order)
	gateway := &stubGateway{statusResp: &pesapal.TransactionStatus{RawStatus: "Completed Successfully"}}
	svc := newTestService(t, repo, gateway, &recordingDispatcher{})

	result, err := svc.HandleCallback(context.Background(), CallbackParams{TrackingID: "trk-cb"})
	require.NoError(t, err)
	assert.Equal(t, SignalSuccess, result.Signal)
	assert.Equal(t, order.OrderNumber, result.OrderNumber)
	assert.Equal(t, enums.PaymentStatusPaid, result.Status)
}

func TestHandleCallbackFallsBackToCompleted(t *testing.T) {
	order := seedOrder("trk-lenient")
	repo := newStubRepo(order)
	gateway := &stubGateway{statusErr: pkgerrors.New(pkgerrors.CodeDependency, "gateway unreachable")}
	svc := newTestService(t, repo, gateway, &recordingDispatcher{})

	result, err := svc.HandleCallback(context.Background(), CallbackParams{TrackingID: "trk-lenient"})
	require.NoError(t, err)
	assert.Equal(t, SignalSuccess, result.Signal)

	stored, err := repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPaid, stored.PaymentStatus)
}

func TestHandleCallbackWithoutTrackingID(t *testing.T) {
	order := seedOrder("") // never initiated, only a merchant reference to go on
	repo := newStubRepo(order)
	gateway := &stubGateway{}
	svc := newTestService(t, repo, gateway, &recordingDispatcher{})

	_, err := svc.HandleCallback(context.Background(), CallbackParams{MerchantReference: order.OrderNumber})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	assert.Equal(t, 0, gateway.statusCalls)

	stored, err := repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, stored.PaymentStatus)
}

func TestHandleCallbackMalformed(t *testing.T) {
	svc := newTestService(t, newStubRepo(), &stubGateway{}, &recordingDispatcher{})

	_, err := svc.HandleCallback(context.Background(), CallbackParams{})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestHandleCallbackFailedStatus(t *testing.T) {
	order := seedOrder("trk-failed")
	repo := newStubRepo(order)
	gateway := &stubGateway{statusResp: &pesapal.TransactionStatus{RawStatus: "Payment Cancelled by user"}}
	dispatcher := &recordingDispatcher{}
	svc := newTestService(t, repo, gateway, dispatcher)

	result, err := svc.HandleCallback(context.Background(), CallbackParams{TrackingID: "trk-failed"})
	require.NoError(t, err)
	assert.Equal(t, SignalFailed, result.Signal)

	require.Equal(t, 1, dispatcher.count())
	assert.Equal(t, enums.NotificationEventPaymentFailed, dispatcher.events[0].Type)
}

func TestRefreshFailedToPendingStaysQuiet(t *testing.T) {
	order := seedOrder("trk-retry")
	order.PaymentStatus = enums.PaymentStatusFailed
	timelineBefore := len(order.Timeline)
	repo := newStubRepo(order)
	gateway := &stubGateway{statusResp: &pesapal.TransactionStatus{RawStatus: "Transaction Pending"}}
	dispatcher := &recordingDispatcher{}
	svc := newTestService(t, repo, gateway, dispatcher)

	result, err := svc.Refresh(context.Background(), order.ID)
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, enums.PaymentStatusFailed, result.OldStatus)
	assert.Equal(t, enums.PaymentStatusPending, result.NewStatus)

	stored, err := repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, stored.PaymentStatus)
	assert.Len(t, stored.Timeline, timelineBefore+1)

	// Intermediate statuses are not a settled outcome for the customer.
	assert.Equal(t, 0, dispatcher.count())
}

func TestRefreshBulkIsolatesFailures(t *testing.T) {
	first := seedOrder("trk-b1")
	second := seedOrder("") // no tracking id
	second.OrderNumber = "ORD-1700000000001-DEF456"
	third := seedOrder("trk-b3")
	third.OrderNumber = "ORD-1700000000002-GHI789"
	repo := newStubRepo(first, second, third)
	gateway := &stubGateway{statusResp: &pesapal.TransactionStatus{RawStatus: "COMPLETED"}}
	svc := newTestService(t, repo, gateway, &recordingDispatcher{})

	result, err := svc.RefreshBulk(context.Background(), []uuid.UUID{first.ID, second.ID, third.ID})
	require.NoError(t, err)
	require.Len(t, result.Results, 3)
	assert.Equal(t, 1, result.Failed)

	assert.True(t, result.Results[0].Success)
	assert.Equal(t, enums.PaymentStatusPaid, result.Results[0].NewStatus)

	assert.False(t, result.Results[1].Success)
	assert.Contains(t, result.Results[1].Error, "tracking id")

	assert.True(t, result.Results[2].Success)
	assert.Equal(t, enums.PaymentStatusPaid, result.Results[2].NewStatus)
}

func TestRefreshBulkBounded(t *testing.T) {
	svc, err := NewService(
		newStubRepo(), &stubGateway{}, &recordingDispatcher{}, &stubDedupe{}, testLogger(), nil,
		config.PesapalConfig{Currency: "KES"},
		config.RefreshConfig{MaxBulkOrders: 2, IPNDedupeWindow: time.Minute},
	)
	require.NoError(t, err)

	_, err = svc.RefreshBulk(context.Background(), []uuid.UUID{uuid.New(), uuid.New(), uuid.New()})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestInitiatePayment(t *testing.T) {
	order := seedOrder("")
	repo := newStubRepo(order)
	gateway := &stubGateway{submitResp: &pesapal.SubmitResponse{
		PaymentURL:         "https://pay.example.com/checkout/abc",
		ProviderTrackingID: "trk-new",
	}}
	svc := newTestService(t, repo, gateway, &recordingDispatcher{})

	result, err := svc.InitiatePayment(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, "trk-new", result.TrackingID)
	assert.Equal(t, "https://pay.example.com/checkout/abc", result.PaymentURL)

	stored, err := repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.TransactionTrackingID)
	assert.Equal(t, "trk-new", *stored.TransactionTrackingID)
}

func TestInitiatePaymentRejectsPaidOrder(t *testing.T) {
	order := seedOrder("")
	order.PaymentStatus = enums.PaymentStatusPaid
	repo := newStubRepo(order)
	svc := newTestService(t, repo, &stubGateway{}, &recordingDispatcher{})

	_, err := svc.InitiatePayment(context.Background(), order.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))
}

func TestExtractCallbackParams(t *testing.T) {
	body := map[string]any{"OrderTrackingId": "from-body", "merchantReference": "REF-1"}
	query := url.Values{"OrderTrackingId": {"from-query"}, "OrderMerchantReference": {"REF-2"}}

	params := ExtractCallbackParams(body, query)
	assert.Equal(t, "from-body", params.TrackingID)
	assert.Equal(t, "REF-1", params.MerchantReference)

	params = ExtractCallbackParams(nil, query)
	assert.Equal(t, "from-query", params.TrackingID)
	assert.Equal(t, "REF-2", params.MerchantReference)
}
