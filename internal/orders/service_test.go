package orders

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/briankimutai/dukalink-backend/pkg/db/models"
	"github.com/briankimutai/dukalink-backend/pkg/enums"
	pkgerrors "github.com/briankimutai/dukalink-backend/pkg/errors"
	"github.com/briankimutai/dukalink-backend/pkg/types"
)

var orderNumberPattern = regexp.MustCompile(`^ORD-\d+-[A-Z0-9]{6}$`)

type stubRepo struct {
	mu         sync.Mutex
	orders     map[uuid.UUID]*models.Order
	createErrs []error
}

func newStubRepo(seed ...*models.Order) *stubRepo {
	repo := &stubRepo{orders: map[uuid.UUID]*models.Order{}}
	for _, order := range seed {
		clone := *order
		repo.orders[order.ID] = &clone
	}
	return repo
}

func (r *stubRepo) WithTx(*gorm.DB) Repository { return r }

func (r *stubRepo) Create(_ context.Context, order *models.Order) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.createErrs) > 0 {
		err := r.createErrs[0]
		r.createErrs = r.createErrs[1:]
		if err != nil {
			return nil, err
		}
	}
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

func (r *stubRepo) FindByOrderNumber(context.Context, string) (*models.Order, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *stubRepo) FindByTrackingID(context.Context, string) (*models.Order, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *stubRepo) UpdateCAS(context.Context, uuid.UUID, int64, map[string]any) error {
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

func validInput() CreateInput {
	return CreateInput{
		Items: types.OrderItems{
			{ProductRef: "p1", Name: "Widget", Quantity: 2, UnitPrice: decimal.NewFromInt(250)},
		},
		Destination: types.ShippingDestination{
			FullName: "Jane Customer",
			Email:    "jane@example.com",
			Phone:    "+254700000001",
			Address:  "1 Market St",
		},
		TotalAmount: decimal.NewFromInt(500),
	}
}

func TestCreateOrder(t *testing.T) {
	repo := newStubRepo()
	svc, err := NewService(repo, "KES")
	require.NoError(t, err)

	order, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)

	assert.Regexp(t, orderNumberPattern, order.OrderNumber)
	assert.Equal(t, enums.FulfillmentStatusPending, order.FulfillmentStatus)
	assert.Equal(t, enums.PaymentStatusPending, order.PaymentStatus)
	assert.Equal(t, "KES", order.Currency)
	require.Len(t, order.Timeline, 1)
	assert.Equal(t, "Order created", order.Timeline[0].Note)
}

func TestCreateOrderFlowVariants(t *testing.T) {
	cases := []struct {
		flow CheckoutFlow
		want enums.FulfillmentStatus
	}{
		{CheckoutFlowStandard, enums.FulfillmentStatusPending},
		{CheckoutFlowSplitPayment, enums.FulfillmentStatusPendingSplitPayment},
		{CheckoutFlowBankTransfer, enums.FulfillmentStatusPendingBankTransfer},
	}

	svc, err := NewService(newStubRepo(), "KES")
	require.NoError(t, err)

	for _, tc := range cases {
		t.Run(string(tc.flow), func(t *testing.T) {
			input := validInput()
			input.Flow = tc.flow
			order, err := svc.Create(context.Background(), input)
			require.NoError(t, err)
			assert.Equal(t, tc.want, order.FulfillmentStatus)
		})
	}
}

func TestCreateOrderValidation(t *testing.T) {
	svc, err := NewService(newStubRepo(), "KES")
	require.NoError(t, err)

	t.Run("no items", func(t *testing.T) {
		input := validInput()
		input.Items = nil
		_, err := svc.Create(context.Background(), input)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	})

	t.Run("zero quantity", func(t *testing.T) {
		input := validInput()
		input.Items[0].Quantity = 0
		_, err := svc.Create(context.Background(), input)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	})

	t.Run("negative total", func(t *testing.T) {
		input := validInput()
		input.TotalAmount = decimal.NewFromInt(-1)
		_, err := svc.Create(context.Background(), input)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	})

	t.Run("incomplete destination", func(t *testing.T) {
		input := validInput()
		input.Destination.Phone = ""
		_, err := svc.Create(context.Background(), input)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	})
}

func TestCreateOrderRetriesNumberCollision(t *testing.T) {
	repo := newStubRepo()
	repo.createErrs = []error{errors.New(`duplicate key value violates unique constraint "orders_order_number_key"`)}
	svc, err := NewService(repo, "KES")
	require.NoError(t, err)

	order, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)
	assert.Regexp(t, orderNumberPattern, order.OrderNumber)
}

func TestCreateOrderRepeatedCollisionConflicts(t *testing.T) {
	dup := errors.New(`duplicate key value violates unique constraint "orders_order_number_key"`)
	repo := newStubRepo()
	repo.createErrs = []error{dup, dup}
	svc, err := NewService(repo, "KES")
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), validInput())
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict))
}

func TestDeleteRejectsPaidOrder(t *testing.T) {
	order := &models.Order{
		ID:            uuid.New(),
		OrderNumber:   "ORD-1700000000000-ABC123",
		PaymentStatus: enums.PaymentStatusPaid,
	}
	repo := newStubRepo(order)
	svc, err := NewService(repo, "KES")
	require.NoError(t, err)

	err = svc.Delete(context.Background(), order.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))

	// Still there.
	_, err = repo.FindByID(context.Background(), order.ID)
	assert.NoError(t, err)
}

func TestDeleteUnpaidOrder(t *testing.T) {
	order := &models.Order{
		ID:            uuid.New(),
		OrderNumber:   "ORD-1700000000000-ABC123",
		PaymentStatus: enums.PaymentStatusPending,
	}
	repo := newStubRepo(order)
	svc, err := NewService(repo, "KES")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), order.ID))

	_, err = svc.Get(context.Background(), order.ID)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestGenerateIdentifiers(t *testing.T) {
	assert.Regexp(t, orderNumberPattern, GenerateOrderNumber())
	assert.Regexp(t, regexp.MustCompile(`^TRK-\d+-[A-Z0-9]{6}$`), GenerateTrackingNumber())
}
