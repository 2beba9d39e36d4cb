package payments

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalpayments "github.com/briankimutai/dukalink-backend/internal/payments"
	pkgerrors "github.com/briankimutai/dukalink-backend/pkg/errors"
	"github.com/briankimutai/dukalink-backend/pkg/logger"
)

type stubService struct {
	callbackResult *internalpayments.CallbackResult
	callbackErr    error
	callbackParams internalpayments.CallbackParams
	ipnAck         *internalpayments.IPNAck
	ipnPayload     internalpayments.IPNPayload
}

func (s *stubService) InitiatePayment(context.Context, uuid.UUID) (*internalpayments.InitiateResult, error) {
	return nil, pkgerrors.New(pkgerrors.CodeInternal, "not implemented")
}

func (s *stubService) HandleCallback(_ context.Context, params internalpayments.CallbackParams) (*internalpayments.CallbackResult, error) {
	s.callbackParams = params
	return s.callbackResult, s.callbackErr
}

func (s *stubService) HandleIPN(_ context.Context, payload internalpayments.IPNPayload) *internalpayments.IPNAck {
	s.ipnPayload = payload
	return s.ipnAck
}

func (s *stubService) Refresh(context.Context, uuid.UUID) (*internalpayments.RefreshResult, error) {
	return nil, pkgerrors.New(pkgerrors.CodeInternal, "not implemented")
}

func (s *stubService) RefreshBulk(context.Context, []uuid.UUID) (*internalpayments.BulkRefreshResult, error) {
	return nil, pkgerrors.New(pkgerrors.CodeInternal, "not implemented")
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Level: zerolog.ErrorLevel, Output: io.Discard})
}

func TestCallbackRelaysSignal(t *testing.T) {
	svc := &stubService{callbackResult: &internalpayments.CallbackResult{Signal: internalpayments.SignalSuccess}}
	handler := Callback(svc, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/payments/callback?OrderTrackingId=trk-1&OrderMerchantReference=ORD-1", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "pesapal-payment-success")
	assert.Contains(t, rec.Body.String(), "postMessage")
	assert.Equal(t, "trk-1", svc.callbackParams.TrackingID)
	assert.Equal(t, "ORD-1", svc.callbackParams.MerchantReference)
}

func TestCallbackBodyWinsOverQuery(t *testing.T) {
	svc := &stubService{callbackResult: &internalpayments.CallbackResult{Signal: internalpayments.SignalPending}}
	handler := Callback(svc, testLogger())

	body := `{"OrderTrackingId":"from-body"}`
	req := httptest.NewRequest(http.MethodPost, "/payments/callback?OrderTrackingId=from-query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Contains(t, rec.Body.String(), "pesapal-payment-pending")
	assert.Equal(t, "from-body", svc.callbackParams.TrackingID)
}

func TestCallbackFailureStillRendersPage(t *testing.T) {
	svc := &stubService{callbackErr: pkgerrors.New(pkgerrors.CodeNotFound, "order not found")}
	handler := Callback(svc, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/payments/callback", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pesapal-payment-failed")
}

func TestIPNWritesAck(t *testing.T) {
	svc := &stubService{ipnAck: &internalpayments.IPNAck{
		Status:                "success",
		OrderNotificationType: internalpayments.IPNAckReceived,
		OrderTrackingID:       "trk-9",
	}}
	handler := IPN(svc, testLogger())

	body := `{"OrderTrackingId":"trk-9","OrderNotificationType":"COMPLETED","OrderMerchantReference":"ORD-9"}`
	req := httptest.NewRequest(http.MethodPost, "/payments/ipn", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var ack internalpayments.IPNAck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, "success", ack.Status)
	assert.Equal(t, "IPNRES", ack.OrderNotificationType)
	assert.Equal(t, "trk-9", ack.OrderTrackingID)

	// The envelope keys mirror the inbound payload's casing.
	assert.Contains(t, rec.Body.String(), `"OrderNotificationType"`)
	assert.Contains(t, rec.Body.String(), `"OrderTrackingId"`)
	assert.Contains(t, rec.Body.String(), `"Status"`)

	assert.Equal(t, "trk-9", svc.ipnPayload.OrderTrackingID)
	assert.Equal(t, "COMPLETED", svc.ipnPayload.OrderNotificationType)
}

func TestIPNAcceptsQueryParameters(t *testing.T) {
	svc := &stubService{ipnAck: &internalpayments.IPNAck{Status: "success", OrderNotificationType: internalpayments.IPNAckReceived}}
	handler := IPN(svc, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/payments/ipn?OrderTrackingId=trk-q&OrderNotificationType=UPDATE", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "trk-q", svc.ipnPayload.OrderTrackingID)
	assert.Equal(t, "UPDATE", svc.ipnPayload.OrderNotificationType)
}
