package pesapal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/briankimutai/dukalink-backend/pkg/config"
	pkgerrors "github.com/briankimutai/dukalink-backend/pkg/errors"
	"github.com/briankimutai/dukalink-backend/pkg/logger"
	"github.com/briankimutai/dukalink-backend/pkg/metrics"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"

	// StatusUnknown is the sentinel raw status returned when the gateway
	// cannot resolve a transaction. Callers treat it as "no change", never
	// as a failure.
	StatusUnknown = "UNKNOWN"

	tokenPath        = "/api/Auth/RequestToken"
	submitOrderPath  = "/api/Transactions/SubmitOrderRequest"
	statusPath       = "/api/Transactions/GetTransactionStatus"
	registerIPNPath  = "/api/URLSetup/RegisterIPN"
	tokenExpirySkew  = 30 * time.Second
	defaultTokenLife = 5 * time.Minute
)

var (
	errConsumerKeyRequired    = errors.New("pesapal consumer key is required")
	errConsumerSecretRequired = errors.New("pesapal consumer secret is required")
	errLoggerRequired         = errors.New("pesapal logger is required")
	errInvalidPesapalEnv      = fmt.Errorf("pesapal environment must be %q or %q", sandboxEnv, productionEnv)
)

var baseURLs = map[string]string{
	sandboxEnv:    "https://cybqa.pesapal.com/pesapalv3",
	productionEnv: "https://pay.pesapal.com/v3",
}

// Client wraps the hosted payment gateway with centralized auth, logging,
// redaction, and error mapping. It holds no order state.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	environment    string
	consumerKey    string
	consumerSecret string
	maxAttempts    int
	retryBackoff   time.Duration
	logger         *logger.Logger
	metrics        *metrics.ReconciliationMetrics

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// SubmitOrderParams carries one payment request toward the gateway.
type SubmitOrderParams struct {
	MerchantReference string
	Amount            decimal.Decimal
	Currency          string
	Description       string
	Phone             string
	Email             string
	CallbackURL       string
	NotificationID    string
}

// SubmitResponse is the gateway's answer to a payment request.
type SubmitResponse struct {
	PaymentURL         string
	ProviderTrackingID string
}

// TransactionStatus is the gateway's view of one transaction. RawStatus is the
// provider's status description verbatim; mapping to the internal enum happens
// in the reconciliation engine.
type TransactionStatus struct {
	RawStatus string
	Method    string
	Amount    decimal.Decimal
	Currency  string
}

// NewClient initializes the gateway wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.PesapalConfig, logg *logger.Logger, m *metrics.ReconciliationMetrics) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	key := strings.TrimSpace(cfg.ConsumerKey)
	if key == "" {
		return nil, errConsumerKeyRequired
	}
	secret := strings.TrimSpace(cfg.ConsumerSecret)
	if secret == "" {
		return nil, errConsumerSecretRequired
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = baseURLs[env]
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	attempts := cfg.TokenMaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := cfg.TokenRetryBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	c := &Client{
		httpClient:     &http.Client{Timeout: timeout},
		baseURL:        strings.TrimRight(baseURL, "/"),
		environment:    env,
		consumerKey:    key,
		consumerSecret: secret,
		maxAttempts:    attempts,
		retryBackoff:   backoff,
		logger:         logg,
		metrics:        m,
	}

	logg.Info(ctx, "pesapal client initialized")
	return c, nil
}

// Environment reports the normalized gateway environment.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// SubmitOrder submits a payment request and returns the hosted checkout URL
// plus the provider-side tracking id.
func (c *Client) SubmitOrder(ctx context.Context, params SubmitOrderParams) (*SubmitResponse, error) {
	c.log(ctx, "request", "submit_order", map[string]any{
		"merchant_reference": params.MerchantReference,
		"amount":             params.Amount.String(),
		"currency":           params.Currency,
		"phone":              params.Phone,
		"email":              params.Email,
	})

	amount, _ := params.Amount.Round(2).Float64()
	body := map[string]any{
		"id":              params.MerchantReference,
		"currency":        params.Currency,
		"amount":          amount,
		"description":     params.Description,
		"callback_url":    params.CallbackURL,
		"notification_id": params.NotificationID,
		"billing_address": map[string]any{
			"email_address": params.Email,
			"phone_number":  params.Phone,
		},
	}

	var payload struct {
		OrderTrackingID string        `json:"order_tracking_id"`
		RedirectURL     string        `json:"redirect_url"`
		Status          string        `json:"status"`
		Error           *gatewayError `json:"error"`
	}
	if err := c.doAuthed(ctx, http.MethodPost, submitOrderPath, "", body, &payload); err != nil {
		c.log(ctx, "error", "submit_order", map[string]any{"error": err.Error()})
		return nil, err
	}
	if payload.Error != nil && payload.Error.Code != "" {
		err := c.mapGatewayError(payload.Error, "submit order")
		c.log(ctx, "error", "submit_order", map[string]any{"error": err.Error()})
		return nil, err
	}
	if payload.OrderTrackingID == "" || payload.RedirectURL == "" {
		err := pkgerrors.New(pkgerrors.CodeDependency, "gateway returned no tracking id")
		c.log(ctx, "error", "submit_order", map[string]any{"error": err.Error()})
		return nil, err
	}

	c.log(ctx, "response", "submit_order", map[string]any{
		"order_tracking_id": payload.OrderTrackingID,
	})
	return &SubmitResponse{
		PaymentURL:         payload.RedirectURL,
		ProviderTrackingID: payload.OrderTrackingID,
	}, nil
}

// GetTransactionStatus queries the provider for one transaction. An unresolved
// transaction yields RawStatus == StatusUnknown rather than an error.
func (c *Client) GetTransactionStatus(ctx context.Context, trackingID string) (*TransactionStatus, error) {
	trackingID = strings.TrimSpace(trackingID)
	if trackingID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tracking id is required")
	}

	c.log(ctx, "request", "get_transaction_status", map[string]any{"order_tracking_id": trackingID})

	var payload struct {
		PaymentMethod            string        `json:"payment_method"`
		Amount                   float64       `json:"amount"`
		Currency                 string        `json:"currency"`
		PaymentStatusDescription string        `json:"payment_status_description"`
		Error                    *gatewayError `json:"error"`
	}
	query := "?orderTrackingId=" + trackingID
	if err := c.doAuthed(ctx, http.MethodGet, statusPath, query, nil, &payload); err != nil {
		c.log(ctx, "error", "get_transaction_status", map[string]any{"error": err.Error()})
		return nil, err
	}

	raw := strings.TrimSpace(payload.PaymentStatusDescription)
	if raw == "" {
		// The provider answers 200 with an error body for transactions it
		// cannot resolve; reconciliation treats that as "no change".
		raw = StatusUnknown
	}

	c.log(ctx, "response", "get_transaction_status", map[string]any{
		"order_tracking_id": trackingID,
		"status":            raw,
	})
	return &TransactionStatus{
		RawStatus: raw,
		Method:    payload.PaymentMethod,
		Amount:    decimal.NewFromFloat(payload.Amount),
		Currency:  payload.Currency,
	}, nil
}

// RegisterIPN registers the notification endpoint with the provider and
// returns the ipn id required on subsequent payment submissions.
func (c *Client) RegisterIPN(ctx context.Context, url string) (string, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "ipn url is required")
	}

	c.log(ctx, "request", "register_ipn", map[string]any{"url": url})

	body := map[string]any{
		"url":                   url,
		"ipn_notification_type": "POST",
	}
	var payload struct {
		IPNID string        `json:"ipn_id"`
		Error *gatewayError `json:"error"`
	}
	if err := c.doAuthed(ctx, http.MethodPost, registerIPNPath, "", body, &payload); err != nil {
		c.log(ctx, "error", "register_ipn", map[string]any{"error": err.Error()})
		return "", err
	}
	if payload.Error != nil && payload.Error.Code != "" {
		err := c.mapGatewayError(payload.Error, "register ipn")
		c.log(ctx, "error", "register_ipn", map[string]any{"error": err.Error()})
		return "", err
	}
	if payload.IPNID == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "gateway returned no ipn id")
	}

	c.log(ctx, "response", "register_ipn", map[string]any{"ipn_id": payload.IPNID})
	return payload.IPNID, nil
}

// accessToken returns a cached bearer token, refreshing it with bounded
// exponential backoff when missing or near expiry.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry.Add(-tokenExpirySkew)) {
		return c.token, nil
	}

	backoff := retry.WithMaxRetries(uint64(c.maxAttempts-1), retry.NewExponential(c.retryBackoff))
	var lastErr error
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		token, expiry, err := c.requestToken(ctx)
		if err != nil {
			lastErr = err
			if pkgerrors.HasCode(err, pkgerrors.CodeGatewayAuth) {
				// Bad credentials never heal on retry.
				return err
			}
			return retry.RetryableError(err)
		}
		c.token = token
		c.tokenExpiry = expiry
		return nil
	})
	if err != nil {
		if lastErr != nil {
			return "", lastErr
		}
		return "", err
	}
	return c.token, nil
}

func (c *Client) requestToken(ctx context.Context) (string, time.Time, error) {
	body := map[string]any{
		"consumer_key":    c.consumerKey,
		"consumer_secret": c.consumerSecret,
	}
	var payload struct {
		Token      string        `json:"token"`
		ExpiryDate string        `json:"expiryDate"`
		Error      *gatewayError `json:"error"`
	}
	if err := c.do(ctx, http.MethodPost, tokenPath, "", "", body, &payload); err != nil {
		return "", time.Time{}, err
	}
	if payload.Error != nil && payload.Error.Code != "" {
		return "", time.Time{}, pkgerrors.Wrap(pkgerrors.CodeGatewayAuth, payload.Error, "gateway rejected credentials")
	}
	if payload.Token == "" {
		return "", time.Time{}, pkgerrors.New(pkgerrors.CodeGatewayAuth, "gateway returned empty token")
	}

	expiry := time.Now().Add(defaultTokenLife)
	if payload.ExpiryDate != "" {
		if parsed, err := time.Parse(time.RFC3339, payload.ExpiryDate); err == nil {
			expiry = parsed
		}
	}
	return payload.Token, expiry, nil
}

func (c *Client) doAuthed(ctx context.Context, method, path, query string, body, dest any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	return c.do(ctx, method, path, query, token, body, dest)
}

func (c *Client) do(ctx context.Context, method, path, query, token string, body, dest any) error {
	op := strings.TrimLeft(path, "/")
	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.ObserveGateway(op, time.Since(start))
		}
	}()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode gateway request")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+query, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build gateway request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "gateway unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read gateway response")
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return pkgerrors.New(pkgerrors.CodeGatewayAuth, "gateway rejected credentials")
	case resp.StatusCode >= 500:
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("gateway returned %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("gateway rejected request with %d", resp.StatusCode))
	}

	if dest != nil {
		if err := json.Unmarshal(raw, dest); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode gateway response")
		}
	}
	return nil
}

type gatewayError struct {
	ErrorType string `json:"error_type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func (g *gatewayError) Error() string {
	if g == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", g.Code, g.Message)
}

func (c *Client) mapGatewayError(gwErr *gatewayError, op string) error {
	if gwErr == nil {
		return nil
	}
	msg := strings.ToLower(gwErr.Message + " " + gwErr.Code)
	switch {
	case strings.Contains(msg, "amount") && strings.Contains(msg, "limit"),
		strings.Contains(msg, "maximum_amount"),
		strings.Contains(msg, "exceeds"):
		return pkgerrors.Wrap(pkgerrors.CodeAmountLimit, gwErr, fmt.Sprintf("pesapal %s failed", op))
	case strings.Contains(msg, "auth"), strings.Contains(msg, "token"), strings.Contains(msg, "credential"):
		return pkgerrors.Wrap(pkgerrors.CodeGatewayAuth, gwErr, fmt.Sprintf("pesapal %s failed", op))
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, gwErr, fmt.Sprintf("pesapal %s failed", op))
	}
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = c.redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("pesapal %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("pesapal %s", phase))
	}
}

func (c *Client) redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"secret", "token", "key", "email", "phone"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = sandboxEnv
	}
	switch env {
	case sandboxEnv, productionEnv:
		return env, nil
	default:
		return "", errInvalidPesapalEnv
	}
}
