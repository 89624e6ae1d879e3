package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config represents payment gateway configuration
type Config struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	SuccessURL     string        `yaml:"success_url"`
	CancelURL      string        `yaml:"cancel_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// CheckoutSession is the gateway's hosted checkout session.
type CheckoutSession struct {
	ExternalReference string `json:"external_reference"`
	CheckoutURL       string `json:"checkout_url"`
}

// CheckoutRequest describes the purchase a checkout session is created
// for. The idempotency key makes retried creation safe on the gateway
// side.
type CheckoutRequest struct {
	PurchaseID     string
	CreatorID      string
	Description    string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
}

// Client talks to the payment gateway's checkout API. Latency and
// availability of the gateway are outside this service's control; every
// call is bounded by the configured timeout.
type Client interface {
	CreateCheckoutSession(ctx context.Context, req *CheckoutRequest) (*CheckoutSession, error)
}

// HTTPClient implements Client against the gateway's REST API.
type HTTPClient struct {
	config     *Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new payment gateway client
func NewClient(cfg *Config, logger *zap.Logger) *HTTPClient {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		config:     cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type checkoutPayload struct {
	Reference   string `json:"reference"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	SuccessURL  string `json:"success_url"`
	CancelURL   string `json:"cancel_url"`
	Metadata    struct {
		PurchaseID string `json:"purchase_id"`
		CreatorID  string `json:"creator_id"`
	} `json:"metadata"`
}

// CreateCheckoutSession creates a hosted checkout session for a block
// purchase and returns the URL the creator is redirected to.
func (c *HTTPClient) CreateCheckoutSession(ctx context.Context, req *CheckoutRequest) (*CheckoutSession, error) {
	c.logger.Info("Creating checkout session",
		zap.String("purchase_id", req.PurchaseID),
		zap.String("amount", req.Amount.String()),
	)

	payload := checkoutPayload{
		Reference:   req.PurchaseID,
		Description: req.Description,
		Amount:      req.Amount.StringFixed(2),
		Currency:    req.Currency,
		SuccessURL:  c.config.SuccessURL,
		CancelURL:   c.config.CancelURL,
	}
	payload.Metadata.PurchaseID = req.PurchaseID
	payload.Metadata.CreatorID = req.CreatorID

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkout payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/v1/checkout/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build checkout request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("checkout request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("checkout session creation returned status %d", resp.StatusCode)
	}

	var session CheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("failed to decode checkout response: %w", err)
	}
	if session.CheckoutURL == "" {
		return nil, fmt.Errorf("gateway returned empty checkout URL")
	}

	c.logger.Info("Checkout session created",
		zap.String("purchase_id", req.PurchaseID),
		zap.String("external_reference", session.ExternalReference),
	)
	return &session, nil
}
