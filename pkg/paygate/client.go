// Package paygate is a REST client for the card and PromptPay charge API
// (Omise-compatible). Requests authenticate with the secret key over basic
// auth and carry an Idempotency-Key so retried charges are never duplicated.
package paygate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const (
	ChargeStatusPending    = "pending"
	ChargeStatusSuccessful = "successful"
	ChargeStatusFailed     = "failed"
	ChargeStatusExpired    = "expired"
	ChargeStatusReversed   = "reversed"

	sourceTypePromptPay = "promptpay"
	metadataOrderKey    = "order_id"
)

var (
	errSecretKeyRequired = errors.New("paygate secret key is required")
	errBaseURLRequired   = errors.New("paygate base url is required")
)

// Charge mirrors the gateway's charge object.
type Charge struct {
	Object         string            `json:"object"`
	ID             string            `json:"id"`
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	Status         string            `json:"status"`
	Paid           bool              `json:"paid"`
	FailureCode    *string           `json:"failure_code"`
	FailureMessage *string           `json:"failure_message"`
	Metadata       map[string]string `json:"metadata"`
	Source         *Source           `json:"source"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Source is the payment source attached to a PromptPay charge.
type Source struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	ScannableCode *ScannableCode `json:"scannable_code"`
}

type ScannableCode struct {
	Image struct {
		DownloadURI string `json:"download_uri"`
	} `json:"image"`
}

// ImageURL returns the QR image location, if any.
func (c *Charge) ImageURL() string {
	if c == nil || c.Source == nil || c.Source.ScannableCode == nil {
		return ""
	}
	return c.Source.ScannableCode.Image.DownloadURI
}

// Reason returns the failure message, falling back to the failure code.
func (c *Charge) Reason() string {
	if c == nil {
		return ""
	}
	if c.FailureMessage != nil && *c.FailureMessage != "" {
		return *c.FailureMessage
	}
	if c.FailureCode != nil {
		return *c.FailureCode
	}
	return ""
}

type searchResult struct {
	Object string   `json:"object"`
	Data   []Charge `json:"data"`
}

// APIError is the gateway's error body.
type APIError struct {
	Object     string `json:"object"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paygate %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Temporary reports whether retrying later may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// ChargeParams describes a card charge.
type ChargeParams struct {
	AmountCents    int64
	Currency       string
	CardToken      string
	OrderID        string
	Description    string
	IdempotencyKey string
}

// PromptPayParams describes a PromptPay QR charge.
type PromptPayParams struct {
	AmountCents    int64
	Currency       string
	OrderID        string
	IdempotencyKey string
}

type Client struct {
	http   *resty.Client
	logger *logger.Logger
}

// NewClient builds a client from the payment configuration.
func NewClient(cfg config.PaymentConfig, logg *logger.Logger) (*Client, error) {
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" {
		return nil, errSecretKeyRequired
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetBasicAuth(secret, "").
		SetHeader("Accept", "application/json")
	return &Client{http: httpClient, logger: logg}, nil
}

// CreateCharge charges a tokenized card.
func (c *Client) CreateCharge(ctx context.Context, params ChargeParams) (*Charge, error) {
	form := map[string]string{
		"amount":   strconv.FormatInt(params.AmountCents, 10),
		"currency": strings.ToLower(params.Currency),
		"card":     params.CardToken,
	}
	if params.Description != "" {
		form["description"] = params.Description
	}
	if params.OrderID != "" {
		form["metadata["+metadataOrderKey+"]"] = params.OrderID
	}
	return c.postCharge(ctx, "create_charge", params.IdempotencyKey, params.OrderID, form)
}

// CreatePromptPayCharge opens a pending charge whose source carries the QR image.
func (c *Client) CreatePromptPayCharge(ctx context.Context, params PromptPayParams) (*Charge, error) {
	form := map[string]string{
		"amount":       strconv.FormatInt(params.AmountCents, 10),
		"currency":     strings.ToLower(params.Currency),
		"source[type]": sourceTypePromptPay,
	}
	if params.OrderID != "" {
		form["metadata["+metadataOrderKey+"]"] = params.OrderID
	}
	return c.postCharge(ctx, "create_promptpay_charge", params.IdempotencyKey, params.OrderID, form)
}

// GetCharge fetches the authoritative charge state.
func (c *Client) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	var charge Charge
	var apiErr APIError
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", chargeID).
		SetResult(&charge).
		SetError(&apiErr).
		Get("/charges/{id}")
	if err := c.check(ctx, "get_charge", resp, err, &apiErr); err != nil {
		return nil, err
	}
	return &charge, nil
}

// FindChargeByOrder searches for the newest charge tagged with the order id.
// It returns nil when none exists.
func (c *Client) FindChargeByOrder(ctx context.Context, orderID string) (*Charge, error) {
	var result searchResult
	var apiErr APIError
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"scope": "charge",
			"query": orderID,
			"order": "reverse_chronological",
		}).
		SetResult(&result).
		SetError(&apiErr).
		Get("/search")
	if err := c.check(ctx, "search_charges", resp, err, &apiErr); err != nil {
		return nil, err
	}
	for i := range result.Data {
		if result.Data[i].Metadata[metadataOrderKey] == orderID {
			return &result.Data[i], nil
		}
	}
	return nil, nil
}

func (c *Client) postCharge(ctx context.Context, op, idempotencyKey, orderID string, form map[string]string) (*Charge, error) {
	var charge Charge
	var apiErr APIError
	req := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&charge).
		SetError(&apiErr)
	if idempotencyKey != "" {
		req.SetHeader("Idempotency-Key", idempotencyKey)
	}
	c.log(ctx, op, map[string]any{"order_id": orderID, "amount": form["amount"]})
	resp, err := req.Post("/charges")
	if err := c.check(ctx, op, resp, err, &apiErr); err != nil {
		return nil, err
	}
	c.log(ctx, op, map[string]any{"order_id": orderID, "charge_id": charge.ID, "status": charge.Status})
	return &charge, nil
}

func (c *Client) check(ctx context.Context, op string, resp *resty.Response, err error, apiErr *APIError) error {
	if err != nil {
		c.logError(ctx, op, err)
		return fmt.Errorf("paygate %s: %w", op, err)
	}
	if resp.IsError() {
		apiErr.StatusCode = resp.StatusCode()
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(resp.String())
		}
		c.logError(ctx, op, apiErr)
		return apiErr
	}
	return nil
}

func (c *Client) log(ctx context.Context, op string, fields map[string]any) {
	if c.logger == nil {
		return
	}
	fields["operation"] = op
	c.logger.Info(c.logger.WithFields(ctx, fields), "paygate "+op)
}

func (c *Client) logError(ctx context.Context, op string, err error) {
	if c.logger == nil {
		return
	}
	c.logger.Error(c.logger.WithField(ctx, "operation", op), "paygate "+op+" failed", err)
}
