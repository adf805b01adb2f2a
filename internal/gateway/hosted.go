package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/freshmart-checkout/internal/domain/order"
)

// HostedConfig configures the hosted-checkout (card redirect) gateway client.
type HostedConfig struct {
	BaseURL    string
	SecretKey  string
	SuccessURL string
	CancelURL  string
	HTTP       *http.Client
}

// Hosted integrates a hosted-checkout provider: Initiate creates a checkout
// session and hands the client a redirect URL; Confirm retrieves the session
// once by its id. The provider settles the card payment on its own pages, so
// confirmation is a single lookup on the success callback, not a poll loop.
type Hosted struct {
	baseURL    string
	secretKey  string
	successURL string
	cancelURL  string
	http       *http.Client
}

var _ Gateway = (*Hosted)(nil)

// NewHosted creates a hosted-checkout gateway from config.
func NewHosted(cfg HostedConfig) (*Hosted, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("hosted gateway config incomplete")
	}
	hc := cfg.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Hosted{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:  cfg.SecretKey,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		http:       hc,
	}, nil
}

func (h *Hosted) Method() order.PaymentMethod { return order.MethodHosted }

type checkoutSession struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	PaymentStatus string `json:"payment_status"`
	Status        string `json:"status"`
	PaymentIntent string `json:"payment_intent"`
	ErrorMessage  string `json:"error_message"`
}

type refundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Initiate creates a checkout session for the amount and returns the hosted
// page URL the client must be redirected to.
func (h *Hosted) Initiate(ctx context.Context, req InitiateRequest) (*Initiation, error) {
	body := map[string]any{
		"mode":        "payment",
		"amount":      req.Amount.StringFixed(2),
		"currency":    "sgd",
		"description": req.Description,
		"success_url": h.successURL,
		"cancel_url":  h.cancelURL,
	}

	var session checkoutSession
	if err := h.post(ctx, "/v1/checkout/sessions", body, &session); err != nil {
		return nil, &Error{Method: order.MethodHosted, Op: "create session", Err: err}
	}
	if session.ID == "" || session.URL == "" {
		return nil, &Error{Method: order.MethodHosted, Op: "create session", Err: errors.New("provider returned no session")}
	}

	return &Initiation{
		ExternalRef: session.ID,
		RedirectURL: session.URL,
	}, nil
}

// Confirm retrieves the session and maps the provider's payment status onto
// the shared response-code set: paid maps to an approved "00", a still-open
// session stays pending, an expired one is a hard failure.
func (h *Hosted) Confirm(ctx context.Context, externalRef string) (*Confirmation, error) {
	var session checkoutSession
	path := "/v1/checkout/sessions/" + url.PathEscape(externalRef)
	if err := h.get(ctx, path, &session); err != nil {
		return nil, &Error{Method: order.MethodHosted, Op: "retrieve session", Err: err}
	}

	paymentRef := session.PaymentIntent
	if paymentRef == "" {
		paymentRef = session.ID
	}

	switch {
	case session.PaymentStatus == "paid":
		return &Confirmation{Code: "00", Approved: true, PaymentRef: paymentRef}, nil
	case session.Status == "expired":
		return &Confirmation{Code: "99", Message: "Checkout session expired.", PaymentRef: paymentRef}, nil
	default:
		return &Confirmation{Code: "09", Message: "Payment not completed yet.", PaymentRef: paymentRef}, nil
	}
}

// Refund reverses a settled payment via the provider's refund endpoint.
func (h *Hosted) Refund(ctx context.Context, paymentRef string, amount decimal.Decimal) (string, error) {
	body := map[string]any{
		"payment_intent": paymentRef,
		"amount":         amount.StringFixed(2),
	}

	var refund refundResponse
	if err := h.post(ctx, "/v1/refunds", body, &refund); err != nil {
		return "", &Error{Method: order.MethodHosted, Op: "refund", Err: err}
	}
	if refund.ID == "" || (refund.Status != "succeeded" && refund.Status != "pending") {
		return "", &Error{Method: order.MethodHosted, Op: "refund", Err: errors.Errorf("refund rejected: %s", refund.Status)}
	}
	return refund.ID, nil
}

func (h *Hosted) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	return h.do(req, out)
}

func (h *Hosted) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+path, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	return h.do(req, out)
}

func (h *Hosted) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+h.secretKey)

	resp, err := h.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "request")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("provider status %d: %s", resp.StatusCode, truncate(raw, 200))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
