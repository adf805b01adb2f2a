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

// NetsQRConfig configures the NETS QR sandbox client.
type NetsQRConfig struct {
	BaseURL   string
	APIKey    string
	ProjectID string
	// TxnID is the merchant transaction id required by the sandbox request
	// endpoint.
	TxnID string
	HTTP  *http.Client
}

// NetsQR integrates the NETS QR sandbox API. Initiate requests a QR code;
// Confirm hits the webhook-status endpoint live on every call, because the
// client polls and nothing on the server drives the payment forward.
type NetsQR struct {
	baseURL   string
	apiKey    string
	projectID string
	txnID     string
	http      *http.Client
}

var _ Gateway = (*NetsQR)(nil)

// NewNetsQR creates a NETS QR gateway from config.
func NewNetsQR(cfg NetsQRConfig) (*NetsQR, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" || strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("nets qr gateway config incomplete")
	}
	hc := cfg.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &NetsQR{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		projectID: cfg.ProjectID,
		txnID:     cfg.TxnID,
		http:      hc,
	}, nil
}

func (n *NetsQR) Method() order.PaymentMethod { return order.MethodNetsQR }

// netsData is the payload the sandbox nests under result.data (or data, or
// the root, depending on the endpoint).
type netsData struct {
	ResponseCode     string          `json:"response_code"`
	TxnStatus        json.RawMessage `json:"txn_status"`
	NetworkStatus    int             `json:"network_status"`
	QRCode           string          `json:"qr_code"`
	TxnRetrievalRef  string          `json:"txn_retrieval_ref"`
	ErrorMessage     string          `json:"error_message"`
	Message          string          `json:"message"`
	RefundRetrievRef string          `json:"refund_retrieval_ref"`
}

type netsEnvelope struct {
	Result *struct {
		Data *netsData `json:"data"`
	} `json:"result"`
	Data *netsData `json:"data"`
	netsData
}

func (e *netsEnvelope) data() *netsData {
	if e.Result != nil && e.Result.Data != nil {
		return e.Result.Data
	}
	if e.Data != nil {
		return e.Data
	}
	return &e.netsData
}

// txnStatusInt tolerates the sandbox returning txn_status as a number or a
// quoted string.
func txnStatusInt(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		var m int
		if _, err := fmt.Sscanf(s, "%d", &m); err == nil {
			return m
		}
	}
	return 0
}

// Initiate requests a QR code for the amount. The sandbox reports a freshly
// issued QR with response_code "00" and txn_status 1.
func (n *NetsQR) Initiate(ctx context.Context, req InitiateRequest) (*Initiation, error) {
	body := map[string]any{
		"txn_id":         n.txnID,
		"amt_in_dollars": req.Amount.StringFixed(2),
		"notify_mobile":  0,
	}

	var envelope netsEnvelope
	if err := n.post(ctx, "/api/v1/common/payments/nets-qr/request", body, &envelope); err != nil {
		return nil, &Error{Method: order.MethodNetsQR, Op: "request qr", Err: err}
	}

	data := envelope.data()
	if data.ResponseCode != "00" || txnStatusInt(data.TxnStatus) != 1 || data.QRCode == "" {
		msg := data.ErrorMessage
		if msg == "" {
			msg = "QR code request rejected"
		}
		return nil, &Error{Method: order.MethodNetsQR, Op: "request qr", Err: errors.Errorf("%s (code %s)", msg, data.ResponseCode)}
	}

	return &Initiation{
		ExternalRef:  data.TxnRetrievalRef,
		QRCodeBase64: data.QRCode,
	}, nil
}

// Confirm queries the live payment status for a retrieval ref. txn_status 2
// is the settled flag; everything else is reported raw for the reconciler to
// classify.
func (n *NetsQR) Confirm(ctx context.Context, externalRef string) (*Confirmation, error) {
	if externalRef == "" {
		return nil, &Error{Method: order.MethodNetsQR, Op: "query status", Err: errors.New("missing transaction reference")}
	}

	path := "/api/v1/common/payments/nets/webhook?txn_retrieval_ref=" + url.QueryEscape(externalRef)
	var envelope netsEnvelope
	if err := n.get(ctx, path, &envelope); err != nil {
		return nil, &Error{Method: order.MethodNetsQR, Op: "query status", Err: err}
	}

	data := envelope.data()
	message := data.ErrorMessage
	if message == "" {
		message = data.Message
	}

	return &Confirmation{
		Code:       data.ResponseCode,
		Approved:   approved(data.ResponseCode, txnStatusInt(data.TxnStatus), message),
		Message:    message,
		PaymentRef: externalRef,
	}, nil
}

// approved mirrors the sandbox quirks: a settled payment carries txn_status 2,
// but some webhook variants omit it and only say so in the message.
func approved(code string, txnStatus int, message string) bool {
	if code != "00" {
		return false
	}
	if txnStatus == 2 {
		return true
	}
	msg := strings.ToLower(message)
	return strings.Contains(msg, "qr code scanned") ||
		strings.Contains(msg, "successful") ||
		(strings.Contains(msg, "payment") && strings.Contains(msg, "success"))
}

// Refund requests a reversal for a settled transaction.
func (n *NetsQR) Refund(ctx context.Context, paymentRef string, amount decimal.Decimal) (string, error) {
	body := map[string]any{
		"txn_retrieval_ref": paymentRef,
		"amt_in_dollars":    amount.StringFixed(2),
	}

	var envelope netsEnvelope
	if err := n.post(ctx, "/api/v1/common/payments/nets-qr/reversal", body, &envelope); err != nil {
		return "", &Error{Method: order.MethodNetsQR, Op: "reversal", Err: err}
	}

	data := envelope.data()
	if data.ResponseCode != "00" {
		msg := data.ErrorMessage
		if msg == "" {
			msg = "reversal rejected"
		}
		return "", &Error{Method: order.MethodNetsQR, Op: "reversal", Err: errors.Errorf("%s (code %s)", msg, data.ResponseCode)}
	}

	ref := data.RefundRetrievRef
	if ref == "" {
		ref = data.TxnRetrievalRef
	}
	if ref == "" {
		ref = paymentRef
	}
	return ref, nil
}

func (n *NetsQR) post(ctx context.Context, path string, body any, out *netsEnvelope) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	return n.do(req, out)
}

func (n *NetsQR) get(ctx context.Context, path string, out *netsEnvelope) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+path, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	return n.do(req, out)
}

func (n *NetsQR) do(req *http.Request, out *netsEnvelope) error {
	req.Header.Set("api-key", n.apiKey)
	req.Header.Set("project-id", n.projectID)

	resp, err := n.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "request")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("nets status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		// The webhook endpoint sometimes streams SSE frames; the last data:
		// line carries the JSON payload.
		if payload, ok := lastSSEData(raw); ok {
			if err := json.Unmarshal(payload, out); err == nil {
				return nil
			}
		}
		return errors.Wrap(err, "decode response")
	}
	return nil
}

func lastSSEData(raw []byte) ([]byte, bool) {
	var last []byte
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			last = []byte(strings.TrimSpace(rest))
		}
	}
	return last, len(last) > 0
}
