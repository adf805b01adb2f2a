//go:build integration

package integration

import (
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefund_StoreCreditRoundTrip(t *testing.T) {
	before := decodeJSON[creditResponse](t, doGet(t, "/api/credit", "user-alice"))
	startBalance := decimal.RequireFromString(before.Balance)

	resp := doPost(t, "/api/checkout", "user-alice", checkoutRequest{
		Items: []itemRequest{
			{ProductID: "prod-eggs", Quantity: 1, UnitPrice: "4.50"},
		},
		Method: "store_credit",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	o := decodeJSON[orderResponse](t, resp)

	// Owner requests, admin approves.
	rr := doPost(t, "/api/orders/"+o.ID+"/refund", "user-alice", nil)
	defer rr.Body.Close()
	require.Equal(t, http.StatusOK, rr.StatusCode)

	decision := doPost(t, "/api/admin/orders/"+o.ID+"/refund-decision", "user-admin",
		map[string]bool{"approve": true})
	require.Equal(t, http.StatusOK, decision.StatusCode)
	result := decodeJSON[map[string]string](t, decision)
	assert.Equal(t, "Refunded", result["status"])

	// Balance is back where it started, with a refund ledger entry on top.
	after := decodeJSON[creditResponse](t, doGet(t, "/api/credit", "user-alice"))
	assert.True(t, startBalance.Equal(decimal.RequireFromString(after.Balance)))
	require.NotEmpty(t, after.History)
	assert.Equal(t, "refund", after.History[0].Type)

	detail := decodeJSON[orderResponse](t, doGet(t, "/api/orders/"+o.ID, "user-alice"))
	assert.Equal(t, "Refunded", detail.Status)
	assert.NotEmpty(t, detail.RefundRef)
}

func TestRefund_CashOrderUnsupported(t *testing.T) {
	resp := doPost(t, "/api/checkout", "user-bob", checkoutRequest{
		Items: []itemRequest{
			{ProductID: "prod-milk", Quantity: 1, UnitPrice: "3.20"},
		},
		Method: "cash",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	o := decodeJSON[orderResponse](t, resp)

	rr := doPost(t, "/api/orders/"+o.ID+"/refund", "user-bob", nil)
	defer rr.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, rr.StatusCode)
}

func TestRefund_ForeignOrderForbidden(t *testing.T) {
	resp := doPost(t, "/api/checkout", "user-alice", checkoutRequest{
		Items: []itemRequest{
			{ProductID: "prod-coffee", Quantity: 1, UnitPrice: "7.40"},
		},
		Method: "store_credit",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	o := decodeJSON[orderResponse](t, resp)

	rr := doPost(t, "/api/orders/"+o.ID+"/refund", "user-bob", nil)
	defer rr.Body.Close()
	assert.Equal(t, http.StatusForbidden, rr.StatusCode)
}

func TestRefund_RejectIsTerminal(t *testing.T) {
	resp := doPost(t, "/api/checkout", "user-alice", checkoutRequest{
		Items: []itemRequest{
			{ProductID: "prod-apple", Quantity: 1, UnitPrice: "3.80"},
		},
		Method: "store_credit",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	o := decodeJSON[orderResponse](t, resp)

	rr := doPost(t, "/api/orders/"+o.ID+"/refund", "user-alice", nil)
	defer rr.Body.Close()
	require.Equal(t, http.StatusOK, rr.StatusCode)

	decision := doPost(t, "/api/admin/orders/"+o.ID+"/refund-decision", "user-admin",
		map[string]bool{"approve": false})
	require.Equal(t, http.StatusOK, decision.StatusCode)
	result := decodeJSON[map[string]string](t, decision)
	assert.Equal(t, "RefundRejected", result["status"])

	// A new request on the rejected order conflicts.
	again := doPost(t, "/api/orders/"+o.ID+"/refund", "user-alice", nil)
	defer again.Body.Close()
	assert.Equal(t, http.StatusConflict, again.StatusCode)
}
