package handler

import (
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/freshmart-checkout/internal/domain/credit"
	"github.com/xenking/freshmart-checkout/internal/domain/order"
	"github.com/xenking/freshmart-checkout/internal/domain/payment"
	"github.com/xenking/freshmart-checkout/internal/domain/refund"
	"github.com/xenking/freshmart-checkout/internal/gateway"
)

// mapError converts domain errors to an HTTP status and client message.
func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, order.ErrEmptyCart),
		errors.Is(err, payment.ErrCartEmpty),
		errors.Is(err, order.ErrNegativeAmount),
		errors.Is(err, order.ErrTotalMismatch),
		errors.Is(err, order.ErrInvalidStatus),
		errors.Is(err, credit.ErrInvalidAmount),
		errors.Is(err, gateway.ErrUnknownMethod):
		return http.StatusBadRequest, err.Error()

	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, payment.ErrNotFound),
		errors.Is(err, credit.ErrUserNotFound):
		return http.StatusNotFound, err.Error()

	case errors.Is(err, payment.ErrUnauthorized),
		errors.Is(err, refund.ErrForbidden):
		return http.StatusForbidden, err.Error()

	case errors.Is(err, credit.ErrInsufficientBalance),
		errors.Is(err, refund.ErrUnsupportedMethod):
		return http.StatusUnprocessableEntity, err.Error()

	case errors.Is(err, refund.ErrAlreadyInProgress),
		errors.Is(err, refund.ErrAlreadyDecided),
		errors.Is(err, refund.ErrNotRequested),
		errors.Is(err, order.ErrStatusChanged):
		return http.StatusConflict, err.Error()
	}

	var quantityErr *order.InvalidQuantityError
	if errors.As(err, &quantityErr) {
		return http.StatusBadRequest, quantityErr.Error()
	}
	var stockErr *order.InsufficientStockError
	if errors.As(err, &stockErr) {
		return http.StatusUnprocessableEntity, stockErr.Error()
	}
	var transitionErr *order.InvalidTransitionError
	if errors.As(err, &transitionErr) {
		return http.StatusConflict, transitionErr.Error()
	}
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		return http.StatusBadGateway, gwErr.Error()
	}

	return http.StatusInternalServerError, err.Error()
}
