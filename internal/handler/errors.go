package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-discounts/internal/domain/account"
	"github.com/xenking/kart-discounts/internal/domain/discount"
	"github.com/xenking/kart-discounts/internal/domain/order"
)

// fail maps domain errors to HTTP responses. Anything unrecognised is logged
// and reported as 500 without leaking details.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		reqErr     *requestError
		validErr   *discount.ValidationError
		qtyErr     *order.InvalidQuantityError
		variantErr *order.VariantNotFoundError
	)
	switch {
	case errors.As(err, &reqErr):
		writeError(w, http.StatusBadRequest, reqErr.msg)
	case errors.Is(err, order.ErrEmptyItems):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &validErr):
		writeError(w, http.StatusBadRequest, validErr.Error())
	case errors.As(err, &qtyErr):
		writeError(w, http.StatusUnprocessableEntity, qtyErr.Error())
	case errors.As(err, &variantErr):
		writeError(w, http.StatusUnprocessableEntity, variantErr.Error())
	case errors.Is(err, account.ErrNotFound):
		writeError(w, http.StatusUnprocessableEntity, account.ErrNotFound.Error())
	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, order.ErrNotFound.Error())
	case errors.Is(err, discount.ErrRuleNotFound):
		writeError(w, http.StatusNotFound, discount.ErrRuleNotFound.Error())
	default:
		zctx.From(r.Context()).Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
