package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-discounts/internal/domain/auth"
)

// APIKeyHeader carries the raw API key for admin routes.
const APIKeyHeader = "X-API-Key"

// RequireScope rejects requests without a valid API key granted scope.
func (h *Handler) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, err := h.keys.Authenticate(r.Context(), r.Header.Get(APIKeyHeader))
			if err != nil {
				if !errors.Is(err, auth.ErrUnauthorized) {
					zctx.From(r.Context()).Error("API key lookup failed", zap.Error(err))
				}
				writeError(w, http.StatusUnauthorized, auth.ErrUnauthorized.Error())
				return
			}
			if !info.HasScope(scope) {
				zctx.From(r.Context()).Warn("API key lacks scope",
					zap.String("key_id", info.ID),
					zap.String("scope", scope),
				)
				writeError(w, http.StatusForbidden, auth.ErrForbidden.Error())
				return
			}

			ctx := zctx.With(r.Context(), zap.String("api_key", info.Name))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
