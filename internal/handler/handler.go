package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-discounts/internal/domain/auth"
	"github.com/xenking/kart-discounts/internal/domain/discount"
	"github.com/xenking/kart-discounts/internal/domain/order"
)

// OrderService is the order functionality exposed over HTTP.
type OrderService interface {
	Checkout(ctx context.Context, req order.CheckoutRequest) (*order.Details, error)
	Get(ctx context.Context, id string) (*order.Details, error)
	RecomputeTotals(ctx context.Context, id string) (*order.Order, error)
	Preview(ctx context.Context, userID string, items []order.Item) (*discount.Preview, error)
}

// RuleAdmin is the discount rule administration exposed over HTTP.
type RuleAdmin interface {
	Create(ctx context.Context, rule discount.Rule) (*discount.Rule, error)
	Update(ctx context.Context, rule discount.Rule) (*discount.Rule, error)
	Deactivate(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*discount.Rule, error)
	List(ctx context.Context, filter discount.ListFilter) ([]discount.Rule, error)
	ListActive(ctx context.Context, now time.Time) ([]discount.Rule, error)
}

// Authenticator resolves a raw API key to its identity.
type Authenticator interface {
	Authenticate(ctx context.Context, key string) (*auth.APIKeyInfo, error)
}

var (
	_ OrderService  = (*order.Service)(nil)
	_ RuleAdmin     = (*discount.Admin)(nil)
	_ Authenticator = (*auth.Authenticator)(nil)
)

// Handler serves the discount and order API.
type Handler struct {
	orders OrderService
	rules  RuleAdmin
	keys   Authenticator
	now    func() time.Time
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(orders OrderService, rules RuleAdmin, keys Authenticator) *Handler {
	return &Handler{
		orders: orders,
		rules:  rules,
		keys:   keys,
		now:    time.Now,
	}
}

// Routes returns the API router. All routes live under /api.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/discounts/preview", h.PreviewDiscounts)
		r.Get("/discounts/active", h.ActiveDiscounts)

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.Checkout)
			r.Get("/{id}", h.GetOrder)
			r.Post("/{id}/recompute", h.RecomputeOrder)
		})

		r.Route("/admin/discount-rules", func(r chi.Router) {
			r.Use(h.RequireScope(auth.ScopeAdmin))
			r.Post("/", h.CreateRule)
			r.Get("/", h.ListRules)
			r.Get("/{id}", h.GetRule)
			r.Put("/{id}", h.UpdateRule)
			r.Delete("/{id}", h.DeactivateRule)
		})
	})
	return r
}
