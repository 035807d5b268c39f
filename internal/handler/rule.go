package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-discounts/internal/domain/discount"
)

// ActiveDiscounts lists rules that are active and inside their validity
// window right now.
func (h *Handler) ActiveDiscounts(w http.ResponseWriter, r *http.Request) {
	rules, err := h.rules.ListActive(r.Context(), h.now())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeRules(e, rules) })
}

// CreateRule creates a discount rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.readRule(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	created, err := h.rules.Create(r.Context(), rule)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeRule(e, *created) })
}

// ListRules lists rules narrowed by the scope, discount_type, is_active,
// requires_loyalty, is_stackable and search query parameters.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rules, err := h.rules.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeRules(e, rules) })
}

// GetRule returns a single rule.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.rules.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeRule(e, *rule) })
}

// UpdateRule replaces a rule's configuration.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.readRule(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rule.ID = chi.URLParam(r, "id")

	updated, err := h.rules.Update(r.Context(), rule)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeRule(e, *updated) })
}

// DeactivateRule soft-deletes a rule.
func (h *Handler) DeactivateRule(w http.ResponseWriter, r *http.Request) {
	if err := h.rules.Deactivate(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) readRule(w http.ResponseWriter, r *http.Request) (discount.Rule, error) {
	d, err := readBody(w, r)
	if err != nil {
		return discount.Rule{}, err
	}
	rule, err := DecodeRule(d)
	if err != nil {
		return discount.Rule{}, badRequest("invalid JSON body: " + err.Error())
	}
	return rule, nil
}

// DecodeRule reads a rule object as accepted by the admin API. Omitted
// is_active defaults to true. An id is read but ignored on create and update.
func DecodeRule(d *jx.Decoder) (discount.Rule, error) {
	rule := discount.Rule{Active: true}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			rule.ID, err = d.Str()
		case "name":
			rule.Name, err = d.Str()
		case "is_active":
			rule.Active, err = d.Bool()
		case "start_date":
			var t *time.Time
			t, err = decodeOptTime(d)
			if t != nil {
				rule.StartDate = *t
			}
		case "end_date":
			rule.EndDate, err = decodeOptTime(d)
		case "scope":
			var s string
			s, err = d.Str()
			rule.Scope = discount.Scope(s)
		case "discount_type":
			var s string
			s, err = d.Str()
			rule.Kind = discount.Kind(s)
		case "discount_value":
			rule.Value, err = decodeDecimal(d)
		case "requires_loyalty":
			rule.RequiresLoyalty, err = d.Bool()
		case "is_stackable":
			rule.Stackable, err = d.Bool()
		case "min_order_amount":
			rule.Conditions.MinOrderAmount, err = decodeOptDecimal(d)
		case "min_quantity":
			rule.Conditions.MinQuantity, err = decodeOptInt(d)
		case "category_id":
			rule.CategoryID, err = decodeOptString(d)
		case "variant_id":
			rule.VariantID, err = decodeOptString(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return badRequest(key + ": " + err.Error())
		}
		return nil
	})
	return rule, err
}

func parseListFilter(r *http.Request) (discount.ListFilter, error) {
	q := r.URL.Query()
	filter := discount.ListFilter{
		Scope:  discount.Scope(q.Get("scope")),
		Kind:   discount.Kind(q.Get("discount_type")),
		Search: q.Get("search"),
	}
	for name, dst := range map[string]**bool{
		"is_active":        &filter.Active,
		"requires_loyalty": &filter.RequiresLoyalty,
		"is_stackable":     &filter.Stackable,
	} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, badRequest(name + " must be a boolean")
		}
		*dst = &v
	}
	return filter, nil
}

func encodeRules(e *jx.Encoder, rules []discount.Rule) {
	e.Arr(func(e *jx.Encoder) {
		for _, rule := range rules {
			encodeRule(e, rule)
		}
	})
}

func encodeRule(e *jx.Encoder, r discount.Rule) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(r.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(r.Name) })
		e.Field("is_active", func(e *jx.Encoder) { e.Bool(r.Active) })
		encodeTime(e, "start_date", r.StartDate)
		encodeOptTime(e, "end_date", r.EndDate)
		e.Field("scope", func(e *jx.Encoder) { e.Str(string(r.Scope)) })
		e.Field("discount_type", func(e *jx.Encoder) { e.Str(string(r.Kind)) })
		encodeRuleValue(e, "discount_value", r.Kind, r.Value)
		e.Field("requires_loyalty", func(e *jx.Encoder) { e.Bool(r.RequiresLoyalty) })
		e.Field("is_stackable", func(e *jx.Encoder) { e.Bool(r.Stackable) })
		e.Field("min_order_amount", func(e *jx.Encoder) {
			if r.Conditions.MinOrderAmount == nil {
				e.Null()
				return
			}
			e.Str(r.Conditions.MinOrderAmount.StringFixed(2))
		})
		e.Field("min_quantity", func(e *jx.Encoder) {
			if r.Conditions.MinQuantity == nil {
				e.Null()
				return
			}
			e.Int(*r.Conditions.MinQuantity)
		})
		encodeOptString(e, "category_id", r.CategoryID)
		encodeOptString(e, "variant_id", r.VariantID)
		encodeTime(e, "created_at", r.CreatedAt)
		encodeTime(e, "updated_at", r.UpdatedAt)
	})
}
