package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-discounts/internal/domain/discount"
	"github.com/xenking/kart-discounts/internal/domain/order"
)

// cartRequest is the body of checkout and preview requests. Preview clients
// send "lines", checkout clients send "items"; both are accepted.
type cartRequest struct {
	UserID string
	Items  []order.Item
}

func decodeCart(d *jx.Decoder) (cartRequest, error) {
	var req cartRequest
	decodeItems := func(d *jx.Decoder) error {
		if d.Next() == jx.Null {
			return d.Null()
		}
		return d.Arr(func(d *jx.Decoder) error {
			var item order.Item
			if err := d.Obj(func(d *jx.Decoder, key string) error {
				var err error
				switch key {
				case "variant_id":
					item.VariantID, err = d.Str()
				case "quantity":
					item.Quantity, err = d.Int()
				default:
					err = d.Skip()
				}
				return err
			}); err != nil {
				return err
			}
			req.Items = append(req.Items, item)
			return nil
		})
	}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "user_id":
			v, err := d.Str()
			req.UserID = v
			return err
		case "items", "lines":
			return decodeItems(d)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return req, badRequest("invalid JSON body: " + err.Error())
	}
	if req.UserID == "" {
		return req, badRequest("user_id is required")
	}
	return req, nil
}

// PreviewDiscounts prices the posted cart and reports every evaluated rule
// without persisting anything.
func (h *Handler) PreviewDiscounts(w http.ResponseWriter, r *http.Request) {
	d, err := readBody(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := decodeCart(d)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	p, err := h.orders.Preview(r.Context(), req.UserID, req.Items)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePreview(e, p) })
}

// Checkout places an order and returns it with its discount attribution.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	d, err := readBody(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := decodeCart(d)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	details, err := h.orders.Checkout(r.Context(), order.CheckoutRequest{
		UserID: req.UserID,
		Items:  req.Items,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeDetails(e, details) })
}

// GetOrder returns an order with lines and its discount breakdown.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	details, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeDetails(e, details) })
}

// RecomputeOrder re-runs discount resolution for a persisted order.
func (h *Handler) RecomputeOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.orders.RecomputeTotals(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	details, err := h.orders.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeDetails(e, details) })
}

func encodePreview(e *jx.Encoder, p *discount.Preview) {
	final := p.Subtotal.Sub(p.Total)
	if final.IsNegative() {
		final = decimal.Zero
	}
	e.Obj(func(e *jx.Encoder) {
		encodeMoney(e, "subtotal", p.Subtotal)
		encodeMoney(e, "discount_total", p.Total)
		encodeMoney(e, "final_amount", final)
		e.Field("capped", func(e *jx.Encoder) { e.Bool(p.Capped) })
		e.Field("stackable_count", func(e *jx.Encoder) { e.Int(p.StackableCount) })
		e.Field("non_stackable_count", func(e *jx.Encoder) { e.Int(p.NonStackableCount) })
		e.Field("best_non_stackable", func(e *jx.Encoder) {
			if p.BestNonStackable == nil {
				e.Null()
				return
			}
			encodePreviewRule(e, *p.BestNonStackable)
		})
		e.Field("rules", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, rule := range p.Rules {
					encodePreviewRule(e, rule)
				}
			})
		})
	})
}

func encodePreviewRule(e *jx.Encoder, r discount.PreviewRule) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("rule_id", func(e *jx.Encoder) { e.Str(r.RuleID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(r.Name) })
		e.Field("scope", func(e *jx.Encoder) { e.Str(string(r.Scope)) })
		e.Field("discount_type", func(e *jx.Encoder) { e.Str(string(r.Kind)) })
		encodeRuleValue(e, "discount_value", r.Kind, r.Value)
		e.Field("is_stackable", func(e *jx.Encoder) { e.Bool(r.Stackable) })
		encodeMoney(e, "base", r.Base)
		encodeMoney(e, "amount", r.Amount)
		e.Field("applied", func(e *jx.Encoder) { e.Bool(r.Applied) })
		e.Field("reason", func(e *jx.Encoder) { e.Str(r.Reason) })
	})
}

func encodeDetails(e *jx.Encoder, d *order.Details) {
	o := d.Order
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("number", func(e *jx.Encoder) { e.Int64(o.Number) })
		e.Field("user_id", func(e *jx.Encoder) { e.Str(o.UserID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		encodeMoney(e, "subtotal", o.Subtotal)
		encodeMoney(e, "discount_amount", o.Discount)
		encodeMoney(e, "total", o.Total)
		encodeTime(e, "created_at", o.CreatedAt)
		encodeTime(e, "updated_at", o.UpdatedAt)
		e.Field("lines", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range o.Lines {
					e.Obj(func(e *jx.Encoder) {
						e.Field("variant_id", func(e *jx.Encoder) { e.Str(l.VariantID) })
						e.Field("category_id", func(e *jx.Encoder) { e.Str(l.CategoryID) })
						e.Field("name", func(e *jx.Encoder) { e.Str(l.Name) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
						encodeMoney(e, "unit_rate", l.UnitRate)
						encodeMoney(e, "amount", l.Amount())
					})
				}
			})
		})
		e.Field("applied_discounts", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, a := range d.Applied {
					encodeApplied(e, a)
				}
			})
		})
		e.Field("discount_breakdown", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, b := range d.Breakdown {
					e.Obj(func(e *jx.Encoder) {
						e.Field("scope", func(e *jx.Encoder) { e.Str(string(b.Scope)) })
						encodeMoney(e, "total", b.Total)
						e.Field("count", func(e *jx.Encoder) { e.Int(b.Count) })
						e.Field("discounts", func(e *jx.Encoder) {
							e.Arr(func(e *jx.Encoder) {
								for _, a := range b.Discounts {
									encodeApplied(e, a)
								}
							})
						})
					})
				}
			})
		})
	})
}

func encodeApplied(e *jx.Encoder, a discount.AppliedDiscount) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("rule_id", func(e *jx.Encoder) { e.Str(a.RuleID) })
		e.Field("rule_name", func(e *jx.Encoder) { e.Str(a.Metadata.RuleName) })
		e.Field("scope", func(e *jx.Encoder) { e.Str(string(a.Scope)) })
		encodeMoney(e, "amount", a.Amount)
		e.Field("discount_type", func(e *jx.Encoder) { e.Str(string(a.Metadata.Kind)) })
		encodeRuleValue(e, "discount_value", a.Metadata.Kind, a.Metadata.Value)
		e.Field("is_stackable", func(e *jx.Encoder) { e.Bool(a.Metadata.Stackable) })
	})
}
