package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-discounts/internal/domain/discount"
)

const maxBodyBytes = 1 << 20

// requestError is a malformed request body or parameter.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string) error {
	return &requestError{msg: format}
}

func readBody(w http.ResponseWriter, r *http.Request) (*jx.Decoder, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, badRequest("request body too large or unreadable")
	}
	if len(data) == 0 {
		return nil, badRequest("request body required")
	}
	return jx.DecodeBytes(data), nil
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	encode(e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
		})
	})
}

// Money is always rendered as a string with two decimal places.
func encodeMoney(e *jx.Encoder, name string, d decimal.Decimal) {
	e.Field(name, func(e *jx.Encoder) { e.Str(d.StringFixed(2)) })
}

// encodeRuleValue writes a fixed value as money and a percentage as a plain
// number string, e.g. "12.50" and "10".
func encodeRuleValue(e *jx.Encoder, name string, kind discount.Kind, v decimal.Decimal) {
	if kind == discount.KindFixed {
		encodeMoney(e, name, v)
		return
	}
	e.Field(name, func(e *jx.Encoder) { e.Str(v.String()) })
}

func encodeTime(e *jx.Encoder, name string, t time.Time) {
	e.Field(name, func(e *jx.Encoder) { e.Str(t.UTC().Format(time.RFC3339)) })
}

func encodeOptTime(e *jx.Encoder, name string, t *time.Time) {
	e.Field(name, func(e *jx.Encoder) {
		if t == nil {
			e.Null()
			return
		}
		e.Str(t.UTC().Format(time.RFC3339))
	})
}

func encodeOptString(e *jx.Encoder, name string, s *string) {
	e.Field(name, func(e *jx.Encoder) {
		if s == nil {
			e.Null()
			return
		}
		e.Str(*s)
	})
}

// decodeDecimal accepts both JSON numbers and numeric strings.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		raw = s
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		raw = n.String()
	default:
		return decimal.Zero, errors.New("expected number")
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse %q", raw)
	}
	return v, nil
}

func decodeOptDecimal(d *jx.Decoder) (*decimal.Decimal, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	v, err := decodeDecimal(d)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func decodeOptString(d *jx.Decoder) (*string, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	if s == "" {
		return nil, nil
	}
	return &s, nil
}

func decodeOptInt(d *jx.Decoder) (*int, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	v, err := d.Int()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func decodeOptTime(d *jx.Decoder) (*time.Time, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}
