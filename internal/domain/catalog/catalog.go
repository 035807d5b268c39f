package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrVariantNotFound is returned when a requested product variant does not exist.
var ErrVariantNotFound = errors.New("product variant not found")

// Category is a node of the catalog tree. Root categories have no parent.
type Category struct {
	ID       string
	Name     string
	ParentID *string
}

// Variant is a purchasable product variant. Every variant belongs to exactly
// one category through its product.
type Variant struct {
	ID         string
	ProductID  string
	Name       string
	CategoryID string
	Price      decimal.Decimal
	Active     bool
}

// Repository provides read access to the catalog.
type Repository interface {
	Categories(ctx context.Context) ([]Category, error)
	VariantsByIDs(ctx context.Context, ids []string) ([]Variant, error)
}
