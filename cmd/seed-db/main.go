package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-discounts/internal/domain/auth"
	"github.com/xenking/kart-discounts/internal/domain/discount"
	"github.com/xenking/kart-discounts/internal/repository"
)

const seedCatalogSQL = `
INSERT INTO categories (id, name, parent_id) VALUES
    ('electronics', 'Electronics', NULL),
    ('phones', 'Phones', 'electronics'),
    ('accessories', 'Accessories', 'electronics'),
    ('chargers', 'Chargers', 'accessories'),
    ('clothing', 'Clothing', NULL),
    ('tshirts', 'T-Shirts', 'clothing')
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, parent_id = EXCLUDED.parent_id;

INSERT INTO products (id, name, category_id) VALUES
    ('phone-x', 'Phone X', 'phones'),
    ('charger-fast', 'Fast Charger', 'chargers'),
    ('tee-basic', 'Basic Tee', 'tshirts')
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, category_id = EXCLUDED.category_id;

INSERT INTO product_variants (id, product_id, name, price) VALUES
    ('phone-x-128', 'phone-x', 'Phone X 128GB', 799.00),
    ('phone-x-256', 'phone-x', 'Phone X 256GB', 899.00),
    ('charger-fast-usbc', 'charger-fast', 'Fast Charger USB-C', 29.99),
    ('tee-basic-m', 'tee-basic', 'Basic Tee M', 19.50),
    ('tee-basic-l', 'tee-basic', 'Basic Tee L', 19.50)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price, active = TRUE;

INSERT INTO users (id, email, loyalty_member) VALUES
    ('user-regular', 'regular@example.com', FALSE),
    ('user-loyal', 'loyal@example.com', TRUE)
ON CONFLICT (id) DO UPDATE SET loyalty_member = EXCLUDED.loyalty_member;
`

func main() {
	var (
		databaseURL  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or KART_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or KART_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("KART_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or KART_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("KART_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedCatalog(ctx, pool); err != nil {
		return errors.Wrap(err, "seed catalog")
	}

	if err := seedRules(ctx, repository.NewRuleRepository(pool)); err != nil {
		return errors.Wrap(err, "seed rules")
	}

	if err := seedAPIKey(ctx, repository.NewAPIKeyRepository(pool), apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedCatalog(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("upserting categories, products, variants and users")

	if _, err := pool.Exec(ctx, seedCatalogSQL); err != nil {
		return errors.Wrap(err, "exec catalog fixtures")
	}
	return nil
}

func sampleRules(now time.Time) []discount.Rule {
	ptr := func(s string) *string { return &s }
	minAmount := decimal.NewFromInt(100)
	minQty := 2
	weekAgo := now.AddDate(0, 0, -7)
	expired := now.AddDate(0, 0, -1)

	return []discount.Rule{
		{
			ID: "seed-order-10pct", Name: "10% off orders over 100",
			Scope: discount.ScopeOrder, Kind: discount.KindPercentage, Value: decimal.NewFromInt(10),
			Conditions: discount.Conditions{MinOrderAmount: &minAmount},
		},
		{
			ID: "seed-order-loyal-5", Name: "Loyalty: 5 off every order",
			Scope: discount.ScopeOrder, Kind: discount.KindFixed, Value: decimal.NewFromInt(5),
			RequiresLoyalty: true, Stackable: true,
		},
		{
			ID: "seed-electronics-15pct", Name: "15% off electronics",
			Scope: discount.ScopeCategory, Kind: discount.KindPercentage, Value: decimal.NewFromInt(15),
			CategoryID: ptr("electronics"),
		},
		{
			ID: "seed-clothing-3", Name: "3 off clothing, 2+ items",
			Scope: discount.ScopeCategory, Kind: discount.KindFixed, Value: decimal.NewFromInt(3),
			Stackable: true, CategoryID: ptr("clothing"),
			Conditions: discount.Conditions{MinQuantity: &minQty},
		},
		{
			ID: "seed-charger-20pct", Name: "20% off fast chargers",
			Scope: discount.ScopeItem, Kind: discount.KindPercentage, Value: decimal.NewFromInt(20),
			Stackable: true, VariantID: ptr("charger-fast-usbc"),
		},
		{
			ID: "seed-phone-50", Name: "50 off Phone X 256GB",
			Scope: discount.ScopeItem, Kind: discount.KindFixed, Value: decimal.NewFromInt(50),
			VariantID: ptr("phone-x-256"),
		},
		{
			ID: "seed-expired", Name: "Expired flash sale",
			Scope: discount.ScopeOrder, Kind: discount.KindPercentage, Value: decimal.NewFromInt(30),
			StartDate: weekAgo, EndDate: &expired,
		},
	}
}

func seedRules(ctx context.Context, rules *repository.RuleRepository) error {
	now := time.Now().UTC()
	samples := sampleRules(now)

	slog.Info("upserting discount rules", slog.Int("count", len(samples)))

	for i := range samples {
		r := &samples[i]
		r.Active = true
		if r.StartDate.IsZero() {
			r.StartDate = now.AddDate(0, 0, -1)
		}
		r.CreatedAt, r.UpdatedAt = now, now
		if err := r.Validate(); err != nil {
			return errors.Wrapf(err, "validate rule %s", r.ID)
		}
		if err := rules.Upsert(ctx, r); err != nil {
			return errors.Wrapf(err, "upsert rule %s", r.ID)
		}

		slog.Info("upserted rule", slog.String("id", r.ID), slog.String("name", r.Name))
	}

	return nil
}

func seedAPIKey(ctx context.Context, keys *repository.APIKeyRepository, apiKey, pepper string) error {
	slog.Info("seeding admin API key")

	if err := keys.Save(ctx, auth.APIKeyInfo{
		ID:      "default",
		KeyHash: auth.Hash([]byte(pepper), apiKey),
		Name:    "Default admin key",
		Scopes:  []string{auth.ScopeAdmin},
	}); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}

	slog.Info("upserted API key", slog.String("id", "default"), slog.String("name", "Default admin key"))

	return nil
}
