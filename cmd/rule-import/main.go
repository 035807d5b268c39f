package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-discounts/internal/cache"
	"github.com/xenking/kart-discounts/internal/domain/discount"
	"github.com/xenking/kart-discounts/internal/repository"
)

func main() {
	var (
		dataDir     string
		pattern     string
		databaseURL string
		redisURL    string
		dryRun      bool
	)

	flag.StringVar(&dataDir, "data-dir", "data/rules", "directory containing gzipped NDJSON rule files")
	flag.StringVar(&pattern, "pattern", "*.ndjson.gz", "glob matched against file names in data-dir")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&redisURL, "redis-url", "", "Redis URL of the rule cache to invalidate (or REDIS_URL env)")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and validate without writing")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if redisURL == "" {
		redisURL = os.Getenv("REDIS_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, pattern, databaseURL, redisURL, dryRun); err != nil {
		slog.Error("rule import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("rule import completed successfully")
}

func run(ctx context.Context, dataDir, pattern, databaseURL, redisURL string, dryRun bool) error {
	files, err := filepath.Glob(filepath.Join(dataDir, pattern))
	if err != nil {
		return errors.Wrap(err, "glob rule files")
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %s in %s", pattern, dataDir)
	}
	if len(files) > maxFiles {
		return errors.Errorf("too many rule files: %d (max %d)", len(files), maxFiles)
	}

	slog.Info("reading rule files", slog.Int("files", len(files)))

	parsed, err := readRuleFiles(ctx, files)
	if err != nil {
		return errors.Wrap(err, "read rule files")
	}

	conflicts := conflictingNames(parsed)
	if len(conflicts) > 0 {
		slog.Warn("dropping rules defined in more than one file", slog.Int("names", len(conflicts)))
	}

	rules, skipped := prepareRules(parsed, conflicts, time.Now().UTC())

	slog.Info("rules ready",
		slog.Int("import", len(rules)),
		slog.Int("skipped", skipped),
	)

	if dryRun || len(rules) == 0 {
		return nil
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	repo := repository.NewRuleRepository(pool)
	if err := repository.NewTransactor(pool).WithinTx(ctx, func(ctx context.Context) error {
		for i := range rules {
			if err := repo.Upsert(ctx, &rules[i]); err != nil {
				return err
			}
			if (i+1)%progressEvery == 0 || i+1 == len(rules) {
				slog.Info("write progress", slog.Int("written", i+1), slog.Int("total", len(rules)))
			}
		}
		return nil
	}); err != nil {
		return errors.Wrap(err, "write rules to database")
	}

	return invalidateCache(ctx, redisURL)
}

// invalidateCache drops the cached active rule sets so running API servers
// pick up the imported rules on their next evaluation.
func invalidateCache(ctx context.Context, redisURL string) error {
	if redisURL == "" {
		slog.Info("no Redis URL set, skipping cache invalidation")
		return nil
	}

	rdb, err := cache.DialRedis(ctx, redisURL)
	if err != nil {
		return errors.Wrap(err, "connect redis")
	}
	defer func() { _ = rdb.Close() }()

	if err := discount.NewRuleCache(rdb).Invalidate(ctx); err != nil {
		return errors.Wrap(err, "invalidate rule cache")
	}

	slog.Info("rule cache invalidated")
	return nil
}
