package main

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"math/bits"
	"os"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-discounts/internal/domain/discount"
	"github.com/xenking/kart-discounts/internal/handler"
)

const (
	bloomCapacity = 1_000_000
	bloomFPR      = 0.001
	maxFiles      = 64
	maxLineBytes  = 1 << 20
	progressEvery = 1000
)

// ruleNamespace seeds deterministic IDs for rules imported without one, so
// re-importing the same file updates rules in place.
var ruleNamespace = uuid.MustParse("6f1c9a52-3e0b-4c8e-9d7a-2b5f8e4a1c30")

// ruleFile holds the rules read from one file and a filter over their names.
type ruleFile struct {
	path   string
	rules  []discount.Rule
	filter *bloom.BloomFilter
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// readRuleFiles parses every file concurrently.
func readRuleFiles(ctx context.Context, paths []string) ([]ruleFile, error) {
	files := make([]ruleFile, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	for i, p := range paths {
		g.Go(func() error {
			f, err := readRuleFile(ctx, p)
			if err != nil {
				return errors.Wrapf(err, "read %s", p)
			}
			files[i] = f
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return files, nil
}

func readRuleFile(ctx context.Context, path string) (ruleFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return ruleFile{}, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return ruleFile{}, errors.Wrap(err, "create gzip reader")
	}
	defer func() { _ = gz.Close() }()

	rules, err := parseRules(ctx, gz)
	if err != nil {
		return ruleFile{}, err
	}

	filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
	for _, r := range rules {
		filter.AddString(nameKey(r.Name))
	}

	slog.Info("file parsed", slog.String("path", path), slog.Int("rules", len(rules)))

	return ruleFile{path: path, rules: rules, filter: filter}, nil
}

// parseRules reads one JSON rule object per line. Blank lines are ignored.
func parseRules(ctx context.Context, r io.Reader) ([]discount.Rule, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var (
		rules []discount.Rule
		line  int
	)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line++
		data := scanner.Bytes()
		if len(strings.TrimSpace(string(data))) == 0 {
			continue
		}
		rule, err := handler.DecodeRule(jx.DecodeBytes(data))
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		rules = append(rules, rule)
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scan")
	}

	return rules, nil
}

// conflictingNames returns the rule names defined in two or more files.
// Each file tests its names against the other files' filters; a name is a
// conflict only when at least two files both contain it and flag it, which
// rules out bloom false positives.
func conflictingNames(files []ruleFile) map[string]struct{} {
	merged := make(map[string]uint)
	for i, f := range files {
		fileBit := uint(1) << uint(i)
		for _, r := range f.rules {
			key := nameKey(r.Name)
			for j, other := range files {
				if j == i {
					continue
				}
				if other.filter.TestString(key) {
					merged[key] |= fileBit
					break
				}
			}
		}
	}

	conflicts := make(map[string]struct{})
	for key, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			conflicts[key] = struct{}{}
		}
	}
	return conflicts
}

// prepareRules drops conflicting, duplicate and invalid rules, assigns missing
// IDs and fills timestamps. Of several rules resolving to one ID only the
// first is kept. It returns the rules to write and how many were skipped.
func prepareRules(files []ruleFile, conflicts map[string]struct{}, now time.Time) ([]discount.Rule, int) {
	var (
		out     []discount.Rule
		skipped int
		seen    = make(map[string]struct{})
	)
	for _, f := range files {
		for _, r := range f.rules {
			key := nameKey(r.Name)
			if key == "" {
				slog.Warn("skipping rule without name", slog.String("path", f.path))
				skipped++
				continue
			}
			if _, ok := conflicts[key]; ok {
				slog.Warn("skipping conflicting rule", slog.String("path", f.path), slog.String("name", r.Name))
				skipped++
				continue
			}
			if r.ID == "" {
				r.ID = uuid.NewSHA1(ruleNamespace, []byte(key)).String()
			}
			if _, dup := seen[r.ID]; dup {
				slog.Warn("skipping duplicate rule",
					slog.String("path", f.path),
					slog.String("id", r.ID),
					slog.String("name", r.Name),
				)
				skipped++
				continue
			}
			if r.StartDate.IsZero() {
				r.StartDate = now
			}
			r.CreatedAt, r.UpdatedAt = now, now
			if err := r.Validate(); err != nil {
				slog.Warn("skipping invalid rule",
					slog.String("path", f.path),
					slog.String("name", r.Name),
					slog.String("error", err.Error()),
				)
				skipped++
				continue
			}
			seen[r.ID] = struct{}{}
			out = append(out, r)
		}
	}
	return out, skipped
}
