package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"staybook/backend/internal/cache"
	"staybook/backend/internal/clock"
	"staybook/backend/internal/domain"
)

const (
	DefaultRateCacheTTL = 10 * time.Minute

	// yearLoadTimeout bounds a shared repository read. The read does not
	// follow the caller's cancellation since other lookups may wait on it.
	yearLoadTimeout = 10 * time.Second
)

// RateRepository is the read side of the rate store. It returns an empty
// slice, not an error, for a year without rates.
type RateRepository interface {
	GetRatesForYear(ctx context.Context, year int) ([]domain.ApartmentRate, error)
}

// RateFunc resolves the weekly price of an apartment. Zero means unresolved.
type RateFunc func(ctx context.Context, apartmentID string, weekStart time.Time) float64

// RateCache memoizes weekly rate lookups per (apartment, week). Entries
// younger than the TTL are served directly; on repository failure a stale
// entry is served when present, otherwise zero.
//
// Every Invalidate and Clear starts a new generation of the affected years.
// A repository read begun under an older generation is never shared with
// later lookups and never written back to the store.
type RateCache struct {
	repo   RateRepository
	store  cache.RateStore
	ttl    time.Duration
	clock  clock.Clock
	logger *slog.Logger
	loads  singleflight.Group

	// genMu is held for reading around store writes of loaded data and for
	// writing while a generation is bumped.
	genMu    sync.RWMutex
	clearGen uint64
	yearGen  map[int]uint64
}

type RateCacheOption func(*RateCache)

func WithClock(c clock.Clock) RateCacheOption {
	return func(rc *RateCache) {
		if c != nil {
			rc.clock = c
		}
	}
}

func WithLogger(l *slog.Logger) RateCacheOption {
	return func(rc *RateCache) {
		if l != nil {
			rc.logger = l
		}
	}
}

func NewRateCache(repo RateRepository, store cache.RateStore, ttl time.Duration, opts ...RateCacheOption) *RateCache {
	if store == nil {
		store = cache.NewMemoryRateStore()
	}
	if ttl <= 0 {
		ttl = DefaultRateCacheTTL
	}

	rc := &RateCache{
		repo:    repo,
		store:   store,
		ttl:     ttl,
		clock:   clock.NewRealClock(),
		logger:  slog.Default(),
		yearGen: make(map[int]uint64),
	}
	for _, opt := range opts {
		opt(rc)
	}
	rc.logger = rc.logger.With("component", "rate_cache")
	return rc
}

func (c *RateCache) TTL() time.Duration {
	return c.ttl
}

// Resolve satisfies RateFunc.
func (c *RateCache) Resolve(ctx context.Context, apartmentID string, weekStart time.Time) float64 {
	week := DateOnly(weekStart)
	now := c.clock.Now()

	entry, cached, err := c.store.Get(ctx, apartmentID, week)
	if err != nil {
		c.logger.Warn("rate store read failed", "apartment_id", apartmentID, "week_start", week.Format(domain.DateLayout), "error", err)
		cached = false
	}
	if cached && now.Sub(entry.FetchedAt) < c.ttl {
		return entry.Price
	}

	gen := c.generation(week.Year())
	table, err := c.loadYear(ctx, week.Year(), gen)
	if err != nil {
		if cached {
			c.logger.Warn("serving stale rate", "apartment_id", apartmentID, "week_start", week.Format(domain.DateLayout), "error", err)
			return entry.Price
		}
		c.logger.Warn("rate unavailable", "apartment_id", apartmentID, "week_start", week.Format(domain.DateLayout), "error", err)
		return 0
	}

	price := table.RateFor(apartmentID, week)
	fresh := cache.RateEntry{Price: price, FetchedAt: now, Validated: price > 0}
	err = c.writeIfCurrent(week.Year(), gen, func() error {
		return c.store.Set(ctx, apartmentID, week, fresh)
	})
	if err != nil {
		c.logger.Warn("rate store write failed", "apartment_id", apartmentID, "error", err)
	}
	return price
}

// Invalidate drops every cached week of one apartment in one year.
func (c *RateCache) Invalidate(ctx context.Context, apartmentID string, year int) error {
	c.genMu.Lock()
	c.yearGen[year]++
	c.genMu.Unlock()

	removed, err := c.store.Invalidate(ctx, apartmentID, year)
	if err != nil {
		return err
	}
	c.logger.Info("rate cache invalidated", "apartment_id", apartmentID, "year", year, "removed", removed)
	return nil
}

func (c *RateCache) Clear(ctx context.Context) error {
	c.genMu.Lock()
	c.clearGen++
	c.genMu.Unlock()

	if err := c.store.Clear(ctx); err != nil {
		return err
	}
	c.logger.Info("rate cache cleared")
	return nil
}

// WarmYears loads the given years from the repository in parallel and
// stores every configured week. It returns the number of entries written.
func (c *RateCache) WarmYears(ctx context.Context, years ...int) (int, error) {
	counts := make([]int, len(years))

	g, gctx := errgroup.WithContext(ctx)
	for i, year := range years {
		i, year := i, year
		g.Go(func() error {
			table, err := c.loadYear(gctx, year, c.generation(year))
			if err != nil {
				return err
			}
			counts[i] = table.Len()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	c.logger.Info("rate cache warmed", "years", years, "entries", total)
	return total, nil
}

// generation identifies the current cached state of year. It only grows.
func (c *RateCache) generation(year int) uint64 {
	c.genMu.RLock()
	defer c.genMu.RUnlock()
	return c.clearGen + c.yearGen[year]
}

// writeIfCurrent runs write unless year has moved past gen. A concurrent
// Invalidate either waits for the write and then removes it, or bumps the
// generation first so that the write is skipped.
func (c *RateCache) writeIfCurrent(year int, gen uint64, write func() error) error {
	c.genMu.RLock()
	defer c.genMu.RUnlock()
	if c.clearGen+c.yearGen[year] != gen {
		return nil
	}
	return write()
}

// loadYear reads one year from the repository and fills the store with all
// of its configured weeks. Concurrent loads of the same year and generation
// share one read.
func (c *RateCache) loadYear(ctx context.Context, year int, gen uint64) (*RateTable, error) {
	v, err, _ := c.loads.Do(fmt.Sprintf("%d/%d", year, gen), func() (any, error) {
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), yearLoadTimeout)
		defer cancel()

		rates, err := c.repo.GetRatesForYear(readCtx, year)
		if err != nil {
			return nil, err
		}
		table := NewRateTable(year, rates)

		now := c.clock.Now()
		entries := make(map[cache.RateKey]cache.RateEntry, table.Len())
		for _, r := range table.Entries() {
			entries[cache.NewRateKey(r.ApartmentID, r.WeekStart)] = cache.RateEntry{
				Price:     r.Price,
				FetchedAt: now,
				Validated: true,
			}
		}
		err = c.writeIfCurrent(year, gen, func() error {
			return c.store.SetMany(readCtx, entries)
		})
		if err != nil {
			c.logger.Warn("rate store bulk write failed", "year", year, "error", err)
		}
		return table, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*RateTable), nil
}
