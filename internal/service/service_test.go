package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"staybook/backend/internal/cache"
	"staybook/backend/internal/clock"
	"staybook/backend/internal/domain"
	"staybook/backend/internal/events"
	"staybook/backend/internal/pricing"
	"staybook/backend/internal/store"
	"staybook/backend/internal/store/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.RateChanged
	err    error
}

func (p *recordingPublisher) PublishRateChanged(_ context.Context, event events.RateChanged) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type testFixture struct {
	svc       *Service
	repo      *memory.Store
	rates     *cache.MemoryRateStore
	publisher *recordingPublisher
	clock     *clock.MockClock
}

func newTestService() testFixture {
	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewMockClock(now)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	repo := memory.NewSeeded(now)
	rateStore := cache.NewMemoryRateStore()
	rateCache := pricing.NewRateCache(repo, rateStore, 10*time.Minute, pricing.WithClock(clk), pricing.WithLogger(logger))
	publisher := &recordingPublisher{}

	svc := New(repo, rateCache, publisher, Options{InstanceID: "node-test", Clock: clk, Logger: logger})
	return testFixture{svc: svc, repo: repo, rates: rateStore, publisher: publisher, clock: clk}
}

func adminContext() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func viewerContext() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "front-desk", Role: domain.RoleViewer})
}

func weekQuote() domain.QuoteRequest {
	return domain.QuoteRequest{
		CheckIn:      "2026-03-02",
		CheckOut:     "2026-03-09",
		ApartmentIDs: []string{"lavanda"},
		Adults:       2,
	}
}

func TestQuoteUsesConfiguredWeeklyRate(t *testing.T) {
	f := newTestService()

	resp, err := f.svc.Quote(context.Background(), weekQuote())
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if !resp.Valid {
		t.Fatalf("expected a valid quote")
	}
	if resp.Calculation.Nights != 7 {
		t.Fatalf("expected 7 nights, got %d", resp.Calculation.Nights)
	}
	if resp.Calculation.BasePrice != 420 {
		t.Fatalf("expected low season base price 420, got %.2f", resp.Calculation.BasePrice)
	}
	if len(resp.Calculation.UsedFallbackFor) != 0 {
		t.Fatalf("expected no fallback, got %v", resp.Calculation.UsedFallbackFor)
	}
	if resp.CheckIn != "2026-03-02" || resp.CheckOut != "2026-03-09" {
		t.Fatalf("unexpected echoed dates %s..%s", resp.CheckIn, resp.CheckOut)
	}
}

func TestQuoteIncompleteInputIsNotValid(t *testing.T) {
	f := newTestService()

	req := weekQuote()
	req.CheckOut = ""
	resp, err := f.svc.Quote(context.Background(), req)
	if err != nil {
		t.Fatalf("expected incomplete input to be answered, got %v", err)
	}
	if resp.Valid {
		t.Fatalf("expected invalid quote without check-out")
	}
	if resp.Calculation.TotalAfterDiscount != 0 {
		t.Fatalf("expected empty calculation, got %+v", resp.Calculation)
	}
}

func TestQuoteRejectsMalformedDates(t *testing.T) {
	f := newTestService()

	req := weekQuote()
	req.CheckIn = "02/03/2026"
	_, err := f.svc.Quote(context.Background(), req)
	inputErr := domain.AsInputError(err)
	if inputErr == nil {
		t.Fatalf("expected input error, got %v", err)
	}
	if _, ok := inputErr.Fields()["check_in"]; !ok {
		t.Fatalf("expected check_in field error, got %v", inputErr.Fields())
	}
}

func TestUpsertRateRequiresAdmin(t *testing.T) {
	f := newTestService()
	req := domain.RateUpsertRequest{ApartmentID: "lavanda", WeekStart: "2026-03-02", Price: 500}

	if _, err := f.svc.UpsertRate(context.Background(), req); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden without actor, got %v", err)
	}
	if _, err := f.svc.UpsertRate(viewerContext(), req); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for viewer, got %v", err)
	}
}

func TestUpsertRateValidatesWeekStart(t *testing.T) {
	f := newTestService()

	_, err := f.svc.UpsertRate(adminContext(), domain.RateUpsertRequest{ApartmentID: "lavanda", WeekStart: "2026-03-03", Price: 500})
	inputErr := domain.AsInputError(err)
	if inputErr == nil {
		t.Fatalf("expected input error for a Tuesday, got %v", err)
	}
	if _, ok := inputErr.Fields()["week_start"]; !ok {
		t.Fatalf("expected week_start error, got %v", inputErr.Fields())
	}

	_, err = f.svc.UpsertRate(adminContext(), domain.RateUpsertRequest{ApartmentID: "", WeekStart: "2026-03-02", Price: -1})
	inputErr = domain.AsInputError(err)
	if inputErr == nil || inputErr.Len() != 2 {
		t.Fatalf("expected apartment_id and price errors, got %v", err)
	}
}

func TestUpsertRateUnknownApartment(t *testing.T) {
	f := newTestService()

	_, err := f.svc.UpsertRate(adminContext(), domain.RateUpsertRequest{ApartmentID: "ghost", WeekStart: "2026-03-02", Price: 500})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(f.publisher.events) != 0 {
		t.Fatalf("expected no event for a failed write")
	}
}

func TestUpsertRateRefreshesQuotes(t *testing.T) {
	f := newTestService()
	ctx := adminContext()

	if _, err := f.svc.Quote(ctx, weekQuote()); err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if f.rates.Len() == 0 {
		t.Fatalf("expected the quote to populate the rate cache")
	}

	if _, err := f.svc.UpsertRate(ctx, domain.RateUpsertRequest{ApartmentID: "lavanda", WeekStart: "2026-03-02", Price: 500}); err != nil {
		t.Fatalf("upsert rate failed: %v", err)
	}

	resp, err := f.svc.Quote(ctx, weekQuote())
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if resp.Calculation.BasePrice != 500 {
		t.Fatalf("expected updated base price 500 before ttl expiry, got %.2f", resp.Calculation.BasePrice)
	}
}

func TestUpsertRateRecordsHistoryAuditAndEvent(t *testing.T) {
	f := newTestService()
	ctx := adminContext()

	if _, err := f.svc.UpsertRate(ctx, domain.RateUpsertRequest{ApartmentID: "lavanda", WeekStart: "2026-03-02", Price: 500}); err != nil {
		t.Fatalf("upsert rate failed: %v", err)
	}

	history, err := f.svc.ListRateHistory(ctx, "lavanda", 10)
	if err != nil {
		t.Fatalf("list history failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected one history entry, got %d", len(history))
	}
	if history[0].OldPrice == nil || *history[0].OldPrice != 420 || history[0].NewPrice != 500 {
		t.Fatalf("unexpected history entry %+v", history[0])
	}
	if history[0].ChangedBy != "admin" {
		t.Fatalf("expected change attributed to admin, got %q", history[0].ChangedBy)
	}

	logs, err := f.svc.ListAuditLogs(ctx, "", 10)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	if len(logs) != 1 || logs[0].Action != "rate_upsert" || logs[0].EntityID != "lavanda/2026-03-02" {
		t.Fatalf("unexpected audit logs %+v", logs)
	}

	if len(f.publisher.events) != 1 {
		t.Fatalf("expected one published event, got %d", len(f.publisher.events))
	}
	event := f.publisher.events[0]
	if event.Source != "node-test" || event.Year != 2026 || event.Price == nil || *event.Price != 500 || event.Deleted {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestUpsertRateSurvivesPublishFailure(t *testing.T) {
	f := newTestService()
	f.publisher.err = errors.New("broker unavailable")

	if _, err := f.svc.UpsertRate(adminContext(), domain.RateUpsertRequest{ApartmentID: "lavanda", WeekStart: "2026-03-02", Price: 510}); err != nil {
		t.Fatalf("expected publish failure to be tolerated, got %v", err)
	}
}

func TestDeleteRateFallsBackToDefaultPrice(t *testing.T) {
	f := newTestService()
	ctx := adminContext()

	if err := f.svc.DeleteRate(ctx, "lavanda", "2026-03-02"); err != nil {
		t.Fatalf("delete rate failed: %v", err)
	}
	if err := f.svc.DeleteRate(ctx, "lavanda", "2026-03-02"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}

	resp, err := f.svc.Quote(ctx, weekQuote())
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if resp.Calculation.BasePrice != 450 {
		t.Fatalf("expected default price 450, got %.2f", resp.Calculation.BasePrice)
	}
	if len(resp.Calculation.UsedFallbackFor) != 1 || resp.Calculation.UsedFallbackFor[0] != "lavanda" {
		t.Fatalf("expected lavanda in fallback list, got %v", resp.Calculation.UsedFallbackFor)
	}

	if len(f.publisher.events) != 1 || !f.publisher.events[0].Deleted || f.publisher.events[0].Price != nil {
		t.Fatalf("expected one deleted event, got %+v", f.publisher.events)
	}
}

func TestListRatesFiltersByApartment(t *testing.T) {
	f := newTestService()

	all, err := f.svc.ListRates(context.Background(), 0, "")
	if err != nil {
		t.Fatalf("list rates failed: %v", err)
	}
	only, err := f.svc.ListRates(context.Background(), 2026, "salvia")
	if err != nil {
		t.Fatalf("list rates failed: %v", err)
	}
	if len(only) == 0 || len(all) != 3*len(only) {
		t.Fatalf("expected one third of %d rates, got %d", len(all), len(only))
	}
	for _, r := range only {
		if r.ApartmentID != "salvia" {
			t.Fatalf("unexpected apartment %q in filtered rates", r.ApartmentID)
		}
	}

	if _, err := f.svc.ListRates(context.Background(), 1900, ""); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid year to be rejected, got %v", err)
	}
}

func TestUpsertApartment(t *testing.T) {
	f := newTestService()
	cleaning := 45.0
	req := domain.ApartmentUpsertRequest{Name: " Timo ", DefaultPrice: 380, CleaningFee: &cleaning, Capacity: 3}

	if _, err := f.svc.UpsertApartment(viewerContext(), "timo", req); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for viewer, got %v", err)
	}

	saved, err := f.svc.UpsertApartment(adminContext(), "timo", req)
	if err != nil {
		t.Fatalf("upsert apartment failed: %v", err)
	}
	if saved.Name != "Timo" || saved.CleaningFee == nil || *saved.CleaningFee != 45 {
		t.Fatalf("unexpected saved apartment %+v", saved)
	}

	apartments, err := f.svc.ListApartments(context.Background())
	if err != nil {
		t.Fatalf("list apartments failed: %v", err)
	}
	if len(apartments) != 4 {
		t.Fatalf("expected 4 apartments, got %d", len(apartments))
	}

	_, err = f.svc.UpsertApartment(adminContext(), "bad", domain.ApartmentUpsertRequest{DefaultPrice: -1})
	if domain.AsInputError(err) == nil {
		t.Fatalf("expected input error, got %v", err)
	}

	for _, id := range []string{"lavanda:2026", "casa salvia"} {
		_, err = f.svc.UpsertApartment(adminContext(), id, req)
		inputErr := domain.AsInputError(err)
		if inputErr == nil {
			t.Fatalf("expected input error for id %q, got %v", id, err)
		}
		if _, ok := inputErr.Fields()["id"]; !ok {
			t.Fatalf("expected id error for %q, got %v", id, inputErr.Fields())
		}
	}
}

func TestWarmRateCacheDefaultsToCurrentAndNextYear(t *testing.T) {
	f := newTestService()

	resp, err := f.svc.WarmRateCache(adminContext(), domain.RateCacheWarmRequest{})
	if err != nil {
		t.Fatalf("warm failed: %v", err)
	}
	if len(resp.Years) != 2 || resp.Years[0] != 2026 || resp.Years[1] != 2027 {
		t.Fatalf("unexpected warmed years %v", resp.Years)
	}
	if resp.Entries == 0 || resp.Entries != f.rates.Len() {
		t.Fatalf("expected %d entries, got %d", f.rates.Len(), resp.Entries)
	}

	_, err = f.svc.WarmRateCache(adminContext(), domain.RateCacheWarmRequest{Years: []int{2020, 2021, 2022, 2023, 2024, 2025}})
	if domain.AsInputError(err) == nil {
		t.Fatalf("expected too many years to be rejected, got %v", err)
	}
}

func TestClearAndInvalidateRateCache(t *testing.T) {
	f := newTestService()
	ctx := adminContext()

	if _, err := f.svc.WarmRateCache(ctx, domain.RateCacheWarmRequest{Years: []int{2026}}); err != nil {
		t.Fatalf("warm failed: %v", err)
	}
	before := f.rates.Len()

	if err := f.svc.InvalidateRateCache(ctx, domain.RateCacheInvalidateRequest{ApartmentID: "lavanda", Year: 2026}); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	if f.rates.Len() >= before {
		t.Fatalf("expected invalidation to drop entries, %d -> %d", before, f.rates.Len())
	}

	if err := f.svc.InvalidateRateCache(ctx, domain.RateCacheInvalidateRequest{}); domain.AsInputError(err) == nil {
		t.Fatalf("expected input error, got %v", err)
	}

	if err := f.svc.ClearRateCache(viewerContext()); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for viewer, got %v", err)
	}
	if err := f.svc.ClearRateCache(ctx); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if f.rates.Len() != 0 {
		t.Fatalf("expected empty cache, got %d entries", f.rates.Len())
	}
}

func TestHandleRateChangedInvalidatesYear(t *testing.T) {
	f := newTestService()

	if _, err := f.svc.Quote(context.Background(), weekQuote()); err != nil {
		t.Fatalf("quote failed: %v", err)
	}

	// Another instance wrote the rate directly to the shared database.
	week := time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)
	if _, err := f.repo.UpsertRate(context.Background(), domain.ApartmentRate{ApartmentID: "lavanda", WeekStart: week, Price: 610}); err != nil {
		t.Fatalf("seed rate: %v", err)
	}
	price := 610.0
	if err := f.svc.HandleRateChanged(context.Background(), events.NewRateChanged("node-other", "lavanda", week, &price, f.clock.Now())); err != nil {
		t.Fatalf("handle event failed: %v", err)
	}

	resp, err := f.svc.Quote(context.Background(), weekQuote())
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if resp.Calculation.BasePrice != 610 {
		t.Fatalf("expected base price 610 after event, got %.2f", resp.Calculation.BasePrice)
	}
}

func TestListAuditLogsByDate(t *testing.T) {
	f := newTestService()
	ctx := adminContext()

	if _, err := f.svc.UpsertRate(ctx, domain.RateUpsertRequest{ApartmentID: "salvia", WeekStart: "2026-03-02", Price: 575}); err != nil {
		t.Fatalf("upsert rate failed: %v", err)
	}

	logs, err := f.svc.ListAuditLogs(ctx, "2026-03-01", 10)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected one entry on 2026-03-01, got %d", len(logs))
	}

	logs, err = f.svc.ListAuditLogs(ctx, "2026-02-28", 10)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	if len(logs) != 0 {
		t.Fatalf("expected no entries on 2026-02-28, got %d", len(logs))
	}

	if _, err := f.svc.ListAuditLogs(ctx, "yesterday", 10); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid date to be rejected, got %v", err)
	}
	if _, err := f.svc.ListAuditLogs(viewerContext(), "", 10); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for viewer, got %v", err)
	}
}

func TestBootstrapAdminIsIdempotent(t *testing.T) {
	f := newTestService()

	created, err := f.svc.BootstrapAdmin(context.Background(), " Admin ", "s3cure-Passw0rd!")
	if err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	if !created {
		t.Fatalf("expected admin to be created")
	}

	created, err = f.svc.BootstrapAdmin(context.Background(), "admin", "another-Passw0rd!")
	if err != nil {
		t.Fatalf("second bootstrap failed: %v", err)
	}
	if created {
		t.Fatalf("expected existing admin to be kept")
	}

	users, err := f.repo.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 || users[0].Username != "admin" || users[0].Role != domain.RoleAdmin {
		t.Fatalf("unexpected users %+v", users)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(users[0].Password), []byte("s3cure-Passw0rd!")); err != nil {
		t.Fatalf("expected stored bcrypt hash of the first password: %v", err)
	}
}
