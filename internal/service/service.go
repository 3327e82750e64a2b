package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"staybook/backend/internal/clock"
	"staybook/backend/internal/domain"
	"staybook/backend/internal/events"
	"staybook/backend/internal/pricing"
	"staybook/backend/internal/store"
	"staybook/backend/internal/xid"
)

var ErrForbidden = errors.New("admin role required")

const (
	maxWarmYears   = 5
	minRateYear    = 2000
	maxRateYear    = 2100
	defaultListCap = 100
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	// InstanceID tags published events so an instance can skip its own.
	InstanceID string
	Clock      clock.Clock
	Logger     *slog.Logger
}

type Service struct {
	repo       store.Repository
	rates      *pricing.RateCache
	calculator *pricing.Calculator
	publisher  events.Publisher
	clock      clock.Clock
	logger     *slog.Logger
	instanceID string
}

func New(repo store.Repository, rates *pricing.RateCache, publisher events.Publisher, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewRealClock()
	}
	if publisher == nil {
		publisher = events.NoopPublisher{Logger: opts.Logger}
	}
	if opts.InstanceID == "" {
		opts.InstanceID = xid.New("node")
	}

	return &Service{
		repo:       repo,
		rates:      rates,
		calculator: pricing.NewCalculator(rates.Resolve, pricing.NewExtrasCalculator(nil), opts.Logger),
		publisher:  publisher,
		clock:      opts.Clock,
		logger:     opts.Logger.With("component", "service"),
		instanceID: opts.InstanceID,
	}
}

func (s *Service) InstanceID() string {
	return s.instanceID
}

// Quote prices a stay. Malformed input is rejected with a *domain.InputError;
// incomplete input yields a calculation with Valid=false.
func (s *Service) Quote(ctx context.Context, req domain.QuoteRequest) (domain.QuoteResponse, error) {
	stay, err := req.ToStay()
	if err != nil {
		return domain.QuoteResponse{}, err
	}

	apartments, err := s.repo.ListApartments(ctx)
	if err != nil {
		return domain.QuoteResponse{}, fmt.Errorf("list apartments: %w", err)
	}

	calc := s.calculator.Calculate(ctx, stay, apartments, nil)
	resp := domain.QuoteResponse{
		Valid:       !calc.IsEmpty(),
		Calculation: calc,
	}
	if !stay.CheckIn.IsZero() {
		resp.CheckIn = stay.CheckIn.Format(domain.DateLayout)
	}
	if !stay.CheckOut.IsZero() {
		resp.CheckOut = stay.CheckOut.Format(domain.DateLayout)
	}

	if len(calc.UsedFallbackFor) > 0 {
		s.logger.Info("quote used fallback prices", "apartments", calc.UsedFallbackFor, "check_in", resp.CheckIn)
	}
	return resp, nil
}

func (s *Service) ListApartments(ctx context.Context) ([]domain.Apartment, error) {
	return s.repo.ListApartments(ctx)
}

func (s *Service) UpsertApartment(ctx context.Context, id string, req domain.ApartmentUpsertRequest) (domain.Apartment, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Apartment{}, err
	}

	inputErr := domain.NewInputError()
	id = strings.TrimSpace(id)
	if id == "" {
		inputErr.Add("id", "is required")
	}
	// ':' separates the parts of shared rate cache keys.
	if strings.ContainsAny(id, ": \t\r\n") {
		inputErr.Add("id", "must not contain ':' or whitespace")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		inputErr.Add("name", "is required")
	}
	if req.DefaultPrice < 0 {
		inputErr.Add("default_price", "must not be negative")
	}
	if req.CleaningFee != nil && *req.CleaningFee < 0 {
		inputErr.Add("cleaning_fee", "must not be negative")
	}
	if req.Capacity < 0 {
		inputErr.Add("capacity", "must not be negative")
	}
	if inputErr.Len() > 0 {
		return domain.Apartment{}, inputErr
	}

	saved, err := s.repo.UpsertApartment(ctx, domain.Apartment{
		ID:           id,
		Name:         name,
		DefaultPrice: req.DefaultPrice,
		CleaningFee:  req.CleaningFee,
		Capacity:     req.Capacity,
	})
	if err != nil {
		return domain.Apartment{}, err
	}

	s.logAudit(ctx, "apartment_upsert", "apartment", saved.ID, fmt.Sprintf("name=%s,default_price=%.2f,capacity=%d", saved.Name, saved.DefaultPrice, saved.Capacity))
	return *saved, nil
}

// ListRates returns the configured weekly rates of year, optionally narrowed
// to one apartment. Year zero means the current year.
func (s *Service) ListRates(ctx context.Context, year int, apartmentID string) ([]domain.ApartmentRate, error) {
	if year == 0 {
		year = s.clock.Now().Year()
	}
	if year < minRateYear || year > maxRateYear {
		return nil, store.ErrInvalidInput
	}

	rates, err := s.repo.GetRatesForYear(ctx, year)
	if err != nil {
		return nil, err
	}

	apartmentID = strings.TrimSpace(apartmentID)
	if apartmentID == "" {
		return rates, nil
	}
	filtered := make([]domain.ApartmentRate, 0, 53)
	for _, r := range rates {
		if r.ApartmentID == apartmentID {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

func (s *Service) UpsertRate(ctx context.Context, req domain.RateUpsertRequest) (domain.ApartmentRate, error) {
	actor, err := adminActor(ctx)
	if err != nil {
		return domain.ApartmentRate{}, err
	}

	apartmentID, week, inputErr := parseRateKey(req.ApartmentID, req.WeekStart)
	if req.Price < 0 {
		inputErr.Add("price", "must not be negative")
	}
	if inputErr.Len() > 0 {
		return domain.ApartmentRate{}, inputErr
	}

	rate := domain.ApartmentRate{ApartmentID: apartmentID, WeekStart: week, Price: req.Price}
	previous, err := s.repo.UpsertRate(ctx, rate)
	if err != nil {
		return domain.ApartmentRate{}, err
	}

	now := s.clock.Now()
	if err := s.repo.CreateRateHistory(ctx, domain.RateHistory{
		ID:          xid.New("rh"),
		ApartmentID: apartmentID,
		WeekStart:   week,
		OldPrice:    previous,
		NewPrice:    req.Price,
		ChangedBy:   actor.Username,
		ChangedAt:   now,
	}); err != nil {
		s.logger.Warn("failed to record rate history", "apartment_id", apartmentID, "week_start", req.WeekStart, "error", err)
	}

	s.logAudit(ctx, "rate_upsert", "apartment_rate", rateEntityID(apartmentID, week), fmt.Sprintf("old=%s,new=%.2f", formatPrice(previous), req.Price))
	price := req.Price
	s.rateChanged(ctx, apartmentID, week, &price, now)

	return rate, nil
}

func (s *Service) DeleteRate(ctx context.Context, apartmentID string, weekStart string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}

	apartmentID, week, inputErr := parseRateKey(apartmentID, weekStart)
	if inputErr.Len() > 0 {
		return inputErr
	}
	if err := s.repo.DeleteRate(ctx, apartmentID, week); err != nil {
		return err
	}

	s.logAudit(ctx, "rate_delete", "apartment_rate", rateEntityID(apartmentID, week), "")
	s.rateChanged(ctx, apartmentID, week, nil, s.clock.Now())
	return nil
}

func (s *Service) ListRateHistory(ctx context.Context, apartmentID string, limit int) ([]domain.RateHistory, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = defaultListCap
	}
	return s.repo.ListRateHistory(ctx, strings.TrimSpace(apartmentID), limit)
}

// ListAuditLogs returns the entries of one UTC day, or of the last 24 hours
// when date is empty.
func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = defaultListCap
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		// the upper bound is exclusive
		from = s.clock.Now().Add(time.Second - 24*time.Hour)
	} else {
		parsed, err := domain.ParseDate(date)
		if err != nil {
			return nil, store.ErrInvalidInput
		}
		from = parsed
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) ClearRateCache(ctx context.Context) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := s.rates.Clear(ctx); err != nil {
		return err
	}
	s.logAudit(ctx, "rate_cache_clear", "rate_cache", "*", "")
	return nil
}

func (s *Service) InvalidateRateCache(ctx context.Context, req domain.RateCacheInvalidateRequest) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}

	inputErr := domain.NewInputError()
	apartmentID := strings.TrimSpace(req.ApartmentID)
	if apartmentID == "" {
		inputErr.Add("apartment_id", "is required")
	}
	if req.Year < minRateYear || req.Year > maxRateYear {
		inputErr.Add("year", fmt.Sprintf("must be between %d and %d", minRateYear, maxRateYear))
	}
	if inputErr.Len() > 0 {
		return inputErr
	}

	if err := s.rates.Invalidate(ctx, apartmentID, req.Year); err != nil {
		return err
	}
	s.logAudit(ctx, "rate_cache_invalidate", "rate_cache", fmt.Sprintf("%s/%d", apartmentID, req.Year), "")
	return nil
}

// WarmRateCache preloads the requested years, or the current and next year
// when none are given.
func (s *Service) WarmRateCache(ctx context.Context, req domain.RateCacheWarmRequest) (domain.RateCacheWarmResponse, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.RateCacheWarmResponse{}, err
	}

	years := slices.Clone(req.Years)
	if len(years) == 0 {
		current := s.clock.Now().Year()
		years = []int{current, current + 1}
	}
	slices.Sort(years)
	years = slices.Compact(years)

	inputErr := domain.NewInputError()
	if len(years) > maxWarmYears {
		inputErr.Add("years", fmt.Sprintf("at most %d years per request", maxWarmYears))
	}
	for _, y := range years {
		if y < minRateYear || y > maxRateYear {
			inputErr.Add("years", fmt.Sprintf("%d is out of range", y))
		}
	}
	if inputErr.Len() > 0 {
		return domain.RateCacheWarmResponse{}, inputErr
	}

	entries, err := s.rates.WarmYears(ctx, years...)
	if err != nil {
		return domain.RateCacheWarmResponse{}, err
	}
	s.logAudit(ctx, "rate_cache_warm", "rate_cache", "*", fmt.Sprintf("years=%v,entries=%d", years, entries))
	return domain.RateCacheWarmResponse{Years: years, Entries: entries}, nil
}

// HandleRateChanged applies a rate event published by another instance.
func (s *Service) HandleRateChanged(ctx context.Context, event events.RateChanged) error {
	if err := s.rates.Invalidate(ctx, event.ApartmentID, event.Year); err != nil {
		return fmt.Errorf("invalidate %s/%d: %w", event.ApartmentID, event.Year, err)
	}
	return nil
}

// BootstrapAdmin creates the admin account unless it already exists. It
// reports whether an account was created.
func (s *Service) BootstrapAdmin(ctx context.Context, username string, password string) (bool, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || password == "" {
		return false, store.ErrInvalidInput
	}

	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return false, err
	}
	for _, u := range users {
		if u.Username == username {
			return false, nil
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, err
	}
	err = s.repo.CreateUser(ctx, domain.UserAccount{
		Username:  username,
		Password:  string(hash),
		Role:      domain.RoleAdmin,
		Active:    true,
		CreatedAt: s.clock.Now(),
	})
	if errors.Is(err, store.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.logger.Info("admin account created", "username", username)
	return true, nil
}

// rateChanged drops the local cache for the affected year and tells the other
// instances to do the same. Failures are logged; the write already happened.
func (s *Service) rateChanged(ctx context.Context, apartmentID string, week time.Time, price *float64, at time.Time) {
	if err := s.rates.Invalidate(ctx, apartmentID, week.Year()); err != nil {
		s.logger.Warn("failed to invalidate rate cache", "apartment_id", apartmentID, "year", week.Year(), "error", err)
	}

	event := events.NewRateChanged(s.instanceID, apartmentID, week, price, at)
	if err := s.publisher.PublishRateChanged(ctx, event); err != nil {
		s.logger.Warn("failed to publish rate event", "event_id", event.EventID, "apartment_id", apartmentID, "error", err)
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.clock.Now(),
	}); err != nil {
		s.logger.Warn("failed to write audit log", "action", action, "entity", entityType+"/"+entityID, "error", err)
	}
}

func requireAdmin(ctx context.Context) error {
	_, err := adminActor(ctx)
	return err
}

func adminActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Actor{}, ErrForbidden
	}
	return actor, nil
}

// parseRateKey validates an (apartment, week) pair. Weeks must start on a
// Monday.
func parseRateKey(apartmentID string, weekStart string) (string, time.Time, *domain.InputError) {
	inputErr := domain.NewInputError()

	apartmentID = strings.TrimSpace(apartmentID)
	if apartmentID == "" {
		inputErr.Add("apartment_id", "is required")
	}

	week, err := domain.ParseDate(weekStart)
	switch {
	case err != nil:
		inputErr.Add("week_start", "must be a YYYY-MM-DD date")
	case week.IsZero():
		inputErr.Add("week_start", "is required")
	case week.Weekday() != time.Monday:
		inputErr.Add("week_start", "must be a Monday")
	}
	return apartmentID, week, inputErr
}

func rateEntityID(apartmentID string, week time.Time) string {
	return apartmentID + "/" + week.Format(domain.DateLayout)
}

func formatPrice(p *float64) string {
	if p == nil {
		return "none"
	}
	return fmt.Sprintf("%.2f", *p)
}
