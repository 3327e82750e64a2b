package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"staybook/backend/internal/domain"
	"staybook/backend/internal/pricing"
	"staybook/backend/internal/store"
	"staybook/backend/internal/xid"
)

type rateKey struct {
	apartmentID string
	week        string
}

type Store struct {
	mu              sync.RWMutex
	apartments      map[string]domain.Apartment
	rates           map[rateKey]domain.ApartmentRate
	historyByApt    map[string][]domain.RateHistory
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		apartments:      make(map[string]domain.Apartment),
		rates:           make(map[rateKey]domain.ApartmentRate),
		historyByApt:    make(map[string][]domain.RateHistory),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

type seedApartment struct {
	apartment domain.Apartment
	low       float64
	high      float64
}

func seedApartments() []seedApartment {
	fee := func(v float64) *float64 { return &v }
	return []seedApartment{
		{domain.Apartment{ID: "lavanda", Name: "Lavanda", DefaultPrice: 450, CleaningFee: fee(60), Capacity: 4}, 420, 780},
		{domain.Apartment{ID: "rosmarino", Name: "Rosmarino", DefaultPrice: 350, Capacity: 2}, 330, 610},
		{domain.Apartment{ID: "salvia", Name: "Salvia", DefaultPrice: 600, CleaningFee: fee(80), Capacity: 6}, 560, 990},
	}
}

// NewSeeded returns a store with demo apartments and a weekly rate for every
// Monday of now's year and the year after. June to September use the high
// season price.
func NewSeeded(now time.Time) *Store {
	s := New()
	for _, seed := range seedApartments() {
		s.apartments[seed.apartment.ID] = seed.apartment
		for year := now.Year(); year <= now.Year()+1; year++ {
			for _, week := range mondaysOf(year) {
				price := seed.low
				if pricing.IsHighSeason(week) {
					price = seed.high
				}
				s.rates[keyOf(seed.apartment.ID, week)] = domain.ApartmentRate{
					ApartmentID: seed.apartment.ID,
					WeekStart:   week,
					Price:       price,
				}
			}
		}
	}
	return s
}

func mondaysOf(year int) []time.Time {
	first := pricing.WeekStartOf(time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC))
	if first.Year() < year {
		first = first.AddDate(0, 0, 7)
	}

	weeks := make([]time.Time, 0, 53)
	for w := first; w.Year() == year; w = w.AddDate(0, 0, 7) {
		weeks = append(weeks, w)
	}
	return weeks
}

func keyOf(apartmentID string, week time.Time) rateKey {
	return rateKey{apartmentID: apartmentID, week: pricing.DateOnly(week).Format(domain.DateLayout)}
}

func (s *Store) GetRatesForYear(_ context.Context, year int) ([]domain.ApartmentRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rates := make([]domain.ApartmentRate, 0, 64)
	for _, r := range s.rates {
		if r.WeekStart.Year() == year {
			rates = append(rates, r)
		}
	}
	slices.SortFunc(rates, func(a, b domain.ApartmentRate) int {
		if a.ApartmentID == b.ApartmentID {
			return a.WeekStart.Compare(b.WeekStart)
		}
		return strings.Compare(a.ApartmentID, b.ApartmentID)
	})
	return rates, nil
}

func (s *Store) ListApartments(_ context.Context) ([]domain.Apartment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	apartments := make([]domain.Apartment, 0, len(s.apartments))
	for _, apt := range s.apartments {
		apartments = append(apartments, cloneApartment(apt))
	}
	slices.SortFunc(apartments, func(a, b domain.Apartment) int {
		return strings.Compare(a.ID, b.ID)
	})
	return apartments, nil
}

func (s *Store) GetApartment(_ context.Context, id string) (*domain.Apartment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	apt, exists := s.apartments[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	found := cloneApartment(apt)
	return &found, nil
}

func (s *Store) UpsertApartment(_ context.Context, apartment domain.Apartment) (*domain.Apartment, error) {
	if !validApartment(apartment) {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.apartments[apartment.ID] = cloneApartment(apartment)
	saved := cloneApartment(apartment)
	return &saved, nil
}

func (s *Store) UpsertRate(_ context.Context, rate domain.ApartmentRate) (*float64, error) {
	if rate.ApartmentID == "" || rate.WeekStart.IsZero() || rate.Price < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.apartments[rate.ApartmentID]; !exists {
		return nil, store.ErrNotFound
	}

	rate.WeekStart = pricing.DateOnly(rate.WeekStart)
	key := keyOf(rate.ApartmentID, rate.WeekStart)

	var previous *float64
	if old, exists := s.rates[key]; exists {
		price := old.Price
		previous = &price
	}
	s.rates[key] = rate
	return previous, nil
}

func (s *Store) DeleteRate(_ context.Context, apartmentID string, weekStart time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := keyOf(apartmentID, weekStart)
	if _, exists := s.rates[key]; !exists {
		return store.ErrNotFound
	}
	delete(s.rates, key)
	return nil
}

func (s *Store) CreateRateHistory(_ context.Context, entry domain.RateHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("rh")
	}
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now().UTC()
	}
	s.historyByApt[entry.ApartmentID] = append(s.historyByApt[entry.ApartmentID], entry)
	return nil
}

// ListRateHistory returns newest first. An empty apartmentID lists every
// apartment.
func (s *Store) ListRateHistory(_ context.Context, apartmentID string, limit int) ([]domain.RateHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.RateHistory, 0, 32)
	for id, entries := range s.historyByApt {
		if apartmentID != "" && id != apartmentID {
			continue
		}
		result = append(result, entries...)
	}

	slices.SortFunc(result, func(a, b domain.RateHistory) int {
		if a.ChangedAt.Equal(b.ChangedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		return b.ChangedAt.Compare(a.ChangedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleAdmin
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func validApartment(apt domain.Apartment) bool {
	if strings.TrimSpace(apt.ID) == "" || strings.TrimSpace(apt.Name) == "" {
		return false
	}
	if apt.DefaultPrice < 0 || apt.Capacity < 0 {
		return false
	}
	return apt.CleaningFee == nil || *apt.CleaningFee >= 0
}

func cloneApartment(src domain.Apartment) domain.Apartment {
	dst := src
	if src.CleaningFee != nil {
		fee := *src.CleaningFee
		dst.CleaningFee = &fee
	}
	return dst
}
