package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const dateLayout = "2006-01-02"

// RateEntry is one cached weekly price. Validated is false when the lookup
// found no configured rate and the price is the unresolved zero.
type RateEntry struct {
	Price     float64   `json:"price"`
	FetchedAt time.Time `json:"fetched_at"`
	Validated bool      `json:"validated"`
}

type RateStore interface {
	Get(ctx context.Context, apartmentID string, weekStart time.Time) (RateEntry, bool, error)
	Set(ctx context.Context, apartmentID string, weekStart time.Time, entry RateEntry) error
	SetMany(ctx context.Context, entries map[RateKey]RateEntry) error
	Invalidate(ctx context.Context, apartmentID string, year int) (int, error)
	Clear(ctx context.Context) error
}

type RateKey struct {
	ApartmentID string
	Week        string
}

func NewRateKey(apartmentID string, weekStart time.Time) RateKey {
	return RateKey{ApartmentID: apartmentID, Week: weekStart.UTC().Format(dateLayout)}
}

func (k RateKey) inYear(apartmentID string, year int) bool {
	return k.ApartmentID == apartmentID && strings.HasPrefix(k.Week, fmt.Sprintf("%04d-", year))
}

type MemoryRateStore struct {
	mu      sync.RWMutex
	entries map[RateKey]RateEntry
}

func NewMemoryRateStore() *MemoryRateStore {
	return &MemoryRateStore{entries: make(map[RateKey]RateEntry)}
}

func (s *MemoryRateStore) Get(_ context.Context, apartmentID string, weekStart time.Time) (RateEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[NewRateKey(apartmentID, weekStart)]
	return entry, ok, nil
}

func (s *MemoryRateStore) Set(_ context.Context, apartmentID string, weekStart time.Time, entry RateEntry) error {
	s.mu.Lock()
	s.entries[NewRateKey(apartmentID, weekStart)] = entry
	s.mu.Unlock()
	return nil
}

func (s *MemoryRateStore) SetMany(_ context.Context, entries map[RateKey]RateEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range entries {
		s.entries[k] = v
	}
	return nil
}

func (s *MemoryRateStore) Invalidate(_ context.Context, apartmentID string, year int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k := range s.entries {
		if k.inYear(apartmentID, year) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryRateStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.entries = make(map[RateKey]RateEntry)
	s.mu.Unlock()
	return nil
}

func (s *MemoryRateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
