package pricing

import (
	"sort"
	"time"

	"staybook/backend/internal/domain"
)

// maxPriorGapDays bounds how far back a rate may be borrowed when the caller
// passes a mid-week date instead of the canonical Monday.
const maxPriorGapDays = 6

// RateTable indexes one calendar year of weekly rates.
type RateTable struct {
	year        int
	exact       map[string]float64
	byApartment map[string][]domain.ApartmentRate
}

func NewRateTable(year int, rates []domain.ApartmentRate) *RateTable {
	t := &RateTable{
		year:        year,
		exact:       make(map[string]float64, len(rates)),
		byApartment: make(map[string][]domain.ApartmentRate),
	}

	for _, r := range rates {
		start := DateOnly(r.WeekStart)
		if start.Year() != year || r.ApartmentID == "" {
			continue
		}
		r.WeekStart = start
		t.exact[rateKey(r.ApartmentID, start)] = r.Price
		t.byApartment[r.ApartmentID] = append(t.byApartment[r.ApartmentID], r)
	}

	for id := range t.byApartment {
		list := t.byApartment[id]
		sort.Slice(list, func(i, j int) bool { return list[i].WeekStart.Before(list[j].WeekStart) })
	}

	return t
}

func (t *RateTable) Year() int {
	return t.year
}

func (t *RateTable) Len() int {
	return len(t.exact)
}

// Entries returns every (apartment, week) rate of the table.
func (t *RateTable) Entries() []domain.ApartmentRate {
	out := make([]domain.ApartmentRate, 0, len(t.exact))
	for _, list := range t.byApartment {
		out = append(out, list...)
	}
	return out
}

// RateFor resolves the weekly price of an apartment. An exact week match wins;
// otherwise the closest earlier entry no more than six days before weekStart
// is used. Zero means unresolved.
func (t *RateTable) RateFor(apartmentID string, weekStart time.Time) float64 {
	if t == nil {
		return 0
	}

	day := DateOnly(weekStart)
	if day.Year() != t.year {
		return 0
	}
	if price, ok := t.exact[rateKey(apartmentID, day)]; ok {
		return price
	}

	best := -1
	var price float64
	for _, r := range t.byApartment[apartmentID] {
		gap := NightsBetween(r.WeekStart, day)
		if gap < 0 || gap > maxPriorGapDays {
			continue
		}
		if best == -1 || gap < best {
			best = gap
			price = r.Price
		}
	}
	if best == -1 {
		return 0
	}
	return price
}

func rateKey(apartmentID string, weekStart time.Time) string {
	return apartmentID + "|" + weekStart.Format(domain.DateLayout)
}
