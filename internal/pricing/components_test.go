package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"staybook/backend/internal/domain"
)

func TestNightsBetween(t *testing.T) {
	assert.Equal(t, 7, NightsBetween(date(t, "2025-01-06"), date(t, "2025-01-13")))
	assert.Equal(t, 1, NightsBetween(date(t, "2025-03-29"), date(t, "2025-03-30")))
	assert.Equal(t, 365, NightsBetween(date(t, "2025-01-01"), date(t, "2026-01-01")))
	assert.Equal(t, 0, NightsBetween(date(t, "2025-01-06"), date(t, "2025-01-06")))
	assert.Equal(t, -3, NightsBetween(date(t, "2025-01-09"), date(t, "2025-01-06")))
}

func TestWeekStartOf(t *testing.T) {
	monday := date(t, "2025-01-06")
	for offset := 0; offset < 7; offset++ {
		assert.Equal(t, monday, WeekStartOf(monday.AddDate(0, 0, offset)), "offset=%d", offset)
	}
	assert.Equal(t, date(t, "2024-12-30"), WeekStartOf(date(t, "2025-01-01")))
}

func TestWeekStartsCoveringStay(t *testing.T) {
	t.Run("monday to monday", func(t *testing.T) {
		weeks := WeekStartsCoveringStay(date(t, "2025-01-06"), date(t, "2025-01-20"))
		assert.Equal(t, []string{"2025-01-06", "2025-01-13"}, formatDates(weeks))
	})

	t.Run("mid-week stay starts at previous monday", func(t *testing.T) {
		weeks := WeekStartsCoveringStay(date(t, "2025-01-08"), date(t, "2025-01-15"))
		assert.Equal(t, []string{"2025-01-06", "2025-01-13"}, formatDates(weeks))
	})

	t.Run("at least ceil(nights/7) weeks", func(t *testing.T) {
		checkIn := date(t, "2025-02-05")
		for nights := 1; nights <= 30; nights++ {
			weeks := WeekStartsCoveringStay(checkIn, checkIn.AddDate(0, 0, nights))
			assert.GreaterOrEqual(t, len(weeks), (nights+6)/7)
		}
	})
}

func TestIsHighSeason(t *testing.T) {
	assert.False(t, IsHighSeason(date(t, "2025-05-31")))
	assert.True(t, IsHighSeason(date(t, "2025-06-01")))
	assert.True(t, IsHighSeason(date(t, "2025-09-30")))
	assert.False(t, IsHighSeason(date(t, "2025-10-01")))
}

func TestRateTable_RateFor(t *testing.T) {
	table := NewRateTable(2025, []domain.ApartmentRate{
		{ApartmentID: "A", WeekStart: date(t, "2025-01-06"), Price: 400},
		{ApartmentID: "A", WeekStart: date(t, "2025-01-13"), Price: 420},
		{ApartmentID: "B", WeekStart: date(t, "2025-01-06"), Price: 300},
		{ApartmentID: "A", WeekStart: date(t, "2024-12-30"), Price: 999},
	})

	t.Run("exact match", func(t *testing.T) {
		assert.Equal(t, 420.0, table.RateFor("A", date(t, "2025-01-13")))
		assert.Equal(t, 300.0, table.RateFor("B", date(t, "2025-01-06")))
	})

	t.Run("mid-week date borrows closest prior week", func(t *testing.T) {
		assert.Equal(t, 400.0, table.RateFor("A", date(t, "2025-01-08")))
		assert.Equal(t, 420.0, table.RateFor("A", date(t, "2025-01-19")))
	})

	t.Run("more than six days back is unresolved", func(t *testing.T) {
		assert.Equal(t, 0.0, table.RateFor("B", date(t, "2025-01-13")))
	})

	t.Run("later weeks are never borrowed", func(t *testing.T) {
		assert.Equal(t, 0.0, table.RateFor("A", date(t, "2025-01-05")))
	})

	t.Run("other years are ignored", func(t *testing.T) {
		assert.Equal(t, 3, table.Len())
		assert.Equal(t, 0.0, table.RateFor("A", date(t, "2024-12-30")))
	})

	t.Run("unknown apartment", func(t *testing.T) {
		assert.Equal(t, 0.0, table.RateFor("Z", date(t, "2025-01-06")))
	})
}

func TestExtras_Linen(t *testing.T) {
	extras := NewExtrasCalculator(nil)
	one := testApartments[:1]
	two := testApartments[:2]

	t.Run("not requested", func(t *testing.T) {
		got := extras.Compute(domain.StaySpecification{Adults: 2}, one, 7)
		assert.Equal(t, 0.0, got.LinenCost)
	})

	t.Run("single apartment skips crib and parent sleepers", func(t *testing.T) {
		stay := domain.StaySpecification{
			Adults:   2,
			Children: 3,
			ChildDetails: []domain.ChildDetail{
				{Under12: true, SleepsInCrib: true},
				{Under12: true, SleepsWithParents: true},
				{Under12: false},
			},
			Linen: true,
		}
		got := extras.Compute(stay, one, 7)
		assert.Equal(t, 45.0, got.LinenCost)
		assert.Equal(t, 45.0, got.ExtrasCost)
	})

	t.Run("multi apartment charges every listed occupant", func(t *testing.T) {
		stay := domain.StaySpecification{
			Adults:             2,
			Children:           1,
			ChildDetails:       []domain.ChildDetail{{SleepsInCrib: true}},
			Linen:              true,
			ApartmentOccupants: map[string]int{"A": 2, "B": 1},
		}
		got := extras.Compute(stay, two, 7)
		assert.Equal(t, 45.0, got.LinenCost)
	})

	t.Run("multi apartment without occupants uses guest count", func(t *testing.T) {
		stay := domain.StaySpecification{
			Adults:       3,
			Children:     1,
			ChildDetails: []domain.ChildDetail{{SleepsWithParents: true}},
			Linen:        true,
		}
		got := extras.Compute(stay, two, 7)
		assert.Equal(t, 45.0, got.LinenCost)
	})
}

func TestExtras_Pets(t *testing.T) {
	extras := NewExtrasCalculator(nil)

	assert.Equal(t, 0.0, extras.Compute(domain.StaySpecification{}, testApartments[:1], 7).PetsCost)
	assert.Equal(t, 50.0, extras.Compute(domain.StaySpecification{Pets: true}, testApartments[:1], 7).PetsCost)
	assert.Equal(t, 50.0, extras.Compute(domain.StaySpecification{Pets: true}, testApartments, 7).PetsCost)

	stay := domain.StaySpecification{Pets: true, ApartmentPets: map[string]bool{"A": true, "B": false, "C": true}}
	assert.Equal(t, 100.0, extras.Compute(stay, testApartments, 7).PetsCost)

	none := domain.StaySpecification{Pets: true, ApartmentPets: map[string]bool{"A": false}}
	assert.Equal(t, 0.0, extras.Compute(none, testApartments, 7).PetsCost)
}

func TestExtras_InformationalCharges(t *testing.T) {
	extras := NewExtrasCalculator(nil)
	stay := domain.StaySpecification{
		Adults:   2,
		Children: 2,
		ChildDetails: []domain.ChildDetail{
			{Under12: true, SleepsInCrib: true, SleepsWithParents: true},
		},
	}

	got := extras.Compute(stay, testApartments, 5)

	// A is configured at 60, B and C use the default.
	assert.Equal(t, 160.0, got.CleaningFee)
	assert.Equal(t, 15.0, got.TouristTax)
	assert.Equal(t, 0.0, got.ExtrasCost)
}

func TestApplyDiscount(t *testing.T) {
	t.Run("floors to fifty", func(t *testing.T) {
		for total := 0.0; total <= 1000; total += 0.5 {
			got := ApplyDiscount(total, 0)
			assert.Equal(t, float64(int(total/50))*50, got.TotalAfterDiscount)
			assert.GreaterOrEqual(t, got.Discount, 0.0)
			assert.Less(t, got.Discount, 50.0)
		}
	})

	t.Run("below fifty discounts everything", func(t *testing.T) {
		got := ApplyDiscount(49, 3)
		assert.Equal(t, 0.0, got.TotalAfterDiscount)
		assert.Equal(t, 49.0, got.Discount)
		assert.Equal(t, 52.0, got.Savings)
		assert.Equal(t, 0.0, got.Deposit)
	})

	t.Run("deposit rounds up", func(t *testing.T) {
		assert.Equal(t, 15.0, ApplyDiscount(50, 0).Deposit)
		assert.Equal(t, 105.0, ApplyDiscount(350, 0).Deposit)
		assert.Equal(t, 165.0, ApplyDiscount(550, 0).Deposit)
	})
}

func TestMultiApartmentDeposit(t *testing.T) {
	assert.Equal(t, 100.0, multiApartmentDeposit(350))
	assert.Equal(t, 300.0, multiApartmentDeposit(1000))
	assert.Equal(t, 400.0, multiApartmentDeposit(1450))
	assert.Equal(t, 0.0, multiApartmentDeposit(0))
}

func TestProrateWeeklyTotal(t *testing.T) {
	assert.Equal(t, 800.0, ProrateWeeklyTotal(800, 14, 2))
	assert.Equal(t, 400.0, ProrateWeeklyTotal(800, 7, 2))
	assert.Equal(t, 343.0, ProrateWeeklyTotal(800, 6, 2))
	assert.Equal(t, 0.0, ProrateWeeklyTotal(0, 3, 1))
}

func formatDates(dates []time.Time) []string {
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		out = append(out, d.Format(domain.DateLayout))
	}
	return out
}
