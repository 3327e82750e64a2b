package pricing

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"staybook/backend/internal/domain"
)

// FallbackWeeklyPrice is charged per week when neither a configured rate nor
// the apartment's default price is available.
const FallbackWeeklyPrice = 100.0

// Calculator is the single entry point for pricing a stay. It is safe for
// concurrent use.
type Calculator struct {
	rates  RateFunc
	extras *ExtrasCalculator
	logger *slog.Logger
}

func NewCalculator(rates RateFunc, extras *ExtrasCalculator, logger *slog.Logger) *Calculator {
	if extras == nil {
		extras = NewExtrasCalculator(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Calculator{
		rates:  rates,
		extras: extras,
		logger: logger.With("component", "price_calculator"),
	}
}

// Calculate prices stay over the given apartments. When external is non-nil
// it replaces the calculator's own rate resolution. Invalid or incomplete
// input yields domain.EmptyPriceCalculation.
func (c *Calculator) Calculate(
	ctx context.Context,
	stay domain.StaySpecification,
	apartments []domain.Apartment,
	external RateFunc,
) domain.PriceCalculation {
	selected := selectApartments(stay.ApartmentIDs, apartments)
	if len(selected) == 0 {
		c.logger.Debug("empty quote", "reason", "no apartment selected")
		return domain.EmptyPriceCalculation()
	}
	if stay.CheckIn.IsZero() || stay.CheckOut.IsZero() || !DateOnly(stay.CheckIn).Before(DateOnly(stay.CheckOut)) {
		c.logger.Debug("empty quote", "reason", "invalid dates")
		return domain.EmptyPriceCalculation()
	}

	nights := NightsBetween(stay.CheckIn, stay.CheckOut)
	if nights <= 0 {
		return domain.EmptyPriceCalculation()
	}
	weeks := WeekStartsCoveringStay(stay.CheckIn, stay.CheckOut)

	rateFn := external
	if rateFn == nil {
		rateFn = c.rates
	}

	apartmentTotals := make(map[string]float64, len(selected))
	fallbacks := make([]string, 0)
	basePrice := 0.0
	for _, apt := range selected {
		raw, usedFallback := apartmentRawTotal(ctx, rateFn, apt, weeks)
		if usedFallback {
			fallbacks = append(fallbacks, apt.ID)
		}
		total := ProrateWeeklyTotal(raw, nights, len(weeks))
		apartmentTotals[apt.ID] = total
		basePrice += total
	}
	sort.Strings(fallbacks)

	extras := c.extras.Compute(stay, selected, nights)
	subtotal := basePrice + extras.ExtrasCost

	result := domain.PriceCalculation{
		BasePrice:           basePrice,
		Extras:              extras.ExtrasCost,
		LinenCost:           extras.LinenCost,
		PetsCost:            extras.PetsCost,
		CleaningFee:         extras.CleaningFee,
		TouristTax:          extras.TouristTax,
		TouristTaxPerPerson: TouristTaxPerPerson,
		TotalBeforeDiscount: subtotal,
		Nights:              nights,
		Subtotal:            subtotal,
		UsedFallbackFor:     fallbacks,
	}

	if len(selected) == 1 {
		d := ApplyDiscount(subtotal, extras.TouristTax)
		result.TotalAfterDiscount = d.TotalAfterDiscount
		result.Discount = d.Discount
		result.Savings = d.Savings
		result.Deposit = d.Deposit
		result.ApartmentPrices = apartmentTotals
	} else {
		agg := AggregateApartments(stay, selected, apartmentTotals, subtotal, extras.TouristTax)
		result.TotalAfterDiscount = agg.TotalAfterDiscount
		result.Discount = agg.Discount
		result.Savings = agg.Savings
		result.Deposit = agg.Deposit
		result.ApartmentPrices = agg.DiscountedApartmentPrices
	}

	c.logger.Debug("quote calculated",
		"apartments", len(selected),
		"nights", nights,
		"weeks", len(weeks),
		"total", result.TotalAfterDiscount,
		"fallbacks", len(fallbacks),
	)
	return result
}

// ProrateWeeklyTotal scales a sum of weekly rates down to the nights actually
// stayed when the covering weeks span more days than the stay.
func ProrateWeeklyTotal(raw float64, nights int, weeks int) float64 {
	span := weeks * 7
	if weeks <= 0 || nights >= span {
		return raw
	}
	return math.Round(raw * float64(nights) / float64(span))
}

func apartmentRawTotal(ctx context.Context, rateFn RateFunc, apt domain.Apartment, weeks []time.Time) (float64, bool) {
	total := 0.0
	usedFallback := false
	for _, week := range weeks {
		var rate float64
		if rateFn != nil {
			rate = rateFn(ctx, apt.ID, week)
		}
		if rate <= 0 {
			rate = defaultWeeklyPrice(apt)
			usedFallback = true
		}
		total += rate
	}
	return total, usedFallback
}

func defaultWeeklyPrice(apt domain.Apartment) float64 {
	if apt.DefaultPrice > 0 {
		return apt.DefaultPrice
	}
	return FallbackWeeklyPrice
}

// selectApartments keeps the selected ids that resolve to a known apartment,
// in selection order.
func selectApartments(ids []string, apartments []domain.Apartment) []domain.Apartment {
	if len(ids) == 0 || len(apartments) == 0 {
		return nil
	}

	byID := make(map[string]domain.Apartment, len(apartments))
	for _, apt := range apartments {
		byID[apt.ID] = apt
	}

	selected := make([]domain.Apartment, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		apt, ok := byID[id]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		selected = append(selected, apt)
	}
	return selected
}
