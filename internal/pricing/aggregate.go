package pricing

import (
	"math"

	"staybook/backend/internal/domain"
)

const (
	multiDepositLowPercent  = 30.0
	multiDepositHighPercent = 35.0
	depositRoundingStep     = 100.0
)

type AggregateResult struct {
	DiscountResult
	DiscountedApartmentPrices map[string]float64
}

// AggregateApartments discounts every apartment on its own: each apartment's
// base price plus its own linen and pet charges is floored to the nearest 50
// and the floored prices are summed. The discount is measured against the
// whole-booking totalBeforeDiscount.
func AggregateApartments(
	stay domain.StaySpecification,
	apartments []domain.Apartment,
	basePrices map[string]float64,
	totalBeforeDiscount float64,
	touristTax float64,
) AggregateResult {
	discounted := make(map[string]float64, len(apartments))
	after := 0.0

	for _, apt := range apartments {
		subtotal := basePrices[apt.ID] + apartmentExtras(stay, apt.ID)
		price := RoundDownToStep(subtotal)
		discounted[apt.ID] = price
		after += price
	}

	discount := totalBeforeDiscount - after

	return AggregateResult{
		DiscountResult: DiscountResult{
			TotalAfterDiscount: after,
			Discount:           discount,
			Savings:            discount + touristTax,
			Deposit:            multiApartmentDeposit(after),
		},
		DiscountedApartmentPrices: discounted,
	}
}

func apartmentExtras(stay domain.StaySpecification, apartmentID string) float64 {
	extras := 0.0
	if stay.Linen {
		extras += LinenPerPerson * float64(max(stay.ApartmentOccupants[apartmentID], 0))
	}
	if stay.Pets && stay.ApartmentPets[apartmentID] {
		extras += PetCharge
	}
	return extras
}

// multiApartmentDeposit takes the lower of the 30% and 35% shares, each
// rounded to the nearest 100.
func multiApartmentDeposit(total float64) float64 {
	low := math.Round(total*multiDepositLowPercent/100/depositRoundingStep) * depositRoundingStep
	high := math.Round(total*multiDepositHighPercent/100/depositRoundingStep) * depositRoundingStep
	return math.Min(low, high)
}
