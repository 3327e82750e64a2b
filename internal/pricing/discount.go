package pricing

import "math"

const (
	roundingStep         = 50.0
	singleDepositPercent = 30.0
)

type DiscountResult struct {
	TotalAfterDiscount float64
	Discount           float64
	Savings            float64
	Deposit            float64
}

// RoundDownToStep floors amount to the nearest multiple of 50.
func RoundDownToStep(amount float64) float64 {
	return math.Floor(amount/roundingStep) * roundingStep
}

// ApplyDiscount applies the single-apartment rounding discount. Savings adds
// the tourist tax on top of the rounding discount even though the tax was
// never part of the total.
func ApplyDiscount(totalBeforeDiscount, touristTax float64) DiscountResult {
	after := RoundDownToStep(totalBeforeDiscount)
	discount := totalBeforeDiscount - after

	return DiscountResult{
		TotalAfterDiscount: after,
		Discount:           discount,
		Savings:            discount + touristTax,
		Deposit:            math.Ceil(after * singleDepositPercent / 100),
	}
}
