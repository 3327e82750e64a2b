package pricing

import "staybook/backend/internal/domain"

const (
	LinenPerPerson       = 15.0
	PetCharge            = 50.0
	DefaultCleaningFee   = 50.0
	touristTaxMultiplier = 1.0
	// TouristTaxPerPerson is the per-guest figure shown with a quote. It is
	// not the multiplier used to compute TouristTax.
	TouristTaxPerPerson = 2.0
)

type ExtrasResult struct {
	ExtrasCost  float64
	CleaningFee float64
	TouristTax  float64
	LinenCost   float64
	PetsCost    float64
}

type ExtrasCalculator struct {
	guests GuestCounter
}

func NewExtrasCalculator(guests GuestCounter) *ExtrasCalculator {
	if guests == nil {
		guests = DefaultGuestCounter{}
	}
	return &ExtrasCalculator{guests: guests}
}

// Compute prices linen, pets, cleaning and tourist tax for the selected
// apartments. Only linen and pets make up ExtrasCost; cleaning fee and
// tourist tax are informational.
func (e *ExtrasCalculator) Compute(stay domain.StaySpecification, apartments []domain.Apartment, nights int) ExtrasResult {
	guests := e.guests.EffectiveCount(stay)

	linen := e.linenCost(stay, apartments, guests)
	pets := petsCost(stay, apartments)

	return ExtrasResult{
		ExtrasCost:  linen + pets,
		CleaningFee: cleaningFee(apartments),
		TouristTax:  touristTax(guests, nights),
		LinenCost:   linen,
		PetsCost:    pets,
	}
}

// Multi-apartment bookings with an occupant breakdown charge every occupant;
// otherwise crib and parent sleepers need no linen.
func (e *ExtrasCalculator) linenCost(stay domain.StaySpecification, apartments []domain.Apartment, guests GuestCount) float64 {
	if !stay.Linen {
		return 0
	}

	if len(apartments) > 1 && len(stay.ApartmentOccupants) > 0 {
		occupants := 0
		for _, apt := range apartments {
			occupants += stay.ApartmentOccupants[apt.ID]
		}
		return LinenPerPerson * float64(occupants)
	}

	people := max(stay.Adults, 0) + max(stay.Children, 0) - guests.SleepingWithParents - guests.SleepingInCribs
	return LinenPerPerson * float64(max(people, 0))
}

func petsCost(stay domain.StaySpecification, apartments []domain.Apartment) float64 {
	if !stay.Pets {
		return 0
	}
	if len(apartments) <= 1 || len(stay.ApartmentPets) == 0 {
		return PetCharge
	}

	flagged := 0
	for _, apt := range apartments {
		if stay.ApartmentPets[apt.ID] {
			flagged++
		}
	}
	return PetCharge * float64(flagged)
}

func cleaningFee(apartments []domain.Apartment) float64 {
	total := 0.0
	for _, apt := range apartments {
		total += apartmentCleaningFee(apt)
	}
	return total
}

func apartmentCleaningFee(apt domain.Apartment) float64 {
	if apt.CleaningFee == nil {
		return DefaultCleaningFee
	}
	return *apt.CleaningFee
}

func touristTax(guests GuestCount, nights int) float64 {
	taxable := guests.EffectiveGuestCount - guests.SleepingInCribs - guests.SleepingWithParents
	if taxable <= 0 || nights <= 0 {
		return 0
	}
	return float64(taxable) * float64(nights) * touristTaxMultiplier
}
