package pricing

import "staybook/backend/internal/domain"

type GuestCount struct {
	TotalGuests         int
	EffectiveGuestCount int
	SleepingWithParents int
	SleepingInCribs     int
}

// GuestCounter decides which guests occupy a bed and which are exempt from
// the tourist tax.
type GuestCounter interface {
	EffectiveCount(stay domain.StaySpecification) GuestCount
}

// DefaultGuestCounter counts every adult and child as a guest. A child in a
// crib is counted only as a crib sleeper even if also flagged as sleeping
// with the parents.
type DefaultGuestCounter struct{}

func (DefaultGuestCounter) EffectiveCount(stay domain.StaySpecification) GuestCount {
	total := max(stay.Adults, 0) + max(stay.Children, 0)

	count := GuestCount{TotalGuests: total, EffectiveGuestCount: total}
	for _, child := range stay.ChildDetails {
		switch {
		case child.SleepsInCrib:
			count.SleepingInCribs++
		case child.SleepsWithParents:
			count.SleepingWithParents++
		}
	}
	return count
}
