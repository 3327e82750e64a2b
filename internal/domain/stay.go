package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

type InputError struct {
	fields map[string][]string
}

func NewInputError() *InputError {
	return &InputError{fields: make(map[string][]string)}
}

func AsInputError(err error) *InputError {
	if err == nil {
		return nil
	}

	var inputErr *InputError
	if errors.As(err, &inputErr) {
		return inputErr
	}
	return nil
}

func (e *InputError) Add(field, msg string) {
	e.fields[field] = append(e.fields[field], msg)
}

func (e *InputError) Fields() map[string][]string {
	return e.fields
}

func (e *InputError) Len() int {
	return len(e.fields)
}

func (e *InputError) Error() string {
	keys := make([]string, 0, len(e.fields))
	for k := range e.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(e.fields[k], ", ")))
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

// ParseDate parses a YYYY-MM-DD calendar date at UTC midnight. An empty string
// yields the zero time.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(DateLayout, raw, time.UTC)
}

// ToStay turns a wire request into a StaySpecification. Malformed values are
// rejected; missing dates and an empty selection pass through so that the
// calculator can answer them with the empty result.
func (r QuoteRequest) ToStay() (StaySpecification, error) {
	inputErr := NewInputError()

	checkIn, err := ParseDate(r.CheckIn)
	if err != nil {
		inputErr.Add("check_in", "must be a YYYY-MM-DD date")
	}
	checkOut, err := ParseDate(r.CheckOut)
	if err != nil {
		inputErr.Add("check_out", "must be a YYYY-MM-DD date")
	}

	if r.Adults < 0 {
		inputErr.Add("adults", "must not be negative")
	}
	if r.Children < 0 {
		inputErr.Add("children", "must not be negative")
	}
	if len(r.ChildDetails) > r.Children && r.Children >= 0 {
		inputErr.Add("child_details", "more details than children")
	}

	ids := make([]string, 0, len(r.ApartmentIDs))
	seen := make(map[string]struct{}, len(r.ApartmentIDs))
	for _, id := range r.ApartmentIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			inputErr.Add("apartment_ids", "must not contain empty ids")
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	occupants := make(map[string]int, len(r.ApartmentOccupants))
	for id, n := range r.ApartmentOccupants {
		if n < 0 {
			inputErr.Add("apartment_occupants", fmt.Sprintf("%s must not be negative", id))
			continue
		}
		occupants[strings.TrimSpace(id)] = n
	}

	pets := make(map[string]bool, len(r.ApartmentPets))
	for id, flagged := range r.ApartmentPets {
		pets[strings.TrimSpace(id)] = flagged
	}

	if inputErr.Len() > 0 {
		return StaySpecification{}, inputErr
	}

	details := make([]ChildDetail, len(r.ChildDetails))
	copy(details, r.ChildDetails)

	return StaySpecification{
		CheckIn:            checkIn,
		CheckOut:           checkOut,
		ApartmentIDs:       ids,
		Adults:             r.Adults,
		Children:           r.Children,
		ChildDetails:       details,
		Linen:              r.Linen,
		Pets:               r.Pets,
		ApartmentPets:      pets,
		ApartmentOccupants: occupants,
		Notes:              strings.TrimSpace(r.Notes),
	}, nil
}
