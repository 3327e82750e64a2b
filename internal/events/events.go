package events

import (
	"context"
	"log/slog"
	"time"

	"staybook/backend/internal/domain"
	"staybook/backend/internal/xid"
)

// RateChanged announces that the weekly rate of one apartment was written or
// deleted. Instances use it to drop their cached weeks for that year.
type RateChanged struct {
	EventID     string    `json:"event_id"`
	Source      string    `json:"source,omitempty"`
	ApartmentID string    `json:"apartment_id"`
	WeekStart   string    `json:"week_start"`
	Year        int       `json:"year"`
	Price       *float64  `json:"price"`
	Deleted     bool      `json:"deleted,omitempty"`
	ChangedAt   time.Time `json:"changed_at"`
}

func NewRateChanged(source string, apartmentID string, weekStart time.Time, price *float64, changedAt time.Time) RateChanged {
	week := weekStart.UTC()
	return RateChanged{
		EventID:     xid.New("evt"),
		Source:      source,
		ApartmentID: apartmentID,
		WeekStart:   week.Format(domain.DateLayout),
		Year:        week.Year(),
		Price:       price,
		Deleted:     price == nil,
		ChangedAt:   changedAt.UTC(),
	}
}

type Publisher interface {
	PublishRateChanged(ctx context.Context, event RateChanged) error
	Close() error
}

type RateChangedHandler func(ctx context.Context, event RateChanged) error

// NoopPublisher is used when no broker is configured.
type NoopPublisher struct {
	Logger *slog.Logger
}

func (p NoopPublisher) PublishRateChanged(_ context.Context, event RateChanged) error {
	if p.Logger != nil {
		p.Logger.Debug("rate event publish skipped", "mode", "noop", "apartment_id", event.ApartmentID, "year", event.Year)
	}
	return nil
}

func (NoopPublisher) Close() error {
	return nil
}
