package store

import (
	"context"
	"errors"
	"time"

	"staybook/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
)

type Repository interface {
	// GetRatesForYear returns every weekly rate whose week starts in year. A
	// year without rates yields an empty slice.
	GetRatesForYear(ctx context.Context, year int) ([]domain.ApartmentRate, error)
	ListApartments(ctx context.Context) ([]domain.Apartment, error)
	GetApartment(ctx context.Context, id string) (*domain.Apartment, error)
	UpsertApartment(ctx context.Context, apartment domain.Apartment) (*domain.Apartment, error)
	// UpsertRate stores the weekly price and returns the price it replaced,
	// nil when the week had no rate.
	UpsertRate(ctx context.Context, rate domain.ApartmentRate) (*float64, error)
	DeleteRate(ctx context.Context, apartmentID string, weekStart time.Time) error
	CreateRateHistory(ctx context.Context, entry domain.RateHistory) error
	ListRateHistory(ctx context.Context, apartmentID string, limit int) ([]domain.RateHistory, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
}
