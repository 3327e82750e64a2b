package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"staybook/backend/internal/domain"
	"staybook/backend/internal/store"
	"staybook/backend/internal/xid"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetRatesForYear(ctx context.Context, year int) ([]domain.ApartmentRate, error) {
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, 0)

	rows, err := s.db.QueryContext(ctx, `
		SELECT apartment_id, week_start, price
		FROM apartment_rates
		WHERE week_start >= $1 AND week_start < $2
		ORDER BY apartment_id, week_start
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rates := make([]domain.ApartmentRate, 0, 256)
	for rows.Next() {
		var r domain.ApartmentRate
		if err := rows.Scan(&r.ApartmentID, &r.WeekStart, &r.Price); err != nil {
			return nil, err
		}
		r.WeekStart = dateUTC(r.WeekStart)
		rates = append(rates, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rates, nil
}

func (s *Store) ListApartments(ctx context.Context) ([]domain.Apartment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, default_price, cleaning_fee, capacity
		FROM apartments
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	apartments := make([]domain.Apartment, 0, 16)
	for rows.Next() {
		apt, err := scanApartment(rows)
		if err != nil {
			return nil, err
		}
		apartments = append(apartments, apt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return apartments, nil
}

func (s *Store) GetApartment(ctx context.Context, id string) (*domain.Apartment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, default_price, cleaning_fee, capacity
		FROM apartments
		WHERE id = $1
	`, id)
	apt, err := scanApartment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &apt, nil
}

func (s *Store) UpsertApartment(ctx context.Context, apartment domain.Apartment) (*domain.Apartment, error) {
	apartment.ID = strings.TrimSpace(apartment.ID)
	apartment.Name = strings.TrimSpace(apartment.Name)
	if apartment.ID == "" || apartment.Name == "" || apartment.DefaultPrice < 0 || apartment.Capacity < 0 {
		return nil, store.ErrInvalidInput
	}
	if apartment.CleaningFee != nil && *apartment.CleaningFee < 0 {
		return nil, store.ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO apartments (id, name, default_price, cleaning_fee, capacity, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now(),now())
		ON CONFLICT (id)
		DO UPDATE SET name = EXCLUDED.name,
			default_price = EXCLUDED.default_price,
			cleaning_fee = EXCLUDED.cleaning_fee,
			capacity = EXCLUDED.capacity,
			updated_at = now()
	`, apartment.ID, apartment.Name, apartment.DefaultPrice, nullFloat(apartment.CleaningFee), apartment.Capacity)
	if err != nil {
		return nil, err
	}

	saved := apartment
	return &saved, nil
}

func (s *Store) UpsertRate(ctx context.Context, rate domain.ApartmentRate) (*float64, error) {
	if rate.ApartmentID == "" || rate.WeekStart.IsZero() || rate.Price < 0 {
		return nil, store.ErrInvalidInput
	}
	week := dateUTC(rate.WeekStart)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var previous sql.NullFloat64
	err = tx.QueryRowContext(ctx, `
		SELECT price
		FROM apartment_rates
		WHERE apartment_id = $1 AND week_start = $2
		FOR UPDATE
	`, rate.ApartmentID, week).Scan(&previous)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO apartment_rates (apartment_id, week_start, price, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (apartment_id, week_start)
		DO UPDATE SET price = EXCLUDED.price, updated_at = now()
	`, rate.ApartmentID, week, rate.Price)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if !previous.Valid {
		return nil, nil
	}
	price := previous.Float64
	return &price, nil
}

func (s *Store) DeleteRate(ctx context.Context, apartmentID string, weekStart time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM apartment_rates
		WHERE apartment_id = $1 AND week_start = $2
	`, apartmentID, dateUTC(weekStart))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateRateHistory(ctx context.Context, entry domain.RateHistory) error {
	if entry.ID == "" {
		entry.ID = xid.New("rh")
	}
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rate_history (id, apartment_id, week_start, old_price, new_price, changed_by, changed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, entry.ID, entry.ApartmentID, dateUTC(entry.WeekStart), nullFloat(entry.OldPrice), entry.NewPrice, entry.ChangedBy, entry.ChangedAt)
	return err
}

func (s *Store) ListRateHistory(ctx context.Context, apartmentID string, limit int) ([]domain.RateHistory, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, apartment_id, week_start, old_price, new_price, changed_by, changed_at
		FROM rate_history
		WHERE $1::text = '' OR apartment_id = $1::text
		ORDER BY changed_at DESC, id DESC
		LIMIT $2
	`, apartmentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make([]domain.RateHistory, 0, limit)
	for rows.Next() {
		var entry domain.RateHistory
		var oldPrice sql.NullFloat64
		if err := rows.Scan(&entry.ID, &entry.ApartmentID, &entry.WeekStart, &oldPrice, &entry.NewPrice, &entry.ChangedBy, &entry.ChangedAt); err != nil {
			return nil, err
		}
		if oldPrice.Valid {
			price := oldPrice.Float64
			entry.OldPrice = &price
		}
		entry.WeekStart = dateUTC(entry.WeekStart)
		entry.ChangedAt = entry.ChangedAt.UTC()
		history = append(history, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return history, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1
			AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleAdmin
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,true,$4,now())
	`, user.Username, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApartment(row rowScanner) (domain.Apartment, error) {
	var apt domain.Apartment
	var fee sql.NullFloat64
	if err := row.Scan(&apt.ID, &apt.Name, &apt.DefaultPrice, &fee, &apt.Capacity); err != nil {
		return domain.Apartment{}, err
	}
	if fee.Valid {
		v := fee.Float64
		apt.CleaningFee = &v
	}
	return apt, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func dateUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func nullFloat(val *float64) any {
	if val == nil {
		return nil
	}
	return *val
}
