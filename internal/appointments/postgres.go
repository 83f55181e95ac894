package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists users, appointments and call summaries in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			contact_number TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS appointments (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id),
			appointment_date TEXT NOT NULL,
			appointment_time TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'scheduled',
			purpose TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ
		);`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_user ON appointments (user_id, appointment_date, appointment_time);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_appointments_scheduled_slot
			ON appointments (appointment_date, appointment_time) WHERE status = 'scheduled';`,
		`CREATE TABLE IF NOT EXISTS conversation_summaries (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id),
			session_id TEXT NOT NULL,
			summary TEXT NOT NULL,
			appointments_discussed TEXT,
			duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_cost DOUBLE PRECISION,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_summaries_session ON conversation_summaries (session_id);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) UserByContact(ctx context.Context, contact string) (User, error) {
	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, contact_number, created_at FROM users WHERE contact_number=$1`,
		contact,
	).Scan(&u.ID, &u.Name, &u.ContactNumber, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (contact_number, name) VALUES ($1, $2)
		 ON CONFLICT (contact_number) DO UPDATE SET contact_number = EXCLUDED.contact_number
		 RETURNING id, name, contact_number, created_at`,
		user.ContactNumber,
		user.Name,
	).Scan(&user.ID, &user.Name, &user.ContactNumber, &user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

const appointmentColumns = `id, user_id, appointment_date, appointment_time, purpose, status, created_at`

func scanAppointment(row pgx.Row) (Appointment, error) {
	var (
		a      Appointment
		status string
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.Date, &a.Time, &a.Purpose, &status, &a.CreatedAt); err != nil {
		return Appointment{}, err
	}
	a.Status = Status(status)
	return a, nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (Appointment, error) {
	a, err := scanAppointment(s.pool.QueryRow(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Appointment{}, ErrNotFound
	}
	if err != nil {
		return Appointment{}, fmt.Errorf("query appointment: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) UserAppointments(ctx context.Context, userID int64) ([]Appointment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+appointmentColumns+` FROM appointments
		 WHERE user_id=$1 ORDER BY appointment_date, appointment_time, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query appointments: %w", err)
	}
	defer rows.Close()

	items := make([]Appointment, 0)
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment row: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate appointment rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) BookedSlots(ctx context.Context, date string, excludeID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT appointment_time FROM appointments
		 WHERE appointment_date=$1 AND status='scheduled' AND id<>$2
		 ORDER BY appointment_time`,
		date,
		excludeID,
	)
	if err != nil {
		return nil, fmt.Errorf("query booked slots: %w", err)
	}
	slots, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect booked slots: %w", err)
	}
	return slots, nil
}

func (s *PostgresStore) Create(ctx context.Context, appt Appointment) (Appointment, error) {
	if appt.Status == "" {
		appt.Status = StatusScheduled
	}
	created, err := scanAppointment(s.pool.QueryRow(ctx,
		`INSERT INTO appointments (user_id, appointment_date, appointment_time, purpose, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+appointmentColumns,
		appt.UserID,
		appt.Date,
		appt.Time,
		appt.Purpose,
		string(appt.Status),
	))
	if isUniqueViolation(err) {
		return Appointment{}, ErrSlotTaken
	}
	if err != nil {
		return Appointment{}, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) Cancel(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE appointments SET status='cancelled', updated_at=$2 WHERE id=$1`,
		id,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("cancel appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Reschedule(ctx context.Context, id int64, date, clock string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE appointments SET appointment_date=$2, appointment_time=$3, updated_at=$4 WHERE id=$1`,
		id,
		date,
		clock,
		time.Now().UTC(),
	)
	if isUniqueViolation(err) {
		return ErrSlotTaken
	}
	if err != nil {
		return fmt.Errorf("reschedule appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SaveSummary(ctx context.Context, summary ConversationSummary) error {
	var discussed *string
	if summary.AppointmentsDiscussed != "" {
		discussed = &summary.AppointmentsDiscussed
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversation_summaries
		 (user_id, session_id, summary, appointments_discussed, duration_seconds, total_cost)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		summary.UserID,
		summary.SessionID,
		summary.Summary,
		discussed,
		summary.DurationSeconds,
		summary.TotalCost,
	)
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// isUniqueViolation checks if a Postgres error is a unique_violation (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
