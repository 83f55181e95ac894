package appointments

import (
	"context"
	"errors"
	"time"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCancelled Status = "cancelled"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrSlotTaken = errors.New("slot already booked")
)

type User struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	ContactNumber string    `json:"contact_number"`
	CreatedAt     time.Time `json:"created_at"`
}

// Appointment dates are "YYYY-MM-DD" and times "HH:MM", both in the
// clinic's local calendar.
type Appointment struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	Purpose   string    `json:"purpose"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationSummary is written once per call at end_call.
type ConversationSummary struct {
	ID                    int64     `json:"id"`
	UserID                int64     `json:"user_id"`
	SessionID             string    `json:"session_id"`
	Summary               string    `json:"summary"`
	AppointmentsDiscussed string    `json:"appointments_discussed,omitempty"`
	DurationSeconds       float64   `json:"duration_seconds"`
	TotalCost             float64   `json:"total_cost"`
	CreatedAt             time.Time `json:"created_at"`
}

// Store persists users, appointments and call summaries. At most one
// scheduled appointment may hold a (date, time) pair; Create and Reschedule
// return ErrSlotTaken otherwise.
type Store interface {
	UserByContact(ctx context.Context, contact string) (User, error)
	CreateUser(ctx context.Context, user User) (User, error)

	Get(ctx context.Context, id int64) (Appointment, error)
	UserAppointments(ctx context.Context, userID int64) ([]Appointment, error)
	BookedSlots(ctx context.Context, date string, excludeID int64) ([]string, error)
	Create(ctx context.Context, appt Appointment) (Appointment, error)
	Cancel(ctx context.Context, id int64) error
	Reschedule(ctx context.Context, id int64, date, clock string) error

	SaveSummary(ctx context.Context, summary ConversationSummary) error
	Close() error
}
