package appointments

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore backs local runs and tests. It enforces the same slot
// uniqueness as the postgres schema.
type InMemoryStore struct {
	mu           sync.RWMutex
	users        map[int64]User
	appointments map[int64]Appointment
	summaries    []ConversationSummary
	nextUserID   int64
	nextApptID   int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:        make(map[int64]User),
		appointments: make(map[int64]Appointment),
	}
}

func (s *InMemoryStore) UserByContact(_ context.Context, contact string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.ContactNumber == contact {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *InMemoryStore) CreateUser(_ context.Context, user User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ContactNumber == user.ContactNumber {
			return u, nil
		}
	}
	s.nextUserID++
	user.ID = s.nextUserID
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.ID] = user
	return user, nil
}

func (s *InMemoryStore) Get(_ context.Context, id int64) (Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.appointments[id]
	if !ok {
		return Appointment{}, ErrNotFound
	}
	return a, nil
}

func (s *InMemoryStore) UserAppointments(_ context.Context, userID int64) ([]Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Appointment, 0)
	for _, a := range s.appointments {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	SortByDateTime(out)
	return out, nil
}

func (s *InMemoryStore) BookedSlots(_ context.Context, date string, excludeID int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slots := make([]string, 0)
	for _, a := range s.appointments {
		if a.Date == date && a.Status == StatusScheduled && a.ID != excludeID {
			slots = append(slots, a.Time)
		}
	}
	sort.Strings(slots)
	return slots, nil
}

func (s *InMemoryStore) Create(_ context.Context, appt Appointment) (Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slotTakenLocked(appt.Date, appt.Time, 0) {
		return Appointment{}, ErrSlotTaken
	}
	s.nextApptID++
	appt.ID = s.nextApptID
	if appt.Status == "" {
		appt.Status = StatusScheduled
	}
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = time.Now().UTC()
	}
	s.appointments[appt.ID] = appt
	return appt, nil
}

func (s *InMemoryStore) Cancel(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	if !ok {
		return ErrNotFound
	}
	a.Status = StatusCancelled
	s.appointments[id] = a
	return nil
}

func (s *InMemoryStore) Reschedule(_ context.Context, id int64, date, clock string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	if !ok {
		return ErrNotFound
	}
	if s.slotTakenLocked(date, clock, id) {
		return ErrSlotTaken
	}
	a.Date = date
	a.Time = clock
	s.appointments[id] = a
	return nil
}

func (s *InMemoryStore) SaveSummary(_ context.Context, summary ConversationSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary.ID = int64(len(s.summaries) + 1)
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = time.Now().UTC()
	}
	s.summaries = append(s.summaries, summary)
	return nil
}

// Summaries returns saved call summaries in insertion order.
func (s *InMemoryStore) Summaries() []ConversationSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ConversationSummary, len(s.summaries))
	copy(out, s.summaries)
	return out
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) slotTakenLocked(date, clock string, excludeID int64) bool {
	for _, a := range s.appointments {
		if a.ID != excludeID && a.Status == StatusScheduled && a.Date == date && a.Time == clock {
			return true
		}
	}
	return false
}

// SortByDateTime orders appointments chronologically, then by id.
func SortByDateTime(appts []Appointment) {
	sort.SliceStable(appts, func(i, j int) bool {
		if appts[i].Date != appts[j].Date {
			return appts[i].Date < appts[j].Date
		}
		if appts[i].Time != appts[j].Time {
			return appts[i].Time < appts[j].Time
		}
		return appts[i].ID < appts[j].ID
	})
}
