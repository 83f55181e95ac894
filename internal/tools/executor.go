package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/LEO0072003/VoiceAI/internal/appointments"
)

// Result is the JSON object handed back to the LLM. Every result carries
// "success" and either "message" or "error".
type Result map[string]any

func (r Result) Success() bool {
	ok, _ := r["success"].(bool)
	return ok
}

// JSON encodes the result for the tool history entry.
func (r Result) JSON() string {
	data, err := json.Marshal(r)
	if err != nil {
		return `{"success":false,"error":"unencodable tool result"}`
	}
	return string(data)
}

func failure(format string, args ...any) Result {
	return Result{"success": false, "error": fmt.Sprintf(format, args...)}
}

// Executor runs domain tools on behalf of one authenticated user. It never
// returns an error: failures become structured results.
type Executor struct {
	store    appointments.Store
	slots    []string
	user     appointments.User
	logger   *slog.Logger
	now      func() time.Time
	handlers map[Kind]func(context.Context, json.RawMessage) Result
}

type Option func(*Executor)

// WithClock overrides the time source used for relative dates.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

func NewExecutor(store appointments.Store, slots []string, user appointments.User, opts ...Option) *Executor {
	e := &Executor{
		store:  store,
		slots:  slices.Clone(slots),
		user:   user,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.handlers = map[Kind]func(context.Context, json.RawMessage) Result{
		KindFetchSlots:           e.fetchSlots,
		KindBookAppointment:      e.bookAppointment,
		KindRetrieveAppointments: e.retrieveAppointments,
		KindCancelAppointment:    e.cancelAppointment,
		KindModifyAppointment:    e.modifyAppointment,
		KindEndConversation:      e.endConversation,
	}
	return e
}

func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) Result {
	handler, ok := e.handlers[Kind(name)]
	if !ok {
		e.logger.Warn("unknown tool requested", "tool", name)
		return failure("Unknown tool: %s", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return failure("Invalid arguments for %s: %v", name, err)
	}
	start := time.Now()
	result := handler(ctx, raw)
	e.logger.Info("tool executed",
		"tool", name,
		"user_id", e.user.ID,
		"success", result.Success(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result
}

// flexString accepts either a JSON string or number; models emit both for ids.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(data)
	return nil
}

// flexBool accepts true/false as booleans or strings.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	b, err := strconv.ParseBool(strings.ToLower(s))
	if err != nil {
		*f = false
		return nil
	}
	*f = flexBool(b)
	return nil
}

type fetchSlotsArgs struct {
	Date flexString `json:"date"`
}

type bookArgs struct {
	Date    flexString `json:"date"`
	Time    flexString `json:"time"`
	Purpose flexString `json:"purpose"`
}

type retrieveArgs struct {
	IncludeCancelled flexBool `json:"include_cancelled"`
}

type appointmentRefArgs struct {
	AppointmentID flexString `json:"appointment_id"`
}

type modifyArgs struct {
	AppointmentID flexString `json:"appointment_id"`
	NewDate       flexString `json:"new_date"`
	NewTime       flexString `json:"new_time"`
}

type endArgs struct {
	Reason flexString `json:"reason"`
}

func decodeArgs[T any](raw json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}

func (e *Executor) fetchSlots(ctx context.Context, raw json.RawMessage) Result {
	args, err := decodeArgs[fetchSlotsArgs](raw)
	if err != nil {
		return failure("Invalid arguments for %s: %v", KindFetchSlots, err)
	}
	date, err := ParseDate(string(args.Date), e.now())
	if err != nil {
		return failure("Invalid date format: %v", err)
	}
	day := date.Format(dateLayout)

	booked, err := e.store.BookedSlots(ctx, day, 0)
	if err != nil {
		return failure("%v", err)
	}
	available := make([]string, 0, len(e.slots))
	for _, slot := range e.slots {
		if !slices.Contains(booked, slot) {
			available = append(available, slot)
		}
	}
	return Result{
		"success":         true,
		"date":            day,
		"date_display":    date.Format(dateDisplayLayout),
		"available_slots": available,
		"booked_slots":    booked,
		"message":         fmt.Sprintf("Found %d available slots on %s", len(available), day),
	}
}

func (e *Executor) bookAppointment(ctx context.Context, raw json.RawMessage) Result {
	if e.user.ID == 0 {
		return failure("User not authenticated. Please log in first.")
	}
	args, err := decodeArgs[bookArgs](raw)
	if err != nil {
		return failure("Invalid arguments for %s: %v", KindBookAppointment, err)
	}
	purpose := strings.TrimSpace(string(args.Purpose))
	if purpose == "" {
		purpose = "General appointment"
	}

	date, err := ParseDate(string(args.Date), e.now())
	if err != nil {
		return failure("Invalid date: %v", err)
	}
	day := date.Format(dateLayout)

	clock := NormalizeTime(string(args.Time))
	if !slices.Contains(e.slots, clock) {
		return failure("Invalid time slot. Available slots are: %s", strings.Join(e.slots, ", "))
	}

	booked, err := e.store.BookedSlots(ctx, day, 0)
	if err != nil {
		return failure("%v", err)
	}
	if slices.Contains(booked, clock) {
		return e.slotTaken(ctx, day, clock)
	}

	created, err := e.store.Create(ctx, appointments.Appointment{
		UserID:  e.user.ID,
		Date:    day,
		Time:    clock,
		Purpose: purpose,
		Status:  appointments.StatusScheduled,
	})
	if errors.Is(err, appointments.ErrSlotTaken) {
		return e.slotTaken(ctx, day, clock)
	}
	if err != nil {
		return failure("%v", err)
	}

	return Result{
		"success":        true,
		"appointment_id": strconv.FormatInt(created.ID, 10),
		"date":           day,
		"date_display":   date.Format(dateDisplayLayout),
		"time":           clock,
		"purpose":        purpose,
		"message":        fmt.Sprintf("Appointment booked for %s at %s", date.Format(dateShortLayout), clock),
	}
}

// slotTaken distinguishes the caller's own booking from someone else's.
func (e *Executor) slotTaken(ctx context.Context, day, clock string) Result {
	mine, err := e.store.UserAppointments(ctx, e.user.ID)
	if err == nil {
		for _, a := range mine {
			if a.Date == day && a.Time == clock && a.Status == appointments.StatusScheduled {
				return failure("You already have an appointment at this date and time.")
			}
		}
	}
	return failure("Sorry, %s on %s is already booked. Please choose another slot.", clock, day)
}

func (e *Executor) retrieveAppointments(ctx context.Context, raw json.RawMessage) Result {
	if e.user.ID == 0 {
		return failure("User not authenticated. Please log in first.")
	}
	args, err := decodeArgs[retrieveArgs](raw)
	if err != nil {
		return failure("Invalid arguments for %s: %v", KindRetrieveAppointments, err)
	}

	all, err := e.store.UserAppointments(ctx, e.user.ID)
	if err != nil {
		return failure("%v", err)
	}
	listed := make([]appointments.Appointment, 0, len(all))
	for _, a := range all {
		if !bool(args.IncludeCancelled) && a.Status == appointments.StatusCancelled {
			continue
		}
		listed = append(listed, a)
	}
	appointments.SortByDateTime(listed)

	today := e.now().Format(dateLayout)
	upcoming := make([]map[string]any, 0)
	past := make([]map[string]any, 0)
	for _, a := range listed {
		if a.Date >= today && a.Status == appointments.StatusScheduled {
			upcoming = append(upcoming, appointmentView(a))
		} else {
			past = append(past, appointmentView(a))
		}
	}

	return Result{
		"success":        true,
		"user_id":        e.user.ID,
		"total_count":    len(listed),
		"upcoming":       upcoming,
		"upcoming_count": len(upcoming),
		"past":           past,
		"past_count":     len(past),
		"message":        fmt.Sprintf("Found %d upcoming and %d past appointments", len(upcoming), len(past)),
	}
}

func (e *Executor) cancelAppointment(ctx context.Context, raw json.RawMessage) Result {
	if e.user.ID == 0 {
		return failure("User not authenticated. Please log in first.")
	}
	args, err := decodeArgs[appointmentRefArgs](raw)
	if err != nil {
		return failure("Invalid arguments for %s: %v", KindCancelAppointment, err)
	}
	rawID := string(args.AppointmentID)
	appt, res := e.ownedAppointment(ctx, rawID)
	if res != nil {
		return res
	}
	if appt.Status == appointments.StatusCancelled {
		return failure("This appointment is already cancelled.")
	}
	if err := e.store.Cancel(ctx, appt.ID); err != nil {
		return failure("%v", err)
	}
	return Result{
		"success":        true,
		"appointment_id": rawID,
		"date":           appt.Date,
		"time":           appt.Time,
		"message":        fmt.Sprintf("Appointment on %s at %s has been cancelled.", appt.Date, appt.Time),
	}
}

func (e *Executor) modifyAppointment(ctx context.Context, raw json.RawMessage) Result {
	if e.user.ID == 0 {
		return failure("User not authenticated. Please log in first.")
	}
	args, err := decodeArgs[modifyArgs](raw)
	if err != nil {
		return failure("Invalid arguments for %s: %v", KindModifyAppointment, err)
	}
	newDate := strings.TrimSpace(string(args.NewDate))
	newTime := strings.TrimSpace(string(args.NewTime))
	if newDate == "" && newTime == "" {
		return failure("Please specify a new date or time to modify.")
	}

	rawID := string(args.AppointmentID)
	appt, res := e.ownedAppointment(ctx, rawID)
	if res != nil {
		return res
	}
	if appt.Status == appointments.StatusCancelled {
		return failure("Cannot modify a cancelled appointment.")
	}

	targetDate := appt.Date
	if newDate != "" {
		parsed, err := ParseDate(newDate, e.now())
		if err != nil {
			return failure("Invalid new date: %v", err)
		}
		targetDate = parsed.Format(dateLayout)
	}
	targetTime := appt.Time
	if newTime != "" {
		targetTime = NormalizeTime(newTime)
		if !slices.Contains(e.slots, targetTime) {
			return failure("Invalid time. Available: %s", strings.Join(e.slots, ", "))
		}
	}

	booked, err := e.store.BookedSlots(ctx, targetDate, appt.ID)
	if err != nil {
		return failure("%v", err)
	}
	if slices.Contains(booked, targetTime) {
		return failure("Sorry, %s on %s is already booked.", targetTime, targetDate)
	}
	err = e.store.Reschedule(ctx, appt.ID, targetDate, targetTime)
	if errors.Is(err, appointments.ErrSlotTaken) {
		return failure("Sorry, %s on %s is already booked.", targetTime, targetDate)
	}
	if err != nil {
		return failure("%v", err)
	}

	return Result{
		"success":        true,
		"appointment_id": rawID,
		"old_date":       appt.Date,
		"old_time":       appt.Time,
		"new_date":       targetDate,
		"new_time":       targetTime,
		"message":        fmt.Sprintf("Appointment changed from %s %s to %s %s", appt.Date, appt.Time, targetDate, targetTime),
	}
}

func (e *Executor) endConversation(_ context.Context, raw json.RawMessage) Result {
	args, _ := decodeArgs[endArgs](raw)
	reason := strings.TrimSpace(string(args.Reason))
	if reason == "" {
		reason = "user_request"
	}
	return Result{
		"success": true,
		"reason":  reason,
		"message": "Ending conversation. Goodbye!",
	}
}

// ownedAppointment loads an appointment by its textual id and checks that it
// belongs to the session user. A non-nil Result is the failure to return.
func (e *Executor) ownedAppointment(ctx context.Context, rawID string) (appointments.Appointment, Result) {
	id, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
	if err != nil {
		return appointments.Appointment{}, failure("Invalid appointment ID: %s", rawID)
	}
	appt, err := e.store.Get(ctx, id)
	if errors.Is(err, appointments.ErrNotFound) {
		return appointments.Appointment{}, failure("Appointment %s not found.", rawID)
	}
	if err != nil {
		return appointments.Appointment{}, failure("%v", err)
	}
	if appt.UserID != e.user.ID {
		return appointments.Appointment{}, failure("This appointment doesn't belong to you.")
	}
	return appt, nil
}

// SessionAppointments lists the user's scheduled appointments for the call
// summary.
func (e *Executor) SessionAppointments(ctx context.Context) []map[string]any {
	out := make([]map[string]any, 0)
	if e.user.ID == 0 {
		return out
	}
	all, err := e.store.UserAppointments(ctx, e.user.ID)
	if err != nil {
		e.logger.Warn("list session appointments failed", "user_id", e.user.ID, "error", err)
		return out
	}
	for _, a := range all {
		if a.Status != appointments.StatusScheduled {
			continue
		}
		out = append(out, map[string]any{
			"id":      strconv.FormatInt(a.ID, 10),
			"date":    a.Date,
			"time":    a.Time,
			"status":  string(a.Status),
			"purpose": a.Purpose,
		})
	}
	return out
}

func appointmentView(a appointments.Appointment) map[string]any {
	view := map[string]any{
		"id":      strconv.FormatInt(a.ID, 10),
		"date":    a.Date,
		"time":    a.Time,
		"status":  string(a.Status),
		"purpose": a.Purpose,
	}
	if a.CreatedAt.IsZero() {
		view["created_at"] = nil
	} else {
		view["created_at"] = a.CreatedAt.UTC().Format(time.RFC3339)
	}
	return view
}
