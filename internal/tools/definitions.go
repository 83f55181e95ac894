package tools

import "encoding/json"

// Kind is the closed set of tools the agent may call.
type Kind string

const (
	KindFetchSlots           Kind = "fetch_slots"
	KindBookAppointment      Kind = "book_appointment"
	KindRetrieveAppointments Kind = "retrieve_appointments"
	KindCancelAppointment    Kind = "cancel_appointment"
	KindModifyAppointment    Kind = "modify_appointment"
	KindEndConversation      Kind = "end_conversation"
)

// Definition is a provider-neutral function declaration. Parameters is a
// JSON Schema object.
type Definition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

var definitions = []Definition{
	{
		Name:        string(KindFetchSlots),
		Description: "Fetch available appointment slots for a given date. Returns list of available time slots.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"date": {"type": "string", "description": "Date to check slots for in YYYY-MM-DD format (e.g., '2026-01-22')"}
			},
			"required": ["date"]
		}`),
	},
	{
		Name:        string(KindBookAppointment),
		Description: "Book a new appointment for the identified user. Requires user to be identified first.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"date": {"type": "string", "description": "Appointment date in YYYY-MM-DD format"},
				"time": {"type": "string", "description": "Appointment time in HH:MM format (24-hour, e.g., '14:00')"},
				"purpose": {"type": "string", "description": "Purpose or reason for the appointment (optional)"}
			},
			"required": ["date", "time"]
		}`),
	},
	{
		Name:        string(KindRetrieveAppointments),
		Description: "Retrieve all appointments for the identified user. Returns past and upcoming appointments.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"include_cancelled": {"type": "boolean", "description": "Whether to include cancelled appointments (default: false)"}
			},
			"required": []
		}`),
	},
	{
		Name: string(KindCancelAppointment),
		Description: "Cancel an existing appointment by its ID. IMPORTANT: Only cancel appointments the user explicitly requests. " +
			"If user says 'cancel appointments on Feb 3rd', only cancel appointments on that specific date, not other dates. " +
			"Always confirm before cancelling.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"appointment_id": {"type": "string", "description": "The unique ID of the appointment to cancel"}
			},
			"required": ["appointment_id"]
		}`),
	},
	{
		Name:        string(KindModifyAppointment),
		Description: "Modify an existing appointment's date and/or time.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"appointment_id": {"type": "string", "description": "The unique ID of the appointment to modify"},
				"new_date": {"type": "string", "description": "New date in YYYY-MM-DD format (optional if only changing time)"},
				"new_time": {"type": "string", "description": "New time in HH:MM format (optional if only changing date)"}
			},
			"required": ["appointment_id"]
		}`),
	},
	{
		Name:        string(KindEndConversation),
		Description: "End the conversation when user says goodbye, thanks, or indicates they're done. This triggers call summary generation.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"reason": {"type": "string", "description": "Reason for ending (e.g., 'user_goodbye', 'task_completed')"}
			},
			"required": []
		}`),
	},
}

// Definitions returns the declarations advertised to the LLM.
func Definitions() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}
