package models

import "time"

// Ticket is one citizen's claim on a service slot. Number is unique and
// strictly increasing within the department; Label is the display form
// announced on the floor (for example "ENG-007").
type Ticket struct {
	TicketID     int64      `json:"ticket_id"`
	Number       int64      `json:"number"`
	Label        string     `json:"label"`
	DepartmentID int64      `json:"department_id"`
	ServiceID    *int64     `json:"service_id,omitempty"`
	Lane         string     `json:"lane"`
	Status       string     `json:"status"`
	CounterID    *int64     `json:"counter_id,omitempty"`
	RepeatCount  int        `json:"repeat_count"`
	CreatedAt    time.Time  `json:"created_at"`
	CalledAt     *time.Time `json:"called_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	RequestID    string     `json:"request_id,omitempty"`
}

const (
	StatusWaiting  = "Waiting"
	StatusServing  = "Serving"
	StatusComplete = "Complete"
	StatusVoid     = "Void"
)

const (
	LaneRegular  = "Regular"
	LanePriority = "Priority"
)

// Terminal reports whether a status permits no further transitions.
func Terminal(status string) bool {
	return status == StatusComplete || status == StatusVoid
}
