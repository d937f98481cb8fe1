package store

import (
	"context"
	"encoding/json"
	"time"

	"mqs/queue-service/internal/models"
)

type CreateTicketInput struct {
	RequestID    string
	DepartmentID int64
	ServiceID    int64
	Lane         string
	CreatedAt    time.Time
}

type CallNextInput struct {
	RequestID    string
	StaffID      int64
	CounterID    int64
	DepartmentID int64
	Lane         string
	CalledAt     time.Time
}

type RepeatCallInput struct {
	RequestID  string
	TicketID   int64
	OccurredAt time.Time
}

type SetStatusInput struct {
	RequestID  string
	TicketID   int64
	Status     string
	CounterID  int64
	OccurredAt time.Time
}

// TicketStore is the single mutable shared resource of the queue core. All
// status changes go through its compare-and-swap updates; mutating calls are
// idempotent on the client-supplied request ID and the returned bool reports
// whether this invocation applied the change (false on replay).
type TicketStore interface {
	CreateTicket(ctx context.Context, input CreateTicketInput) (models.Ticket, bool, error)
	GetTicket(ctx context.Context, ticketID int64) (models.Ticket, error)
	ListWaiting(ctx context.Context, departmentID int64, lane string) ([]models.Ticket, error)
	CallNext(ctx context.Context, input CallNextInput) (models.Ticket, bool, error)
	RepeatCall(ctx context.Context, input RepeatCallInput) (models.Ticket, bool, error)
	SetStatus(ctx context.Context, input SetStatusInput) (models.Ticket, bool, error)
	GetServingTicket(ctx context.Context, counterID int64) (models.Ticket, bool, error)
	SnapshotTickets(ctx context.Context, departmentID int64) ([]models.Ticket, error)
	ListOutboxEvents(ctx context.Context, after Offset, limit int) ([]OutboxEvent, error)
	ListTicketEvents(ctx context.Context, ticketID int64) ([]TicketEvent, error)
	ListDepartments(ctx context.Context) ([]models.Department, error)
	ListServices(ctx context.Context, departmentID int64) ([]models.Service, error)
	ListCounters(ctx context.Context, departmentID int64) ([]models.Counter, error)
	GetRelayOffset(ctx context.Context, consumer string) (Offset, error)
	UpdateRelayOffset(ctx context.Context, consumer string, offset Offset) error
}

// OutboxEvent is one committed state change, written in the same transaction
// as the change itself. Exactly one row exists per successful transition, in
// commit order.
type OutboxEvent struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Offset is a resume position in the outbox, ordered by (created_at,
// event_id).
type Offset struct {
	LastEventTime time.Time
	LastEventID   string
}

func (o Offset) IsZero() bool {
	return o.LastEventTime.IsZero() && o.LastEventID == ""
}
