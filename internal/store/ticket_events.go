package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"mqs/queue-service/internal/models"
)

// Event types carried on the outbox. One event per committed transition;
// ticket.repeat is an announce-only event and does not change status.
const (
	EventCreated = "ticket.created"
	EventServing = "ticket.serving"
	EventDone    = "ticket.complete"
	EventVoided  = "ticket.void"
	EventRepeat  = "ticket.repeat"
)

// StateChange is the payload every outbox event carries for display and
// announcement consumers. Label is the formatted prefix-number form.
type StateChange struct {
	TicketID     int64     `json:"ticket_id"`
	DepartmentID int64     `json:"department_id"`
	Lane         string    `json:"lane"`
	Label        string    `json:"label"`
	OldStatus    string    `json:"old_status"`
	NewStatus    string    `json:"new_status"`
	CounterID    *int64    `json:"counter_id,omitempty"`
	RepeatCount  int       `json:"repeat_count"`
	Timestamp    time.Time `json:"timestamp"`
}

// TicketEvent is one entry of the per-ticket audit chain. Hash covers the
// previous hash, so any rewrite of history breaks verification.
type TicketEvent struct {
	TicketID  int64           `json:"ticket_id"`
	TicketSeq int             `json:"ticket_seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

func ComputeTicketEventHash(prevHash string, ticketID int64, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%d|%s|%s|%d|%s", prevHash, ticketID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// VerifyTicketEvents walks the chain and reports the first sequence whose
// hash does not match, or -1 if the chain is intact.
func VerifyTicketEvents(events []TicketEvent) int {
	prev := ""
	for _, event := range events {
		if event.PrevHash != prev {
			return event.TicketSeq
		}
		expected := ComputeTicketEventHash(prev, event.TicketID, event.Type, event.Payload, event.CreatedAt, event.TicketSeq)
		if event.Hash != expected {
			return event.TicketSeq
		}
		prev = event.Hash
	}
	return -1
}

// RehydrateTicket folds an audit chain into the ticket view it describes.
func RehydrateTicket(events []TicketEvent) (models.Ticket, error) {
	var ticket models.Ticket
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		var change StateChange
		if err := json.Unmarshal(event.Payload, &change); err != nil {
			return models.Ticket{}, err
		}
		if change.TicketID != 0 {
			ticket.TicketID = change.TicketID
		}
		if change.DepartmentID != 0 {
			ticket.DepartmentID = change.DepartmentID
		}
		if change.Lane != "" {
			ticket.Lane = change.Lane
		}
		if change.Label != "" {
			ticket.Label = change.Label
		}
		if change.NewStatus != "" {
			ticket.Status = change.NewStatus
		}
		if change.CounterID != nil {
			ticket.CounterID = change.CounterID
		}
		if change.RepeatCount > ticket.RepeatCount {
			ticket.RepeatCount = change.RepeatCount
		}
	}
	return ticket, nil
}
