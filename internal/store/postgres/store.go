package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mqs/queue-service/internal/models"
	"mqs/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ticketNumberPad = 3

const (
	actionCallNext = "call_next"
	actionRepeat   = "repeat"
	actionComplete = "complete"
	actionVoid     = "void"
)

type Store struct {
	pool            *pgxpool.Pool
	voidThreshold   int
	officeOpenHour  int
	officeCloseHour int
}

type Options struct {
	VoidThreshold   int
	OfficeOpenHour  int
	OfficeCloseHour int
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	threshold := options.VoidThreshold
	if threshold <= 0 {
		threshold = 3
	}
	return &Store{
		pool:            pool,
		voidThreshold:   threshold,
		officeOpenHour:  options.OfficeOpenHour,
		officeCloseHour: options.OfficeCloseHour,
	}
}

const ticketColumns = "ticket_id, number, label, department_id, service_id, lane, status, counter_id, repeat_count, created_at, called_at, finished_at"

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, bool, error) {
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if !s.withinOfficeHours(createdAt) {
		return models.Ticket{}, false, store.ErrOfficeClosed
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, err := findTicketByRequestID(ctx, tx, input.RequestID)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.Ticket{}, false, err
		}
		return existing, false, nil
	}

	prefix, err := lookupDepartmentPrefix(ctx, tx, input.DepartmentID)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if err = ensureServiceInDepartment(ctx, tx, input.ServiceID, input.DepartmentID); err != nil {
		return models.Ticket{}, false, err
	}

	number, err := nextTicketNumber(ctx, tx, input.DepartmentID)
	if err != nil {
		return models.Ticket{}, false, err
	}
	label := formatLabel(prefix, number)

	var ticket models.Ticket
	row := tx.QueryRow(ctx, `
		INSERT INTO tickets (request_id, number, label, department_id, service_id, lane, status, repeat_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8)
		ON CONFLICT (request_id) DO NOTHING
		RETURNING `+ticketColumns,
		input.RequestID, number, label, input.DepartmentID, input.ServiceID, input.Lane, models.StatusWaiting, createdAt)
	if err = scanTicket(row, &ticket); err != nil {
		return models.Ticket{}, false, err
	}
	ticket.RequestID = input.RequestID

	if err = insertOutboxEvent(ctx, tx, store.EventCreated, stateChange(ticket, "", models.StatusWaiting, createdAt)); err != nil {
		return models.Ticket{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID int64) (models.Ticket, error) {
	var ticket models.Ticket
	row := s.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = $1`, ticketID)
	if err := scanTicket(row, &ticket); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) ListWaiting(ctx context.Context, departmentID int64, lane string) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE department_id = $1 AND lane = $2 AND status = $3
		ORDER BY created_at ASC, ticket_id ASC
	`, departmentID, lane, models.StatusWaiting)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTickets(rows)
}

// CallNext completes whatever the counter is currently serving, then claims
// the head of the requested lane, all in one transaction. Losing a claim race
// is invisible to the caller: SKIP LOCKED makes concurrent counters pick
// distinct tickets, and an empty lane surfaces as ErrNoTicket rather than a
// failure.
func (s *Store) CallNext(ctx context.Context, input store.CallNextInput) (models.Ticket, bool, error) {
	calledAt := input.CalledAt
	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, empty, err := findActionRequest(ctx, tx, actionCallNext, input.RequestID)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.Ticket{}, false, err
		}
		if empty {
			return models.Ticket{}, false, store.ErrNoTicket
		}
		return existing, false, nil
	}

	if err = ensureCounterInDepartment(ctx, tx, input.CounterID, input.DepartmentID); err != nil {
		return models.Ticket{}, false, err
	}

	if err = s.completeServingAtCounter(ctx, tx, input.CounterID, calledAt); err != nil {
		return models.Ticket{}, false, err
	}

	var ticket models.Ticket
	row := tx.QueryRow(ctx, `
		WITH next_ticket AS (
			SELECT ticket_id
			FROM tickets
			WHERE department_id = $1 AND lane = $2 AND status = $3
			ORDER BY created_at ASC, ticket_id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE tickets
		SET status = $4,
			counter_id = $5,
			called_at = $6
		FROM next_ticket
		WHERE tickets.ticket_id = next_ticket.ticket_id
		RETURNING `+qualifiedTicketColumns("tickets"),
		input.DepartmentID, input.Lane, models.StatusWaiting, models.StatusServing, input.CounterID, calledAt)
	if err = scanTicket(row, &ticket); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if err = insertActionRequest(ctx, tx, actionCallNext, input.RequestID, 0); err != nil {
				return models.Ticket{}, false, err
			}
			if err = tx.Commit(ctx); err != nil {
				return models.Ticket{}, false, err
			}
			return models.Ticket{}, false, store.ErrNoTicket
		}
		// A concurrent call-next for the same counter commits its claim
		// between our serving snapshot and this update; the partial unique
		// index rejects the second claim. Lost race, retryable.
		if isUniqueViolation(err, "tickets_serving_counter_idx") {
			err = store.ErrConflict
		}
		return models.Ticket{}, false, err
	}
	ticket.RequestID = input.RequestID

	if err = insertActionRequest(ctx, tx, actionCallNext, input.RequestID, ticket.TicketID); err != nil {
		return models.Ticket{}, false, err
	}
	if err = insertOutboxEvent(ctx, tx, store.EventServing, stateChange(ticket, models.StatusWaiting, models.StatusServing, calledAt)); err != nil {
		return models.Ticket{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

// completeServingAtCounter finishes the ticket the counter is serving, if
// any. The row is locked first, so a zero-row update afterwards means another
// request changed it between our snapshot and the lock, which aborts the
// whole call-next.
func (s *Store) completeServingAtCounter(ctx context.Context, tx pgx.Tx, counterID int64, occurredAt time.Time) error {
	var prior models.Ticket
	row := tx.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE counter_id = $1 AND status = $2
		FOR UPDATE
	`, counterID, models.StatusServing)
	if err := scanTicket(row, &prior); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE tickets
		SET status = $1, finished_at = $2
		WHERE ticket_id = $3 AND status = $4
	`, models.StatusComplete, occurredAt, prior.TicketID, models.StatusServing)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConflict
	}

	prior.Status = models.StatusComplete
	prior.FinishedAt = &occurredAt
	return insertOutboxEvent(ctx, tx, store.EventDone, stateChange(prior, models.StatusServing, models.StatusComplete, occurredAt))
}

// RepeatCall re-announces a Serving ticket. The increment is a single atomic
// update guarded on status, never a read-modify-write. Reaching the threshold
// voids the ticket in the same transaction; callers detect that by the
// returned status.
func (s *Store) RepeatCall(ctx context.Context, input store.RepeatCallInput) (models.Ticket, bool, error) {
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, empty, err := findActionRequest(ctx, tx, actionRepeat, input.RequestID)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.Ticket{}, false, err
		}
		if empty {
			return models.Ticket{}, false, store.ErrInvalidState
		}
		return existing, false, nil
	}

	var ticket models.Ticket
	row := tx.QueryRow(ctx, `
		UPDATE tickets
		SET repeat_count = repeat_count + 1
		WHERE ticket_id = $1 AND status = $2
		RETURNING `+ticketColumns,
		input.TicketID, models.StatusServing)
	if err = scanTicket(row, &ticket); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			_, exists, err = loadTicketStatus(ctx, tx, input.TicketID)
			if err != nil {
				return models.Ticket{}, false, err
			}
			if !exists {
				return models.Ticket{}, false, store.ErrTicketNotFound
			}
			return models.Ticket{}, false, store.ErrInvalidState
		}
		return models.Ticket{}, false, err
	}
	ticket.RequestID = input.RequestID

	if ticket.RepeatCount >= s.voidThreshold {
		tag, execErr := tx.Exec(ctx, `
			UPDATE tickets
			SET status = $1, finished_at = $2
			WHERE ticket_id = $3 AND status = $4
		`, models.StatusVoid, occurredAt, ticket.TicketID, models.StatusServing)
		if execErr != nil {
			err = execErr
			return models.Ticket{}, false, err
		}
		if tag.RowsAffected() == 0 {
			err = store.ErrConflict
			return models.Ticket{}, false, err
		}
		ticket.Status = models.StatusVoid
		ticket.FinishedAt = &occurredAt
		if err = insertOutboxEvent(ctx, tx, store.EventVoided, stateChange(ticket, models.StatusServing, models.StatusVoid, occurredAt)); err != nil {
			return models.Ticket{}, false, err
		}
	} else {
		if err = insertOutboxEvent(ctx, tx, store.EventRepeat, stateChange(ticket, models.StatusServing, models.StatusServing, occurredAt)); err != nil {
			return models.Ticket{}, false, err
		}
	}

	if err = insertActionRequest(ctx, tx, actionRepeat, input.RequestID, ticket.TicketID); err != nil {
		return models.Ticket{}, false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

// SetStatus performs the explicit Complete and Void staff actions via a
// compare-and-swap update. Void is only honored once the repeat threshold has
// been reached; the front end gates the button on the same rule, but the
// check here is the one that counts.
func (s *Store) SetStatus(ctx context.Context, input store.SetStatusInput) (models.Ticket, bool, error) {
	if input.Status != models.StatusComplete && input.Status != models.StatusVoid {
		return models.Ticket{}, false, store.ErrInvalidState
	}
	if !store.ValidTransition(models.StatusServing, input.Status) {
		return models.Ticket{}, false, store.ErrInvalidState
	}
	action := actionComplete
	eventType := store.EventDone
	if input.Status == models.StatusVoid {
		action = actionVoid
		eventType = store.EventVoided
	}
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, empty, err := findActionRequest(ctx, tx, action, input.RequestID)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.Ticket{}, false, err
		}
		if empty {
			return models.Ticket{}, false, store.ErrInvalidState
		}
		return existing, false, nil
	}

	query := `
		UPDATE tickets
		SET status = $1, finished_at = $2
		WHERE ticket_id = $3 AND status = $4`
	args := []interface{}{input.Status, occurredAt, input.TicketID, models.StatusServing}
	argPos := 5
	if input.Status == models.StatusVoid {
		query += fmt.Sprintf(" AND repeat_count >= $%d", argPos)
		args = append(args, s.voidThreshold)
		argPos++
	}
	if input.CounterID != 0 {
		query += fmt.Sprintf(" AND counter_id = $%d", argPos)
		args = append(args, input.CounterID)
	}
	query += " RETURNING " + ticketColumns

	var ticket models.Ticket
	row := tx.QueryRow(ctx, query, args...)
	if err = scanTicket(row, &ticket); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = s.explainSetStatusFailure(ctx, tx, input)
			return models.Ticket{}, false, err
		}
		return models.Ticket{}, false, err
	}
	ticket.RequestID = input.RequestID

	if err = insertActionRequest(ctx, tx, action, input.RequestID, ticket.TicketID); err != nil {
		return models.Ticket{}, false, err
	}
	if err = insertOutboxEvent(ctx, tx, eventType, stateChange(ticket, models.StatusServing, input.Status, occurredAt)); err != nil {
		return models.Ticket{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) explainSetStatusFailure(ctx context.Context, tx pgx.Tx, input store.SetStatusInput) error {
	var status string
	var counterID sql.NullInt64
	var repeatCount int
	row := tx.QueryRow(ctx, `
		SELECT status, counter_id, repeat_count
		FROM tickets
		WHERE ticket_id = $1
	`, input.TicketID)
	if err := row.Scan(&status, &counterID, &repeatCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrTicketNotFound
		}
		return err
	}
	if status != models.StatusServing {
		return store.ErrInvalidState
	}
	if input.Status == models.StatusVoid && repeatCount < s.voidThreshold {
		return store.ErrVoidThreshold
	}
	if input.CounterID != 0 && counterID.Valid && counterID.Int64 != input.CounterID {
		return store.ErrCounterMismatch
	}
	return store.ErrConflict
}

func (s *Store) GetServingTicket(ctx context.Context, counterID int64) (models.Ticket, bool, error) {
	var ticket models.Ticket
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE counter_id = $1 AND status = $2
	`, counterID, models.StatusServing)
	if err := scanTicket(row, &ticket); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) SnapshotTickets(ctx context.Context, departmentID int64) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE department_id = $1 AND status IN ($2, $3)
		ORDER BY created_at ASC, ticket_id ASC
	`, departmentID, models.StatusWaiting, models.StatusServing)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTickets(rows)
}

func (s *Store) ListOutboxEvents(ctx context.Context, after store.Offset, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT event_id, type, payload_json, created_at
		FROM outbox_events
	`
	args := []interface{}{}
	if !after.IsZero() {
		query += " WHERE (created_at, event_id) > ($1, $2)"
		args = append(args, after.LastEventTime, after.LastEventID)
		query += " ORDER BY created_at ASC, event_id ASC LIMIT $3"
	} else {
		query += " ORDER BY created_at ASC, event_id ASC LIMIT $1"
	}
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) ListTicketEvents(ctx context.Context, ticketID int64) ([]store.TicketEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ticket_id, ticket_seq, type, payload, created_at, prev_hash, hash
		FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY ticket_seq ASC
	`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.TicketEvent
	for rows.Next() {
		var event store.TicketEvent
		if err := rows.Scan(&event.TicketID, &event.TicketSeq, &event.Type, &event.Payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) ListDepartments(ctx context.Context) ([]models.Department, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT department_id, name, prefix
		FROM departments
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var departments []models.Department
	for rows.Next() {
		var dept models.Department
		if err := rows.Scan(&dept.DepartmentID, &dept.Name, &dept.Prefix); err != nil {
			return nil, err
		}
		departments = append(departments, dept)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return departments, nil
}

func (s *Store) ListServices(ctx context.Context, departmentID int64) ([]models.Service, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT service_id, department_id, name
		FROM services
		WHERE department_id = $1
		ORDER BY name ASC
	`, departmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []models.Service
	for rows.Next() {
		var svc models.Service
		if err := rows.Scan(&svc.ServiceID, &svc.DepartmentID, &svc.Name); err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return services, nil
}

func (s *Store) ListCounters(ctx context.Context, departmentID int64) ([]models.Counter, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT counter_id, department_id, name
		FROM counters
		WHERE department_id = $1
		ORDER BY name ASC
	`, departmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counters []models.Counter
	for rows.Next() {
		var counter models.Counter
		if err := rows.Scan(&counter.CounterID, &counter.DepartmentID, &counter.Name); err != nil {
			return nil, err
		}
		counters = append(counters, counter)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counters, nil
}

func (s *Store) GetRelayOffset(ctx context.Context, consumer string) (store.Offset, error) {
	var offset store.Offset
	row := s.pool.QueryRow(ctx, `
		SELECT last_event_time, last_event_id
		FROM relay_offsets
		WHERE consumer = $1
	`, consumer)
	if err := row.Scan(&offset.LastEventTime, &offset.LastEventID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Offset{}, nil
		}
		return store.Offset{}, err
	}
	return offset, nil
}

func (s *Store) UpdateRelayOffset(ctx context.Context, consumer string, offset store.Offset) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO relay_offsets (consumer, last_event_time, last_event_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (consumer)
		DO UPDATE SET last_event_time = EXCLUDED.last_event_time, last_event_id = EXCLUDED.last_event_id
	`, consumer, offset.LastEventTime, offset.LastEventID)
	return err
}

func (s *Store) withinOfficeHours(at time.Time) bool {
	if s.officeOpenHour == 0 && s.officeCloseHour == 0 {
		return true
	}
	hour := at.Local().Hour()
	return hour >= s.officeOpenHour && hour < s.officeCloseHour
}

// nextTicketNumber allocates the next per-department number. The upsert
// increments and returns atomically; two concurrent create-ticket
// transactions in the same department serialize on the sequence row, so
// numbers are unique and strictly increasing in commit order.
func nextTicketNumber(ctx context.Context, tx pgx.Tx, departmentID int64) (int64, error) {
	var next int64
	row := tx.QueryRow(ctx, `
		INSERT INTO ticket_sequences (department_id, next_number)
		VALUES ($1, 1)
		ON CONFLICT (department_id)
		DO UPDATE SET next_number = ticket_sequences.next_number + 1
		RETURNING next_number
	`, departmentID)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func formatLabel(prefix string, number int64) string {
	return fmt.Sprintf("%s-%0*d", prefix, ticketNumberPad, number)
}

func lookupDepartmentPrefix(ctx context.Context, tx pgx.Tx, departmentID int64) (string, error) {
	var prefix string
	row := tx.QueryRow(ctx, `
		SELECT prefix
		FROM departments
		WHERE department_id = $1
	`, departmentID)
	if err := row.Scan(&prefix); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrDepartmentNotFound
		}
		return "", err
	}
	return prefix, nil
}

func ensureServiceInDepartment(ctx context.Context, tx pgx.Tx, serviceID, departmentID int64) error {
	var owner int64
	row := tx.QueryRow(ctx, `
		SELECT department_id
		FROM services
		WHERE service_id = $1
	`, serviceID)
	if err := row.Scan(&owner); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrServiceNotFound
		}
		return err
	}
	if owner != departmentID {
		return store.ErrServiceMismatch
	}
	return nil
}

func ensureCounterInDepartment(ctx context.Context, tx pgx.Tx, counterID, departmentID int64) error {
	var owner int64
	row := tx.QueryRow(ctx, `
		SELECT department_id
		FROM counters
		WHERE counter_id = $1
	`, counterID)
	if err := row.Scan(&owner); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrCounterNotFound
		}
		return err
	}
	if owner != departmentID {
		return store.ErrCounterMismatch
	}
	return nil
}

func findTicketByRequestID(ctx context.Context, tx pgx.Tx, requestID string) (models.Ticket, bool, error) {
	var ticket models.Ticket
	row := tx.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE request_id = $1
	`, requestID)
	if err := scanTicket(row, &ticket); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	ticket.RequestID = requestID
	return ticket, true, nil
}

func findActionRequest(ctx context.Context, tx pgx.Tx, action, requestID string) (models.Ticket, bool, bool, error) {
	var ticketID sql.NullInt64
	row := tx.QueryRow(ctx, `
		SELECT ticket_id
		FROM ticket_action_requests
		WHERE request_id = $1 AND action = $2
	`, requestID, action)
	if err := row.Scan(&ticketID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, false, nil
		}
		return models.Ticket{}, false, false, err
	}

	if !ticketID.Valid {
		return models.Ticket{}, true, true, nil
	}

	var ticket models.Ticket
	row = tx.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = $1`, ticketID.Int64)
	if err := scanTicket(row, &ticket); err != nil {
		return models.Ticket{}, false, false, err
	}
	ticket.RequestID = requestID
	return ticket, true, false, nil
}

func insertActionRequest(ctx context.Context, tx pgx.Tx, action, requestID string, ticketID int64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ticket_action_requests (request_id, action, ticket_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (request_id) DO NOTHING
	`, requestID, action, nullIfZero(ticketID))
	return err
}

func loadTicketStatus(ctx context.Context, tx pgx.Tx, ticketID int64) (string, bool, error) {
	var status string
	row := tx.QueryRow(ctx, `
		SELECT status
		FROM tickets
		WHERE ticket_id = $1
	`, ticketID)
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return status, true, nil
}

func stateChange(ticket models.Ticket, oldStatus, newStatus string, at time.Time) store.StateChange {
	return store.StateChange{
		TicketID:     ticket.TicketID,
		DepartmentID: ticket.DepartmentID,
		Lane:         ticket.Lane,
		Label:        ticket.Label,
		OldStatus:    oldStatus,
		NewStatus:    newStatus,
		CounterID:    ticket.CounterID,
		RepeatCount:  ticket.RepeatCount,
		Timestamp:    at.UTC(),
	}
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventType string, change store.StateChange) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), eventType, payload, time.Now().UTC())
	if err != nil {
		return err
	}
	return insertTicketEvent(ctx, tx, change.TicketID, eventType, payload)
}

func insertTicketEvent(ctx context.Context, tx pgx.Tx, ticketID int64, eventType string, payload []byte) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, ticketID); err != nil {
		return err
	}

	var lastSeq int
	var prevHash sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT ticket_seq, hash
		FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY ticket_seq DESC
		LIMIT 1
		FOR UPDATE
	`, ticketID)
	if err := row.Scan(&lastSeq, &prevHash); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	nextSeq := lastSeq + 1
	prev := ""
	if prevHash.Valid {
		prev = prevHash.String
	}
	createdAt := time.Now().UTC()
	hash := store.ComputeTicketEventHash(prev, ticketID, eventType, payload, createdAt, nextSeq)

	_, err := tx.Exec(ctx, `
		INSERT INTO ticket_events (ticket_id, ticket_seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ticketID, nextSeq, eventType, payload, createdAt, prev, hash)
	return err
}

func qualifiedTicketColumns(table string) string {
	return table + ".ticket_id, " + table + ".number, " + table + ".label, " +
		table + ".department_id, " + table + ".service_id, " + table + ".lane, " +
		table + ".status, " + table + ".counter_id, " + table + ".repeat_count, " +
		table + ".created_at, " + table + ".called_at, " + table + ".finished_at"
}

func scanTicket(row pgx.Row, ticket *models.Ticket) error {
	var serviceIDNull sql.NullInt64
	var counterIDNull sql.NullInt64
	var calledAtNull sql.NullTime
	var finishedAtNull sql.NullTime
	if err := row.Scan(
		&ticket.TicketID, &ticket.Number, &ticket.Label, &ticket.DepartmentID,
		&serviceIDNull, &ticket.Lane, &ticket.Status, &counterIDNull,
		&ticket.RepeatCount, &ticket.CreatedAt, &calledAtNull, &finishedAtNull,
	); err != nil {
		return err
	}
	ticket.ServiceID = nullInt64Ptr(serviceIDNull)
	ticket.CounterID = nullInt64Ptr(counterIDNull)
	ticket.CalledAt = nullTimePtr(calledAtNull)
	ticket.FinishedAt = nullTimePtr(finishedAtNull)
	return nil
}

func collectTickets(rows pgx.Rows) ([]models.Ticket, error) {
	var tickets []models.Ticket
	for rows.Next() {
		var ticket models.Ticket
		if err := scanTicket(rows, &ticket); err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

func nullIfZero(value int64) interface{} {
	if value == 0 {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return &value.Time
}

func nullInt64Ptr(value sql.NullInt64) *int64 {
	if !value.Valid {
		return nil
	}
	return &value.Int64
}
