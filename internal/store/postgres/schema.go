package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS departments (
		department_id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		prefix TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS services (
		service_id BIGSERIAL PRIMARY KEY,
		department_id BIGINT NOT NULL REFERENCES departments(department_id),
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS counters (
		counter_id BIGSERIAL PRIMARY KEY,
		department_id BIGINT NOT NULL REFERENCES departments(department_id),
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ticket_sequences (
		department_id BIGINT PRIMARY KEY,
		next_number BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tickets (
		ticket_id BIGSERIAL PRIMARY KEY,
		request_id UUID NOT NULL UNIQUE,
		number BIGINT NOT NULL,
		label TEXT NOT NULL,
		department_id BIGINT NOT NULL REFERENCES departments(department_id),
		service_id BIGINT REFERENCES services(service_id),
		lane TEXT NOT NULL,
		status TEXT NOT NULL,
		counter_id BIGINT REFERENCES counters(counter_id),
		repeat_count INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		called_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		UNIQUE (department_id, number)
	)`,
	`CREATE INDEX IF NOT EXISTS tickets_waiting_idx
		ON tickets (department_id, lane, created_at, ticket_id)
		WHERE status = 'Waiting'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS tickets_serving_counter_idx
		ON tickets (counter_id)
		WHERE status = 'Serving'`,
	`CREATE TABLE IF NOT EXISTS ticket_action_requests (
		request_id UUID PRIMARY KEY,
		action TEXT NOT NULL,
		ticket_id BIGINT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		event_id UUID PRIMARY KEY,
		type TEXT NOT NULL,
		payload_json JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS outbox_events_order_idx
		ON outbox_events (created_at, event_id)`,
	`CREATE TABLE IF NOT EXISTS ticket_events (
		ticket_id BIGINT NOT NULL,
		ticket_seq INT NOT NULL,
		type TEXT NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		prev_hash TEXT NOT NULL,
		hash TEXT NOT NULL,
		PRIMARY KEY (ticket_id, ticket_seq)
	)`,
	`CREATE TABLE IF NOT EXISTS relay_offsets (
		consumer TEXT PRIMARY KEY,
		last_event_time TIMESTAMPTZ NOT NULL,
		last_event_id UUID NOT NULL
	)`,
}

// Migrate applies the schema. Statements are idempotent so repeated startup
// runs are safe.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
