package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"mqs/queue-service/internal/models"
	"mqs/queue-service/internal/store"
)

type fakeStore struct {
	createFn      func(ctx context.Context, input store.CreateTicketInput) (models.Ticket, bool, error)
	getTicketFn   func(ctx context.Context, ticketID int64) (models.Ticket, error)
	listWaitingFn func(ctx context.Context, departmentID int64, lane string) ([]models.Ticket, error)
	callFn        func(ctx context.Context, input store.CallNextInput) (models.Ticket, bool, error)
	repeatFn      func(ctx context.Context, input store.RepeatCallInput) (models.Ticket, bool, error)
	setStatusFn   func(ctx context.Context, input store.SetStatusInput) (models.Ticket, bool, error)
	servingFn     func(ctx context.Context, counterID int64) (models.Ticket, bool, error)
	snapshotFn    func(ctx context.Context, departmentID int64) ([]models.Ticket, error)
	outboxFn      func(ctx context.Context, after store.Offset, limit int) ([]store.OutboxEvent, error)
	eventsFn      func(ctx context.Context, ticketID int64) ([]store.TicketEvent, error)
	departmentsFn func(ctx context.Context) ([]models.Department, error)
	servicesFn    func(ctx context.Context, departmentID int64) ([]models.Service, error)
	countersFn    func(ctx context.Context, departmentID int64) ([]models.Counter, error)
	getOffsetFn   func(ctx context.Context, consumer string) (store.Offset, error)
	setOffsetFn   func(ctx context.Context, consumer string, offset store.Offset) error
}

func (f fakeStore) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, bool, error) {
	if f.createFn == nil {
		return models.Ticket{}, false, nil
	}
	return f.createFn(ctx, input)
}

func (f fakeStore) GetTicket(ctx context.Context, ticketID int64) (models.Ticket, error) {
	if f.getTicketFn == nil {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return f.getTicketFn(ctx, ticketID)
}

func (f fakeStore) ListWaiting(ctx context.Context, departmentID int64, lane string) ([]models.Ticket, error) {
	if f.listWaitingFn == nil {
		return nil, nil
	}
	return f.listWaitingFn(ctx, departmentID, lane)
}

func (f fakeStore) CallNext(ctx context.Context, input store.CallNextInput) (models.Ticket, bool, error) {
	if f.callFn == nil {
		return models.Ticket{}, false, nil
	}
	return f.callFn(ctx, input)
}

func (f fakeStore) RepeatCall(ctx context.Context, input store.RepeatCallInput) (models.Ticket, bool, error) {
	if f.repeatFn == nil {
		return models.Ticket{}, false, nil
	}
	return f.repeatFn(ctx, input)
}

func (f fakeStore) SetStatus(ctx context.Context, input store.SetStatusInput) (models.Ticket, bool, error) {
	if f.setStatusFn == nil {
		return models.Ticket{}, false, nil
	}
	return f.setStatusFn(ctx, input)
}

func (f fakeStore) GetServingTicket(ctx context.Context, counterID int64) (models.Ticket, bool, error) {
	if f.servingFn == nil {
		return models.Ticket{}, false, nil
	}
	return f.servingFn(ctx, counterID)
}

func (f fakeStore) SnapshotTickets(ctx context.Context, departmentID int64) ([]models.Ticket, error) {
	if f.snapshotFn == nil {
		return nil, nil
	}
	return f.snapshotFn(ctx, departmentID)
}

func (f fakeStore) ListOutboxEvents(ctx context.Context, after store.Offset, limit int) ([]store.OutboxEvent, error) {
	if f.outboxFn == nil {
		return nil, nil
	}
	return f.outboxFn(ctx, after, limit)
}

func (f fakeStore) ListTicketEvents(ctx context.Context, ticketID int64) ([]store.TicketEvent, error) {
	if f.eventsFn == nil {
		return nil, nil
	}
	return f.eventsFn(ctx, ticketID)
}

func (f fakeStore) ListDepartments(ctx context.Context) ([]models.Department, error) {
	if f.departmentsFn == nil {
		return nil, nil
	}
	return f.departmentsFn(ctx)
}

func (f fakeStore) ListServices(ctx context.Context, departmentID int64) ([]models.Service, error) {
	if f.servicesFn == nil {
		return nil, nil
	}
	return f.servicesFn(ctx, departmentID)
}

func (f fakeStore) ListCounters(ctx context.Context, departmentID int64) ([]models.Counter, error) {
	if f.countersFn == nil {
		return nil, nil
	}
	return f.countersFn(ctx, departmentID)
}

func (f fakeStore) GetRelayOffset(ctx context.Context, consumer string) (store.Offset, error) {
	if f.getOffsetFn == nil {
		return store.Offset{}, nil
	}
	return f.getOffsetFn(ctx, consumer)
}

func (f fakeStore) UpdateRelayOffset(ctx context.Context, consumer string, offset store.Offset) error {
	if f.setOffsetFn == nil {
		return nil
	}
	return f.setOffsetFn(ctx, consumer, offset)
}

func TestCreateTicketSuccess(t *testing.T) {
	st := fakeStore{
		createFn: func(ctx context.Context, input store.CreateTicketInput) (models.Ticket, bool, error) {
			if input.Lane != models.LanePriority {
				t.Fatalf("expected priority lane, got %q", input.Lane)
			}
			return models.Ticket{
				TicketID:  1,
				Number:    7,
				Label:     "ENG-007",
				Lane:      input.Lane,
				Status:    models.StatusWaiting,
				RequestID: input.RequestID,
			}, true, nil
		},
	}
	h := NewHandler(st)

	payload := map[string]interface{}{
		"request_id":    "11111111-1111-1111-1111-111111111111",
		"department_id": 4,
		"service_id":    9,
		"priority":      "senior/pwd/pregnant",
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/tickets", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	var ticket models.Ticket
	if err := json.NewDecoder(resp.Body).Decode(&ticket); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if ticket.Label != "ENG-007" || ticket.Status != models.StatusWaiting {
		t.Fatalf("unexpected ticket response: %+v", ticket)
	}
}

func TestCreateTicketUnknownPriority(t *testing.T) {
	h := NewHandler(fakeStore{})

	payload := map[string]interface{}{
		"request_id":    "11111111-1111-1111-1111-111111111111",
		"department_id": 4,
		"service_id":    9,
		"priority":      "vip",
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/tickets", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestCreateTicketMissingFields(t *testing.T) {
	h := NewHandler(fakeStore{})

	payload := map[string]interface{}{
		"request_id": "11111111-1111-1111-1111-111111111111",
		"priority":   "Regular",
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/tickets", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestCreateTicketBadRequestID(t *testing.T) {
	h := NewHandler(fakeStore{})

	payload := map[string]interface{}{
		"request_id":    "not-a-uuid",
		"department_id": 4,
		"service_id":    9,
		"priority":      "Regular",
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/tickets", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestCreateTicketDepartmentNotFound(t *testing.T) {
	st := fakeStore{
		createFn: func(ctx context.Context, input store.CreateTicketInput) (models.Ticket, bool, error) {
			return models.Ticket{}, false, store.ErrDepartmentNotFound
		},
	}
	h := NewHandler(st)

	payload := map[string]interface{}{
		"request_id":    "11111111-1111-1111-1111-111111111111",
		"department_id": 999,
		"service_id":    9,
		"priority":      "Regular",
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/tickets", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestCallNextSuccess(t *testing.T) {
	st := fakeStore{
		callFn: func(ctx context.Context, input store.CallNextInput) (models.Ticket, bool, error) {
			counterID := input.CounterID
			return models.Ticket{
				TicketID:  5,
				Label:     "TRS-012",
				Lane:      input.Lane,
				Status:    models.StatusServing,
				CounterID: &counterID,
				RequestID: input.RequestID,
			}, true, nil
		},
	}
	h := NewHandler(st)

	payload := map[string]interface{}{
		"request_id":    "22222222-2222-2222-2222-222222222222",
		"counter_id":    3,
		"department_id": 1,
		"lane":          models.LaneRegular,
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/tickets/actions/call-next", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	var ticket models.Ticket
	if err := json.NewDecoder(resp.Body).Decode(&ticket); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if ticket.Status != models.StatusServing || ticket.CounterID == nil || *ticket.CounterID != 3 {
		t.Fatalf("unexpected ticket response: %+v", ticket)
	}
}

func TestCallNextEmptyLane(t *testing.T) {
	st := fakeStore{
		callFn: func(ctx context.Context, input store.CallNextInput) (models.Ticket, bool, error) {
			return models.Ticket{}, false, store.ErrNoTicket
		},
	}
	h := NewHandler(st)

	payload := map[string]interface{}{
		"request_id":    "22222222-2222-2222-2222-222222222222",
		"counter_id":    3,
		"department_id": 1,
		"lane":          models.LanePriority,
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/tickets/actions/call-next", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", resp.Code)
	}
}

func TestCallNextBadLane(t *testing.T) {
	h := NewHandler(fakeStore{})

	payload := map[string]interface{}{
		"request_id":    "22222222-2222-2222-2222-222222222222",
		"counter_id":    3,
		"department_id": 1,
		"lane":          "express",
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/tickets/actions/call-next", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestRepeatActionAutoVoid(t *testing.T) {
	st := fakeStore{
		repeatFn: func(ctx context.Context, input store.RepeatCallInput) (models.Ticket, bool, error) {
			if input.TicketID != 12 {
				t.Fatalf("expected ticket 12, got %d", input.TicketID)
			}
			return models.Ticket{
				TicketID:    12,
				Status:      models.StatusVoid,
				RepeatCount: 3,
				RequestID:   input.RequestID,
			}, true, nil
		},
	}
	h := NewHandler(st)

	payload := map[string]interface{}{"request_id": "33333333-3333-3333-3333-333333333333"}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/tickets/12/actions/repeat", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	var result repeatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !result.AutoVoided || result.Status != models.StatusVoid {
		t.Fatalf("unexpected repeat response: %+v", result)
	}
}

func TestVoidActionBelowThreshold(t *testing.T) {
	st := fakeStore{
		setStatusFn: func(ctx context.Context, input store.SetStatusInput) (models.Ticket, bool, error) {
			if input.Status != models.StatusVoid {
				t.Fatalf("expected void, got %q", input.Status)
			}
			return models.Ticket{}, false, store.ErrVoidThreshold
		},
	}
	h := NewHandler(st)

	payload := map[string]interface{}{"request_id": "33333333-3333-3333-3333-333333333333"}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/tickets/12/actions/void", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
}

func TestCompleteActionInvalidState(t *testing.T) {
	st := fakeStore{
		setStatusFn: func(ctx context.Context, input store.SetStatusInput) (models.Ticket, bool, error) {
			return models.Ticket{}, false, store.ErrInvalidState
		},
	}
	h := NewHandler(st)

	payload := map[string]interface{}{"request_id": "33333333-3333-3333-3333-333333333333"}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/tickets/12/actions/complete", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
}

func TestUnknownAction(t *testing.T) {
	h := NewHandler(fakeStore{})

	payload := map[string]interface{}{"request_id": "33333333-3333-3333-3333-333333333333"}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/tickets/12/actions/hold", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestGetTicketSuccess(t *testing.T) {
	st := fakeStore{
		getTicketFn: func(ctx context.Context, ticketID int64) (models.Ticket, error) {
			return models.Ticket{TicketID: ticketID, Label: "ENG-001", Status: models.StatusWaiting}, nil
		},
	}
	h := NewHandler(st)

	req := httptest.NewRequest(http.MethodGet, "/api/tickets/42", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
}

func TestGetTicketBadID(t *testing.T) {
	h := NewHandler(fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/tickets/abc", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestListWaitingSuccess(t *testing.T) {
	st := fakeStore{
		listWaitingFn: func(ctx context.Context, departmentID int64, lane string) ([]models.Ticket, error) {
			if departmentID != 2 || lane != models.LaneRegular {
				t.Fatalf("unexpected query: department=%d lane=%q", departmentID, lane)
			}
			return []models.Ticket{{TicketID: 1}}, nil
		},
	}
	h := NewHandler(st)

	req := httptest.NewRequest(http.MethodGet, "/api/tickets/waiting?department_id=2&lane=Regular", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
}

func TestServingEmptyCounter(t *testing.T) {
	h := NewHandler(fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/tickets/serving?counter_id=7", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", resp.Code)
	}
}

func TestEventsBadAfter(t *testing.T) {
	h := NewHandler(fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/events?after=yesterday", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestEventsLimitClamped(t *testing.T) {
	var gotLimit int
	st := fakeStore{
		outboxFn: func(ctx context.Context, after store.Offset, limit int) ([]store.OutboxEvent, error) {
			gotLimit = limit
			return nil, nil
		},
	}
	h := NewHandler(st)

	req := httptest.NewRequest(http.MethodGet, "/api/events?limit=100000", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if gotLimit != maxEventPageSize {
		t.Fatalf("store queried with limit %d, want %d", gotLimit, maxEventPageSize)
	}
}

func TestDepartmentsSuccess(t *testing.T) {
	st := fakeStore{
		departmentsFn: func(ctx context.Context) ([]models.Department, error) {
			return []models.Department{{DepartmentID: 1, Name: "Engineering", Prefix: "ENG"}}, nil
		},
	}
	h := NewHandler(st)

	req := httptest.NewRequest(http.MethodGet, "/api/departments", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	var departments []models.Department
	if err := json.NewDecoder(resp.Body).Decode(&departments); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(departments) != 1 || departments[0].Prefix != "ENG" {
		t.Fatalf("unexpected departments: %+v", departments)
	}
}
