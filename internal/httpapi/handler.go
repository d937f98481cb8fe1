package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mqs/queue-service/internal/lane"
	"mqs/queue-service/internal/models"
	"mqs/queue-service/internal/store"

	"github.com/google/uuid"
)

// maxEventPageSize bounds one /api/events response; larger limits are
// clamped so a single poll cannot drag the whole outbox.
const maxEventPageSize = 500

type Handler struct {
	store store.TicketStore
}

type createTicketRequest struct {
	RequestID    string `json:"request_id"`
	DepartmentID int64  `json:"department_id"`
	ServiceID    int64  `json:"service_id"`
	Priority     string `json:"priority"`
}

type callNextRequest struct {
	RequestID    string `json:"request_id"`
	StaffID      int64  `json:"staff_id"`
	CounterID    int64  `json:"counter_id"`
	DepartmentID int64  `json:"department_id"`
	Lane         string `json:"lane"`
}

type ticketActionRequest struct {
	RequestID string `json:"request_id"`
	CounterID int64  `json:"counter_id"`
}

// repeatResponse carries the voided flag so staff dashboards can tell a
// plain re-announce apart from the threshold kicking in.
type repeatResponse struct {
	models.Ticket
	AutoVoided bool `json:"auto_voided"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(store store.TicketStore) *Handler {
	return &Handler{store: store}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/tickets", h.handleTickets)
	mux.HandleFunc("/api/tickets/actions/call-next", h.handleCallNext)
	mux.HandleFunc("/api/tickets/waiting", h.handleWaiting)
	mux.HandleFunc("/api/tickets/serving", h.handleServing)
	mux.HandleFunc("/api/tickets/snapshot", h.handleSnapshot)
	mux.HandleFunc("/api/tickets/", h.handleTicketSubtree)
	mux.HandleFunc("/api/events", h.handleEvents)
	mux.HandleFunc("/api/departments", h.handleDepartments)
	mux.HandleFunc("/api/services", h.handleServices)
	mux.HandleFunc("/api/counters", h.handleCounters)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleTickets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createTicketRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.RequestID = strings.TrimSpace(req.RequestID)
	if req.RequestID == "" || req.DepartmentID <= 0 || req.ServiceID <= 0 {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id, department_id, and service_id are required")
		return
	}
	if !isValidUUID(req.RequestID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID")
		return
	}

	ticketLane, err := lane.Classify(req.Priority)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}

	ticket, _, err := h.store.CreateTicket(r.Context(), store.CreateTicketInput{
		RequestID:    req.RequestID,
		DepartmentID: req.DepartmentID,
		ServiceID:    req.ServiceID,
		Lane:         ticketLane,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req callNextRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.RequestID = strings.TrimSpace(req.RequestID)
	req.Lane = strings.TrimSpace(req.Lane)
	if req.RequestID == "" || req.CounterID <= 0 || req.DepartmentID <= 0 || req.Lane == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id, counter_id, department_id, and lane are required")
		return
	}
	if !isValidUUID(req.RequestID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID")
		return
	}
	if !lane.ValidLane(req.Lane) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "lane must be Regular or Priority")
		return
	}

	ticket, _, err := h.store.CallNext(r.Context(), store.CallNextInput{
		RequestID:    req.RequestID,
		StaffID:      req.StaffID,
		CounterID:    req.CounterID,
		DepartmentID: req.DepartmentID,
		Lane:         req.Lane,
		CalledAt:     time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, store.ErrNoTicket) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleTicketSubtree(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	ticketID, err := parseID(parts[0])
	if err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "ticket id must be a positive integer")
		return
	}

	switch {
	case len(parts) == 1:
		h.handleGetTicket(w, r, ticketID)
	case len(parts) == 2 && parts[1] == "events":
		h.handleTicketEvents(w, r, ticketID)
	case len(parts) == 3 && parts[1] == "actions":
		h.handleTicketAction(w, r, ticketID, parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request, ticketID int64) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ticket, err := h.store.GetTicket(r.Context(), ticketID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleTicketEvents(w http.ResponseWriter, r *http.Request, ticketID int64) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	events, err := h.store.ListTicketEvents(r.Context(), ticketID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleTicketAction(w http.ResponseWriter, r *http.Request, ticketID int64, action string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req ticketActionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.RequestID = strings.TrimSpace(req.RequestID)
	if req.RequestID == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id is required")
		return
	}
	if !isValidUUID(req.RequestID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID")
		return
	}

	switch action {
	case "repeat":
		h.handleRepeatCall(w, r, ticketID, req)
	case "complete":
		h.handleSetStatus(w, r, ticketID, req, models.StatusComplete)
	case "void":
		h.handleSetStatus(w, r, ticketID, req, models.StatusVoid)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleRepeatCall(w http.ResponseWriter, r *http.Request, ticketID int64, req ticketActionRequest) {
	ticket, _, err := h.store.RepeatCall(r.Context(), store.RepeatCallInput{
		RequestID:  req.RequestID,
		TicketID:   ticketID,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, repeatResponse{
		Ticket:     ticket,
		AutoVoided: ticket.Status == models.StatusVoid,
	})
}

func (h *Handler) handleSetStatus(w http.ResponseWriter, r *http.Request, ticketID int64, req ticketActionRequest, status string) {
	ticket, _, err := h.store.SetStatus(r.Context(), store.SetStatusInput{
		RequestID:  req.RequestID,
		TicketID:   ticketID,
		Status:     status,
		CounterID:  req.CounterID,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		httpStatus, code, msg := mapError(err)
		writeError(w, req.RequestID, httpStatus, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleWaiting(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	departmentID, err := parseID(r.URL.Query().Get("department_id"))
	if err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "department_id must be a positive integer")
		return
	}
	ticketLane := strings.TrimSpace(r.URL.Query().Get("lane"))
	if !lane.ValidLane(ticketLane) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "lane must be Regular or Priority")
		return
	}

	tickets, err := h.store.ListWaiting(r.Context(), departmentID, ticketLane)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, tickets)
}

func (h *Handler) handleServing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	counterID, err := parseID(r.URL.Query().Get("counter_id"))
	if err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "counter_id must be a positive integer")
		return
	}

	ticket, found, err := h.store.GetServingTicket(r.Context(), counterID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	departmentID, err := parseID(r.URL.Query().Get("department_id"))
	if err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "department_id must be a positive integer")
		return
	}

	tickets, err := h.store.SnapshotTickets(r.Context(), departmentID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, tickets)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var after store.Offset
	if afterRaw := strings.TrimSpace(r.URL.Query().Get("after")); afterRaw != "" {
		parsed, err := time.Parse(time.RFC3339, afterRaw)
		if err != nil {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "after must be RFC3339 timestamp")
			return
		}
		after.LastEventTime = parsed
		after.LastEventID = uuid.Nil.String()
	}
	if afterID := strings.TrimSpace(r.URL.Query().Get("after_id")); afterID != "" {
		if !isValidUUID(afterID) {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "after_id must be a UUID")
			return
		}
		after.LastEventID = afterID
	}

	limit := 100
	if limitRaw := strings.TrimSpace(r.URL.Query().Get("limit")); limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil || parsed <= 0 {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		if parsed > maxEventPageSize {
			parsed = maxEventPageSize
		}
		limit = parsed
	}

	events, err := h.store.ListOutboxEvents(r.Context(), after, limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleDepartments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	departments, err := h.store.ListDepartments(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, departments)
}

func (h *Handler) handleServices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	departmentID, err := parseID(r.URL.Query().Get("department_id"))
	if err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "department_id must be a positive integer")
		return
	}

	services, err := h.store.ListServices(r.Context(), departmentID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, services)
}

func (h *Handler) handleCounters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	departmentID, err := parseID(r.URL.Query().Get("department_id"))
	if err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "department_id must be a positive integer")
		return
	}

	counters, err := h.store.ListCounters(r.Context(), departmentID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, counters)
}

func parseID(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, errors.New("id must be positive")
	}
	return id, nil
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrDepartmentNotFound):
		return http.StatusNotFound, "department_not_found", "department not found"
	case errors.Is(err, store.ErrServiceNotFound):
		return http.StatusNotFound, "service_not_found", "service not found"
	case errors.Is(err, store.ErrCounterNotFound):
		return http.StatusNotFound, "counter_not_found", "counter not found"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrServiceMismatch):
		return http.StatusConflict, "service_mismatch", "service does not belong to department"
	case errors.Is(err, store.ErrCounterMismatch):
		return http.StatusConflict, "counter_mismatch", "counter does not belong to department"
	case errors.Is(err, store.ErrInvalidPriority):
		return http.StatusBadRequest, "invalid_priority", "unrecognized priority category"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, store.ErrVoidThreshold):
		return http.StatusConflict, "repeat_threshold", "ticket has not reached the repeat threshold"
	case errors.Is(err, store.ErrOfficeClosed):
		return http.StatusConflict, "office_closed", "ticket requests are closed outside office hours"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict", "concurrent modification, retry the request"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
