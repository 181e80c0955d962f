package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/NorhanGamalY/Queue-Management-System-Backend/internal/eta"
	"github.com/NorhanGamalY/Queue-Management-System-Backend/internal/models"
	"github.com/NorhanGamalY/Queue-Management-System-Backend/internal/store"

	"github.com/google/uuid"
)

// Estimator is the slice of the wait-time predictor the handlers use.
type Estimator interface {
	Estimate(ctx context.Context, businessID, queueID, serviceType string) eta.Estimate
	PerCustomer(ctx context.Context, businessID, serviceType string) float64
}

// Notifier receives domain events after the triggering write has committed.
type Notifier interface {
	TicketCreated(ticket models.Ticket)
	TicketCalled(ticket models.Ticket)
	TicketUpdated(ticket models.Ticket)
	TicketCancelled(ticket models.Ticket)
	TicketCompleted(ticket models.Ticket)
	TicketSkipped(ticket models.Ticket)
	QueueUpdated(queue models.Queue)
	UserNotification(userID, message string)
}

type Handler struct {
	store     store.Store
	estimator Estimator
	events    Notifier
}

func NewHandler(store store.Store, estimator Estimator, events Notifier) *Handler {
	return &Handler{store: store, estimator: estimator, events: events}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/queues", h.handleQueues)
	mux.HandleFunc("/api/queues/active", h.handleActiveQueue)
	mux.HandleFunc("/api/queues/", h.handleQueueActions)
	mux.HandleFunc("/api/tickets", h.handleAdmit)
	mux.HandleFunc("/api/tickets/", h.handleTicketRoutes)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type createQueueRequest struct {
	BusinessID  string `json:"business_id"`
	ServiceDate string `json:"service_date"`
	Capacity    int    `json:"capacity"`
}

func (h *Handler) handleQueues(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createQueueRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.ServiceDate = strings.TrimSpace(req.ServiceDate)
	if req.BusinessID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "business_id is required")
		return
	}
	if !isValidUUID(req.BusinessID) {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "business_id must be a UUID")
		return
	}
	if req.Capacity <= 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "capacity must be a positive integer")
		return
	}

	serviceDate := time.Now().UTC().Truncate(24 * time.Hour)
	if req.ServiceDate != "" {
		parsed, err := time.Parse("2006-01-02", req.ServiceDate)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "service_date must be YYYY-MM-DD")
			return
		}
		serviceDate = parsed
	}

	if !requireBusinessAccess(w, r, req.BusinessID) {
		return
	}

	queue, err := h.store.CreateQueue(r.Context(), store.CreateQueueInput{
		BusinessID:  req.BusinessID,
		ServiceDate: serviceDate,
		Capacity:    req.Capacity,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, r, status, code, msg)
		return
	}

	h.events.QueueUpdated(queue)
	writeJSON(w, http.StatusCreated, queue)
}

func (h *Handler) handleActiveQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	businessID := strings.TrimSpace(r.URL.Query().Get("business_id"))
	if businessID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "business_id is required")
		return
	}
	if !isValidUUID(businessID) {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "business_id must be a UUID")
		return
	}

	date := time.Now().UTC().Truncate(24 * time.Hour)
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
			return
		}
		date = parsed
	}

	queue, err := h.store.GetActiveQueue(r.Context(), businessID, date)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, r, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, queue)
}

type queueActionRequest struct {
	Reason string `json:"reason"`
}

type snapshotResponse struct {
	Queue   models.Queue    `json:"queue"`
	Tickets []models.Ticket `json:"tickets"`
}

func (h *Handler) handleQueueActions(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/queues/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	queueID := parts[0]
	if !isValidUUID(queueID) {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "queue_id must be a UUID")
		return
	}

	if len(parts) == 2 && parts[1] == "snapshot" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleQueueSnapshot(w, r, queueID)
		return
	}

	if len(parts) != 3 || parts[1] != "actions" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	switch parts[2] {
	case "pause":
		h.handleSetQueueStatus(w, r, queueID, models.QueuePaused)
	case "resume":
		h.handleSetQueueStatus(w, r, queueID, models.QueueActive)
	case "close":
		h.handleCloseQueue(w, r, queueID)
	case "call-next":
		h.handleCallNext(w, r, queueID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleQueueSnapshot(w http.ResponseWriter, r *http.Request, queueID string) {
	queue, tickets, err := h.store.QueueSnapshot(r.Context(), queueID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, r, status, code, msg)
		return
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	writeJSON(w, http.StatusOK, snapshotResponse{Queue: queue, Tickets: tickets})
}

func (h *Handler) handleSetQueueStatus(w http.ResponseWriter, r *http.Request, queueID, status string) {
	queue, err := h.store.GetQueue(r.Context(), queueID)
	if err != nil {
		st, code, msg := mapError(err)
		writeError(w, r, st, code, msg)
		return
	}
	if !requireBusinessAccess(w, r, queue.BusinessID) {
		return
	}

	queue, err = h.store.SetQueueStatus(r.Context(), queueID, status)
	if err != nil {
		st, code, msg := mapError(err)
		writeError(w, r, st, code, msg)
		return
	}

	h.events.QueueUpdated(queue)
	writeJSON(w, http.StatusOK, queue)
}

func (h *Handler) handleCloseQueue(w http.ResponseWriter, r *http.Request, queueID string) {
	var req queueActionRequest
	if r.Body != nil && r.ContentLength != 0 {
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
			return
		}
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "queue closed"
	}

	existing, err := h.store.GetQueue(r.Context(), queueID)
	if err != nil {
		st, code, msg := mapError(err)
		writeError(w, r, st, code, msg)
		return
	}
	if !requireBusinessAccess(w, r, existing.BusinessID) {
		return
	}

	queue, cancelled, err := h.store.CloseQueue(r.Context(), queueID, reason, time.Now().UTC())
	if err != nil {
		st, code, msg := mapError(err)
		writeError(w, r, st, code, msg)
		return
	}

	for _, ticket := range cancelled {
		h.events.TicketCancelled(ticket)
	}
	h.events.QueueUpdated(queue)
	writeJSON(w, http.StatusOK, queue)
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request, queueID string) {
	queue, err := h.store.GetQueue(r.Context(), queueID)
	if err != nil {
		st, code, msg := mapError(err)
		writeError(w, r, st, code, msg)
		return
	}
	if !requireBusinessAccess(w, r, queue.BusinessID) {
		return
	}

	result, err := h.store.CallNext(r.Context(), queueID, time.Now().UTC())
	if err != nil {
		st, code, msg := mapError(err)
		writeError(w, r, st, code, msg)
		return
	}

	h.events.TicketCalled(result.Ticket)
	writeJSON(w, http.StatusOK, result.Ticket)
}

type admitRequest struct {
	BusinessID  string `json:"business_id"`
	QueueID     string `json:"queue_id"`
	ServiceType string `json:"service_type"`
	Priority    string `json:"priority"`
	UserID      string `json:"user_id"`
}

type admitResponse struct {
	Ticket models.Ticket `json:"ticket"`
	ETA    eta.Estimate  `json:"eta"`
}

// handleAdmit is the allocation path. The estimate is computed before the
// conditional admission and never blocks it: any estimator problem surfaces
// as a default figure on an otherwise successful ticket.
func (h *Handler) handleAdmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req admitRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.QueueID = strings.TrimSpace(req.QueueID)
	req.ServiceType = strings.TrimSpace(req.ServiceType)
	req.Priority = strings.TrimSpace(req.Priority)
	req.UserID = strings.TrimSpace(req.UserID)

	if req.BusinessID == "" || req.QueueID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "business_id and queue_id are required")
		return
	}
	if !isValidUUID(req.BusinessID) || !isValidUUID(req.QueueID) {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "business_id and queue_id must be UUIDs")
		return
	}

	principal, ok := principalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	var userID *string
	if principal.Role == models.RoleUser {
		// A customer always admits for themselves.
		id := principal.UserID
		userID = &id
	} else {
		if !principal.CanActOn(req.BusinessID) {
			writeError(w, r, http.StatusForbidden, "access_denied", "business access denied")
			return
		}
		// Staff admission without a user is a walk-in.
		if req.UserID != "" {
			if !isValidUUID(req.UserID) {
				writeError(w, r, http.StatusBadRequest, "invalid_request", "user_id must be a UUID")
				return
			}
			id := req.UserID
			userID = &id
		}
	}

	estimate := h.estimator.Estimate(r.Context(), req.BusinessID, req.QueueID, req.ServiceType)

	ticket, queue, err := h.store.AdmitTicket(r.Context(), store.AdmitInput{
		BusinessID:           req.BusinessID,
		QueueID:              req.QueueID,
		ServiceType:          req.ServiceType,
		Priority:             req.Priority,
		UserID:               userID,
		EstimatedWaitMinutes: estimate.Minutes,
		CreatedAt:            time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, r, status, code, msg)
		return
	}

	h.events.TicketCreated(ticket)
	h.events.QueueUpdated(queue)
	writeJSON(w, http.StatusCreated, admitResponse{Ticket: ticket, ETA: estimate})
}

type ticketActionRequest struct {
	Reason string  `json:"reason"`
	Amount float64 `json:"amount"`
}

func (h *Handler) handleTicketRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	ticketID := parts[0]
	if !isValidUUID(ticketID) {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "ticket_id must be a UUID")
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleGetTicket(w, r, ticketID)
	case len(parts) == 2 && parts[1] == "events":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleTicketEvents(w, r, ticketID)
	case len(parts) == 3 && parts[1] == "actions":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleTicketAction(w, r, ticketID, parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request, ticketID string) {
	ticket, err := h.store.GetTicket(r.Context(), ticketID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, r, status, code, msg)
		return
	}

	principal, ok := principalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}
	holder := ticket.UserID != nil && *ticket.UserID == principal.UserID
	if !holder && !principal.CanActOn(ticket.BusinessID) {
		writeError(w, r, http.StatusForbidden, "access_denied", "access denied")
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleTicketEvents(w http.ResponseWriter, r *http.Request, ticketID string) {
	ticket, err := h.store.GetTicket(r.Context(), ticketID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, r, status, code, msg)
		return
	}
	if !requireBusinessAccess(w, r, ticket.BusinessID) {
		return
	}

	events, err := h.store.ListTicketEvents(r.Context(), ticketID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, r, status, code, msg)
		return
	}
	if events == nil {
		events = []store.TicketEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleTicketAction(w http.ResponseWriter, r *http.Request, ticketID, action string) {
	var req ticketActionRequest
	if r.Body != nil && r.ContentLength != 0 {
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
			return
		}
	}

	ticket, err := h.store.GetTicket(r.Context(), ticketID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, r, status, code, msg)
		return
	}

	principal, ok := principalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	// Cancellation is the one action the ticket holder may perform; every
	// other lifecycle action is staff-side.
	holderCancel := action == "cancel" && ticket.UserID != nil && *ticket.UserID == principal.UserID
	if !holderCancel && !principal.CanActOn(ticket.BusinessID) {
		writeError(w, r, http.StatusForbidden, "access_denied", "business access denied")
		return
	}

	input := store.TicketActionInput{
		TicketID:   ticketID,
		Reason:     strings.TrimSpace(req.Reason),
		OccurredAt: time.Now().UTC(),
	}

	switch action {
	case "call":
		h.finishTransition(w, r, h.store.CallTicket, input, h.events.TicketCalled, false)
	case "start":
		h.finishTransition(w, r, h.store.StartTicket, input, h.events.TicketUpdated, false)
	case "complete":
		h.finishTransition(w, r, h.store.CompleteTicket, input, h.events.TicketCompleted, true)
	case "skip":
		h.finishTransition(w, r, h.store.SkipTicket, input, h.events.TicketSkipped, false)
	case "cancel":
		h.finishTransition(w, r, h.store.CancelTicket, input, h.events.TicketCancelled, false)
	case "paid":
		h.handleTicketPaid(w, r, ticketID, req.Amount)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type transitionFunc func(ctx context.Context, input store.TicketActionInput) (store.TransitionResult, error)

func (h *Handler) finishTransition(w http.ResponseWriter, r *http.Request, transition transitionFunc, input store.TicketActionInput, notify func(models.Ticket), reestimate bool) {
	result, err := transition(r.Context(), input)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, r, status, code, msg)
		return
	}

	notify(result.Ticket)
	if result.SlotReleased {
		h.events.QueueUpdated(result.Queue)
	}
	if reestimate {
		go h.redistributeEstimates(result.Ticket.BusinessID, result.Ticket.QueueID)
	}
	writeJSON(w, http.StatusOK, result.Ticket)
}

// redistributeEstimates refreshes the remaining waiting tickets' estimates
// after a completion. It runs detached from the triggering request and any
// failure is logged, never surfaced.
func (h *Handler) redistributeEstimates(businessID, queueID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	perCustomer := h.estimator.PerCustomer(ctx, businessID, "")
	tickets, err := h.store.RewriteWaitEstimates(ctx, queueID, perCustomer)
	if err != nil {
		log.Printf("eta redistribution queue_id=%s err=%v", queueID, err)
		return
	}
	for _, ticket := range tickets {
		h.events.TicketUpdated(ticket)
	}
}

func (h *Handler) handleTicketPaid(w http.ResponseWriter, r *http.Request, ticketID string, amount float64) {
	if amount < 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "amount must not be negative")
		return
	}
	ticket, err := h.store.MarkTicketPaid(r.Context(), ticketID, amount)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, r, status, code, msg)
		return
	}
	h.events.TicketUpdated(ticket)
	if ticket.UserID != nil {
		h.events.UserNotification(*ticket.UserID, "payment received for ticket "+ticket.TicketID)
	}
	writeJSON(w, http.StatusOK, ticket)
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrBusinessNotFound):
		return http.StatusNotFound, "business_not_found", "business not found"
	case errors.Is(err, store.ErrQueueNotFound):
		return http.StatusNotFound, "queue_not_found", "queue not found"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrNoTicketWaiting):
		return http.StatusNotFound, "queue_empty", "no ticket waiting"
	case errors.Is(err, store.ErrQueueExists):
		return http.StatusConflict, "queue_exists", "queue already exists for this date"
	case errors.Is(err, store.ErrQueueFull):
		return http.StatusConflict, "queue_full", "queue is at capacity"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", err.Error()
	case errors.Is(err, store.ErrQueueMismatch):
		return http.StatusBadRequest, "queue_mismatch", "queue does not belong to this business"
	case errors.Is(err, store.ErrQueueNotActive):
		return http.StatusServiceUnavailable, "queue_not_active", "queue is not accepting tickets"
	case errors.Is(err, store.ErrBusinessInactive):
		return http.StatusServiceUnavailable, "business_inactive", "business is not operating"
	case errors.Is(err, store.ErrAccessDenied):
		return http.StatusForbidden, "access_denied", "access denied"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

type errorResponse struct {
	RequestID string        `json:"request_id,omitempty"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestIDFromRequest(r),
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
