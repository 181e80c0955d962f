package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/NorhanGamalY/Queue-Management-System-Backend/internal/eta"
	"github.com/NorhanGamalY/Queue-Management-System-Backend/internal/models"
	"github.com/NorhanGamalY/Queue-Management-System-Backend/internal/store"
)

const (
	testBusinessID = "6f1f7897-6f63-4bfa-9c9f-19a2a8d4f0aa"
	testQueueID    = "9a2a2f85-95b8-4d20-88a7-64e0ff06f6cb"
	testTicketID   = "e2b9f1c7-7c43-4b62-8a8b-2f5a89e31d55"
	testUserID     = "4b2f1f36-6f09-45f2-9a56-8c6f8f2f2d11"
)

type fakeStore struct {
	createQueueFn    func(ctx context.Context, input store.CreateQueueInput) (models.Queue, error)
	getQueueFn       func(ctx context.Context, queueID string) (models.Queue, error)
	getActiveQueueFn func(ctx context.Context, businessID string, date time.Time) (models.Queue, error)
	setQueueStatusFn func(ctx context.Context, queueID, status string) (models.Queue, error)
	closeQueueFn     func(ctx context.Context, queueID, reason string, occurredAt time.Time) (models.Queue, []models.Ticket, error)
	snapshotFn       func(ctx context.Context, queueID string) (models.Queue, []models.Ticket, error)
	admitFn          func(ctx context.Context, input store.AdmitInput) (models.Ticket, models.Queue, error)
	getTicketFn      func(ctx context.Context, ticketID string) (models.Ticket, error)
	callFn           func(ctx context.Context, input store.TicketActionInput) (store.TransitionResult, error)
	callNextFn       func(ctx context.Context, queueID string, calledAt time.Time) (store.TransitionResult, error)
	startFn          func(ctx context.Context, input store.TicketActionInput) (store.TransitionResult, error)
	completeFn       func(ctx context.Context, input store.TicketActionInput) (store.TransitionResult, error)
	skipFn           func(ctx context.Context, input store.TicketActionInput) (store.TransitionResult, error)
	cancelFn         func(ctx context.Context, input store.TicketActionInput) (store.TransitionResult, error)
	markPaidFn       func(ctx context.Context, ticketID string, amount float64) (models.Ticket, error)
	listEventsFn     func(ctx context.Context, ticketID string) ([]store.TicketEvent, error)
	rewriteFn        func(ctx context.Context, queueID string, perCustomerMinutes float64) ([]models.Ticket, error)
	principalFn      func(ctx context.Context, sessionID string) (models.Principal, error)
}

func (f *fakeStore) CreateQueue(ctx context.Context, input store.CreateQueueInput) (models.Queue, error) {
	return f.createQueueFn(ctx, input)
}

func (f *fakeStore) GetQueue(ctx context.Context, queueID string) (models.Queue, error) {
	if f.getQueueFn == nil {
		return models.Queue{QueueID: queueID, BusinessID: testBusinessID, Status: models.QueueActive}, nil
	}
	return f.getQueueFn(ctx, queueID)
}

func (f *fakeStore) GetActiveQueue(ctx context.Context, businessID string, date time.Time) (models.Queue, error) {
	return f.getActiveQueueFn(ctx, businessID, date)
}

func (f *fakeStore) SetQueueStatus(ctx context.Context, queueID, status string) (models.Queue, error) {
	return f.setQueueStatusFn(ctx, queueID, status)
}

func (f *fakeStore) CloseQueue(ctx context.Context, queueID, reason string, occurredAt time.Time) (models.Queue, []models.Ticket, error) {
	return f.closeQueueFn(ctx, queueID, reason, occurredAt)
}

func (f *fakeStore) QueueSnapshot(ctx context.Context, queueID string) (models.Queue, []models.Ticket, error) {
	return f.snapshotFn(ctx, queueID)
}

func (f *fakeStore) AdmitTicket(ctx context.Context, input store.AdmitInput) (models.Ticket, models.Queue, error) {
	return f.admitFn(ctx, input)
}

func (f *fakeStore) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	if f.getTicketFn == nil {
		return models.Ticket{TicketID: ticketID, BusinessID: testBusinessID, QueueID: testQueueID, Status: models.StatusWaiting}, nil
	}
	return f.getTicketFn(ctx, ticketID)
}

func (f *fakeStore) CallTicket(ctx context.Context, input store.TicketActionInput) (store.TransitionResult, error) {
	return f.callFn(ctx, input)
}

func (f *fakeStore) CallNext(ctx context.Context, queueID string, calledAt time.Time) (store.TransitionResult, error) {
	return f.callNextFn(ctx, queueID, calledAt)
}

func (f *fakeStore) StartTicket(ctx context.Context, input store.TicketActionInput) (store.TransitionResult, error) {
	return f.startFn(ctx, input)
}

func (f *fakeStore) CompleteTicket(ctx context.Context, input store.TicketActionInput) (store.TransitionResult, error) {
	return f.completeFn(ctx, input)
}

func (f *fakeStore) SkipTicket(ctx context.Context, input store.TicketActionInput) (store.TransitionResult, error) {
	return f.skipFn(ctx, input)
}

func (f *fakeStore) CancelTicket(ctx context.Context, input store.TicketActionInput) (store.TransitionResult, error) {
	return f.cancelFn(ctx, input)
}

func (f *fakeStore) MarkTicketPaid(ctx context.Context, ticketID string, amount float64) (models.Ticket, error) {
	return f.markPaidFn(ctx, ticketID, amount)
}

func (f *fakeStore) ListTicketEvents(ctx context.Context, ticketID string) ([]store.TicketEvent, error) {
	return f.listEventsFn(ctx, ticketID)
}

func (f *fakeStore) ServiceDurationStats(ctx context.Context, businessID string, since time.Time) (store.DurationStats, error) {
	return store.DurationStats{}, nil
}

func (f *fakeStore) ServiceDurationStatsByHour(ctx context.Context, businessID string, hour int, since time.Time) (store.DurationStats, error) {
	return store.DurationStats{}, nil
}

func (f *fakeStore) WaitingCount(ctx context.Context, queueID string) (int, error) {
	return 0, nil
}

func (f *fakeStore) RewriteWaitEstimates(ctx context.Context, queueID string, perCustomerMinutes float64) ([]models.Ticket, error) {
	if f.rewriteFn == nil {
		return nil, nil
	}
	return f.rewriteFn(ctx, queueID, perCustomerMinutes)
}

func (f *fakeStore) GetPrincipal(ctx context.Context, sessionID string) (models.Principal, error) {
	return f.principalFn(ctx, sessionID)
}

type fakeEstimator struct {
	estimate eta.Estimate
}

func (f *fakeEstimator) Estimate(ctx context.Context, businessID, queueID, serviceType string) eta.Estimate {
	return f.estimate
}

func (f *fakeEstimator) PerCustomer(ctx context.Context, businessID, serviceType string) float64 {
	return f.estimate.PerCustomerMinutes
}

type recordedEvent struct {
	kind   string
	ticket models.Ticket
	queue  models.Queue
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeNotifier) record(kind string, ticket models.Ticket, queue models.Queue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{kind: kind, ticket: ticket, queue: queue})
}

func (f *fakeNotifier) TicketCreated(t models.Ticket)   { f.record("ticket.created", t, models.Queue{}) }
func (f *fakeNotifier) TicketCalled(t models.Ticket)    { f.record("ticket.called", t, models.Queue{}) }
func (f *fakeNotifier) TicketUpdated(t models.Ticket)   { f.record("ticket.updated", t, models.Queue{}) }
func (f *fakeNotifier) TicketCancelled(t models.Ticket) { f.record("ticket.cancelled", t, models.Queue{}) }
func (f *fakeNotifier) TicketCompleted(t models.Ticket) { f.record("ticket.completed", t, models.Queue{}) }
func (f *fakeNotifier) TicketSkipped(t models.Ticket)   { f.record("ticket.skipped", t, models.Queue{}) }
func (f *fakeNotifier) QueueUpdated(q models.Queue)     { f.record("queue.updated", models.Ticket{}, q) }

func (f *fakeNotifier) UserNotification(userID, message string) {
	f.record("notification", models.Ticket{}, models.Queue{})
}

func (f *fakeNotifier) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := make([]string, len(f.events))
	for i, e := range f.events {
		kinds[i] = e.kind
	}
	return kinds
}

func staffPrincipal() models.Principal {
	return models.Principal{UserID: "staff-1", Role: models.RoleStaff, BusinessIDs: []string{testBusinessID}}
}

func doRequest(h *Handler, principal models.Principal, method, target, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req = req.WithContext(ContextWithPrincipal(req.Context(), principal))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v (body %q)", err, rec.Body.String())
	}
	return resp.Error.Code
}

func TestAdmitSuccess(t *testing.T) {
	st := &fakeStore{
		admitFn: func(_ context.Context, input store.AdmitInput) (models.Ticket, models.Queue, error) {
			if input.EstimatedWaitMinutes != 25 {
				t.Fatalf("estimate not passed through: %d", input.EstimatedWaitMinutes)
			}
			ticket := models.Ticket{TicketID: testTicketID, BusinessID: input.BusinessID, QueueID: input.QueueID, Number: 4, Status: models.StatusWaiting, EstimatedWaitMinutes: input.EstimatedWaitMinutes}
			queue := models.Queue{QueueID: input.QueueID, BusinessID: input.BusinessID, CurrentCount: 4, CurrentTicketNumber: 4, Status: models.QueueActive}
			return ticket, queue, nil
		},
	}
	notifier := &fakeNotifier{}
	h := NewHandler(st, &fakeEstimator{estimate: eta.Estimate{Minutes: 25, Confidence: eta.ConfidenceMedium, Method: eta.MethodHistorical}}, notifier)

	body := fmt.Sprintf(`{"business_id":%q,"queue_id":%q,"service_type":"consultation"}`, testBusinessID, testQueueID)
	rec := doRequest(h, staffPrincipal(), http.MethodPost, "/api/tickets", body)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp admitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Ticket.Number != 4 {
		t.Fatalf("ticket number = %d, want 4", resp.Ticket.Number)
	}
	if resp.ETA.Minutes != 25 {
		t.Fatalf("eta minutes = %d, want 25", resp.ETA.Minutes)
	}
	kinds := notifier.kinds()
	if len(kinds) != 2 || kinds[0] != "ticket.created" || kinds[1] != "queue.updated" {
		t.Fatalf("events = %v", kinds)
	}
}

func TestAdmitQueueFull(t *testing.T) {
	st := &fakeStore{
		admitFn: func(context.Context, store.AdmitInput) (models.Ticket, models.Queue, error) {
			return models.Ticket{}, models.Queue{}, store.ErrQueueFull
		},
	}
	notifier := &fakeNotifier{}
	h := NewHandler(st, &fakeEstimator{}, notifier)

	body := fmt.Sprintf(`{"business_id":%q,"queue_id":%q}`, testBusinessID, testQueueID)
	rec := doRequest(h, staffPrincipal(), http.MethodPost, "/api/tickets", body)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if code := errorCode(t, rec); code != "queue_full" {
		t.Fatalf("code = %q, want queue_full", code)
	}
	if len(notifier.kinds()) != 0 {
		t.Fatalf("events fired on failed admission: %v", notifier.kinds())
	}
}

func TestAdmitUserAlwaysSelf(t *testing.T) {
	st := &fakeStore{
		admitFn: func(_ context.Context, input store.AdmitInput) (models.Ticket, models.Queue, error) {
			if input.UserID == nil || *input.UserID != testUserID {
				t.Fatalf("user_id = %v, want requester", input.UserID)
			}
			return models.Ticket{TicketID: testTicketID, UserID: input.UserID}, models.Queue{}, nil
		},
	}
	h := NewHandler(st, &fakeEstimator{}, &fakeNotifier{})

	principal := models.Principal{UserID: testUserID, Role: models.RoleUser}
	body := fmt.Sprintf(`{"business_id":%q,"queue_id":%q,"user_id":"ignored-field"}`, testBusinessID, testQueueID)
	rec := doRequest(h, principal, http.MethodPost, "/api/tickets", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestAdmitStaffWrongBusiness(t *testing.T) {
	h := NewHandler(&fakeStore{}, &fakeEstimator{}, &fakeNotifier{})

	principal := models.Principal{UserID: "staff-1", Role: models.RoleStaff, BusinessIDs: []string{"other"}}
	body := fmt.Sprintf(`{"business_id":%q,"queue_id":%q}`, testBusinessID, testQueueID)
	rec := doRequest(h, principal, http.MethodPost, "/api/tickets", body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestAdmitValidation(t *testing.T) {
	h := NewHandler(&fakeStore{}, &fakeEstimator{}, &fakeNotifier{})

	rec := doRequest(h, staffPrincipal(), http.MethodPost, "/api/tickets", `{"business_id":"not-a-uuid","queue_id":"also-not"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateQueueDuplicate(t *testing.T) {
	st := &fakeStore{
		createQueueFn: func(context.Context, store.CreateQueueInput) (models.Queue, error) {
			return models.Queue{}, store.ErrQueueExists
		},
	}
	h := NewHandler(st, &fakeEstimator{}, &fakeNotifier{})

	body := fmt.Sprintf(`{"business_id":%q,"capacity":50}`, testBusinessID)
	rec := doRequest(h, staffPrincipal(), http.MethodPost, "/api/queues", body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if code := errorCode(t, rec); code != "queue_exists" {
		t.Fatalf("code = %q, want queue_exists", code)
	}
}

func TestCallNextEmptyQueue(t *testing.T) {
	st := &fakeStore{
		callNextFn: func(context.Context, string, time.Time) (store.TransitionResult, error) {
			return store.TransitionResult{}, store.ErrNoTicketWaiting
		},
	}
	h := NewHandler(st, &fakeEstimator{}, &fakeNotifier{})

	rec := doRequest(h, staffPrincipal(), http.MethodPost, "/api/queues/"+testQueueID+"/actions/call-next", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if code := errorCode(t, rec); code != "queue_empty" {
		t.Fatalf("code = %q, want queue_empty", code)
	}
}

func TestTerminalTransitionConflict(t *testing.T) {
	st := &fakeStore{
		callFn: func(context.Context, store.TicketActionInput) (store.TransitionResult, error) {
			return store.TransitionResult{}, fmt.Errorf("%w: ticket is %s", store.ErrInvalidState, models.StatusDone)
		},
	}
	h := NewHandler(st, &fakeEstimator{}, &fakeNotifier{})

	rec := doRequest(h, staffPrincipal(), http.MethodPost, "/api/tickets/"+testTicketID+"/actions/call", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.Contains(resp.Error.Message, models.StatusDone) {
		t.Fatalf("message %q does not name the current status", resp.Error.Message)
	}
}

func TestSkipEmitsQueueUpdate(t *testing.T) {
	st := &fakeStore{
		skipFn: func(_ context.Context, input store.TicketActionInput) (store.TransitionResult, error) {
			return store.TransitionResult{
				Ticket:       models.Ticket{TicketID: input.TicketID, BusinessID: testBusinessID, QueueID: testQueueID, Status: models.StatusMissed},
				Queue:        models.Queue{QueueID: testQueueID, BusinessID: testBusinessID, CurrentCount: 2},
				SlotReleased: true,
			}, nil
		},
	}
	notifier := &fakeNotifier{}
	h := NewHandler(st, &fakeEstimator{}, notifier)

	rec := doRequest(h, staffPrincipal(), http.MethodPost, "/api/tickets/"+testTicketID+"/actions/skip", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	kinds := notifier.kinds()
	if len(kinds) != 2 || kinds[0] != "ticket.skipped" || kinds[1] != "queue.updated" {
		t.Fatalf("events = %v", kinds)
	}
}

func TestHolderMayCancelOwnTicket(t *testing.T) {
	holderID := testUserID
	st := &fakeStore{
		getTicketFn: func(_ context.Context, ticketID string) (models.Ticket, error) {
			return models.Ticket{TicketID: ticketID, BusinessID: testBusinessID, QueueID: testQueueID, UserID: &holderID, Status: models.StatusWaiting}, nil
		},
		cancelFn: func(_ context.Context, input store.TicketActionInput) (store.TransitionResult, error) {
			if input.Reason != "running late" {
				t.Fatalf("reason = %q", input.Reason)
			}
			return store.TransitionResult{
				Ticket:       models.Ticket{TicketID: input.TicketID, Status: models.StatusCancelled, CancelReason: input.Reason},
				SlotReleased: true,
			}, nil
		},
	}
	h := NewHandler(st, &fakeEstimator{}, &fakeNotifier{})

	principal := models.Principal{UserID: holderID, Role: models.RoleUser}
	rec := doRequest(h, principal, http.MethodPost, "/api/tickets/"+testTicketID+"/actions/cancel", `{"reason":"running late"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestStrangerMayNotCancel(t *testing.T) {
	holderID := testUserID
	st := &fakeStore{
		getTicketFn: func(_ context.Context, ticketID string) (models.Ticket, error) {
			return models.Ticket{TicketID: ticketID, BusinessID: testBusinessID, UserID: &holderID, Status: models.StatusWaiting}, nil
		},
	}
	h := NewHandler(st, &fakeEstimator{}, &fakeNotifier{})

	principal := models.Principal{UserID: "someone-else", Role: models.RoleUser}
	rec := doRequest(h, principal, http.MethodPost, "/api/tickets/"+testTicketID+"/actions/cancel", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestCloseQueueEmitsCancellationPerTicket(t *testing.T) {
	waiting := []models.Ticket{
		{TicketID: "t-1", BusinessID: testBusinessID, Status: models.StatusCancelled},
		{TicketID: "t-2", BusinessID: testBusinessID, Status: models.StatusCancelled},
		{TicketID: "t-3", BusinessID: testBusinessID, Status: models.StatusCancelled},
	}
	st := &fakeStore{
		closeQueueFn: func(_ context.Context, queueID, reason string, _ time.Time) (models.Queue, []models.Ticket, error) {
			if reason != "queue closed" {
				t.Fatalf("reason = %q", reason)
			}
			return models.Queue{QueueID: queueID, BusinessID: testBusinessID, Status: models.QueueClosed}, waiting, nil
		},
	}
	notifier := &fakeNotifier{}
	h := NewHandler(st, &fakeEstimator{}, notifier)

	rec := doRequest(h, staffPrincipal(), http.MethodPost, "/api/queues/"+testQueueID+"/actions/close", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	kinds := notifier.kinds()
	if len(kinds) != 4 {
		t.Fatalf("events = %v, want 3 cancellations and 1 queue update", kinds)
	}
	for _, kind := range kinds[:3] {
		if kind != "ticket.cancelled" {
			t.Fatalf("events = %v", kinds)
		}
	}
	if kinds[3] != "queue.updated" {
		t.Fatalf("events = %v", kinds)
	}
}

func TestAuthMiddlewareMissingSession(t *testing.T) {
	st := &fakeStore{
		principalFn: func(context.Context, string) (models.Principal, error) {
			return models.Principal{}, store.ErrSessionNotFound
		},
	}
	h := NewHandler(st, &fakeEstimator{}, &fakeNotifier{})
	handler := AuthMiddleware(st, h.Routes())

	req := httptest.NewRequest(http.MethodPost, "/api/tickets", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/tickets", strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer bogus")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthMiddlewarePublicHealth(t *testing.T) {
	h := NewHandler(&fakeStore{}, &fakeEstimator{}, &fakeNotifier{})
	handler := AuthMiddleware(&fakeStore{}, h.Routes())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
