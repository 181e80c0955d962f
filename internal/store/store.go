package store

import (
	"context"
	"time"

	"github.com/NorhanGamalY/Queue-Management-System-Backend/internal/models"
)

type CreateQueueInput struct {
	BusinessID  string
	ServiceDate time.Time
	Capacity    int
	CreatedAt   time.Time
}

type AdmitInput struct {
	BusinessID           string
	QueueID              string
	ServiceType          string
	Priority             string
	UserID               *string
	EstimatedWaitMinutes int
	CreatedAt            time.Time
}

type TicketActionInput struct {
	TicketID   string
	Reason     string
	OccurredAt time.Time
}

// TransitionResult carries the ticket after a lifecycle transition together
// with the queue state after any capacity accounting it triggered.
type TransitionResult struct {
	Ticket       models.Ticket
	Queue        models.Queue
	SlotReleased bool
}

type DurationStats struct {
	Samples     int
	MeanMinutes float64
}

type Store interface {
	CreateQueue(ctx context.Context, input CreateQueueInput) (models.Queue, error)
	GetQueue(ctx context.Context, queueID string) (models.Queue, error)
	GetActiveQueue(ctx context.Context, businessID string, date time.Time) (models.Queue, error)
	SetQueueStatus(ctx context.Context, queueID, status string) (models.Queue, error)
	CloseQueue(ctx context.Context, queueID, reason string, occurredAt time.Time) (models.Queue, []models.Ticket, error)
	QueueSnapshot(ctx context.Context, queueID string) (models.Queue, []models.Ticket, error)

	AdmitTicket(ctx context.Context, input AdmitInput) (models.Ticket, models.Queue, error)

	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	CallTicket(ctx context.Context, input TicketActionInput) (TransitionResult, error)
	CallNext(ctx context.Context, queueID string, calledAt time.Time) (TransitionResult, error)
	StartTicket(ctx context.Context, input TicketActionInput) (TransitionResult, error)
	CompleteTicket(ctx context.Context, input TicketActionInput) (TransitionResult, error)
	SkipTicket(ctx context.Context, input TicketActionInput) (TransitionResult, error)
	CancelTicket(ctx context.Context, input TicketActionInput) (TransitionResult, error)
	MarkTicketPaid(ctx context.Context, ticketID string, amount float64) (models.Ticket, error)
	ListTicketEvents(ctx context.Context, ticketID string) ([]TicketEvent, error)

	ServiceDurationStats(ctx context.Context, businessID string, since time.Time) (DurationStats, error)
	ServiceDurationStatsByHour(ctx context.Context, businessID string, hour int, since time.Time) (DurationStats, error)
	WaitingCount(ctx context.Context, queueID string) (int, error)
	RewriteWaitEstimates(ctx context.Context, queueID string, perCustomerMinutes float64) ([]models.Ticket, error)

	GetPrincipal(ctx context.Context, sessionID string) (models.Principal, error)
}
