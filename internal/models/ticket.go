package models

import "time"

type Ticket struct {
	TicketID             string     `json:"ticket_id"`
	BusinessID           string     `json:"business_id"`
	QueueID              string     `json:"queue_id"`
	UserID               *string    `json:"user_id,omitempty"`
	Number               int        `json:"number"`
	ServiceType          string     `json:"service_type"`
	Priority             string     `json:"priority"`
	Status               string     `json:"status"`
	EstimatedWaitMinutes int        `json:"estimated_wait_minutes"`
	CancelReason         string     `json:"cancel_reason,omitempty"`
	Paid                 bool       `json:"paid"`
	PaidAmount           float64    `json:"paid_amount,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	CalledAt             *time.Time `json:"called_at,omitempty"`
	StartedAt            *time.Time `json:"started_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	CancelledAt          *time.Time `json:"cancelled_at,omitempty"`
}

const (
	StatusWaiting    = "waiting"
	StatusCalled     = "called"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
	StatusMissed     = "missed"
	StatusCancelled  = "cancelled"
)

// IsTerminal reports whether no further transition is permitted from status.
func IsTerminal(status string) bool {
	switch status {
	case StatusDone, StatusMissed, StatusCancelled:
		return true
	default:
		return false
	}
}

// OccupiesSlot reports whether a ticket in status counts against queue
// capacity. A slot is held from admission until any terminal transition.
func OccupiesSlot(status string) bool {
	switch status {
	case StatusWaiting, StatusCalled, StatusInProgress:
		return true
	default:
		return false
	}
}
