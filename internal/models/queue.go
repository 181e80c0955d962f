package models

import "time"

type Queue struct {
	QueueID             string    `json:"queue_id"`
	BusinessID          string    `json:"business_id"`
	ServiceDate         time.Time `json:"service_date"`
	Capacity            int       `json:"capacity"`
	CurrentCount        int       `json:"current_count"`
	CurrentTicketNumber int       `json:"current_ticket_number"`
	Status              string    `json:"status"`
	CreatedAt           time.Time `json:"created_at"`
}

const (
	QueueActive = "active"
	QueuePaused = "paused"
	QueueClosed = "closed"
)
