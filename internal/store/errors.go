package store

import "errors"

var (
	ErrBusinessNotFound = errors.New("business not found")
	ErrBusinessInactive = errors.New("business inactive")
	ErrQueueNotFound    = errors.New("queue not found")
	ErrQueueExists      = errors.New("queue already exists for date")
	ErrQueueNotActive   = errors.New("queue not active")
	ErrQueueFull        = errors.New("queue full")
	ErrQueueMismatch    = errors.New("queue does not belong to business")
	ErrTicketNotFound   = errors.New("ticket not found")
	ErrInvalidState     = errors.New("invalid ticket state")
	ErrNoTicketWaiting  = errors.New("no ticket waiting")
	ErrSessionNotFound  = errors.New("session not found")
	ErrAccessDenied     = errors.New("access denied")
)
