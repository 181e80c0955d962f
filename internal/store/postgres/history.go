package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/NorhanGamalY/Queue-Management-System-Backend/internal/models"
	"github.com/NorhanGamalY/Queue-Management-System-Backend/internal/store"
)

// ServiceDurationStats aggregates completed service durations for a business
// since the given time. Only tickets with both start and completion stamps
// contribute.
func (s *Store) ServiceDurationStats(ctx context.Context, businessID string, since time.Time) (store.DurationStats, error) {
	var stats store.DurationStats
	var mean sql.NullFloat64
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), AVG(EXTRACT(EPOCH FROM (completed_at - started_at)) / 60)
		FROM tickets
		WHERE business_id = $1
			AND status = $2
			AND started_at IS NOT NULL
			AND completed_at IS NOT NULL
			AND completed_at >= $3
	`, businessID, models.StatusDone, since)
	if err := row.Scan(&stats.Samples, &mean); err != nil {
		return store.DurationStats{}, err
	}
	if mean.Valid {
		stats.MeanMinutes = mean.Float64
	}
	return stats, nil
}

// ServiceDurationStatsByHour restricts the aggregate to completions whose
// start hour falls within one hour either side of the given hour of day,
// wrapping at midnight.
func (s *Store) ServiceDurationStatsByHour(ctx context.Context, businessID string, hour int, since time.Time) (store.DurationStats, error) {
	low := (hour + 23) % 24
	high := (hour + 1) % 24

	var stats store.DurationStats
	var mean sql.NullFloat64
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), AVG(EXTRACT(EPOCH FROM (completed_at - started_at)) / 60)
		FROM tickets
		WHERE business_id = $1
			AND status = $2
			AND started_at IS NOT NULL
			AND completed_at IS NOT NULL
			AND completed_at >= $3
			AND EXTRACT(HOUR FROM started_at) IN ($4, $5, $6)
	`, businessID, models.StatusDone, since, low, hour, high)
	if err := row.Scan(&stats.Samples, &mean); err != nil {
		return store.DurationStats{}, err
	}
	if mean.Valid {
		stats.MeanMinutes = mean.Float64
	}
	return stats, nil
}

func (s *Store) WaitingCount(ctx context.Context, queueID string) (int, error) {
	var count int
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM tickets
		WHERE queue_id = $1 AND status = $2
	`, queueID, models.StatusWaiting)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// RewriteWaitEstimates recomputes every waiting ticket's estimate from its
// position in FIFO order, first ticket getting one per-customer interval.
// Returns the rewritten tickets so callers can notify their holders.
func (s *Store) RewriteWaitEstimates(ctx context.Context, queueID string, perCustomerMinutes float64) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, `
		WITH positioned AS (
			SELECT ticket_id, ROW_NUMBER() OVER (ORDER BY number ASC) AS position
			FROM tickets
			WHERE queue_id = $1 AND status = $2
		)
		UPDATE tickets
		SET estimated_wait_minutes = CEIL(positioned.position * $3)
		FROM positioned
		WHERE tickets.ticket_id = positioned.ticket_id
		RETURNING `+prefixedTicketColumns("tickets")+`
	`, queueID, models.StatusWaiting, perCustomerMinutes)
	if err != nil {
		return nil, err
	}
	return collectTickets(rows)
}

func (s *Store) ListTicketEvents(ctx context.Context, ticketID string) ([]store.TicketEvent, error) {
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
