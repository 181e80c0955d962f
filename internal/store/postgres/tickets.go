package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/NorhanGamalY/Queue-Management-System-Backend/internal/models"
	"github.com/NorhanGamalY/Queue-Management-System-Backend/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const ticketColumns = "ticket_id, business_id, queue_id, user_id, number, service_type, priority, status, estimated_wait_minutes, cancel_reason, paid, paid_amount, created_at, called_at, started_at, completed_at, cancelled_at"

// AdmitTicket performs capacity-bounded allocation. The count and number
// increments are a single conditional update guarded by the capacity and
// status predicate, so two concurrent admissions can never both take the last
// slot. A no-match is re-read once to absorb a benign race, then classified.
func (s *Store) AdmitTicket(ctx context.Context, input store.AdmitInput) (models.Ticket, models.Queue, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, models.Queue{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	status, err := businessStatus(ctx, tx, input.BusinessID)
	if err != nil {
		return models.Ticket{}, models.Queue{}, err
	}
	if status != "active" {
		err = store.ErrBusinessInactive
		return models.Ticket{}, models.Queue{}, err
	}

	var ownerID string
	row := tx.QueryRow(ctx, `
		SELECT business_id
		FROM queues
		WHERE queue_id = $1
	`, input.QueueID)
	if err = row.Scan(&ownerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrQueueNotFound
		}
		return models.Ticket{}, models.Queue{}, err
	}
	if ownerID != input.BusinessID {
		err = store.ErrQueueMismatch
		return models.Ticket{}, models.Queue{}, err
	}

	queue, err := incrementQueue(ctx, tx, input.QueueID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, models.Queue{}, err
		}
		// Lost the conditional update. Retry once, then report why.
		queue, err = incrementQueue(ctx, tx, input.QueueID)
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return models.Ticket{}, models.Queue{}, err
			}
			err = s.classifyAdmitFailure(ctx, tx, input.QueueID)
			return models.Ticket{}, models.Queue{}, err
		}
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	priority := input.Priority
	if priority == "" {
		priority = "regular"
	}

	var ticket models.Ticket
	row = tx.QueryRow(ctx, `
		INSERT INTO tickets (ticket_id, business_id, queue_id, user_id, number, service_type, priority, status, estimated_wait_minutes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+ticketColumns+`
	`, uuid.NewString(), input.BusinessID, input.QueueID, input.UserID, queue.CurrentTicketNumber, input.ServiceType, priority, models.StatusWaiting, input.EstimatedWaitMinutes, createdAt)
	if err = scanTicket(row, &ticket); err != nil {
		return models.Ticket{}, models.Queue{}, err
	}

	payload, err := ticketPayload(ticket)
	if err != nil {
		return models.Ticket{}, models.Queue{}, err
	}
	if err = insertTicketEvent(ctx, tx, ticket.TicketID, "ticket.created", payload); err != nil {
		return models.Ticket{}, models.Queue{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, models.Queue{}, err
	}
	return ticket, queue, nil
}

func incrementQueue(ctx context.Context, tx pgx.Tx, queueID string) (models.Queue, error) {
	var queue models.Queue
	row := tx.QueryRow(ctx, `
		UPDATE queues
		SET current_count = current_count + 1,
			current_ticket_number = current_ticket_number + 1
		WHERE queue_id = $1 AND status = $2 AND current_count < capacity
		RETURNING `+queueColumns+`
	`, queueID, models.QueueActive)
	if err := scanQueue(row, &queue); err != nil {
		return models.Queue{}, err
	}
	return queue, nil
}

func (s *Store) classifyAdmitFailure(ctx context.Context, tx pgx.Tx, queueID string) error {
	var queueStatus string
	var count, capacity int
	row := tx.QueryRow(ctx, `
		SELECT status, current_count, capacity
		FROM queues
		WHERE queue_id = $1
	`, queueID)
	if err := row.Scan(&queueStatus, &count, &capacity); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrQueueNotFound
		}
		return err
	}
	if queueStatus != models.QueueActive {
		return store.ErrQueueNotActive
	}
	return store.ErrQueueFull
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	var ticket models.Ticket
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE ticket_id = $1
	`, ticketID)
	if err := scanTicket(row, &ticket); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) CallTicket(ctx context.Context, input store.TicketActionInput) (store.TransitionResult, error) {
	return s.applyTransition(ctx, input, "call", "ticket.called", "called_at")
}

func (s *Store) StartTicket(ctx context.Context, input store.TicketActionInput) (store.TransitionResult, error) {
	return s.applyTransition(ctx, input, "start", "ticket.started", "started_at")
}

func (s *Store) CompleteTicket(ctx context.Context, input store.TicketActionInput) (store.TransitionResult, error) {
	return s.applyTransition(ctx, input, "complete", "ticket.completed", "completed_at")
}

func (s *Store) SkipTicket(ctx context.Context, input store.TicketActionInput) (store.TransitionResult, error) {
	return s.applyTransition(ctx, input, "skip", "ticket.skipped", "")
}

func (s *Store) CancelTicket(ctx context.Context, input store.TicketActionInput) (store.TransitionResult, error) {
	return s.applyTransition(ctx, input, "cancel", "ticket.cancelled", "cancelled_at")
}

// applyTransition serializes concurrent transitions on one ticket via the row
// lock, so the loser of a race observes the winner's status and gets a state
// error naming it. Status update, capacity accounting, and the audit event
// commit as one unit.
func (s *Store) applyTransition(ctx context.Context, input store.TicketActionInput, action, eventType, timestampColumn string) (store.TransitionResult, error) {
	target, ok := store.TargetStatus(action)
	if !ok {
		return store.TransitionResult{}, store.ErrInvalidState
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.TransitionResult{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var prior, queueID string
	row := tx.QueryRow(ctx, `
		SELECT status, queue_id
		FROM tickets
		WHERE ticket_id = $1
		FOR UPDATE
	`, input.TicketID)
	if err = row.Scan(&prior, &queueID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrTicketNotFound
		}
		return store.TransitionResult{}, err
	}
	if !store.ValidTransition(action, prior) {
		err = fmt.Errorf("%w: ticket is %s", store.ErrInvalidState, prior)
		return store.TransitionResult{}, err
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	updateQuery := "UPDATE tickets SET status = $1"
	args := []interface{}{target}
	argPos := 2
	if timestampColumn != "" {
		updateQuery += fmt.Sprintf(", %s = $%d", timestampColumn, argPos)
		args = append(args, occurredAt)
		argPos++
	}
	if action == "cancel" && input.Reason != "" {
		updateQuery += fmt.Sprintf(", cancel_reason = $%d", argPos)
		args = append(args, input.Reason)
		argPos++
	}
	updateQuery += fmt.Sprintf(" WHERE ticket_id = $%d RETURNING %s", argPos, ticketColumns)
	args = append(args, input.TicketID)

	var ticket models.Ticket
	row = tx.QueryRow(ctx, updateQuery, args...)
	if err = scanTicket(row, &ticket); err != nil {
		return store.TransitionResult{}, err
	}

	result := store.TransitionResult{Ticket: ticket}
	if store.ReleasesSlot(action, prior) {
		var queue models.Queue
		row = tx.QueryRow(ctx, `
			UPDATE queues
			SET current_count = GREATEST(current_count - 1, 0)
			WHERE queue_id = $1
			RETURNING `+queueColumns+`
		`, queueID)
		if err = scanQueue(row, &queue); err != nil {
			return store.TransitionResult{}, err
		}
		result.Queue = queue
		result.SlotReleased = true
	}

	payload, err := ticketPayload(ticket)
	if err != nil {
		return store.TransitionResult{}, err
	}
	if err = insertTicketEvent(ctx, tx, ticket.TicketID, eventType, payload); err != nil {
		return store.TransitionResult{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return store.TransitionResult{}, err
	}
	return result, nil
}

// CallNext selects the waiting ticket with the lowest number, strict FIFO by
// allocation order.
func (s *Store) CallNext(ctx context.Context, queueID string, calledAt time.Time) (store.TransitionResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.TransitionResult{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}

	var ticket models.Ticket
	row := tx.QueryRow(ctx, `
		WITH next_ticket AS (
			SELECT ticket_id
			FROM tickets
			WHERE queue_id = $1 AND status = $2
			ORDER BY number ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE tickets
		SET status = $3, called_at = $4
		FROM next_ticket
		WHERE tickets.ticket_id = next_ticket.ticket_id
		RETURNING `+prefixedTicketColumns("tickets")+`
	`, queueID, models.StatusWaiting, models.StatusCalled, calledAt)
	if err = scanTicket(row, &ticket); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrNoTicketWaiting
		}
		return store.TransitionResult{}, err
	}

	payload, err := ticketPayload(ticket)
	if err != nil {
		return store.TransitionResult{}, err
	}
	if err = insertTicketEvent(ctx, tx, ticket.TicketID, "ticket.called", payload); err != nil {
		return store.TransitionResult{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return store.TransitionResult{}, err
	}
	return store.TransitionResult{Ticket: ticket}, nil
}

func (s *Store) MarkTicketPaid(ctx context.Context, ticketID string, amount float64) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var ticket models.Ticket
	row := tx.QueryRow(ctx, `
		UPDATE tickets
		SET paid = TRUE, paid_amount = $2
		WHERE ticket_id = $1
		RETURNING `+ticketColumns+`
	`, ticketID, amount)
	if err = scanTicket(row, &ticket); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}

	payload, err := ticketPayload(ticket)
	if err != nil {
		return models.Ticket{}, err
	}
	if err = insertTicketEvent(ctx, tx, ticket.TicketID, "ticket.paid", payload); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func insertTicketEvent(ctx context.Context, tx pgx.Tx, ticketID, eventType string, payload []byte) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ticketID); err != nil {
		return err
	}

	var lastSeq int
	var prevHash sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT ticket_seq, hash
		FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY ticket_seq DESC
		LIMIT 1
		FOR UPDATE
	`, ticketID)
	if err := row.Scan(&lastSeq, &prevHash); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	nextSeq := lastSeq + 1
	prev := ""
	if prevHash.Valid {
		prev = prevHash.String
	}
	createdAt := time.Now().UTC()
	hash := store.ComputeTicketEventHash(prev, ticketID, eventType, payload, createdAt, nextSeq)

	_, err := tx.Exec(ctx, `
		INSERT INTO ticket_events (ticket_id, ticket_seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ticketID, nextSeq, eventType, payload, createdAt, prev, hash)
	return err
}

func ticketPayload(ticket models.Ticket) ([]byte, error) {
	return json.Marshal(ticket)
}

func prefixedTicketColumns(alias string) string {
	parts := strings.Split(ticketColumns, ", ")
	for i, part := range parts {
		parts[i] = alias + "." + part
	}
	return strings.Join(parts, ", ")
}

func scanTicket(row pgx.Row, ticket *models.Ticket) error {
	var userIDNull, cancelReasonNull sql.NullString
	var paidAmountNull sql.NullFloat64
	var calledAtNull, startedAtNull, completedAtNull, cancelledAtNull sql.NullTime
	if err := row.Scan(&ticket.TicketID, &ticket.BusinessID, &ticket.QueueID, &userIDNull, &ticket.Number, &ticket.ServiceType, &ticket.Priority, &ticket.Status, &ticket.EstimatedWaitMinutes, &cancelReasonNull, &ticket.Paid, &paidAmountNull, &ticket.CreatedAt, &calledAtNull, &startedAtNull, &completedAtNull, &cancelledAtNull); err != nil {
		return err
	}
	ticket.UserID = nullStringPtr(userIDNull)
	if cancelReasonNull.Valid {
		ticket.CancelReason = cancelReasonNull.String
	}
	if paidAmountNull.Valid {
		ticket.PaidAmount = paidAmountNull.Float64
	}
	ticket.CalledAt = nullTimePtr(calledAtNull)
	ticket.StartedAt = nullTimePtr(startedAtNull)
	ticket.CompletedAt = nullTimePtr(completedAtNull)
	ticket.CancelledAt = nullTimePtr(cancelledAtNull)
	return nil
}

func collectTickets(rows pgx.Rows) ([]models.Ticket, error) {
	defer rows.Close()
	var tickets []models.Ticket
	for rows.Next() {
		var ticket models.Ticket
		if err := scanTicket(rows, &ticket); err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}
