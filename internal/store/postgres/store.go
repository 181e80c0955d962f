package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/NorhanGamalY/Queue-Management-System-Backend/internal/models"
	"github.com/NorhanGamalY/Queue-Management-System-Backend/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const queueColumns = "queue_id, business_id, service_date, capacity, current_count, current_ticket_number, status, created_at"

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateQueue(ctx context.Context, input store.CreateQueueInput) (models.Queue, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Queue{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = businessStatus(ctx, tx, input.BusinessID); err != nil {
		return models.Queue{}, err
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var queue models.Queue
	row := tx.QueryRow(ctx, `
		INSERT INTO queues (queue_id, business_id, service_date, capacity, current_count, current_ticket_number, status, created_at)
		VALUES ($1, $2, $3, $4, 0, 0, $5, $6)
		ON CONFLICT (business_id, service_date) DO NOTHING
		RETURNING `+queueColumns+`
	`, uuid.NewString(), input.BusinessID, input.ServiceDate, input.Capacity, models.QueueActive, createdAt)
	if err = scanQueue(row, &queue); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Queue{}, store.ErrQueueExists
		}
		return models.Queue{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Queue{}, err
	}
	return queue, nil
}

func (s *Store) GetQueue(ctx context.Context, queueID string) (models.Queue, error) {
	var queue models.Queue
	row := s.pool.QueryRow(ctx, `
		SELECT `+queueColumns+`
		FROM queues
		WHERE queue_id = $1
	`, queueID)
	if err := scanQueue(row, &queue); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Queue{}, store.ErrQueueNotFound
		}
		return models.Queue{}, err
	}
	return queue, nil
}

func (s *Store) GetActiveQueue(ctx context.Context, businessID string, date time.Time) (models.Queue, error) {
	var queue models.Queue
	row := s.pool.QueryRow(ctx, `
		SELECT `+queueColumns+`
		FROM queues
		WHERE business_id = $1 AND service_date = $2
	`, businessID, date)
	if err := scanQueue(row, &queue); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Queue{}, store.ErrQueueNotFound
		}
		return models.Queue{}, err
	}
	return queue, nil
}

// SetQueueStatus moves a queue between active and paused. Closing has a
// bulk-cancellation side effect and goes through CloseQueue instead.
func (s *Store) SetQueueStatus(ctx context.Context, queueID, status string) (models.Queue, error) {
	if status != models.QueueActive && status != models.QueuePaused {
		return models.Queue{}, store.ErrQueueNotActive
	}
	var queue models.Queue
	row := s.pool.QueryRow(ctx, `
		UPDATE queues
		SET status = $2
		WHERE queue_id = $1 AND status <> $3
		RETURNING `+queueColumns+`
	`, queueID, status, models.QueueClosed)
	if err := scanQueue(row, &queue); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.classifyQueueStatusFailure(ctx, queueID)
		}
		return models.Queue{}, err
	}
	return queue, nil
}

func (s *Store) classifyQueueStatusFailure(ctx context.Context, queueID string) (models.Queue, error) {
	queue, err := s.GetQueue(ctx, queueID)
	if err != nil {
		return models.Queue{}, err
	}
	if queue.Status == models.QueueClosed {
		return models.Queue{}, store.ErrQueueNotActive
	}
	return queue, nil
}

// CloseQueue sets the queue to closed, resets its counters, and cancels every
// waiting ticket in the same transaction, so a concurrent read never observes
// the closed status next to stale counts.
func (s *Store) CloseQueue(ctx context.Context, queueID, reason string, occurredAt time.Time) (models.Queue, []models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Queue{}, nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	var queue models.Queue
	row := tx.QueryRow(ctx, `
		UPDATE queues
		SET status = $2, current_count = 0, current_ticket_number = 0
		WHERE queue_id = $1
		RETURNING `+queueColumns+`
	`, queueID, models.QueueClosed)
	if err = scanQueue(row, &queue); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Queue{}, nil, store.ErrQueueNotFound
		}
		return models.Queue{}, nil, err
	}

	rows, err := tx.Query(ctx, `
		UPDATE tickets
		SET status = $2, cancel_reason = $3, cancelled_at = $4
		WHERE queue_id = $1 AND status = $5
		RETURNING `+ticketColumns+`
	`, queueID, models.StatusCancelled, reason, occurredAt, models.StatusWaiting)
	if err != nil {
		return models.Queue{}, nil, err
	}
	cancelled, err := collectTickets(rows)
	if err != nil {
		return models.Queue{}, nil, err
	}

	for _, ticket := range cancelled {
		var payload []byte
		payload, err = ticketPayload(ticket)
		if err != nil {
			return models.Queue{}, nil, err
		}
		if err = insertTicketEvent(ctx, tx, ticket.TicketID, "ticket.cancelled", payload); err != nil {
			return models.Queue{}, nil, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Queue{}, nil, err
	}
	return queue, cancelled, nil
}

func (s *Store) QueueSnapshot(ctx context.Context, queueID string) (models.Queue, []models.Ticket, error) {
	queue, err := s.GetQueue(ctx, queueID)
	if err != nil {
		return models.Queue{}, nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE queue_id = $1 AND status IN ($2, $3, $4)
		ORDER BY number ASC
	`, queueID, models.StatusWaiting, models.StatusCalled, models.StatusInProgress)
	if err != nil {
		return models.Queue{}, nil, err
	}
	tickets, err := collectTickets(rows)
	if err != nil {
		return models.Queue{}, nil, err
	}
	return queue, tickets, nil
}

func businessStatus(ctx context.Context, tx pgx.Tx, businessID string) (string, error) {
	var status string
	row := tx.QueryRow(ctx, `
		SELECT status
		FROM businesses
		WHERE business_id = $1
	`, businessID)
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrBusinessNotFound
		}
		return "", err
	}
	return status, nil
}

func scanQueue(row pgx.Row, queue *models.Queue) error {
	return row.Scan(&queue.QueueID, &queue.BusinessID, &queue.ServiceDate, &queue.Capacity, &queue.CurrentCount, &queue.CurrentTicketNumber, &queue.Status, &queue.CreatedAt)
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return &value.Time
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
