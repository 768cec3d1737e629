package repository

import (
	"context"
	"time"

	"rxgate/internal/domain/outbox"
	rxgate_errors "rxgate/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type outboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) OutboxRepository {
	return &outboxRepository{db: db}
}

func (r *outboxRepository) CreateOnce(ctx context.Context, event *outbox.OutboxEvent) (bool, error) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = outbox.StatusPending
	}
	res := conn(ctx, r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "dedupe_key"}},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *outboxRepository) GetByID(ctx context.Context, id uuid.UUID) (outbox.OutboxEvent, error) {
	var e outbox.OutboxEvent
	if err := conn(ctx, r.db).Where("id = ?", id).First(&e).Error; err != nil {
		return outbox.OutboxEvent{}, translate(err)
	}
	return e, nil
}

// ClaimDue selects with FOR UPDATE SKIP LOCKED and stamps a lease inside the
// same transaction, so overlapping passes never pick the same row.
func (r *outboxRepository) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]outbox.OutboxEvent, error) {
	var events []outbox.OutboxEvent
	err := conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		q := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", outbox.StatusPending).
			Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now).
			Where("claimed_until IS NULL OR claimed_until < ?", now).
			Order("created_at ASC")
		if limit > 0 {
			q = q.Limit(limit)
		}
		if err := q.Find(&events).Error; err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(events))
		for _, e := range events {
			ids = append(ids, e.ID)
		}
		until := now.Add(lease)
		return tx.Model(&outbox.OutboxEvent{}).
			Where("id IN ?", ids).
			Update("claimed_until", until).Error
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *outboxRepository) MarkDelivered(ctx context.Context, id uuid.UUID, deliveredAt time.Time) error {
	return rowsOrNotFound(conn(ctx, r.db).
		Model(&outbox.OutboxEvent{}).
		Where("id = ? AND status = ?", id, outbox.StatusPending).
		Updates(map[string]interface{}{
			"status":          outbox.StatusDelivered,
			"delivered_at":    deliveredAt,
			"attempts":        gorm.Expr("attempts + 1"),
			"next_attempt_at": nil,
			"last_error":      "",
			"claimed_until":   nil,
			"updated_at":      deliveredAt,
		}))
}

func (r *outboxRepository) ScheduleRetry(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastError string) error {
	return rowsOrNotFound(conn(ctx, r.db).
		Model(&outbox.OutboxEvent{}).
		Where("id = ? AND status = ?", id, outbox.StatusPending).
		Updates(map[string]interface{}{
			"attempts":        attempts,
			"next_attempt_at": nextAttemptAt,
			"last_error":      lastError,
			"claimed_until":   nil,
			"updated_at":      time.Now(),
		}))
}

func (r *outboxRepository) MarkDeadLetter(ctx context.Context, id uuid.UUID, attempts int, lastError string) error {
	return rowsOrNotFound(conn(ctx, r.db).
		Model(&outbox.OutboxEvent{}).
		Where("id = ? AND status <> ?", id, outbox.StatusDelivered).
		Updates(map[string]interface{}{
			"status":          outbox.StatusDeadLetter,
			"attempts":        attempts,
			"next_attempt_at": nil,
			"last_error":      lastError,
			"claimed_until":   nil,
			"updated_at":      time.Now(),
		}))
}

func (r *outboxRepository) MarkFallbackSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := conn(ctx, r.db).
		Model(&outbox.OutboxEvent{}).
		Where("id = ? AND fallback_email_sent_at IS NULL", id).
		Update("fallback_email_sent_at", at)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *outboxRepository) ClearFallbackSent(ctx context.Context, id uuid.UUID) error {
	return translate(conn(ctx, r.db).
		Model(&outbox.OutboxEvent{}).
		Where("id = ?", id).
		Update("fallback_email_sent_at", nil).Error)
}

func (r *outboxRepository) RecordDelivery(ctx context.Context, d *outbox.OutboxEventDelivery) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return translate(conn(ctx, r.db).Create(d).Error)
}

func (r *outboxRepository) ListDeadLetters(ctx context.Context, limit int) ([]outbox.OutboxEvent, error) {
	var events []outbox.OutboxEvent
	q := conn(ctx, r.db).Where("status = ?", outbox.StatusDeadLetter)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Order("updated_at DESC").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *outboxRepository) Requeue(ctx context.Context, id uuid.UUID) error {
	res := conn(ctx, r.db).
		Model(&outbox.OutboxEvent{}).
		Where("id = ? AND status = ?", id, outbox.StatusDeadLetter).
		Updates(map[string]interface{}{
			"status":                 outbox.StatusPending,
			"attempts":               0,
			"next_attempt_at":        nil,
			"fallback_email_sent_at": nil,
			"updated_at":             time.Now(),
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return rxgate_errors.ErrConflict
	}
	return nil
}
