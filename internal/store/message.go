package store

import (
	"context"
	"fmt"
	"time"
)

type gormMessageStore struct {
	engine *Engine
}

// NewMessageStore returns a GORM-backed MessageStore.
func NewMessageStore(e *Engine) MessageStore {
	return &gormMessageStore{engine: e}
}

func (s *gormMessageStore) Create(ctx context.Context, m *Message) error {
	if err := s.engine.DB().WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("store: messages: create: %w", err)
	}
	return nil
}

func (s *gormMessageStore) ListForRecipient(ctx context.Context, recipientID, sinceID, jobID string) ([]*Message, error) {
	q := s.engine.DB().WithContext(ctx).Where("recipient_id = ?", recipientID)
	if sinceID != "" {
		q = q.Where("message_id > ?", sinceID)
	}
	if jobID != "" {
		q = q.Where("job_id = ?", jobID)
	}
	var ms []*Message
	if err := q.Order("message_id ASC").Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("store: messages: list for recipient: %w", err)
	}
	return ms, nil
}

func (s *gormMessageStore) ListForJob(ctx context.Context, jobID, messageType, sinceID string, limit int) ([]*Message, error) {
	q := s.engine.DB().WithContext(ctx).Where("job_id = ? AND message_type = ?", jobID, messageType)
	if sinceID != "" {
		q = q.Where("message_id > ?", sinceID)
	}
	if limit <= 0 {
		limit = 100
	}
	// Bounded by limit newest-first, then reversed to oldest-first for the
	// caller, per spec.md §4.7's query shape for job log retrieval.
	var ms []*Message
	if err := q.Order("message_id DESC").Limit(limit).Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("store: messages: list for job: %w", err)
	}
	for i, j := 0, len(ms)-1; i < j; i, j = i+1, j-1 {
		ms[i], ms[j] = ms[j], ms[i]
	}
	return ms, nil
}

func (s *gormMessageStore) MarkDelivered(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.engine.DB().WithContext(ctx).Model(&Message{}).
		Where("message_id IN ? AND sent_at IS NULL", ids).
		Update("sent_at", at).Error
	if err != nil {
		return fmt.Errorf("store: messages: mark delivered: %w", err)
	}
	return nil
}
