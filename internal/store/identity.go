package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// LocalAdminID is the bootstrap identity spec.md §4.6 requires to exist
// on every startup, scoped to loopback addresses only.
const LocalAdminID = "localadmin"

type gormIdentityStore struct {
	engine *Engine
}

// NewIdentityStore returns a GORM-backed IdentityStore.
func NewIdentityStore(e *Engine) IdentityStore {
	return &gormIdentityStore{engine: e}
}

func (s *gormIdentityStore) Create(ctx context.Context, id *Identity) error {
	if err := s.engine.DB().WithContext(ctx).Create(id).Error; err != nil {
		return fmt.Errorf("store: identities: create: %w", err)
	}
	return nil
}

func (s *gormIdentityStore) Get(ctx context.Context, clientID string) (*Identity, error) {
	var id Identity
	if err := s.engine.DB().WithContext(ctx).First(&id, "client_id = ?", clientID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: identities: get: %w", err)
	}
	return &id, nil
}

func (s *gormIdentityStore) Update(ctx context.Context, id *Identity) error {
	res := s.engine.DB().WithContext(ctx).Model(&Identity{}).
		Where("client_id = ?", id.ClientID).
		Select("role", "hmac_key", "key_wrap_id", "allowed_cidrs", "updated_at").
		Updates(id)
	if res.Error != nil {
		return fmt.Errorf("store: identities: update: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormIdentityStore) Delete(ctx context.Context, clientID string) error {
	res := s.engine.DB().WithContext(ctx).Delete(&Identity{}, "client_id = ?", clientID)
	if res.Error != nil {
		return fmt.Errorf("store: identities: delete: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormIdentityStore) ListNotUsingWrapID(ctx context.Context, wrapID string, limit int) ([]*Identity, error) {
	var ids []*Identity
	q := s.engine.DB().WithContext(ctx).Where("key_wrap_id <> ? OR key_wrap_id IS NULL OR key_wrap_id = ''", wrapID)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&ids).Error; err != nil {
		return nil, fmt.Errorf("store: identities: list not using wrap id: %w", err)
	}
	return ids, nil
}
