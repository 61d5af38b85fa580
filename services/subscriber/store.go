package subscriber

import (
	"context"
	"fmt"

	"ispbss/pkg/config"
	"ispbss/pkg/repository"

	"gorm.io/gorm"
)

// Store is the instance-local subscriber storage, scoped to the tenant the
// instance serves.
type Store struct {
	tenantID string
	repo     repository.Repository[Subscriber]
}

func NewStore(db *gorm.DB, cfg *config.Config) *Store {
	return &Store{
		tenantID: cfg.Instance.TenantID,
		repo:     repository.ProvideStore[Subscriber](db),
	}
}

func (s *Store) WithTrx(tx *gorm.DB) *Store {
	return &Store{tenantID: s.tenantID, repo: s.repo.WithTrx(tx)}
}

func (s *Store) CountActive(ctx context.Context) (int, error) {
	n, err := s.repo.Count(ctx, &Subscriber{TenantID: s.tenantID, Status: StatusActive})
	if err != nil {
		return 0, fmt.Errorf("count active subscribers: %w", err)
	}
	return int(n), nil
}

func (s *Store) CountTotal(ctx context.Context) (int, error) {
	n, err := s.repo.Count(ctx, &Subscriber{TenantID: s.tenantID})
	if err != nil {
		return 0, fmt.Errorf("count subscribers: %w", err)
	}
	return int(n), nil
}
