package subscriber

import (
	"context"
	"fmt"
	"strings"

	"ispbss/pkg/db/option"
	"ispbss/pkg/errutil"
	"ispbss/pkg/logger"
	"ispbss/services/enforcer"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrSubscriberNotFound = errutil.Sentinel(errutil.StatusNotFound, "subscriber not found")

// Admitter gates the creation of active subscribers.
type Admitter interface {
	Admit(ctx context.Context) (*enforcer.Admission, error)
}

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	store    *Store
	admitter Admitter
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Store    *Store
	Admitter Admitter
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		store:    p.Store,
		admitter: p.Admitter,
	}
}

type CreateSubscriberRequest struct {
	Username string `json:"username"`
}

type Created struct {
	Subscriber *Subscriber         `json:"subscriber"`
	Admission  *enforcer.Admission `json:"admission"`
}

// Create admits and stores a new active subscriber.
func (s *Service) Create(ctx context.Context, req CreateSubscriberRequest) (*Created, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, errutil.ValidationFailed("invalid subscriber", nil, errutil.WithDetails(errutil.Detail{Field: "username", Message: "required"}))
	}

	exist, err := s.store.repo.FindOne(ctx, &Subscriber{TenantID: s.store.tenantID, Username: username})
	if err != nil {
		return nil, errutil.Internal("failed to check existing subscriber", err)
	}
	if exist != nil {
		return nil, errutil.Conflict("subscriber already exists", nil)
	}

	adm, err := s.admitter.Admit(ctx)
	if err != nil {
		return nil, err
	}

	sub := &Subscriber{
		ID:       s.node.Generate().String(),
		TenantID: s.store.tenantID,
		Username: username,
		Status:   StatusActive,
	}
	if err := s.store.repo.Create(ctx, sub); err != nil {
		return nil, errutil.Internal("failed to create subscriber", err)
	}

	zapLog := logger.FromContext(ctx)
	if adm.OverCap {
		zapLog.Warn("subscriber created over license cap",
			zap.String("subscriber_id", sub.ID),
			zap.Int("max_subscribers", adm.Status.MaxSubscribers),
			zap.Bool("billing_event_queued", adm.BillingEventQueued),
		)
	} else {
		zapLog.Info("subscriber created", zap.String("subscriber_id", sub.ID))
	}

	return &Created{Subscriber: sub, Admission: adm}, nil
}

// SetStatus changes a subscriber's status. Reactivation goes through
// admission like a new subscriber.
func (s *Service) SetStatus(ctx context.Context, id string, status Status) (*Subscriber, error) {
	if !status.Valid() {
		return nil, errutil.ValidationFailed("invalid subscriber status", nil, errutil.WithDetails(errutil.Detail{
			Field: "status", Message: "must be one of active, suspended, terminated",
		}))
	}

	sub, err := s.store.repo.FindOne(ctx, &Subscriber{ID: id, TenantID: s.store.tenantID})
	if err != nil {
		return nil, fmt.Errorf("find subscriber %s: %w", id, err)
	}
	if sub == nil {
		return nil, ErrSubscriberNotFound
	}
	if sub.Status == status {
		return sub, nil
	}

	if status == StatusActive {
		if _, err := s.admitter.Admit(ctx); err != nil {
			return nil, err
		}
	}

	if err := s.store.repo.Update(ctx, sub.ID, map[string]any{"status": status}); err != nil {
		return nil, fmt.Errorf("update subscriber %s: %w", id, err)
	}
	sub.Status = status
	return sub, nil
}

func (s *Service) List(ctx context.Context, status Status, limit int) ([]*Subscriber, error) {
	q := &Subscriber{TenantID: s.store.tenantID, Status: status}
	return s.store.repo.Find(ctx, q,
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
		option.WithLimit(limit),
	)
}
