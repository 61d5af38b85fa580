package tenant

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"ispbss/pkg/db/option"
	"ispbss/pkg/errutil"
	"ispbss/pkg/logger"
	"ispbss/pkg/repository"
	"ispbss/services/apikey"
	"ispbss/services/plan"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrTenantNotFound = errutil.Sentinel(errutil.StatusNotFound, "tenant not found")

type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	plans *plan.Service
	keys  *apikey.Service
	repo  repository.Repository[Tenant]
}

type ServiceParams struct {
	fx.In
	DB    *gorm.DB
	Node  *snowflake.Node
	Plans *plan.Service
	Keys  *apikey.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:    p.DB,
		node:  p.Node,
		plans: p.Plans,
		keys:  p.Keys,
		repo:  repository.ProvideStore[Tenant](p.DB),
	}
}

func (s *Service) WithTrx(tx *gorm.DB) *Service {
	out := *s
	out.db = tx
	out.repo = s.repo.WithTrx(tx)
	return &out
}

func (s *Service) Get(ctx context.Context, id string) (*Tenant, error) {
	if id == "" {
		return nil, ErrTenantNotFound
	}

	t, err := s.repo.FindOne(ctx, &Tenant{ID: id})
	if err != nil {
		return nil, fmt.Errorf("find tenant %s: %w", id, err)
	}
	if t == nil {
		return nil, ErrTenantNotFound
	}
	return t, nil
}

// GetForUpdate loads the tenant row with a write lock. Use inside a
// transaction bound with WithTrx.
func (s *Service) GetForUpdate(ctx context.Context, id string) (*Tenant, error) {
	t, err := s.repo.FindOne(ctx, &Tenant{ID: id}, option.WithLockingUpdate())
	if err != nil {
		return nil, fmt.Errorf("find tenant %s: %w", id, err)
	}
	if t == nil {
		return nil, ErrTenantNotFound
	}
	return t, nil
}

func (s *Service) List(ctx context.Context, limit int) ([]*Tenant, error) {
	return s.repo.Find(ctx, nil,
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
		option.WithLimit(limit),
	)
}

type CreateTenantRequest struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	PlanID      string `json:"plan_id"`
	InstanceURL string `json:"instance_url"`
}

// Created is returned once on tenant creation. InstanceAPIKey is the
// plaintext key the tenant's instance uses to talk to the control plane.
type Created struct {
	Tenant         *Tenant `json:"tenant"`
	InstanceAPIKey string  `json:"instance_api_key"`
}

func (s *Service) Create(ctx context.Context, req CreateTenantRequest) (*Created, error) {
	zapLog := logger.FromContext(ctx)

	if strings.TrimSpace(req.Name) == "" {
		return nil, errutil.ValidationFailed("invalid tenant", nil, errutil.WithDetails(errutil.Detail{Field: "name", Message: "required"}))
	}
	if err := validateInstanceURL(req.InstanceURL); err != nil {
		return nil, err
	}

	if _, err := s.plans.Get(ctx, req.PlanID); err != nil {
		return nil, err
	}

	slugName := req.Slug
	if slugName == "" {
		slugName = slug.Make(req.Name)
	}

	exist, err := s.repo.FindOne(ctx, &Tenant{Slug: slugName})
	if err != nil {
		zapLog.Error("failed query get tenant by slug", zap.Error(err))
		return nil, errutil.Internal("failed to check existing tenant", err)
	}
	if exist != nil {
		zapLog.Warn("tenant already exists", zap.String("slug", slugName))
		return nil, errutil.Conflict("tenant already exists", nil)
	}

	out := &Created{}
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t := &Tenant{
			ID:          s.node.Generate().String(),
			Name:        req.Name,
			Slug:        slugName,
			Status:      Active,
			PlanID:      req.PlanID,
			InstanceURL: strings.TrimRight(req.InstanceURL, "/"),
		}
		if err := s.repo.WithTrx(tx).Create(ctx, t); err != nil {
			return fmt.Errorf("failed to create tenant: %w", err)
		}

		issued, err := s.keys.WithTrx(tx).Issue(ctx, t.ID, nil, nil)
		if err != nil {
			return err
		}

		out.Tenant = t
		out.InstanceAPIKey = issued.Token
		return nil
	}); err != nil {
		zapLog.Error("failed to create tenant transaction", zap.Error(err))
		return nil, errutil.Internal("failed to create tenant", err)
	}

	zapLog.Info("tenant created",
		zap.String("tenant_id", out.Tenant.ID),
		zap.String("slug", slugName),
		zap.String("plan_id", req.PlanID),
	)

	return out, nil
}

// UpdatePlan points the tenant at planID. The plan must exist.
func (s *Service) UpdatePlan(ctx context.Context, tenantID, planID string) (*Tenant, error) {
	if _, err := s.plans.WithTrx(s.db).Get(ctx, planID); err != nil {
		return nil, err
	}

	t, err := s.GetForUpdate(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, t.ID, map[string]any{"plan_id": planID}); err != nil {
		return nil, fmt.Errorf("update tenant plan: %w", err)
	}
	t.PlanID = planID
	return t, nil
}

func (s *Service) UpdateInstanceURL(ctx context.Context, tenantID, instanceURL string) (*Tenant, error) {
	if err := validateInstanceURL(instanceURL); err != nil {
		return nil, err
	}

	t, err := s.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	instanceURL = strings.TrimRight(instanceURL, "/")
	if err := s.repo.Update(ctx, t.ID, map[string]any{"instance_url": instanceURL}); err != nil {
		return nil, fmt.Errorf("update tenant instance url: %w", err)
	}
	t.InstanceURL = instanceURL
	return t, nil
}

func validateInstanceURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return errutil.ValidationFailed("invalid tenant", err, errutil.WithDetails(errutil.Detail{
			Field: "instance_url", Message: "must be an absolute http(s) URL",
		}))
	}
	return nil
}
