package plan

import (
	"context"
	"fmt"

	"ispbss/pkg/db/option"
	"ispbss/pkg/errutil"
	"ispbss/pkg/licensing"
	"ispbss/pkg/logger"
	"ispbss/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrPlanNotFound = errutil.Sentinel(errutil.StatusNotFound, "plan not found")

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	repo repository.Repository[TenantPlan]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		repo: repository.ProvideStore[TenantPlan](p.DB),
	}
}

// WithTrx returns a copy of the service bound to tx.
func (s *Service) WithTrx(tx *gorm.DB) *Service {
	return &Service{db: tx, node: s.node, repo: s.repo.WithTrx(tx)}
}

func (s *Service) Get(ctx context.Context, id string) (*TenantPlan, error) {
	if id == "" {
		return nil, ErrPlanNotFound
	}

	p, err := s.repo.FindOne(ctx, &TenantPlan{ID: id})
	if err != nil {
		return nil, fmt.Errorf("find plan %s: %w", id, err)
	}
	if p == nil {
		return nil, ErrPlanNotFound
	}
	return p, nil
}

func (s *Service) List(ctx context.Context) ([]*TenantPlan, error) {
	return s.repo.Find(ctx, nil, option.WithSortBy(option.QuerySortBy{
		SortBy:  "max_subscribers",
		OrderBy: "asc",
	}))
}

type CreatePlanRequest struct {
	Name                     string                  `json:"name"`
	Tier                     Tier                    `json:"tier"`
	MaxSubscribers           int                     `json:"max_subscribers"`
	MaxStaffUsers            int                     `json:"max_staff_users"`
	MaxAPICallsPerDay        int                     `json:"max_api_calls_per_day"`
	MaxStorageGB             int                     `json:"max_storage_gb"`
	OveragePolicy            licensing.OveragePolicy `json:"overage_policy"`
	OverageRatePerSubscriber *float64                `json:"overage_rate_per_subscriber,omitempty"`
	Features                 map[string]bool         `json:"features,omitempty"`
	PriceMonthly             float64                 `json:"price_monthly"`
	Currency                 string                  `json:"currency"`
	LicenseValidityDays      int                     `json:"license_validity_days"`
	WarnThresholdPercent     int                     `json:"warn_threshold_percent"`
	CriticalThresholdPercent int                     `json:"critical_threshold_percent"`
	GracePeriodHours         int                     `json:"grace_period_hours"`
}

func (r CreatePlanRequest) validate() error {
	var details []errutil.Detail
	if r.Name == "" {
		details = append(details, errutil.Detail{Field: "name", Message: "required"})
	}
	if !r.Tier.Valid() {
		details = append(details, errutil.Detail{Field: "tier", Message: "must be one of STARTER, PROFESSIONAL, ENTERPRISE, CUSTOM"})
	}
	if r.MaxSubscribers < 0 {
		details = append(details, errutil.Detail{Field: "max_subscribers", Message: "must not be negative"})
	}
	if !r.OveragePolicy.Valid() {
		details = append(details, errutil.Detail{Field: "overage_policy", Message: "must be one of BLOCK, WARN, ALLOW_AND_BILL"})
	}
	if r.WarnThresholdPercent > 0 && r.CriticalThresholdPercent > 0 && r.WarnThresholdPercent > r.CriticalThresholdPercent {
		details = append(details, errutil.Detail{Field: "warn_threshold_percent", Message: "must not exceed critical_threshold_percent"})
	}
	if len(details) > 0 {
		return errutil.ValidationFailed("invalid plan", nil, errutil.WithDetails(details...))
	}
	return nil
}

func (s *Service) Create(ctx context.Context, req CreatePlanRequest) (*TenantPlan, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	features := req.Features
	if features == nil {
		features = map[string]bool{}
	}

	p := &TenantPlan{
		ID:                       s.node.Generate().String(),
		Name:                     req.Name,
		Tier:                     req.Tier,
		MaxSubscribers:           req.MaxSubscribers,
		MaxStaffUsers:            req.MaxStaffUsers,
		MaxAPICallsPerDay:        req.MaxAPICallsPerDay,
		MaxStorageGB:             req.MaxStorageGB,
		OveragePolicy:            req.OveragePolicy,
		OverageRatePerSubscriber: req.OverageRatePerSubscriber,
		Features:                 datatypes.NewJSONType(features),
		PriceMonthly:             req.PriceMonthly,
		Currency:                 req.Currency,
		LicenseValidityDays:      req.LicenseValidityDays,
		WarnThresholdPercent:     req.WarnThresholdPercent,
		CriticalThresholdPercent: req.CriticalThresholdPercent,
		GracePeriodHours:         req.GracePeriodHours,
	}
	if p.Currency == "" {
		p.Currency = "USD"
	}

	if err := s.repo.Create(ctx, p); err != nil {
		logger.FromContext(ctx).Error("failed to create plan", zap.String("name", req.Name), zap.Error(err))
		return nil, errutil.Internal("failed to create plan", err)
	}

	logger.FromContext(ctx).Info("plan created",
		zap.String("plan_id", p.ID),
		zap.String("tier", string(p.Tier)),
		zap.Int("max_subscribers", p.MaxSubscribers),
	)

	return p, nil
}
