package main

import (
	"context"
	"errors"
	"log"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ispbss/pkg/config"
	"ispbss/pkg/db"
	"ispbss/pkg/errutil"
	"ispbss/pkg/gen"
	"ispbss/pkg/licensing"
	"ispbss/pkg/logger"
	"ispbss/services/apikey"
	"ispbss/services/plan"
	"ispbss/services/tenant"
)

var defaultPlans = []plan.CreatePlanRequest{
	{
		Name:                "Starter",
		Tier:                plan.TierStarter,
		MaxSubscribers:      100,
		MaxStaffUsers:       3,
		MaxAPICallsPerDay:   1000,
		MaxStorageGB:        5,
		OveragePolicy:       licensing.OverageBlock,
		PriceMonthly:        49,
		Currency:            "USD",
		LicenseValidityDays: 30,
	},
	{
		Name:                "Professional",
		Tier:                plan.TierProfessional,
		MaxSubscribers:      500,
		MaxStaffUsers:       15,
		MaxAPICallsPerDay:   10000,
		MaxStorageGB:        50,
		OveragePolicy:       licensing.OverageWarn,
		PriceMonthly:        199,
		Currency:            "USD",
		LicenseValidityDays: 30,
	},
	{
		Name:                     "Enterprise",
		Tier:                     plan.TierEnterprise,
		MaxSubscribers:           5000,
		MaxStaffUsers:            100,
		MaxAPICallsPerDay:        100000,
		MaxStorageGB:             500,
		OveragePolicy:            licensing.OverageAllowAndBill,
		OverageRatePerSubscriber: ptr(0.5),
		PriceMonthly:             999,
		Currency:                 "USD",
		LicenseValidityDays:      365,
	},
}

func ptr[T any](v T) *T { return &v }

// seed creates the default plans and, when SEED_TENANT_NAME is set, a tenant
// on the Professional plan. It is safe to run repeatedly.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		gen.Module,
		plan.Module,
		apikey.Module,
		tenant.Module,
		fx.Invoke(migrate, run),
		fx.WithLogger(func(*zap.Logger) fxevent.Logger { return fxevent.NopLogger }),
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)
	if err := app.Err(); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
}

func migrate(gdb *gorm.DB, cfg *config.Config) error {
	return db.AutoMigrate(gdb, cfg, &plan.TenantPlan{}, &tenant.Tenant{}, &apikey.APIKey{})
}

func run(plans *plan.Service, tenants *tenant.Service) error {
	ctx := context.Background()

	existing, err := plans.List(ctx)
	if err != nil {
		return err
	}
	byName := make(map[string]*plan.TenantPlan, len(existing))
	for _, p := range existing {
		byName[p.Name] = p
	}

	for _, req := range defaultPlans {
		if p, ok := byName[req.Name]; ok {
			zap.L().Info("[Seed] plan exists", zap.String("plan_id", p.ID), zap.String("name", p.Name))
			continue
		}
		p, err := plans.Create(ctx, req)
		if err != nil {
			return err
		}
		byName[p.Name] = p
		zap.L().Info("[Seed] plan created", zap.String("plan_id", p.ID), zap.String("name", p.Name))
	}

	name := os.Getenv("SEED_TENANT_NAME")
	if name == "" {
		return nil
	}

	created, err := tenants.Create(ctx, tenant.CreateTenantRequest{
		Name:        name,
		PlanID:      byName["Professional"].ID,
		InstanceURL: os.Getenv("SEED_INSTANCE_URL"),
	})
	var se interface{ Status() errutil.CoreStatus }
	if errors.As(err, &se) && se.Status() == errutil.StatusConflict {
		zap.L().Info("[Seed] tenant exists", zap.String("name", name))
		return nil
	}
	if err != nil {
		return err
	}

	zap.L().Info("[Seed] tenant created",
		zap.String("tenant_id", created.Tenant.ID),
		zap.String("slug", created.Tenant.Slug),
		zap.String("instance_api_key", created.InstanceAPIKey),
	)
	return nil
}
