package featureflags

import (
	"context"
	"strings"

	"ispbss/pkg/config"

	"github.com/Flagsmith/flagsmith-go-client/v2"
	"go.uber.org/fx"
)

var Module = fx.Module("featureflags", fx.Provide(ProvideFeatureFlag))

// FlagPrefix marks the flags that override license features. A flag named
// "license_radius" overrides the "radius" feature.
const FlagPrefix = "license_"

// FeatureFlag resolves per-tenant overrides of licensed features. A nil map
// means no overrides.
type FeatureFlag interface {
	Overrides(ctx context.Context, tenantID string) (map[string]bool, error)
}

type identityFlags interface {
	GetIdentityFlags(identifier string, traits []*flagsmith.Trait) (flagsmith.Flags, error)
}

type featureflag struct {
	client identityFlags
}

type FeatureParams struct {
	fx.In
	Config *config.Config
}

func ProvideFeatureFlag(p FeatureParams) FeatureFlag {
	if p.Config.Flagsmith.ApiKey == "" {
		return &featureflag{}
	}

	opts := []flagsmith.Option{
		flagsmith.WithAnalytics(),
	}
	if p.Config.Flagsmith.Addr != "" {
		opts = append(opts, flagsmith.WithBaseURL(p.Config.Flagsmith.Addr))
	}

	return &featureflag{
		client: flagsmith.NewClient(p.Config.Flagsmith.ApiKey, opts...),
	}
}

func (s *featureflag) Overrides(ctx context.Context, tenantID string) (map[string]bool, error) {
	if s.client == nil {
		return nil, nil
	}

	flags, err := s.client.GetIdentityFlags(tenantID, nil)
	if err != nil {
		return nil, err
	}
	return overrides(flags.AllFlags()), nil
}

// overrides keeps prefixed flags that Flagsmith actually resolved for the
// identity, whether set on the identity or on the environment. Flags filled
// in by a default handler are not overrides.
func overrides(flags []flagsmith.Flag) map[string]bool {
	var out map[string]bool
	for _, f := range flags {
		if f.IsDefault {
			continue
		}
		name, ok := strings.CutPrefix(f.FeatureName, FlagPrefix)
		if !ok || name == "" {
			continue
		}
		if out == nil {
			out = make(map[string]bool)
		}
		out[name] = f.Enabled
	}
	return out
}
