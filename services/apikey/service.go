package apikey

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ispbss/pkg/errutil"
	"ispbss/pkg/logger"
	"ispbss/pkg/repository"
	"ispbss/pkg/security"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errInvalidKey = errutil.Unauthorized("invalid instance api key", nil)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	repo repository.Repository[APIKey]
	now  func() time.Time
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
		repo: repository.ProvideStore[APIKey](p.DB),
		now:  time.Now,
	}
}

func (s *Service) WithTrx(tx *gorm.DB) *Service {
	return &Service{db: tx, node: s.node, repo: s.repo.WithTrx(tx), now: s.now}
}

// Issued is a freshly created key. Token is the only place the plaintext
// secret ever appears.
type Issued struct {
	Key   *APIKey `json:"api_key"`
	Token string  `json:"token"`
}

// Issue creates an instance API key for tenantID. The presented form is
// "<key_id>.<secret>".
func (s *Service) Issue(ctx context.Context, tenantID string, scopes []string, expiresAt *time.Time) (*Issued, error) {
	if len(scopes) == 0 {
		scopes = []string{ScopeUsageWrite, ScopeLicenseRead}
	}

	secret, err := security.GenerateBase64Secret(keySecretByteSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate api key secret: %w", err)
	}

	hash, err := security.HashArgon2(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to hash api key secret: %w", err)
	}

	id := s.node.Generate().String()
	key := &APIKey{
		ID:         id,
		TenantID:   tenantID,
		KeyID:      keyIDPrefix + id,
		KeyType:    APIKeyTypeInstance,
		SecretHash: hash,
		Scopes:     scopes,
		Status:     APIKeyStatusActive,
		CreatedAt:  s.now(),
		ExpiresAt:  expiresAt,
	}

	if err := s.repo.Create(ctx, key); err != nil {
		return nil, fmt.Errorf("failed to create api key: %w", err)
	}

	logger.FromContext(ctx).Info("instance api key issued",
		zap.String("tenant_id", tenantID),
		zap.String("key_id", key.KeyID),
		zap.Strings("scopes", scopes),
	)

	return &Issued{Key: key, Token: key.KeyID + "." + secret}, nil
}

// Authenticate checks presented against the stored key for tenantID and
// requires scope.
func (s *Service) Authenticate(ctx context.Context, tenantID, presented, scope string) (*APIKey, error) {
	keyID, secret, ok := strings.Cut(presented, ".")
	if !ok || keyID == "" || secret == "" || tenantID == "" {
		return nil, errInvalidKey
	}

	key, err := s.repo.FindOne(ctx, &APIKey{KeyID: keyID})
	if err != nil {
		return nil, errutil.Internal("failed to load api key", err)
	}
	if key == nil || key.TenantID != tenantID || key.Status != APIKeyStatusActive {
		return nil, errInvalidKey
	}
	if key.ExpiresAt != nil && s.now().After(*key.ExpiresAt) {
		return nil, errInvalidKey
	}

	match, err := security.VerifyArgon2(secret, key.SecretHash)
	if err != nil || !match {
		logger.FromContext(ctx).Warn("instance api key rejected", zap.String("tenant_id", tenantID), zap.String("key_id", keyID))
		return nil, errInvalidKey
	}

	if !key.Scopes.Allows(scope) {
		return nil, errutil.Forbidden("api key lacks scope "+scope, nil)
	}

	return key, nil
}

func (s *Service) Revoke(ctx context.Context, keyID string) error {
	key, err := s.repo.FindOne(ctx, &APIKey{KeyID: keyID})
	if err != nil {
		return errutil.Internal("failed to load api key", err)
	}
	if key == nil {
		return errutil.NotFound("api key not found", nil)
	}

	return s.repo.Update(ctx, key.ID, map[string]any{"status": APIKeyStatusRevoked})
}

// Verifier adapts the service to middleware.KeyVerifier for one scope.
type Verifier struct {
	svc   *Service
	scope string
}

func (s *Service) Verifier(scope string) *Verifier {
	return &Verifier{svc: s, scope: scope}
}

func (v *Verifier) Verify(ctx context.Context, tenantID, presented string) error {
	_, err := v.svc.Authenticate(ctx, tenantID, presented, v.scope)
	return err
}
