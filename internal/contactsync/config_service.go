package contactsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// StateCodec signs and verifies the OAuth state carrying the owner through
// the provider consent round trip.
type StateCodec interface {
	Encode(ownerID, provider string) (string, error)
	Decode(state string) (ownerID, provider string, err error)
}

// ConfigUpdate changes only its non-nil fields.
type ConfigUpdate struct {
	Direction           *Direction        `json:"direction,omitempty"`
	ConflictPolicy      *ConflictPolicy   `json:"conflict_policy,omitempty"`
	DeletionHandling    *DeletionHandling `json:"deletion_handling,omitempty"`
	Active              *bool             `json:"active,omitempty"`
	AutoSync            *bool             `json:"auto_sync,omitempty"`
	SyncIntervalMinutes *int              `json:"sync_interval_minutes,omitempty"`
	FieldMapping        map[string]string `json:"field_mapping,omitempty"`
}

type ConfigService struct {
	store           Store
	providers       ProviderLookup
	state           StateCodec
	defaultInterval int
	now             func() time.Time
	logger          *slog.Logger
}

func NewConfigService(log *slog.Logger, store Store, providers ProviderLookup, state StateCodec, defaultIntervalMinutes int) *ConfigService {
	if log == nil {
		log = slog.Default()
	}
	if defaultIntervalMinutes <= 0 {
		defaultIntervalMinutes = DefaultIntervalMinutes
	}
	return &ConfigService{
		store:           store,
		providers:       providers,
		state:           state,
		defaultInterval: defaultIntervalMinutes,
		now:             func() time.Time { return time.Now().UTC() },
		logger:          log.With(slog.String("service", "contactsync_config")),
	}
}

func (s *ConfigService) Get(ctx context.Context, ownerID, provider string) (Config, error) {
	return s.store.GetConfigByProvider(ctx, strings.TrimSpace(ownerID), normalizeProvider(provider))
}

func (s *ConfigService) List(ctx context.Context, ownerID string) ([]Config, error) {
	return s.store.ListConfigs(ctx, strings.TrimSpace(ownerID))
}

// CreateOrUpdate applies req to the owner's config for provider, creating it
// with defaults when missing.
func (s *ConfigService) CreateOrUpdate(ctx context.Context, ownerID, provider string, req ConfigUpdate) (Config, error) {
	ownerID = strings.TrimSpace(ownerID)
	provider = normalizeProvider(provider)
	if ownerID == "" {
		return Config{}, fmt.Errorf("%w: owner id is required", ErrInvalidConfig)
	}
	if _, err := s.providers.Get(provider); err != nil {
		return Config{}, err
	}
	cfg, err := s.store.GetConfigByProvider(ctx, ownerID, provider)
	if errors.Is(err, ErrConfigNotFound) {
		cfg = s.defaults(ownerID, provider)
	} else if err != nil {
		return Config{}, err
	}
	if err := s.applyUpdate(&cfg, req); err != nil {
		return Config{}, err
	}
	return s.store.SaveConfig(ctx, cfg)
}

func (s *ConfigService) defaults(ownerID, provider string) Config {
	return Config{
		OwnerID:             ownerID,
		Provider:            provider,
		Direction:           DirectionTwoWay,
		ConflictPolicy:      PolicyNewestWins,
		DeletionHandling:    DeletionSoft,
		SyncIntervalMinutes: s.defaultInterval,
		FieldMapping:        map[string]string{},
	}
}

func (s *ConfigService) applyUpdate(cfg *Config, req ConfigUpdate) error {
	if req.Direction != nil {
		if !req.Direction.Valid() {
			return fmt.Errorf("%w: direction %q", ErrInvalidConfig, *req.Direction)
		}
		cfg.Direction = *req.Direction
	}
	if req.ConflictPolicy != nil {
		if !req.ConflictPolicy.Valid() {
			return fmt.Errorf("%w: conflict policy %q", ErrInvalidConfig, *req.ConflictPolicy)
		}
		cfg.ConflictPolicy = *req.ConflictPolicy
	}
	if req.DeletionHandling != nil {
		if !req.DeletionHandling.Valid() {
			return fmt.Errorf("%w: deletion handling %q", ErrInvalidConfig, *req.DeletionHandling)
		}
		cfg.DeletionHandling = *req.DeletionHandling
	}
	if req.SyncIntervalMinutes != nil {
		if *req.SyncIntervalMinutes < 0 {
			return fmt.Errorf("%w: sync interval must not be negative", ErrInvalidConfig)
		}
		cfg.SyncIntervalMinutes = *req.SyncIntervalMinutes
		if cfg.SyncIntervalMinutes == 0 {
			cfg.SyncIntervalMinutes = s.defaultInterval
		}
	}
	if req.FieldMapping != nil {
		cfg.FieldMapping = req.FieldMapping
	}
	if req.Active != nil {
		cfg.Active = *req.Active
	}
	if req.AutoSync != nil {
		cfg.AutoSync = *req.AutoSync
	}
	switch {
	case !cfg.AutoSync || !cfg.Active:
		cfg.NextRunAt = time.Time{}
	case cfg.NextRunAt.IsZero() || req.SyncIntervalMinutes != nil:
		cfg.NextRunAt = s.now().Add(time.Duration(cfg.SyncIntervalMinutes) * time.Minute)
	}
	return nil
}

// Disconnect deactivates the config and forgets its credentials. The config
// row, its mappings and its history are kept.
func (s *ConfigService) Disconnect(ctx context.Context, ownerID, provider string) (Config, error) {
	cfg, err := s.Get(ctx, ownerID, provider)
	if err != nil {
		return Config{}, err
	}
	if cfg.CredentialID != "" {
		if err := s.store.DeleteCredentials(ctx, cfg.CredentialID); err != nil && !errors.Is(err, ErrCredentialsNotFound) {
			return Config{}, err
		}
	}
	cfg.CredentialID = ""
	cfg.Active = false
	cfg.AutoSync = false
	cfg.NextRunAt = time.Time{}
	saved, err := s.store.SaveConfig(ctx, cfg)
	if err != nil {
		return Config{}, err
	}
	s.logger.Info("sync provider disconnected", slog.String("owner_id", cfg.OwnerID), slog.String("provider", cfg.Provider))
	return saved, nil
}

// AuthorizationURL returns the provider consent URL for the owner.
func (s *ConfigService) AuthorizationURL(ownerID, provider string) (string, error) {
	ownerID = strings.TrimSpace(ownerID)
	provider = normalizeProvider(provider)
	p, err := s.providers.Get(provider)
	if err != nil {
		return "", err
	}
	if s.state == nil {
		return "", errors.New("oauth state codec not configured")
	}
	state, err := s.state.Encode(ownerID, provider)
	if err != nil {
		return "", err
	}
	return p.AuthorizationURL(state), nil
}

// CompleteAuthorization exchanges the consent code, stores the tokens and
// activates the owner's config, creating it on first authorization.
func (s *ConfigService) CompleteAuthorization(ctx context.Context, provider, state, code string) (Config, error) {
	provider = normalizeProvider(provider)
	if s.state == nil {
		return Config{}, errors.New("oauth state codec not configured")
	}
	ownerID, stateProvider, err := s.state.Decode(state)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	if stateProvider != provider {
		return Config{}, fmt.Errorf("%w: provider mismatch", ErrInvalidState)
	}
	p, err := s.providers.Get(provider)
	if err != nil {
		return Config{}, err
	}
	tokens, err := p.ExchangeCode(ctx, code)
	if err != nil {
		return Config{}, err
	}

	cfg, err := s.store.GetConfigByProvider(ctx, ownerID, provider)
	if errors.Is(err, ErrConfigNotFound) {
		cfg = s.defaults(ownerID, provider)
	} else if err != nil {
		return Config{}, err
	}
	creds, err := s.store.SaveCredentials(ctx, Credentials{
		ID:           cfg.CredentialID,
		OwnerID:      ownerID,
		Provider:     provider,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenType:    tokens.TokenType,
		Expiry:       tokens.Expiry,
		AccountEmail: tokens.AccountEmail,
	})
	if err != nil {
		return Config{}, err
	}
	cfg.CredentialID = creds.ID
	cfg.RemoteAccountEmail = tokens.AccountEmail
	cfg.Active = true
	saved, err := s.store.SaveConfig(ctx, cfg)
	if err != nil {
		return Config{}, err
	}
	s.logger.Info("sync provider authorized",
		slog.String("owner_id", ownerID),
		slog.String("provider", provider),
		slog.String("config_id", saved.ID),
	)
	return saved, nil
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
