package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"guardian/internal/config"
	"guardian/internal/database"
)

// globalConfigKey is the app_config key of the persisted global config
const globalConfigKey = "global_config"

// ValidationResult reports whether a config document is acceptable
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems,omitempty"`
}

// ConfigImplementation implements the config service
type ConfigImplementation struct {
	store *config.Store
	db    *database.Database
}

// NewConfigService creates a new config service implementation. db is
// optional; without it updates are not persisted.
func NewConfigService(store *config.Store, db *database.Database) *ConfigImplementation {
	return &ConfigImplementation{
		store: store,
		db:    db,
	}
}

// LoadPersisted applies the config saved by a previous Update, if any
func (c *ConfigImplementation) LoadPersisted() error {
	if c.db == nil {
		return nil
	}
	raw, err := c.db.GetConfig(globalConfigKey)
	if err != nil {
		return err
	}
	if raw == "" {
		return nil
	}

	cfg, err := config.Parse([]byte(raw))
	if err != nil {
		return fmt.Errorf("persisted config is invalid: %w", err)
	}
	if err := c.store.Swap(cfg); err != nil {
		return err
	}
	log.Printf("[Config] Loaded persisted configuration (profile: %s)", cfg.Profile)
	return nil
}

// Get returns the active global configuration
func (c *ConfigImplementation) Get(ctx context.Context) (*config.Config, error) {
	return c.store.Current(), nil
}

// Update validates a config document, persists it and makes it active.
// Omitted fields take the defaults of the document's profile.
func (c *ConfigImplementation) Update(ctx context.Context, data []byte) (*config.Config, error) {
	cfg, err := config.Parse(data)
	if err != nil {
		return nil, badRequest("Invalid configuration", err)
	}

	if c.db != nil {
		raw, err := cfg.MarshalIndent()
		if err != nil {
			return nil, fmt.Errorf("failed to encode config: %w", err)
		}
		if err := c.db.SaveConfig(globalConfigKey, string(raw)); err != nil {
			return nil, err
		}
	}

	if err := c.store.Swap(cfg); err != nil {
		return nil, badRequest("Invalid configuration", err)
	}
	log.Printf("[Config] Configuration updated (profile: %s)", cfg.Profile)
	return c.store.Current(), nil
}

// Validate checks a config document without applying it
func (c *ConfigImplementation) Validate(ctx context.Context, data []byte) (*ValidationResult, error) {
	_, err := config.Parse(data)
	if err == nil {
		return &ValidationResult{Valid: true}, nil
	}

	var cerr *config.ConfigurationError
	if errors.As(err, &cerr) {
		return &ValidationResult{Problems: cerr.Problems}, nil
	}
	return &ValidationResult{Problems: []string{err.Error()}}, nil
}
