package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"pledgeline/internal/config"
	"pledgeline/internal/repo"
)

const adminAddressEnv = "PLEDGELINE_ADMIN_ADDRESS"

// ResolveConfig loads the registry config, preferring the DB copy, then the
// workspace pledgeline.yml, then a seeded default. First run persists the
// resolved config to the DB so later runs see one source of truth.
func ResolveConfig(ctx context.Context, workspace, registryOverride string, r repo.Repo) (*config.Config, error) {
	cfg, err := r.GetRegistryConfig(ctx)
	if err == nil {
		if registryOverride != "" {
			cfg.Registry.ID = registryOverride
		}
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	cfg, err = config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		registryID := registryOverride
		if registryID == "" {
			registryID = "default-registry"
		}
		admin := os.Getenv(adminAddressEnv)
		if admin == "" {
			return nil, fmt.Errorf("no config found; set %s or import one with pl registry config import --file <path>", adminAddressEnv)
		}
		cfg = config.Default(registryID, admin)
	}
	if registryOverride != "" {
		cfg.Registry.ID = registryOverride
	}
	if err := r.UpsertRegistryConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("seed registry config: %w", err)
	}
	return cfg, nil
}
