package repo

import (
	"context"
	"database/sql"

	"gopkg.in/yaml.v3"

	"pledgeline/internal/config"
)

// GetRegistryConfig loads the stored registry config.
func (r Repo) GetRegistryConfig(ctx context.Context) (*config.Config, error) {
	var raw string
	err := r.DB.QueryRowContext(ctx, `SELECT config_yaml FROM registry_config WHERE id=1`).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return config.FromYAML([]byte(raw))
}

func (r Repo) UpsertRegistryConfig(ctx context.Context, cfg *config.Config) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.UpsertRegistryConfigTx(ctx, tx, cfg); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) UpsertRegistryConfigTx(ctx context.Context, tx *sql.Tx, cfg *config.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	now := nowRFC3339()
	_, err = tx.ExecContext(ctx, `INSERT INTO registry_config(id,config_yaml,created_at,updated_at) VALUES (1,?,?,?)
ON CONFLICT(id) DO UPDATE SET config_yaml=excluded.config_yaml, updated_at=excluded.updated_at`,
		string(data), now, now)
	return err
}
