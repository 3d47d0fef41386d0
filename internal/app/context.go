package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tablero/internal/config"
	"tablero/internal/repo"
)

// ResolveSquadAndConfig picks the active squad and ensures a squad row and
// config exist in the database, seeding defaults if missing. The file config
// in the workspace wins over the persisted copy when both exist.
func ResolveSquadAndConfig(ctx context.Context, workspace, squadOverride string, r repo.Repo) (string, *config.Config, error) {
	fileCfg, err := config.LoadOptional(workspace)
	if err != nil {
		return "", nil, err
	}

	squadID := squadOverride
	if squadID == "" && fileCfg != nil {
		squadID = fileCfg.Squad.ID
	}
	if squadID == "" {
		return "", nil, fmt.Errorf("squad not specified; use --squad or add tablero.yml")
	}

	if fileCfg != nil {
		fileCfg.Squad.ID = squadID
		if err := ensureSquad(ctx, r, squadID, fileCfg); err != nil {
			return "", nil, err
		}
		return squadID, fileCfg, nil
	}

	cfg, err := r.GetSquadConfig(ctx, squadID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		cfg = config.Default(squadID)
		if err := ensureSquad(ctx, r, squadID, cfg); err != nil {
			return "", nil, err
		}
	}
	cfg.Squad.ID = squadID
	return squadID, cfg, nil
}

func ensureSquad(ctx context.Context, r repo.Repo, squadID string, cfg *config.Config) error {
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.EnsureSquad(ctx, tx, squadID, cfg.Squad.Name, now); err != nil {
		return fmt.Errorf("ensure squad: %w", err)
	}
	if err := r.UpsertSquadConfigTx(ctx, tx, squadID, cfg); err != nil {
		return fmt.Errorf("persist squad config: %w", err)
	}
	return tx.Commit()
}
