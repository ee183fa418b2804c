// Package app wires a workspace directory into a ready engine for the CLI.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"launchline/internal/config"
	"launchline/internal/db"
	"launchline/internal/engine"
	"launchline/internal/logging"
	"launchline/internal/migrate"
	"launchline/internal/repo"
)

type Options struct {
	Workspace string
	// Project overrides project selection; empty means the workspace's only project.
	Project         string
	Logger          *zap.Logger
	BulkParallelism int
}

// Session is an open workspace: the migrated database and an engine over it.
type Session struct {
	DB     *sql.DB
	Engine engine.Engine
	opts   Options
}

// Open prepares the workspace, applies migrations and builds the engine. The
// seed policy comes from launchline.yml when present, else the built-in default.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if _, err := db.EnsureWorkspace(opts.Workspace); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	seed, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if seed == nil {
		seed = config.Default(opts.Project)
	}
	e := engine.New(conn, seed)
	e.Logger = logging.OrNop(opts.Logger)
	e.BulkParallelism = opts.BulkParallelism
	return &Session{DB: conn, Engine: e, opts: opts}, nil
}

func (s *Session) Close() error {
	return s.DB.Close()
}

// ProjectID resolves the project a command targets.
func (s *Session) ProjectID(ctx context.Context) (string, error) {
	return ResolveProject(ctx, s.Engine.Repo, s.opts.Project)
}

// ResolveProject prefers the override, then the single project in the
// workspace. It never creates projects.
func ResolveProject(ctx context.Context, r repo.Repo, override string) (string, error) {
	if override != "" {
		if _, err := r.GetProject(ctx, override); err != nil {
			return "", fmt.Errorf("project %s: %w", override, err)
		}
		return override, nil
	}
	p, err := r.SingleProject(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		return "", errors.New("no project in workspace; create one with lp project create")
	}
	if err != nil {
		return "", err
	}
	return p.ID, nil
}
