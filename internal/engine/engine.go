package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"launchline/internal/config"
	"launchline/internal/domain"
	"launchline/internal/engine/auth"
	"launchline/internal/events"
	"launchline/internal/logging"
	"launchline/internal/metrics"
	"launchline/internal/phase"
	"launchline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	// Config seeds new projects; each project keeps its own copy in project_configs.
	Config *config.Config
	Logger *zap.Logger
	Now    func() time.Time
	NewID  func() string

	BulkParallelism int
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{Now: time.Now},
		Auth:   auth.Service{DB: db},
		Config: cfg,
		Logger: zap.NewNop(),
		Now:    time.Now,
		NewID:  func() string { return uuid.NewString() },
	}
}

// WithClock returns a copy of e whose timestamps come from now.
func (e Engine) WithClock(now func() time.Time) Engine {
	e.Now = now
	e.Events.Now = now
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) log() *zap.Logger {
	return logging.OrNop(e.Logger)
}

func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

// projectConfigTx returns the stored project config, falling back to the
// engine default when none was imported.
func (e Engine) projectConfigTx(ctx context.Context, tx *sql.Tx, projectID string) (*config.Config, error) {
	cfg, err := e.Repo.GetProjectConfigTx(ctx, tx, projectID)
	if errors.Is(err, repo.ErrNotFound) {
		return e.defaultConfig(projectID), nil
	}
	return cfg, err
}

func (e Engine) defaultConfig(projectID string) *config.Config {
	if e.Config == nil {
		return config.Default(projectID)
	}
	cp := e.Config.Clone()
	cp.Project.ID = projectID
	return cp
}

// loadPhasesTx reads and checks a project's phase list. A missing project is
// ErrNotFound; a project without phases is ErrNoActivePhase.
func (e Engine) loadPhasesTx(ctx context.Context, tx *sql.Tx, projectID string) ([]domain.Phase, error) {
	phases, err := e.Repo.ListPhasesTx(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	if len(phases) == 0 {
		if _, err := e.Repo.GetProjectTx(ctx, tx, projectID); err != nil {
			return nil, err
		}
	}
	if err := phase.Check(phases); err != nil {
		e.log().Error("phase list integrity violation",
			zap.String("project_id", projectID),
			zap.Int("phases", len(phases)),
			zap.Error(err))
		metrics.IntegrityViolations.Inc()
		if errors.Is(err, domain.ErrNoActivePhase) {
			return nil, fmt.Errorf("project %s: %w", projectID, err)
		}
		return nil, fmt.Errorf("project %s has a corrupt phase list: %w", projectID, err)
	}
	return phases, nil
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
