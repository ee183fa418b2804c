package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchline/internal/config"
	"launchline/internal/engine"
)

func TestOpenAndResolveProject(t *testing.T) {
	ctx := context.Background()
	ws := t.TempDir()
	s, err := Open(ctx, Options{Workspace: ws})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.ProjectID(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lp project create")

	_, _, err = s.Engine.CreateProject(ctx, engine.CreateProjectOptions{ID: "glow", Name: "Glow", ActorID: "owner-1"})
	require.NoError(t, err)
	id, err := s.ProjectID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "glow", id)

	_, _, err = s.Engine.CreateProject(ctx, engine.CreateProjectOptions{ID: "lumen", Name: "Lumen", ActorID: "owner-1"})
	require.NoError(t, err)
	_, err = ResolveProject(ctx, s.Engine.Repo, "")
	require.Error(t, err)
	id, err = ResolveProject(ctx, s.Engine.Repo, "lumen")
	require.NoError(t, err)
	assert.Equal(t, "lumen", id)
	_, err = ResolveProject(ctx, s.Engine.Repo, "missing")
	require.Error(t, err)

	_, err = os.Stat(filepath.Join(ws, ".launchline"))
	require.NoError(t, err)
}

func TestOpenUsesWorkspaceConfig(t *testing.T) {
	ctx := context.Background()
	ws := t.TempDir()
	cfg := config.Default("glow")
	cfg.Phases[0].RequireApproval = true
	data, err := cfg.YAML()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(config.Path(ws), data, 0o644))

	s, err := Open(ctx, Options{Workspace: ws})
	require.NoError(t, err)
	defer s.Close()
	assert.True(t, s.Engine.Config.Phases[0].RequireApproval)
}
