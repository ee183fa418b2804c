package launchlinesdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchline/internal/config"
	"launchline/internal/db"
	"launchline/internal/engine"
	"launchline/internal/migrate"
	"launchline/internal/server"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	e := engine.New(conn, config.Default("")).WithClock(func() time.Time { return now })
	handler, err := server.New(server.Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     server.AuthConfig{JWTSecret: "sdk-secret", AllowLegacyActorHeader: true},
	})
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestClientLaunchFlow(t *testing.T) {
	ts := newServer(t)
	ctx := context.Background()
	c := New(ts.URL, "glow")
	c.ActorID = "owner-1"

	p, phases, err := c.CreateProject(ctx, "glow", "Glow", "Ava")
	require.NoError(t, err)
	assert.Equal(t, "ACTIVE", p.Status)
	require.Len(t, phases, 8)
	assert.Equal(t, "IN_PROGRESS", phases[0].Status)

	board, err := c.AdvancePhase(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, board.Current.PhaseOrder)
	assert.True(t, board.Unlocked("branding"))
	assert.False(t, board.Unlocked("content"))

	a, err := c.RequestApproval(ctx, ApprovalInput{
		Message:     "Approve the palette",
		ReviewerIDs: []string{"creator-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "PENDING", a.Status)

	reviewer := New(ts.URL, "glow")
	reviewer.ActorID = "creator-1"
	a, err = reviewer.ReviewApproval(ctx, a.ID, "", "APPROVED", "")
	require.NoError(t, err)
	assert.Equal(t, "APPROVED", a.Status)

	got, err := c.GetApproval(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "creator-1", got.Reviewers[0].ReviewerID)

	_, err = c.RecordDeliverable(ctx, "DISCOVERY", "", "Questionnaire")
	require.NoError(t, err)
	r, err := c.Readiness(ctx)
	require.NoError(t, err)
	assert.Equal(t, "glow", r.ProjectID)
	assert.Equal(t, 8, r.Score)
	assert.Len(t, r.Checks, 12)

	page, err := c.EventsPage(ctx, 2, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.NotEmpty(t, page.NextCursor)
	older, err := c.EventsPage(ctx, 2, page.NextCursor)
	require.NoError(t, err)
	require.NotEmpty(t, older.Items)
	assert.Less(t, older.Items[0].ID, page.Items[1].ID)
}

func TestClientBulkAndErrors(t *testing.T) {
	ts := newServer(t)
	ctx := context.Background()
	c := New(ts.URL+"/", "")
	c.ActorID = "owner-1"

	_, _, err := c.CreateProject(ctx, "glow", "Glow", "")
	require.NoError(t, err)
	_, _, err = c.CreateProject(ctx, "lumen", "Lumen", "")
	require.NoError(t, err)

	out, err := c.Bulk(ctx, "updateStatus", []string{"glow", "nope", "lumen"}, "ON_HOLD", "")
	require.NoError(t, err)
	assert.Equal(t, 2, out.Succeeded)
	assert.Equal(t, 1, out.Failed)

	held, err := c.ListProjects(ctx, "ON_HOLD")
	require.NoError(t, err)
	assert.Len(t, held, 2)

	c.ProjectID = "glow"
	_, err = c.AdvancePhase(ctx, 5)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "invalid_transition", apiErr.Code)

	anon := New(ts.URL, "glow")
	_, err = anon.GetProject(ctx)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}
