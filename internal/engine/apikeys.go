package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"launchline/internal/domain"
	"launchline/internal/repo"
)

const apiKeyPrefix = "ll_"

// IssueAPIKey creates a key for actorID. The raw key is returned once and
// only its digest is stored.
func (e Engine) IssueAPIKey(ctx context.Context, actorID, name string) (domain.APIKey, string, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return domain.APIKey{}, "", domain.NewValidationError("actor id is required")
	}
	raw := apiKeyPrefix + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	key := domain.APIKey{
		ID:        e.newID(),
		ActorID:   actorID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: e.stamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, actorID, key.CreatedAt); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := e.Repo.InsertAPIKeyTx(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("insert api key: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, raw, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx, actorID)
}

func (e Engine) RevokeAPIKey(ctx context.Context, id string) error {
	return e.Repo.DeleteAPIKey(ctx, id)
}

// ResolveAPIKey returns the key matching raw, or repo.ErrNotFound.
func (e Engine) ResolveAPIKey(ctx context.Context, raw string) (domain.APIKey, error) {
	if !strings.HasPrefix(strings.TrimSpace(raw), apiKeyPrefix) {
		return domain.APIKey{}, repo.ErrNotFound
	}
	return e.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(raw))
}
