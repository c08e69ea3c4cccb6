package storage

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/GeneralTask/task-manager-sub001/domain"
	"github.com/GeneralTask/task-manager-sub001/workspace"
)

const defaultMaxAttempts = 8

// Repository seeds workspaces on first access and applies updates with
// optimistic concurrency, reloading and reapplying on conflict.
type Repository struct {
	backend     Backend
	newID       func() string
	now         func() time.Time
	maxAttempts int
	logger      *log.Logger
}

// NewRepository wraps backend. newID generates folder and view ids for
// seeded workspaces.
func NewRepository(backend Backend, newID func() string, logger *log.Logger) *Repository {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Repository{backend: backend, newID: newID, now: time.Now, maxAttempts: defaultMaxAttempts, logger: logger}
}

// Get returns the workspace of userID, creating it if needed.
func (r *Repository) Get(ctx context.Context, userID string) (workspace.Workspace, error) {
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		ws, etag, err := r.load(ctx, userID)
		if err != nil {
			return workspace.Workspace{}, err
		}
		if etag != "" {
			return ws, nil
		}
		if _, err := r.backend.Save(ctx, ws, ""); err != nil {
			if errors.Is(err, domain.ErrConcurrencyConflict) {
				continue
			}
			return workspace.Workspace{}, err
		}
		r.logger.WithField("user_id", userID).Info("workspace seeded")
		return ws, nil
	}
	return workspace.Workspace{}, domain.ErrConcurrencyConflict
}

// Update applies fn to the current workspace of userID and saves the result.
// Errors returned by fn are passed through unchanged and nothing is saved.
func (r *Repository) Update(ctx context.Context, userID string, fn func(workspace.Workspace) (workspace.Workspace, error)) (workspace.Workspace, error) {
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		ws, etag, err := r.load(ctx, userID)
		if err != nil {
			return workspace.Workspace{}, err
		}
		next, err := fn(ws)
		if err != nil {
			return workspace.Workspace{}, err
		}
		next.UserID = userID
		next.UpdatedAt = r.now().UTC()
		if _, err := r.backend.Save(ctx, next, etag); err != nil {
			if errors.Is(err, domain.ErrConcurrencyConflict) {
				r.logger.WithFields(log.Fields{"user_id": userID, "attempt": attempt + 1}).Debug("workspace update conflict, retrying")
				continue
			}
			return workspace.Workspace{}, err
		}
		return next, nil
	}
	return workspace.Workspace{}, domain.ErrConcurrencyConflict
}

// load returns the stored workspace, or a fresh seed with an empty etag.
func (r *Repository) load(ctx context.Context, userID string) (workspace.Workspace, string, error) {
	ws, etag, err := r.backend.Load(ctx, userID)
	if err == nil {
		return ws, etag, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return workspace.Workspace{}, "", err
	}
	ws = workspace.Seed(userID, r.newID)
	ws.UpdatedAt = r.now().UTC()
	return ws, "", nil
}
