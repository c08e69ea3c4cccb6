package api

import (
	"context"

	"github.com/GeneralTask/task-manager-sub001/domain"
	"github.com/GeneralTask/task-manager-sub001/workspace"
)

// Workspaces loads and updates the workspace of a user. Update reapplies fn
// on concurrency conflicts.
type Workspaces interface {
	Get(ctx context.Context, userID string) (workspace.Workspace, error)
	Update(ctx context.Context, userID string, fn func(workspace.Workspace) (workspace.Workspace, error)) (workspace.Workspace, error)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper remembers the result of create requests by idempotency key.
type Deduper interface {
	// Claim records key and returns true if it was newly claimed.
	Claim(ctx context.Context, userID, key string) (bool, error)
	// Lookup returns the id stored by Complete, or "" while the first request
	// is still running.
	Lookup(ctx context.Context, userID, key string) (string, error)
	Complete(ctx context.Context, userID, key, id string) error
	// Remove releases a claim whose request failed.
	Remove(ctx context.Context, userID, key string) error
}

// Auditor receives one event per applied mutation.
type Auditor interface {
	Publish(ctx context.Context, ev domain.AuditEvent) error
}
