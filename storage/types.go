// Package storage persists the workspace document of each user.
package storage

import (
	"context"

	"github.com/GeneralTask/task-manager-sub001/workspace"
)

// Backend loads and saves one workspace document per user.
//
// Load returns domain.ErrNotFound for unknown users. Save with an empty etag
// creates the document; otherwise the stored document must still carry etag.
// Both cases return domain.ErrConcurrencyConflict when another writer got
// there first.
type Backend interface {
	Load(ctx context.Context, userID string) (workspace.Workspace, string, error)
	Save(ctx context.Context, ws workspace.Workspace, etag string) (string, error)
}
