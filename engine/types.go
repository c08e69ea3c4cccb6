package engine

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/GeneralTask/task-manager-sub001/cache"
	"github.com/GeneralTask/task-manager-sub001/domain"
	"github.com/GeneralTask/task-manager-sub001/queue"
)

// Cache keys of the server resources.
const (
	KeyOverview       cache.Key = "overview"
	KeyFolders        cache.Key = "folders"
	KeySupportedViews cache.Key = "overview-supported-views"
)

// Queue lanes. Mutations of one tag reach the server in submission order.
const (
	TagTasks    queue.Tag = "tasks"
	TagOverview queue.Tag = "overview"
	TagFolders  queue.Tag = "folders"
)

// Backend is the REST surface the engine persists to. *client.Client
// satisfies it.
type Backend interface {
	ListViews(ctx context.Context) ([]domain.View, error)
	SupportedViews(ctx context.Context) ([]domain.SupportedView, error)
	AddView(ctx context.Context, req domain.AddViewRequest) (string, error)
	ReorderView(ctx context.Context, viewID string, idOrdering int) error
	RemoveView(ctx context.Context, viewID string) error
	ListFolders(ctx context.Context) ([]domain.Folder, error)
	CreateFolder(ctx context.Context, req domain.CreateFolderRequest) (string, error)
	ModifyFolder(ctx context.Context, folderID string, delta domain.FolderModify) error
	DeleteFolder(ctx context.Context, folderID string) error
	CreateTask(ctx context.Context, req domain.CreateTaskRequest) (string, error)
	ModifyTask(ctx context.Context, taskID string, delta domain.TaskModify) error
}

// LogNotifier reports failed mutations as logrus warnings.
type LogNotifier struct {
	Logger *log.Logger
}

func (n LogNotifier) Notify(note queue.Notification) {
	logger := n.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	logger.WithError(note.Err).WithFields(log.Fields{
		"intent": note.IntentID,
		"tag":    string(note.Tag),
		"name":   note.Name,
	}).Warn("Could not " + note.Name)
}
