package engine

import (
	"context"
	"strings"

	"github.com/GeneralTask/task-manager-sub001/cache"
	"github.com/GeneralTask/task-manager-sub001/domain"
	"github.com/GeneralTask/task-manager-sub001/queue"
	"github.com/GeneralTask/task-manager-sub001/workspace"
)

var (
	taskKeys    = []cache.Key{KeyFolders, KeyOverview}
	viewKeys    = []cache.Key{KeyOverview, KeySupportedViews}
	folderKeys  = []cache.Key{KeyFolders, KeyOverview, KeySupportedViews}
	generalTask = domain.Source{Name: "General Task", Logo: "generaltask", IsCompletable: true}
)

// MoveTask places taskID at the 0-based index of folderID.
func (e *Engine) MoveTask(taskID, folderID string, index int) (*queue.Intent, error) {
	taskID, folderID = e.ResolveID(taskID), e.ResolveID(folderID)
	return e.submit(mutation{
		tag:  TagTasks,
		name: "move task",
		patches: e.foldersPatch(func(f []domain.Folder) ([]domain.Folder, error) {
			return workspace.MoveTask(f, taskID, folderID, index)
		}),
		run: func(ctx context.Context) error {
			id, err := e.resolve(ctx, taskID)
			if err != nil {
				return err
			}
			folder, err := e.resolve(ctx, folderID)
			if err != nil {
				return err
			}
			return e.backend.ModifyTask(ctx, id, domain.TaskModify{IDOrdering: &index, IDTaskSection: &folder})
		},
		invalidate: taskKeys,
	})
}

// CreateTask prepends a task to folderID, or to the default folder when
// folderID is empty. It returns the optimistic id of the task, usable with
// every other operation right away.
func (e *Engine) CreateTask(folderID, title, body string) (string, *queue.Intent, error) {
	folderID = e.ResolveID(folderID)
	optimisticID := e.newID()
	var serverID string
	it, err := e.submit(mutation{
		tag:  TagTasks,
		name: "create task",
		patches: e.foldersPatch(func(f []domain.Folder) ([]domain.Folder, error) {
			if strings.TrimSpace(title) == "" {
				return nil, workspace.ErrInvalid
			}
			return workspace.InsertTask(f, folderID, domain.ViewItem{
				ID:           optimisticID,
				OptimisticID: optimisticID,
				Title:        title,
				Body:         body,
				Source:       generalTask,
			})
		}),
		run: func(ctx context.Context) error {
			folder := folderID
			if folder != "" {
				var err error
				if folder, err = e.resolve(ctx, folderID); err != nil {
					return err
				}
			}
			id, err := e.backend.CreateTask(ctx, domain.CreateTaskRequest{
				Title:          title,
				Body:           body,
				IDTaskSection:  folder,
				IdempotencyKey: optimisticID,
			})
			serverID = id
			return err
		},
		onSuccess: func() {
			e.confirm(optimisticID, serverID)
			e.reconcile(optimisticID, serverID)
		},
		onFailure:  func(error) { e.forget(optimisticID) },
		invalidate: taskKeys,
	})
	if err != nil {
		return "", nil, err
	}
	e.trackCreate(optimisticID, it)
	return optimisticID, it, nil
}

// ModifyTask applies a field delta to taskID.
func (e *Engine) ModifyTask(taskID string, delta domain.TaskModify) (*queue.Intent, error) {
	taskID = e.ResolveID(taskID)
	if delta.IDTaskSection != nil {
		folder := e.ResolveID(*delta.IDTaskSection)
		delta.IDTaskSection = &folder
	}
	return e.submit(mutation{
		tag:  TagTasks,
		name: "modify task",
		patches: e.foldersPatch(func(f []domain.Folder) ([]domain.Folder, error) {
			return workspace.ApplyTaskModify(f, taskID, delta)
		}),
		run: func(ctx context.Context) error {
			id, err := e.resolve(ctx, taskID)
			if err != nil {
				return err
			}
			d := delta
			if d.IDTaskSection != nil {
				folder, err := e.resolve(ctx, *d.IDTaskSection)
				if err != nil {
					return err
				}
				d.IDTaskSection = &folder
			}
			return e.backend.ModifyTask(ctx, id, d)
		},
		invalidate: taskKeys,
	})
}

// MarkTaskDone completes or reopens taskID.
func (e *Engine) MarkTaskDone(taskID string, done bool) (*queue.Intent, error) {
	return e.ModifyTask(taskID, domain.TaskModify{IsDone: &done})
}

// DeleteTask moves taskID to the trash.
func (e *Engine) DeleteTask(taskID string) (*queue.Intent, error) {
	deleted := true
	return e.ModifyTask(taskID, domain.TaskModify{IsDeleted: &deleted})
}

// ReorderView moves viewID to the 0-based index of the overview.
func (e *Engine) ReorderView(viewID string, index int) (*queue.Intent, error) {
	viewID = e.ResolveID(viewID)
	return e.submit(mutation{
		tag:  TagOverview,
		name: "reorder view",
		patches: []patchFunc{overviewPatch(e, func(v []domain.View) ([]domain.View, error) {
			return workspace.MoveView(v, viewID, index)
		})},
		run: func(ctx context.Context) error {
			id, err := e.resolve(ctx, viewID)
			if err != nil {
				return err
			}
			return e.backend.ReorderView(ctx, id, index)
		},
		invalidate: []cache.Key{KeyOverview},
	})
}

// AddView appends a view of type typ. folderID selects the folder of task
// section views. It returns the optimistic id of the view.
func (e *Engine) AddView(typ domain.ViewType, folderID string) (string, *queue.Intent, error) {
	folderID = e.ResolveID(folderID)
	optimisticID := e.newID()
	folders := e.Folders()
	var serverID string
	it, err := e.submit(mutation{
		tag:  TagOverview,
		name: "add view",
		patches: []patchFunc{overviewPatch(e, func(views []domain.View) ([]domain.View, error) {
			v, err := workspace.NewView(optimisticID, typ, folderID, folders)
			if err != nil {
				return nil, err
			}
			v.OptimisticID = optimisticID
			out, err := workspace.AddView(views, v)
			if err != nil {
				return nil, err
			}
			return workspace.SyncViews(out, folders, e.today()), nil
		})},
		run: func(ctx context.Context) error {
			folder := folderID
			if folder != "" {
				var err error
				if folder, err = e.resolve(ctx, folderID); err != nil {
					return err
				}
			}
			id, err := e.backend.AddView(ctx, domain.AddViewRequest{Type: typ, TaskSectionID: folder, IdempotencyKey: optimisticID})
			serverID = id
			return err
		},
		onSuccess: func() {
			e.confirm(optimisticID, serverID)
			e.reconcile(optimisticID, serverID)
		},
		onFailure:  func(error) { e.forget(optimisticID) },
		invalidate: viewKeys,
	})
	if err != nil {
		return "", nil, err
	}
	e.trackCreate(optimisticID, it)
	return optimisticID, it, nil
}

// RemoveView drops viewID from the overview.
func (e *Engine) RemoveView(viewID string) (*queue.Intent, error) {
	viewID = e.ResolveID(viewID)
	return e.submit(mutation{
		tag:  TagOverview,
		name: "remove view",
		patches: []patchFunc{overviewPatch(e, func(v []domain.View) ([]domain.View, error) {
			return workspace.RemoveView(v, viewID)
		})},
		run: func(ctx context.Context) error {
			id, err := e.resolve(ctx, viewID)
			if err != nil {
				return err
			}
			return e.backend.RemoveView(ctx, id)
		},
		invalidate: viewKeys,
	})
}

// CreateFolder adds a folder before the done and trash folders and returns
// its optimistic id.
func (e *Engine) CreateFolder(name string) (string, *queue.Intent, error) {
	optimisticID := e.newID()
	var serverID string
	it, err := e.submit(mutation{
		tag:  TagFolders,
		name: "create folder",
		patches: e.foldersPatch(func(f []domain.Folder) ([]domain.Folder, error) {
			return workspace.AddFolder(f, domain.Folder{ID: optimisticID, OptimisticID: optimisticID, Name: name}, nil)
		}),
		run: func(ctx context.Context) error {
			id, err := e.backend.CreateFolder(ctx, domain.CreateFolderRequest{Name: name, IdempotencyKey: optimisticID})
			serverID = id
			return err
		},
		onSuccess: func() {
			e.confirm(optimisticID, serverID)
			e.reconcile(optimisticID, serverID)
		},
		onFailure:  func(error) { e.forget(optimisticID) },
		invalidate: folderKeys,
	})
	if err != nil {
		return "", nil, err
	}
	e.trackCreate(optimisticID, it)
	return optimisticID, it, nil
}

// ModifyFolder renames and/or moves folderID.
func (e *Engine) ModifyFolder(folderID string, delta domain.FolderModify) (*queue.Intent, error) {
	folderID = e.ResolveID(folderID)
	return e.submit(mutation{
		tag:  TagFolders,
		name: "modify folder",
		patches: e.foldersPatch(func(f []domain.Folder) ([]domain.Folder, error) {
			return workspace.ModifyFolder(f, folderID, delta)
		}),
		run: func(ctx context.Context) error {
			id, err := e.resolve(ctx, folderID)
			if err != nil {
				return err
			}
			return e.backend.ModifyFolder(ctx, id, delta)
		},
		invalidate: folderKeys,
	})
}

// ReorderFolder moves folderID to the 0-based index of the folder list.
func (e *Engine) ReorderFolder(folderID string, index int) (*queue.Intent, error) {
	return e.ModifyFolder(folderID, domain.FolderModify{IDOrdering: &index})
}

// DeleteFolder removes folderID. Its tasks go to the trash and its views are
// dropped from the overview.
func (e *Engine) DeleteFolder(folderID string) (*queue.Intent, error) {
	folderID = e.ResolveID(folderID)
	var next []domain.Folder
	return e.submit(mutation{
		tag:  TagFolders,
		name: "delete folder",
		patches: []patchFunc{
			func() (cache.Checkpoint, error) {
				return cache.PatchAs(e.store, KeyFolders, func(old []domain.Folder) ([]domain.Folder, error) {
					f, err := workspace.RemoveFolder(old, folderID)
					next = f
					return f, err
				})
			},
			overviewPatch(e, func(v []domain.View) ([]domain.View, error) {
				return workspace.SyncViews(workspace.DropViewsOf(v, next), next, e.today()), nil
			}),
		},
		run: func(ctx context.Context) error {
			id, err := e.resolve(ctx, folderID)
			if err != nil {
				return err
			}
			return e.backend.DeleteFolder(ctx, id)
		},
		invalidate: folderKeys,
	})
}
