package engine

import (
	"fmt"

	"github.com/GeneralTask/task-manager-sub001/domain"
	"github.com/GeneralTask/task-manager-sub001/queue"
	"github.com/GeneralTask/task-manager-sub001/reorder"
)

// Drop handles a finished drag. Drops that violate the drop policy return
// domain.ErrProtectedList or domain.ErrNoopMove without touching the cache or
// the network; callers revert their drag preview and carry on.
func (e *Engine) Drop(item domain.DragItem, drop domain.Drop) (*queue.Intent, error) {
	folders := e.Folders()
	views := e.Views()
	if folders == nil {
		return nil, fmt.Errorf("drop: folders %w", errNotLoaded)
	}

	var (
		it  *queue.Intent
		err error
	)
	switch d := item.(type) {
	case domain.TaskDrag:
		it, err = e.dropTask(d, drop, folders, views)
	case domain.ViewDrag:
		var mv reorder.Move
		if d.Index, err = viewIndex(e.ResolveID(d.ViewID), views); err != nil {
			break
		}
		mv, err = reorder.Resolve(d, drop, listsOf(folders, views))
		if err == nil {
			it, err = e.ReorderView(d.ViewID, mv.ToIndex)
		}
	case domain.FolderDrag:
		var mv reorder.Move
		if d.Index, err = folderIndex(e.ResolveID(d.FolderID), folders); err != nil {
			break
		}
		mv, err = reorder.Resolve(d, drop, listsOf(folders, views))
		if err == nil {
			it, err = e.ReorderFolder(d.FolderID, mv.ToIndex)
		}
	default:
		err = domain.ErrUnknownDragKind
	}
	if domain.IsDropPolicyViolation(err) {
		e.logViolation(item, err)
	}
	return it, err
}

func (e *Engine) dropTask(d domain.TaskDrag, drop domain.Drop, folders []domain.Folder, views []domain.View) (*queue.Intent, error) {
	// The cached position wins over the one reported by the drag source.
	fi, ti := domain.FindTask(folders, e.ResolveID(d.TaskID))
	if fi < 0 {
		return nil, fmt.Errorf("task %s: %w", d.TaskID, domain.ErrNotFound)
	}
	dst, err := folderOf(drop.ListID, folders, views)
	if err != nil {
		return nil, err
	}
	di, err := folderIndex(dst, folders)
	if err != nil {
		return nil, err
	}
	d.FolderID = folders[fi].ID
	d.Index = ti
	drop.ListID = folders[di].ID
	mv, err := reorder.Resolve(d, drop, listsOf(folders, views))
	if err != nil {
		return nil, err
	}
	return e.MoveTask(d.TaskID, mv.To, mv.ToIndex)
}

// folderOf maps a list id to the folder holding its tasks. Task section views
// stand for their folder; views that cannot be reordered accept no drops.
func folderOf(listID string, folders []domain.Folder, views []domain.View) (string, error) {
	if domain.FindFolder(folders, listID) >= 0 {
		return listID, nil
	}
	vi := domain.FindView(views, listID)
	if vi < 0 {
		return "", fmt.Errorf("list %s: %w", listID, domain.ErrNotFound)
	}
	v := views[vi]
	if v.Type != domain.ViewTaskSection || !v.IsReorderable {
		return "", domain.ErrProtectedList
	}
	return v.TaskSectionID, nil
}

func viewIndex(id string, views []domain.View) (int, error) {
	if i := domain.FindView(views, id); i >= 0 {
		return i, nil
	}
	return 0, fmt.Errorf("view %s: %w", id, domain.ErrNotFound)
}

func folderIndex(id string, folders []domain.Folder) (int, error) {
	if i := domain.FindFolder(folders, id); i >= 0 {
		return i, nil
	}
	return 0, fmt.Errorf("folder %s: %w", id, domain.ErrNotFound)
}

// listsOf describes the cached collections to the resolver.
func listsOf(folders []domain.Folder, views []domain.View) reorder.ListSet {
	lists := make(reorder.ListSet, len(folders)+len(views)+2)
	lists[domain.OverviewListID] = reorder.ListInfo{Len: len(views)}
	lists[domain.FoldersListID] = reorder.ListInfo{Len: len(folders)}
	for _, f := range folders {
		info := reorder.ListInfo{Len: len(f.Tasks), Protected: f.Protected()}
		lists[f.ID] = info
		if f.OptimisticID != "" {
			lists[f.OptimisticID] = info
		}
	}
	return lists
}
