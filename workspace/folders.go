// Package workspace holds the ordering rules of folders, tasks and views.
//
// Every function is copy-on-write: inputs are never modified and the result
// shares every folder and task slice it did not need to change. The backend
// applies them to its stored workspace and the client applies the very same
// functions to its cached snapshot as optimistic patches.
package workspace

import (
	"errors"
	"fmt"

	"github.com/GeneralTask/task-manager-sub001/domain"
	"github.com/GeneralTask/task-manager-sub001/reorder"
)

var (
	// ErrInvalid is returned for malformed requests.
	ErrInvalid = errors.New("invalid request")
	// ErrDuplicate is returned when adding something that already exists.
	ErrDuplicate = errors.New("already exists")
)

func withFolder(folders []domain.Folder, idx int, f domain.Folder) []domain.Folder {
	out := make([]domain.Folder, len(folders))
	copy(out, folders)
	out[idx] = f
	return out
}

func withTasks(f domain.Folder, tasks []domain.ViewItem) domain.Folder {
	f.Tasks = tasks
	return f
}

// DefaultFolder returns the index of the folder new and restored tasks go to:
// the default folder, or the first unprotected one.
func DefaultFolder(folders []domain.Folder) int {
	if i := domain.FindFolder(folders, domain.DefaultFolderID); i >= 0 {
		return i
	}
	for i := range folders {
		if !folders[i].Protected() {
			return i
		}
	}
	return -1
}

// InsertTask prepends item to folderID. An empty folderID selects the default
// folder.
func InsertTask(folders []domain.Folder, folderID string, item domain.ViewItem) ([]domain.Folder, error) {
	fi := DefaultFolder(folders)
	if folderID != "" {
		fi = domain.FindFolder(folders, folderID)
	}
	if fi < 0 {
		return nil, fmt.Errorf("folder %s: %w", folderID, domain.ErrNotFound)
	}
	if folders[fi].Protected() {
		return nil, domain.ErrProtectedList
	}
	item.FolderID = folders[fi].ID
	tasks := reorder.RenumberItems(reorder.Insert(folders[fi].Tasks, 0, item))
	return withFolder(folders, fi, withTasks(folders[fi], tasks)), nil
}

// MoveTask places taskID at the 0-based index of folder dest, clamped to its
// bounds. Protected destinations are refused.
func MoveTask(folders []domain.Folder, taskID, dest string, index int) ([]domain.Folder, error) {
	si, ti := domain.FindTask(folders, taskID)
	if si < 0 {
		return nil, fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}
	if dest == "" {
		dest = folders[si].ID
	}
	di := domain.FindFolder(folders, dest)
	if di < 0 {
		return nil, fmt.Errorf("folder %s: %w", dest, domain.ErrNotFound)
	}
	if folders[di].Protected() {
		return nil, domain.ErrProtectedList
	}
	return moveTask(folders, si, ti, di, index, nil), nil
}

func moveTask(folders []domain.Folder, si, ti, di, index int, edit func(*domain.ViewItem)) []domain.Folder {
	if si == di {
		tasks := reorder.MoveWithin(folders[si].Tasks, ti, index)
		if edit != nil {
			edit(&tasks[clampIndex(index, len(tasks)-1)])
		}
		return withFolder(folders, si, withTasks(folders[si], reorder.RenumberItems(tasks)))
	}
	item := folders[si].Tasks[ti]
	item.FolderID = folders[di].ID
	if edit != nil {
		edit(&item)
	}
	src := reorder.Remove(folders[si].Tasks, ti)
	dst := reorder.Insert(folders[di].Tasks, index, item)
	out := withFolder(folders, si, withTasks(folders[si], reorder.RenumberItems(src)))
	out[di] = withTasks(folders[di], reorder.RenumberItems(dst))
	return out
}

func clampIndex(i, upper int) int {
	if i > upper {
		i = upper
	}
	if i < 0 {
		i = 0
	}
	return i
}

// UpdateTask applies edit to a copy of the task in place.
func UpdateTask(folders []domain.Folder, taskID string, edit func(*domain.ViewItem)) ([]domain.Folder, error) {
	fi, ti := domain.FindTask(folders, taskID)
	if fi < 0 {
		return nil, fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}
	tasks := make([]domain.ViewItem, len(folders[fi].Tasks))
	copy(tasks, folders[fi].Tasks)
	edit(&tasks[ti])
	return withFolder(folders, fi, withTasks(folders[fi], tasks)), nil
}

// MarkDone moves a completed task to the head of the done folder. Reopening a
// task of the done folder moves it to the head of the default folder.
func MarkDone(folders []domain.Folder, taskID string, done bool) ([]domain.Folder, error) {
	return relocate(folders, taskID, domain.DoneFolder(folders), done, func(it *domain.ViewItem) { it.IsDone = done })
}

// MarkDeleted moves a task to the head of the trash folder. Restoring a task
// of the trash folder moves it to the head of the default folder.
func MarkDeleted(folders []domain.Folder, taskID string, deleted bool) ([]domain.Folder, error) {
	return relocate(folders, taskID, domain.TrashFolder(folders), deleted, func(it *domain.ViewItem) { it.IsDeleted = deleted })
}

// relocate moves a task into (entering) or out of the protected folder at
// index home, applying edit on the way.
func relocate(folders []domain.Folder, taskID string, home int, entering bool, edit func(*domain.ViewItem)) ([]domain.Folder, error) {
	fi, ti := domain.FindTask(folders, taskID)
	if fi < 0 {
		return nil, fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}
	if fi == home && entering || fi != home && !entering {
		return UpdateTask(folders, taskID, edit)
	}
	target := home
	if !entering {
		target = DefaultFolder(folders)
	}
	if target < 0 {
		return nil, fmt.Errorf("target folder: %w", domain.ErrNotFound)
	}
	return moveTask(folders, fi, ti, target, 0, edit), nil
}

// AddFolder inserts f at index, or before the first protected folder when
// index is nil.
func AddFolder(folders []domain.Folder, f domain.Folder, index *int) ([]domain.Folder, error) {
	if f.Name == "" {
		return nil, fmt.Errorf("folder name: %w", ErrInvalid)
	}
	if domain.FindFolder(folders, f.ID) >= 0 {
		return nil, fmt.Errorf("folder %s: %w", f.ID, ErrDuplicate)
	}
	at := len(folders)
	for i := range folders {
		if folders[i].Protected() {
			at = i
			break
		}
	}
	if index != nil {
		at = *index
	}
	if f.Tasks == nil {
		f.Tasks = []domain.ViewItem{}
	}
	return reorder.RenumberFolders(reorder.Insert(folders, at, f)), nil
}

// ModifyFolder renames and/or moves a folder. Protected folders are fixed.
func ModifyFolder(folders []domain.Folder, folderID string, m domain.FolderModify) ([]domain.Folder, error) {
	fi := domain.FindFolder(folders, folderID)
	if fi < 0 {
		return nil, fmt.Errorf("folder %s: %w", folderID, domain.ErrNotFound)
	}
	if folders[fi].Protected() {
		return nil, domain.ErrProtectedList
	}
	if m.Empty() {
		return nil, fmt.Errorf("folder delta: %w", ErrInvalid)
	}
	out := folders
	if m.Name != nil {
		if *m.Name == "" {
			return nil, fmt.Errorf("folder name: %w", ErrInvalid)
		}
		f := folders[fi]
		f.Name = *m.Name
		out = withFolder(folders, fi, f)
	}
	if m.IDOrdering != nil {
		out = reorder.RenumberFolders(reorder.MoveWithin(out, fi, *m.IDOrdering))
	}
	return out, nil
}

// RemoveFolder deletes an unprotected folder other than the default one. Its
// tasks move to the head of the trash folder.
func RemoveFolder(folders []domain.Folder, folderID string) ([]domain.Folder, error) {
	fi := domain.FindFolder(folders, folderID)
	if fi < 0 {
		return nil, fmt.Errorf("folder %s: %w", folderID, domain.ErrNotFound)
	}
	if folders[fi].Protected() || folders[fi].ID == domain.DefaultFolderID {
		return nil, domain.ErrProtectedList
	}
	out := folders
	if n := len(folders[fi].Tasks); n > 0 {
		if ti := domain.TrashFolder(folders); ti >= 0 {
			moved := make([]domain.ViewItem, 0, n+len(folders[ti].Tasks))
			for _, it := range folders[fi].Tasks {
				it.IsDeleted = true
				it.FolderID = folders[ti].ID
				moved = append(moved, it)
			}
			moved = append(moved, folders[ti].Tasks...)
			out = withFolder(out, ti, withTasks(folders[ti], reorder.RenumberItems(moved)))
		}
	}
	return reorder.RenumberFolders(reorder.Remove(out, fi)), nil
}

// ApplyTaskModify applies a PATCH /tasks/modify/ delta. Completion and
// deletion take precedence over explicit positioning.
func ApplyTaskModify(folders []domain.Folder, taskID string, m domain.TaskModify) ([]domain.Folder, error) {
	if m.Empty() {
		return nil, fmt.Errorf("task delta: %w", ErrInvalid)
	}
	if m.Title != nil && *m.Title == "" {
		return nil, fmt.Errorf("title cannot be empty: %w", ErrInvalid)
	}
	if m.TimeDuration != nil && *m.TimeDuration < 0 {
		return nil, fmt.Errorf("time duration cannot be negative: %w", ErrInvalid)
	}
	if fi, _ := domain.FindTask(folders, taskID); fi < 0 {
		return nil, fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}

	out := folders
	var err error
	if m.Title != nil || m.Body != nil || m.DueDate != nil || m.TimeDuration != nil {
		out, err = UpdateTask(out, taskID, func(it *domain.ViewItem) {
			if m.Title != nil {
				it.Title = *m.Title
			}
			if m.Body != nil {
				it.Body = *m.Body
			}
			if m.DueDate != nil {
				it.DueDate = *m.DueDate
			}
			if m.TimeDuration != nil {
				it.TimeAllocated = *m.TimeDuration
			}
		})
		if err != nil {
			return nil, err
		}
	}

	switch {
	case m.IsDeleted != nil:
		return MarkDeleted(out, taskID, *m.IsDeleted)
	case m.IsDone != nil:
		return MarkDone(out, taskID, *m.IsDone)
	case m.Moves():
		index := 0
		if m.IDOrdering != nil {
			index = *m.IDOrdering
		}
		dest := ""
		if m.IDTaskSection != nil {
			dest = *m.IDTaskSection
		}
		return MoveTask(out, taskID, dest, index)
	}
	return out, nil
}
