package workspace

import (
	"time"

	"github.com/GeneralTask/task-manager-sub001/domain"
)

// Workspace is everything the backend stores for one user.
type Workspace struct {
	UserID  string          `json:"user_id"`
	Folders []domain.Folder `json:"folders"`
	// Views are stored without items; Render fills them in.
	Views     []domain.View `json:"views"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Seed returns the workspace of a new user: the default Task Inbox, Done and
// Trash folders and a Task Inbox view.
func Seed(userID string, newID func() string) Workspace {
	folders := []domain.Folder{
		{ID: domain.DefaultFolderID, Name: "Task Inbox", IDOrdering: 0, Tasks: []domain.ViewItem{}},
		{ID: newID(), Name: "Done", IDOrdering: 1, IsDone: true, Tasks: []domain.ViewItem{}},
		{ID: newID(), Name: "Trash", IDOrdering: 2, IsTrash: true, Tasks: []domain.ViewItem{}},
	}
	inbox, _ := NewView(newID(), domain.ViewTaskSection, domain.DefaultFolderID, folders)
	return Workspace{UserID: userID, Folders: folders, Views: []domain.View{inbox}}
}

// Render returns the overview as served to clients.
func (w Workspace) Render(now time.Time) []domain.View {
	views := SyncViews(w.Views, w.Folders, now.Format("2006-01-02"))
	out := make([]domain.View, len(views))
	copy(out, views)
	return out
}

// Supported returns the add-view catalogue for the workspace.
func (w Workspace) Supported() []domain.SupportedView {
	return SupportedViews(w.Views, w.Folders)
}

// DropViewsOf removes views backed by a folder that no longer exists.
func DropViewsOf(views []domain.View, folders []domain.Folder) []domain.View {
	out := views[:0:0]
	changed := false
	for _, v := range views {
		if v.Type == domain.ViewTaskSection && domain.FindFolder(folders, v.TaskSectionID) < 0 {
			changed = true
			continue
		}
		out = append(out, v)
	}
	if !changed {
		return views
	}
	for i := range out {
		out[i].IDOrdering = i
	}
	return out
}
