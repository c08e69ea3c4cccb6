package workspace

import (
	"fmt"

	"github.com/GeneralTask/task-manager-sub001/domain"
	"github.com/GeneralTask/task-manager-sub001/reorder"
)

const generalTaskLogo = "generaltask"

var catalogue = []struct {
	typ  domain.ViewType
	name string
	logo string
}{
	{domain.ViewTaskSection, "Task Folder", generalTaskLogo},
	{domain.ViewLinear, "Linear", "linear"},
	{domain.ViewSlack, "Slack", "slack"},
	{domain.ViewGithub, "GitHub", "github"},
	{domain.ViewMeetingPreparation, "Meeting Preparation", "gcal"},
	{domain.ViewDueToday, "Due Today", generalTaskLogo},
}

// NewView builds the view record for typ. Task section views need the id of
// an existing folder.
func NewView(id string, typ domain.ViewType, folderID string, folders []domain.Folder) (domain.View, error) {
	v := domain.View{ID: id, Type: typ, Sources: []domain.ViewSource{}, ViewItems: []domain.ViewItem{}}
	switch typ {
	case domain.ViewTaskSection:
		fi := domain.FindFolder(folders, folderID)
		if fi < 0 {
			return domain.View{}, fmt.Errorf("folder %s: %w", folderID, domain.ErrNotFound)
		}
		v.Name = folders[fi].Name
		v.TaskSectionID = folders[fi].ID
		v.Logo = generalTaskLogo
		v.IsLinked = true
		v.IsReorderable = !folders[fi].Protected()
		return v, nil
	case domain.ViewDueToday:
		v.Name = "Due Today"
		v.Logo = generalTaskLogo
		v.IsLinked = true
		return v, nil
	}
	for _, c := range catalogue {
		if c.typ == typ {
			v.Name = c.name
			v.Logo = c.logo
			v.Sources = []domain.ViewSource{{Name: c.name}}
			return v, nil
		}
	}
	return domain.View{}, fmt.Errorf("view type %q: %w", typ, ErrInvalid)
}

// AddView appends v to the overview.
func AddView(views []domain.View, v domain.View) ([]domain.View, error) {
	for _, cur := range views {
		if cur.Type == v.Type && cur.TaskSectionID == v.TaskSectionID {
			return nil, fmt.Errorf("view %s: %w", v.Type, ErrDuplicate)
		}
	}
	return reorder.RenumberViews(reorder.Insert(views, len(views), v)), nil
}

// RemoveView drops the view with id.
func RemoveView(views []domain.View, id string) ([]domain.View, error) {
	i := domain.FindView(views, id)
	if i < 0 {
		return nil, fmt.Errorf("view %s: %w", id, domain.ErrNotFound)
	}
	return reorder.RenumberViews(reorder.Remove(views, i)), nil
}

// MoveView places the view at the 0-based index, clamped.
func MoveView(views []domain.View, id string, index int) ([]domain.View, error) {
	i := domain.FindView(views, id)
	if i < 0 {
		return nil, fmt.Errorf("view %s: %w", id, domain.ErrNotFound)
	}
	return reorder.RenumberViews(reorder.MoveWithin(views, i, index)), nil
}

// ReorderViews applies a complete ordering. ordered must be a permutation of
// the current view ids.
func ReorderViews(views []domain.View, ordered []string) ([]domain.View, error) {
	if len(ordered) != len(views) {
		return nil, fmt.Errorf("expected %d view ids, got %d: %w", len(views), len(ordered), ErrInvalid)
	}
	out := make([]domain.View, 0, len(views))
	used := make(map[int]struct{}, len(views))
	for _, id := range ordered {
		i := domain.FindView(views, id)
		if i < 0 {
			return nil, fmt.Errorf("view %s: %w", id, domain.ErrNotFound)
		}
		if _, dup := used[i]; dup {
			return nil, fmt.Errorf("view %s listed twice: %w", id, ErrInvalid)
		}
		used[i] = struct{}{}
		out = append(out, views[i])
	}
	return reorder.RenumberViews(out), nil
}

// SyncViews fills the items of folder backed views from folders. Views whose
// items did not change are returned as they were. today is the local date as
// YYYY-MM-DD.
func SyncViews(views []domain.View, folders []domain.Folder, today string) []domain.View {
	var out []domain.View
	set := func(i int, v domain.View) {
		if out == nil {
			out = make([]domain.View, len(views))
			copy(out, views)
		}
		out[i] = v
	}
	for i, v := range views {
		switch v.Type {
		case domain.ViewTaskSection:
			fi := domain.FindFolder(folders, v.TaskSectionID)
			if fi < 0 {
				continue
			}
			f := folders[fi]
			if sameItems(v.ViewItems, f.Tasks) && v.Name == f.Name && v.IsReorderable == !f.Protected() {
				continue
			}
			v.Name = f.Name
			v.IsReorderable = !f.Protected()
			v.ViewItems = f.Tasks
			set(i, v)
		case domain.ViewDueToday:
			due := dueBy(folders, today)
			if itemsEqual(v.ViewItems, due) {
				continue
			}
			v.ViewItems = due
			set(i, v)
		}
	}
	if out == nil {
		return views
	}
	return out
}

func dueBy(folders []domain.Folder, today string) []domain.ViewItem {
	items := []domain.ViewItem{}
	for _, f := range folders {
		if f.Protected() {
			continue
		}
		for _, it := range f.Tasks {
			if len(it.DueDate) >= 10 && it.DueDate[:10] <= today {
				items = append(items, it)
			}
		}
	}
	return reorder.RenumberItems(items)
}

func sameItems(a, b []domain.ViewItem) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || &a[0] == &b[0]
}

func itemsEqual(a, b []domain.ViewItem) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].IDOrdering != b[i].IDOrdering || a[i].Title != b[i].Title || a[i].DueDate != b[i].DueDate {
			return false
		}
	}
	return true
}

// SupportedViews lists the view types a user can add and marks the added ones.
func SupportedViews(views []domain.View, folders []domain.Folder) []domain.SupportedView {
	out := make([]domain.SupportedView, 0, len(catalogue))
	for _, c := range catalogue {
		sv := domain.SupportedView{Type: c.typ, Name: c.name, Logo: c.logo, IsLinked: true, Views: []domain.SupportedViewItem{}}
		if c.typ == domain.ViewTaskSection {
			sv.IsNested = true
			for _, f := range folders {
				if f.Protected() {
					continue
				}
				item := domain.SupportedViewItem{Name: f.Name, TaskSectionID: f.ID}
				for _, v := range views {
					if v.Type == c.typ && v.TaskSectionID == f.ID {
						item.IsAdded = true
						item.ViewID = v.ID
					}
				}
				sv.Views = append(sv.Views, item)
			}
		} else {
			item := domain.SupportedViewItem{Name: c.name}
			for _, v := range views {
				if v.Type == c.typ {
					item.IsAdded = true
					item.ViewID = v.ID
				}
			}
			sv.Views = []domain.SupportedViewItem{item}
		}
		out = append(out, sv)
	}
	return out
}
