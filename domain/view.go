package domain

import "github.com/bytedance/sonic"

// ViewType identifies the source a view aggregates.
type ViewType string

const (
	ViewTaskSection        ViewType = "task_section"
	ViewLinear             ViewType = "linear"
	ViewSlack              ViewType = "slack"
	ViewGithub             ViewType = "github"
	ViewMeetingPreparation ViewType = "meeting_preparation"
	ViewDueToday           ViewType = "due_today"
)

// Source describes where a view item originated.
type Source struct {
	Name          string `json:"name"`
	Logo          string `json:"logo"`
	IsCompletable bool   `json:"is_completable"`
	IsReplyable   bool   `json:"is_replyable"`
}

// ViewSource is a linked account feeding a view.
type ViewSource struct {
	Name             string `json:"name"`
	AuthorizationURL string `json:"authorization_url,omitempty"`
}

// ViewItem is a single task-like entry of a view or folder.
type ViewItem struct {
	ID            string                 `json:"id"`
	OptimisticID  string                 `json:"optimistic_id,omitempty"`
	IDOrdering    int                    `json:"id_ordering"`
	Title         string                 `json:"title"`
	Body          string                 `json:"body,omitempty"`
	Deeplink      string                 `json:"deeplink,omitempty"`
	Source        Source                 `json:"source"`
	IsDone        bool                   `json:"is_done"`
	IsDeleted     bool                   `json:"is_deleted,omitempty"`
	DueDate       string                 `json:"due_date,omitempty"`
	TimeAllocated int64                  `json:"time_allocated,omitempty"`
	FolderID      string                 `json:"id_folder,omitempty"`
	Payload       sonic.NoCopyRawMessage `json:"payload,omitempty"`
}

// IsOptimistic reports whether the item still carries a placeholder id.
func (i ViewItem) IsOptimistic() bool {
	return i.OptimisticID != "" && i.ID == i.OptimisticID
}

// View is a named, ordered collection of view items.
type View struct {
	ID                     string       `json:"id"`
	OptimisticID           string       `json:"optimistic_id,omitempty"`
	Name                   string       `json:"name"`
	Type                   ViewType     `json:"type"`
	Logo                   string       `json:"logo"`
	IsLinked               bool         `json:"is_linked"`
	Sources                []ViewSource `json:"sources"`
	TaskSectionID          string       `json:"task_section_id,omitempty"`
	IsReorderable          bool         `json:"is_reorderable"`
	IDOrdering             int          `json:"ordering_id"`
	ViewItems              []ViewItem   `json:"view_items"`
	HasTasksCompletedToday bool         `json:"has_tasks_completed_today"`
}

// SupportedViewItem is one addable entry of a supported view type.
type SupportedViewItem struct {
	Name          string `json:"name"`
	IsAdded       bool   `json:"is_added"`
	TaskSectionID string `json:"task_section_id,omitempty"`
	ViewID        string `json:"view_id,omitempty"`
}

// SupportedView is the catalogue entry for a view type a user may add.
type SupportedView struct {
	Type             ViewType            `json:"type"`
	Name             string              `json:"name"`
	Logo             string              `json:"logo"`
	IsNested         bool                `json:"is_nested"`
	IsLinked         bool                `json:"is_linked"`
	AuthorizationURL string              `json:"authorization_url,omitempty"`
	Views            []SupportedViewItem `json:"views"`
}

// FindView returns the index of the view with the given id, matching either
// the server id or the optimistic id.
func FindView(views []View, id string) int {
	for i := range views {
		if views[i].ID == id || (views[i].OptimisticID != "" && views[i].OptimisticID == id) {
			return i
		}
	}
	return -1
}

// FindItem returns the index of the item with the given id.
func FindItem(items []ViewItem, id string) int {
	for i := range items {
		if items[i].ID == id || (items[i].OptimisticID != "" && items[i].OptimisticID == id) {
			return i
		}
	}
	return -1
}
