package domain

// TaskModify carries the field deltas of PATCH /tasks/modify/{id}/. Nil fields
// are left untouched.
type TaskModify struct {
	IDOrdering    *int    `json:"id_ordering,omitempty"`
	IDTaskSection *string `json:"id_task_section,omitempty"`
	IsDone        *bool   `json:"is_done,omitempty"`
	IsDeleted     *bool   `json:"is_deleted,omitempty"`
	Title         *string `json:"title,omitempty"`
	Body          *string `json:"body,omitempty"`
	DueDate       *string `json:"due_date,omitempty"`
	TimeDuration  *int64  `json:"time_duration,omitempty"`
}

// Empty reports whether no field is set.
func (m TaskModify) Empty() bool {
	return m == TaskModify{}
}

// Moves reports whether the delta repositions the task.
func (m TaskModify) Moves() bool {
	return m.IDOrdering != nil || m.IDTaskSection != nil
}

// FolderModify carries the deltas of PATCH /sections/modify/{id}/.
type FolderModify struct {
	Name       *string `json:"name,omitempty"`
	IDOrdering *int    `json:"id_ordering,omitempty"`
}

func (m FolderModify) Empty() bool {
	return m == FolderModify{}
}

// IdempotencyKeyHeader lets create requests be retried without creating
// duplicates. Clients send the optimistic id of the new entity.
const IdempotencyKeyHeader = "Idempotency-Key"

type CreateTaskRequest struct {
	Title         string `json:"title"`
	Body          string `json:"body,omitempty"`
	IDTaskSection string `json:"id_task_section,omitempty"`
	// IdempotencyKey travels as IdempotencyKeyHeader.
	IdempotencyKey string `json:"-"`
}

type CreateTaskResponse struct {
	TaskID string `json:"task_id"`
}

type CreateFolderRequest struct {
	Name           string `json:"name"`
	IDOrdering     *int   `json:"id_ordering,omitempty"`
	IdempotencyKey string `json:"-"`
}

type AddViewRequest struct {
	Type           ViewType `json:"type"`
	TaskSectionID  string   `json:"task_section_id,omitempty"`
	IdempotencyKey string   `json:"-"`
}

// CreatedResponse is returned by create endpoints other than task creation.
type CreatedResponse struct {
	ID string `json:"id"`
}

type ReorderViewRequest struct {
	IDOrdering int `json:"id_ordering"`
}

type ReorderViewsRequest struct {
	OrderedViewIDs []string `json:"ordered_view_ids"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Detail string `json:"detail"`
}
