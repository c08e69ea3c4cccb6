package domain

// DragKind enumerates the draggable item kinds.
type DragKind int

const (
	DragTask DragKind = iota + 1
	DragView
	DragFolder
)

func (k DragKind) String() string {
	switch k {
	case DragTask:
		return "task"
	case DragView:
		return "view"
	case DragFolder:
		return "folder"
	default:
		return "unknown"
	}
}

// DragItem is the item being dragged. The set of implementations is closed:
// TaskDrag, ViewDrag and FolderDrag.
type DragItem interface {
	Kind() DragKind
	ItemID() string
	// SourceList is the id of the list the item is dragged out of.
	SourceList() string
	SourceIndex() int
	sealed()
}

// TaskDrag is a task dragged out of a folder.
type TaskDrag struct {
	TaskID   string
	FolderID string
	Index    int
}

func (d TaskDrag) Kind() DragKind     { return DragTask }
func (d TaskDrag) ItemID() string     { return d.TaskID }
func (d TaskDrag) SourceList() string { return d.FolderID }
func (d TaskDrag) SourceIndex() int   { return d.Index }
func (TaskDrag) sealed()              {}

// ViewDrag is a view header dragged within the overview.
type ViewDrag struct {
	ViewID string
	Index  int
}

func (d ViewDrag) Kind() DragKind     { return DragView }
func (d ViewDrag) ItemID() string     { return d.ViewID }
func (d ViewDrag) SourceList() string { return OverviewListID }
func (d ViewDrag) SourceIndex() int   { return d.Index }
func (ViewDrag) sealed()              {}

// FolderDrag is a folder dragged within the folder navigation.
type FolderDrag struct {
	FolderID string
	Index    int
}

func (d FolderDrag) Kind() DragKind     { return DragFolder }
func (d FolderDrag) ItemID() string     { return d.FolderID }
func (d FolderDrag) SourceList() string { return FoldersListID }
func (d FolderDrag) SourceIndex() int   { return d.Index }
func (FolderDrag) sealed()              {}

// List ids for the top level collections.
const (
	OverviewListID = "overview"
	FoldersListID  = "folders"
)

// DropPosition places the dragged item relative to the drop target.
type DropPosition int

const (
	DropBefore DropPosition = iota
	DropAfter
	// DropEnd appends to the destination list; TargetIndex is ignored.
	DropEnd
)

// Drop describes where an item was released.
type Drop struct {
	ListID      string
	TargetIndex int
	Position    DropPosition
}
