package domain

// DefaultFolderID is the id of the folder new tasks land in when none is given.
const DefaultFolderID = "000000000000000000000001"

// Folder is a user task section. Done and trash folders are protected lists.
type Folder struct {
	ID           string     `json:"id"`
	OptimisticID string     `json:"optimistic_id,omitempty"`
	Name         string     `json:"name"`
	IDOrdering   int        `json:"id_ordering"`
	IsDone       bool       `json:"is_done"`
	IsTrash      bool       `json:"is_trash"`
	Tasks        []ViewItem `json:"tasks"`
}

// Protected reports whether items may not be dropped into the folder.
func (f Folder) Protected() bool {
	return f.IsDone || f.IsTrash
}

// FindFolder returns the index of the folder with the given id.
func FindFolder(folders []Folder, id string) int {
	for i := range folders {
		if folders[i].ID == id || (folders[i].OptimisticID != "" && folders[i].OptimisticID == id) {
			return i
		}
	}
	return -1
}

// FindTask locates a task across folders and returns the folder and task indexes.
func FindTask(folders []Folder, taskID string) (folderIdx, taskIdx int) {
	for fi := range folders {
		if ti := FindItem(folders[fi].Tasks, taskID); ti >= 0 {
			return fi, ti
		}
	}
	return -1, -1
}

// DoneFolder returns the index of the done folder, or -1.
func DoneFolder(folders []Folder) int {
	for i := range folders {
		if folders[i].IsDone {
			return i
		}
	}
	return -1
}

// TrashFolder returns the index of the trash folder, or -1.
func TrashFolder(folders []Folder) int {
	for i := range folders {
		if folders[i].IsTrash {
			return i
		}
	}
	return -1
}
