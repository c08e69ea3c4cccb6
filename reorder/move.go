package reorder

import "github.com/GeneralTask/task-manager-sub001/domain"

// MoveWithin returns a copy of items with the element at from relocated to
// index to. The input slice is never modified.
func MoveWithin[T any](items []T, from, to int) []T {
	out := make([]T, len(items))
	copy(out, items)
	if from < 0 || from >= len(out) || from == to {
		return out
	}
	if to < 0 {
		to = 0
	}
	if to >= len(out) {
		to = len(out) - 1
	}
	moved := out[from]
	if from < to {
		copy(out[from:to], out[from+1:to+1])
	} else {
		copy(out[to+1:from+1], out[to:from])
	}
	out[to] = moved
	return out
}

// MoveAcross removes src[from] and inserts it into dst at index to. Both
// results are fresh slices.
func MoveAcross[T any](src, dst []T, from, to int) ([]T, []T) {
	if from < 0 || from >= len(src) {
		return clone(src), clone(dst)
	}
	moved := src[from]
	return Remove(src, from), Insert(dst, to, moved)
}

// Insert returns a copy of items with v placed at index at (clamped).
func Insert[T any](items []T, at int, v T) []T {
	if at < 0 {
		at = 0
	}
	if at > len(items) {
		at = len(items)
	}
	out := make([]T, 0, len(items)+1)
	out = append(out, items[:at]...)
	out = append(out, v)
	out = append(out, items[at:]...)
	return out
}

// Remove returns a copy of items without the element at index at.
func Remove[T any](items []T, at int) []T {
	if at < 0 || at >= len(items) {
		return clone(items)
	}
	out := make([]T, 0, len(items)-1)
	out = append(out, items[:at]...)
	out = append(out, items[at+1:]...)
	return out
}

// Renumber makes every ordering index equal its position. items is returned
// as is when it is already numbered; otherwise the result is a copy.
func Renumber[T any](items []T, get func(T) int, set func(*T, int)) []T {
	first := -1
	for i := range items {
		if get(items[i]) != i {
			first = i
			break
		}
	}
	if first < 0 {
		return items
	}
	out := clone(items)
	for i := first; i < len(out); i++ {
		set(&out[i], i)
	}
	return out
}

// RenumberItems assigns contiguous 0-based id_ordering values.
func RenumberItems(items []domain.ViewItem) []domain.ViewItem {
	return Renumber(items,
		func(it domain.ViewItem) int { return it.IDOrdering },
		func(it *domain.ViewItem, i int) { it.IDOrdering = i })
}

// RenumberViews assigns contiguous 0-based ordering_id values.
func RenumberViews(views []domain.View) []domain.View {
	return Renumber(views,
		func(v domain.View) int { return v.IDOrdering },
		func(v *domain.View, i int) { v.IDOrdering = i })
}

// RenumberFolders assigns contiguous 0-based id_ordering values.
func RenumberFolders(folders []domain.Folder) []domain.Folder {
	return Renumber(folders,
		func(f domain.Folder) int { return f.IDOrdering },
		func(f *domain.Folder, i int) { f.IDOrdering = i })
}

func clone[T any](items []T) []T {
	if items == nil {
		return nil
	}
	out := make([]T, len(items))
	copy(out, items)
	return out
}
