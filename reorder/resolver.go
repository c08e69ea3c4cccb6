// Package reorder turns drag-and-drop gestures into list positions and
// provides copy-on-write helpers to apply them.
package reorder

import (
	"fmt"

	"github.com/GeneralTask/task-manager-sub001/domain"
)

// Lists gives the resolver read access to the lists it may move items between.
type Lists interface {
	// Len returns the number of entries of the list and whether it exists.
	Len(listID string) (int, bool)
	// Protected reports whether the list refuses drops.
	Protected(listID string) bool
}

// ListInfo describes one list of a ListSet.
type ListInfo struct {
	Len       int
	Protected bool
}

// ListSet is a map backed Lists implementation.
type ListSet map[string]ListInfo

func (s ListSet) Len(listID string) (int, bool) {
	info, ok := s[listID]
	return info.Len, ok
}

func (s ListSet) Protected(listID string) bool {
	return s[listID].Protected
}

// Move is a resolved drop: the item leaves From at FromIndex and ends up at
// ToIndex of To, where ToIndex is its position after the move completes.
type Move struct {
	Item      domain.DragItem
	From      string
	FromIndex int
	To        string
	ToIndex   int
}

// SameList reports whether the move reorders within one list.
func (m Move) SameList() bool { return m.From == m.To }

// Resolve computes the target index for dropping item at drop.
//
// It returns domain.ErrProtectedList when the destination refuses drops and
// domain.ErrNoopMove when the item would stay where it is. Neither case has
// side effects; callers revert their drag preview and stop.
func Resolve(item domain.DragItem, drop domain.Drop, lists Lists) (Move, error) {
	switch it := item.(type) {
	case domain.TaskDrag:
		if it.TaskID == "" {
			return Move{}, fmt.Errorf("task drag without id: %w", domain.ErrNotFound)
		}
	case domain.ViewDrag:
		if drop.ListID != domain.OverviewListID {
			return Move{}, domain.ErrProtectedList
		}
	case domain.FolderDrag:
		if drop.ListID != domain.FoldersListID {
			return Move{}, domain.ErrProtectedList
		}
	default:
		return Move{}, domain.ErrUnknownDragKind
	}

	from := item.SourceList()
	srcLen, ok := lists.Len(from)
	if !ok {
		return Move{}, fmt.Errorf("source list %s: %w", from, domain.ErrNotFound)
	}
	fromIdx := item.SourceIndex()
	if fromIdx < 0 || fromIdx >= srcLen {
		return Move{}, fmt.Errorf("source index %d of %s: %w", fromIdx, from, domain.ErrNotFound)
	}

	destLen, ok := lists.Len(drop.ListID)
	if !ok {
		return Move{}, fmt.Errorf("destination list %s: %w", drop.ListID, domain.ErrNotFound)
	}
	if lists.Protected(drop.ListID) {
		return Move{}, domain.ErrProtectedList
	}

	same := drop.ListID == from
	var slot int
	switch drop.Position {
	case domain.DropBefore:
		slot = drop.TargetIndex
	case domain.DropAfter:
		slot = drop.TargetIndex + 1
	case domain.DropEnd:
		slot = destLen
	default:
		return Move{}, fmt.Errorf("unknown drop position %d", drop.Position)
	}

	// slot addresses the destination as it is now; removing the item from the
	// same list first shifts every later slot down by one.
	if same && fromIdx < slot {
		slot--
	}
	upper := destLen
	if same {
		upper = destLen - 1
	}
	if slot > upper {
		slot = upper
	}
	if slot < 0 {
		slot = 0
	}
	if same && slot == fromIdx {
		return Move{}, domain.ErrNoopMove
	}

	return Move{
		Item:      item,
		From:      from,
		FromIndex: fromIdx,
		To:        drop.ListID,
		ToIndex:   slot,
	}, nil
}
