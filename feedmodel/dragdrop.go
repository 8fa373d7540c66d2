package feedmodel

import (
	"encoding/binary"

	"lesa/feedtree"

	log "github.com/sirupsen/logrus"
)

// DragMediaType names the payload format produced by DragData. Handles are
// process-local: the payload is valid only within one running instance and
// is never persisted or transferred across processes.
const DragMediaType = "application/x-lesa-item-handle"

// DropAction is the drop operation requested by the view.
type DropAction int

const (
	ActionIgnore DropAction = iota
	ActionMove
	ActionCopy
)

// SupportedDropActions lists what DropData accepts; only moves.
func (m *Model) SupportedDropActions() []DropAction {
	return []DropAction{ActionMove}
}

// Handle registry. Each attached item carries one opaque pointer-sized
// handle for the whole time it lives in the tree plus its retirement grace
// period. Handles are never reused.

func (m *Model) register(item *feedtree.Item) {
	if _, ok := m.handleOf[item]; ok {
		return
	}
	m.nextHandle++
	m.handles[m.nextHandle] = item
	m.handleOf[item] = m.nextHandle
}

func (m *Model) unregister(item *feedtree.Item) {
	if handle, ok := m.handleOf[item]; ok {
		delete(m.handles, handle)
		delete(m.handleOf, item)
	}
}

// HandleForItem returns the drag handle of an attached item, or false when
// the item is unknown to this model.
func (m *Model) HandleForItem(item *feedtree.Item) (uint64, bool) {
	handle, ok := m.handleOf[item]
	return handle, ok
}

// ItemForHandle resolves a drag handle against the live registry.
func (m *Model) ItemForHandle(handle uint64) (*feedtree.Item, bool) {
	item, ok := m.handles[handle]
	return item, ok
}

// DragData serializes the identity of the selected items, one handle per
// title-column row. The root itself is never draggable.
func (m *Model) DragData(coords []Coordinate) []byte {
	var payload []byte
	for _, coord := range coords {
		if coord.Column() != ColumnTitle {
			continue
		}
		item := m.ItemForCoordinate(coord)
		if item.Kind() == feedtree.KindRoot {
			continue
		}
		handle, ok := m.HandleForItem(item)
		if !ok {
			continue
		}
		payload = binary.LittleEndian.AppendUint64(payload, handle)
	}
	return payload
}

// DropData decodes the dragged handles and moves each item under the drop
// target. The whole operation is all-or-nothing: every dragged item is
// validated against the current tree before anything mutates, and any
// rejection aborts the drop with no partial effects. Cross-account moves
// are unsupported and surface a warning through the log sink.
func (m *Model) DropData(payload []byte, action DropAction, target Coordinate) bool {
	if action == ActionIgnore {
		return true
	}
	if action != ActionMove {
		return false
	}
	if len(payload) == 0 || len(payload)%8 != 0 {
		return false
	}

	targetItem := m.ItemForCoordinate(target)
	targetRoot := targetItem.ParentServiceRoot()

	var dragged []*feedtree.Item
	for off := 0; off < len(payload); off += 8 {
		handle := binary.LittleEndian.Uint64(payload[off : off+8])

		// The tree may have mutated between drag start and drop; stale
		// handles fail the whole operation.
		item, ok := m.ItemForHandle(handle)
		if !ok {
			log.WithField("handle", handle).Debug("Dropped handle no longer resolves, cancelling drag-drop action")
			return false
		}

		if item == targetItem || item.Parent() == targetItem {
			log.Debug("Dragged item is equal to target item or already lives under it, cancelling drag-drop action")
			return false
		}

		if item.ParentServiceRoot() != targetRoot {
			log.WithFields(log.Fields{
				"item":   item.Title(),
				"target": targetItem.Title(),
			}).Warning("You cannot transfer dragged item into different account, this is not supported")
			return false
		}

		if !item.CanBeChildOf(targetItem) || targetItem.IsDescendantOf(item) {
			log.Debug("Dragged item cannot live under the target item, cancelling drag-drop action")
			return false
		}

		dragged = append(dragged, item)
	}

	for _, item := range dragged {
		if item.PerformDragDropChange(targetItem) {
			coord := m.CoordinateForItem(item)
			m.each(func(o Observer) { o.ItemValidationRequested(coord) })
		}
	}

	m.root.UpdateCounts()
	m.NotifyWithCounts()
	return true
}
