package feedtree

// CanBeChildOf reports whether the container rules allow the item to live
// under target: feeds and categories may live under categories or account
// roots, nothing else is movable and nothing may live under a feed or a bin.
func (it *Item) CanBeChildOf(target *Item) bool {
	if target == nil {
		return false
	}
	switch it.kind {
	case KindFeed, KindCategory:
		return target.kind == KindCategory || target.kind == KindServiceRoot
	default:
		return false
	}
}

// PerformDragDropChange moves the item under target. The move is rejected
// without any mutation when the container rules forbid it, when it would
// create a cycle (target inside the item's own subtree) or when it is a
// no-op (target already is the item's parent).
func (it *Item) PerformDragDropChange(target *Item) bool {
	if !it.CanBeChildOf(target) {
		return false
	}
	if target.IsDescendantOf(it) {
		return false
	}
	if it.parent == target {
		return false
	}
	if it.parent != nil && !it.parent.RemoveChild(it) {
		return false
	}
	target.AppendChild(it)
	return true
}
