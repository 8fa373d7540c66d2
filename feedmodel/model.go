package feedmodel

import (
	"context"

	"lesa/feedtree"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// reloadThreshold caps per-item change signalling. Changesets larger than
// this trigger one full layout reload instead of individual row signals.
const reloadThreshold = 100

// EntryPoint is a pluggable account-type provider able to materialize its
// persisted accounts into tree nodes.
type EntryPoint interface {
	Code() string
	Name() string
	InitializeSubtree(ctx context.Context) ([]*feedtree.Item, error)
}

// Model is the stateless adapter between one Item tree and a view. It owns
// no domain data; it maps tree positions to (row, column, parent)
// coordinates on demand and fans mutation notifications out to observers.
// The tree and the model are mutated and queried only on one thread.
type Model struct {
	root      *feedtree.Item
	observers []Observer

	handles    map[uint64]*feedtree.Item
	handleOf   map[*feedtree.Item]uint64
	nextHandle uint64

	retired []*feedtree.Item
}

// New creates a model over a fresh tree with a single root item.
func New() *Model {
	return &Model{
		root:     feedtree.NewRoot(),
		handles:  make(map[uint64]*feedtree.Item),
		handleOf: make(map[*feedtree.Item]uint64),
	}
}

// Root returns the root item of the underlying tree.
func (m *Model) Root() *feedtree.Item { return m.root }

// AddObserver registers a view-side observer.
func (m *Model) AddObserver(o Observer) {
	m.observers = append(m.observers, o)
}

func (m *Model) each(fn func(Observer)) {
	for _, o := range m.observers {
		fn(o)
	}
}

// Coordinate resolution

// RowCount returns the number of children of the addressed item. Only the
// title column carries children.
func (m *Model) RowCount(parent Coordinate) int {
	if parent.Column() > 0 {
		return 0
	}
	return m.ItemForCoordinate(parent).ChildCount()
}

// ColumnCount returns the fixed number of view columns.
func (m *Model) ColumnCount() int { return ColumnCount }

// Index returns the coordinate of the row-th child of the addressed parent,
// or the null coordinate when out of range.
func (m *Model) Index(row int, column int, parent Coordinate) Coordinate {
	if row < 0 || column < 0 || column >= ColumnCount {
		return Coordinate{}
	}
	child := m.ItemForCoordinate(parent).Child(row)
	if child == nil {
		return Coordinate{}
	}
	return Coordinate{row: row, column: column, item: child, model: m}
}

// Parent returns the coordinate of the addressed item's parent, or the null
// coordinate when the parent is the root.
func (m *Model) Parent(child Coordinate) Coordinate {
	if !child.IsValid() {
		return Coordinate{}
	}
	parent := m.ItemForCoordinate(child).Parent()
	if parent == nil || parent == m.root {
		return Coordinate{}
	}
	return Coordinate{row: parent.Row(), column: 0, item: parent, model: m}
}

// ItemForCoordinate resolves a coordinate to its item. Invalid coordinates,
// and coordinates minted by another model, degrade to the root item; read
// paths never fail hard on addressing problems.
func (m *Model) ItemForCoordinate(c Coordinate) *feedtree.Item {
	if c.IsValid() && c.model == m {
		return c.item
	}
	return m.root
}

// CoordinateForItem is the inverse resolution: the root item and nil map to
// the null coordinate, everything else is re-descended from the root along
// the item's ancestor chain. O(depth) per call; must only run between
// mutation brackets, never inside one.
func (m *Model) CoordinateForItem(item *feedtree.Item) Coordinate {
	if item == nil || item.Kind() == feedtree.KindRoot {
		return Coordinate{}
	}

	var chain []*feedtree.Item
	for cur := item; cur != nil && cur.Kind() != feedtree.KindRoot; cur = cur.Parent() {
		chain = append(chain, cur)
	}

	target := Coordinate{}
	for i := len(chain) - 1; i >= 0; i-- {
		node := chain[i]
		parent := node.Parent()
		if parent == nil {
			return Coordinate{}
		}
		target = m.Index(parent.ChildIndex(node), 0, target)
	}
	return target
}

// Header text for the two view columns.

func (m *Model) HeaderText(column int) string {
	if column == ColumnTitle {
		return "Title"
	}
	return ""
}

func (m *Model) HeaderTooltip(column int) string {
	switch column {
	case ColumnTitle:
		return "Titles of feeds/categories."
	case ColumnCounts:
		return "Counts of unread/all messages."
	default:
		return ""
	}
}

// HeaderIcon returns the decoration of the counts column header.
func (m *Model) HeaderIcon(column int) string {
	if column == ColumnCounts {
		return "mail-mark-unread"
	}
	return ""
}

// Structural mutations. Every one of them runs inside a begin/end bracket
// so observers see a consistent tree on either side.

func (m *Model) beginInsertRows(parent Coordinate, first, last int) {
	m.each(func(o Observer) { o.BeginInsertRows(parent, first, last) })
}

func (m *Model) endInsertRows() {
	m.each(func(o Observer) { o.EndInsertRows() })
}

func (m *Model) beginRemoveRows(parent Coordinate, first, last int) {
	m.each(func(o Observer) { o.BeginRemoveRows(parent, first, last) })
}

func (m *Model) endRemoveRows() {
	m.each(func(o Observer) { o.EndRemoveRows() })
}

// AddServiceAccount attaches an account subtree as the last child of the
// root, wires the account's event listener to the model, registers drag
// handles for the whole subtree and runs the account's Start hook.
func (m *Model) AddServiceAccount(root *feedtree.Item, freshlyActivated bool) bool {
	if root == nil || root.Kind() != feedtree.KindServiceRoot {
		return false
	}

	newRow := m.root.ChildCount()
	m.beginInsertRows(Coordinate{}, newRow, newRow)
	m.root.AppendChild(root)
	m.endInsertRows()

	root.Walk(func(item *feedtree.Item) { m.register(item) })
	root.SetListener(m)
	root.Start(freshlyActivated)
	return true
}

// LoadActivatedServiceAccounts populates the tree from every available
// entry point and reloads the whole layout once at the end.
func (m *Model) LoadActivatedServiceAccounts(ctx context.Context, points []EntryPoint) error {
	for _, point := range points {
		roots, err := point.InitializeSubtree(ctx)
		if err != nil {
			return err
		}
		for _, root := range roots {
			m.AddServiceAccount(root, false)
		}
	}
	m.ReloadCountsOfWholeModel()
	return nil
}

// ContainsServiceRootFromEntryPoint reports whether an account of the entry
// point's type is already present in the tree.
func (m *Model) ContainsServiceRootFromEntryPoint(point EntryPoint) bool {
	return lo.SomeBy(m.ServiceRoots(), func(root *feedtree.Item) bool {
		return root.Code() == point.Code()
	})
}

// RemoveItem detaches the item from its parent inside a remove bracket and
// parks it on the retirement queue. Destruction is deferred so coordinates
// referencing the item stay memory-valid for the rest of the turn.
func (m *Model) RemoveItem(item *feedtree.Item) {
	if item == nil || item.Parent() == nil {
		return
	}
	coord := m.CoordinateForItem(item)
	if !coord.IsValid() {
		return
	}
	parent := item.Parent()

	m.beginRemoveRows(coord.Parent(), coord.Row(), coord.Row())
	parent.RemoveChild(item)
	m.endRemoveRows()

	m.retire(item)
	m.root.UpdateCounts()
	m.NotifyWithCounts()
}

// ReassignNodeToNewParent moves a node under a new parent as its last child,
// with a remove bracket followed by an insert bracket. A node already under
// the requested parent is left alone.
func (m *Model) ReassignNodeToNewParent(node *feedtree.Item, newParent *feedtree.Item) {
	originalParent := node.Parent()
	if originalParent == newParent {
		return
	}

	if originalParent != nil {
		originalIdx := originalParent.ChildIndex(node)
		if originalIdx >= 0 {
			m.beginRemoveRows(m.CoordinateForItem(originalParent), originalIdx, originalIdx)
			originalParent.RemoveChild(node)
			m.endRemoveRows()
		}
	}

	newIdx := newParent.ChildCount()
	m.beginInsertRows(m.CoordinateForItem(newParent), newIdx, newIdx)
	newParent.AppendChild(node)
	m.endInsertRows()
}

// Retirement queue. Removed items keep their drag handles until the queue
// is drained at a safe point, after the mutation's observers have run.

func (m *Model) retire(item *feedtree.Item) {
	m.retired = append(m.retired, item)
}

// RetiredCount returns the number of subtrees awaiting destruction.
func (m *Model) RetiredCount() int { return len(m.retired) }

// DrainRetired releases all retired subtrees and their drag handles. Call
// it only at an idle point, never between a mutation's begin/end bracket.
func (m *Model) DrainRetired() {
	for _, item := range m.retired {
		item.Walk(func(node *feedtree.Item) { m.unregister(node) })
	}
	m.retired = nil
}

// Counts and change notification

// CountOfUnreadMessages returns the aggregated unread count of the tree.
func (m *Model) CountOfUnreadMessages() int { return m.root.CountOfUnreadMessages() }

// CountOfAllMessages returns the aggregated total count of the tree.
func (m *Model) CountOfAllMessages() int { return m.root.CountOfAllMessages() }

// HasAnyFeedNewMessages reports whether any feed sits in the new-messages
// state.
func (m *Model) HasAnyFeedNewMessages() bool {
	return lo.SomeBy(m.root.SubTreeFeeds(), func(feed *feedtree.Item) bool {
		return feed.Status() == feedtree.StatusNewMessages
	})
}

// NotifyWithCounts emits the (total unread, any feed new) pair.
func (m *Model) NotifyWithCounts() {
	unread := m.CountOfUnreadMessages()
	anyNew := m.HasAnyFeedNewMessages()
	m.each(func(o Observer) { o.CountsChanged(unread, anyNew) })
}

// ReloadCountsOfWholeModel recomputes all aggregates and announces a full
// layout reload followed by a counts notification.
func (m *Model) ReloadCountsOfWholeModel() {
	m.root.UpdateCounts()
	m.reloadWholeLayout()
	m.NotifyWithCounts()
}

func (m *Model) reloadWholeLayout() {
	m.each(func(o Observer) { o.LayoutAboutToBeChanged() })
	m.each(func(o Observer) { o.LayoutChanged() })
}

// reloadChangedItem signals a data change over the item's full row and over
// each ancestor row up to, but not including, the root, since ancestor
// aggregates may have changed too.
func (m *Model) reloadChangedItem(item *feedtree.Item) {
	for cur := item; cur != nil && cur.Kind() != feedtree.KindRoot; cur = cur.Parent() {
		coord := m.CoordinateForItem(cur)
		if !coord.IsValid() {
			continue
		}
		parent := coord.Parent()
		topLeft := m.Index(coord.Row(), 0, parent)
		bottomRight := m.Index(coord.Row(), ColumnCount-1, parent)
		m.each(func(o Observer) { o.DataChanged(topLeft, bottomRight) })
	}
}

// OnItemsDataChanged propagates a changeset of items. Above the reload
// threshold one coarse layout reload replaces per-item signalling; either
// way the pass concludes with a counts notification.
func (m *Model) OnItemsDataChanged(items []*feedtree.Item) {
	m.root.UpdateCounts()

	if len(items) > reloadThreshold {
		log.WithField("items", len(items)).Debug("Changeset above threshold, reloading whole layout")
		m.reloadWholeLayout()
	} else {
		for _, item := range items {
			m.reloadChangedItem(item)
		}
	}
	m.NotifyWithCounts()
}

// Listener events raised by account subtrees.

func (m *Model) OnItemRemovalRequested(item *feedtree.Item) {
	m.RemoveItem(item)
}

func (m *Model) OnItemReassignmentRequested(item *feedtree.Item, newParent *feedtree.Item) {
	m.ReassignNodeToNewParent(item, newParent)
}

func (m *Model) OnMessageListReloadRequested(markCurrentRead bool) {
	m.each(func(o Observer) { o.MessageListReloadRequested(markCurrentRead) })
}

func (m *Model) OnExpandRequested(items []*feedtree.Item, expanded bool) {
	coords := make([]Coordinate, 0, len(items))
	for _, item := range items {
		if coord := m.CoordinateForItem(item); coord.IsValid() {
			coords = append(coords, coord)
		}
	}
	m.each(func(o Observer) { o.ExpandRequested(coords, expanded) })
}

// Account queries

// ServiceRoots lists the account nodes directly under the root.
func (m *Model) ServiceRoots() []*feedtree.Item {
	return lo.Filter(m.root.Children(), func(item *feedtree.Item, _ int) bool {
		return item.Kind() == feedtree.KindServiceRoot
	})
}

// RestoreAllBins restores every account's recycle bin, reporting aggregated
// success.
func (m *Model) RestoreAllBins() bool {
	result := true
	for _, root := range m.ServiceRoots() {
		if bin := root.RecycleBin(); bin != nil {
			result = bin.Restore() && result
		}
	}
	return result
}

// EmptyAllBins empties every account's recycle bin, reporting aggregated
// success.
func (m *Model) EmptyAllBins() bool {
	result := true
	for _, root := range m.ServiceRoots() {
		if bin := root.RecycleBin(); bin != nil {
			result = bin.Empty() && result
		}
	}
	return result
}

// FeedsForCoordinate returns all feeds of the subtree addressed by c.
func (m *Model) FeedsForCoordinate(c Coordinate) []*feedtree.Item {
	return m.ItemForCoordinate(c).SubTreeFeeds()
}

// FeedsForScheduledUpdate selects the feeds due for a refresh on this
// scheduler tick. Feeds on the default mode go out only on the global tick;
// feeds with a specific interval count it down one tick at a time and reset
// it when they fire; disabled feeds never go out.
func (m *Model) FeedsForScheduledUpdate(autoUpdateNow bool) []*feedtree.Item {
	var due []*feedtree.Item

	for _, feed := range m.root.SubTreeFeeds() {
		switch feed.AutoUpdateMode() {
		case feedtree.UpdateDisabled:
			continue

		case feedtree.UpdateDefault:
			if autoUpdateNow {
				due = append(due, feed)
			}

		case feedtree.UpdateSpecific:
			remaining := feed.AutoUpdateRemainingInterval() - 1
			if remaining <= 0 {
				due = append(due, feed)
				feed.SetAutoUpdateRemainingInterval(feed.AutoUpdateInitialInterval())
			} else {
				feed.SetAutoUpdateRemainingInterval(remaining)
			}
		}
	}
	return due
}

// MarkItemRead clears the unread state of every feed in the item's subtree
// and propagates the change. Persistence is the caller's business.
func (m *Model) MarkItemRead(item *feedtree.Item) {
	feeds := item.SubTreeFeeds()
	for _, feed := range feeds {
		feed.SetCounts(0, feed.CountOfAllMessages())
		feed.SetStatus(feedtree.StatusNormal)
	}
	m.OnItemsDataChanged(feeds)
}

// Stop tears all accounts down. Called on application shutdown.
func (m *Model) Stop() {
	for _, root := range m.ServiceRoots() {
		root.Stop()
	}
}
