package feedtree

import (
	"github.com/samber/lo"
)

// Kind discriminates the node types of the feed hierarchy.
type Kind int

const (
	KindRoot Kind = iota
	KindServiceRoot
	KindCategory
	KindFeed
	KindBin
)

func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindServiceRoot:
		return "account"
	case KindCategory:
		return "category"
	case KindFeed:
		return "feed"
	case KindBin:
		return "bin"
	default:
		return "unknown"
	}
}

// FeedStatus reflects the outcome of the last refresh of a feed.
type FeedStatus int

const (
	StatusNormal FeedStatus = iota
	StatusNewMessages
	StatusError
)

// UpdateMode controls how a feed participates in scheduled refreshes.
type UpdateMode int

const (
	// UpdateDefault refreshes the feed on the global auto-update tick.
	UpdateDefault UpdateMode = iota
	// UpdateSpecific refreshes the feed on its own interval, counted in ticks.
	UpdateSpecific
	// UpdateDisabled never refreshes the feed automatically.
	UpdateDisabled
)

// Item is one node of the feed/category/account hierarchy. The kind
// discriminant decides which of the optional fields are meaningful: feeds
// carry their own counts, URL and refresh settings, service roots carry the
// account code, the listener and an optional recycle bin. Children are owned
// exclusively by their parent; the parent reference is non-owning.
type Item struct {
	kind     Kind
	id       int64
	title    string
	icon     string
	parent   *Item
	children []*Item

	// counts, directly owned for feeds, aggregated for everything else
	unread int
	total  int

	// feed fields
	url               string
	status            FeedStatus
	updateMode        UpdateMode
	updateInterval    int
	remainingInterval int

	// service-root fields
	code     string
	bin      *Item
	service  Service
	listener Listener

	// bin fields
	binOps BinOps
}

// NewRoot creates the single root node of a tree.
func NewRoot() *Item {
	return &Item{kind: KindRoot, title: "Root", icon: "folder"}
}

// NewServiceRoot creates an account node identified by an entry-point code.
func NewServiceRoot(id int64, code string, title string) *Item {
	return &Item{kind: KindServiceRoot, id: id, code: code, title: title, icon: "account"}
}

// NewCategory creates a category node.
func NewCategory(id int64, title string) *Item {
	return &Item{kind: KindCategory, id: id, title: title, icon: "folder"}
}

// NewFeed creates a feed node. Feeds are the only nodes holding
// directly-owned message counts.
func NewFeed(id int64, title string, url string) *Item {
	return &Item{kind: KindFeed, id: id, title: title, url: url, icon: "feed"}
}

// NewBin creates a recycle-bin node.
func NewBin(ops BinOps) *Item {
	return &Item{kind: KindBin, title: "Recycle bin", icon: "bin", binOps: ops}
}

func (it *Item) Kind() Kind    { return it.kind }
func (it *Item) ID() int64     { return it.id }
func (it *Item) Title() string { return it.title }
func (it *Item) Icon() string  { return it.icon }
func (it *Item) URL() string   { return it.url }
func (it *Item) Code() string  { return it.code }
func (it *Item) Parent() *Item { return it.parent }
func (it *Item) Children() []*Item {
	return it.children
}

func (it *Item) SetTitle(title string) { it.title = title }
func (it *Item) SetIcon(icon string)   { it.icon = icon }

// ChildCount returns the number of direct children.
func (it *Item) ChildCount() int { return len(it.children) }

// Child returns the i-th child or nil when i is out of range.
func (it *Item) Child(i int) *Item {
	if i < 0 || i >= len(it.children) {
		return nil
	}
	return it.children[i]
}

// ChildIndex returns the position of child in the ordered child sequence,
// or -1 when child is not a direct child.
func (it *Item) ChildIndex(child *Item) int {
	return lo.IndexOf(it.children, child)
}

// Row returns the item's position among its parent's children. The root
// item, having no parent, lies on row 0.
func (it *Item) Row() int {
	if it.parent == nil {
		return 0
	}
	return it.parent.ChildIndex(it)
}

// AppendChild appends child to the ordered child sequence and reparents it.
func (it *Item) AppendChild(child *Item) {
	if child == nil {
		return
	}
	child.parent = it
	it.children = append(it.children, child)
}

// RemoveChild detaches child from the child sequence by identity. The child
// itself is not destroyed; deferred destruction is the model's business.
func (it *Item) RemoveChild(child *Item) bool {
	idx := it.ChildIndex(child)
	if idx < 0 {
		return false
	}
	it.children = append(it.children[:idx], it.children[idx+1:]...)
	child.parent = nil
	return true
}

// CountOfUnreadMessages returns the unread count, aggregated for non-leaves.
func (it *Item) CountOfUnreadMessages() int { return it.unread }

// CountOfAllMessages returns the total count, aggregated for non-leaves.
func (it *Item) CountOfAllMessages() int { return it.total }

// SetCounts sets the directly-owned counts of a feed. Calling it on an
// aggregator kind is a no-op since aggregates are recomputed from children.
func (it *Item) SetCounts(unread int, total int) {
	if it.kind != KindFeed {
		return
	}
	it.unread = unread
	it.total = total
}

// UpdateCounts recomputes aggregate counts bottom-up. Feeds keep their
// directly-owned counts; every other kind becomes the sum of its children.
// Recomputation is explicit and must be re-driven after any leaf mutation.
func (it *Item) UpdateCounts() {
	if it.kind == KindFeed {
		return
	}
	unread, total := 0, 0
	for _, child := range it.children {
		child.UpdateCounts()
		unread += child.unread
		total += child.total
	}
	it.unread = unread
	it.total = total
}

// ParentServiceRoot walks up the parent chain to the owning account node.
// Account affinity is transitive: every descendant of a service root belongs
// to that account. Returns nil for the root item and detached items.
func (it *Item) ParentServiceRoot() *Item {
	for cur := it; cur != nil; cur = cur.parent {
		if cur.kind == KindServiceRoot {
			return cur
		}
	}
	return nil
}

// IsDescendantOf reports whether it lies in the subtree rooted at ancestor,
// including ancestor itself.
func (it *Item) IsDescendantOf(ancestor *Item) bool {
	for cur := it; cur != nil; cur = cur.parent {
		if cur == ancestor {
			return true
		}
	}
	return false
}

// Depth returns the number of edges between the item and the tree root.
func (it *Item) Depth() int {
	depth := 0
	for cur := it.parent; cur != nil; cur = cur.parent {
		depth++
	}
	return depth
}

// SubTreeFeeds collects all feed nodes of the subtree rooted at the item,
// the item included.
func (it *Item) SubTreeFeeds() []*Item {
	var feeds []*Item
	it.Walk(func(node *Item) {
		if node.kind == KindFeed {
			feeds = append(feeds, node)
		}
	})
	return feeds
}

// Walk visits the subtree in depth-first pre-order.
func (it *Item) Walk(visit func(*Item)) {
	visit(it)
	for _, child := range it.children {
		child.Walk(visit)
	}
}

// Feed refresh state accessors.

func (it *Item) Status() FeedStatus          { return it.status }
func (it *Item) SetStatus(status FeedStatus) { it.status = status }

func (it *Item) AutoUpdateMode() UpdateMode { return it.updateMode }

// SetAutoUpdate configures the refresh mode and, for UpdateSpecific, the
// interval in scheduler ticks.
func (it *Item) SetAutoUpdate(mode UpdateMode, interval int) {
	it.updateMode = mode
	it.updateInterval = interval
	it.remainingInterval = interval
}

func (it *Item) AutoUpdateInitialInterval() int   { return it.updateInterval }
func (it *Item) AutoUpdateRemainingInterval() int { return it.remainingInterval }
func (it *Item) SetAutoUpdateRemainingInterval(interval int) {
	it.remainingInterval = interval
}
