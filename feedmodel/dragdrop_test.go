package feedmodel_test

import (
	"encoding/binary"
	"testing"

	"lesa/feedmodel"
	"lesa/feedtree"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payloadFor(t *testing.T, m *feedmodel.Model, items ...*feedtree.Item) []byte {
	t.Helper()
	var payload []byte
	for _, item := range items {
		handle, ok := m.HandleForItem(item)
		require.True(t, ok, item.Title())
		payload = binary.LittleEndian.AppendUint64(payload, handle)
	}
	return payload
}

func TestDragDataSerializesHandles(t *testing.T) {
	m, _, _, _, feedA, _, feedC := buildModel(t)

	feedACoord := m.CoordinateForItem(feedA)
	feedCCoord := m.CoordinateForItem(feedC)
	payload := m.DragData([]feedmodel.Coordinate{feedACoord, feedCCoord})
	require.Len(t, payload, 16)

	first, ok := m.ItemForHandle(binary.LittleEndian.Uint64(payload[0:8]))
	require.True(t, ok)
	assert.Equal(t, feedA, first)
	second, ok := m.ItemForHandle(binary.LittleEndian.Uint64(payload[8:16]))
	require.True(t, ok)
	assert.Equal(t, feedC, second)
}

func TestDragDataSkipsCountsColumnAndRoot(t *testing.T) {
	m, account, _, _, _, _, _ := buildModel(t)

	countsCoord := m.Index(account.Row(), feedmodel.ColumnCounts, feedmodel.Coordinate{})
	require.True(t, countsCoord.IsValid())

	// Counts-column rows and the root carry no payload.
	assert.Empty(t, m.DragData([]feedmodel.Coordinate{countsCoord}))
	assert.Empty(t, m.DragData([]feedmodel.Coordinate{{}}))
}

func TestSupportedDropActions(t *testing.T) {
	m := feedmodel.New()
	assert.Equal(t, []feedmodel.DropAction{feedmodel.ActionMove}, m.SupportedDropActions())
}

func TestDropDataMovesItem(t *testing.T) {
	m, account, _, tech, _, _, feedC := buildModel(t)
	rec := &recorder{}
	m.AddObserver(rec)

	payload := payloadFor(t, m, feedC)
	target := m.CoordinateForItem(tech)

	assert.True(t, m.DropData(payload, feedmodel.ActionMove, target))

	assert.Equal(t, tech, feedC.Parent())
	assert.Equal(t, 1, account.ChildCount())
	require.Len(t, rec.validations, 1)
	assert.Equal(t, feedC, m.ItemForCoordinate(rec.validations[0]))
	require.Len(t, rec.counts, 1)
	assert.Equal(t, countsEvent{unread: 5, anyNew: false}, rec.counts[0])
}

func TestDropDataActionHandling(t *testing.T) {
	m, _, news, tech, feedA, _, _ := buildModel(t)

	payload := payloadFor(t, m, feedA)
	target := m.CoordinateForItem(tech)

	// Ignore accepts trivially, anything but a move is refused; neither
	// touches the tree.
	assert.True(t, m.DropData(payload, feedmodel.ActionIgnore, target))
	assert.False(t, m.DropData(payload, feedmodel.ActionCopy, target))
	assert.Equal(t, news, feedA.Parent())
}

func TestDropDataRejectsMalformedPayload(t *testing.T) {
	m, _, _, tech, _, _, _ := buildModel(t)
	target := m.CoordinateForItem(tech)

	assert.False(t, m.DropData(nil, feedmodel.ActionMove, target))
	assert.False(t, m.DropData([]byte{1, 2, 3}, feedmodel.ActionMove, target))
}

func TestDropDataRejectsStaleHandle(t *testing.T) {
	m, _, _, tech, _, feedB, _ := buildModel(t)

	payload := payloadFor(t, m, feedB)
	m.RemoveItem(feedB)
	m.DrainRetired()

	target := m.CoordinateForItem(tech)
	assert.False(t, m.DropData(payload, feedmodel.ActionMove, target))
}

func TestDropDataRejectsSelfAndCurrentParent(t *testing.T) {
	m, _, news, _, feedA, _, _ := buildModel(t)

	// Dropping an item onto itself.
	assert.False(t, m.DropData(payloadFor(t, m, feedA), feedmodel.ActionMove, m.CoordinateForItem(feedA)))

	// Dropping onto the current parent is a rejected no-op.
	assert.False(t, m.DropData(payloadFor(t, m, feedA), feedmodel.ActionMove, m.CoordinateForItem(news)))
	assert.Equal(t, news, feedA.Parent())
	assert.Equal(t, 2, news.ChildCount())
}

func TestDropDataRejectsCrossAccountMove(t *testing.T) {
	m, _, news, _, feedA, _, _ := buildModel(t)

	other := feedtree.NewServiceRoot(2, "std-rss", "Other account")
	otherCategory := feedtree.NewCategory(20, "Elsewhere")
	other.AppendChild(otherCategory)
	require.True(t, m.AddServiceAccount(other, false))

	payload := payloadFor(t, m, feedA)
	target := m.CoordinateForItem(otherCategory)

	assert.False(t, m.DropData(payload, feedmodel.ActionMove, target))
	assert.Equal(t, news, feedA.Parent())
	assert.Equal(t, 0, otherCategory.ChildCount())
}

func TestDropDataRejectsBadContainersAndCycles(t *testing.T) {
	m, account, news, tech, feedA, feedB, _ := buildModel(t)

	// A category cannot live under a feed.
	assert.False(t, m.DropData(payloadFor(t, m, tech), feedmodel.ActionMove, m.CoordinateForItem(feedA)))
	assert.Equal(t, news, tech.Parent())

	// Pulling news below its own descendant would create a cycle.
	assert.False(t, m.DropData(payloadFor(t, m, news), feedmodel.ActionMove, m.CoordinateForItem(tech)))
	assert.Equal(t, account, news.Parent())
	assert.Equal(t, tech, feedB.Parent())
}

func TestDropDataIsAllOrNothing(t *testing.T) {
	m, account, news, _, feedA, _, feedC := buildModel(t)
	rec := &recorder{}
	m.AddObserver(rec)

	// feedC alone could move under news, but feedA dragged alongside it
	// sits directly under news already when news is the target; one
	// rejection aborts the whole drop.
	payload := payloadFor(t, m, feedC, feedA)
	target := m.CoordinateForItem(news)

	assert.False(t, m.DropData(payload, feedmodel.ActionMove, target))

	assert.Equal(t, account, feedC.Parent())
	assert.Equal(t, news, feedA.Parent())
	assert.Empty(t, rec.validations)
	assert.Empty(t, rec.counts)
}
