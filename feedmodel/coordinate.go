package feedmodel

import "lesa/feedtree"

// Column layout of the adapter: the title column carries the hierarchy, the
// counts column is display-only and addresses no children.
const (
	ColumnTitle  = 0
	ColumnCounts = 1
	ColumnCount  = 2
)

// Coordinate is an addressable (row, column, item) position handed out by a
// Model. The zero value is the null coordinate, which addresses the root of
// the owning model. A coordinate stays memory-valid for the rest of the
// event-handling turn even after its item was removed, because destruction
// of removed items is deferred to the retirement queue.
type Coordinate struct {
	row    int
	column int
	item   *feedtree.Item
	model  *Model
}

// IsValid reports whether the coordinate addresses a real row of its model.
// The null coordinate is not valid.
func (c Coordinate) IsValid() bool {
	return c.model != nil && c.item != nil && c.row >= 0
}

func (c Coordinate) Row() int    { return c.row }
func (c Coordinate) Column() int { return c.column }

// Parent returns the coordinate of the addressed item's parent.
func (c Coordinate) Parent() Coordinate {
	if c.model == nil {
		return Coordinate{}
	}
	return c.model.Parent(c)
}
