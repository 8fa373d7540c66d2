package feedmodel

// Observer receives the view-facing events of a Model. Structural mutations
// are bracketed: the Begin notification arrives before the tree mutates, the
// End notification after, and no observer may query row counts of the
// affected subrange in between. Everything runs on the single thread driving
// the model.
type Observer interface {
	BeginInsertRows(parent Coordinate, first int, last int)
	EndInsertRows()
	BeginRemoveRows(parent Coordinate, first int, last int)
	EndRemoveRows()

	// DataChanged covers the full rows between the two coordinates.
	DataChanged(topLeft Coordinate, bottomRight Coordinate)

	// LayoutAboutToBeChanged/LayoutChanged is the coarse "everything may
	// have moved" pair used for bulk structural changes.
	LayoutAboutToBeChanged()
	LayoutChanged()

	// CountsChanged reports the total unread count of the whole tree and
	// whether any feed currently sits in the new-messages state.
	CountsChanged(totalUnread int, anyNewMessages bool)

	// ItemValidationRequested asks the view to re-run selection and
	// validation for the item now living at the given coordinate.
	ItemValidationRequested(c Coordinate)

	MessageListReloadRequested(markCurrentRead bool)
	ExpandRequested(coords []Coordinate, expanded bool)
}

// BaseObserver is a no-op Observer to embed when only a few events matter.
type BaseObserver struct{}

func (BaseObserver) BeginInsertRows(Coordinate, int, int) {}
func (BaseObserver) EndInsertRows()                       {}
func (BaseObserver) BeginRemoveRows(Coordinate, int, int) {}
func (BaseObserver) EndRemoveRows()                       {}
func (BaseObserver) DataChanged(Coordinate, Coordinate)   {}
func (BaseObserver) LayoutAboutToBeChanged()              {}
func (BaseObserver) LayoutChanged()                       {}
func (BaseObserver) CountsChanged(int, bool)              {}
func (BaseObserver) ItemValidationRequested(Coordinate)   {}
func (BaseObserver) MessageListReloadRequested(bool)      {}
func (BaseObserver) ExpandRequested([]Coordinate, bool)   {}
