package feedtree

import (
	log "github.com/sirupsen/logrus"
)

// Service is the external account collaborator tied to a service-root node.
// Start is invoked when the account subtree is attached to the model, Stop
// when it is torn down.
type Service interface {
	Start(freshlyActivated bool)
	Stop()
}

// BinOps is the storage collaborator behind a recycle bin. Both operations
// are bulk and all-or-nothing for the bin they belong to.
type BinOps interface {
	Restore() bool
	Empty() bool
}

// Listener receives the tree-side events a service root may raise. The view
// adapter implements it and wires itself in when the account is attached.
type Listener interface {
	OnItemRemovalRequested(item *Item)
	OnItemReassignmentRequested(item *Item, newParent *Item)
	OnItemsDataChanged(items []*Item)
	OnMessageListReloadRequested(markCurrentRead bool)
	OnExpandRequested(items []*Item, expanded bool)
}

// SetService attaches the lifecycle collaborator of an account node.
func (it *Item) SetService(svc Service) {
	if it.kind == KindServiceRoot {
		it.service = svc
	}
}

// SetListener wires the event sink of an account node. Only one listener is
// held at a time; attaching an account to a model replaces it.
func (it *Item) SetListener(l Listener) {
	if it.kind == KindServiceRoot {
		it.listener = l
	}
}

// Start runs the account lifecycle hook. On fresh activation the account
// asks the view to expand its row so newly added feeds are visible.
func (it *Item) Start(freshlyActivated bool) {
	if it.kind != KindServiceRoot {
		return
	}
	log.WithFields(log.Fields{
		"account": it.code,
		"fresh":   freshlyActivated,
	}).Info("Starting account")
	if it.service != nil {
		it.service.Start(freshlyActivated)
	}
	if freshlyActivated && it.listener != nil {
		it.listener.OnExpandRequested([]*Item{it}, true)
	}
}

// Stop runs the account teardown hook.
func (it *Item) Stop() {
	if it.kind != KindServiceRoot {
		return
	}
	log.WithField("account", it.code).Info("Stopping account")
	if it.service != nil {
		it.service.Stop()
	}
}

// AttachBin hangs the recycle bin under the account node as its last child.
// An account owns zero or one bin.
func (it *Item) AttachBin(bin *Item) {
	if it.kind != KindServiceRoot || bin == nil || bin.kind != KindBin {
		return
	}
	it.bin = bin
	it.AppendChild(bin)
}

// RecycleBin returns the account's bin, or nil when it has none.
func (it *Item) RecycleBin() *Item {
	if it.kind != KindServiceRoot {
		return nil
	}
	return it.bin
}

// Restore moves the bin's messages back to their feeds, all-or-nothing.
func (it *Item) Restore() bool {
	if it.kind != KindBin {
		return false
	}
	if it.binOps == nil {
		return true
	}
	return it.binOps.Restore()
}

// Empty purges the bin's messages, all-or-nothing.
func (it *Item) Empty() bool {
	if it.kind != KindBin {
		return false
	}
	if it.binOps == nil {
		return true
	}
	return it.binOps.Empty()
}

// RequestItemRemoval asks the attached model to remove item from the tree.
func (it *Item) RequestItemRemoval(item *Item) {
	if it.kind == KindServiceRoot && it.listener != nil {
		it.listener.OnItemRemovalRequested(item)
	}
}

// RequestItemReassignment asks the attached model to move item under a new
// parent with proper change notification.
func (it *Item) RequestItemReassignment(item *Item, newParent *Item) {
	if it.kind == KindServiceRoot && it.listener != nil {
		it.listener.OnItemReassignmentRequested(item, newParent)
	}
}

// NotifyDataChanged reports that the given items' displayed data changed.
func (it *Item) NotifyDataChanged(items []*Item) {
	if it.kind == KindServiceRoot && it.listener != nil {
		it.listener.OnItemsDataChanged(items)
	}
}
