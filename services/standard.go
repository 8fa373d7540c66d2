// Package services provides the account entry points able to materialize
// persisted accounts into feed-tree nodes.
package services

import (
	"context"

	"lesa/db"
	"lesa/feedtree"
	"lesa/models"

	log "github.com/sirupsen/logrus"
)

// StandardCode identifies the built-in RSS/Atom account type.
const StandardCode = "std-rss"

// Standard is the entry point for local RSS/Atom accounts stored in the
// SQLite database.
type Standard struct {
	reader *db.Reader
	writer *db.Writer
}

func NewStandard(reader *db.Reader, writer *db.Writer) *Standard {
	return &Standard{reader: reader, writer: writer}
}

func (s *Standard) Code() string { return StandardCode }
func (s *Standard) Name() string { return "RSS/Atom feeds" }

// InitializeSubtree materializes every stored account of this type into a
// service-root node with its category tree, feeds and recycle bin. Feed
// counts are seeded from the message table.
func (s *Standard) InitializeSubtree(ctx context.Context) ([]*feedtree.Item, error) {
	accounts, err := s.reader.Accounts()
	if err != nil {
		return nil, err
	}

	counts, err := s.reader.FeedCounts()
	if err != nil {
		return nil, err
	}

	var roots []*feedtree.Item
	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		root, err := s.buildAccount(account, counts)
		if err != nil {
			return nil, err
		}
		roots = append(roots, root)
	}
	return roots, nil
}

func (s *Standard) buildAccount(account models.Account, counts map[int64]models.FeedCounts) (*feedtree.Item, error) {
	root := feedtree.NewServiceRoot(account.ID, account.Code, account.Title)

	categories, err := s.reader.CategoriesForAccount(account.ID)
	if err != nil {
		return nil, err
	}
	feeds, err := s.reader.FeedsForAccount(account.ID)
	if err != nil {
		return nil, err
	}

	// Categories arrive parents-first; an unknown parent falls back to the
	// account root rather than dropping the subtree.
	nodes := make(map[int64]*feedtree.Item, len(categories))
	for _, category := range categories {
		node := feedtree.NewCategory(category.ID, category.Title)
		parent := root
		if category.ParentID != nil {
			if p, ok := nodes[*category.ParentID]; ok {
				parent = p
			}
		}
		parent.AppendChild(node)
		nodes[category.ID] = node
	}

	for _, feed := range feeds {
		node := feedtree.NewFeed(feed.ID, feed.Title, feed.URL)
		node.SetAutoUpdate(updateMode(feed), feed.UpdateInterval)
		if c, ok := counts[feed.ID]; ok {
			node.SetCounts(c.Unread, c.Total)
		}
		if feed.LastError != "" {
			node.SetStatus(feedtree.StatusError)
		}

		parent := root
		if feed.CategoryID != nil {
			if p, ok := nodes[*feed.CategoryID]; ok {
				parent = p
			}
		}
		parent.AppendChild(node)
	}

	root.AttachBin(feedtree.NewBin(&binOps{writer: s.writer, accountID: account.ID}))
	root.SetService(&standardService{account: account})
	root.UpdateCounts()

	log.WithFields(log.Fields{
		"account":    account.Code,
		"categories": len(categories),
		"feeds":      len(feeds),
	}).Info("Materialized account subtree")

	return root, nil
}

func updateMode(feed models.Feed) feedtree.UpdateMode {
	switch feedtree.UpdateMode(feed.UpdateMode) {
	case feedtree.UpdateSpecific:
		return feedtree.UpdateSpecific
	case feedtree.UpdateDisabled:
		return feedtree.UpdateDisabled
	default:
		return feedtree.UpdateDefault
	}
}

// standardService is the lifecycle collaborator of a standard account. The
// standard account needs no connection setup; the hooks only log.
type standardService struct {
	account models.Account
}

func (s *standardService) Start(freshlyActivated bool) {
	log.WithFields(log.Fields{
		"account": s.account.Code,
		"fresh":   freshlyActivated,
	}).Info("Standard account activated")
}

func (s *standardService) Stop() {
	log.WithField("account", s.account.Code).Info("Standard account deactivated")
}

// binOps is the storage side of an account's recycle bin.
type binOps struct {
	writer    *db.Writer
	accountID int64
}

func (b *binOps) Restore() bool {
	if b.writer == nil {
		return true
	}
	if err := b.writer.RestoreBin(b.accountID); err != nil {
		log.WithField("account", b.accountID).Error("Error restoring recycle bin: ", err)
		return false
	}
	return true
}

func (b *binOps) Empty() bool {
	if b.writer == nil {
		return true
	}
	if err := b.writer.EmptyBin(b.accountID); err != nil {
		log.WithField("account", b.accountID).Error("Error emptying recycle bin: ", err)
		return false
	}
	return true
}
