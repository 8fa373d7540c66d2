package db

import (
	"database/sql"
	"fmt"
	"time"

	"lesa/models"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"
)

type Writer struct {
	db *sql.DB
}

func NewWriter(database string) (*Writer, error) {
	db, err := openWrite(database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	return &Writer{db: db}, nil
}

func (writer *Writer) Close() error {
	return writer.db.Close()
}

// InsertAccount stores a new account row and returns its id.
func (writer *Writer) InsertAccount(code string, title string) (int64, error) {
	insert := sqlbuilder.NewInsertBuilder()
	query, args := insert.InsertInto("accounts").Cols("code", "title").Values(code, title).Build()

	res, err := writer.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert error: %w", err)
	}
	return res.LastInsertId()
}

// InsertCategory stores a new category row and returns its id.
func (writer *Writer) InsertCategory(category models.Category) (int64, error) {
	insert := sqlbuilder.NewInsertBuilder()
	query, args := insert.InsertInto("categories").
		Cols("account_id", "parent_id", "title", "ordering").
		Values(category.AccountID, category.ParentID, category.Title, category.Ordering).
		Build()

	res, err := writer.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert error: %w", err)
	}
	return res.LastInsertId()
}

// InsertFeed stores a new feed subscription and returns its id.
func (writer *Writer) InsertFeed(feed models.Feed) (int64, error) {
	insert := sqlbuilder.NewInsertBuilder()
	query, args := insert.InsertInto("feeds").
		Cols("account_id", "category_id", "title", "url", "icon", "update_mode", "update_interval", "ordering").
		Values(feed.AccountID, feed.CategoryID, feed.Title, feed.URL, feed.Icon,
			feed.UpdateMode, feed.UpdateInterval, feed.Ordering).
		Build()

	res, err := writer.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert error: %w", err)
	}
	return res.LastInsertId()
}

// DeleteFeed removes a feed and, through foreign keys, its messages.
func (writer *Writer) DeleteFeed(feedID int64) error {
	del := sqlbuilder.NewDeleteBuilder()
	query, args := del.DeleteFrom("feeds").Where(del.Equal("id", feedID)).Build()

	if _, err := writer.db.Exec(query, args...); err != nil {
		return fmt.Errorf("delete error: %w", err)
	}
	return nil
}

// UpsertMessage stores a message, deduplicated by (feed, guid). Reports
// whether the row was new.
func (writer *Writer) UpsertMessage(msg models.Message) (bool, error) {
	res, err := writer.db.Exec(`
		INSERT INTO messages (feed_id, guid, title, url, author, contents, created)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (feed_id, guid) DO NOTHING`,
		msg.FeedID, msg.GUID, msg.Title, msg.URL, msg.Author, msg.Contents, msg.Created,
	)
	if err != nil {
		return false, fmt.Errorf("insert error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// MarkFeedsRead flags all undeleted messages of the given feeds as read.
func (writer *Writer) MarkFeedsRead(feedIDs []int64) error {
	if len(feedIDs) == 0 {
		return nil
	}
	update := sqlbuilder.NewUpdateBuilder()
	ids := make([]interface{}, len(feedIDs))
	for i, id := range feedIDs {
		ids[i] = id
	}
	query, args := update.Update("messages").
		Set(update.Assign("read", 1)).
		Where(update.In("feed_id", ids...), update.Equal("deleted", 0)).
		Build()

	if _, err := writer.db.Exec(query, args...); err != nil {
		return fmt.Errorf("update error: %w", err)
	}
	return nil
}

// RecycleMessage moves a message into the bin.
func (writer *Writer) RecycleMessage(messageID int64) error {
	update := sqlbuilder.NewUpdateBuilder()
	query, args := update.Update("messages").
		Set(update.Assign("deleted", 1)).
		Where(update.Equal("id", messageID)).
		Build()

	if _, err := writer.db.Exec(query, args...); err != nil {
		return fmt.Errorf("update error: %w", err)
	}
	return nil
}

// MoveFeedToCategory persists a feed reparenting; nil moves the feed to the
// account's top level.
func (writer *Writer) MoveFeedToCategory(feedID int64, categoryID *int64) error {
	update := sqlbuilder.NewUpdateBuilder()
	query, args := update.Update("feeds").
		Set(update.Assign("category_id", categoryID)).
		Where(update.Equal("id", feedID)).
		Build()

	if _, err := writer.db.Exec(query, args...); err != nil {
		return fmt.Errorf("update error: %w", err)
	}
	return nil
}

// MoveCategory persists a category reparenting; nil moves the category to
// the account's top level.
func (writer *Writer) MoveCategory(categoryID int64, parentID *int64) error {
	update := sqlbuilder.NewUpdateBuilder()
	query, args := update.Update("categories").
		Set(update.Assign("parent_id", parentID)).
		Where(update.Equal("id", categoryID)).
		Build()

	if _, err := writer.db.Exec(query, args...); err != nil {
		return fmt.Errorf("update error: %w", err)
	}
	return nil
}

// RestoreBin moves all recycled messages of the account back to their
// feeds. All-or-nothing: a failed statement leaves the bin untouched.
func (writer *Writer) RestoreBin(accountID int64) error {
	_, err := writer.db.Exec(`
		UPDATE messages SET deleted = 0
		WHERE deleted = 1
		  AND feed_id IN (SELECT id FROM feeds WHERE account_id = ?)`, accountID)
	if err != nil {
		return fmt.Errorf("update error: %w", err)
	}
	return nil
}

// EmptyBin purges all recycled messages of the account.
func (writer *Writer) EmptyBin(accountID int64) error {
	_, err := writer.db.Exec(`
		DELETE FROM messages
		WHERE deleted = 1
		  AND feed_id IN (SELECT id FROM feeds WHERE account_id = ?)`, accountID)
	if err != nil {
		return fmt.Errorf("delete error: %w", err)
	}
	return nil
}

// RecordFetch stores the outcome of a feed refresh.
func (writer *Writer) RecordFetch(feedID int64, fetchedAt time.Time, fetchErr string) error {
	update := sqlbuilder.NewUpdateBuilder()
	query, args := update.Update("feeds").
		Set(
			update.Assign("last_fetched", fetchedAt),
			update.Assign("last_error", fetchErr),
		).
		Where(update.Equal("id", feedID)).
		Build()

	if _, err := writer.db.Exec(query, args...); err != nil {
		log.WithField("feed", feedID).Error("Error recording fetch result", err)
		return fmt.Errorf("update error: %w", err)
	}
	return nil
}
