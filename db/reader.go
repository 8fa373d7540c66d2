package db

import (
	"database/sql"
	"fmt"
	"time"

	"lesa/models"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
)

type Reader struct {
	db *sql.DB
}

func NewReader(database string) (*Reader, error) {
	// Open in read-only mode with optimized settings
	db, err := sql.Open("sqlite", fmt.Sprintf("%s?mode=ro&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", database))
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	// Set connection pool settings for reader
	db.SetMaxOpenConns(4)            // Allow multiple concurrent readers
	db.SetMaxIdleConns(2)            // Keep some connections ready
	db.SetConnMaxLifetime(time.Hour) // Recreate connections after an hour
	db.SetConnMaxIdleTime(time.Hour) // Close idle connections after an hour

	// Configure additional pragmas for better read performance
	if _, err := db.Exec(`
		PRAGMA busy_timeout = 5000;
		PRAGMA synchronous = NORMAL;
		PRAGMA cache_size = -32000; -- 32MB cache
		PRAGMA temp_store = MEMORY;
		PRAGMA mmap_size = 268435456; -- 256MB memory mapped I/O
	`); err != nil {
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	return &Reader{db: db}, nil
}

func (reader *Reader) Close() error {
	return reader.db.Close()
}

// Accounts lists all configured accounts.
func (reader *Reader) Accounts() ([]models.Account, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("id", "code", "title").From("accounts").OrderBy("id")

	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)
	rows, err := reader.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var account models.Account
		if err := rows.Scan(&account.ID, &account.Code, &account.Title); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// CategoriesForAccount lists the account's categories, parents before
// children so the tree can be materialized in one pass.
func (reader *Reader) CategoriesForAccount(accountID int64) ([]models.Category, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("id", "account_id", "parent_id", "title", "ordering").
		From("categories").
		Where(sb.Equal("account_id", accountID)).
		OrderBy("parent_id IS NOT NULL", "parent_id", "ordering", "id")

	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)
	rows, err := reader.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	var categories []models.Category
	for rows.Next() {
		var category models.Category
		if err := rows.Scan(&category.ID, &category.AccountID, &category.ParentID, &category.Title, &category.Ordering); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		categories = append(categories, category)
	}
	return categories, rows.Err()
}

// FeedsForAccount lists the account's feed subscriptions.
func (reader *Reader) FeedsForAccount(accountID int64) ([]models.Feed, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("id", "account_id", "category_id", "title", "url", "icon",
		"update_mode", "update_interval", "ordering", "last_fetched", "last_error").
		From("feeds").
		Where(sb.Equal("account_id", accountID)).
		OrderBy("ordering", "id")

	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)
	rows, err := reader.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	var feeds []models.Feed
	for rows.Next() {
		var feed models.Feed
		if err := rows.Scan(&feed.ID, &feed.AccountID, &feed.CategoryID, &feed.Title, &feed.URL, &feed.Icon,
			&feed.UpdateMode, &feed.UpdateInterval, &feed.Ordering, &feed.LastFetched, &feed.LastError); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		feeds = append(feeds, feed)
	}
	return feeds, rows.Err()
}

// FeedCounts returns the unread/total pair of every feed, counting only
// undeleted messages.
func (reader *Reader) FeedCounts() (map[int64]models.FeedCounts, error) {
	rows, err := reader.db.Query(`
		SELECT feed_id,
		       SUM(CASE WHEN read = 0 AND deleted = 0 THEN 1 ELSE 0 END),
		       SUM(CASE WHEN deleted = 0 THEN 1 ELSE 0 END)
		FROM messages
		GROUP BY feed_id`)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]models.FeedCounts)
	for rows.Next() {
		var c models.FeedCounts
		if err := rows.Scan(&c.FeedID, &c.Unread, &c.Total); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		counts[c.FeedID] = c
	}
	return counts, rows.Err()
}

// MessagesForFeeds returns the undeleted messages of the given feeds,
// newest first.
func (reader *Reader) MessagesForFeeds(feedIDs []int64, limit int) ([]models.Message, error) {
	if len(feedIDs) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.NewSelectBuilder()
	ids := make([]interface{}, len(feedIDs))
	for i, id := range feedIDs {
		ids[i] = id
	}
	sb.Select("id", "feed_id", "guid", "title", "url", "author", "contents", "created", "read", "deleted").
		From("messages").
		Where(sb.In("feed_id", ids...), sb.Equal("deleted", 0)).
		OrderBy("created").Desc().
		Limit(limit)

	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)
	rows, err := reader.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.FeedID, &msg.GUID, &msg.Title, &msg.URL, &msg.Author,
			&msg.Contents, &msg.Created, &msg.Read, &msg.Deleted); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Message looks a single message up by id.
func (reader *Reader) Message(id int64) (*models.Message, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("id", "feed_id", "guid", "title", "url", "author", "contents", "created", "read", "deleted").
		From("messages").
		Where(sb.Equal("id", id))

	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)

	var msg models.Message
	err := reader.db.QueryRow(query, args...).Scan(&msg.ID, &msg.FeedID, &msg.GUID, &msg.Title, &msg.URL,
		&msg.Author, &msg.Contents, &msg.Created, &msg.Read, &msg.Deleted)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	return &msg, nil
}
