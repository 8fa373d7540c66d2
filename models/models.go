package models

import "time"

// Account row for one configured service account
type Account struct {
	ID    int64  `json:"id"`
	Code  string `json:"code"`
	Title string `json:"title"`
}

// Category row, ParentID is nil for top-level categories
type Category struct {
	ID        int64  `json:"id"`
	AccountID int64  `json:"accountId"`
	ParentID  *int64 `json:"parentId,omitempty"`
	Title     string `json:"title"`
	Ordering  int    `json:"ordering"`
}

// Feed row with key fields of a subscription
type Feed struct {
	ID             int64      `json:"id"`
	AccountID      int64      `json:"accountId"`
	CategoryID     *int64     `json:"categoryId,omitempty"`
	Title          string     `json:"title"`
	URL            string     `json:"url"`
	Icon           string     `json:"icon,omitempty"`
	UpdateMode     int        `json:"updateMode"`
	UpdateInterval int        `json:"updateInterval"`
	Ordering       int        `json:"ordering"`
	LastFetched    *time.Time `json:"lastFetched,omitempty"`
	LastError      string     `json:"lastError,omitempty"`
}

// Message row, Deleted marks recycle-bin membership
type Message struct {
	ID       int64     `json:"id"`
	FeedID   int64     `json:"feedId"`
	GUID     string    `json:"-"`
	Title    string    `json:"title"`
	URL      string    `json:"url"`
	Author   string    `json:"author,omitempty"`
	Contents string    `json:"contents,omitempty"`
	Created  time.Time `json:"created"`
	Read     bool      `json:"read"`
	Deleted  bool      `json:"deleted"`
}

// FeedCounts holds the per-feed unread/total pair read from storage
type FeedCounts struct {
	FeedID int64 `json:"feedId"`
	Unread int   `json:"unread"`
	Total  int   `json:"total"`
}

// CountsChangedEvent fired whenever aggregate counts of the tree change
type CountsChangedEvent struct {
	Unread         int  `json:"unread"`
	AnyNewMessages bool `json:"anyNewMessages"`
}

// FeedFetchedEvent fired after a feed has been refreshed
type FeedFetchedEvent struct {
	FeedID      int64  `json:"feedId"`
	Title       string `json:"title"`
	NewMessages int    `json:"newMessages"`
}

// TreeNode is one row of the flattened tree snapshot served over HTTP
type TreeNode struct {
	Kind   string `json:"kind"`
	Title  string `json:"title"`
	Depth  int    `json:"depth"`
	Unread int    `json:"unread"`
	Total  int    `json:"total"`
}
