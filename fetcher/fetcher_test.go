package fetcher_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"lesa/db"
	"lesa/feedmodel"
	"lesa/feedtree"
	"lesa/fetcher"
	"lesa/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rssBody = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Test feed</title>
    <link>https://example.com</link>
    <item>
      <title>First post</title>
      <link>https://example.com/1</link>
      <guid>guid-1</guid>
      <description>Hello there</description>
      <pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate>
    </item>
    <item>
      <title>Second post</title>
      <link>https://example.com/2</link>
      <guid>guid-2</guid>
      <description>Another one</description>
    </item>
  </channel>
</rss>`

func openTestDB(t *testing.T) (*db.Writer, *db.Reader) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lesa.db")
	require.NoError(t, db.Migrate(path))

	writer, err := db.NewWriter(path)
	require.NoError(t, err)
	t.Cleanup(func() { writer.Close() })

	reader, err := db.NewReader(path)
	require.NoError(t, err)
	t.Cleanup(func() { reader.Close() })
	return writer, reader
}

// buildFetchModel stores one account with one feed pointing at url and
// mirrors it into a model tree.
func buildFetchModel(t *testing.T, writer *db.Writer, url string) (*feedmodel.Model, *feedtree.Item) {
	t.Helper()

	accountID, err := writer.InsertAccount("std-rss", "My feeds")
	require.NoError(t, err)
	feedID, err := writer.InsertFeed(models.Feed{AccountID: accountID, Title: "Test feed", URL: url})
	require.NoError(t, err)

	account := feedtree.NewServiceRoot(accountID, "std-rss", "My feeds")
	feed := feedtree.NewFeed(feedID, "Test feed", url)
	account.AppendChild(feed)

	m := feedmodel.New()
	require.True(t, m.AddServiceAccount(account, false))
	return m, feed
}

func TestRefreshAllStoresMessages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(rssBody))
	}))
	defer server.Close()

	writer, reader := openTestDB(t)
	m, feed := buildFetchModel(t, writer, server.URL)

	events := make(chan interface{}, 4)
	f := fetcher.New(fetcher.Config{
		Model:   m,
		Reader:  reader,
		Writer:  writer,
		Workers: 2,
		Timeout: 5 * time.Second,
		Events:  events,
	})

	require.NoError(t, f.RefreshAll(context.Background()))

	assert.Equal(t, feedtree.StatusNewMessages, feed.Status())
	assert.Equal(t, 2, feed.CountOfUnreadMessages())
	assert.Equal(t, 2, feed.CountOfAllMessages())
	assert.Equal(t, 2, m.CountOfUnreadMessages())

	messages, err := reader.MessagesForFeeds([]int64{feed.ID()}, 10)
	require.NoError(t, err)
	assert.Len(t, messages, 2)

	select {
	case event := <-events:
		fetched, ok := event.(models.FeedFetchedEvent)
		require.True(t, ok)
		assert.Equal(t, feed.ID(), fetched.FeedID)
		assert.Equal(t, 2, fetched.NewMessages)
	default:
		t.Fatal("expected a fetched-feed event")
	}

	// A second pass sees no new messages and settles the status.
	require.NoError(t, f.RefreshAll(context.Background()))
	assert.Equal(t, feedtree.StatusNormal, feed.Status())
	assert.Equal(t, 2, feed.CountOfAllMessages())
}

func TestRefreshAllRecordsErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	writer, reader := openTestDB(t)
	m, feed := buildFetchModel(t, writer, server.URL)

	f := fetcher.New(fetcher.Config{
		Model:   m,
		Reader:  reader,
		Writer:  writer,
		Workers: 1,
		Timeout: 500 * time.Millisecond,
	})

	require.NoError(t, f.RefreshAll(context.Background()))

	assert.Equal(t, feedtree.StatusError, feed.Status())
	assert.Equal(t, 0, feed.CountOfAllMessages())

	feeds, err := reader.FeedsForAccount(m.ServiceRoots()[0].ID())
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	assert.NotEmpty(t, feeds[0].LastError)
	assert.NotNil(t, feeds[0].LastFetched)
}

func TestRefreshAllReturnsWhenCancelledMidRefresh(t *testing.T) {
	writer, reader := openTestDB(t)

	accountID, err := writer.InsertAccount("std-rss", "My feeds")
	require.NoError(t, err)
	account := feedtree.NewServiceRoot(accountID, "std-rss", "My feeds")

	// More feeds than workers, so the producer still has sends pending
	// when the single worker notices the cancellation.
	for i := 0; i < 10; i++ {
		url := "https://example.invalid/rss/" + strconv.Itoa(i)
		feedID, err := writer.InsertFeed(models.Feed{AccountID: accountID, Title: "Feed", URL: url})
		require.NoError(t, err)
		account.AppendChild(feedtree.NewFeed(feedID, "Feed", url))
	}

	m := feedmodel.New()
	require.True(t, m.AddServiceAccount(account, false))

	f := fetcher.New(fetcher.Config{
		Model:   m,
		Reader:  reader,
		Writer:  writer,
		Workers: 1,
		Timeout: time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() {
		done <- f.RefreshAll(ctx)
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("refresh did not return after cancellation")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	writer, reader := openTestDB(t)
	m, _ := buildFetchModel(t, writer, "https://example.invalid/rss")

	f := fetcher.New(fetcher.Config{Model: m, Reader: reader, Writer: writer})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx, 15)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}
