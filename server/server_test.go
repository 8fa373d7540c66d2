package server_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"lesa/db"
	"lesa/feedmodel"
	"lesa/feedtree"
	"lesa/models"
	"lesa/server"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixture bundles the server under test with the storage ids it was
// seeded from.
type fixture struct {
	app        *fiber.App
	model      *feedmodel.Model
	reader     *db.Reader
	accountID  int64
	categoryID int64
	feedID     int64
}

// testApp assembles a server over one seeded account:
//
//	account
//	└── news (category)
//	    └── feed (2 messages, 1 unread)
func testApp(t *testing.T) *fixture {
	t.Helper()

	path := filepath.Join(t.TempDir(), "lesa.db")
	require.NoError(t, db.Migrate(path))
	writer, err := db.NewWriter(path)
	require.NoError(t, err)
	t.Cleanup(func() { writer.Close() })
	reader, err := db.NewReader(path)
	require.NoError(t, err)
	t.Cleanup(func() { reader.Close() })

	accountID, err := writer.InsertAccount("std-rss", "My feeds")
	require.NoError(t, err)
	categoryID, err := writer.InsertCategory(models.Category{AccountID: accountID, Title: "News"})
	require.NoError(t, err)
	feedID, err := writer.InsertFeed(models.Feed{AccountID: accountID, CategoryID: &categoryID, Title: "Feed", URL: "https://example.com/rss"})
	require.NoError(t, err)

	created := time.Now().UTC().Truncate(time.Second)
	_, err = writer.UpsertMessage(models.Message{
		FeedID:   feedID,
		GUID:     "guid-1",
		Title:    "Read one",
		Contents: `<p>Hi <img src="https://example.com/cat.jpg"></p>`,
		Created:  created,
	})
	require.NoError(t, err)
	_, err = writer.UpsertMessage(models.Message{
		FeedID:  feedID,
		GUID:    "guid-2",
		Title:   "Unread one",
		Created: created.Add(time.Minute),
	})
	require.NoError(t, err)

	account := feedtree.NewServiceRoot(accountID, "std-rss", "My feeds")
	news := feedtree.NewCategory(categoryID, "News")
	feed := feedtree.NewFeed(feedID, "Feed", "https://example.com/rss")
	feed.SetCounts(1, 2)
	news.AppendChild(feed)
	account.AppendChild(news)

	m := feedmodel.New()
	require.True(t, m.AddServiceAccount(account, false))
	m.Root().UpdateCounts()

	app := server.Server(&server.ServerConfig{
		Model:       m,
		Reader:      reader,
		Writer:      writer,
		Lock:        &sync.Mutex{},
		Broadcaster: server.NewBroadcaster(),
	})
	return &fixture{
		app:        app,
		model:      m,
		reader:     reader,
		accountID:  accountID,
		categoryID: categoryID,
		feedID:     feedID,
	}
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func TestTreeEndpoint(t *testing.T) {
	fx := testApp(t)

	resp, err := fx.app.Test(httptest.NewRequest("GET", "/api/tree", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	nodes := decode[[]models.TreeNode](t, resp)
	require.Len(t, nodes, 3)

	assert.Equal(t, models.TreeNode{Kind: "account", Title: "My feeds", Depth: 0, Unread: 1, Total: 2}, nodes[0])
	assert.Equal(t, models.TreeNode{Kind: "category", Title: "News", Depth: 1, Unread: 1, Total: 2}, nodes[1])
	assert.Equal(t, models.TreeNode{Kind: "feed", Title: "Feed", Depth: 2, Unread: 1, Total: 2}, nodes[2])
}

func TestCountsEndpoint(t *testing.T) {
	fx := testApp(t)

	resp, err := fx.app.Test(httptest.NewRequest("GET", "/api/counts", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	counts := decode[models.CountsChangedEvent](t, resp)
	assert.Equal(t, 1, counts.Unread)
	assert.False(t, counts.AnyNewMessages)
}

func TestMessagesEndpoint(t *testing.T) {
	fx := testApp(t)

	resp, err := fx.app.Test(httptest.NewRequest("GET", "/api/messages?feed="+
		strconvItoa(fx.feedID), nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	messages := decode[[]models.Message](t, resp)
	require.Len(t, messages, 2)
	assert.Equal(t, "Unread one", messages[0].Title)
	assert.Equal(t, "Read one", messages[1].Title)

	// A feed id is mandatory.
	resp, err = fx.app.Test(httptest.NewRequest("GET", "/api/messages", nil))
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)

	// Unknown feeds yield an empty list, not an error.
	resp, err = fx.app.Test(httptest.NewRequest("GET", "/api/messages?feed=999", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Empty(t, decode[[]models.Message](t, resp))
}

func TestMessageContentEndpoint(t *testing.T) {
	fx := testApp(t)

	listResp, err := fx.app.Test(httptest.NewRequest("GET", "/api/messages?feed="+strconvItoa(fx.feedID), nil))
	require.NoError(t, err)
	messages := decode[[]models.Message](t, listResp)
	require.Len(t, messages, 2)

	// The older message carries the image.
	target := messages[1]
	resp, err := fx.app.Test(httptest.NewRequest("GET", "/api/messages/"+strconvItoa(target.ID)+"/content", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	content := decode[struct {
		Title    string   `json:"title"`
		Contents string   `json:"contents"`
		Images   []string `json:"images"`
	}](t, resp)
	assert.Equal(t, "Read one", content.Title)
	assert.Contains(t, content.Contents, server.ImagePlaceholder)
	assert.NotContains(t, content.Contents, "cat.jpg")
	assert.Equal(t, []string{"https://example.com/cat.jpg"}, content.Images)

	resp, err = fx.app.Test(httptest.NewRequest("GET", "/api/messages/99999/content", nil))
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)

	resp, err = fx.app.Test(httptest.NewRequest("GET", "/api/messages/abc/content", nil))
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestBinEndpoints(t *testing.T) {
	fx := testApp(t)

	// Hang a bin behind the account so the bulk operations have something
	// to talk to.
	ops := &fakeBinOps{restoreResult: true, emptyResult: false}
	fx.model.ServiceRoots()[0].AttachBin(feedtree.NewBin(ops))

	resp, err := fx.app.Test(httptest.NewRequest("POST", "/api/bins/restore", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.True(t, decode[map[string]bool](t, resp)["ok"])

	resp, err = fx.app.Test(httptest.NewRequest("POST", "/api/bins/empty", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.False(t, decode[map[string]bool](t, resp)["ok"])
}

func TestMetricsEndpoint(t *testing.T) {
	fx := testApp(t)

	resp, err := fx.app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestMarkItemReadEndpoint(t *testing.T) {
	fx := testApp(t)

	resp, err := fx.app.Test(httptest.NewRequest("POST", "/api/items/"+strconvItoa(fx.feedID)+"/read", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	counts, err := fx.app.Test(httptest.NewRequest("GET", "/api/counts", nil))
	require.NoError(t, err)
	assert.Equal(t, 0, decode[models.CountsChangedEvent](t, counts).Unread)

	messages, err := fx.reader.MessagesForFeeds([]int64{fx.feedID}, 10)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.True(t, messages[0].Read)
	assert.True(t, messages[1].Read)

	// Marking a whole account zeroes every feed below it.
	resp, err = fx.app.Test(httptest.NewRequest("POST", "/api/items/"+strconvItoa(fx.accountID)+"/read?kind=account", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	resp, err = fx.app.Test(httptest.NewRequest("POST", "/api/items/999/read", nil))
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)

	resp, err = fx.app.Test(httptest.NewRequest("POST", "/api/items/"+strconvItoa(fx.feedID)+"/read?kind=nonsense", nil))
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestMoveItemEndpoint(t *testing.T) {
	fx := testApp(t)

	// Feed out of its category to the account top level.
	resp, err := fx.app.Test(httptest.NewRequest("POST", "/api/items/"+strconvItoa(fx.feedID)+"/move", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	account := fx.model.ServiceRoots()[0]
	feed := account.Child(account.ChildCount() - 1)
	require.Equal(t, fx.feedID, feed.ID())
	assert.Equal(t, account, feed.Parent())

	feeds, err := fx.reader.FeedsForAccount(fx.accountID)
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	assert.Nil(t, feeds[0].CategoryID)

	// And back under the category.
	resp, err = fx.app.Test(httptest.NewRequest("POST",
		"/api/items/"+strconvItoa(fx.feedID)+"/move?target="+strconvItoa(fx.categoryID), nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	feeds, err = fx.reader.FeedsForAccount(fx.accountID)
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	require.NotNil(t, feeds[0].CategoryID)
	assert.Equal(t, fx.categoryID, *feeds[0].CategoryID)

	// A category cannot move into its own subtree.
	resp, err = fx.app.Test(httptest.NewRequest("POST",
		"/api/items/"+strconvItoa(fx.categoryID)+"/move?kind=category&target="+strconvItoa(fx.categoryID), nil))
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)

	resp, err = fx.app.Test(httptest.NewRequest("POST", "/api/items/999/move", nil))
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestDeleteFeedEndpoint(t *testing.T) {
	fx := testApp(t)

	resp, err := fx.app.Test(httptest.NewRequest("DELETE", "/api/feeds/"+strconvItoa(fx.feedID), nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	treeResp, err := fx.app.Test(httptest.NewRequest("GET", "/api/tree", nil))
	require.NoError(t, err)
	assert.Len(t, decode[[]models.TreeNode](t, treeResp), 2)

	feeds, err := fx.reader.FeedsForAccount(fx.accountID)
	require.NoError(t, err)
	assert.Empty(t, feeds)

	messages, err := fx.reader.MessagesForFeeds([]int64{fx.feedID}, 10)
	require.NoError(t, err)
	assert.Empty(t, messages)

	resp, err = fx.app.Test(httptest.NewRequest("DELETE", "/api/feeds/"+strconvItoa(fx.feedID), nil))
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestRecycleMessageEndpoint(t *testing.T) {
	fx := testApp(t)

	listResp, err := fx.app.Test(httptest.NewRequest("GET", "/api/messages?feed="+strconvItoa(fx.feedID), nil))
	require.NoError(t, err)
	messages := decode[[]models.Message](t, listResp)
	require.Len(t, messages, 2)

	// The newer message is the unread one.
	resp, err := fx.app.Test(httptest.NewRequest("POST", "/api/messages/"+strconvItoa(messages[0].ID)+"/recycle", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	remaining, err := fx.reader.MessagesForFeeds([]int64{fx.feedID}, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "Read one", remaining[0].Title)

	countsResp, err := fx.app.Test(httptest.NewRequest("GET", "/api/counts", nil))
	require.NoError(t, err)
	assert.Equal(t, 0, decode[models.CountsChangedEvent](t, countsResp).Unread)

	resp, err = fx.app.Test(httptest.NewRequest("POST", "/api/messages/99999/recycle", nil))
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
}

type fakeBinOps struct {
	restoreResult bool
	emptyResult   bool
}

func (b *fakeBinOps) Restore() bool { return b.restoreResult }
func (b *fakeBinOps) Empty() bool   { return b.emptyResult }

func strconvItoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
