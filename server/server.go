package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"lesa/db"
	"lesa/feedmodel"
	"lesa/feedtree"
	"lesa/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

type ServerConfig struct {

	// The model holding the feed tree
	Model *feedmodel.Model

	// The reader to use for reading messages
	Reader *db.Reader

	// The writer to use for persisting tree and message changes
	Writer *db.Writer

	// Lock serializing tree access shared with the fetch scheduler
	Lock sync.Locker

	// Broadcast channels to pass events to SSE clients
	Broadcaster *Broadcaster
}

// Make it sync
type Broadcaster struct {
	sync.RWMutex
	countsClients  map[string]chan models.CountsChangedEvent
	fetchedClients map[string]chan models.FeedFetchedEvent
}

// Constructor
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		countsClients:  make(map[string]chan models.CountsChangedEvent, 100),
		fetchedClients: make(map[string]chan models.FeedFetchedEvent, 100),
	}
}

func (b *Broadcaster) BroadcastCounts(event models.CountsChangedEvent) {
	b.RLock()
	defer b.RUnlock()

	for id, client := range b.countsClients {
		select {
		case client <- event: // Non-blocking send
		default:
			log.Warnf("Client channel full, skipping counts for client: %v", id)
		}
	}
}

func (b *Broadcaster) BroadcastFeedFetched(event models.FeedFetchedEvent) {
	b.RLock()
	defer b.RUnlock()

	for id, client := range b.fetchedClients {
		select {
		case client <- event: // Non-blocking send
		default:
			log.Warnf("Client channel full, skipping fetched event for client: %v", id)
		}
	}
}

// Function to add a client to the broadcaster
func (b *Broadcaster) AddClient(key string, countsClient chan models.CountsChangedEvent, fetchedClient chan models.FeedFetchedEvent) {
	b.Lock()
	defer b.Unlock()
	b.countsClients[key] = countsClient
	b.fetchedClients[key] = fetchedClient
	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.countsClients),
	}).Info("Adding client to broadcaster")
}

// Function to remove a client from the broadcaster
func (b *Broadcaster) RemoveClient(key string) {
	b.Lock()
	defer b.Unlock()

	if client, ok := b.countsClients[key]; ok {
		close(client)
		delete(b.countsClients, key)
	}

	if client, ok := b.fetchedClients[key]; ok {
		close(client)
		delete(b.fetchedClients, key)
	}

	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.countsClients),
	}).Info("Removed client from broadcaster")
}

func (b *Broadcaster) Shutdown() {
	log.Info("Shutting down broadcaster")
	b.Lock()
	defer b.Unlock()
	for key, client := range b.countsClients {
		close(client)
		delete(b.countsClients, key)
	}
	for key, client := range b.fetchedClients {
		close(client)
		delete(b.fetchedClients, key)
	}
}

// countsObserver bridges the model's counts notifications onto the
// broadcaster.
type countsObserver struct {
	feedmodel.BaseObserver
	bc *Broadcaster
}

func (o countsObserver) CountsChanged(totalUnread int, anyNewMessages bool) {
	o.bc.BroadcastCounts(models.CountsChangedEvent{
		Unread:         totalUnread,
		AnyNewMessages: anyNewMessages,
	})
}

// CountsObserver returns a model observer that republishes counts events
// to SSE clients.
func CountsObserver(bc *Broadcaster) feedmodel.Observer {
	return countsObserver{bc: bc}
}

// Returns a fiber.App instance to be used as an HTTP server for the lesa API
func Server(config *ServerConfig) *fiber.App {

	bc := config.Broadcaster
	lock := config.Lock

	app := fiber.New()

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		// start timer
		start := time.Now()

		// next routes
		err := c.Next()

		// stop timer
		stop := time.Now()

		// Diff
		log.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"latency": stop.Sub(start),
		}).Info("Request")
		return err
	})

	app.Use(requestid.New(requestid.ConfigDefault))
	app.Use(compress.New())
	app.Use(cors.New())

	// Flattened snapshot of the feed tree
	app.Get("/api/tree", func(c *fiber.Ctx) error {
		lock.Lock()
		snapshot := treeSnapshot(config.Model.Root())
		lock.Unlock()

		return c.JSON(snapshot)
	})

	// Aggregated unread count and the any-new flag
	app.Get("/api/counts", func(c *fiber.Ctx) error {
		lock.Lock()
		counts := models.CountsChangedEvent{
			Unread:         config.Model.CountOfUnreadMessages(),
			AnyNewMessages: config.Model.HasAnyFeedNewMessages(),
		}
		lock.Unlock()

		return c.JSON(counts)
	})

	app.Get("/api/messages", func(c *fiber.Ctx) error {
		feedID, err := strconv.ParseInt(c.Query("feed", "0"), 10, 64)
		if err != nil || feedID == 0 {
			return c.Status(400).SendString("Invalid feed id")
		}
		limit, err := strconv.Atoi(c.Query("limit", "50"))
		if err != nil || limit < 1 || limit > 500 {
			limit = 50
		}

		messages, err := config.Reader.MessagesForFeeds([]int64{feedID}, limit)
		if err != nil {
			log.Error("Error getting messages: ", err)
			return c.Status(500).SendString("Error getting messages")
		}
		if messages == nil {
			messages = []models.Message{}
		}
		return c.JSON(messages)
	})

	// Message contents with remote images swapped for a placeholder; the
	// original sources are reported alongside so a client may load them
	// on demand.
	app.Get("/api/messages/:id/content", func(c *fiber.Ctx) error {
		id, err := strconv.ParseInt(c.Params("id"), 10, 64)
		if err != nil {
			return c.Status(400).SendString("Invalid message id")
		}

		msg, err := config.Reader.Message(id)
		if err != nil {
			return c.Status(404).SendString("Message not found")
		}

		contents, images := RewriteImages(msg.Contents)
		return c.JSON(fiber.Map{
			"title":    msg.Title,
			"contents": contents,
			"images":   images,
		})
	})

	// Bulk recycle-bin operations over all accounts
	app.Post("/api/bins/restore", func(c *fiber.Ctx) error {
		lock.Lock()
		ok := config.Model.RestoreAllBins()
		config.Model.ReloadCountsOfWholeModel()
		lock.Unlock()

		return c.JSON(fiber.Map{"ok": ok})
	})

	app.Post("/api/bins/empty", func(c *fiber.Ctx) error {
		lock.Lock()
		ok := config.Model.EmptyAllBins()
		config.Model.ReloadCountsOfWholeModel()
		lock.Unlock()

		return c.JSON(fiber.Map{"ok": ok})
	})

	// Mark a feed, category or whole account as read. Counts are zeroed in
	// the tree and the rows are persisted in one go.
	app.Post("/api/items/:id/read", func(c *fiber.Ctx) error {
		id, err := strconv.ParseInt(c.Params("id"), 10, 64)
		if err != nil {
			return c.Status(400).SendString("Invalid item id")
		}
		kind, ok := itemKind(c.Query("kind", "feed"))
		if !ok {
			return c.Status(400).SendString("Invalid item kind")
		}

		lock.Lock()
		defer lock.Unlock()

		item := findItem(config.Model.Root(), kind, id)
		if item == nil {
			return c.Status(404).SendString("Item not found")
		}

		feedIDs := feedIDsOf(item)
		if err := config.Writer.MarkFeedsRead(feedIDs); err != nil {
			log.Error("Error marking feeds read: ", err)
			return c.Status(500).SendString("Error marking feeds read")
		}
		config.Model.MarkItemRead(item)

		return c.JSON(fiber.Map{"ok": true, "feeds": len(feedIDs)})
	})

	// Reparent a feed or category. The target is a category id, or 0 for
	// the top level of the item's own account. Cross-account moves and
	// cycles are rejected before anything is touched.
	app.Post("/api/items/:id/move", func(c *fiber.Ctx) error {
		id, err := strconv.ParseInt(c.Params("id"), 10, 64)
		if err != nil {
			return c.Status(400).SendString("Invalid item id")
		}
		kind, ok := itemKind(c.Query("kind", "feed"))
		if !ok || (kind != feedtree.KindFeed && kind != feedtree.KindCategory) {
			return c.Status(400).SendString("Invalid item kind")
		}
		targetID, err := strconv.ParseInt(c.Query("target", "0"), 10, 64)
		if err != nil {
			return c.Status(400).SendString("Invalid target id")
		}

		lock.Lock()
		defer lock.Unlock()

		item := findItem(config.Model.Root(), kind, id)
		if item == nil {
			return c.Status(404).SendString("Item not found")
		}

		target := item.ParentServiceRoot()
		if targetID != 0 {
			target = findItem(config.Model.Root(), feedtree.KindCategory, targetID)
		}
		if target == nil {
			return c.Status(404).SendString("Target not found")
		}
		if target.ParentServiceRoot() != item.ParentServiceRoot() {
			return c.Status(400).SendString("Cannot move item into a different account")
		}
		if !item.CanBeChildOf(target) || target.IsDescendantOf(item) || item.Parent() == target {
			return c.Status(400).SendString("Invalid move")
		}

		var categoryID *int64
		if targetID != 0 {
			categoryID = &targetID
		}
		if kind == feedtree.KindFeed {
			err = config.Writer.MoveFeedToCategory(id, categoryID)
		} else {
			err = config.Writer.MoveCategory(id, categoryID)
		}
		if err != nil {
			log.Error("Error persisting move: ", err)
			return c.Status(500).SendString("Error persisting move")
		}

		config.Model.ReassignNodeToNewParent(item, target)
		config.Model.OnItemsDataChanged([]*feedtree.Item{item})

		return c.JSON(fiber.Map{"ok": true})
	})

	// Unsubscribe from a feed. Its messages go with it.
	app.Delete("/api/feeds/:id", func(c *fiber.Ctx) error {
		id, err := strconv.ParseInt(c.Params("id"), 10, 64)
		if err != nil {
			return c.Status(400).SendString("Invalid feed id")
		}

		lock.Lock()
		defer lock.Unlock()

		feed := findItem(config.Model.Root(), feedtree.KindFeed, id)
		if feed == nil {
			return c.Status(404).SendString("Feed not found")
		}
		if err := config.Writer.DeleteFeed(id); err != nil {
			log.Error("Error deleting feed: ", err)
			return c.Status(500).SendString("Error deleting feed")
		}

		config.Model.RemoveItem(feed)
		config.Model.DrainRetired()

		return c.JSON(fiber.Map{"ok": true})
	})

	// Move a single message to its account's recycle bin and refresh the
	// owning feed's counts from storage.
	app.Post("/api/messages/:id/recycle", func(c *fiber.Ctx) error {
		id, err := strconv.ParseInt(c.Params("id"), 10, 64)
		if err != nil {
			return c.Status(400).SendString("Invalid message id")
		}

		msg, err := config.Reader.Message(id)
		if err != nil {
			return c.Status(404).SendString("Message not found")
		}
		if err := config.Writer.RecycleMessage(id); err != nil {
			log.Error("Error recycling message: ", err)
			return c.Status(500).SendString("Error recycling message")
		}

		counts, err := config.Reader.FeedCounts()
		if err != nil {
			log.Error("Error reading counts: ", err)
			return c.Status(500).SendString("Error reading counts")
		}

		lock.Lock()
		defer lock.Unlock()

		if feed := findItem(config.Model.Root(), feedtree.KindFeed, msg.FeedID); feed != nil {
			fc := counts[feed.ID()]
			feed.SetCounts(fc.Unread, fc.Total)
			config.Model.OnItemsDataChanged([]*feedtree.Item{feed})
		}

		return c.JSON(fiber.Map{"ok": true})
	})

	// Prometheus metrics
	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	app.Get("/metrics", func(c *fiber.Ctx) error {
		metricsHandler(c.Context())
		return nil
	})

	app.Delete("/events", func(c *fiber.Ctx) error {
		key := c.Query("key", "")
		bc.RemoveClient(key)
		return c.Status(200).SendString("OK")
	})

	app.Get("/events", func(c *fiber.Ctx) error {
		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("Transfer-Encoding", "chunked")

		// Unique client key
		key := uuid.New().String()
		sseCountsChannel := make(chan models.CountsChangedEvent, 10) // Buffered channel
		sseFetchedChannel := make(chan models.FeedFetchedEvent, 10)
		aliveChan := time.NewTicker(5 * time.Second)

		defer aliveChan.Stop()

		// Register the client
		bc.AddClient(key, sseCountsChannel, sseFetchedChannel)

		// Cleanup function
		cleanup := func() {
			log.Infof("Cleaning up SSE stream for client: %s", key)
			bc.RemoveClient(key)
		}

		// Use StreamWriter to manage SSE streaming
		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			defer cleanup()

			// Send initial event with client key
			fmt.Fprintf(w, "event: init\ndata: %s\n\n", key)
			if err := w.Flush(); err != nil {
				log.Errorf("Failed to send init event: %v", err)
				return
			}

			// Start streaming loop
			for {
				select {
				case <-aliveChan.C:
					// Send keep-alive pings
					if _, err := fmt.Fprintf(w, "event: ping\ndata: \n\n"); err != nil {
						log.Warnf("Failed to send ping to client %s: %v", key, err)
						return
					}
					if err := w.Flush(); err != nil {
						log.Warnf("Failed to flush ping for client %s: %v", key, err)
						return
					}

				case counts, ok := <-sseCountsChannel:
					if !ok {
						log.Warnf("Counts channel closed for client %s", key)
						return
					}
					jsonCounts, err := json.Marshal(counts)
					if err != nil {
						log.Errorf("Error marshalling counts for client %s: %v", key, err)
						continue
					}
					if _, err := fmt.Fprintf(w, "event: counts\ndata: %s\n\n", jsonCounts); err != nil {
						log.Warnf("Failed to send counts event to client %s: %v", key, err)
						return
					}
					if err := w.Flush(); err != nil {
						log.Warnf("Failed to flush counts event for client %s: %v", key, err)
						return
					}

				case fetched, ok := <-sseFetchedChannel:
					if !ok {
						log.Warnf("Fetched channel closed for client %s", key)
						return
					}
					jsonFetched, err := json.Marshal(fetched)
					if err != nil {
						log.Errorf("Error marshalling fetched event for client %s: %v", key, err)
						continue
					}
					if _, err := fmt.Fprintf(w, "event: feed-fetched\ndata: %s\n\n", jsonFetched); err != nil {
						log.Warnf("Failed to send fetched event to client %s: %v", key, err)
						return
					}
					if err := w.Flush(); err != nil {
						log.Warnf("Failed to flush fetched event for client %s: %v", key, err)
						return
					}
				}
			}
		}))

		return nil
	})

	return app
}

// itemKind maps the query-string kind names onto tree kinds. Only kinds a
// client may address directly are accepted.
func itemKind(name string) (feedtree.Kind, bool) {
	switch name {
	case "feed":
		return feedtree.KindFeed, true
	case "category":
		return feedtree.KindCategory, true
	case "account":
		return feedtree.KindServiceRoot, true
	default:
		return feedtree.KindRoot, false
	}
}

// findItem resolves a storage id and kind to its tree node. Ids are only
// unique per kind, hence the pair.
func findItem(root *feedtree.Item, kind feedtree.Kind, id int64) *feedtree.Item {
	var found *feedtree.Item
	root.Walk(func(item *feedtree.Item) {
		if item.Kind() == kind && item.ID() == id {
			found = item
		}
	})
	return found
}

func feedIDsOf(item *feedtree.Item) []int64 {
	feeds := item.SubTreeFeeds()
	ids := make([]int64, 0, len(feeds))
	for _, feed := range feeds {
		ids = append(ids, feed.ID())
	}
	return ids
}

// treeSnapshot flattens the tree into view rows, depth-first, skipping the
// root itself.
func treeSnapshot(root *feedtree.Item) []models.TreeNode {
	nodes := []models.TreeNode{}
	root.Walk(func(item *feedtree.Item) {
		if item == root {
			return
		}
		nodes = append(nodes, models.TreeNode{
			Kind:   item.Kind().String(),
			Title:  item.Title(),
			Depth:  item.Depth() - 1,
			Unread: item.CountOfUnreadMessages(),
			Total:  item.CountOfAllMessages(),
		})
	})
	return nodes
}
