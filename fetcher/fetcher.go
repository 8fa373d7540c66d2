package fetcher

import (
	"context"
	"sync"
	"time"

	"lesa/db"
	"lesa/feedmodel"
	"lesa/feedtree"
	"lesa/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/mmcdole/gofeed"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

// Add Prometheus metrics
var (
	fetchAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lesa_fetch_attempts_total",
		Help: "The total number of feed refresh attempts",
	})

	fetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lesa_fetch_errors_total",
		Help: "The total number of failed feed refreshes",
	})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lesa_fetch_duration_seconds",
		Help:    "Duration of feed refreshes",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // Start at 50ms, double each bucket, 10 buckets
	})

	fetchNewMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lesa_fetch_new_messages_total",
		Help: "The total number of new messages stored",
	})
)

// Config holds the collaborators and tuning of a Fetcher.
type Config struct {
	Model   *feedmodel.Model
	Reader  *db.Reader
	Writer  *db.Writer
	Workers int
	Timeout time.Duration

	// Events is an optional channel for fetched-feed events, consumed by
	// the server's broadcaster.
	Events chan<- interface{}

	// Lock serializes tree access shared with other tree users (the HTTP
	// server's snapshot queries). Optional.
	Lock sync.Locker
}

type noLock struct{}

func (noLock) Lock()   {}
func (noLock) Unlock() {}

// Fetcher refreshes feeds through a worker pool and applies the results to
// the tree model under the shared lock. Workers touch only the network and
// the database; the tree is never mutated in parallel.
type Fetcher struct {
	model   *feedmodel.Model
	reader  *db.Reader
	writer  *db.Writer
	parser  *gofeed.Parser
	workers int
	timeout time.Duration
	events  chan<- interface{}
	lock    sync.Locker
}

func New(config Config) *Fetcher {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Lock == nil {
		config.Lock = noLock{}
	}
	return &Fetcher{
		model:   config.Model,
		reader:  config.Reader,
		writer:  config.Writer,
		parser:  gofeed.NewParser(),
		workers: config.Workers,
		timeout: config.Timeout,
		events:  config.Events,
		lock:    config.Lock,
	}
}

type fetchResult struct {
	feed        *feedtree.Item
	newMessages int
	err         error
}

// RefreshAll refreshes every feed of the tree once.
func (f *Fetcher) RefreshAll(ctx context.Context) error {
	f.lock.Lock()
	feeds := f.model.Root().SubTreeFeeds()
	f.lock.Unlock()

	return f.refresh(ctx, feeds)
}

// Run drives scheduled refreshes until the context is cancelled. The
// scheduler ticks once a minute; the global auto-update fires every
// globalInterval ticks, feeds on a specific interval count their own ticks.
func (f *Fetcher) Run(ctx context.Context, globalInterval int) {
	if globalInterval < 1 {
		globalInterval = 1
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			log.Info("Stopping fetch scheduler")
			return
		case <-ticker.C:
			tick++
			f.lock.Lock()
			due := f.model.FeedsForScheduledUpdate(tick%globalInterval == 0)
			f.lock.Unlock()
			if len(due) == 0 {
				continue
			}
			if err := f.refresh(ctx, due); err != nil {
				log.Error("Error refreshing feeds: ", err)
			}
		}
	}
}

// refresh fans the given feeds out to the worker pool, waits for all
// results and applies them to the tree in one pass under the shared lock.
func (f *Fetcher) refresh(ctx context.Context, feeds []*feedtree.Item) error {
	if len(feeds) == 0 {
		return nil
	}

	log.WithFields(log.Fields{
		"feeds":   len(feeds),
		"workers": f.workers,
	}).Info("Refreshing feeds")

	jobs := make(chan *feedtree.Item)
	results := make(chan fetchResult, len(feeds))

	var wg sync.WaitGroup
	for i := 0; i < f.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for feed := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				results <- f.fetchFeed(ctx, feed)
			}
		}()
	}

	// Workers stop receiving once the context is cancelled, so the send
	// has to select on ctx.Done() too or it would block forever.
	for _, feed := range feeds {
		select {
		case jobs <- feed:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	if err := ctx.Err(); err != nil {
		return err
	}

	counts, err := f.reader.FeedCounts()
	if err != nil {
		return err
	}

	f.lock.Lock()
	defer f.lock.Unlock()

	var changed []*feedtree.Item
	for result := range results {
		feed := result.feed
		if result.err != nil {
			feed.SetStatus(feedtree.StatusError)
		} else if result.newMessages > 0 {
			feed.SetStatus(feedtree.StatusNewMessages)
		} else {
			feed.SetStatus(feedtree.StatusNormal)
		}
		if c, ok := counts[feed.ID()]; ok {
			feed.SetCounts(c.Unread, c.Total)
		}
		changed = append(changed, feed)

		if f.events != nil && result.err == nil {
			select {
			case f.events <- models.FeedFetchedEvent{
				FeedID:      feed.ID(),
				Title:       feed.Title(),
				NewMessages: result.newMessages,
			}:
			default:
				log.Debug("Event channel full, skipping fetched-feed event")
			}
		}
	}

	f.model.OnItemsDataChanged(changed)
	return nil
}

// fetchFeed parses and stores one feed with exponential-backoff retries.
func (f *Fetcher) fetchFeed(ctx context.Context, feed *feedtree.Item) fetchResult {
	start := time.Now()
	fetchAttempts.Inc()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = f.timeout

	var parsed *gofeed.Feed
	err := backoff.Retry(func() error {
		fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()

		var parseErr error
		parsed, parseErr = f.parser.ParseURLWithContext(feed.URL(), fetchCtx)
		return parseErr
	}, backoff.WithContext(bo, ctx))

	fetchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		fetchErrors.Inc()
		log.WithFields(log.Fields{
			"feed": feed.Title(),
			"url":  feed.URL(),
		}).Warning("Error fetching feed: ", err)
		_ = f.writer.RecordFetch(feed.ID(), time.Now(), err.Error())
		return fetchResult{feed: feed, err: err}
	}

	newCount := 0
	now := time.Now()
	for _, item := range parsed.Items {
		guid := item.GUID
		if guid == "" {
			guid = item.Link
		}
		if guid == "" {
			continue
		}

		created := now
		if item.PublishedParsed != nil {
			created = *item.PublishedParsed
		}

		contents := item.Content
		if contents == "" {
			contents = item.Description
		}

		author := ""
		if len(item.Authors) > 0 {
			author = item.Authors[0].Name
		}

		isNew, err := f.writer.UpsertMessage(models.Message{
			FeedID:   feed.ID(),
			GUID:     guid,
			Title:    item.Title,
			URL:      item.Link,
			Author:   author,
			Contents: contents,
			Created:  created,
		})
		if err != nil {
			log.WithField("guid", guid).Error("Error storing message: ", err)
			continue
		}
		if isNew {
			newCount++
		}
	}

	fetchNewMessages.Add(float64(newCount))
	_ = f.writer.RecordFetch(feed.ID(), now, "")

	log.WithFields(log.Fields{
		"feed": feed.Title(),
		"new":  newCount,
	}).Info("Refreshed feed")

	return fetchResult{feed: feed, newMessages: newCount}
}
