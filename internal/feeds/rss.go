package feeds

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/mmcdole/gofeed"

	"github.com/johnrirwin/feedwatch/internal/models"
	"github.com/johnrirwin/feedwatch/internal/ratelimit"
)

// RSSManager tracks individually-named feed URLs grouped by origin.
// Each feed carries its own watermark; the format has no cursor, so
// only the current snapshot is ever visible.
type RSSManager struct {
	limiter *ratelimit.Limiter
	config  Config
	client  *http.Client
}

// rssItem is a validated feed entry. Timestamp is milliseconds.
type rssItem struct {
	guid      string
	title     string
	link      string
	timestamp int64
}

// rssSnapshot is one validated fetch of a feed, newest item first.
type rssSnapshot struct {
	title string
	items []rssItem
}

// NewRSSManager creates a syndication manager.
func NewRSSManager(limiter *ratelimit.Limiter, config Config) *RSSManager {
	return &RSSManager{
		limiter: limiter,
		config:  config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Empty returns the collection used before anything is tracked.
func (m *RSSManager) Empty() models.RSSFeeds {
	return models.RSSFeeds{Hosts: []models.RSSHost{}}
}

// Add starts tracking a feed URL. The feed is fetched once to capture
// its display name and seed the watermark from its newest item.
func (m *RSSManager) Add(ctx context.Context, feeds *models.RSSFeeds, data models.FeedData) error {
	origin, err := feedOrigin(data.URL)
	if err != nil {
		return fmt.Errorf("invalid feed url %q: %w", data.URL, err)
	}

	hostIndex := -1
	for i := range feeds.Hosts {
		if feeds.Hosts[i].Name != origin {
			continue
		}
		hostIndex = i
		for _, feed := range feeds.Hosts[i].Feeds {
			if feed.URL == data.URL {
				return &DuplicateFeedError{Feed: fmt.Sprintf("'%s' from '%s'", data.URL, origin)}
			}
		}
	}

	snapshot, err := m.fetch(ctx, data.URL)
	if err != nil {
		return err
	}

	feed := models.RSSFeed{URL: data.URL, Name: snapshot.title}
	if len(snapshot.items) > 0 {
		feed.LastRead = &models.RSSWatermark{
			GUID:      snapshot.items[0].guid,
			Timestamp: snapshot.items[0].timestamp,
		}
	}

	if hostIndex >= 0 {
		feeds.Hosts[hostIndex].Feeds = append(feeds.Hosts[hostIndex].Feeds, feed)
	} else {
		feeds.Hosts = append(feeds.Hosts, models.RSSHost{Name: origin, Feeds: []models.RSSFeed{feed}})
	}
	return nil
}

// Remove stops tracking a feed URL and prunes its origin once empty.
func (m *RSSManager) Remove(feeds *models.RSSFeeds, data models.FeedData) error {
	origin, err := feedOrigin(data.URL)
	if err != nil {
		return &FeedNotFoundError{Feed: fmt.Sprintf("'%s'", data.URL)}
	}

	for i := range feeds.Hosts {
		host := &feeds.Hosts[i]
		if host.Name != origin {
			continue
		}
		for j := range host.Feeds {
			if host.Feeds[j].URL != data.URL {
				continue
			}
			host.Feeds = append(host.Feeds[:j], host.Feeds[j+1:]...)
			if len(host.Feeds) == 0 {
				feeds.Hosts = append(feeds.Hosts[:i], feeds.Hosts[i+1:]...)
			}
			return nil
		}
	}

	return &FeedNotFoundError{Feed: fmt.Sprintf("'%s' from '%s'", data.URL, origin)}
}

// Has reports whether the URL is tracked. A malformed URL is simply not
// tracked, never an error.
func (m *RSSManager) Has(feeds *models.RSSFeeds, data models.FeedData) bool {
	origin, err := feedOrigin(data.URL)
	if err != nil {
		return false
	}

	for i := range feeds.Hosts {
		if feeds.Hosts[i].Name != origin {
			continue
		}
		for _, feed := range feeds.Hosts[i].Feeds {
			if feed.URL == data.URL {
				return true
			}
		}
	}
	return false
}

// Update fetches every feed, collecting items newer than each feed's
// watermark. Origins run concurrently; feeds within an origin fetch
// serially. A failing feed is reported and skipped, never aborting its
// siblings.
func (m *RSSManager) Update(ctx context.Context, feeds *models.RSSFeeds) ([]models.Post, []FeedFailure) {
	var wg sync.WaitGroup
	results := make(chan []models.Post, len(feeds.Hosts))
	failures := make(chan FeedFailure, totalFeeds(feeds))

	for i := range feeds.Hosts {
		wg.Add(1)
		go func(host *models.RSSHost) {
			defer wg.Done()

			posts := []models.Post{}
			for j := range host.Feeds {
				feed := &host.Feeds[j]
				feedPosts, err := m.feedPosts(ctx, feed)
				if err != nil {
					failures <- FeedFailure{Host: host.Name, Feed: feed.Name, Err: err}
					continue
				}
				posts = append(posts, feedPosts...)
			}
			results <- posts
		}(&feeds.Hosts[i])
	}

	wg.Wait()
	close(results)
	close(failures)

	newPosts := []models.Post{}
	for posts := range results {
		newPosts = append(newPosts, posts...)
	}
	failed := []FeedFailure{}
	for failure := range failures {
		failed = append(failed, failure)
	}
	return newPosts, failed
}

func (m *RSSManager) feedPosts(ctx context.Context, feed *models.RSSFeed) ([]models.Post, error) {
	snapshot, err := m.fetch(ctx, feed.URL)
	if err != nil {
		return nil, err
	}

	// The display name can change upstream; always take the latest.
	feed.Name = snapshot.title

	newPosts := []models.Post{}
	for _, item := range snapshot.items {
		if feed.LastRead != nil && (feed.LastRead.GUID == item.guid ||
			item.timestamp < feed.LastRead.Timestamp) {
			break
		}

		newPosts = append(newPosts, models.Post{
			ID:      item.guid,
			Title:   item.title,
			URL:     item.link,
			Source:  feed.Name,
			Created: item.timestamp,
		})
	}

	if len(snapshot.items) > 0 {
		feed.LastRead = &models.RSSWatermark{
			GUID:      snapshot.items[0].guid,
			Timestamp: snapshot.items[0].timestamp,
		}
	}

	return newPosts, nil
}

// fetch retrieves and validates one feed snapshot.
func (m *RSSManager) fetch(ctx context.Context, rawURL string) (*rssSnapshot, error) {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}
	m.limiter.Wait(host)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", m.config.UserAgent)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RequestError{Status: resp.StatusCode, Body: string(body)}
	}

	// gofeed.Parser keeps per-parse state, so each fetch gets its own.
	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, &ParseError{Reason: err.Error()}
	}
	if parsed.FeedType != "rss" || parsed.FeedVersion == "" {
		return nil, &ParseError{Reason: "feed does not declare an RSS version"}
	}
	if parsed.Title == "" {
		return nil, &ParseError{Reason: "feed missing title"}
	}

	items := make([]rssItem, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item.Title == "" || item.Link == "" || item.GUID == "" || item.PublishedParsed == nil {
			return nil, &ParseError{Reason: "item missing title, link, guid, or publish date"}
		}
		items = append(items, rssItem{
			guid:      item.GUID,
			title:     item.Title,
			link:      item.Link,
			timestamp: item.PublishedParsed.UnixMilli(),
		})
	}

	return &rssSnapshot{title: parsed.Title, items: items}, nil
}

// feedOrigin derives the grouping key for a feed URL.
func feedOrigin(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("missing scheme or host")
	}
	return u.Scheme + "://" + u.Host, nil
}

func totalFeeds(feeds *models.RSSFeeds) int {
	n := 0
	for i := range feeds.Hosts {
		n += len(feeds.Hosts[i].Feeds)
	}
	return n
}
