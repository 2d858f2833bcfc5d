package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/johnrirwin/feedwatch/internal/models"
	"github.com/johnrirwin/feedwatch/internal/ratelimit"
)

const (
	// redditPageSize is the listing size requested while diffing.
	redditPageSize = 100
	// redditMaxRequests caps listing requests in one Update call, over
	// all subreddits, to bound worst-case request volume.
	redditMaxRequests = 100
)

// RedditManager tracks users' submissions within subreddits. The
// watermark is subreddit-wide; submissions newer than it and authored
// by a tracked user become posts.
type RedditManager struct {
	baseURL string
	host    string
	limiter *ratelimit.Limiter
	config  Config
	client  *http.Client
}

type redditListing struct {
	Data struct {
		Children []redditChild `json:"children"`
	} `json:"data"`
}

type redditChild struct {
	Data redditSubmission `json:"data"`
}

type redditSubmission struct {
	Name    string  `json:"name"`
	Title   string  `json:"title"`
	Author  string  `json:"author"`
	URL     string  `json:"url"`
	Created float64 `json:"created"`
}

// NewRedditManager creates a reddit manager. baseURL overrides the
// upstream root when non-empty (tests point it at a local server).
func NewRedditManager(baseURL string, limiter *ratelimit.Limiter, config Config) *RedditManager {
	if baseURL == "" {
		baseURL = config.RedditBaseURL
	}

	host := baseURL
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		host = u.Host
	}

	return &RedditManager{
		baseURL: baseURL,
		host:    host,
		limiter: limiter,
		config:  config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Empty returns the collection used before anything is tracked.
func (m *RedditManager) Empty() models.RedditFeeds {
	return models.RedditFeeds{Subreddits: []models.Subreddit{}}
}

// Add starts tracking a user in a subreddit. A new subreddit's
// watermark is seeded from its single newest submission so the next
// update only reports newer activity.
func (m *RedditManager) Add(ctx context.Context, feeds *models.RedditFeeds, data models.FeedData) error {
	for i := range feeds.Subreddits {
		sub := &feeds.Subreddits[i]
		if sub.Name != data.Subreddit {
			continue
		}
		if containsUser(sub.Users, data.User) {
			return &DuplicateFeedError{Feed: fmt.Sprintf("'u/%s' in 'r/%s'", data.User, data.Subreddit)}
		}
		sub.Users = append(sub.Users, data.User)
		return nil
	}

	submissions, err := m.request(ctx, feeds, m.listingURL(data.Subreddit, 1, ""))
	if err != nil {
		return err
	}

	sub := models.Subreddit{Name: data.Subreddit, Users: []string{data.User}}
	if len(submissions) > 0 {
		sub.LastRead = &models.RedditWatermark{
			Name:      submissions[0].Name,
			Timestamp: secondsToMillis(submissions[0].Created),
		}
	}
	feeds.Subreddits = append(feeds.Subreddits, sub)
	return nil
}

// Remove stops tracking a user in a subreddit and prunes the subreddit
// once its last user is removed.
func (m *RedditManager) Remove(feeds *models.RedditFeeds, data models.FeedData) error {
	for i := range feeds.Subreddits {
		sub := &feeds.Subreddits[i]
		if sub.Name != data.Subreddit || !containsUser(sub.Users, data.User) {
			continue
		}

		users := make([]string, 0, len(sub.Users)-1)
		for _, u := range sub.Users {
			if u != data.User {
				users = append(users, u)
			}
		}
		sub.Users = users

		if len(sub.Users) == 0 {
			feeds.Subreddits = append(feeds.Subreddits[:i], feeds.Subreddits[i+1:]...)
		}
		return nil
	}

	return &FeedNotFoundError{Feed: fmt.Sprintf("'u/%s' in 'r/%s'", data.User, data.Subreddit)}
}

// Has reports whether the user is tracked in the subreddit. No I/O.
func (m *RedditManager) Has(feeds *models.RedditFeeds, data models.FeedData) bool {
	for i := range feeds.Subreddits {
		if feeds.Subreddits[i].Name == data.Subreddit {
			return containsUser(feeds.Subreddits[i].Users, data.User)
		}
	}
	return false
}

// Update walks each subreddit's newest submissions until it reaches the
// stored watermark, collecting tracked users' submissions. The request
// budget is shared across subreddits within one call.
func (m *RedditManager) Update(ctx context.Context, feeds *models.RedditFeeds) ([]models.Post, error) {
	newPosts := []models.Post{}
	requests := 0

	for i := range feeds.Subreddits {
		posts, err := m.subredditPosts(ctx, feeds, &feeds.Subreddits[i], &requests)
		if err != nil {
			return nil, err
		}
		newPosts = append(newPosts, posts...)
	}

	return newPosts, nil
}

func (m *RedditManager) subredditPosts(ctx context.Context, feeds *models.RedditFeeds, sub *models.Subreddit, requests *int) ([]models.Post, error) {
	firstPage, err := m.request(ctx, feeds, m.listingURL(sub.Name, redditPageSize, ""))
	if err != nil {
		return nil, err
	}

	newPosts := []models.Post{}
	page := firstPage
	for {
		*requests++

		reachedWatermark := false
		for _, submission := range page {
			if sub.LastRead != nil && (submission.Name == sub.LastRead.Name ||
				secondsToMillis(submission.Created) < sub.LastRead.Timestamp) {
				// The timestamp check covers a watermark submission
				// deleted upstream between polls.
				reachedWatermark = true
				break
			}

			if containsUser(sub.Users, submission.Author) {
				newPosts = append(newPosts, models.Post{
					ID:      submission.Name,
					Title:   submission.Title,
					URL:     submission.URL,
					Source:  fmt.Sprintf("In r/%s by u/%s", sub.Name, submission.Author),
					Created: secondsToMillis(submission.Created),
				})
			}
		}

		// Without a watermark there is nothing to page back towards:
		// observe the newest page and start diffing from there.
		if reachedWatermark || sub.LastRead == nil || len(page) == 0 || *requests >= redditMaxRequests {
			break
		}

		last := page[len(page)-1]
		page, err = m.request(ctx, feeds, m.listingURL(sub.Name, redditPageSize, last.Name))
		if err != nil {
			return nil, err
		}
	}

	// The watermark always reflects the head of the first page fetched
	// this cycle, the newest known submission, regardless of how deep
	// the walk went.
	if len(firstPage) > 0 {
		sub.LastRead = &models.RedditWatermark{
			Name:      firstPage[0].Name,
			Timestamp: secondsToMillis(firstPage[0].Created),
		}
	}

	return newPosts, nil
}

func (m *RedditManager) listingURL(subreddit string, limit int, after string) string {
	u := fmt.Sprintf("%s/r/%s/new.json?limit=%d", m.baseURL, subreddit, limit)
	if after != "" {
		u += "&after=" + url.QueryEscape(after)
	}
	return u
}

// request issues one listing request, honoring the fixed inter-request
// delay and any quota exhaustion reported by the previous response.
// The quota fields live on the collection so they survive between
// cycles and are shared by all subreddits.
func (m *RedditManager) request(ctx context.Context, feeds *models.RedditFeeds, rawURL string) ([]redditSubmission, error) {
	m.limiter.Wait(m.host)
	if feeds.ResetTimestamp != nil && feeds.RemainingRequests != nil && *feeds.RemainingRequests == 0 {
		if wait := time.Duration(*feeds.ResetTimestamp-time.Now().UnixMilli()) * time.Millisecond; wait > 0 {
			time.Sleep(wait)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", m.config.UserAgent)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch submissions: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if remaining := resp.Header.Get("x-ratelimit-remaining"); remaining != "" {
		if reset := resp.Header.Get("x-ratelimit-reset"); reset != "" {
			if rem, err := strconv.ParseFloat(remaining, 64); err == nil {
				if res, err := strconv.ParseFloat(reset, 64); err == nil {
					remInt := int(rem)
					// Reset header counts seconds until the quota window rolls over.
					resetAt := time.Now().UnixMilli() + int64(res*1000)
					feeds.RemainingRequests = &remInt
					feeds.ResetTimestamp = &resetAt
				}
			}
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RequestError{Status: resp.StatusCode, Body: string(body)}
	}

	var listing redditListing
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, &ParseError{Reason: err.Error()}
	}

	submissions := make([]redditSubmission, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		if child.Data.Name == "" {
			return nil, &ParseError{Reason: "submission missing name"}
		}
		submissions = append(submissions, child.Data)
	}
	return submissions, nil
}

func containsUser(users []string, user string) bool {
	for _, u := range users {
		if u == user {
			return true
		}
	}
	return false
}

func secondsToMillis(seconds float64) int64 {
	return int64(seconds * 1000)
}
