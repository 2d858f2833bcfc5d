package feeds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/johnrirwin/feedwatch/internal/models"
	"github.com/johnrirwin/feedwatch/internal/ratelimit"
)

type fakeSubmission struct {
	name    string
	title   string
	author  string
	url     string
	created float64
}

func listingJSON(submissions []fakeSubmission) string {
	children := make([]map[string]interface{}, 0, len(submissions))
	for _, s := range submissions {
		children = append(children, map[string]interface{}{
			"data": map[string]interface{}{
				"name":    s.name,
				"title":   s.title,
				"author":  s.author,
				"url":     s.url,
				"created": s.created,
			},
		})
	}
	body, _ := json.Marshal(map[string]interface{}{
		"data": map[string]interface{}{"children": children},
	})
	return string(body)
}

func testRedditManager(serverURL string) *RedditManager {
	config := DefaultConfig()
	config.Timeout = 5 * time.Second
	return NewRedditManager(serverURL, ratelimit.New(0), config)
}

func TestRedditAdd_SeedsWatermark(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "1" {
			t.Errorf("seed request limit = %q, want %q", got, "1")
		}
		fmt.Fprint(w, listingJSON([]fakeSubmission{
			{name: "t3_newest", title: "Newest", author: "alice", url: "https://example.com/1", created: 1000},
		}))
	}))
	defer server.Close()

	manager := testRedditManager(server.URL)
	collection := manager.Empty()

	err := manager.Add(context.Background(), &collection, models.FeedData{Subreddit: "golang", User: "alice"})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if len(collection.Subreddits) != 1 {
		t.Fatalf("got %d subreddits, want 1", len(collection.Subreddits))
	}
	sub := collection.Subreddits[0]
	if sub.LastRead == nil {
		t.Fatal("Add() should seed the watermark")
	}
	if sub.LastRead.Name != "t3_newest" {
		t.Errorf("watermark name = %q, want %q", sub.LastRead.Name, "t3_newest")
	}
	if sub.LastRead.Timestamp != 1000000 {
		t.Errorf("watermark timestamp = %d, want %d", sub.LastRead.Timestamp, 1000000)
	}
}

func TestRedditAdd_ExistingSubredditNoRequest(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		fmt.Fprint(w, listingJSON(nil))
	}))
	defer server.Close()

	manager := testRedditManager(server.URL)
	collection := models.RedditFeeds{Subreddits: []models.Subreddit{
		{Name: "golang", Users: []string{"alice"}},
	}}

	err := manager.Add(context.Background(), &collection, models.FeedData{Subreddit: "golang", User: "bob"})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if requests != 0 {
		t.Errorf("adding a user to a tracked subreddit made %d requests, want 0", requests)
	}
	if len(collection.Subreddits[0].Users) != 2 {
		t.Errorf("got %d users, want 2", len(collection.Subreddits[0].Users))
	}
}

func TestRedditAdd_Duplicate(t *testing.T) {
	manager := testRedditManager("http://unused.invalid")
	collection := models.RedditFeeds{Subreddits: []models.Subreddit{
		{Name: "golang", Users: []string{"alice"}},
	}}

	err := manager.Add(context.Background(), &collection, models.FeedData{Subreddit: "golang", User: "alice"})
	var duplicate *DuplicateFeedError
	if !errors.As(err, &duplicate) {
		t.Fatalf("Add() error = %v, want DuplicateFeedError", err)
	}
}

func TestRedditRemove(t *testing.T) {
	manager := testRedditManager("http://unused.invalid")
	collection := models.RedditFeeds{Subreddits: []models.Subreddit{
		{Name: "golang", Users: []string{"alice", "bob"}},
	}}

	if err := manager.Remove(&collection, models.FeedData{Subreddit: "golang", User: "alice"}); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if len(collection.Subreddits) != 1 || len(collection.Subreddits[0].Users) != 1 {
		t.Fatalf("Remove() should leave one user, got %+v", collection.Subreddits)
	}

	if err := manager.Remove(&collection, models.FeedData{Subreddit: "golang", User: "bob"}); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if len(collection.Subreddits) != 0 {
		t.Error("removing the last user should prune the subreddit")
	}

	err := manager.Remove(&collection, models.FeedData{Subreddit: "golang", User: "carol"})
	var notFound *FeedNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Remove() error = %v, want FeedNotFoundError", err)
	}
}

func TestRedditHas(t *testing.T) {
	manager := testRedditManager("http://unused.invalid")
	collection := models.RedditFeeds{Subreddits: []models.Subreddit{
		{Name: "golang", Users: []string{"alice"}},
	}}

	if !manager.Has(&collection, models.FeedData{Subreddit: "golang", User: "alice"}) {
		t.Error("Has() = false for a tracked user")
	}
	if manager.Has(&collection, models.FeedData{Subreddit: "golang", User: "bob"}) {
		t.Error("Has() = true for an untracked user")
	}
	if manager.Has(&collection, models.FeedData{Subreddit: "rust", User: "alice"}) {
		t.Error("Has() = true for an untracked subreddit")
	}
}

func TestRedditUpdate_FirstRunObservesOnly(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		fmt.Fprint(w, listingJSON([]fakeSubmission{
			{name: "t3_b", title: "B", author: "alice", url: "https://example.com/b", created: 2000},
			{name: "t3_a", title: "A", author: "alice", url: "https://example.com/a", created: 1000},
		}))
	}))
	defer server.Close()

	manager := testRedditManager(server.URL)
	collection := models.RedditFeeds{Subreddits: []models.Subreddit{
		{Name: "golang", Users: []string{"alice"}},
	}}

	posts, err := manager.Update(context.Background(), &collection)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if len(posts) != 2 {
		t.Errorf("first run got %d posts, want 2 from the newest page", len(posts))
	}
	if requests != 1 {
		t.Errorf("first run made %d requests, want 1", requests)
	}

	watermark := collection.Subreddits[0].LastRead
	if watermark == nil || watermark.Name != "t3_b" {
		t.Errorf("watermark = %+v, want head of the page", watermark)
	}
}

func TestRedditUpdate_StopsAtWatermark(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingJSON([]fakeSubmission{
			{name: "t3_d", title: "D", author: "bob", url: "https://example.com/d", created: 4000},
			{name: "t3_c", title: "C", author: "alice", url: "https://example.com/c", created: 3000},
			{name: "t3_b", title: "B", author: "alice", url: "https://example.com/b", created: 2000},
			{name: "t3_a", title: "A", author: "alice", url: "https://example.com/a", created: 1000},
		}))
	}))
	defer server.Close()

	manager := testRedditManager(server.URL)
	collection := models.RedditFeeds{Subreddits: []models.Subreddit{
		{
			Name:     "golang",
			Users:    []string{"alice"},
			LastRead: &models.RedditWatermark{Name: "t3_b", Timestamp: 2000000},
		},
	}}

	posts, err := manager.Update(context.Background(), &collection)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	// t3_d is by an untracked author, t3_b and older sit at or below the
	// watermark.
	if len(posts) != 1 {
		t.Fatalf("got %d posts, want 1", len(posts))
	}
	if posts[0].ID != "t3_c" {
		t.Errorf("post ID = %q, want %q", posts[0].ID, "t3_c")
	}
	if posts[0].Source != "In r/golang by u/alice" {
		t.Errorf("post Source = %q", posts[0].Source)
	}
	if posts[0].Created != 3000000 {
		t.Errorf("post Created = %d, want %d", posts[0].Created, 3000000)
	}

	watermark := collection.Subreddits[0].LastRead
	if watermark.Name != "t3_d" {
		t.Errorf("watermark = %q, want head of the first page", watermark.Name)
	}
}

func TestRedditUpdate_StopsOnOlderTimestamp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The watermark submission itself no longer appears.
		fmt.Fprint(w, listingJSON([]fakeSubmission{
			{name: "t3_c", title: "C", author: "alice", url: "https://example.com/c", created: 3000},
			{name: "t3_a", title: "A", author: "alice", url: "https://example.com/a", created: 1000},
		}))
	}))
	defer server.Close()

	manager := testRedditManager(server.URL)
	collection := models.RedditFeeds{Subreddits: []models.Subreddit{
		{
			Name:     "golang",
			Users:    []string{"alice"},
			LastRead: &models.RedditWatermark{Name: "t3_b", Timestamp: 2000000},
		},
	}}

	posts, err := manager.Update(context.Background(), &collection)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if len(posts) != 1 || posts[0].ID != "t3_c" {
		t.Errorf("posts = %+v, want only the submission newer than the watermark timestamp", posts)
	}
}

func TestRedditUpdate_PaginatesWithCursor(t *testing.T) {
	var cursors []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		after := r.URL.Query().Get("after")
		cursors = append(cursors, after)
		switch after {
		case "":
			fmt.Fprint(w, listingJSON([]fakeSubmission{
				{name: "t3_d", title: "D", author: "alice", url: "https://example.com/d", created: 4000},
				{name: "t3_c", title: "C", author: "alice", url: "https://example.com/c", created: 3000},
			}))
		case "t3_c":
			fmt.Fprint(w, listingJSON([]fakeSubmission{
				{name: "t3_b", title: "B", author: "alice", url: "https://example.com/b", created: 2000},
				{name: "t3_a", title: "A", author: "alice", url: "https://example.com/a", created: 1000},
			}))
		default:
			t.Errorf("unexpected cursor %q", after)
			fmt.Fprint(w, listingJSON(nil))
		}
	}))
	defer server.Close()

	manager := testRedditManager(server.URL)
	collection := models.RedditFeeds{Subreddits: []models.Subreddit{
		{
			Name:     "golang",
			Users:    []string{"alice"},
			LastRead: &models.RedditWatermark{Name: "t3_a", Timestamp: 1000000},
		},
	}}

	posts, err := manager.Update(context.Background(), &collection)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if len(posts) != 3 {
		t.Errorf("got %d posts, want 3 (everything newer than t3_a)", len(posts))
	}
	if len(cursors) != 2 || cursors[1] != "t3_c" {
		t.Errorf("cursors = %v, want second request to resume after t3_c", cursors)
	}
	if watermark := collection.Subreddits[0].LastRead; watermark.Name != "t3_d" {
		t.Errorf("watermark = %q, want head of the first page", watermark.Name)
	}
}

func TestRedditUpdate_RequestBudget(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		// Every page is newer than the watermark, so the walk never
		// reaches it.
		base := float64(requests * 1000000)
		fmt.Fprint(w, listingJSON([]fakeSubmission{
			{name: fmt.Sprintf("t3_p%d_a", requests), title: "A", author: "nobody", url: "https://example.com/a", created: base + 2},
			{name: fmt.Sprintf("t3_p%d_b", requests), title: "B", author: "nobody", url: "https://example.com/b", created: base + 1},
		}))
	}))
	defer server.Close()

	manager := testRedditManager(server.URL)
	collection := models.RedditFeeds{Subreddits: []models.Subreddit{
		{
			Name:     "golang",
			Users:    []string{"alice"},
			LastRead: &models.RedditWatermark{Name: "t3_never", Timestamp: 0},
		},
	}}

	if _, err := manager.Update(context.Background(), &collection); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if requests != redditMaxRequests {
		t.Errorf("made %d requests, want exactly %d", requests, redditMaxRequests)
	}
}

func TestRedditUpdate_SharedBudgetAcrossSubreddits(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		base := float64(1000000000) - float64(requests)
		fmt.Fprint(w, listingJSON([]fakeSubmission{
			{name: fmt.Sprintf("t3_r%d", requests), title: "X", author: "nobody", url: "https://example.com/x", created: base},
		}))
	}))
	defer server.Close()

	manager := testRedditManager(server.URL)
	collection := models.RedditFeeds{Subreddits: []models.Subreddit{
		{Name: "golang", Users: []string{"alice"}, LastRead: &models.RedditWatermark{Name: "t3_never", Timestamp: 0}},
		{Name: "rust", Users: []string{"bob"}, LastRead: &models.RedditWatermark{Name: "t3_never2", Timestamp: 0}},
	}}

	if _, err := manager.Update(context.Background(), &collection); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	// The first subreddit exhausts the shared budget; the second gets a
	// single page before stopping.
	if requests != redditMaxRequests+1 {
		t.Errorf("made %d requests, want %d", requests, redditMaxRequests+1)
	}
}

func TestRedditUpdate_QuotaHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-ratelimit-remaining", "42.0")
		w.Header().Set("x-ratelimit-reset", "120")
		fmt.Fprint(w, listingJSON(nil))
	}))
	defer server.Close()

	manager := testRedditManager(server.URL)
	collection := models.RedditFeeds{Subreddits: []models.Subreddit{
		{Name: "golang", Users: []string{"alice"}},
	}}

	before := time.Now().UnixMilli()
	if _, err := manager.Update(context.Background(), &collection); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if collection.RemainingRequests == nil || *collection.RemainingRequests != 42 {
		t.Errorf("RemainingRequests = %v, want 42", collection.RemainingRequests)
	}
	if collection.ResetTimestamp == nil {
		t.Fatal("ResetTimestamp should be set")
	}
	if *collection.ResetTimestamp < before+120000 {
		t.Errorf("ResetTimestamp = %d, want at least %d", *collection.ResetTimestamp, before+120000)
	}
}

func TestRedditUpdate_QuotaBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingJSON(nil))
	}))
	defer server.Close()

	manager := testRedditManager(server.URL)
	remaining := 0
	resetAt := time.Now().UnixMilli() + 200
	collection := models.RedditFeeds{
		Subreddits:        []models.Subreddit{{Name: "golang", Users: []string{"alice"}}},
		RemainingRequests: &remaining,
		ResetTimestamp:    &resetAt,
	}

	start := time.Now()
	if _, err := manager.Update(context.Background(), &collection); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("Update() with exhausted quota returned after %v, want a wait until the reset", elapsed)
	}
}

func TestRedditUpdate_RequestError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "whoa there", http.StatusTooManyRequests)
	}))
	defer server.Close()

	manager := testRedditManager(server.URL)
	collection := models.RedditFeeds{Subreddits: []models.Subreddit{
		{Name: "golang", Users: []string{"alice"}},
	}}

	_, err := manager.Update(context.Background(), &collection)
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("Update() error = %v, want RequestError", err)
	}
	if reqErr.Status != http.StatusTooManyRequests {
		t.Errorf("RequestError.Status = %d, want %d", reqErr.Status, http.StatusTooManyRequests)
	}
}

func TestRedditUpdate_ParseError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>not json</html>")
	}))
	defer server.Close()

	manager := testRedditManager(server.URL)
	collection := models.RedditFeeds{Subreddits: []models.Subreddit{
		{Name: "golang", Users: []string{"alice"}},
	}}

	_, err := manager.Update(context.Background(), &collection)
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("Update() error = %v, want ParseError", err)
	}
}
