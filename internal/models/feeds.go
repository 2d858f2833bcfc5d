package models

// Source identifies one of the upstream feed providers.
type Source string

const (
	SourceReddit  Source = "reddit"
	SourceRSS     Source = "rss"
	SourceCreator Source = "creator"
)

// Sources lists all providers in the order the update cycle visits them.
var Sources = []Source{SourceReddit, SourceRSS, SourceCreator}

// FeedData identifies a single tracked target. Source selects which of
// the remaining fields are meaningful.
type FeedData struct {
	Source Source `json:"source"`

	// Reddit
	Subreddit string `json:"subreddit,omitempty"`
	User      string `json:"user,omitempty"`

	// RSS
	URL string `json:"url,omitempty"`

	// Creator platform
	Service string `json:"service,omitempty"`
	ID      string `json:"id,omitempty"`
}

// RedditWatermark marks the newest submission seen in a subreddit.
// Timestamp is milliseconds since epoch.
type RedditWatermark struct {
	Name      string `json:"name"`
	Timestamp int64  `json:"timestamp"`
}

// Subreddit tracks posts by a set of users within one subreddit. The
// watermark is subreddit-wide, shared by all tracked users.
type Subreddit struct {
	Name     string           `json:"name"`
	Users    []string         `json:"users"`
	LastRead *RedditWatermark `json:"lastRead,omitempty"`
}

// RedditFeeds is the persisted reddit collection. RemainingRequests and
// ResetTimestamp mirror the rate-limit headers of the last response and
// are shared across all subreddits.
type RedditFeeds struct {
	Subreddits        []Subreddit `json:"subreddits"`
	RemainingRequests *int        `json:"remainingRequests,omitempty"`
	ResetTimestamp    *int64      `json:"resetTimestamp,omitempty"`
}

// RSSWatermark marks the newest item seen in one feed.
type RSSWatermark struct {
	GUID      string `json:"guid"`
	Timestamp int64  `json:"timestamp"`
}

type RSSFeed struct {
	Name     string        `json:"name"`
	URL      string        `json:"url"`
	LastRead *RSSWatermark `json:"lastRead,omitempty"`
}

// RSSHost groups feeds by URL origin.
type RSSHost struct {
	Name  string    `json:"name"`
	Feeds []RSSFeed `json:"feeds"`
}

// RSSFeeds is the persisted syndication collection.
type RSSFeeds struct {
	Hosts []RSSHost `json:"hosts"`
}

// Creator tracks one entity on the creator platform. LastUpdated is the
// platform's coarse "profile changed at" timestamp in milliseconds.
type Creator struct {
	Service     string `json:"service"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	LastUpdated int64  `json:"lastUpdated"`
}

// CreatorFeeds is the persisted creator-platform collection.
type CreatorFeeds struct {
	Creators []Creator `json:"creators"`
}
