// Package feeds implements the per-source update managers. Each
// manager knows how to fetch, parse, and diff one upstream against the
// watermarks stored in its collection.
package feeds

import "time"

// Config holds settings shared by all managers.
type Config struct {
	Timeout        time.Duration
	UserAgent      string
	RedditBaseURL  string
	CreatorBaseURL string
}

// DefaultConfig returns the production manager configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:        30 * time.Second,
		UserAgent:      "feedwatch/1.0",
		RedditBaseURL:  "https://www.reddit.com",
		CreatorBaseURL: "https://kemono.su",
	}
}

// FeedFailure records a single feed that could not be updated inside an
// otherwise successful source update.
type FeedFailure struct {
	Host string
	Feed string
	Err  error
}
