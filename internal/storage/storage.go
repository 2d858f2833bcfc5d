// Package storage persists the engine's state as JSON blobs in a
// key/value store.
package storage

import "context"

// Keys enumerate every persisted blob.
const (
	KeyRedditFeeds       = "feeds:reddit"
	KeyRSSFeeds          = "feeds:rss"
	KeyCreatorFeeds      = "feeds:creator"
	KeySettings          = "settings"
	KeyUnreadPosts       = "unread-posts"
	KeyEventLog          = "event-log"
	KeyPushSubscriptions = "push-subscriptions"
)

// Store defines the interface for storage backends. Get decodes the
// blob under key into dest; when the key is absent dest is left
// untouched and found is false.
type Store interface {
	Get(ctx context.Context, key string, dest interface{}) (found bool, err error)
	Set(ctx context.Context, key string, value interface{}) error
	Delete(ctx context.Context, key string) error
}
