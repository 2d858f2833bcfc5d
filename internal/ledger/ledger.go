// Package ledger keeps the ordered buffer of discovered-but-unread
// posts. The ledger and the feed collections are the only writers of
// their respective storage keys.
package ledger

import (
	"context"

	"github.com/johnrirwin/feedwatch/internal/feeds"
	"github.com/johnrirwin/feedwatch/internal/models"
	"github.com/johnrirwin/feedwatch/internal/storage"
)

// Ledger persists unread posts in arrival order. There is no cap;
// posts accumulate until the user acknowledges them.
type Ledger struct {
	store storage.Store
}

// New creates a ledger over the given store.
func New(store storage.Store) *Ledger {
	return &Ledger{store: store}
}

// List returns the unread posts without mutating the ledger.
func (l *Ledger) List(ctx context.Context) ([]models.Post, error) {
	return l.load(ctx)
}

// Count returns the number of unread posts.
func (l *Ledger) Count(ctx context.Context) (int, error) {
	posts, err := l.load(ctx)
	if err != nil {
		return 0, err
	}
	return len(posts), nil
}

// Append adds posts to the tail, preserving arrival order.
func (l *Ledger) Append(ctx context.Context, posts []models.Post) error {
	if len(posts) == 0 {
		return nil
	}

	unread, err := l.load(ctx)
	if err != nil {
		return err
	}
	return l.store.Set(ctx, storage.KeyUnreadPosts, append(unread, posts...))
}

// TakeOne removes and returns the single post matching id. A missing id
// leaves the ledger untouched.
func (l *Ledger) TakeOne(ctx context.Context, id string) (*models.Post, error) {
	unread, err := l.load(ctx)
	if err != nil {
		return nil, err
	}

	for i, post := range unread {
		if post.ID != id {
			continue
		}
		remaining := append(append([]models.Post{}, unread[:i]...), unread[i+1:]...)
		if err := l.store.Set(ctx, storage.KeyUnreadPosts, remaining); err != nil {
			return nil, err
		}
		taken := post
		return &taken, nil
	}

	return nil, &feeds.FeedNotFoundError{Feed: "post '" + id + "'"}
}

// TakeAll removes and returns every post in arrival order.
func (l *Ledger) TakeAll(ctx context.Context) ([]models.Post, error) {
	unread, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	if err := l.store.Set(ctx, storage.KeyUnreadPosts, []models.Post{}); err != nil {
		return nil, err
	}
	return unread, nil
}

func (l *Ledger) load(ctx context.Context) ([]models.Post, error) {
	posts := []models.Post{}
	if _, err := l.store.Get(ctx, storage.KeyUnreadPosts, &posts); err != nil {
		return nil, err
	}
	return posts, nil
}
