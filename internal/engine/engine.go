// Package engine orchestrates the feed synchronization cycle and hosts
// the operations behind the message surface. It never persists feed
// state directly on failure paths: add/remove leave the stored
// collection untouched when the adapter reports an error.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/johnrirwin/feedwatch/internal/eventlog"
	"github.com/johnrirwin/feedwatch/internal/feeds"
	"github.com/johnrirwin/feedwatch/internal/ledger"
	"github.com/johnrirwin/feedwatch/internal/logging"
	"github.com/johnrirwin/feedwatch/internal/models"
	"github.com/johnrirwin/feedwatch/internal/storage"
)

// ImportPayload is the bulk-restore body: every source's collection,
// overwriting whatever is stored. No validation beyond decoding.
type ImportPayload struct {
	Reddit  models.RedditFeeds  `json:"reddit"`
	RSS     models.RSSFeeds     `json:"rss"`
	Creator models.CreatorFeeds `json:"creator"`
}

// Engine ties the source managers, storage, unread ledger, and
// diagnostic log together. All mutating operations are serialized; a
// timer tick arriving during a manual update waits its turn.
type Engine struct {
	mu sync.Mutex

	reddit  *feeds.RedditManager
	rss     *feeds.RSSManager
	creator *feeds.CreatorManager

	store  storage.Store
	unread *ledger.Ledger
	events *eventlog.Log
	logger *logging.Logger

	// onPeriodChange is invoked after settings are saved with a new
	// update period so the scheduler can follow.
	onPeriodChange func(periodMinutes int)
}

// New creates the engine.
func New(
	reddit *feeds.RedditManager,
	rss *feeds.RSSManager,
	creator *feeds.CreatorManager,
	store storage.Store,
	unread *ledger.Ledger,
	events *eventlog.Log,
	logger *logging.Logger,
	onPeriodChange func(periodMinutes int),
) *Engine {
	return &Engine{
		reddit:         reddit,
		rss:            rss,
		creator:        creator,
		store:          store,
		unread:         unread,
		events:         events,
		logger:         logger,
		onPeriodChange: onPeriodChange,
	}
}

// Settings returns the stored settings, or the defaults before any are
// saved.
func (e *Engine) Settings(ctx context.Context) (models.Settings, error) {
	settings := models.DefaultSettings()
	if _, err := e.store.Get(ctx, storage.KeySettings, &settings); err != nil {
		return models.Settings{}, err
	}
	return settings, nil
}

// SetSettings stores new settings and reschedules the update timer when
// the period changed.
func (e *Engine) SetSettings(ctx context.Context, settings models.Settings) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	current, err := e.Settings(ctx)
	if err != nil {
		return err
	}

	if err := e.store.Set(ctx, storage.KeySettings, settings); err != nil {
		return err
	}

	if current.UpdatePeriodMinutes != settings.UpdatePeriodMinutes && e.onPeriodChange != nil {
		e.onPeriodChange(settings.UpdatePeriodMinutes)
	}
	return nil
}

// Feeds returns the stored collection for one source.
func (e *Engine) Feeds(ctx context.Context, source models.Source) (interface{}, error) {
	switch source {
	case models.SourceReddit:
		return e.loadReddit(ctx)
	case models.SourceRSS:
		return e.loadRSS(ctx)
	case models.SourceCreator:
		return e.loadCreator(ctx)
	default:
		return nil, fmt.Errorf("unknown source %q", source)
	}
}

// AddFeed starts tracking a target. On failure nothing is persisted and
// the typed error is returned for the caller to surface.
func (e *Engine) AddFeed(ctx context.Context, data models.FeedData) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	switch data.Source {
	case models.SourceReddit:
		var collection models.RedditFeeds
		if collection, err = e.loadReddit(ctx); err == nil {
			if err = e.reddit.Add(ctx, &collection, data); err == nil {
				err = e.store.Set(ctx, storage.KeyRedditFeeds, collection)
			}
		}
	case models.SourceRSS:
		var collection models.RSSFeeds
		if collection, err = e.loadRSS(ctx); err == nil {
			if err = e.rss.Add(ctx, &collection, data); err == nil {
				err = e.store.Set(ctx, storage.KeyRSSFeeds, collection)
			}
		}
	case models.SourceCreator:
		var collection models.CreatorFeeds
		if collection, err = e.loadCreator(ctx); err == nil {
			if err = e.creator.Add(ctx, &collection, data); err == nil {
				err = e.store.Set(ctx, storage.KeyCreatorFeeds, collection)
			}
		}
	default:
		err = fmt.Errorf("unknown source %q", data.Source)
	}

	if err != nil {
		e.warn(ctx, fmt.Sprintf("Failed to add feed: %v.", err))
		return err
	}
	return nil
}

// RemoveFeed stops tracking a target.
func (e *Engine) RemoveFeed(ctx context.Context, data models.FeedData) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	switch data.Source {
	case models.SourceReddit:
		var collection models.RedditFeeds
		if collection, err = e.loadReddit(ctx); err == nil {
			if err = e.reddit.Remove(&collection, data); err == nil {
				err = e.store.Set(ctx, storage.KeyRedditFeeds, collection)
			}
		}
	case models.SourceRSS:
		var collection models.RSSFeeds
		if collection, err = e.loadRSS(ctx); err == nil {
			if err = e.rss.Remove(&collection, data); err == nil {
				err = e.store.Set(ctx, storage.KeyRSSFeeds, collection)
			}
		}
	case models.SourceCreator:
		var collection models.CreatorFeeds
		if collection, err = e.loadCreator(ctx); err == nil {
			if err = e.creator.Remove(&collection, data); err == nil {
				err = e.store.Set(ctx, storage.KeyCreatorFeeds, collection)
			}
		}
	default:
		err = fmt.Errorf("unknown source %q", data.Source)
	}

	if err != nil {
		e.warn(ctx, fmt.Sprintf("Failed to remove feed: %v.", err))
		return err
	}
	return nil
}

// HasFeed reports whether the target is tracked.
func (e *Engine) HasFeed(ctx context.Context, data models.FeedData) (bool, error) {
	switch data.Source {
	case models.SourceReddit:
		collection, err := e.loadReddit(ctx)
		if err != nil {
			return false, err
		}
		return e.reddit.Has(&collection, data), nil
	case models.SourceRSS:
		collection, err := e.loadRSS(ctx)
		if err != nil {
			return false, err
		}
		return e.rss.Has(&collection, data), nil
	case models.SourceCreator:
		collection, err := e.loadCreator(ctx)
		if err != nil {
			return false, err
		}
		return e.creator.Has(&collection, data), nil
	default:
		return false, fmt.Errorf("unknown source %q", data.Source)
	}
}

// UnreadPosts returns the unread ledger without mutating it.
func (e *Engine) UnreadPosts(ctx context.Context) ([]models.Post, error) {
	return e.unread.List(ctx)
}

// ReadPosts resolves unread posts. With an id it takes exactly that
// post; without, it drains the ledger. Returns the taken posts and the
// remaining unread count for the badge.
func (e *Engine) ReadPosts(ctx context.Context, id string) ([]models.Post, int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var posts []models.Post
	if id != "" {
		post, err := e.unread.TakeOne(ctx, id)
		if err != nil {
			e.warn(ctx, fmt.Sprintf("Failed to read post: %v.", err))
			return nil, 0, err
		}
		posts = []models.Post{*post}
	} else {
		var err error
		if posts, err = e.unread.TakeAll(ctx); err != nil {
			return nil, 0, err
		}
	}

	remaining, err := e.unread.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return posts, remaining, nil
}

// Update runs one synchronization cycle over all sources in fixed
// order. A failing source is logged and skipped; the cycle always
// terminates. Returns the newly discovered posts and the unread count.
func (e *Engine) Update(ctx context.Context) ([]models.Post, int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	newPosts := []models.Post{}
	for _, source := range models.Sources {
		e.info(ctx, fmt.Sprintf("Updating feed '%s'.", source))

		posts, err := e.updateSource(ctx, source)
		if err != nil {
			e.error(ctx, fmt.Sprintf("Failed to update feed '%s': %v.", source, err))
			continue
		}
		newPosts = append(newPosts, posts...)
	}

	unread, err := e.unread.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return newPosts, unread, nil
}

// updateSource runs one source's adapter and persists its collection.
// New posts reach the unread ledger before the collection is saved, so
// a crash between the two re-reports rather than loses posts.
func (e *Engine) updateSource(ctx context.Context, source models.Source) ([]models.Post, error) {
	switch source {
	case models.SourceReddit:
		collection, err := e.loadReddit(ctx)
		if err != nil {
			return nil, err
		}
		posts, err := e.reddit.Update(ctx, &collection)
		if err != nil {
			return nil, err
		}
		if err := e.unread.Append(ctx, posts); err != nil {
			return nil, err
		}
		return posts, e.store.Set(ctx, storage.KeyRedditFeeds, collection)

	case models.SourceRSS:
		collection, err := e.loadRSS(ctx)
		if err != nil {
			return nil, err
		}
		posts, failures := e.rss.Update(ctx, &collection)
		for _, failure := range failures {
			e.warn(ctx, fmt.Sprintf("Failed to get feed '%s' from '%s': %v.", failure.Feed, failure.Host, failure.Err))
		}
		if err := e.unread.Append(ctx, posts); err != nil {
			return nil, err
		}
		return posts, e.store.Set(ctx, storage.KeyRSSFeeds, collection)

	case models.SourceCreator:
		collection, err := e.loadCreator(ctx)
		if err != nil {
			return nil, err
		}
		posts, err := e.creator.Update(ctx, &collection)
		if err != nil {
			return nil, err
		}
		if err := e.unread.Append(ctx, posts); err != nil {
			return nil, err
		}
		return posts, e.store.Set(ctx, storage.KeyCreatorFeeds, collection)

	default:
		return nil, fmt.Errorf("unknown source %q", source)
	}
}

// Import bulk-overwrites every source's stored collection. Used for
// backup restore.
func (e *Engine) Import(ctx context.Context, payload ImportPayload) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.Set(ctx, storage.KeyRedditFeeds, payload.Reddit); err != nil {
		return err
	}
	if err := e.store.Set(ctx, storage.KeyRSSFeeds, payload.RSS); err != nil {
		return err
	}
	return e.store.Set(ctx, storage.KeyCreatorFeeds, payload.Creator)
}

// Log returns the persisted diagnostic log.
func (e *Engine) Log(ctx context.Context) ([]eventlog.Entry, error) {
	return e.events.Entries(ctx)
}

func (e *Engine) loadReddit(ctx context.Context) (models.RedditFeeds, error) {
	collection := e.reddit.Empty()
	if _, err := e.store.Get(ctx, storage.KeyRedditFeeds, &collection); err != nil {
		return models.RedditFeeds{}, err
	}
	return collection, nil
}

func (e *Engine) loadRSS(ctx context.Context) (models.RSSFeeds, error) {
	collection := e.rss.Empty()
	if _, err := e.store.Get(ctx, storage.KeyRSSFeeds, &collection); err != nil {
		return models.RSSFeeds{}, err
	}
	return collection, nil
}

func (e *Engine) loadCreator(ctx context.Context) (models.CreatorFeeds, error) {
	collection := e.creator.Empty()
	if _, err := e.store.Get(ctx, storage.KeyCreatorFeeds, &collection); err != nil {
		return models.CreatorFeeds{}, err
	}
	return collection, nil
}

// info, warn, and error mirror console lines into the persisted
// diagnostic log. A failing event log never fails the operation.
func (e *Engine) info(ctx context.Context, message string) {
	e.logger.Info(message)
	if err := e.events.Append(ctx, eventlog.SeverityInfo, message); err != nil {
		e.logger.Warn("Failed to append to event log", logging.WithField("error", err.Error()))
	}
}

func (e *Engine) warn(ctx context.Context, message string) {
	e.logger.Warn(message)
	if err := e.events.Append(ctx, eventlog.SeverityWarn, message); err != nil {
		e.logger.Warn("Failed to append to event log", logging.WithField("error", err.Error()))
	}
}

func (e *Engine) error(ctx context.Context, message string) {
	e.logger.Error(message)
	if err := e.events.Append(ctx, eventlog.SeverityError, message); err != nil {
		e.logger.Warn("Failed to append to event log", logging.WithField("error", err.Error()))
	}
}
