package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/johnrirwin/feedwatch/internal/models"
	"github.com/johnrirwin/feedwatch/internal/ratelimit"
)

// CreatorManager tracks entities on a creator platform. The platform
// exposes no item feed, only a per-entity "profile updated at"
// timestamp, so updates emit at most one synthetic post per entity.
type CreatorManager struct {
	baseURL string
	host    string
	limiter *ratelimit.Limiter
	config  Config
	client  *http.Client
}

type creatorProfile struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Updated string `json:"updated"`
}

// creatorTimeLayouts are the timestamp shapes the platform has been
// observed to emit.
var creatorTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// NewCreatorManager creates a creator-platform manager. baseURL
// overrides the upstream root when non-empty.
func NewCreatorManager(baseURL string, limiter *ratelimit.Limiter, config Config) *CreatorManager {
	if baseURL == "" {
		baseURL = config.CreatorBaseURL
	}

	host := baseURL
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		host = u.Host
	}

	return &CreatorManager{
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
func (m *CreatorManager) Empty() models.CreatorFeeds {
	return models.CreatorFeeds{Creators: []models.Creator{}}
}

// Add starts tracking an entity, capturing its display name and current
// update timestamp from the profile endpoint.
func (m *CreatorManager) Add(ctx context.Context, feeds *models.CreatorFeeds, data models.FeedData) error {
	for _, creator := range feeds.Creators {
		if creator.Service == data.Service && creator.ID == data.ID {
			return &DuplicateFeedError{Feed: fmt.Sprintf("'%s: %s(%s)'", data.Service, creator.Name, data.ID)}
		}
	}

	profile, updated, err := m.request(ctx, data.Service, data.ID)
	if err != nil {
		return err
	}

	feeds.Creators = append(feeds.Creators, models.Creator{
		Service:     data.Service,
		ID:          data.ID,
		Name:        profile.Name,
		LastUpdated: updated,
	})
	return nil
}

// Remove stops tracking an entity.
func (m *CreatorManager) Remove(feeds *models.CreatorFeeds, data models.FeedData) error {
	for i, creator := range feeds.Creators {
		if creator.Service == data.Service && creator.ID == data.ID {
			feeds.Creators = append(feeds.Creators[:i], feeds.Creators[i+1:]...)
			return nil
		}
	}
	return &FeedNotFoundError{Feed: fmt.Sprintf("'%s: %s'", data.Service, data.ID)}
}

// Has reports whether the entity is tracked. No I/O.
func (m *CreatorManager) Has(feeds *models.CreatorFeeds, data models.FeedData) bool {
	for _, creator := range feeds.Creators {
		if creator.Service == data.Service && creator.ID == data.ID {
			return true
		}
	}
	return false
}

// Update polls each entity's profile serially, emitting one synthetic
// post per entity whose update timestamp moved forward.
func (m *CreatorManager) Update(ctx context.Context, feeds *models.CreatorFeeds) ([]models.Post, error) {
	newPosts := []models.Post{}

	for i := range feeds.Creators {
		creator := &feeds.Creators[i]
		profile, updated, err := m.request(ctx, creator.Service, creator.ID)
		if err != nil {
			return nil, err
		}

		if updated > creator.LastUpdated {
			newPosts = append(newPosts, models.Post{
				ID:      creator.Service + ":" + creator.ID,
				Title:   fmt.Sprintf("%s has been updated", profile.Name),
				URL:     fmt.Sprintf("%s/%s/user/%s", m.baseURL, creator.Service, creator.ID),
				Source:  creator.Service,
				Created: updated,
			})
			creator.LastUpdated = updated
		}
	}

	return newPosts, nil
}

func (m *CreatorManager) request(ctx context.Context, service, id string) (*creatorProfile, int64, error) {
	m.limiter.Wait(m.host)

	endpoint := fmt.Sprintf("%s/api/v1/%s/user/%s/profile", m.baseURL, service, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", m.config.UserAgent)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch profile: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, 0, &RequestError{Status: resp.StatusCode, Body: string(body)}
	}

	var profile creatorProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, 0, &ParseError{Reason: err.Error()}
	}
	if profile.ID == "" || profile.Name == "" || profile.Updated == "" {
		return nil, 0, &ParseError{Reason: "profile missing id, name, or updated"}
	}

	updated, err := parseCreatorTime(profile.Updated)
	if err != nil {
		return nil, 0, &ParseError{Reason: err.Error()}
	}
	return &profile, updated, nil
}

func parseCreatorTime(value string) (int64, error) {
	for _, layout := range creatorTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("unrecognized timestamp %q", value)
}
