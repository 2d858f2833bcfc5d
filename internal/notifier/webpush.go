package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/google/uuid"

	"github.com/johnrirwin/feedwatch/internal/logging"
	"github.com/johnrirwin/feedwatch/internal/models"
	"github.com/johnrirwin/feedwatch/internal/storage"
)

// Subscription is one registered web push endpoint. Keys carries the
// client's p256dh and auth keys.
type Subscription struct {
	ID       string            `json:"id"`
	Endpoint string            `json:"endpoint"`
	Keys     map[string]string `json:"keys"`
}

// VAPIDConfig holds the web push signing keys.
type VAPIDConfig struct {
	PublicKey    string
	PrivateKey   string
	ContactEmail string
}

// Configured reports whether all keys are present.
func (c VAPIDConfig) Configured() bool {
	return c.PublicKey != "" && c.PrivateKey != "" && c.ContactEmail != ""
}

// WebPushNotifier sends one push notification per new post to every
// registered subscription. Subscriptions are persisted in the store.
type WebPushNotifier struct {
	mu     sync.Mutex
	store  storage.Store
	logger *logging.Logger
	vapid  VAPIDConfig
}

// NewWebPush creates a push notifier.
func NewWebPush(store storage.Store, vapid VAPIDConfig, logger *logging.Logger) (*WebPushNotifier, error) {
	if !vapid.Configured() {
		return nil, fmt.Errorf("VAPID configuration required: public key, private key, and contact email")
	}

	return &WebPushNotifier{
		store:  store,
		logger: logger,
		vapid:  vapid,
	}, nil
}

// Subscribe registers a push endpoint and returns its id. Re-registering
// an endpoint replaces its keys and keeps a single subscription.
func (n *WebPushNotifier) Subscribe(ctx context.Context, endpoint string, keys map[string]string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	subs, err := n.load(ctx)
	if err != nil {
		return "", err
	}

	for i := range subs {
		if subs[i].Endpoint == endpoint {
			subs[i].Keys = keys
			return subs[i].ID, n.save(ctx, subs)
		}
	}

	sub := Subscription{ID: uuid.NewString(), Endpoint: endpoint, Keys: keys}
	subs = append(subs, sub)
	return sub.ID, n.save(ctx, subs)
}

// Unsubscribe removes a push endpoint.
func (n *WebPushNotifier) Unsubscribe(ctx context.Context, endpoint string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	subs, err := n.load(ctx)
	if err != nil {
		return err
	}

	remaining := subs[:0]
	for _, sub := range subs {
		if sub.Endpoint != endpoint {
			remaining = append(remaining, sub)
		}
	}
	return n.save(ctx, remaining)
}

// Notify pushes one notification for the post to every subscription.
// Failures are logged; endpoints reported gone are dropped.
func (n *WebPushNotifier) Notify(ctx context.Context, post models.Post) {
	n.mu.Lock()
	defer n.mu.Unlock()

	subs, err := n.load(ctx)
	if err != nil {
		n.logger.Warn("Failed to load push subscriptions", logging.WithField("error", err.Error()))
		return
	}

	payload, err := json.Marshal(map[string]interface{}{
		"title": post.Title,
		"body":  fmt.Sprintf("%s\n%s", post.Source, relativeAge(post.Created, time.Now())),
		"data": map[string]interface{}{
			"id":  post.ID,
			"url": post.URL,
		},
	})
	if err != nil {
		n.logger.Warn("Failed to marshal push payload", logging.WithField("error", err.Error()))
		return
	}

	kept := subs[:0]
	changed := false
	for _, sub := range subs {
		gone, err := n.send(payload, sub)
		if err != nil {
			n.logger.Warn("Failed to push notification", logging.WithFields(map[string]interface{}{
				"endpoint": sub.Endpoint,
				"error":    err.Error(),
			}))
		}
		if gone {
			changed = true
			continue
		}
		kept = append(kept, sub)
	}

	if changed {
		if err := n.save(ctx, kept); err != nil {
			n.logger.Warn("Failed to prune push subscriptions", logging.WithField("error", err.Error()))
		}
	}
}

// send pushes one payload. It reports gone=true when the endpoint no
// longer exists and should be forgotten.
func (n *WebPushNotifier) send(payload []byte, sub Subscription) (gone bool, err error) {
	resp, err := webpush.SendNotification(payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys["p256dh"],
			Auth:   sub.Keys["auth"],
		},
	}, &webpush.Options{
		Subscriber:      n.vapid.ContactEmail,
		VAPIDPublicKey:  n.vapid.PublicKey,
		VAPIDPrivateKey: n.vapid.PrivateKey,
		TTL:             86400,
		Urgency:         webpush.UrgencyNormal,
	})
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == 404 || resp.StatusCode == 410 {
		return true, fmt.Errorf("subscription gone with status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return false, fmt.Errorf("notification rejected with status %d", resp.StatusCode)
	}
	return false, nil
}

func (n *WebPushNotifier) load(ctx context.Context) ([]Subscription, error) {
	subs := []Subscription{}
	if _, err := n.store.Get(ctx, storage.KeyPushSubscriptions, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

func (n *WebPushNotifier) save(ctx context.Context, subs []Subscription) error {
	return n.store.Set(ctx, storage.KeyPushSubscriptions, subs)
}

// Ensure WebPushNotifier implements Notifier
var _ Notifier = (*WebPushNotifier)(nil)
