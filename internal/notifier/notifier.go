// Package notifier delivers new-post notifications. Delivery is
// fire-and-forget; the engine only produces the posts.
package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/johnrirwin/feedwatch/internal/logging"
	"github.com/johnrirwin/feedwatch/internal/models"
)

// Notifier is the sink for newly discovered posts.
type Notifier interface {
	Notify(ctx context.Context, post models.Post)
}

// LogNotifier writes notifications to the console logger. Used when no
// push credentials are configured.
type LogNotifier struct {
	logger *logging.Logger
}

// NewLog creates a console-only notifier.
func NewLog(logger *logging.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, post models.Post) {
	n.logger.Info("New post", logging.WithFields(map[string]interface{}{
		"title":  post.Title,
		"source": post.Source,
		"age":    relativeAge(post.Created, time.Now()),
	}))
}

// relativeAge renders a millisecond timestamp as a coarse "3 hours ago"
// style string for notification bodies.
func relativeAge(createdMillis int64, now time.Time) string {
	d := now.Sub(time.UnixMilli(createdMillis))
	if d < 0 {
		d = 0
	}

	switch {
	case d < time.Minute:
		return fmt.Sprintf("%d seconds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%d days ago", int(d.Hours()/24))
	}
}

// Ensure LogNotifier implements Notifier
var _ Notifier = (*LogNotifier)(nil)
