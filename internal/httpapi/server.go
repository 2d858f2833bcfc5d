package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/johnrirwin/feedwatch/internal/engine"
	"github.com/johnrirwin/feedwatch/internal/feeds"
	"github.com/johnrirwin/feedwatch/internal/logging"
	"github.com/johnrirwin/feedwatch/internal/models"
	"github.com/johnrirwin/feedwatch/internal/notifier"
	"github.com/johnrirwin/feedwatch/internal/ratelimit"
)

type Server struct {
	engine        *engine.Engine
	notify        notifier.Notifier
	push          *notifier.WebPushNotifier
	updateLimiter ratelimit.RateLimiter
	logger        *logging.Logger
	server        *http.Server
}

// New creates the server. push may be nil when web push is not
// configured; the subscription routes are only registered when it is
// present. updateLimiter throttles manual update requests.
func New(eng *engine.Engine, notify notifier.Notifier, push *notifier.WebPushNotifier, updateLimiter ratelimit.RateLimiter, logger *logging.Logger) *Server {
	return &Server{
		engine:        eng,
		notify:        notify,
		push:          push,
		updateLimiter: updateLimiter,
		logger:        logger,
	}
}

func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}

	s.logger.Info("HTTP API server starting", logging.WithField("addr", addr))
	return s.server.ListenAndServe()
}

// Handler builds the route table. Split from Start so tests can drive
// the mux without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/settings", s.corsMiddleware(s.handleSettings))
	mux.HandleFunc("/api/feeds", s.corsMiddleware(s.handleFeeds))
	mux.HandleFunc("/api/feeds/has", s.corsMiddleware(s.handleHasFeed))
	mux.HandleFunc("/api/feeds/import", s.corsMiddleware(s.handleImport))
	mux.HandleFunc("/api/posts/unread", s.corsMiddleware(s.handleUnreadPosts))
	mux.HandleFunc("/api/posts/read", s.corsMiddleware(s.handleReadPosts))
	mux.HandleFunc("/api/update", s.corsMiddleware(s.handleUpdate))
	mux.HandleFunc("/api/log", s.corsMiddleware(s.handleLog))

	if s.push != nil {
		mux.HandleFunc("/api/notifications/subscribe", s.corsMiddleware(s.handleSubscribe))
	}

	mux.HandleFunc("/health", s.handleHealth)

	return mux
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		settings, err := s.engine.Settings(r.Context())
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, settings)

	case http.MethodPut:
		var settings models.Settings
		if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		if settings.UpdatePeriodMinutes < 1 {
			http.Error(w, "update period must be at least 1 minute", http.StatusBadRequest)
			return
		}
		if err := s.engine.SetSettings(r.Context(), settings); err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleFeeds(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		source := models.Source(r.URL.Query().Get("source"))
		collection, err := s.engine.Feeds(r.Context(), source)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		s.writeJSON(w, http.StatusOK, collection)

	case http.MethodPost:
		data, ok := s.decodeFeedData(w, r)
		if !ok {
			return
		}
		s.writeFeedResult(w, s.engine.AddFeed(r.Context(), data))

	case http.MethodDelete:
		data, ok := s.decodeFeedData(w, r)
		if !ok {
			return
		}
		s.writeFeedResult(w, s.engine.RemoveFeed(r.Context(), data))

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleHasFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, ok := s.decodeFeedData(w, r)
	if !ok {
		return
	}

	has, err := s.engine.HasFeed(r.Context(), data)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"has": has})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload engine.ImportPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.Import(r.Context(), payload); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnreadPosts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	posts, err := s.engine.UnreadPosts(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, posts)
}

func (s *Server) handleReadPosts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		Open bool   `json:"open"`
		ID   string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	posts, unread, err := s.engine.ReadPosts(r.Context(), body.ID)
	if err != nil {
		var notFound *feeds.FeedNotFoundError
		if errors.As(err, &notFound) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	// The client decides whether to open the resolved posts; when it
	// only wants the badge cleared we still return them.
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"posts":  posts,
		"unread": unread,
	})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.updateLimiter != nil && !s.updateLimiter.Allow("update") {
		http.Error(w, "update already requested recently", http.StatusTooManyRequests)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	posts, unread, err := s.engine.Update(ctx)
	if err != nil {
		s.logger.Error("Failed to update feeds", logging.WithField("error", err.Error()))
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	for _, post := range posts {
		s.notify.Notify(ctx, post)
	}

	s.writeJSON(w, http.StatusOK, map[string]int{
		"new":    len(posts),
		"unread": unread,
	})
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entries, err := s.engine.Log(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Endpoint string            `json:"endpoint"`
		Keys     map[string]string `json:"keys"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.Endpoint == "" {
		http.Error(w, "endpoint is required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPost:
		id, err := s.push.Subscribe(r.Context(), body.Endpoint, body.Keys)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"id": id})

	case http.MethodDelete:
		if err := s.push.Unsubscribe(r.Context(), body.Endpoint); err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) decodeFeedData(w http.ResponseWriter, r *http.Request) (models.FeedData, bool) {
	var data models.FeedData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return models.FeedData{}, false
	}
	return data, true
}

// writeFeedResult maps add/remove outcomes onto the {ok, error} shape
// the client shows the user. Duplicate and missing feeds are expected
// outcomes, not server errors.
func (s *Server) writeFeedResult(w http.ResponseWriter, err error) {
	if err == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
		return
	}

	status := http.StatusBadGateway
	var duplicate *feeds.DuplicateFeedError
	var notFound *feeds.FeedNotFoundError
	if errors.As(err, &duplicate) {
		status = http.StatusConflict
	} else if errors.As(err, &notFound) {
		status = http.StatusNotFound
	}

	s.writeJSON(w, status, map[string]interface{}{
		"ok":    false,
		"error": err.Error(),
	})
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{
		"error": err.Error(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
