package rest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/italolelis/resumable_downloader/internal/downloader"
	"github.com/italolelis/resumable_downloader/internal/logctx"
	"github.com/italolelis/resumable_downloader/internal/transfer"
)

// DownloadManager is the part of downloader.Manager the API drives.
type DownloadManager interface {
	Download(ctx context.Context, item transfer.Item) (downloader.StartResult, error)
	Resume(ctx context.Context, item transfer.Item) (downloader.StartResult, error)
	Pause(ctx context.Context, id string)
	Cancel(ctx context.Context, id string)
	Delete(ctx context.Context, item transfer.Item)
	ShouldAutoResume(ctx context.Context, id string) bool
	State(id string) transfer.State
	States() map[string]transfer.State
	Items(ctx context.Context) []transfer.Item
	Subscribe(ctx context.Context, id string) <-chan transfer.Event
}

type DownloadResponse struct {
	ID         string         `json:"id"`
	URL        string         `json:"url,omitempty"`
	State      transfer.State `json:"state"`
	Progress   float64        `json:"progress"`
	AutoResume bool           `json:"auto_resume"`
}

type StartResponse struct {
	ID string `json:"id"`
	downloader.StartResult
}

type DownloadsHandler struct {
	username string
	password string
	manager  DownloadManager
}

// NewDownloadsHandler creates the downloads API. Basic auth is enforced when a username is set.
func NewDownloadsHandler(username, password string, manager DownloadManager) *DownloadsHandler {
	return &DownloadsHandler{
		username: username,
		password: password,
		manager:  manager,
	}
}

func (h *DownloadsHandler) Routes() http.Handler {
	r := chi.NewRouter()

	if h.username != "" {
		r.Use(h.basicAuthMiddleware)
	}

	r.Get("/downloads", h.HandleList)
	r.Post("/downloads", h.HandleCreate)

	r.Route("/downloads/{id}", func(r chi.Router) {
		r.Use(itemIDMiddleware)

		r.Get("/", h.HandleGet)
		r.Delete("/", h.HandleRemove)
		r.Post("/resume", h.HandleResume)
		r.Post("/pause", h.HandlePause)
		r.Get("/events", h.HandleEvents)
	})

	return r
}

// HandleList returns every known item with its state, ordered by id.
func (h *DownloadsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	urls := make(map[string]string)
	for _, item := range h.manager.Items(ctx) {
		urls[item.ID] = item.URL
	}

	for id := range h.manager.States() {
		if _, ok := urls[id]; !ok {
			urls[id] = ""
		}
	}

	ids := make([]string, 0, len(urls))
	for id := range urls {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	out := make([]DownloadResponse, 0, len(ids))
	for _, id := range ids {
		out = append(out, h.describe(ctx, transfer.Item{ID: id, URL: urls[id]}))
	}

	writeJSON(ctx, w, http.StatusOK, out)
}

func (h *DownloadsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	item, _ := h.lookup(ctx, chi.URLParam(r, "id"))

	writeJSON(ctx, w, http.StatusOK, h.describe(ctx, item))
}

// HandleCreate starts a download for {"id": ..., "url": ...}.
func (h *DownloadsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	var item transfer.Item
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		logger.Error("failed to decode request", "err", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	res, err := h.manager.Download(ctx, item)
	if err != nil {
		writeStartError(w, err)

		return
	}

	writeJSON(ctx, w, http.StatusAccepted, StartResponse{ID: item.ID, StartResult: res})
}

func (h *DownloadsHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	item, ok := h.lookup(ctx, id)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown download %s", id), http.StatusNotFound)

		return
	}

	res, err := h.manager.Resume(ctx, item)
	if err != nil {
		writeStartError(w, err)

		return
	}

	writeJSON(ctx, w, http.StatusAccepted, StartResponse{ID: id, StartResult: res})
}

// HandlePause blocks until the transfer handed over its checkpoint or the request ends.
func (h *DownloadsHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	h.manager.Pause(ctx, id)

	item, _ := h.lookup(ctx, id)
	writeJSON(ctx, w, http.StatusOK, h.describe(ctx, item))
}

// HandleRemove cancels a download. With ?purge=true the completed file is deleted too.
func (h *DownloadsHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if r.URL.Query().Get("purge") == "true" {
		item, _ := h.lookup(ctx, id)
		h.manager.Delete(ctx, item)
	} else {
		h.manager.Cancel(ctx, id)
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleEvents streams state transitions of one item as server-sent events.
func (h *DownloadsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range h.manager.Subscribe(ctx, chi.URLParam(r, "id")) {
		data, err := json.Marshal(ev)
		if err != nil {
			logger.Error("failed to marshal event", "err", err)

			continue
		}

		if _, err := fmt.Fprintf(w, "event: state\ndata: %s\n\n", data); err != nil {
			return
		}

		flusher.Flush()
	}
}

func (h *DownloadsHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if subtle.ConstantTimeCompare([]byte(username), []byte(h.username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(password), []byte(h.password)) != 1 {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

// itemIDMiddleware tags the request context so every log line carries the item id.
func itemIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logctx.WithItemID(r.Context(), chi.URLParam(r, "id"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// lookup finds the remembered item for id. Unknown ids come back with an empty URL.
func (h *DownloadsHandler) lookup(ctx context.Context, id string) (transfer.Item, bool) {
	for _, item := range h.manager.Items(ctx) {
		if item.ID == id {
			return item, true
		}
	}

	return transfer.Item{ID: id}, false
}

func (h *DownloadsHandler) describe(ctx context.Context, item transfer.Item) DownloadResponse {
	state := h.manager.State(item.ID)

	return DownloadResponse{
		ID:         item.ID,
		URL:        item.URL,
		State:      state,
		Progress:   state.ProgressValue(),
		AutoResume: h.manager.ShouldAutoResume(ctx, item.ID),
	}
}

func writeStartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, downloader.ErrInvalidItem):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, downloader.ErrShuttingDown):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to encode response", "err", err)
	}
}
