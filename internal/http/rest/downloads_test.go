package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/resumable_downloader/internal/downloader"
	"github.com/italolelis/resumable_downloader/internal/scheduler"
	"github.com/italolelis/resumable_downloader/internal/transfer"
)

// mockManager implements DownloadManager for testing.
type mockManager struct {
	mu          sync.Mutex
	items       []transfer.Item
	states      map[string]transfer.State
	autoResume  map[string]bool
	events      []transfer.Event
	downloadErr error
	calls       []string
}

func newMockManager() *mockManager {
	return &mockManager{
		states:     make(map[string]transfer.State),
		autoResume: make(map[string]bool),
	}
}

func (m *mockManager) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, call)
}

func (m *mockManager) Download(_ context.Context, item transfer.Item) (downloader.StartResult, error) {
	m.record("download " + item.ID)

	if m.downloadErr != nil {
		return downloader.StartResult{}, m.downloadErr
	}

	return downloader.StartResult{Source: downloader.SourceFresh, Admission: scheduler.Running}, nil
}

func (m *mockManager) Resume(_ context.Context, item transfer.Item) (downloader.StartResult, error) {
	m.record("resume " + item.ID + " " + item.URL)

	return downloader.StartResult{Source: downloader.SourceStore, Admission: scheduler.Queued}, nil
}

func (m *mockManager) Pause(_ context.Context, id string)  { m.record("pause " + id) }
func (m *mockManager) Cancel(_ context.Context, id string) { m.record("cancel " + id) }

func (m *mockManager) Delete(_ context.Context, item transfer.Item) {
	m.record("delete " + item.ID + " " + item.URL)
}

func (m *mockManager) ShouldAutoResume(_ context.Context, id string) bool { return m.autoResume[id] }

func (m *mockManager) State(id string) transfer.State {
	if s, ok := m.states[id]; ok {
		return s
	}

	return transfer.Idle()
}

func (m *mockManager) States() map[string]transfer.State { return m.states }

func (m *mockManager) Items(context.Context) []transfer.Item { return m.items }

func (m *mockManager) Subscribe(_ context.Context, _ string) <-chan transfer.Event {
	ch := make(chan transfer.Event, len(m.events))
	for _, ev := range m.events {
		ch <- ev
	}

	close(ch)

	return ch
}

func serve(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func TestDownloadsHandler_List(t *testing.T) {
	m := newMockManager()
	m.items = []transfer.Item{{ID: "b", URL: "https://example.com/b"}}
	m.states["a"] = transfer.Downloading(0.5)
	m.autoResume["b"] = true

	rec := serve(t, NewDownloadsHandler("", "", m).Routes(), http.MethodGet, "/downloads", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out []DownloadResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	require.Len(t, out, 2)

	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, transfer.KindDownloading, out[0].State.Kind)
	assert.InDelta(t, 0.5, out[0].Progress, 0.0001)

	assert.Equal(t, "b", out[1].ID)
	assert.Equal(t, "https://example.com/b", out[1].URL)
	assert.Equal(t, transfer.KindIdle, out[1].State.Kind)
	assert.True(t, out[1].AutoResume)
}

func TestDownloadsHandler_Create(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
	}{
		{"started", `{"id":"a","url":"https://example.com/a"}`, nil, http.StatusAccepted},
		{"malformed body", `{`, nil, http.StatusBadRequest},
		{"invalid item", `{"id":"","url":""}`, downloader.ErrInvalidItem, http.StatusBadRequest},
		{"shutting down", `{"id":"a","url":"https://example.com/a"}`, downloader.ErrShuttingDown, http.StatusServiceUnavailable},
		{"other failure", `{"id":"a","url":"https://example.com/a"}`, fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMockManager()
			m.downloadErr = tt.err

			rec := serve(t, NewDownloadsHandler("", "", m).Routes(), http.MethodPost, "/downloads", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)

			if tt.wantStatus == http.StatusAccepted {
				var out map[string]any
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
				assert.Equal(t, "a", out["id"])
			}
		})
	}
}

func TestDownloadsHandler_Resume(t *testing.T) {
	m := newMockManager()
	m.items = []transfer.Item{{ID: "a", URL: "https://example.com/a"}}
	h := NewDownloadsHandler("", "", m).Routes()

	rec := serve(t, h, http.MethodPost, "/downloads/a/resume", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = serve(t, h, http.MethodPost, "/downloads/missing/resume", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, []string{"resume a https://example.com/a"}, m.calls)
}

func TestDownloadsHandler_PauseAndRemove(t *testing.T) {
	m := newMockManager()
	m.items = []transfer.Item{{ID: "a", URL: "https://example.com/a"}}
	m.states["a"] = transfer.Paused([]byte("cp"))
	h := NewDownloadsHandler("", "", m).Routes()

	rec := serve(t, h, http.MethodPost, "/downloads/a/pause", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out DownloadResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, transfer.KindPaused, out.State.Kind)

	rec = serve(t, h, http.MethodDelete, "/downloads/a", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(t, h, http.MethodDelete, "/downloads/a?purge=true", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, []string{"pause a", "cancel a", "delete a https://example.com/a"}, m.calls)
}

func TestDownloadsHandler_Events(t *testing.T) {
	m := newMockManager()
	m.events = []transfer.Event{
		{ID: "a", State: transfer.Queued()},
		{ID: "a", State: transfer.Completed("/downloads/a.bin")},
	}

	rec := serve(t, NewDownloadsHandler("", "", m).Routes(), http.MethodGet, "/downloads/a/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Equal(t, 2, strings.Count(body, "event: state\n"))
	assert.Contains(t, body, `"kind":"queued"`)
	assert.Contains(t, body, `"local_path":"/downloads/a.bin"`)
}

func TestDownloadsHandler_BasicAuth(t *testing.T) {
	h := NewDownloadsHandler("user", "secret", newMockManager()).Routes()

	tests := []struct {
		name       string
		user, pass string
		setAuth    bool
		wantStatus int
	}{
		{"missing header", "", "", false, http.StatusUnauthorized},
		{"wrong password", "user", "nope", true, http.StatusUnauthorized},
		{"valid", "user", "secret", true, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/downloads", nil)
			if tt.setAuth {
				req.SetBasicAuth(tt.user, tt.pass)
			}

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}
