package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/SpeakInTurn/internal/app/moderator"
	"github.com/dkeye/SpeakInTurn/internal/app/participant"
	"github.com/dkeye/SpeakInTurn/internal/config"
	"github.com/dkeye/SpeakInTurn/internal/domain"
	"github.com/dkeye/SpeakInTurn/internal/status"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeParticipant struct {
	mu     sync.Mutex
	calls  []string
	status string
}

func (f *fakeParticipant) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeParticipant) Join()        { f.record("join") }
func (f *fakeParticipant) Leave()       { f.record("leave") }
func (f *fakeParticipant) StatusCheck() { f.record("status-check") }

func (f *fakeParticipant) Snapshot() participant.Snapshot {
	return participant.Snapshot{State: "queued", Status: f.status, Position: 2}
}

type fakeModerator struct {
	mu       sync.Mutex
	calls    []string
	activate []domain.ParticipantID
}

func (f *fakeModerator) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeModerator) GoLive()     { f.record("live") }
func (f *fakeModerator) StopActive() { f.record("stop") }
func (f *fakeModerator) Shutdown()   { f.record("shutdown") }

func (f *fakeModerator) Activate(id domain.ParticipantID) {
	f.record("activate")
	f.mu.Lock()
	f.activate = append(f.activate, id)
	f.mu.Unlock()
}

func (f *fakeModerator) Snapshot() moderator.Snapshot {
	return moderator.Snapshot{State: "live", Roster: []domain.ParticipantID{"a", "b"}}
}

func testConfig() *config.Config {
	return &config.Config{
		Mode:                "release",
		Secret:              "test",
		StatusCheckLimit:    2,
		StatusCheckInterval: time.Minute,
	}
}

func do(r http.Handler, method, path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", sessionName)
	return nil
}

func TestClientTokenStableAcrossRequests(t *testing.T) {
	r := newEngine(testConfig())
	r.GET("/token", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(clientTokenKey))
	})

	first := do(r, http.MethodGet, "/token")
	require.Equal(t, http.StatusOK, first.Code)
	token := first.Body.String()
	require.NotEmpty(t, token)
	ck := sessionCookie(t, first)

	again := do(r, http.MethodGet, "/token", ck)
	assert.Equal(t, token, again.Body.String())

	other := do(r, http.MethodGet, "/token")
	assert.NotEqual(t, token, other.Body.String())
}

func TestParticipantRoutes(t *testing.T) {
	p := &fakeParticipant{status: "Queued"}
	r := SetupParticipantRouter(context.Background(), testConfig(), status.NewHub(nil), p)

	assert.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/api/queue").Code)
	assert.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/api/leave").Code)
	assert.Equal(t, []string{"join", "leave"}, p.calls)

	w := do(r, http.MethodGet, "/api/state")
	require.Equal(t, http.StatusOK, w.Code)
	var snap participant.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, "Queued", snap.Status)
	assert.Equal(t, 2, snap.Position)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/api/live").Code)
}

func TestStatusCheckRateLimitedPerClient(t *testing.T) {
	p := &fakeParticipant{}
	r := SetupParticipantRouter(context.Background(), testConfig(), status.NewHub(nil), p)

	first := do(r, http.MethodPost, "/api/status-check")
	require.Equal(t, http.StatusAccepted, first.Code)
	ct := sessionCookie(t, first)

	assert.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/api/status-check", ct).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, http.MethodPost, "/api/status-check", ct).Code)
	assert.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/api/status-check").Code)
	assert.Len(t, p.calls, 3)
}

func TestModeratorRoutes(t *testing.T) {
	m := &fakeModerator{}
	r := SetupModeratorRouter(context.Background(), testConfig(), status.NewHub(nil), m)

	assert.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/api/live").Code)
	assert.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/api/activate/alice").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/activate/"+strings.Repeat("x", domain.MaxParticipantIDLen+1)).Code)
	assert.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/api/stop").Code)
	assert.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/api/shutdown").Code)
	assert.Equal(t, []string{"live", "activate", "stop", "shutdown"}, m.calls)
	assert.Equal(t, []domain.ParticipantID{"alice"}, m.activate)

	w := do(r, http.MethodGet, "/api/state")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"roster":["a","b"]`)
}

func TestEventsStream(t *testing.T) {
	hub := status.NewHub(nil)
	defer hub.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub.Publish(status.Event{Role: domain.RoleParticipant, Type: status.EventStatus, Status: "Queued"})
	srv := httptest.NewServer(SetupParticipantRouter(ctx, testConfig(), hub, &fakeParticipant{}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/events"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))

	var replay status.Event
	require.NoError(t, ws.ReadJSON(&replay))
	assert.Equal(t, "Queued", replay.Status)

	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 5*time.Millisecond)
	hub.Publish(status.Event{Role: domain.RoleParticipant, Type: status.EventPosition, Position: 4})
	var next status.Event
	require.NoError(t, ws.ReadJSON(&next))
	assert.Equal(t, status.EventPosition, next.Type)
	assert.Equal(t, 4, next.Position)
}
