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

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wyydra/wacall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/wacall/internal/core/domain"
	"github.com/Wyydra/wacall/internal/core/service"
)

type fakeCalls struct {
	mu      sync.Mutex
	dialErr error
	endErr  error
	dialed  []string
	ended   int
	snap    domain.Snapshot
}

func (f *fakeCalls) Dial(ctx context.Context, peerNumber, reference string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.TrimSpace(peerNumber) == "" {
		return service.ErrEmptyNumber
	}
	f.dialed = append(f.dialed, peerNumber+"|"+reference)
	return f.dialErr
}

func (f *fakeCalls) Answer(ctx context.Context) error {
	return domain.NewCallError(domain.KindInvalidTransition, "", nil)
}

func (f *fakeCalls) EndCall(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended++
	return f.endErr
}

func (f *fakeCalls) Decline(ctx context.Context) error { return nil }

func (f *fakeCalls) RequestPermission(ctx context.Context, peerNumber, reference string) (domain.PermissionRequest, error) {
	return domain.PermissionRequest{Accepted: true}, nil
}

func (f *fakeCalls) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, nil
}

func (f *fakeCalls) dialedNumbers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dialed...)
}

func (f *fakeCalls) endCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ended
}

func newServer(t *testing.T, calls *fakeCalls) (*httptest.Server, *ws.Hub) {
	t.Helper()
	hub := ws.NewHub()
	go hub.Run()
	srv := httptest.NewServer(NewHandler(calls, hub).NewRouter())
	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
	})
	return srv, hub
}

func post(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestDialAccepted(t *testing.T) {
	calls := &fakeCalls{snap: domain.Snapshot{State: domain.StateConnecting, CallID: "c1", PeerNumber: "+1555"}}
	srv, _ := newServer(t, calls)

	resp, body := post(t, srv.URL+"/api/calls", `{"to_number":"+1555","lead_reference":"LEAD-1"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "Connecting", body["state"])
	assert.Equal(t, "c1", body["call_id"])
	assert.Equal(t, []string{"+1555|LEAD-1"}, calls.dialedNumbers())
}

func TestDialPermissionDenied(t *testing.T) {
	calls := &fakeCalls{dialErr: domain.NewCallError(domain.KindPermissionDenied, "Permission expired", nil)}
	srv, _ := newServer(t, calls)

	resp, body := post(t, srv.URL+"/api/calls", `{"to_number":"+1555"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Permission expired", body["error"])
	assert.Equal(t, true, body["permission_offer"])
}

func TestDialValidation(t *testing.T) {
	srv, _ := newServer(t, &fakeCalls{})

	resp, _ := post(t, srv.URL+"/api/calls", `{"to_number":" "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = post(t, srv.URL+"/api/calls", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCommandErrors(t *testing.T) {
	calls := &fakeCalls{endErr: domain.NewCallError(domain.KindNoActiveCall, "", nil)}
	srv, _ := newServer(t, calls)

	resp, body := post(t, srv.URL+"/api/calls/end", ``)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NoActiveCall", body["kind"])

	resp, _ = post(t, srv.URL+"/api/calls/answer", ``)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = post(t, srv.URL+"/api/calls/decline", ``)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Idle", body["state"])
}

func TestRequestPermissionRoute(t *testing.T) {
	srv, _ := newServer(t, &fakeCalls{})
	resp, body := post(t, srv.URL+"/api/permissions", `{"to_number":"+1555"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["accepted"])
}

func TestCurrentAndHealth(t *testing.T) {
	secs := 12
	calls := &fakeCalls{snap: domain.Snapshot{State: domain.StateActive, ElapsedSeconds: &secs}}
	srv, _ := newServer(t, calls)

	resp, err := http.Get(srv.URL + "/api/calls/current")
	require.NoError(t, err)
	defer resp.Body.Close()
	var snap map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "Active", snap["state"])
	assert.Equal(t, float64(12), snap["elapsed_seconds"])

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebsocketSnapshotsAndCommands(t *testing.T) {
	calls := &fakeCalls{endErr: domain.NewCallError(domain.KindNoActiveCall, "no call to end", nil)}
	srv, hub := newServer(t, calls)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var ev struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "snapshot", ev.Event)

	hub.Publish(domain.Snapshot{State: domain.StateRinging, CallID: "c9"})
	require.NoError(t, conn.ReadJSON(&ev))
	var raw map[string]any
	require.NoError(t, json.Unmarshal(ev.Data, &raw))
	assert.Equal(t, "Ringing", raw["state"])
	assert.Equal(t, "c9", raw["call_id"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "end"}))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "error", ev.Event)
	assert.Contains(t, string(ev.Data), "no call to end")
	assert.Equal(t, 1, calls.endCount())
}
