package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/wagate/internal/config"
	"github.com/antoniostano/wagate/internal/dispatch"
	"github.com/antoniostano/wagate/internal/event"
	"github.com/antoniostano/wagate/internal/observability"
	"github.com/antoniostano/wagate/internal/registry"
	"github.com/antoniostano/wagate/internal/store"
	"github.com/antoniostano/wagate/internal/waclient"
	"github.com/antoniostano/wagate/internal/ws"
)

var metricsSeq atomic.Int64

type apiEnv struct {
	server  *httptest.Server
	factory *waclient.MockFactory
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d_%d", time.Now().UnixNano(), metricsSeq.Add(1)))

	st, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore() error = %v", err)
	}
	factory := waclient.NewMockFactory()
	hubs := ws.NewManager(ws.Options{PingInterval: 100 * time.Millisecond, PongWait: time.Second}, metrics)
	webhooks := dispatch.NewWebhookDispatcher("", time.Second, metrics)

	reg := registry.New(registry.Options{}, factory, st, hubs, webhooks, event.NewFilter(nil), metrics)

	srv := New(config.Config{}, reg, hubs, metrics)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &apiEnv{server: ts, factory: factory}
}

func (e *apiEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	res, err := http.Post(e.server.URL+path, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return res
}

func (e *apiEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	res, err := http.Get(e.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return res
}

func (e *apiEnv) delete(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, e.server.URL+path, nil)
	if err != nil {
		t.Fatalf("build DELETE %s: %v", path, err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", path, err)
	}
	return res
}

func decodeBody[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	defer res.Body.Close()
	var out T
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	e := newAPIEnv(t)

	res := e.post(t, "/v1/sessions", map[string]string{"id": "wa-1"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	snap := decodeBody[registry.Snapshot](t, res)
	if snap.ID != "wa-1" || snap.Status != registry.StatusStarting {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	res = e.post(t, "/v1/sessions", map[string]string{"id": "wa-1"})
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate create status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
	res.Body.Close()

	res = e.get(t, "/v1/sessions/wa-1")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	res.Body.Close()

	res = e.get(t, "/v1/sessions")
	list := decodeBody[[]registry.Snapshot](t, res)
	if len(list) != 1 {
		t.Fatalf("list has %d sessions, want 1", len(list))
	}

	res = e.delete(t, "/v1/sessions/wa-1")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("terminate status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	res.Body.Close()

	res = e.delete(t, "/v1/sessions/wa-1")
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("second terminate status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
	res.Body.Close()
}

func TestCreateSessionRequiresID(t *testing.T) {
	e := newAPIEnv(t)
	res := e.post(t, "/v1/sessions", map[string]string{})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("create without id status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
	res.Body.Close()
}

func TestQREndpoint(t *testing.T) {
	e := newAPIEnv(t)
	res := e.post(t, "/v1/sessions", map[string]string{"id": "wa-1"})
	res.Body.Close()

	res = e.get(t, "/v1/sessions/wa-1/qr")
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("qr before pending status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
	res.Body.Close()

	e.factory.Client("wa-1").Emit(event.KindQR, json.RawMessage(`{"qr":"scan-me"}`))

	res = e.get(t, "/v1/sessions/wa-1/qr")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("qr status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	body := decodeBody[map[string]string](t, res)
	if body["qr"] != "scan-me" {
		t.Fatalf("qr payload = %q, want %q", body["qr"], "scan-me")
	}
}

func TestRestartEndpoint(t *testing.T) {
	e := newAPIEnv(t)
	res := e.post(t, "/v1/sessions", map[string]string{"id": "wa-1"})
	res.Body.Close()
	e.factory.Client("wa-1").Emit(event.KindReady, nil)

	res = e.post(t, "/v1/sessions/wa-1/restart", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("restart status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	snap := decodeBody[registry.Snapshot](t, res)
	if snap.Status != registry.StatusStarting {
		t.Fatalf("status after restart = %q, want %q", snap.Status, registry.StatusStarting)
	}

	res = e.post(t, "/v1/sessions/wa-missing/restart", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("restart missing status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
	res.Body.Close()
}

func TestSweepEndpoint(t *testing.T) {
	e := newAPIEnv(t)
	for _, id := range []string{"wa-up", "wa-down"} {
		res := e.post(t, "/v1/sessions", map[string]string{"id": id})
		res.Body.Close()
	}
	e.factory.Client("wa-up").Emit(event.KindReady, nil)

	res := e.post(t, "/v1/sessions/sweep", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("sweep status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	body := decodeBody[map[string]any](t, res)
	terminated, _ := body["terminated"].([]any)
	if len(terminated) != 1 {
		t.Fatalf("sweep terminated %v, want only the non-connected session", terminated)
	}

	res = e.get(t, "/v1/sessions")
	list := decodeBody[[]registry.Snapshot](t, res)
	if len(list) != 1 || list[0].ID != "wa-up" {
		t.Fatalf("surviving sessions = %+v, want only wa-up", list)
	}
}

func TestSendMessageEndpoint(t *testing.T) {
	e := newAPIEnv(t)
	res := e.post(t, "/v1/sessions", map[string]string{"id": "wa-1"})
	res.Body.Close()

	res = e.post(t, "/v1/sessions/wa-1/messages", map[string]string{"chat_id": "123@c.us", "text": "hello"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("send status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	body := decodeBody[map[string]string](t, res)
	if body["chatId"] != "123@c.us" {
		t.Fatalf("payload = %v, want chatId echoed", body)
	}

	res = e.post(t, "/v1/sessions/wa-1/messages", map[string]string{"text": "no chat"})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("send without chat status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
	res.Body.Close()

	res = e.post(t, "/v1/sessions/wa-missing/messages", map[string]string{"chat_id": "1", "text": "x"})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("send to missing session status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
	res.Body.Close()
}

func TestWebSocketSubscriberReceivesSessionEvents(t *testing.T) {
	e := newAPIEnv(t)
	res := e.post(t, "/v1/sessions", map[string]string{"id": "wa-1"})
	res.Body.Close()

	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/v1/sessions/wa-1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial session ws: %v", err)
	}
	defer conn.Close()

	// Let the hub register the subscriber before events start flowing.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		e.factory.Client("wa-1").Emit(event.KindQR, json.RawMessage(`{"qr":"scan-me"}`))
		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		var msg ws.Message
		if err := conn.ReadJSON(&msg); err == nil {
			if msg.SessionID != "wa-1" || msg.DataType != event.KindQR {
				t.Fatalf("unexpected ws message: %+v", msg)
			}
			return
		}
	}
	t.Fatalf("subscriber never received a session event")
}

func TestWebSocketUnknownSessionIsRefused(t *testing.T) {
	e := newAPIEnv(t)

	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/v1/sessions/wa-ghost/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		// The upgrade itself may be refused outright; that also satisfies
		// the contract.
		return
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("connection for an unknown session should be closed immediately")
	}
}
