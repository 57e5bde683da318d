package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hxnx/lightshow/internal/database"
	"github.com/hxnx/lightshow/internal/device"
	"github.com/hxnx/lightshow/internal/display"
	"github.com/hxnx/lightshow/internal/playback"
	"github.com/hxnx/lightshow/internal/storage"
)

const testSecret = "test-secret"

type fakeDevice struct {
	mu    sync.Mutex
	state *device.PlaybackState
	power []string
}

func (f *fakeDevice) State(context.Context) *device.PlaybackState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeDevice) PowerOn(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.power = append(f.power, "on")
	return nil
}

func (f *fakeDevice) PowerOff(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.power = append(f.power, "off")
	return nil
}

type testEnv struct {
	server *Server
	store  *storage.Store
	device *fakeDevice
	adDir  string
}

func newTestEnv(t *testing.T, queueOpen bool, secret string) *testEnv {
	t.Helper()

	db, err := database.Open(context.Background(), "sqlite://:memory:", zerolog.Nop())
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	store := storage.New(db)
	dev := &fakeDevice{state: &device.PlaybackState{Running: false}}
	adDir := t.TempDir()
	logger := zerolog.Nop()

	svc := playback.NewService(store, store, dev, playback.ServiceConfig{QueueOpen: queueOpen}, logger)
	server := New(Deps{
		Playback:    svc,
		States:      dev,
		Power:       dev,
		Dispatcher:  display.NewDispatcher(dev, store, display.NewMemoryCounterStore(display.Counters{}), 100, logger),
		Content:     display.NewContent(dev, store, adDir, "advertising", logger),
		Messages:    store,
		AdminSecret: secret,
	}, logger)

	return &testEnv{server: server, store: store, device: dev, adDir: adDir}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func adminRequest(t *testing.T, method, target string, body []byte) *http.Request {
	t.Helper()

	token, err := IssueAdminToken(testSecret, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("IssueAdminToken() error = %v", err)
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func enqueueRequest(t *testing.T, fields map[string]string, fileName string, content []byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if fileName != "" {
		part, err := w.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/queue", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func enqueue(t *testing.T, env *testEnv, id, duration string) playback.EnqueueResult {
	t.Helper()

	rec := env.do(t, enqueueRequest(t, map[string]string{
		"commandId":         id,
		"trackName":         "Jingle",
		"duration":          duration,
		"externalSessionId": "session",
	}, "jingle.mid", []byte("MThd")))
	if rec.Code != http.StatusCreated {
		t.Fatalf("enqueue status = %d, body = %s", rec.Code, rec.Body.String())
	}
	return decode[playback.EnqueueResult](t, rec)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, true, testSecret)
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
}

func TestEnqueueAndList(t *testing.T) {
	env := newTestEnv(t, true, testSecret)

	first := enqueue(t, env, "cmd-a", "60")
	if first.Status != playback.StatusEnqueued || first.DurationToPlay != 0 || first.CommandID == "" {
		t.Fatalf("unexpected first result: %+v", first)
	}
	second := enqueue(t, env, "cmd-b", "30")
	if second.DurationToPlay != 65 {
		t.Fatalf("expected second to wait 65s, got %+v", second)
	}

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/queue", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, body = %s", rec.Code, rec.Body.String())
	}
	resp := decode[queueResponse](t, rec)
	if !resp.Online || !resp.QueueOpen || resp.ProcessingPlayback {
		t.Fatalf("unexpected flags: %+v", resp)
	}
	if len(resp.Commands) != 2 {
		t.Fatalf("expected 2 entries, got %+v", resp.Commands)
	}
	if first.CommandID != "cmd-a" || resp.Commands[0].ID != "cmd-a" || resp.Commands[1].TimeToStart != 63 {
		t.Fatalf("unexpected forecast: %+v", resp.Commands)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/queue?limit=1", nil))
	if resp := decode[queueResponse](t, rec); len(resp.Commands) != 1 {
		t.Fatalf("limit not applied: %+v", resp.Commands)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/queue/eta", nil))
	eta := decode[map[string]int](t, rec)
	if eta["seconds"] != 100 {
		t.Fatalf("eta = %v, want 100", eta)
	}
}

func TestEnqueueIgnoresForwardedFor(t *testing.T) {
	env := newTestEnv(t, true, testSecret)

	req := enqueueRequest(t, map[string]string{
		"commandId":         "cmd-a",
		"duration":          "10",
		"externalSessionId": "session",
	}, "jingle.mid", []byte("MThd"))
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	req.Header.Set("X-Real-IP", "203.0.113.9")
	if rec := env.do(t, req); rec.Code != http.StatusCreated {
		t.Fatalf("enqueue status = %d, body = %s", rec.Code, rec.Body.String())
	}

	cmd, err := env.store.FindByID(context.Background(), "cmd-a")
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if cmd.SubmissionHost != "192.0.2.1" {
		t.Fatalf("submission host = %q, want the peer address", cmd.SubmissionHost)
	}
}

func TestListQueueRejectsBadParams(t *testing.T) {
	env := newTestEnv(t, true, testSecret)

	for _, target := range []string{"/api/queue?status=BOGUS", "/api/queue?limit=0", "/api/queue?limit=x"} {
		rec := env.do(t, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s status = %d", target, rec.Code)
		}
	}
}

func TestEnqueueErrors(t *testing.T) {
	env := newTestEnv(t, true, testSecret)

	rec := env.do(t, enqueueRequest(t, map[string]string{"duration": "10"}, "", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing file status = %d", rec.Code)
	}

	rec = env.do(t, enqueueRequest(t, map[string]string{"duration": "ten"}, "a.mid", []byte("x")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad duration status = %d", rec.Code)
	}

	closed := newTestEnv(t, false, testSecret)
	rec = closed.do(t, enqueueRequest(t, map[string]string{"duration": "10"}, "a.mid", []byte("x")))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("closed queue status = %d", rec.Code)
	}
}

func TestCommandLifecycle(t *testing.T) {
	env := newTestEnv(t, true, testSecret)
	res := enqueue(t, env, "cmd-a", "60")

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/commands/"+res.CommandID+"/content", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "MThd" {
		t.Fatalf("content status = %d, body = %q", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Request-FileName"); got != "jingle.mid" {
		t.Fatalf("file name header = %q", got)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodPut, "/api/commands/"+res.CommandID+"/executed", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", rec.Code)
	}

	rec = env.do(t, adminRequest(t, http.MethodPut, "/api/commands/"+res.CommandID+"/executed", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("executed status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if cmd := decode[playback.Command](t, rec); cmd.Status != playback.StatusExecuted {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	rec = env.do(t, adminRequest(t, http.MethodPut, "/api/commands/"+res.CommandID+"/failed", []byte(`{"reason":"late"}`)))
	if rec.Code != http.StatusConflict {
		t.Fatalf("second transition status = %d", rec.Code)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/commands/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing command status = %d", rec.Code)
	}
}

func TestMarkFailedStoresReason(t *testing.T) {
	env := newTestEnv(t, true, testSecret)
	res := enqueue(t, env, "cmd-a", "60")

	rec := env.do(t, adminRequest(t, http.MethodPut, "/api/commands/"+res.CommandID+"/failed", []byte(`{"reason":"sequence missing"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("failed status = %d, body = %s", rec.Code, rec.Body.String())
	}
	cmd := decode[playback.Command](t, rec)
	if cmd.Status != playback.StatusFailed || cmd.Exception != "sequence missing" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}

func TestAdminAuth(t *testing.T) {
	env := newTestEnv(t, true, testSecret)

	req := httptest.NewRequest(http.MethodPost, "/api/device/power/on", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	if rec := env.do(t, req); rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token status = %d", rec.Code)
	}

	wrongKey, err := IssueAdminToken("other-secret", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("IssueAdminToken() error = %v", err)
	}
	req = httptest.NewRequest(http.MethodPost, "/api/device/power/on", nil)
	req.Header.Set("Authorization", "Bearer "+wrongKey)
	if rec := env.do(t, req); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key status = %d", rec.Code)
	}

	expired, err := IssueAdminToken(testSecret, time.Minute, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("IssueAdminToken() error = %v", err)
	}
	req = httptest.NewRequest(http.MethodPost, "/api/device/power/on", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	if rec := env.do(t, req); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expired token status = %d", rec.Code)
	}

	disabled := newTestEnv(t, true, "")
	if rec := disabled.do(t, adminRequest(t, http.MethodPost, "/api/device/power/on", nil)); rec.Code != http.StatusForbidden {
		t.Fatalf("disabled admin status = %d", rec.Code)
	}
}

func TestDeviceEndpoints(t *testing.T) {
	env := newTestEnv(t, true, testSecret)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/device/state", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("state status = %d", rec.Code)
	}

	env.device.state = nil
	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/device/state", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("offline state status = %d", rec.Code)
	}

	for _, mode := range []string{"on", "off"} {
		rec = env.do(t, adminRequest(t, http.MethodPost, "/api/device/power/"+mode, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("power %s status = %d", mode, rec.Code)
		}
	}
	if len(env.device.power) != 2 || env.device.power[0] != "on" || env.device.power[1] != "off" {
		t.Fatalf("unexpected power calls: %v", env.device.power)
	}

	rec = env.do(t, adminRequest(t, http.MethodPost, "/api/device/power/dim", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad mode status = %d", rec.Code)
	}
}

func TestDisplayFlow(t *testing.T) {
	env := newTestEnv(t, true, testSecret)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/display/next", nil))
	if got := decode[map[string]string](t, rec); got["action"] != string(display.ActionAdvertising) {
		t.Fatalf("next = %v", got)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/display/message", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("empty message status = %d", rec.Code)
	}

	rec = env.do(t, adminRequest(t, http.MethodPost, "/api/display/messages", []byte(`{"sender":"@elf","message":"Merry\nChristmas"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("add message status = %d, body = %s", rec.Code, rec.Body.String())
	}
	added := decode[display.SocialMessage](t, rec)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/display/next", nil))
	if got := decode[map[string]string](t, rec); got["action"] != string(display.ActionTweet) {
		t.Fatalf("next with message = %v", got)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/display/message", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("message status = %d", rec.Code)
	}
	if got := decode[map[string]any](t, rec); got["text"] != "@elf: Merry Christmas" {
		t.Fatalf("message text = %v", got["text"])
	}

	rec = env.do(t, httptest.NewRequest(http.MethodPost, "/api/display/messages/"+jsonInt(added.ID)+"/take", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("take status = %d", rec.Code)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/display/message", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("message after take status = %d", rec.Code)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodPost, "/api/display/messages/abc/take", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d", rec.Code)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/display/counters", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("counters status = %d", rec.Code)
	}
	if got := decode[display.Counters](t, rec); got != (display.Counters{Advertising: 1, Tweet: 1}) {
		t.Fatalf("counters = %+v", got)
	}
}

func TestDisplayTitle(t *testing.T) {
	env := newTestEnv(t, true, testSecret)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/display/title", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("idle title status = %d", rec.Code)
	}

	env.device.state = &device.PlaybackState{
		Running:                true,
		Track:                  &device.Track{ID: "x", FileName: "x.mid", SequenceName: "Carol"},
		EstimatedSecondsToPlay: 61,
	}
	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/display/title", nil))
	if got := decode[map[string]string](t, rec); got["title"] != "Carol (1:01)" {
		t.Fatalf("title = %v", got)
	}
}

func TestDisplayAdvertising(t *testing.T) {
	env := newTestEnv(t, true, testSecret)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/display/advertising", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("no advertising status = %d", rec.Code)
	}

	if err := os.WriteFile(filepath.Join(env.adDir, "advertising-shop.txt"), []byte("visit us"), 0o644); err != nil {
		t.Fatalf("write advertising: %v", err)
	}
	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/display/advertising", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "visit us" {
		t.Fatalf("advertising status = %d, body = %q", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Advertising-Name"); got != "advertising-shop.txt" {
		t.Fatalf("advertising name = %q", got)
	}
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
