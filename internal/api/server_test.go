package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/keymap-core/internal/audit"
	"github.com/nerrad567/keymap-core/internal/auth"
	"github.com/nerrad567/keymap-core/internal/diagnostics"
	"github.com/nerrad567/keymap-core/internal/infrastructure/config"
	"github.com/nerrad567/keymap-core/internal/infrastructure/database"
	"github.com/nerrad567/keymap-core/internal/infrastructure/logging"
	"github.com/nerrad567/keymap-core/internal/keymap"
	"github.com/nerrad567/keymap-core/internal/ownership"
	"github.com/nerrad567/keymap-core/internal/supervisor"
	"github.com/nerrad567/keymap-core/migrations"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

type fakeController struct {
	mu      sync.Mutex
	status  supervisor.Status
	calls   []string
	sources []string
	saved   []keymap.KeyMapping
	err     error
}

func (f *fakeController) record(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	f.sources = append(f.sources, supervisor.SourceFrom(ctx))
	return f.err
}

func (f *fakeController) Status() supervisor.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeController) Start(ctx context.Context) error { return f.record(ctx, "start") }
func (f *fakeController) Stop(ctx context.Context) error  { return f.record(ctx, "stop") }
func (f *fakeController) RetryAfterFix(ctx context.Context) error {
	return f.record(ctx, "retry")
}
func (f *fakeController) ResetConfig(ctx context.Context) error { return f.record(ctx, "reset") }
func (f *fakeController) AutoFix(ctx context.Context, id string) error {
	return f.record(ctx, "fix:"+id)
}

func (f *fakeController) SaveMappings(ctx context.Context, m []keymap.KeyMapping) (keymap.SaveResult, error) {
	if err := f.record(ctx, "save"); err != nil {
		return keymap.SaveResult{}, err
	}
	f.mu.Lock()
	f.saved = m
	f.mu.Unlock()
	return keymap.SaveResult{Fingerprint: "abc", Mappings: m, Changed: true}, nil
}

func (f *fakeController) Conflicts(ctx context.Context) (ownership.ConflictResolution, error) {
	if err := f.record(ctx, "conflicts"); err != nil {
		return ownership.ConflictResolution{}, err
	}
	return ownership.ConflictResolution{RecommendedAction: ownership.ActionStartNew, Summary: "no conflicts"}, nil
}

func (f *fakeController) lastCall() (string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return "", ""
	}
	return f.calls[len(f.calls)-1], f.sources[len(f.sources)-1]
}

type fakeDiagnostics []diagnostics.Diagnostic

func (f fakeDiagnostics) List() []diagnostics.Diagnostic { return f }

func testDeps(ctrl *fakeController, secret string) Deps {
	return Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS:          config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Security:    config.SecurityConfig{JWT: config.JWTConfig{Secret: secret, TokenTTL: 15}},
		Logger:      logging.Discard(),
		Controller:  ctrl,
		Diagnostics: fakeDiagnostics{diagnostics.New(diagnostics.SeverityError, diagnostics.CategoryProcess, "Engine crashed", "")},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("keymapd_engine_up 1\n")) //nolint:errcheck // test handler
		}),
		Version: "test",
	}
}

func testServer(t *testing.T, secret string) (*Server, *fakeController) {
	t.Helper()
	ctrl := &fakeController{status: supervisor.Status{State: supervisor.StateRunning, OwnedPID: 42}}
	srv, err := New(testDeps(ctrl, secret))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv, ctrl
}

func do(t *testing.T, h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func token(t *testing.T, role auth.Role) string {
	t.Helper()
	tok, err := auth.GenerateToken("tester", role, testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	return tok
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) Error {
	t.Helper()
	var e Error
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("unmarshal error body %q: %v", w.Body.String(), err)
	}
	return e
}

func TestNew_RequiresDeps(t *testing.T) {
	deps := testDeps(&fakeController{}, "")
	deps.Controller = nil
	if _, err := New(deps); err == nil {
		t.Error("New() without controller should fail")
	}
	deps = testDeps(&fakeController{}, "")
	deps.Logger = nil
	if _, err := New(deps); err == nil {
		t.Error("New() without logger should fail")
	}
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t, testSecret)
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/health", "", "")

	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "ok" || resp["version"] != "test" || resp["state"] != "running" {
		t.Errorf("health = %v", resp)
	}
}

func TestMetricsMounted(t *testing.T) {
	srv, _ := testServer(t, testSecret)
	w := do(t, srv.buildRouter(), http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "keymapd_engine_up") {
		t.Errorf("metrics = %d %q", w.Code, w.Body.String())
	}
}

func TestPanelMounted(t *testing.T) {
	ctrl := &fakeController{}
	deps := testDeps(ctrl, testSecret)
	deps.Panel = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("panel " + r.URL.Path)) //nolint:errcheck // test handler
	})
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	router := srv.buildRouter()

	w := do(t, router, http.MethodGet, "/ui/app.js", "", "")
	if w.Code != http.StatusOK || w.Body.String() != "panel /app.js" {
		t.Errorf("GET /ui/app.js = %d %q, want 200 %q", w.Code, w.Body.String(), "panel /app.js")
	}

	w = do(t, router, http.MethodGet, "/", "", "")
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/ui/" {
		t.Errorf("GET / = %d Location %q, want 302 /ui/", w.Code, w.Header().Get("Location"))
	}
}

func TestRequestID(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	w := do(t, router, http.MethodGet, "/api/v1/health", "", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _ := testServer(t, "")
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/status", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q", got)
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t, "")
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/nonexistent", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if e := decodeError(t, w); e.Code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeNotFound)
	}
}

func TestAuth(t *testing.T) {
	srv, ctrl := testServer(t, testSecret)
	router := srv.buildRouter()
	viewer := token(t, auth.RoleViewer)
	operator := token(t, auth.RoleOperator)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"status without token", http.MethodGet, "/api/v1/status", "", http.StatusUnauthorized},
		{"status with garbage", http.MethodGet, "/api/v1/status", "garbage", http.StatusUnauthorized},
		{"status as viewer", http.MethodGet, "/api/v1/status", viewer, http.StatusOK},
		{"start as viewer", http.MethodPost, "/api/v1/engine/start", viewer, http.StatusForbidden},
		{"start as operator", http.MethodPost, "/api/v1/engine/start", operator, http.StatusOK},
		{"metrics without token", http.MethodGet, "/metrics", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, tt.method, tt.path, "", tt.token)
			if w.Code != tt.want {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, w.Code, tt.want)
			}
		})
	}

	if name, _ := ctrl.lastCall(); name != "start" {
		t.Errorf("last call = %q, want only the operator start", name)
	}
}

func TestAuth_QueryToken(t *testing.T) {
	srv, _ := testServer(t, testSecret)
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/status?token="+token(t, auth.RoleViewer), "", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestCommands(t *testing.T) {
	tests := []struct {
		path string
		call string
	}{
		{"/api/v1/engine/start", "start"},
		{"/api/v1/engine/stop", "stop"},
		{"/api/v1/engine/retry", "retry"},
		{"/api/v1/config/reset", "reset"},
		{"/api/v1/diagnostics/01ABC/fix", "fix:01ABC"},
	}
	for _, tt := range tests {
		t.Run(tt.call, func(t *testing.T) {
			srv, ctrl := testServer(t, "")
			w := do(t, srv.buildRouter(), http.MethodPost, tt.path, "", "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
			}
			name, source := ctrl.lastCall()
			if name != tt.call || source != "api" {
				t.Errorf("call = %q from %q, want %q from api", name, source, tt.call)
			}
			var st supervisor.Status
			if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if st.State != supervisor.StateRunning || st.OwnedPID != 42 {
				t.Errorf("status = %+v", st)
			}
		})
	}
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		code string
	}{
		{"unknown diagnostic", supervisor.ErrUnknownDiagnostic, http.StatusNotFound, ErrCodeNotFound},
		{"not auto-fixable", supervisor.ErrNotAutoFixable, http.StatusConflict, ErrCodeConflict},
		{"recovery unavailable", supervisor.ErrRecoveryUnavailable, http.StatusConflict, ErrCodeConflict},
		{"supervisor stopped", supervisor.ErrNotRunning, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, ctrl := testServer(t, "")
			ctrl.err = tt.err
			w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/diagnostics/x/fix", "", "")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if e := decodeError(t, w); e.Code != tt.code {
				t.Errorf("code = %q, want %q", e.Code, tt.code)
			}
		})
	}
}

func TestDiagnosticsAndConflicts(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	w := do(t, router, http.MethodGet, "/api/v1/diagnostics", "", "")
	var diags struct {
		Diagnostics []diagnostics.Diagnostic `json:"diagnostics"`
		Count       int                      `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &diags); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if diags.Count != 1 || diags.Diagnostics[0].Title != "Engine crashed" {
		t.Errorf("diagnostics = %+v", diags)
	}

	w = do(t, router, http.MethodGet, "/api/v1/conflicts", "", "")
	var res ownership.ConflictResolution
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.Summary != "no conflicts" {
		t.Errorf("conflicts = %+v", res)
	}
}

func TestMappings(t *testing.T) {
	srv, ctrl := testServer(t, "")
	router := srv.buildRouter()

	w := do(t, router, http.MethodGet, "/api/v1/mappings", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET status = %d", w.Code)
	}
	var got MappingsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Mappings == nil || len(got.Mappings) != 0 || got.LastUpdate != nil {
		t.Errorf("empty mappings = %+v", got)
	}

	body := `{"mappings":[{"input":"caps","output":"esc"},{"input":"a","output":"b"}]}`
	w = do(t, router, http.MethodPut, "/api/v1/mappings", body, "")
	if w.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, body %s", w.Code, w.Body.String())
	}
	var res keymap.SaveResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !res.Changed || len(res.Mappings) != 2 {
		t.Errorf("save result = %+v", res)
	}
	if len(ctrl.saved) != 2 || ctrl.saved[0].Input != "a" {
		t.Errorf("saved = %v, want normalised order", ctrl.saved)
	}
}

func TestSaveMappings_Rejected(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"unknown field", `{"mappings":[],"extra":1}`},
		{"bad token", `{"mappings":[{"input":"a b","output":"c"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, ctrl := testServer(t, "")
			w := do(t, srv.buildRouter(), http.MethodPut, "/api/v1/mappings", tt.body, "")
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if e := decodeError(t, w); e.Code != ErrCodeValidation {
				t.Errorf("code = %q, want %q", e.Code, ErrCodeValidation)
			}
			if name, _ := ctrl.lastCall(); name != "" {
				t.Errorf("controller called with %q", name)
			}
		})
	}
}

func TestSaveMappings_RepairFailed(t *testing.T) {
	srv, ctrl := testServer(t, "")
	ctrl.err = &keymap.RepairFailedError{
		OriginalText:   "(defsrc a)",
		RepairedText:   "(defsrc a",
		OriginalErrors: []string{"unknown key"},
		RepairErrors:   []string{"unbalanced"},
		BackupPath:     "/tmp/backup.kbd",
	}

	w := do(t, srv.buildRouter(), http.MethodPut, "/api/v1/mappings", `{"mappings":[{"input":"a","output":"b"}]}`, "")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	var resp RepairError
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Code != ErrCodeRepairFailed || resp.Repair == nil {
		t.Fatalf("body = %s", w.Body.String())
	}
	if resp.Repair.OriginalText != "(defsrc a)" || resp.Repair.RepairedText != "(defsrc a" ||
		resp.Repair.RepairErrors[0] != "unbalanced" || resp.Repair.BackupPath != "/tmp/backup.kbd" {
		t.Errorf("repair = %+v", resp.Repair)
	}
}

func TestAudit(t *testing.T) {
	ctx := context.Background()
	db, err := database.OpenMemory(ctx)
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	repo := audit.NewSQLiteRepository(db.DB)
	rec := audit.NewRecorder(repo)
	rec.OnCommand("start", "api", nil)
	rec.OnCommand("stop", "mqtt", nil)

	deps := testDeps(&fakeController{}, "")
	deps.Audit = repo
	srv, err := New(deps)
	if err != nil {
		t.Fatal(err)
	}
	router := srv.buildRouter()

	w := do(t, router, http.MethodGet, "/api/v1/audit?source=mqtt&limit=10", "", "")
	var res audit.ListResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.Total != 1 || res.Entries[0].Details["command"] != "stop" || res.Limit != 10 {
		t.Errorf("audit = %+v", res)
	}

	if w := do(t, router, http.MethodGet, "/api/v1/audit?limit=x", "", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", w.Code)
	}
}

func TestAudit_Disabled(t *testing.T) {
	srv, _ := testServer(t, "")
	if w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/audit", "", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

// ─── WebSocket ─────────────────────────────────────────────────────

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, logging.Discard())

	subscribed := &WSClient{hub: hub, send: make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{ChannelStatus: {}}}
	other := &WSClient{hub: hub, send: make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{ChannelDiagnostic: {}}}
	hub.Register(subscribed)
	hub.Register(other)
	if hub.ClientCount() != 2 {
		t.Errorf("ClientCount() = %d, want 2", hub.ClientCount())
	}

	hub.Broadcast(ChannelStatus, supervisor.Status{State: supervisor.StateNeedsHelp})

	select {
	case msg := <-subscribed.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.Type != WSTypeEvent || wsMsg.EventType != ChannelStatus {
			t.Errorf("message = %+v", wsMsg)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}

	select {
	case <-other.send:
		t.Error("unsubscribed client should not receive message")
	default:
	}

	hub.Unregister(subscribed)
	hub.Unregister(subscribed)
	if hub.ClientCount() != 1 {
		t.Errorf("ClientCount() after unregister = %d, want 1", hub.ClientCount())
	}
}

func TestWebSocket_StatusStream(t *testing.T) {
	srv, ctrl := testServer(t, testSecret)
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?token=" + token(t, auth.RoleViewer)
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v (resp: %v)", err, resp)
	}
	defer ws.Close()

	if err := ws.WriteJSON(map[string]any{
		"type":    WSTypeSubscribe,
		"id":      "sub-1",
		"payload": WSSubscribePayload{Channels: []string{ChannelStatus}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	read := func() WSMessage {
		t.Helper()
		ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		return msg
	}

	if msg := read(); msg.Type != WSTypeResponse || msg.ID != "sub-1" {
		t.Errorf("subscribe response = %+v", msg)
	}
	snap := read()
	if snap.EventType != ChannelStatus {
		t.Fatalf("snapshot = %+v", snap)
	}
	if p, _ := snap.Payload.(map[string]any); p["state"] != "running" {
		t.Errorf("snapshot payload = %v", snap.Payload)
	}

	ctrl.mu.Lock()
	ctrl.status = supervisor.Status{State: supervisor.StateNeedsHelp, Reason: "permissions"}
	ctrl.mu.Unlock()
	srv.OnStatus(ctrl.Status())

	ev := read()
	if p, _ := ev.Payload.(map[string]any); ev.EventType != ChannelStatus || p["state"] != "needsHelp" {
		t.Errorf("event = %+v", ev)
	}
}

func TestWebSocket_RequiresToken(t *testing.T) {
	srv, _ := testServer(t, testSecret)
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial without token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}
}

func TestServer_StartAndClose(t *testing.T) {
	srv, _ := testServer(t, "")
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
