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

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-motion-core/internal/arbitration"
	"github.com/nerrad567/gray-motion-core/internal/audit"
	"github.com/nerrad567/gray-motion-core/internal/auth"
	"github.com/nerrad567/gray-motion-core/internal/broadcast"
	"github.com/nerrad567/gray-motion-core/internal/channel"
	"github.com/nerrad567/gray-motion-core/internal/history"
	"github.com/nerrad567/gray-motion-core/internal/infrastructure/config"
	"github.com/nerrad567/gray-motion-core/internal/infrastructure/logging"
	"github.com/nerrad567/gray-motion-core/internal/motion"
	"github.com/nerrad567/gray-motion-core/internal/safety"
	"github.com/nerrad567/gray-motion-core/internal/sequence"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// ─── Mock Dependencies ─────────────────────────────────────────────

type mockEngine struct {
	mu        sync.Mutex
	snap      *motion.Snapshot
	submitted []motion.MotionCommand
	executed  []motion.ExecuteOptions
	cancelled []string
	stops     []string
	resets    int
	admission motion.Admission
	err       error
}

func newMockEngine() *mockEngine {
	return &mockEngine{
		snap: &motion.Snapshot{
			Generation: 7,
			Safety:     safety.Status{State: safety.Normal},
			Channels: []motion.ChannelStatus{
				{Name: "DOME", Controller: "m0", Index: 0, Position: 90, Min: 0, Max: 180},
				{Name: "HEAD", Controller: "m0", Index: 1, Position: 0, Min: -45, Max: 45, Owner: "x1"},
			},
			Executions: []motion.ExecutionStatus{
				{ID: "x1", SequenceID: "GREETING", SequenceName: "Greeting", Priority: 5, Channels: []string{"HEAD"}},
			},
		},
		admission: motion.Admission{ExecutionID: "x2", SequenceID: "GREETING", Priority: 5, Channels: []string{"DOME", "HEAD"}},
	}
}

func (m *mockEngine) Submit(_ context.Context, cmd motion.MotionCommand) (motion.Admission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, cmd)
	return m.admission, m.err
}

func (m *mockEngine) Execute(_ context.Context, id string, opts motion.ExecuteOptions) (motion.Admission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executed = append(m.executed, opts)
	if m.err != nil {
		return motion.Admission{}, m.err
	}
	adm := m.admission
	adm.SequenceID = id
	return adm, nil
}

func (m *mockEngine) Cancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, id)
	return m.err
}

func (m *mockEngine) EmergencyStop(_ context.Context, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops = append(m.stops, reason)
	m.snap.Safety = safety.Status{State: safety.EmergencyStop, Latched: true}
	return nil
}

func (m *mockEngine) Reset(context.Context) (safety.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
	if m.err != nil {
		return m.snap.Safety, m.err
	}
	m.snap.Safety = safety.Status{State: safety.Normal}
	return m.snap.Safety, nil
}

func (m *mockEngine) Snapshot() *motion.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return nil
	}
	cp := *m.snap
	return &cp
}

func (m *mockEngine) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

type mockHistory struct {
	mu      sync.Mutex
	filters []history.Filter
	pruned  []time.Duration
}

func (m *mockHistory) RecordExecution(context.Context, motion.ExecutionEvent) error { return nil }
func (m *mockHistory) RecordIncident(context.Context, safety.Transition) error      { return nil }

func (m *mockHistory) ListExecutions(_ context.Context, f history.Filter) ([]history.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters = append(m.filters, f)
	return []history.Execution{{ID: "x1", SequenceID: "GREETING", Outcome: "completed"}}, nil
}

func (m *mockHistory) ListIncidents(_ context.Context, f history.Filter) ([]history.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters = append(m.filters, f)
	return []history.Incident{}, nil
}

func (m *mockHistory) Prune(_ context.Context, olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruned = append(m.pruned, olderThan)
	return 3, nil
}

type mockAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
	filters []audit.Filter
}

func (m *mockAudit) Create(_ context.Context, e *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *mockAudit) List(_ context.Context, f audit.Filter) (*audit.ListResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters = append(m.filters, f)
	return &audit.ListResult{Entries: append([]audit.Entry{}, m.entries...), Total: len(m.entries), Limit: f.Limit}, nil
}

func (m *mockAudit) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Action
	}
	return out
}

type mockChannels map[string]channel.Descriptor

func (m mockChannels) Resolve(name string) (channel.Descriptor, error) {
	d, ok := m[name]
	if !ok {
		return channel.Descriptor{}, channel.ErrUnknownChannel
	}
	return d, nil
}

const testCatalog = `
sequences:
  - id: GREETING
    name: Greeting
    priority: 5
    steps:
      - at: 0s
        duration: 500ms
        targets: {DOME: 120, HEAD: 20}
  - id: ALERT
    name: Alert
    priority: 9
    steps:
      - at: 0s
        duration: 200ms
        targets: {DOME: 30}
`

// ─── Test Harness ──────────────────────────────────────────────────

var (
	hashOnce   sync.Once
	testHashes map[string]string
)

// testOperators returns one account per role; each password equals the
// username. Hashing is slow, so it happens once per test binary.
func testOperators(t *testing.T) []config.OperatorConfig {
	t.Helper()
	hashOnce.Do(func() {
		testHashes = make(map[string]string)
		for _, name := range []string{"watcher", "ops", "root"} {
			h, err := auth.HashPassword(name)
			if err != nil {
				panic(err)
			}
			testHashes[name] = h
		}
	})
	return []config.OperatorConfig{
		{Username: "watcher", PasswordHash: testHashes["watcher"], Role: string(auth.RoleViewer)},
		{Username: "ops", PasswordHash: testHashes["ops"], Role: string(auth.RoleOperator)},
		{Username: "root", PasswordHash: testHashes["root"], Role: string(auth.RoleAdmin)},
	}
}

type harness struct {
	srv     *Server
	router  http.Handler
	engine  *mockEngine
	hub     *broadcast.Hub
	history *mockHistory
	audit   *mockAudit
}

func newHarness(t *testing.T, withHistory bool) *harness {
	t.Helper()

	lib, err := sequence.Parse([]byte(testCatalog), mockChannels{
		"DOME": {Name: "DOME", Controller: "m0", Index: 0, Min: 0, Max: 180, Home: 90},
		"HEAD": {Name: "HEAD", Controller: "m0", Index: 1, Min: -45, Max: 45},
	})
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	engine := newMockEngine()
	hub := broadcast.NewHub(broadcast.Config{StatusInterval: time.Hour}, engine,
		broadcast.WithCommandHandler(NewCommandHandler(engine)))
	operators, err := auth.NewDirectory(testOperators(t))
	if err != nil {
		t.Fatalf("NewDirectory() error: %v", err)
	}

	h := &harness{engine: engine, hub: hub, audit: &mockAudit{}}
	deps := Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5}},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: testSecret, AccessTokenTTL: 15},
		},
		Logger:    logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test"),
		Engine:    engine,
		Sequences: sequence.NewCatalog(lib),
		Hub:       hub,
		Operators: operators,
		Audit:     h.audit,
		Version:   "test",
	}
	if withHistory {
		h.history = &mockHistory{}
		deps.History = h.history
	}

	h.srv, err = New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	h.router = h.srv.buildRouter()
	return h
}

// token returns a valid bearer token for the given role.
func token(t *testing.T, role auth.Role) string {
	t.Helper()
	names := map[auth.Role]string{auth.RoleViewer: "watcher", auth.RoleOperator: "ops", auth.RoleAdmin: "root"}
	tok, err := auth.GenerateAccessToken(auth.Operator{Username: names[role], Role: role}, testSecret, 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error: %v", err)
	}
	return tok
}

func (h *harness) do(t *testing.T, method, path, body string, role auth.Role) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, role))
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

// ─── Health & Middleware ───────────────────────────────────────────

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() with no logger succeeded")
	}
	if _, err := New(Deps{Logger: logging.Discard()}); err == nil {
		t.Error("New() with no engine succeeded")
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t, false)

	w := h.do(t, http.MethodGet, "/api/v1/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	resp := decode[map[string]any](t, w)
	if resp["status"] != "ok" || resp["version"] != "test" {
		t.Errorf("health = %v", resp)
	}

	h.do(t, http.MethodPost, "/api/v1/safety/stop", "", auth.RoleOperator)
	resp = decode[map[string]any](t, h.do(t, http.MethodGet, "/api/v1/health", "", ""))
	if resp["status"] != "emergency_stop" {
		t.Errorf("status after stop = %v, want emergency_stop", resp["status"])
	}
}

func TestRequestID(t *testing.T) {
	h := newHarness(t, false)

	w := h.do(t, http.MethodGet, "/api/v1/health", "", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w = httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	h := newHarness(t, false)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want http://localhost:3000", got)
	}
}

func TestNotFound(t *testing.T) {
	h := newHarness(t, false)
	if w := h.do(t, http.MethodGet, "/api/v1/nonexistent", "", auth.RoleAdmin); w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Authentication & Authorisation ────────────────────────────────

func TestLogin(t *testing.T) {
	h := newHarness(t, false)

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantRole auth.Role
	}{
		{"operator", `{"username":"ops","password":"ops"}`, http.StatusOK, auth.RoleOperator},
		{"viewer", `{"username":"watcher","password":"watcher"}`, http.StatusOK, auth.RoleViewer},
		{"wrong password", `{"username":"ops","password":"nope"}`, http.StatusUnauthorized, ""},
		{"unknown user", `{"username":"ghost","password":"ghost"}`, http.StatusUnauthorized, ""},
		{"bad json", `{`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(t, http.MethodPost, "/api/v1/auth/login", tt.body, "")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d; body: %s", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			resp := decode[loginResponse](t, w)
			if resp.TokenType != "Bearer" || resp.ExpiresIn != 15*60 || resp.Role != tt.wantRole {
				t.Errorf("login response = %+v", resp)
			}
			claims, err := auth.ParseToken(resp.AccessToken, testSecret)
			if err != nil {
				t.Fatalf("ParseToken() error = %v", err)
			}
			if claims.Role != tt.wantRole {
				t.Errorf("token role = %s, want %s", claims.Role, tt.wantRole)
			}
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	h := newHarness(t, false)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"not bearer", "Basic b3BzOm9wcw=="},
		{"garbage", "Bearer not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.router.ServeHTTP(w, req)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
		})
	}

	other, err := auth.GenerateAccessToken(auth.Operator{Username: "ops", Role: auth.RoleOperator}, "another-secret-that-is-long-enough-xx", 15)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Authorization", "Bearer "+other)
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("foreign token status = %d, want 401", w.Code)
	}
}

func TestPermissions(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		role   auth.Role
		want   int
	}{
		{"viewer reads status", http.MethodGet, "/api/v1/status", auth.RoleViewer, http.StatusOK},
		{"viewer cannot execute", http.MethodPost, "/api/v1/sequences/GREETING/execute", auth.RoleViewer, http.StatusForbidden},
		{"viewer cannot move", http.MethodPost, "/api/v1/motion", auth.RoleViewer, http.StatusForbidden},
		{"viewer cannot stop", http.MethodPost, "/api/v1/safety/stop", auth.RoleViewer, http.StatusForbidden},
		{"viewer cannot reset", http.MethodPost, "/api/v1/safety/reset", auth.RoleViewer, http.StatusForbidden},
		{"operator resets", http.MethodPost, "/api/v1/safety/reset", auth.RoleOperator, http.StatusOK},
		{"admin resets", http.MethodPost, "/api/v1/safety/reset", auth.RoleAdmin, http.StatusOK},
		{"operator cannot prune", http.MethodPost, "/api/v1/history/prune?older_than=1h", auth.RoleOperator, http.StatusForbidden},
		{"admin prunes", http.MethodPost, "/api/v1/history/prune?older_than=1h", auth.RoleAdmin, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, true)
			w := h.do(t, tt.method, tt.path, "", tt.role)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d; body: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

// ─── Status & Catalog ──────────────────────────────────────────────

func TestStatusEndpoints(t *testing.T) {
	h := newHarness(t, false)

	snap := decode[motion.Snapshot](t, h.do(t, http.MethodGet, "/api/v1/status", "", auth.RoleViewer))
	if snap.Generation != 7 || len(snap.Channels) != 2 {
		t.Errorf("status = %+v", snap)
	}

	channels := decode[struct {
		Channels []motion.ChannelStatus `json:"channels"`
		Count    int                    `json:"count"`
	}](t, h.do(t, http.MethodGet, "/api/v1/channels", "", auth.RoleViewer))
	if channels.Count != 2 || channels.Channels[1].Owner != "x1" {
		t.Errorf("channels = %+v", channels)
	}

	executions := decode[struct {
		Executions []motion.ExecutionStatus `json:"executions"`
	}](t, h.do(t, http.MethodGet, "/api/v1/executions", "", auth.RoleViewer))
	if len(executions.Executions) != 1 || executions.Executions[0].ID != "x1" {
		t.Errorf("executions = %+v", executions)
	}
}

func TestStatus_EngineNotStarted(t *testing.T) {
	h := newHarness(t, false)
	h.engine.snap = nil
	if w := h.do(t, http.MethodGet, "/api/v1/status", "", auth.RoleViewer); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestListAlerts(t *testing.T) {
	h := newHarness(t, false)

	resp := decode[map[string]any](t, h.do(t, http.MethodGet, "/api/v1/alerts", "", auth.RoleViewer))
	if resp["count"] != float64(0) {
		t.Errorf("empty alerts = %v", resp)
	}

	h.hub.ReportMetric(broadcast.MetricReading{Metric: "cpu_temp", Value: 91, Threshold: 80})
	resp = decode[map[string]any](t, h.do(t, http.MethodGet, "/api/v1/alerts", "", auth.RoleViewer))
	if resp["count"] != float64(1) {
		t.Errorf("alerts = %v", resp)
	}
}

func TestSequences(t *testing.T) {
	h := newHarness(t, false)

	list := decode[struct {
		Sequences []sequenceSummary `json:"sequences"`
		Count     int               `json:"count"`
	}](t, h.do(t, http.MethodGet, "/api/v1/sequences", "", auth.RoleViewer))
	if list.Count != 2 {
		t.Fatalf("count = %d, want 2", list.Count)
	}
	for _, s := range list.Sequences {
		if s.ID == "GREETING" && (s.DurationMS != 500 || len(s.Channels) != 2) {
			t.Errorf("GREETING summary = %+v", s)
		}
	}

	w := h.do(t, http.MethodGet, "/api/v1/sequences/ALERT", "", auth.RoleViewer)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	if seq := decode[sequence.Sequence](t, w); seq.Priority != 9 || len(seq.Steps) != 1 {
		t.Errorf("ALERT = %+v", seq)
	}

	if w := h.do(t, http.MethodGet, "/api/v1/sequences/NOPE", "", auth.RoleViewer); w.Code != http.StatusNotFound {
		t.Errorf("missing sequence status = %d, want 404", w.Code)
	}
}

// ─── Motion Commands ───────────────────────────────────────────────

func TestExecuteSequence(t *testing.T) {
	h := newHarness(t, false)

	w := h.do(t, http.MethodPost, "/api/v1/sequences/GREETING/execute", `{"priority":8}`, auth.RoleOperator)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body: %s", w.Code, w.Body.String())
	}
	adm := decode[motion.Admission](t, w)
	if adm.ExecutionID != "x2" || adm.SequenceID != "GREETING" {
		t.Errorf("admission = %+v", adm)
	}
	opts := h.engine.executed[0]
	if opts.Priority != 8 || opts.Origin != motion.OriginSequence || opts.Source != "api:ops" {
		t.Errorf("execute options = %+v", opts)
	}

	if w := h.do(t, http.MethodPost, "/api/v1/sequences/GREETING/execute", `{"priority":101}`, auth.RoleOperator); w.Code != http.StatusBadRequest {
		t.Errorf("out of range priority status = %d, want 400", w.Code)
	}
}

func TestExecuteSequence_Busy(t *testing.T) {
	h := newHarness(t, false)
	h.engine.setErr(&arbitration.BusyError{
		Channel: "DOME",
		Owner:   arbitration.Owner{ID: "x1", SequenceID: "ALERT", Priority: 9},
	})

	w := h.do(t, http.MethodPost, "/api/v1/sequences/GREETING/execute", "", auth.RoleOperator)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	body := decode[Error](t, w)
	if body.Code != motion.ReasonChannelBusy || body.Channel != "DOME" {
		t.Errorf("error = %+v", body)
	}
	if body.Owner == nil || body.Owner.ID != "x1" || body.Owner.Priority != 9 {
		t.Errorf("owner = %+v", body.Owner)
	}
}

func TestSubmitMotion(t *testing.T) {
	h := newHarness(t, false)

	w := h.do(t, http.MethodPost, "/api/v1/motion", `{"targets":{"DOME":45},"duration_ms":300}`, auth.RoleOperator)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body: %s", w.Code, w.Body.String())
	}
	cmd := h.engine.submitted[0]
	if cmd.Targets["DOME"] != 45 || cmd.Duration != 300*time.Millisecond || cmd.Origin != motion.OriginManual {
		t.Errorf("command = %+v", cmd)
	}

	h.engine.admission.Duplicate = true
	if w := h.do(t, http.MethodPost, "/api/v1/motion", `{"targets":{"DOME":45},"duration_ms":300}`, auth.RoleOperator); w.Code != http.StatusOK {
		t.Errorf("duplicate status = %d, want 200", w.Code)
	}

	for _, body := range []string{`{`, `{"targets":{}}`, `{"targets":{"DOME":1},"duration_ms":-5}`} {
		if w := h.do(t, http.MethodPost, "/api/v1/motion", body, auth.RoleOperator); w.Code != http.StatusBadRequest {
			t.Errorf("body %s status = %d, want 400", body, w.Code)
		}
	}
}

func TestCancelExecution(t *testing.T) {
	h := newHarness(t, false)

	if w := h.do(t, http.MethodDelete, "/api/v1/executions/x1", "", auth.RoleOperator); w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if h.engine.cancelled[0] != "x1" {
		t.Errorf("cancelled = %v", h.engine.cancelled)
	}

	h.engine.setErr(motion.ErrExecutionNotFound)
	w := h.do(t, http.MethodDelete, "/api/v1/executions/gone", "", auth.RoleOperator)
	if w.Code != http.StatusNotFound || decode[Error](t, w).Code != motion.ReasonExecutionNotFound {
		t.Errorf("missing execution: %d %s", w.Code, w.Body.String())
	}
}

// ─── Safety ────────────────────────────────────────────────────────

func TestEmergencyStopAndReset(t *testing.T) {
	h := newHarness(t, false)

	w := h.do(t, http.MethodPost, "/api/v1/safety/stop", `{"reason":"smoke"}`, auth.RoleOperator)
	if w.Code != http.StatusOK {
		t.Fatalf("stop status = %d", w.Code)
	}
	if st := decode[safety.Status](t, w); st.State != safety.EmergencyStop || !st.Latched {
		t.Errorf("after stop = %+v", st)
	}
	if got := h.engine.stops[0]; got != "smoke (api:ops)" {
		t.Errorf("stop reason = %q", got)
	}

	h.engine.setErr(safety.ErrViolationsStillActive)
	w = h.do(t, http.MethodPost, "/api/v1/safety/reset", "", auth.RoleOperator)
	if w.Code != http.StatusConflict {
		t.Fatalf("refused reset status = %d, want 409", w.Code)
	}
	refused := decode[struct {
		Error  Error         `json:"error"`
		Safety safety.Status `json:"safety"`
	}](t, w)
	if refused.Error.Code != motion.ReasonViolationsStillActive || refused.Safety.State != safety.EmergencyStop {
		t.Errorf("refused reset body = %+v", refused)
	}

	h.engine.setErr(nil)
	w = h.do(t, http.MethodPost, "/api/v1/safety/reset", "", auth.RoleAdmin)
	if w.Code != http.StatusOK || decode[safety.Status](t, w).State != safety.Normal {
		t.Errorf("reset: %d %s", w.Code, w.Body.String())
	}
}

func TestStatusForReason(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{channel.ErrUnknownChannel, http.StatusBadRequest},
		{motion.ErrInvalidCommand, http.StatusBadRequest},
		{sequence.ErrSequenceNotFound, http.StatusNotFound},
		{arbitration.ErrArbitrationConflict, http.StatusConflict},
		{safety.ErrEmergencyStopActive, http.StatusLocked},
		{motion.ErrChannelFaulted, http.StatusLocked},
		{motion.ErrArbitrationTimeout, http.StatusServiceUnavailable},
		{channel.ErrHardwareWriteFailure, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusForReason(motion.Reason(tt.err)); got != tt.want {
			t.Errorf("statusForReason(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

// ─── History ───────────────────────────────────────────────────────

func TestHistory_Disabled(t *testing.T) {
	h := newHarness(t, false)
	for _, path := range []string{"/api/v1/history/executions", "/api/v1/history/incidents"} {
		if w := h.do(t, http.MethodGet, path, "", auth.RoleViewer); w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want 503", path, w.Code)
		}
	}
}

func TestHistory_Queries(t *testing.T) {
	h := newHarness(t, true)

	w := h.do(t, http.MethodGet, "/api/v1/history/executions?sequence=GREETING&outcome=completed&limit=5&offset=10", "", auth.RoleViewer)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	want := history.Filter{SequenceID: "GREETING", Outcome: "completed", Limit: 5, Offset: 10}
	if got := h.history.filters[0]; got != want {
		t.Errorf("filter = %+v, want %+v", got, want)
	}

	if w := h.do(t, http.MethodGet, "/api/v1/history/incidents", "", auth.RoleViewer); w.Code != http.StatusOK {
		t.Errorf("incidents status = %d", w.Code)
	}

	for _, q := range []string{"limit=abc", "offset=-1"} {
		if w := h.do(t, http.MethodGet, "/api/v1/history/executions?"+q, "", auth.RoleViewer); w.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", q, w.Code)
		}
	}

	w = h.do(t, http.MethodPost, "/api/v1/history/prune?older_than=720h", "", auth.RoleAdmin)
	if w.Code != http.StatusOK || h.history.pruned[0] != 720*time.Hour {
		t.Errorf("prune: %d %v", w.Code, h.history.pruned)
	}
	if w := h.do(t, http.MethodPost, "/api/v1/history/prune", "", auth.RoleAdmin); w.Code != http.StatusBadRequest {
		t.Errorf("prune without duration status = %d, want 400", w.Code)
	}
}

// ─── Audit ─────────────────────────────────────────────────────────

func TestAudit_RecordsOperatorActions(t *testing.T) {
	h := newHarness(t, true)

	h.do(t, http.MethodPost, "/api/v1/auth/login", `{"username":"ops","password":"wrong"}`, "")
	h.do(t, http.MethodPost, "/api/v1/safety/stop", `{"reason":"smoke"}`, auth.RoleOperator)
	h.engine.setErr(safety.ErrViolationsStillActive)
	h.do(t, http.MethodPost, "/api/v1/safety/reset", "", auth.RoleOperator)
	h.engine.setErr(nil)
	h.do(t, http.MethodPost, "/api/v1/sequences/GREETING/execute", "", auth.RoleOperator)
	h.do(t, http.MethodPost, "/api/v1/history/prune?older_than=24h", "", auth.RoleAdmin)

	want := []string{
		audit.ActionLogin,
		audit.ActionEmergencyStop,
		audit.ActionSafetyReset,
		audit.ActionExecute,
		audit.ActionHistoryPrune,
	}
	if diff := cmp.Diff(want, h.audit.actions()); diff != "" {
		t.Fatalf("audit actions mismatch (-want +got):\n%s", diff)
	}

	entries := h.audit.entries
	if entries[0].Success || entries[0].Operator != "ops" {
		t.Errorf("failed login entry = %+v", entries[0])
	}
	if !entries[1].Success || entries[1].Operator != "ops" || entries[1].Source != "api:ops" || entries[1].Details["reason"] != "smoke" {
		t.Errorf("stop entry = %+v", entries[1])
	}
	if entries[2].Success {
		t.Errorf("refused reset recorded as success: %+v", entries[2])
	}
	if entries[3].Target != "GREETING" {
		t.Errorf("execute target = %q", entries[3].Target)
	}
	if entries[4].Operator != "root" || entries[4].Details["removed"] != int64(3) {
		t.Errorf("prune entry = %+v", entries[4])
	}
}

func TestAudit_List(t *testing.T) {
	h := newHarness(t, false)
	h.do(t, http.MethodPost, "/api/v1/safety/stop", "", auth.RoleOperator)

	if w := h.do(t, http.MethodGet, "/api/v1/audit", "", auth.RoleOperator); w.Code != http.StatusForbidden {
		t.Errorf("operator status = %d, want 403", w.Code)
	}

	w := h.do(t, http.MethodGet, "/api/v1/audit?action=emergency_stop&operator=ops&limit=10", "", auth.RoleAdmin)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decode[audit.ListResult](t, w); got.Total != 1 || got.Entries[0].Action != audit.ActionEmergencyStop {
		t.Errorf("body = %+v", got)
	}
	if want := (audit.Filter{Action: "emergency_stop", Operator: "ops", Limit: 10}); h.audit.filters[0] != want {
		t.Errorf("filter = %+v, want %+v", h.audit.filters[0], want)
	}

	if w := h.do(t, http.MethodGet, "/api/v1/audit?limit=x", "", auth.RoleAdmin); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", w.Code)
	}

	h.srv.audit = auditTrail{}
	if w := h.do(t, http.MethodGet, "/api/v1/audit", "", auth.RoleAdmin); w.Code != http.StatusServiceUnavailable {
		t.Errorf("disabled status = %d, want 503", w.Code)
	}
}

func TestCommandHandler_Audit(t *testing.T) {
	engine := newMockEngine()
	trail := &mockAudit{}
	handler := NewCommandHandler(engine, WithAudit(trail, logging.Discard()))

	if _, err := handler.HandleCommand(withRole(auth.RoleOperator), broadcast.Command{Action: broadcast.ActionStop}); err != nil {
		t.Fatal(err)
	}
	if len(trail.entries) != 1 || trail.entries[0].Source != "ws:tester" || trail.entries[0].Action != audit.ActionEmergencyStop {
		t.Errorf("entries = %+v", trail.entries)
	}
}

// ─── WebSocket Tickets ─────────────────────────────────────────────

func TestWSTicket_SingleUse(t *testing.T) {
	h := newHarness(t, false)

	w := h.do(t, http.MethodPost, "/api/v1/auth/ws-ticket", "", auth.RoleViewer)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	ticket, _ := decode[map[string]any](t, w)["ticket"].(string)
	if ticket == "" {
		t.Fatal("expected ticket to be a non-empty string")
	}

	entry, ok := h.srv.validateTicket(ticket)
	if !ok || entry.username != "watcher" || entry.role != auth.RoleViewer {
		t.Errorf("first use = %+v, %v", entry, ok)
	}
	if _, ok := h.srv.validateTicket(ticket); ok {
		t.Error("ticket should not be valid on second use")
	}
}

func TestWSTicket_Expiry(t *testing.T) {
	h := newHarness(t, false)

	ticket := generateTicket()
	h.srv.tickets.tickets[ticket] = ticketEntry{username: "ops", expiresAt: time.Now().Add(-time.Second)}
	h.srv.cleanExpiredTickets()
	if len(h.srv.tickets.tickets) != 0 {
		t.Error("expired ticket not cleaned")
	}

	h.srv.tickets.tickets[ticket] = ticketEntry{username: "ops", expiresAt: time.Now().Add(-time.Second)}
	if _, ok := h.srv.validateTicket(ticket); ok {
		t.Error("expired ticket should not be valid")
	}
}

// ─── WebSocket Sessions ────────────────────────────────────────────

// dialWS connects a WebSocket session for role through a real listener.
func dialWS(t *testing.T, h *harness, role auth.Role) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(h.router)
	t.Cleanup(ts.Close)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/auth/ws-ticket", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, role))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("ws-ticket request failed: %v", err)
	}
	defer resp.Body.Close()
	var ticket struct {
		Ticket string `json:"ticket"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ticket); err != nil {
		t.Fatalf("decode ticket: %v", err)
	}

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?ticket=" + ticket.Ticket
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

// readUntil reads messages until match returns true.
func readUntil(t *testing.T, ws *websocket.Conn, match func(map[string]any) bool) map[string]any {
	t.Helper()
	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg map[string]any
		if err := ws.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if match(msg) {
			return msg
		}
	}
}

func byID(id string) func(map[string]any) bool {
	return func(m map[string]any) bool { return m["id"] == id }
}

func TestWebSocket_RequiresTicket(t *testing.T) {
	h := newHarness(t, false)

	if w := h.do(t, http.MethodGet, "/api/v1/ws", "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no ticket status = %d, want 401", w.Code)
	}
	if w := h.do(t, http.MethodGet, "/api/v1/ws?ticket=bogus", "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("bad ticket status = %d, want 401", w.Code)
	}
}

func TestWebSocket_StatusOnConnect(t *testing.T) {
	h := newHarness(t, false)
	ws := dialWS(t, h, auth.RoleViewer)

	msg := readUntil(t, ws, func(m map[string]any) bool { return m["topic"] == broadcast.TopicStatus })
	if msg["type"] != WSTypeEvent || msg["seq"] != float64(1) {
		t.Errorf("status message = %v", msg)
	}
	if payload, _ := msg["payload"].(map[string]any); payload["generation"] != float64(7) {
		t.Errorf("status payload = %v", msg["payload"])
	}
}

func TestWebSocket_SubscribePingAndEvents(t *testing.T) {
	h := newHarness(t, false)
	ws := dialWS(t, h, auth.RoleViewer)

	if err := ws.WriteJSON(map[string]any{"type": WSTypeSubscribe, "id": "s1", "payload": map[string]any{"topics": []string{"video"}}}); err != nil {
		t.Fatal(err)
	}
	if msg := readUntil(t, ws, byID("s1")); msg["type"] != WSTypeError {
		t.Errorf("unknown topic reply = %v", msg)
	}

	if err := ws.WriteJSON(map[string]any{"type": WSTypeUnsubscribe, "id": "u1", "payload": map[string]any{"topics": []string{"status"}}}); err != nil {
		t.Fatal(err)
	}
	reply := readUntil(t, ws, byID("u1"))
	topics, _ := reply["payload"].(map[string]any)["subscribed"].([]any)
	if reply["type"] != WSTypeResponse || len(topics) != 2 {
		t.Errorf("unsubscribe reply = %v", reply)
	}

	if err := ws.WriteJSON(map[string]any{"type": WSTypePing, "id": "p1"}); err != nil {
		t.Fatal(err)
	}
	if msg := readUntil(t, ws, byID("p1")); msg["type"] != WSTypePong {
		t.Errorf("ping reply = %v", msg)
	}

	h.hub.Emit(motion.EventExecutionStarted, motion.ExecutionEvent{ExecutionID: "x9", SequenceID: "ALERT"})
	h.hub.Emit(motion.EventExecutionCompleted, motion.ExecutionEvent{ExecutionID: "x9", SequenceID: "ALERT"})

	first := readUntil(t, ws, func(m map[string]any) bool { return m["topic"] == broadcast.TopicEvents })
	second := readUntil(t, ws, func(m map[string]any) bool { return m["topic"] == broadcast.TopicEvents })
	if first["event_type"] != motion.EventExecutionStarted || first["seq"] != float64(1) {
		t.Errorf("first event = %v", first)
	}
	if second["event_type"] != motion.EventExecutionCompleted || second["seq"] != float64(2) {
		t.Errorf("second event = %v", second)
	}
}

func TestWebSocket_Commands(t *testing.T) {
	h := newHarness(t, false)

	viewer := dialWS(t, h, auth.RoleViewer)
	if err := viewer.WriteJSON(map[string]any{"type": WSTypeCommand, "id": "c1", "payload": map[string]any{"action": "execute", "sequence": "GREETING"}}); err != nil {
		t.Fatal(err)
	}
	msg := readUntil(t, viewer, byID("c1"))
	if payload, _ := msg["payload"].(map[string]any); msg["type"] != WSTypeError || payload["code"] != ErrCodeForbidden {
		t.Errorf("viewer command reply = %v", msg)
	}

	operator := dialWS(t, h, auth.RoleOperator)
	if err := operator.WriteJSON(map[string]any{"type": WSTypeCommand, "id": "c2", "payload": map[string]any{"action": "execute", "sequence": "GREETING", "priority": 6}}); err != nil {
		t.Fatal(err)
	}
	msg = readUntil(t, operator, byID("c2"))
	if msg["type"] != WSTypeResponse {
		t.Fatalf("operator command reply = %v", msg)
	}
	result, _ := msg["payload"].(map[string]any)["result"].(map[string]any)
	if result["execution_id"] != "x2" {
		t.Errorf("result = %v", result)
	}

	if err := operator.WriteJSON(map[string]any{"type": WSTypeCommand, "id": "c3", "payload": map[string]any{"action": "dance"}}); err != nil {
		t.Fatal(err)
	}
	msg = readUntil(t, operator, byID("c3"))
	if payload, _ := msg["payload"].(map[string]any); payload["code"] != motion.ReasonInvalidCommand {
		t.Errorf("unknown action reply = %v", msg)
	}
}

// ─── Command Handler ───────────────────────────────────────────────

// withRole returns a context carrying claims for user "tester".
func withRole(role auth.Role) context.Context {
	claims := &auth.CustomClaims{Role: role}
	claims.Subject = "tester"
	return context.WithValue(context.Background(), ctxKeyClaims, claims)
}

func TestCommandHandler(t *testing.T) {
	tests := []struct {
		name    string
		ctx     context.Context
		cmd     broadcast.Command
		wantErr error
	}{
		{"no identity", context.Background(), broadcast.Command{Action: broadcast.ActionStop}, auth.ErrForbidden},
		{"viewer stop", withRole(auth.RoleViewer), broadcast.Command{Action: broadcast.ActionStop}, auth.ErrForbidden},
		{"operator stop", withRole(auth.RoleOperator), broadcast.Command{Action: broadcast.ActionStop}, nil},
		{"move", withRole(auth.RoleOperator), broadcast.Command{Action: broadcast.ActionMove, Targets: map[string]float64{"DOME": 10}}, nil},
		{"move without targets", withRole(auth.RoleOperator), broadcast.Command{Action: broadcast.ActionMove}, motion.ErrInvalidCommand},
		{"cancel", withRole(auth.RoleAdmin), broadcast.Command{Action: broadcast.ActionCancel, ExecutionID: "x1"}, nil},
		{"cancel without id", withRole(auth.RoleAdmin), broadcast.Command{Action: broadcast.ActionCancel}, motion.ErrInvalidCommand},
		{"execute without sequence", withRole(auth.RoleOperator), broadcast.Command{Action: broadcast.ActionExecute}, motion.ErrInvalidCommand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newMockEngine()
			_, err := NewCommandHandler(engine).HandleCommand(tt.ctx, tt.cmd)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("HandleCommand() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("HandleCommand() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	engine := newMockEngine()
	if _, err := NewCommandHandler(engine).HandleCommand(withRole(auth.RoleOperator), broadcast.Command{Action: broadcast.ActionStop, Reason: "panel"}); err != nil {
		t.Fatal(err)
	}
	if engine.stops[0] != "panel (ws:tester)" {
		t.Errorf("stop reason = %q", engine.stops[0])
	}
}

// ─── Server Lifecycle ──────────────────────────────────────────────

func TestServer_StartAndClose(t *testing.T) {
	h := newHarness(t, false)

	if err := h.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start succeeded")
	}

	h.srv.cfg.Port = 19180
	if err := h.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := h.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	var resp *http.Response
	var err error
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://127.0.0.1:19180/api/v1/health")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}

	if err := h.srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if _, err := http.Get("http://127.0.0.1:19180/api/v1/health"); err == nil {
		t.Error("server still responding after Close()")
	}
}
