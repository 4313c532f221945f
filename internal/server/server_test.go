package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"yumimaint/internal/db"
	"yumimaint/internal/domain"
	"yumimaint/internal/engine"
	"yumimaint/internal/events"
	"yumimaint/internal/migrate"
	"yumimaint/internal/prompt"
	"yumimaint/internal/reactor"
	"yumimaint/internal/repo"
)

type testServer struct {
	URL    string
	Engine *engine.Engine
	Model  *prompt.Model
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, auth AuthConfig) (*testServer, func()) {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Path: filepath.Join(dir, db.DefaultName)})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	tasks := []domain.Task{
		{Name: "clean_nozzle", Interval: 14 * 24 * time.Hour, Prompt: "Clean nozzle", Priority: 2},
		{Name: "oil_xy_axes", Interval: 30 * 24 * time.Hour, Prompt: "Lubricate X/Y axes", Priority: 1},
	}
	e := engine.New(repo.Repo{DB: conn}, tasks, engine.DefaultOptions())
	model := prompt.NewModel(nil)
	e.UI = model
	logPath := filepath.Join(dir, "yumi_maintenance.log")
	e.Events = &events.Writer{Path: logPath}
	if err := e.Init(context.Background()); err != nil {
		t.Fatalf("init engine: %v", err)
	}
	r := reactor.New(nil)
	e.Timers = r
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	handler, err := New(Config{Engine: e, Reactor: r, Model: model, LogPath: logPath, BasePath: "/v0", Auth: auth})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		Model:  model,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			cancel()
			<-errCh
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

func TestShowThenConfirm(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/maintenance/tasks/clean_nozzle/show", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("show status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/maintenance/prompt", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("prompt status %d: %s", res.StatusCode, string(data))
	}
	var p PromptResponse
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal prompt: %v", err)
	}
	if !p.Queue.Showing || len(p.Queue.Active) != 1 || p.Queue.Active[0] != "clean_nozzle" {
		t.Fatalf("unexpected queue %+v", p.Queue)
	}
	if p.View == nil || !p.View.Visible || p.View.Text != "Clean nozzle\n" {
		t.Fatalf("unexpected view %+v", p.View)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/maintenance/tasks/clean_nozzle/confirm", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("confirm status %d: %s", res.StatusCode, string(data))
	}
	var ack AckResponse
	if err := json.Unmarshal(data, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ack.Message != "Maintenance clean_nozzle confirmed." {
		t.Fatalf("unexpected ack %q", ack.Message)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/maintenance/status", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var st StatusResponse
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if len(st.Tasks) != 2 || st.Tasks[0].Name != "oil_xy_axes" {
		t.Fatalf("expected priority order, got %+v", st.Tasks)
	}
	nozzle := st.Tasks[1]
	if nozzle.LastDone == nil || !nozzle.FirstDone || nozzle.Interval != "14d" {
		t.Fatalf("unexpected nozzle status %+v", nozzle)
	}
	if st.Queue.Showing {
		t.Fatalf("prompt should be closed after confirm")
	}
}

func TestPostponeWithoutPromptConflicts(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/maintenance/tasks/clean_nozzle/postpone", nil, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "not_active" {
		t.Fatalf("expected not_active, got %s", code)
	}
}

func TestUnknownTaskNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/maintenance/tasks/nope/confirm", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
}

func TestCheckResetAndLog(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/maintenance/check", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("check status %d: %s", res.StatusCode, string(data))
	}
	var chk CheckResponse
	_ = json.Unmarshal(data, &chk)
	if chk.Requested != 0 {
		t.Fatalf("fresh tasks are not due, got %d requests", chk.Requested)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/maintenance/reset", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reset status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/maintenance/log?limit=2", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("log status %d: %s", res.StatusCode, string(data))
	}
	var lr LogResponse
	if err := json.Unmarshal(data, &lr); err != nil {
		t.Fatalf("unmarshal log: %v", err)
	}
	if len(lr.Items) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(lr.Items))
	}
	if !strings.Contains(lr.Items[1].Message, "MAINTENANCE SYSTEM RESET") {
		t.Fatalf("last entry should be the reset, got %q", lr.Items[1].Message)
	}
}

func TestBearerAuth(t *testing.T) {
	const secret = "test-secret"
	srv, cleanup := newTestServer(t, AuthConfig{JWTSecret: secret})
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be open, got %d", res.StatusCode)
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/maintenance/status", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/maintenance/status", nil, map[string]string{"Authorization": "Bearer junk"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}

	token, err := SignToken(secret, "klipperscreen", time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/maintenance/status", nil, map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d %s", res.StatusCode, string(data))
	}

	other, _ := SignToken("other-secret", "klipperscreen", time.Hour)
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/maintenance/status", nil, map[string]string{"Authorization": "Bearer " + other})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for foreign token, got %d", res.StatusCode)
	}
}

func TestSignTokenRequiresSubject(t *testing.T) {
	if _, err := SignToken("s", " ", 0); err == nil {
		t.Fatalf("expected error for empty subject")
	}
	if _, err := SignToken("", "me", 0); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
