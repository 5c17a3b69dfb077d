package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"deliverline/internal/access"
	"deliverline/internal/config"
	"deliverline/internal/db"
	"deliverline/internal/domain"
	"deliverline/internal/migrate"
	"deliverline/internal/workflow"
)

type testServer struct {
	URL     string
	Engine  workflow.Engine
	client  *http.Client
	close   func()
	Module  domain.Module
	Partner domain.Partner
}

func (s *testServer) Client() *http.Client { return s.client }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("org-1")
	e := workflow.New(conn, cfg)
	ctx := context.Background()

	seedUser := func(id, role string, partnerID *string) {
		u := domain.User{ID: id, Name: id, Role: role, PartnerID: partnerID, CreatedAt: time.Now().UTC().Format(time.RFC3339)}
		if err := e.Repo.InsertUser(ctx, u); err != nil {
			t.Fatalf("seed user %s: %v", id, err)
		}
	}
	seedUser("admin-1", "admin", nil)
	seedUser("pm-1", "pm", nil)

	partner, err := e.CreatePartner(ctx, "admin-1", workflow.PartnerInput{Code: "acme", Name: "Acme"})
	if err != nil {
		t.Fatalf("seed partner: %v", err)
	}
	seedUser("liaison-1", "partner", &partner.ID)
	project, err := e.CreateProject(ctx, "admin-1", workflow.ProjectInput{Name: "Portal", PartnerID: partner.ID, ManagerID: "pm-1"})
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}
	module, err := e.CreateModule(ctx, "admin-1", workflow.ModuleInput{ProjectID: project.ID, Code: "auth", Name: "Authentication"})
	if err != nil {
		t.Fatalf("seed module: %v", err)
	}

	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{AllowInsecureActorHeader: true}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:     "http://" + ln.Addr().String(),
		Engine:  e,
		client:  &http.Client{},
		Module:  module,
		Partner: partner,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, actor string) (*http.Response, []byte) {
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
	if actor != "" {
		req.Header.Set("X-Actor-Id", actor)
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

type errEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func TestDeliveryFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/modules/"+srv.Module.ID+"/deliver",
		map[string]any{"note": "ready", "commit_ref": "abc123"}, "liaison-1")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("deliver status %d: %s", res.StatusCode, string(data))
	}
	var tr workflow.TransitionResult
	if err := json.Unmarshal(data, &tr); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if tr.Status != "delivered" || tr.DeliveryStatus != "pending" || tr.HistoryID == 0 {
		t.Fatalf("unexpected deliver result %+v", tr)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/modules/"+srv.Module.ID+"/approve",
		map[string]any{"note": "lgtm"}, "pm-1")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &tr); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if tr.Status != "accepted" {
		t.Fatalf("approve result %+v", tr)
	}

	// A second decision must lose.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/modules/"+srv.Module.ID+"/approve",
		map[string]any{}, "pm-1")
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second approve status %d: %s", res.StatusCode, string(data))
	}
	var env errEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if env.Error.Code != "invalid_transition" {
		t.Fatalf("error code %q: %s", env.Error.Code, string(data))
	}
}

func TestPartnerApproveForbidden(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	if _, err := srv.Engine.Deliver(context.Background(),
		mustActor(t, srv, "liaison-1"), workflow.KindModule, srv.Module.ID, workflow.DeliverInput{}); err != nil {
		t.Fatalf("seed deliver: %v", err)
	}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/modules/"+srv.Module.ID+"/approve",
		map[string]any{}, "liaison-1")
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var env errEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if env.Error.Code != "forbidden" {
		t.Fatalf("error code %q", env.Error.Code)
	}
}

func TestRejectWithoutNote(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	if _, err := srv.Engine.Deliver(context.Background(),
		mustActor(t, srv, "liaison-1"), workflow.KindModule, srv.Module.ID, workflow.DeliverInput{}); err != nil {
		t.Fatalf("seed deliver: %v", err)
	}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/modules/"+srv.Module.ID+"/reject",
		map[string]any{}, "pm-1")
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticated(t *testing.T) {
	srv := newTestServer(t)
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/partners", nil, "")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d", res.StatusCode)
	}
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
}

func TestHistoryEndpoint(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	if _, err := srv.Engine.Deliver(context.Background(),
		mustActor(t, srv, "liaison-1"), workflow.KindModule, srv.Module.ID, workflow.DeliverInput{}); err != nil {
		t.Fatalf("seed deliver: %v", err)
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/history/module/"+srv.Module.ID, nil, "pm-1")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var entries []domain.HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(entries) != 2 || entries[0].Action != "created" || entries[1].Action != "delivered" {
		t.Fatalf("history %+v", entries)
	}
}

func mustActor(t *testing.T, srv *testServer, id string) access.Actor {
	t.Helper()
	actor, err := srv.Engine.ResolveActor(context.Background(), id)
	if err != nil {
		t.Fatalf("resolve actor %s: %v", id, err)
	}
	return actor
}
