package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/vesaa/wgtally/internal/config"
	"github.com/vesaa/wgtally/internal/ledger"
	"github.com/vesaa/wgtally/internal/store"
)

const (
	testAgentToken = "agent-token"
	testHeader     = "wg0\tprivkey=\tpubkey=\t51820\toff"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	ctrl *gin.Engine
	data *gin.Engine
	repo *store.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo, err := store.Open(&config.Config{
		DBDriver: "sqlite",
		DBPath:   filepath.Join(t.TempDir(), "api.db"),
	})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	srv := New(ledger.New(repo), NewAuth("jwt-secret", testAgentToken, "admin", "pw"), 100)
	return &testEnv{ctrl: srv.ControlEngine(), data: srv.DataEngine(), repo: repo}
}

func do(t *testing.T, h http.Handler, method, path, token, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func jsonBody(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	w := do(t, e.ctrl, http.MethodPost, "/api/login", "", "application/json",
		jsonBody(t, map[string]string{"username": "admin", "password": "pw"}))
	if w.Code != http.StatusOK {
		t.Fatalf("login: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	decode(t, w, &resp)
	return resp.Token
}

func (e *testEnv) ingest(t *testing.T, dumpText string) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, e.data, http.MethodPost, "/api/dumps", testAgentToken, "application/json",
		jsonBody(t, IngestRequest{DumpText: dumpText, Source: "test"}))
}

func TestIngest_RequiresAgentToken(t *testing.T) {
	env := newTestEnv(t)

	for _, token := range []string{"", "wrong"} {
		w := do(t, env.data, http.MethodPost, "/api/dumps", token, "application/json",
			jsonBody(t, IngestRequest{DumpText: testHeader}))
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("token %q: status=%d", token, w.Code)
		}
	}
}

func TestIngest_JSONAndPlainText(t *testing.T) {
	env := newTestEnv(t)

	w := env.ingest(t, testHeader+"\nwg0\tKEY1\t(none)\t1.2.3.4:5\t10.7.0.2/32\t0\t100\t200\toff")
	if w.Code != http.StatusOK {
		t.Fatalf("json ingest: %d %s", w.Code, w.Body.String())
	}
	var res struct {
		Identities   int `json:"identities_touched"`
		Observations int `json:"observations_created"`
	}
	decode(t, w, &res)
	if res.Identities != 1 || res.Observations != 1 {
		t.Fatalf("res=%+v", res)
	}

	plain := testHeader + "\nwg0\tKEY2\t(none)\t5.6.7.8:9\t10.7.0.3/32\t0\t1\t2\toff\n"
	w = do(t, env.data, http.MethodPost, "/api/dumps", testAgentToken, "text/plain; charset=utf-8", []byte(plain))
	if w.Code != http.StatusOK {
		t.Fatalf("plain ingest: %d %s", w.Code, w.Body.String())
	}
}

func TestIngest_EmptyDump(t *testing.T) {
	env := newTestEnv(t)

	w := env.ingest(t, "  \n")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "no data provided") {
		t.Fatalf("body=%s", w.Body.String())
	}
}

func TestIngest_CorruptDump(t *testing.T) {
	env := newTestEnv(t)

	w := env.ingest(t, testHeader+"\nwg0\tKEY1\t(none)\tep\tips\t0\tgarbage\t200\toff")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		Line int `json:"line"`
	}
	decode(t, w, &resp)
	if resp.Line != 2 {
		t.Fatalf("line=%d", resp.Line)
	}

	idents, err := env.repo.ListIdentities(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(idents) != 0 {
		t.Fatalf("corrupt dump created %d identities", len(idents))
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	w := do(t, env.ctrl, http.MethodPost, "/api/login", "", "application/json",
		jsonBody(t, map[string]string{"username": "admin", "password": "nope"}))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad password: %d", w.Code)
	}
	if tok := env.login(t); tok == "" {
		t.Fatal("empty token")
	}
}

func TestPeers_RequireJWT(t *testing.T) {
	env := newTestEnv(t)

	if w := do(t, env.ctrl, http.MethodGet, "/api/peers", "", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", w.Code)
	}
	if w := do(t, env.ctrl, http.MethodGet, "/api/peers", "not-a-jwt", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", w.Code)
	}
	// agent token is not a control-plane credential
	if w := do(t, env.ctrl, http.MethodGet, "/api/peers", testAgentToken, "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("agent token: %d", w.Code)
	}
}

func TestPeersListAndDetail(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	for _, rx := range []string{"100", "150", "175"} {
		w := env.ingest(t, testHeader+"\nwg0\tKEY1\t(none)\t1.2.3.4:5\t10.7.0.2/32\t0\t"+rx+"\t10\toff")
		if w.Code != http.StatusOK {
			t.Fatalf("ingest: %d %s", w.Code, w.Body.String())
		}
	}

	w := do(t, env.ctrl, http.MethodGet, "/api/peers", token, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("peers: %d %s", w.Code, w.Body.String())
	}
	var list struct {
		Data []PeerSummary `json:"data"`
	}
	decode(t, w, &list)
	if len(list.Data) != 1 {
		t.Fatalf("rows=%d", len(list.Data))
	}
	row := list.Data[0]
	if row.Received != 175 || row.Endpoint != "1.2.3.4:5" || row.DisplayName != "KEY1" {
		t.Fatalf("row=%+v", row)
	}

	w = do(t, env.ctrl, http.MethodGet, "/api/peers/1?limit=2", token, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("detail: %d %s", w.Code, w.Body.String())
	}
	var detail struct {
		History []struct {
			ReceivedBytes int64 `json:"received_bytes"`
		} `json:"history"`
		Totals struct {
			ReceivedBytes int64 `json:"received_bytes"`
			SentBytes     int64 `json:"sent_bytes"`
			Count         int   `json:"count"`
		} `json:"totals"`
	}
	decode(t, w, &detail)
	if len(detail.History) != 2 || detail.History[0].ReceivedBytes != 175 {
		t.Fatalf("history=%+v", detail.History)
	}
	if detail.Totals.ReceivedBytes != 325 || detail.Totals.SentBytes != 20 || detail.Totals.Count != 2 {
		t.Fatalf("totals=%+v", detail.Totals)
	}

	if w := do(t, env.ctrl, http.MethodGet, "/api/peers/1?limit=zero", token, "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: %d", w.Code)
	}
	if w := do(t, env.ctrl, http.MethodGet, "/api/peers/99", token, "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing peer: %d", w.Code)
	}
	if w := do(t, env.ctrl, http.MethodGet, "/api/peers/abc", token, "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id: %d", w.Code)
	}
}

func TestPeerAnnotate(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	if w := env.ingest(t, testHeader+"\nwg0\tKEY1\t(none)\tep\tips\t0\t1\t2\toff"); w.Code != http.StatusOK {
		t.Fatalf("ingest: %d", w.Code)
	}

	w := do(t, env.ctrl, http.MethodPut, "/api/peers/1", token, "application/json",
		jsonBody(t, map[string]string{"name": strings.Repeat("x", 65), "email": "not-an-email"}))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid profile: %d %s", w.Code, w.Body.String())
	}
	var verr struct {
		Fields map[string]string `json:"fields"`
	}
	decode(t, w, &verr)
	if verr.Fields["name"] != "max=64" || verr.Fields["email"] != "email" {
		t.Fatalf("fields=%v", verr.Fields)
	}

	w = do(t, env.ctrl, http.MethodPut, "/api/peers/1", token, "application/json",
		jsonBody(t, map[string]string{"name": "laptop", "email": "ops@example.com"}))
	if w.Code != http.StatusOK {
		t.Fatalf("annotate: %d %s", w.Code, w.Body.String())
	}

	w = do(t, env.ctrl, http.MethodGet, "/api/peers", token, "", nil)
	var list struct {
		Data []PeerSummary `json:"data"`
	}
	decode(t, w, &list)
	if len(list.Data) != 1 || list.Data[0].DisplayName != "laptop" || list.Data[0].PublicKey != "KEY1" {
		t.Fatalf("list=%+v", list.Data)
	}

	w = do(t, env.ctrl, http.MethodPut, "/api/peers/42", token, "application/json",
		jsonBody(t, map[string]string{"name": "ghost"}))
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing peer: %d", w.Code)
	}
}

func TestDataPlaneProbes(t *testing.T) {
	env := newTestEnv(t)

	if w := do(t, env.data, http.MethodGet, "/healthz", "", "", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz: %d", w.Code)
	}
	w := do(t, env.data, http.MethodGet, "/metrics", "", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID")
	}
}

func TestIngest_OversizedBody(t *testing.T) {
	env := newTestEnv(t)

	big := strings.Repeat("x", maxDumpBytes+1)

	w := do(t, env.data, http.MethodPost, "/api/dumps", testAgentToken, "text/plain", []byte(big))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("plain: status=%d body=%.200s", w.Code, w.Body.String())
	}

	w = env.ingest(t, big)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("json: status=%d body=%.200s", w.Code, w.Body.String())
	}

	// a malformed body under the limit is still a plain 400
	w = do(t, env.data, http.MethodPost, "/api/dumps", testAgentToken, "application/json", []byte("{"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("malformed: status=%d", w.Code)
	}
}
