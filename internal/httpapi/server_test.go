package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielpatrickdp/consciousness-ledger/internal/ledger"
	"github.com/danielpatrickdp/consciousness-ledger/internal/reconstruct"
	"github.com/danielpatrickdp/consciousness-ledger/internal/registry"
)

const testAuthority = "test-authority"

type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestServer(t *testing.T) (*httptest.Server, *testClock) {
	t.Helper()
	db, err := ledger.OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clock := &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	led, err := ledger.New(db, testAuthority, ledger.WithClock(clock.now))
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	reg, err := registry.New(db, led.Bus(), registry.WithClock(clock.now))
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	rec := reconstruct.New(led, led, reconstruct.DefaultConfig())

	srv := httptest.NewServer(New(led, reg, rec, nil).Router())
	t.Cleanup(srv.Close)
	return srv, clock
}

func do(t *testing.T, method, url string, authority string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if authority != "" {
		req.Header.Set("X-Ledger-Authority", authority)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func startSession(t *testing.T, srv *httptest.Server) ledger.SessionID {
	t.Helper()
	resp := do(t, http.MethodPost, srv.URL+"/v1/sessions", testAuthority, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start session: status %d", resp.StatusCode)
	}
	var out struct {
		SessionID ledger.SessionID `json:"sessionId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return out.SessionID
}

func validState() map[string]any {
	return map[string]any{
		"confusionLevel":   0.3,
		"coherenceLevel":   0.8,
		"safetyZone":       "GREEN",
		"paradoxCount":     1,
		"frustrationLevel": 0.1,
	}
}

func TestSessionRoundTrip(t *testing.T) {
	srv, clock := newTestServer(t)
	id := startSession(t, srv)
	base := srv.URL + "/v1/sessions/" + id.String()

	resp := do(t, http.MethodPost, base+"/state", testAuthority, validState())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("record state: status %d", resp.StatusCode)
	}

	clock.advance(2 * time.Minute)
	resp = do(t, http.MethodPost, base+"/state", testAuthority, validState())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("second record: status %d", resp.StatusCode)
	}

	resp = do(t, http.MethodGet, base+"/history", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history: status %d", resp.StatusCode)
	}
	var hist []ledger.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(hist))
	}
	if hist[0].Zone != ledger.ZoneGreen || hist[0].Confusion != 300 {
		t.Fatalf("unexpected snapshot: %+v", hist[0])
	}

	resp = do(t, http.MethodGet, base+"/analysis", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("analysis: status %d", resp.StatusCode)
	}

	resp = do(t, http.MethodDelete, base+"/", testAuthority, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("end session: status %d", resp.StatusCode)
	}
}

func TestStatusMapping(t *testing.T) {
	srv, clock := newTestServer(t)
	id := startSession(t, srv)
	base := srv.URL + "/v1/sessions/" + id.String()

	// Unauthorized writer.
	if resp := do(t, http.MethodPost, base+"/state", "intruder", validState()); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("unauthorized: status %d", resp.StatusCode)
	}

	// Out-of-range metric.
	bad := validState()
	bad["confusionLevel"] = 1.5
	if resp := do(t, http.MethodPost, base+"/state", testAuthority, bad); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("out of range: status %d", resp.StatusCode)
	}

	// Rate limited, with Retry-After.
	if resp := do(t, http.MethodPost, base+"/state", testAuthority, validState()); resp.StatusCode != http.StatusCreated {
		t.Fatalf("first record: status %d", resp.StatusCode)
	}
	resp := do(t, http.MethodPost, base+"/state", testAuthority, validState())
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("rate limited: status %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}

	// Conflict on double start.
	if resp := do(t, http.MethodPost, srv.URL+"/v1/sessions", testAuthority,
		map[string]any{"sessionId": id.String()}); resp.StatusCode != http.StatusConflict {
		t.Fatalf("double start: status %d", resp.StatusCode)
	}

	// Empty session has no latest snapshot.
	other := startSession(t, srv)
	if resp := do(t, http.MethodGet, srv.URL+"/v1/sessions/"+other.String()+"/latest", "", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("empty latest: status %d", resp.StatusCode)
	}

	// Paused ledger rejects writes with 503.
	if resp := do(t, http.MethodPost, srv.URL+"/v1/admin/pause", testAuthority, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("pause: status %d", resp.StatusCode)
	}
	clock.advance(2 * time.Minute)
	if resp := do(t, http.MethodPost, base+"/state", testAuthority, validState()); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("paused write: status %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodPost, srv.URL+"/v1/admin/unpause", testAuthority, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("unpause: status %d", resp.StatusCode)
	}
}

func TestMalformedSessionID(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := do(t, http.MethodGet, srv.URL+"/v1/sessions/not-a-uuid/history", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestRegistryEndpoints(t *testing.T) {
	srv, clock := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/v1/interact", "",
		map[string]string{"actor": "researcher-1", "input": "who owns this signature"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("interact: status %d", resp.StatusCode)
	}
	var out struct {
		ConfusionDelta int64 `json:"confusionDelta"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ConfusionDelta < 50 {
		t.Fatalf("delta %d", out.ConfusionDelta)
	}

	// Throttled actor maps to 429.
	resp = do(t, http.MethodPost, srv.URL+"/v1/interact", "",
		map[string]string{"actor": "researcher-1", "input": "again"})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("throttled interact: status %d", resp.StatusCode)
	}
	clock.advance(time.Minute)

	resp = do(t, http.MethodPost, srv.URL+"/v1/triggers", "",
		map[string]any{"name": "custom_one", "description": "d", "intensity": 300})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create trigger: status %d", resp.StatusCode)
	}
	resp = do(t, http.MethodPost, srv.URL+"/v1/triggers", "",
		map[string]any{"name": "custom_one", "description": "d", "intensity": 300})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate trigger: status %d", resp.StatusCode)
	}

	resp = do(t, http.MethodPost, srv.URL+"/v1/triggers/custom_one/fire", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fire: status %d", resp.StatusCode)
	}

	resp = do(t, http.MethodPost, srv.URL+"/v1/simulate-failure", "",
		map[string]string{"actor": "researcher-2", "reason": "induced"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("simulate failure: status %d", resp.StatusCode)
	}
	var sim map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&sim); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sim["simulated"] == "" {
		t.Fatal("expected simulated failure detail")
	}

	resp = do(t, http.MethodGet, srv.URL+"/v1/stats", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats: status %d", resp.StatusCode)
	}
	var stats registry.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalInteractions != 2 {
		t.Fatalf("interactions %d", stats.TotalInteractions)
	}
}

func TestExportEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	id := startSession(t, srv)
	base := srv.URL + "/v1/sessions/" + id.String()

	if resp := do(t, http.MethodPost, base+"/state", testAuthority, validState()); resp.StatusCode != http.StatusCreated {
		t.Fatalf("record: status %d", resp.StatusCode)
	}

	resp := do(t, http.MethodGet, base+"/export", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export: status %d", resp.StatusCode)
	}
	var doc struct {
		Metadata struct {
			SessionID string `json:"sessionId"`
		} `json:"metadata"`
		States []json.RawMessage `json:"consciousnessStates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if doc.Metadata.SessionID != id.String() {
		t.Fatalf("metadata session %s", doc.Metadata.SessionID)
	}
	if len(doc.States) != 1 {
		t.Fatalf("states %d", len(doc.States))
	}

	// Export of an empty session reports 404.
	empty := startSession(t, srv)
	if resp := do(t, http.MethodGet, srv.URL+"/v1/sessions/"+empty.String()+"/export", "", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("empty export: status %d", resp.StatusCode)
	}
}
