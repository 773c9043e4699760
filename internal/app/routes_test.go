package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"waypointrelay/internal/config"
	"waypointrelay/internal/destinations"
	"waypointrelay/internal/forward"
	"waypointrelay/internal/model"
	"waypointrelay/internal/monitor"
	"waypointrelay/internal/queue"
	"waypointrelay/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testApp assembles an App with real stores in a temp dir and a monitor
// that reads a nonexistent snapshot, which is enough for the API surface.
func testApp(t *testing.T) *App {
	t.Helper()

	dir := t.TempDir()
	logger := discardLogger()

	db, err := store.Open(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.InitSchema(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}

	dests, err := destinations.Open(filepath.Join(dir, "config.json"), logger)
	if err != nil {
		t.Fatalf("open destinations: %v", err)
	}

	a := New(config.Config{}, logger)
	a.store = db
	a.queue = queue.Open(filepath.Join(dir, "pending.json"), logger)
	a.dests = dests
	a.monitor = monitor.New(monitor.Settings{
		SnapshotPath: filepath.Join(dir, "missing-Items.data"),
		PollInterval: time.Minute,
	}, monitor.Deps{
		Queue:        a.queue,
		Destinations: dests,
		Attempter:    noopAttempter{},
	}, logger)

	return a
}

type noopAttempter struct{}

func (noopAttempter) Attempt(context.Context, string, string) forward.Result {
	return forward.Result{Outcome: forward.OutcomeSkipped}
}

func TestHealthAndReadiness(t *testing.T) {
	a := testApp(t)
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("readyz status %d", resp.StatusCode)
	}
}

func TestItemsEndpoint(t *testing.T) {
	a := testApp(t)
	now := time.Now()
	a.setStatus([]model.ItemStatus{{Name: "Keys", Serial: "ABCD", LastSent: &now, Pending: 2}})

	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/items")
	if err != nil {
		t.Fatalf("GET /api/items: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Items       []model.ItemStatus `json:"items"`
		SourceError string             `json:"source_error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Items) != 1 || body.Items[0].Serial != "ABCD" || body.Items[0].Pending != 2 {
		t.Errorf("unexpected items %+v", body.Items)
	}
	if body.SourceError != "" {
		t.Errorf("unexpected source error %q", body.SourceError)
	}
}

func TestDestinationsReplaceAll(t *testing.T) {
	a := testApp(t)
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	payload := `{"tag_configs":[{"serial":"ABCD","server_url":"https://example.com","api_key":"k"},{"serial":"","server_url":"x","api_key":"y"}]}`
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/destinations", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT /api/destinations: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}

	var body struct {
		TagConfigs []model.Destination `json:"tag_configs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.TagConfigs) != 1 || body.TagConfigs[0].Serial != "ABCD" {
		t.Errorf("expected empty-serial row dropped, got %+v", body.TagConfigs)
	}

	if rows := a.dests.Snapshot(); len(rows) != 1 {
		t.Errorf("replace not applied to the file owner: %+v", rows)
	}
}

func TestPendingEndpoint(t *testing.T) {
	a := testApp(t)
	key := queue.Key("ABCD", "https://example.com")
	if err := a.queue.Append(key, model.Point{Timestamp: "1000"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/pending")
	if err != nil {
		t.Fatalf("GET /api/pending: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Pending map[string]int `json:"pending"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Pending[key] != 1 {
		t.Errorf("unexpected pending map %v", body.Pending)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	a := testApp(t)
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/items", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/items: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", resp.StatusCode)
	}
	if allow := resp.Header.Get("Allow"); allow != http.MethodGet {
		t.Errorf("unexpected Allow header %q", allow)
	}
}
