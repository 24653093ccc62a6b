package adminhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ex-mimic/internal/archive"
	"ex-mimic/internal/mimic"
)

func newTestCoordinator(t *testing.T) *mimic.Coordinator {
	t.Helper()

	coordinator, err := mimic.NewCoordinator(mimic.DefaultConfig(), mimic.WithRand(mimic.NewRand(7)))
	if err != nil {
		t.Fatalf("NewCoordinator failed: %v", err)
	}
	return coordinator
}

func newTestArchive(t *testing.T) archive.Store {
	t.Helper()

	store, err := archive.OpenBadger(archive.BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatalf("OpenBadger failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func do(t *testing.T, handler http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	request := httptest.NewRequest(method, path, bytes.NewReader(body))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func TestServerStateEndpoints(t *testing.T) {
	t.Parallel()

	coordinator := newTestCoordinator(t)
	coordinator.ToggleSleep("chat-b")
	if _, err := coordinator.ConfigureProc("chat-a", 2, 5, 10); err != nil {
		t.Fatalf("ConfigureProc failed: %v", err)
	}
	server, err := New("127.0.0.1:0", coordinator)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	handler := server.Handler()

	if got := do(t, handler, http.MethodGet, "/healthz", nil); got.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want %d", got.Code, http.StatusOK)
	}

	stats := do(t, handler, http.MethodGet, "/v1/stats", nil)
	var decodedStats statsResponse
	if err := json.Unmarshal(stats.Body.Bytes(), &decodedStats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if decodedStats.Scopes != 2 {
		t.Fatalf("stats scopes = %d, want 2", decodedStats.Scopes)
	}

	scopes := do(t, handler, http.MethodGet, "/v1/scopes", nil)
	var decodedScopes []mimic.ScopeInfo
	if err := json.Unmarshal(scopes.Body.Bytes(), &decodedScopes); err != nil {
		t.Fatalf("decode scopes: %v", err)
	}
	if len(decodedScopes) != 2 || decodedScopes[0].ID != "chat-a" || !decodedScopes[1].Asleep {
		t.Fatalf("scopes = %+v, want chat-a then asleep chat-b", decodedScopes)
	}

	scope := do(t, handler, http.MethodGet, "/v1/scopes/chat-a", nil)
	var decodedScope mimic.ScopeInfo
	if err := json.Unmarshal(scope.Body.Bytes(), &decodedScope); err != nil {
		t.Fatalf("decode scope: %v", err)
	}
	if decodedScope.Proc.Min != 2 || decodedScope.Proc.Max != 5 || decodedScope.Proc.OutOf != 10 {
		t.Fatalf("scope proc = %+v, want 2/5/10", decodedScope.Proc)
	}

	if got := do(t, handler, http.MethodGet, "/v1/scopes/missing", nil); got.Code != http.StatusNotFound {
		t.Fatalf("missing scope status = %d, want %d", got.Code, http.StatusNotFound)
	}
}

func TestServerSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	source := newTestCoordinator(t)
	source.ToggleSleep("chat-a")
	sourceServer, err := New("", source)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	download := do(t, sourceServer.Handler(), http.MethodGet, "/v1/snapshot", nil)
	if download.Code != http.StatusOK {
		t.Fatalf("download status = %d, want %d", download.Code, http.StatusOK)
	}
	if got := download.Header().Get("Content-Type"); got != snapshotContentType {
		t.Fatalf("download content type = %q, want %q", got, snapshotContentType)
	}

	target := newTestCoordinator(t)
	targetServer, err := New("", target)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	restore := do(t, targetServer.Handler(), http.MethodPut, "/v1/snapshot", download.Body.Bytes())
	if restore.Code != http.StatusOK {
		t.Fatalf("restore status = %d body %s, want %d", restore.Code, restore.Body, http.StatusOK)
	}
	info, err := target.ScopeInfo("chat-a")
	if err != nil {
		t.Fatalf("ScopeInfo after restore failed: %v", err)
	}
	if !info.Asleep {
		t.Fatal("restored scope not asleep")
	}

	garbage := do(t, targetServer.Handler(), http.MethodPut, "/v1/snapshot", []byte{0xc1, 0x00})
	if garbage.Code != http.StatusBadRequest {
		t.Fatalf("garbage restore status = %d, want %d", garbage.Code, http.StatusBadRequest)
	}
	if _, err := target.ScopeInfo("chat-a"); err != nil {
		t.Fatalf("state lost after failed restore: %v", err)
	}
}

func TestServerArchiveEndpoints(t *testing.T) {
	t.Parallel()

	coordinator := newTestCoordinator(t)
	coordinator.ToggleSleep("chat-a")
	server, err := New("", coordinator, WithArchive(newTestArchive(t)))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	handler := server.Handler()

	created := do(t, handler, http.MethodPost, "/v1/archive", nil)
	if created.Code != http.StatusCreated {
		t.Fatalf("archive put status = %d body %s, want %d", created.Code, created.Body, http.StatusCreated)
	}
	var record recordResponse
	if err := json.Unmarshal(created.Body.Bytes(), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}

	list := do(t, handler, http.MethodGet, "/v1/archive", nil)
	var records []recordResponse
	if err := json.Unmarshal(list.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode records: %v", err)
	}
	if len(records) != 1 || records[0].ID != record.ID {
		t.Fatalf("records = %+v, want [%s]", records, record.ID)
	}

	if got := do(t, handler, http.MethodGet, "/v1/archive/"+record.ID, nil); got.Code != http.StatusOK || got.Body.Len() == 0 {
		t.Fatalf("archive get status = %d len %d", got.Code, got.Body.Len())
	}

	coordinator.ToggleSleep("chat-a")
	restored := do(t, handler, http.MethodPost, "/v1/archive/"+record.ID+"/restore", nil)
	if restored.Code != http.StatusOK {
		t.Fatalf("archive restore status = %d body %s", restored.Code, restored.Body)
	}
	info, err := coordinator.ScopeInfo("chat-a")
	if err != nil {
		t.Fatalf("ScopeInfo failed: %v", err)
	}
	if !info.Asleep {
		t.Fatal("archive restore did not bring back asleep scope")
	}

	if got := do(t, handler, http.MethodGet, "/v1/archive/not-an-id", nil); got.Code != http.StatusNotFound {
		t.Fatalf("invalid id status = %d, want %d", got.Code, http.StatusNotFound)
	}
}

func TestServerArchiveDisabled(t *testing.T) {
	t.Parallel()

	server, err := New("", newTestCoordinator(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if got := do(t, server.Handler(), http.MethodGet, "/v1/archive", nil); got.Code != http.StatusNotImplemented {
		t.Fatalf("disabled archive status = %d, want %d", got.Code, http.StatusNotImplemented)
	}
	if _, err := New("", nil); err == nil {
		t.Fatal("New with nil coordinator succeeded")
	}
}

func TestServerServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	server, err := New("", newTestCoordinator(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.serve(ctx, listener) }()

	response, err := http.Get("http://" + listener.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	body, _ := io.ReadAll(response.Body)
	_ = response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d body %s", response.StatusCode, body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}
