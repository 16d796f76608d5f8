package syncer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/hildvein/usagevault/internal/store"
)

// blobServer is a minimal in-memory blob store speaking the transport's
// PUT/GET protocol.
type blobServer struct {
	mu    sync.Mutex
	token string
	blobs map[string][]byte
}

func newBlobServer(token string) *blobServer {
	return &blobServer{token: token, blobs: map[string][]byte{}}
}

func (s *blobServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+s.token {
		http.Error(w, "bad token", http.StatusUnauthorized)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/")

	s.mu.Lock()
	defer s.mu.Unlock()
	switch r.Method {
	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.blobs[id] = body
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		body, ok := s.blobs[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	default:
		http.Error(w, "method", http.StatusMethodNotAllowed)
	}
}

func TestPushPullRoundTrip(t *testing.T) {
	srv := httptest.NewServer(newBlobServer("secret"))
	defer srv.Close()

	client := NewClient(srv.URL, "blob-1", "secret")
	pkg := &Package{
		MachineID: "machine-a",
		Snapshots: []store.DailySnapshot{{Date: "2025-06-01", Cost: 1.5, Machine: "machine-a"}},
		ModelUsage: []store.ModelUsage{
			{Date: "2025-06-01", Model: "sonnet", InputTokens: 100},
		},
	}

	if err := client.Push(context.Background(), pkg); err != nil {
		t.Fatal(err)
	}
	got, err := client.Pull(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.MachineID != "machine-a" {
		t.Errorf("machine = %q", got.MachineID)
	}
	if len(got.Snapshots) != 1 || got.Snapshots[0].Cost != 1.5 {
		t.Errorf("snapshots = %+v", got.Snapshots)
	}
	if len(got.ModelUsage) != 1 || got.ModelUsage[0].InputTokens != 100 {
		t.Errorf("model usage = %+v", got.ModelUsage)
	}
}

func TestAuthRejection(t *testing.T) {
	srv := httptest.NewServer(newBlobServer("secret"))
	defer srv.Close()

	client := NewClient(srv.URL, "blob-1", "wrong")
	err := client.Push(context.Background(), &Package{MachineID: "m"})
	if err == nil {
		t.Fatal("expected auth error")
	}
	if !strings.Contains(err.Error(), "access token refused") {
		t.Errorf("error = %v, want token refusal", err)
	}

	if _, err := client.Pull(context.Background()); err == nil {
		t.Fatal("expected auth error on pull")
	}
}

func TestPullMissingBlob(t *testing.T) {
	srv := httptest.NewServer(newBlobServer("secret"))
	defer srv.Close()

	client := NewClient(srv.URL, "never-pushed", "secret")
	_, err := client.Pull(context.Background())
	if err == nil {
		t.Fatal("expected not-found error")
	}
	if !strings.Contains(err.Error(), "blob not found") {
		t.Errorf("error = %v, want blob not found", err)
	}
}

func TestPullMalformedDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("this is not json"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "blob-1", "t")
	if _, err := client.Pull(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestWireFormatFieldNames(t *testing.T) {
	// The document is consumed by other machines; field names are a contract.
	pkg := &Package{
		MachineID: "m",
		Snapshots: []store.DailySnapshot{{Date: "2025-06-01"}},
	}
	body, err := json.Marshal(pkg)
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{`"machine_id"`, `"exported_at"`, `"snapshots"`, `"model_usage"`, `"date"`} {
		if !strings.Contains(string(body), field) {
			t.Errorf("wire document missing %s: %s", field, body)
		}
	}
}
