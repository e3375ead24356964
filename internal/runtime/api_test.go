package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-sign/internal/config"
	"github.com/loqalabs/loqa-sign/internal/eventstore"
	"github.com/loqalabs/loqa-sign/internal/protocol"
	"github.com/loqalabs/loqa-sign/internal/sentence"
	"github.com/loqalabs/loqa-sign/internal/session"
	"github.com/loqalabs/loqa-sign/internal/source"
	"github.com/loqalabs/loqa-sign/internal/tts"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixedFetcher string

func (f fixedFetcher) Fetch(context.Context) (string, error) { return string(f), nil }

func newTestServer(t *testing.T, label string) (*httptest.Server, *session.Service) {
	t.Helper()
	log := newLogger()
	store, err := eventstore.Open(context.Background(), config.EventStoreConfig{
		Path:          filepath.Join(t.TempDir(), "events.db"),
		RetentionMode: "session",
	}, log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	poller := source.NewPoller(fixedFetcher(label), source.PollerConfig{Interval: 5 * time.Millisecond, Fallback: sentence.NoSign}, log)
	player := tts.NewPlayer(context.Background(), tts.NewMockSynth(16000, 1), tts.PlayerConfig{}, log)
	svc := session.NewService(context.Background(), session.Config{Hold: 30 * time.Millisecond, VideoFeed: "/video_feed"}, session.Deps{
		Poller: poller,
		Player: player,
		Store:  store,
	}, log)
	if err := svc.Start(); err != nil {
		t.Fatalf("start session: %v", err)
	}
	t.Cleanup(svc.Close)

	mux := http.NewServeMux()
	newAPI(svc, log).register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, svc
}

func getSnapshot(t *testing.T, url string) protocol.Snapshot {
	t.Helper()
	resp, err := http.Get(url + "/api/sentence")
	if err != nil {
		t.Fatalf("get sentence: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var snap protocol.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return snap
}

func post(t *testing.T, url string) (*http.Response, protocol.Snapshot) {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	var snap protocol.Snapshot
	_ = json.NewDecoder(resp.Body).Decode(&snap)
	return resp, snap
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestSentenceAPI(t *testing.T) {
	srv, _ := newTestServer(t, "HI")

	waitFor(t, func() bool { return getSnapshot(t, srv.URL).Sentence == "HI" })
	snap := getSnapshot(t, srv.URL)
	if snap.CurrentSign != "HI" || snap.VideoFeed != "/video_feed" || snap.SessionID == "" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	tests := []struct {
		path string
		want string
	}{
		{"/api/sentence/space", "HI "},
		{"/api/sentence/backspace", "HI"},
		{"/api/sentence/clear", ""},
		{"/api/sentence/backspace", ""},
	}
	for _, tt := range tests {
		resp, snap := post(t, srv.URL+tt.path)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: unexpected status %d", tt.path, resp.StatusCode)
		}
		if snap.Sentence != tt.want {
			t.Fatalf("%s: expected %q, got %q", tt.path, tt.want, snap.Sentence)
		}
	}
}

func TestUnknownEditRejected(t *testing.T) {
	srv, _ := newTestServer(t, "...")
	for _, op := range []string{"commit", "undo"} {
		resp, _ := post(t, srv.URL+"/api/sentence/"+op)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", op, resp.StatusCode)
		}
	}
	resp, err := http.Get(srv.URL + "/api/sentence/space")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET edit, got %d", resp.StatusCode)
	}
}

func TestSpeakAPI(t *testing.T) {
	srv, _ := newTestServer(t, "Waiting...")

	resp, _ := post(t, srv.URL+"/api/speak")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for empty sentence, got %d", resp.StatusCode)
	}

	post(t, srv.URL+"/api/sentence/space")
	resp, snap := post(t, srv.URL+"/api/speak")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	if !snap.Speaking {
		t.Fatal("expected speaking in response")
	}
	waitFor(t, func() bool { return !getSnapshot(t, srv.URL).Speaking })
}

func TestHistoryAPI(t *testing.T) {
	srv, _ := newTestServer(t, "...")
	post(t, srv.URL+"/api/sentence/space")
	post(t, srv.URL+"/api/sentence/clear")

	var events []eventstore.Event
	waitFor(t, func() bool {
		resp, err := http.Get(srv.URL + "/api/history?limit=1")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		events = nil
		if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
			return false
		}
		return len(events) == 1 && events[0].Type == eventstore.TypeClear
	})

	resp, err := http.Get(srv.URL + "/api/history?limit=abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest || !strings.Contains(string(body), "limit") {
		t.Fatalf("expected bad request, got %d %s", resp.StatusCode, body)
	}
}

func TestClosedSessionUnavailable(t *testing.T) {
	srv, svc := newTestServer(t, "...")
	svc.Close()
	resp, _ := post(t, srv.URL+"/api/sentence/space")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestReadyRequiresHealthySession(t *testing.T) {
	r := New(config.Default(), newLogger())
	rec := httptest.NewRecorder()
	r.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before start, got %d", rec.Code)
	}

	_, svc := newTestServer(t, "...")
	r.session = svc
	r.ready.Store(true)
	rec = httptest.NewRecorder()
	r.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 when ready, got %d", rec.Code)
	}
}
