package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestClientFetch(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr bool
		noPred  bool
	}{
		{name: "label", status: 200, body: `{"prediction":"A"}`, want: "A"},
		{name: "sentinel passes through", status: 200, body: `{"prediction":"..."}`, want: "..."},
		{name: "missing field", status: 200, body: `{}`, wantErr: true, noPred: true},
		{name: "empty field", status: 200, body: `{"prediction":""}`, wantErr: true, noPred: true},
		{name: "malformed", status: 200, body: `{"prediction":`, wantErr: true},
		{name: "server error", status: 500, body: `boom`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/get_prediction" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			t.Cleanup(srv.Close)

			client, err := NewClient(srv.URL+"/get_prediction", time.Second)
			if err != nil {
				t.Fatalf("new client: %v", err)
			}
			got, err := client.Fetch(context.Background())
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got label %q", got)
				}
				if errors.Is(err, ErrNoPrediction) != tt.noPred {
					t.Fatalf("unexpected error kind: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := NewClient(url, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Fetch(context.Background()); err == nil {
		t.Fatal("expected error for closed server")
	}
}

func TestNewClientRequiresURL(t *testing.T) {
	if _, err := NewClient("  ", time.Second); err == nil {
		t.Fatal("expected error for empty url")
	}
}

type scriptedFetcher struct {
	mu    sync.Mutex
	steps []step
	calls int
}

type step struct {
	label string
	err   error
}

func (f *scriptedFetcher) Fetch(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls >= len(f.steps) {
		return "", ErrNoPrediction
	}
	s := f.steps[f.calls]
	f.calls++
	return s.label, s.err
}

func TestSampleSkipsFailures(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{
		{err: errors.New("connection refused")},
		{err: ErrNoPrediction},
		{label: "B"},
	}}
	p := NewPoller(fetcher, PollerConfig{Fallback: "..."}, newLogger())

	if _, ok := p.Sample(context.Background()); ok {
		t.Fatal("expected transport failure to skip")
	}
	if _, ok := p.Sample(context.Background()); ok {
		t.Fatal("expected empty prediction to skip")
	}
	if p.Current() != "..." {
		t.Fatalf("expected fallback before first label, got %q", p.Current())
	}
	label, ok := p.Sample(context.Background())
	if !ok || label != "B" {
		t.Fatalf("expected B, got %q ok=%v", label, ok)
	}
	if p.Current() != "B" {
		t.Fatalf("expected current B, got %q", p.Current())
	}
}

func TestCurrentGoesStale(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{{label: "C"}}}
	p := NewPoller(fetcher, PollerConfig{StaleAfter: 20 * time.Millisecond, Fallback: "..."}, newLogger())

	if _, ok := p.Sample(context.Background()); !ok {
		t.Fatal("expected sample")
	}
	if p.Current() != "C" {
		t.Fatalf("expected C, got %q", p.Current())
	}
	time.Sleep(60 * time.Millisecond)
	if p.Current() != "..." {
		t.Fatalf("expected stale label to fall back, got %q", p.Current())
	}
}

func TestRunDeliversLabelsUntilCancelled(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{
		{label: "A"},
		{err: errors.New("timeout")},
		{label: "B"},
	}}
	p := NewPoller(fetcher, PollerConfig{Interval: 5 * time.Millisecond}, newLogger())

	ctx, cancel := context.WithCancel(context.Background())
	labels := make(chan string, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx, func(label string) { labels <- label })
	}()

	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case l := <-labels:
			got = append(got, l)
		case <-timeout:
			t.Fatalf("timed out, got %v", got)
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after cancel")
	}
	if got[0] != "A" || got[1] != "B" {
		t.Fatalf("unexpected labels %v", got)
	}
}

func TestVideoProxyRelaysStream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/video_feed" {
			t.Errorf("unexpected upstream path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		_, _ = w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\nJPEG\r\n"))
	}))
	t.Cleanup(upstream.Close)

	proxy, err := NewVideoProxy(upstream.URL+"/video_feed", newLogger())
	if err != nil {
		t.Fatalf("new proxy: %v", err)
	}
	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/video_feed", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "multipart/x-mixed-replace; boundary=frame" {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestVideoProxyRejectsRelativeURL(t *testing.T) {
	if _, err := NewVideoProxy("/video_feed", newLogger()); err == nil {
		t.Fatal("expected error for relative url")
	}
}
