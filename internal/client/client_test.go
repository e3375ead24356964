package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-sign/internal/eventstore"
	"github.com/loqalabs/loqa-sign/internal/protocol"
)

func fakeDaemon(t *testing.T) *httptest.Server {
	t.Helper()
	sentence := "HI"
	mux := http.NewServeMux()
	write := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	snap := func() protocol.Snapshot {
		return protocol.Snapshot{SessionID: "s1", CurrentSign: "A", Sentence: sentence, VideoFeed: "/video_feed"}
	}
	mux.HandleFunc("GET /api/sentence", func(w http.ResponseWriter, _ *http.Request) {
		write(w, http.StatusOK, snap())
	})
	mux.HandleFunc("POST /api/sentence/{op}", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("op") {
		case "space":
			sentence += " "
		case "clear":
			sentence = ""
		default:
			write(w, http.StatusNotFound, map[string]string{"error": "unknown edit"})
			return
		}
		write(w, http.StatusOK, snap())
	})
	mux.HandleFunc("POST /api/speak", func(w http.ResponseWriter, _ *http.Request) {
		if sentence == "" {
			write(w, http.StatusOK, snap())
			return
		}
		s := snap()
		s.Speaking = true
		write(w, http.StatusAccepted, s)
	})
	mux.HandleFunc("GET /api/history", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		write(w, http.StatusOK, []eventstore.Event{
			{ID: 1, SessionID: "s1", Type: eventstore.TypeCommit, Symbol: "H", Text: "H"},
			{ID: 2, SessionID: "s1", Type: eventstore.TypeCommit, Symbol: "I", Text: "HI"},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientRoundTrips(t *testing.T) {
	srv := fakeDaemon(t)
	c, err := New(srv.URL+"/", time.Second)
	require.NoError(t, err)
	ctx := context.Background()

	snap, err := c.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "HI", snap.Sentence)
	assert.Equal(t, "A", snap.CurrentSign)
	assert.Equal(t, srv.URL+"/video_feed", c.Resolve(snap.VideoFeed))

	snap, started, err := c.Speak(ctx)
	require.NoError(t, err)
	assert.True(t, started)
	assert.True(t, snap.Speaking)

	snap, err = c.Edit(ctx, "space")
	require.NoError(t, err)
	assert.Equal(t, "HI ", snap.Sentence)

	snap, err = c.Edit(ctx, "clear")
	require.NoError(t, err)
	assert.Empty(t, snap.Sentence)

	_, started, err = c.Speak(ctx)
	require.NoError(t, err)
	assert.False(t, started)

	events, err := c.History(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "HI", events[1].Text)
}

func TestClientSurfacesDaemonErrors(t *testing.T) {
	srv := fakeDaemon(t)
	c, err := New(srv.URL, time.Second)
	require.NoError(t, err)

	_, err = c.Edit(context.Background(), "undo")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Contains(t, apiErr.Error(), "unknown edit")
}

func TestNewRejectsRelativeURL(t *testing.T) {
	_, err := New("localhost:8090", time.Second)
	assert.Error(t, err)
	_, err = New("/api", time.Second)
	assert.Error(t, err)
}

func TestResolveKeepsAbsoluteURLs(t *testing.T) {
	c, err := New("http://daemon:8090", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "http://cam:5000/video_feed", c.Resolve("http://cam:5000/video_feed"))
	assert.Equal(t, "", c.Resolve(""))
}
