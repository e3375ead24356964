package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/loqalabs/loqa-sign/internal/eventstore"
	"github.com/loqalabs/loqa-sign/internal/protocol"
	"github.com/loqalabs/loqa-sign/internal/sentence"
	"github.com/loqalabs/loqa-sign/internal/session"
)

const maxHistory = 500

// sentenceSession is the part of session.Service the HTTP API drives.
type sentenceSession interface {
	Snapshot() protocol.Snapshot
	Edit(op sentence.Op) (protocol.Snapshot, error)
	Speak() (protocol.Snapshot, bool, error)
	History(ctx context.Context, limit int) ([]eventstore.Event, error)
}

type api struct {
	session sentenceSession
	logger  *slog.Logger
}

func newAPI(s sentenceSession, logger *slog.Logger) *api {
	return &api{session: s, logger: logger.With(slog.String("component", "http-api"))}
}

func (a *api) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sentence", a.handleSnapshot)
	mux.HandleFunc("POST /api/sentence/{op}", a.handleEdit)
	mux.HandleFunc("POST /api/speak", a.handleSpeak)
	mux.HandleFunc("GET /api/history", a.handleHistory)
}

func (a *api) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.session.Snapshot())
}

func (a *api) handleEdit(w http.ResponseWriter, r *http.Request) {
	op, ok := sentence.ParseOp(r.PathValue("op"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown edit "+strconv.Quote(r.PathValue("op")))
		return
	}
	snap, err := a.session.Edit(op)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleSpeak answers 202 when playback started and 200 when there was
// nothing to speak.
func (a *api) handleSpeak(w http.ResponseWriter, _ *http.Request) {
	snap, started, err := a.session.Speak()
	if err != nil {
		a.fail(w, err)
		return
	}
	status := http.StatusOK
	if started {
		status = http.StatusAccepted
	}
	writeJSON(w, status, snap)
}

func (a *api) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistory)
	}
	events, err := a.session.History(r.Context(), limit)
	if err != nil {
		a.fail(w, err)
		return
	}
	if events == nil {
		events = []eventstore.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (a *api) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrClosed) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	a.logger.Warn("request failed", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
