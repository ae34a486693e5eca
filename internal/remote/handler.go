package remote

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/invtrack/syncq/internal/mutation"
)

// NewHandler serves the REST API on top of m, so an HTTPClient can talk to an
// in-memory server (load tests, local demo, client tests).
func NewHandler(m *Memory) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := m.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /{entity}", func(w http.ResponseWriter, r *http.Request) {
		et, fields, ok := decodeWrite(w, r)
		if !ok {
			return
		}
		res, err := m.Create(r.Context(), et, r.Header.Get(IdempotencyHeader), fields)
		if err != nil {
			writeCategorized(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, wireResponse{ID: res.ServerID, Revision: res.Revision})
	})
	mux.HandleFunc("PUT /{entity}/{id}", func(w http.ResponseWriter, r *http.Request) {
		et, fields, ok := decodeWrite(w, r)
		if !ok {
			return
		}
		res, err := m.Update(r.Context(), et, r.PathValue("id"), r.Header.Get(IdempotencyHeader), fields)
		if err != nil {
			writeCategorized(w, err)
			return
		}
		writeJSON(w, http.StatusOK, wireResponse{ID: res.ServerID, Revision: res.Revision})
	})
	mux.HandleFunc("GET /{entity}/{id}", func(w http.ResponseWriter, r *http.Request) {
		et := mutation.EntityType(r.PathValue("entity"))
		if !et.IsValid() {
			writeError(w, http.StatusNotFound, errors.New("unknown collection"))
			return
		}
		snap, err := m.Fetch(r.Context(), et, r.PathValue("id"))
		if err != nil {
			writeCategorized(w, err)
			return
		}
		writeJSON(w, http.StatusOK, wireResponse{ID: snap.ID, Revision: snap.Revision, Fields: snap.Fields})
	})
	return mux
}

func decodeWrite(w http.ResponseWriter, r *http.Request) (mutation.EntityType, map[string]any, bool) {
	et := mutation.EntityType(r.PathValue("entity"))
	if !et.IsValid() {
		writeError(w, http.StatusNotFound, errors.New("unknown collection"))
		return "", nil, false
	}
	if r.Header.Get(IdempotencyHeader) == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing "+IdempotencyHeader+" header"))
		return "", nil, false
	}
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return "", nil, false
	}
	return et, fields, true
}

func writeCategorized(w http.ResponseWriter, err error) {
	var ce *CategorizedError
	switch {
	case errors.As(err, &ce) && ce.StatusCode != 0:
		writeError(w, ce.StatusCode, err)
	case IsPermanent(err):
		writeError(w, http.StatusUnprocessableEntity, err)
	default:
		writeError(w, http.StatusServiceUnavailable, err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, wireError{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
