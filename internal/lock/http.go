package lock

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/coordhub/coordhub/internal/apierr"
)

// MaxPayloadSize bounds request bodies, matching the other two singletons.
const MaxPayloadSize = 1 << 20

// Router mounts every `/lock/{resourcePath}/...` route onto r.
func Router(m *Manager) *mux.Router {
	r := mux.NewRouter()
	sub := r.PathPrefix("/lock/{resourcePath:.+}").Subrouter()

	sub.HandleFunc("/check", m.handleCheck).Methods(http.MethodGet)
	sub.HandleFunc("/lock", m.handleLock).Methods(http.MethodPost)
	sub.HandleFunc("/unlock", m.handleUnlock).Methods(http.MethodPost)
	sub.HandleFunc("/history", m.handleHistory).Methods(http.MethodGet)

	return r
}

func decodeJSON(r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, MaxPayloadSize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func respondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func respondErr(w http.ResponseWriter, err error) {
	ae, ok := apierr.As(err)
	if !ok {
		ae = apierr.Storagef(err, "unexpected error")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ae.Kind.Status())
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   ae.Message,
		"kind":    ae.Kind,
		"details": ae.Details,
	})
}

func resourcePathFrom(r *http.Request) string {
	return mux.Vars(r)["resourcePath"]
}

func (m *Manager) handleCheck(w http.ResponseWriter, r *http.Request) {
	res, err := m.Check(resourcePathFrom(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, res)
}

func (m *Manager) handleLock(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AgentID string `json:"agentId"`
		Reason  string `json:"reason"`
		TTLMs   int64  `json:"ttlMs"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondErr(w, apierr.Validationf("invalid body: %v", err))
		return
	}
	rec, err := m.Lock(resourcePathFrom(r), body.AgentID, body.Reason, body.TTLMs)
	if err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	respondJSON(w, rec)
}

func (m *Manager) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AgentID string `json:"agentId"`
		Force   bool   `json:"force"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondErr(w, apierr.Validationf("invalid body: %v", err))
		return
	}
	if err := m.Unlock(resourcePathFrom(r), body.AgentID, body.Force); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, map[string]bool{"released": true})
}

func (m *Manager) handleHistory(w http.ResponseWriter, r *http.Request) {
	h, err := m.History(resourcePathFrom(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, h)
}
