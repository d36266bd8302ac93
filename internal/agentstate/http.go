package agentstate

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/coordhub/coordhub/internal/apierr"
)

// MaxPayloadSize bounds request bodies, matching the Coordinator's limit.
const MaxPayloadSize = 1 << 20

// Router mounts every `/agent/{agentId}/...` route onto r.
func Router(m *Manager) *mux.Router {
	r := mux.NewRouter()
	sub := r.PathPrefix("/agent/{agentId}").Subrouter()

	sub.HandleFunc("/checkpoint", m.handleGetCheckpoint).Methods(http.MethodGet)
	sub.HandleFunc("/checkpoint", m.handleSaveCheckpoint).Methods(http.MethodPost)

	sub.HandleFunc("/messages", m.handleListMessages).Methods(http.MethodGet)
	sub.HandleFunc("/messages", m.handleSendMessage).Methods(http.MethodPost)
	sub.HandleFunc("/messages", m.handleMarkMessagesRead).Methods(http.MethodPatch)

	sub.HandleFunc("/memory", m.handleSearchMemory).Methods(http.MethodGet)
	sub.HandleFunc("/memory", m.handleRecordMemory).Methods(http.MethodPost)

	sub.HandleFunc("/state", m.handleState).Methods(http.MethodGet)

	sub.HandleFunc("/trace", m.handleListTraces).Methods(http.MethodGet)
	sub.HandleFunc("/trace", m.handleStartTrace).Methods(http.MethodPost)
	sub.HandleFunc("/trace/{sid}", m.handleGetTrace).Methods(http.MethodGet)
	sub.HandleFunc("/trace/{sid}/step", m.handleStep).Methods(http.MethodPost)
	sub.HandleFunc("/trace/{sid}/complete", m.handleCompleteTrace).Methods(http.MethodPost)
	sub.HandleFunc("/trace/{sid}/resolve-escalation", m.handleResolveEscalation).Methods(http.MethodPost)
	sub.HandleFunc("/trace/{sid}/escalations", m.handleListEscalations).Methods(http.MethodGet)

	sub.HandleFunc("/soul", m.handleGetSoul).Methods(http.MethodGet)
	sub.HandleFunc("/soul", m.handleSoulPost).Methods(http.MethodPost)
	sub.HandleFunc("/soul", m.handleSoulPatch).Methods(http.MethodPatch)

	sub.HandleFunc("/dashboard", m.handleDashboard).Methods(http.MethodGet)

	sub.HandleFunc("/heartbeat", m.handleListHeartbeats).Methods(http.MethodGet)
	sub.HandleFunc("/heartbeat", m.handleHeartbeat).Methods(http.MethodPost)

	sub.HandleFunc("/shadow", m.handleGetShadow).Methods(http.MethodGet)
	sub.HandleFunc("/shadow", m.handleShadowPost).Methods(http.MethodPost)

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

func agentIDFrom(r *http.Request) string {
	return mux.Vars(r)["agentId"]
}

// --- checkpoint ---

func (m *Manager) handleGetCheckpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := m.GetCheckpoint(agentIDFrom(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, cp)
}

func (m *Manager) handleSaveCheckpoint(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ConversationSummary *string  `json:"conversationSummary"`
		Accomplishments     []string `json:"accomplishments"`
		PendingWork         []string `json:"pendingWork"`
		RecentContext       *string  `json:"recentContext"`
		FilesEdited         []string `json:"filesEdited"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondErr(w, apierr.Validationf("invalid body: %v", err))
		return
	}
	cp, err := m.SaveCheckpoint(agentIDFrom(r), CheckpointPatch{
		ConversationSummary: body.ConversationSummary,
		Accomplishments:     body.Accomplishments,
		PendingWork:         body.PendingWork,
		RecentContext:       body.RecentContext,
		FilesEdited:         body.FilesEdited,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, cp)
}

// --- messages ---

func (m *Manager) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := m.ListMessages(agentIDFrom(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, msgs)
}

func (m *Manager) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		From    string `json:"from"`
		Type    string `json:"type"`
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondErr(w, apierr.Validationf("invalid body: %v", err))
		return
	}
	dm, err := m.SendMessage(agentIDFrom(r), body.From, body.Type, body.Content)
	if err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	respondJSON(w, dm)
}

func (m *Manager) handleMarkMessagesRead(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs []string `json:"ids"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondErr(w, apierr.Validationf("invalid body: %v", err))
		return
	}
	if err := m.MarkMessagesRead(agentIDFrom(r), body.IDs); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, map[string]bool{"ok": true})
}

// --- memory ---

func (m *Manager) handleSearchMemory(w http.ResponseWriter, r *http.Request) {
	entries, err := m.SearchMemory(agentIDFrom(r), r.URL.Query().Get("category"), r.URL.Query().Get("q"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, entries)
}

func (m *Manager) handleRecordMemory(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Category string   `json:"category"`
		Content  string   `json:"content"`
		Tags     []string `json:"tags"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondErr(w, apierr.Validationf("invalid body: %v", err))
		return
	}
	entry, err := m.RecordMemory(agentIDFrom(r), body.Category, body.Content, body.Tags)
	if err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	respondJSON(w, entry)
}

// --- state (full read) ---

func (m *Manager) handleState(w http.ResponseWriter, r *http.Request) {
	agentID := agentIDFrom(r)
	cp, err := m.GetCheckpoint(agentID)
	if err != nil {
		respondErr(w, err)
		return
	}
	soul, err := m.GetSoul(agentID)
	if err != nil {
		respondErr(w, err)
		return
	}
	shadow, err := m.GetShadow(agentID)
	if err != nil {
		respondErr(w, err)
		return
	}
	traces, err := m.ListTraces(agentID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, map[string]interface{}{
		"checkpoint": cp,
		"soul":       soul,
		"shadow":     shadow,
		"traces":     traces,
	})
}

// --- work traces ---

func (m *Manager) handleListTraces(w http.ResponseWriter, r *http.Request) {
	traces, err := m.ListTraces(agentIDFrom(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, traces)
}

func (m *Manager) handleStartTrace(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Task      string `json:"task"`
		SessionID string `json:"sessionId"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondErr(w, apierr.Validationf("invalid body: %v", err))
		return
	}
	trace, err := m.StartTrace(agentIDFrom(r), body.Task, body.SessionID)
	if err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	respondJSON(w, trace)
}

func (m *Manager) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	trace, err := m.GetTrace(agentIDFrom(r), mux.Vars(r)["sid"])
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, trace)
}

func (m *Manager) handleStep(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Tool             string   `json:"tool"`
		Intent           string   `json:"intent"`
		Outcome          string   `json:"outcome"`
		DurationMs       int64    `json:"durationMs"`
		ContributionType string   `json:"contributionType"`
		KnowledgeGained  []string `json:"knowledgeGained"`
		EliminatedPaths  []string `json:"eliminatedPaths"`
		DependsOn        []string `json:"dependsOn"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondErr(w, apierr.Validationf("invalid body: %v", err))
		return
	}
	result, err := m.Step(agentIDFrom(r), mux.Vars(r)["sid"], StepInput{
		Tool:             body.Tool,
		Intent:           body.Intent,
		Outcome:          StepOutcome(body.Outcome),
		DurationMs:       body.DurationMs,
		ContributionType: ContributionType(body.ContributionType),
		KnowledgeGained:  body.KnowledgeGained,
		EliminatedPaths:  body.EliminatedPaths,
		DependsOn:        body.DependsOn,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, result)
}

func (m *Manager) handleCompleteTrace(w http.ResponseWriter, r *http.Request) {
	trace, err := m.CompleteTrace(agentIDFrom(r), mux.Vars(r)["sid"])
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, trace)
}

func (m *Manager) handleResolveEscalation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EscalationID  string `json:"escalationId"`
		ResolvedBy    string `json:"resolvedBy"`
		ResolverAgent string `json:"resolverAgent"`
		HelpfulHint   string `json:"helpfulHint"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondErr(w, apierr.Validationf("invalid body: %v", err))
		return
	}
	esc, err := m.ResolveEscalation(agentIDFrom(r), body.EscalationID, ResolvedBy(body.ResolvedBy), body.ResolverAgent, body.HelpfulHint)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, esc)
}

func (m *Manager) handleListEscalations(w http.ResponseWriter, r *http.Request) {
	escs, err := m.ListEscalations(agentIDFrom(r), mux.Vars(r)["sid"])
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, escs)
}

// --- soul ---

func (m *Manager) handleGetSoul(w http.ResponseWriter, r *http.Request) {
	soul, err := m.GetSoul(agentIDFrom(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	if soul == nil {
		respondErr(w, apierr.NotFoundf("no soul for agent %s", agentIDFrom(r)))
		return
	}
	respondJSON(w, soul)
}

// handleSoulPost implements update-from-trace, add-xp, and
// unlock-achievement, dispatched by `action`.
func (m *Manager) handleSoulPost(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action      string `json:"action"`
		TraceID     string `json:"traceId"`
		Domain      string `json:"domain"`
		Delta       int    `json:"delta"`
		Achievement string `json:"achievement"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondErr(w, apierr.Validationf("invalid body: %v", err))
		return
	}
	agentID := agentIDFrom(r)
	switch body.Action {
	case "update-from-trace":
		result, err := m.UpdateFromTrace(agentID, body.TraceID, body.Domain)
		if err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, result)
	case "add-xp":
		soul, err := m.AddXP(agentID, body.Delta)
		if err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, soul)
	case "unlock-achievement":
		soul, err := m.UnlockAchievement(agentID, body.Achievement)
		if err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, soul)
	case "", "ensure":
		soul, isNew, err := m.ensureSoul(agentID, "")
		if err != nil {
			respondErr(w, err)
			return
		}
		if isNew {
			w.WriteHeader(http.StatusCreated)
		}
		respondJSON(w, withDerived(soul, nil))
	default:
		respondErr(w, apierr.Validationf("unknown soul action %q", body.Action))
	}
}

func (m *Manager) handleSoulPatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string `json:"name"`
		Personality string `json:"personality"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondErr(w, apierr.Validationf("invalid body: %v", err))
		return
	}
	agentID := agentIDFrom(r)
	l := m.lockFor(agentID)
	l.Lock()
	soul, lastTraceAt, err := m.store.getSoul(agentID)
	if err != nil {
		l.Unlock()
		respondErr(w, apierr.Storagef(err, "get soul"))
		return
	}
	if soul == nil {
		l.Unlock()
		respondErr(w, apierr.NotFoundf("no soul for agent %s", agentID))
		return
	}
	if body.Name != "" {
		soul.Name = body.Name
	}
	if body.Personality != "" {
		soul.Personality = body.Personality
	}
	err = m.store.putSoul(agentID, soul, lastTraceAt)
	l.Unlock()
	if err != nil {
		respondErr(w, apierr.Storagef(err, "put soul"))
		return
	}
	respondJSON(w, withDerived(soul, lastTraceAt))
}

// --- dashboard ---

func (m *Manager) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := m.GetDashboard(agentIDFrom(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, d)
}

// --- heartbeat & shadow ---

func (m *Manager) handleListHeartbeats(w http.ResponseWriter, r *http.Request) {
	hbs, err := m.ListHeartbeats(agentIDFrom(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, hbs)
}

func (m *Manager) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TokensUsed  int    `json:"tokensUsed"`
		CurrentTask string `json:"currentTask"`
		Status      string `json:"status"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondErr(w, apierr.Validationf("invalid body: %v", err))
		return
	}
	sm, err := m.Heartbeat(agentIDFrom(r), body.TokensUsed, body.CurrentTask, body.Status)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, sm)
}

func (m *Manager) handleGetShadow(w http.ResponseWriter, r *http.Request) {
	sm, err := m.GetShadow(agentIDFrom(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, sm)
}

// handleShadowPost dispatches register-shadow/become-shadow/takeover by `action`.
func (m *Manager) handleShadowPost(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action              string `json:"action"`
		ShadowID            string `json:"shadowId"`
		PrimaryAgent        string `json:"primaryAgent"`
		StallThresholdMs    int    `json:"stallThresholdMs"`
		HeartbeatIntervalMs int    `json:"heartbeatIntervalMs"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondErr(w, apierr.Validationf("invalid body: %v", err))
		return
	}
	agentID := agentIDFrom(r)
	var sm *ShadowMonitor
	var err error
	switch body.Action {
	case "register-shadow":
		sm, err = m.RegisterShadow(agentID, body.ShadowID, body.StallThresholdMs, body.HeartbeatIntervalMs)
	case "become-shadow":
		sm, err = m.BecomeShadow(agentID, body.PrimaryAgent)
	case "takeover":
		sm, err = m.Takeover(agentID)
	default:
		respondErr(w, apierr.Validationf("unknown shadow action %q", body.Action))
		return
	}
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, sm)
}
