package agentstate

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coordhub/coordhub/internal/storekit"
)

//go:embed migrations/*.sql
var migrations embed.FS

// store is the raw SQL layer for the AgentState singleton. All agents
// share one database, partitioned by agent_id; every invariant lives in
// the *.go files above this one, which serialize access per agentId
// through Manager's keyed locks.
type store struct {
	db *sql.DB
}

func openStore(path string) (*store, error) {
	db, err := storekit.Open(path)
	if err != nil {
		return nil, err
	}
	if err := storekit.Migrate(db, migrations, "migrations"); err != nil {
		db.Close()
		return nil, err
	}
	return &store{db: db}, nil
}

func jsonList(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func parseJSONList(s string) []string {
	var out []string
	if s == "" {
		return []string{}
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return []string{}
	}
	return out
}

func jsonIntMap(m map[string]int) string {
	if m == nil {
		m = map[string]int{}
	}
	b, _ := json.Marshal(m)
	return string(b)
}

func parseJSONIntMap(s string) map[string]int {
	out := map[string]int{}
	if s == "" {
		return out
	}
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

func jsonTriggers(v []Trigger) string {
	if v == nil {
		v = []Trigger{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func parseJSONTriggers(s string) []Trigger {
	var out []Trigger
	if s == "" {
		return []Trigger{}
	}
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

func jsonSummary(v *TraceSummary) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	b, _ := json.Marshal(v)
	return sql.NullString{String: string(b), Valid: true}
}

func parseJSONSummary(s sql.NullString) *TraceSummary {
	if !s.Valid || s.String == "" {
		return nil
	}
	var out TraceSummary
	if err := json.Unmarshal([]byte(s.String), &out); err != nil {
		return nil
	}
	return &out
}

func nullTimeStr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- checkpoints ---

func (s *store) putCheckpoint(agentID string, cp *Checkpoint) error {
	_, err := s.db.Exec(`
		INSERT INTO checkpoints (agent_id, conversation_summary, accomplishments, pending_work, recent_context, files_edited, checkpoint_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			conversation_summary = excluded.conversation_summary,
			accomplishments = excluded.accomplishments,
			pending_work = excluded.pending_work,
			recent_context = excluded.recent_context,
			files_edited = excluded.files_edited,
			checkpoint_at = excluded.checkpoint_at`,
		agentID, cp.ConversationSummary, jsonList(cp.Accomplishments), jsonList(cp.PendingWork),
		cp.RecentContext, jsonList(cp.FilesEdited), fmtTime(cp.CheckpointAt))
	if err != nil {
		return fmt.Errorf("put checkpoint: %w", err)
	}
	return nil
}

func (s *store) getCheckpoint(agentID string) (*Checkpoint, error) {
	row := s.db.QueryRow(`SELECT conversation_summary, accomplishments, pending_work, recent_context, files_edited, checkpoint_at
		FROM checkpoints WHERE agent_id = ?`, agentID)
	var cp Checkpoint
	var accomplishments, pendingWork, filesEdited, checkpointAt string
	err := row.Scan(&cp.ConversationSummary, &accomplishments, &pendingWork, &cp.RecentContext, &filesEdited, &checkpointAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	cp.Accomplishments = parseJSONList(accomplishments)
	cp.PendingWork = parseJSONList(pendingWork)
	cp.FilesEdited = parseJSONList(filesEdited)
	cp.CheckpointAt = parseTime(checkpointAt)
	return &cp, nil
}

// --- direct messages ---

func (s *store) insertMessage(agentID string, m *DirectMessage) error {
	_, err := s.db.Exec(`INSERT INTO messages (id, agent_id, from_agent, msg_type, content, read, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, agentID, m.From, m.Type, m.Content, boolToInt(m.Read), fmtTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func scanMessage(row interface{ Scan(dest ...interface{}) error }) (*DirectMessage, error) {
	var m DirectMessage
	var read int
	var createdAt string
	if err := row.Scan(&m.ID, &m.From, &m.Type, &m.Content, &read, &createdAt); err != nil {
		return nil, err
	}
	m.Read = read != 0
	m.CreatedAt = parseTime(createdAt)
	return &m, nil
}

func (s *store) listMessages(agentID string) ([]*DirectMessage, error) {
	rows, err := s.db.Query(`SELECT id, from_agent, msg_type, content, read, created_at FROM messages WHERE agent_id = ? ORDER BY created_at ASC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	var out []*DirectMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *store) markMessagesRead(agentID string, ids []string) error {
	stmt, err := s.db.Prepare(`UPDATE messages SET read = 1 WHERE agent_id = ? AND id = ?`)
	if err != nil {
		return fmt.Errorf("prepare mark read: %w", err)
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.Exec(agentID, id); err != nil {
			return fmt.Errorf("mark message read: %w", err)
		}
	}
	return nil
}

// --- memory entries ---

func (s *store) insertMemory(agentID string, m *MemoryEntry) error {
	_, err := s.db.Exec(`INSERT INTO memory_entries (id, agent_id, category, content, tags, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, agentID, m.Category, m.Content, jsonList(m.Tags), fmtTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

func scanMemory(row interface{ Scan(dest ...interface{}) error }) (*MemoryEntry, error) {
	var m MemoryEntry
	var tags, createdAt string
	if err := row.Scan(&m.ID, &m.Category, &m.Content, &tags, &createdAt); err != nil {
		return nil, err
	}
	m.Tags = parseJSONList(tags)
	m.CreatedAt = parseTime(createdAt)
	return &m, nil
}

func (s *store) listMemory(agentID string) ([]*MemoryEntry, error) {
	rows, err := s.db.Query(`SELECT id, category, content, tags, created_at FROM memory_entries WHERE agent_id = ? ORDER BY created_at DESC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list memory: %w", err)
	}
	defer rows.Close()
	var out []*MemoryEntry
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- work traces ---

func (s *store) insertTrace(agentID string, t *WorkTrace) error {
	_, err := s.db.Exec(`INSERT INTO traces (session_id, agent_id, task, started_at, completed_at, summary) VALUES (?, ?, ?, ?, ?, ?)`,
		t.SessionID, agentID, t.Task, fmtTime(t.StartedAt), nullTimeStr(t.CompletedAt), jsonSummary(t.Summary))
	if err != nil {
		return fmt.Errorf("insert trace: %w", err)
	}
	return nil
}

func (s *store) completeTrace(sessionID string, completedAt time.Time, summary *TraceSummary) error {
	_, err := s.db.Exec(`UPDATE traces SET completed_at = ?, summary = ? WHERE session_id = ?`,
		fmtTime(completedAt), jsonSummary(summary), sessionID)
	if err != nil {
		return fmt.Errorf("complete trace: %w", err)
	}
	return nil
}

func (s *store) appendStep(sessionID string, seq int, step *WorkStep) error {
	_, err := s.db.Exec(`INSERT INTO trace_steps (id, session_id, seq, timestamp, tool, intent, outcome, duration_ms, contribution_type, knowledge_gained, eliminated_paths, depends_on)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ID, sessionID, seq, fmtTime(step.Timestamp), step.Tool, step.Intent, string(step.Outcome), step.DurationMs,
		string(step.ContributionType), jsonList(step.KnowledgeGained), jsonList(step.EliminatedPaths), jsonList(step.DependsOn))
	if err != nil {
		return fmt.Errorf("append step: %w", err)
	}
	return nil
}

func (s *store) listSteps(sessionID string) ([]WorkStep, error) {
	rows, err := s.db.Query(`SELECT id, timestamp, tool, intent, outcome, duration_ms, contribution_type, knowledge_gained, eliminated_paths, depends_on
		FROM trace_steps WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()
	var out []WorkStep
	for rows.Next() {
		var st WorkStep
		var timestamp, outcome, contribution, knowledge, eliminated, dependsOn string
		if err := rows.Scan(&st.ID, &timestamp, &st.Tool, &st.Intent, &outcome, &st.DurationMs, &contribution, &knowledge, &eliminated, &dependsOn); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		st.Timestamp = parseTime(timestamp)
		st.Outcome = StepOutcome(outcome)
		st.ContributionType = ContributionType(contribution)
		st.KnowledgeGained = parseJSONList(knowledge)
		st.EliminatedPaths = parseJSONList(eliminated)
		st.DependsOn = parseJSONList(dependsOn)
		out = append(out, st)
	}
	return out, rows.Err()
}

// getTrace returns the trace and the agentId it belongs to, or (nil, "", nil) if absent.
func (s *store) getTrace(sessionID string) (*WorkTrace, string, error) {
	row := s.db.QueryRow(`SELECT agent_id, task, started_at, completed_at, summary FROM traces WHERE session_id = ?`, sessionID)
	var agentID, task, startedAt string
	var completedAt, summary sql.NullString
	err := row.Scan(&agentID, &task, &startedAt, &completedAt, &summary)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("get trace: %w", err)
	}
	steps, err := s.listSteps(sessionID)
	if err != nil {
		return nil, "", err
	}
	t := &WorkTrace{
		SessionID:   sessionID,
		Task:        task,
		StartedAt:   parseTime(startedAt),
		CompletedAt: parseNullTime(completedAt),
		Steps:       steps,
		Summary:     parseJSONSummary(summary),
	}
	return t, agentID, nil
}

func (s *store) listTraces(agentID string) ([]*WorkTrace, error) {
	rows, err := s.db.Query(`SELECT session_id FROM traces WHERE agent_id = ? ORDER BY started_at DESC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan trace id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	var out []*WorkTrace
	for _, id := range ids {
		t, _, err := s.getTrace(id)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// --- escalations ---

func (s *store) insertEscalation(agentID string, e *Escalation) error {
	_, err := s.db.Exec(`INSERT INTO escalations (id, session_id, agent_id, triggered_at, triggers, highest_level, resolved_at, resolved_by, resolver_agent, helpful_hint)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, agentID, fmtTime(e.TriggeredAt), jsonTriggers(e.Triggers), e.HighestLevel,
		nullTimeStr(e.ResolvedAt), string(e.ResolvedBy), e.ResolverAgent, e.HelpfulHint)
	if err != nil {
		return fmt.Errorf("insert escalation: %w", err)
	}
	return nil
}

func scanEscalation(row interface{ Scan(dest ...interface{}) error }) (*Escalation, error) {
	var e Escalation
	var triggeredAt, triggers, resolvedBy string
	var resolvedAt sql.NullString
	if err := row.Scan(&e.ID, &e.SessionID, &triggeredAt, &triggers, &e.HighestLevel, &resolvedAt, &resolvedBy, &e.ResolverAgent, &e.HelpfulHint); err != nil {
		return nil, err
	}
	e.TriggeredAt = parseTime(triggeredAt)
	e.Triggers = parseJSONTriggers(triggers)
	e.ResolvedAt = parseNullTime(resolvedAt)
	e.ResolvedBy = ResolvedBy(resolvedBy)
	return &e, nil
}

func (s *store) getEscalation(id string) (*Escalation, error) {
	row := s.db.QueryRow(`SELECT id, session_id, triggered_at, triggers, highest_level, resolved_at, resolved_by, resolver_agent, helpful_hint
		FROM escalations WHERE id = ?`, id)
	e, err := scanEscalation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get escalation: %w", err)
	}
	return e, nil
}

func (s *store) listEscalations(agentID string) ([]*Escalation, error) {
	rows, err := s.db.Query(`SELECT id, session_id, triggered_at, triggers, highest_level, resolved_at, resolved_by, resolver_agent, helpful_hint
		FROM escalations WHERE agent_id = ? ORDER BY triggered_at DESC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list escalations: %w", err)
	}
	defer rows.Close()
	var out []*Escalation
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *store) listEscalationsForSession(sessionID string) ([]*Escalation, error) {
	rows, err := s.db.Query(`SELECT id, session_id, triggered_at, triggers, highest_level, resolved_at, resolved_by, resolver_agent, helpful_hint
		FROM escalations WHERE session_id = ? ORDER BY triggered_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session escalations: %w", err)
	}
	defer rows.Close()
	var out []*Escalation
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *store) resolveEscalation(id string, resolvedAt time.Time, resolvedBy ResolvedBy, resolverAgent, hint string) error {
	_, err := s.db.Exec(`UPDATE escalations SET resolved_at = ?, resolved_by = ?, resolver_agent = ?, helpful_hint = ? WHERE id = ?`,
		fmtTime(resolvedAt), string(resolvedBy), resolverAgent, hint, id)
	if err != nil {
		return fmt.Errorf("resolve escalation: %w", err)
	}
	return nil
}

// --- souls ---

func (s *store) getSoul(agentID string) (*Soul, *time.Time, error) {
	row := s.db.QueryRow(`SELECT soul_id, name, personality, created_at, total_xp, level, current_streak, longest_streak,
		tasks_completed, tasks_successful, avg_efficiency, peers_helped, last_trace_id, escalation_count, self_resolved_count,
		peer_assist_count, human_escalation_count, specializations, achievements, can_commit, can_spawn_subagents,
		can_access_prod, can_mentor_peers, extended_budget, trust_score, transparency_score, track_record_score, last_trace_at
		FROM souls WHERE agent_id = ?`, agentID)
	var soul Soul
	var createdAt, level, specializations, achievements string
	var canCommit, canSpawn, canProd, canMentor, extended int
	var lastTraceAt sql.NullString
	err := row.Scan(&soul.SoulID, &soul.Name, &soul.Personality, &createdAt, &soul.TotalXP, &level, &soul.CurrentStreak,
		&soul.LongestStreak, &soul.TasksCompleted, &soul.TasksSuccessful, &soul.AvgEfficiency, &soul.PeersHelped,
		&soul.LastTraceID, &soul.EscalationCount, &soul.SelfResolvedCount, &soul.PeerAssistCount, &soul.HumanEscalationCount,
		&specializations, &achievements, &canCommit, &canSpawn, &canProd, &canMentor, &extended,
		&soul.TrustScore, &soul.TransparencyScore, &soul.TrackRecordScore, &lastTraceAt)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get soul: %w", err)
	}
	soul.CreatedAt = parseTime(createdAt)
	soul.Level = SoulLevel(level)
	soul.Specializations = parseJSONIntMap(specializations)
	soul.Achievements = parseJSONList(achievements)
	soul.Abilities = Abilities{
		CanCommit: canCommit != 0, CanSpawnSubagents: canSpawn != 0, CanAccessProd: canProd != 0,
		CanMentorPeers: canMentor != 0, ExtendedBudget: extended != 0,
	}
	return &soul, parseNullTime(lastTraceAt), nil
}

func (s *store) putSoul(agentID string, soul *Soul, lastTraceAt *time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO souls (agent_id, soul_id, name, personality, created_at, total_xp, level, current_streak, longest_streak,
			tasks_completed, tasks_successful, avg_efficiency, peers_helped, last_trace_id, escalation_count, self_resolved_count,
			peer_assist_count, human_escalation_count, specializations, achievements, can_commit, can_spawn_subagents,
			can_access_prod, can_mentor_peers, extended_budget, trust_score, transparency_score, track_record_score, last_trace_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			name = excluded.name, personality = excluded.personality, total_xp = excluded.total_xp, level = excluded.level,
			current_streak = excluded.current_streak, longest_streak = excluded.longest_streak, tasks_completed = excluded.tasks_completed,
			tasks_successful = excluded.tasks_successful, avg_efficiency = excluded.avg_efficiency, peers_helped = excluded.peers_helped,
			last_trace_id = excluded.last_trace_id, escalation_count = excluded.escalation_count, self_resolved_count = excluded.self_resolved_count,
			peer_assist_count = excluded.peer_assist_count, human_escalation_count = excluded.human_escalation_count,
			specializations = excluded.specializations, achievements = excluded.achievements, can_commit = excluded.can_commit,
			can_spawn_subagents = excluded.can_spawn_subagents, can_access_prod = excluded.can_access_prod,
			can_mentor_peers = excluded.can_mentor_peers, extended_budget = excluded.extended_budget,
			trust_score = excluded.trust_score, transparency_score = excluded.transparency_score,
			track_record_score = excluded.track_record_score, last_trace_at = excluded.last_trace_at`,
		agentID, soul.SoulID, soul.Name, soul.Personality, fmtTime(soul.CreatedAt), soul.TotalXP, string(soul.Level),
		soul.CurrentStreak, soul.LongestStreak, soul.TasksCompleted, soul.TasksSuccessful, soul.AvgEfficiency, soul.PeersHelped,
		soul.LastTraceID, soul.EscalationCount, soul.SelfResolvedCount, soul.PeerAssistCount, soul.HumanEscalationCount,
		jsonIntMap(soul.Specializations), jsonList(soul.Achievements), boolToInt(soul.Abilities.CanCommit),
		boolToInt(soul.Abilities.CanSpawnSubagents), boolToInt(soul.Abilities.CanAccessProd), boolToInt(soul.Abilities.CanMentorPeers),
		boolToInt(soul.Abilities.ExtendedBudget), soul.TrustScore, soul.TransparencyScore, soul.TrackRecordScore, nullTimeStr(lastTraceAt))
	if err != nil {
		return fmt.Errorf("put soul: %w", err)
	}
	return nil
}

// --- shadow monitor ---

func (s *store) getShadow(agentID string) (*ShadowMonitor, error) {
	row := s.db.QueryRow(`SELECT shadow_id, shadow_status, primary_agent, is_shadow, last_heartbeat, heartbeat_interval_ms,
		stall_threshold_ms, registered_at, takeover_at FROM shadow_monitors WHERE agent_id = ?`, agentID)
	var sm ShadowMonitor
	var status string
	var isShadow int
	var lastHeartbeat, registeredAt, takeoverAt sql.NullString
	err := row.Scan(&sm.ShadowID, &status, &sm.PrimaryAgent, &isShadow, &lastHeartbeat, &sm.HeartbeatIntervalMs,
		&sm.StallThresholdMs, &registeredAt, &takeoverAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get shadow: %w", err)
	}
	sm.ShadowStatus = ShadowStatus(status)
	sm.IsShadow = isShadow != 0
	sm.LastHeartbeat = parseNullTime(lastHeartbeat)
	sm.RegisteredAt = parseNullTime(registeredAt)
	sm.TakeoverAt = parseNullTime(takeoverAt)
	return &sm, nil
}

func (s *store) putShadow(agentID string, sm *ShadowMonitor) error {
	_, err := s.db.Exec(`
		INSERT INTO shadow_monitors (agent_id, shadow_id, shadow_status, primary_agent, is_shadow, last_heartbeat,
			heartbeat_interval_ms, stall_threshold_ms, registered_at, takeover_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			shadow_id = excluded.shadow_id, shadow_status = excluded.shadow_status, primary_agent = excluded.primary_agent,
			is_shadow = excluded.is_shadow, last_heartbeat = excluded.last_heartbeat,
			heartbeat_interval_ms = excluded.heartbeat_interval_ms, stall_threshold_ms = excluded.stall_threshold_ms,
			registered_at = excluded.registered_at, takeover_at = excluded.takeover_at`,
		agentID, sm.ShadowID, string(sm.ShadowStatus), sm.PrimaryAgent, boolToInt(sm.IsShadow), nullTimeStr(sm.LastHeartbeat),
		sm.HeartbeatIntervalMs, sm.StallThresholdMs, nullTimeStr(sm.RegisteredAt), nullTimeStr(sm.TakeoverAt))
	if err != nil {
		return fmt.Errorf("put shadow: %w", err)
	}
	return nil
}

func (s *store) appendHeartbeat(agentID string, hb *Heartbeat) error {
	_, err := s.db.Exec(`INSERT INTO heartbeats (agent_id, timestamp, tokens_used, current_task, status) VALUES (?, ?, ?, ?, ?)`,
		agentID, fmtTime(hb.Timestamp), hb.TokensUsed, hb.CurrentTask, hb.Status)
	if err != nil {
		return fmt.Errorf("append heartbeat: %w", err)
	}
	_, err = s.db.Exec(`DELETE FROM heartbeats WHERE agent_id = ? AND id NOT IN (
		SELECT id FROM heartbeats WHERE agent_id = ? ORDER BY id DESC LIMIT ?)`, agentID, agentID, MaxHeartbeats)
	if err != nil {
		return fmt.Errorf("trim heartbeats: %w", err)
	}
	return nil
}

func (s *store) listHeartbeats(agentID string, limit int) ([]*Heartbeat, error) {
	rows, err := s.db.Query(`SELECT timestamp, tokens_used, current_task, status FROM heartbeats WHERE agent_id = ? ORDER BY id DESC LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list heartbeats: %w", err)
	}
	defer rows.Close()
	var out []*Heartbeat
	for rows.Next() {
		var hb Heartbeat
		var ts string
		if err := rows.Scan(&ts, &hb.TokensUsed, &hb.CurrentTask, &hb.Status); err != nil {
			return nil, fmt.Errorf("scan heartbeat: %w", err)
		}
		hb.Timestamp = parseTime(ts)
		out = append(out, &hb)
	}
	return out, rows.Err()
}
