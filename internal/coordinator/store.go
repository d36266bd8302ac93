package coordinator

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

// store is the raw SQL layer for the Coordinator singleton. It has no
// business logic of its own — every invariant lives in coordinator.go,
// which serializes access to store through a mutex.
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

// ---- agents ----

func (s *store) upsertAgent(a *Agent) error {
	_, err := s.db.Exec(`
		INSERT INTO agents (agent_id, status, current_task, working_on, last_seen, capabilities, offers, needs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			status = excluded.status,
			current_task = excluded.current_task,
			working_on = excluded.working_on,
			last_seen = excluded.last_seen,
			capabilities = excluded.capabilities,
			offers = excluded.offers,
			needs = excluded.needs
	`, a.AgentID, a.Status, a.CurrentTask, a.WorkingOn, fmtTime(a.LastSeen),
		jsonList(a.Capabilities), jsonList(a.Offers), jsonList(a.Needs))
	if err != nil {
		return fmt.Errorf("upsert agent: %w", err)
	}
	return nil
}

func scanAgent(row interface {
	Scan(dest ...interface{}) error
}) (*Agent, error) {
	var a Agent
	var lastSeen, caps, offers, needs string
	if err := row.Scan(&a.AgentID, &a.Status, &a.CurrentTask, &a.WorkingOn, &lastSeen, &caps, &offers, &needs); err != nil {
		return nil, err
	}
	a.LastSeen = parseTime(lastSeen)
	a.Capabilities = parseJSONList(caps)
	a.Offers = parseJSONList(offers)
	a.Needs = parseJSONList(needs)
	return &a, nil
}

func (s *store) getAgent(id string) (*Agent, error) {
	row := s.db.QueryRow(`SELECT agent_id, status, current_task, working_on, last_seen, capabilities, offers, needs FROM agents WHERE agent_id = ?`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

func (s *store) listAgents() ([]*Agent, error) {
	rows, err := s.db.Query(`SELECT agent_id, status, current_task, working_on, last_seen, capabilities, offers, needs FROM agents ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()
	var out []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ---- chat ----

func (s *store) appendChat(m *ChatMessage) error {
	reactions, _ := json.Marshal(m.Reactions)
	_, err := s.db.Exec(`INSERT INTO chat_messages (id, author, author_type, message, timestamp, reactions) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.Author, m.AuthorType, m.Message, fmtTime(m.Timestamp), string(reactions))
	if err != nil {
		return fmt.Errorf("append chat: %w", err)
	}
	return nil
}

func (s *store) setChatReactions(id string, reactions []Reaction) error {
	b, _ := json.Marshal(reactions)
	res, err := s.db.Exec(`UPDATE chat_messages SET reactions = ? WHERE id = ?`, string(b), id)
	if err != nil {
		return fmt.Errorf("update reactions: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *store) getChat(id string) (*ChatMessage, error) {
	row := s.db.QueryRow(`SELECT id, author, author_type, message, timestamp, reactions FROM chat_messages WHERE id = ?`, id)
	return scanChat(row)
}

func scanChat(row interface{ Scan(dest ...interface{}) error }) (*ChatMessage, error) {
	var m ChatMessage
	var ts, reactions string
	if err := row.Scan(&m.ID, &m.Author, &m.AuthorType, &m.Message, &ts, &reactions); err != nil {
		return nil, err
	}
	m.Timestamp = parseTime(ts)
	_ = json.Unmarshal([]byte(reactions), &m.Reactions)
	if m.Reactions == nil {
		m.Reactions = []Reaction{}
	}
	return &m, nil
}

// tailChat returns the N most recent messages in chronological order.
func (s *store) tailChat(limit int) ([]*ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT id, author, author_type, message, timestamp, reactions FROM chat_messages ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("tail chat: %w", err)
	}
	defer rows.Close()
	var out []*ChatMessage
	for rows.Next() {
		m, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// reverse to chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ---- tasks ----

func (s *store) upsertTask(t *Task) error {
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, title, description, status, priority, assignee, created_by, tags, files, created_at, updated_at, picked_up_at, completed_at, blocked_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			status = excluded.status,
			priority = excluded.priority,
			assignee = excluded.assignee,
			tags = excluded.tags,
			files = excluded.files,
			updated_at = excluded.updated_at,
			picked_up_at = excluded.picked_up_at,
			completed_at = excluded.completed_at,
			blocked_reason = excluded.blocked_reason
	`, t.ID, t.Title, t.Description, t.Status, t.Priority, t.Assignee, t.CreatedBy,
		jsonList(t.Tags), jsonList(t.Files), fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt),
		nullTimeStr(t.PickedUpAt), nullTimeStr(t.CompletedAt), t.BlockedReason)
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	return nil
}

func scanTask(row interface{ Scan(dest ...interface{}) error }) (*Task, error) {
	var t Task
	var desc, tags, files, blockedReason sql.NullString
	var createdAt, updatedAt string
	var pickedUpAt, completedAt sql.NullString
	if err := row.Scan(&t.ID, &t.Title, &desc, &t.Status, &t.Priority, &t.Assignee, &t.CreatedBy,
		&tags, &files, &createdAt, &updatedAt, &pickedUpAt, &completedAt, &blockedReason); err != nil {
		return nil, err
	}
	t.Description = desc.String
	t.Tags = parseJSONList(tags.String)
	t.Files = parseJSONList(files.String)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	t.PickedUpAt = parseNullTime(pickedUpAt)
	t.CompletedAt = parseNullTime(completedAt)
	t.BlockedReason = blockedReason.String
	return &t, nil
}

func (s *store) getTask(id string) (*Task, error) {
	row := s.db.QueryRow(`SELECT id, title, description, status, priority, assignee, created_by, tags, files, created_at, updated_at, picked_up_at, completed_at, blocked_reason FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *store) listTasks() ([]*Task, error) {
	rows, err := s.db.Query(`SELECT id, title, description, status, priority, assignee, created_by, tags, files, created_at, updated_at, picked_up_at, completed_at, blocked_reason FROM tasks`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortTasks(out)
	return out, nil
}

func sortTasks(tasks []*Task) {
	for i := 1; i < len(tasks); i++ {
		for j := i; j > 0; j-- {
			if taskLess(tasks[j], tasks[j-1]) {
				tasks[j], tasks[j-1] = tasks[j-1], tasks[j]
			} else {
				break
			}
		}
	}
}

// taskLess orders by priority ascending rank then createdAt descending.
func taskLess(a, b *Task) bool {
	ra, rb := priorityRank(a.Priority), priorityRank(b.Priority)
	if ra != rb {
		return ra < rb
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// ---- zones ----

func (s *store) upsertZone(z *Zone) error {
	_, err := s.db.Exec(`
		INSERT INTO zones (zone_id, path, owner, description, claimed_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(zone_id) DO UPDATE SET path = excluded.path, owner = excluded.owner, description = excluded.description, claimed_at = excluded.claimed_at
	`, z.ZoneID, z.Path, z.Owner, z.Description, fmtTime(z.ClaimedAt))
	if err != nil {
		return fmt.Errorf("upsert zone: %w", err)
	}
	return nil
}

func (s *store) deleteZone(zoneID, owner string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM zones WHERE zone_id = ? AND owner = ?`, zoneID, owner)
	if err != nil {
		return false, fmt.Errorf("delete zone: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func scanZone(row interface{ Scan(dest ...interface{}) error }) (*Zone, error) {
	var z Zone
	var desc sql.NullString
	var claimedAt string
	if err := row.Scan(&z.ZoneID, &z.Path, &z.Owner, &desc, &claimedAt); err != nil {
		return nil, err
	}
	z.Description = desc.String
	z.ClaimedAt = parseTime(claimedAt)
	return &z, nil
}

func (s *store) listZones() ([]*Zone, error) {
	rows, err := s.db.Query(`SELECT zone_id, path, owner, description, claimed_at FROM zones`)
	if err != nil {
		return nil, fmt.Errorf("list zones: %w", err)
	}
	defer rows.Close()
	var out []*Zone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, z)
	}
	return out, rows.Err()
}

// ---- claims ----

func (s *store) upsertClaim(c *Claim) error {
	_, err := s.db.Exec(`
		INSERT INTO claims (what, by, description, since) VALUES (?, ?, ?, ?)
		ON CONFLICT(what) DO UPDATE SET by = excluded.by, description = excluded.description, since = excluded.since
	`, c.What, c.By, c.Description, fmtTime(c.Since))
	if err != nil {
		return fmt.Errorf("upsert claim: %w", err)
	}
	return nil
}

func (s *store) deleteClaim(what, by string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM claims WHERE what = ? AND by = ?`, what, by)
	if err != nil {
		return false, fmt.Errorf("delete claim: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *store) getClaim(what string) (*Claim, error) {
	row := s.db.QueryRow(`SELECT what, by, description, since FROM claims WHERE what = ?`, what)
	c, err := scanClaim(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get claim: %w", err)
	}
	return c, nil
}

func scanClaim(row interface{ Scan(dest ...interface{}) error }) (*Claim, error) {
	var c Claim
	var desc sql.NullString
	var since string
	if err := row.Scan(&c.What, &c.By, &desc, &since); err != nil {
		return nil, err
	}
	c.Description = desc.String
	c.Since = parseTime(since)
	return &c, nil
}

func (s *store) listClaims() ([]*Claim, error) {
	rows, err := s.db.Query(`SELECT what, by, description, since FROM claims`)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	defer rows.Close()
	var out []*Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ---- handoffs ----

func (s *store) upsertHandoff(h *Handoff) error {
	steps, _ := json.Marshal(h.NextSteps)
	_, err := s.db.Exec(`
		INSERT INTO handoffs (id, from_agent, to_agent, title, context, code, file_path, next_steps, priority, status, claimed_by, created_at, claimed_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			claimed_by = excluded.claimed_by,
			claimed_at = excluded.claimed_at,
			completed_at = excluded.completed_at
	`, h.ID, h.FromAgent, h.ToAgent, h.Title, h.Context, h.Code, h.FilePath, string(steps),
		h.Priority, h.Status, h.ClaimedBy, fmtTime(h.CreatedAt), nullTimeStr(h.ClaimedAt), nullTimeStr(h.CompletedAt))
	if err != nil {
		return fmt.Errorf("upsert handoff: %w", err)
	}
	return nil
}

func scanHandoff(row interface{ Scan(dest ...interface{}) error }) (*Handoff, error) {
	var h Handoff
	var toAgent, code, filePath, claimedBy sql.NullString
	var steps string
	var createdAt string
	var claimedAt, completedAt sql.NullString
	if err := row.Scan(&h.ID, &h.FromAgent, &toAgent, &h.Title, &h.Context, &code, &filePath, &steps,
		&h.Priority, &h.Status, &claimedBy, &createdAt, &claimedAt, &completedAt); err != nil {
		return nil, err
	}
	h.ToAgent = toAgent.String
	h.Code = code.String
	h.FilePath = filePath.String
	h.ClaimedBy = claimedBy.String
	_ = json.Unmarshal([]byte(steps), &h.NextSteps)
	h.CreatedAt = parseTime(createdAt)
	h.ClaimedAt = parseNullTime(claimedAt)
	h.CompletedAt = parseNullTime(completedAt)
	return &h, nil
}

func (s *store) getHandoff(id string) (*Handoff, error) {
	row := s.db.QueryRow(`SELECT id, from_agent, to_agent, title, context, code, file_path, next_steps, priority, status, claimed_by, created_at, claimed_at, completed_at FROM handoffs WHERE id = ?`, id)
	h, err := scanHandoff(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get handoff: %w", err)
	}
	return h, nil
}

func (s *store) listHandoffs() ([]*Handoff, error) {
	rows, err := s.db.Query(`SELECT id, from_agent, to_agent, title, context, code, file_path, next_steps, priority, status, claimed_by, created_at, claimed_at, completed_at FROM handoffs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list handoffs: %w", err)
	}
	defer rows.Close()
	var out []*Handoff
	for rows.Next() {
		h, err := scanHandoff(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
