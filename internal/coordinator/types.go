package coordinator

import "time"

// AgentStatus is the presence state of an agent record.
type AgentStatus string

const (
	AgentActive  AgentStatus = "active"
	AgentIdle    AgentStatus = "idle"
	AgentOffline AgentStatus = "offline"
)

// Agent is the team-wide presence record for one agentId.
type Agent struct {
	AgentID      string    `json:"agentId"`
	Status       AgentStatus `json:"status"`
	CurrentTask  string    `json:"currentTask,omitempty"`
	WorkingOn    string    `json:"workingOn,omitempty"`
	LastSeen     time.Time `json:"lastSeen"`
	Capabilities []string  `json:"capabilities"`
	Offers       []string  `json:"offers"`
	Needs        []string  `json:"needs"`
}

// Reaction is one emoji reaction attached to a ChatMessage.
type Reaction struct {
	By    string `json:"by"`
	Emoji string `json:"emoji"`
}

// AuthorType distinguishes who produced a ChatMessage.
type AuthorType string

const (
	AuthorAgent  AuthorType = "agent"
	AuthorHuman  AuthorType = "human"
	AuthorSystem AuthorType = "system"
)

// ChatMessage is one entry in the append-only group chat log.
type ChatMessage struct {
	ID         string     `json:"id"`
	Author     string     `json:"author"`
	AuthorType AuthorType `json:"authorType"`
	Message    string     `json:"message"`
	Timestamp  time.Time  `json:"timestamp"`
	Reactions  []Reaction `json:"reactions"`
}

// TaskStatus is the lifecycle status of a Task.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in-progress"
	TaskReview     TaskStatus = "review"
	TaskDone       TaskStatus = "done"
	TaskBlocked    TaskStatus = "blocked"
)

// TaskPriority orders tasks for listing (critical < high < medium < low).
type TaskPriority string

const (
	PriorityCritical TaskPriority = "critical"
	PriorityHigh     TaskPriority = "high"
	PriorityMedium   TaskPriority = "medium"
	PriorityLow      TaskPriority = "low"
)

func priorityRank(p TaskPriority) int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// Task is a unit of work tracked by the Coordinator.
type Task struct {
	ID            string       `json:"id"`
	Title         string       `json:"title"`
	Description   string       `json:"description,omitempty"`
	Status        TaskStatus   `json:"status"`
	Priority      TaskPriority `json:"priority"`
	Assignee      string       `json:"assignee,omitempty"`
	CreatedBy     string       `json:"createdBy"`
	Tags          []string     `json:"tags"`
	Files         []string     `json:"files"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
	PickedUpAt    *time.Time   `json:"pickedUpAt,omitempty"`
	CompletedAt   *time.Time   `json:"completedAt,omitempty"`
	BlockedReason string       `json:"blockedReason,omitempty"`
}

// Zone is a filesystem-prefix claim granting exclusive write intent.
type Zone struct {
	ZoneID      string    `json:"zoneId"`
	Path        string    `json:"path"`
	Owner       string    `json:"owner"`
	Description string    `json:"description,omitempty"`
	ClaimedAt   time.Time `json:"claimedAt"`
}

// Claim is a named, soft exclusivity marker on a work item.
type Claim struct {
	What        string    `json:"what"`
	By          string    `json:"by"`
	Description string    `json:"description,omitempty"`
	Since       time.Time `json:"since"`
	Stale       bool      `json:"stale"`
}

// ClaimStaleAfter is the staleness threshold from spec §3/§5.
const ClaimStaleAfter = 30 * time.Minute

// HandoffStatus is the lifecycle status of a Handoff.
type HandoffStatus string

const (
	HandoffPending   HandoffStatus = "pending"
	HandoffClaimed   HandoffStatus = "claimed"
	HandoffCompleted HandoffStatus = "completed"
)

// Handoff is a structured package of context + next steps passed from one
// agent to another (or to "any").
type Handoff struct {
	ID          string        `json:"id"`
	FromAgent   string        `json:"fromAgent"`
	ToAgent     string        `json:"toAgent,omitempty"`
	Title       string        `json:"title"`
	Context     string        `json:"context"`
	Code        string        `json:"code,omitempty"`
	FilePath    string        `json:"filePath,omitempty"`
	NextSteps   []string      `json:"nextSteps"`
	Priority    TaskPriority  `json:"priority"`
	Status      HandoffStatus `json:"status"`
	ClaimedBy   string        `json:"claimedBy,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	ClaimedAt   *time.Time    `json:"claimedAt,omitempty"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
}
