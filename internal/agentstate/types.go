// Package agentstate implements the AgentState singleton: one instance per
// agentId, holding that agent's checkpoint, direct messages, memory, work
// traces, escalations, soul progression, and shadow/heartbeat monitor.
//
// Every exported method on Manager is scoped to a single agentId and takes
// that agent's own lock for its full duration, so operations on one agent
// never interleave, while operations on different agents run in parallel.
package agentstate

import "time"

// Checkpoint is the singleton per-agent save-point, field-merged on write.
type Checkpoint struct {
	ConversationSummary string    `json:"conversationSummary,omitempty"`
	Accomplishments     []string  `json:"accomplishments"`
	PendingWork         []string  `json:"pendingWork"`
	RecentContext       string    `json:"recentContext,omitempty"`
	FilesEdited         []string  `json:"filesEdited"`
	CheckpointAt        time.Time `json:"checkpointAt"`
}

// DirectMessage is one entry in an agent's inbox.
type DirectMessage struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Type      string    `json:"type"` // note, mention, reply, ...
	Content   string    `json:"content"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// MemoryEntry is one append-only fact an agent recorded about its work.
type MemoryEntry struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"createdAt"`
}

// StepOutcome is the result classification of one WorkStep.
type StepOutcome string

const (
	OutcomeFound   StepOutcome = "found"
	OutcomePartial StepOutcome = "partial"
	OutcomeNothing StepOutcome = "nothing"
	OutcomeError   StepOutcome = "error"
)

// ContributionType classifies how much a step advanced the task.
type ContributionType string

const (
	ContributionDirect     ContributionType = "direct"
	ContributionSupporting ContributionType = "supporting"
	ContributionMinimal    ContributionType = "minimal"
)

// WorkStep is one recorded action within a WorkTrace.
type WorkStep struct {
	ID               string           `json:"id"`
	Timestamp        time.Time        `json:"timestamp"`
	Tool             string           `json:"tool"`
	Intent           string           `json:"intent"`
	Outcome          StepOutcome      `json:"outcome"`
	DurationMs       int64            `json:"durationMs"`
	ContributionType ContributionType `json:"contributionType,omitempty"`
	KnowledgeGained  []string         `json:"knowledgeGained"`
	EliminatedPaths  []string         `json:"eliminatedPaths"`
	DependsOn        []string         `json:"dependsOn"`
}

// TraceSummary is computed once on WorkTrace completion.
type TraceSummary struct {
	TotalSteps        int     `json:"totalSteps"`
	DeadEnds          int     `json:"deadEnds"`
	ExplorationTimeMs int64   `json:"explorationTimeMs"`
	SolutionTimeMs    int64   `json:"solutionTimeMs"`
	Efficiency        float64 `json:"efficiency"`
}

// WorkTrace is one session of recorded work toward a task.
type WorkTrace struct {
	SessionID   string        `json:"sessionId"`
	Task        string        `json:"task"`
	StartedAt   time.Time     `json:"startedAt"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
	Steps       []WorkStep    `json:"steps"`
	Summary     *TraceSummary `json:"summary,omitempty"`
}

// ResolvedBy is who closed out an Escalation.
type ResolvedBy string

const (
	ResolvedBySelf  ResolvedBy = "self"
	ResolvedByPeer  ResolvedBy = "peer"
	ResolvedByHuman ResolvedBy = "human"
)

// Trigger is one escalation-worthy condition detected on a step.
type Trigger struct {
	Type        string    `json:"type"`
	Level       int       `json:"level"`
	Reason      string    `json:"reason"`
	DetectedAt  time.Time `json:"detectedAt"`
}

// Escalation records a cluster of triggers fired during a WorkTrace.
type Escalation struct {
	ID            string     `json:"id"`
	SessionID     string     `json:"sessionId"`
	TriggeredAt   time.Time  `json:"triggeredAt"`
	Triggers      []Trigger  `json:"triggers"`
	HighestLevel  int        `json:"highestLevel"`
	ResolvedAt    *time.Time `json:"resolvedAt,omitempty"`
	ResolvedBy    ResolvedBy `json:"resolvedBy,omitempty"`
	ResolverAgent string     `json:"resolverAgent,omitempty"`
	HelpfulHint   string     `json:"helpfulHint,omitempty"`
}

// SoulLevel is one rung of the progression ladder.
type SoulLevel string

const (
	LevelNovice  SoulLevel = "novice"
	LevelCapable SoulLevel = "capable"
	LevelExpert  SoulLevel = "expert"
	LevelMaster  SoulLevel = "master"
)

// Abilities unlock cumulatively as a Soul levels up.
type Abilities struct {
	CanCommit         bool `json:"canCommit"`
	CanSpawnSubagents bool `json:"canSpawnSubagents"`
	CanAccessProd     bool `json:"canAccessProd"`
	CanMentorPeers    bool `json:"canMentorPeers"`
	ExtendedBudget    bool `json:"extendedBudget"`
}

// Soul is the per-agent gamified progression record.
type Soul struct {
	SoulID               string             `json:"soulId"`
	Name                 string             `json:"name"`
	Personality          string             `json:"personality,omitempty"`
	CreatedAt            time.Time          `json:"createdAt"`
	TotalXP              int                `json:"totalXP"`
	Level                SoulLevel          `json:"level"`
	CurrentStreak        int                `json:"currentStreak"`
	LongestStreak        int                `json:"longestStreak"`
	TasksCompleted       int                `json:"tasksCompleted"`
	TasksSuccessful       int               `json:"tasksSuccessful"`
	AvgEfficiency        float64            `json:"avgEfficiency"`
	PeersHelped          int                `json:"peersHelped"`
	LastTraceID          string             `json:"lastTraceId,omitempty"`
	EscalationCount      int                `json:"escalationCount"`
	SelfResolvedCount    int                `json:"selfResolvedCount"`
	PeerAssistCount      int                `json:"peerAssistCount"`
	HumanEscalationCount int                `json:"humanEscalationCount"`
	Specializations      map[string]int     `json:"specializations"`
	Achievements         []string           `json:"achievements"`
	Abilities            Abilities          `json:"abilities"`
	TrustScore           float64            `json:"trustScore"`
	TransparencyScore    float64            `json:"transparencyScore"`
	TrackRecordScore     float64            `json:"trackRecordScore"`

	// Derived on read only, never persisted.
	RustLevel              float64 `json:"rustLevel"`
	EffectiveXPMultiplier  float64 `json:"effectiveXPMultiplier"`
}

// SpecializationDomains are the recognized Soul.Specializations keys.
var SpecializationDomains = []string{"frontend", "backend", "devops", "research"}

// ShadowStatus is the lifecycle state of an agent's shadow monitor.
type ShadowStatus string

const (
	ShadowNone       ShadowStatus = "none"
	ShadowMonitoring ShadowStatus = "monitoring"
	ShadowTakenOver  ShadowStatus = "taken-over"
)

// DefaultHeartbeatIntervalMs and DefaultStallThresholdMs are the §3 defaults.
const (
	DefaultHeartbeatIntervalMs = 60_000
	DefaultStallThresholdMs    = 300_000
)

// ShadowMonitor is the single-row takeover-signaling record per agent.
type ShadowMonitor struct {
	ShadowID           string       `json:"shadowId,omitempty"`
	ShadowStatus       ShadowStatus `json:"shadowStatus"`
	PrimaryAgent       string       `json:"primaryAgent,omitempty"`
	IsShadow           bool         `json:"isShadow"`
	LastHeartbeat      *time.Time   `json:"lastHeartbeat,omitempty"`
	HeartbeatIntervalMs int         `json:"heartbeatIntervalMs"`
	StallThresholdMs   int          `json:"stallThresholdMs"`
	RegisteredAt       *time.Time   `json:"registeredAt,omitempty"`
	TakeoverAt         *time.Time   `json:"takeoverAt,omitempty"`

	// Derived on read only.
	IsHealthy bool `json:"isHealthy"`
}

// Heartbeat is one entry of the append-only ring (kept to the last 100).
type Heartbeat struct {
	Timestamp   time.Time `json:"timestamp"`
	TokensUsed  int       `json:"tokensUsed,omitempty"`
	CurrentTask string    `json:"currentTask,omitempty"`
	Status      string    `json:"status"`
}

// MaxHeartbeats bounds the retained ring per §3.
const MaxHeartbeats = 100
