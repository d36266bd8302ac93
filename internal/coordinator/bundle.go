package coordinator

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/coordhub/coordhub/internal/apierr"
)

// WorkBundle is the read-mostly snapshot returned by GET /coordinator/work.
type WorkBundle struct {
	ActiveAgents      []*Agent       `json:"activeAgents"`
	TodoTasks         []*Task        `json:"todoTasks"`
	InProgressTasks   []*Task        `json:"inProgressTasks"` // mine
	Team              []*Agent       `json:"team"`
	Tasks             TaskBuckets    `json:"tasks"`
	RecentChat        []*ChatMessage `json:"recentChat"`
}

// TaskBuckets groups tasks by todo/mine for the §4.1 `/work` response.
type TaskBuckets struct {
	Todo []*Task `json:"todo"`
	Mine []*Task `json:"mine"`
}

// WorkBundleFor promotes agentID to active and returns the combined
// snapshot. It is read-only except for that status bump.
func (c *Coordinator) WorkBundleFor(agentID string) (*WorkBundle, error) {
	if agentID == "" {
		return nil, apierr.Validationf("agentId is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.markActive(agentID); err != nil {
		return nil, err
	}

	agents, err := c.store.listAgents()
	if err != nil {
		return nil, apierr.Storagef(err, "list agents")
	}
	tasks, err := c.store.listTasks()
	if err != nil {
		return nil, apierr.Storagef(err, "list tasks")
	}
	chat, err := c.store.tailChat(20)
	if err != nil {
		return nil, apierr.Storagef(err, "tail chat")
	}

	var active []*Agent
	for _, a := range agents {
		if a.Status == AgentActive {
			active = append(active, a)
		}
	}

	var todo, mine, inProgressMine []*Task
	for _, t := range tasks {
		if t.Status == TaskTodo && t.Assignee == "" {
			todo = append(todo, t)
		}
		if t.Assignee == agentID {
			mine = append(mine, t)
			if t.Status == TaskInProgress {
				inProgressMine = append(inProgressMine, t)
			}
		}
	}

	return &WorkBundle{
		ActiveAgents:    active,
		TodoTasks:       todo,
		InProgressTasks: inProgressMine,
		Team:            agents,
		Tasks:           TaskBuckets{Todo: todo, Mine: mine},
		RecentChat:      chat,
	}, nil
}

// SuggestedTask is the single proposed next action from onboarding.
type SuggestedTask struct {
	Task        string       `json:"task"`
	Reason      string       `json:"reason"`
	XPEstimate  int          `json:"xpEstimate"`
	Priority    TaskPriority `json:"priority"`
	RelatedID   string       `json:"relatedId,omitempty"`
}

// OnboardingBundle is the full response of GET /coordinator/onboard.
type OnboardingBundle struct {
	Soul          interface{}    `json:"soul,omitempty"`
	IsNewAgent    bool           `json:"isNewAgent"`
	Checkpoint    interface{}    `json:"checkpoint,omitempty"`
	Dashboard     interface{}    `json:"dashboard,omitempty"`
	Team          []TeamMember   `json:"team"`
	SuggestedTask SuggestedTask  `json:"suggestedTask"`
	RecentChat    []*ChatMessage `json:"recentChat"`
}

// TeamMember is one entry of onboarding's online-team list. Onboard does not
// fill Flow, so it is always empty and omitted from the JSON.
type TeamMember struct {
	Agent *Agent `json:"agent"`
	Flow  string `json:"flow,omitempty"`
}

// onboardRetry wraps one call into the AgentState onboarding dependency with
// a short bounded backoff, so a transient "database is locked" from the
// singleton's single-connection SQLite store doesn't fail onboarding
// outright. AgentState failures are recoverable per §7, so three quick
// attempts are enough before falling back to the bundle's best-effort zero
// value.
func onboardRetry(fn func() error) error {
	return backoff.Retry(fn, backoff.WithMaxRetries(withShortInterval(backoff.NewExponentialBackOff()), 2))
}

func withShortInterval(b *backoff.ExponentialBackOff) *backoff.ExponentialBackOff {
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 50 * time.Millisecond
	b.MaxElapsedTime = 200 * time.Millisecond
	return b
}

// Onboard builds the onboarding bundle for agentID: soul lookup/creation,
// checkpoint + dashboard fetch (best-effort — AgentState failures are
// recoverable per §7), online team, and a single suggested task.
func (c *Coordinator) Onboard(agentID string) (*OnboardingBundle, error) {
	if agentID == "" {
		return nil, apierr.Validationf("agentId is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	bundle := &OnboardingBundle{}

	var pendingWork []string
	var checkpointSummary string
	var haveCheckpoint bool

	if c.onboarder != nil {
		var soul interface{}
		var isNew bool
		if err := onboardRetry(func() error {
			var err error
			soul, isNew, err = c.onboarder.EnsureSoul(agentID)
			return err
		}); err == nil {
			bundle.Soul = soul
			bundle.IsNewAgent = isNew
		}

		var pw []string
		var summary string
		var ok bool
		if err := onboardRetry(func() error {
			var err error
			pw, summary, ok, err = c.onboarder.GetCheckpointSummary(agentID)
			return err
		}); err == nil && ok {
			pendingWork, checkpointSummary, haveCheckpoint = pw, summary, true
			bundle.Checkpoint = map[string]interface{}{"pendingWork": pw, "conversationSummary": summary}
		}

		if !isNew {
			var dash interface{}
			var dashOK bool
			if err := onboardRetry(func() error {
				var err error
				dash, dashOK, err = c.onboarder.GetDashboardSnapshot(agentID)
				return err
			}); err == nil && dashOK {
				bundle.Dashboard = dash
			}
		}
	}

	agents, err := c.store.listAgents()
	if err != nil {
		return nil, apierr.Storagef(err, "list agents")
	}
	for _, a := range agents {
		if a.Status != AgentOffline {
			bundle.Team = append(bundle.Team, TeamMember{Agent: a})
		}
	}

	handoffs, err := c.store.listHandoffs()
	if err != nil {
		return nil, apierr.Storagef(err, "list handoffs")
	}
	tasks, err := c.store.listTasks()
	if err != nil {
		return nil, apierr.Storagef(err, "list tasks")
	}

	bundle.SuggestedTask = suggestTask(pendingWork, checkpointSummary, haveCheckpoint, handoffs, tasks)

	chat, err := c.store.tailChat(5)
	if err != nil {
		return nil, apierr.Storagef(err, "tail chat")
	}
	bundle.RecentChat = chat

	return bundle, nil
}

// suggestTask applies the priority order from §4.1: resume checkpoint work,
// else first pending handoff, else first unassigned todo task, else
// "introduce yourself".
func suggestTask(pendingWork []string, summary string, haveCheckpoint bool, handoffs []*Handoff, tasks []*Task) SuggestedTask {
	if haveCheckpoint && (len(pendingWork) > 0 || summary != "") {
		task := summary
		if len(pendingWork) > 0 {
			task = pendingWork[0]
		}
		return SuggestedTask{Task: task, Reason: "continuing your previous session", XPEstimate: 30, Priority: PriorityHigh}
	}
	for _, h := range handoffs {
		if h.Status == HandoffPending {
			return SuggestedTask{Task: h.Title, Reason: "a pending handoff is waiting for someone", XPEstimate: 50, Priority: PriorityMedium, RelatedID: h.ID}
		}
	}
	sortTasks(tasks)
	for _, t := range tasks {
		if t.Status == TaskTodo && t.Assignee == "" {
			return SuggestedTask{Task: t.Title, Reason: "the highest-priority unclaimed task", XPEstimate: 25, Priority: t.Priority, RelatedID: t.ID}
		}
	}
	return SuggestedTask{Task: "introduce yourself in chat", Reason: "nothing else is pending right now", XPEstimate: 10, Priority: PriorityLow}
}

// SessionResumeBundle is the full response of GET /coordinator/session-resume.
type SessionResumeBundle struct {
	Participation     map[string]int    `json:"participation"`
	LastMessageByAuthor map[string]*ChatMessage `json:"lastMessageByAuthor"`
	Accomplishments   []string          `json:"accomplishments"`
	PendingHandoffs   []*Handoff        `json:"pendingHandoffs"`
	InProgressTasks   []*Task           `json:"inProgressTasks"`
	ActiveClaims      []*Claim          `json:"activeClaims"`
	QuickActions      []string          `json:"quickActions"`
	SessionDuration    float64          `json:"sessionDurationSeconds"`
}

// SessionResume summarizes the last 100 chat messages plus pending
// handoffs/in-progress tasks/active claims, per §4.1.
func (c *Coordinator) SessionResume() (*SessionResumeBundle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	chat, err := c.store.tailChat(100)
	if err != nil {
		return nil, apierr.Storagef(err, "tail chat")
	}

	participation := map[string]int{}
	lastMsg := map[string]*ChatMessage{}
	var accomplishments []string
	seen := map[string]bool{}
	for _, m := range chat {
		participation[m.Author]++
		lastMsg[m.Author] = m
		if looksLikeAccomplishment(m.Message) {
			line := firstLine(m.Message)
			if !seen[line] {
				seen[line] = true
				if len(accomplishments) < 10 {
					accomplishments = append(accomplishments, line)
				}
			}
		}
	}

	handoffsAll, err := c.store.listHandoffs()
	if err != nil {
		return nil, apierr.Storagef(err, "list handoffs")
	}
	var pendingHandoffs []*Handoff
	for _, h := range handoffsAll {
		if h.Status == HandoffPending {
			pendingHandoffs = append(pendingHandoffs, h)
			if len(pendingHandoffs) == 5 {
				break
			}
		}
	}

	tasksAll, err := c.store.listTasks()
	if err != nil {
		return nil, apierr.Storagef(err, "list tasks")
	}
	var inProgress []*Task
	for _, t := range tasksAll {
		if t.Status == TaskInProgress {
			inProgress = append(inProgress, t)
			if len(inProgress) == 5 {
				break
			}
		}
	}

	claimsAll, err := c.store.listClaims()
	if err != nil {
		return nil, apierr.Storagef(err, "list claims")
	}
	now := clock()
	var activeClaims []*Claim
	for _, cl := range claimsAll {
		cl.Stale = now.Sub(cl.Since) > ClaimStaleAfter
		if !cl.Stale {
			activeClaims = append(activeClaims, cl)
			if len(activeClaims) == 10 {
				break
			}
		}
	}

	var quickActions []string
	if len(pendingHandoffs) > 0 {
		quickActions = append(quickActions, "claim-handoff")
	}
	if len(inProgress) > 0 {
		quickActions = append(quickActions, "resume-task")
	}
	if len(activeClaims) > 0 {
		quickActions = append(quickActions, "review-claims")
	}

	var duration float64
	if len(chat) > 0 {
		oldest, newest := chat[0].Timestamp, chat[0].Timestamp
		for _, m := range chat {
			if m.Timestamp.Before(oldest) {
				oldest = m.Timestamp
			}
			if m.Timestamp.After(newest) {
				newest = m.Timestamp
			}
		}
		duration = newest.Sub(oldest).Seconds()
	}

	return &SessionResumeBundle{
		Participation:       participation,
		LastMessageByAuthor: lastMsg,
		Accomplishments:     accomplishments,
		PendingHandoffs:     pendingHandoffs,
		InProgressTasks:     inProgress,
		ActiveClaims:        activeClaims,
		QuickActions:        quickActions,
		SessionDuration:     duration,
	}, nil
}
