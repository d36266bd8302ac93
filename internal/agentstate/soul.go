package agentstate

import (
	"math"
	"time"

	"github.com/coordhub/coordhub/internal/apierr"
)

// levelThreshold is one rung of the §4.2 promotion ladder.
type levelThreshold struct {
	level  SoulLevel
	xp     int
	streak int
	tasks  int
}

var levelLadder = []levelThreshold{
	{LevelMaster, 2000, 10, 100},
	{LevelExpert, 500, 5, 25},
	{LevelCapable, 100, 3, 5},
	{LevelNovice, 0, 0, 0},
}

func levelFor(xp, streak, tasks int) SoulLevel {
	for _, t := range levelLadder {
		if xp >= t.xp && streak >= t.streak && tasks >= t.tasks {
			return t.level
		}
	}
	return LevelNovice
}

func abilitiesFor(level SoulLevel) Abilities {
	var a Abilities
	switch level {
	case LevelMaster:
		a.CanAccessProd = true
		a.ExtendedBudget = true
		fallthrough
	case LevelExpert:
		a.CanSpawnSubagents = true
		a.CanMentorPeers = true
		fallthrough
	case LevelCapable:
		a.CanCommit = true
	}
	return a
}

// EnsureSoul returns agentID's soul, creating one (named after the agent)
// on first contact. Implements the coordinator.Onboarder dependency.
func (m *Manager) EnsureSoul(agentID string) (interface{}, bool, error) {
	soul, isNew, err := m.ensureSoul(agentID, "")
	if err != nil {
		return nil, false, err
	}
	return withDerived(soul, nil), isNew, nil
}

func (m *Manager) ensureSoul(agentID, name string) (*Soul, bool, error) {
	if agentID == "" {
		return nil, false, apierr.Validationf("agentId is required")
	}
	l := m.lockFor(agentID)
	l.Lock()
	defer l.Unlock()

	soul, _, err := m.store.getSoul(agentID)
	if err != nil {
		return nil, false, apierr.Storagef(err, "get soul")
	}
	if soul != nil {
		return soul, false, nil
	}
	if name == "" {
		name = agentID
	}
	soul = &Soul{
		SoulID:          newID("soul"),
		Name:            name,
		CreatedAt:       clock(),
		Level:           LevelNovice,
		Specializations: map[string]int{},
		TrustScore:      0.5,
		TransparencyScore: 0.5,
		TrackRecordScore:  0.5,
	}
	if err := m.store.putSoul(agentID, soul, nil); err != nil {
		return nil, false, apierr.Storagef(err, "put soul")
	}
	return soul, true, nil
}

// GetSoul returns agentID's soul with rustLevel/effectiveXPMultiplier
// derived from the time of its last trace.
func (m *Manager) GetSoul(agentID string) (*Soul, error) {
	if agentID == "" {
		return nil, apierr.Validationf("agentId is required")
	}
	l := m.lockFor(agentID)
	l.Lock()
	defer l.Unlock()

	soul, lastTraceAt, err := m.store.getSoul(agentID)
	if err != nil {
		return nil, apierr.Storagef(err, "get soul")
	}
	if soul == nil {
		return nil, nil
	}
	return withDerived(soul, lastTraceAt), nil
}

// withDerived computes rustLevel/effectiveXPMultiplier without mutating storage.
func withDerived(soul *Soul, lastTraceAt *time.Time) *Soul {
	out := *soul
	out.RustLevel = rustLevel(lastTraceAt, clock())
	out.EffectiveXPMultiplier = 1 - 0.5*out.RustLevel
	return &out
}

func rustLevel(lastTraceAt *time.Time, now time.Time) float64 {
	if lastTraceAt == nil {
		return 0.6
	}
	days := now.Sub(*lastTraceAt).Hours() / 24
	switch {
	case days < 7:
		return 0
	case days < 30:
		return 0.2
	case days < 90:
		return 0.4
	default:
		return 0.6
	}
}

// UpdateFromTraceResult reports the soul's new state plus whether it leveled up.
type UpdateFromTraceResult struct {
	Soul      *Soul
	LeveledUp bool
}

// UpdateFromTrace applies the §4.2 XP formula for a completed trace with a
// summary, crediting the optional domain specialization.
func (m *Manager) UpdateFromTrace(agentID, traceID, domain string) (*UpdateFromTraceResult, error) {
	if agentID == "" {
		return nil, apierr.Validationf("agentId is required")
	}
	l := m.lockFor(agentID)
	l.Lock()
	defer l.Unlock()

	trace, owner, err := m.store.getTrace(traceID)
	if err != nil {
		return nil, apierr.Storagef(err, "get trace")
	}
	if trace == nil || owner != agentID {
		return nil, apierr.NotFoundf("no completed trace %s for agent %s", traceID, agentID)
	}
	if trace.CompletedAt == nil || trace.Summary == nil {
		return nil, apierr.Statef("trace %s is not complete", traceID)
	}

	escalations, err := m.store.listEscalationsForSession(traceID)
	if err != nil {
		return nil, apierr.Storagef(err, "list escalations")
	}

	soul, _, err := m.store.getSoul(agentID)
	if err != nil {
		return nil, apierr.Storagef(err, "get soul")
	}
	if soul == nil {
		soul, _, err = m.ensureSoulLocked(agentID)
		if err != nil {
			return nil, err
		}
	}

	xp := 10
	eff := trace.Summary.Efficiency
	switch {
	case eff > 0.7:
		xp += 15
	case eff > 0.5:
		xp += 5
	}

	allSelfOrUnresolved := true
	anyHuman := false
	selfResolved, humanEscalations := 0, 0
	for _, e := range escalations {
		if e.ResolvedAt != nil && e.ResolvedBy != ResolvedBySelf {
			allSelfOrUnresolved = false
		}
		if e.ResolvedBy == ResolvedByHuman {
			anyHuman = true
			humanEscalations++
		}
		if e.ResolvedBy == ResolvedBySelf {
			selfResolved++
		}
	}
	if len(escalations) > 0 && allSelfOrUnresolved {
		xp += 10
	}
	if len(escalations) == 0 {
		xp += 5
	}

	soul.TotalXP += xp
	soul.TasksCompleted++
	if !anyHuman {
		soul.TasksSuccessful++
		soul.CurrentStreak++
		if soul.CurrentStreak > soul.LongestStreak {
			soul.LongestStreak = soul.CurrentStreak
		}
	} else {
		soul.CurrentStreak = 0
	}

	n := float64(soul.TasksCompleted)
	soul.AvgEfficiency = soul.AvgEfficiency*(n-1)/n + eff/n

	if domain != "" {
		soul.Specializations[domain] += xp / 2
	}

	soul.EscalationCount += len(escalations)
	soul.SelfResolvedCount += selfResolved
	soul.HumanEscalationCount += humanEscalations
	soul.LastTraceID = traceID

	prevLevel := soul.Level
	soul.Level = levelFor(soul.TotalXP, soul.CurrentStreak, soul.TasksCompleted)
	leveledUp := soul.Level != prevLevel
	if leveledUp {
		soul.Abilities = abilitiesFor(soul.Level)
	}

	successRate := 0.0
	if soul.TasksCompleted > 0 {
		successRate = float64(soul.TasksSuccessful) / float64(soul.TasksCompleted)
	}
	selfVsHuman := 0.5
	if soul.SelfResolvedCount+soul.HumanEscalationCount > 0 {
		selfVsHuman = float64(soul.SelfResolvedCount) / float64(soul.SelfResolvedCount+soul.HumanEscalationCount)
	}
	trust := 0.5*successRate + 0.3*selfVsHuman + 0.2*(1/(1+float64(soul.HumanEscalationCount)*0.1))
	soul.TrustScore = math.Min(trust, 1)

	peerAssisted := false
	for _, e := range escalations {
		if e.ResolvedBy == ResolvedByPeer {
			peerAssisted = true
		}
	}
	unlockAchievements(soul, peerAssisted)

	now := clock()
	if err := m.store.putSoul(agentID, soul, &now); err != nil {
		return nil, apierr.Storagef(err, "put soul")
	}
	derived := withDerived(soul, &now)
	if leveledUp {
		m.emit("agentstate.level-up", map[string]interface{}{"agentId": agentID, "soul": derived})
	}
	return &UpdateFromTraceResult{Soul: derived, LeveledUp: leveledUp}, nil
}

// achievementCatalog is the small fixed set of milestones checked after
// every completed trace.
const (
	achievementFirstTask = "first-task"
	achievementStreak5   = "streak-5"
	achievementCenturion = "centurion"
	achievementMentor    = "mentor"
)

func hasAchievement(soul *Soul, name string) bool {
	for _, a := range soul.Achievements {
		if a == name {
			return true
		}
	}
	return false
}

// unlockAchievements appends any newly-earned catalog entries to soul in
// place. Called with the agent's lock already held.
func unlockAchievements(soul *Soul, peerAssistedThisTrace bool) {
	grant := func(name string, earned bool) {
		if earned && !hasAchievement(soul, name) {
			soul.Achievements = append(soul.Achievements, name)
		}
	}
	grant(achievementFirstTask, soul.TasksCompleted >= 1)
	grant(achievementStreak5, soul.CurrentStreak >= 5)
	grant(achievementCenturion, soul.TasksCompleted >= 100)
	grant(achievementMentor, peerAssistedThisTrace)
}

func (m *Manager) ensureSoulLocked(agentID string) (*Soul, *time.Time, error) {
	soul := &Soul{
		SoulID:            newID("soul"),
		Name:              agentID,
		CreatedAt:         clock(),
		Level:             LevelNovice,
		Specializations:   map[string]int{},
		TrustScore:        0.5,
		TransparencyScore: 0.5,
		TrackRecordScore:  0.5,
	}
	if err := m.store.putSoul(agentID, soul, nil); err != nil {
		return nil, nil, apierr.Storagef(err, "put soul")
	}
	return soul, nil, nil
}

// AddXP applies an explicit XP delta outside the trace-completion flow.
func (m *Manager) AddXP(agentID string, delta int) (*Soul, error) {
	if agentID == "" {
		return nil, apierr.Validationf("agentId is required")
	}
	l := m.lockFor(agentID)
	l.Lock()
	defer l.Unlock()

	soul, lastTraceAt, err := m.store.getSoul(agentID)
	if err != nil {
		return nil, apierr.Storagef(err, "get soul")
	}
	if soul == nil {
		return nil, apierr.NotFoundf("no soul for agent %s", agentID)
	}
	soul.TotalXP += delta
	prevLevel := soul.Level
	soul.Level = levelFor(soul.TotalXP, soul.CurrentStreak, soul.TasksCompleted)
	if soul.Level != prevLevel {
		soul.Abilities = abilitiesFor(soul.Level)
	}
	if err := m.store.putSoul(agentID, soul, lastTraceAt); err != nil {
		return nil, apierr.Storagef(err, "put soul")
	}
	return withDerived(soul, lastTraceAt), nil
}

// UnlockAchievement appends an achievement name if not already present.
func (m *Manager) UnlockAchievement(agentID, achievement string) (*Soul, error) {
	if agentID == "" {
		return nil, apierr.Validationf("agentId is required")
	}
	if achievement == "" {
		return nil, apierr.Validationf("achievement is required")
	}
	l := m.lockFor(agentID)
	l.Lock()
	defer l.Unlock()

	soul, lastTraceAt, err := m.store.getSoul(agentID)
	if err != nil {
		return nil, apierr.Storagef(err, "get soul")
	}
	if soul == nil {
		return nil, apierr.NotFoundf("no soul for agent %s", agentID)
	}
	for _, a := range soul.Achievements {
		if a == achievement {
			return withDerived(soul, lastTraceAt), nil
		}
	}
	soul.Achievements = append(soul.Achievements, achievement)
	if err := m.store.putSoul(agentID, soul, lastTraceAt); err != nil {
		return nil, apierr.Storagef(err, "put soul")
	}
	return withDerived(soul, lastTraceAt), nil
}
