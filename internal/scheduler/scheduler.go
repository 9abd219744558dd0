package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ikido/fleetctl/internal/common/logger"
	"github.com/ikido/fleetctl/internal/fleetconfig"
	"github.com/ikido/fleetctl/internal/worksource"
	"github.com/ikido/fleetctl/pkg/api"
)

// defaultTickInterval is how often the scheduler re-evaluates every
// schedule's due predicate.
const defaultTickInterval = time.Second

// TriggerFunc invokes the Fleet Manager's trigger() operation for a single
// due schedule. prompt is the schedule's configured prompt, already
// resolved; item is non-nil when the schedule has an attached work source
// and a claimable item was found.
type TriggerFunc func(ctx context.Context, agent fleetconfig.Agent, sched fleetconfig.Schedule, prompt string, item *api.WorkItem) (api.TriggerResult, error)

// AgentSource resolves the configured worksource.Source for an agent's
// schedule, keyed by the WorkSourceConfig.Source name (e.g. "github").
// Returns nil, false when no source is registered under that name.
type AgentSource func(name string) (worksource.Source, bool)

// Config configures a Scheduler.
type Config struct {
	StateRoot    string
	TickInterval time.Duration
}

// Scheduler is the Scheduler component (§4.7): it polls every enabled
// interval/cron schedule across the fleet, evaluates the due predicate,
// optionally gates on work-source availability, and invokes Trigger while
// respecting each agent's max_concurrent limit.
type Scheduler struct {
	cfg     Config
	trigger TriggerFunc
	sources AgentSource
	log     *logger.Logger
	state   *stateStore

	mu       sync.Mutex
	agents   map[string]fleetconfig.Agent
	sems     map[string]chan struct{} // per-agent concurrency gate
	rlPaused map[string]time.Time     // work-source name -> resume-after time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Scheduler. Call AddAgent for every agent before Start.
func New(cfg Config, trigger TriggerFunc, sources AgentSource, log *logger.Logger) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	return &Scheduler{
		cfg:      cfg,
		trigger:  trigger,
		sources:  sources,
		log:      log,
		state:    newStateStore(cfg.StateRoot),
		agents:   make(map[string]fleetconfig.Agent),
		sems:     make(map[string]chan struct{}),
		rlPaused: make(map[string]time.Time),
	}
}

// AddAgent registers (or replaces) an agent's schedules. Safe to call
// while the scheduler is running; the next tick picks up the change.
func (s *Scheduler) AddAgent(agent fleetconfig.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agent.Name] = agent
	if _, ok := s.sems[agent.Name]; !ok {
		max := agent.MaxConcurrent
		if max <= 0 {
			max = 1
		}
		s.sems[agent.Name] = make(chan struct{}, max)
	}
}

// RemoveAgent drops an agent from the poll set (e.g. on config reload).
func (s *Scheduler) RemoveAgent(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents, name)
	delete(s.sems, name)
}

// Start begins the polling loop in a background goroutine. It returns
// immediately; call Stop to shut it down.
func (s *Scheduler) Start(ctx context.Context) {
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop halts the polling loop and waits for any in-flight tick to finish
// dispatching.
func (s *Scheduler) Stop() {
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick evaluates every registered schedule once. Each due schedule is
// dispatched in its own goroutine so one slow trigger doesn't delay the
// rest of the fleet's due checks.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()

	s.mu.Lock()
	agents := make([]fleetconfig.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		agents = append(agents, a)
	}
	s.mu.Unlock()

	for _, agent := range agents {
		for _, sched := range agent.Schedules {
			st := s.state.load(agent.Name, sched.Name)
			if !isDue(sched, st, now) {
				continue
			}
			if s.rateLimitPaused(sched, now) {
				continue
			}
			s.dispatch(ctx, agent, sched, st, now)
		}
	}
}

// rateLimitPaused reports whether sched's attached work source is
// currently paused following a RateLimitError.
func (s *Scheduler) rateLimitPaused(sched fleetconfig.Schedule, now time.Time) bool {
	if sched.WorkSource == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.rlPaused[sched.WorkSource.Source]
	return ok && now.Before(until)
}

func (s *Scheduler) pauseForRateLimit(sourceName string, resetAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rlPaused[sourceName] = resetAt
}

// dispatch claims the agent's concurrency slot (non-blocking: skips this
// tick if the agent is already at max_concurrent) and runs the schedule in
// a background goroutine.
func (s *Scheduler) dispatch(ctx context.Context, agent fleetconfig.Agent, sched fleetconfig.Schedule, st fleetconfig.ScheduleState, now time.Time) {
	s.mu.Lock()
	sem := s.sems[agent.Name]
	s.mu.Unlock()
	if sem == nil {
		return
	}

	select {
	case sem <- struct{}{}:
	default:
		return // agent already at max_concurrent; try again next tick
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-sem }()
		s.runSchedule(ctx, agent, sched, now)
	}()
}

// runSchedule performs one due evaluation's worth of work: optional
// work-source fetch, trigger invocation, and state/backoff bookkeeping.
func (s *Scheduler) runSchedule(ctx context.Context, agent fleetconfig.Agent, sched fleetconfig.Schedule, now time.Time) {
	log := s.log.WithFields(zap.String("agent", agent.Name), zap.String("schedule", sched.Name))

	var item *api.WorkItem
	if sched.WorkSource != nil {
		src, ok := s.sources(sched.WorkSource.Source)
		if !ok {
			log.Warn("schedule references unknown work source", zap.String("source", sched.WorkSource.Source))
			return
		}
		items, err := src.FetchAvailable(ctx, worksource.FetchOptions{
			Labels:        sched.WorkSource.Labels,
			ExcludeLabels: sched.WorkSource.ExcludeLabels,
			Limit:         sched.WorkSource.Limit,
		})
		if err != nil {
			if rl, ok := worksource.AsRateLimit(err); ok {
				log.Warn("work source rate limited, pausing schedule", zap.Time("resume_at", rl.ResetAt))
				s.pauseForRateLimit(sched.WorkSource.Source, rl.ResetAt)
				return
			}
			s.recordError(agent.Name, sched, now, err)
			return
		}
		if len(items) == 0 {
			// No-op tick: advance next_run_at without counting as an error.
			s.advance(agent.Name, sched, now, nil)
			return
		}
		claimed := items[0]
		if err := worksource.ClaimWithRetry(ctx, src, claimed.ID, 0); err != nil {
			if errors.Is(err, worksource.ErrAlreadyClaimed) {
				s.advance(agent.Name, sched, now, nil)
				return
			}
			s.recordError(agent.Name, sched, now, err)
			return
		}
		item = &claimed
	}

	result, err := s.trigger(ctx, agent, sched, sched.Prompt, item)
	if err != nil || !result.Success {
		if item != nil {
			if src, ok := s.sources(sched.WorkSource.Source); ok {
				_ = src.Release(ctx, item.ID)
			}
		}
		if err == nil {
			err = errTriggerFailed(result.Error)
		}
		s.recordError(agent.Name, sched, now, err)
		return
	}

	if item != nil {
		if src, ok := s.sources(sched.WorkSource.Source); ok {
			if err := src.Complete(ctx, item.ID, worksource.OutcomeSuccess, result.JobID, result.Summary); err != nil {
				log.Warn("work source completion failed", zap.Error(err))
			}
		}
	}
	s.advance(agent.Name, sched, now, nil)
}

// advance persists a successful (or no-op) tick: next_run_at moves
// forward and the consecutive-error counter resets.
func (s *Scheduler) advance(agentName string, sched fleetconfig.Schedule, now time.Time, _ error) {
	st := s.state.load(agentName, sched.Name)
	st.LastRunAt = now.Format(time.RFC3339)
	st.NextRunAt = computeNextRun(sched, now).Format(time.RFC3339)
	st.ConsecutiveErrors = 0
	st.AutoDisabled = false
	if err := s.state.save(agentName, sched.Name, st); err != nil {
		s.log.Warn("failed to persist schedule state", zap.String("agent", agentName), zap.String("schedule", sched.Name), zap.Error(err))
	}
}

// recordError applies the consecutive-error backoff ladder (§4.7),
// auto-disabling the schedule after autoDisableAfterErrors failures in a
// row.
func (s *Scheduler) recordError(agentName string, sched fleetconfig.Schedule, now time.Time, triggerErr error) {
	st := s.state.load(agentName, sched.Name)
	st.ConsecutiveErrors++
	st.LastRunAt = now.Format(time.RFC3339)
	if st.ConsecutiveErrors >= autoDisableAfterErrors {
		st.AutoDisabled = true
		s.log.Error("schedule auto-disabled after consecutive errors",
			zap.String("agent", agentName), zap.String("schedule", sched.Name),
			zap.Int("consecutive_errors", st.ConsecutiveErrors), zap.Error(triggerErr))
	} else {
		st.NextRunAt = now.Add(backoffDelay(st.ConsecutiveErrors)).Format(time.RFC3339)
		s.log.Warn("schedule trigger failed, backing off",
			zap.String("agent", agentName), zap.String("schedule", sched.Name),
			zap.Int("consecutive_errors", st.ConsecutiveErrors), zap.Error(triggerErr))
	}
	if err := s.state.save(agentName, sched.Name, st); err != nil {
		s.log.Warn("failed to persist schedule state", zap.String("agent", agentName), zap.String("schedule", sched.Name), zap.Error(err))
	}
}

type errTriggerFailed string

func (e errTriggerFailed) Error() string {
	if string(e) == "" {
		return "trigger reported failure"
	}
	return string(e)
}
