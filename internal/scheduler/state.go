// Package scheduler implements the Scheduler: the interval/cron/webhook/
// chat due-predicate evaluator that decides when an agent's schedule
// fires, honouring max-concurrent limits, work-source gating, and
// consecutive-error backoff with auto-disable.
package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/moby/sys/atomicwriter"
	"gopkg.in/yaml.v3"

	"github.com/ikido/fleetctl/internal/fleetconfig"
)

const stateVersion = 1

// stateStore persists fleetconfig.ScheduleState to
// <state-root>/schedules/<agent>/<schedule>.yaml, one file per schedule,
// behind a per-file mutex.
type stateStore struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newStateStore(stateRoot string) *stateStore {
	return &stateStore{root: filepath.Join(stateRoot, "schedules"), locks: make(map[string]*sync.Mutex)}
}

func (s *stateStore) path(agent, schedule string) string {
	return filepath.Join(s.root, agent, schedule+".yaml")
}

func (s *stateStore) lockFor(agent, schedule string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := agent + "/" + schedule
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *stateStore) load(agent, schedule string) fleetconfig.ScheduleState {
	lock := s.lockFor(agent, schedule)
	lock.Lock()
	defer lock.Unlock()

	data, err := os.ReadFile(s.path(agent, schedule))
	if err != nil {
		return fleetconfig.ScheduleState{Version: stateVersion}
	}
	var st fleetconfig.ScheduleState
	if err := yaml.Unmarshal(data, &st); err != nil {
		return fleetconfig.ScheduleState{Version: stateVersion}
	}
	return st
}

func (s *stateStore) save(agent, schedule string, st fleetconfig.ScheduleState) error {
	lock := s.lockFor(agent, schedule)
	lock.Lock()
	defer lock.Unlock()

	st.Version = stateVersion
	dir := filepath.Join(s.root, agent)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create schedules dir: %w", err)
	}
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal schedule state: %w", err)
	}
	return atomicwriter.WriteFile(s.path(agent, schedule), data, 0o644)
}

func parseRFC3339(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
