package scheduler

import (
	"time"

	"github.com/adhocore/gronx"

	"github.com/ikido/fleetctl/internal/fleetconfig"
)

// backoffSteps is the consecutive-error backoff ladder (§4.7): 30s, 1m,
// 5m, 15m, 60m. A schedule auto-disables after the 3rd consecutive error,
// matching the documented threshold.
var backoffSteps = []time.Duration{
	30 * time.Second,
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	60 * time.Minute,
}

const autoDisableAfterErrors = 3

// isDue evaluates the §4.7 due predicate for sched given its persisted
// state at now. Only interval and cron schedules are ever due from the
// scheduler; webhook and chat schedules fire from their own ingestors.
func isDue(sched fleetconfig.Schedule, st fleetconfig.ScheduleState, now time.Time) bool {
	if !sched.Enabled || st.AutoDisabled {
		return false
	}
	switch sched.Type {
	case fleetconfig.ScheduleInterval, fleetconfig.ScheduleCron:
	default:
		return false
	}
	next, ok := parseRFC3339(st.NextRunAt)
	if !ok {
		// Never run before: due immediately.
		return true
	}
	return !next.After(now)
}

// computeNextRun derives the next due time for sched from now, per its
// type. Cron expressions are evaluated with gronx; interval schedules add
// the parsed Go duration.
func computeNextRun(sched fleetconfig.Schedule, now time.Time) time.Time {
	switch sched.Type {
	case fleetconfig.ScheduleCron:
		next, err := gronx.NextTick(sched.Expression, true)
		if err != nil {
			return now.Add(time.Minute)
		}
		return next
	default:
		d, err := time.ParseDuration(sched.Interval)
		if err != nil || d <= 0 {
			d = time.Minute
		}
		return now.Add(d)
	}
}

// backoffDelay returns the pause duration for the given count of
// consecutive errors, capped at the ladder's last step.
func backoffDelay(consecutiveErrors int) time.Duration {
	if consecutiveErrors <= 0 {
		return 0
	}
	idx := consecutiveErrors - 1
	if idx >= len(backoffSteps) {
		idx = len(backoffSteps) - 1
	}
	return backoffSteps[idx]
}
