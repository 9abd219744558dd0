package scheduler

import (
	"testing"
	"time"

	"github.com/ikido/fleetctl/internal/fleetconfig"
)

func TestIsDue(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		sched fleetconfig.Schedule
		state fleetconfig.ScheduleState
		want  bool
	}{
		{
			name:  "never run before is due immediately",
			sched: fleetconfig.Schedule{Type: fleetconfig.ScheduleInterval, Enabled: true},
			state: fleetconfig.ScheduleState{},
			want:  true,
		},
		{
			name:  "future next_run_at is not due",
			sched: fleetconfig.Schedule{Type: fleetconfig.ScheduleInterval, Enabled: true},
			state: fleetconfig.ScheduleState{NextRunAt: now.Add(time.Minute).Format(time.RFC3339)},
			want:  false,
		},
		{
			name:  "past next_run_at is due",
			sched: fleetconfig.Schedule{Type: fleetconfig.ScheduleInterval, Enabled: true},
			state: fleetconfig.ScheduleState{NextRunAt: now.Add(-time.Minute).Format(time.RFC3339)},
			want:  true,
		},
		{
			name:  "disabled schedule is never due",
			sched: fleetconfig.Schedule{Type: fleetconfig.ScheduleInterval, Enabled: false},
			state: fleetconfig.ScheduleState{},
			want:  false,
		},
		{
			name:  "auto-disabled schedule is never due",
			sched: fleetconfig.Schedule{Type: fleetconfig.ScheduleInterval, Enabled: true},
			state: fleetconfig.ScheduleState{AutoDisabled: true},
			want:  false,
		},
		{
			name:  "webhook schedules are never due from the scheduler",
			sched: fleetconfig.Schedule{Type: fleetconfig.ScheduleWebhook, Enabled: true},
			state: fleetconfig.ScheduleState{},
			want:  false,
		},
		{
			name:  "chat schedules are never due from the scheduler",
			sched: fleetconfig.Schedule{Type: fleetconfig.ScheduleChat, Enabled: true},
			state: fleetconfig.ScheduleState{},
			want:  false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isDue(tc.sched, tc.state, now); got != tc.want {
				t.Fatalf("isDue() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestComputeNextRun_Interval(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sched := fleetconfig.Schedule{Type: fleetconfig.ScheduleInterval, Interval: "5m"}
	next := computeNextRun(sched, now)
	if want := now.Add(5 * time.Minute); !next.Equal(want) {
		t.Fatalf("computeNextRun() = %v, want %v", next, want)
	}
}

func TestComputeNextRun_BadIntervalFallsBackToOneMinute(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sched := fleetconfig.Schedule{Type: fleetconfig.ScheduleInterval, Interval: "not-a-duration"}
	next := computeNextRun(sched, now)
	if want := now.Add(time.Minute); !next.Equal(want) {
		t.Fatalf("computeNextRun() = %v, want %v", next, want)
	}
}

func TestComputeNextRun_Cron(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sched := fleetconfig.Schedule{Type: fleetconfig.ScheduleCron, Expression: "0 * * * *"}
	next := computeNextRun(sched, now)
	if !next.After(now) {
		t.Fatalf("computeNextRun() = %v, want time after %v", next, now)
	}
}

func TestBackoffDelay(t *testing.T) {
	cases := []struct {
		errors int
		want   time.Duration
	}{
		{0, 0},
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 5 * time.Minute},
		{4, 15 * time.Minute},
		{5, 60 * time.Minute},
		{50, 60 * time.Minute}, // capped at the ladder's last step
	}
	for _, tc := range cases {
		if got := backoffDelay(tc.errors); got != tc.want {
			t.Fatalf("backoffDelay(%d) = %v, want %v", tc.errors, got, tc.want)
		}
	}
}

func TestStateStore_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := newStateStore(dir)

	st := fleetconfig.ScheduleState{
		LastRunAt:         "2026-01-01T12:00:00Z",
		NextRunAt:         "2026-01-01T12:05:00Z",
		ConsecutiveErrors: 2,
	}
	if err := s.save("triage", "poll-issues", st); err != nil {
		t.Fatalf("save: %v", err)
	}

	got := s.load("triage", "poll-issues")
	if got.NextRunAt != st.NextRunAt || got.ConsecutiveErrors != st.ConsecutiveErrors {
		t.Fatalf("round-tripped state = %+v, want %+v", got, st)
	}

	// a schedule with no saved state gets a zero-value state, not an error
	fresh := s.load("triage", "never-run")
	if fresh.NextRunAt != "" || fresh.AutoDisabled {
		t.Fatalf("expected zero-value state for unseen schedule, got %+v", fresh)
	}
}
