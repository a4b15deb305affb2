package scheduler

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextlevelbuilder/automator/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeTask(t *testing.T, s *store.Store, name, schedType, schedValue string) *store.Task {
	t.Helper()
	ctx := context.Background()

	template := &store.Template{Name: "tmpl-" + name, Code: "return 1"}
	if err := s.CreateTemplate(ctx, template); err != nil {
		t.Fatal(err)
	}
	task := &store.Task{
		TemplateID:    template.ID,
		Name:          name,
		ScheduleType:  schedType,
		ScheduleValue: schedValue,
		Enabled:       true,
	}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatal(err)
	}
	return task
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestOncePastDueFiresAndDisables(t *testing.T) {
	s := newTestStore(t)
	task := makeTask(t, s, "one-shot", store.ScheduleOnce, "2026-01-01T00:00:00Z")

	var fired atomic.Int32
	sched := New(s, func(ctx context.Context, taskID int64) {
		if taskID == task.ID {
			fired.Add(1)
		}
	})
	sched.SetIntervals(10*time.Millisecond, time.Hour)

	if err := sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	waitFor(t, 2*time.Second, func() bool { return fired.Load() == 1 })
	waitFor(t, 2*time.Second, func() bool { return !sched.IsTaskRegistered(task.ID) })

	got, err := s.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Enabled {
		t.Error("one-shot task still enabled after firing")
	}
	if got.NextRunAt != nil {
		t.Errorf("next_run_at = %v, want nil", got.NextRunAt)
	}

	// It must not fire again.
	time.Sleep(50 * time.Millisecond)
	if n := fired.Load(); n != 1 {
		t.Errorf("fired %d times, want exactly 1", n)
	}
}

func TestIntervalAdvances(t *testing.T) {
	s := newTestStore(t)
	task := makeTask(t, s, "every-30m", store.ScheduleInterval, "30")

	sched := New(s, func(ctx context.Context, taskID int64) {})
	sched.SetIntervals(10*time.Millisecond, time.Hour)

	if err := sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	if !sched.IsTaskRegistered(task.ID) {
		t.Fatal("enabled task not registered at start")
	}

	got, err := s.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.NextRunAt == nil {
		t.Fatal("next_run_at not persisted on registration")
	}
	until := time.Until(got.NextRunAt.Time)
	if until < 29*time.Minute || until > 31*time.Minute {
		t.Errorf("next fire in %v, want ~30m", until)
	}
}

func TestOverdueIntervalFires(t *testing.T) {
	s := newTestStore(t)

	var fired atomic.Int32
	sched := New(s, func(ctx context.Context, taskID int64) { fired.Add(1) })
	sched.SetIntervals(10*time.Millisecond, 20*time.Millisecond)

	// Start with an empty registry, then slip in a task whose fire time
	// already passed, as if the process had been down. Only the catch-up
	// sweep can find it.
	if err := sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	task := makeTask(t, s, "overdue", store.ScheduleInterval, "30")
	past := store.At(time.Now().Add(-time.Minute))
	if err := s.SetTaskNextRun(context.Background(), task.ID, &past); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 2*time.Second, func() bool { return fired.Load() >= 1 })

	got, err := s.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(time.Now()) {
		t.Errorf("next_run_at = %v, want a future instant", got.NextRunAt)
	}
}

func TestCronTaskAdoptedBySweep(t *testing.T) {
	s := newTestStore(t)

	var fired atomic.Int32
	sched := New(s, func(ctx context.Context, taskID int64) { fired.Add(1) })
	sched.SetIntervals(10*time.Millisecond, 20*time.Millisecond)

	if err := sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	// A cron task enabled outside the API while the daemon runs: its
	// persisted fire time is already past, but missed cron fires are
	// skipped, so the sweep re-registers it at its next slot.
	task := makeTask(t, s, "cli-enabled", store.ScheduleCron, "*/5 * * * *")
	past := store.At(time.Now().Add(-time.Minute))
	if err := s.SetTaskNextRun(context.Background(), task.ID, &past); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 2*time.Second, func() bool { return sched.IsTaskRegistered(task.ID) })

	got, err := s.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(time.Now()) {
		t.Errorf("next_run_at = %v, want a future instant", got.NextRunAt)
	}
	if n := fired.Load(); n != 0 {
		t.Errorf("missed cron slot fired %d times, want 0", n)
	}
}

func TestUnregisterStopsFiring(t *testing.T) {
	s := newTestStore(t)
	task := makeTask(t, s, "victim", store.ScheduleOnce,
		time.Now().Add(100*time.Millisecond).UTC().Format(time.RFC3339))

	var fired atomic.Int32
	sched := New(s, func(ctx context.Context, taskID int64) { fired.Add(1) })
	sched.SetIntervals(10*time.Millisecond, time.Hour)

	if err := sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	sched.UnregisterTask(context.Background(), task.ID)

	time.Sleep(300 * time.Millisecond)
	if n := fired.Load(); n != 0 {
		t.Errorf("unregistered task fired %d times", n)
	}
	if sched.JobCount() != 0 {
		t.Errorf("job count = %d, want 0", sched.JobCount())
	}
}

func TestPanickingRunStillAdvances(t *testing.T) {
	s := newTestStore(t)

	var fired atomic.Int32
	sched := New(s, func(ctx context.Context, taskID int64) {
		fired.Add(1)
		panic("template exploded")
	})
	sched.SetIntervals(10*time.Millisecond, 20*time.Millisecond)

	if err := sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	task := makeTask(t, s, "panicky", store.ScheduleInterval, "30")
	past := store.At(time.Now().Add(-time.Minute))
	if err := s.SetTaskNextRun(context.Background(), task.ID, &past); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 2*time.Second, func() bool { return fired.Load() >= 1 })

	// The panic is contained: the schedule still advances and the task
	// stays registered for its next slot.
	waitFor(t, 2*time.Second, func() bool {
		got, err := s.GetTask(context.Background(), task.ID)
		return err == nil && got.NextRunAt != nil && got.NextRunAt.After(time.Now())
	})
	if !sched.IsTaskRegistered(task.ID) {
		t.Error("task unregistered after panicking run")
	}
}

func TestStartSweepsOrphans(t *testing.T) {
	s := newTestStore(t)
	task := makeTask(t, s, "crashed", store.ScheduleInterval, "60")

	execution, err := s.CreateExecution(context.Background(), task.ID)
	if err != nil {
		t.Fatal(err)
	}

	sched := New(s, func(ctx context.Context, taskID int64) {})
	sched.SetIntervals(time.Hour, time.Hour)
	if err := sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	got, err := s.GetExecution(context.Background(), execution.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusFailed {
		t.Errorf("orphan status = %q, want failed", got.Status)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	s := newTestStore(t)
	sched := New(s, func(ctx context.Context, taskID int64) {})
	sched.SetIntervals(time.Hour, time.Hour)

	if err := sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !sched.IsRunning() {
		t.Error("not running after Start")
	}
	sched.Stop()
	sched.Stop()
	if sched.IsRunning() {
		t.Error("still running after Stop")
	}
}
