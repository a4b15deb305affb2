// Package scheduler drives enabled tasks by their schedules. It keeps an
// in-memory registry mirroring the tasks table, wakes on a short tick to
// fire due jobs, and runs a slower catch-up sweep that re-syncs the
// registry with the store.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/automator/internal/schedule"
	"github.com/nextlevelbuilder/automator/internal/store"
)

// RunFunc executes one task run. The scheduler never inspects the result;
// execution outcomes live in the executions table.
type RunFunc func(ctx context.Context, taskID int64)

// job is the registry entry for one enabled task.
type job struct {
	taskID        int64
	name          string
	scheduleType  string
	scheduleValue string
	nextRun       *time.Time
}

// Scheduler fires registered tasks when due. Execution happens outside the
// registry lock; an in-flight guard keeps overlapping fires of the same
// task from stacking.
type Scheduler struct {
	store *store.Store
	run   RunFunc

	tick       time.Duration
	sweepEvery time.Duration

	mu            sync.Mutex
	running       bool
	stop          chan struct{}
	jobs          map[int64]*job
	inflight      map[int64]bool
	wg            sync.WaitGroup
	retentionDays int
	lastPrune     time.Time
}

// New creates a scheduler over the store with the given run callback.
func New(s *store.Store, run RunFunc) *Scheduler {
	return &Scheduler{
		store:      s,
		run:        run,
		tick:       time.Second,
		sweepEvery: time.Minute,
		jobs:       make(map[int64]*job),
		inflight:   make(map[int64]bool),
	}
}

// SetRetention enables pruning of executions older than days during the
// catch-up sweep. Zero or negative disables pruning.
func (sc *Scheduler) SetRetention(days int) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.retentionDays = days
}

// SetIntervals overrides the tick and catch-up cadence; used by tests.
func (sc *Scheduler) SetIntervals(tick, sweep time.Duration) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.tick = tick
	sc.sweepEvery = sweep
}

// Start sweeps orphaned executions, registers every enabled task and
// begins the scheduling loop. Calling Start on a running scheduler is a
// no-op.
func (sc *Scheduler) Start(ctx context.Context) error {
	sc.mu.Lock()
	if sc.running {
		sc.mu.Unlock()
		return nil
	}
	sc.running = true
	sc.stop = make(chan struct{})
	sc.mu.Unlock()

	swept, err := sc.store.SweepOrphanExecutions(ctx,
		"process restarted while execution was running")
	if err != nil {
		sc.markStopped()
		return err
	}
	if swept > 0 {
		slog.Warn("orphaned executions swept", "count", swept)
	}

	if err := sc.RescheduleAll(ctx); err != nil {
		sc.markStopped()
		return err
	}

	sc.wg.Add(1)
	go sc.loop()

	slog.Info("scheduler started", "jobs", sc.JobCount())
	return nil
}

// Stop halts the loop and waits for it to exit. In-flight executions are
// not interrupted; they finish on their own deadlines.
func (sc *Scheduler) Stop() {
	sc.mu.Lock()
	if !sc.running {
		sc.mu.Unlock()
		return
	}
	sc.running = false
	close(sc.stop)
	sc.mu.Unlock()

	sc.wg.Wait()
	slog.Info("scheduler stopped")
}

// IsRunning reports whether the loop is active.
func (sc *Scheduler) IsRunning() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.running
}

// JobCount returns the number of registered tasks.
func (sc *Scheduler) JobCount() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.jobs)
}

// IsTaskRegistered reports whether the task is in the registry.
func (sc *Scheduler) IsTaskRegistered(taskID int64) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	_, ok := sc.jobs[taskID]
	return ok
}

// RegisterTask adds or refreshes a task in the registry and persists its
// computed next fire time. Disabled tasks are unregistered instead. A once
// schedule already in the past stays registered and fires on the next tick.
func (sc *Scheduler) RegisterTask(ctx context.Context, t *store.Task) error {
	if !t.Enabled {
		sc.UnregisterTask(ctx, t.ID)
		return nil
	}

	next, err := schedule.NextRun(t.ScheduleType, t.ScheduleValue, time.Now())
	if err != nil {
		return err
	}

	var persisted *store.Time
	if next != nil {
		at := store.At(*next)
		persisted = &at
	}
	if err := sc.store.SetTaskNextRun(ctx, t.ID, persisted); err != nil {
		return err
	}

	sc.mu.Lock()
	sc.jobs[t.ID] = &job{
		taskID:        t.ID,
		name:          t.Name,
		scheduleType:  t.ScheduleType,
		scheduleValue: t.ScheduleValue,
		nextRun:       next,
	}
	sc.mu.Unlock()

	slog.Debug("task registered", "task", t.Name, "type", t.ScheduleType, "next", next)
	return nil
}

// UnregisterTask drops a task from the registry and clears its persisted
// next fire time.
func (sc *Scheduler) UnregisterTask(ctx context.Context, taskID int64) {
	sc.mu.Lock()
	_, had := sc.jobs[taskID]
	delete(sc.jobs, taskID)
	sc.mu.Unlock()

	if had {
		if err := sc.store.SetTaskNextRun(ctx, taskID, nil); err != nil {
			slog.Warn("clear next run failed", "task", taskID, "error", err)
		}
	}
}

// UpdateTaskSchedule re-registers a task after its schedule changed.
func (sc *Scheduler) UpdateTaskSchedule(ctx context.Context, t *store.Task) error {
	return sc.RegisterTask(ctx, t)
}

// RescheduleAll rebuilds the registry from every enabled task in the store.
func (sc *Scheduler) RescheduleAll(ctx context.Context) error {
	enabled := true
	tasks, err := sc.store.ListTasks(ctx, store.TaskFilter{Enabled: &enabled})
	if err != nil {
		return err
	}

	sc.mu.Lock()
	sc.jobs = make(map[int64]*job, len(tasks))
	sc.mu.Unlock()

	for i := range tasks {
		if err := sc.RegisterTask(ctx, &tasks[i]); err != nil {
			slog.Warn("task registration failed", "task", tasks[i].Name, "error", err)
		}
	}
	return nil
}

func (sc *Scheduler) markStopped() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.running = false
}

func (sc *Scheduler) loop() {
	defer sc.wg.Done()

	sc.mu.Lock()
	tick, sweepEvery := sc.tick, sc.sweepEvery
	stop := sc.stop
	sc.mu.Unlock()

	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	sweep := time.NewTicker(sweepEvery)
	defer sweep.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			sc.fireDue()
		case <-sweep.C:
			sc.catchUp()
		}
	}
}

// fireDue collects registered jobs whose next fire time has passed, clears
// their slot to prevent double fires, and executes them outside the lock.
func (sc *Scheduler) fireDue() {
	now := time.Now()

	sc.mu.Lock()
	var due []*job
	for _, j := range sc.jobs {
		if j.nextRun != nil && !j.nextRun.After(now) && !sc.inflight[j.taskID] {
			j.nextRun = nil
			sc.inflight[j.taskID] = true
			due = append(due, j)
		}
	}
	sc.mu.Unlock()

	for _, j := range due {
		sc.wg.Add(1)
		go func(j *job) {
			defer sc.wg.Done()
			sc.execute(j)
		}(j)
	}
}

// execute runs one job and advances its schedule: cron and interval get a
// fresh next fire time, once is disabled and unregistered.
func (sc *Scheduler) execute(j *job) {
	ctx := context.Background()

	// Release the in-flight slot even if the run callback panics.
	defer func() {
		sc.mu.Lock()
		delete(sc.inflight, j.taskID)
		sc.mu.Unlock()
	}()

	slog.Info("task fired", "task", j.name, "type", j.scheduleType)
	func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("task run panicked", "task", j.name, "panic", r)
			}
		}()
		sc.run(ctx, j.taskID)
	}()

	if j.scheduleType == store.ScheduleOnce {
		if err := sc.store.DisableTask(ctx, j.taskID); err != nil {
			slog.Warn("disable one-shot task failed", "task", j.taskID, "error", err)
		}
		sc.mu.Lock()
		delete(sc.jobs, j.taskID)
		sc.mu.Unlock()
		return
	}

	// Interval cadence restarts from completion, so runs never overlap.
	next, err := schedule.NextRun(j.scheduleType, j.scheduleValue, time.Now())
	if err != nil || next == nil {
		slog.Warn("no further fire time, unregistering", "task", j.taskID, "error", err)
		sc.mu.Lock()
		delete(sc.jobs, j.taskID)
		sc.mu.Unlock()
		return
	}

	at := store.At(*next)
	if err := sc.store.SetTaskNextRun(ctx, j.taskID, &at); err != nil {
		slog.Warn("persist next run failed", "task", j.taskID, "error", err)
	}

	sc.mu.Lock()
	if current, ok := sc.jobs[j.taskID]; ok {
		current.nextRun = next
	}
	sc.mu.Unlock()
}

// catchUp re-syncs against the store: tasks toggled or created outside the
// API land in the registry, and non-cron tasks left due while the process
// was down fire now.
func (sc *Scheduler) catchUp() {
	ctx := context.Background()

	sc.pruneExecutions(ctx)

	due, err := sc.store.DueTasks(ctx, store.Now(), false)
	if err != nil {
		slog.Warn("catch-up query failed", "error", err)
		return
	}

	for i := range due {
		t := &due[i]

		sc.mu.Lock()
		_, registered := sc.jobs[t.ID]
		sc.mu.Unlock()
		if registered {
			continue
		}

		// Missed cron fires are skipped; the task rejoins at its next slot.
		if t.ScheduleType == store.ScheduleCron {
			if err := sc.RegisterTask(ctx, t); err != nil {
				slog.Warn("catch-up registration failed", "task", t.Name, "error", err)
			}
			continue
		}

		overdue := t.NextRunAt.UTC()

		sc.mu.Lock()
		if _, ok := sc.jobs[t.ID]; ok {
			sc.mu.Unlock()
			continue
		}
		// Keep the overdue instant so the next tick fires it instead of
		// pushing the schedule forward.
		sc.jobs[t.ID] = &job{
			taskID:        t.ID,
			name:          t.Name,
			scheduleType:  t.ScheduleType,
			scheduleValue: t.ScheduleValue,
			nextRun:       &overdue,
		}
		sc.mu.Unlock()

		slog.Info("overdue task picked up", "task", t.Name, "due", overdue)
	}
}

// pruneExecutions deletes execution history past the retention window, at
// most once per hour.
func (sc *Scheduler) pruneExecutions(ctx context.Context) {
	sc.mu.Lock()
	days := sc.retentionDays
	due := days > 0 && time.Since(sc.lastPrune) >= time.Hour
	if due {
		sc.lastPrune = time.Now()
	}
	sc.mu.Unlock()
	if !due {
		return
	}

	deleted, err := sc.store.DeleteExecutionsOlderThan(ctx, days)
	if err != nil {
		slog.Warn("execution retention prune failed", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("old executions pruned", "count", deleted, "retentionDays", days)
	}
}
