package cmd

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nextlevelbuilder/automator/internal/store"
)

func seedDisabledTask(t *testing.T) int64 {
	t.Helper()
	sv, err := openServices()
	if err != nil {
		t.Fatal(err)
	}
	defer sv.Close()

	ctx := context.Background()
	template := &store.Template{Name: "tmpl-" + t.Name(), Code: "return 1"}
	if err := sv.store.CreateTemplate(ctx, template); err != nil {
		t.Fatal(err)
	}
	task := &store.Task{
		TemplateID:    template.ID,
		Name:          "task-" + t.Name(),
		ScheduleType:  store.ScheduleInterval,
		ScheduleValue: "30",
		Enabled:       false,
	}
	if err := sv.store.CreateTask(ctx, task); err != nil {
		t.Fatal(err)
	}
	return task.ID
}

func TestToggleMaintainsNextRun(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	id := seedDisabledTask(t)

	toggle := func() {
		cmd := tasksToggleCmd()
		cmd.SetArgs([]string{fmt.Sprint(id)})
		if err := cmd.Execute(); err != nil {
			t.Fatal(err)
		}
	}
	load := func() *store.Task {
		sv, err := openServices()
		if err != nil {
			t.Fatal(err)
		}
		defer sv.Close()
		task, err := sv.store.GetTask(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		return task
	}

	// Enabling must leave a fire time behind, or a running daemon's
	// catch-up sweep can never adopt the task.
	toggle()
	task := load()
	if !task.Enabled {
		t.Fatal("task still disabled after toggle")
	}
	if task.NextRunAt == nil {
		t.Fatal("next_run_at = nil after enabling")
	}
	until := time.Until(task.NextRunAt.Time)
	if until < 29*time.Minute || until > 31*time.Minute {
		t.Errorf("next fire in %v, want ~30m", until)
	}

	toggle()
	task = load()
	if task.Enabled {
		t.Fatal("task still enabled after second toggle")
	}
	if task.NextRunAt != nil {
		t.Errorf("next_run_at = %v after disabling, want nil", task.NextRunAt)
	}
}
