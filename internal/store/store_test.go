package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeTemplate(t *testing.T, s *Store, name string) *Template {
	t.Helper()
	template := &Template{
		Name: name,
		Code: "return 42",
		ParamsSchema: ParamDefs{
			{Name: "url", Type: "string", Required: true},
		},
	}
	if err := s.CreateTemplate(context.Background(), template); err != nil {
		t.Fatalf("create template: %v", err)
	}
	return template
}

func makeTask(t *testing.T, s *Store, templateID, name string) *Task {
	t.Helper()
	task := &Task{
		TemplateID:    templateID,
		Name:          name,
		Params:        ParamValues{"url": "https://example.com"},
		ScheduleType:  ScheduleInterval,
		ScheduleValue: "30",
		Enabled:       true,
	}
	if err := s.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestTemplateCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	template := makeTemplate(t, s, "fetch-page")
	if template.ID == "" {
		t.Fatal("template id not assigned")
	}

	got, err := s.GetTemplate(ctx, template.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "fetch-page" || got.Code != "return 42" {
		t.Errorf("got %+v", got)
	}
	if len(got.ParamsSchema) != 1 || got.ParamsSchema[0].Name != "url" {
		t.Errorf("schema round trip failed: %+v", got.ParamsSchema)
	}

	got.Description = "fetches a page"
	if err := s.UpdateTemplate(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := s.DeleteTemplate(ctx, template.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetTemplate(ctx, template.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("get deleted = %v, want ErrNotFound", err)
	}
}

func TestTemplateNameUnique(t *testing.T) {
	s := newTestStore(t)
	makeTemplate(t, s, "dup")

	err := s.CreateTemplate(context.Background(), &Template{Name: "dup", Code: "1"})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate name = %v, want ErrConflict", err)
	}
}

func TestBuiltinTemplateImmutable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	templates, err := s.ListTemplates(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	var builtin *Template
	for i := range templates {
		if templates[i].IsBuiltin {
			builtin = &templates[i]
			break
		}
	}
	if builtin == nil {
		t.Fatal("no builtin template seeded")
	}

	builtin.Description = "changed"
	if err := s.UpdateTemplate(ctx, builtin); !errors.Is(err, ErrConflict) {
		t.Errorf("update builtin = %v, want ErrConflict", err)
	}
}

func TestDeleteTemplateWithTasks(t *testing.T) {
	s := newTestStore(t)
	template := makeTemplate(t, s, "referenced")
	makeTask(t, s, template.ID, "uses-it")

	if err := s.DeleteTemplate(context.Background(), template.ID); !errors.Is(err, ErrIntegrity) {
		t.Errorf("delete referenced template = %v, want ErrIntegrity", err)
	}
}

func TestTaskForeignKey(t *testing.T) {
	s := newTestStore(t)
	err := s.CreateTask(context.Background(), &Task{
		TemplateID:    "no-such-template",
		Name:          "orphan",
		ScheduleType:  ScheduleCron,
		ScheduleValue: "* * * * *",
	})
	if !errors.Is(err, ErrIntegrity) {
		t.Errorf("task with bad template = %v, want ErrIntegrity", err)
	}
}

func TestTaskUpdateAndToggle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	template := makeTemplate(t, s, "tmpl")
	task := makeTask(t, s, template.ID, "job")

	name := "renamed"
	updated, err := s.UpdateTask(ctx, task.ID, TaskPatch{Name: &name})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "renamed" || updated.ScheduleValue != "30" {
		t.Errorf("partial update wrong: %+v", updated)
	}

	enabled, err := s.ToggleTask(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if enabled {
		t.Error("toggle of enabled task returned true, want false")
	}
	enabled, err = s.ToggleTask(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !enabled {
		t.Error("second toggle returned false, want true")
	}
}

func TestExecutionLifecycleAndCascade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	template := makeTemplate(t, s, "tmpl")
	task := makeTask(t, s, template.ID, "job")

	execution, err := s.CreateExecution(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if execution.Status != StatusRunning {
		t.Errorf("new execution status = %q, want running", execution.Status)
	}

	finished := Now()
	duration := int64(120)
	err = s.UpdateExecution(ctx, execution.ID, ExecutionUpdate{
		Status:     StatusSuccess,
		FinishedAt: &finished,
		Output:     &ExecutionOutput{Console: []string{"line"}, Result: 42.0},
		DurationMs: &duration,
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.GetExecution(ctx, execution.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusSuccess || got.Output == nil || len(got.Output.Console) != 1 {
		t.Errorf("closed execution wrong: %+v", got)
	}

	// Deleting the task cascades to its executions.
	if err := s.DeleteTask(ctx, task.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetExecution(ctx, execution.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("execution after task delete = %v, want ErrNotFound", err)
	}
}

func TestListExecutionsPaging(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	template := makeTemplate(t, s, "tmpl")
	task := makeTask(t, s, template.ID, "job")

	for i := 0; i < 5; i++ {
		if _, err := s.CreateExecution(ctx, task.ID); err != nil {
			t.Fatal(err)
		}
	}

	rows, total, err := s.ListExecutions(ctx, ExecutionFilter{TaskID: &task.ID, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(rows) != 2 {
		t.Errorf("page size = %d, want 2", len(rows))
	}
}

func TestDueTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	template := makeTemplate(t, s, "tmpl")
	task := makeTask(t, s, template.ID, "due-job")

	past := At(time.Now().Add(-time.Minute))
	if err := s.SetTaskNextRun(ctx, task.ID, &past); err != nil {
		t.Fatal(err)
	}

	due, err := s.DueTasks(ctx, Now(), false)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ID != task.ID {
		t.Errorf("due = %+v, want the one past-due task", due)
	}

	// Disabled tasks never come back due.
	if _, err := s.ToggleTask(ctx, task.ID); err != nil {
		t.Fatal(err)
	}
	due, err = s.DueTasks(ctx, Now(), false)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Errorf("disabled task reported due: %+v", due)
	}
}

func TestSweepOrphanExecutions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	template := makeTemplate(t, s, "tmpl")
	task := makeTask(t, s, template.ID, "job")

	execution, err := s.CreateExecution(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}

	swept, err := s.SweepOrphanExecutions(ctx, "process restarted while execution was running")
	if err != nil {
		t.Fatal(err)
	}
	if swept != 1 {
		t.Errorf("swept = %d, want 1", swept)
	}

	got, err := s.GetExecution(ctx, execution.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusFailed || got.FinishedAt == nil {
		t.Errorf("swept execution = %+v, want failed with finished_at", got)
	}
}

func TestTransactionRollback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	template := makeTemplate(t, s, "tmpl")

	boom := errors.New("boom")
	err := s.Transaction(ctx, func(tx *Store) error {
		if err := tx.CreateTask(ctx, &Task{
			TemplateID:    template.ID,
			Name:          "doomed",
			ScheduleType:  ScheduleInterval,
			ScheduleValue: "5",
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("transaction error = %v, want boom", err)
	}

	if _, err := s.GetTaskByName(ctx, "doomed"); !errors.Is(err, ErrNotFound) {
		t.Errorf("rolled-back task still visible: %v", err)
	}
}

func TestTimeRoundTrip(t *testing.T) {
	now := Now()
	value, err := now.Value()
	if err != nil {
		t.Fatal(err)
	}

	var parsed Time
	if err := parsed.Scan(value); err != nil {
		t.Fatal(err)
	}
	if !parsed.Equal(now.Time) {
		t.Errorf("round trip %v != %v", parsed, now)
	}
}

func TestCredentialNameValidation(t *testing.T) {
	s := newTestStore(t)
	err := s.CreateCredential(context.Background(), &Credential{Name: "lower_case"})
	if err == nil {
		t.Error("lowercase credential name accepted")
	}
	if err := s.CreateCredential(context.Background(), &Credential{Name: "VALID_NAME_2"}); err != nil {
		t.Errorf("valid name rejected: %v", err)
	}
}
