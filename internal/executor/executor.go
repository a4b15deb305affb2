// Package executor runs task templates inside a sandboxed JavaScript
// interpreter with injected parameters and decrypted credentials, and
// records every run as a durable execution row.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nextlevelbuilder/automator/internal/config"
	"github.com/nextlevelbuilder/automator/internal/store"
	"github.com/nextlevelbuilder/automator/internal/vault"

	"github.com/dop251/goja"
)

const programCacheSize = 128

// Executor owns the run pipeline: load task and template, open an
// execution row, inject credentials, run the sandbox, close the row.
type Executor struct {
	store    *store.Store
	injector *vault.Injector
	cfg      *config.Config
	programs *lru.Cache[string, *goja.Program]
}

// New creates an executor with a bounded compiled-program cache.
func New(s *store.Store, inj *vault.Injector, cfg *config.Config) *Executor {
	cache, _ := lru.New[string, *goja.Program](programCacheSize)
	return &Executor{store: s, injector: inj, cfg: cfg, programs: cache}
}

// RunOptions tune a single run. TimeoutMs of zero means the configured
// default; Cancel, when non-nil, aborts the run early.
type RunOptions struct {
	TimeoutMs int
	Cancel    <-chan struct{}
}

// Result is what a completed run looks like to callers. The execution row
// referenced by ExecutionID holds the same data durably.
type Result struct {
	ExecutionID int64                  `json:"executionId"`
	TaskID      int64                  `json:"taskId"`
	Status      string                 `json:"status"`
	Output      *store.ExecutionOutput `json:"output,omitempty"`
	Error       string                 `json:"error,omitempty"`
	DurationMs  int64                  `json:"durationMs"`
}

var (
	errRunCancelled = errors.New("execution cancelled")
	errRunTimedOut  = errors.New("execution deadline reached")
)

// Run executes the task once and always leaves the execution row closed:
// success, failed, or timeout. Lookup failures before the row exists are
// returned as plain errors.
func (e *Executor) Run(ctx context.Context, taskID int64, opts RunOptions) (*Result, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("load task %d: %w", taskID, err)
	}
	template, err := e.store.GetTemplate(ctx, task.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("load template %s: %w", task.TemplateID, err)
	}

	execution, err := e.store.CreateExecution(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("open execution: %w", err)
	}
	slog.Info("execution started", "task", task.Name, "execution", execution.ID)

	console := NewConsole(e.cfg.MaxConsoleOutputSize)
	started := time.Now()

	inject := e.injector.InjectForTask(ctx, credentialNames(template, task))
	defer vault.Clear(inject.Credentials)
	if !inject.Success {
		message := credentialFailure(inject)
		return e.close(ctx, task, execution, console, store.StatusFailed, nil, message, started)
	}

	timeout := e.clampTimeout(opts.TimeoutMs)
	runCtx, cancelTimeout := context.WithTimeoutCause(ctx, timeout, errRunTimedOut)
	defer cancelTimeout()
	if opts.Cancel != nil {
		var cancelRun context.CancelCauseFunc
		runCtx, cancelRun = context.WithCancelCause(runCtx)
		defer cancelRun(nil)
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-opts.Cancel:
				cancelRun(errRunCancelled)
			case <-stop:
			}
		}()
	}

	program, err := e.program(template)
	if err != nil {
		return e.close(ctx, task, execution, console, store.StatusFailed, nil, err.Error(), started)
	}

	params := EffectiveParams(template.ParamsSchema, task.Params)
	value, runErr := runSandbox(runCtx, program, params, inject.Credentials, console, e.allowedModules())

	// The run context is the authority on expiry. A deadline can surface as
	// an interpreter interrupt, but it can also come back as a catchable
	// error from a blocked host call (or be swallowed by template code
	// entirely), so the error shape alone is not trusted.
	expired := runCtx.Err() != nil
	if runErr != nil || expired {
		var sErr *sandboxError
		if expired || (errors.As(runErr, &sErr) && sErr.interrupted) {
			message := fmt.Sprintf("Execution timed out after %dms", timeout.Milliseconds())
			if errors.Is(context.Cause(runCtx), errRunCancelled) {
				message = "Execution cancelled"
			}
			return e.close(ctx, task, execution, console, store.StatusTimeout, nil, message, started)
		}
		return e.close(ctx, task, execution, console, store.StatusFailed, nil, runErr.Error(), started)
	}
	return e.close(ctx, task, execution, console, store.StatusSuccess, value, "", started)
}

// close finalizes the execution row and stamps the task's last run inside
// one transaction.
func (e *Executor) close(
	ctx context.Context,
	task *store.Task,
	execution *store.Execution,
	console *Console,
	status string,
	value any,
	message string,
	started time.Time,
) (*Result, error) {
	// Persist even when the run context is gone.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}

	finished := store.Now()
	duration := time.Since(started).Milliseconds()
	output := &store.ExecutionOutput{Console: console.Lines(), Result: value}

	err := e.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.UpdateExecution(ctx, execution.ID, store.ExecutionUpdate{
			Status:     status,
			FinishedAt: &finished,
			Output:     output,
			Error:      message,
			DurationMs: &duration,
		}); err != nil {
			return err
		}
		return tx.StampTaskLastRun(ctx, task.ID, finished)
	})
	if err != nil {
		return nil, fmt.Errorf("close execution %d: %w", execution.ID, err)
	}

	slog.Info("execution finished",
		"task", task.Name, "execution", execution.ID,
		"status", status, "durationMs", duration)

	return &Result{
		ExecutionID: execution.ID,
		TaskID:      task.ID,
		Status:      status,
		Output:      output,
		Error:       message,
		DurationMs:  duration,
	}, nil
}

// program returns the compiled template, caching by id plus update stamp
// so edited templates recompile.
func (e *Executor) program(t *store.Template) (*goja.Program, error) {
	key := t.ID + "@" + t.UpdatedAt.Format(time.RFC3339Nano)
	if prog, ok := e.programs.Get(key); ok {
		return prog, nil
	}
	prog, err := compileTemplate(t.Name, t.Code)
	if err != nil {
		return nil, err
	}
	e.programs.Add(key, prog)
	return prog, nil
}

func (e *Executor) clampTimeout(requestedMs int) time.Duration {
	ms := requestedMs
	if ms <= 0 {
		ms = e.cfg.DefaultTimeoutMs
	}
	if ms > e.cfg.MaxTimeoutMs {
		ms = e.cfg.MaxTimeoutMs
	}
	return time.Duration(ms) * time.Millisecond
}

func (e *Executor) allowedModules() map[string]bool {
	allowed := make(map[string]bool, len(e.cfg.AllowedModules))
	for _, name := range e.cfg.AllowedModules {
		allowed[name] = true
	}
	return allowed
}

// credentialNames unions the template's required credentials with the
// task's extra grants.
func credentialNames(template *store.Template, task *store.Task) []string {
	names := make([]string, 0, len(template.RequiredCredentials)+len(task.Credentials))
	names = append(names, template.RequiredCredentials...)
	names = append(names, task.Credentials...)
	return names
}

func credentialFailure(res *vault.InjectResult) string {
	if len(res.Errors) > 0 {
		return strings.Join(res.Errors, "; ")
	}
	return "missing credentials: " + strings.Join(res.Missing, ", ")
}

// PreflightReport summarizes whether a task can run right now.
type PreflightReport struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Preflight checks a task without executing anything: template resolves,
// parameters satisfy the schema, the template compiles, and every needed
// credential has a stored value. A disabled task is a warning, not an
// error, since manual runs ignore the flag.
func (e *Executor) Preflight(ctx context.Context, taskID int64) (*PreflightReport, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("load task %d: %w", taskID, err)
	}

	report := &PreflightReport{}
	if !task.Enabled {
		report.Warnings = append(report.Warnings, "task is disabled")
	}

	template, err := e.store.GetTemplate(ctx, task.TemplateID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			report.Errors = append(report.Errors,
				fmt.Sprintf("template %s not found", task.TemplateID))
			return report, nil
		}
		return nil, err
	}

	report.Errors = append(report.Errors, ValidateParams(template.ParamsSchema, task.Params)...)

	if _, err := e.program(template); err != nil {
		report.Errors = append(report.Errors, err.Error())
	}

	_, missing, err := e.injector.Validate(ctx, credentialNames(template, task))
	if err != nil {
		return nil, fmt.Errorf("validate credentials: %w", err)
	}
	for _, name := range missing {
		report.Errors = append(report.Errors,
			fmt.Sprintf("credential %s has no stored value", name))
	}

	report.Valid = len(report.Errors) == 0
	return report, nil
}
