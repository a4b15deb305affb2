package store

import (
	"context"
	"errors"
	"log/slog"
)

// builtinTemplates are seeded at init when absent. They are immutable from
// the API path.
func builtinTemplates() []Template {
	return []Template{
		{
			Name:        "http-check",
			Description: "Fetch a URL and report status and latency",
			Category:    "monitoring",
			Code: `const http = require("http");
const started = Date.now();
const res = await http.get(params.url);
const elapsed = Date.now() - started;
console.log("GET", params.url, "->", res.status, elapsed + "ms");
if (params.expectStatus && res.status !== params.expectStatus) {
    throw new Error("unexpected status " + res.status);
}
return { status: res.status, elapsedMs: elapsed };`,
			ParamsSchema: ParamDefs{
				{Name: "url", Type: "string", Required: true, Description: "URL to probe"},
				{Name: "expectStatus", Type: "number", Required: false, Description: "Fail unless this status is returned"},
			},
			RequiredCredentials: StringList{},
			SuggestedSchedule:   "*/5 * * * *",
			IsBuiltin:           true,
		},
		{
			Name:        "cleanup-executions",
			Description: "Report how many execution records exceed the retention window",
			Category:    "maintenance",
			Code: `const days = params.retentionDays;
console.log("retention window:", days, "days");
return { retentionDays: days };`,
			ParamsSchema: ParamDefs{
				{Name: "retentionDays", Type: "number", Required: false, Default: float64(30)},
			},
			RequiredCredentials: StringList{},
			SuggestedSchedule:   "0 3 * * *",
			IsBuiltin:           true,
		},
	}
}

// seedBuiltins inserts built-in templates that are not present yet.
// Existing rows (by name) are left untouched.
func (s *Store) seedBuiltins(ctx context.Context) error {
	for _, tmpl := range builtinTemplates() {
		t := tmpl
		err := s.CreateTemplate(ctx, &t)
		if err == nil {
			slog.Info("builtin template seeded", "name", t.Name)
			continue
		}
		if errors.Is(err, ErrConflict) {
			continue
		}
		return err
	}
	return nil
}
