package builtin

import (
	"context"
	"time"

	"ampd/internal/tools"
)

// DatetimeTool reports the current time.
type DatetimeTool struct {
	tools.BaseTool

	// now is swappable for tests.
	now func() time.Time
}

// NewDatetimeTool creates the datetime tool.
func NewDatetimeTool() *DatetimeTool {
	return &DatetimeTool{
		BaseTool: tools.BaseTool{
			ToolName:        "datetime",
			ToolDescription: "Get the current date and time, optionally in a named IANA timezone.",
			ToolSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"timezone": map[string]any{
						"type":        "string",
						"description": "IANA timezone name, e.g. Europe/Berlin. Defaults to UTC.",
					},
				},
			},
		},
		now: time.Now,
	}
}

// Execute formats the current time as RFC 3339.
func (t *DatetimeTool) Execute(ctx context.Context, args map[string]any) (tools.Result, error) {
	loc := time.UTC
	if tz, _ := args["timezone"].(string); tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			return tools.Failf("invalid_timezone", "unknown timezone: %s", tz), nil
		}
		loc = parsed
	}
	return tools.OK(t.now().In(loc).Format(time.RFC3339)), nil
}
