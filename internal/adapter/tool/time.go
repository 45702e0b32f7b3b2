package tool

import (
	"context"
	"encoding/json"
	"time"

	"omni-agent/internal/domain"
)

// TimeFormat is the layout get_time answers with.
const TimeFormat = "2006-01-02 15:04:05"

// TimeTool reports the local wall-clock time. It takes no input.
type TimeTool struct {
	now func() time.Time
}

// NewTimeTool creates the get_time tool.
func NewTimeTool() *TimeTool { return &TimeTool{now: time.Now} }

func (t *TimeTool) Name() string        { return "get_time" }
func (t *TimeTool) Description() string { return "Tool that gets current time. No input required." }

// Schema has no parameters: whatever the model passes is ignored.
func (t *TimeTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.Name(), Description: t.Description()}
}

func (t *TimeTool) Execute(context.Context, json.RawMessage) (*domain.ToolResult, error) {
	return TextResult(t.now().Format(TimeFormat)), nil
}
