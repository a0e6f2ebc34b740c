package tools

import (
	"context"
	"time"
)

const currentDateName = "get_current_date"

// CurrentDate reports today's date so the model can anchor recency judgements.
type CurrentDate struct {
	now func() time.Time
}

var _ Tool = (*CurrentDate)(nil)

// NewCurrentDate builds the tool against the wall clock.
func NewCurrentDate() *CurrentDate {
	return &CurrentDate{now: time.Now}
}

func (c *CurrentDate) Definition() Definition {
	return Definition{
		Name:        currentDateName,
		Description: "本日の日付を [yyyy-MM-dd] 形式で返すツール。",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

func (c *CurrentDate) Call(_ context.Context, _ map[string]any) (string, error) {
	return c.now().Format("2006-01-02"), nil
}
