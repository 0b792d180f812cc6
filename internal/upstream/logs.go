package upstream

import (
	"context"
	"net/http"
)

// LogEntry is a server-side activity log record, used on the reports
// page.
type LogEntry struct {
	ID        int    `json:"id"`
	UserID    int    `json:"user_id"`
	UserName  string `json:"user_name,omitempty"`
	Action    string `json:"action"`
	Details   string `json:"details,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

func (c *Client) Logs(ctx context.Context) ([]LogEntry, error) {
	var logs []LogEntry
	if err := c.do(ctx, http.MethodGet, "/logs", nil, nil, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

func (c *Client) CreateLog(ctx context.Context, entry *LogEntry) (*LogEntry, error) {
	var created LogEntry
	if err := c.do(ctx, http.MethodPost, "/logs", nil, entry, &created); err != nil {
		return nil, err
	}
	return &created, nil
}
