package sandbox

import "context"

// Request describes one time-boxed execution of synthesized extraction logic.
type Request struct {
	JobID        string   `json:"job_id"`
	Code         string   `json:"code"`
	Dependencies []string `json:"dependencies"`
	Tool         string   `json:"tool"`
	MaxItems     int      `json:"max_items"`
	TestMode     bool     `json:"test_mode"`
	TimeoutSec   int      `json:"timeout_sec"`
}

// Result is the outcome of one sandbox run after the captured stream has
// been resolved against the timeout policy.
type Result struct {
	Success       bool                     `json:"success"`
	Data          []map[string]interface{} `json:"data"`
	TotalFound    int                      `json:"total_found"`
	IsPartial     bool                     `json:"is_partial"`
	TimedOut      bool                     `json:"timed_out"`
	ExecutionTime float64                  `json:"execution_time"`
	Errors        []string                 `json:"errors,omitempty"`
	Warnings      []string                 `json:"warnings,omitempty"`
	ToolUsed      string                   `json:"tool_used,omitempty"`
	RawOutput     string                   `json:"-"`
}

// ItemCount returns the number of extracted rows, preferring the declared
// total over the captured slice length.
func (r Result) ItemCount() int {
	if r.TotalFound > len(r.Data) {
		return r.TotalFound
	}
	return len(r.Data)
}

// Backend executes synthesized logic in isolation. Implementations: an
// in-process subprocess runner and a remote sandbox service client, selected
// by configuration.
type Backend interface {
	Execute(ctx context.Context, req Request) (*Result, error)
	Name() string
}
