package sandbox

import (
	"encoding/json"
	"strings"
)

// Stream markers the synthesized script must emit around its JSON payloads.
// Partial blocks are emitted periodically mid-run so a timed-out execution
// still yields data; the final block closes the run.
const (
	PartialStartMarker = "=== PARTIAL_RESULTS_START ==="
	PartialEndMarker   = "=== PARTIAL_RESULTS_END ==="
	FinalStartMarker   = "=== EXECUTION_RESULTS_START ==="
	FinalEndMarker     = "=== EXECUTION_RESULTS_END ==="
)

// payload is the JSON shape between a marker pair.
type payload struct {
	Success       bool                     `json:"success"`
	Data          []map[string]interface{} `json:"data"`
	TotalFound    int                      `json:"totalFound"`
	IsPartial     bool                     `json:"isPartial"`
	ExecutionTime float64                  `json:"executionTime"`
	Error         string                   `json:"error,omitempty"`
}

// extractBlocks pulls every well-formed payload between the given marker
// pair out of a noisy output stream, in emission order. Malformed blocks are
// skipped rather than failing the whole parse.
func extractBlocks(output, start, end string) []payload {
	var blocks []payload
	rest := output
	for {
		i := strings.Index(rest, start)
		if i < 0 {
			break
		}
		rest = rest[i+len(start):]
		j := strings.Index(rest, end)
		if j < 0 {
			break
		}
		body := strings.TrimSpace(rest[:j])
		rest = rest[j+len(end):]

		var p payload
		if err := json.Unmarshal([]byte(body), &p); err != nil {
			continue
		}
		blocks = append(blocks, p)
	}
	return blocks
}

// ParseStream resolves a captured output stream into a Result. A final block
// wins over any partial block; among blocks of the same kind the last one
// wins. Policy for degraded runs:
//   - timed out but at least one partial block captured: success with
//     IsPartial=true and a warning, never a hard failure
//   - no block of either kind: empty success with zero items, so callers
//     diagnose by content rather than by process exit code
func ParseStream(output string, timedOut bool) *Result {
	res := &Result{RawOutput: output, TimedOut: timedOut}

	finals := extractBlocks(output, FinalStartMarker, FinalEndMarker)
	partials := extractBlocks(output, PartialStartMarker, PartialEndMarker)

	var p *payload
	isPartial := false
	if len(finals) > 0 {
		p = &finals[len(finals)-1]
	} else if len(partials) > 0 {
		p = &partials[len(partials)-1]
		isPartial = true
	}

	if p == nil {
		// No structured output at all. An empty success lets the test loop
		// treat it as a zero-item run.
		res.Success = !timedOut
		if timedOut {
			res.Errors = append(res.Errors, "execution timed out with no captured results")
		}
		return res
	}

	res.Data = p.Data
	res.TotalFound = p.TotalFound
	if res.TotalFound < len(p.Data) {
		res.TotalFound = len(p.Data)
	}
	res.ExecutionTime = p.ExecutionTime
	res.IsPartial = isPartial || p.IsPartial
	res.Success = p.Success
	if p.Error != "" {
		res.Errors = append(res.Errors, p.Error)
	}

	if timedOut {
		// A timed-out run that produced data is more useful than a clean
		// failure.
		if res.ItemCount() > 0 || res.IsPartial {
			res.Success = true
			res.IsPartial = true
			res.Warnings = append(res.Warnings, "execution timed out; returning partial results")
		} else if !res.Success {
			res.Errors = append(res.Errors, "execution timed out before any results were emitted")
		}
	}

	return res
}
