package synth

import "time"

// Script is one generated version of the extraction logic. Versions are
// owned by the job and append-only.
type Script struct {
	Version      int       `json:"version"`
	Tool         string    `json:"tool"`
	SampleCode   string    `json:"sample_code"`
	FullCode     string    `json:"full_code"`
	Dependencies []string  `json:"dependencies,omitempty"`
	Explanation  string    `json:"explanation,omitempty"`
	Changes      []string  `json:"changes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Clarification is one question surfaced to the user when a sample test
// fails. Phrased for a non-technical audience.
type Clarification struct {
	Question string   `json:"question"`
	Type     string   `json:"type"` // "multiple_choice", "boolean", "text"
	Options  []string `json:"options,omitempty"`
	Context  string   `json:"context,omitempty"`
}
