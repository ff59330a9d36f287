package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecisionKind tags the two valid shapes of a retrieval-loop response.
type DecisionKind string

const (
	// KindFinal means the model answered and the loop is done.
	KindFinal DecisionKind = "final"
	// KindNeedMoreFiles means the model wants full file contents before
	// answering.
	KindNeedMoreFiles DecisionKind = "needMoreFiles"
)

// Decision is the validated form of the model's JSON response:
// {text_response, action: "none"|"analyze_files", related_files, complete}.
type Decision struct {
	Kind         DecisionKind
	TextResponse string
	RelatedFiles []string
	Complete     bool
}

type rawDecision struct {
	TextResponse *string  `json:"text_response"`
	Action       *string  `json:"action"`
	RelatedFiles []string `json:"related_files"`
	Complete     *bool    `json:"complete"`
}

// ParseDecision validates a raw model response against the fixed response
// contract. Markdown code fences around the JSON are tolerated; anything
// else that deviates is an error.
func ParseDecision(raw string) (*Decision, error) {
	cleaned := stripCodeFence(raw)

	var parsed rawDecision
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w", err)
	}
	if parsed.TextResponse == nil || parsed.Action == nil || parsed.Complete == nil {
		return nil, fmt.Errorf("response is missing required fields")
	}

	d := &Decision{
		TextResponse: *parsed.TextResponse,
		RelatedFiles: parsed.RelatedFiles,
		Complete:     *parsed.Complete,
	}
	switch *parsed.Action {
	case "none":
		d.Kind = KindFinal
	case "analyze_files":
		d.Kind = KindNeedMoreFiles
		if len(d.RelatedFiles) == 0 {
			return nil, fmt.Errorf("analyze_files response lists no related files")
		}
	default:
		return nil, fmt.Errorf("unknown action %q", *parsed.Action)
	}
	return d, nil
}

// stripCodeFence removes a surrounding ```json ... ``` fence if present.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
