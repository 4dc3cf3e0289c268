package action

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Amount is a scroll amount as sent on the wire. Collaborators emit it either
// as a keyword string or as a bare number; both decode to the same text.
type Amount string

// UnmarshalJSON accepts a JSON string or number.
func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*a = Amount(str)
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("amount must be a string or number: %w", err)
	}
	*a = Amount(s)
	return nil
}

// StructuredAction is the flat record the interpretation collaborator returns.
type StructuredAction struct {
	Action           string     `json:"action"`
	Selector         string     `json:"selector,omitempty"`
	ElementTextMatch string     `json:"element_text_match,omitempty"`
	Text             string     `json:"text,omitempty"`
	SubmitSelector   string     `json:"submit_selector,omitempty"`
	Direction        string     `json:"direction,omitempty"`
	Amount           Amount     `json:"amount,omitempty"`
	Actions          []StepSpec `json:"actions,omitempty"`
	URL              string     `json:"url,omitempty"`
	Reasoning        string     `json:"reasoning,omitempty"`
}

// StepSpec is one entry of StructuredAction.Actions. Delay and Duration are
// milliseconds; Duration is the legacy spelling used by wait steps.
type StepSpec struct {
	Type             string   `json:"type"`
	Selector         string   `json:"selector,omitempty"`
	ElementTextMatch string   `json:"element_text_match,omitempty"`
	Text             string   `json:"text,omitempty"`
	SubmitSelector   string   `json:"submit_selector,omitempty"`
	Direction        string   `json:"direction,omitempty"`
	Amount           Amount   `json:"amount,omitempty"`
	URL              string   `json:"url,omitempty"`
	Delay            *float64 `json:"delay,omitempty"`
	Duration         *float64 `json:"duration,omitempty"`
	ContinueOnError  *bool    `json:"continueOnError,omitempty"`
}

// InterpretationError is returned when the collaborator's reply cannot be
// parsed as a StructuredAction. Raw holds the reply verbatim.
type InterpretationError struct {
	Raw string
	Err error
}

func (e *InterpretationError) Error() string {
	return fmt.Sprintf("malformed interpretation response: %v. Response was: %s", e.Err, e.Raw)
}

func (e *InterpretationError) Unwrap() error { return e.Err }

// ValidationError is returned when a parsed action is missing a required field
// or has a shape no executor accepts. Step is the zero-based sequence step, or
// -1 for the top-level action.
type ValidationError struct {
	Action string
	Step   int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Step >= 0 {
		return fmt.Sprintf("invalid sequence step %d (%s): %s", e.Step+1, e.Action, e.Reason)
	}
	return fmt.Sprintf("invalid %s action: %s", e.Action, e.Reason)
}

// Parse decodes a collaborator reply. A reply that is not a JSON object on its
// own is searched for one balanced JSON object (models like to wrap JSON in
// prose or code fences); if none decodes, an *InterpretationError is returned.
func Parse(raw string) (StructuredAction, error) {
	var sa StructuredAction
	trimmed := strings.TrimSpace(raw)
	err := json.Unmarshal([]byte(trimmed), &sa)
	if err == nil {
		return sa, nil
	}
	obj, ok := extractObject(trimmed)
	if !ok {
		return StructuredAction{}, &InterpretationError{Raw: raw, Err: err}
	}
	sa = StructuredAction{}
	if err := json.Unmarshal([]byte(obj), &sa); err != nil {
		return StructuredAction{}, &InterpretationError{Raw: raw, Err: err}
	}
	return sa, nil
}

// Decode parses raw and validates it into a Descriptor.
func Decode(raw string) (Descriptor, StructuredAction, error) {
	sa, err := Parse(raw)
	if err != nil {
		return nil, sa, err
	}
	d, err := sa.Descriptor()
	return d, sa, err
}

// extractObject returns the first balanced {...} in s, skipping braces that
// appear inside JSON strings.
func extractObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// Descriptor validates sa and converts it into the tagged union.
func (sa StructuredAction) Descriptor() (Descriptor, error) {
	kind := Kind(strings.TrimSpace(sa.Action))
	switch kind {
	case KindClick:
		t, err := target(sa.Action, -1, sa.Selector, sa.ElementTextMatch)
		if err != nil {
			return nil, err
		}
		return Click{Target: t}, nil
	case KindTypeAndSubmit:
		t, err := target(sa.Action, -1, sa.Selector, sa.ElementTextMatch)
		if err != nil {
			return nil, err
		}
		return TypeAndSubmit{Target: t, Text: sa.Text, SubmitSelector: sa.SubmitSelector, Submit: true}, nil
	case KindScroll:
		return scroll(sa.Direction, string(sa.Amount)), nil
	case KindNavigate:
		if strings.TrimSpace(sa.URL) == "" {
			return nil, &ValidationError{Action: sa.Action, Step: -1, Field: "url", Reason: "missing url"}
		}
		return Navigate{URL: NormalizeURL(sa.URL)}, nil
	case KindGoBack:
		return GoBack{}, nil
	case KindGoForward:
		return GoForward{}, nil
	case KindUnsupported:
		return Unsupported{Reasoning: sa.Reasoning}, nil
	case KindSequence:
		if len(sa.Actions) == 0 {
			return nil, &ValidationError{Action: sa.Action, Step: -1, Field: "actions", Reason: "sequence has no actions"}
		}
		steps := make([]Step, 0, len(sa.Actions))
		for i, spec := range sa.Actions {
			st, err := spec.step(i)
			if err != nil {
				return nil, err
			}
			steps = append(steps, st)
		}
		return Sequence{Steps: steps}, nil
	case "":
		return nil, &ValidationError{Action: "unknown", Step: -1, Field: "action", Reason: "missing action"}
	default:
		return nil, &ValidationError{Action: sa.Action, Step: -1, Field: "action", Reason: fmt.Sprintf("unknown action %q", sa.Action)}
	}
}

func (spec StepSpec) step(i int) (Step, error) {
	var d Descriptor
	kind := Kind(strings.TrimSpace(spec.Type))
	switch kind {
	case KindClick:
		t, err := target(spec.Type, i, spec.Selector, spec.ElementTextMatch)
		if err != nil {
			return Step{}, err
		}
		d = Click{Target: t}
	case KindType, KindTypeAndSubmit:
		t, err := target(spec.Type, i, spec.Selector, spec.ElementTextMatch)
		if err != nil {
			return Step{}, err
		}
		d = TypeAndSubmit{Target: t, Text: spec.Text, SubmitSelector: spec.SubmitSelector, Submit: kind == KindTypeAndSubmit}
	case KindScroll:
		d = scroll(spec.Direction, string(spec.Amount))
	case KindWait:
		d = Wait{}
	case KindNavigate:
		if strings.TrimSpace(spec.URL) == "" {
			return Step{}, &ValidationError{Action: spec.Type, Step: i, Field: "url", Reason: "missing url"}
		}
		d = Navigate{URL: NormalizeURL(spec.URL)}
	case KindGoBack:
		d = GoBack{}
	case KindGoForward:
		d = GoForward{}
	case KindSequence:
		return Step{}, &ValidationError{Action: spec.Type, Step: i, Field: "type", Reason: "nested sequences are not supported"}
	default:
		return Step{}, &ValidationError{Action: spec.Type, Step: i, Field: "type", Reason: fmt.Sprintf("unknown action type %q", spec.Type)}
	}

	st := Step{Action: d, ContinueOnError: spec.ContinueOnError == nil || *spec.ContinueOnError}
	delay := spec.Delay
	if delay == nil && kind == KindWait {
		delay = spec.Duration
	}
	if delay != nil {
		ms := min(max(*delay, 0), float64(MaxStepDelay/time.Millisecond))
		st.Delay = time.Duration(ms * float64(time.Millisecond))
		st.DelaySet = true
	}
	return st, nil
}

// MaxStepDelay caps a step's delay or wait duration.
const MaxStepDelay = 10 * time.Minute

func target(action string, step int, selector, text string) (Target, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" && strings.TrimSpace(text) == "" {
		return Target{}, &ValidationError{
			Action: action,
			Step:   step,
			Field:  "selector",
			Reason: "missing selector or element_text_match",
		}
	}
	return Target{Selector: selector, TextMatch: text}, nil
}

func scroll(direction, amount string) Scroll {
	if strings.TrimSpace(direction) == "" {
		direction = "down"
	}
	if strings.TrimSpace(amount) == "" {
		amount = "medium"
	}
	return Scroll{Direction: direction, Amount: amount}
}

// NormalizeURL prefixes https:// to URLs given without a scheme.
func NormalizeURL(u string) string {
	u = strings.TrimSpace(u)
	lower := strings.ToLower(u)
	if strings.Contains(lower, "://") || strings.HasPrefix(lower, "about:") || strings.HasPrefix(lower, "data:") {
		return u
	}
	return "https://" + u
}
