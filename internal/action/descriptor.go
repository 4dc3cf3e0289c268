// Package action defines the ActionDescriptor tagged union produced by the
// interpretation collaborator, its flat wire format, and the parsing and
// validation that turn one into the other.
package action

import "time"

// Kind tags a Descriptor variant. Values match the wire "action" / "type" names.
type Kind string

const (
	KindClick         Kind = "click"
	KindTypeAndSubmit Kind = "type_and_submit"
	KindScroll        Kind = "scroll"
	KindSequence      Kind = "sequence"
	KindNavigate      Kind = "navigate"
	KindGoBack        Kind = "go_back"
	KindGoForward     Kind = "go_forward"
	KindUnsupported   Kind = "unsupported"

	// Step-only kinds.
	KindType Kind = "type"
	KindWait Kind = "wait"
)

// Descriptor is one interpreted command. The concrete types below are its only
// implementations.
type Descriptor interface {
	Kind() Kind
	isDescriptor()
}

// Target is the element criteria shared by element-directed actions.
type Target struct {
	Selector  string
	TextMatch string
}

// Click clicks the element identified by Target.
type Click struct {
	Target
}

// TypeAndSubmit types Text into an editable element and, when Submit is set,
// submits it. Submit is false only for "type" sequence steps.
type TypeAndSubmit struct {
	Target
	Text           string
	SubmitSelector string
	Submit         bool
}

// Scroll scrolls the page. Direction and Amount keep their raw wire values;
// the scroll executor interprets them.
type Scroll struct {
	Direction string
	Amount    string
}

// Navigate loads URL in the current tab.
type Navigate struct {
	URL string
}

// GoBack moves back in history.
type GoBack struct{}

// GoForward moves forward in history.
type GoForward struct{}

// Unsupported records that the collaborator could not map the command.
type Unsupported struct {
	Reasoning string
}

// Wait is a sequence-only pseudo action; it performs no DOM work.
type Wait struct{}

// Sequence runs Steps in order.
type Sequence struct {
	Steps []Step
}

// Step is one entry of a Sequence.
type Step struct {
	Action Descriptor
	// Delay is the pause after the step. Zero with DelaySet false means the
	// orchestrator picks the default for the step kind.
	Delay    time.Duration
	DelaySet bool
	// ContinueOnError defaults to true; only an explicit false aborts the
	// sequence when this step fails.
	ContinueOnError bool
}

func (Click) Kind() Kind { return KindClick }
func (t TypeAndSubmit) Kind() Kind {
	if !t.Submit {
		return KindType
	}
	return KindTypeAndSubmit
}
func (Scroll) Kind() Kind      { return KindScroll }
func (Navigate) Kind() Kind    { return KindNavigate }
func (GoBack) Kind() Kind      { return KindGoBack }
func (GoForward) Kind() Kind   { return KindGoForward }
func (Unsupported) Kind() Kind { return KindUnsupported }
func (Wait) Kind() Kind        { return KindWait }
func (Sequence) Kind() Kind    { return KindSequence }

func (Click) isDescriptor()         {}
func (TypeAndSubmit) isDescriptor() {}
func (Scroll) isDescriptor()        {}
func (Navigate) isDescriptor()      {}
func (GoBack) isDescriptor()        {}
func (GoForward) isDescriptor()     {}
func (Unsupported) isDescriptor()   {}
func (Wait) isDescriptor()          {}
func (Sequence) isDescriptor()      {}
