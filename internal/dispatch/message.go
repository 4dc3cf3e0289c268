package dispatch

import (
	"encoding/json"

	"github.com/v0xg/pagepilot/internal/action"
	"github.com/v0xg/pagepilot/internal/dom"
	"github.com/v0xg/pagepilot/internal/executor"
)

// Commands accepted by the dispatcher.
const (
	CommandProcess        = "processNavigationCommand"
	CommandExecute        = "executeAction"
	CommandGetPageContent = "getPageContent"
)

// Message types sent back to the caller.
const (
	TypeInterpreted = "interpreted"
	TypeResponse    = "response"
)

// Request is one inbound command. Legacy callers name the command in Action
// instead of Command.
type Request struct {
	ID         string `json:"id,omitempty"`
	Command    string `json:"command,omitempty"`
	Action     string `json:"action,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	// StructuredAction carries a ready-made action for CommandExecute.
	StructuredAction json.RawMessage `json:"structuredAction,omitempty"`
}

// Name returns the command the request asks for.
func (r Request) Name() string {
	if r.Command != "" {
		return r.Command
	}
	return r.Action
}

// Message is an outbound event or response. For interpreted events Success
// reports that interpretation succeeded; for the response it is the outcome of
// the whole command.
type Message struct {
	Type              string                   `json:"type"`
	ID                string                   `json:"id"`
	Success           bool                     `json:"success"`
	InterpretedAction *action.StructuredAction `json:"interpretedAction,omitempty"`
	Result            *executor.Result         `json:"result,omitempty"`
	// PageContent answers getPageContent; its html, url and title fields sit
	// at the top level of the message.
	*dom.PageContent
	Error             string                   `json:"error,omitempty"`
	// Raw is the interpreter's reply when it could not be parsed.
	Raw string `json:"raw,omitempty"`
}
