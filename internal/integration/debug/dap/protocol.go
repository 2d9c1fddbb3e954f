package dap

import (
	"encoding/json"
	"fmt"
)

// Message types.
const (
	TypeRequest  = "request"
	TypeResponse = "response"
	TypeEvent    = "event"
)

// Event names the host reacts to.
const (
	EventInitialized = "initialized"
	EventStopped     = "stopped"
	EventOutput      = "output"
	EventExited      = "exited"
	EventTerminated  = "terminated"
)

// ProtocolMessage is the base for all DAP messages.
type ProtocolMessage struct {
	Seq  int    `json:"seq"`
	Type string `json:"type"`
}

// Request represents a DAP request.
type Request struct {
	ProtocolMessage
	Command   string          `json:"command"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Response represents a DAP response.
type Response struct {
	ProtocolMessage
	RequestSeq int             `json:"request_seq"`
	Success    bool            `json:"success"`
	Command    string          `json:"command"`
	Message    string          `json:"message,omitempty"`
	Body       json.RawMessage `json:"body,omitempty"`
}

// Event represents a DAP event. Body is kept raw so handlers can decode
// only what they need.
type Event struct {
	ProtocolMessage
	Event string          `json:"event"`
	Body  json.RawMessage `json:"body,omitempty"`
}

// ResponseError is returned when the adapter answers a request with
// success=false.
type ResponseError struct {
	Command string
	Message string
	Detail  string
}

func (e *ResponseError) Error() string {
	if e.Detail != "" && e.Detail != e.Message {
		return fmt.Sprintf("%s failed: %s (%s)", e.Command, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s failed: %s", e.Command, e.Message)
}

// errorResponseBody is the optional structured error of a failed response.
type errorResponseBody struct {
	Error *struct {
		ID     int    `json:"id"`
		Format string `json:"format"`
	} `json:"error,omitempty"`
}

// Capabilities is the subset of adapter capabilities the host consults.
type Capabilities struct {
	SupportsConfigurationDoneRequest bool                         `json:"supportsConfigurationDoneRequest,omitempty"`
	SupportsTerminateRequest         bool                         `json:"supportsTerminateRequest,omitempty"`
	SupportTerminateDebuggee         bool                         `json:"supportTerminateDebuggee,omitempty"`
	SupportsEvaluateForHovers        bool                         `json:"supportsEvaluateForHovers,omitempty"`
	ExceptionBreakpointFilters       []ExceptionBreakpointsFilter `json:"exceptionBreakpointFilters,omitempty"`
}

// ExceptionBreakpointsFilter describes one exception filter an adapter offers.
type ExceptionBreakpointsFilter struct {
	Filter  string `json:"filter"`
	Label   string `json:"label"`
	Default bool   `json:"default,omitempty"`
}

// InitializeRequestArguments are the arguments for the initialize request.
type InitializeRequestArguments struct {
	ClientID        string `json:"clientID,omitempty"`
	ClientName      string `json:"clientName,omitempty"`
	AdapterID       string `json:"adapterID"`
	Locale          string `json:"locale,omitempty"`
	LinesStartAt1   bool   `json:"linesStartAt1"`
	ColumnsStartAt1 bool   `json:"columnsStartAt1"`
	PathFormat      string `json:"pathFormat,omitempty"`
}

// DisconnectArguments are the arguments for disconnect.
type DisconnectArguments struct {
	Restart           bool `json:"restart,omitempty"`
	TerminateDebuggee bool `json:"terminateDebuggee"`
	SuspendDebuggee   bool `json:"suspendDebuggee,omitempty"`
}

// SetExceptionBreakpointsArguments are the arguments for setExceptionBreakpoints.
type SetExceptionBreakpointsArguments struct {
	Filters []string `json:"filters"`
}

// EvaluateArguments are the arguments for evaluate.
type EvaluateArguments struct {
	Expression string `json:"expression"`
	FrameID    int    `json:"frameId,omitempty"`
	Context    string `json:"context,omitempty"` // "watch", "repl", "hover", "clipboard"
}

// EvaluateResponseBody is the response body for evaluate.
type EvaluateResponseBody struct {
	Result             string `json:"result"`
	Type               string `json:"type,omitempty"`
	VariablesReference int    `json:"variablesReference"`
}

// StoppedEventBody is the body of the stopped event.
type StoppedEventBody struct {
	Reason            string `json:"reason"`
	Description       string `json:"description,omitempty"`
	ThreadID          int    `json:"threadId,omitempty"`
	Text              string `json:"text,omitempty"`
	AllThreadsStopped bool   `json:"allThreadsStopped,omitempty"`
}

// OutputEventBody is the body of the output event.
type OutputEventBody struct {
	Category string `json:"category,omitempty"` // "console", "important", "stdout", "stderr", "telemetry"
	Output   string `json:"output"`
}

// ExitedEventBody is the body of the exited event.
type ExitedEventBody struct {
	ExitCode int `json:"exitCode"`
}
