// Package tools is the function-calling boundary of a live session.
//
// The session hands every function call from the model to a Dispatcher and
// sends back whatever text the dispatcher returns. Tool failures never end
// the session: they are reported to the model as output text starting with
// an error description.
package tools

import (
	"context"
	"errors"

	"google.golang.org/genai"
)

// DefaultErrorPrefix starts the output text of a failed tool call.
const DefaultErrorPrefix = "Error: "

var (
	// ErrUnknownTool is reported when the model calls a tool that is not registered.
	ErrUnknownTool = errors.New("tools: unknown tool")

	// ErrDuplicateTool is returned when registering a name twice.
	ErrDuplicateTool = errors.New("tools: duplicate tool")

	// ErrInvalidTool is returned when registering a tool without a name or handler.
	ErrInvalidTool = errors.New("tools: invalid tool")
)

// Tool represents a function that the model can invoke during conversation.
type Tool struct {
	// Name is the unique identifier for the tool (e.g., "display_text").
	Name string `json:"name"`

	// Description explains what the tool does, helping the model decide when to use it.
	Description string `json:"description"`

	// Parameters defines the schema for the tool's arguments.
	// Example:
	//   &genai.Schema{
	//       Type: genai.TypeObject,
	//       Properties: map[string]*genai.Schema{
	//           "query": {Type: genai.TypeString},
	//       },
	//       Required: []string{"query"},
	//   }
	Parameters *genai.Schema `json:"parameters,omitempty"`

	// Handler is called when the model invokes this tool.
	// It receives the parsed arguments and returns a result string or error.
	Handler func(ctx context.Context, args map[string]any) (string, error) `json:"-"`

	// ErrorPrefix replaces DefaultErrorPrefix for this tool's failures,
	// e.g. "Error performing search: ".
	ErrorPrefix string `json:"-"`
}

// Declaration returns the function declaration announced in session setup.
func (t Tool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  t.Parameters,
	}
}

// Call represents an invocation of a tool by the model.
type Call struct {
	// ID is the unique identifier for this tool call.
	// Used to match results back to the correct call.
	ID string

	// Name is the tool being invoked.
	Name string

	// Args contains the parsed arguments from the model.
	Args map[string]any
}

// Result represents the result of a tool invocation.
type Result struct {
	// CallID matches the Call.ID this result corresponds to.
	CallID string

	// Name is the tool that ran.
	Name string

	// Output is the text sent back to the model. On failure it already
	// carries the error prefix.
	Output string

	// Err is set if the tool execution failed.
	Err error
}

// Dispatcher runs tool calls on behalf of a session.
type Dispatcher interface {
	// Declarations lists the tools to announce in session setup.
	Declarations() []*genai.FunctionDeclaration

	// Dispatch runs one call. It never fails: errors are folded into
	// Result.Output.
	Dispatch(ctx context.Context, call Call) Result
}
