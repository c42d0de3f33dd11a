// Package tools implements the tool execution layer's registry and runtime
// (spec.md §4.4, C5): a name-keyed map of tool definitions executed with a
// shared per-call context, converting panics and returned errors alike into
// structured failure results so nothing escapes to the model-turn loop.
package tools

import (
	"context"
	"regexp"
	"time"

	"github.com/crabmiau/loaf/internal/clock"
	"github.com/crabmiau/loaf/internal/loaferr"
	"github.com/mark3labs/mcp-go/mcp"
)

// namePattern is the wire-level constraint on tool names (spec.md §3).
var namePattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)

// ValidName reports whether name is a legal tool name.
func ValidName(name string) bool {
	return name != "" && namePattern.MatchString(name)
}

// RunFunc is a tool's implementation. It receives the shared execution
// context and the call's raw JSON input, and returns a JSON-shaped output
// or an error. A RunFunc must never rely on recovering its own panics;
// the Runtime does that.
type RunFunc func(ctx Context, input map[string]any) (any, error)

// Definition is a registered tool: name, description, input schema (reusing
// mcp-go's object-schema shape, spec.md §6 "Tool invocation schema"), and
// its implementation.
type Definition struct {
	Name        string
	Description string
	InputSchema mcp.ToolInputSchema
	Run         RunFunc
}

// MCPTool projects a Definition to the mcp-go wire type for serving it over
// MCP/JSON-RPC transports external to this core (spec.md §1 scope note).
func (d Definition) MCPTool() mcp.Tool {
	return mcp.Tool{
		Name:        d.Name,
		Description: d.Description,
		InputSchema: d.InputSchema,
	}
}

// Context is the shared execution context passed to every tool invocation:
// a clock seam and an optional cancellation signal (spec.md §4.4).
type Context struct {
	ctx    context.Context
	Now    func() time.Time
	Cancel <-chan struct{}
}

// Deadline, Done, Err, and Value satisfy context.Context so tool
// implementations can thread Context straight through to os/exec, net/http,
// etc. without a separate context parameter.
func (c Context) Deadline() (time.Time, bool)       { return c.ctx.Deadline() }
func (c Context) Done() <-chan struct{}             { return c.ctx.Done() }
func (c Context) Err() error                        { return c.ctx.Err() }
func (c Context) Value(key interface{}) interface{} { return c.ctx.Value(key) }

func newContext(parent context.Context, clk clock.Clock, cancel <-chan struct{}) Context {
	if parent == nil {
		parent = context.Background()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return Context{ctx: parent, Now: clk.Now, Cancel: cancel}
}

// Call is a single tool invocation request (spec.md §3 "Tool definition /
// call / result").
type Call struct {
	ID    string
	Name  string
	Input map[string]any
}

// Result is the outcome of a tool invocation: it is always well-formed,
// never an escaped exception (spec.md §3 invariant, §4.4, §7).
type Result struct {
	OK     bool
	Output any
	Error  string
}

func failure(err error) Result {
	status := "error"
	if kind, ok := loaferr.KindOf(err); ok {
		status = string(kind)
	}
	return Result{OK: false, Output: map[string]any{"status": status, "message": err.Error()}, Error: err.Error()}
}

func success(output any) Result {
	return Result{OK: true, Output: output}
}
