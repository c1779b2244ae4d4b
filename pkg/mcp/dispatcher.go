package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sameehj/shellmcp/pkg/exec"
	"github.com/sameehj/shellmcp/pkg/safety"
	"github.com/sameehj/shellmcp/pkg/version"
)

// CommandRunner executes a validated command. *exec.SafeExecutor implements it.
type CommandRunner interface {
	Run(ctx context.Context, command, dir string) *exec.Outcome
}

// Dispatcher maps MCP methods to behavior. It holds no mutable state between
// calls, so one Dispatcher may serve many connections concurrently.
type Dispatcher struct {
	validator *safety.Validator
	runner    CommandRunner
	audit     safety.AuditRecorder
	logger    *slog.Logger

	initResult InitializeResult
	toolsList  ToolsListResult
}

func NewDispatcher(validator *safety.Validator, runner CommandRunner) *Dispatcher {
	return &Dispatcher{
		validator: validator,
		runner:    runner,
		audit:     safety.NopRecorder{},
		initResult: InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      ServerInfo{Name: version.ServerName, Version: version.Version},
		},
		toolsList: ToolsListResult{Tools: ToolDescriptors()},
	}
}

func (d *Dispatcher) SetLogger(logger *slog.Logger) {
	d.logger = logger
}

func (d *Dispatcher) SetAuditRecorder(recorder safety.AuditRecorder) {
	if recorder == nil {
		recorder = safety.NopRecorder{}
	}
	d.audit = recorder
}

// HandleMessage decodes one JSON-RPC payload and handles it. The boolean is
// false when no response is owed, i.e. for notifications.
func (d *Dispatcher) HandleMessage(ctx context.Context, payload []byte) (*Response, bool) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		d.logWarn("mcp_parse_error", "error", err)
		return newError(nil, &RPCError{Code: CodeParseError, Message: "Parse error", Data: ErrorDetails{Details: err.Error()}}), true
	}
	if req.Method == "" {
		if req.IsNotification() {
			return nil, false
		}
		return newError(req.ID, &RPCError{Code: CodeInvalidRequest, Message: "Invalid request", Data: ErrorDetails{Details: "missing method"}}), true
	}

	result, rpcErr := d.Handle(ctx, &req)
	if req.IsNotification() {
		return nil, false
	}
	if rpcErr != nil {
		return newError(req.ID, rpcErr), true
	}
	return newResult(req.ID, result), true
}

// Handle runs one request inside its own failure boundary: a panic becomes
// an internal error response and never escapes.
func (d *Dispatcher) Handle(ctx context.Context, req *Request) (result any, rpcErr *RPCError) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.logError("mcp_handler_panic", "method", req.Method, "panic", fmt.Sprint(r))
			result, rpcErr = nil, internalError(fmt.Errorf("%v", r))
		}
		d.logDebug("mcp_request", "method", req.Method, "id", string(req.ID), "duration_ms", time.Since(start).Milliseconds(), "error", rpcErr != nil)
	}()

	switch req.Method {
	case "initialize":
		return d.initResult, nil
	case "tools/list":
		return d.toolsList, nil
	case "tools/call":
		res, callErr := d.handleToolsCall(ctx, req.Params)
		if callErr != nil {
			return nil, callErr
		}
		return res, nil
	case "resources/list":
		return ResourcesListResult{Resources: []any{}}, nil
	case "prompts/list":
		return PromptsListResult{Prompts: []any{}}, nil
	default:
		// Unknown methods, ping and notifications/* all get an empty object.
		return struct{}{}, nil
	}
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, params json.RawMessage) (*ToolResult, *RPCError) {
	call, rpcErr := decodeCallParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}

	tool, ok := lookupTool(call.Name)
	if !ok {
		return nil, &RPCError{Code: CodeMethodNotFound, Message: "Tool not found: " + call.Name}
	}

	switch tool.Name {
	case ToolSimpleHello:
		var args HelloArgs
		if rpcErr := decodeArguments(tool.InputSchema, call.Arguments, &args); rpcErr != nil {
			return nil, rpcErr
		}
		return d.hello(args), nil
	case ToolExecuteCommand:
		var args ExecuteCommandArgs
		if rpcErr := decodeArguments(tool.InputSchema, call.Arguments, &args); rpcErr != nil {
			return nil, rpcErr
		}
		return d.executeCommand(ctx, args)
	default:
		return nil, internalError(fmt.Errorf("tool %s has no handler", tool.Name))
	}
}

func (d *Dispatcher) hello(args HelloArgs) *ToolResult {
	name := args.Name
	if name == "" {
		name = "World"
	}
	return &ToolResult{Content: []ToolContent{textContent(fmt.Sprintf("Hello, %s!", name))}}
}

func (d *Dispatcher) executeCommand(ctx context.Context, args ExecuteCommandArgs) (*ToolResult, *RPCError) {
	event := safety.NewAuditEvent(args.Command, args.WorkingDirectory)

	dir, err := d.validator.ResolveWorkingDirectory(args.WorkingDirectory)
	if err != nil {
		d.logWarn("working_directory_invalid", "id", event.ID, "cwd", args.WorkingDirectory, "error", err)
		d.record(ctx, event, exec.Rejected(args.Command, err))
		return nil, &RPCError{Code: CodeInternalError, Message: err.Error()}
	}
	event.WorkingDirectory = dir

	if err := d.validator.CheckCommand(args.Command); err != nil {
		attrs := []any{"id", event.ID, "command", args.Command}
		var rejected *safety.RejectedCommandError
		if errors.As(err, &rejected) && rejected.Match != "" {
			attrs = append(attrs, "match", rejected.Match)
		}
		d.logWarn("command_rejected", attrs...)
		d.record(ctx, event, exec.Rejected(args.Command, err))
		return nil, &RPCError{Code: CodeInternalError, Message: err.Error()}
	}

	d.logInfo("exec_command", "id", event.ID, "command", args.Command, "cwd", dir)
	outcome := d.runner.Run(ctx, args.Command, dir)
	if outcome == nil {
		return nil, internalError(errors.New("executor returned no outcome"))
	}

	d.record(ctx, event, outcome)
	return outcomeResult(outcome), nil
}

// outcomeResult renders an Outcome: "$ <command>" (with " (failed)" on
// failure), then stdout, then "Error: "-prefixed stderr. A failure always
// carries at least one explanatory line.
func outcomeResult(o *exec.Outcome) *ToolResult {
	header := "$ " + o.Command
	if !o.Succeeded {
		header += " (failed)"
	}
	content := []ToolContent{textContent(header)}

	if o.Failure == exec.FailureTimeout {
		content = append(content, textContent("Error: "+failureMessage(o)))
		return &ToolResult{Content: content, IsError: true}
	}

	if o.Stdout != "" {
		content = append(content, textContent(o.Stdout))
	}
	if o.Stderr != "" {
		content = append(content, textContent("Error: "+o.Stderr))
	}
	if o.Succeeded {
		return &ToolResult{Content: content}
	}

	if len(content) == 1 || errors.Is(o.Err, exec.ErrOutputLimit) {
		content = append(content, textContent("Error: "+failureMessage(o)))
	}
	return &ToolResult{Content: content, IsError: true}
}

func failureMessage(o *exec.Outcome) string {
	if o.Err != nil {
		return o.Err.Error()
	}
	return "command failed: " + o.Failure.String()
}

func auditResult(o *exec.Outcome) string {
	if o.Succeeded {
		return "succeeded"
	}
	return o.Failure.String()
}

func (d *Dispatcher) record(ctx context.Context, event safety.AuditEvent, o *exec.Outcome) {
	event.Result = auditResult(o)
	if o.Err != nil {
		event.Reason = o.Err.Error()
	}
	event.Duration = o.Duration
	if err := d.audit.Record(ctx, event); err != nil {
		d.logWarn("audit_record_failed", "id", event.ID, "error", err)
	}
}

func (d *Dispatcher) logDebug(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Debug(msg, args...)
	}
}

func (d *Dispatcher) logInfo(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Info(msg, args...)
	}
}

func (d *Dispatcher) logWarn(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Warn(msg, args...)
	}
}

func (d *Dispatcher) logError(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Error(msg, args...)
	}
}
