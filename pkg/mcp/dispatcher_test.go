package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sameehj/shellmcp/pkg/exec"
	"github.com/sameehj/shellmcp/pkg/safety"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   int
	lastDir string
	outcome exec.Outcome
	panic   bool
}

func (f *fakeRunner) Run(ctx context.Context, command, dir string) *exec.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastDir = dir
	if f.panic {
		panic("runner exploded")
	}
	out := f.outcome
	out.Command = command
	return &out
}

func (f *fakeRunner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memoryRecorder struct {
	mu     sync.Mutex
	events []safety.AuditEvent
}

func (m *memoryRecorder) Record(ctx context.Context, event safety.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func newTestDispatcher(t *testing.T, runner CommandRunner, opts safety.PolicyOptions) *Dispatcher {
	t.Helper()
	if opts.DefaultWorkingDirectory == "" {
		opts.DefaultWorkingDirectory = t.TempDir()
	}
	policy, err := safety.NewPolicy(opts)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	return NewDispatcher(safety.NewValidator(policy, nil), runner)
}

func callTool(t *testing.T, d *Dispatcher, name string, args any) (*ToolResult, *RPCError) {
	t.Helper()
	params := map[string]any{"name": name}
	if args != nil {
		params["arguments"] = args
	}
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	result, rpcErr := d.Handle(context.Background(), &Request{JSONRPC: "2.0", ID: json.RawMessage("1"), Method: "tools/call", Params: raw})
	if rpcErr != nil {
		return nil, rpcErr
	}
	res, ok := result.(*ToolResult)
	if !ok {
		t.Fatalf("expected *ToolResult, got %T", result)
	}
	return res, nil
}

func assertLines(t *testing.T, res *ToolResult, want ...string) {
	t.Helper()
	got := res.Lines()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected content\n got: %q\nwant: %q", got, want)
	}
}

func TestInitializeIsStatic(t *testing.T) {
	d := newTestDispatcher(t, &fakeRunner{}, safety.PolicyOptions{})
	first, rpcErr := d.Handle(context.Background(), &Request{Method: "initialize"})
	if rpcErr != nil {
		t.Fatalf("initialize: %v", rpcErr)
	}
	second, _ := d.Handle(context.Background(), &Request{Method: "initialize"})
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Fatalf("initialize payload changed: %s vs %s", a, b)
	}

	var payload map[string]any
	if err := json.Unmarshal(a, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload["protocolVersion"] != ProtocolVersion {
		t.Fatalf("unexpected protocol version %v", payload["protocolVersion"])
	}
	info := payload["serverInfo"].(map[string]any)
	if info["name"] != "command-execution-tool" {
		t.Fatalf("unexpected server name %v", info["name"])
	}
	caps := payload["capabilities"].(map[string]any)
	if _, ok := caps["tools"]; !ok {
		t.Fatalf("expected tools capability, got %v", caps)
	}
}

func TestToolsListIsStatic(t *testing.T) {
	d := newTestDispatcher(t, &fakeRunner{}, safety.PolicyOptions{})
	first, _ := d.Handle(context.Background(), &Request{Method: "tools/list"})
	second, _ := d.Handle(context.Background(), &Request{Method: "tools/list"})
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Fatalf("tools/list payload changed")
	}

	var payload struct {
		Tools []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			InputSchema struct {
				Type     string          `json:"type"`
				Required json.RawMessage `json:"required"`
			} `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(a, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(payload.Tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(payload.Tools))
	}
	required := map[string]string{}
	for _, tool := range payload.Tools {
		if tool.Description == "" || tool.InputSchema.Type != "object" {
			t.Fatalf("incomplete descriptor %+v", tool)
		}
		required[tool.Name] = string(tool.InputSchema.Required)
	}
	if required[ToolExecuteCommand] != `["command"]` {
		t.Fatalf("unexpected execute-command required %s", required[ToolExecuteCommand])
	}
	if required[ToolSimpleHello] != `[]` {
		t.Fatalf("unexpected simple-hello required %s", required[ToolSimpleHello])
	}
}

func TestToolDescriptorsMatchArgumentValidation(t *testing.T) {
	runner := &fakeRunner{outcome: exec.Outcome{Succeeded: true}}
	d := newTestDispatcher(t, runner, safety.PolicyOptions{})
	for _, tool := range ToolDescriptors() {
		_, rpcErr := callTool(t, d, tool.Name, map[string]any{})
		wantErr := len(tool.InputSchema.Required) > 0
		if (rpcErr != nil) != wantErr {
			t.Fatalf("%s: required=%v but error=%v", tool.Name, tool.InputSchema.Required, rpcErr)
		}
		if wantErr && rpcErr.Code != CodeInvalidParams {
			t.Fatalf("%s: expected invalid params, got %d", tool.Name, rpcErr.Code)
		}
	}
	if runner.Calls() != 0 {
		t.Fatalf("runner should not be called for invalid params")
	}
}

func TestToolDescriptorsReturnsCopy(t *testing.T) {
	tools := ToolDescriptors()
	tools[0].Name = "changed"
	if ToolDescriptors()[0].Name == "changed" {
		t.Fatalf("descriptor slice is shared")
	}
}

func TestSimpleHello(t *testing.T) {
	d := newTestDispatcher(t, &fakeRunner{}, safety.PolicyOptions{})
	res, rpcErr := callTool(t, d, ToolSimpleHello, nil)
	if rpcErr != nil {
		t.Fatalf("hello: %v", rpcErr)
	}
	assertLines(t, res, "Hello, World!")

	res, _ = callTool(t, d, ToolSimpleHello, map[string]any{"name": "Ada"})
	assertLines(t, res, "Hello, Ada!")

	_, rpcErr = callTool(t, d, ToolSimpleHello, map[string]any{"name": 42})
	if rpcErr == nil || rpcErr.Code != CodeInvalidParams {
		t.Fatalf("expected invalid params for numeric name, got %v", rpcErr)
	}
}

func TestExecuteCommandMissingCommand(t *testing.T) {
	runner := &fakeRunner{}
	d := newTestDispatcher(t, runner, safety.PolicyOptions{})
	for _, args := range []any{nil, map[string]any{}, map[string]any{"command": ""}, map[string]any{"command": nil}} {
		_, rpcErr := callTool(t, d, ToolExecuteCommand, args)
		if rpcErr == nil || rpcErr.Code != CodeInvalidParams {
			t.Fatalf("args %v: expected invalid params, got %v", args, rpcErr)
		}
		if rpcErr.Message != "Missing required parameter: command" {
			t.Fatalf("unexpected message %q", rpcErr.Message)
		}
	}
	_, rpcErr := callTool(t, d, ToolExecuteCommand, map[string]any{"command": []string{"ls"}})
	if rpcErr == nil || rpcErr.Code != CodeInvalidParams {
		t.Fatalf("expected invalid params for non-string command, got %v", rpcErr)
	}
	if runner.Calls() != 0 {
		t.Fatalf("runner called %d times", runner.Calls())
	}
}

func TestExecuteCommandRejected(t *testing.T) {
	runner := &fakeRunner{}
	recorder := &memoryRecorder{}
	d := newTestDispatcher(t, runner, safety.PolicyOptions{})
	d.SetAuditRecorder(recorder)

	_, rpcErr := callTool(t, d, ToolExecuteCommand, map[string]any{"command": "rm -rf /tmp/x"})
	if rpcErr == nil || rpcErr.Code != CodeInternalError {
		t.Fatalf("expected internal error, got %v", rpcErr)
	}
	if !strings.Contains(rpcErr.Message, "security concerns") {
		t.Fatalf("unexpected message %q", rpcErr.Message)
	}

	for _, entry := range safety.DefaultDangerousSubstrings() {
		cmd := "echo ok && " + strings.ToUpper(entry)
		if _, rpcErr := callTool(t, d, ToolExecuteCommand, map[string]any{"command": cmd}); rpcErr == nil {
			t.Fatalf("expected %q to be rejected", cmd)
		}
	}
	if runner.Calls() != 0 {
		t.Fatalf("runner called %d times for rejected commands", runner.Calls())
	}
	if len(recorder.events) == 0 || recorder.events[0].Result != exec.FailureRejected.String() {
		t.Fatalf("expected rejected audit event, got %+v", recorder.events)
	}
	if first := recorder.events[0]; first.Command != "rm -rf /tmp/x" || !strings.Contains(first.Reason, "security concerns") {
		t.Fatalf("rejection audit lost its command or reason: %+v", first)
	}
}

func TestExecuteCommandMissingWorkingDirectory(t *testing.T) {
	runner := &fakeRunner{}
	d := newTestDispatcher(t, runner, safety.PolicyOptions{})
	_, rpcErr := callTool(t, d, ToolExecuteCommand, map[string]any{
		"command":          "echo hello",
		"workingDirectory": "/definitely/not/a/real/path",
	})
	if rpcErr == nil || rpcErr.Code != CodeInternalError {
		t.Fatalf("expected internal error, got %v", rpcErr)
	}
	if !strings.Contains(rpcErr.Message, "Working directory does not exist") {
		t.Fatalf("unexpected message %q", rpcErr.Message)
	}
	if runner.Calls() != 0 {
		t.Fatalf("runner should not be called")
	}
}

func TestExecuteCommandMissingDirectoryIsAudited(t *testing.T) {
	recorder := &memoryRecorder{}
	d := newTestDispatcher(t, &fakeRunner{}, safety.PolicyOptions{})
	d.SetAuditRecorder(recorder)
	callTool(t, d, ToolExecuteCommand, map[string]any{
		"command":          "echo hello",
		"workingDirectory": "/definitely/not/a/real/path",
	})
	if len(recorder.events) != 1 || recorder.events[0].Result != "rejected" || !strings.Contains(recorder.events[0].Reason, "Working directory does not exist") {
		t.Fatalf("expected rejected audit event for missing dir, got %+v", recorder.events)
	}
}

func TestExecuteCommandBlankCommand(t *testing.T) {
	runner := &fakeRunner{}
	d := newTestDispatcher(t, runner, safety.PolicyOptions{})
	for _, cmd := range []string{" ", "\t\n", "   \r\n "} {
		_, rpcErr := callTool(t, d, ToolExecuteCommand, map[string]any{"command": cmd})
		if rpcErr == nil || rpcErr.Code != CodeInvalidParams || rpcErr.Message != "Missing required parameter: command" {
			t.Fatalf("expected invalid params for %q, got %v", cmd, rpcErr)
		}
	}
	if runner.Calls() != 0 {
		t.Fatalf("runner called for blank commands")
	}
}

func TestExecuteCommandWorkingDirectoryCheckedFirst(t *testing.T) {
	d := newTestDispatcher(t, &fakeRunner{}, safety.PolicyOptions{})
	_, rpcErr := callTool(t, d, ToolExecuteCommand, map[string]any{
		"command":          "sudo ls",
		"workingDirectory": "/definitely/not/a/real/path",
	})
	if rpcErr == nil || !strings.Contains(rpcErr.Message, "Working directory does not exist") {
		t.Fatalf("expected working directory error first, got %v", rpcErr)
	}
}

func TestExecuteCommandUsesDefaultDirectory(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{outcome: exec.Outcome{Succeeded: true}}
	d := newTestDispatcher(t, runner, safety.PolicyOptions{DefaultWorkingDirectory: dir})
	if _, rpcErr := callTool(t, d, ToolExecuteCommand, map[string]any{"command": "pwd"}); rpcErr != nil {
		t.Fatalf("call: %v", rpcErr)
	}
	if runner.lastDir != dir {
		t.Fatalf("expected default dir %q, got %q", dir, runner.lastDir)
	}
}

func TestExecuteCommandFormatting(t *testing.T) {
	cases := []struct {
		name    string
		outcome exec.Outcome
		want    []string
		isError bool
	}{
		{
			name:    "stdout only",
			outcome: exec.Outcome{Succeeded: true, Stdout: "hello"},
			want:    []string{"$ cmd", "hello"},
		},
		{
			name:    "stdout and stderr",
			outcome: exec.Outcome{Succeeded: true, Stdout: "out", Stderr: "warn"},
			want:    []string{"$ cmd", "out", "Error: warn"},
		},
		{
			name:    "silent success",
			outcome: exec.Outcome{Succeeded: true},
			want:    []string{"$ cmd"},
		},
		{
			name:    "failure with output",
			outcome: exec.Outcome{Failure: exec.FailureProcessError, Stderr: "boom", Err: errors.New("exit status 1")},
			want:    []string{"$ cmd (failed)", "Error: boom"},
			isError: true,
		},
		{
			name:    "failure without output",
			outcome: exec.Outcome{Failure: exec.FailureProcessError, Err: errors.New("exit status 1")},
			want:    []string{"$ cmd (failed)", "Error: exit status 1"},
			isError: true,
		},
		{
			name:    "timeout",
			outcome: exec.Outcome{Failure: exec.FailureTimeout, Stdout: "partial", Err: &exec.TimeoutError{Timeout: 30 * time.Second}},
			want:    []string{"$ cmd (failed)", "Error: Command execution timed out after 30 seconds"},
			isError: true,
		},
		{
			name:    "overflow",
			outcome: exec.Outcome{Failure: exec.FailureProcessError, Stdout: "aaaa", Err: &exec.OutputLimitError{Limit: 4}},
			want:    []string{"$ cmd (failed)", "aaaa", "Error: output exceeded 4 B limit"},
			isError: true,
		},
	}
	for _, tc := range cases {
		runner := &fakeRunner{outcome: tc.outcome}
		d := newTestDispatcher(t, runner, safety.PolicyOptions{})
		res, rpcErr := callTool(t, d, ToolExecuteCommand, map[string]any{"command": "cmd"})
		if rpcErr != nil {
			t.Fatalf("%s: unexpected rpc error %v", tc.name, rpcErr)
		}
		if !reflect.DeepEqual(res.Lines(), tc.want) {
			t.Fatalf("%s: got %q want %q", tc.name, res.Lines(), tc.want)
		}
		if res.IsError != tc.isError {
			t.Fatalf("%s: expected isError=%v", tc.name, tc.isError)
		}
	}
}

func TestExecuteCommandEchoHello(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses POSIX echo")
	}
	opts := safety.PolicyOptions{DefaultWorkingDirectory: t.TempDir(), MaxExecutionTime: 5 * time.Second}
	policy, err := safety.NewPolicy(opts)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	d := NewDispatcher(safety.NewValidator(policy, nil), exec.NewSafeExecutor(policy))
	res, rpcErr := callTool(t, d, ToolExecuteCommand, map[string]any{"command": "echo hello"})
	if rpcErr != nil {
		t.Fatalf("call: %v", rpcErr)
	}
	assertLines(t, res, "$ echo hello", "hello")
}

func TestExecuteCommandTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses POSIX sleep")
	}
	policy, err := safety.NewPolicy(safety.PolicyOptions{DefaultWorkingDirectory: t.TempDir(), MaxExecutionTime: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	recorder := &memoryRecorder{}
	d := NewDispatcher(safety.NewValidator(policy, nil), exec.NewSafeExecutor(policy))
	d.SetAuditRecorder(recorder)

	res, rpcErr := callTool(t, d, ToolExecuteCommand, map[string]any{"command": "sleep 60"})
	if rpcErr != nil {
		t.Fatalf("timeout must not be a protocol error: %v", rpcErr)
	}
	lines := res.Lines()
	if len(lines) != 2 || lines[0] != "$ sleep 60 (failed)" {
		t.Fatalf("unexpected content %q", lines)
	}
	if !strings.Contains(lines[1], "timed out after 0.2 seconds") {
		t.Fatalf("unexpected timeout line %q", lines[1])
	}
	if len(recorder.events) != 1 || recorder.events[0].Result != "timeout" {
		t.Fatalf("expected timeout audit event, got %+v", recorder.events)
	}
}

func TestToolNotFound(t *testing.T) {
	d := newTestDispatcher(t, &fakeRunner{}, safety.PolicyOptions{})
	_, rpcErr := callTool(t, d, "nope", nil)
	if rpcErr == nil || rpcErr.Code != CodeMethodNotFound || rpcErr.Message != "Tool not found: nope" {
		t.Fatalf("unexpected error %v", rpcErr)
	}
}

func TestToolsCallBadParams(t *testing.T) {
	d := newTestDispatcher(t, &fakeRunner{}, safety.PolicyOptions{})
	for _, raw := range []string{"", "null", `{"name":""}`, `"oops"`, `{"name":"execute-command","arguments":"ls"}`} {
		_, rpcErr := d.Handle(context.Background(), &Request{Method: "tools/call", Params: json.RawMessage(raw)})
		if rpcErr == nil || rpcErr.Code != CodeInvalidParams {
			t.Fatalf("params %q: expected invalid params, got %v", raw, rpcErr)
		}
	}
}

func TestStaticListsAndFallback(t *testing.T) {
	d := newTestDispatcher(t, &fakeRunner{}, safety.PolicyOptions{})
	cases := map[string]string{
		"resources/list":            `{"resources":[]}`,
		"prompts/list":              `{"prompts":[]}`,
		"ping":                      `{}`,
		"notifications/initialized": `{}`,
		"something/else":            `{}`,
	}
	for method, want := range cases {
		result, rpcErr := d.Handle(context.Background(), &Request{Method: method})
		if rpcErr != nil {
			t.Fatalf("%s: unexpected error %v", method, rpcErr)
		}
		got, _ := json.Marshal(result)
		if string(got) != want {
			t.Fatalf("%s: got %s want %s", method, got, want)
		}
	}
}

func TestHandleRecoversPanics(t *testing.T) {
	d := newTestDispatcher(t, &fakeRunner{panic: true}, safety.PolicyOptions{})
	_, rpcErr := callTool(t, d, ToolExecuteCommand, map[string]any{"command": "echo hi"})
	if rpcErr == nil || rpcErr.Code != CodeInternalError || rpcErr.Message != "Internal error" {
		t.Fatalf("expected internal error, got %v", rpcErr)
	}
	details, ok := rpcErr.Data.(ErrorDetails)
	if !ok || !strings.Contains(details.Details, "runner exploded") {
		t.Fatalf("expected panic details, got %#v", rpcErr.Data)
	}

	// The dispatcher keeps serving afterwards.
	if _, rpcErr := d.Handle(context.Background(), &Request{Method: "tools/list"}); rpcErr != nil {
		t.Fatalf("tools/list after panic: %v", rpcErr)
	}
}

func TestHandleMessage(t *testing.T) {
	d := newTestDispatcher(t, &fakeRunner{}, safety.PolicyOptions{})
	ctx := context.Background()

	resp, ok := d.HandleMessage(ctx, []byte(`{"jsonrpc":"2.0","id":7,"method":"tools/list"}`))
	if !ok || resp.Error != nil || string(resp.ID) != "7" {
		t.Fatalf("unexpected response %+v", resp)
	}

	resp, ok = d.HandleMessage(ctx, []byte(`{not json`))
	if !ok || resp.Error == nil || resp.Error.Code != CodeParseError || string(resp.ID) != "null" {
		t.Fatalf("expected parse error, got %+v", resp)
	}

	resp, ok = d.HandleMessage(ctx, []byte(`{"jsonrpc":"2.0","id":"a"}`))
	if !ok || resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
		t.Fatalf("expected invalid request, got %+v", resp)
	}

	if _, ok := d.HandleMessage(ctx, []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)); ok {
		t.Fatalf("notifications must not produce a response")
	}

	resp, ok = d.HandleMessage(ctx, []byte(`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"execute-command","arguments":{}}}`))
	if !ok || resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Fatalf("expected invalid params, got %+v", resp)
	}
	encoded, _ := json.Marshal(resp)
	if !strings.Contains(string(encoded), `"code":-32602`) || strings.Contains(string(encoded), `"result"`) {
		t.Fatalf("unexpected encoding %s", encoded)
	}
}
