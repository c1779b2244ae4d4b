package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/sameehj/shellmcp/pkg/exec"
	"github.com/sameehj/shellmcp/pkg/mcp"
	"github.com/sameehj/shellmcp/pkg/safety"
)

func newRemote(t *testing.T) string {
	t.Helper()
	policy, err := safety.NewPolicy(safety.PolicyOptions{DefaultWorkingDirectory: t.TempDir(), MaxExecutionTime: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	dispatcher := mcp.NewDispatcher(safety.NewValidator(policy, nil), exec.NewSafeExecutor(policy))
	srv := httptest.NewServer(mcp.NewHTTPTransport(dispatcher).Handler())
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestClientCall(t *testing.T) {
	client := NewClient(newRemote(t))
	defer client.Close()

	var list mcp.ToolsListResult
	if err := client.Call(context.Background(), "tools/list", nil, &list); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(list.Tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(list.Tools))
	}

	err := client.Call(context.Background(), "tools/call", map[string]any{"name": "nope"}, nil)
	var rpcErr *mcp.RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != mcp.CodeMethodNotFound {
		t.Fatalf("expected tool not found, got %v", err)
	}
}

func TestClientExecuteCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses POSIX echo")
	}
	client := NewClient(newRemote(t))
	defer client.Close()

	result, err := client.ExecuteCommand(context.Background(), "echo hi", "")
	if err != nil {
		t.Fatalf("ExecuteCommand: %v", err)
	}
	if lines := result.Lines(); len(lines) != 2 || lines[0] != "$ echo hi" || lines[1] != "hi" {
		t.Fatalf("unexpected content %q", lines)
	}

	_, err = client.ExecuteCommand(context.Background(), "sudo reboot", "")
	var rpcErr *mcp.RPCError
	if !errors.As(err, &rpcErr) || !strings.Contains(rpcErr.Message, "security concerns") {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestClientUnreachable(t *testing.T) {
	client := NewClient("ws://127.0.0.1:1/ws")
	resp, ok := client.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","id":3,"method":"tools/list"}`))
	if !ok || resp.Error == nil || resp.Error.Code != mcp.CodeInternalError || string(resp.ID) != "3" {
		t.Fatalf("expected internal error, got %+v", resp)
	}
	if _, ok := client.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)); ok {
		t.Fatalf("notifications must not produce a response")
	}
}

func TestMCPAdapterBridgesStdio(t *testing.T) {
	a := NewMCPAdapter(NewClient(newRemote(t)))
	a.in = strings.NewReader(strings.Join([]string{
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":"x","method":"tools/call","params":{"name":"simple-hello","arguments":{"name":"bridge"}}}`,
	}, "\n") + "\n")
	var out bytes.Buffer
	a.out = &out

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var resp struct {
		ID     json.RawMessage `json:"id"`
		Result mcp.ToolResult  `json:"result"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	if string(resp.ID) != `"x"` {
		t.Fatalf("unexpected id %s", resp.ID)
	}
	if lines := resp.Result.Lines(); len(lines) != 1 || lines[0] != "Hello, bridge!" {
		t.Fatalf("unexpected content %q", lines)
	}
}

func TestCLIAdapter(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses POSIX echo")
	}
	a := NewCLIAdapter(NewClient(newRemote(t)), "")
	a.in = strings.NewReader("echo remote\n\nrm -rf /tmp/x\nexit\necho never\n")
	var out bytes.Buffer
	a.out = &out

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "> remote\n") {
		t.Fatalf("missing command output:\n%s", got)
	}
	if !strings.Contains(got, "error: ") || !strings.Contains(got, "security concerns") {
		t.Fatalf("missing rejection:\n%s", got)
	}
	if strings.Contains(got, "never") {
		t.Fatalf("commands after exit were run:\n%s", got)
	}
}
