package adapter

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/sameehj/shellmcp/pkg/mcp"
)

// MCPAdapter exposes a remote server as a local stdio MCP server, for
// clients that can only launch a subprocess.
type MCPAdapter struct {
	client *Client
	server *mcp.Server
	in     io.Reader
	out    io.Writer
}

func NewMCPAdapter(client *Client) *MCPAdapter {
	return &MCPAdapter{
		client: client,
		server: mcp.NewServer(client),
		in:     os.Stdin,
		out:    os.Stdout,
	}
}

func (a *MCPAdapter) SetLogger(logger *slog.Logger) {
	a.server.SetLogger(logger)
}

func (a *MCPAdapter) Start(ctx context.Context) error {
	defer a.client.Close()
	return a.server.Serve(ctx, a.in, a.out)
}
