package gateway

import (
	"net"
	"time"
)

// Session tracks a single MCP client connection.
type Session struct {
	ID         string
	RemoteAddr string
	StartedAt  time.Time

	conn net.Conn
}
