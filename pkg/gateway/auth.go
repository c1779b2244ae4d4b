package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrRemoteNotAllowed is wrapped by AllowlistAuthorizer refusals.
var ErrRemoteNotAllowed = errors.New("remote address not allowed")

// Authorizer decides whether a TCP client may open a gateway session. A
// non-nil error closes the connection before any message is read.
type Authorizer interface {
	Allow(ctx context.Context, remoteAddr string) error
}

// NoopAuthorizer admits every connection.
type NoopAuthorizer struct{}

func (NoopAuthorizer) Allow(context.Context, string) error { return nil }

// AllowlistAuthorizer admits clients whose address matches an entry. An
// entry is an IP or hostname ("10.0.0.7"), an exact "host:port", or a CIDR
// block ("192.168.0.0/16"). An empty list admits everyone.
type AllowlistAuthorizer struct {
	Allowed []string
}

func (a AllowlistAuthorizer) Allow(_ context.Context, remoteAddr string) error {
	if len(a.Allowed) == 0 {
		return nil
	}
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	ip := net.ParseIP(host)

	for _, entry := range a.Allowed {
		if entry == remoteAddr || entry == host {
			return nil
		}
		if _, block, err := net.ParseCIDR(entry); err == nil && ip != nil && block.Contains(ip) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrRemoteNotAllowed, remoteAddr)
}
