package app

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/sameehj/shellmcp/pkg/auth"
	"github.com/sameehj/shellmcp/pkg/config"
	"github.com/sameehj/shellmcp/pkg/exec"
	"github.com/sameehj/shellmcp/pkg/gateway"
	"github.com/sameehj/shellmcp/pkg/mcp"
	"github.com/sameehj/shellmcp/pkg/safety"
	"github.com/sameehj/shellmcp/pkg/version"
)

// App is the fully wired server: one policy, one executor and one dispatcher
// shared by every transport.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Policy     safety.Policy
	Validator  *safety.Validator
	Executor   *exec.SafeExecutor
	Dispatcher *mcp.Dispatcher
	Server     *mcp.Server
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}

	validator := safety.NewValidator(policy, nil)
	executor := exec.NewSafeExecutor(policy)
	executor.SetLogger(logger)

	recorder := safety.MultiRecorder{safety.LogRecorder{Logger: logger}}
	if path := cfg.AuditPath(); path != "" {
		file, err := safety.NewFileRecorder(path)
		if err != nil {
			return nil, err
		}
		recorder = append(recorder, file)
	}

	dispatcher := mcp.NewDispatcher(validator, executor)
	dispatcher.SetAuditRecorder(recorder)

	server := mcp.NewServer(dispatcher)
	server.SetLogger(logger)

	return &App{
		Config:     cfg,
		Logger:     logger,
		Policy:     policy,
		Validator:  validator,
		Executor:   executor,
		Dispatcher: dispatcher,
		Server:     server,
	}, nil
}

func (a *App) ServeStdio(ctx context.Context) error {
	return a.ServeStream(ctx, os.Stdin, os.Stdout)
}

// ServeStream serves one MCP session over r and w. It returns nil at EOF or
// as soon as ctx is done, even if a read is still blocked.
func (a *App) ServeStream(ctx context.Context, r io.Reader, w io.Writer) error {
	a.Logger.Info("starting command execution server",
		"version", version.Version,
		"timeout", a.Policy.MaxExecutionTime().String(),
		"max_output_bytes", a.Policy.MaxOutputBytes(),
		"cwd", a.Policy.DefaultWorkingDirectory(),
	)
	return runUntilDone(ctx, func() error {
		a.Logger.Info("server connected", "transport", "stdio")
		return a.Server.Serve(ctx, r, w)
	})
}

// ServeGateway serves MCP sessions over TCP. Empty addr and zero maxSessions
// fall back to the config.
func (a *App) ServeGateway(ctx context.Context, addr string, maxSessions int) error {
	if addr == "" {
		addr = a.Config.Gateway.Address
	}
	if maxSessions == 0 {
		maxSessions = a.Config.Gateway.MaxSessions
	}

	gw := gateway.NewServer(addr, a.Server, gateway.AllowlistAuthorizer{Allowed: a.Config.Gateway.AllowedAddrs})
	gw.SetLogger(a.Logger)
	if maxSessions > 0 {
		gw.SetMaxSessions(maxSessions)
	}

	a.Logger.Info("starting command execution server", "version", version.Version, "transport", "tcp", "addr", addr)
	return gw.Start(ctx)
}

// ServeHTTP serves the HTTP, SSE and WebSocket endpoints. An empty addr
// falls back to the config.
func (a *App) ServeHTTP(ctx context.Context, addr string) error {
	if addr == "" {
		addr = a.Config.HTTP.Address
	}
	transport, err := a.HTTPTransport()
	if err != nil {
		return err
	}

	a.Logger.Info("starting command execution server", "version", version.Version, "transport", "http", "addr", addr)
	return transport.ListenAndServe(ctx, addr)
}

// HTTPTransport builds the HTTP transport, guarded by JWT auth when the
// config carries a secret.
func (a *App) HTTPTransport() (*mcp.HTTPTransport, error) {
	transport := mcp.NewHTTPTransport(a.Dispatcher)
	transport.SetLogger(a.Logger)
	transport.AllowOrigins(a.Config.HTTP.AllowedOrigins...)
	if secret := a.Config.HTTP.JWTSecret; secret != "" {
		verifier, err := auth.NewVerifier(secret)
		if err != nil {
			return nil, err
		}
		transport.Use(verifier.Middleware)
		a.Logger.Info("http auth enabled", "scheme", "bearer")
	}
	return transport, nil
}

func runUntilDone(ctx context.Context, fn func() error) error {
	errCh := make(chan error, 1)
	go func() { errCh <- fn() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}
