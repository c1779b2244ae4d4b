package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sameehj/shellmcp/internal/app"
	"github.com/sameehj/shellmcp/pkg/adapter"
	"github.com/sameehj/shellmcp/pkg/auth"
	"github.com/sameehj/shellmcp/pkg/config"
	"github.com/sameehj/shellmcp/pkg/env"
	"github.com/sameehj/shellmcp/pkg/mcp"
	"github.com/sameehj/shellmcp/pkg/runtime/logging"
	"github.com/sameehj/shellmcp/pkg/system"
	"github.com/sameehj/shellmcp/pkg/version"
)

var (
	cfgFile  string
	logLevel string
	workDir  string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	serve := serveCmd()
	root := &cobra.Command{
		Use:          "shellmcp",
		Short:        "MCP server that executes shell commands under a safety policy",
		SilenceUsage: true,
		RunE:         serve.RunE,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.shellmcp/config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&workDir, "workdir", "", "default working directory for commands")

	root.AddCommand(serve)
	root.AddCommand(gatewayCmd())
	root.AddCommand(httpCmd())
	root.AddCommand(toolsCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(bridgeCmd())
	root.AddCommand(remoteCmd())
	root.AddCommand(tokenCmd())
	root.AddCommand(versionCmd())
	return root
}

func loadConfig() (*config.Config, error) {
	if wd, err := os.Getwd(); err == nil {
		if _, err := env.LoadFromDir(wd); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}
	cfg, err := config.LoadConfig(config.ResolvePath(cfgFile))
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if workDir != "" {
		cfg.Exec.WorkingDirectory = workDir
	}
	return cfg, nil
}

func loadApp() (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(cfg, logging.New(cfg.LogLevel, cfg.LogFormat))
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve MCP over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			ctx, cancel := app.SignalContext(context.Background(), a.Logger)
			defer cancel()
			return a.ServeStdio(ctx)
		},
	}
}

func gatewayCmd() *cobra.Command {
	var addr string
	var maxSessions int

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Serve MCP sessions over TCP",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			ctx, cancel := app.SignalContext(context.Background(), a.Logger)
			defer cancel()
			return a.ServeGateway(ctx, addr, maxSessions)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "gateway listen address")
	cmd.Flags().IntVar(&maxSessions, "max-sessions", 0, "maximum concurrent sessions (0 = config value)")
	return cmd
}

func httpCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "http",
		Short: "Serve MCP over HTTP, SSE and WebSocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			ctx, cancel := app.SignalContext(context.Background(), a.Logger)
			defer cancel()
			return a.ServeHTTP(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "http listen address")
	return cmd
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Print the advertised tool descriptors",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := json.MarshalIndent(mcp.ToolsListResult{Tools: mcp.ToolDescriptors()}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func checkCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "check COMMAND",
		Short: "Validate a command against the policy without running it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := app.New(cfg, logging.Discard())
			if err != nil {
				return err
			}

			command := strings.Join(args, " ")
			resolved, err := a.Validator.ResolveWorkingDirectory(dir)
			if err != nil {
				return err
			}
			if err := a.Validator.CheckCommand(command); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "allowed: %s (cwd %s)\n", command, resolved)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "cwd", "", "working directory to validate")
	return cmd
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Show host profile and effective policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := app.New(cfg, logging.Discard())
			if err != nil {
				return err
			}
			profile, _ := system.Detect()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "OS: %s\nDistro: %s %s\nKernel: %s\nArch: %s\nShell: %s\n",
				profile.OS, profile.Distro, profile.Version, profile.Kernel, profile.Arch, profile.Shell)
			fmt.Fprintf(out, "Timeout: %s\nMax output: %s\nWorking directory: %s\nDenylist entries: %d\n",
				a.Policy.MaxExecutionTime(), humanize.IBytes(uint64(a.Policy.MaxOutputBytes())),
				a.Policy.DefaultWorkingDirectory(), len(a.Policy.DangerousSubstrings()))
			fmt.Fprintf(out, "Gateway: %s\nHTTP: %s\n", cfg.Gateway.Address, cfg.HTTP.Address)
			return nil
		},
	}
}

func bridgeCmd() *cobra.Command {
	var url, token string

	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Expose a remote server's WebSocket endpoint as a local stdio server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.LogLevel, cfg.LogFormat)
			client := adapter.NewClient(remoteURL(url, cfg))
			client.SetLogger(logger)
			client.SetToken(token)

			bridge := adapter.NewMCPAdapter(client)
			bridge.SetLogger(logger)
			ctx, cancel := app.SignalContext(context.Background(), logger)
			defer cancel()
			return bridge.Start(ctx)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "remote WebSocket URL (default: ws://<http address>/ws)")
	cmd.Flags().StringVar(&token, "token", os.Getenv("SHELLMCP_TOKEN"), "bearer token for the remote server")
	return cmd
}

func remoteCmd() *cobra.Command {
	var url, dir, token string

	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Interactive prompt that runs commands on a remote server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.LogLevel, cfg.LogFormat)
			ctx, cancel := app.SignalContext(context.Background(), logger)
			defer cancel()
			client := adapter.NewClient(remoteURL(url, cfg))
			client.SetLogger(logger)
			client.SetToken(token)
			return adapter.NewCLIAdapter(client, dir).Start(ctx)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "remote WebSocket URL (default: ws://<http address>/ws)")
	cmd.Flags().StringVar(&dir, "cwd", "", "remote working directory")
	cmd.Flags().StringVar(&token, "token", os.Getenv("SHELLMCP_TOKEN"), "bearer token for the remote server")
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the HTTP transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			verifier, err := auth.NewVerifier(cfg.HTTP.JWTSecret)
			if err != nil {
				return fmt.Errorf("%w (set http.jwtSecret or SHELLMCP_JWT_SECRET)", err)
			}
			token, err := verifier.Issue(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "cli", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 = no expiry)")
	return cmd
}

func remoteURL(url string, cfg *config.Config) string {
	if url != "" {
		return url
	}
	return "ws://" + cfg.HTTP.Address + "/ws"
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
