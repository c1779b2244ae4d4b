package version

import "fmt"

var (
	// Version is the semantic version or git describe result.
	Version = "1.0.0"
	// GitCommit is the short git commit hash for this build.
	GitCommit = "unknown"
	// BuildDate is the RFC3339 timestamp when the binary was built.
	BuildDate = "unknown"
)

// ServerName is the identity reported to MCP clients.
const ServerName = "command-execution-tool"

// String returns a human readable version summary.
func String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", ServerName, Version, GitCommit, BuildDate)
}
