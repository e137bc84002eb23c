package version

// Version is overridden at build time via -ldflags.
var Version = "0.3.0"

const (
	ServerName = "claude-mcp"

	ProtocolVersion = "2024-11-05"
)

var SupportedProtocolVersions = []string{
	"2024-11-05",
	"2025-03-26",
}
