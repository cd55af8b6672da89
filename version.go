package tradedesk

import _ "embed"

// Version is the release of the binary and of the MCP server it exposes.
//
//go:embed VERSION
var Version string
