/*
Package domain contains the core types shared by every tradedesk component.

It is kept free of I/O and third-party dependencies so the gateway, the session
manager, the agent runtime and the MCP adapters can all depend on it.

# Key Entities

  - Turn: one role-tagged entry in a session's conversation log.
  - Inbound / Outbound: the JSON frames exchanged with the browser.
  - ToolSpec: a tool advertised by the MCP server (name, description, schema).
  - ToolResult: the explicit success/failure outcome of a tool invocation.
*/
package domain
