/*
Package ports defines the driven ports (interfaces) of tradedesk.

These interfaces decouple the session manager, gateway and agent runtime from
the concrete MCP transport, LLM provider, broker API and storage backends.

# Key Interfaces

  - Broker: the broker API client, one operation per endpoint.
  - Connector / ToolConnection: the transport to the MCP tool server.
  - Agent: the runtime that answers a user utterance, optionally streaming.
  - TurnStore: persistence for per-session conversation logs.
  - DistributedLocker: cross-replica locking for session creation.
*/
package ports
