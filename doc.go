/*
Package tradedesk is a chat-driven trading assistant for the OpenAlgo broker platform.

It exposes the OpenAlgo REST API as Model Context Protocol (MCP) tools and lets an
LLM agent drive them on behalf of a user, from a browser chat or a terminal.

# Components

  - MCP tool server (pkg/adapters/mcp): one tool per broker operation plus local
    symbol formatting helpers, served over SSE or stdio.
  - Session manager (pkg/session): at most one live tool connection and agent per
    client, created lazily and released on disconnect.
  - Chat gateway (pkg/gateway): websocket relay that streams agent replies back
    to the browser as partial frames.
  - Agent runtime (pkg/agent): the tool-calling loop over an OpenAI-compatible
    model (pkg/adapters/openai), with a bounded history window and tool budget.

# Usage

	tradedesk server            # MCP tools on :8001 (SSE)
	tradedesk web               # browser chat on :8000
	tradedesk chat --render     # terminal chat

Configuration comes from a .env file, the environment, an optional YAML file and
command flags, in increasing order of precedence.
*/
package tradedesk
