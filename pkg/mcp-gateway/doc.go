// Package mcpgateway republishes the merged tool namespace of an
// mcprouter.Router as a single Streamable HTTP MCP server. Downstream clients
// connect to one endpoint and every tools/call is routed to the upstream
// server that owns the tool. The published tool list follows registry changes
// as upstream servers fail, reconnect, or announce new tools.
package mcpgateway
