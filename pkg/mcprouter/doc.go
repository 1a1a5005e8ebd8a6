// Package mcprouter routes Model Context Protocol (MCP) tool calls across
// several upstream servers from a single Go process. It layers session
// lifecycle tracking, a flat tool namespace, and partial-failure reporting on
// top of the modelcontextprotocol/go-sdk client so a conversation loop can
// treat N servers as one tool provider.
//
// # Core entry points
//
//   - Config (usually produced by LoadConfig from an "mcpServers" JSON file)
//     declares the servers in priority order.
//   - Router is the long-lived orchestration type. Construct it with New, call
//     ConnectAll once, then ListTools / CallTool for as long as needed, and
//     CloseAll when done.
//   - Registry is the immutable name-to-session snapshot the router publishes
//     after every change in the set of Ready sessions. When two servers
//     advertise the same tool name the server declared first wins; the later
//     tool is recorded as shadowed. ServerPrefixNaming avoids collisions
//     entirely by exposing "server__tool" names.
//
// Every error returned from a call path is an *Error carrying a Kind
// (KindToolNotFound, KindTransport, KindCancelled, ...), so callers can branch
// with errors.Is against the exported sentinels or with KindOf.
//
// A session whose channel fails mid-call, or whose call is cancelled, is
// marked Failed and drops out of the registry before CallTool returns. Use
// Reconnect or ReconnectFailed to bring it back.
//
// When inspecting server configurations use the helper guards and narrowers
// (IsStdio/IsHTTP and AsStdio/AsHTTP) or TransportOf to branch on the concrete
// transport type.
package mcprouter
