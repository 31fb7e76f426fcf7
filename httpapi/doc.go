// Package httpapi serves the Freza HTTP API.
//
// Routes use the method and wildcard patterns of net/http.ServeMux. Every
// /api route except /api/ping requires the bearer token when one is
// configured; browsers that cannot set headers on EventSource may pass it
// as ?token= instead.
//
//	POST /api/chat                    start an invocation
//	GET  /api/stream/{id}             server-sent events until done
//	GET  /api/ws/{id}                 the same stream over a websocket
//	GET  /api/instances[/{id}]        registry view
//	POST /api/instances/{id}/stop     cancel an invocation
//	GET  /api/threads[/{id}]          persisted conversations
//	GET  /api/stats                   aggregate cost and duration
//	GET  /api/agents, /api/channels   catalog
//	GET  /api/memory?agent=           long-term memory document
//	GET  /api/short-term              short-term state of all instances
//	GET  /metrics                     Prometheus exposition
package httpapi
