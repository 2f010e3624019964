// Package gateway orchestrates the switchboard server components.
//
// # Overview
//
// New builds every component from config and wires them together:
//
//	store      SQLite conversations, messages, agents, teams
//	rooms      room manager, with the Redis relay when redis.url is set
//	typing     typing tracker, cleared through the room disconnect hook
//	bridge     assistant event handler, fed by the Redis or AMQP subscriber
//	socket     websocket endpoint
//
// The dedup claimer is Redis when available and an in-process cache
// otherwise; the in-process cache only deduplicates within one instance.
//
// # HTTP API
//
//	GET /health        liveness, always 200 "OK"
//	GET /health/ready  store and Redis ping, 200 or 503 with JSON checks
//	GET /metrics       Prometheus, when metrics.enabled
//	GET /ws            websocket, token via ?token= or Authorization: Bearer
//	GET /api/rooms     connection and room counts, agent or admin token required
//
// # Lifecycle
//
// Run listens on server.http_addr, starts the bridge, relay and typing sweep
// loops, and blocks until its context is canceled. Shutdown stops the HTTP
// server, disconnects every socket, waits for the loops and closes the store
// and Redis.
package gateway
