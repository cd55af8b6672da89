/*
Package session implements the registry of live chat sessions.

A session binds one client identifier to its own tool server connection, the
agent built on top of it and the turn log kept in a ports.TurnStore. The
Manager guarantees at most one session per client: creation is serialized per
key with reference-counted locks and, across gateway replicas sharing a Redis
turn store, with an optional distributed lock.
*/
package session
