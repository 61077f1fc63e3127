// Package session owns the canonical ordered collection of chat
// sessions and the currently selected session.
//
// A session is a named conversation thread holding an append-only list
// of messages. Messages are appended in user/response pairs and later
// mutated in place by id as generation results arrive; they are never
// reordered, replaced wholesale, or deleted individually. Only whole
// sessions can be deleted.
//
// The [Store] keeps all state in memory and mirrors it to an injected
// [Persister] after every mutation. Sessions carrying the restricted
// sentinel title are filtered out of every persisted snapshot and out
// of hydration, so they never survive a restart.
//
// # Concurrency
//
// Store is safe for concurrent use. Every mutation runs to completion
// under the store mutex before another can interleave. Mutations whose
// target session or message no longer exists are silent no-ops, so
// in-flight generation work tolerates concurrent deletion.
package session
