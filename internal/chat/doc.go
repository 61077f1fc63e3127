// Package chat implements the generation orchestrator: the single
// entry point that turns a prompt plus a requested output type into
// session store mutations.
//
// A generation request moves through an explicit state machine:
//
//	Idle -> PendingSubmit -> {Streaming | AwaitingMedia} -> Idle
//
// Idle is both initial and terminal; every other state holds the
// single-flight lock. A request arriving while one is in flight is
// ignored, not queued. Failures never escape [Orchestrator.Generate]:
// they are reduced to a fixed failure notice on the response
// placeholder, which stays visible and persists like any other
// message.
package chat
