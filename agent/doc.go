// Package agent implements the generation job orchestration engine: a
// priority queue of requests, a scheduler that dispatches them to worker
// goroutines under a concurrency ceiling, retry handling for transient
// provider failures, batch tracking, and an event stream for lifecycle
// notifications.
//
// The engine is an explicitly owned object with no global state. A host
// creates an Agent with New, submits work with Submit or SubmitBatch,
// observes it through GetStatus, List, BatchStatus and the event
// subscriptions, and releases it with Shutdown. All methods are safe for
// concurrent use.
package agent
