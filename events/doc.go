// Package events carries the lifecycle notifications the engine publishes
// as requests move through their state machine. The Bus fans each event out
// synchronously to targeted and wildcard subscribers, so handlers must be
// fast and non-blocking: they run on the engine's publishing goroutine, and
// a slow handler delays every event behind it.
package events
