package agent

// Stats is a point-in-time view of engine activity. Counters are cumulative
// since New; Queued, WaitingRetry and InFlight are instantaneous. TimedOut
// counts attempts that hit the request timeout, whether or not they were
// retried afterwards.
type Stats struct {
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
	Retried   int64 `json:"retried"`
	TimedOut  int64 `json:"timed_out"`

	Queued       int `json:"queued"`
	WaitingRetry int `json:"waiting_retry"`
	InFlight     int `json:"in_flight"`
}

// Stats returns current engine counters.
func (a *Agent) Stats() Stats {
	a.mu.Lock()
	queued := a.queue.len()
	waiting := a.pendingRetries
	inFlight := a.active
	a.mu.Unlock()

	return Stats{
		Submitted:    a.statSubmitted.Load(),
		Completed:    a.statCompleted.Load(),
		Failed:       a.statFailed.Load(),
		Cancelled:    a.statCancelled.Load(),
		Retried:      a.statRetried.Load(),
		TimedOut:     a.statTimedOut.Load(),
		Queued:       queued,
		WaitingRetry: waiting,
		InFlight:     inFlight,
	}
}
