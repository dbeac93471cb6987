package model

// Tick outcomes shared by the scheduler and its observers
const (
	OutcomeSuccess       = "success"
	OutcomeCollectError  = "collect_error"
	OutcomeDispatchError = "dispatch_error"
	OutcomePanic         = "panic"
	OutcomeSkipped       = "skipped"
)
