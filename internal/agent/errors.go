package agent

import "errors"

var (
	// ErrBudgetExceeded terminates a run that spent its tool-call budget.
	ErrBudgetExceeded = errors.New("agent: tool call budget exceeded")
	// ErrSessionBusy means the per-session lock could not be acquired
	// within the bounded wait.
	ErrSessionBusy = errors.New("agent: session busy")
)
