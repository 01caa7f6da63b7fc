package job

import "fmt"

// Valid status graph:
//
//	pending ──► in_progress ──► completed
//	   │             │      └──► failed
//	   └─────────────┴──────────► cancelled
//
// completed, failed and cancelled are terminal for automatic transitions.
// An explicit ProcessExtraction call may still restart a terminal job.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusFailed, StatusCancelled},
}

// ParseStatus converts a raw string to a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	switch st {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// CanTransition reports whether from → to is permitted.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no automatic transition leaves s.
func IsTerminal(s Status) bool {
	_, ok := validTransitions[s]
	return !ok
}
