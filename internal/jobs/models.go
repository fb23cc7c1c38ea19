package jobs

import (
	"strings"
	"time"
)

// State represents the lifecycle of a job.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

var allStates = []State{StatePending, StateRunning, StateCompleted, StateFailed}

var stateSet = func() map[State]struct{} {
	set := make(map[State]struct{}, len(allStates))
	for _, state := range allStates {
		set[state] = struct{}{}
	}
	return set
}()

// legalTransitions is the only permitted movement between job states.
// Terminal states have no outgoing edges.
var legalTransitions = map[State][]State{
	StatePending: {StateRunning},
	StateRunning: {StateCompleted, StateFailed},
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to State) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a state admits no further transitions.
func IsTerminal(state State) bool {
	return len(legalTransitions[state]) == 0
}

// AllStates returns the ordered list of known job states.
func AllStates() []State {
	cp := make([]State, len(allStates))
	copy(cp, allStates)
	return cp
}

// ParseState converts a string into a known State.
func ParseState(value string) (State, bool) {
	normalized := State(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := stateSet[normalized]
	return normalized, ok
}

// ItemState represents the lifecycle of a single work item within a job.
type ItemState string

const (
	ItemQueued     ItemState = "queued"
	ItemRetrying   ItemState = "retrying"
	ItemSucceeded  ItemState = "succeeded"
	ItemHardFailed ItemState = "hard_failed"
)

// Job is one orchestration run persisted in SQLite.
type Job struct {
	ID           string
	State        State
	Progress     int
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// WorkItem is a single unit of extraction work belonging to a job.
// Attempts counts every dispatch of the item to a worker, including the
// first bulk-batch invocation.
type WorkItem struct {
	ID        int64
	JobID     string
	Platform  string
	Code      string
	Attempts  int
	State     ItemState
	UpdatedAt time.Time
}

// ItemSpec describes a work item at job creation time.
type ItemSpec struct {
	Platform string `json:"platform"`
	Code     string `json:"code"`
}

// LogEntry is one append-only job log line.
type LogEntry struct {
	ID        int64
	JobID     string
	Level     string
	Message   string
	CreatedAt time.Time
}

// Status aggregates the externally visible view of a job.
type Status struct {
	ID           string
	State        State
	Progress     int
	ErrorMessage string
	HardFailures []string
	Log          []LogEntry
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Summary counts jobs per lifecycle state.
type Summary struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
