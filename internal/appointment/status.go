package appointment

import "fmt"

type Status string

const (
	StatusBooked            Status = "booked"
	StatusConfirmed         Status = "confirmed"
	StatusCheckedIn         Status = "checked_in"
	StatusWaiting           Status = "waiting"
	StatusInTreatment       Status = "in_treatment"
	StatusCompleted         Status = "completed"
	StatusFeedbackScheduled Status = "feedback_scheduled"
	StatusFeedbackSent      Status = "feedback_sent"
	StatusCancelled         Status = "cancelled"
	StatusNoShow            Status = "no_show"
)

var allStatuses = []Status{
	StatusBooked,
	StatusConfirmed,
	StatusCheckedIn,
	StatusWaiting,
	StatusInTreatment,
	StatusCompleted,
	StatusFeedbackScheduled,
	StatusFeedbackSent,
	StatusCancelled,
	StatusNoShow,
}

var transitionTable = map[Status][]Status{
	StatusBooked:            {StatusConfirmed, StatusCancelled, StatusNoShow},
	StatusConfirmed:         {StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusCheckedIn:         {StatusWaiting, StatusCancelled},
	StatusWaiting:           {StatusInTreatment, StatusCancelled},
	StatusInTreatment:       {StatusCompleted},
	StatusCompleted:         {StatusFeedbackScheduled},
	StatusFeedbackScheduled: {StatusFeedbackSent},
}

var terminalStates = map[Status]bool{
	StatusCancelled:    true,
	StatusNoShow:       true,
	StatusFeedbackSent: true,
}

func ParseStatus(raw string) (Status, error) {
	for _, s := range allStatuses {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown appointment status %q", raw)
}

func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

// AllowedNextStates lists the statuses reachable from s in one step. The
// returned slice is a copy and may be modified by the caller.
func AllowedNextStates(s Status) []Status {
	next := transitionTable[s]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

func CanTransition(from, to Status) bool {
	for _, s := range transitionTable[from] {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminalState(s Status) bool {
	return terminalStates[s]
}

// queueable statuses are the only ones the assignment engine will pick from
// the waiting ledger.
func queueable(s Status) bool {
	return s == StatusCheckedIn || s == StatusWaiting
}
