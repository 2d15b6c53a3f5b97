package lifecycle

import (
	"fmt"

	"github.com/noah-isme/academico-api/internal/models"
)

// Event identifies what drives an enrollment from one status to another.
type Event string

const (
	// EventAcceptContract fires when the student signs the period contract.
	EventAcceptContract Event = "accept_contract"
	// EventApproveDocuments fires when all mandatory documents are approved.
	EventApproveDocuments Event = "approve_documents"
	// EventCancel fires on administrative or student cancellation.
	EventCancel Event = "cancel"
	// EventAdvanceSemester moves an active enrollment into its next semester.
	EventAdvanceSemester Event = "advance_semester"
	// EventComplete fires when the final semester has been reached.
	EventComplete Event = "complete"
	// EventBeginReenrollment marks an active enrollment entering the batch.
	EventBeginReenrollment Event = "begin_reenrollment"
	// EventIssueContract resolves a reenrollment once the new period contract exists.
	EventIssueContract Event = "issue_contract"
	// EventAbortReenrollment reverts the transitional marker when per-item processing fails.
	EventAbortReenrollment Event = "abort_reenrollment"
)

// Transition is a single allowed edge in the enrollment state machine.
type Transition struct {
	From  models.EnrollmentStatus
	To    models.EnrollmentStatus
	Event Event
}

// Decision records whether a transition is allowed and why it is refused.
type Decision struct {
	Allowed bool
	Reason  string
}

var transitions = []Transition{
	{From: models.EnrollmentStatusContract, To: models.EnrollmentStatusPending, Event: EventAcceptContract},
	{From: models.EnrollmentStatusPending, To: models.EnrollmentStatusActive, Event: EventApproveDocuments},

	{From: models.EnrollmentStatusContract, To: models.EnrollmentStatusCancelled, Event: EventCancel},
	{From: models.EnrollmentStatusPending, To: models.EnrollmentStatusCancelled, Event: EventCancel},
	{From: models.EnrollmentStatusActive, To: models.EnrollmentStatusCancelled, Event: EventCancel},

	{From: models.EnrollmentStatusActive, To: models.EnrollmentStatusActive, Event: EventAdvanceSemester},
	{From: models.EnrollmentStatusActive, To: models.EnrollmentStatusCompleted, Event: EventComplete},

	{From: models.EnrollmentStatusActive, To: models.EnrollmentStatusReenrollment, Event: EventBeginReenrollment},
	{From: models.EnrollmentStatusReenrollment, To: models.EnrollmentStatusContract, Event: EventIssueContract},
	{From: models.EnrollmentStatusReenrollment, To: models.EnrollmentStatusActive, Event: EventAbortReenrollment},
}

// Next resolves the target status for an event fired from the given status.
func Next(from models.EnrollmentStatus, event Event) (models.EnrollmentStatus, Decision) {
	for _, t := range transitions {
		if t.From == from && t.Event == event {
			return t.To, Decision{Allowed: true}
		}
	}
	return "", Decision{Allowed: false, Reason: refusalReason(from, event)}
}

// Allowed reports whether the edge from -> to exists for any event.
func Allowed(from, to models.EnrollmentStatus) bool {
	for _, t := range transitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

func refusalReason(from models.EnrollmentStatus, event Event) string {
	switch {
	case event == EventApproveDocuments && from == models.EnrollmentStatusActive:
		return "enrollment is already active"
	case event == EventCancel && from == models.EnrollmentStatusCancelled:
		return "enrollment is already cancelled"
	case from.Terminal():
		return fmt.Sprintf("enrollment is in terminal status %s", from)
	default:
		return fmt.Sprintf("event %s is not allowed from status %s", event, from)
	}
}
