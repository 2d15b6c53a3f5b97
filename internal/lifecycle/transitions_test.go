package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academico-api/internal/models"
)

func TestNextAllowedEdges(t *testing.T) {
	cases := []struct {
		name  string
		from  models.EnrollmentStatus
		event Event
		to    models.EnrollmentStatus
	}{
		{"contract accepted", models.EnrollmentStatusContract, EventAcceptContract, models.EnrollmentStatusPending},
		{"documents approved", models.EnrollmentStatusPending, EventApproveDocuments, models.EnrollmentStatusActive},
		{"cancel from contract", models.EnrollmentStatusContract, EventCancel, models.EnrollmentStatusCancelled},
		{"cancel from pending", models.EnrollmentStatusPending, EventCancel, models.EnrollmentStatusCancelled},
		{"cancel from active", models.EnrollmentStatusActive, EventCancel, models.EnrollmentStatusCancelled},
		{"advance semester", models.EnrollmentStatusActive, EventAdvanceSemester, models.EnrollmentStatusActive},
		{"complete", models.EnrollmentStatusActive, EventComplete, models.EnrollmentStatusCompleted},
		{"begin reenrollment", models.EnrollmentStatusActive, EventBeginReenrollment, models.EnrollmentStatusReenrollment},
		{"issue new contract", models.EnrollmentStatusReenrollment, EventIssueContract, models.EnrollmentStatusContract},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			to, decision := Next(tc.from, tc.event)
			require.True(t, decision.Allowed)
			assert.Equal(t, tc.to, to)
		})
	}
}

func TestNextRefusedEdges(t *testing.T) {
	cases := []struct {
		name   string
		from   models.EnrollmentStatus
		event  Event
		reason string
	}{
		{"activate active", models.EnrollmentStatusActive, EventApproveDocuments, "enrollment is already active"},
		{"cancel cancelled", models.EnrollmentStatusCancelled, EventCancel, "enrollment is already cancelled"},
		{"activate cancelled", models.EnrollmentStatusCancelled, EventApproveDocuments, "terminal status CANCELLED"},
		{"advance completed", models.EnrollmentStatusCompleted, EventAdvanceSemester, "terminal status COMPLETED"},
		{"accept contract while pending", models.EnrollmentStatusPending, EventAcceptContract, "not allowed from status PENDING"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, decision := Next(tc.from, tc.event)
			require.False(t, decision.Allowed)
			assert.Contains(t, decision.Reason, tc.reason)
		})
	}
}

func TestTerminalStatusesHaveNoOutgoingEdges(t *testing.T) {
	for _, terminal := range []models.EnrollmentStatus{models.EnrollmentStatusCancelled, models.EnrollmentStatusCompleted} {
		for _, t2 := range transitions {
			assert.NotEqual(t, terminal, t2.From, "terminal status %s must not have outgoing edges", terminal)
		}
	}
}
