package models

// ReenrollmentFailure records one enrollment that could not be carried
// into the new period. It never aborts the rest of the batch.
type ReenrollmentFailure struct {
	EnrollmentID int64  `json:"enrollment_id"`
	Reason       string `json:"reason"`
}

// ReenrollmentResult summarises a global reenrollment run.
type ReenrollmentResult struct {
	TotalStudents         int                   `json:"total_students"`
	AffectedEnrollmentIDs []int64               `json:"affected_enrollment_ids"`
	Failures              []ReenrollmentFailure `json:"failures,omitempty"`
}
