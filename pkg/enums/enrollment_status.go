package enums

// EnrollmentStatus describes a student's standing in a course.
type EnrollmentStatus string

const (
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
	EnrollmentStatusCancelled EnrollmentStatus = "cancelled"
	EnrollmentStatusPending   EnrollmentStatus = "pending"
)

var enrollmentStatuses = set[EnrollmentStatus]{
	EnrollmentStatusActive, EnrollmentStatusCompleted, EnrollmentStatusCancelled, EnrollmentStatusPending,
}

func (s EnrollmentStatus) IsValid() bool { return enrollmentStatuses.has(s) }

func ParseEnrollmentStatus(value string) (EnrollmentStatus, error) {
	return enrollmentStatuses.parse("enrollment status", value)
}
