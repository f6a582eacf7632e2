package coursework

import (
	"context"

	"github.com/pkg/errors"
)

// ErrAlreadySubmitted is returned when a student hands in an assignment twice.
var ErrAlreadySubmitted = errors.New("assignment already submitted")

// Repository persists assignments and submissions. CreateSubmission
// enforces one submission per (assignment, student).
type Repository interface {
	CreateAssignment(ctx context.Context, a Assignment) (Assignment, error)
	GetAssignment(ctx context.Context, id string) (Assignment, error)
	ListAssignments(ctx context.Context, classIDs []string, includeArchived bool) ([]Assignment, error)
	ArchiveForClass(ctx context.Context, classID string) (int, error)

	CreateSubmission(ctx context.Context, s Submission) (Submission, error)
	HasSubmission(ctx context.Context, assignmentID, studentID string) (bool, error)
	ListSubmissions(ctx context.Context, assignmentID string) ([]Submission, error)
	SubmittedAssignmentIDs(ctx context.Context, studentID string) (map[string]bool, error)
}
