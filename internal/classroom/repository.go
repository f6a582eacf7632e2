package classroom

import (
	"context"

	"github.com/pkg/errors"
)

// Roster write failures. The service turns them into validation errors.
var (
	ErrClassExists         = errors.New("class id already in use")
	ErrUnknownStudent      = errors.New("no student found with this enrollment number")
	ErrAlreadyEnrolled     = errors.New("student is already enrolled in this class")
	ErrNotEnrolled         = errors.New("student is not enrolled in this class")
	ErrClassFull           = errors.New("class is at capacity")
	ErrUnknownStaff        = errors.New("no staff member found with this staff id")
	ErrAlreadyAssigned     = errors.New("staff member is already assigned to this class")
	ErrNotAssigned         = errors.New("staff member is not assigned to this class")
	ErrCapacityBelowRoster = errors.New("capacity is below the number of enrolled students")
)

// Repository persists classes and memberships. Roster mutations check
// existence, uniqueness and capacity inside the same write so concurrent
// callers cannot break the roster invariants.
type Repository interface {
	CreateClass(ctx context.Context, c Class) (Class, error)
	GetClass(ctx context.Context, classID string) (Class, error)
	ListClasses(ctx context.Context) ([]Class, error)
	ListClassesForStaff(ctx context.Context, staffID string) ([]Class, error)
	ListClassesForStudent(ctx context.Context, enrollment string) ([]Class, error)
	// UpdateClass replaces the class details and resets the staff roster to Staff.
	UpdateClass(ctx context.Context, c Class) (Class, error)
	DeleteClass(ctx context.Context, classID string) error

	AddStudent(ctx context.Context, classID, enrollment string) (Class, error)
	RemoveStudent(ctx context.Context, classID, enrollment string) (Class, error)
	AddStaff(ctx context.Context, classID, staffID string) (Class, error)
	RemoveStaff(ctx context.Context, classID, staffID string) (Class, error)
}

// Directory answers whether a business key belongs to a user of the right role.
type Directory interface {
	StudentExists(ctx context.Context, enrollment string) (bool, error)
	StaffExists(ctx context.Context, staffID string) (bool, error)
}
