package identity

import (
	"context"

	"github.com/pkg/errors"

	"classroom/internal/apperror"
)

// Directory resolves business keys to users for the roster and report code.
type Directory struct {
	repo Repository
}

// NewDirectory wraps a user repository.
func NewDirectory(repo Repository) *Directory {
	return &Directory{repo: repo}
}

// StudentExists reports whether enrollment belongs to a student account.
func (d *Directory) StudentExists(ctx context.Context, enrollment string) (bool, error) {
	u, err := d.repo.GetByEnrollment(ctx, enrollment)
	if errors.Is(err, apperror.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.Role == RoleStudent, nil
}

// StaffExists reports whether staffID belongs to a staff account.
func (d *Directory) StaffExists(ctx context.Context, staffID string) (bool, error) {
	u, err := d.repo.GetByStaffID(ctx, staffID)
	if errors.Is(err, apperror.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.Role == RoleStaff, nil
}

// StudentNames maps the given enrollment numbers to student names. Unknown
// numbers are left out.
func (d *Directory) StudentNames(ctx context.Context, enrollments []string) (map[string]string, error) {
	students, err := d.repo.ListUsers(ctx, Filter{Role: RoleStudent})
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]struct{}, len(enrollments))
	for _, e := range enrollments {
		wanted[e] = struct{}{}
	}
	names := make(map[string]string, len(enrollments))
	for _, s := range students {
		if _, ok := wanted[s.EnrollmentNumber]; ok {
			names[s.EnrollmentNumber] = s.Name
		}
	}
	return names, nil
}
