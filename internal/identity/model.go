// Package identity manages user accounts, credentials and sessions.
package identity

import (
	"strings"
	"time"
	"unicode"

	"classroom/internal/auth"
)

// Role tags a user account.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleStaff   Role = "staff"
	RoleStudent Role = "student"
)

// User is an account. Students are related to classes by EnrollmentNumber and
// staff by StaffID; Class and AssignedClasses are derived from the rosters.
type User struct {
	ID               string            `json:"id"`
	Email            string            `json:"email"`
	Name             string            `json:"name"`
	Role             Role              `json:"role"`
	EnrollmentNumber string            `json:"enrollment_number,omitempty"`
	StaffID          string            `json:"staff_id,omitempty"`
	Department       string            `json:"department"`
	Phone            string            `json:"phone"`
	DOB              string            `json:"dob"`
	Gender           string            `json:"gender"`
	Details          map[string]string `json:"details,omitempty"`
	Class            string            `json:"class,omitempty"`
	AssignedClasses  []string          `json:"assigned_classes,omitempty"`
	PasswordHash     []byte            `json:"-"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Principal returns the token identity of the user.
func (u User) Principal() auth.Principal {
	return auth.Principal{
		UserID:           u.ID,
		Role:             string(u.Role),
		EnrollmentNumber: u.EnrollmentNumber,
		StaffID:          u.StaffID,
	}
}

// NewUser is the input for account creation.
type NewUser struct {
	Email            string            `json:"email" validate:"required,email"`
	Password         string            `json:"password"`
	Name             string            `json:"name" validate:"required"`
	Role             Role              `json:"role" validate:"required,oneof=admin staff student"`
	EnrollmentNumber string            `json:"enrollment_number"`
	StaffID          string            `json:"staff_id"`
	Program          string            `json:"program"`
	AdmissionYear    int               `json:"admission_year" validate:"omitempty,gte=1900,lte=2999"`
	Department       string            `json:"department"`
	Phone            string            `json:"phone"`
	DOB              string            `json:"dob"`
	Gender           string            `json:"gender"`
	Details          map[string]string `json:"details"`
}

// UserUpdate carries the editable profile fields. Email, role and business
// keys are immutable because relations reference them.
type UserUpdate struct {
	Name       string            `json:"name" validate:"required"`
	Department string            `json:"department"`
	Phone      string            `json:"phone"`
	DOB        string            `json:"dob"`
	Gender     string            `json:"gender"`
	Details    map[string]string `json:"details"`
}

// Filter narrows ListUsers. Empty fields match everything.
type Filter struct {
	Role   Role
	Search string
}

// Match reports whether u passes the filter.
func (f Filter) Match(u User) bool {
	if f.Role != "" && u.Role != f.Role {
		return false
	}
	if f.Search == "" {
		return true
	}
	q := strings.ToLower(f.Search)
	for _, v := range []string{u.Name, u.Email, u.EnrollmentNumber, u.StaffID} {
		if strings.Contains(strings.ToLower(v), q) {
			return true
		}
	}
	return false
}

// Summary is the admin dashboard count.
type Summary struct {
	Students int `json:"students"`
	Staff    int `json:"staff"`
	Admins   int `json:"admins"`
	Classes  int `json:"classes"`
}

// DocID derives the account id from an email: lower-cased with every
// non-alphanumeric character removed.
func DocID(email string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(email)) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
