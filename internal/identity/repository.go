package identity

import (
	"context"

	"github.com/pkg/errors"
)

// ErrKeyExists is returned when an enrollment number or staff id is taken.
var ErrKeyExists = errors.New("business key already in use")

// Repository persists user accounts. CreateUser returns
// apperror.ErrEmailExists when the id or email is taken and ErrKeyExists
// for a duplicate enrollment number or staff id.
type Repository interface {
	CreateUser(ctx context.Context, u User) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	GetByEnrollment(ctx context.Context, enrollment string) (User, error)
	GetByStaffID(ctx context.Context, staffID string) (User, error)
	ListUsers(ctx context.Context, f Filter) ([]User, error)
	UpdateUser(ctx context.Context, u User) (User, error)
	SetPassword(ctx context.Context, id string, hash []byte) error
	DeleteUser(ctx context.Context, id string) error
	CountByRole(ctx context.Context) (map[Role]int, error)
}
