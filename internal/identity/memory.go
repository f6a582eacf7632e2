package identity

import (
	"context"
	"sort"
	"sync"
	"time"

	"classroom/internal/apperror"
)

// MemoryRepository keeps users in process memory.
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[string]*User
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[string]*User)}
}

func (r *MemoryRepository) CreateUser(ctx context.Context, u User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.users {
		switch {
		case existing.ID == u.ID, existing.Email == u.Email:
			return User{}, apperror.ErrEmailExists
		case u.EnrollmentNumber != "" && existing.EnrollmentNumber == u.EnrollmentNumber,
			u.StaffID != "" && existing.StaffID == u.StaffID:
			return User{}, ErrKeyExists
		}
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	u.Details = copyDetails(u.Details)
	r.users[u.ID] = &u
	return cloneUser(u), nil
}

func (r *MemoryRepository) GetUser(ctx context.Context, id string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if u, ok := r.users[id]; ok {
		return cloneUser(*u), nil
	}
	return User{}, apperror.ErrNotFound
}

func (r *MemoryRepository) GetByEmail(ctx context.Context, email string) (User, error) {
	return r.find(func(u *User) bool { return u.Email == email })
}

func (r *MemoryRepository) GetByEnrollment(ctx context.Context, enrollment string) (User, error) {
	return r.find(func(u *User) bool { return u.EnrollmentNumber == enrollment })
}

func (r *MemoryRepository) GetByStaffID(ctx context.Context, staffID string) (User, error) {
	return r.find(func(u *User) bool { return u.StaffID == staffID })
}

func (r *MemoryRepository) ListUsers(ctx context.Context, f Filter) ([]User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := []User{}
	for _, u := range r.users {
		if f.Match(*u) {
			users = append(users, cloneUser(*u))
		}
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Name != users[j].Name {
			return users[i].Name < users[j].Name
		}
		return users[i].ID < users[j].ID
	})
	return users, nil
}

func (r *MemoryRepository) UpdateUser(ctx context.Context, u User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.users[u.ID]
	if !ok {
		return User{}, apperror.ErrNotFound
	}
	cur.Name = u.Name
	cur.Department = u.Department
	cur.Phone = u.Phone
	cur.DOB = u.DOB
	cur.Gender = u.Gender
	cur.Details = copyDetails(u.Details)
	cur.UpdatedAt = time.Now().UTC()
	return cloneUser(*cur), nil
}

func (r *MemoryRepository) SetPassword(ctx context.Context, id string, hash []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.users[id]
	if !ok {
		return apperror.ErrNotFound
	}
	cur.PasswordHash = append([]byte{}, hash...)
	cur.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) DeleteUser(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[id]; !ok {
		return apperror.ErrNotFound
	}
	delete(r.users, id)
	return nil
}

func (r *MemoryRepository) CountByRole(ctx context.Context) (map[Role]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := map[Role]int{}
	for _, u := range r.users {
		counts[u.Role]++
	}
	return counts, nil
}

func (r *MemoryRepository) find(match func(*User) bool) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if match(u) {
			return cloneUser(*u), nil
		}
	}
	return User{}, apperror.ErrNotFound
}

func cloneUser(u User) User {
	u.Details = copyDetails(u.Details)
	u.PasswordHash = append([]byte(nil), u.PasswordHash...)
	return u
}

func copyDetails(d map[string]string) map[string]string {
	if d == nil {
		return nil
	}
	out := make(map[string]string, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
