package classroom

import (
	"context"
	"sort"
	"sync"
	"time"

	"classroom/internal/apperror"
)

// MemoryRepository keeps classes in process memory. Roster checks run under
// the repository mutex.
type MemoryRepository struct {
	mu      sync.RWMutex
	classes map[string]*Class
	dir     Directory
}

// NewMemoryRepository creates an empty repository; dir resolves student and
// staff existence for roster additions.
func NewMemoryRepository(dir Directory) *MemoryRepository {
	return &MemoryRepository{classes: make(map[string]*Class), dir: dir}
}

func (r *MemoryRepository) CreateClass(ctx context.Context, c Class) (Class, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.classes[c.ClassID]; ok {
		return Class{}, ErrClassExists
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	c.Students = []string{}
	c.Staff = append([]string{}, c.Staff...)
	r.classes[c.ClassID] = &c
	return clone(c), nil
}

func (r *MemoryRepository) GetClass(ctx context.Context, classID string) (Class, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.classes[classID]; ok {
		return clone(*c), nil
	}
	return Class{}, apperror.ErrNotFound
}

func (r *MemoryRepository) ListClasses(ctx context.Context) ([]Class, error) {
	return r.filter(func(Class) bool { return true }), nil
}

func (r *MemoryRepository) ListClassesForStaff(ctx context.Context, staffID string) ([]Class, error) {
	return r.filter(func(c Class) bool { return c.HasStaff(staffID) }), nil
}

func (r *MemoryRepository) ListClassesForStudent(ctx context.Context, enrollment string) ([]Class, error) {
	return r.filter(func(c Class) bool { return c.HasStudent(enrollment) }), nil
}

func (r *MemoryRepository) UpdateClass(ctx context.Context, c Class) (Class, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.classes[c.ClassID]
	if !ok {
		return Class{}, apperror.ErrNotFound
	}
	if c.Capacity < len(cur.Students) {
		return Class{}, ErrCapacityBelowRoster
	}
	cur.ClassName = c.ClassName
	cur.Department = c.Department
	cur.Semester = c.Semester
	cur.Capacity = c.Capacity
	cur.RoomNumber = c.RoomNumber
	cur.Subjects = append([]Subject{}, c.Subjects...)
	cur.Staff = append([]string{}, c.Staff...)
	cur.UpdatedAt = time.Now().UTC()
	return clone(*cur), nil
}

func (r *MemoryRepository) DeleteClass(ctx context.Context, classID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.classes[classID]; !ok {
		return apperror.ErrNotFound
	}
	delete(r.classes, classID)
	return nil
}

func (r *MemoryRepository) AddStudent(ctx context.Context, classID, enrollment string) (Class, error) {
	return r.mutate(classID, func(c *Class) error {
		ok, err := r.dir.StudentExists(ctx, enrollment)
		if err != nil {
			return err
		}
		if !ok {
			return ErrUnknownStudent
		}
		if c.HasStudent(enrollment) {
			return ErrAlreadyEnrolled
		}
		if len(c.Students) >= c.Capacity {
			return ErrClassFull
		}
		c.Students = append(c.Students, enrollment)
		return nil
	})
}

func (r *MemoryRepository) RemoveStudent(ctx context.Context, classID, enrollment string) (Class, error) {
	return r.mutate(classID, func(c *Class) error {
		if !c.HasStudent(enrollment) {
			return ErrNotEnrolled
		}
		c.Students = without(c.Students, enrollment)
		return nil
	})
}

func (r *MemoryRepository) AddStaff(ctx context.Context, classID, staffID string) (Class, error) {
	return r.mutate(classID, func(c *Class) error {
		ok, err := r.dir.StaffExists(ctx, staffID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrUnknownStaff
		}
		if c.HasStaff(staffID) {
			return ErrAlreadyAssigned
		}
		c.Staff = append(c.Staff, staffID)
		return nil
	})
}

func (r *MemoryRepository) RemoveStaff(ctx context.Context, classID, staffID string) (Class, error) {
	return r.mutate(classID, func(c *Class) error {
		if !c.HasStaff(staffID) {
			return ErrNotAssigned
		}
		c.Staff = without(c.Staff, staffID)
		return nil
	})
}

// mutate applies fn to a copy of the class and stores it only when fn succeeds.
func (r *MemoryRepository) mutate(classID string, fn func(*Class) error) (Class, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.classes[classID]
	if !ok {
		return Class{}, apperror.ErrNotFound
	}
	next := clone(*cur)
	if err := fn(&next); err != nil {
		return Class{}, err
	}
	next.UpdatedAt = time.Now().UTC()
	r.classes[classID] = &next
	return clone(next), nil
}

func (r *MemoryRepository) filter(keep func(Class) bool) []Class {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []Class{}
	for _, c := range r.classes {
		if keep(*c) {
			out = append(out, clone(*c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClassID < out[j].ClassID })
	return out
}

func clone(c Class) Class {
	c.Subjects = append([]Subject{}, c.Subjects...)
	c.Students = append([]string{}, c.Students...)
	c.Staff = append([]string{}, c.Staff...)
	return c
}

func without(list []string, v string) []string {
	out := make([]string, 0, len(list))
	for _, item := range list {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}
