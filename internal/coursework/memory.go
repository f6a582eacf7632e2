package coursework

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"classroom/internal/apperror"
)

// MemoryRepository keeps coursework in process memory.
type MemoryRepository struct {
	mu          sync.RWMutex
	assignments map[string]*Assignment
	submissions map[string]*Submission
	// byPair indexes submissions by assignment id and student id.
	byPair map[[2]string]string
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		assignments: make(map[string]*Assignment),
		submissions: make(map[string]*Submission),
		byPair:      make(map[[2]string]string),
	}
}

func (r *MemoryRepository) CreateAssignment(ctx context.Context, a Assignment) (Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = time.Now().UTC()
	a.Questions = cloneQuestions(a.Questions)
	r.assignments[a.ID] = &a
	return cloneAssignment(a), nil
}

func (r *MemoryRepository) GetAssignment(ctx context.Context, id string) (Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if a, ok := r.assignments[id]; ok {
		return cloneAssignment(*a), nil
	}
	return Assignment{}, apperror.ErrNotFound
}

func (r *MemoryRepository) ListAssignments(ctx context.Context, classIDs []string, includeArchived bool) ([]Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wanted := make(map[string]struct{}, len(classIDs))
	for _, id := range classIDs {
		wanted[id] = struct{}{}
	}
	out := []Assignment{}
	for _, a := range r.assignments {
		if _, ok := wanted[a.ClassID]; !ok || (a.Archived && !includeArchived) {
			continue
		}
		out = append(out, cloneAssignment(*a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DueDate != out[j].DueDate {
			return out[i].DueDate < out[j].DueDate
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) ArchiveForClass(ctx context.Context, classID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, a := range r.assignments {
		if a.ClassID == classID && !a.Archived {
			a.Archived = true
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) CreateSubmission(ctx context.Context, s Submission) (Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := [2]string{s.AssignmentID, s.StudentID}
	if _, ok := r.byPair[key]; ok {
		return Submission{}, ErrAlreadySubmitted
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.SubmittedAt = time.Now().UTC()
	s.Graded = false
	s.Answers = append([]Answer{}, s.Answers...)
	r.submissions[s.ID] = &s
	r.byPair[key] = s.ID
	return cloneSubmission(s), nil
}

func (r *MemoryRepository) HasSubmission(ctx context.Context, assignmentID, studentID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byPair[[2]string{assignmentID, studentID}]
	return ok, nil
}

func (r *MemoryRepository) ListSubmissions(ctx context.Context, assignmentID string) ([]Submission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []Submission{}
	for _, s := range r.submissions {
		if s.AssignmentID == assignmentID {
			out = append(out, cloneSubmission(*s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

func (r *MemoryRepository) SubmittedAssignmentIDs(ctx context.Context, studentID string) (map[string]bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := map[string]bool{}
	for key := range r.byPair {
		if key[1] == studentID {
			ids[key[0]] = true
		}
	}
	return ids, nil
}

func cloneAssignment(a Assignment) Assignment {
	a.Questions = cloneQuestions(a.Questions)
	return a
}

func cloneQuestions(qs []Question) []Question {
	out := make([]Question, len(qs))
	for i, q := range qs {
		q.Options = append([]string(nil), q.Options...)
		out[i] = q
	}
	return out
}

func cloneSubmission(s Submission) Submission {
	s.Answers = append([]Answer{}, s.Answers...)
	if s.File != nil {
		f := *s.File
		s.File = &f
	}
	return s
}
