package classroom

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"classroom/internal/apperror"
	"classroom/internal/metrics"
	"classroom/internal/queue"
)

const idAttempts = 5

// Service validates class and roster changes and publishes roster events.
type Service struct {
	repo   Repository
	dir    Directory
	events queue.Publisher
	log    *zap.Logger
}

// NewService creates a service backed by a repository.
func NewService(repo Repository, dir Directory, events queue.Publisher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, dir: dir, events: events, log: log}
}

// CreateClass stores a new class. When no class id is given one is generated
// from the department.
func (s *Service) CreateClass(ctx context.Context, in ClassInput) (Class, error) {
	in = normalizeInput(in)
	if err := s.validateInput(ctx, in); err != nil {
		return Class{}, err
	}
	c := Class{
		ClassID:    in.ClassID,
		ClassName:  in.ClassName,
		Department: in.Department,
		Semester:   in.Semester,
		Capacity:   in.Capacity,
		RoomNumber: in.RoomNumber,
		Subjects:   in.Subjects,
		Staff:      StaffFromSubjects(in.Subjects),
	}

	if c.ClassID != "" {
		created, err := s.repo.CreateClass(ctx, c)
		if errors.Is(err, ErrClassExists) {
			return Class{}, apperror.Invalid("class_id", "class id %q is already in use", c.ClassID)
		}
		return created, err
	}
	for i := 0; i < idAttempts; i++ {
		c.ClassID = GenerateClassID(c.Department)
		created, err := s.repo.CreateClass(ctx, c)
		if errors.Is(err, ErrClassExists) {
			continue
		}
		return created, err
	}
	return Class{}, apperror.Remote("classes.create", errors.New("could not allocate a free class id"))
}

// UpdateClass replaces the editable fields and re-derives the staff roster
// from the subjects.
func (s *Service) UpdateClass(ctx context.Context, classID string, in ClassInput) (Class, error) {
	in = normalizeInput(in)
	in.ClassID = ""
	if err := s.validateInput(ctx, in); err != nil {
		return Class{}, err
	}
	updated, err := s.repo.UpdateClass(ctx, Class{
		ClassID:    classID,
		ClassName:  in.ClassName,
		Department: in.Department,
		Semester:   in.Semester,
		Capacity:   in.Capacity,
		RoomNumber: in.RoomNumber,
		Subjects:   in.Subjects,
		Staff:      StaffFromSubjects(in.Subjects),
	})
	if errors.Is(err, ErrCapacityBelowRoster) {
		return Class{}, apperror.NewValidationError(err, apperror.FieldError{Field: "capacity", Error: err.Error()})
	}
	return updated, err
}

// DeleteClass removes a class and its memberships. Attendance and
// assignments stay; the worker archives assignments on class.deleted.
func (s *Service) DeleteClass(ctx context.Context, classID string) error {
	if err := s.repo.DeleteClass(ctx, classID); err != nil {
		return err
	}
	s.log.Info("class deleted", zap.String("class_id", classID))
	queue.Emit(ctx, s.events, s.log, queue.TypeClassDeleted, queue.ClassDeleted{ClassID: classID})
	return nil
}

func (s *Service) GetClass(ctx context.Context, classID string) (Class, error) {
	return s.repo.GetClass(ctx, classID)
}

func (s *Service) ListClasses(ctx context.Context) ([]Class, error) {
	return s.repo.ListClasses(ctx)
}

func (s *Service) ListClassesForStaff(ctx context.Context, staffID string) ([]Class, error) {
	return s.repo.ListClassesForStaff(ctx, staffID)
}

func (s *Service) ListClassesForStudent(ctx context.Context, enrollment string) ([]Class, error) {
	return s.repo.ListClassesForStudent(ctx, enrollment)
}

// AddStudent enrolls a student by enrollment number.
func (s *Service) AddStudent(ctx context.Context, classID, enrollment string) (Class, error) {
	return s.changeRoster(ctx, "student", "add", classID, enrollment, s.repo.AddStudent)
}

// RemoveStudent unenrolls a student; a non-member is rejected.
func (s *Service) RemoveStudent(ctx context.Context, classID, enrollment string) (Class, error) {
	return s.changeRoster(ctx, "student", "remove", classID, enrollment, s.repo.RemoveStudent)
}

// AddStaff assigns a staff member by staff id.
func (s *Service) AddStaff(ctx context.Context, classID, staffID string) (Class, error) {
	return s.changeRoster(ctx, "staff", "add", classID, staffID, s.repo.AddStaff)
}

// RemoveStaff unassigns a staff member; a non-member is rejected.
func (s *Service) RemoveStaff(ctx context.Context, classID, staffID string) (Class, error) {
	return s.changeRoster(ctx, "staff", "remove", classID, staffID, s.repo.RemoveStaff)
}

type rosterOp func(ctx context.Context, classID, member string) (Class, error)

func (s *Service) changeRoster(ctx context.Context, kind, op, classID, member string, apply rosterOp) (Class, error) {
	field := "enrollment_number"
	if kind == "staff" {
		field = "staff_id"
	}
	member = strings.TrimSpace(member)
	if member == "" {
		return Class{}, apperror.Invalid(field, "is required")
	}

	c, err := apply(ctx, classID, member)
	if err != nil {
		if isDomainError(err) && !errors.Is(err, apperror.ErrNotFound) {
			return Class{}, apperror.NewValidationError(err, apperror.FieldError{Field: field, Error: err.Error()})
		}
		return Class{}, err
	}

	metrics.RosterChanges.WithLabelValues(kind, op).Inc()
	queue.Emit(ctx, s.events, s.log, queue.TypeRosterChanged, queue.RosterChanged{
		ClassID:  classID,
		Kind:     kind,
		Op:       op,
		MemberID: member,
	})
	return c, nil
}

func (s *Service) validateInput(ctx context.Context, in ClassInput) error {
	if err := apperror.Validate(in); err != nil {
		return err
	}
	for i, subj := range in.Subjects {
		if subj.StaffID == "" {
			continue
		}
		ok, err := s.dir.StaffExists(ctx, subj.StaffID)
		if err != nil {
			return err
		}
		if !ok {
			return apperror.Invalid(fmt.Sprintf("subjects[%d].staff_id", i), "unknown staff id %q", subj.StaffID)
		}
	}
	return nil
}

func normalizeInput(in ClassInput) ClassInput {
	in.ClassID = strings.TrimSpace(in.ClassID)
	in.ClassName = strings.TrimSpace(in.ClassName)
	in.Department = strings.TrimSpace(in.Department)
	in.RoomNumber = strings.TrimSpace(in.RoomNumber)
	in.Subjects = normalizeSubjects(in.Subjects)
	return in
}

// GenerateClassID returns the first two letters of the department in upper
// case followed by three random lowercase alphanumerics, e.g. "CSa3f".
func GenerateClassID(department string) string {
	var prefix []rune
	for _, r := range department {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			prefix = append(prefix, unicode.ToUpper(r))
		}
		if len(prefix) == 2 {
			break
		}
	}
	return string(prefix) + strings.ReplaceAll(uuid.NewString(), "-", "")[:3]
}
