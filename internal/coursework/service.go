package coursework

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"classroom/internal/apperror"
	"classroom/internal/classroom"
	"classroom/internal/filestore"
)

const dateLayout = "2006-01-02"

// ClassReader is the part of the roster store coursework reads.
type ClassReader interface {
	GetClass(ctx context.Context, classID string) (classroom.Class, error)
	ListClassesForStudent(ctx context.Context, enrollment string) ([]classroom.Class, error)
}

// Service manages assignments and submissions.
type Service struct {
	repo    Repository
	classes ClassReader
	files   filestore.Storage
	log     *zap.Logger
	now     func() time.Time
}

// NewService creates a service backed by a repository.
func NewService(repo Repository, classes ClassReader, files filestore.Storage, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, classes: classes, files: files, log: log, now: time.Now}
}

// CreateAssignment adds an assignment to a class. MCQ questions need at
// least two options and an in-range correct answer index.
func (s *Service) CreateAssignment(ctx context.Context, classID string, in NewAssignment) (Assignment, error) {
	in.AssignmentName = strings.TrimSpace(in.AssignmentName)
	for i := range in.Questions {
		in.Questions[i].Text = strings.TrimSpace(in.Questions[i].Text)
	}
	if err := apperror.Validate(in); err != nil {
		return Assignment{}, err
	}
	if _, err := s.classes.GetClass(ctx, classID); err != nil {
		return Assignment{}, err
	}

	questions := make([]Question, 0, len(in.Questions))
	for i, q := range in.Questions {
		question := Question{Text: q.Text, Type: q.Type}
		if q.Type == QuestionMCQ {
			var options []string
			for _, o := range q.Options {
				if o = strings.TrimSpace(o); o != "" {
					options = append(options, o)
				}
			}
			if len(options) < 2 {
				return Assignment{}, apperror.Invalid(fmt.Sprintf("questions[%d].options", i), "needs at least 2 options")
			}
			if q.CorrectAnswerIndex < 0 || q.CorrectAnswerIndex >= len(options) {
				return Assignment{}, apperror.Invalid(fmt.Sprintf("questions[%d].correct_answer_index", i), "must point at one of the options")
			}
			question.Options = options
			question.CorrectAnswer = options[q.CorrectAnswerIndex]
		}
		questions = append(questions, question)
	}

	a, err := s.repo.CreateAssignment(ctx, Assignment{
		ClassID:        classID,
		AssignmentName: in.AssignmentName,
		DueDate:        in.DueDate,
		Questions:      questions,
	})
	if err != nil {
		return Assignment{}, err
	}
	s.log.Info("assignment created", zap.String("assignment_id", a.ID), zap.String("class_id", classID))
	return a, nil
}

// GetAssignment returns one assignment.
func (s *Service) GetAssignment(ctx context.Context, id string) (Assignment, error) {
	return s.repo.GetAssignment(ctx, id)
}

// ListAssignmentsForClass lists the live assignments of a class.
func (s *Service) ListAssignmentsForClass(ctx context.Context, classID string) ([]Assignment, error) {
	if _, err := s.classes.GetClass(ctx, classID); err != nil {
		return nil, err
	}
	return s.repo.ListAssignments(ctx, []string{classID}, false)
}

// ListAssignmentsForStudent lists the assignments of every class the
// student is on, split into upcoming (due on or after today) and past.
// An empty today means the current date.
func (s *Service) ListAssignmentsForStudent(ctx context.Context, enrollment, today string) (StudentAssignments, error) {
	classes, err := s.classes.ListClassesForStudent(ctx, enrollment)
	if err != nil {
		return StudentAssignments{}, err
	}
	ids := make([]string, len(classes))
	for i, c := range classes {
		ids[i] = c.ClassID
	}
	assignments, err := s.repo.ListAssignments(ctx, ids, false)
	if err != nil {
		return StudentAssignments{}, err
	}
	submitted, err := s.repo.SubmittedAssignmentIDs(ctx, enrollment)
	if err != nil {
		return StudentAssignments{}, err
	}

	if today == "" {
		today = s.now().Format(dateLayout)
	}
	out := StudentAssignments{Upcoming: []StudentAssignment{}, Past: []StudentAssignment{}}
	for _, a := range assignments {
		sa := StudentAssignment{Assignment: a, Submitted: submitted[a.ID], PastDue: a.DueDate < today}
		if sa.PastDue {
			out.Past = append(out.Past, sa)
		} else {
			out.Upcoming = append(out.Upcoming, sa)
		}
	}
	return out, nil
}

// Submit records a student's answers. Past-due assignments are still
// accepted; a second submission is rejected.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (Submission, error) {
	a, err := s.repo.GetAssignment(ctx, in.AssignmentID)
	if err != nil {
		return Submission{}, err
	}
	if a.Archived {
		return Submission{}, apperror.ErrNotFound
	}
	class, err := s.classes.GetClass(ctx, a.ClassID)
	if err != nil {
		return Submission{}, err
	}
	if !class.HasStudent(in.StudentID) {
		return Submission{}, errors.Wrap(apperror.ErrForbidden, "not enrolled in this class")
	}

	if len(in.Answers) != len(a.Questions) {
		return Submission{}, apperror.Invalid("answers", "expected %d answers, got %d", len(a.Questions), len(in.Answers))
	}
	answers := make([]Answer, len(a.Questions))
	for i, q := range a.Questions {
		ans := strings.TrimSpace(in.Answers[i])
		if ans == "" {
			return Submission{}, apperror.Invalid(fmt.Sprintf("answers[%d]", i), "please answer all questions")
		}
		if q.Type == QuestionMCQ && !containsOption(q.Options, ans) {
			return Submission{}, apperror.Invalid(fmt.Sprintf("answers[%d]", i), "must be one of the options")
		}
		answers[i] = Answer{QuestionText: q.Text, Answer: ans}
	}

	done, err := s.repo.HasSubmission(ctx, a.ID, in.StudentID)
	if err != nil {
		return Submission{}, err
	}
	if done {
		return Submission{}, alreadySubmitted()
	}

	sub := Submission{ID: uuid.NewString(), AssignmentID: a.ID, StudentID: in.StudentID, Answers: answers}
	if in.File != nil && in.File.Reader != nil {
		path := fmt.Sprintf("submissions/%s/%s/%s/%s", a.ID, in.StudentID, sub.ID, filestore.CleanName(in.File.Filename))
		obj, err := s.files.Upload(ctx, path, in.File.ContentType, in.File.Reader)
		if err != nil {
			return Submission{}, apperror.Remote("files.upload", err)
		}
		sub.File = &obj
	}

	created, err := s.repo.CreateSubmission(ctx, sub)
	if err != nil {
		s.discardUpload(ctx, sub.File)
		if errors.Is(err, ErrAlreadySubmitted) {
			return Submission{}, alreadySubmitted()
		}
		return Submission{}, err
	}
	s.log.Info("assignment submitted",
		zap.String("assignment_id", a.ID),
		zap.String("student_id", in.StudentID),
		zap.Bool("with_file", created.File != nil),
	)
	return created, nil
}

// ListSubmissions lists the hand-ins of an assignment.
func (s *Service) ListSubmissions(ctx context.Context, assignmentID string) ([]Submission, error) {
	if _, err := s.repo.GetAssignment(ctx, assignmentID); err != nil {
		return nil, err
	}
	return s.repo.ListSubmissions(ctx, assignmentID)
}

// ArchiveForClass hides the assignments of a deleted class from students.
func (s *Service) ArchiveForClass(ctx context.Context, classID string) (int, error) {
	return s.repo.ArchiveForClass(ctx, classID)
}

// discardUpload removes a file whose submission was never stored.
func (s *Service) discardUpload(ctx context.Context, obj *filestore.Object) {
	if obj == nil {
		return
	}
	if err := s.files.Delete(ctx, obj.Path); err != nil {
		s.log.Warn("orphaned submission file", zap.String("path", obj.Path), zap.Error(err))
	}
}

func alreadySubmitted() error {
	return apperror.NewValidationError(ErrAlreadySubmitted,
		apperror.FieldError{Field: "assignment_id", Error: "already submitted"})
}

func containsOption(options []string, v string) bool {
	for _, o := range options {
		if o == v {
			return true
		}
	}
	return false
}
