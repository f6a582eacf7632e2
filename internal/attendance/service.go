package attendance

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"classroom/internal/apperror"
	"classroom/internal/classroom"
	"classroom/internal/metrics"
	"classroom/internal/queue"
)

// ClassReader is the part of the roster store attendance reads.
type ClassReader interface {
	GetClass(ctx context.Context, classID string) (classroom.Class, error)
	ListClassesForStudent(ctx context.Context, enrollment string) ([]classroom.Class, error)
}

// NameResolver maps enrollment numbers to student names.
type NameResolver interface {
	StudentNames(ctx context.Context, enrollments []string) (map[string]string, error)
}

// Submission is one roll call as entered by a staff member.
type Submission struct {
	ClassID     string   `json:"class_id"`
	Date        string   `json:"date"`
	Present     []string `json:"present"`
	SubmittedBy string   `json:"submitted_by"`
}

// Service writes and aggregates roll calls.
type Service struct {
	repo    Repository
	classes ClassReader
	names   NameResolver
	events  queue.Publisher
	log     *zap.Logger
	now     func() time.Time
}

// NewService creates a service backed by a repository.
func NewService(repo Repository, classes ClassReader, names NameResolver, events queue.Publisher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, classes: classes, names: names, events: events, log: log, now: time.Now}
}

// Submit writes the roll call of a class for one day. Every student on the
// current roster gets an explicit mark; students no longer on the roster
// keep whatever an earlier submission stored for them.
func (s *Service) Submit(ctx context.Context, in Submission) (Record, error) {
	if err := s.checkDate(in.Date); err != nil {
		return Record{}, err
	}
	class, err := s.classes.GetClass(ctx, in.ClassID)
	if err != nil {
		return Record{}, err
	}

	present := make(map[string]struct{}, len(in.Present))
	var strangers []string
	for _, id := range in.Present {
		id = strings.TrimSpace(id)
		if !class.HasStudent(id) {
			strangers = append(strangers, id)
			continue
		}
		present[id] = struct{}{}
	}
	if len(strangers) > 0 {
		sort.Strings(strangers)
		return Record{}, apperror.Invalid("present", "not enrolled in %s: %s", class.ClassID, strings.Join(strangers, ", "))
	}

	marks := make(map[string]bool, len(class.Students))
	for _, student := range class.Students {
		_, ok := present[student]
		marks[student] = ok
	}

	rec, err := s.repo.Merge(ctx, class.ClassID, in.Date, marks)
	if err != nil {
		return Record{}, err
	}
	metrics.AttendanceSubmissions.Inc()
	s.log.Info("attendance submitted",
		zap.String("class_id", class.ClassID),
		zap.String("date", in.Date),
		zap.Int("present", len(present)),
		zap.Int("roster", len(class.Students)),
	)
	queue.Emit(ctx, s.events, s.log, queue.TypeAttendanceSubmitted, queue.AttendanceSubmitted{
		ClassID:     class.ClassID,
		Date:        in.Date,
		Records:     marks,
		SubmittedBy: in.SubmittedBy,
	})
	return rec, nil
}

// Get returns the stored roll call, or an empty one when the day has not
// been submitted yet.
func (s *Service) Get(ctx context.Context, classID, date string) (Record, error) {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return Record{}, apperror.Invalid("date", "must be formatted as yyyy-mm-dd")
	}
	if _, err := s.classes.GetClass(ctx, classID); err != nil {
		return Record{}, err
	}
	rec, err := s.repo.Get(ctx, classID, date)
	if errors.Is(err, apperror.ErrNotFound) {
		return Record{ClassID: classID, Date: date, Records: map[string]bool{}}, nil
	}
	return rec, err
}

// Revisions lists the submissions of one roll call.
func (s *Service) Revisions(ctx context.Context, classID, date string) ([]Revision, error) {
	return s.repo.ListRevisions(ctx, classID, date)
}

// RecordRevision stores a submitted roll call for auditing.
func (s *Service) RecordRevision(ctx context.Context, rev Revision) error {
	return s.repo.AppendRevision(ctx, rev)
}

// CountForClass counts the stored roll calls of a class.
func (s *Service) CountForClass(ctx context.Context, classID string) (int, error) {
	return s.repo.CountForClass(ctx, classID)
}

func (s *Service) checkDate(date string) error {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return apperror.Invalid("date", "must be formatted as yyyy-mm-dd")
	}
	if d.Format(DateLayout) > s.now().Format(DateLayout) {
		return apperror.Invalid("date", "cannot record attendance for a future date")
	}
	return nil
}
