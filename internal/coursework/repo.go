package coursework

import (
	"context"
	"database/sql"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"classroom/internal/apperror"
	"classroom/internal/filestore"
)

// PGRepository persists coursework in Postgres.
type PGRepository struct {
	db *sql.DB
}

// NewPGRepository creates a repo.
func NewPGRepository(db *sql.DB) *PGRepository {
	return &PGRepository{db: db}
}

const assignmentColumns = `id, class_id, assignment_name, to_char(due_date, 'YYYY-MM-DD'), questions, archived, created_at`

func (r *PGRepository) CreateAssignment(ctx context.Context, a Assignment) (Assignment, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	questions, err := sonic.Marshal(a.Questions)
	if err != nil {
		return Assignment{}, errors.Wrap(err, "encode questions")
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO assignments (id, class_id, assignment_name, due_date, questions)
		VALUES ($1, $2, $3, $4::date, $5::jsonb)
		RETURNING `+assignmentColumns,
		a.ID, a.ClassID, a.AssignmentName, a.DueDate, string(questions))
	created, err := scanAssignment(row)
	if err != nil {
		return Assignment{}, apperror.Remote("assignments.create", err)
	}
	return created, nil
}

func (r *PGRepository) GetAssignment(ctx context.Context, id string) (Assignment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Assignment{}, apperror.ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE id = $1`, id)
	a, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Assignment{}, apperror.ErrNotFound
	}
	if err != nil {
		return Assignment{}, apperror.Remote("assignments.get", err)
	}
	return a, nil
}

// ListAssignments returns the assignments of the given classes by due date.
func (r *PGRepository) ListAssignments(ctx context.Context, classIDs []string, includeArchived bool) ([]Assignment, error) {
	if len(classIDs) == 0 {
		return []Assignment{}, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+assignmentColumns+`
		FROM assignments
		WHERE class_id = ANY($1) AND ($2 OR NOT archived)
		ORDER BY due_date, created_at
	`, classIDs, includeArchived)
	if err != nil {
		return nil, apperror.Remote("assignments.list", err)
	}
	defer rows.Close()

	out := []Assignment{}
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, apperror.Remote("assignments.list", err)
		}
		out = append(out, a)
	}
	return out, apperror.Remote("assignments.list", rows.Err())
}

func (r *PGRepository) ArchiveForClass(ctx context.Context, classID string) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE assignments SET archived = TRUE WHERE class_id = $1 AND NOT archived`, classID)
	if err != nil {
		return 0, apperror.Remote("assignments.archive", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *PGRepository) CreateSubmission(ctx context.Context, s Submission) (Submission, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	answers, err := sonic.Marshal(s.Answers)
	if err != nil {
		return Submission{}, errors.Wrap(err, "encode answers")
	}
	var file filestore.Object
	if s.File != nil {
		file = *s.File
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO submissions (id, assignment_id, student_id, answers, file_path, file_url, file_type, file_size)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8)
		RETURNING id, assignment_id, student_id, answers, file_path, file_url, file_type, file_size, graded, submitted_at
	`, s.ID, s.AssignmentID, s.StudentID, string(answers), file.Path, file.URL, file.ContentType, file.Size)
	created, err := scanSubmission(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Submission{}, ErrAlreadySubmitted
		}
		return Submission{}, apperror.Remote("submissions.create", err)
	}
	return created, nil
}

func (r *PGRepository) HasSubmission(ctx context.Context, assignmentID, studentID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM submissions WHERE assignment_id = $1 AND student_id = $2)
	`, assignmentID, studentID).Scan(&exists)
	return exists, apperror.Remote("submissions.exists", err)
}

func (r *PGRepository) ListSubmissions(ctx context.Context, assignmentID string) ([]Submission, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, assignment_id, student_id, answers, file_path, file_url, file_type, file_size, graded, submitted_at
		FROM submissions
		WHERE assignment_id = $1
		ORDER BY submitted_at
	`, assignmentID)
	if err != nil {
		return nil, apperror.Remote("submissions.list", err)
	}
	defer rows.Close()

	out := []Submission{}
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, apperror.Remote("submissions.list", err)
		}
		out = append(out, s)
	}
	return out, apperror.Remote("submissions.list", rows.Err())
}

func (r *PGRepository) SubmittedAssignmentIDs(ctx context.Context, studentID string) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT assignment_id FROM submissions WHERE student_id = $1`, studentID)
	if err != nil {
		return nil, apperror.Remote("submissions.by_student", err)
	}
	defer rows.Close()

	ids := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperror.Remote("submissions.by_student", err)
		}
		ids[id] = true
	}
	return ids, apperror.Remote("submissions.by_student", rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAssignment(s scanner) (Assignment, error) {
	var a Assignment
	var questions []byte
	if err := s.Scan(&a.ID, &a.ClassID, &a.AssignmentName, &a.DueDate, &questions, &a.Archived, &a.CreatedAt); err != nil {
		return Assignment{}, err
	}
	if err := sonic.Unmarshal(questions, &a.Questions); err != nil {
		return Assignment{}, errors.Wrapf(err, "decode questions of %s", a.ID)
	}
	return a, nil
}

func scanSubmission(s scanner) (Submission, error) {
	var sub Submission
	var answers []byte
	var file filestore.Object
	var submittedAt time.Time
	if err := s.Scan(&sub.ID, &sub.AssignmentID, &sub.StudentID, &answers, &file.Path, &file.URL,
		&file.ContentType, &file.Size, &sub.Graded, &submittedAt); err != nil {
		return Submission{}, err
	}
	if err := sonic.Unmarshal(answers, &sub.Answers); err != nil {
		return Submission{}, errors.Wrapf(err, "decode answers of %s", sub.ID)
	}
	if file.Path != "" {
		sub.File = &file
	}
	sub.SubmittedAt = submittedAt
	return sub, nil
}
