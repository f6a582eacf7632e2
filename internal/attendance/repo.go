package attendance

import (
	"context"
	"database/sql"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"classroom/internal/apperror"
)

// PGRepository persists attendance data in Postgres.
type PGRepository struct {
	db *sql.DB
}

// NewPGRepository creates a repo.
func NewPGRepository(db *sql.DB) *PGRepository {
	return &PGRepository{db: db}
}

// Merge upserts with JSONB concatenation so later keys win and older keys survive.
func (r *PGRepository) Merge(ctx context.Context, classID, date string, records map[string]bool) (Record, error) {
	body, err := sonic.Marshal(records)
	if err != nil {
		return Record{}, errors.Wrap(err, "encode records")
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance (class_id, date, records)
		VALUES ($1, $2::date, $3::jsonb)
		ON CONFLICT (class_id, date)
		DO UPDATE SET records = attendance.records || EXCLUDED.records, updated_at = NOW()
		RETURNING class_id, to_char(date, 'YYYY-MM-DD'), records, updated_at
	`, classID, date, string(body))
	rec, err := scanRecord(row)
	if err != nil {
		return Record{}, apperror.Remote("attendance.merge", err)
	}
	return rec, nil
}

// Get loads one roll call.
func (r *PGRepository) Get(ctx context.Context, classID, date string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT class_id, to_char(date, 'YYYY-MM-DD'), records, updated_at
		FROM attendance
		WHERE class_id = $1 AND date = $2::date
	`, classID, date)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, apperror.ErrNotFound
	}
	if err != nil {
		return Record{}, apperror.Remote("attendance.get", err)
	}
	return rec, nil
}

// ListForClasses returns every roll call of the given classes ordered by date.
func (r *PGRepository) ListForClasses(ctx context.Context, classIDs []string) ([]Record, error) {
	if len(classIDs) == 0 {
		return []Record{}, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT class_id, to_char(date, 'YYYY-MM-DD'), records, updated_at
		FROM attendance
		WHERE class_id = ANY($1)
		ORDER BY date, class_id
	`, classIDs)
	if err != nil {
		return nil, apperror.Remote("attendance.list", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, apperror.Remote("attendance.list", err)
		}
		records = append(records, rec)
	}
	return records, apperror.Remote("attendance.list", rows.Err())
}

// CountForClass counts the stored roll calls of a class.
func (r *PGRepository) CountForClass(ctx context.Context, classID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attendance WHERE class_id = $1`, classID).Scan(&n)
	return n, apperror.Remote("attendance.count", err)
}

// AppendRevision stores a submitted roll call.
func (r *PGRepository) AppendRevision(ctx context.Context, rev Revision) error {
	if rev.ID == "" {
		rev.ID = uuid.NewString()
	}
	if rev.SubmittedAt.IsZero() {
		rev.SubmittedAt = time.Now().UTC()
	}
	body, err := sonic.Marshal(rev.Records)
	if err != nil {
		return errors.Wrap(err, "encode records")
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO attendance_revisions (id, class_id, date, records, submitted_by, submitted_at)
		VALUES ($1, $2, $3::date, $4::jsonb, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, rev.ID, rev.ClassID, rev.Date, string(body), rev.SubmittedBy, rev.SubmittedAt)
	return apperror.Remote("attendance.append_revision", err)
}

// ListRevisions returns the revisions of one roll call, oldest first.
func (r *PGRepository) ListRevisions(ctx context.Context, classID, date string) ([]Revision, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, class_id, to_char(date, 'YYYY-MM-DD'), records, submitted_by, submitted_at
		FROM attendance_revisions
		WHERE class_id = $1 AND date = $2::date
		ORDER BY submitted_at
	`, classID, date)
	if err != nil {
		return nil, apperror.Remote("attendance.list_revisions", err)
	}
	defer rows.Close()

	revs := []Revision{}
	for rows.Next() {
		var rev Revision
		var body []byte
		if err := rows.Scan(&rev.ID, &rev.ClassID, &rev.Date, &body, &rev.SubmittedBy, &rev.SubmittedAt); err != nil {
			return nil, apperror.Remote("attendance.list_revisions", err)
		}
		if err := sonic.Unmarshal(body, &rev.Records); err != nil {
			return nil, errors.Wrap(err, "decode revision")
		}
		revs = append(revs, rev)
	}
	return revs, apperror.Remote("attendance.list_revisions", rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var rec Record
	var body []byte
	if err := s.Scan(&rec.ClassID, &rec.Date, &body, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	rec.Records = map[string]bool{}
	if err := sonic.Unmarshal(body, &rec.Records); err != nil {
		return Record{}, errors.Wrapf(err, "decode records of %s", rec.ID())
	}
	return rec, nil
}
