package classroom

import (
	"context"
	"database/sql"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"classroom/internal/apperror"
	"classroom/internal/store"
)

// PGRepository persists classes in Postgres.
type PGRepository struct {
	db *sql.DB
}

// NewPGRepository creates a repo.
func NewPGRepository(db *sql.DB) *PGRepository {
	return &PGRepository{db: db}
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const classColumns = `class_id, class_name, department, semester, capacity, room_number, subjects, created_at, updated_at`

// CreateClass inserts the class and its derived staff roster.
func (r *PGRepository) CreateClass(ctx context.Context, c Class) (Class, error) {
	subjects, err := sonic.Marshal(c.Subjects)
	if err != nil {
		return Class{}, errors.Wrap(err, "encode subjects")
	}
	err = store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO classes (class_id, class_name, department, semester, capacity, room_number, subjects)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, c.ClassID, c.ClassName, c.Department, c.Semester, c.Capacity, c.RoomNumber, subjects)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrClassExists
			}
			return errors.Wrap(err, "insert class")
		}
		return insertStaff(ctx, tx, c.ClassID, c.Staff)
	})
	if err != nil {
		return Class{}, remote("classes.create", err)
	}
	return r.GetClass(ctx, c.ClassID)
}

// GetClass loads a class with its rosters.
func (r *PGRepository) GetClass(ctx context.Context, classID string) (Class, error) {
	classes, err := loadClasses(ctx, r.db, `WHERE class_id = $1`, classID)
	if err != nil {
		return Class{}, apperror.Remote("classes.get", err)
	}
	if len(classes) == 0 {
		return Class{}, apperror.ErrNotFound
	}
	return classes[0], nil
}

// ListClasses returns every class ordered by id.
func (r *PGRepository) ListClasses(ctx context.Context) ([]Class, error) {
	classes, err := loadClasses(ctx, r.db, ``)
	return classes, apperror.Remote("classes.list", err)
}

// ListClassesForStaff returns the classes whose staff roster contains staffID.
func (r *PGRepository) ListClassesForStaff(ctx context.Context, staffID string) ([]Class, error) {
	classes, err := loadClasses(ctx, r.db,
		`WHERE class_id IN (SELECT class_id FROM class_staff WHERE staff_id = $1)`, staffID)
	return classes, apperror.Remote("classes.list_for_staff", err)
}

// ListClassesForStudent returns the classes whose student roster contains enrollment.
func (r *PGRepository) ListClassesForStudent(ctx context.Context, enrollment string) ([]Class, error) {
	classes, err := loadClasses(ctx, r.db,
		`WHERE class_id IN (SELECT class_id FROM class_students WHERE enrollment_number = $1)`, enrollment)
	return classes, apperror.Remote("classes.list_for_student", err)
}

// UpdateClass rewrites the class details and replaces the staff roster.
func (r *PGRepository) UpdateClass(ctx context.Context, c Class) (Class, error) {
	subjects, err := sonic.Marshal(c.Subjects)
	if err != nil {
		return Class{}, errors.Wrap(err, "encode subjects")
	}
	err = store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := lockClass(ctx, tx, c.ClassID); err != nil {
			return err
		}
		var enrolled int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM class_students WHERE class_id = $1`, c.ClassID).Scan(&enrolled); err != nil {
			return errors.Wrap(err, "count students")
		}
		if c.Capacity < enrolled {
			return ErrCapacityBelowRoster
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE classes
			SET class_name = $2, department = $3, semester = $4, capacity = $5, room_number = $6,
			    subjects = $7, updated_at = NOW()
			WHERE class_id = $1
		`, c.ClassID, c.ClassName, c.Department, c.Semester, c.Capacity, c.RoomNumber, subjects); err != nil {
			return errors.Wrap(err, "update class")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM class_staff WHERE class_id = $1`, c.ClassID); err != nil {
			return errors.Wrap(err, "reset staff")
		}
		return insertStaff(ctx, tx, c.ClassID, c.Staff)
	})
	if err != nil {
		return Class{}, remote("classes.update", err)
	}
	return r.GetClass(ctx, c.ClassID)
}

// DeleteClass removes the class; memberships go with it through the foreign keys.
func (r *PGRepository) DeleteClass(ctx context.Context, classID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM classes WHERE class_id = $1`, classID)
	if err != nil {
		return apperror.Remote("classes.delete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.ErrNotFound
	}
	return nil
}

// AddStudent enrolls a student after checking the user exists, is not yet
// enrolled and the class has room, all under a row lock on the class.
func (r *PGRepository) AddStudent(ctx context.Context, classID, enrollment string) (Class, error) {
	err := store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		capacity, err := lockCapacity(ctx, tx, classID)
		if err != nil {
			return err
		}
		var exists bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM users WHERE enrollment_number = $1 AND role = 'student')
		`, enrollment).Scan(&exists); err != nil {
			return errors.Wrap(err, "lookup student")
		}
		if !exists {
			return ErrUnknownStudent
		}
		var count int
		var enrolled bool
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*), COALESCE(BOOL_OR(enrollment_number = $2), FALSE)
			FROM class_students WHERE class_id = $1
		`, classID, enrollment).Scan(&count, &enrolled); err != nil {
			return errors.Wrap(err, "count students")
		}
		if enrolled {
			return ErrAlreadyEnrolled
		}
		if count >= capacity {
			return ErrClassFull
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO class_students (class_id, enrollment_number) VALUES ($1, $2)`, classID, enrollment)
		return errors.Wrap(err, "insert student")
	})
	if err != nil {
		return Class{}, remote("classes.add_student", err)
	}
	return r.GetClass(ctx, classID)
}

// RemoveStudent unenrolls a student; removing a non-member is an error.
func (r *PGRepository) RemoveStudent(ctx context.Context, classID, enrollment string) (Class, error) {
	err := store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := lockClass(ctx, tx, classID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM class_students WHERE class_id = $1 AND enrollment_number = $2`, classID, enrollment)
		if err != nil {
			return errors.Wrap(err, "delete student")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotEnrolled
		}
		return nil
	})
	if err != nil {
		return Class{}, remote("classes.remove_student", err)
	}
	return r.GetClass(ctx, classID)
}

// AddStaff assigns a staff member to the class.
func (r *PGRepository) AddStaff(ctx context.Context, classID, staffID string) (Class, error) {
	err := store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := lockClass(ctx, tx, classID); err != nil {
			return err
		}
		var exists bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM users WHERE staff_id = $1 AND role = 'staff')
		`, staffID).Scan(&exists); err != nil {
			return errors.Wrap(err, "lookup staff")
		}
		if !exists {
			return ErrUnknownStaff
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO class_staff (class_id, staff_id) VALUES ($1, $2)
			ON CONFLICT (class_id, staff_id) DO NOTHING
		`, classID, staffID)
		if err != nil {
			return errors.Wrap(err, "insert staff")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrAlreadyAssigned
		}
		return nil
	})
	if err != nil {
		return Class{}, remote("classes.add_staff", err)
	}
	return r.GetClass(ctx, classID)
}

// RemoveStaff unassigns a staff member.
func (r *PGRepository) RemoveStaff(ctx context.Context, classID, staffID string) (Class, error) {
	err := store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := lockClass(ctx, tx, classID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM class_staff WHERE class_id = $1 AND staff_id = $2`, classID, staffID)
		if err != nil {
			return errors.Wrap(err, "delete staff")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotAssigned
		}
		return nil
	})
	if err != nil {
		return Class{}, remote("classes.remove_staff", err)
	}
	return r.GetClass(ctx, classID)
}

func lockClass(ctx context.Context, tx *sql.Tx, classID string) error {
	_, err := lockCapacity(ctx, tx, classID)
	return err
}

func lockCapacity(ctx context.Context, tx *sql.Tx, classID string) (int, error) {
	var capacity int
	err := tx.QueryRowContext(ctx,
		`SELECT capacity FROM classes WHERE class_id = $1 FOR UPDATE`, classID).Scan(&capacity)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperror.ErrNotFound
	}
	return capacity, errors.Wrap(err, "lock class")
}

func insertStaff(ctx context.Context, tx *sql.Tx, classID string, staff []string) error {
	for _, id := range staff {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO class_staff (class_id, staff_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			classID, id); err != nil {
			return errors.Wrap(err, "insert staff")
		}
	}
	return nil
}

// loadClasses selects classes matching where and attaches their rosters.
func loadClasses(ctx context.Context, q querier, where string, args ...any) ([]Class, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+classColumns+` FROM classes `+where+` ORDER BY class_id`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select classes")
	}
	defer rows.Close()

	var classes []Class
	index := map[string]int{}
	for rows.Next() {
		var c Class
		var subjects []byte
		if err := rows.Scan(&c.ClassID, &c.ClassName, &c.Department, &c.Semester, &c.Capacity,
			&c.RoomNumber, &subjects, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan class")
		}
		if err := sonic.Unmarshal(subjects, &c.Subjects); err != nil {
			return nil, errors.Wrapf(err, "decode subjects of %s", c.ClassID)
		}
		c.Students = []string{}
		c.Staff = []string{}
		index[c.ClassID] = len(classes)
		classes = append(classes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate classes")
	}
	if len(classes) == 0 {
		return []Class{}, nil
	}

	ids := make([]string, len(classes))
	for i, c := range classes {
		ids[i] = c.ClassID
	}
	if err := attachMembers(ctx, q, `SELECT class_id, enrollment_number FROM class_students
		WHERE class_id = ANY($1) ORDER BY seq`, ids, func(i int, member string) {
		classes[i].Students = append(classes[i].Students, member)
	}, index); err != nil {
		return nil, err
	}
	if err := attachMembers(ctx, q, `SELECT class_id, staff_id FROM class_staff
		WHERE class_id = ANY($1) ORDER BY seq`, ids, func(i int, member string) {
		classes[i].Staff = append(classes[i].Staff, member)
	}, index); err != nil {
		return nil, err
	}
	return classes, nil
}

func attachMembers(ctx context.Context, q querier, query string, ids []string, add func(int, string), index map[string]int) error {
	rows, err := q.QueryContext(ctx, query, ids)
	if err != nil {
		return errors.Wrap(err, "select members")
	}
	defer rows.Close()
	for rows.Next() {
		var classID, member string
		if err := rows.Scan(&classID, &member); err != nil {
			return errors.Wrap(err, "scan member")
		}
		if i, ok := index[classID]; ok {
			add(i, member)
		}
	}
	return errors.Wrap(rows.Err(), "iterate members")
}

// remote passes domain errors through and wraps everything else.
func remote(op string, err error) error {
	if isDomainError(err) {
		return err
	}
	return apperror.Remote(op, err)
}

func isDomainError(err error) bool {
	for _, target := range []error{
		apperror.ErrNotFound, ErrClassExists, ErrUnknownStudent, ErrAlreadyEnrolled, ErrNotEnrolled,
		ErrClassFull, ErrUnknownStaff, ErrAlreadyAssigned, ErrNotAssigned, ErrCapacityBelowRoster,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
