package classroom

import (
	"context"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classroom/internal/apperror"
)

// passthrough lets array arguments such as ANY($1) reach the mock untouched.
type passthrough struct{}

func (passthrough) ConvertValue(v any) (driver.Value, error) { return v, nil }

func newMockRepo(t *testing.T) (*PGRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(passthrough{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPGRepository(db), mock
}

var lit = regexp.QuoteMeta

func expectLock(mock sqlmock.Sqlmock, classID string, capacity int) {
	mock.ExpectQuery(lit(`SELECT capacity FROM classes WHERE class_id = $1 FOR UPDATE`)).
		WithArgs(classID).
		WillReturnRows(sqlmock.NewRows([]string{"capacity"}).AddRow(capacity))
}

func expectStudentLookup(mock sqlmock.Sqlmock, enrollment string, exists bool) {
	mock.ExpectQuery(lit(`SELECT EXISTS (SELECT 1 FROM users WHERE enrollment_number = $1 AND role = 'student')`)).
		WithArgs(enrollment).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(exists))
}

func expectRosterCount(mock sqlmock.Sqlmock, classID, enrollment string, count int, enrolled bool) {
	mock.ExpectQuery(lit(`SELECT COUNT(*), COALESCE(BOOL_OR(enrollment_number = $2), FALSE)`)).
		WithArgs(classID, enrollment).
		WillReturnRows(sqlmock.NewRows([]string{"count", "enrolled"}).AddRow(count, enrolled))
}

func expectLoadClass(mock sqlmock.Sqlmock, classID string, students ...string) {
	now := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(lit(`FROM classes WHERE class_id = $1 ORDER BY class_id`)).
		WithArgs(classID).
		WillReturnRows(sqlmock.NewRows([]string{
			"class_id", "class_name", "department", "semester", "capacity", "room_number", "subjects", "created_at", "updated_at",
		}).AddRow(classID, "Physics", "Science", 1, 30, "R1", []byte(`[]`), now, now))
	members := sqlmock.NewRows([]string{"class_id", "enrollment_number"})
	for _, s := range students {
		members.AddRow(classID, s)
	}
	mock.ExpectQuery(lit(`SELECT class_id, enrollment_number FROM class_students`)).WillReturnRows(members)
	mock.ExpectQuery(lit(`SELECT class_id, staff_id FROM class_staff`)).
		WillReturnRows(sqlmock.NewRows([]string{"class_id", "staff_id"}))
}

func TestPGAddStudent(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	expectLock(mock, "c1", 2)
	expectStudentLookup(mock, "s1", true)
	expectRosterCount(mock, "c1", "s1", 1, false)
	mock.ExpectExec(lit(`INSERT INTO class_students (class_id, enrollment_number) VALUES ($1, $2)`)).
		WithArgs("c1", "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	expectLoadClass(mock, "c1", "s0", "s1")

	c, err := repo.AddStudent(context.Background(), "c1", "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s0", "s1"}, c.Students)
	assert.Equal(t, []string{}, c.Staff)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGAddStudentRejections(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		exists   bool
		count    int
		enrolled bool
		want     error
	}{
		{"full", 2, true, 2, false, ErrClassFull},
		{"already enrolled", 2, true, 1, true, ErrAlreadyEnrolled},
		{"enrolled wins over full", 1, true, 1, true, ErrAlreadyEnrolled},
		{"unknown student", 2, false, 0, false, ErrUnknownStudent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo, mock := newMockRepo(t)
			mock.ExpectBegin()
			expectLock(mock, "c1", tc.capacity)
			expectStudentLookup(mock, "s1", tc.exists)
			if tc.exists {
				expectRosterCount(mock, "c1", "s1", tc.count, tc.enrolled)
			}
			mock.ExpectRollback()

			_, err := repo.AddStudent(context.Background(), "c1", "s1")
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPGAddStudentMissingClass(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery(lit(`SELECT capacity FROM classes`)).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"capacity"}))
	mock.ExpectRollback()

	_, err := repo.AddStudent(context.Background(), "nope", "s1")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGRemoveStudentNotEnrolled(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	expectLock(mock, "c1", 2)
	mock.ExpectExec(lit(`DELETE FROM class_students WHERE class_id = $1 AND enrollment_number = $2`)).
		WithArgs("c1", "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.RemoveStudent(context.Background(), "c1", "ghost")
	assert.True(t, errors.Is(err, ErrNotEnrolled))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStaffRosterConflicts(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	expectLock(mock, "c1", 2)
	mock.ExpectQuery(lit(`SELECT EXISTS (SELECT 1 FROM users WHERE staff_id = $1 AND role = 'staff')`)).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(lit(`INSERT INTO class_staff (class_id, staff_id) VALUES ($1, $2)`)).
		WithArgs("c1", "t1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.AddStaff(context.Background(), "c1", "t1")
	assert.True(t, errors.Is(err, ErrAlreadyAssigned))

	mock.ExpectBegin()
	expectLock(mock, "c1", 2)
	mock.ExpectExec(lit(`DELETE FROM class_staff WHERE class_id = $1 AND staff_id = $2`)).
		WithArgs("c1", "t2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err = repo.RemoveStaff(context.Background(), "c1", "t2")
	assert.True(t, errors.Is(err, ErrNotAssigned))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGCreateClassDuplicate(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec(lit(`INSERT INTO classes`)).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value"})
	mock.ExpectRollback()

	_, err := repo.CreateClass(context.Background(), Class{ClassID: "c1", ClassName: "Physics", Capacity: 10})
	assert.True(t, errors.Is(err, ErrClassExists))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGUpdateClassBelowRoster(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	expectLock(mock, "c1", 5)
	mock.ExpectQuery(lit(`SELECT COUNT(*) FROM class_students WHERE class_id = $1`)).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectRollback()

	_, err := repo.UpdateClass(context.Background(), Class{ClassID: "c1", Capacity: 2})
	assert.True(t, errors.Is(err, ErrCapacityBelowRoster))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGDriverFailureIsRemote(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	_, err := repo.AddStudent(context.Background(), "c1", "s1")
	var remoteErr *apperror.RemoteOperationError
	require.True(t, errors.As(err, &remoteErr))
	assert.Equal(t, "classes.add_student", remoteErr.Op)

	mock.ExpectExec(lit(`DELETE FROM classes WHERE class_id = $1`)).
		WithArgs("gone").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.True(t, errors.Is(repo.DeleteClass(context.Background(), "gone"), apperror.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
