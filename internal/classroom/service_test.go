package classroom

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classroom/internal/apperror"
	"classroom/internal/queue"
)

type fakeDirectory struct {
	students map[string]bool
	staff    map[string]bool
}

func (d fakeDirectory) StudentExists(_ context.Context, enrollment string) (bool, error) {
	return d.students[enrollment], nil
}

func (d fakeDirectory) StaffExists(_ context.Context, staffID string) (bool, error) {
	return d.staff[staffID], nil
}

func newTestService(t *testing.T) (*Service, *queue.InMemory) {
	t.Helper()
	dir := fakeDirectory{
		students: map[string]bool{},
		staff:    map[string]bool{"STF-001": true, "STF-002": true, "STF-003": true},
	}
	for i := 0; i < 20; i++ {
		dir.students[fmt.Sprintf("2024CS%03d", i)] = true
	}
	q := queue.NewInMemory(128)
	return NewService(NewMemoryRepository(dir), dir, q, nil), q
}

func sampleInput() ClassInput {
	return ClassInput{
		ClassID:    "CS-101",
		ClassName:  "Intro to CS",
		Department: "Computer Science",
		Semester:   1,
		Capacity:   3,
		RoomNumber: "B12",
		Subjects: []Subject{
			{SubjectName: "Algorithms", StaffID: "STF-001"},
			{SubjectName: "Databases", StaffID: "STF-002"},
			{SubjectName: "Networks", StaffID: "STF-001"},
			{SubjectName: "Ethics"},
		},
	}
}

func requireValidation(t *testing.T, err error, target error) {
	t.Helper()
	var verr *apperror.ValidationError
	require.True(t, errors.As(err, &verr), "expected validation error, got %v", err)
	if target != nil {
		assert.True(t, errors.Is(err, target), "expected %v, got %v", target, err)
	}
}

func TestStaffFromSubjects(t *testing.T) {
	tests := []struct {
		name     string
		subjects []Subject
		want     []string
	}{
		{"empty", nil, []string{}},
		{"skips blanks", []Subject{{StaffID: ""}, {StaffID: "  "}}, []string{}},
		{"dedupes in order", []Subject{{StaffID: "b"}, {StaffID: "a"}, {StaffID: "b"}}, []string{"b", "a"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StaffFromSubjects(tc.subjects))
		})
	}
}

func TestCreateClassDerivesStaff(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	c, err := svc.CreateClass(ctx, sampleInput())
	require.NoError(t, err)
	assert.Equal(t, []string{"STF-001", "STF-002"}, c.Staff)
	assert.Len(t, c.Staff, len(StaffFromSubjects(c.Subjects)))
	assert.Empty(t, c.Students)

	_, err = svc.CreateClass(ctx, sampleInput())
	requireValidation(t, err, nil)
}

func TestCreateClassGeneratesID(t *testing.T) {
	svc, _ := newTestService(t)
	in := sampleInput()
	in.ClassID = ""

	c, err := svc.CreateClass(context.Background(), in)
	require.NoError(t, err)
	assert.Len(t, c.ClassID, 5)
	assert.Equal(t, "CO", c.ClassID[:2])
}

func TestCreateClassRejectsBadInput(t *testing.T) {
	svc, _ := newTestService(t)

	in := sampleInput()
	in.Subjects = append(in.Subjects, Subject{SubjectName: "Art", StaffID: "STF-999"})
	_, err := svc.CreateClass(context.Background(), in)
	requireValidation(t, err, nil)

	in = sampleInput()
	in.ClassName = " "
	_, err = svc.CreateClass(context.Background(), in)
	requireValidation(t, err, nil)
}

func TestAddStudentTwiceRejected(t *testing.T) {
	svc, q := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateClass(ctx, sampleInput())
	require.NoError(t, err)

	c, err := svc.AddStudent(ctx, "CS-101", "2024CS001")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024CS001"}, c.Students)
	assert.Equal(t, 1, q.Len())

	_, err = svc.AddStudent(ctx, "CS-101", "2024CS001")
	requireValidation(t, err, ErrAlreadyEnrolled)
	assert.Equal(t, 1, q.Len())
}

func TestAddStudentUnknownOrMissingClass(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateClass(ctx, sampleInput())
	require.NoError(t, err)

	_, err = svc.AddStudent(ctx, "CS-101", "1999XX000")
	requireValidation(t, err, ErrUnknownStudent)

	_, err = svc.AddStudent(ctx, "NOPE", "2024CS001")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestRemoveNonMemberRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateClass(ctx, sampleInput())
	require.NoError(t, err)

	_, err = svc.RemoveStudent(ctx, "CS-101", "2024CS002")
	requireValidation(t, err, ErrNotEnrolled)

	_, err = svc.RemoveStaff(ctx, "CS-101", "STF-003")
	requireValidation(t, err, ErrNotAssigned)
}

func TestCapacityHoldsUnderConcurrentAdds(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateClass(ctx, sampleInput())
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	added, full := 0, 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.AddStudent(ctx, "CS-101", fmt.Sprintf("2024CS%03d", i))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				added++
			} else if errors.Is(err, ErrClassFull) {
				full++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 3, added)
	assert.Equal(t, 7, full)
	c, err := svc.GetClass(ctx, "CS-101")
	require.NoError(t, err)
	assert.Len(t, c.Students, 3)
}

func TestUpdateClass(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateClass(ctx, sampleInput())
	require.NoError(t, err)
	_, err = svc.AddStaff(ctx, "CS-101", "STF-003")
	require.NoError(t, err)
	for _, s := range []string{"2024CS001", "2024CS002"} {
		_, err = svc.AddStudent(ctx, "CS-101", s)
		require.NoError(t, err)
	}

	in := sampleInput()
	in.Capacity = 1
	_, err = svc.UpdateClass(ctx, "CS-101", in)
	requireValidation(t, err, ErrCapacityBelowRoster)

	in = sampleInput()
	in.Subjects = []Subject{{SubjectName: "Compilers", StaffID: "STF-002"}}
	c, err := svc.UpdateClass(ctx, "CS-101", in)
	require.NoError(t, err)
	assert.Equal(t, []string{"STF-002"}, c.Staff)
	assert.Equal(t, []string{"2024CS001", "2024CS002"}, c.Students)

	_, err = svc.UpdateClass(ctx, "NOPE", sampleInput())
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestInverseLookups(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateClass(ctx, sampleInput())
	require.NoError(t, err)
	other := sampleInput()
	other.ClassID = "CS-102"
	other.Subjects = []Subject{{SubjectName: "Graphics", StaffID: "STF-003"}}
	_, err = svc.CreateClass(ctx, other)
	require.NoError(t, err)
	_, err = svc.AddStudent(ctx, "CS-102", "2024CS005")
	require.NoError(t, err)

	staffClasses, err := svc.ListClassesForStaff(ctx, "STF-001")
	require.NoError(t, err)
	require.Len(t, staffClasses, 1)
	assert.Equal(t, "CS-101", staffClasses[0].ClassID)

	studentClasses, err := svc.ListClassesForStudent(ctx, "2024CS005")
	require.NoError(t, err)
	require.Len(t, studentClasses, 1)
	assert.Equal(t, "CS-102", studentClasses[0].ClassID)
}

func TestDeleteClassPublishesEvent(t *testing.T) {
	svc, q := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateClass(ctx, sampleInput())
	require.NoError(t, err)

	require.NoError(t, svc.DeleteClass(ctx, "CS-101"))
	assert.ErrorIs(t, svc.DeleteClass(ctx, "CS-101"), apperror.ErrNotFound)

	ch, err := q.Consume(ctx)
	require.NoError(t, err)
	msg := <-ch
	assert.Equal(t, queue.TypeClassDeleted, msg.Type)
}
