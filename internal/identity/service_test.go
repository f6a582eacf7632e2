package identity

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classroom/internal/apperror"
	"classroom/internal/auth"
	"classroom/internal/classroom"
	"classroom/internal/mailer"
)

type staticClasses []classroom.Class

func (s staticClasses) ListClasses(context.Context) ([]classroom.Class, error) {
	return s, nil
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
}

func (m *recordingMailer) Send(_ context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

var testTokens = TokenConfig{
	Issuer:     "classroom-test",
	SigningKey: "secret",
	AccessTTL:  time.Minute,
	RefreshTTL: time.Hour,
	ResetTTL:   time.Hour,
}

func newTestService(classes ...classroom.Class) (*Service, *recordingMailer) {
	m := &recordingMailer{}
	return NewService(NewMemoryRepository(), staticClasses(classes), m, testTokens, "https://app.example/", nil), m
}

func student(email, enrollment string) NewUser {
	return NewUser{Email: email, Password: "secret1", Name: "Student " + enrollment, Role: RoleStudent, EnrollmentNumber: enrollment}
}

func TestDocID(t *testing.T) {
	assert.Equal(t, "annlee1examplecom", DocID(" Ann.Lee+1@Example.com "))
	assert.Equal(t, "", DocID("@."))
}

func TestCreateUserErrors(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, student("a@school.edu", "2024CS001"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		in    NewUser
		check func(t *testing.T, err error)
	}{
		{
			name: "short password",
			in:   NewUser{Email: "b@school.edu", Password: "12345", Name: "B", Role: RoleStaff},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, apperror.ErrInvalidPassword)
			},
		},
		{
			name: "email taken, different case",
			in:   student("A@School.edu", "2024CS002"),
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, apperror.ErrEmailExists)
			},
		},
		{
			name: "bad email",
			in:   NewUser{Email: "nope", Password: "secret1", Name: "C", Role: RoleStaff},
			check: func(t *testing.T, err error) {
				var verr *apperror.ValidationError
				assert.True(t, errors.As(err, &verr))
			},
		},
		{
			name: "bad role",
			in:   NewUser{Email: "d@school.edu", Password: "secret1", Name: "D", Role: "parent"},
			check: func(t *testing.T, err error) {
				var verr *apperror.ValidationError
				assert.True(t, errors.As(err, &verr))
			},
		},
		{
			name: "enrollment taken",
			in:   student("e@school.edu", "2024CS001"),
			check: func(t *testing.T, err error) {
				var verr *apperror.ValidationError
				require.True(t, errors.As(err, &verr))
				assert.ErrorIs(t, err, ErrKeyExists)
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateUser(ctx, tc.in)
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestCreateUserGeneratesKeys(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	s, err := svc.CreateUser(ctx, NewUser{
		Email: "m@school.edu", Password: "secret1", Name: "M", Role: RoleStudent,
		Program: "mechanical", AdmissionYear: 2023,
	})
	require.NoError(t, err)
	assert.Len(t, s.EnrollmentNumber, 9)
	assert.True(t, strings.HasPrefix(s.EnrollmentNumber, "2023ME"), s.EnrollmentNumber)
	assert.Equal(t, "mschooledu", s.ID)

	st, err := svc.CreateUser(ctx, NewUser{Email: "t@school.edu", Password: "secret1", Name: "T", Role: RoleStaff})
	require.NoError(t, err)
	assert.Regexp(t, `^STF-[0-9A-F]{3}$`, st.StaffID)
	assert.Empty(t, st.EnrollmentNumber)
}

func TestSignInAndRefresh(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	_, err := svc.CreateUser(ctx, student("a@school.edu", "2024CS001"))
	require.NoError(t, err)

	_, err = svc.SignIn(ctx, "a@school.edu", "wrong!")
	assert.ErrorIs(t, err, apperror.ErrInvalidCredentials)
	_, err = svc.SignIn(ctx, "ghost@school.edu", "secret1")
	assert.ErrorIs(t, err, apperror.ErrInvalidCredentials)

	sess, err := svc.SignIn(ctx, " A@school.edu", "secret1")
	require.NoError(t, err)
	claims, err := auth.Parse(sess.Tokens.AccessToken, testTokens.SigningKey, testTokens.Issuer, auth.KindAccess)
	require.NoError(t, err)
	assert.Equal(t, "student", claims.Role)
	assert.Equal(t, "2024CS001", claims.EnrollmentNumber)

	refreshed, err := svc.Refresh(ctx, sess.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "aschooledu", refreshed.User.ID)

	_, err = svc.Refresh(ctx, sess.Tokens.AccessToken)
	assert.ErrorIs(t, err, apperror.ErrInvalidToken)
}

func TestPasswordReset(t *testing.T) {
	svc, mail := newTestService()
	ctx := context.Background()
	_, err := svc.CreateUser(ctx, student("a@school.edu", "2024CS001"))
	require.NoError(t, err)

	require.NoError(t, svc.SendPasswordReset(ctx, "ghost@school.edu"))
	assert.Empty(t, mail.sent)

	require.NoError(t, svc.SendPasswordReset(ctx, "a@school.edu"))
	require.Len(t, mail.sent, 1)
	msg := mail.sent[0]
	assert.Equal(t, "a@school.edu", msg.ToEmail)
	require.Contains(t, msg.Text, "https://app.example/reset-password?token=")

	token := msg.Text[strings.Index(msg.Text, "token=")+len("token="):]
	token = token[:strings.Index(token, "\n")]

	assert.ErrorIs(t, svc.ResetPassword(ctx, token, "123"), apperror.ErrInvalidPassword)
	assert.ErrorIs(t, svc.ResetPassword(ctx, "garbage", "newpass1"), apperror.ErrInvalidToken)
	require.NoError(t, svc.ResetPassword(ctx, token, "newpass1"))

	_, err = svc.SignIn(ctx, "a@school.edu", "newpass1")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.ResetPassword(ctx, token, "another1"), apperror.ErrInvalidToken)
}

func TestDerivedClassPointers(t *testing.T) {
	classes := []classroom.Class{
		{ClassID: "CS-101", Students: []string{"2024CS001"}, Staff: []string{"STF-001"}},
		{ClassID: "CS-102", Students: []string{}, Staff: []string{"STF-001"}},
	}
	svc, _ := newTestService(classes...)
	ctx := context.Background()

	s, err := svc.CreateUser(ctx, student("a@school.edu", "2024CS001"))
	require.NoError(t, err)
	st, err := svc.CreateUser(ctx, NewUser{Email: "t@school.edu", Password: "secret1", Name: "T", Role: RoleStaff, StaffID: "STF-001"})
	require.NoError(t, err)

	got, err := svc.GetUser(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "CS-101", got.Class)

	got, err = svc.GetUser(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"CS-101", "CS-102"}, got.AssignedClasses)

	got, err = svc.GetByEnrollment(ctx, " 2024CS001 ")
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, "CS-101", got.Class)

	got, err = svc.GetByStaffID(ctx, "STF-001")
	require.NoError(t, err)
	assert.Equal(t, st.ID, got.ID)
	assert.Equal(t, []string{"CS-101", "CS-102"}, got.AssignedClasses)

	_, err = svc.GetByStaffID(ctx, "STF-404")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	sum, err := svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Students: 1, Staff: 1, Classes: 2}, sum)

	list, err := svc.ListUsers(ctx, Filter{Role: RoleStaff})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "STF-001", list[0].StaffID)
}

func TestUpdateAndDeleteUser(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	u, err := svc.CreateUser(ctx, student("a@school.edu", "2024CS001"))
	require.NoError(t, err)

	_, err = svc.UpdateUser(ctx, u.ID, UserUpdate{Name: ""})
	var verr *apperror.ValidationError
	assert.True(t, errors.As(err, &verr))

	updated, err := svc.UpdateUser(ctx, u.ID, UserUpdate{Name: "Ann", Phone: "555", Details: map[string]string{"guardian": "Bo"}})
	require.NoError(t, err)
	assert.Equal(t, "Ann", updated.Name)
	assert.Equal(t, "2024CS001", updated.EnrollmentNumber)
	assert.Equal(t, "Bo", updated.Details["guardian"])

	require.NoError(t, svc.DeleteUser(ctx, u.ID))
	_, err = svc.GetUser(ctx, u.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestDirectory(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	_, err := svc.CreateUser(ctx, student("a@school.edu", "2024CS001"))
	require.NoError(t, err)
	_, err = svc.CreateUser(ctx, NewUser{Email: "t@school.edu", Password: "secret1", Name: "T", Role: RoleStaff, StaffID: "STF-001"})
	require.NoError(t, err)

	dir := NewDirectory(svc.repo)
	ok, err := dir.StudentExists(ctx, "2024CS001")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = dir.StudentExists(ctx, "STF-001")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = dir.StaffExists(ctx, "STF-001")
	require.NoError(t, err)
	assert.True(t, ok)

	names, err := dir.StudentNames(ctx, []string{"2024CS001", "2024CS999"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"2024CS001": "Student 2024CS001"}, names)
}
