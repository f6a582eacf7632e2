package api

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"classroom/internal/apperror"
	"classroom/internal/attendance"
	"classroom/internal/classroom"
	"classroom/internal/coursework"
	"classroom/internal/filestore"
	"classroom/internal/httpmiddleware"
	"classroom/internal/identity"
	"classroom/internal/mailer"
	"classroom/internal/queue"
)

const (
	testIssuer = "classroom-test"
	testKey    = "test-secret"
	password   = "secret123"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	t        *testing.T
	router   *gin.Engine
	identity *identity.Service
	files    *filestore.Memory
	redisUp  bool
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	users := identity.NewMemoryRepository()
	dir := identity.NewDirectory(users)
	q := queue.NewInMemory(512)
	classes := classroom.NewService(classroom.NewMemoryRepository(dir), dir, q, nil)
	ident := identity.NewService(users, classes, mailer.NewLog(nil), identity.TokenConfig{
		Issuer:     testIssuer,
		SigningKey: testKey,
		AccessTTL:  time.Hour,
		RefreshTTL: time.Hour,
		ResetTTL:   time.Hour,
	}, "http://app.local", nil)
	att := attendance.NewService(attendance.NewMemoryRepository(), classes, dir, q, nil)
	files := filestore.NewMemory()
	cw := coursework.NewService(coursework.NewMemoryRepository(), classes, files, nil)

	env := &testEnv{t: t, identity: ident, files: files, redisUp: true}
	env.router = NewRouter(Config{
		Identity:    ident,
		Classes:     classes,
		Attendance:  att,
		Coursework:  cw,
		Issuer:      testIssuer,
		SigningKey:  testKey,
		CORSOrigins: []string{"http://app.local"},
		Limiter:     httpmiddleware.NewTokenBucket(10000, 10000),
		Health: map[string]HealthCheck{
			"redis": func(context.Context) bool { return env.redisUp },
		},
	})
	return env
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		raw, err := sonic.Marshal(body)
		require.NoError(e.t, err)
		buf.Write(raw)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (e *testEnv) seed(in identity.NewUser) string {
	e.t.Helper()
	in.Password = password
	_, err := e.identity.CreateUser(context.Background(), in)
	require.NoError(e.t, err)
	return e.signIn(in.Email)
}

func (e *testEnv) signIn(email string) string {
	e.t.Helper()
	w := e.do(http.MethodPost, "/v1/auth/signin", "", gin.H{"email": email, "password": password})
	require.Equal(e.t, http.StatusOK, w.Code, w.Body.String())
	return decode[identity.Session](e.t, w).Tokens.AccessToken
}

type fixture struct {
	admin, staff, otherStaff, student, otherStudent string
}

func (e *testEnv) school() fixture {
	e.t.Helper()
	f := fixture{
		admin:        e.seed(identity.NewUser{Email: "admin@school.test", Name: "Ada", Role: identity.RoleAdmin}),
		staff:        e.seed(identity.NewUser{Email: "sam@school.test", Name: "Sam", Role: identity.RoleStaff, StaffID: "STF-001"}),
		otherStaff:   e.seed(identity.NewUser{Email: "olu@school.test", Name: "Olu", Role: identity.RoleStaff, StaffID: "STF-002"}),
		student:      e.seed(identity.NewUser{Email: "ann@school.test", Name: "Ann", Role: identity.RoleStudent, EnrollmentNumber: "2024CS001"}),
		otherStudent: e.seed(identity.NewUser{Email: "ben@school.test", Name: "Ben", Role: identity.RoleStudent, EnrollmentNumber: "2024CS002"}),
	}

	w := e.do(http.MethodPost, "/v1/classes", f.admin, classroom.ClassInput{
		ClassID:    "CS-101",
		ClassName:  "Intro",
		Department: "Computer Science",
		Capacity:   2,
		Subjects:   []classroom.Subject{{SubjectName: "Algorithms", StaffID: "STF-001"}},
	})
	require.Equal(e.t, http.StatusCreated, w.Code, w.Body.String())
	for _, enr := range []string{"2024CS001", "2024CS002"} {
		w = e.do(http.MethodPost, "/v1/classes/CS-101/students", f.admin, gin.H{"enrollment_number": enr})
		require.Equal(e.t, http.StatusOK, w.Code, w.Body.String())
	}
	return f
}

type errorBody struct {
	Error  string                `json:"error"`
	Fields []apperror.FieldError `json:"fields"`
}

func TestAuthAndRoleGuards(t *testing.T) {
	e := newTestEnv(t)
	f := e.school()

	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/v1/me", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/v1/me", "garbage", nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/v1/users", f.student, nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/v1/classes/CS-101", f.student, nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/v1/classes/CS-101", f.otherStaff, nil).Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/v1/classes/CS-101", f.staff, nil).Code)

	w := e.do(http.MethodPost, "/v1/auth/signin", "", gin.H{"email": "ann@school.test", "password": "wrong-one"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(http.MethodGet, "/v1/me", f.student, nil)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[identity.User](t, w)
	assert.Equal(t, "2024CS001", me.EnrollmentNumber)
	assert.Equal(t, "CS-101", me.Class)
}

func TestUserAdministration(t *testing.T) {
	e := newTestEnv(t)
	f := e.school()

	w := e.do(http.MethodPost, "/v1/users", f.admin, gin.H{"email": "ANN@school.test", "password": password, "name": "Dup", "role": "student"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(http.MethodPost, "/v1/users", f.admin, gin.H{"email": "new@school.test", "password": "123", "name": "New", "role": "student"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid-password", decode[errorBody](t, w).Error)

	w = e.do(http.MethodPost, "/v1/users", f.admin, gin.H{"email": "nope", "password": password, "name": "New", "role": "janitor"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, decode[errorBody](t, w).Fields, 2)

	w = e.do(http.MethodGet, "/v1/users?role=student", f.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Users []identity.User `json:"users"`
	}](t, w)
	assert.Len(t, list.Users, 2)

	w = e.do(http.MethodGet, "/v1/admin/summary", f.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, identity.Summary{Students: 2, Staff: 2, Admins: 1, Classes: 1}, decode[identity.Summary](t, w))

	w = e.do(http.MethodGet, "/v1/users/nobody", f.admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(http.MethodGet, "/v1/users/by-enrollment/2024CS002", f.admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	ben := decode[identity.User](t, w)
	assert.Equal(t, "ben@school.test", ben.Email)
	assert.Equal(t, "CS-101", ben.Class)

	w = e.do(http.MethodGet, "/v1/users/by-staff-id/STF-001", f.admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"CS-101"}, decode[identity.User](t, w).AssignedClasses)

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/v1/users/by-staff-id/STF-404", f.admin, nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/v1/users/by-enrollment/2024CS002", f.staff, nil).Code)
}

func TestRosterErrors(t *testing.T) {
	e := newTestEnv(t)
	f := e.school()

	w := e.do(http.MethodPost, "/v1/classes/CS-101/students", f.admin, gin.H{"enrollment_number": "2024CS001"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[errorBody](t, w)
	require.Len(t, body.Fields, 1)
	assert.Equal(t, "enrollment_number", body.Fields[0].Field)

	w = e.do(http.MethodDelete, "/v1/classes/CS-101/staff/STF-002", f.admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodPost, "/v1/classes/NOPE/students", f.admin, gin.H{"enrollment_number": "2024CS001"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(http.MethodPost, "/v1/classes/CS-101/staff", f.admin, gin.H{"staff_id": "STF-002"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/v1/classes/CS-101", f.otherStaff, nil).Code)

	w = e.do(http.MethodDelete, "/v1/classes/CS-101/students/2024CS002", f.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"2024CS001"}, decode[classroom.Class](t, w).Students)
}

func TestAttendanceFlow(t *testing.T) {
	e := newTestEnv(t)
	f := e.school()

	w := e.do(http.MethodPut, "/v1/classes/CS-101/attendance/2024-03-01", f.staff, gin.H{"present": []string{"2024CS001"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rec := decode[attendance.Record](t, w)
	assert.Equal(t, map[string]bool{"2024CS001": true, "2024CS002": false}, rec.Records)

	w = e.do(http.MethodPut, "/v1/classes/CS-101/attendance/2024-03-02", f.staff, gin.H{"present": []string{"2024CS001", "2024CS002"}})
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(http.MethodPut, "/v1/classes/CS-101/attendance/03-02-2024", f.staff, gin.H{"present": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodGet, "/v1/classes/CS-101/attendance-summary", f.staff, nil)
	require.Equal(t, http.StatusOK, w.Code)
	summary := decode[struct {
		Students []attendance.StudentStats `json:"students"`
	}](t, w)
	require.Len(t, summary.Students, 2)
	assert.Equal(t, attendance.Stats{Present: 2, Total: 2, Percentage: 100, HasData: true}, summary.Students[0].Stats)
	assert.Equal(t, attendance.Stats{Present: 1, Total: 2, Percentage: 50, HasData: true}, summary.Students[1].Stats)

	w = e.do(http.MethodGet, "/v1/student/attendance", f.otherStudent, nil)
	require.Equal(t, http.StatusOK, w.Code)
	report := decode[attendance.StudentReport](t, w)
	assert.Equal(t, 50, report.Percentage)
	assert.Equal(t, []string{"2024-03-01"}, report.AbsentDays)

	w = e.do(http.MethodGet, "/v1/reports/classes/CS-101", f.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	classReport := decode[attendance.ClassReport](t, w)
	assert.Equal(t, 2, classReport.Days)
	assert.Equal(t, "Ann", classReport.Students[0].Name)

	w = e.do(http.MethodGet, "/v1/classes/CS-101/attendance/2024-03-05", f.staff, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[attendance.Record](t, w).Records)
}

func TestCourseworkFlow(t *testing.T) {
	e := newTestEnv(t)
	f := e.school()

	w := e.do(http.MethodPost, "/v1/classes/CS-101/assignments", f.staff, gin.H{
		"assignment_name": "Quiz",
		"due_date":        "2099-01-01",
		"questions": []gin.H{
			{"text": "2+2?", "type": "mcq", "options": []string{"3", "4"}, "correct_answer_index": 1},
			{"text": "Why?", "type": "brief"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	a := decode[coursework.Assignment](t, w)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("answers", `["4","because"]`))
	fw, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/assignments/"+a.ID+"/submissions", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+f.student)
	rw := httptest.NewRecorder()
	e.router.ServeHTTP(rw, req)
	require.Equal(t, http.StatusCreated, rw.Code, rw.Body.String())
	sub := decode[coursework.Submission](t, rw)
	require.NotNil(t, sub.File)
	data, ok := e.files.Open(sub.File.Path)
	require.True(t, ok)
	assert.Equal(t, "hello", string(data))

	w = e.do(http.MethodPost, "/v1/assignments/"+a.ID+"/submissions", f.student, gin.H{"answers": []string{"4", "again"}})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "already submitted", decode[errorBody](t, w).Fields[0].Error)

	w = e.do(http.MethodPost, "/v1/assignments/"+a.ID+"/submissions", f.otherStudent, gin.H{"answers": []string{"3", "dunno"}})
	require.Equal(t, http.StatusCreated, w.Code)

	w = e.do(http.MethodGet, "/v1/student/assignments", f.student, nil)
	require.Equal(t, http.StatusOK, w.Code)
	mine := decode[coursework.StudentAssignments](t, w)
	require.Len(t, mine.Upcoming, 1)
	assert.True(t, mine.Upcoming[0].Submitted)

	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/v1/assignments/"+a.ID+"/submissions", f.otherStaff, nil).Code)
	w = e.do(http.MethodGet, "/v1/assignments/"+a.ID+"/submissions", f.staff, nil)
	require.Equal(t, http.StatusOK, w.Code)
	subs := decode[struct {
		Submissions []coursework.Submission `json:"submissions"`
	}](t, w)
	assert.Len(t, subs.Submissions, 2)
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	e.redisUp = false
	w = e.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "degraded", decode[map[string]any](t, w)["status"])
}

func TestFailMapsRemoteErrors(t *testing.T) {
	s := &Server{log: zap.NewNop()}
	cases := []struct {
		err  error
		code int
	}{
		{apperror.Remote("classes.get", errors.New("dial tcp: refused")), http.StatusBadGateway},
		{errors.Wrap(apperror.ErrForbidden, "nope"), http.StatusForbidden},
		{apperror.ErrNotFound, http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		s.fail(c, tc.err)
		assert.Equal(t, tc.code, w.Code, tc.err.Error())
	}
}
