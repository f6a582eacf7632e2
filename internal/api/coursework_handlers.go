package api

import (
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"

	"classroom/internal/coursework"
	"classroom/internal/identity"
)

// maxUploadBytes caps multipart submissions.
const maxUploadBytes = 10 << 20

func (s *Server) createAssignment(c *gin.Context) {
	var in coursework.NewAssignment
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	a, err := s.coursework.CreateAssignment(c.Request.Context(), c.Param("classID"), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (s *Server) listAssignments(c *gin.Context) {
	list, err := s.coursework.ListAssignmentsForClass(c.Request.Context(), c.Param("classID"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignments": list})
}

func (s *Server) listSubmissions(c *gin.Context) {
	ctx := c.Request.Context()
	a, err := s.coursework.GetAssignment(ctx, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if p := principal(c); p.Role != string(identity.RoleAdmin) {
		class, err := s.classes.GetClass(ctx, a.ClassID)
		if err != nil {
			s.fail(c, err)
			return
		}
		if !class.HasStaff(p.StaffID) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not assigned to this class"})
			return
		}
	}
	subs, err := s.coursework.ListSubmissions(ctx, a.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"submissions": subs})
}

func (s *Server) studentAssignments(c *gin.Context) {
	list, err := s.coursework.ListAssignmentsForStudent(c.Request.Context(), principal(c).EnrollmentNumber, c.Query("today"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// submitAssignment accepts either a JSON body {"answers": [...]} or a
// multipart form with an "answers" field (JSON array or repeated values)
// and an optional "file".
func (s *Server) submitAssignment(c *gin.Context) {
	in := coursework.SubmitInput{
		AssignmentID: c.Param("id"),
		StudentID:    principal(c).EnrollmentNumber,
	}

	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
		form, err := c.MultipartForm()
		if err != nil {
			badRequest(c, err)
			return
		}
		answers, err := formAnswers(form.Value["answers"])
		if err != nil {
			badRequest(c, err)
			return
		}
		in.Answers = answers
		if files := form.File["file"]; len(files) > 0 {
			fh := files[0]
			f, err := fh.Open()
			if err != nil {
				badRequest(c, err)
				return
			}
			defer f.Close()
			in.File = &coursework.Upload{
				Filename:    fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Reader:      f,
			}
		}
	} else {
		var req struct {
			Answers []string `json:"answers"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		in.Answers = req.Answers
	}

	sub, err := s.coursework.Submit(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

// formAnswers reads answers sent either as one JSON array or as repeated
// form values.
func formAnswers(values []string) ([]string, error) {
	if len(values) == 1 && strings.HasPrefix(strings.TrimSpace(values[0]), "[") {
		var answers []string
		if err := sonic.UnmarshalString(values[0], &answers); err != nil {
			return nil, err
		}
		return answers, nil
	}
	return values, nil
}
