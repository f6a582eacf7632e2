package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"classroom/internal/attendance"
	"classroom/internal/identity"
)

func (s *Server) getAttendance(c *gin.Context) {
	rec, err := s.attendance.Get(c.Request.Context(), c.Param("classID"), c.Param("date"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) submitAttendance(c *gin.Context) {
	var req struct {
		Present []string `json:"present"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p := principal(c)
	by := p.StaffID
	if p.Role == string(identity.RoleAdmin) || by == "" {
		by = p.UserID
	}
	rec, err := s.attendance.Submit(c.Request.Context(), attendance.Submission{
		ClassID:     c.Param("classID"),
		Date:        c.Param("date"),
		Present:     req.Present,
		SubmittedBy: by,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) attendanceRevisions(c *gin.Context) {
	revs, err := s.attendance.Revisions(c.Request.Context(), c.Param("classID"), c.Param("date"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revisions": revs})
}

func (s *Server) attendanceSummary(c *gin.Context) {
	rows, err := s.attendance.ComputeForClass(c.Request.Context(), c.Param("classID"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"class_id": c.Param("classID"), "students": rows})
}

func (s *Server) classReport(c *gin.Context) {
	report, err := s.attendance.ClassReport(c.Request.Context(), c.Param("classID"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) studentAttendance(c *gin.Context) {
	report, err := s.attendance.ComputeForStudent(c.Request.Context(), principal(c).EnrollmentNumber)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
