package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"classroom/internal/classroom"
)

func (s *Server) createClass(c *gin.Context) {
	var in classroom.ClassInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	class, err := s.classes.CreateClass(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, class)
}

func (s *Server) listClasses(c *gin.Context) {
	classes, err := s.classes.ListClasses(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"classes": classes})
}

func (s *Server) getClass(c *gin.Context) {
	class, err := s.classes.GetClass(c.Request.Context(), c.Param("classID"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, class)
}

func (s *Server) updateClass(c *gin.Context) {
	var in classroom.ClassInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	class, err := s.classes.UpdateClass(c.Request.Context(), c.Param("classID"), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, class)
}

func (s *Server) deleteClass(c *gin.Context) {
	if err := s.classes.DeleteClass(c.Request.Context(), c.Param("classID")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type rosterChange func(ctx context.Context, classID, member string) (classroom.Class, error)

func (s *Server) addMember(c *gin.Context, field string, change rosterChange) {
	var req map[string]string
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s.applyRoster(c, req[field], change)
}

func (s *Server) applyRoster(c *gin.Context, member string, change rosterChange) {
	class, err := change(c.Request.Context(), c.Param("classID"), member)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, class)
}

func (s *Server) addStudent(c *gin.Context) {
	s.addMember(c, "enrollment_number", s.classes.AddStudent)
}

func (s *Server) removeStudent(c *gin.Context) {
	s.applyRoster(c, c.Param("enrollment"), s.classes.RemoveStudent)
}

func (s *Server) addStaff(c *gin.Context) {
	s.addMember(c, "staff_id", s.classes.AddStaff)
}

func (s *Server) removeStaff(c *gin.Context) {
	s.applyRoster(c, c.Param("staffID"), s.classes.RemoveStaff)
}

func (s *Server) staffClasses(c *gin.Context) {
	classes, err := s.classes.ListClassesForStaff(c.Request.Context(), principal(c).StaffID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"classes": classes})
}

func (s *Server) studentClasses(c *gin.Context) {
	classes, err := s.classes.ListClassesForStudent(c.Request.Context(), principal(c).EnrollmentNumber)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"classes": classes})
}
