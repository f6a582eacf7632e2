// Package api exposes the classroom services over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"classroom/internal/attendance"
	"classroom/internal/auth"
	"classroom/internal/classroom"
	"classroom/internal/coursework"
	"classroom/internal/httpmiddleware"
	"classroom/internal/identity"
	"classroom/internal/metrics"
)

// HealthCheck reports the reachability of one dependency.
type HealthCheck func(ctx context.Context) bool

// Config wires the services and settings the router needs.
type Config struct {
	Identity   *identity.Service
	Classes    *classroom.Service
	Attendance *attendance.Service
	Coursework *coursework.Service

	Issuer      string
	SigningKey  string
	CORSOrigins []string
	Limiter     httpmiddleware.Limiter
	Health      map[string]HealthCheck
	Log         *zap.Logger
}

// Server holds the handlers.
type Server struct {
	identity   *identity.Service
	classes    *classroom.Service
	attendance *attendance.Service
	coursework *coursework.Service
	health     map[string]HealthCheck
	log        *zap.Logger
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(cfg Config) *gin.Engine {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		identity:   cfg.Identity,
		classes:    cfg.Classes,
		attendance: cfg.Attendance,
		coursework: cfg.Coursework,
		health:     cfg.Health,
		log:        log,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestID())
	r.Use(httpmiddleware.Logger(log, "/healthz", "/metrics"))
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(metrics.GinMiddleware())
	if cfg.Limiter != nil {
		r.Use(httpmiddleware.RateLimit(cfg.Limiter))
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", s.healthz)

	v1 := r.Group("/v1")
	v1.POST("/auth/signin", s.signIn)
	v1.POST("/auth/refresh", s.refresh)
	v1.POST("/auth/password-reset", s.requestPasswordReset)
	v1.POST("/auth/password-reset/confirm", s.confirmPasswordReset)

	authed := v1.Group("", auth.Authenticate(cfg.SigningKey, cfg.Issuer))
	authed.GET("/me", s.me)

	admin := authed.Group("", auth.RequireRole(string(identity.RoleAdmin)))
	admin.POST("/users", s.createUser)
	admin.GET("/users", s.listUsers)
	admin.GET("/users/:id", s.getUser)
	admin.GET("/users/by-enrollment/:enrollment", s.getUserByEnrollment)
	admin.GET("/users/by-staff-id/:staffID", s.getUserByStaffID)
	admin.PUT("/users/:id", s.updateUser)
	admin.DELETE("/users/:id", s.deleteUser)
	admin.GET("/admin/summary", s.summary)
	admin.POST("/classes", s.createClass)
	admin.GET("/classes", s.listClasses)
	admin.PUT("/classes/:classID", s.updateClass)
	admin.DELETE("/classes/:classID", s.deleteClass)
	admin.POST("/classes/:classID/students", s.addStudent)
	admin.DELETE("/classes/:classID/students/:enrollment", s.removeStudent)
	admin.POST("/classes/:classID/staff", s.addStaff)
	admin.DELETE("/classes/:classID/staff/:staffID", s.removeStaff)
	admin.GET("/reports/classes/:classID", s.classReport)

	teaching := authed.Group("", auth.RequireRole(string(identity.RoleStaff), string(identity.RoleAdmin)))
	teaching.GET("/assignments/:id/submissions", s.listSubmissions)
	class := teaching.Group("/classes/:classID", s.requireClassAccess)
	class.GET("", s.getClass)
	class.GET("/attendance/:date", s.getAttendance)
	class.PUT("/attendance/:date", s.submitAttendance)
	class.GET("/attendance/:date/revisions", s.attendanceRevisions)
	class.GET("/attendance-summary", s.attendanceSummary)
	class.POST("/assignments", s.createAssignment)
	class.GET("/assignments", s.listAssignments)

	staff := authed.Group("/staff", auth.RequireRole(string(identity.RoleStaff)))
	staff.GET("/classes", s.staffClasses)

	student := authed.Group("", auth.RequireRole(string(identity.RoleStudent)))
	student.GET("/student/classes", s.studentClasses)
	student.GET("/student/attendance", s.studentAttendance)
	student.GET("/student/assignments", s.studentAssignments)
	student.POST("/assignments/:id/submissions", s.submitAssignment)

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", httpmiddleware.RequestIDHeader},
		ExposeHeaders:    []string{httpmiddleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowOrigins = nil
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	}
	return cfg
}

func (s *Server) healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range s.health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// requireClassAccess lets admins through and staff only for classes they
// are assigned to.
func (s *Server) requireClassAccess(c *gin.Context) {
	p, _ := auth.CurrentPrincipal(c)
	if p.Role == string(identity.RoleAdmin) {
		c.Next()
		return
	}
	class, err := s.classes.GetClass(c.Request.Context(), c.Param("classID"))
	if err != nil {
		s.fail(c, err)
		c.Abort()
		return
	}
	if !class.HasStaff(p.StaffID) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not assigned to this class"})
		return
	}
	c.Next()
}

func principal(c *gin.Context) auth.Principal {
	p, _ := auth.CurrentPrincipal(c)
	return p
}
