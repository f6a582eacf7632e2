// Package app wires the configured backends into the domain services.
package app

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"classroom/internal/api"
	"classroom/internal/attendance"
	"classroom/internal/classroom"
	"classroom/internal/config"
	"classroom/internal/coursework"
	"classroom/internal/events"
	"classroom/internal/filestore"
	"classroom/internal/httpmiddleware"
	"classroom/internal/identity"
	"classroom/internal/mailer"
	"classroom/internal/queue"
	"classroom/internal/store"
)

// Container holds the services built from one config.
type Container struct {
	Config     config.App
	Log        *zap.Logger
	DB         *store.DB
	Redis      *store.Redis
	Queue      queue.Queue
	Identity   *identity.Service
	Classes    *classroom.Service
	Attendance *attendance.Service
	Coursework *coursework.Service
	Processor  *events.Processor
}

// New connects the configured backends. STORE_BACKEND=memory keeps all data
// in process, which is meant for local runs and demos.
func New(ctx context.Context, cfg config.App, log *zap.Logger) (*Container, error) {
	c := &Container{Config: cfg, Log: log}

	var (
		users    identity.Repository
		classRep func(classroom.Directory) classroom.Repository
		attRepo  attendance.Repository
		cwRepo   coursework.Repository
	)
	switch cfg.StoreBackend {
	case "memory":
		users = identity.NewMemoryRepository()
		classRep = func(d classroom.Directory) classroom.Repository { return classroom.NewMemoryRepository(d) }
		attRepo = attendance.NewMemoryRepository()
		cwRepo = coursework.NewMemoryRepository()
	case "postgres":
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "connect postgres")
		}
		c.DB = db
		if cfg.AutoMigrate {
			if err := store.Migrate(ctx, db.Client); err != nil {
				_ = db.Close()
				return nil, err
			}
			log.Info("schema migrated")
		}
		users = identity.NewPGRepository(db.Client)
		classRep = func(classroom.Directory) classroom.Repository { return classroom.NewPGRepository(db.Client) }
		attRepo = attendance.NewPGRepository(db.Client)
		cwRepo = coursework.NewPGRepository(db.Client)
	default:
		return nil, errors.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	redisClient, err := store.NewRedis(cfg.RedisAddr)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Redis = redisClient
	switch cfg.QueueBackend {
	case "memory":
		c.Queue = queue.NewInMemory(256)
	case "redis":
		c.Queue = queue.NewRedisQueue(c.Redis.Client, cfg.QueueKey, log)
	default:
		c.Close()
		return nil, errors.Errorf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}

	var mail mailer.Mailer = mailer.NewLog(log)
	if cfg.SendGridAPIKey != "" {
		mail = mailer.NewSendGrid(cfg.SendGridAPIKey, cfg.MailFromName, cfg.MailFrom)
	}

	var files filestore.Storage
	if cfg.CloudinaryEnabled() {
		files = filestore.NewCloudinary(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Info("cloudinary configured", zap.String("cloud", cfg.CloudinaryCloudName))
	} else {
		files = filestore.NewMemory()
		log.Warn("cloudinary not configured, uploads kept in memory")
	}

	dir := identity.NewDirectory(users)
	c.Classes = classroom.NewService(classRep(dir), dir, c.Queue, log.Named("classroom"))
	c.Identity = identity.NewService(users, c.Classes, mail, identity.TokenConfig{
		Issuer:     cfg.JWTIssuer,
		SigningKey: cfg.JWTSigningKey,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
		ResetTTL:   cfg.ResetTTL,
	}, cfg.FrontendBaseURL, log.Named("identity"))
	c.Attendance = attendance.NewService(attRepo, c.Classes, dir, c.Queue, log.Named("attendance"))
	c.Coursework = coursework.NewService(cwRepo, c.Classes, files, log.Named("coursework"))
	c.Processor = events.NewProcessor(c.Attendance, c.Coursework, log.Named("events"))
	return c, nil
}

// APIConfig returns the router settings for the container's services.
// Rate limits are shared through Redis when Redis carries the queue.
func (c *Container) APIConfig() api.Config {
	var limiter httpmiddleware.Limiter = httpmiddleware.NewTokenBucket(c.Config.RateLimitPerMin, c.Config.RateLimitPerMin)
	if c.Config.QueueBackend == "redis" {
		limiter = httpmiddleware.NewFallback(httpmiddleware.NewRedisWindow(c.Redis.Client, c.Config.RateLimitPerMin), limiter, c.Log)
	}
	health := map[string]api.HealthCheck{}
	if c.DB != nil {
		health["db"] = c.DB.Healthy
	}
	if c.Config.QueueBackend == "redis" {
		health["redis"] = c.Redis.Healthy
	}
	return api.Config{
		Identity:    c.Identity,
		Classes:     c.Classes,
		Attendance:  c.Attendance,
		Coursework:  c.Coursework,
		Issuer:      c.Config.JWTIssuer,
		SigningKey:  c.Config.JWTSigningKey,
		CORSOrigins: c.Config.CORSOrigins,
		Limiter:     limiter,
		Health:      health,
		Log:         c.Log.Named("http"),
	}
}

// Close releases the connections.
func (c *Container) Close() {
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			c.Log.Warn("db close", zap.Error(err))
		}
	}
	if err := c.Redis.Close(); err != nil {
		c.Log.Warn("redis close", zap.Error(err))
	}
}
