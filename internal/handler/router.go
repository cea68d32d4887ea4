// Package handler exposes the attendance workflows over HTTP.
package handler

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"uniattend/internal/account"
	"uniattend/internal/attendance"
	"uniattend/internal/auth"
	"uniattend/internal/clock"
	"uniattend/internal/config"
	"uniattend/internal/department"
	"uniattend/internal/httpmiddleware"
	"uniattend/internal/realtime"
	"uniattend/internal/roster"
	"uniattend/internal/session"
	"uniattend/internal/store"
)

// Deps are the collaborators behind the API.
type Deps struct {
	Config      config.App
	DB          *store.DB
	Redis       *store.Redis
	Accounts    *account.Service
	Departments *department.Service
	Roster      *roster.Service
	Sessions    *session.Service
	Attendance  *attendance.Service
	Hub         *realtime.Hub
}

// NewDeps builds every workflow service over db. notify receives realtime
// events; hub serves websocket clients.
func NewDeps(cfg config.App, db *store.DB, rdb *store.Redis, notify session.Notifier, hub *realtime.Hub, clk clock.Clock) Deps {
	deptRepo := department.NewRepository(db.Client)
	rosterSvc := roster.NewService(db, deptRepo, clk, cfg.BcryptCost)
	return Deps{
		Config:      cfg,
		DB:          db,
		Redis:       rdb,
		Accounts:    account.NewService(account.NewRepository(db.Client), rosterSvc.Repo(), deptRepo, clk, cfg.BcryptCost),
		Departments: department.NewService(deptRepo, clk),
		Roster:      rosterSvc,
		Sessions:    session.NewService(db, notify, clk),
		Attendance:  attendance.NewService(db, notify, clk),
		Hub:         hub,
	}
}

type api struct {
	Deps
	authn *auth.Middleware
}

// NewRouter mounts the REST API under /api plus /healthz, /metrics and /ws.
func NewRouter(d Deps) *gin.Engine {
	a := &api{Deps: d, authn: auth.NewMiddleware(d.Config.JWTSigningKey, d.Config.JWTIssuer, d.Accounts)}

	r := gin.New()
	r.MaxMultipartMemory = 8 << 20
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{d.Config.ClientURL},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", a.health)
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "UniAttend API Running") })
	if d.Hub != nil {
		r.GET("/ws", realtime.NewHandler(d.Hub, a.authn, d.Config.StrictRooms, d.Config.ClientURL).Serve)
	}

	protect := a.authn.Protect()
	limiter := httpmiddleware.NewLimiter(d.Config.RateLimitPerMin, d.Config.RateLimitPerMin)
	v := r.Group("/api")

	authGroup := v.Group("/auth")
	authGroup.POST("/signup", limiter.Middleware(), a.signup)
	authGroup.POST("/login", limiter.Middleware(), a.login)
	authGroup.POST("/logout", protect, a.logout)
	authGroup.PUT("/password", protect, a.changePassword)
	authGroup.GET("/me", protect, a.me)

	v.GET("/departments", a.publicDepartments)

	sessions := v.Group("/sessions", protect)
	sessions.GET("/active", auth.Require(auth.CapViewActiveSession), a.activeSession)
	sessions.GET("/all", auth.Require(auth.CapListSessions), a.listSessions)

	rep := v.Group("/rep", protect)
	rep.POST("/sessions", auth.Require(auth.CapManageOwnSession), a.createSession)
	rep.PUT("/sessions/:id/extend", auth.Require(auth.CapManageOwnSession), a.extendOwnSession)
	rep.PUT("/sessions/:id/close", auth.Require(auth.CapManageOwnSession), a.closeOwnSession)
	rep.POST("/students/upload-partial", auth.Require(auth.CapUploadPartial), a.uploadPartial)

	admin := v.Group("/admin", protect)
	admin.POST("/faculty", auth.Require(auth.CapManageDirectory), a.createFaculty)
	admin.GET("/faculties", auth.Require(auth.CapManageDirectory), a.listFaculties)
	admin.POST("/department", auth.Require(auth.CapManageDirectory), a.createDepartment)
	admin.GET("/departments", auth.Require(auth.CapManageDirectory), a.listDepartments)
	admin.PUT("/department/:deptId", auth.Require(auth.CapManageDirectory), a.updateDepartment)
	admin.POST("/rep", auth.Require(auth.CapAssignRep), a.assignRep)
	admin.POST("/students/upload", auth.Require(auth.CapUploadRoster), a.uploadFull)
	admin.PUT("/session/:id/extend", auth.Require(auth.CapManageAnySession), a.extendAnySession)
	admin.PUT("/session/:id/close", auth.Require(auth.CapManageAnySession), a.closeAnySession)
	admin.GET("/analytics", auth.Require(auth.CapViewAnalytics), a.analytics)

	att := v.Group("/attendance", protect)
	att.POST("/mark", auth.Require(auth.CapMarkSelf), a.markSelf)
	att.POST("/override", auth.Require(auth.CapOverrideAttendance), a.markOverride)
	att.GET("/export/:id", auth.Require(auth.CapExportAttendance), a.export)
	att.GET("/session/:id/attendees", auth.Require(auth.CapViewAttendees), a.attendees)
	att.GET("/history", auth.Require(auth.CapViewHistory), a.history)

	return r
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}

func (a *api) health(c *gin.Context) {
	ctx := c.Request.Context()
	dbHealthy := a.DB != nil && a.DB.Healthy(ctx)
	resp := gin.H{"status": "ok", "db": dbHealthy}
	status := http.StatusOK
	if a.Config.BusBackend == "redis" {
		redisHealthy := a.Redis.Healthy(ctx)
		resp["redis"] = redisHealthy
		if !redisHealthy {
			status = http.StatusServiceUnavailable
		}
	}
	if !dbHealthy {
		status = http.StatusServiceUnavailable
	}
	if status != http.StatusOK {
		resp["status"] = "degraded"
	}
	c.JSON(status, resp)
}
