package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/worklog/internal/auth"
	"github.com/MarcoPoloResearchLab/worklog/internal/users"
	"github.com/MarcoPoloResearchLab/worklog/internal/worklog"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	identityContextKey  = "worklog_identity"
	requestIDContextKey = "worklog_request_id"
	requestIDHeader     = "X-Request-Id"
)

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingUserDirectory  = errors.New("user directory dependency required")
	errMissingWorklogService = errors.New("worklog service dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

type TokenValidator interface {
	ValidateToken(token string) (auth.Claims, error)
}

type UserDirectory interface {
	Register(ctx context.Context, identity auth.Identity) error
	ListUsers(ctx context.Context) ([]users.User, error)
}

type Dependencies struct {
	Tokens            TokenValidator
	Users             UserDirectory
	Worklog           *worklog.Service
	Realtime          *RealtimeDispatcher
	Logger            *zap.Logger
	AllowedOrigins    []string
	Clock             func() time.Time
	HeartbeatInterval time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Users == nil {
		return nil, errMissingUserDirectory
	}
	if deps.Worklog == nil {
		return nil, errMissingWorklogService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	handler := &httpHandler{
		tokens:            deps.Tokens,
		users:             deps.Users,
		worklog:           deps.Worklog,
		realtime:          deps.Realtime,
		logger:            logger,
		clock:             clock,
		startedAt:         clock(),
		heartbeatInterval: heartbeat,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handler.logRequest)
	router.Use(corsMiddleware(deps.AllowedOrigins))

	router.HEAD("/", handler.handleProbe)
	router.GET("/status", handler.handleStatus)

	data := router.Group("/data")
	data.Use(handler.authorizeRequest)
	data.GET("/timestamps/:username", handler.handleMonthTimestamps)
	data.GET("/locked-days/:username", handler.handleLockedDays)
	data.GET("/sync-check/:username", handler.handleSyncStatus)
	data.POST("/months/:username", handler.handleGetMonths)
	data.PUT("/months/:username", handler.handleUpdateMonths)
	data.POST("/sync/check", handler.handleSyncCheck)
	data.POST("/sync/upload", handler.handleSyncUpload)
	data.POST("/sync/download", handler.handleSyncDownload)
	data.GET("/users", handler.requireAdmin, handler.handleListUsers)

	router.GET("/data/sync/events", handler.authorizeStream, handler.handleEventStream)

	admin := router.Group("/admin")
	admin.Use(handler.authorizeRequest, handler.requireAdmin)
	admin.POST("/users/sync", handler.handleAdminBulkSync)
	admin.PUT("/days/:username/:date/lock", handler.handleSetDayLock)

	return router, nil
}

type httpHandler struct {
	tokens            TokenValidator
	users             UserDirectory
	worklog           *worklog.Service
	realtime          *RealtimeDispatcher
	logger            *zap.Logger
	clock             func() time.Time
	startedAt         time.Time
	heartbeatInterval time.Duration
}

func (h *httpHandler) handleProbe(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (h *httpHandler) handleStatus(c *gin.Context) {
	now := h.now()
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": now.UTC().Format(time.RFC3339),
		"uptime":    now.Sub(h.startedAt).Seconds(),
	})
}

func (h *httpHandler) now() time.Time {
	if h.clock == nil {
		return time.Now()
	}
	return h.clock()
}
