package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/worklog/internal/auth"
	"github.com/MarcoPoloResearchLab/worklog/internal/worklog"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodHead, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", requestIDHeader},
		ExposeHeaders:    []string{requestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

func (h *httpHandler) logRequest(c *gin.Context) {
	requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
	if requestID == "" {
		if generated, err := uuid.NewV7(); err == nil {
			requestID = generated.String()
		} else {
			requestID = uuid.NewString()
		}
	}
	c.Set(requestIDContextKey, requestID)
	c.Header(requestIDHeader, requestID)

	started := time.Now()
	c.Next()

	fields := []zap.Field{
		zap.String("request_id", requestID),
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Int("status", c.Writer.Status()),
		zap.Duration("latency", time.Since(started)),
	}
	if identity, ok := identityFromContext(c); ok {
		fields = append(fields, zap.String("username", identity.Username))
	}
	h.logger.Info("http request", fields...)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	h.authorize(c, false)
}

// authorizeStream also accepts the token as an access_token query parameter,
// since browser EventSource clients cannot set headers.
func (h *httpHandler) authorizeStream(c *gin.Context) {
	h.authorize(c, true)
}

func (h *httpHandler) authorize(c *gin.Context, allowQueryToken bool) {
	token, ok := bearerToken(c.GetHeader("Authorization"))
	if !ok && allowQueryToken {
		token = strings.TrimSpace(c.Query("access_token"))
		ok = token != ""
	}
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}

	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	identity := claims.Identity()
	if err := h.users.Register(c.Request.Context(), identity); err != nil {
		h.logger.Error("failed to register user", zap.String("username", identity.Username), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "user_registration_failed"})
		return
	}

	c.Set(identityContextKey, identity)
	c.Next()
}

func (h *httpHandler) requireAdmin(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if !identity.IsAdmin() {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.Next()
}

func bearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}

func identityFromContext(c *gin.Context) (auth.Identity, bool) {
	value, ok := c.Get(identityContextKey)
	if !ok {
		return auth.Identity{}, false
	}
	identity, ok := value.(auth.Identity)
	if !ok || identity.Username == "" {
		return auth.Identity{}, false
	}
	return identity, true
}

// targetUsername resolves the :username path parameter. Non-admins may only
// address their own data. It writes the error response and returns false on failure.
func (h *httpHandler) targetUsername(c *gin.Context) (worklog.Username, bool) {
	identity, ok := identityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	username, err := worklog.NewUsername(c.Param("username"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return "", false
	}
	if !identity.IsAdmin() && username.String() != identity.Username {
		h.logger.Warn("cross-user access denied",
			zap.String("username", identity.Username),
			zap.String("target", username.String()))
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return "", false
	}
	return username, true
}

// callerUsername resolves the authenticated user for routes that act on the caller's own data.
func (h *httpHandler) callerUsername(c *gin.Context) (worklog.Username, bool) {
	identity, ok := identityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	username, err := worklog.NewUsername(identity.Username)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return username, true
}
