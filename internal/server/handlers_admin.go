package server

import (
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/worklog/internal/worklog"
	"github.com/gin-gonic/gin"
)

type bulkSyncRequestPayload struct {
	SyncRequests []bulkSyncUserPayload `json:"syncRequests"`
}

type bulkSyncUserPayload struct {
	Username        string               `json:"username"`
	LocalTimestamps map[string]time.Time `json:"localTimestamps"`
}

type bulkUserResultPayload struct {
	Username      string `json:"username"`
	Status        string `json:"status"`
	MonthsFetched int    `json:"monthsFetched"`
	Error         string `json:"error,omitempty"`
}

type dayLockRequestPayload struct {
	AbsenceLock *bool `json:"al"`
	ManagerLock *bool `json:"ma"`
}

type userPayload struct {
	Username   string    `json:"username"`
	Role       string    `json:"role"`
	LastSeenAt time.Time `json:"lastSeenAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (h *httpHandler) handleListUsers(c *gin.Context) {
	registered, err := h.users.ListUsers(c.Request.Context())
	if err != nil {
		h.respondServiceError(c, err, "list_users_failed")
		return
	}
	listed := make([]userPayload, 0, len(registered))
	for _, user := range registered {
		listed = append(listed, userPayload{
			Username:   user.Username,
			Role:       user.Role,
			LastSeenAt: user.LastSeenAt.UTC(),
			CreatedAt:  user.CreatedAt.UTC(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "users": listed})
}

func (h *httpHandler) handleAdminBulkSync(c *gin.Context) {
	var request bulkSyncRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	requests := make([]worklog.BulkSyncRequest, 0, len(request.SyncRequests))
	for _, entry := range request.SyncRequests {
		if entry.LocalTimestamps == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "username": entry.Username})
			return
		}
		requests = append(requests, worklog.BulkSyncRequest{
			Username:        entry.Username,
			LocalTimestamps: entry.LocalTimestamps,
		})
	}

	result, err := h.worklog.AdminBulkSync(c.Request.Context(), requests)
	if err != nil {
		h.respondServiceError(c, err, "admin_bulk_sync_failed")
		return
	}

	userResults := make([]bulkUserResultPayload, 0, len(result.Users))
	for _, user := range result.Users {
		userResults = append(userResults, bulkUserResultPayload{
			Username:      user.Username.String(),
			Status:        string(user.Status),
			MonthsFetched: user.MonthsFetched,
			Error:         user.Error,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"serverTimestamps": result.ServerTimestamps,
		"updatedData":      result.UpdatedData,
		"users":            userResults,
	})
}

func (h *httpHandler) handleSetDayLock(c *gin.Context) {
	username, ok := h.targetUsername(c)
	if !ok {
		return
	}
	var request dayLockRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.AbsenceLock == nil || request.ManagerLock == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err := h.worklog.SetDayLock(c.Request.Context(), username, c.Param("date"), *request.AbsenceLock, *request.ManagerLock)
	if err != nil {
		h.respondServiceError(c, err, "set_day_lock_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"d":       c.Param("date"),
		"al":      *request.AbsenceLock,
		"ma":      *request.ManagerLock,
	})
}
