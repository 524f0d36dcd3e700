package server

import (
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/worklog/internal/worklog"
	"github.com/gin-gonic/gin"
)

type getMonthsRequestPayload struct {
	Months []string `json:"months"`
}

type updateMonthsRequestPayload struct {
	Data []worklog.MonthEntry `json:"data"`
}

type syncCheckRequestPayload struct {
	LocalTimestamps map[string]float64 `json:"localTimestamps"`
}

type syncDownloadRequestPayload struct {
	Dates []string `json:"dates"`
}

type monthConflictPayload struct {
	YearMonth       string    `json:"yearMonth"`
	Reason          string    `json:"reason"`
	ServerUpdatedAt time.Time `json:"serverUpdatedAt"`
	ClientUpdatedAt time.Time `json:"clientUpdatedAt"`
}

type dayUploadPayload struct {
	Date      string `json:"d"`
	Outcome   string `json:"outcome"`
	Timestamp int64  `json:"ts,omitempty"`
}

func (h *httpHandler) handleMonthTimestamps(c *gin.Context) {
	username, ok := h.targetUsername(c)
	if !ok {
		return
	}
	timestamps, err := h.worklog.MonthTimestamps(c.Request.Context(), username)
	if err != nil {
		h.respondServiceError(c, err, "timestamps_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "timestamps": timestamps})
}

func (h *httpHandler) handleLockedDays(c *gin.Context) {
	username, ok := h.targetUsername(c)
	if !ok {
		return
	}
	locked, err := h.worklog.LockedDays(c.Request.Context(), username)
	if err != nil {
		h.respondServiceError(c, err, "locked_days_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "lockedDays": locked})
}

func (h *httpHandler) handleSyncStatus(c *gin.Context) {
	username, ok := h.targetUsername(c)
	if !ok {
		return
	}
	status, err := h.worklog.SyncStatus(c.Request.Context(), username)
	if err != nil {
		h.respondServiceError(c, err, "sync_status_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"timestamps": status.Timestamps,
		"lockedDays": status.LockedDays,
	})
}

func (h *httpHandler) handleGetMonths(c *gin.Context) {
	username, ok := h.targetUsername(c)
	if !ok {
		return
	}
	var request getMonthsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Months == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	documents, err := h.worklog.GetMonths(c.Request.Context(), username, request.Months)
	if err != nil {
		h.respondServiceError(c, err, "get_months_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": documents})
}

func (h *httpHandler) handleUpdateMonths(c *gin.Context) {
	username, ok := h.targetUsername(c)
	if !ok {
		return
	}
	var request updateMonthsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Data == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	result, err := h.worklog.UpdateMonths(c.Request.Context(), username, request.Data)
	if err != nil {
		h.respondServiceError(c, err, "update_months_failed")
		return
	}

	conflicts := make([]monthConflictPayload, 0, len(result.Conflicts))
	for _, conflict := range result.Conflicts {
		conflicts = append(conflicts, monthConflictPayload{
			YearMonth:       conflict.YearMonth.String(),
			Reason:          string(conflict.Reason),
			ServerUpdatedAt: conflict.ServerUpdatedAt,
			ClientUpdatedAt: conflict.ClientUpdatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"modified":  result.Modified,
		"inserted":  result.Inserted,
		"conflicts": conflicts,
	})
}

func (h *httpHandler) handleSyncCheck(c *gin.Context) {
	username, ok := h.callerUsername(c)
	if !ok {
		return
	}
	var request syncCheckRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.LocalTimestamps == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	local := make(map[string]int64, len(request.LocalTimestamps))
	for date, ts := range request.LocalTimestamps {
		local[date] = int64(ts)
	}

	plan, err := h.worklog.SyncCheck(c.Request.Context(), username, local)
	if err != nil {
		h.respondServiceError(c, err, "sync_check_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"daysToUpload":    plan.ToUpload,
		"daysToDownload":  plan.ToDownload,
		"lockedConflicts": plan.LockedConflicts,
	})
}

func (h *httpHandler) handleSyncUpload(c *gin.Context) {
	username, ok := h.callerUsername(c)
	if !ok {
		return
	}
	var days []worklog.DayRecord
	if err := c.ShouldBindJSON(&days); err != nil || days == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.worklog.SyncUpload(c.Request.Context(), username, days)
	if err != nil {
		h.respondServiceErrorWith(c, err, "sync_upload_failed", gin.H{
			"uploaded": result.Uploaded,
			"skipped":  result.Skipped,
		})
		return
	}

	outcomes := make([]dayUploadPayload, 0, len(result.Days))
	for _, day := range result.Days {
		outcomes = append(outcomes, dayUploadPayload{
			Date:      day.Date.String(),
			Outcome:   string(day.Outcome),
			Timestamp: day.Timestamp,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"uploaded": result.Uploaded,
		"skipped":  result.Skipped,
		"days":     outcomes,
	})
}

func (h *httpHandler) handleSyncDownload(c *gin.Context) {
	username, ok := h.callerUsername(c)
	if !ok {
		return
	}
	var request syncDownloadRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Dates == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	records, err := h.worklog.SyncDownload(c.Request.Context(), username, request.Dates)
	if err != nil {
		h.respondServiceError(c, err, "sync_download_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": records})
}

type realtimeEventPayload struct {
	Username   string   `json:"username"`
	Dates      []string `json:"dates"`
	YearMonths []string `json:"yearMonths"`
	Timestamp  string   `json:"timestamp"`
	Source     string   `json:"source"`
}

func newRealtimeEventPayload(message RealtimeMessage) realtimeEventPayload {
	dates := message.Dates
	if dates == nil {
		dates = []string{}
	}
	yearMonths := message.YearMonths
	if yearMonths == nil {
		yearMonths = []string{}
	}
	return realtimeEventPayload{
		Username:   message.Username,
		Dates:      dates,
		YearMonths: yearMonths,
		Timestamp:  message.Timestamp.UTC().Format(time.RFC3339),
		Source:     realtimeSourceBackend,
	}
}

func (h *httpHandler) handleEventStream(c *gin.Context) {
	if h.realtime == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "realtime_unavailable"})
		return
	}
	username, ok := h.callerUsername(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, username.String())
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	heartbeat := func() {
		c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend})
	}
	heartbeat()
	c.Writer.Flush()

	interval := h.heartbeatInterval
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, open := <-stream:
			if !open {
				return false
			}
			c.SSEvent(message.EventType, newRealtimeEventPayload(message))
			return true
		case <-ticker.C:
			heartbeat()
			return true
		}
	})
}
