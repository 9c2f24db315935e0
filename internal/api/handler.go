// Package api implements the localhost control API: status inspection,
// cache management, mute control, permission requests, and the in-app toast
// feed consumed by the UI shell.
package api

import (
	"io"
	"log/slog"
	"net/http"

	"newsstand/internal/common"
	"newsstand/internal/domain/alert"
	"newsstand/internal/domain/audio"
	"newsstand/internal/domain/cache"
	"newsstand/internal/domain/content"
	"newsstand/internal/domain/session"
	"newsstand/internal/domain/stream"

	"github.com/gin-gonic/gin"
)

// Handler handles HTTP requests for the control API.
type Handler struct {
	manager  *stream.Manager
	router   *stream.Router
	engine   *alert.Engine
	feed     *alert.Feed
	store    *cache.Store
	audio    *audio.Engine
	contents *content.Service
	sessions *session.Manager
}

// NewHandler creates a control API handler.
func NewHandler(
	manager *stream.Manager,
	router *stream.Router,
	engine *alert.Engine,
	feed *alert.Feed,
	store *cache.Store,
	audioEngine *audio.Engine,
	contents *content.Service,
	sessions *session.Manager,
) *Handler {
	return &Handler{
		manager:  manager,
		router:   router,
		engine:   engine,
		feed:     feed,
		store:    store,
		audio:    audioEngine,
		contents: contents,
		sessions: sessions,
	}
}

// Status handles GET /api/v1/status
func (h *Handler) Status(c *gin.Context) {
	common.Success(c, http.StatusOK, gin.H{
		"session_id":    h.sessions.ID(c.Request.Context()),
		"subscriptions": h.manager.Snapshot(),
		"pending_count": h.engine.PendingCount(),
		"permission":    h.engine.Permission(),
		"muted":         h.audio.Muted(),
		"dropped":       h.router.Dropped(),
	})
}

// ReadCache handles GET /api/v1/cache
func (h *Handler) ReadCache(c *gin.Context) {
	env, ok := h.store.Read(c.Request.Context())
	if !ok {
		common.Success(c, http.StatusOK, gin.H{"empty": true})
		return
	}
	common.Success(c, http.StatusOK, gin.H{
		"empty":         false,
		"items":         env.Items,
		"cached_at":     env.CachedAt,
		"size_in_bytes": h.store.SizeInBytes(c.Request.Context()),
	})
}

// ClearCache handles DELETE /api/v1/cache
func (h *Handler) ClearCache(c *gin.Context) {
	if !h.store.Clear(c.Request.Context()) {
		common.Error(c, http.StatusInternalServerError, "failed to clear cache")
		return
	}
	common.Success(c, http.StatusOK, gin.H{"cleared": true})
}

// Refresh handles POST /api/v1/refresh — forces a content fetch now.
func (h *Handler) Refresh(c *gin.Context) {
	items, err := h.contents.Refresh(c.Request.Context())
	if err != nil {
		slog.Error("manual refresh failed", "error", err)
		common.HandleError(c, err)
		return
	}
	common.Success(c, http.StatusOK, gin.H{"items": len(items)})
}

// GetMute handles GET /api/v1/mute
func (h *Handler) GetMute(c *gin.Context) {
	common.Success(c, http.StatusOK, gin.H{"muted": h.audio.Muted()})
}

// SetMute handles PUT /api/v1/mute
func (h *Handler) SetMute(c *gin.Context) {
	var req struct {
		Muted *bool `json:"muted" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	h.audio.SetMuted(c.Request.Context(), *req.Muted)
	common.Success(c, http.StatusOK, gin.H{"muted": h.audio.Muted()})
}

// RequestPermission handles POST /api/v1/notifications/permission — the
// explicit user action that prompts for OS notification permission.
func (h *Handler) RequestPermission(c *gin.Context) {
	perm := h.engine.RequestPermission()
	common.Success(c, http.StatusOK, gin.H{"permission": perm})
}

// ClearPending handles DELETE /api/v1/notifications/pending
func (h *Handler) ClearPending(c *gin.Context) {
	h.engine.ClearPending()
	common.Success(c, http.StatusOK, gin.H{"pending_count": 0})
}

// Reopen handles POST /api/v1/subscriptions/:topic/reopen — restarts a
// subscription whose retry budget is spent.
func (h *Handler) Reopen(c *gin.Context) {
	topic := c.Param("topic")
	sub := h.manager.Get(topic)
	if sub == nil {
		common.HandleError(c, common.NewNotFoundError("subscription", topic))
		return
	}
	if err := sub.Reopen(); err != nil {
		common.HandleError(c, common.NewValidationError(err.Error()))
		return
	}
	common.Success(c, http.StatusAccepted, gin.H{"topic": topic, "status": sub.Status()})
}

// Events handles GET /api/v1/events — an SSE stream of in-app toasts.
func (h *Handler) Events(c *gin.Context) {
	toasts, unsubscribe := h.feed.Subscribe()
	defer unsubscribe()

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		select {
		case t, ok := <-toasts:
			if !ok {
				return false
			}
			c.SSEvent("toast", t)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// DismissPWA handles POST /api/v1/pwa/dismiss
func (h *Handler) DismissPWA(c *gin.Context) {
	h.sessions.DismissPWA(c.Request.Context())
	common.Success(c, http.StatusOK, gin.H{"dismissed": true})
}

// SetLocation handles PUT /api/v1/location
func (h *Handler) SetLocation(c *gin.Context) {
	var loc session.Location
	if err := c.ShouldBindJSON(&loc); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	h.sessions.SetLastLocation(c.Request.Context(), loc)
	common.Success(c, http.StatusOK, loc)
}

// RegisterRoutes registers control API routes to the given router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/status", h.Status)
	rg.GET("/cache", h.ReadCache)
	rg.DELETE("/cache", h.ClearCache)
	rg.POST("/refresh", h.Refresh)
	rg.GET("/mute", h.GetMute)
	rg.PUT("/mute", h.SetMute)
	rg.POST("/notifications/permission", h.RequestPermission)
	rg.DELETE("/notifications/pending", h.ClearPending)
	rg.POST("/subscriptions/:topic/reopen", h.Reopen)
	rg.GET("/events", h.Events)
	rg.POST("/pwa/dismiss", h.DismissPWA)
	rg.PUT("/location", h.SetLocation)
}
