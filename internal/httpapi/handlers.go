package httpapi

import (
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"wagate/internal/dispatch"
	"wagate/internal/phone"
)

type handlers struct {
	deps Deps
}

type sendRequest struct {
	Target  string `json:"target"`
	Number  string `json:"number"` // legacy alias for target
	Message string `json:"message"`
}

func (r sendRequest) target() string {
	if strings.TrimSpace(r.Target) != "" {
		return r.Target
	}
	return r.Number
}

type broadcastRequest struct {
	Targets []string `json:"targets"`
	Numbers []string `json:"numbers"` // legacy alias for targets
	Target  string   `json:"target"`  // comma-joined fallback
	Number  string   `json:"number"`
	Message string   `json:"message"`
}

func (r broadcastRequest) targets(prefix string) []string {
	if len(r.Targets) > 0 {
		return r.Targets
	}
	if len(r.Numbers) > 0 {
		return r.Numbers
	}
	csv := r.Target
	if csv == "" {
		csv = r.Number
	}
	if csv == "" {
		return nil
	}
	return phone.ParseTargets(csv, prefix)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *handlers) health(c *gin.Context) {
	state := h.deps.Manager.State()
	if state.Connected {
		c.JSON(http.StatusOK, gin.H{
			"status":    "connected",
			"connected": true,
			"phone":     state.PhoneNumber,
			"uptime":    int(time.Since(state.StartTime).Seconds()),
		})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"status": "disconnected", "connected": false})
}

// send handles a single-target request. A comma-joined target field is
// treated as a broadcast over the listed targets.
func (h *handlers) send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	target := req.target()
	if strings.TrimSpace(target) == "" || req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target and message are required"})
		return
	}

	if strings.Contains(target, ",") {
		targets := phone.ParseTargets(target, h.deps.CountryPrefix)
		h.respondBroadcast(c, h.deps.Dispatcher.SendBroadcast(c.Request.Context(), targets, req.Message))
		return
	}

	res := h.deps.Dispatcher.SendMessage(c.Request.Context(), target, req.Message)
	c.JSON(singleStatusCode(res), res)
}

func (h *handlers) broadcast(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	targets := req.targets(h.deps.CountryPrefix)
	if len(targets) == 0 || req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "targets and message are required"})
		return
	}

	h.respondBroadcast(c, h.deps.Dispatcher.SendBroadcast(c.Request.Context(), targets, req.Message))
}

func (h *handlers) respondBroadcast(c *gin.Context, results []dispatch.Result) {
	sent, failed := dispatch.Summarize(results)
	code := http.StatusOK
	switch {
	case sent == 0 && allDisconnected(results):
		code = http.StatusServiceUnavailable
	case sent == 0:
		code = http.StatusInternalServerError
	case failed > 0:
		code = http.StatusMultiStatus
	}
	c.JSON(code, gin.H{
		"sent":    sent,
		"failed":  failed,
		"total":   len(results),
		"results": results,
	})
}

func (h *handlers) sessionStatus(c *gin.Context) {
	state := h.deps.Manager.State()
	payload := gin.H{
		"connected":    state.Connected,
		"phase":        string(h.deps.Manager.Phase()),
		"uptime":       int(time.Since(state.StartTime).Seconds()),
		"qr_displayed": state.PairingDisplayed,
	}
	if state.Connected {
		payload["phone"] = state.PhoneNumber
	}
	c.JSON(http.StatusOK, payload)
}

func (h *handlers) pairingQR(c *gin.Context) {
	artifact := h.deps.Manager.PairingArtifact()
	if artifact == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pairing code available"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":       artifact.Code,
		"png_base64": base64.StdEncoding.EncodeToString(artifact.PNG),
	})
}

func (h *handlers) recentLogs(c *gin.Context) {
	entries := h.deps.Log.Recent()
	c.JSON(http.StatusOK, gin.H{"count": len(entries), "entries": entries})
}

func (h *handlers) login(c *gin.Context) {
	if !h.deps.Limiter.Allow(c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many login attempts"})
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.deps.DashboardUsername)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.deps.DashboardPassword)) == 1
	if !userOK || !passOK {
		h.deps.Logger.Warn("dashboard login rejected",
			zap.String("username", req.Username), zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := h.deps.Tokens.IssueToken(time.Now(), req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (h *handlers) sessionLogout(c *gin.Context) {
	if err := h.deps.Manager.Logout(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "session cleared, a new pairing code will be generated",
	})
}

// singleStatusCode maps a lone dispatch result onto an HTTP status.
func singleStatusCode(res dispatch.Result) int {
	switch {
	case res.Success:
		return http.StatusOK
	case res.Status == dispatch.StatusDisconnected:
		return http.StatusServiceUnavailable
	case res.Status == dispatch.StatusInvalidNumber:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func allDisconnected(results []dispatch.Result) bool {
	for _, r := range results {
		if r.Status != dispatch.StatusDisconnected {
			return false
		}
	}
	return len(results) > 0
}
