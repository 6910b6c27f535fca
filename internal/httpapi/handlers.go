package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"callwallet/internal/auth"
	"callwallet/internal/calls"
	"callwallet/internal/payments"
	"callwallet/internal/reporting"
	"callwallet/internal/wallet"
	"callwallet/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Wallet    *wallet.Service
	Calls     *calls.Service
	Payments  *payments.Service
	Reporting *reporting.Service

	// now is overridable in tests.
	now func() time.Time
}

func (h Handlers) clock() time.Time {
	if h.now != nil {
		return h.now()
	}
	return time.Now()
}

// RegisterPublic mounts unauthenticated routes. Token issuance is only mounted when
// devTokens is set.
func (h Handlers) RegisterPublic(r gin.IRouter, devTokens bool) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if devTokens {
		r.POST("/auth/token", h.IssueToken)
	}
	r.POST("/auth/refresh", h.RefreshToken)
}

// RegisterProtected mounts the authenticated API on a group that already runs the
// access-token middleware.
func (h Handlers) RegisterProtected(v1 gin.IRouter) {
	w := v1.Group("/wallet")
	{
		w.POST("", h.CreateWallet)
		w.GET("/balance", h.GetBalance)
		w.GET("/transactions", h.ListTransactions)
	}

	c := v1.Group("/calls")
	{
		c.POST("/initiate", h.InitiateCall)
		c.POST("/update-status", h.UpdateCallStatus)
		c.POST("/signal", h.StoreSignal)
		c.GET("/active", h.GetActiveCall)
		c.GET("/history", h.CallHistory)
		c.GET("/:session_id", h.GetCallSession)
	}

	p := v1.Group("/payments")
	{
		p.POST("/initiate", h.InitiatePayment)
		p.POST("/verify", h.VerifyPayment)
		p.GET("/history", h.PaymentHistory)
		p.GET("/:reference", h.GetPayment)
	}

	rp := v1.Group("/reports")
	{
		rp.GET("/usage", h.UsageReport)
		rp.GET("/spend", h.SpendReport)
	}
}

// --- Auth ---

type tokenRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// IssueToken issues a JWT token pair for any user id.
//
// NOTE: This endpoint performs no credential check and is disabled in production.
func (h Handlers) IssueToken(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	pair, err := h.Auth.IssuePair(h.clock(), req.UserID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (h Handlers) RefreshToken(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	pair, err := h.Auth.Refresh(req.RefreshToken, h.clock())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

// --- helpers ---

// currentUser reads the user id injected by auth.RequireAccessToken.
func currentUser(c *gin.Context) (string, bool) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return "", false
	}
	return uid, true
}

func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return 0, false
	}
	return n, true
}

// writeError maps domain errors onto HTTP statuses. Unknown errors are logged and
// reported as 500 without their message.
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		logger.FromGin(c).Error("request failed", "error", err.Error())
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, wallet.ErrNotFound),
		errors.Is(err, calls.ErrNotFound),
		errors.Is(err, payments.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, calls.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, wallet.ErrInvalidAmount),
		errors.Is(err, wallet.ErrInvalidArgument),
		errors.Is(err, calls.ErrInvalidArgument),
		errors.Is(err, payments.ErrInvalidAmount),
		errors.Is(err, payments.ErrInvalidArgument),
		errors.Is(err, reporting.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, wallet.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, wallet.ErrAlreadyExists),
		errors.Is(err, wallet.ErrWalletInactive),
		errors.Is(err, calls.ErrInvalidTransition),
		errors.Is(err, calls.ErrActiveCallExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
