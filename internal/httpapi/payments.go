package httpapi

import (
	"net/http"

	"callwallet/internal/payments"

	"github.com/gin-gonic/gin"
)

func (h Handlers) InitiatePayment(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	var req payments.InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	p, err := h.Payments.InitiatePayment(c.Request.Context(), uid, req)
	if err != nil {
		writeError(c, err)
		return
	}
	msg := "Payment initiated successfully"
	if p.Status == payments.PaymentStatusFailed {
		msg = "Payment initiation failed"
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg, "payment": p})
}

type verifyRequest struct {
	Reference string `json:"reference" binding:"required"`
}

func (h Handlers) VerifyPayment(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "reference required"})
		return
	}
	p, err := h.Payments.VerifyPayment(c.Request.Context(), req.Reference, uid)
	if err != nil {
		writeError(c, err)
		return
	}
	msg := "Payment verification failed"
	if p.Status == payments.PaymentStatusCompleted {
		msg = "Payment verified successfully"
	}
	c.JSON(http.StatusOK, gin.H{"message": msg, "payment": p})
}

func (h Handlers) PaymentHistory(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	out, err := h.Payments.History(c.Request.Context(), uid, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": out})
}

func (h Handlers) GetPayment(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	p, err := h.Payments.GetPayment(c.Request.Context(), c.Param("reference"), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": p})
}
