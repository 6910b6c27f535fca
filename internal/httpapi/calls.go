package httpapi

import (
	"encoding/json"
	"net/http"

	"callwallet/internal/calls"

	"github.com/gin-gonic/gin"
)

func (h Handlers) InitiateCall(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	var req calls.InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	sess, err := h.Calls.InitiateCall(c.Request.Context(), uid, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Call initiated successfully", "call_session": sess})
}

type updateStatusRequest struct {
	SessionID string           `json:"session_id" binding:"required"`
	Status    calls.CallStatus `json:"status" binding:"required"`
	EndReason string           `json:"end_reason,omitempty"`
}

func (h Handlers) UpdateCallStatus(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "session_id and status required"})
		return
	}
	sess, err := h.Calls.UpdateStatus(c.Request.Context(), req.SessionID, uid, calls.UpdateRequest{
		Status:    req.Status,
		EndReason: req.EndReason,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Call status updated", "call_session": sess})
}

type signalRequest struct {
	SessionID  string          `json:"session_id" binding:"required"`
	SignalType string          `json:"signal_type" binding:"required"`
	SignalData json.RawMessage `json:"signal_data,omitempty"`
}

func (h Handlers) StoreSignal(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "session_id and signal_type required"})
		return
	}
	if _, err := h.Calls.StoreSignal(c.Request.Context(), req.SessionID, uid, req.SignalType, req.SignalData); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Signal stored successfully"})
}

func (h Handlers) GetActiveCall(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	sess, err := h.Calls.GetActiveCall(c.Request.Context(), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active_call": sess})
}

func (h Handlers) CallHistory(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	out, err := h.Calls.History(c.Request.Context(), uid, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": out})
}

func (h Handlers) GetCallSession(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	sess, err := h.Calls.GetSession(c.Request.Context(), c.Param("session_id"), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_session": sess})
}
