package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h Handlers) CreateWallet(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	w, err := h.Wallet.CreateWallet(c.Request.Context(), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Wallet created", "wallet": w})
}

func (h Handlers) GetBalance(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	w, err := h.Wallet.GetWallet(c.Request.Context(), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"balance":             w.BalanceMinor,
		"currency":            w.Currency,
		"last_transaction_at": w.LastTransactionAt,
	})
}

func (h Handlers) ListTransactions(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	txns, err := h.Wallet.History(c.Request.Context(), uid, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txns})
}
